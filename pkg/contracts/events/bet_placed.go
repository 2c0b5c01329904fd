package events

import "time"

// BetPlaced é publicado depois do commit da aposta (chave = market_id)
type BetPlaced struct {
	BetID      string    `json:"bet_id"`
	MarketID   string    `json:"market_id"`
	Outcome    string    `json:"outcome"`
	Bettor     string    `json:"bettor"`
	Amount     int64     `json:"amount"`
	OddsLocked string    `json:"odds_locked"` // decimal em string para não perder precisão
	PlacedAt   time.Time `json:"placed_at"`
	TsUnixMs   int64     `json:"ts_unix_ms"`
}

package dto

import "encoding/json"

// Ref aceita id como string JSON ou número ("m1", 3)
type Ref string

func (r *Ref) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*r = Ref(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*r = Ref(n.String())
	return nil
}

// PlaceBetRequest é o corpo de POST /bets
type PlaceBetRequest struct {
	MatchID Ref    `json:"match_id"`
	Outcome Ref    `json:"outcome"` // "A" | "draw" | "B" ou índice legado 0/1/2
	Amount  int64  `json:"amount"`
	Odds    string `json:"odds,omitempty"` // odds que o cliente viu (opcional)
}

// ChampionshipBetRequest é o corpo de POST /bets/championship
type ChampionshipBetRequest struct {
	MarketID    Ref    `json:"market_id,omitempty"` // vazio = mercado de campeão aberto
	TeamID      Ref    `json:"team_id"`             // nome do time ou posição 1..N
	UserAddress string `json:"user_address"`
	Amount      int64  `json:"amount"`
	Odds        string `json:"odds,omitempty"`
}

// LoginRequest é o corpo de POST /auth/login
type LoginRequest struct {
	WalletAddress string `json:"walletAddress"`
	Signature     string `json:"signature"`
	Message       string `json:"message"`
}

// OpenMarketRequest é o corpo de POST /admin/markets
type OpenMarketRequest struct {
	ID             string            `json:"id"`
	Kind           string            `json:"kind"`
	Pricing        string            `json:"pricing,omitempty"`
	Title          string            `json:"title,omitempty"`
	Group          string            `json:"group,omitempty"`
	Venue          string            `json:"venue,omitempty"`
	TeamA          string            `json:"team_a,omitempty"`
	TeamB          string            `json:"team_b,omitempty"`
	Outcomes       []string          `json:"outcomes,omitempty"`
	FixedOdds      map[string]string `json:"fixed_odds,omitempty"`
	FeePlatformBps *int64            `json:"fee_platform_bps,omitempty"`
	FeeOracleBps   *int64            `json:"fee_oracle_bps,omitempty"`
	OpenTime       string            `json:"open_time,omitempty"` // RFC3339
	CloseTime      string            `json:"close_time"`          // RFC3339
}

type SettleRequest struct {
	WinningOutcome Ref `json:"winning_outcome"`
}

type VoidRequest struct {
	Reason string `json:"reason"`
}

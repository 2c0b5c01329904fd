package events

// MarketResult é o resultado publicado pelo oráculo.
// Void=true ignora WinningOutcome e reembolsa todas as apostas.
type MarketResult struct {
	MarketID       string `json:"market_id"`
	WinningOutcome string `json:"winning_outcome,omitempty"`
	Void           bool   `json:"void,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

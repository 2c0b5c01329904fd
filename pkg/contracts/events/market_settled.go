package events

import "time"

type MarketSettled struct {
	MarketID          string    `json:"market_id"`
	WinningOutcome    string    `json:"winning_outcome,omitempty"`
	Voided            bool      `json:"voided"`
	VoidReason        string    `json:"void_reason,omitempty"`
	TotalPool         int64     `json:"total_pool"`
	FeePlatformAmount int64     `json:"fee_platform_amount"`
	FeeOracleAmount   int64     `json:"fee_oracle_amount"`
	PayoutTotal       int64     `json:"payout_total"`
	RoundingResidual  int64     `json:"rounding_residual"`
	TreasuryDelta     int64     `json:"treasury_delta"`
	SettledAt         time.Time `json:"settled_at"`
	TsUnixMs          int64     `json:"ts_unix_ms"`
}

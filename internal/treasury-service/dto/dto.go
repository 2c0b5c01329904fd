package dto

type FundRequest struct {
	ExternalRef string `json:"external_ref"` // ex: settle:<marketId>
	Amount      int64  `json:"amount"`
}

type FundResponse struct {
	FundingID string `json:"funding_id"`
	Status    string `json:"status"` // FUNDED | DUPLICATE
}

type BalanceResponse struct {
	TotalFunded int64 `json:"total_funded"`
	Fundings    int   `json:"fundings"`
}

package dto

// VerifyReq é o que o auth.HTTPVerifier envia em POST /verify
type VerifyReq struct {
	Address   string `json:"address"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

type VerifyResp struct {
	Valid bool `json:"valid"`
}

// ResultReq é o resultado informado manualmente em POST /oracle/results
type ResultReq struct {
	MarketID       string `json:"market_id"`
	WinningOutcome string `json:"winning_outcome,omitempty"`
	Void           bool   `json:"void,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

type ResultResp struct {
	Status string `json:"status"` // PUBLISHED
}

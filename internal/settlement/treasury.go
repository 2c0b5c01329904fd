package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// FundRequest é o payload aceito pelo treasury-service em /treasury/fund
type FundRequest struct {
	ExternalRef string `json:"external_ref"`
	Amount      int64  `json:"amount"`
}

type FundResponse struct {
	FundingID string `json:"funding_id"`
	Status    string `json:"status"`
}

// TreasuryClient fala com o treasury-service por HTTP
type TreasuryClient struct {
	BaseURL string
	HTTP    *http.Client
}

func NewTreasuryClient(base string) *TreasuryClient {
	return &TreasuryClient{
		BaseURL: base,
		HTTP:    &http.Client{Timeout: 2 * time.Second},
	}
}

func (c *TreasuryClient) Fund(ctx context.Context, ref string, amount int64) error {
	body, _ := json.Marshal(FundRequest{ExternalRef: ref, Amount: amount})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/treasury/fund", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		return fmt.Errorf("treasury fund http %d", res.StatusCode)
	}
	var out FundResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return err
	}
	return nil
}

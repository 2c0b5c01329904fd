package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/radieske/cup-betting-engine/internal/ledger"
)

// Verifier confere se signature é a assinatura de message pela carteira address.
// A criptografia fica com o provedor de identidade.
type Verifier interface {
	VerifySignature(ctx context.Context, address, message, signature string) error
}

// HTTPVerifier delega a verificação ao provedor de identidade (POST {base}/verify)
type HTTPVerifier struct {
	BaseURL string
	HTTP    *http.Client
}

func NewHTTPVerifier(base string) *HTTPVerifier {
	return &HTTPVerifier{
		BaseURL: base,
		HTTP:    &http.Client{Timeout: 2 * time.Second},
	}
}

type verifyRequest struct {
	Address   string `json:"address"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

type verifyResponse struct {
	Valid bool `json:"valid"`
}

func (v *HTTPVerifier) VerifySignature(ctx context.Context, address, message, signature string) error {
	body, _ := json.Marshal(verifyRequest{Address: address, Message: message, Signature: signature})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.BaseURL+"/verify", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := v.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("identity provider: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
		return ledger.ErrUnauthenticated
	}
	if res.StatusCode >= 300 {
		return fmt.Errorf("identity provider http %d", res.StatusCode)
	}
	var out verifyResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return fmt.Errorf("identity provider response: %w", err)
	}
	if !out.Valid {
		return ledger.ErrUnauthenticated
	}
	return nil
}

// AllowAll aceita qualquer assinatura não vazia. Só para ENV=local.
type AllowAll struct{}

func (AllowAll) VerifySignature(_ context.Context, _, _, signature string) error {
	if signature == "" {
		return ledger.ErrUnauthenticated
	}
	return nil
}

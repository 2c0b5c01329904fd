package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/radieske/cup-betting-engine/internal/ledger"
)

// Gate emite e valida tokens de sessão. O serviço de apostas só consome Verify.
type Gate struct {
	Verifier Verifier
	Sessions Sessions
	TTL      time.Duration
	Log      *zap.Logger
	Now      func() time.Time
}

func NewGate(v Verifier, s Sessions, ttl time.Duration, log *zap.Logger) *Gate {
	return &Gate{Verifier: v, Sessions: s, TTL: ttl, Log: log, Now: time.Now}
}

func (g *Gate) now() time.Time {
	if g.Now == nil {
		return time.Now().UTC()
	}
	return g.Now().UTC()
}

// Login confere a assinatura e emite um token novo
func (g *Gate) Login(ctx context.Context, address, signature, message string) (Session, error) {
	addr, err := NormalizeAddress(address)
	if err != nil {
		return Session{}, err
	}
	if signature == "" || message == "" {
		return Session{}, fmt.Errorf("%w: signature and message are required", ledger.ErrUnauthenticated)
	}
	if err := g.Verifier.VerifySignature(ctx, addr, message, signature); err != nil {
		g.Log.Info("login rejected", zap.String("address", addr), zap.Error(err))
		if ledger.KindOf(err) == ledger.KindUnauthenticated {
			return Session{}, err
		}
		return Session{}, fmt.Errorf("verify signature: %w", err)
	}

	s := Session{
		Token:     uuid.NewString(),
		Address:   addr,
		ExpiresAt: g.now().Add(g.TTL),
	}
	if err := g.Sessions.Save(ctx, s); err != nil {
		return Session{}, fmt.Errorf("save session: %w", err)
	}
	g.Log.Info("session issued", zap.String("address", addr), zap.Time("expires_at", s.ExpiresAt))
	return s, nil
}

// Verify devolve o endereço dono do token. Token malformado é rejeitado antes de qualquer lookup.
func (g *Gate) Verify(ctx context.Context, token string) (string, error) {
	if _, err := uuid.Parse(token); err != nil {
		return "", ledger.ErrUnauthenticated
	}
	s, err := g.Sessions.Load(ctx, token)
	if err != nil {
		if errors.Is(err, ledger.ErrUnauthenticated) {
			return "", err
		}
		return "", fmt.Errorf("verify session: %w", err)
	}
	if !g.now().Before(s.ExpiresAt) {
		_ = g.Sessions.Delete(ctx, token)
		return "", ledger.ErrUnauthenticated
	}
	return s.Address, nil
}

// Logout invalida o token (idempotente)
func (g *Gate) Logout(ctx context.Context, token string) error {
	if _, err := uuid.Parse(token); err != nil {
		return nil
	}
	return g.Sessions.Delete(ctx, token)
}

// BearerToken extrai o token de "Authorization: Bearer <token>"
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	parts := strings.SplitN(h, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// AdminTokenMatches compara em tempo constante; token configurado vazio nunca casa
func AdminTokenMatches(got, want string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/radieske/cup-betting-engine/internal/ledger"
)

// Session liga um token a um endereço até ExpiresAt
type Session struct {
	Token     string    `json:"-"`
	Address   string    `json:"address"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Sessions guarda sessões emitidas. Load devolve ErrUnauthenticated para token desconhecido.
type Sessions interface {
	Save(ctx context.Context, s Session) error
	Load(ctx context.Context, token string) (Session, error)
	Delete(ctx context.Context, token string) error
}

// RedisSessions guarda cada sessão em session:<token> com TTL até ExpiresAt
type RedisSessions struct {
	rdb *redis.Client
	now func() time.Time
}

func NewRedisSessions(rdb *redis.Client) *RedisSessions {
	return &RedisSessions{rdb: rdb, now: time.Now}
}

func sessionKey(token string) string { return "session:" + token }

func (r *RedisSessions) Save(ctx context.Context, s Session) error {
	ttl := s.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return fmt.Errorf("session already expired")
	}
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, sessionKey(s.Token), b, ttl).Err()
}

func (r *RedisSessions) Load(ctx context.Context, token string) (Session, error) {
	raw, err := r.rdb.Get(ctx, sessionKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, ledger.ErrUnauthenticated
	}
	if err != nil {
		return Session{}, fmt.Errorf("load session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return Session{}, fmt.Errorf("decode session: %w", err)
	}
	s.Token = token
	return s, nil
}

func (r *RedisSessions) Delete(ctx context.Context, token string) error {
	return r.rdb.Del(ctx, sessionKey(token)).Err()
}

// MemorySessions é usado em testes e em ENV=local sem Redis
type MemorySessions struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

func NewMemorySessions() *MemorySessions {
	return &MemorySessions{sessions: make(map[string]Session)}
}

func (m *MemorySessions) Save(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.Token] = s
	return nil
}

func (m *MemorySessions) Load(_ context.Context, token string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[token]
	if !ok {
		return Session{}, ledger.ErrUnauthenticated
	}
	return s, nil
}

func (m *MemorySessions) Delete(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, token)
	return nil
}

var (
	_ Sessions = (*RedisSessions)(nil)
	_ Sessions = (*MemorySessions)(nil)
)

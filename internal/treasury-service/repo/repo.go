package repo

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

//go:embed schema.sql
var schema string

var (
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrRefMismatch: mesmo external_ref com outro valor
	ErrRefMismatch = errors.New("external_ref already funded with a different amount")
)

// Migrate cria a tabela de aportes se não existir
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}

// Postgres grava aportes do tesouro. Idempotente por external_ref.
type Postgres struct{ db *sql.DB }

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

// Fund registra o aporte uma única vez. created=false quando o ref já existia.
func (p *Postgres) Fund(ctx context.Context, externalRef string, amount int64) (fundingID string, created bool, err error) {
	if amount <= 0 {
		return "", false, ErrInvalidAmount
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, err
	}
	defer tx.Rollback()

	id := uuid.NewString()
	err = tx.QueryRowContext(ctx,
		`INSERT INTO treasury_fundings(id, external_ref, amount) VALUES($1,$2,$3)
		 ON CONFLICT (external_ref) DO NOTHING RETURNING id`,
		id, externalRef, amount).Scan(&fundingID)
	if err == nil {
		if err = tx.Commit(); err != nil {
			return "", false, err
		}
		return fundingID, true, nil
	}
	if err != sql.ErrNoRows {
		return "", false, err
	}

	// Idempotência: já existe aporte para o mesmo external_ref
	var existing int64
	if err = tx.QueryRowContext(ctx,
		`SELECT id, amount FROM treasury_fundings WHERE external_ref=$1`, externalRef).Scan(&fundingID, &existing); err != nil {
		return "", false, err
	}
	if existing != amount {
		return "", false, fmt.Errorf("%w: %s", ErrRefMismatch, externalRef)
	}
	return fundingID, false, tx.Commit()
}

func (p *Postgres) Balance(ctx context.Context) (total int64, count int, err error) {
	err = p.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount),0), COUNT(*) FROM treasury_fundings`).Scan(&total, &count)
	return total, count, err
}

// Memory é usado em ENV=local e nos testes
type Memory struct {
	mu    sync.Mutex
	byRef map[string]funding
}

type funding struct {
	id     string
	amount int64
}

func NewMemory() *Memory { return &Memory{byRef: make(map[string]funding)} }

func (m *Memory) Fund(_ context.Context, externalRef string, amount int64) (string, bool, error) {
	if amount <= 0 {
		return "", false, ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.byRef[externalRef]; ok {
		if f.amount != amount {
			return "", false, fmt.Errorf("%w: %s", ErrRefMismatch, externalRef)
		}
		return f.id, false, nil
	}
	f := funding{id: uuid.NewString(), amount: amount}
	m.byRef[externalRef] = f
	return f.id, true, nil
}

func (m *Memory) Balance(_ context.Context) (int64, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, f := range m.byRef {
		total += f.amount
	}
	return total, len(m.byRef), nil
}

package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/cup-betting-engine/internal/ledger"
	"github.com/radieske/cup-betting-engine/internal/money"
)

// Spec descreve um mercado a ser aberto. Fees nil usam os defaults do Engine.
type Spec struct {
	ID      string
	Kind    ledger.MarketKind
	Pricing ledger.Pricing

	Title string
	Group string
	Venue string
	TeamA string
	TeamB string

	Outcomes  []string
	FixedOdds map[string]decimal.Decimal

	FeePlatformBps *int64
	FeeOracleBps   *int64

	OpenTime  time.Time
	CloseTime time.Time
}

// Voider executa o void com reembolso integral (implementado pelo settlement engine)
type Voider interface {
	Void(ctx context.Context, marketID, reason string) (ledger.SettlementRecord, error)
}

// Engine controla o ciclo de vida dos mercados. Não guarda estado próprio:
// tudo passa pelo ledger.Store.
type Engine struct {
	Store  ledger.Store
	Log    *zap.Logger
	Voider Voider
	Now    func() time.Time

	DefaultFeePlatformBps int64
	DefaultFeeOracleBps   int64

	OnOpened func(m ledger.Market) // métricas
	OnLocked func(marketID string) // métricas / broadcast
	OnError  func(stage string)    // métricas por fase
}

// NewEngine cria o engine com fees padrão de 2% (plataforma) e 1% (oráculo)
func NewEngine(store ledger.Store, log *zap.Logger) *Engine {
	return &Engine{
		Store:                 store,
		Log:                   log,
		Now:                   time.Now,
		DefaultFeePlatformBps: 200,
		DefaultFeeOracleBps:   100,
	}
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now().UTC()
	}
	return e.Now().UTC()
}

// OpenMarket valida o spec e grava o mercado em open
func (e *Engine) OpenMarket(ctx context.Context, spec Spec) (ledger.Market, error) {
	m, err := e.build(spec)
	if err != nil {
		return ledger.Market{}, err
	}
	if err := e.Store.CreateMarket(ctx, m); err != nil {
		return ledger.Market{}, err
	}
	e.Log.Info("market opened",
		zap.String("market_id", m.ID),
		zap.String("kind", string(m.Kind)),
		zap.String("pricing", string(m.Pricing)),
		zap.Time("close_time", m.CloseTime))
	if e.OnOpened != nil {
		e.OnOpened(m)
	}
	return m, nil
}

func (e *Engine) build(spec Spec) (ledger.Market, error) {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ledger.ErrInvalidMarket, fmt.Sprintf(format, args...))
	}

	m := ledger.Market{
		ID:        spec.ID,
		Kind:      spec.Kind,
		Pricing:   spec.Pricing,
		Status:    ledger.StatusOpen,
		Title:     spec.Title,
		Group:     spec.Group,
		Venue:     spec.Venue,
		TeamA:     spec.TeamA,
		TeamB:     spec.TeamB,
		Outcomes:  append([]string(nil), spec.Outcomes...),
		Pools:     make(map[string]int64),
		OpenTime:  spec.OpenTime.UTC(),
		CloseTime: spec.CloseTime.UTC(),
		Version:   1,
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}

	switch m.Kind {
	case ledger.MarketMatch:
		if len(m.Outcomes) == 0 {
			m.Outcomes = []string{ledger.OutcomeA, ledger.OutcomeDraw, ledger.OutcomeB}
		}
		if m.Pricing == "" {
			m.Pricing = ledger.PricingParimutuel
		}
	case ledger.MarketChampionship:
		if m.Pricing == "" {
			m.Pricing = ledger.PricingFixed
		}
	default:
		return ledger.Market{}, invalid("unknown kind %q", spec.Kind)
	}

	if m.OpenTime.IsZero() {
		m.OpenTime = e.now()
	}
	if !m.OpenTime.Before(m.CloseTime) {
		return ledger.Market{}, invalid("open_time must be before close_time")
	}

	if len(m.Outcomes) == 0 {
		return ledger.Market{}, invalid("no outcomes")
	}
	seen := make(map[string]bool, len(m.Outcomes))
	for _, o := range m.Outcomes {
		if o == "" {
			return ledger.Market{}, invalid("empty outcome label")
		}
		if seen[o] {
			return ledger.Market{}, invalid("duplicate outcome %q", o)
		}
		seen[o] = true
		m.Pools[o] = 0
	}

	m.FeePlatformBps = e.DefaultFeePlatformBps
	if spec.FeePlatformBps != nil {
		m.FeePlatformBps = *spec.FeePlatformBps
	}
	m.FeeOracleBps = e.DefaultFeeOracleBps
	if spec.FeeOracleBps != nil {
		m.FeeOracleBps = *spec.FeeOracleBps
	}
	if !money.ValidBps(m.FeePlatformBps) || !money.ValidBps(m.FeeOracleBps) {
		return ledger.Market{}, invalid("fee rates must be within [0, %d] bps", money.BpsDenominator)
	}
	if m.FeePlatformBps+m.FeeOracleBps > money.BpsDenominator {
		return ledger.Market{}, invalid("fees exceed 100%%")
	}

	switch m.Pricing {
	case ledger.PricingFixed:
		m.FixedOdds = make(map[string]decimal.Decimal, len(m.Outcomes))
		for _, o := range m.Outcomes {
			odds, ok := spec.FixedOdds[o]
			if !ok {
				return ledger.Market{}, invalid("missing fixed odds for %q", o)
			}
			if !odds.GreaterThan(decimal.NewFromInt(1)) {
				return ledger.Market{}, invalid("odds for %q must be greater than 1", o)
			}
			// mesma precisão da coluna NUMERIC(12, 4): o store em memória não arredonda
			if !odds.Equal(odds.Truncate(OddsScale)) {
				return ledger.Market{}, invalid("odds for %q have more than %d decimal places", o, OddsScale)
			}
			if !odds.LessThan(MaxFixedOdds) {
				return ledger.Market{}, invalid("odds for %q must be below %s", o, MaxFixedOdds)
			}
			m.FixedOdds[o] = odds
		}
		for o := range spec.FixedOdds {
			if !seen[o] {
				return ledger.Market{}, invalid("odds for unknown outcome %q", o)
			}
		}
	case ledger.PricingParimutuel:
		if len(spec.FixedOdds) > 0 {
			return ledger.Market{}, invalid("parimutuel market cannot carry fixed odds")
		}
	default:
		return ledger.Market{}, invalid("unknown pricing %q", spec.Pricing)
	}
	return m, nil
}

func (e *Engine) GetMarket(ctx context.Context, id string) (ledger.Market, error) {
	return e.Store.GetMarket(ctx, id)
}

func (e *Engine) ListMarkets(ctx context.Context, f ledger.MarketFilter) ([]ledger.Market, error) {
	return e.Store.ListMarkets(ctx, f)
}

// LockMarket faz open -> locked. Repetir num mercado já locked não é erro.
func (e *Engine) LockMarket(ctx context.Context, id string) (ledger.Market, error) {
	m, err := e.Store.LockMarket(ctx, id, e.now())
	if err == nil {
		e.Log.Info("market locked", zap.String("market_id", id))
		if e.OnLocked != nil {
			e.OnLocked(id)
		}
		return m, nil
	}
	if !errors.Is(err, ledger.ErrConflict) {
		return ledger.Market{}, err
	}
	switch m.Status {
	case ledger.StatusLocked:
		return m, nil
	case ledger.StatusSettling:
		return m, ledger.ErrSettlementInProgress
	case ledger.StatusSettled:
		return m, ledger.ErrMarketSettled
	case ledger.StatusVoided:
		return m, ledger.ErrMarketVoided
	}
	return m, err
}

// VoidMarket cancela o mercado e reembolsa todas as apostas integralmente
func (e *Engine) VoidMarket(ctx context.Context, id, reason string) (ledger.SettlementRecord, error) {
	if e.Voider == nil {
		return ledger.SettlementRecord{}, fmt.Errorf("%w: void not configured", ledger.ErrInternal)
	}
	return e.Voider.Void(ctx, id, reason)
}

// LockExpired trava todo mercado open cujo close_time já passou
func (e *Engine) LockExpired(ctx context.Context) ([]string, error) {
	ids, err := e.Store.LockExpired(ctx, e.now())
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		e.Log.Info("market auto-locked", zap.String("market_id", id))
		if e.OnLocked != nil {
			e.OnLocked(id)
		}
	}
	return ids, nil
}

// RunAutoLock roda LockExpired a cada interval até o contexto ser cancelado
func (e *Engine) RunAutoLock(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if _, err := e.LockExpired(ctx); err != nil && ctx.Err() == nil {
			e.Log.Warn("auto-lock failed", zap.Error(err))
			if e.OnError != nil {
				e.OnError("auto_lock")
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

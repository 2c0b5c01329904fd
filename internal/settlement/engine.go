package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/cup-betting-engine/internal/ledger"
)

// Treasury cobre a diferença quando um mercado de odds fixas paga mais do que arrecadou.
// Fund precisa ser idempotente por ref.
type Treasury interface {
	Fund(ctx context.Context, ref string, amount int64) error
}

// Publisher recebe o registro depois do batch atômico (Kafka market_settled)
type Publisher interface {
	PublishMarketSettled(ctx context.Context, rec ledger.SettlementRecord) error
}

// Locker dá exclusividade entre réplicas na varredura de recuperação.
// ok=false quando outro processo já segura a chave.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// Engine liquida mercados. O status settling é o marcador de exclusão mútua:
// só quem ganha o CAS para settling calcula e grava.
type Engine struct {
	Store     ledger.Store
	Treasury  Treasury
	Publisher Publisher
	Locker    Locker
	Log       *zap.Logger
	Now       func() time.Time

	OnSettled   func(rec ledger.SettlementRecord, took time.Duration) // métricas
	OnRecovered func(marketID string)                                 // métricas
	OnError     func(stage string)                                    // métricas por fase
}

func NewEngine(store ledger.Store, log *zap.Logger) *Engine {
	return &Engine{Store: store, Log: log, Now: time.Now}
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now().UTC()
	}
	return e.Now().UTC()
}

// Settle liquida um mercado locked. Repetir com o mesmo outcome devolve o registro existente.
func (e *Engine) Settle(ctx context.Context, marketID, outcome string) (ledger.SettlementRecord, error) {
	m, err := e.Store.GetMarket(ctx, marketID)
	if err != nil {
		return ledger.SettlementRecord{}, err
	}
	if !m.HasOutcome(outcome) {
		return ledger.SettlementRecord{}, fmt.Errorf("%w: %q is not an outcome of %s", ledger.ErrInvalidOutcome, outcome, marketID)
	}
	intent := ledger.SettlementIntent{WinningOutcome: outcome, At: e.now()}
	if m.Status != ledger.StatusLocked {
		return e.resolveExisting(ctx, m, intent)
	}
	m, err = e.Store.BeginSettlement(ctx, marketID, intent)
	if errors.Is(err, ledger.ErrConflict) {
		return e.resolveExisting(ctx, m, intent)
	}
	if err != nil {
		return ledger.SettlementRecord{}, err
	}
	return e.finish(ctx, m)
}

// Void cancela o mercado (open ou locked) e reembolsa cada aposta pelo valor apostado
func (e *Engine) Void(ctx context.Context, marketID, reason string) (ledger.SettlementRecord, error) {
	m, err := e.Store.GetMarket(ctx, marketID)
	if err != nil {
		return ledger.SettlementRecord{}, err
	}
	intent := ledger.SettlementIntent{Void: true, Reason: reason, At: e.now()}
	if m.Status != ledger.StatusOpen && m.Status != ledger.StatusLocked {
		return e.resolveExisting(ctx, m, intent)
	}
	m, err = e.Store.BeginSettlement(ctx, marketID, intent)
	if errors.Is(err, ledger.ErrConflict) {
		return e.resolveExisting(ctx, m, intent)
	}
	if err != nil {
		return ledger.SettlementRecord{}, err
	}
	e.Log.Info("market voiding", zap.String("market_id", marketID), zap.String("reason", reason))
	return e.finish(ctx, m)
}

// resolveExisting decide o resultado quando o mercado não está no estado de partida
func (e *Engine) resolveExisting(ctx context.Context, m ledger.Market, intent ledger.SettlementIntent) (ledger.SettlementRecord, error) {
	switch m.Status {
	case ledger.StatusSettling:
		return ledger.SettlementRecord{}, ledger.ErrSettlementInProgress
	case ledger.StatusOpen:
		return ledger.SettlementRecord{}, ledger.ErrMarketOpen
	case ledger.StatusVoided:
		if !intent.Void {
			return ledger.SettlementRecord{}, ledger.ErrMarketVoided
		}
		return e.Store.GetSettlement(ctx, m.ID)
	case ledger.StatusSettled:
		if intent.Void {
			return ledger.SettlementRecord{}, ledger.ErrMarketSettled
		}
		rec, err := e.Store.GetSettlement(ctx, m.ID)
		if err != nil {
			return ledger.SettlementRecord{}, err
		}
		if rec.WinningOutcome != intent.WinningOutcome {
			return ledger.SettlementRecord{}, fmt.Errorf("%w: settled with %q", ledger.ErrMarketSettled, rec.WinningOutcome)
		}
		return rec, nil
	}
	return ledger.SettlementRecord{}, fmt.Errorf("%w: market %s is %s", ledger.ErrConflict, m.ID, m.Status)
}

// finish roda os passos 3-5 a partir do estado persistido. Qualquer falha deixa o
// mercado em settling, sem payout visível, para a recuperação refazer.
func (e *Engine) finish(ctx context.Context, m ledger.Market) (ledger.SettlementRecord, error) {
	start := time.Now()
	log := e.Log.With(zap.String("market_id", m.ID))

	bets, err := e.Store.GetBetsForMarket(ctx, m.ID)
	if err != nil {
		e.fail("load_bets")
		log.Error("load bets failed", zap.Error(err))
		return ledger.SettlementRecord{}, fmt.Errorf("load bets: %w", err)
	}

	intent := ledger.SettlementIntent{
		WinningOutcome: m.SettlingOutcome,
		Void:           m.SettlingVoid,
		Reason:         m.VoidReason,
		At:             m.SettlingSince,
	}
	rec, updates, err := Compute(m, bets, intent)
	if err != nil {
		e.fail("compute")
		log.Error("settlement compute failed", zap.Error(err))
		return ledger.SettlementRecord{}, err
	}

	if rec.TreasuryDelta > 0 {
		if e.Treasury == nil {
			e.fail("treasury")
			log.Error("fixed-odds shortfall without treasury", zap.Int64("treasury_delta", rec.TreasuryDelta))
			return ledger.SettlementRecord{}, fmt.Errorf("%w: treasury not configured", ledger.ErrInternal)
		}
		if err := e.Treasury.Fund(ctx, "settle:"+m.ID, rec.TreasuryDelta); err != nil {
			e.fail("treasury")
			log.Error("treasury funding failed", zap.Int64("treasury_delta", rec.TreasuryDelta), zap.Error(err))
			return ledger.SettlementRecord{}, fmt.Errorf("fund treasury: %w", err)
		}
	}

	if err := e.Store.ApplySettlement(ctx, rec, updates); err != nil {
		if errors.Is(err, ledger.ErrConflict) {
			// outro processo (recuperação) terminou primeiro
			if existing, gerr := e.Store.GetSettlement(ctx, m.ID); gerr == nil {
				return existing, nil
			}
		}
		e.fail("apply")
		log.Error("apply settlement failed", zap.Error(err))
		return ledger.SettlementRecord{}, fmt.Errorf("apply settlement: %w", err)
	}

	took := time.Since(start)
	log.Info("market settled",
		zap.String("winning_outcome", rec.WinningOutcome),
		zap.Bool("voided", rec.Voided),
		zap.Int64("total_pool", rec.TotalPool),
		zap.Int64("payout_total", rec.PayoutTotal),
		zap.Int64("fee_platform", rec.FeePlatformAmount),
		zap.Int64("fee_oracle", rec.FeeOracleAmount),
		zap.Int64("rounding_residual", rec.RoundingResidual),
		zap.Int64("treasury_delta", rec.TreasuryDelta),
		zap.Int("bets", len(updates)))
	if e.OnSettled != nil {
		e.OnSettled(rec, took)
	}

	if e.Publisher != nil {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := e.Publisher.PublishMarketSettled(pctx, rec); err != nil {
			log.Warn("publish market_settled failed", zap.Error(err))
		}
	}
	return rec, nil
}

// Recover refaz a liquidação de um mercado parado em settling usando a intenção persistida
func (e *Engine) Recover(ctx context.Context, marketID string) (ledger.SettlementRecord, error) {
	m, err := e.Store.GetMarket(ctx, marketID)
	if err != nil {
		return ledger.SettlementRecord{}, err
	}
	switch m.Status {
	case ledger.StatusSettling:
	case ledger.StatusSettled, ledger.StatusVoided:
		return e.Store.GetSettlement(ctx, marketID)
	default:
		return ledger.SettlementRecord{}, fmt.Errorf("%w: market %s is %s", ledger.ErrConflict, marketID, m.Status)
	}
	e.Log.Warn("recovering settlement", zap.String("market_id", marketID), zap.Time("settling_since", m.SettlingSince))
	rec, err := e.finish(ctx, m)
	if err == nil && e.OnRecovered != nil {
		e.OnRecovered(marketID)
	}
	return rec, err
}

// RecoverStale recupera todo mercado em settling há mais de staleAfter
func (e *Engine) RecoverStale(ctx context.Context, staleAfter time.Duration) (int, error) {
	ids, err := e.Store.ListSettling(ctx, e.now().Add(-staleAfter))
	if err != nil {
		return 0, fmt.Errorf("list settling: %w", err)
	}
	var (
		recovered int
		errs      []error
	)
	for _, id := range ids {
		release := func() {}
		if e.Locker != nil {
			rel, ok, err := e.Locker.Acquire(ctx, "settlement:recover:"+id, time.Minute)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if !ok {
				continue
			}
			release = rel
		}
		_, err := e.Recover(ctx, id)
		release()
		if err != nil {
			errs = append(errs, fmt.Errorf("recover %s: %w", id, err))
			continue
		}
		recovered++
	}
	return recovered, errors.Join(errs...)
}

// RunRecovery roda RecoverStale a cada interval até o contexto ser cancelado
func (e *Engine) RunRecovery(ctx context.Context, interval, staleAfter time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if n, err := e.RecoverStale(ctx, staleAfter); err != nil && ctx.Err() == nil {
			e.Log.Warn("recovery sweep failed", zap.Int("recovered", n), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (e *Engine) fail(stage string) {
	if e.OnError != nil {
		e.OnError(stage)
	}
}

// MarkPaid registra que o colaborador on-chain entregou o payout (won/void -> paid)
func (e *Engine) MarkPaid(ctx context.Context, betID string) (ledger.Bet, error) {
	b, err := e.Store.MarkPaid(ctx, betID, e.now())
	if err != nil {
		return b, err
	}
	e.Log.Info("bet paid", zap.String("bet_id", betID), zap.Int64("payout", b.Payout))
	return b, nil
}

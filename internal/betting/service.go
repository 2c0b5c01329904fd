package betting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/cup-betting-engine/internal/ledger"
	"github.com/radieske/cup-betting-engine/internal/market"
)

// SessionVerifier resolve o token de sessão no endereço da carteira (auth.Gate)
type SessionVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// Publisher recebe a aposta depois do commit (Kafka bet_placed)
type Publisher interface {
	PublishBetPlaced(ctx context.Context, b ledger.Bet) error
}

// PoolNotifier é avisado com o mercado já atualizado (cache + broadcast de pools)
type PoolNotifier interface {
	PoolChanged(ctx context.Context, m ledger.Market) error
}

// Request é uma aposta já normalizada pela camada de transporte
type Request struct {
	MarketID       string
	Outcome        string
	Amount         int64
	IdempotencyKey string
	// Bettor, quando informado pelo cliente, precisa ser o dono da sessão
	Bettor string
	// ExpectedOdds, quando presente, precisa bater com as odds no instante da gravação
	ExpectedOdds *decimal.Decimal
}

// OddsChangedError carrega as odds correntes quando ExpectedOdds não bate
type OddsChangedError struct {
	Current decimal.Decimal
}

func (e *OddsChangedError) Error() string {
	return fmt.Sprintf("%s: current odds %s", ledger.ErrOddsChanged.Message, e.Current)
}

func (e *OddsChangedError) Unwrap() error { return ledger.ErrOddsChanged }

// Service valida e grava apostas. O incremento do pool e a gravação acontecem
// numa única operação do store; nada aqui faz read-modify-write do pool.
type Service struct {
	Store     ledger.Store
	Sessions  SessionVerifier
	Publisher Publisher
	Notifier  PoolNotifier
	Log       *zap.Logger
	Now       func() time.Time

	OnPlaced   func(b ledger.Bet)  // métricas
	OnRejected func(reason string) // métricas por código de erro
}

func NewService(store ledger.Store, sessions SessionVerifier, log *zap.Logger) *Service {
	return &Service{Store: store, Sessions: sessions, Log: log, Now: time.Now}
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

// PlaceBet autentica, fixa odds_locked e grava a aposta.
// created=false indica retry com a mesma idempotency key (nenhum pool foi alterado).
func (s *Service) PlaceBet(ctx context.Context, token string, req Request) (ledger.Bet, bool, error) {
	bettor, err := s.Sessions.Verify(ctx, token)
	if err != nil {
		s.rejected(err)
		return ledger.Bet{}, false, err
	}
	if req.Bettor != "" && !strings.EqualFold(req.Bettor, bettor) {
		s.rejected(ledger.ErrUnauthorized)
		return ledger.Bet{}, false, ledger.ErrUnauthorized
	}

	quote := func(m ledger.Market, outcome string, amount int64) (ledger.Quote, error) {
		q, err := market.Quote(m, outcome, amount)
		if err != nil {
			return ledger.Quote{}, err
		}
		if req.ExpectedOdds != nil && !req.ExpectedOdds.Equal(q.Odds) {
			return ledger.Quote{}, &OddsChangedError{Current: q.Odds}
		}
		return q, nil
	}

	b, created, err := s.Store.RecordBet(ctx, ledger.BetDraft{
		MarketID:       req.MarketID,
		Outcome:        req.Outcome,
		Bettor:         bettor,
		Amount:         req.Amount,
		IdempotencyKey: req.IdempotencyKey,
		PlacedAt:       s.now(),
	}, quote)
	if err != nil {
		s.rejected(err)
		if ledger.KindOf(err) == ledger.KindInternal {
			s.Log.Error("record bet failed",
				zap.String("market_id", req.MarketID),
				zap.String("bettor", bettor),
				zap.Error(err))
		}
		return ledger.Bet{}, false, err
	}
	if !created {
		s.Log.Info("bet replayed by idempotency key",
			zap.String("bet_id", b.ID),
			zap.String("idempotency_key", req.IdempotencyKey))
		return b, false, nil
	}

	s.Log.Info("bet placed",
		zap.String("bet_id", b.ID),
		zap.String("market_id", b.MarketID),
		zap.String("outcome", b.Outcome),
		zap.Int64("amount", b.Amount),
		zap.String("odds_locked", b.OddsLocked.String()))
	if s.OnPlaced != nil {
		s.OnPlaced(b)
	}
	s.afterCommit(ctx, b)
	return b, true, nil
}

// afterCommit propaga a aposta; falhas aqui só são logadas, a aposta já está gravada
func (s *Service) afterCommit(ctx context.Context, b ledger.Bet) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	if s.Publisher != nil {
		if err := s.Publisher.PublishBetPlaced(ctx, b); err != nil {
			s.Log.Warn("publish bet_placed failed", zap.String("bet_id", b.ID), zap.Error(err))
		}
	}
	if s.Notifier != nil {
		m, err := s.Store.GetMarket(ctx, b.MarketID)
		if err != nil {
			s.Log.Warn("reload market failed", zap.String("market_id", b.MarketID), zap.Error(err))
			return
		}
		if err := s.Notifier.PoolChanged(ctx, m); err != nil {
			s.Log.Warn("pool notify failed", zap.String("market_id", b.MarketID), zap.Error(err))
		}
	}
}

func (s *Service) rejected(err error) {
	if s.OnRejected == nil {
		return
	}
	reason := string(ledger.KindInternal)
	if e := ledger.AsError(err); e != nil {
		reason = e.Code
	}
	s.OnRejected(reason)
}

// authorize garante que o dono da sessão é o endereço consultado
func (s *Service) authorize(ctx context.Context, token, address string) (string, error) {
	caller, err := s.Sessions.Verify(ctx, token)
	if err != nil {
		return "", err
	}
	if address != "" && !strings.EqualFold(caller, address) {
		return "", ledger.ErrUnauthorized
	}
	return caller, nil
}

// BetsForUser lista as apostas do próprio usuário autenticado
func (s *Service) BetsForUser(ctx context.Context, token, address string) ([]ledger.Bet, error) {
	caller, err := s.authorize(ctx, token, address)
	if err != nil {
		return nil, err
	}
	return s.Store.GetBetsForUser(ctx, caller)
}

// Stats resume as apostas do usuário autenticado (dashboard)
func (s *Service) Stats(ctx context.Context, token, address string) (ledger.UserStats, error) {
	caller, err := s.authorize(ctx, token, address)
	if err != nil {
		return ledger.UserStats{}, err
	}
	return s.Store.UserStats(ctx, caller)
}

func (s *Service) GetBet(ctx context.Context, token, betID string) (ledger.Bet, error) {
	caller, err := s.Sessions.Verify(ctx, token)
	if err != nil {
		return ledger.Bet{}, err
	}
	b, err := s.Store.GetBet(ctx, betID)
	if err != nil {
		return ledger.Bet{}, err
	}
	if b.Bettor != caller {
		// não revela apostas de terceiros
		return ledger.Bet{}, fmt.Errorf("%w: %s", ledger.ErrBetNotFound, betID)
	}
	return b, nil
}

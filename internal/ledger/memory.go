package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory é um Store em memória. Um único mutex serializa as escritas, o que
// dá a mesma atomicidade que as transações do Postgres. Usado em testes e em ENV=local.
type Memory struct {
	mu          sync.Mutex
	markets     map[string]*Market
	bets        map[string]*Bet
	byMarket    map[string][]string
	byBettor    map[string][]string
	idem        map[string]string
	settlements map[string]SettlementRecord
}

func NewMemory() *Memory {
	return &Memory{
		markets:     make(map[string]*Market),
		bets:        make(map[string]*Bet),
		byMarket:    make(map[string][]string),
		byBettor:    make(map[string][]string),
		idem:        make(map[string]string),
		settlements: make(map[string]SettlementRecord),
	}
}

func (s *Memory) CreateMarket(_ context.Context, m Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markets[m.ID]; ok {
		return fmt.Errorf("%w: market %s exists", ErrConflict, m.ID)
	}
	c := m.Clone()
	for _, o := range c.Outcomes {
		if _, ok := c.Pools[o]; !ok {
			c.Pools[o] = 0
		}
	}
	if c.Version == 0 {
		c.Version = 1
	}
	s.markets[m.ID] = &c
	return nil
}

func (s *Memory) GetMarket(_ context.Context, id string) (Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[id]
	if !ok {
		return Market{}, fmt.Errorf("%w: %s", ErrMarketNotFound, id)
	}
	return m.Clone(), nil
}

func (s *Memory) ListMarkets(_ context.Context, f MarketFilter) ([]Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Market, 0, len(s.markets))
	for _, m := range s.markets {
		if f.matches(*m) {
			out = append(out, m.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CloseTime.Equal(out[j].CloseTime) {
			return out[i].CloseTime.Before(out[j].CloseTime)
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Memory) ListOpenMarkets(ctx context.Context) ([]Market, error) {
	return s.ListMarkets(ctx, MarketFilter{Statuses: []MarketStatus{StatusOpen}})
}

func (s *Memory) RecordBet(_ context.Context, d BetDraft, quote Quoter) (Bet, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[d.MarketID]
	if !ok {
		return Bet{}, false, fmt.Errorf("%w: %s", ErrMarketNotFound, d.MarketID)
	}

	// retry com a mesma chave devolve a aposta original, mesmo com o mercado já fechado
	if d.IdempotencyKey != "" {
		if id, ok := s.idem[idemKey(d.Bettor, d.IdempotencyKey)]; ok {
			return *s.bets[id], false, nil
		}
	}

	if err := checkAccepting(*m, d); err != nil {
		return Bet{}, false, err
	}
	q, err := quote(m.Clone(), d.Outcome, d.Amount)
	if err != nil {
		return Bet{}, false, err
	}

	b := newBet(d, q)
	m.Pools[d.Outcome] += d.Amount
	m.Version++
	s.bets[b.ID] = &b
	s.byMarket[b.MarketID] = append(s.byMarket[b.MarketID], b.ID)
	s.byBettor[b.Bettor] = append(s.byBettor[b.Bettor], b.ID)
	if d.IdempotencyKey != "" {
		s.idem[idemKey(d.Bettor, d.IdempotencyKey)] = b.ID
	}
	return b, true, nil
}

func (s *Memory) GetBet(_ context.Context, id string) (Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bets[id]
	if !ok {
		return Bet{}, fmt.Errorf("%w: %s", ErrBetNotFound, id)
	}
	return *b, nil
}

func (s *Memory) GetBetsForUser(_ context.Context, bettor string) ([]Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collect(s.byBettor[bettor]), nil
}

func (s *Memory) GetBetsForMarket(_ context.Context, marketID string) ([]Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markets[marketID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, marketID)
	}
	return s.collect(s.byMarket[marketID]), nil
}

func (s *Memory) collect(ids []string) []Bet {
	out := make([]Bet, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.bets[id])
	}
	sortBets(out)
	return out
}

func (s *Memory) LockMarket(_ context.Context, id string, _ time.Time) (Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[id]
	if !ok {
		return Market{}, fmt.Errorf("%w: %s", ErrMarketNotFound, id)
	}
	if m.Status != StatusOpen {
		return m.Clone(), fmt.Errorf("%w: market %s is %s", ErrConflict, id, m.Status)
	}
	m.Status = StatusLocked
	m.Version++
	return m.Clone(), nil
}

func (s *Memory) LockExpired(_ context.Context, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, m := range s.markets {
		if m.Status == StatusOpen && !m.CloseTime.After(now) {
			m.Status = StatusLocked
			m.Version++
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Memory) BeginSettlement(_ context.Context, id string, intent SettlementIntent) (Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[id]
	if !ok {
		return Market{}, fmt.Errorf("%w: %s", ErrMarketNotFound, id)
	}
	allowed := false
	for _, st := range fromStatuses(intent) {
		if m.Status == st {
			allowed = true
		}
	}
	if !allowed {
		return m.Clone(), fmt.Errorf("%w: market %s is %s", ErrConflict, id, m.Status)
	}
	m.Status = StatusSettling
	m.SettlingOutcome = intent.WinningOutcome
	m.SettlingVoid = intent.Void
	m.VoidReason = intent.Reason
	m.SettlingSince = intent.At
	m.Version++
	return m.Clone(), nil
}

func (s *Memory) ApplySettlement(_ context.Context, rec SettlementRecord, updates []PayoutUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[rec.MarketID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMarketNotFound, rec.MarketID)
	}
	if m.Status != StatusSettling {
		return fmt.Errorf("%w: market %s is %s", ErrConflict, rec.MarketID, m.Status)
	}
	if _, ok := s.settlements[rec.MarketID]; ok {
		return fmt.Errorf("%w: settlement for %s exists", ErrConflict, rec.MarketID)
	}
	// valida tudo antes de mutar qualquer coisa
	for _, u := range updates {
		b, ok := s.bets[u.BetID]
		if !ok || b.MarketID != rec.MarketID {
			return fmt.Errorf("%w: %s", ErrBetNotFound, u.BetID)
		}
		if b.Status != BetOpen {
			return fmt.Errorf("%w: bet %s already %s", ErrConflict, u.BetID, b.Status)
		}
	}
	for _, u := range updates {
		b := s.bets[u.BetID]
		b.Status = u.Status
		b.Result = u.Status
		b.Payout = u.Payout
		b.SettledAt = rec.SettledAt
	}
	if rec.Voided {
		m.Status = StatusVoided
	} else {
		m.Status = StatusSettled
	}
	m.Version++
	s.settlements[rec.MarketID] = rec
	return nil
}

func (s *Memory) GetSettlement(_ context.Context, marketID string) (SettlementRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.settlements[marketID]
	if !ok {
		return SettlementRecord{}, fmt.Errorf("%w: %s", ErrSettlementNotFound, marketID)
	}
	return rec, nil
}

func (s *Memory) ListSettling(_ context.Context, since time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, m := range s.markets {
		if m.Status == StatusSettling && !m.SettlingSince.After(since) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Memory) MarkPaid(_ context.Context, betID string, at time.Time) (Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bets[betID]
	if !ok {
		return Bet{}, fmt.Errorf("%w: %s", ErrBetNotFound, betID)
	}
	if b.Status != BetWon && b.Status != BetVoid {
		return *b, fmt.Errorf("%w: bet %s is %s", ErrConflict, betID, b.Status)
	}
	b.Status = BetPaid
	b.PaidAt = at
	return *b, nil
}

func (s *Memory) Leaderboard(_ context.Context, limit int) ([]LeaderboardEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LeaderboardEntry, 0, len(s.byBettor))
	for bettor, ids := range s.byBettor {
		e := LeaderboardEntry{Bettor: bettor, Bets: len(ids)}
		for _, id := range ids {
			if b := s.bets[id]; b.Result == BetWon {
				e.Winnings += b.Payout
			}
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Winnings != out[j].Winnings {
			return out[i].Winnings > out[j].Winnings
		}
		return out[i].Bettor < out[j].Bettor
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Memory) UserStats(_ context.Context, bettor string) (UserStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := UserStats{Bettor: bettor}
	for _, id := range s.byBettor[bettor] {
		b := s.bets[id]
		st.TotalBets++
		st.TotalStaked += b.Amount
		if b.Status == BetOpen {
			st.ActiveBets++
			st.PotentialWins += b.PotentialPayout
		}
		if b.Result == BetWon {
			st.TotalWon += b.Payout
		}
	}
	return st, nil
}

// checkAccepting aplica as pré-condições de estado de RecordBet
func checkAccepting(m Market, d BetDraft) error {
	switch m.Status {
	case StatusOpen:
	case StatusLocked:
		return fmt.Errorf("%w: %w", ErrMarketClosed, ErrMarketLocked)
	default:
		return fmt.Errorf("%w: market %s is %s", ErrMarketClosed, m.ID, m.Status)
	}
	if !d.PlacedAt.Before(m.CloseTime) {
		return fmt.Errorf("%w: %w", ErrMarketClosed, ErrMarketLocked)
	}
	if !m.HasOutcome(d.Outcome) {
		return fmt.Errorf("%w: %q", ErrInvalidOutcome, d.Outcome)
	}
	if d.Amount <= 0 {
		return ErrInvalidAmount
	}
	if d.Amount > MaxStake {
		return fmt.Errorf("%w: stake above %d", ErrInvalidAmount, MaxStake)
	}
	// TotalPool <= MaxPool vale antes do incremento, então a subtração não estoura
	if m.TotalPool() > MaxPool-d.Amount {
		return fmt.Errorf("%w: market pool limit reached", ErrInvalidAmount)
	}
	return nil
}

func newBet(d BetDraft, q Quote) Bet {
	id := d.ID
	if id == "" {
		id = uuid.NewString()
	}
	return Bet{
		ID:              id,
		MarketID:        d.MarketID,
		Outcome:         d.Outcome,
		Bettor:          d.Bettor,
		Amount:          d.Amount,
		OddsLocked:      q.Odds,
		PotentialPayout: q.PotentialPayout,
		Status:          BetOpen,
		IdempotencyKey:  d.IdempotencyKey,
		PlacedAt:        d.PlacedAt,
	}
}

func idemKey(bettor, key string) string { return bettor + "|" + key }

// sortBets ordena por placed_at; empates mantêm a ordem de gravação
func sortBets(bets []Bet) {
	sort.SliceStable(bets, func(i, j int) bool {
		return bets[i].PlacedAt.Before(bets[j].PlacedAt)
	})
}

var _ Store = (*Memory)(nil)

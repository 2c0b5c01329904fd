package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/radieske/cup-betting-engine/internal/ledger"
	"github.com/shopspring/decimal"
)

var t0 = time.Date(2026, 6, 11, 12, 0, 0, 0, time.UTC)

func flatQuote(m ledger.Market, outcome string, amount int64) (ledger.Quote, error) {
	return ledger.Quote{Odds: decimal.NewFromInt(2), PotentialPayout: amount * 2}, nil
}

func newMatch(id string) ledger.Market {
	return ledger.Market{
		ID:             id,
		Kind:           ledger.MarketMatch,
		Pricing:        ledger.PricingParimutuel,
		Status:         ledger.StatusOpen,
		Title:          "Brazil vs Argentina",
		TeamA:          "Brazil",
		TeamB:          "Argentina",
		Outcomes:       []string{ledger.OutcomeA, ledger.OutcomeDraw, ledger.OutcomeB},
		Pools:          map[string]int64{},
		FeePlatformBps: 200,
		FeeOracleBps:   100,
		OpenTime:       t0.Add(-time.Hour),
		CloseTime:      t0.Add(time.Hour),
	}
}

func draft(marketID, outcome, bettor string, amount int64) ledger.BetDraft {
	return ledger.BetDraft{MarketID: marketID, Outcome: outcome, Bettor: bettor, Amount: amount, PlacedAt: t0}
}

// runStoreSuite roda o mesmo contrato contra qualquer implementação de Store
func runStoreSuite(t *testing.T, newStore func(t *testing.T) ledger.Store) {
	t.Run("RecordBetIncrementsPool", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id := "m-" + uuid.NewString()
		if err := s.CreateMarket(ctx, newMatch(id)); err != nil {
			t.Fatal(err)
		}
		b, created, err := s.RecordBet(ctx, draft(id, ledger.OutcomeA, "0xaa", 100), flatQuote)
		if err != nil || !created {
			t.Fatalf("record: created=%v err=%v", created, err)
		}
		if b.Status != ledger.BetOpen || b.PotentialPayout != 200 {
			t.Errorf("unexpected bet %+v", b)
		}
		m, err := s.GetMarket(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if m.Pools[ledger.OutcomeA] != 100 || m.TotalPool() != 100 {
			t.Errorf("pools = %v", m.Pools)
		}
	})

	t.Run("QuoterSeesPreIncrementSnapshot", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id := "m-" + uuid.NewString()
		_ = s.CreateMarket(ctx, newMatch(id))
		_, _, _ = s.RecordBet(ctx, draft(id, ledger.OutcomeA, "0xaa", 50), flatQuote)

		var seen int64 = -1
		q := func(m ledger.Market, o string, amt int64) (ledger.Quote, error) {
			seen = m.Pools[ledger.OutcomeA]
			return flatQuote(m, o, amt)
		}
		if _, _, err := s.RecordBet(ctx, draft(id, ledger.OutcomeA, "0xbb", 70), q); err != nil {
			t.Fatal(err)
		}
		if seen != 50 {
			t.Errorf("quoter saw pool %d, want 50", seen)
		}
	})

	t.Run("QuoterErrorLeavesNoTrace", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id := "m-" + uuid.NewString()
		_ = s.CreateMarket(ctx, newMatch(id))
		q := func(ledger.Market, string, int64) (ledger.Quote, error) { return ledger.Quote{}, ledger.ErrOddsChanged }
		if _, _, err := s.RecordBet(ctx, draft(id, ledger.OutcomeB, "0xaa", 10), q); !errors.Is(err, ledger.ErrOddsChanged) {
			t.Fatalf("err = %v", err)
		}
		m, _ := s.GetMarket(ctx, id)
		bets, _ := s.GetBetsForMarket(ctx, id)
		if m.TotalPool() != 0 || len(bets) != 0 {
			t.Errorf("rejected bet left state: pool=%d bets=%d", m.TotalPool(), len(bets))
		}
	})

	t.Run("Idempotency", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id := "m-" + uuid.NewString()
		_ = s.CreateMarket(ctx, newMatch(id))
		d := draft(id, ledger.OutcomeDraw, "0xaa", 30)
		d.IdempotencyKey = "k-" + id
		first, created, err := s.RecordBet(ctx, d, flatQuote)
		if err != nil || !created {
			t.Fatalf("first: %v", err)
		}
		again, created, err := s.RecordBet(ctx, d, flatQuote)
		if err != nil || created {
			t.Fatalf("retry: created=%v err=%v", created, err)
		}
		if again.ID != first.ID {
			t.Errorf("retry returned %s, want %s", again.ID, first.ID)
		}
		m, _ := s.GetMarket(ctx, id)
		if m.Pools[ledger.OutcomeDraw] != 30 {
			t.Errorf("pool counted twice: %d", m.Pools[ledger.OutcomeDraw])
		}
		// mesma chave de outro apostador é outra aposta
		d.Bettor = "0xbb"
		if _, created, _ := s.RecordBet(ctx, d, flatQuote); !created {
			t.Error("key must be scoped per bettor")
		}
	})

	t.Run("RejectsClosedAndInvalid", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id := "m-" + uuid.NewString()
		_ = s.CreateMarket(ctx, newMatch(id))

		if _, _, err := s.RecordBet(ctx, draft(id, "X", "0xaa", 10), flatQuote); !errors.Is(err, ledger.ErrInvalidOutcome) {
			t.Errorf("bad outcome: %v", err)
		}
		if _, _, err := s.RecordBet(ctx, draft(id, ledger.OutcomeA, "0xaa", 0), flatQuote); !errors.Is(err, ledger.ErrInvalidAmount) {
			t.Errorf("zero amount: %v", err)
		}
		late := draft(id, ledger.OutcomeA, "0xaa", 10)
		late.PlacedAt = t0.Add(2 * time.Hour)
		if _, _, err := s.RecordBet(ctx, late, flatQuote); !errors.Is(err, ledger.ErrMarketClosed) {
			t.Errorf("after close: %v", err)
		}
		if _, err := s.LockMarket(ctx, id, t0); err != nil {
			t.Fatal(err)
		}
		_, _, err := s.RecordBet(ctx, draft(id, ledger.OutcomeA, "0xaa", 10), flatQuote)
		if !errors.Is(err, ledger.ErrMarketClosed) || !errors.Is(err, ledger.ErrMarketLocked) {
			t.Errorf("locked: %v", err)
		}
		if _, _, err := s.RecordBet(ctx, draft("nope", ledger.OutcomeA, "0xaa", 10), flatQuote); !errors.Is(err, ledger.ErrMarketNotFound) {
			t.Errorf("unknown market: %v", err)
		}
	})

	t.Run("ConcurrentBetsConservePool", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id := "m-" + uuid.NewString()
		_ = s.CreateMarket(ctx, newMatch(id))

		const workers, each = 8, 25
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < each; i++ {
					o := []string{ledger.OutcomeA, ledger.OutcomeDraw, ledger.OutcomeB}[i%3]
					if _, _, err := s.RecordBet(ctx, draft(id, o, fmt.Sprintf("0x%02d", w), int64(i+1)), flatQuote); err != nil {
						t.Error(err)
					}
				}
			}(w)
		}
		wg.Wait()

		m, _ := s.GetMarket(ctx, id)
		bets, _ := s.GetBetsForMarket(ctx, id)
		var sum int64
		for _, b := range bets {
			sum += b.Amount
		}
		if len(bets) != workers*each {
			t.Errorf("bets = %d, want %d", len(bets), workers*each)
		}
		if sum != m.TotalPool() {
			t.Errorf("sum(bets)=%d total_pool=%d", sum, m.TotalPool())
		}
	})

	t.Run("LockIsCompareAndSet", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id := "m-" + uuid.NewString()
		_ = s.CreateMarket(ctx, newMatch(id))
		if _, err := s.LockMarket(ctx, id, t0); err != nil {
			t.Fatal(err)
		}
		m, err := s.LockMarket(ctx, id, t0)
		if !errors.Is(err, ledger.ErrConflict) {
			t.Errorf("second lock: %v", err)
		}
		if m.Status != ledger.StatusLocked {
			t.Errorf("status = %s", m.Status)
		}
	})

	t.Run("LockExpired", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		past := newMatch("m-" + uuid.NewString())
		past.CloseTime = t0.Add(-time.Minute)
		future := newMatch("m-" + uuid.NewString())
		_ = s.CreateMarket(ctx, past)
		_ = s.CreateMarket(ctx, future)

		ids, err := s.LockExpired(ctx, t0)
		if err != nil {
			t.Fatal(err)
		}
		found := false
		for _, id := range ids {
			if id == future.ID {
				t.Error("future market locked")
			}
			found = found || id == past.ID
		}
		if !found {
			t.Errorf("expired market not locked: %v", ids)
		}
	})

	t.Run("SettlementLifecycle", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id := "m-" + uuid.NewString()
		winner, loser := "0xaa-"+id, "0xbb-"+id
		_ = s.CreateMarket(ctx, newMatch(id))
		win, _, _ := s.RecordBet(ctx, draft(id, ledger.OutcomeA, winner, 100), flatQuote)
		lose, _, _ := s.RecordBet(ctx, draft(id, ledger.OutcomeB, loser, 50), flatQuote)

		intent := ledger.SettlementIntent{WinningOutcome: ledger.OutcomeA, At: t0}
		if _, err := s.BeginSettlement(ctx, id, intent); !errors.Is(err, ledger.ErrConflict) {
			t.Fatalf("settle from open must fail, got %v", err)
		}
		_, _ = s.LockMarket(ctx, id, t0)
		m, err := s.BeginSettlement(ctx, id, intent)
		if err != nil {
			t.Fatal(err)
		}
		if m.Status != ledger.StatusSettling || m.SettlingOutcome != ledger.OutcomeA {
			t.Errorf("market = %+v", m)
		}
		stale, _ := s.ListSettling(ctx, t0)
		if !contains(stale, id) {
			t.Errorf("settling market missing from %v", stale)
		}

		rec := ledger.SettlementRecord{
			MarketID: id, WinningOutcome: ledger.OutcomeA, TotalPool: 150,
			FeePlatformAmount: 3, FeeOracleAmount: 1, PayoutTotal: 146, SettledAt: t0,
		}
		updates := []ledger.PayoutUpdate{
			{BetID: win.ID, Status: ledger.BetWon, Payout: 146},
			{BetID: lose.ID, Status: ledger.BetLost},
		}
		if err := s.ApplySettlement(ctx, rec, updates); err != nil {
			t.Fatal(err)
		}
		if err := s.ApplySettlement(ctx, rec, updates); !errors.Is(err, ledger.ErrConflict) {
			t.Errorf("second apply: %v", err)
		}

		got, err := s.GetSettlement(ctx, id)
		if err != nil || got.PayoutTotal != 146 {
			t.Errorf("record = %+v err=%v", got, err)
		}
		m, _ = s.GetMarket(ctx, id)
		if m.Status != ledger.StatusSettled {
			t.Errorf("status = %s", m.Status)
		}

		paid, err := s.MarkPaid(ctx, win.ID, t0)
		if err != nil || paid.Status != ledger.BetPaid || paid.Result != ledger.BetWon {
			t.Errorf("mark paid: %+v %v", paid, err)
		}
		if _, err := s.MarkPaid(ctx, lose.ID, t0); !errors.Is(err, ledger.ErrConflict) {
			t.Errorf("paying a lost bet: %v", err)
		}

		board, _ := s.Leaderboard(ctx, 0)
		if e := findEntry(board, winner); e == nil || e.Winnings != 146 {
			t.Errorf("leaderboard = %+v", board)
		}
		st, _ := s.UserStats(ctx, loser)
		if st.TotalBets != 1 || st.ActiveBets != 0 || st.TotalStaked != 50 || st.TotalWon != 0 {
			t.Errorf("stats = %+v", st)
		}
	})

	t.Run("VoidFromOpen", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id := "m-" + uuid.NewString()
		_ = s.CreateMarket(ctx, newMatch(id))
		b, _, _ := s.RecordBet(ctx, draft(id, ledger.OutcomeDraw, "0xaa", 40), flatQuote)

		if _, err := s.BeginSettlement(ctx, id, ledger.SettlementIntent{Void: true, Reason: "postponed", At: t0}); err != nil {
			t.Fatal(err)
		}
		rec := ledger.SettlementRecord{MarketID: id, Voided: true, VoidReason: "postponed", TotalPool: 40, PayoutTotal: 40, SettledAt: t0}
		if err := s.ApplySettlement(ctx, rec, []ledger.PayoutUpdate{{BetID: b.ID, Status: ledger.BetVoid, Payout: 40}}); err != nil {
			t.Fatal(err)
		}
		m, _ := s.GetMarket(ctx, id)
		got, _ := s.GetBet(ctx, b.ID)
		if m.Status != ledger.StatusVoided || got.Status != ledger.BetVoid || got.Payout != 40 {
			t.Errorf("market=%s bet=%+v", m.Status, got)
		}
	})

	t.Run("ApplyIsAllOrNothing", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id := "m-" + uuid.NewString()
		_ = s.CreateMarket(ctx, newMatch(id))
		b, _, _ := s.RecordBet(ctx, draft(id, ledger.OutcomeA, "0xaa", 10), flatQuote)
		_, _ = s.LockMarket(ctx, id, t0)
		_, _ = s.BeginSettlement(ctx, id, ledger.SettlementIntent{WinningOutcome: ledger.OutcomeA, At: t0})

		rec := ledger.SettlementRecord{MarketID: id, WinningOutcome: ledger.OutcomeA, TotalPool: 10, PayoutTotal: 10, SettledAt: t0}
		bad := []ledger.PayoutUpdate{
			{BetID: b.ID, Status: ledger.BetWon, Payout: 10},
			{BetID: "missing", Status: ledger.BetLost},
		}
		if err := s.ApplySettlement(ctx, rec, bad); err == nil {
			t.Fatal("expected failure")
		}
		m, _ := s.GetMarket(ctx, id)
		got, _ := s.GetBet(ctx, b.ID)
		if m.Status != ledger.StatusSettling || got.Status != ledger.BetOpen {
			t.Errorf("partial apply: market=%s bet=%s", m.Status, got.Status)
		}
		if _, err := s.GetSettlement(ctx, id); !errors.Is(err, ledger.ErrSettlementNotFound) {
			t.Errorf("record written: %v", err)
		}
	})
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func findEntry(board []ledger.LeaderboardEntry, bettor string) *ledger.LeaderboardEntry {
	for i := range board {
		if board[i].Bettor == bettor {
			return &board[i]
		}
	}
	return nil
}

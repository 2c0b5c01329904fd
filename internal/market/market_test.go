package market_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/cup-betting-engine/internal/ledger"
	"github.com/radieske/cup-betting-engine/internal/market"
)

var now = time.Date(2026, 6, 11, 12, 0, 0, 0, time.UTC)

func newEngine() (*market.Engine, *ledger.Memory) {
	store := ledger.NewMemory()
	e := market.NewEngine(store, zap.NewNop())
	e.Now = func() time.Time { return now }
	return e, store
}

func bps(v int64) *int64 { return &v }

func TestOpenMarket_MatchDefaults(t *testing.T) {
	e, _ := newEngine()
	m, err := e.OpenMarket(context.Background(), market.Spec{
		Kind:      ledger.MarketMatch,
		TeamA:     "Brazil",
		TeamB:     "Argentina",
		CloseTime: now.Add(time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}
	if m.ID == "" || m.Status != ledger.StatusOpen || m.Pricing != ledger.PricingParimutuel {
		t.Errorf("unexpected market %+v", m)
	}
	if len(m.Outcomes) != 3 || m.Outcomes[1] != ledger.OutcomeDraw {
		t.Errorf("outcomes = %v", m.Outcomes)
	}
	if m.FeePlatformBps != 200 || m.FeeOracleBps != 100 {
		t.Errorf("fees = %d/%d", m.FeePlatformBps, m.FeeOracleBps)
	}
	if !m.OpenTime.Equal(now) {
		t.Errorf("open_time = %v", m.OpenTime)
	}
}

func TestOpenMarket_Validation(t *testing.T) {
	e, _ := newEngine()
	odds := map[string]decimal.Decimal{"Brazil": decimal.RequireFromString("4.5")}
	cases := map[string]market.Spec{
		"close before open": {Kind: ledger.MarketMatch, OpenTime: now, CloseTime: now},
		"unknown kind":      {Kind: "league", CloseTime: now.Add(time.Hour)},
		"duplicate outcome": {Kind: ledger.MarketMatch, Outcomes: []string{"A", "A"}, CloseTime: now.Add(time.Hour)},
		"fee out of range":  {Kind: ledger.MarketMatch, FeePlatformBps: bps(10_001), CloseTime: now.Add(time.Hour)},
		"negative fee":      {Kind: ledger.MarketMatch, FeeOracleBps: bps(-1), CloseTime: now.Add(time.Hour)},
		"fees over 100%":    {Kind: ledger.MarketMatch, FeePlatformBps: bps(6000), FeeOracleBps: bps(5000), CloseTime: now.Add(time.Hour)},
		"no outcomes":       {Kind: ledger.MarketChampionship, CloseTime: now.Add(time.Hour)},
		"missing odds": {
			Kind: ledger.MarketChampionship, Outcomes: []string{"Brazil", "France"},
			FixedOdds: odds, CloseTime: now.Add(time.Hour),
		},
		"odds not above 1": {
			Kind: ledger.MarketChampionship, Outcomes: []string{"Brazil"},
			FixedOdds: map[string]decimal.Decimal{"Brazil": decimal.NewFromInt(1)}, CloseTime: now.Add(time.Hour),
		},
		"odds beyond 4 decimals": {
			Kind: ledger.MarketChampionship, Outcomes: []string{"Brazil"},
			FixedOdds: map[string]decimal.Decimal{"Brazil": decimal.RequireFromString("4.12345")}, CloseTime: now.Add(time.Hour),
		},
		"odds above column range": {
			Kind: ledger.MarketChampionship, Outcomes: []string{"Brazil"},
			FixedOdds: map[string]decimal.Decimal{"Brazil": decimal.NewFromInt(100_000_000)}, CloseTime: now.Add(time.Hour),
		},
		"odds on parimutuel": {
			Kind: ledger.MarketMatch, Outcomes: []string{"Brazil"}, FixedOdds: odds, CloseTime: now.Add(time.Hour),
		},
	}
	for name, spec := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := e.OpenMarket(context.Background(), spec); !errors.Is(err, ledger.ErrInvalidMarket) {
				t.Errorf("err = %v, want ErrInvalidMarket", err)
			}
		})
	}
}

func TestOpenMarket_TrailingZerosAccepted(t *testing.T) {
	e, _ := newEngine()
	m, err := e.OpenMarket(context.Background(), market.Spec{
		Kind: ledger.MarketChampionship, Outcomes: []string{"Brazil"},
		FixedOdds: map[string]decimal.Decimal{"Brazil": decimal.RequireFromString("4.50000")}, CloseTime: now.Add(time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !m.FixedOdds["Brazil"].Equal(decimal.RequireFromString("4.5")) {
		t.Errorf("odds = %s", m.FixedOdds["Brazil"])
	}
}

func TestOpenMarket_ZeroFeesAllowed(t *testing.T) {
	e, _ := newEngine()
	m, err := e.OpenMarket(context.Background(), market.Spec{
		Kind: ledger.MarketMatch, FeePlatformBps: bps(0), FeeOracleBps: bps(0), CloseTime: now.Add(time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}
	if m.FeePlatformBps != 0 || m.FeeOracleBps != 0 {
		t.Errorf("fees = %d/%d", m.FeePlatformBps, m.FeeOracleBps)
	}
}

func TestImpliedOdds_Parimutuel(t *testing.T) {
	m := ledger.Market{
		Pricing:  ledger.PricingParimutuel,
		Outcomes: []string{"A", "draw", "B"},
		Pools:    map[string]int64{"A": 100, "draw": 50, "B": 150},
	}
	want := map[string]string{"A": "3", "draw": "6", "B": "2"}
	for o, w := range want {
		got, err := market.ImpliedOdds(m, o)
		if err != nil {
			t.Fatal(err)
		}
		if !got.Equal(decimal.RequireFromString(w)) {
			t.Errorf("odds[%s] = %s, want %s", o, got, w)
		}
	}
}

func TestImpliedOdds_ClampsEmptyAndDominantPools(t *testing.T) {
	m := ledger.Market{
		Pricing:  ledger.PricingParimutuel,
		Outcomes: []string{"A", "B"},
		Pools:    map[string]int64{"A": 1_000_000, "B": 0},
	}
	for _, o := range m.Outcomes {
		got, _ := market.ImpliedOdds(m, o)
		if !got.Equal(market.MinOdds) {
			t.Errorf("odds[%s] = %s, want %s", o, got, market.MinOdds)
		}
	}
}

func TestImpliedOdds_FixedIgnoresPools(t *testing.T) {
	m := ledger.Market{
		Pricing:   ledger.PricingFixed,
		Outcomes:  []string{"Brazil"},
		FixedOdds: map[string]decimal.Decimal{"Brazil": decimal.RequireFromString("4.5")},
		Pools:     map[string]int64{"Brazil": 9_999},
	}
	got, _ := market.ImpliedOdds(m, "Brazil")
	if !got.Equal(decimal.RequireFromString("4.5")) {
		t.Errorf("odds = %s", got)
	}
	if _, err := market.ImpliedOdds(m, "Chile"); !errors.Is(err, ledger.ErrInvalidOutcome) {
		t.Errorf("unknown outcome: %v", err)
	}
}

func TestPotentialPayout(t *testing.T) {
	// bruto 180, fees 3.6 -> 4 e 1.8 -> 2
	if got, err := market.PotentialPayout(40, decimal.RequireFromString("4.5"), 200, 100); err != nil || got != 174 {
		t.Errorf("got %d, %v, want 174", got, err)
	}
	// bruto 300, fees 6 e 3
	if got, err := market.PotentialPayout(100, decimal.NewFromInt(3), 200, 100); err != nil || got != 291 {
		t.Errorf("got %d, %v, want 291", got, err)
	}
	if _, err := market.PotentialPayout(math.MaxInt64/2, decimal.RequireFromString("4.5"), 200, 100); err == nil {
		t.Error("wrapped payout should fail")
	}
}

func TestLockMarket_IdempotentAndTerminal(t *testing.T) {
	e, store := newEngine()
	ctx := context.Background()
	locked := 0
	e.OnLocked = func(string) { locked++ }

	m, _ := e.OpenMarket(ctx, market.Spec{Kind: ledger.MarketMatch, CloseTime: now.Add(time.Hour)})
	if _, err := e.LockMarket(ctx, m.ID); err != nil {
		t.Fatal(err)
	}
	got, err := e.LockMarket(ctx, m.ID)
	if err != nil || got.Status != ledger.StatusLocked {
		t.Fatalf("relock: %v %s", err, got.Status)
	}
	if locked != 1 {
		t.Errorf("OnLocked fired %d times", locked)
	}

	_, _ = store.BeginSettlement(ctx, m.ID, ledger.SettlementIntent{WinningOutcome: "A", At: now})
	if _, err := e.LockMarket(ctx, m.ID); !errors.Is(err, ledger.ErrSettlementInProgress) {
		t.Errorf("lock while settling: %v", err)
	}
	if _, err := e.LockMarket(ctx, "missing"); !errors.Is(err, ledger.ErrMarketNotFound) {
		t.Errorf("missing: %v", err)
	}
}

func TestLockExpired(t *testing.T) {
	e, _ := newEngine()
	ctx := context.Background()
	soon, _ := e.OpenMarket(ctx, market.Spec{Kind: ledger.MarketMatch, OpenTime: now.Add(-2 * time.Hour), CloseTime: now.Add(-time.Minute)})
	later, _ := e.OpenMarket(ctx, market.Spec{Kind: ledger.MarketMatch, CloseTime: now.Add(time.Hour)})

	ids, err := e.LockExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != soon.ID {
		t.Errorf("locked = %v, want [%s]", ids, soon.ID)
	}
	m, _ := e.GetMarket(ctx, later.ID)
	if m.Status != ledger.StatusOpen {
		t.Errorf("future market status = %s", m.Status)
	}
}

func TestRunAutoLock_StopsOnCancel(t *testing.T) {
	e, _ := newEngine()
	ctx, cancel := context.WithCancel(context.Background())
	m, _ := e.OpenMarket(ctx, market.Spec{Kind: ledger.MarketMatch, OpenTime: now.Add(-2 * time.Hour), CloseTime: now.Add(-time.Second)})

	done := make(chan error, 1)
	go func() { done <- e.RunAutoLock(ctx, 10*time.Millisecond) }()

	deadline := time.After(2 * time.Second)
	for {
		got, _ := e.GetMarket(context.Background(), m.ID)
		if got.Status == ledger.StatusLocked {
			break
		}
		select {
		case <-deadline:
			t.Fatal("market never auto-locked")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("RunAutoLock returned %v", err)
	}
}

type fakeVoider struct{ calls []string }

func (f *fakeVoider) Void(_ context.Context, id, reason string) (ledger.SettlementRecord, error) {
	f.calls = append(f.calls, id+":"+reason)
	return ledger.SettlementRecord{MarketID: id, Voided: true, VoidReason: reason}, nil
}

func TestVoidMarket_DelegatesToVoider(t *testing.T) {
	e, _ := newEngine()
	if _, err := e.VoidMarket(context.Background(), "m1", "x"); !errors.Is(err, ledger.ErrInternal) {
		t.Errorf("no voider: %v", err)
	}
	v := &fakeVoider{}
	e.Voider = v
	rec, err := e.VoidMarket(context.Background(), "m1", "postponed")
	if err != nil || !rec.Voided || len(v.calls) != 1 || v.calls[0] != "m1:postponed" {
		t.Errorf("rec=%+v err=%v calls=%v", rec, err, v.calls)
	}
}

func TestQuote_FixedLiabilityLimit(t *testing.T) {
	m := ledger.Market{
		ID: "c", Pricing: ledger.PricingFixed, Outcomes: []string{"Brazil"},
		FixedOdds: map[string]decimal.Decimal{"Brazil": decimal.RequireFromString("1000")},
		Pools:     map[string]int64{"Brazil": ledger.MaxLiability / 1000},
	}
	if _, err := market.Quote(m, "Brazil", 1); !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Fatalf("over liability: %v", err)
	}
	m.Pools["Brazil"] = 0
	if q, err := market.Quote(m, "Brazil", 10); err != nil || q.PotentialPayout != 10000 {
		t.Fatalf("quote = %+v, %v", q, err)
	}
}

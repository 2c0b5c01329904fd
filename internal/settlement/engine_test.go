package settlement_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/cup-betting-engine/internal/ledger"
	"github.com/radieske/cup-betting-engine/internal/settlement"
)

var clock = time.Date(2026, 6, 11, 12, 0, 0, 0, time.UTC)

type fakeTreasury struct {
	mu    sync.Mutex
	funds map[string]int64
	calls int
	fail  error
}

func (f *fakeTreasury) Fund(_ context.Context, ref string, amount int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail != nil {
		return f.fail
	}
	if f.funds == nil {
		f.funds = map[string]int64{}
	}
	f.funds[ref] = amount
	return nil
}

// flakyStore falha ApplySettlement enquanto failApply > 0
type flakyStore struct {
	*ledger.Memory
	failApply int
}

func (s *flakyStore) ApplySettlement(ctx context.Context, rec ledger.SettlementRecord, u []ledger.PayoutUpdate) error {
	if s.failApply > 0 {
		s.failApply--
		return errors.New("connection reset")
	}
	return s.Memory.ApplySettlement(ctx, rec, u)
}

func newEngine(store ledger.Store) *settlement.Engine {
	e := settlement.NewEngine(store, zap.NewNop())
	e.Now = func() time.Time { return clock }
	return e
}

func seed(t *testing.T, store ledger.Store, lock bool) {
	t.Helper()
	ctx := context.Background()
	m := ledger.Market{
		ID: "M1", Kind: ledger.MarketMatch, Pricing: ledger.PricingParimutuel, Status: ledger.StatusOpen,
		Outcomes: []string{"A", "draw", "B"}, Pools: map[string]int64{},
		FeePlatformBps: 200, FeeOracleBps: 100,
		OpenTime: clock.Add(-time.Hour), CloseTime: clock.Add(time.Hour),
	}
	if err := store.CreateMarket(ctx, m); err != nil {
		t.Fatal(err)
	}
	q := func(ledger.Market, string, int64) (ledger.Quote, error) {
		return ledger.Quote{Odds: decimal.NewFromInt(3)}, nil
	}
	for _, s := range []struct {
		o   string
		amt int64
	}{{"A", 100}, {"draw", 50}, {"B", 150}} {
		d := ledger.BetDraft{MarketID: "M1", Outcome: s.o, Bettor: "0x" + s.o, Amount: s.amt, PlacedAt: clock}
		if _, _, err := store.RecordBet(ctx, d, q); err != nil {
			t.Fatal(err)
		}
	}
	if lock {
		if _, err := store.LockMarket(ctx, "M1", clock); err != nil {
			t.Fatal(err)
		}
	}
}

func TestSettle_ExampleScenario(t *testing.T) {
	store := ledger.NewMemory()
	seed(t, store, true)
	e := newEngine(store)

	var settled []ledger.SettlementRecord
	e.OnSettled = func(rec ledger.SettlementRecord, _ time.Duration) { settled = append(settled, rec) }

	rec, err := e.Settle(context.Background(), "M1", "A")
	if err != nil {
		t.Fatal(err)
	}
	if rec.PayoutTotal != 291 || rec.FeePlatformAmount != 6 || rec.FeeOracleAmount != 3 || rec.TotalPool != 300 {
		t.Errorf("record = %+v", rec)
	}
	bets, _ := store.GetBetsForMarket(context.Background(), "M1")
	for _, b := range bets {
		switch b.Outcome {
		case "A":
			if b.Status != ledger.BetWon || b.Payout != 291 {
				t.Errorf("winner = %+v", b)
			}
		default:
			if b.Status != ledger.BetLost || b.Payout != 0 {
				t.Errorf("loser = %+v", b)
			}
		}
	}
	m, _ := store.GetMarket(context.Background(), "M1")
	if m.Status != ledger.StatusSettled || len(settled) != 1 {
		t.Errorf("status=%s hooks=%d", m.Status, len(settled))
	}
}

func TestSettle_Idempotent(t *testing.T) {
	store := ledger.NewMemory()
	seed(t, store, true)
	e := newEngine(store)
	ctx := context.Background()

	first, err := e.Settle(ctx, "M1", "A")
	if err != nil {
		t.Fatal(err)
	}
	betsBefore, _ := store.GetBetsForMarket(ctx, "M1")

	clock = clock.Add(time.Minute)
	defer func() { clock = clock.Add(-time.Minute) }()
	second, err := e.Settle(ctx, "M1", "A")
	if err != nil {
		t.Fatal(err)
	}
	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if string(a) != string(b) {
		t.Errorf("records differ:\n%s\n%s", a, b)
	}
	betsAfter, _ := store.GetBetsForMarket(ctx, "M1")
	if !reflect.DeepEqual(betsBefore, betsAfter) {
		t.Error("second settle touched bets")
	}

	if _, err := e.Settle(ctx, "M1", "B"); !errors.Is(err, ledger.ErrMarketSettled) {
		t.Errorf("different outcome: %v", err)
	}
	if _, err := e.Void(ctx, "M1", "late"); !errors.Is(err, ledger.ErrMarketSettled) {
		t.Errorf("void after settle: %v", err)
	}
}

func TestSettle_Preconditions(t *testing.T) {
	store := ledger.NewMemory()
	seed(t, store, false)
	e := newEngine(store)
	ctx := context.Background()

	if _, err := e.Settle(ctx, "M1", "A"); !errors.Is(err, ledger.ErrMarketOpen) {
		t.Errorf("open market: %v", err)
	}
	if _, err := e.Settle(ctx, "M1", "Z"); !errors.Is(err, ledger.ErrInvalidOutcome) {
		t.Errorf("invalid outcome: %v", err)
	}
	if _, err := e.Settle(ctx, "nope", "A"); !errors.Is(err, ledger.ErrMarketNotFound) {
		t.Errorf("missing market: %v", err)
	}
	m, _ := store.GetMarket(ctx, "M1")
	if m.Status != ledger.StatusOpen {
		t.Errorf("rejected settle mutated market: %s", m.Status)
	}
}

func TestSettle_InProgress(t *testing.T) {
	store := ledger.NewMemory()
	seed(t, store, true)
	e := newEngine(store)
	ctx := context.Background()

	if _, err := store.BeginSettlement(ctx, "M1", ledger.SettlementIntent{WinningOutcome: "A", At: clock}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Settle(ctx, "M1", "A"); !errors.Is(err, ledger.ErrSettlementInProgress) {
		t.Errorf("settle: %v", err)
	}
	if _, err := e.Void(ctx, "M1", "x"); !errors.Is(err, ledger.ErrSettlementInProgress) {
		t.Errorf("void: %v", err)
	}
}

func TestSettle_ConcurrentCallsSettleOnce(t *testing.T) {
	store := ledger.NewMemory()
	seed(t, store, true)
	e := newEngine(store)
	var hooks int
	var mu sync.Mutex
	e.OnSettled = func(ledger.SettlementRecord, time.Duration) { mu.Lock(); hooks++; mu.Unlock() }

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Settle(context.Background(), "M1", "A")
			if err != nil && !errors.Is(err, ledger.ErrSettlementInProgress) {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	if hooks != 1 {
		t.Errorf("settled %d times", hooks)
	}
}

func TestVoid_RefundsEveryStake(t *testing.T) {
	store := ledger.NewMemory()
	seed(t, store, false)
	e := newEngine(store)
	ctx := context.Background()

	rec, err := e.Void(ctx, "M1", "match abandoned")
	if err != nil {
		t.Fatal(err)
	}
	if !rec.Voided || rec.FeePlatformAmount+rec.FeeOracleAmount != 0 || rec.PayoutTotal != 300 {
		t.Errorf("record = %+v", rec)
	}
	bets, _ := store.GetBetsForMarket(ctx, "M1")
	for _, b := range bets {
		if b.Status != ledger.BetVoid || b.Payout != b.Amount {
			t.Errorf("bet = %+v", b)
		}
	}
	again, err := e.Void(ctx, "M1", "match abandoned")
	if err != nil || again != rec {
		t.Errorf("second void: %+v %v", again, err)
	}
	if _, err := e.Settle(ctx, "M1", "A"); !errors.Is(err, ledger.ErrMarketVoided) {
		t.Errorf("settle after void: %v", err)
	}
}

func TestSettle_FixedOddsFundedByTreasury(t *testing.T) {
	store := ledger.NewMemory()
	ctx := context.Background()
	_ = store.CreateMarket(ctx, ledger.Market{
		ID: "champ", Kind: ledger.MarketChampionship, Pricing: ledger.PricingFixed, Status: ledger.StatusOpen,
		Outcomes:  []string{"Brazil", "Germany"},
		FixedOdds: map[string]decimal.Decimal{"Brazil": decimal.RequireFromString("4.5"), "Germany": decimal.NewFromInt(5)},
		Pools:     map[string]int64{}, FeePlatformBps: 200, FeeOracleBps: 100,
		OpenTime: clock.Add(-time.Hour), CloseTime: clock.Add(time.Hour),
	})
	q := func(ledger.Market, string, int64) (ledger.Quote, error) {
		return ledger.Quote{Odds: decimal.RequireFromString("4.5"), PotentialPayout: 174}, nil
	}
	b, _, _ := store.RecordBet(ctx, ledger.BetDraft{MarketID: "champ", Outcome: "Brazil", Bettor: "0xa", Amount: 40, PlacedAt: clock}, q)
	_, _ = store.LockMarket(ctx, "champ", clock)

	e := newEngine(store)
	if _, err := e.Settle(ctx, "champ", "Brazil"); !errors.Is(err, ledger.ErrInternal) {
		t.Fatalf("settle without treasury: %v", err)
	}

	tr := &fakeTreasury{fail: errors.New("treasury offline")}
	e.Treasury = tr
	if _, err := e.Recover(ctx, "champ"); err == nil {
		t.Fatal("expected treasury failure")
	}
	got, _ := store.GetBet(ctx, b.ID)
	if got.Status != ledger.BetOpen {
		t.Errorf("bet resolved despite funding failure: %s", got.Status)
	}

	tr.fail = nil
	rec, err := e.Recover(ctx, "champ")
	if err != nil {
		t.Fatal(err)
	}
	if rec.PayoutTotal != 174 || rec.TreasuryDelta != 140 {
		t.Errorf("record = %+v", rec)
	}
	if tr.funds["settle:champ"] != 140 {
		t.Errorf("treasury funds = %v", tr.funds)
	}
	got, _ = store.GetBet(ctx, b.ID)
	if got.Status != ledger.BetWon || got.Payout != 174 {
		t.Errorf("bet = %+v", got)
	}
}

func TestRecoverStale_AfterApplyFailure(t *testing.T) {
	store := &flakyStore{Memory: ledger.NewMemory(), failApply: 1}
	seed(t, store, true)
	e := newEngine(store)
	ctx := context.Background()

	if _, err := e.Settle(ctx, "M1", "A"); err == nil {
		t.Fatal("expected apply failure")
	}
	m, _ := store.GetMarket(ctx, "M1")
	if m.Status != ledger.StatusSettling {
		t.Fatalf("status = %s, want settling", m.Status)
	}
	bets, _ := store.GetBetsForMarket(ctx, "M1")
	for _, b := range bets {
		if b.Status != ledger.BetOpen {
			t.Fatalf("partial payout visible: %+v", b)
		}
	}

	// ainda não é stale
	if n, err := e.RecoverStale(ctx, time.Minute); err != nil || n != 0 {
		t.Fatalf("fresh sweep: n=%d err=%v", n, err)
	}

	var recovered []string
	e.OnRecovered = func(id string) { recovered = append(recovered, id) }
	e.Now = func() time.Time { return clock.Add(10 * time.Minute) }
	n, err := e.RecoverStale(ctx, time.Minute)
	if err != nil || n != 1 {
		t.Fatalf("sweep: n=%d err=%v", n, err)
	}
	rec, _ := store.GetSettlement(ctx, "M1")
	if rec.PayoutTotal != 291 || !rec.SettledAt.Equal(clock) {
		t.Errorf("record = %+v", rec)
	}
	if len(recovered) != 1 || recovered[0] != "M1" {
		t.Errorf("recovered = %v", recovered)
	}
}

type heldLocker struct{ held map[string]bool }

func (l heldLocker) Acquire(_ context.Context, key string, _ time.Duration) (func(), bool, error) {
	if l.held[key] {
		return nil, false, nil
	}
	return func() {}, true, nil
}

func TestRecoverStale_SkipsLeasedMarkets(t *testing.T) {
	store := ledger.NewMemory()
	seed(t, store, true)
	ctx := context.Background()
	_, _ = store.BeginSettlement(ctx, "M1", ledger.SettlementIntent{WinningOutcome: "A", At: clock.Add(-time.Hour)})

	e := newEngine(store)
	e.Locker = heldLocker{held: map[string]bool{"settlement:recover:M1": true}}
	if n, err := e.RecoverStale(ctx, time.Minute); err != nil || n != 0 {
		t.Errorf("n=%d err=%v", n, err)
	}
	m, _ := store.GetMarket(ctx, "M1")
	if m.Status != ledger.StatusSettling {
		t.Errorf("status = %s", m.Status)
	}
}

func TestMarkPaid(t *testing.T) {
	store := ledger.NewMemory()
	seed(t, store, true)
	e := newEngine(store)
	ctx := context.Background()
	_, _ = e.Settle(ctx, "M1", "A")

	bets, _ := store.GetBetsForUser(ctx, "0xA")
	b, err := e.MarkPaid(ctx, bets[0].ID)
	if err != nil || b.Status != ledger.BetPaid || b.Result != ledger.BetWon {
		t.Errorf("bet=%+v err=%v", b, err)
	}
	if _, err := e.MarkPaid(ctx, bets[0].ID); !errors.Is(err, ledger.ErrConflict) {
		t.Errorf("double pay: %v", err)
	}
}

func TestTreasuryClient(t *testing.T) {
	var got settlement.FundRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/treasury/fund" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(settlement.FundResponse{FundingID: "f1", Status: "FUNDED"})
	}))
	defer srv.Close()

	c := settlement.NewTreasuryClient(srv.URL)
	if err := c.Fund(context.Background(), "settle:champ", 140); err != nil {
		t.Fatal(err)
	}
	if got.ExternalRef != "settle:champ" || got.Amount != 140 {
		t.Errorf("request = %+v", got)
	}

	bad := settlement.NewTreasuryClient(srv.URL + "/missing")
	if err := bad.Fund(context.Background(), "x", 1); err == nil {
		t.Error("expected error on 404")
	}
}

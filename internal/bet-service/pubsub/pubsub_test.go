package pubsub_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/radieske/cup-betting-engine/internal/bet-service/pubsub"
	"github.com/radieske/cup-betting-engine/internal/ledger"
)

type fakeBroadcaster struct {
	channel string
	payload []byte
}

func (f *fakeBroadcaster) Publish(_ context.Context, channel string, payload []byte) error {
	f.channel, f.payload = channel, payload
	return nil
}

type fakeCache struct {
	invalidated []string
	err         error
}

func (f *fakeCache) Invalidate(_ context.Context, id string) error {
	f.invalidated = append(f.invalidated, id)
	return f.err
}

func sampleMarket() ledger.Market {
	return ledger.Market{
		ID: "m1", Kind: ledger.MarketMatch, Pricing: ledger.PricingParimutuel, Status: ledger.StatusOpen,
		Outcomes: []string{"A", "draw", "B"},
		Pools:    map[string]int64{"A": 100, "draw": 0, "B": 300},
	}
}

func TestPoolChangedInvalidatesAndPublishes(t *testing.T) {
	c := &fakeCache{}
	b := &fakeBroadcaster{}
	n := pubsub.NewNotifier(c, b, "")

	if err := n.PoolChanged(context.Background(), sampleMarket()); err != nil {
		t.Fatal(err)
	}
	if len(c.invalidated) != 1 || c.invalidated[0] != "m1" {
		t.Fatalf("invalidated = %v", c.invalidated)
	}
	if b.channel != pubsub.ChannelPoolsBroadcast {
		t.Fatalf("channel = %s", b.channel)
	}
	var got struct {
		MarketID string `json:"marketId"`
		Type     string `json:"type"`
		Payload  struct {
			TotalPool int64 `json:"total_pool"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(b.payload, &got); err != nil {
		t.Fatal(err)
	}
	if got.MarketID != "m1" || got.Type != "pools" || got.Payload.TotalPool != 400 {
		t.Fatalf("update = %+v", got)
	}
}

func TestCacheFailureStillPublishes(t *testing.T) {
	c := &fakeCache{err: errors.New("redis down")}
	b := &fakeBroadcaster{}
	n := pubsub.NewNotifier(c, b, "pools")

	if err := n.PoolChanged(context.Background(), sampleMarket()); err == nil {
		t.Fatal("expected cache error to surface")
	}
	if b.payload == nil {
		t.Fatal("broadcast skipped after cache failure")
	}
}

package pubsub

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/radieske/cup-betting-engine/internal/bet-service/dto"
	"github.com/radieske/cup-betting-engine/internal/ledger"
)

const ChannelPoolsBroadcast = "market_pools_broadcast"

// WSUpdate é o payload padrão entregue aos clientes do hub
type WSUpdate struct {
	MarketID string `json:"marketId"`
	Type     string `json:"type"` // pools | status
	Payload  any    `json:"payload"`
}

type Broadcaster interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

type RedisBroadcaster struct {
	r *redis.Client
}

func NewRedisBroadcaster(r *redis.Client) *RedisBroadcaster {
	return &RedisBroadcaster{r: r}
}

func (b *RedisBroadcaster) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.r.Publish(ctx, channel, payload).Err()
}

type Invalidator interface {
	Invalidate(ctx context.Context, marketID string) error
}

// Notifier invalida o cache do mercado e publica os pools novos para o hub
type Notifier struct {
	Cache       Invalidator // opcional
	Broadcaster Broadcaster
	Channel     string
}

func NewNotifier(c Invalidator, b Broadcaster, channel string) *Notifier {
	if channel == "" {
		channel = ChannelPoolsBroadcast
	}
	return &Notifier{Cache: c, Broadcaster: b, Channel: channel}
}

// PoolChanged satisfaz betting.PoolNotifier
func (n *Notifier) PoolChanged(ctx context.Context, m ledger.Market) error {
	return n.notify(ctx, m, "pools")
}

// StatusChanged é usado nas transições de lock/liquidação
func (n *Notifier) StatusChanged(ctx context.Context, m ledger.Market) error {
	return n.notify(ctx, m, "status")
}

func (n *Notifier) notify(ctx context.Context, m ledger.Market, typ string) error {
	var errs []error
	if n.Cache != nil {
		if err := n.Cache.Invalidate(ctx, m.ID); err != nil {
			errs = append(errs, err)
		}
	}
	if n.Broadcaster != nil {
		b, err := json.Marshal(WSUpdate{MarketID: m.ID, Type: typ, Payload: dto.NewMarketView(m)})
		if err != nil {
			return err
		}
		if err := n.Broadcaster.Publish(ctx, n.Channel, b); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

package ws

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StartRedisSubscriber escuta o canal Redis Pub/Sub e repassa cada atualização ao Hub.
// Todas as réplicas do bet-service recebem, então cada uma entrega aos seus próprios clientes.
func StartRedisSubscriber(ctx context.Context, r *redis.Client, channel string, hub *Hub, log *zap.Logger) {
	sub := r.Subscribe(ctx, channel)
	ch := sub.Channel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close() // encerra a inscrição ao finalizar o contexto
				return
			case msg := <-ch:
				if msg == nil {
					continue
				}
				var upd MarketUpdate
				if err := json.Unmarshal([]byte(msg.Payload), &upd); err != nil {
					log.Warn("ws subscriber unmarshal", zap.Error(err))
					continue
				}
				hub.Broadcast(upd)
			}
		}
	}()
}

// LocalBroadcaster entrega direto no Hub, sem Redis (ENV=local).
// Satisfaz pubsub.Broadcaster.
type LocalBroadcaster struct {
	Hub *Hub
}

func (l LocalBroadcaster) Publish(_ context.Context, _ string, payload []byte) error {
	var upd MarketUpdate
	if err := json.Unmarshal(payload, &upd); err != nil {
		return err
	}
	l.Hub.Broadcast(upd)
	return nil
}

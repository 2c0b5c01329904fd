package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// MarketCache guarda a visão pública dos mercados com TTL curto.
// A fonte da verdade é sempre o ledger; o cache é invalidado a cada aposta.
type MarketCache struct {
	R   *redis.Client
	TTL time.Duration
}

func New(r *redis.Client, ttl time.Duration) *MarketCache { return &MarketCache{R: r, TTL: ttl} }

func keyMarket(id string) string { return "market:view:" + id }

func (c *MarketCache) Get(ctx context.Context, id string, dst any) (bool, error) {
	b, err := c.R.Get(ctx, keyMarket(id)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(b, dst)
}

func (c *MarketCache) Set(ctx context.Context, id string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.R.Set(ctx, keyMarket(id), b, c.TTL).Err()
}

func (c *MarketCache) Invalidate(ctx context.Context, id string) error {
	return c.R.Del(ctx, keyMarket(id)).Err()
}

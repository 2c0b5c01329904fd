package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockScript só apaga a chave se o valor ainda for o do dono
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Locker é um lease simples via SET NX com TTL
type Locker struct {
	R *redis.Client
}

func NewLocker(r *redis.Client) *Locker { return &Locker{R: r} }

func lockKey(key string) string { return "lock:" + key }

// Acquire devolve ok=false quando outra réplica já segura a chave
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	owner := uuid.NewString()
	ok, err := l.R.SetNX(ctx, lockKey(key), owner, ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}
	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = unlockScript.Run(ctx, l.R, []string{lockKey(key)}, owner).Err()
	}
	return release, true, nil
}

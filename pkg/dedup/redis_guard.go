package dedup

import (
	"context"
	"time"

	"github.com/zeromicro/go-zero/core/stores/redis"
)

const defaultGuardTTL = 2 * time.Minute

// RedisGuard claims dedup keys with SET NX so that several scanner processes
// sharing one database do not race on the same key. A claim left behind by a
// crashed process lapses after ttl.
type RedisGuard struct {
	rds     *redis.Redis
	keyFunc func(Key) string
	ttl     time.Duration
}

// NewRedisGuard returns a guard storing claims under keyFunc(key) for ttl.
func NewRedisGuard(rds *redis.Redis, keyFunc func(Key) string, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = defaultGuardTTL
	}
	if keyFunc == nil {
		keyFunc = func(k Key) string { return "dedup:" + k.String() }
	}
	return &RedisGuard{rds: rds, keyFunc: keyFunc, ttl: ttl}
}

// Claim sets the guard key when absent.
func (g *RedisGuard) Claim(ctx context.Context, key Key) (bool, error) {
	return g.rds.SetnxExCtx(ctx, g.keyFunc(key), "1", int(g.ttl/time.Second))
}

// Release removes the guard key.
func (g *RedisGuard) Release(ctx context.Context, key Key) error {
	_, err := g.rds.DelCtx(ctx, g.keyFunc(key))
	return err
}

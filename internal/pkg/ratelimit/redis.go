package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter shares fixed-window counters across instances. The window
// starts with the first INCR of a key; EXPIRE NX never extends it.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLimiter creates a limiter storing counters under prefix.
func NewRedisLimiter(client redis.UniversalClient, prefix string) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: prefix}
}

func (l *RedisLimiter) CheckAndConsume(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	fullKey := l.prefix + key

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, fullKey)
		pipe.ExpireNX(ctx, fullKey, window)
		return nil
	})
	if err != nil {
		return false, err
	}
	return incr.Val() <= int64(limit), nil
}

package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter shares fixed windows across instances using INCR + PEXPIRE.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLimiter creates a limiter; keyPrefix namespaces keys (e.g. "notes:").
func NewRedisLimiter(client redis.UniversalClient, keyPrefix string) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: keyPrefix + "rl:"}
}

// Check implements Limiter.
func (l *RedisLimiter) Check(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	k := l.prefix + key

	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := l.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		ttl = p.PTTL(ctx, k)
		return nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: redis check: %w", err)
	}

	remaining := ttl.Val()
	if remaining < 0 {
		// First hit of a window (or a key that lost its expiry): start the window.
		if err := l.client.PExpire(ctx, k, window).Err(); err != nil {
			return Decision{}, fmt.Errorf("ratelimit: redis expire: %w", err)
		}
		remaining = window
	}

	if incr.Val() > int64(limit) {
		return Decision{Allowed: false, RetryAfter: retryAfter(remaining)}, nil
	}
	return Decision{Allowed: true}, nil
}

// Reset forgets the window for key.
func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	return l.client.Del(ctx, l.prefix+key).Err()
}

package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// RedisLimiter shares attempt counts through Redis (GCRA via redis_rate),
// so limits hold across any number of server instances.
type RedisLimiter struct {
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
	prefix  string
}

// NewRedisLimiter allows max attempts per key in each window. Keys are
// namespaced with prefix.
func NewRedisLimiter(client redis.UniversalClient, prefix string, max int, win time.Duration) *RedisLimiter {
	return &RedisLimiter{
		limiter: redis_rate.NewLimiter(client),
		limit:   redis_rate.Limit{Rate: max, Burst: max, Period: win},
		prefix:  prefix,
	}
}

var _ Limiter = (*RedisLimiter)(nil)

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	res, err := l.limiter.Allow(ctx, l.prefix+key, l.limit)
	if err != nil {
		return Decision{}, fmt.Errorf("redis limiter: %w", err)
	}
	d := Decision{
		Allowed:   res.Allowed > 0,
		Remaining: res.Remaining,
	}
	if !d.Allowed {
		d.RetryAfter = res.RetryAfter
	}
	return d, nil
}

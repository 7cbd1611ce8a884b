package httpmiddleware

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const rateLimitKeyPrefix = "ratelimit:"

// RedisLimiter is a fixed window Limiter shared by every replica through
// Redis.
type RedisLimiter struct {
	client redis.UniversalClient
	max    int
	size   time.Duration
}

// NewRedisLimiter allows limit requests per size for each key.
func NewRedisLimiter(client redis.UniversalClient, limit int, size time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, max: limit, size: size}
}

// Allow implements Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, key string, now time.Time) (Decision, error) {
	start := now.Truncate(l.size)
	k := rateLimitKeyPrefix + key + ":" + start.Format("20060102T150405")

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.ExpireNX(ctx, k, l.size+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, err
	}

	n := int(incr.Val())
	return Decision{
		Allowed:   n <= l.max,
		Remaining: max(l.max-n, 0),
		ResetAt:   start.Add(l.size),
	}, nil
}

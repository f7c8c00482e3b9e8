package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "threatwatch:ratelimit:"

// RedisLimiter is a fixed-window counter shared by every replica pointing at
// the same Redis. Each window gets its own key, incremented per request and
// expired when the window closes.
type RedisLimiter struct {
	client redis.UniversalClient
	now    func() time.Time
}

// NewRedisClient parses a redis:// URL and returns a client
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

// NewRedisLimiter wraps an existing client
func NewRedisLimiter(client redis.UniversalClient) *RedisLimiter {
	return &RedisLimiter{client: client, now: time.Now}
}

// Allow implements Limiter
func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	if limit <= 0 || window <= 0 {
		return Result{Allowed: true, Limit: limit}, nil
	}

	now := l.now()
	slot := now.UnixNano() / int64(window)
	windowEnd := time.Unix(0, (slot+1)*int64(window))
	redisKey := fmt.Sprintf("%s%s:%d", keyPrefix, key, slot)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}

	count := int(incr.Val())
	res := Result{Limit: limit, Remaining: limit - count}
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	if count <= limit {
		res.Allowed = true
		return res, nil
	}
	res.RetryAfter = windowEnd.Sub(now)
	return res, nil
}

// Ping checks connectivity
func (l *RedisLimiter) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

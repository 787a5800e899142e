package rateLimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robertarktes/performance-ticketing/internal/observability"
)

// RateLimiter is a fixed-window counter per key.
type RateLimiter struct {
	client *redis.Client
	log    observability.Logger
}

func NewRateLimiter(client *redis.Client, log observability.Logger) *RateLimiter {
	return &RateLimiter{client: client, log: log}
}

// Allow fails open: when Redis cannot be reached the request goes through.
func (rl *RateLimiter) Allow(ctx context.Context, key string, rate int, period time.Duration) bool {
	fullKey := "rl:" + key

	pipe := rl.client.Pipeline()
	incr := pipe.Incr(ctx, fullKey)
	pipe.ExpireNX(ctx, fullKey, period)

	_, err := pipe.Exec(ctx)
	if err != nil {
		rl.log.WithError(err).WithField("key", key).Warn("rate limiter unavailable")
		return true
	}

	if incr.Val() > int64(rate) {
		observability.RateLimitExceeded.Inc()
		return false
	}
	return true
}

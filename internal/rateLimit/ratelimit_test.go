package rateLimit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/robertarktes/performance-ticketing/internal/observability"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
)

func TestAllowCountsPerWindow(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer client.Close()

	log, _ := test.NewNullLogger()
	rl := NewRateLimiter(client, observability.NewLoggerFrom(log))
	key := "test:" + uuid.NewString()
	defer client.Del(context.Background(), "rl:"+key)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow(context.Background(), key, 3, time.Minute))
	}
	assert.False(t, rl.Allow(context.Background(), key, 3, time.Minute))
}

func TestAllowFailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer client.Close()

	log, hook := test.NewNullLogger()
	rl := NewRateLimiter(client, observability.NewLoggerFrom(log))
	assert.True(t, rl.Allow(context.Background(), "k", 1, time.Minute))
	assert.NotEmpty(t, hook.AllEntries())
}

package service

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiter(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	limiter := NewMemoryLimiter(clock.Now)

	t.Run("allows requests within limit", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			allowed, _ := limiter.CheckLimit(ctx, "a", 3, time.Minute)
			assert.True(t, allowed, "Request %d should be allowed", i+1)
		}
		allowed, resetAt := limiter.CheckLimit(ctx, "a", 3, time.Minute)
		assert.False(t, allowed)
		assert.Equal(t, clock.Now().Add(time.Minute), resetAt)
	})

	t.Run("keys are independent", func(t *testing.T) {
		allowed, _ := limiter.CheckLimit(ctx, "b", 3, time.Minute)
		assert.True(t, allowed)
	})

	t.Run("window slides", func(t *testing.T) {
		clock.Advance(61 * time.Second)
		allowed, _ := limiter.CheckLimit(ctx, "a", 3, time.Minute)
		assert.True(t, allowed)
	})

	t.Run("stale entries are evicted", func(t *testing.T) {
		clock.Advance(10 * time.Minute)
		limiter.CheckLimit(ctx, "c", 3, time.Minute)
		limiter.mu.Lock()
		defer limiter.mu.Unlock()
		assert.NotContains(t, limiter.store, "b")
		assert.Contains(t, limiter.store, "c")
	})
}

func TestRedisLimiter(t *testing.T) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		t.Skip("REDIS_URL not set")
	}
	opts, err := redis.ParseURL(redisURL)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	defer client.Close()

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available for testing")
	}
	key := "test:" + time.Now().Format(time.RFC3339Nano)
	defer client.Del(ctx, "ratelimit:"+key)

	limiter := NewRedisLimiter(client)
	for i := 0; i < 2; i++ {
		allowed, _ := limiter.CheckLimit(ctx, key, 2, 10*time.Second)
		assert.True(t, allowed)
	}
	allowed, resetAt := limiter.CheckLimit(ctx, key, 2, 10*time.Second)
	assert.False(t, allowed)
	assert.True(t, resetAt.After(time.Now().Add(-time.Second)))
}

package main

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arinzecomie/livechat-relay/internal/config"
	"github.com/arinzecomie/livechat-relay/internal/store"
)

func TestRateLimitRedisFallsBackToLocal(t *testing.T) {
	ctx := context.Background()
	logger := zerolog.Nop()

	t.Run("no redis configured", func(t *testing.T) {
		cfg := &config.Config{StoreTimeout: time.Second}
		rs, owned := rateLimitRedis(ctx, cfg, store.NewMemoryStore(), logger)
		assert.Nil(t, rs)
		assert.False(t, owned)

		mw, release := newRateLimiter(ctx, cfg, store.NewMemoryStore(), logger)
		require.NotNil(t, mw)
		release()
		release()
	})

	t.Run("redis unreachable", func(t *testing.T) {
		cfg := &config.Config{RedisURL: "redis://127.0.0.1:1/0", StoreTimeout: 500 * time.Millisecond}
		rs, owned := rateLimitRedis(ctx, cfg, store.NewMemoryStore(), logger)
		assert.Nil(t, rs)
		assert.False(t, owned)
	})
}

// TEST_REDIS_URL points at a disposable Redis, e.g. redis://localhost:6379/15.
func TestRateLimitRedisOwnership(t *testing.T) {
	redisURL := os.Getenv("TEST_REDIS_URL")
	if redisURL == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	logger := zerolog.Nop()
	cfg := &config.Config{RedisURL: redisURL, StoreTimeout: 2 * time.Second}

	dedicated, owned := rateLimitRedis(ctx, cfg, store.NewMemoryStore(), logger)
	require.NotNil(t, dedicated)
	assert.True(t, owned, "a connection opened for rate limiting belongs to the caller")
	dedicated.Close()
	assert.Error(t, dedicated.Ping(ctx), "closed connections stop answering")

	shared, err := store.NewRedisStore(ctx, redisURL)
	require.NoError(t, err)
	defer shared.Close()
	rs, owned := rateLimitRedis(ctx, cfg, shared, logger)
	assert.Same(t, shared, rs)
	assert.False(t, owned, "the message store is closed by its own owner")

	_, release := newRateLimiter(ctx, cfg, shared, logger)
	release()
	assert.NoError(t, shared.Ping(ctx))
}

package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hedon954/ratelimit/ratelimiter"
)

var baseTime = time.Date(2022, 5, 10, 9, 15, 0, 0, time.UTC)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	client := goredis.NewClient(&goredis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return server, client
}

func TestRedisTokenBucket_Check(t *testing.T) {
	server, client := newTestClient(t)

	now := baseTime
	limiter, err := NewTokenBucket(client, ratelimiter.Config{Capacity: 3, RefillRate: 0.5},
		WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	ctx := context.Background()

	for want := uint64(2); ; want-- {
		d, err := limiter.Allow(ctx, "user")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, want, d.Remaining)
		if want == 0 {
			break
		}
	}

	// empty bucket: one permit refills in 1/0.5 = 2s
	d, err := limiter.Allow(ctx, "user")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 2*time.Second, d.RetryAfter)

	now = now.Add(2 * time.Second)
	server.FastForward(2 * time.Second)

	d, err = limiter.Allow(ctx, "user")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, uint64(0), d.Remaining)

	d, err = limiter.Allow(ctx, "user")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestRedisTokenBucket_WeightedCost(t *testing.T) {
	_, client := newTestClient(t)

	limiter, err := NewTokenBucket(client, ratelimiter.Config{Capacity: 10, RefillRate: 2})
	require.NoError(t, err)

	ctx := context.Background()

	d, err := limiter.Check(ctx, "user", 8, baseTime)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, uint64(2), d.Remaining)

	// 4 - 2 = 2 missing permits at 2 permits/s
	d, err = limiter.Check(ctx, "user", 4, baseTime)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Second, d.RetryAfter)
}

func TestRedisTokenBucket_CostAboveCapacity(t *testing.T) {
	_, client := newTestClient(t)

	limiter, err := NewTokenBucket(client, ratelimiter.Config{Capacity: 5, RefillRate: 1})
	require.NoError(t, err)

	ctx := context.Background()

	d, err := limiter.Check(ctx, "user", 6, baseTime)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ratelimiter.RetryAfterUnbounded, d.RetryAfter)
	assert.Equal(t, uint64(5), d.Remaining)

	// nothing was consumed
	d, err = limiter.Check(ctx, "user", 5, baseTime)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestRedisTokenBucket_InvalidCost(t *testing.T) {
	_, client := newTestClient(t)

	limiter, err := NewTokenBucket(client, ratelimiter.Config{Capacity: 1, RefillRate: 1})
	require.NoError(t, err)

	_, err = limiter.Check(context.Background(), "user", 0, baseTime)
	assert.ErrorIs(t, err, ratelimiter.ErrInvalidCost)
}

func TestRedisTokenBucket_PeekDoesNotConsume(t *testing.T) {
	_, client := newTestClient(t)

	limiter, err := NewTokenBucket(client, ratelimiter.Config{Capacity: 2, RefillRate: 1})
	require.NoError(t, err)

	ctx := context.Background()

	// peeking an untouched key reads a full bucket
	d, err := limiter.Peek(ctx, "user", baseTime)
	require.NoError(t, err)
	assert.Equal(t, ratelimiter.Decision{Allowed: true, Remaining: 1}, d)

	_, err = limiter.Check(ctx, "user", 2, baseTime)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		d, err = limiter.Peek(ctx, "user", baseTime)
		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Equal(t, time.Second, d.RetryAfter)
	}
}

func TestRedisTokenBucket_Reset(t *testing.T) {
	_, client := newTestClient(t)

	limiter, err := NewTokenBucket(client, ratelimiter.Config{Capacity: 1, RefillRate: 0.5})
	require.NoError(t, err)

	ctx := context.Background()

	d, err := limiter.Check(ctx, "user", 1, baseTime)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	require.NoError(t, limiter.Reset(ctx, "user"))

	d, err = limiter.Check(ctx, "user", 1, baseTime)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestRedisTokenBucket_StateUnavailable(t *testing.T) {
	server, client := newTestClient(t)

	limiter, err := NewTokenBucket(client, ratelimiter.Config{Capacity: 1, RefillRate: 1})
	require.NoError(t, err)

	server.Close()

	_, err = limiter.Check(context.Background(), "user", 1, baseTime)
	assert.ErrorIs(t, err, ratelimiter.ErrStateUnavailable)

	_, err = limiter.Peek(context.Background(), "user", baseTime)
	assert.ErrorIs(t, err, ratelimiter.ErrStateUnavailable)
}

func TestRedisTokenBucket_InvalidConfig(t *testing.T) {
	_, client := newTestClient(t)

	_, err := NewTokenBucket(client, ratelimiter.Config{Capacity: 0, RefillRate: 1})
	var cfgErr *ratelimiter.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

package ratelimiter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeakyBucket_Check(t *testing.T) {
	var tests = []struct {
		name  string
		cfg   Config
		steps []step
	}{
		{
			name: "fills to capacity then denies",
			cfg:  Config{Capacity: 5, RefillRate: 1},
			steps: []step{
				{cost: 1, want: Decision{Allowed: true, Remaining: 4}},
				{cost: 1, want: Decision{Allowed: true, Remaining: 3}},
				{cost: 3, want: Decision{Allowed: true, Remaining: 0}},
				{cost: 1, want: Decision{Remaining: 0, RetryAfter: time.Second}},
			},
		},
		{
			name: "leaking restores headroom at the fixed rate",
			cfg:  Config{Capacity: 5, RefillRate: 1},
			steps: []step{
				{cost: 5, want: Decision{Allowed: true, Remaining: 0}},
				{advance: 2 * time.Second, cost: 2, want: Decision{Allowed: true, Remaining: 0}},
				{cost: 1, want: Decision{Remaining: 0, RetryAfter: time.Second}},
			},
		},
		{
			name: "level never leaks below empty",
			cfg:  Config{Capacity: 3, RefillRate: 10},
			steps: []step{
				{cost: 1, want: Decision{Allowed: true, Remaining: 2}},
				// far more leak time than level: the bucket is simply empty
				{advance: time.Hour, cost: 3, want: Decision{Allowed: true, Remaining: 0}},
			},
		},
		{
			name: "cost above capacity can never succeed",
			cfg:  Config{Capacity: 4, RefillRate: 1},
			steps: []step{
				{cost: 5, want: Decision{Remaining: 4, RetryAfter: RetryAfterUnbounded}},
				{cost: 4, want: Decision{Allowed: true, Remaining: 0}},
			},
		},
		{
			name: "weighted overflow waits for the excess to drain",
			cfg:  Config{Capacity: 10, RefillRate: 2},
			steps: []step{
				{cost: 8, want: Decision{Allowed: true, Remaining: 2}},
				// 8 + 6 - 10 = 4 over capacity, at 2 permits/s
				{cost: 6, want: Decision{Remaining: 2, RetryAfter: 2 * time.Second}},
			},
		},
		{
			name: "clock regression counts as zero elapsed time",
			cfg:  Config{Capacity: 2, RefillRate: 1},
			steps: []step{
				{cost: 2, want: Decision{Allowed: true, Remaining: 0}},
				{advance: -time.Minute, cost: 1, want: Decision{Remaining: 0, RetryAfter: time.Second}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter, err := NewLeakyBucket(tt.cfg)
			require.NoError(t, err)
			runSteps(t, limiter, tt.steps)
		})
	}
}

func TestLeakyBucket_DenialDoesNotConsume(t *testing.T) {
	limiter, err := NewLeakyBucket(Config{Capacity: 3, RefillRate: 1})
	require.NoError(t, err)

	_, err = limiter.Check("user", 3, baseTime)
	require.NoError(t, err)

	before := limiter.Peek("user", baseTime)
	denied, err := limiter.Check("user", 1, baseTime)
	require.NoError(t, err)
	require.False(t, denied.Allowed)
	assert.Equal(t, before, limiter.Peek("user", baseTime))
}

func TestLeakyBucket_PeekUntouchedKey(t *testing.T) {
	limiter, err := NewLeakyBucket(Config{Capacity: 4, RefillRate: 1})
	require.NoError(t, err)

	assert.Equal(t, Decision{Allowed: true, Remaining: 3}, limiter.Peek("user", baseTime))
	assert.Equal(t, 0, limiter.EvictIdle(0)) // peek created no state
}

func TestLeakyBucket_Reset(t *testing.T) {
	limiter, err := NewLeakyBucket(Config{Capacity: 1, RefillRate: 0.001})
	require.NoError(t, err)

	d, err := limiter.Check("user", 1, baseTime)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	d, err = limiter.Check("user", 1, baseTime)
	require.NoError(t, err)
	require.False(t, d.Allowed)

	limiter.Reset("user")

	d, err = limiter.Check("user", 1, baseTime)
	assert.NoError(t, err)
	assert.True(t, d.Allowed)
}

package redis

import (
	"context"
	_ "embed"
	"fmt"
	"math"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hedon954/ratelimit/internal/log"
	"github.com/hedon954/ratelimit/ratelimiter"
)

//go:embed token_bucket.lua
var tokenBucketScript string

var tokenBucketLua = goredis.NewScript(tokenBucketScript)

// TokenBucket is the distributed counterpart of ratelimiter.TokenBucket. The
// refill-and-consume cycle runs as one Lua script, so concurrent replicas
// drawing from the same key never double-spend.
//
// Per-key state lives in a Redis hash with fields "tokens" and "lastRefill";
// keys expire once a fully idle bucket would have refilled anyway.
type TokenBucket struct {
	client goredis.Cmdable
	cfg    ratelimiter.Config
	clock  func() time.Time
	prefix string
	ttl    time.Duration
}

// NewTokenBucket creates a Redis-backed token bucket limiter. client may be a
// single client, cluster or sentinel client.
func NewTokenBucket(client goredis.Cmdable, cfg ratelimiter.Config, opts ...Option) (*TokenBucket, error) {
	if err := cfg.Validate(ratelimiter.TokenBucketType); err != nil {
		return nil, err
	}
	o := newOptions(opts)

	// Twice the full-refill time; an expired key reads as a full bucket,
	// which is exactly what the refill would have produced.
	refillSeconds := float64(cfg.Capacity) / cfg.RefillRate
	ttl := time.Duration(math.Ceil(refillSeconds*2)) * time.Second
	if ttl < time.Second {
		ttl = time.Second
	}

	return &TokenBucket{
		client: client,
		cfg:    cfg,
		clock:  o.clock,
		prefix: o.prefix + "token_bucket:",
		ttl:    ttl,
	}, nil
}

func (l *TokenBucket) Type() ratelimiter.Type { return ratelimiter.TokenBucketType }

// Allow is Check with cost 1 at the clock's current time.
func (l *TokenBucket) Allow(ctx context.Context, key string) (ratelimiter.Decision, error) {
	return l.Check(ctx, key, 1, l.clock())
}

// Check decides whether a request consuming cost permits is admitted at
// instant now. The decision and the state update are atomic per key.
func (l *TokenBucket) Check(ctx context.Context, key string, cost uint64, now time.Time) (ratelimiter.Decision, error) {
	if cost == 0 {
		return ratelimiter.Decision{}, ratelimiter.ErrInvalidCost
	}
	if cost > l.cfg.Capacity {
		tokens, err := l.balance(ctx, key, now)
		if err != nil {
			return ratelimiter.Decision{}, err
		}
		return ratelimiter.Decision{
			Remaining:  uint64(tokens),
			RetryAfter: ratelimiter.RetryAfterUnbounded,
		}, nil
	}

	args := []any{
		l.cfg.Capacity,
		l.cfg.RefillRate,
		float64(now.UnixNano()) / float64(time.Second),
		cost,
		int64(l.ttl / time.Second),
	}
	res, err := tokenBucketLua.Run(ctx, l.client, []string{l.prefix + key}, args...).Slice()
	if err != nil {
		log.Logger().Error("token bucket script failed",
			zap.String("key", key), zap.Error(err))
		return ratelimiter.Decision{}, fmt.Errorf("%w: %v", ratelimiter.ErrStateUnavailable, err)
	}
	if len(res) != 3 {
		return ratelimiter.Decision{}, fmt.Errorf("%w: unexpected script reply %v", ratelimiter.ErrStateUnavailable, res)
	}

	allowed, _ := res[0].(int64)
	remaining, _ := res[1].(int64)
	retryMs, _ := res[2].(int64)
	return ratelimiter.Decision{
		Allowed:    allowed == 1,
		Remaining:  uint64(remaining),
		RetryAfter: time.Duration(retryMs) * time.Millisecond,
	}, nil
}

// Peek reads the bucket and reports the decision a cost-1 Check would return
// at instant now, without writing anything.
func (l *TokenBucket) Peek(ctx context.Context, key string, now time.Time) (ratelimiter.Decision, error) {
	tokens, err := l.balance(ctx, key, now)
	if err != nil {
		return ratelimiter.Decision{}, err
	}
	if tokens >= 1 {
		return ratelimiter.Decision{Allowed: true, Remaining: uint64(tokens - 1)}, nil
	}
	return ratelimiter.Decision{
		Remaining:  uint64(tokens),
		RetryAfter: time.Duration((1 - tokens) / l.cfg.RefillRate * float64(time.Second)),
	}, nil
}

// balance reads the token balance at instant now without writing anything. A
// missing or expired key reads as a full bucket.
func (l *TokenBucket) balance(ctx context.Context, key string, now time.Time) (float64, error) {
	capacity := float64(l.cfg.Capacity)

	rec, err := l.client.HMGet(ctx, l.prefix+key, "tokens", "lastRefill").Result()
	if err != nil {
		log.Logger().Error("token bucket read failed",
			zap.String("key", key), zap.Error(err))
		return 0, fmt.Errorf("%w: %v", ratelimiter.ErrStateUnavailable, err)
	}
	if len(rec) != 2 || rec[0] == nil || rec[1] == nil {
		return capacity, nil
	}
	tokensField, ok0 := rec[0].(string)
	lastField, ok1 := rec[1].(string)
	if !ok0 || !ok1 {
		return capacity, nil
	}
	stored, err0 := strconv.ParseFloat(tokensField, 64)
	last, err1 := strconv.ParseFloat(lastField, 64)
	if err0 != nil || err1 != nil {
		return capacity, nil
	}

	elapsed := float64(now.UnixNano())/float64(time.Second) - last
	if elapsed < 0 {
		elapsed = 0
	}
	tokens := stored + elapsed*l.cfg.RefillRate
	if tokens > capacity {
		tokens = capacity
	}
	return tokens, nil
}

// Reset drops the key's bucket.
func (l *TokenBucket) Reset(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, l.prefix+key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ratelimiter.ErrStateUnavailable, err)
	}
	return nil
}

package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hedon954/ratelimit/internal/log"
	"github.com/hedon954/ratelimit/ratelimiter"
)

// SlidingWindowLog is the distributed counterpart of
// ratelimiter.SlidingWindowLog. Every admitted permit becomes a member of a
// sorted set scored by its unix-milli timestamp; members older than the
// trailing window are evicted by score before each decision. Members carry a
// uuid so permits admitted in the same millisecond stay distinct.
type SlidingWindowLog struct {
	client goredis.Cmdable
	cfg    ratelimiter.Config
	clock  func() time.Time
	prefix string
}

// NewSlidingWindowLog creates a Redis-backed sliding window log limiter.
func NewSlidingWindowLog(client goredis.Cmdable, cfg ratelimiter.Config, opts ...Option) (*SlidingWindowLog, error) {
	if err := cfg.Validate(ratelimiter.SlidingWindowLogType); err != nil {
		return nil, err
	}
	o := newOptions(opts)
	return &SlidingWindowLog{
		client: client,
		cfg:    cfg,
		clock:  o.clock,
		prefix: o.prefix + "sliding_window_log:",
	}, nil
}

func (l *SlidingWindowLog) Type() ratelimiter.Type { return ratelimiter.SlidingWindowLogType }

// Allow is Check with cost 1 at the clock's current time.
func (l *SlidingWindowLog) Allow(ctx context.Context, key string) (ratelimiter.Decision, error) {
	return l.Check(ctx, key, 1, l.clock())
}

// Check decides whether a request consuming cost permits is admitted at
// instant now. A denied check adds nothing to the set.
func (l *SlidingWindowLog) Check(ctx context.Context, key string, cost uint64, now time.Time) (ratelimiter.Decision, error) {
	if cost == 0 {
		return ratelimiter.Decision{}, ratelimiter.ErrInvalidCost
	}
	k := l.prefix + key
	threshold := now.Add(-l.cfg.Window).UnixMilli()

	// Evict entries that left the window, then count what is live.
	p := l.client.Pipeline()
	p.ZRemRangeByScore(ctx, k, "-inf", "("+strconv.FormatInt(threshold, 10))
	countCmd := p.ZCard(ctx, k)
	if _, err := p.Exec(ctx); err != nil {
		log.Logger().Error("sliding window log eviction failed",
			zap.String("key", key), zap.Error(err))
		return ratelimiter.Decision{}, fmt.Errorf("%w: %v", ratelimiter.ErrStateUnavailable, err)
	}
	count := uint64(countCmd.Val())
	remaining := saturatingSub(l.cfg.Capacity, count)

	if cost > l.cfg.Capacity {
		return ratelimiter.Decision{Remaining: remaining, RetryAfter: ratelimiter.RetryAfterUnbounded}, nil
	}

	if count+cost <= l.cfg.Capacity {
		members := make([]goredis.Z, cost)
		score := float64(now.UnixMilli())
		for i := range members {
			members[i] = goredis.Z{Score: score, Member: uuid.NewString()}
		}
		p = l.client.Pipeline()
		p.ZAdd(ctx, k, members...)
		p.Expire(ctx, k, l.cfg.Window+time.Second)
		if _, err := p.Exec(ctx); err != nil {
			log.Logger().Error("sliding window log insert failed",
				zap.String("key", key), zap.Error(err))
			return ratelimiter.Decision{}, fmt.Errorf("%w: %v", ratelimiter.ErrStateUnavailable, err)
		}
		return ratelimiter.Decision{Allowed: true, Remaining: remaining - cost}, nil
	}

	retry, err := l.oldestExpiry(ctx, k, now)
	if err != nil {
		return ratelimiter.Decision{}, err
	}
	return ratelimiter.Decision{Remaining: remaining, RetryAfter: retry}, nil
}

// Peek counts the live entries and reports the decision a cost-1 Check would
// return at instant now, without evicting or adding anything.
func (l *SlidingWindowLog) Peek(ctx context.Context, key string, now time.Time) (ratelimiter.Decision, error) {
	k := l.prefix + key
	threshold := strconv.FormatInt(now.Add(-l.cfg.Window).UnixMilli(), 10)

	count, err := l.client.ZCount(ctx, k, threshold, "+inf").Uint64()
	if err != nil {
		log.Logger().Error("sliding window log count failed",
			zap.String("key", key), zap.Error(err))
		return ratelimiter.Decision{}, fmt.Errorf("%w: %v", ratelimiter.ErrStateUnavailable, err)
	}
	if count+1 <= l.cfg.Capacity {
		return ratelimiter.Decision{Allowed: true, Remaining: l.cfg.Capacity - count - 1}, nil
	}

	retry, err := l.oldestExpiry(ctx, k, now)
	if err != nil {
		return ratelimiter.Decision{}, err
	}
	return ratelimiter.Decision{
		Remaining:  saturatingSub(l.cfg.Capacity, count),
		RetryAfter: retry,
	}, nil
}

// Reset drops the key's log.
func (l *SlidingWindowLog) Reset(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, l.prefix+key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ratelimiter.ErrStateUnavailable, err)
	}
	return nil
}

// oldestExpiry is the wait until the oldest live entry leaves the window.
func (l *SlidingWindowLog) oldestExpiry(ctx context.Context, k string, now time.Time) (time.Duration, error) {
	zs, err := l.client.ZRangeWithScores(ctx, k, 0, 0).Result()
	if err != nil {
		log.Logger().Error("sliding window log oldest lookup failed",
			zap.String("key", k), zap.Error(err))
		return 0, fmt.Errorf("%w: %v", ratelimiter.ErrStateUnavailable, err)
	}
	if len(zs) == 0 {
		return 0, nil
	}
	retry := time.UnixMilli(int64(zs[0].Score)).Add(l.cfg.Window).Sub(now)
	if retry < 0 {
		retry = 0
	}
	return retry, nil
}

func saturatingSub(a, b uint64) uint64 {
	if b >= a {
		return 0
	}
	return a - b
}

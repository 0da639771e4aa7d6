package ratelimiter

import "time"

// leakyBucketState is the per-key state of the leaky bucket. level stays in
// [0, capacity].
type leakyBucketState struct {
	level    float64
	lastLeak time.Time
}

// LeakyBucket smooths traffic through a bucket that drains at a fixed rate.
// Unlike the token bucket it models a fixed-rate outflow rather than an
// accumulating permit pool: a request is admitted when there is headroom
// below Capacity for its cost, and the level leaks away at RefillRate per
// second.
type LeakyBucket struct {
	cfg   Config
	clock func() time.Time
	store Store[leakyBucketState]
}

// NewLeakyBucket creates a leaky bucket limiter with the given leak rate and
// capacity. A key starts with an empty bucket on first access.
func NewLeakyBucket(cfg Config, opts ...Option) (*LeakyBucket, error) {
	if err := cfg.Validate(LeakyBucketType); err != nil {
		return nil, err
	}
	o := newOptions(opts)
	return &LeakyBucket{
		cfg:   cfg,
		clock: o.clock,
		store: newShardedStore(o.shardCount, func(now time.Time) leakyBucketState {
			return leakyBucketState{lastLeak: now}
		}),
	}, nil
}

func (l *LeakyBucket) Type() Type { return LeakyBucketType }

// Allow is Check with cost 1 at the clock's current time.
func (l *LeakyBucket) Allow(key string) (Decision, error) {
	return l.Check(key, 1, l.clock())
}

// AllowN is Check with the given cost at the clock's current time.
func (l *LeakyBucket) AllowN(key string, cost uint64) (Decision, error) {
	return l.Check(key, cost, l.clock())
}

func (l *LeakyBucket) Check(key string, cost uint64, now time.Time) (Decision, error) {
	if cost == 0 {
		return Decision{}, ErrInvalidCost
	}
	capacity := float64(l.cfg.Capacity)
	var d Decision
	l.store.Update(key, now, func(st *leakyBucketState) {
		st.level = l.leaked(st, now)
		if now.After(st.lastLeak) {
			st.lastLeak = now
		}

		headroom := uint64(capacity - st.level)
		if cost > l.cfg.Capacity {
			d = Decision{Remaining: headroom, RetryAfter: RetryAfterUnbounded}
			return
		}
		if st.level+float64(cost) <= capacity {
			st.level += float64(cost)
			d = Decision{Allowed: true, Remaining: uint64(capacity - st.level)}
			return
		}
		d = Decision{
			Remaining:  headroom,
			RetryAfter: permitWait(st.level+float64(cost)-capacity, l.cfg.RefillRate),
		}
	})
	return d, nil
}

func (l *LeakyBucket) Peek(key string, now time.Time) Decision {
	capacity := float64(l.cfg.Capacity)
	var d Decision
	found := l.store.View(key, func(st *leakyBucketState) {
		level := l.leaked(st, now)
		if level+1 <= capacity {
			d = Decision{Allowed: true, Remaining: uint64(capacity - level - 1)}
			return
		}
		d = Decision{
			Remaining:  uint64(capacity - level),
			RetryAfter: permitWait(level+1-capacity, l.cfg.RefillRate),
		}
	})
	if !found {
		return Decision{Allowed: true, Remaining: l.cfg.Capacity - 1}
	}
	return d
}

func (l *LeakyBucket) Reset(key string) {
	l.store.Reset(key)
}

func (l *LeakyBucket) EvictIdle(olderThan time.Duration) int {
	return l.store.EvictIdle(olderThan, l.clock())
}

// leaked returns the bucket level at instant now without touching the state.
// Negative elapsed time counts as zero and the level never goes below zero.
func (l *LeakyBucket) leaked(st *leakyBucketState, now time.Time) float64 {
	elapsed := now.Sub(st.lastLeak)
	if elapsed < 0 {
		elapsed = 0
	}
	level := st.level - elapsed.Seconds()*l.cfg.RefillRate
	if level < 0 {
		level = 0
	}
	return level
}

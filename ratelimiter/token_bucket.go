package ratelimiter

import "time"

// tokenBucketState is the per-key state of the token bucket. tokens stays in
// [0, capacity].
type tokenBucketState struct {
	tokens     float64
	lastRefill time.Time
}

// TokenBucket regulates the flow of requests with a continuously refilling
// permit pool. Each admitted request drains cost tokens; tokens accrue at
// RefillRate per second up to Capacity, so the bucket enforces a smooth
// average rate while allowing controlled bursts up to Capacity.
type TokenBucket struct {
	cfg   Config
	clock func() time.Time
	store Store[tokenBucketState]
}

// NewTokenBucket creates a token bucket limiter with the given refill rate
// and capacity. A key starts with a full bucket on first access.
func NewTokenBucket(cfg Config, opts ...Option) (*TokenBucket, error) {
	if err := cfg.Validate(TokenBucketType); err != nil {
		return nil, err
	}
	o := newOptions(opts)
	capacity := float64(cfg.Capacity)
	return &TokenBucket{
		cfg:   cfg,
		clock: o.clock,
		store: newShardedStore(o.shardCount, func(now time.Time) tokenBucketState {
			return tokenBucketState{tokens: capacity, lastRefill: now}
		}),
	}, nil
}

func (l *TokenBucket) Type() Type { return TokenBucketType }

// Allow is Check with cost 1 at the clock's current time.
func (l *TokenBucket) Allow(key string) (Decision, error) {
	return l.Check(key, 1, l.clock())
}

// AllowN is Check with the given cost at the clock's current time.
func (l *TokenBucket) AllowN(key string, cost uint64) (Decision, error) {
	return l.Check(key, cost, l.clock())
}

func (l *TokenBucket) Check(key string, cost uint64, now time.Time) (Decision, error) {
	if cost == 0 {
		return Decision{}, ErrInvalidCost
	}
	var d Decision
	l.store.Update(key, now, func(st *tokenBucketState) {
		st.tokens = l.refilled(st, now)
		// Clock regression keeps the later timestamp so the skipped span is
		// never refilled twice.
		if now.After(st.lastRefill) {
			st.lastRefill = now
		}

		if cost > l.cfg.Capacity {
			d = Decision{Remaining: uint64(st.tokens), RetryAfter: RetryAfterUnbounded}
			return
		}
		if st.tokens >= float64(cost) {
			st.tokens -= float64(cost)
			d = Decision{Allowed: true, Remaining: uint64(st.tokens)}
			return
		}
		d = Decision{
			Remaining:  uint64(st.tokens),
			RetryAfter: permitWait(float64(cost)-st.tokens, l.cfg.RefillRate),
		}
	})
	return d, nil
}

func (l *TokenBucket) Peek(key string, now time.Time) Decision {
	var d Decision
	found := l.store.View(key, func(st *tokenBucketState) {
		tokens := l.refilled(st, now)
		if tokens >= 1 {
			d = Decision{Allowed: true, Remaining: uint64(tokens - 1)}
			return
		}
		d = Decision{
			Remaining:  uint64(tokens),
			RetryAfter: permitWait(1-tokens, l.cfg.RefillRate),
		}
	})
	if !found {
		// An untouched key would start with a full bucket.
		return Decision{Allowed: true, Remaining: l.cfg.Capacity - 1}
	}
	return d
}

func (l *TokenBucket) Reset(key string) {
	l.store.Reset(key)
}

func (l *TokenBucket) EvictIdle(olderThan time.Duration) int {
	return l.store.EvictIdle(olderThan, l.clock())
}

// refilled returns the token balance at instant now without touching the
// state. Negative elapsed time counts as zero.
func (l *TokenBucket) refilled(st *tokenBucketState, now time.Time) float64 {
	elapsed := now.Sub(st.lastRefill)
	if elapsed < 0 {
		elapsed = 0
	}
	tokens := st.tokens + elapsed.Seconds()*l.cfg.RefillRate
	if capacity := float64(l.cfg.Capacity); tokens > capacity {
		tokens = capacity
	}
	return tokens
}

// permitWait converts a missing permit balance into the wait until the
// deficit is restored at rate permits per second.
func permitWait(missing, rate float64) time.Duration {
	return time.Duration(missing / rate * float64(time.Second))
}

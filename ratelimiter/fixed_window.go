package ratelimiter

import "time"

// fixedWindowState is the per-key state of the fixed window counter.
// windowStart is aligned to a window boundary and count never exceeds
// capacity.
type fixedWindowState struct {
	windowStart time.Time
	count       uint64
}

// FixedWindowCounter counts admissions per wall-aligned window of length
// Window and denies once the count would exceed Capacity. The counter resets
// at every boundary, so up to 2*Capacity requests can be admitted across a
// boundary straddling two adjacent windows. That burst is the textbook
// trade-off of this algorithm versus the sliding variants, not a bug.
type FixedWindowCounter struct {
	cfg   Config
	clock func() time.Time
	store Store[fixedWindowState]
}

// NewFixedWindowCounter creates a fixed window counter limiter.
func NewFixedWindowCounter(cfg Config, opts ...Option) (*FixedWindowCounter, error) {
	if err := cfg.Validate(FixedWindowType); err != nil {
		return nil, err
	}
	o := newOptions(opts)
	window := cfg.Window
	return &FixedWindowCounter{
		cfg:   cfg,
		clock: o.clock,
		store: newShardedStore(o.shardCount, func(now time.Time) fixedWindowState {
			return fixedWindowState{windowStart: now.Truncate(window)}
		}),
	}, nil
}

func (l *FixedWindowCounter) Type() Type { return FixedWindowType }

// Allow is Check with cost 1 at the clock's current time.
func (l *FixedWindowCounter) Allow(key string) (Decision, error) {
	return l.Check(key, 1, l.clock())
}

// AllowN is Check with the given cost at the clock's current time.
func (l *FixedWindowCounter) AllowN(key string, cost uint64) (Decision, error) {
	return l.Check(key, cost, l.clock())
}

func (l *FixedWindowCounter) Check(key string, cost uint64, now time.Time) (Decision, error) {
	if cost == 0 {
		return Decision{}, ErrInvalidCost
	}
	var d Decision
	l.store.Update(key, now, func(st *fixedWindowState) {
		// Roll only forward; a regressed clock stays in the stored window
		// rather than granting a fresh quota.
		if ws := now.Truncate(l.cfg.Window); ws.After(st.windowStart) {
			st.windowStart = ws
			st.count = 0
		}

		if cost > l.cfg.Capacity {
			d = Decision{Remaining: l.cfg.Capacity - st.count, RetryAfter: RetryAfterUnbounded}
			return
		}
		if st.count+cost <= l.cfg.Capacity {
			st.count += cost
			d = Decision{Allowed: true, Remaining: l.cfg.Capacity - st.count}
			return
		}
		d = Decision{
			Remaining:  l.cfg.Capacity - st.count,
			RetryAfter: st.windowStart.Add(l.cfg.Window).Sub(now),
		}
	})
	return d, nil
}

func (l *FixedWindowCounter) Peek(key string, now time.Time) Decision {
	var d Decision
	found := l.store.View(key, func(st *fixedWindowState) {
		count := st.count
		windowStart := st.windowStart
		if ws := now.Truncate(l.cfg.Window); ws.After(windowStart) {
			windowStart = ws
			count = 0
		}
		if count+1 <= l.cfg.Capacity {
			d = Decision{Allowed: true, Remaining: l.cfg.Capacity - count - 1}
			return
		}
		d = Decision{
			Remaining:  l.cfg.Capacity - count,
			RetryAfter: windowStart.Add(l.cfg.Window).Sub(now),
		}
	})
	if !found {
		return Decision{Allowed: true, Remaining: l.cfg.Capacity - 1}
	}
	return d
}

func (l *FixedWindowCounter) Reset(key string) {
	l.store.Reset(key)
}

func (l *FixedWindowCounter) EvictIdle(olderThan time.Duration) int {
	return l.store.EvictIdle(olderThan, l.clock())
}

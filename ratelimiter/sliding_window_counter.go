package ratelimiter

import "time"

// slidingWindowCounterState keeps admission counts for the current and the
// immediately preceding window. currentStart is aligned to a window boundary.
type slidingWindowCounterState struct {
	previousCount uint64
	currentCount  uint64
	currentStart  time.Time
}

// SlidingWindowCounter approximates the sliding window log at O(1) state per
// key. It keeps exact counts for two adjacent fixed windows and weighs the
// previous window's count by the fraction of it still inside the trailing
// window:
//
//	estimate = previous*(1-elapsedFraction) + current
//
// The estimate, and therefore RetryAfter on denial, is a linear
// interpolation, not an exact reconstruction of request arrival times.
type SlidingWindowCounter struct {
	cfg   Config
	clock func() time.Time
	store Store[slidingWindowCounterState]
}

// NewSlidingWindowCounter creates a sliding window counter limiter.
func NewSlidingWindowCounter(cfg Config, opts ...Option) (*SlidingWindowCounter, error) {
	if err := cfg.Validate(SlidingWindowCounterType); err != nil {
		return nil, err
	}
	o := newOptions(opts)
	window := cfg.Window
	return &SlidingWindowCounter{
		cfg:   cfg,
		clock: o.clock,
		store: newShardedStore(o.shardCount, func(now time.Time) slidingWindowCounterState {
			return slidingWindowCounterState{currentStart: now.Truncate(window)}
		}),
	}, nil
}

func (l *SlidingWindowCounter) Type() Type { return SlidingWindowCounterType }

// Allow is Check with cost 1 at the clock's current time.
func (l *SlidingWindowCounter) Allow(key string) (Decision, error) {
	return l.Check(key, 1, l.clock())
}

// AllowN is Check with the given cost at the clock's current time.
func (l *SlidingWindowCounter) AllowN(key string, cost uint64) (Decision, error) {
	return l.Check(key, cost, l.clock())
}

func (l *SlidingWindowCounter) Check(key string, cost uint64, now time.Time) (Decision, error) {
	if cost == 0 {
		return Decision{}, ErrInvalidCost
	}
	var d Decision
	l.store.Update(key, now, func(st *slidingWindowCounterState) {
		l.roll(st, now)
		estimate := l.estimate(st, now)

		if cost > l.cfg.Capacity {
			d = Decision{Remaining: remainingPermits(l.cfg.Capacity, estimate), RetryAfter: RetryAfterUnbounded}
			return
		}
		if estimate+float64(cost) <= float64(l.cfg.Capacity) {
			st.currentCount += cost
			d = Decision{Allowed: true, Remaining: remainingPermits(l.cfg.Capacity, estimate+float64(cost))}
			return
		}
		d = Decision{
			Remaining:  remainingPermits(l.cfg.Capacity, estimate),
			RetryAfter: l.retryAfter(st, estimate, cost, now),
		}
	})
	return d, nil
}

func (l *SlidingWindowCounter) Peek(key string, now time.Time) Decision {
	var d Decision
	found := l.store.View(key, func(st *slidingWindowCounterState) {
		rolled := *st
		l.roll(&rolled, now)
		estimate := l.estimate(&rolled, now)
		if estimate+1 <= float64(l.cfg.Capacity) {
			d = Decision{Allowed: true, Remaining: remainingPermits(l.cfg.Capacity, estimate+1)}
			return
		}
		d = Decision{
			Remaining:  remainingPermits(l.cfg.Capacity, estimate),
			RetryAfter: l.retryAfter(&rolled, estimate, 1, now),
		}
	})
	if !found {
		return Decision{Allowed: true, Remaining: l.cfg.Capacity - 1}
	}
	return d
}

func (l *SlidingWindowCounter) Reset(key string) {
	l.store.Reset(key)
}

func (l *SlidingWindowCounter) EvictIdle(olderThan time.Duration) int {
	return l.store.EvictIdle(olderThan, l.clock())
}

// roll advances the two-window state to the window containing now. Advancing
// by exactly one window shifts the current count into the previous slot;
// advancing further breaks continuity and clears both. Both timestamps are
// boundary-aligned, so the delta is always a whole number of windows. A
// regressed clock leaves the state in place.
func (l *SlidingWindowCounter) roll(st *slidingWindowCounterState, now time.Time) {
	ws := now.Truncate(l.cfg.Window)
	switch delta := ws.Sub(st.currentStart); {
	case delta == l.cfg.Window:
		st.previousCount = st.currentCount
		st.currentCount = 0
		st.currentStart = ws
	case delta > l.cfg.Window:
		st.previousCount = 0
		st.currentCount = 0
		st.currentStart = ws
	}
}

// estimate interpolates the admitted permits inside the trailing window.
func (l *SlidingWindowCounter) estimate(st *slidingWindowCounterState, now time.Time) float64 {
	fraction := float64(now.Sub(st.currentStart)) / float64(l.cfg.Window)
	if fraction < 0 {
		fraction = 0
	} else if fraction > 1 {
		fraction = 1
	}
	return float64(st.previousCount)*(1-fraction) + float64(st.currentCount)
}

// retryAfter estimates when the interpolated count will have decayed enough
// for cost to fit. While the previous window still contributes, the estimate
// falls linearly at previousCount permits per window; otherwise nothing
// decays before the next boundary.
func (l *SlidingWindowCounter) retryAfter(st *slidingWindowCounterState, estimate float64, cost uint64, now time.Time) time.Duration {
	need := estimate + float64(cost) - float64(l.cfg.Capacity)
	if st.previousCount > 0 {
		retry := time.Duration(need / float64(st.previousCount) * float64(l.cfg.Window))
		if retry < 0 {
			retry = 0
		}
		return retry
	}
	return st.currentStart.Add(l.cfg.Window).Sub(now)
}

// remainingPermits floors capacity minus the running estimate at zero.
func remainingPermits(capacity uint64, estimate float64) uint64 {
	left := float64(capacity) - estimate
	if left <= 0 {
		return 0
	}
	return uint64(left)
}

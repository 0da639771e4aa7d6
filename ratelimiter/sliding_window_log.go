package ratelimiter

import "time"

// slidingWindowLogState holds the timestamps of admitted permits within the
// trailing window, oldest first. After eviction the log never holds more than
// capacity entries.
type slidingWindowLogState struct {
	log []time.Time
}

// SlidingWindowLog keeps one timestamp per admitted permit and bounds the
// number of permits in any trailing interval of length Window by Capacity.
// This is the exact algorithm with no boundary burst artifact, at the cost of
// O(capacity) state per key.
type SlidingWindowLog struct {
	cfg   Config
	clock func() time.Time
	store Store[slidingWindowLogState]
}

// NewSlidingWindowLog creates a sliding window log limiter.
func NewSlidingWindowLog(cfg Config, opts ...Option) (*SlidingWindowLog, error) {
	if err := cfg.Validate(SlidingWindowLogType); err != nil {
		return nil, err
	}
	o := newOptions(opts)
	capacity := cfg.Capacity
	return &SlidingWindowLog{
		cfg:   cfg,
		clock: o.clock,
		store: newShardedStore(o.shardCount, func(time.Time) slidingWindowLogState {
			return slidingWindowLogState{log: make([]time.Time, 0, capacity)}
		}),
	}, nil
}

func (l *SlidingWindowLog) Type() Type { return SlidingWindowLogType }

// Allow is Check with cost 1 at the clock's current time.
func (l *SlidingWindowLog) Allow(key string) (Decision, error) {
	return l.Check(key, 1, l.clock())
}

// AllowN is Check with the given cost at the clock's current time.
func (l *SlidingWindowLog) AllowN(key string, cost uint64) (Decision, error) {
	return l.Check(key, cost, l.clock())
}

func (l *SlidingWindowLog) Check(key string, cost uint64, now time.Time) (Decision, error) {
	if cost == 0 {
		return Decision{}, ErrInvalidCost
	}
	var d Decision
	l.store.Update(key, now, func(st *slidingWindowLogState) {
		st.evict(now.Add(-l.cfg.Window))
		count := uint64(len(st.log))

		if cost > l.cfg.Capacity {
			d = Decision{Remaining: l.cfg.Capacity - count, RetryAfter: RetryAfterUnbounded}
			return
		}
		if count+cost <= l.cfg.Capacity {
			for i := uint64(0); i < cost; i++ {
				st.log = append(st.log, now)
			}
			d = Decision{Allowed: true, Remaining: l.cfg.Capacity - count - cost}
			return
		}
		d = Decision{
			Remaining:  l.cfg.Capacity - count,
			RetryAfter: l.oldestExpiry(st.log, now),
		}
	})
	return d, nil
}

func (l *SlidingWindowLog) Peek(key string, now time.Time) Decision {
	var d Decision
	found := l.store.View(key, func(st *slidingWindowLogState) {
		threshold := now.Add(-l.cfg.Window)
		var count uint64
		live := st.log[:0:0]
		for _, t := range st.log {
			if !t.Before(threshold) {
				count++
				live = append(live, t)
			}
		}
		if count+1 <= l.cfg.Capacity {
			d = Decision{Allowed: true, Remaining: l.cfg.Capacity - count - 1}
			return
		}
		d = Decision{
			Remaining:  l.cfg.Capacity - count,
			RetryAfter: l.oldestExpiry(live, now),
		}
	})
	if !found {
		return Decision{Allowed: true, Remaining: l.cfg.Capacity - 1}
	}
	return d
}

func (l *SlidingWindowLog) Reset(key string) {
	l.store.Reset(key)
}

func (l *SlidingWindowLog) EvictIdle(olderThan time.Duration) int {
	return l.store.EvictIdle(olderThan, l.clock())
}

// evict drops every entry older than threshold. Entries are appended in time
// order, but eviction filters by value so an out-of-order timestamp cannot
// strand an expired entry behind a live one.
func (st *slidingWindowLogState) evict(threshold time.Time) {
	kept := st.log[:0]
	for _, t := range st.log {
		if !t.Before(threshold) {
			kept = append(kept, t)
		}
	}
	st.log = kept
}

// oldestExpiry is the wait until the oldest live entry leaves the window.
func (l *SlidingWindowLog) oldestExpiry(log []time.Time, now time.Time) time.Duration {
	if len(log) == 0 {
		return 0
	}
	oldest := log[0]
	for _, t := range log[1:] {
		if t.Before(oldest) {
			oldest = t
		}
	}
	retry := oldest.Add(l.cfg.Window).Sub(now)
	if retry < 0 {
		retry = 0
	}
	return retry
}

package ratelimiter

import "time"

// Config holds the knobs shared by all algorithms. Which fields are required
// depends on the algorithm: the bucket algorithms need Capacity and
// RefillRate, the window algorithms need Capacity and Window.
type Config struct {
	// Capacity is the maximum number of permits per bucket or window.
	Capacity uint64
	// RefillRate is the number of permits restored per second. For the
	// leaky bucket this is the leak rate, i.e. the fixed outflow.
	RefillRate float64
	// Window is the accounting interval for the window-based algorithms.
	Window time.Duration
}

// Validate checks the fields required by algorithm type t. All required
// numeric fields must be positive; violations are reported as *ConfigError.
func (c Config) Validate(t Type) error {
	if c.Capacity == 0 {
		return &ConfigError{Field: "capacity", Reason: "must be positive"}
	}
	switch t {
	case TokenBucketType, LeakyBucketType:
		if c.RefillRate <= 0 {
			return &ConfigError{Field: "refill rate", Reason: "must be positive"}
		}
	case FixedWindowType, SlidingWindowLogType, SlidingWindowCounterType:
		if c.Window <= 0 {
			return &ConfigError{Field: "window", Reason: "must be positive"}
		}
	default:
		return &ConfigError{Field: "type", Reason: "unknown algorithm"}
	}
	return nil
}

const defaultShardCount = 32

type options struct {
	clock      func() time.Time
	shardCount int
}

// Option customizes a limiter.
type Option func(*options)

// WithClock replaces the limiter's time source. The clock feeds Allow, AllowN
// and EvictIdle; tests use it to advance time deterministically.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.clock = now
	}
}

// WithShardCount sets the number of lock-protected partitions of the key
// space. It is rounded up to the next power of two.
func WithShardCount(n int) Option {
	return func(o *options) {
		o.shardCount = n
	}
}

func newOptions(opts []Option) options {
	o := options{
		clock:      time.Now,
		shardCount: defaultShardCount,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

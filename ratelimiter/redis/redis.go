// Package redis implements the rate limiter decision contract against Redis,
// for deployments where several replicas must share one budget per key. The
// algorithms mirror their in-memory counterparts in package ratelimiter;
// Redis supplies the shared, atomically updated key state.
//
// Transport failures surface as errors wrapping
// ratelimiter.ErrStateUnavailable. The caller decides whether to fail open or
// closed.
package redis

import "time"

const defaultKeyPrefix = "ratelimit:"

type options struct {
	clock  func() time.Time
	prefix string
}

// Option customizes a Redis-backed limiter.
type Option func(*options)

// WithClock replaces the limiter's time source. Decisions are computed from
// the timestamp handed to Redis, so tests can advance time deterministically.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.clock = now
	}
}

// WithKeyPrefix sets the prefix for all Redis keys written by the limiter.
// The default is "ratelimit:".
func WithKeyPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
	}
}

func newOptions(opts []Option) options {
	o := options{
		clock:  time.Now,
		prefix: defaultKeyPrefix,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Package ratelimiter implements five admission-control algorithms behind a
// single decision contract: Token Bucket, Leaky Bucket, Fixed Window Counter,
// Sliding Window Log and Sliding Window Counter.
//
// Every limiter tracks state per key (client id, API route, tenant, ...) in a
// sharded in-memory store, so checks against different keys never contend and
// checks against the same key are linearizable. All limiters are safe for
// concurrent use.
package ratelimiter

import (
	"math"
	"time"
)

// Decision is the outcome of a single admission check.
type Decision struct {
	// Allowed reports whether the request may proceed.
	Allowed bool
	// Remaining is the number of whole permits left in the current
	// accounting period after this decision was applied.
	Remaining uint64
	// RetryAfter is the minimum wait after which a denied request is
	// expected to succeed, assuming no competing traffic. It is only
	// meaningful when Allowed is false.
	RetryAfter time.Duration
}

// RetryAfterUnbounded marks a denial that can never succeed, e.g. a cost
// larger than the configured capacity.
const RetryAfterUnbounded = time.Duration(math.MaxInt64)

// Type identifies the limiting algorithm.
type Type uint32

const (
	TokenBucketType Type = iota
	LeakyBucketType
	FixedWindowType
	SlidingWindowLogType
	SlidingWindowCounterType
)

func (t Type) String() string {
	switch t {
	case TokenBucketType:
		return "token_bucket"
	case LeakyBucketType:
		return "leaky_bucket"
	case FixedWindowType:
		return "fixed_window"
	case SlidingWindowLogType:
		return "sliding_window_log"
	case SlidingWindowCounterType:
		return "sliding_window_counter"
	default:
		return "unknown"
	}
}

// Limiter is the contract shared by the five algorithms. Callers can swap
// algorithms without code changes.
type Limiter interface {
	// Check decides whether a request against key consuming cost permits is
	// admitted at instant now. On admission the key's state is updated to
	// reflect the consumption; a denied check never consumes. cost must be
	// positive; a cost larger than the configured capacity is always denied
	// with RetryAfter set to RetryAfterUnbounded.
	Check(key string, cost uint64, now time.Time) (Decision, error)

	// Peek computes the decision a Check with cost 1 would return at
	// instant now, without mutating any state.
	Peek(key string, now time.Time) Decision

	// Reset clears the key's state back to its initial value.
	Reset(key string)

	// EvictIdle drops state for keys that have not been touched for at
	// least olderThan and reports how many were dropped. It is safe to run
	// concurrently with checks; a check already in progress completes on
	// the old state.
	EvictIdle(olderThan time.Duration) int

	// Type reports the algorithm behind this limiter.
	Type() Type
}

// New constructs a limiter of the given algorithm type. This is the single
// dispatch point between the variants; each returned limiter owns its state
// shape exclusively.
func New(t Type, cfg Config, opts ...Option) (Limiter, error) {
	switch t {
	case TokenBucketType:
		return NewTokenBucket(cfg, opts...)
	case LeakyBucketType:
		return NewLeakyBucket(cfg, opts...)
	case FixedWindowType:
		return NewFixedWindowCounter(cfg, opts...)
	case SlidingWindowLogType:
		return NewSlidingWindowLog(cfg, opts...)
	case SlidingWindowCounterType:
		return NewSlidingWindowCounter(cfg, opts...)
	default:
		return nil, &ConfigError{Field: "type", Reason: "unknown algorithm"}
	}
}

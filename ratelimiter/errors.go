package ratelimiter

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCost is returned by Check when cost is zero.
	ErrInvalidCost = errors.New("ratelimiter: cost must be positive")

	// ErrStateUnavailable is returned when a limiter cannot reach the state
	// behind a key, e.g. the Redis-backed limiters during an outage. The
	// caller decides whether to fail open or closed; the limiter does not.
	ErrStateUnavailable = errors.New("ratelimiter: key state unavailable")

	// ErrUnknownNamespace is returned by Registry.Check for a namespace
	// that was never registered.
	ErrUnknownNamespace = errors.New("ratelimiter: unknown namespace")

	// ErrDuplicateNamespace is returned by Registry.Register when the
	// namespace is already bound to a limiter.
	ErrDuplicateNamespace = errors.New("ratelimiter: namespace already registered")
)

// ConfigError reports an invalid limiter configuration. Construction fails
// fast with it; checks never see a bad config.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("ratelimiter: invalid config: %s %s", e.Field, e.Reason)
}

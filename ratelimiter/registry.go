package ratelimiter

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hedon954/ratelimit/internal/log"
)

// Registry binds key namespaces (for example "user", "ip", "api_key") to one
// configured limiter each, so callers can route checks by namespace without
// holding on to individual limiter instances. It is an optional composition
// point on top of the algorithmic core.
type Registry struct {
	mu       sync.RWMutex
	limiters map[string]Limiter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{limiters: make(map[string]Limiter)}
}

// Register binds namespace to l. Registering a namespace twice is an error.
func (r *Registry) Register(namespace string, l Limiter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.limiters[namespace]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateNamespace, namespace)
	}
	r.limiters[namespace] = l
	return nil
}

// Get returns the limiter bound to namespace.
func (r *Registry) Get(namespace string) (Limiter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.limiters[namespace]
	return l, ok
}

// Check routes a check to the namespace's limiter.
func (r *Registry) Check(namespace, key string, cost uint64, now time.Time) (Decision, error) {
	l, ok := r.Get(namespace)
	if !ok {
		return Decision{}, fmt.Errorf("%w: %s", ErrUnknownNamespace, namespace)
	}
	return l.Check(key, cost, now)
}

// Peek routes a read-only check to the namespace's limiter.
func (r *Registry) Peek(namespace, key string, now time.Time) (Decision, error) {
	l, ok := r.Get(namespace)
	if !ok {
		return Decision{}, fmt.Errorf("%w: %s", ErrUnknownNamespace, namespace)
	}
	return l.Peek(key, now), nil
}

// Reset clears one key's state in the namespace's limiter.
func (r *Registry) Reset(namespace, key string) error {
	l, ok := r.Get(namespace)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNamespace, namespace)
	}
	l.Reset(key)
	return nil
}

// EvictIdle sweeps every registered limiter and reports the total number of
// evicted keys. The sweep may run concurrently with checks.
func (r *Registry) EvictIdle(olderThan time.Duration) int {
	r.mu.RLock()
	limiters := make(map[string]Limiter, len(r.limiters))
	for ns, l := range r.limiters {
		limiters[ns] = l
	}
	r.mu.RUnlock()

	total := 0
	for ns, l := range limiters {
		n := l.EvictIdle(olderThan)
		if n > 0 {
			log.Logger().Debug("evicted idle rate limit keys",
				zap.String("namespace", ns),
				zap.String("algorithm", l.Type().String()),
				zap.Int("evicted", n))
		}
		total += n
	}
	return total
}

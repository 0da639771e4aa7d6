package ratelimiter

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Store maps keys to mutable algorithm state with atomic get-or-create and
// read-modify-write semantics. One instance backs one limiter.
type Store[S any] interface {
	// Update runs fn on the key's state under the key's exclusive lock,
	// creating the state first if the key was never seen. The whole
	// read-modify-write is indivisible with respect to other operations on
	// the same key.
	Update(key string, now time.Time, fn func(state *S))

	// View runs fn on the key's state under the key's lock, if the key
	// exists. fn must not mutate the state. Reports whether the key existed.
	View(key string, fn func(state *S)) bool

	// Reset drops the key's state so the next access recreates it.
	Reset(key string)

	// EvictIdle drops every key whose last access is before now-olderThan
	// and reports how many were dropped.
	EvictIdle(olderThan time.Duration, now time.Time) int

	// Len reports the number of tracked keys.
	Len() int
}

type entry[S any] struct {
	mu        sync.Mutex
	state     S
	lastTouch atomic.Int64 // unix nanos of the last access
}

type storeShard[S any] struct {
	mu      sync.RWMutex
	entries map[string]*entry[S]
}

// shardedStore partitions the key space over a fixed power-of-two number of
// lock-protected shards, so checks against unrelated keys do not contend.
// Mutation of a single key's state happens under that entry's own mutex.
type shardedStore[S any] struct {
	shards []*storeShard[S]
	mask   uint64
	init   func(now time.Time) S
}

func newShardedStore[S any](shardCount int, init func(now time.Time) S) *shardedStore[S] {
	n := nextPowerOfTwo(shardCount)
	shards := make([]*storeShard[S], n)
	for i := range shards {
		shards[i] = &storeShard[S]{entries: make(map[string]*entry[S])}
	}
	return &shardedStore[S]{
		shards: shards,
		mask:   uint64(n - 1),
		init:   init,
	}
}

func nextPowerOfTwo(n int) int {
	if n < 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func (s *shardedStore[S]) shard(key string) *storeShard[S] {
	return s.shards[xxhash.Sum64String(key)&s.mask]
}

// getOrCreate is double-checked: the fast path takes only the shard read
// lock; concurrent first accesses for the same unseen key create exactly one
// entry.
func (s *shardedStore[S]) getOrCreate(key string, now time.Time) *entry[S] {
	sh := s.shard(key)

	sh.mu.RLock()
	e, ok := sh.entries[key]
	sh.mu.RUnlock()
	if ok {
		return e
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if e, ok = sh.entries[key]; ok {
		return e
	}
	e = &entry[S]{state: s.init(now)}
	e.lastTouch.Store(now.UnixNano())
	sh.entries[key] = e
	return e
}

func (s *shardedStore[S]) Update(key string, now time.Time, fn func(state *S)) {
	e := s.getOrCreate(key, now)
	e.lastTouch.Store(now.UnixNano())
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.state)
}

func (s *shardedStore[S]) View(key string, fn func(state *S)) bool {
	sh := s.shard(key)
	sh.mu.RLock()
	e, ok := sh.entries[key]
	sh.mu.RUnlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.state)
	return true
}

func (s *shardedStore[S]) Reset(key string) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.entries, key)
}

// EvictIdle removes idle entries from the shard maps. A check that already
// holds an entry keeps operating on it and completes safely; the key is
// simply recreated on its next access.
func (s *shardedStore[S]) EvictIdle(olderThan time.Duration, now time.Time) int {
	cutoff := now.Add(-olderThan).UnixNano()
	evicted := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, e := range sh.entries {
			if e.lastTouch.Load() < cutoff {
				delete(sh.entries, key)
				evicted++
			}
		}
		sh.mu.Unlock()
	}
	return evicted
}

func (s *shardedStore[S]) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.entries)
		sh.mu.RUnlock()
	}
	return n
}

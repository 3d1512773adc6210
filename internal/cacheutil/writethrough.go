package cacheutil

import (
	"context"
	"sync"
	"time"
)

// WriteThrough runs a write and invalidates the cache only when it succeeds.
//
//	func (c *Cached) Delete(ctx context.Context, key string) error {
//	    return cacheutil.WriteThrough(c.Invalidate, func() error {
//	        return c.underlying.Delete(ctx, key)
//	    })
//	}
func WriteThrough(invalidate func(), operation func() error) error {
	if err := operation(); err != nil {
		return err
	}
	invalidate()
	return nil
}

// CachedValue is a value stamped with its fetch time.
type CachedValue[T any] struct {
	Value     T
	FetchedAt time.Time
}

// ReadThrough is double-checked read-through caching. checkCache runs under
// the read lock and again under the write lock before fetchAndCache, so
// concurrent misses fetch once.
func ReadThrough[T any](
	mu *sync.RWMutex,
	now func() time.Time,
	checkCache func(now time.Time) (T, bool),
	fetchAndCache func(now time.Time) (T, error),
) (T, error) {
	mu.RLock()
	if value, ok := checkCache(now()); ok {
		mu.RUnlock()
		return value, nil
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()

	// Another goroutine may have filled the cache between RUnlock and Lock.
	fresh := now()
	if value, ok := checkCache(fresh); ok {
		return value, nil
	}
	return fetchAndCache(fresh)
}

// Snapshot caches the single result of load for ttl. A zero ttl disables
// caching and every Get calls load.
type Snapshot[T any] struct {
	ttl  time.Duration
	load func(ctx context.Context) (T, error)
	now  func() time.Time

	mu     sync.RWMutex
	cached *CachedValue[T]
}

// NewSnapshot creates a Snapshot. now may be nil.
func NewSnapshot[T any](ttl time.Duration, load func(ctx context.Context) (T, error), now func() time.Time) *Snapshot[T] {
	if now == nil {
		now = time.Now
	}
	return &Snapshot[T]{ttl: ttl, load: load, now: now}
}

// Get returns the cached value, loading it when missing or stale. Failed loads
// are not cached.
func (s *Snapshot[T]) Get(ctx context.Context) (T, error) {
	if s.ttl <= 0 {
		return s.load(ctx)
	}
	return ReadThrough(&s.mu, s.now,
		func(now time.Time) (T, bool) {
			if s.cached != nil && now.Sub(s.cached.FetchedAt) < s.ttl {
				return s.cached.Value, true
			}
			var zero T
			return zero, false
		},
		func(now time.Time) (T, error) {
			value, err := s.load(ctx)
			if err != nil {
				var zero T
				return zero, err
			}
			s.cached = &CachedValue[T]{Value: value, FetchedAt: now}
			return value, nil
		},
	)
}

// Invalidate drops the cached value.
func (s *Snapshot[T]) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

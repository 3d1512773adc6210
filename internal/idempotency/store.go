// Package idempotency replays cached 2xx responses for requests that repeat an
// Idempotency-Key, so a retried verify-otp never reaches the code store twice.
package idempotency

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Response is a cached response.
type Response struct {
	StatusCode int               `json:"status"`
	Headers    map[string]string `json:"headers"`
	Body       []byte            `json:"body"`
	CachedAt   time.Time         `json:"cachedAt"`
}

// Store keeps responses by scoped key.
type Store interface {
	Get(ctx context.Context, key string) (*Response, bool)
	Set(ctx context.Context, key string, response *Response, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// DefaultMaxEntries bounds a MemoryStore.
const DefaultMaxEntries = 10000

// MemoryStore is an LRU-bounded Store with per-entry expiry.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List
	max     int
	now     func() time.Time

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

type entry struct {
	key       string
	response  *Response
	expiresAt time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMaxEntries caps the number of cached responses.
func WithMaxEntries(n int) MemoryOption {
	return func(s *MemoryStore) {
		if n > 0 {
			s.max = n
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore starts a store whose expired entries are swept every
// sweepInterval (default 5m).
func NewMemoryStore(sweepInterval time.Duration, opts ...MemoryOption) *MemoryStore {
	if sweepInterval <= 0 {
		sweepInterval = 5 * time.Minute
	}
	s := &MemoryStore{
		entries: make(map[string]*list.Element),
		lru:     list.New(),
		max:     DefaultMaxEntries,
		now:     time.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.sweepLoop(sweepInterval)
	return s
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) (*Response, bool) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*entry)
	if !now.Before(e.expiresAt) {
		s.remove(el)
		return nil, false
	}
	s.lru.MoveToFront(el)
	return e.response, true
}

// Set implements Store. The least recently used entry is evicted when full.
func (s *MemoryStore) Set(_ context.Context, key string, response *Response, ttl time.Duration) error {
	expires := s.now().Add(ttl)
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[key]; ok {
		e := el.Value.(*entry)
		e.response = response
		e.expiresAt = expires
		s.lru.MoveToFront(el)
		return nil
	}
	if len(s.entries) >= s.max {
		if back := s.lru.Back(); back != nil {
			s.remove(back)
		}
	}
	s.entries[key] = s.lru.PushFront(&entry{key: key, response: response, expiresAt: expires})
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.entries[key]; ok {
		s.remove(el)
	}
	return nil
}

// Len returns the number of cached entries, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep drops expired entries.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for _, el := range s.entries {
		if !now.Before(el.Value.(*entry).expiresAt) {
			s.remove(el)
			removed++
		}
	}
	return removed
}

// caller holds mu
func (s *MemoryStore) remove(el *list.Element) {
	s.lru.Remove(el)
	delete(s.entries, el.Value.(*entry).key)
}

func (s *MemoryStore) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.Sweep(s.now())
		}
	}
}

// Close stops the sweeper.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() {
		close(s.stop)
		<-s.done
	})
	return nil
}

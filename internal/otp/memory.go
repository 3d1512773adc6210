package otp

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps codes in process memory. Entries do not survive a restart,
// and separate instances do not share codes; use RedisStore for that.
type MemoryStore struct {
	cfg     Config
	now     func() time.Time
	newCode func() (string, error)

	mu      sync.Mutex
	entries map[string]*Entry

	stopSweep chan struct{}
	sweepDone chan struct{}
	stopOnce  sync.Once
}

// MemoryOption customises a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// WithCodeGenerator overrides GenerateCode.
func WithCodeGenerator(gen func() (string, error)) MemoryOption {
	return func(s *MemoryStore) { s.newCode = gen }
}

// NewMemoryStore creates the store and starts its background sweeper.
func NewMemoryStore(cfg Config, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		cfg:       cfg.withDefaults(),
		now:       time.Now,
		newCode:   GenerateCode,
		entries:   make(map[string]*Entry),
		stopSweep: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.sweepLoop()
	return s
}

// Issue implements Store.
func (s *MemoryStore) Issue(_ context.Context, identity, fingerprint string) (string, error) {
	code, err := s.newCode()
	if err != nil {
		return "", err
	}
	now := s.now()
	entry := &Entry{
		Identity:    NormalizeIdentity(identity),
		Code:        code,
		Fingerprint: fingerprint,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.cfg.TTL),
	}

	s.mu.Lock()
	s.entries[entry.Identity] = entry
	s.mu.Unlock()
	return code, nil
}

// Verify implements Store.
func (s *MemoryStore) Verify(_ context.Context, identity, code, fingerprint string) error {
	id := NormalizeIdentity(identity)
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return ErrNotFound
	}
	act, err := evaluate(entry, code, fingerprint, now, s.cfg.MaxAttempts)
	if act == remove {
		delete(s.entries, id)
	}
	return err
}

// Reopen implements Store.
func (s *MemoryStore) Reopen(_ context.Context, identity, fingerprint string) error {
	id := NormalizeIdentity(identity)
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return ErrNotFound
	}
	act, err := reopen(entry, fingerprint, now)
	if act == remove {
		delete(s.entries, id)
	}
	return err
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, identity string) error {
	s.mu.Lock()
	delete(s.entries, NormalizeIdentity(identity))
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, live or not yet swept.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep removes entries past expiry and returns how many were dropped.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, e := range s.entries {
		if now.After(e.ExpiresAt) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) sweepLoop() {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	defer close(s.sweepDone)

	for {
		select {
		case <-s.stopSweep:
			return
		case <-ticker.C:
			s.Sweep(s.now())
		}
	}
}

// Stop halts the sweeper. Safe to call more than once.
func (s *MemoryStore) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopSweep)
		<-s.sweepDone
	})
}

// Close implements io.Closer for the lifecycle manager.
func (s *MemoryStore) Close() error {
	s.Stop()
	return nil
}

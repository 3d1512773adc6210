package adminauth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNonceUsed is returned when a magic link nonce was already consumed.
var ErrNonceUsed = errors.New("adminauth: login link already used")

// NonceStore remembers consumed magic-link nonces for at least as long as the
// links are valid.
type NonceStore interface {
	// Consume records nonce, failing with ErrNonceUsed if it was seen before.
	Consume(ctx context.Context, nonce string) error
}

// MemoryNonceStore is a swept in-process blacklist.
type MemoryNonceStore struct {
	retention time.Duration
	now       func() time.Time

	mu   sync.Mutex
	used map[string]time.Time // nonce -> consumed at

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewMemoryNonceStore keeps consumed nonces for retention (default 30m) and
// sweeps older ones every sweepInterval (default 5m). now may be nil.
func NewMemoryNonceStore(retention, sweepInterval time.Duration, now func() time.Time) *MemoryNonceStore {
	if retention <= 0 {
		retention = 30 * time.Minute
	}
	if sweepInterval <= 0 {
		sweepInterval = 5 * time.Minute
	}
	if now == nil {
		now = time.Now
	}
	s := &MemoryNonceStore{
		retention: retention,
		now:       now,
		used:      make(map[string]time.Time),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go s.sweepLoop(sweepInterval)
	return s
}

// Consume implements NonceStore.
func (s *MemoryNonceStore) Consume(_ context.Context, nonce string) error {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if at, ok := s.used[nonce]; ok && now.Sub(at) < s.retention {
		return ErrNonceUsed
	}
	s.used[nonce] = now
	return nil
}

// Sweep forgets nonces older than the retention.
func (s *MemoryNonceStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for n, at := range s.used {
		if now.Sub(at) >= s.retention {
			delete(s.used, n)
			removed++
		}
	}
	return removed
}

// Len returns the number of remembered nonces.
func (s *MemoryNonceStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.used)
}

func (s *MemoryNonceStore) sweepLoop(interval time.Duration) {
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
func (s *MemoryNonceStore) Close() error {
	s.stopOnce.Do(func() {
		close(s.stop)
		<-s.done
	})
	return nil
}

// RedisNonceStore shares the blacklist between instances with SET NX.
type RedisNonceStore struct {
	client    redis.UniversalClient
	keyPrefix string
	retention time.Duration
}

// NewRedisNonceStore stores nonces under keyPrefix + "nonce:".
func NewRedisNonceStore(client redis.UniversalClient, keyPrefix string, retention time.Duration) *RedisNonceStore {
	if retention <= 0 {
		retention = 30 * time.Minute
	}
	return &RedisNonceStore{client: client, keyPrefix: keyPrefix + "nonce:", retention: retention}
}

// Consume implements NonceStore.
func (s *RedisNonceStore) Consume(ctx context.Context, nonce string) error {
	ok, err := s.client.SetNX(ctx, s.keyPrefix+nonce, time.Now().UTC().Format(time.RFC3339), s.retention).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrNonceUsed
	}
	return nil
}

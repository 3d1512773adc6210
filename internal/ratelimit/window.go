package ratelimit

import (
	"context"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"
)

// UnknownClient is used when a request carries no client address headers.
const UnknownClient = "unknown"

// Decision is the outcome of one Check.
type Decision struct {
	Allowed    bool
	RetryAfter int // whole seconds until the window resets; set when !Allowed
}

// Limiter is a fixed-window request counter. Bursts straddling a window
// boundary may briefly see up to twice the nominal rate.
type Limiter interface {
	Check(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

// Policy names one limited operation.
type Policy struct {
	Operation string
	Max       int
	Window    time.Duration
}

// Allow checks the policy for the request's client.
func (p Policy) Allow(ctx context.Context, l Limiter, r *http.Request) (Decision, error) {
	return p.AllowClient(ctx, l, ClientID(r))
}

// AllowClient checks the policy for an already resolved client id.
func (p Policy) AllowClient(ctx context.Context, l Limiter, client string) (Decision, error) {
	if client == "" {
		client = UnknownClient
	}
	return l.Check(ctx, p.Operation+":"+client, p.Max, p.Window)
}

// ClientKey combines the operation label with the client identity so limits
// are per operation per client.
func ClientKey(r *http.Request, operation string) string {
	return operation + ":" + ClientID(r)
}

// ClientID returns the first X-Forwarded-For address, else X-Real-IP, else
// UnknownClient. RemoteAddr is ignored: behind the edge proxy it is always the
// proxy.
func ClientID(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	return UnknownClient
}

func retryAfter(remaining time.Duration) int {
	secs := int(math.Ceil(remaining.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

type window struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter keeps windows in process memory with a periodic sweep.
type MemoryLimiter struct {
	now func() time.Time

	mu      sync.Mutex
	windows map[string]*window

	stopSweep chan struct{}
	sweepDone chan struct{}
	stopOnce  sync.Once
}

// NewMemoryLimiter starts a limiter whose expired windows are swept every
// sweepInterval (default 10m). now may be nil.
func NewMemoryLimiter(sweepInterval time.Duration, now func() time.Time) *MemoryLimiter {
	if sweepInterval <= 0 {
		sweepInterval = 10 * time.Minute
	}
	if now == nil {
		now = time.Now
	}
	l := &MemoryLimiter{
		now:       now,
		windows:   make(map[string]*window),
		stopSweep: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	go l.sweepLoop(sweepInterval)
	return l
}

// Check implements Limiter.
func (l *MemoryLimiter) Check(_ context.Context, key string, limit int, win time.Duration) (Decision, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		l.windows[key] = &window{count: 1, resetAt: now.Add(win)}
		return Decision{Allowed: true}, nil
	}
	if w.count >= limit {
		return Decision{Allowed: false, RetryAfter: retryAfter(w.resetAt.Sub(now))}, nil
	}
	w.count++
	return Decision{Allowed: true}, nil
}

// Reset forgets the window for key.
func (l *MemoryLimiter) Reset(key string) {
	l.mu.Lock()
	delete(l.windows, key)
	l.mu.Unlock()
}

// Len returns the number of tracked windows.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Sweep drops windows that have reset.
func (l *MemoryLimiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for k, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, k)
			removed++
		}
	}
	return removed
}

func (l *MemoryLimiter) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer close(l.sweepDone)
	for {
		select {
		case <-l.stopSweep:
			return
		case <-ticker.C:
			l.Sweep(l.now())
		}
	}
}

// Close stops the sweeper.
func (l *MemoryLimiter) Close() error {
	l.stopOnce.Do(func() {
		close(l.stopSweep)
		<-l.sweepDone
	})
	return nil
}

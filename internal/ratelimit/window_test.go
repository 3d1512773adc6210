package ratelimit

import (
	"context"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(t *testing.T) (*MemoryLimiter, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	l := NewMemoryLimiter(time.Hour, clock.Now)
	t.Cleanup(func() { _ = l.Close() })
	return l, clock
}

func TestMemoryLimiterFixedWindow(t *testing.T) {
	ctx := context.Background()
	l, clock := newTestLimiter(t)

	for i := 0; i < 3; i++ {
		d, err := l.Check(ctx, "send-otp:1.2.3.4", 3, 10*time.Minute)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i)
	}

	d, err := l.Check(ctx, "send-otp:1.2.3.4", 3, 10*time.Minute)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 600, d.RetryAfter)

	clock.Advance(9*time.Minute + 30*time.Second)
	d, _ = l.Check(ctx, "send-otp:1.2.3.4", 3, 10*time.Minute)
	assert.False(t, d.Allowed)
	assert.Equal(t, 30, d.RetryAfter)

	clock.Advance(30 * time.Second)
	d, _ = l.Check(ctx, "send-otp:1.2.3.4", 3, 10*time.Minute)
	assert.True(t, d.Allowed, "new window after reset")
}

func TestMemoryLimiterKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(t)

	d, _ := l.Check(ctx, "send-otp:a", 1, time.Minute)
	assert.True(t, d.Allowed)
	d, _ = l.Check(ctx, "send-otp:a", 1, time.Minute)
	assert.False(t, d.Allowed)

	d, _ = l.Check(ctx, "verify-otp:a", 1, time.Minute)
	assert.True(t, d.Allowed)
	d, _ = l.Check(ctx, "send-otp:b", 1, time.Minute)
	assert.True(t, d.Allowed)
}

func TestMemoryLimiterRetryAfterAtLeastOne(t *testing.T) {
	ctx := context.Background()
	l, clock := newTestLimiter(t)

	_, _ = l.Check(ctx, "k", 1, time.Second)
	clock.Advance(999 * time.Millisecond)
	d, _ := l.Check(ctx, "k", 1, time.Second)
	assert.False(t, d.Allowed)
	assert.Equal(t, 1, d.RetryAfter)
}

func TestMemoryLimiterSweepAndReset(t *testing.T) {
	ctx := context.Background()
	l, clock := newTestLimiter(t)

	_, _ = l.Check(ctx, "a", 5, time.Minute)
	_, _ = l.Check(ctx, "b", 5, 2*time.Minute)
	assert.Equal(t, 2, l.Len())

	clock.Advance(90 * time.Second)
	assert.Equal(t, 1, l.Sweep(clock.Now()))
	assert.Equal(t, 1, l.Len())

	l.Reset("b")
	assert.Equal(t, 0, l.Len())
}

func TestMemoryLimiterConcurrent(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(t)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, _ := l.Check(ctx, "burst", 10, time.Minute)
			if d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, allowed)
}

func TestClientKey(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"forwarded first hop", map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"}, "send-otp:203.0.113.9"},
		{"real ip fallback", map[string]string{"X-Real-IP": "198.51.100.4"}, "send-otp:198.51.100.4"},
		{"forwarded wins", map[string]string{"X-Forwarded-For": "203.0.113.9", "X-Real-IP": "198.51.100.4"}, "send-otp:203.0.113.9"},
		{"unknown", nil, "send-otp:unknown"},
		{"blank forwarded", map[string]string{"X-Forwarded-For": " , 10.0.0.1"}, "send-otp:unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientKey(req, "send-otp"))
		})
	}
}

func TestPolicyAllow(t *testing.T) {
	l, _ := newTestLimiter(t)
	p := Policy{Operation: "verify-otp", Max: 1, Window: time.Minute}
	req := httptest.NewRequest("POST", "/", nil)
	req.Header.Set("X-Real-IP", "192.0.2.1")

	d, err := p.Allow(context.Background(), l, req)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	d, _ = p.Allow(context.Background(), l, req)
	assert.False(t, d.Allowed)
}

func TestRedisLimiter(t *testing.T) {
	addr := os.Getenv("NOTES_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("NOTES_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())

	l := NewRedisLimiter(client, "test:"+ulid.Make().String()+":")
	for i := 0; i < 2; i++ {
		d, err := l.Check(ctx, "send-otp:x", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
	d, err := l.Check(ctx, "send-otp:x", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.InDelta(t, 60, d.RetryAfter, 2)

	require.NoError(t, l.Reset(ctx, "send-otp:x"))
	d, _ = l.Check(ctx, "send-otp:x", 2, time.Minute)
	assert.True(t, d.Allowed)
}

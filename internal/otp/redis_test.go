package otp

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newRedisStore connects to NOTES_TEST_REDIS_ADDR or skips.
func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	addr := os.Getenv("NOTES_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("NOTES_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())

	prefix := "test:" + ulid.Make().String() + ":"
	s := NewRedisStore(client, prefix, Config{TTL: time.Minute, MaxAttempts: 3})
	s.newCode = fixedCode("123456")
	return s
}

func TestRedisStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newRedisStore(t)

	code, err := s.Issue(ctx, "Buyer@Example.com", "fp")
	require.NoError(t, err)

	assert.ErrorIs(t, s.Verify(ctx, "buyer@example.com", code, "other"), ErrCartMismatch)
	assert.ErrorIs(t, s.Verify(ctx, "buyer@example.com", "000000", "fp"), ErrInvalidCode)
	require.NoError(t, s.Verify(ctx, "buyer@example.com", code, "fp"))
	assert.ErrorIs(t, s.Verify(ctx, "buyer@example.com", code, "fp"), ErrAlreadyUsed)

	require.NoError(t, s.Reopen(ctx, "buyer@example.com", "fp"))
	require.NoError(t, s.Verify(ctx, "buyer@example.com", code, "fp"))
	require.NoError(t, s.Reopen(ctx, "buyer@example.com", "fp"))
	assert.ErrorIs(t, s.Verify(ctx, "buyer@example.com", code, "fp"), ErrTooManyAttempts)
	assert.ErrorIs(t, s.Reopen(ctx, "buyer@example.com", "fp"), ErrNotFound)

	_, err = s.Issue(ctx, "buyer@example.com", "fp")
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, "buyer@example.com"))
	assert.ErrorIs(t, s.Verify(ctx, "buyer@example.com", code, "fp"), ErrNotFound)
}

func TestRedisStoreTooManyAttempts(t *testing.T) {
	ctx := context.Background()
	s := newRedisStore(t)

	code, err := s.Issue(ctx, "a@example.com", "fp")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, s.Verify(ctx, "a@example.com", "999999", "fp"), ErrInvalidCode)
	}
	assert.ErrorIs(t, s.Verify(ctx, "a@example.com", code, "fp"), ErrTooManyAttempts)
	assert.ErrorIs(t, s.Verify(ctx, "a@example.com", code, "fp"), ErrNotFound)
}

func TestRedisStoreExpired(t *testing.T) {
	ctx := context.Background()
	s := newRedisStore(t)
	clock := newFakeClock()
	s.now = clock.Now

	code, err := s.Issue(ctx, "a@example.com", "fp")
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	assert.ErrorIs(t, s.Verify(ctx, "a@example.com", code, "fp"), ErrExpired)
}

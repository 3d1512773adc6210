package fulfillment

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLockerSerialisesPerKey(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(ctx, "pi_1", time.Minute)
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
	assert.Equal(t, 0, l.Len())
}

func TestMemoryLockerIndependentKeys(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	r1, err := l.Acquire(ctx, "a", time.Minute)
	require.NoError(t, err)
	r2, err := l.Acquire(ctx, "b", time.Minute)
	require.NoError(t, err)
	r1()
	r2()
	r2()
	assert.Equal(t, 0, l.Len())
}

func TestMemoryLockerContextTimeout(t *testing.T) {
	l := NewMemoryLocker()
	release, err := l.Acquire(context.Background(), "a", time.Minute)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "a", time.Minute)
	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.Equal(t, 1, l.Len())
}

func newRedisLocker(t *testing.T) (*RedisLocker, *redis.Client) {
	t.Helper()
	addr := os.Getenv("NOTES_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("NOTES_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())

	l := NewRedisLocker(client, "test:"+ulid.Make().String()+":")
	l.poll = 5 * time.Millisecond
	return l, client
}

func TestRedisLockerExclusive(t *testing.T) {
	l, client := newRedisLocker(t)
	ctx := context.Background()

	release, err := l.Acquire(ctx, "pi_1", time.Second)
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(short, "pi_1", time.Second)
	assert.ErrorIs(t, err, ErrLockTimeout)

	release()
	n, err := client.Exists(ctx, l.keyPrefix+"pi_1").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	release2, err := l.Acquire(ctx, "pi_1", time.Second)
	require.NoError(t, err)
	release2()
}

func TestRedisLockerExpiredHolderCannotReleaseNewHolder(t *testing.T) {
	l, client := newRedisLocker(t)
	ctx := context.Background()

	stale, err := l.Acquire(ctx, "pi_2", 20*time.Millisecond)
	require.NoError(t, err)
	time.Sleep(40 * time.Millisecond)

	fresh, err := l.Acquire(ctx, "pi_2", time.Second)
	require.NoError(t, err)
	stale()

	n, err := client.Exists(ctx, l.keyPrefix+"pi_2").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	fresh()
}

package cacheutil

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotCachesUntilTTL(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var calls atomic.Int32
	s := NewSnapshot(time.Minute, func(context.Context) (int, error) {
		return int(calls.Add(1)), nil
	}, func() time.Time { return now })

	v, err := s.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, _ = s.Get(context.Background())
	assert.Equal(t, 1, v)

	now = now.Add(time.Minute)
	v, _ = s.Get(context.Background())
	assert.Equal(t, 2, v)

	s.Invalidate()
	v, _ = s.Get(context.Background())
	assert.Equal(t, 3, v)
}

func TestSnapshotDoesNotCacheErrors(t *testing.T) {
	fail := true
	s := NewSnapshot(time.Minute, func(context.Context) (string, error) {
		if fail {
			return "", errors.New("boom")
		}
		return "ok", nil
	}, nil)

	_, err := s.Get(context.Background())
	require.Error(t, err)

	fail = false
	v, err := s.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestSnapshotZeroTTLAlwaysLoads(t *testing.T) {
	var calls atomic.Int32
	s := NewSnapshot(0, func(context.Context) (int32, error) { return calls.Add(1), nil }, nil)
	_, _ = s.Get(context.Background())
	_, _ = s.Get(context.Background())
	assert.Equal(t, int32(2), calls.Load())
}

func TestSnapshotConcurrentMissLoadsOnce(t *testing.T) {
	var calls atomic.Int32
	s := NewSnapshot(time.Hour, func(context.Context) (int, error) {
		calls.Add(1)
		time.Sleep(10 * time.Millisecond)
		return 7, nil
	}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := s.Get(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, 7, v)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), calls.Load())
}

func TestWriteThrough(t *testing.T) {
	invalidated := false
	err := WriteThrough(func() { invalidated = true }, func() error { return errors.New("write failed") })
	require.Error(t, err)
	assert.False(t, invalidated)

	require.NoError(t, WriteThrough(func() { invalidated = true }, func() error { return nil }))
	assert.True(t, invalidated)
}

package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreGetSet(t *testing.T) {
	s := NewMemoryStore()

	_, ok := s.Get("missing")
	assert.False(t, ok)

	s.Set("k", 42, 0)
	v, ok := s.Get("k")
	require.True(t, ok)
	assert.Equal(t, 42, v)

	s.Delete("k")
	_, ok = s.Get("k")
	assert.False(t, ok)
}

func TestMemoryStoreTTLExpiry(t *testing.T) {
	s := NewMemoryStore()

	s.Set("short", "v", 20*time.Millisecond)
	s.Set("forever", "v", 0)

	v, ok := s.Get("short")
	require.True(t, ok)
	assert.Equal(t, "v", v)

	time.Sleep(30 * time.Millisecond)

	_, ok = s.Get("short")
	assert.False(t, ok, "expired entries must read as misses")

	_, ok = s.Get("forever")
	assert.True(t, ok, "zero TTL means no expiry")
}

func TestMemoryStoreGetOrCompute(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	calls := 0
	compute := func(ctx context.Context) (any, error) {
		calls++
		return "computed", nil
	}

	v, err := s.GetOrCompute(ctx, "k", compute, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "computed", v)
	assert.Equal(t, 1, calls)

	// Second call hits the cache.
	v, err = s.GetOrCompute(ctx, "k", compute, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "computed", v)
	assert.Equal(t, 1, calls)
}

func TestMemoryStoreGetOrComputeSingleFlight(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var calls atomic.Int64
	release := make(chan struct{})
	compute := func(ctx context.Context) (any, error) {
		calls.Add(1)
		<-release
		return "shared", nil
	}

	const waiters = 16
	var wg sync.WaitGroup
	results := make([]any, waiters)
	errs := make([]error, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.GetOrCompute(ctx, "k", compute, time.Minute)
		}(i)
	}

	// Let every goroutine reach the flight before releasing the computation.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load(), "concurrent callers must share one computation")
	for i := 0; i < waiters; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared", results[i])
	}
}

func TestMemoryStoreGetOrComputeError(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	computeErr := errors.New("upstream down")
	calls := 0
	_, err := s.GetOrCompute(ctx, "k", func(ctx context.Context) (any, error) {
		calls++
		return nil, computeErr
	}, time.Minute)
	assert.ErrorIs(t, err, computeErr)

	// A failed computation must not poison the cache.
	v, err := s.GetOrCompute(ctx, "k", func(ctx context.Context) (any, error) {
		calls++
		return "ok", nil
	}, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 2, calls)
}

func TestMemoryStoreGetOrComputeWaiterCancellation(t *testing.T) {
	s := NewMemoryStore()

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		s.GetOrCompute(context.Background(), "k", func(ctx context.Context) (any, error) {
			close(started)
			<-release
			return "v", nil
		}, time.Minute)
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.GetOrCompute(ctx, "k", func(ctx context.Context) (any, error) {
		return "v", nil
	}, time.Minute)
	assert.ErrorIs(t, err, context.Canceled, "a cancelled waiter must return promptly")

	close(release)
}

func TestMemoryStorePurge(t *testing.T) {
	s := NewMemoryStore()

	s.Set("a", 1, 10*time.Millisecond)
	s.Set("b", 2, 10*time.Millisecond)
	s.Set("c", 3, 0)
	assert.Equal(t, 3, s.Len())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, s.Purge())
	assert.Equal(t, 1, s.Len())
}

func TestKey(t *testing.T) {
	a := Key("rerank", "model-v1", "query", "123")
	b := Key("rerank", "model-v1", "query", "123")
	c := Key("rerank", "model-v2", "query", "123")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.True(t, strings.HasPrefix(a, "rerank:"))

	// Part boundaries matter: ("ab","c") must differ from ("a","bc").
	assert.NotEqual(t, Key("p", "ab", "c"), Key("p", "a", "bc"))
}

package cachemanager

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func countingProbe(calls *int, err error) func(context.Context, string) (capabilities, error) {
	return func(_ context.Context, path string) (capabilities, error) {
		*calls++
		if err != nil {
			return capabilities{}, err
		}
		return capabilities{Server: path == "vim"}, nil
	}
}

func TestReadThroughCache_ComputesOnceThenHits(t *testing.T) {
	calls := 0
	cache := NewInMemoryCacheManager[string, capabilities]("probe", DefaultExpiration, DefaultCleanupInterval)
	rt := NewReadThroughCache[string, capabilities, string](cache, countingProbe(&calls, nil), false)

	for i := 0; i < 3; i++ {
		got, err := rt.Get(context.Background(), "vim", "vim", time.Minute)
		require.NoError(t, err)
		require.True(t, got.Server)
	}
	require.Equal(t, 1, calls)
}

func TestReadThroughCache_SkipCache(t *testing.T) {
	calls := 0
	cache := NewInMemoryCacheManager[string, capabilities]("probe", DefaultExpiration, DefaultCleanupInterval)
	rt := NewReadThroughCache[string, capabilities, string](cache, countingProbe(&calls, nil), true)

	_, _ = rt.Get(context.Background(), "vim", "vim", time.Minute)
	_, _ = rt.Get(context.Background(), "vim", "vim", time.Minute)

	require.Equal(t, 2, calls)
	require.Equal(t, 0, cache.Len())
}

func TestReadThroughCache_ErrorsAreNotCached(t *testing.T) {
	calls := 0
	boom := errors.New("exec: not found")
	cache := NewInMemoryCacheManager[string, capabilities]("probe", DefaultExpiration, DefaultCleanupInterval)
	rt := NewReadThroughCache[string, capabilities, string](cache, countingProbe(&calls, boom), false)

	_, err := rt.Get(context.Background(), "vim", "vim", time.Minute)
	require.ErrorIs(t, err, boom)
	_, err = rt.Get(context.Background(), "vim", "vim", time.Minute)
	require.ErrorIs(t, err, boom)

	require.Equal(t, 2, calls)
	require.Equal(t, 0, cache.Len())
}

func TestReadThroughCache_NilCacheCallsThrough(t *testing.T) {
	calls := 0
	rt := NewReadThroughCache[string, capabilities, string](nil, countingProbe(&calls, nil), false)

	got, err := rt.Get(context.Background(), "vim", "vim", time.Minute)
	require.NoError(t, err)
	require.True(t, got.Server)
	require.Equal(t, 1, calls)
}

func TestReadThroughCache_ConcurrentMissesShareOneCall(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	probe := func(_ context.Context, path string) (capabilities, error) {
		calls.Add(1)
		<-release
		return capabilities{Server: true}, nil
	}
	cache := NewInMemoryCacheManager[string, capabilities]("probe", DefaultExpiration, DefaultCleanupInterval)
	rt := NewReadThroughCache[string, capabilities, string](cache, probe, false)

	const n = 8
	var wg sync.WaitGroup
	results := make(chan capabilities, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := rt.Get(context.Background(), "vim", "vim", time.Minute)
			if err != nil {
				t.Error(err)
			}
			results <- got
		}()
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	require.Equal(t, int32(1), calls.Load())
	for got := range results {
		require.True(t, got.Server)
	}
}

func TestReadThroughCache_WaiterHonoursContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	probe := func(context.Context, string) (capabilities, error) {
		<-release
		return capabilities{}, nil
	}
	cache := NewInMemoryCacheManager[string, capabilities]("probe", DefaultExpiration, DefaultCleanupInterval)
	rt := NewReadThroughCache[string, capabilities, string](cache, probe, false)

	go func() { _, _ = rt.Get(context.Background(), "vim", "vim", time.Minute) }()
	require.Eventually(t, func() bool {
		rt.mu.Lock()
		defer rt.mu.Unlock()
		return len(rt.inflight) == 1
	}, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := rt.Get(ctx, "vim", "vim", time.Minute)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

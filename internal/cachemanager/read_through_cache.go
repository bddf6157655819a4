package cachemanager

import (
	"context"
	"sync"
	"time"

	"github.com/zjrosen/vimpilot/internal/log"
)

// ReadThroughCache computes values with fn on a miss and stores successful
// results. Errors are never cached. Concurrent misses on one key share a
// single call to fn.
type ReadThroughCache[K ~string, V any, I any] struct {
	cache  CacheManager[K, V]
	fn     func(ctx context.Context, input I) (V, error)
	bypass bool

	mu       sync.Mutex
	inflight map[K]*pending[V]
}

type pending[V any] struct {
	done  chan struct{}
	value V
	err   error
}

// NewReadThroughCache wraps fn with cache. With bypass set, or a nil cache,
// every Get calls fn.
func NewReadThroughCache[K ~string, V any, I any](
	cache CacheManager[K, V],
	fn func(ctx context.Context, input I) (V, error),
	bypass bool,
) *ReadThroughCache[K, V, I] {
	return &ReadThroughCache[K, V, I]{
		cache:    cache,
		fn:       fn,
		bypass:   bypass || cache == nil,
		inflight: make(map[K]*pending[V]),
	}
}

// Get returns the cached value for key or computes it from input.
func (r *ReadThroughCache[K, V, I]) Get(ctx context.Context, key K, input I, ttl time.Duration) (V, error) {
	if r.bypass {
		return r.fn(ctx, input)
	}
	if value, ok := r.cache.Get(ctx, key); ok {
		return value, nil
	}

	r.mu.Lock()
	// another caller may have finished between the lookup and the lock
	if value, ok := r.cache.Get(ctx, key); ok {
		r.mu.Unlock()
		return value, nil
	}
	if p, ok := r.inflight[key]; ok {
		r.mu.Unlock()
		log.Debug(log.CatCache, "waiting for in-flight computation", "key", key)
		select {
		case <-p.done:
			return p.value, p.err
		case <-ctx.Done():
			var zero V
			return zero, ctx.Err()
		}
	}
	p := &pending[V]{done: make(chan struct{})}
	r.inflight[key] = p
	r.mu.Unlock()

	p.value, p.err = r.fn(ctx, input)
	if p.err == nil {
		r.cache.Set(ctx, key, p.value, ttl)
	}

	r.mu.Lock()
	delete(r.inflight, key)
	r.mu.Unlock()
	close(p.done)

	return p.value, p.err
}

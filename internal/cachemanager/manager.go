// Package cachemanager provides small typed caches over go-cache. The binary
// resolver uses it to remember capability probe results per executable path.
package cachemanager

import (
	"context"
	"time"
)

// CacheManager is a typed key/value cache with per-entry TTLs. Keys are
// string-like because go-cache indexes by string.
type CacheManager[K ~string, V any] interface {
	// Get returns the value for key and whether it was present and of
	// type V.
	Get(ctx context.Context, key K) (V, bool)
	// GetWithRefresh is Get that also pushes the entry's expiry out to ttl
	// on a hit.
	GetWithRefresh(ctx context.Context, key K, ttl time.Duration) (V, bool)
	// Set stores value under key. A zero ttl uses the cache's default
	// expiration.
	Set(ctx context.Context, key K, value V, ttl time.Duration)
	Delete(ctx context.Context, keys ...K) error
	// Flush drops every entry.
	Flush(ctx context.Context) error
}

var _ CacheManager[string, struct{}] = (*InMemoryCacheManager[string, struct{}])(nil)

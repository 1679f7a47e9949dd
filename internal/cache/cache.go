// Package cache provides the thread-safe key/value stores that back the
// loader's per-leaf result cache.
//
// Two implementations are available:
//   - Simple: no eviction, entries live until deleted or cleared
//   - LRU: least recently used entries are evicted past a maximum size
//
// Statistics are always collected. Prometheus metrics are optional and
// enabled with WithMetrics.
package cache

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidKey is returned for empty keys.
	ErrInvalidKey = errors.New("cache: invalid key")
	// ErrInvalidSize is returned when an LRU cache is created with a
	// non-positive size.
	ErrInvalidSize = errors.New("cache: invalid size")
)

// Cache is a string-keyed store of values of type V.
type Cache[V any] interface {
	// Get returns the value for key and whether it was present.
	Get(key string) (V, bool)
	// Contains reports whether key is present without counting a hit or a
	// miss and without touching recency.
	Contains(key string) bool
	// Set stores value under key. It reports whether a new entry was created.
	Set(key string, value V) (bool, error)
	// Delete removes key and reports whether it existed.
	Delete(key string) (bool, error)
	// Clear removes every entry.
	Clear() error
	Size() int
	Keys() []string
	Stats() *Statistics
	Close() error
}

// EvictCallback is called with each entry removed by Delete, Clear or
// eviction. It is never called with the cache lock held.
type EvictCallback[V any] func(key string, value V)

func validateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	return nil
}

func withMetrics(opts *options, name string) (*cacheMetrics, error) {
	if opts.registerer == nil {
		return nil, nil
	}
	m, err := newCacheMetrics(opts.registerer, opts.prefix)
	if err != nil {
		return nil, fmt.Errorf("cache: %s: register metrics: %w", name, err)
	}
	return m, nil
}

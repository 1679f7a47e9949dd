package cache

import "github.com/prometheus/client_golang/prometheus"

// Option configures a cache.
type Option[V any] func(*cacheOptions[V])

type options struct {
	registerer prometheus.Registerer
	prefix     string
}

type cacheOptions[V any] struct {
	options
	evictCallback EvictCallback[V]
}

// WithMetrics exports the cache statistics to reg. prefix becomes the
// "cache" label of every series. A nil registerer or an empty prefix leaves
// metrics disabled.
func WithMetrics[V any](reg prometheus.Registerer, prefix string) Option[V] {
	return func(o *cacheOptions[V]) {
		if reg != nil && prefix != "" {
			o.registerer = reg
			o.prefix = prefix
		}
	}
}

// WithEvictionCallback sets the callback for removed entries.
func WithEvictionCallback[V any](fn EvictCallback[V]) Option[V] {
	return func(o *cacheOptions[V]) {
		o.evictCallback = fn
	}
}

func applyOptions[V any](opts ...Option[V]) *cacheOptions[V] {
	o := &cacheOptions[V]{}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

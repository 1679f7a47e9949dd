package cache

import (
	"sort"
	"sync"
)

type simpleCache[V any] struct {
	mu      sync.RWMutex
	items   map[string]V
	stats   *Statistics
	metrics *cacheMetrics
	evictFn EvictCallback[V]
}

// NewSimple returns a cache without eviction.
func NewSimple[V any](opts ...Option[V]) (Cache[V], error) {
	o := applyOptions(opts...)
	metrics, err := withMetrics(&o.options, "simple")
	if err != nil {
		return nil, err
	}
	return &simpleCache[V]{
		items:   make(map[string]V),
		stats:   NewStatistics(),
		metrics: metrics,
		evictFn: o.evictCallback,
	}, nil
}

func (c *simpleCache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	v, ok := c.items[key]
	c.mu.RUnlock()
	if ok {
		c.stats.Hit()
		c.metrics.recordHit()
	} else {
		c.stats.Miss()
		c.metrics.recordMiss()
	}
	return v, ok
}

func (c *simpleCache[V]) Contains(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.items[key]
	return ok
}

func (c *simpleCache[V]) Set(key string, value V) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	c.mu.Lock()
	_, exists := c.items[key]
	c.items[key] = value
	n := len(c.items)
	c.mu.Unlock()

	c.stats.Set()
	c.stats.UpdateSize(int64(n))
	c.metrics.recordSet()
	c.metrics.updateSize(n)
	return !exists, nil
}

func (c *simpleCache[V]) Delete(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	c.mu.Lock()
	v, ok := c.items[key]
	if ok {
		delete(c.items, key)
	}
	n := len(c.items)
	c.mu.Unlock()
	if !ok {
		return false, nil
	}

	c.stats.Delete()
	c.stats.UpdateSize(int64(n))
	c.metrics.recordDelete()
	c.metrics.updateSize(n)
	if c.evictFn != nil {
		c.evictFn(key, v)
	}
	return true, nil
}

func (c *simpleCache[V]) Clear() error {
	c.mu.Lock()
	old := c.items
	c.items = make(map[string]V)
	c.mu.Unlock()

	c.stats.UpdateSize(0)
	c.metrics.updateSize(0)
	if c.evictFn != nil {
		for k, v := range old {
			c.evictFn(k, v)
		}
	}
	return nil
}

func (c *simpleCache[V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Keys returns the keys in lexical order.
func (c *simpleCache[V]) Keys() []string {
	c.mu.RLock()
	keys := make([]string, 0, len(c.items))
	for k := range c.items {
		keys = append(keys, k)
	}
	c.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

func (c *simpleCache[V]) Stats() *Statistics { return c.stats }

func (c *simpleCache[V]) Close() error { return nil }

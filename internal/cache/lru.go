package cache

import (
	"container/list"
	"fmt"
	"sync"
)

type lruEntry[V any] struct {
	key   string
	value V
}

type lruCache[V any] struct {
	mu      sync.Mutex
	maxSize int
	items   map[string]*list.Element
	order   *list.List // front is most recently used
	stats   *Statistics
	metrics *cacheMetrics
	evictFn EvictCallback[V]
}

// NewLRU returns a cache holding at most maxSize entries.
func NewLRU[V any](maxSize int, opts ...Option[V]) (Cache[V], error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, maxSize)
	}
	o := applyOptions(opts...)
	metrics, err := withMetrics(&o.options, "lru")
	if err != nil {
		return nil, err
	}
	return &lruCache[V]{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
		stats:   NewStatistics(),
		metrics: metrics,
		evictFn: o.evictCallback,
	}, nil
}

func (c *lruCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	el, ok := c.items[key]
	var v V
	if ok {
		c.order.MoveToFront(el)
		v = el.Value.(*lruEntry[V]).value
	}
	c.mu.Unlock()

	if ok {
		c.stats.Hit()
		c.metrics.recordHit()
	} else {
		c.stats.Miss()
		c.metrics.recordMiss()
	}
	return v, ok
}

func (c *lruCache[V]) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key]
	return ok
}

func (c *lruCache[V]) Set(key string, value V) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	var evicted []lruEntry[V]

	c.mu.Lock()
	el, exists := c.items[key]
	if exists {
		el.Value.(*lruEntry[V]).value = value
		c.order.MoveToFront(el)
	} else {
		c.items[key] = c.order.PushFront(&lruEntry[V]{key: key, value: value})
		for len(c.items) > c.maxSize {
			back := c.order.Back()
			e := back.Value.(*lruEntry[V])
			c.order.Remove(back)
			delete(c.items, e.key)
			evicted = append(evicted, *e)
		}
	}
	n := len(c.items)
	c.mu.Unlock()

	c.stats.Set()
	c.stats.UpdateSize(int64(n))
	c.metrics.recordSet()
	c.metrics.updateSize(n)
	for _, e := range evicted {
		c.stats.Eviction()
		c.metrics.recordEviction()
		if c.evictFn != nil {
			c.evictFn(e.key, e.value)
		}
	}
	return !exists, nil
}

func (c *lruCache[V]) Delete(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	c.mu.Lock()
	el, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		return false, nil
	}
	e := el.Value.(*lruEntry[V])
	c.order.Remove(el)
	delete(c.items, key)
	n := len(c.items)
	c.mu.Unlock()

	c.stats.Delete()
	c.stats.UpdateSize(int64(n))
	c.metrics.recordDelete()
	c.metrics.updateSize(n)
	if c.evictFn != nil {
		c.evictFn(e.key, e.value)
	}
	return true, nil
}

func (c *lruCache[V]) Clear() error {
	var removed []lruEntry[V]
	c.mu.Lock()
	if c.evictFn != nil {
		for el := c.order.Back(); el != nil; el = el.Prev() {
			removed = append(removed, *el.Value.(*lruEntry[V]))
		}
	}
	c.items = make(map[string]*list.Element)
	c.order.Init()
	c.mu.Unlock()

	c.stats.UpdateSize(0)
	c.metrics.updateSize(0)
	for _, e := range removed {
		c.evictFn(e.key, e.value)
	}
	return nil
}

func (c *lruCache[V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Keys returns the keys from most to least recently used.
func (c *lruCache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.items))
	for el := c.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*lruEntry[V]).key)
	}
	return keys
}

func (c *lruCache[V]) Stats() *Statistics { return c.stats }

func (c *lruCache[V]) Close() error { return nil }

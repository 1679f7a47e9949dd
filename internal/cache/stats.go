package cache

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Statistics counts cache operations. All methods are safe for concurrent
// use.
type Statistics struct {
	hits      atomic.Int64
	misses    atomic.Int64
	sets      atomic.Int64
	deletes   atomic.Int64
	evictions atomic.Int64
	size      atomic.Int64
	maxSize   atomic.Int64
	startTime time.Time
}

// NewStatistics returns zeroed statistics.
func NewStatistics() *Statistics {
	return &Statistics{startTime: time.Now()}
}

func (s *Statistics) Hit()      { s.hits.Add(1) }
func (s *Statistics) Miss()     { s.misses.Add(1) }
func (s *Statistics) Set()      { s.sets.Add(1) }
func (s *Statistics) Delete()   { s.deletes.Add(1) }
func (s *Statistics) Eviction() { s.evictions.Add(1) }

// UpdateSize records the current entry count and the high-water mark.
func (s *Statistics) UpdateSize(n int64) {
	s.size.Store(n)
	for {
		peak := s.maxSize.Load()
		if n <= peak || s.maxSize.CompareAndSwap(peak, n) {
			return
		}
	}
}

func (s *Statistics) Hits() int64        { return s.hits.Load() }
func (s *Statistics) Misses() int64      { return s.misses.Load() }
func (s *Statistics) Sets() int64        { return s.sets.Load() }
func (s *Statistics) Deletes() int64     { return s.deletes.Load() }
func (s *Statistics) Evictions() int64   { return s.evictions.Load() }
func (s *Statistics) CurrentSize() int64 { return s.size.Load() }
func (s *Statistics) MaxSize() int64     { return s.maxSize.Load() }

// HitRatio returns hits over lookups, or 0 before the first lookup.
func (s *Statistics) HitRatio() float64 {
	hits, misses := s.Hits(), s.Misses()
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

// Uptime returns the time since the statistics were created.
func (s *Statistics) Uptime() time.Duration {
	return time.Since(s.startTime)
}

// Summary renders the counters on one line for logging.
func (s *Statistics) Summary() string {
	return fmt.Sprintf("hits=%d misses=%d ratio=%.2f sets=%d deletes=%d evictions=%d size=%d max=%d",
		s.Hits(), s.Misses(), s.HitRatio(), s.Sets(), s.Deletes(), s.Evictions(), s.CurrentSize(), s.MaxSize())
}

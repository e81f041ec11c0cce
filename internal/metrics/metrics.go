package metrics

import (
	"sync/atomic"
	"time"
)

// BucketCount is the number of histogram buckets, the last one being +Inf.
const BucketCount = 8

const cacheLineSize = 64

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

type histogram struct {
	buckets [BucketCount]uint64
}

// Set holds a fixed number of counters indexed 0..size-1. Ids outside that range are
// ignored.
type Set struct {
	enabled    bool
	latency    bool
	counters   []paddedCounter
	histograms []histogram
	observed   []bool
}

// New returns a Set with size counters. Only the ids listed in histogramIDs accept
// Observe calls, and only when latency is true.
func New(size int, enabled, latency bool, histogramIDs ...int) *Set {
	if size < 0 {
		size = 0
	}
	s := &Set{
		enabled:    enabled,
		latency:    enabled && latency,
		counters:   make([]paddedCounter, size),
		histograms: make([]histogram, size),
		observed:   make([]bool, size),
	}
	for _, id := range histogramIDs {
		if id >= 0 && id < size {
			s.observed[id] = true
		}
	}
	return s
}

// Enabled reports whether Inc records anything.
func (s *Set) Enabled() bool {
	return s != nil && s.enabled
}

// LatencyEnabled reports whether Observe records anything.
func (s *Set) LatencyEnabled() bool {
	return s != nil && s.latency
}

// Inc adds one to counter id.
func (s *Set) Inc(id int) {
	if s == nil || !s.enabled || id < 0 || id >= len(s.counters) {
		return
	}
	atomic.AddUint64(&s.counters[id].value, 1)
}

// Observe records d in histogram id.
func (s *Set) Observe(id int, d time.Duration) {
	if s == nil || !s.latency || id < 0 || id >= len(s.histograms) || !s.observed[id] {
		return
	}
	atomic.AddUint64(&s.histograms[id].buckets[BucketIndex(d)], 1)
}

// Value returns the current value of counter id.
func (s *Set) Value(id int) uint64 {
	if s == nil || id < 0 || id >= len(s.counters) {
		return 0
	}
	return atomic.LoadUint64(&s.counters[id].value)
}

// Counters returns every counter value, indexed by id. Nil when disabled.
func (s *Set) Counters() []uint64 {
	if s == nil || !s.enabled {
		return nil
	}
	out := make([]uint64, len(s.counters))
	for i := range s.counters {
		out[i] = atomic.LoadUint64(&s.counters[i].value)
	}
	return out
}

// Histograms returns the non-cumulative buckets of every observed histogram. Nil when
// latency recording is off.
func (s *Set) Histograms() map[int][]uint64 {
	if s == nil || !s.latency {
		return nil
	}
	out := make(map[int][]uint64)
	for id, ok := range s.observed {
		if !ok {
			continue
		}
		buckets := make([]uint64, BucketCount)
		for i := 0; i < BucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&s.histograms[id].buckets[i])
		}
		out[id] = buckets
	}
	return out
}

// BucketIndex maps d onto the fixed bucket layout 5,10,25,50,100,250,500ms,+Inf.
func BucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}

package cache

import "sync/atomic"

// metrics are the cache counters.
type metrics struct {
	hits       atomic.Uint64
	misses     atomic.Uint64
	evictions  atomic.Uint64
	insertions atomic.Uint64
	fetches    atomic.Uint64
}

// Metrics is a snapshot of the cache counters.
type Metrics struct {
	Hits       uint64 `json:"hits"`
	Misses     uint64 `json:"misses"`
	Evictions  uint64 `json:"evictions"`
	Insertions uint64 `json:"insertions"`

	// Fetches counts upstream fetches issued by GetOrFetch after coalescing.
	Fetches uint64 `json:"fetches"`
}

// HitRate returns hits as a percentage of lookups, or 0 when there were none.
func (m Metrics) HitRate() float64 {
	total := m.Hits + m.Misses
	if total == 0 {
		return 0
	}
	return float64(m.Hits) / float64(total) * 100
}

func (m *metrics) snapshot() Metrics {
	return Metrics{
		Hits:       m.hits.Load(),
		Misses:     m.misses.Load(),
		Evictions:  m.evictions.Load(),
		Insertions: m.insertions.Load(),
		Fetches:    m.fetches.Load(),
	}
}

package cache

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus collectors for cache activity. Registered once at package
// load; every Store instance shares them.
var (
	promOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draftwire_cache_operations_total",
			Help: "Total cache operations by operation and result",
		},
		[]string{"operation", "result"},
	)

	promFallbackSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "draftwire_cache_fallback_entries",
			Help: "Current number of entries in the in-process fallback tier",
		},
	)
)

// MetricsSnapshot is a point-in-time view of store activity since the last
// reset.
type MetricsSnapshot struct {
	Hits          uint64  `json:"hits"`
	Misses        uint64  `json:"misses"`
	Errors        uint64  `json:"errors"`
	Sets          uint64  `json:"sets"`
	Deletes       uint64  `json:"deletes"`
	Invalidations uint64  `json:"invalidations"`
	FallbackHits  uint64  `json:"fallback_hits"`
	FallbackSize  int     `json:"fallback_size"`
	HitRate       float64 `json:"hit_rate"`
}

// storeMetrics holds the mutable counters behind a Store's snapshot.
type storeMetrics struct {
	mu            sync.Mutex
	hits          uint64
	misses        uint64
	errors        uint64
	sets          uint64
	deletes       uint64
	invalidations uint64
	fallbackHits  uint64
}

func (m *storeMetrics) recordHit(fromFallback bool) {
	m.mu.Lock()
	m.hits++
	if fromFallback {
		m.fallbackHits++
	}
	m.mu.Unlock()
	promOps.WithLabelValues("get", "hit").Inc()
}

func (m *storeMetrics) recordMiss() {
	m.mu.Lock()
	m.misses++
	m.mu.Unlock()
	promOps.WithLabelValues("get", "miss").Inc()
}

func (m *storeMetrics) recordError(op string) {
	m.mu.Lock()
	m.errors++
	m.mu.Unlock()
	promOps.WithLabelValues(op, "error").Inc()
}

func (m *storeMetrics) recordSet() {
	m.mu.Lock()
	m.sets++
	m.mu.Unlock()
	promOps.WithLabelValues("set", "ok").Inc()
}

func (m *storeMetrics) recordDelete() {
	m.mu.Lock()
	m.deletes++
	m.mu.Unlock()
	promOps.WithLabelValues("delete", "ok").Inc()
}

func (m *storeMetrics) recordInvalidation() {
	m.mu.Lock()
	m.invalidations++
	m.mu.Unlock()
	promOps.WithLabelValues("invalidate_tag", "ok").Inc()
}

// snapshot copies the counters and derives the hit rate.
func (m *storeMetrics) snapshot(fallbackSize int) MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := MetricsSnapshot{
		Hits:          m.hits,
		Misses:        m.misses,
		Errors:        m.errors,
		Sets:          m.sets,
		Deletes:       m.deletes,
		Invalidations: m.invalidations,
		FallbackHits:  m.fallbackHits,
		FallbackSize:  fallbackSize,
	}
	if total := snap.Hits + snap.Misses; total > 0 {
		snap.HitRate = float64(snap.Hits) / float64(total)
	}
	return snap
}

// reset zeroes the counters. The Prometheus collectors are cumulative and
// are not reset.
func (m *storeMetrics) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hits = 0
	m.misses = 0
	m.errors = 0
	m.sets = 0
	m.deletes = 0
	m.invalidations = 0
	m.fallbackHits = 0
}

package realtime

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus collectors for connection activity. Registered once at
// package load; every Manager instance shares them.
var (
	promMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draftwire_realtime_messages_total",
			Help: "Total realtime messages by direction and result",
		},
		[]string{"direction", "result"},
	)

	promConnState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "draftwire_realtime_connection_state",
			Help: "Connection state (0=disconnected 1=connecting 2=connected 3=reconnecting)",
		},
	)
)

// MetricsSnapshot is a point-in-time view of connection activity since the
// last reset.
type MetricsSnapshot struct {
	Sent         uint64  `json:"sent"`
	Received     uint64  `json:"received"`
	Errors       uint64  `json:"errors"`
	Buffered     uint64  `json:"buffered"`
	Dropped      uint64  `json:"dropped"`
	Deduplicated uint64  `json:"deduplicated"`
	Reconnects   uint64  `json:"reconnects"`
	BufferSize   int     `json:"buffer_size"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// managerMetrics holds the mutable counters behind a Manager's snapshot.
type managerMetrics struct {
	mu           sync.Mutex
	sent         uint64
	received     uint64
	errors       uint64
	buffered     uint64
	dropped      uint64
	deduplicated uint64
	reconnects   uint64
}

func (m *managerMetrics) recordSent() {
	m.mu.Lock()
	m.sent++
	m.mu.Unlock()
	promMessages.WithLabelValues("outbound", "sent").Inc()
}

func (m *managerMetrics) recordReceived() {
	m.mu.Lock()
	m.received++
	m.mu.Unlock()
	promMessages.WithLabelValues("inbound", "received").Inc()
}

func (m *managerMetrics) recordError() {
	m.mu.Lock()
	m.errors++
	m.mu.Unlock()
	promMessages.WithLabelValues("outbound", "error").Inc()
}

func (m *managerMetrics) recordBuffered() {
	m.mu.Lock()
	m.buffered++
	m.mu.Unlock()
	promMessages.WithLabelValues("outbound", "buffered").Inc()
}

func (m *managerMetrics) recordDropped() {
	m.mu.Lock()
	m.dropped++
	m.mu.Unlock()
	promMessages.WithLabelValues("outbound", "dropped").Inc()
}

func (m *managerMetrics) recordDeduplicated() {
	m.mu.Lock()
	m.deduplicated++
	m.mu.Unlock()
	promMessages.WithLabelValues("inbound", "deduplicated").Inc()
}

func (m *managerMetrics) recordReconnect() {
	m.mu.Lock()
	m.reconnects++
	m.mu.Unlock()
}

// errorRate returns errors relative to send attempts, for health
// evaluation.
func (m *managerMetrics) errorRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := m.sent + m.errors
	if total == 0 {
		return 0
	}
	return float64(m.errors) / float64(total)
}

// snapshot copies the counters.
func (m *managerMetrics) snapshot(bufferSize int, avgLatencyMs float64) MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MetricsSnapshot{
		Sent:         m.sent,
		Received:     m.received,
		Errors:       m.errors,
		Buffered:     m.buffered,
		Dropped:      m.dropped,
		Deduplicated: m.deduplicated,
		Reconnects:   m.reconnects,
		BufferSize:   bufferSize,
		AvgLatencyMs: avgLatencyMs,
	}
}

// reset zeroes the snapshot counters. The Prometheus collectors are
// cumulative and are not reset.
func (m *managerMetrics) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = 0
	m.received = 0
	m.errors = 0
	m.buffered = 0
	m.dropped = 0
	m.deduplicated = 0
	m.reconnects = 0
}

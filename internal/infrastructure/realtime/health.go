package realtime

import (
	"time"

	"github.com/draftwire/draftwire-core/internal/infrastructure/config"
)

// HealthStatus is the coarse health classification of the connection.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// Health is a point-in-time health evaluation.
type Health struct {
	Status        HealthStatus `json:"status"`
	State         string       `json:"state"`
	AvgLatencyMs  float64      `json:"avg_latency_ms"`
	ErrorRate     float64      `json:"error_rate"`
	LastHeartbeat time.Time    `json:"last_heartbeat"`
	Reason        string       `json:"reason,omitempty"`
}

// evaluateHealth classifies the connection from current metrics alone.
//
// Unhealthy: disconnected, heartbeat stale beyond the threshold, or error
// rate above the high bound. Degraded: latency or error rate above the
// lower bound. Healthy otherwise.
func evaluateHealth(cfg config.HealthConfig, state ConnState, lastHeartbeat time.Time,
	now time.Time, avgLatencyMs float64, errorRate float64) Health {

	h := Health{
		Status:        StatusHealthy,
		State:         state.String(),
		AvgLatencyMs:  avgLatencyMs,
		ErrorRate:     errorRate,
		LastHeartbeat: lastHeartbeat,
	}

	staleAfter := time.Duration(cfg.StaleAfter) * time.Second

	switch {
	case state != Connected:
		h.Status = StatusUnhealthy
		h.Reason = "not connected"
	case !lastHeartbeat.IsZero() && now.Sub(lastHeartbeat) > staleAfter:
		h.Status = StatusUnhealthy
		h.Reason = "heartbeat stale"
	case errorRate > cfg.UnhealthyErrorRate:
		h.Status = StatusUnhealthy
		h.Reason = "error rate above unhealthy bound"
	case errorRate > cfg.DegradedErrorRate:
		h.Status = StatusDegraded
		h.Reason = "error rate above degraded bound"
	case cfg.DegradedLatencyMs > 0 && avgLatencyMs > float64(cfg.DegradedLatencyMs):
		h.Status = StatusDegraded
		h.Reason = "latency above degraded bound"
	}

	return h
}

package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/draftwire/draftwire-core/internal/infrastructure/cache"
	"github.com/draftwire/draftwire-core/internal/infrastructure/config"
	"github.com/draftwire/draftwire-core/internal/infrastructure/realtime"
)

// Default timeouts for InfluxDB operations.
const (
	defaultConnectTimeout = 10 * time.Second
	defaultPingTimeout    = 5 * time.Second

	// millisecondsPerSecond converts seconds to milliseconds for the InfluxDB API.
	millisecondsPerSecond = 1000
)

// Recorder wraps the InfluxDB v2 client for Draftwire's time-series needs.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Write operations are non-blocking and batched.
type Recorder struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	cfg      config.InfluxDBConfig

	connected bool
	mu        sync.RWMutex

	// onError is called when async write errors occur.
	onError func(err error)
}

// Connect establishes a connection to the InfluxDB server.
//
// It performs the following setup:
//  1. Creates the client with token authentication
//  2. Verifies connectivity with a ping
//  3. Configures the non-blocking write API with batching
//  4. Sets up error draining for async write failures
//
// Parameters:
//   - cfg: InfluxDB configuration from config.yaml
//
// Returns:
//   - *Recorder: Connected recorder ready for use
//   - error: If telemetry is disabled or connection fails
func Connect(cfg config.InfluxDBConfig) (*Recorder, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = 10
	}

	// #nosec G115 -- values validated above to be positive
	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batchSize)).
			SetFlushInterval(uint(flushInterval)*millisecondsPerSecond),
	)

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)

	r := &Recorder{
		client:    client,
		writeAPI:  writeAPI,
		cfg:       cfg,
		connected: true,
	}

	errorsCh := writeAPI.Errors()
	go r.handleWriteErrors(errorsCh)

	return r, nil
}

// handleWriteErrors processes async write errors from the WriteAPI.
func (r *Recorder) handleWriteErrors(errorsCh <-chan error) {
	for err := range errorsCh {
		r.mu.RLock()
		callback := r.onError
		r.mu.RUnlock()

		if callback != nil {
			callback(err)
		}
	}
}

// RecordHeartbeat writes one broker heartbeat sample.
//
// Parameters:
//   - state: Connection state name (e.g. "connected")
//   - latencyMs: Rolling-average heartbeat round trip in milliseconds
func (r *Recorder) RecordHeartbeat(state string, latencyMs float64) {
	if !r.IsConnected() {
		return
	}

	point := write.NewPoint(
		"broker_heartbeat",
		map[string]string{
			"state": state,
		},
		map[string]interface{}{
			"latency_ms": latencyMs,
		},
		time.Now(),
	)

	r.writeAPI.WritePoint(point)
}

// RecordCacheSnapshot writes one cache effectiveness sample: hit rate,
// operation counters, and fallback pressure.
func (r *Recorder) RecordCacheSnapshot(snap cache.MetricsSnapshot) {
	if !r.IsConnected() {
		return
	}

	point := write.NewPoint(
		"cache_snapshot",
		map[string]string{
			"namespace": r.cfg.Org,
		},
		map[string]interface{}{
			"hits":          int64(snap.Hits),
			"misses":        int64(snap.Misses),
			"sets":          int64(snap.Sets),
			"errors":        int64(snap.Errors),
			"invalidations": int64(snap.Invalidations),
			"fallback_hits": int64(snap.FallbackHits),
			"fallback_size": int64(snap.FallbackSize),
			"hit_rate":      snap.HitRate,
		},
		time.Now(),
	)

	r.writeAPI.WritePoint(point)
}

// RecordRealtimeSnapshot writes one realtime throughput sample.
func (r *Recorder) RecordRealtimeSnapshot(snap realtime.MetricsSnapshot) {
	if !r.IsConnected() {
		return
	}

	point := write.NewPoint(
		"realtime_snapshot",
		map[string]string{},
		map[string]interface{}{
			"sent":         int64(snap.Sent),
			"received":     int64(snap.Received),
			"errors":       int64(snap.Errors),
			"buffered":     int64(snap.Buffered),
			"dropped":      int64(snap.Dropped),
			"deduplicated": int64(snap.Deduplicated),
			"reconnects":   int64(snap.Reconnects),
			"buffer_size":  int64(snap.BufferSize),
			"latency_ms":   snap.AvgLatencyMs,
		},
		time.Now(),
	)

	r.writeAPI.WritePoint(point)
}

// RecordConnEvent writes a connection lifecycle event (connect, reconnect,
// server close) for incident timelines.
func (r *Recorder) RecordConnEvent(event string, detail string) {
	if !r.IsConnected() {
		return
	}

	point := write.NewPoint(
		"broker_events",
		map[string]string{
			"event": event,
		},
		map[string]interface{}{
			"detail": detail,
		},
		time.Now(),
	)

	r.writeAPI.WritePoint(point)
}

// Close gracefully shuts down the InfluxDB connection.
//
// It performs:
//  1. Flushes any pending writes
//  2. Closes the underlying client
//
// Returns:
//   - error: nil (InfluxDB client Close doesn't return errors)
func (r *Recorder) Close() error {
	if r.client == nil {
		return nil
	}

	r.mu.Lock()
	r.connected = false
	r.mu.Unlock()

	r.writeAPI.Flush()
	r.client.Close()

	return nil
}

// HealthCheck verifies the InfluxDB connection is alive and functioning.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (r *Recorder) HealthCheck(ctx context.Context) error {
	if !r.IsConnected() {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	healthy, err := r.client.Ping(checkCtx)
	if err != nil {
		return fmt.Errorf("telemetry health check failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("telemetry health check failed: server not healthy")
	}

	return nil
}

// IsConnected returns the current connection state.
//
// Note: This reflects the last known state. For reliability,
// use HealthCheck which performs an active ping.
func (r *Recorder) IsConnected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connected
}

// SetOnError sets a callback to be invoked when async write errors occur.
//
// Since writes are non-blocking, errors are delivered asynchronously.
// Use this callback to log or handle write failures.
func (r *Recorder) SetOnError(callback func(err error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onError = callback
}

// Flush forces all pending writes to be sent to InfluxDB.
//
// This blocks until all buffered points are written.
// Safe to call after Close() (no-op).
func (r *Recorder) Flush() {
	if r.writeAPI == nil {
		return
	}

	r.mu.RLock()
	connected := r.connected
	r.mu.RUnlock()

	if !connected {
		return
	}

	r.writeAPI.Flush()
}

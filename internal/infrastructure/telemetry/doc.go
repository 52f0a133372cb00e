// Package telemetry provides InfluxDB connectivity for Draftwire Core.
//
// It wraps the official influxdb-client-go v2 library with Draftwire-specific
// patterns for connection management and time-series recording.
//
// # Purpose
//
// This package handles time-series data storage for:
//   - Broker connection health (heartbeat latency, state transitions)
//   - Cache effectiveness snapshots (hit rate, fallback pressure)
//   - Realtime throughput (sent/received/dropped counters)
//
// # Usage
//
//	cfg := config.InfluxDBConfig{
//	    URL:    "http://localhost:8086",
//	    Token:  "your-token",
//	    Org:    "draftwire",
//	    Bucket: "telemetry",
//	}
//
//	rec, err := telemetry.Connect(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rec.Close()
//
//	rec.RecordHeartbeat("connected", 42.0)
//	rec.RecordCacheSnapshot(store.Metrics())
//
// Writes are non-blocking and batched; async write errors surface through
// the SetOnError callback.
package telemetry

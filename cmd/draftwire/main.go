// Draftwire Core - Realtime Fantasy Sports Data Plane
//
// This is the main entry point for the Draftwire Core service. It wires
// together the two-tier cache (Redis primary, in-process fallback) and the
// realtime broker connection that feeds live score and roster updates into
// the cache and out to subscribers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/draftwire/draftwire-core/internal/infrastructure/cache"
	"github.com/draftwire/draftwire-core/internal/infrastructure/config"
	"github.com/draftwire/draftwire-core/internal/infrastructure/logging"
	"github.com/draftwire/draftwire-core/internal/infrastructure/realtime"
	"github.com/draftwire/draftwire-core/internal/infrastructure/telemetry"
	"github.com/draftwire/draftwire-core/internal/infrastructure/transport"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// fallbackSweepInterval is how often expired in-process cache entries are
// proactively reclaimed; lazy expiry on read handles correctness, the
// sweep only bounds memory.
const fallbackSweepInterval = time.Minute

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Draftwire Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Connect to Redis (primary cache tier). A failed ping is not fatal:
	// the cache degrades to the in-process fallback tier until Redis
	// returns.
	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: cfg.GetDialTimeout(),
		ReadTimeout: cfg.GetReadTimeout(),
	})
	defer func() {
		log.Info("closing redis client")
		if closeErr := rdb.Close(); closeErr != nil {
			log.Error("error closing redis", "error", closeErr)
		}
	}()

	if pingErr := rdb.Ping(ctx).Err(); pingErr != nil {
		log.Warn("redis unreachable, serving from fallback tier", "addr", cfg.Redis.Addr, "error", pingErr)
	} else {
		log.Info("redis connected", "addr", cfg.Redis.Addr, "db", cfg.Redis.DB)
	}

	store := cache.New(rdb, cfg.Cache, log)
	log.Info("cache initialised",
		"namespace", cfg.Cache.Namespace,
		"default_ttl", cfg.Cache.DefaultTTL,
		"fallback_max_entries", cfg.Cache.Fallback.MaxEntries,
	)

	// Build the broker transport selected by config.
	tr, err := buildTransport(cfg, log)
	if err != nil {
		return fmt.Errorf("building transport: %w", err)
	}

	// The realtime manager owns the transport lifecycle: reconnection,
	// heartbeats, buffering, and write-through into the cache.
	manager := realtime.NewManager(tr, store, cfg.Realtime, log)
	if connectErr := manager.Connect(ctx); connectErr != nil {
		// The manager is already backing off and retrying; startup proceeds
		// with buffered sends.
		log.Warn("broker not yet connected", "error", connectErr)
	}
	defer func() {
		log.Info("disconnecting from broker")
		manager.Disconnect()
	}()
	log.Info("realtime manager started",
		"broker", cfg.Broker.Kind,
		"state", manager.State().String(),
	)

	// Connect to InfluxDB (optional)
	var recorder *telemetry.Recorder
	if cfg.InfluxDB.Enabled {
		recorder, err = telemetry.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := recorder.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		recorder.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Background maintenance: fallback-tier sweep and telemetry snapshots.
	go sweepLoop(ctx, store, log)
	if recorder != nil {
		go snapshotLoop(ctx, cfg, store, manager, recorder)
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls will run in reverse order:
	// 1. InfluxDB (if enabled)
	// 2. Broker connection
	// 3. Redis client

	log.Info("Draftwire Core stopped")
	return nil
}

// buildTransport constructs the broker transport adapter named by
// cfg.Broker.Kind.
func buildTransport(cfg *config.Config, log *logging.Logger) (transport.Transport, error) {
	switch strings.ToLower(cfg.Broker.Kind) {
	case "mqtt":
		return transport.NewMQTT(cfg.Broker.MQTT, log), nil
	case "websocket":
		return transport.NewWS(cfg.Broker.WebSocket, log), nil
	default:
		return nil, fmt.Errorf("unknown broker kind %q", cfg.Broker.Kind)
	}
}

// sweepLoop periodically reclaims expired fallback-tier entries.
func sweepLoop(ctx context.Context, store *cache.Store, log *logging.Logger) {
	ticker := time.NewTicker(fallbackSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := store.SweepExpired(); removed > 0 {
				log.Debug("fallback sweep", "removed", removed)
			}
		}
	}
}

// snapshotLoop records periodic cache and realtime snapshots to InfluxDB.
func snapshotLoop(ctx context.Context, cfg *config.Config, store *cache.Store, manager *realtime.Manager, recorder *telemetry.Recorder) {
	interval := time.Duration(cfg.InfluxDB.SnapshotInterval) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			recorder.RecordCacheSnapshot(store.Metrics())

			snap := manager.Metrics()
			recorder.RecordRealtimeSnapshot(snap)

			health := manager.Health()
			recorder.RecordHeartbeat(health.State, health.AvgLatencyMs)
		}
	}
}

// getConfigPath returns the configuration file path.
// Uses DRAFTWIRE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("DRAFTWIRE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

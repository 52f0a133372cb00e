package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Draftwire Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Redis    RedisConfig    `yaml:"redis"`
	Cache    CacheConfig    `yaml:"cache"`
	Broker   BrokerConfig   `yaml:"broker"`
	Realtime RealtimeConfig `yaml:"realtime"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServiceConfig contains service identity information.
type ServiceConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
}

// RedisConfig contains primary cache tier connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// DialTimeout and ReadTimeout are in seconds.
	DialTimeout int `yaml:"dial_timeout"`
	ReadTimeout int `yaml:"read_timeout"`
}

// CacheConfig contains two-tier cache behaviour settings.
type CacheConfig struct {
	// Namespace prefixes every composed cache key (e.g. "draftwire").
	Namespace string `yaml:"namespace"`

	// DefaultTTL is the fallback entry lifetime in seconds when callers pass 0.
	DefaultTTL int `yaml:"default_ttl"`

	// CompressionThreshold is the serialized size in bytes above which
	// entries are compressed before being written to the primary tier.
	CompressionThreshold int `yaml:"compression_threshold"`

	Fallback FallbackConfig `yaml:"fallback"`
}

// FallbackConfig contains in-process fallback tier settings.
type FallbackConfig struct {
	// MaxEntries bounds the fallback tier; oldest entries by write time
	// are evicted once the bound is reached.
	MaxEntries int `yaml:"max_entries"`
}

// BrokerConfig selects and configures the realtime broker transport.
type BrokerConfig struct {
	// Kind selects the transport adapter: "mqtt" or "websocket".
	Kind string `yaml:"kind"`

	MQTT      MQTTConfig      `yaml:"mqtt"`
	WebSocket WebSocketConfig `yaml:"websocket"`
}

// MQTTConfig contains MQTT broker connection details.
type MQTTConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	QoS      int    `yaml:"qos"`
}

// WebSocketConfig contains WebSocket broker connection details.
type WebSocketConfig struct {
	URL string `yaml:"url"`

	// HandshakeTimeout is in seconds.
	HandshakeTimeout int `yaml:"handshake_timeout"`

	// MaxMessageSize bounds inbound frames in bytes.
	MaxMessageSize int `yaml:"max_message_size"`
}

// RealtimeConfig contains connection manager behaviour settings.
// All durations are in seconds unless noted otherwise.
type RealtimeConfig struct {
	ConnectTimeout    int `yaml:"connect_timeout"`
	HeartbeatInterval int `yaml:"heartbeat_interval"`

	// LatencyWindow is the number of heartbeat round-trips kept for the
	// rolling latency average.
	LatencyWindow int `yaml:"latency_window"`

	// DedupWindow is how long a seen message id suppresses redeliveries.
	DedupWindow int `yaml:"dedup_window"`

	// BufferSize bounds the outbound message buffer (drop-oldest on overflow).
	BufferSize int `yaml:"buffer_size"`

	// Rooms are joined automatically on every successful connect.
	Rooms []string `yaml:"rooms"`

	Reconnect ReconnectConfig `yaml:"reconnect"`
	Health    HealthConfig    `yaml:"health"`
}

// ReconnectConfig contains reconnection backoff settings.
type ReconnectConfig struct {
	// InitialDelay is the first reconnect delay in seconds; it doubles per
	// consecutive failed attempt up to MaxDelay.
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// HealthConfig contains health evaluation thresholds.
type HealthConfig struct {
	// StaleAfter marks the connection unhealthy when no heartbeat has been
	// sent for this many seconds.
	StaleAfter int `yaml:"stale_after"`

	// DegradedLatencyMs is the rolling-average heartbeat latency (ms) above
	// which the connection is reported degraded.
	DegradedLatencyMs int `yaml:"degraded_latency_ms"`

	// DegradedErrorRate and UnhealthyErrorRate are error/sent ratios in
	// [0,1]; crossing the lower bound degrades, the upper marks unhealthy.
	DegradedErrorRate  float64 `yaml:"degraded_error_rate"`
	UnhealthyErrorRate float64 `yaml:"unhealthy_error_rate"`
}

// InfluxDBConfig contains telemetry sink connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`

	// SnapshotInterval is how often cache metrics snapshots are recorded,
	// in seconds.
	SnapshotInterval int `yaml:"snapshot_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: DRAFTWIRE_SECTION_KEY
// For example: DRAFTWIRE_REDIS_ADDR, DRAFTWIRE_BROKER_KIND
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "draftwire-core",
			Environment: "development",
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			DB:          0,
			DialTimeout: 5,
			ReadTimeout: 3,
		},
		Cache: CacheConfig{
			Namespace:            "draftwire",
			DefaultTTL:           300,
			CompressionThreshold: 1024,
			Fallback: FallbackConfig{
				MaxEntries: 1000,
			},
		},
		Broker: BrokerConfig{
			Kind: "mqtt",
			MQTT: MQTTConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "draftwire-core",
				QoS:      1,
			},
			WebSocket: WebSocketConfig{
				URL:              "ws://localhost:8090/stream",
				HandshakeTimeout: 10,
				MaxMessageSize:   65536,
			},
		},
		Realtime: RealtimeConfig{
			ConnectTimeout:    10,
			HeartbeatInterval: 30,
			LatencyWindow:     10,
			DedupWindow:       60,
			BufferSize:        100,
			Reconnect: ReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			Health: HealthConfig{
				StaleAfter:         90,
				DegradedLatencyMs:  250,
				DegradedErrorRate:  0.05,
				UnhealthyErrorRate: 0.25,
			},
		},
		InfluxDB: InfluxDBConfig{
			Enabled:          false,
			URL:              "http://localhost:8086",
			Bucket:           "draftwire",
			BatchSize:        100,
			FlushInterval:    10,
			SnapshotInterval: 60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: DRAFTWIRE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Redis
	if v := os.Getenv("DRAFTWIRE_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("DRAFTWIRE_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("DRAFTWIRE_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}

	// Broker
	if v := os.Getenv("DRAFTWIRE_BROKER_KIND"); v != "" {
		cfg.Broker.Kind = v
	}
	if v := os.Getenv("DRAFTWIRE_MQTT_HOST"); v != "" {
		cfg.Broker.MQTT.Host = v
	}
	if v := os.Getenv("DRAFTWIRE_MQTT_USERNAME"); v != "" {
		cfg.Broker.MQTT.Username = v
	}
	if v := os.Getenv("DRAFTWIRE_MQTT_PASSWORD"); v != "" {
		cfg.Broker.MQTT.Password = v
	}
	if v := os.Getenv("DRAFTWIRE_WEBSOCKET_URL"); v != "" {
		cfg.Broker.WebSocket.URL = v
	}

	// InfluxDB
	if v := os.Getenv("DRAFTWIRE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Redis.Addr == "" {
		errs = append(errs, "redis.addr is required")
	}

	if c.Cache.Namespace == "" {
		errs = append(errs, "cache.namespace is required")
	}
	if c.Cache.DefaultTTL <= 0 {
		errs = append(errs, "cache.default_ttl must be positive")
	}
	if c.Cache.Fallback.MaxEntries <= 0 {
		errs = append(errs, "cache.fallback.max_entries must be positive")
	}

	switch c.Broker.Kind {
	case "mqtt":
		if c.Broker.MQTT.QoS < 0 || c.Broker.MQTT.QoS > 2 {
			errs = append(errs, "broker.mqtt.qos must be 0, 1, or 2")
		}
		if c.Broker.MQTT.Port < 1 || c.Broker.MQTT.Port > 65535 {
			errs = append(errs, "broker.mqtt.port must be between 1 and 65535")
		}
	case "websocket":
		if !strings.HasPrefix(c.Broker.WebSocket.URL, "ws://") &&
			!strings.HasPrefix(c.Broker.WebSocket.URL, "wss://") {
			errs = append(errs, "broker.websocket.url must start with ws:// or wss://")
		}
	default:
		errs = append(errs, fmt.Sprintf("broker.kind %q is not supported (use mqtt or websocket)", c.Broker.Kind))
	}

	if c.Realtime.BufferSize <= 0 {
		errs = append(errs, "realtime.buffer_size must be positive")
	}
	if c.Realtime.Reconnect.InitialDelay <= 0 {
		errs = append(errs, "realtime.reconnect.initial_delay must be positive")
	}
	if c.Realtime.Reconnect.MaxDelay < c.Realtime.Reconnect.InitialDelay {
		errs = append(errs, "realtime.reconnect.max_delay must be >= initial_delay")
	}
	if c.Realtime.Health.UnhealthyErrorRate < c.Realtime.Health.DegradedErrorRate {
		errs = append(errs, "realtime.health.unhealthy_error_rate must be >= degraded_error_rate")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.Token == "" {
		errs = append(errs, "influxdb.token is required when influxdb is enabled (set DRAFTWIRE_INFLUXDB_TOKEN)")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetDialTimeout returns the Redis dial timeout as a Duration.
func (c *Config) GetDialTimeout() time.Duration {
	return time.Duration(c.Redis.DialTimeout) * time.Second
}

// GetReadTimeout returns the Redis read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.Redis.ReadTimeout) * time.Second
}

// GetConnectTimeout returns the broker connect timeout as a Duration.
func (c *Config) GetConnectTimeout() time.Duration {
	return time.Duration(c.Realtime.ConnectTimeout) * time.Second
}

// GetHeartbeatInterval returns the heartbeat interval as a Duration.
func (c *Config) GetHeartbeatInterval() time.Duration {
	return time.Duration(c.Realtime.HeartbeatInterval) * time.Second
}

// GetDedupWindow returns the dedup window as a Duration.
func (c *Config) GetDedupWindow() time.Duration {
	return time.Duration(c.Realtime.DedupWindow) * time.Second
}

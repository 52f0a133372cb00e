// Package logging provides structured logging for Draftwire Core.
//
// This package manages:
//   - Structured logging via log/slog
//   - Level-based filtering (debug, info, warn, error)
//   - Output format selection (JSON for production, text for development)
//   - Default fields (service name, version) on every record
//
// Performance Characteristics:
//   - Log records below the configured level are dropped before formatting
//   - JSON handler allocates per record; keep hot-path logging at debug level
//
// Usage:
//
//	log := logging.New(cfg.Logging, version)
//	cacheLog := log.With("component", "cache")
//	cacheLog.Info("connected", "addr", cfg.Redis.Addr)
package logging

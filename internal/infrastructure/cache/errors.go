package cache

import "errors"

// Domain-specific errors for cache operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotSerializable is returned by Set when the value cannot be
	// marshalled to JSON. This is the only primary-path failure that
	// surfaces to callers, since it signals a programming defect.
	ErrNotSerializable = errors.New("cache: value not serializable")

	// ErrNilFetcher is returned by GetOrSet when no fetch function is given.
	ErrNilFetcher = errors.New("cache: fetch function cannot be nil")

	// ErrNilTarget is returned when the decode target pointer is nil.
	ErrNilTarget = errors.New("cache: decode target cannot be nil")

	// errEntryCorrupt marks an envelope that cannot be decoded. It never
	// surfaces from the Store; the entry is discarded and counted.
	errEntryCorrupt = errors.New("cache: corrupt entry payload")
)

package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/draftwire/draftwire-core/internal/infrastructure/config"
	"github.com/draftwire/draftwire-core/internal/infrastructure/logging"
)

// Store is the two-tier cache: a Redis primary with an in-process fallback.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - The fallback tier and counters are mutex-guarded; primary-tier tag
//     operations rely on Redis set commands being atomic.
type Store struct {
	primary  primaryStore
	fallback *fallbackTier
	cfg      config.CacheConfig
	log      *logging.Logger
	clock    clock.Clock
	metrics  *storeMetrics
	flight   singleflight.Group
}

// New creates a Store backed by the given Redis client.
//
// Parameters:
//   - rdb: Connected go-redis client for the primary tier
//   - cfg: Cache configuration from config.yaml
//   - log: Logger for degraded-mode diagnostics
//
// Returns:
//   - *Store: Store ready for use
func New(rdb redis.UniversalClient, cfg config.CacheConfig, log *logging.Logger) *Store {
	return newStore(newRedisPrimary(rdb), cfg, log, clock.New())
}

// newStore wires a Store against any primaryStore and clock.
// Tests use this with an in-memory primary and a mock clock.
func newStore(p primaryStore, cfg config.CacheConfig, log *logging.Logger, clk clock.Clock) *Store {
	return &Store{
		primary:  p,
		fallback: newFallbackTier(cfg.Fallback.MaxEntries),
		cfg:      cfg,
		log:      log,
		clock:    clk,
		metrics:  &storeMetrics{},
	}
}

// Get looks up a logical key and decodes the cached value into out.
//
// The primary tier is consulted first; an entry past its TTL is deleted and
// treated as a miss. When the primary is unreachable or misses, the
// fallback tier is checked under the same composed key with the same
// validity rule. Absence is a normal outcome: found=false with a nil error.
//
// Parameters:
//   - ctx: Context for primary-tier I/O
//   - key: Logical key (e.g. "player:1042")
//   - tags: Tags the entry was stored under (part of the composed key)
//   - out: Pointer receiving the decoded value on a hit
//
// Returns:
//   - bool: Whether a valid entry was found
//   - error: Only for a nil out pointer or an undecodable hit payload
func (s *Store) Get(ctx context.Context, key string, tags []string, out any) (bool, error) {
	ck := composeKey(s.cfg.Namespace, key, tags)
	now := s.clock.Now()

	data, ok, err := s.primary.get(ctx, ck)
	switch {
	case err != nil:
		// Primary unreachable: degrade to the fallback tier.
		s.metrics.recordError("get")
		s.log.Warn("primary tier unavailable, serving from fallback", "key", ck, "error", err)
	case ok:
		e, decErr := decodeEntryBytes(data)
		if decErr != nil {
			s.metrics.recordError("get")
			s.log.Warn("discarding corrupt cache entry", "key", ck, "error", decErr)
			_ = s.primary.del(ctx, ck)
		} else if !e.valid(now) {
			// Expired upstream of Redis's own TTL; delete and miss.
			_ = s.primary.del(ctx, ck)
			s.fallback.delete(ck)
		} else {
			if decodeErr := e.decode(out); decodeErr != nil {
				s.metrics.recordError("get")
				return false, decodeErr
			}
			s.metrics.recordHit(false)
			return true, nil
		}
	}

	if e, found := s.fallback.get(ck); found {
		if !e.valid(now) {
			s.fallback.delete(ck)
		} else {
			if decodeErr := e.decode(out); decodeErr != nil {
				s.metrics.recordError("get")
				return false, decodeErr
			}
			s.metrics.recordHit(true)
			return true, nil
		}
	}

	s.metrics.recordMiss()
	return false, nil
}

// Set stores a value under a logical key in both tiers.
//
// The value is wrapped in a TTL envelope and compressed transparently when
// its serialized form exceeds the configured threshold. A primary-tier
// write failure is counted and logged but does not fail the call; the
// fallback tier is always written. The composed key is also added to each
// tag's member set, whose own expiry is kept at twice the longest TTL seen
// for that tag so the index outlives the data it may need to invalidate.
//
// Parameters:
//   - ctx: Context for primary-tier I/O
//   - key: Logical key
//   - value: Any JSON-serializable value
//   - ttl: Entry lifetime; 0 uses the configured default
//   - tags: Tags for bulk invalidation
//
// Returns:
//   - error: Only ErrNotSerializable, for a value that cannot be marshalled
func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration, tags []string) error {
	if ttl <= 0 {
		ttl = time.Duration(s.cfg.DefaultTTL) * time.Second
	}

	ck := composeKey(s.cfg.Namespace, key, tags)
	now := s.clock.Now()

	e, err := newEntry(value, now, ttl)
	if err != nil {
		return err
	}
	data, err := encodeEntry(e, s.cfg.CompressionThreshold)
	if err != nil {
		return err
	}

	if perr := s.primary.set(ctx, ck, data, ttl); perr != nil {
		s.metrics.recordError("set")
		s.log.Warn("primary tier write failed, fallback only", "key", ck, "error", perr)
	} else {
		s.registerTags(ctx, ck, ttl, tags)
	}

	s.fallback.set(ck, e, tags, now)
	promFallbackSize.Set(float64(s.fallback.size()))
	s.metrics.recordSet()
	return nil
}

// registerTags records the composed key under each tag's member set and
// extends the set's expiry to at least twice the entry TTL.
func (s *Store) registerTags(ctx context.Context, ck string, ttl time.Duration, tags []string) {
	for _, tag := range tags {
		tk := tagSetKey(s.cfg.Namespace, tag)
		if err := s.primary.addTagMember(ctx, tk, ck); err != nil {
			s.metrics.recordError("tag")
			s.log.Warn("tag index update failed", "tag", tag, "error", err)
			continue
		}
		if err := s.primary.expireAtLeast(ctx, tk, 2*ttl); err != nil {
			s.metrics.recordError("tag")
			s.log.Warn("tag index expiry update failed", "tag", tag, "error", err)
		}
	}
}

// Delete removes a logical key from both tiers. Deleting an absent key is
// a no-op.
func (s *Store) Delete(ctx context.Context, key string, tags []string) error {
	ck := composeKey(s.cfg.Namespace, key, tags)

	if err := s.primary.del(ctx, ck); err != nil {
		s.metrics.recordError("delete")
		s.log.Warn("primary tier delete failed", "key", ck, "error", err)
	}
	s.fallback.delete(ck)
	promFallbackSize.Set(float64(s.fallback.size()))
	s.metrics.recordDelete()
	return nil
}

// InvalidateByTag bulk-deletes every entry stored under the tag in both
// tiers, plus the tag's member set itself.
//
// The operation is idempotent: invalidating an empty or unknown tag leaves
// the same end state without error. Cross-tier consistency is eventual —
// fallback cleanup is exact (via the in-process tag index) but local to
// this process.
func (s *Store) InvalidateByTag(ctx context.Context, tag string) error {
	tk := tagSetKey(s.cfg.Namespace, tag)

	members, err := s.primary.tagMembers(ctx, tk)
	if err != nil {
		s.metrics.recordError("invalidate_tag")
		s.log.Warn("tag member lookup failed, fallback-only invalidation", "tag", tag, "error", err)
	} else {
		keys := append(members, tk)
		if derr := s.primary.del(ctx, keys...); derr != nil {
			s.metrics.recordError("invalidate_tag")
			s.log.Warn("tag bulk delete failed", "tag", tag, "error", derr)
		}
	}

	removed := s.fallback.invalidateTag(tag)
	promFallbackSize.Set(float64(s.fallback.size()))
	s.metrics.recordInvalidation()
	s.log.Debug("tag invalidated", "tag", tag, "primary_members", len(members), "fallback_removed", removed)
	return nil
}

// GetOrSet returns the cached value for key, fetching and storing it on a
// miss. Concurrent misses for the same composed key share a single fetch.
//
// Parameters:
//   - ctx: Context for primary-tier I/O and the fetch
//   - key: Logical key
//   - ttl: Lifetime applied when the fetched value is stored
//   - tags: Tags for bulk invalidation
//   - fetch: Origin lookup invoked on a miss
//   - out: Pointer receiving the value
//
// Returns:
//   - error: ErrNilFetcher, a fetch failure, or ErrNotSerializable from the
//     implied Set
func (s *Store) GetOrSet(ctx context.Context, key string, ttl time.Duration, tags []string, fetch func(ctx context.Context) (any, error), out any) error {
	if fetch == nil {
		return ErrNilFetcher
	}

	found, err := s.Get(ctx, key, tags, out)
	if err != nil {
		return err
	}
	if found {
		return nil
	}

	ck := composeKey(s.cfg.Namespace, key, tags)
	raw, err, _ := s.flight.Do(ck, func() (any, error) {
		value, ferr := fetch(ctx)
		if ferr != nil {
			return nil, ferr
		}
		if serr := s.Set(ctx, key, value, ttl, tags); serr != nil {
			return nil, serr
		}
		// Re-encode so every coalesced caller can decode into its own target.
		return json.Marshal(value)
	})
	if err != nil {
		return err
	}

	return json.Unmarshal(raw.([]byte), out)
}

// SweepExpired removes entries past their TTL from the fallback tier.
// Intended to be driven by a periodic timer from the composition root.
func (s *Store) SweepExpired() int {
	removed := s.fallback.sweepExpired(s.clock.Now())
	promFallbackSize.Set(float64(s.fallback.size()))
	return removed
}

// Metrics returns a snapshot of store activity since the last reset.
func (s *Store) Metrics() MetricsSnapshot {
	return s.metrics.snapshot(s.fallback.size())
}

// ResetMetrics zeroes the snapshot counters.
func (s *Store) ResetMetrics() {
	s.metrics.reset()
}

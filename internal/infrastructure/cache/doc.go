// Package cache provides the two-tier cache for Draftwire Core.
//
// This package manages:
//   - A primary distributed tier (Redis) with per-entry TTL
//   - An in-process fallback tier used when the primary is unreachable
//   - Tag-based bulk invalidation across both tiers
//   - Transparent compression of large entries
//   - Single-flight coalescing of concurrent fetches for the same key
//
// # Architecture
//
// Every value is wrapped in a versioned envelope carrying its creation time
// and TTL, so validity is checked identically in both tiers:
//
//	application ↔ Store ↔ Redis (primary)
//	                  ↘ in-process map (fallback)
//
// Domain modules request keys like "player:1042" or
// "matchups:nfl:2026:3" tagged with coarse tags ("players", "matchups",
// "roster") so that writes elsewhere in the system can invalidate whole
// groups with one call.
//
// # Failure Semantics
//
// Primary-tier I/O failures never surface from Get/Set: reads degrade to the
// fallback tier, writes land in the fallback only, and the failure is
// counted in the store metrics. The single surfaced failure mode is a value
// that cannot be serialized, since that indicates a programming defect
// rather than a transient fault. Absence of a key is a normal outcome, not
// an error.
//
// # Usage
//
//	store := cache.New(rdb, cfg.Cache, log)
//
//	err := store.Set(ctx, "player:1042", player, 5*time.Minute, []string{"players"})
//
//	var p Player
//	found, err := store.Get(ctx, "player:1042", []string{"players"}, &p)
//
//	err = store.InvalidateByTag(ctx, "players")
package cache

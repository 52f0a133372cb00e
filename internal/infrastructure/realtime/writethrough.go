package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// CacheWriter is the slice of the cache API the manager needs for
// write-through. Satisfied by *cache.Store.
type CacheWriter interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration, tags []string) error
}

// WriteThroughRule maps an event type to the cache parameters for its
// opportunistic write-through. Adding a cached event type is a table
// entry, not a code branch.
type WriteThroughRule struct {
	// Key builds the logical cache key from the event payload. ok=false
	// skips the write-through (e.g. the identifying field is missing).
	Key func(payload json.RawMessage) (key string, ok bool)

	// TTL is deliberately short: write-through data is a freshness
	// optimisation, not a system of record.
	TTL time.Duration

	Tags []string
}

// DefaultWriteThroughRules returns the write-through table for the event
// types the hosting application caches.
func DefaultWriteThroughRules() map[string]WriteThroughRule {
	return map[string]WriteThroughRule{
		"liveScores": {
			Key:  keyFromFields("scores", "matchup_id"),
			TTL:  30 * time.Second,
			Tags: []string{"matchups"},
		},
		"playerUpdate": {
			Key:  keyFromFields("player", "player_id"),
			TTL:  60 * time.Second,
			Tags: []string{"players"},
		},
		"matchupUpdate": {
			Key:  keyFromFields("matchups", "league", "season", "week"),
			TTL:  60 * time.Second,
			Tags: []string{"matchups"},
		},
		"rosterUpdate": {
			Key:  keyFromFields("roster", "team_id"),
			TTL:  60 * time.Second,
			Tags: []string{"roster"},
		},
	}
}

// keyFromFields builds a key builder that joins a prefix with the named
// payload fields, e.g. ("matchups", "league", "season", "week") →
// "matchups:nfl:2026:3". Missing or empty fields skip the write-through.
func keyFromFields(prefix string, fields ...string) func(json.RawMessage) (string, bool) {
	return func(payload json.RawMessage) (string, bool) {
		var m map[string]any
		if err := json.Unmarshal(payload, &m); err != nil {
			return "", false
		}

		key := prefix
		for _, field := range fields {
			v, ok := m[field]
			if !ok {
				return "", false
			}
			var part string
			switch t := v.(type) {
			case string:
				part = t
			case float64:
				// JSON numbers decode as float64; ids and seasons are
				// integral, so format without a fraction.
				part = fmt.Sprintf("%.0f", t)
			default:
				return "", false
			}
			if part == "" {
				return "", false
			}
			key += ":" + part
		}
		return key, true
	}
}

package cache

import (
	"sync"
	"time"
)

// fallbackEntry pairs an envelope with the bookkeeping the fallback tier
// needs for eviction and tag cleanup.
type fallbackEntry struct {
	entry     *entry
	tags      []string
	writtenAt time.Time
}

// fallbackTier is the in-process cache used when the primary tier is
// unreachable, and to avoid a network round trip after local writes.
//
// It maintains an explicit tag→key index symmetric to the primary tier's
// Redis sets, so tag invalidation removes exactly the keys written under a
// tag rather than inferring membership from key substrings.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type fallbackTier struct {
	mu         sync.RWMutex
	entries    map[string]*fallbackEntry
	tagIndex   map[string]map[string]struct{} // tag → composed keys
	maxEntries int
}

func newFallbackTier(maxEntries int) *fallbackTier {
	return &fallbackTier{
		entries:    make(map[string]*fallbackEntry),
		tagIndex:   make(map[string]map[string]struct{}),
		maxEntries: maxEntries,
	}
}

// get returns the envelope stored under the composed key, if any.
// Validity against TTL is the caller's concern.
func (f *fallbackTier) get(key string) (*entry, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	fe, ok := f.entries[key]
	if !ok {
		return nil, false
	}
	return fe.entry, true
}

// set stores an envelope under the composed key, evicting
// oldest-by-write-time entries as needed to respect the capacity bound.
func (f *fallbackTier) set(key string, e *entry, tags []string, now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.entries[key]; !exists {
		for len(f.entries) >= f.maxEntries {
			f.evictOldestLocked()
		}
	}

	f.removeLocked(key)
	f.entries[key] = &fallbackEntry{
		entry:     e,
		tags:      tags,
		writtenAt: now,
	}
	for _, tag := range tags {
		members, ok := f.tagIndex[tag]
		if !ok {
			members = make(map[string]struct{})
			f.tagIndex[tag] = members
		}
		members[key] = struct{}{}
	}
}

// delete removes the composed key from the tier; no-op when absent.
func (f *fallbackTier) delete(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeLocked(key)
}

// invalidateTag removes every key recorded under the tag plus the tag's
// index entry. Calling it for an unknown tag is a no-op.
func (f *fallbackTier) invalidateTag(tag string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	members, ok := f.tagIndex[tag]
	if !ok {
		return 0
	}
	removed := 0
	for key := range members {
		f.removeLocked(key)
		removed++
	}
	delete(f.tagIndex, tag)
	return removed
}

// sweepExpired drops entries whose TTL has elapsed at the given instant.
// Returns the number of entries removed.
func (f *fallbackTier) sweepExpired(now time.Time) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	removed := 0
	for key, fe := range f.entries {
		if !fe.entry.valid(now) {
			f.removeLocked(key)
			removed++
		}
	}
	return removed
}

// size returns the current entry count.
func (f *fallbackTier) size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.entries)
}

// evictOldestLocked removes the entry with the earliest write time.
// Caller must hold the write lock.
func (f *fallbackTier) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	first := true
	for key, fe := range f.entries {
		if first || fe.writtenAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = fe.writtenAt
			first = false
		}
	}
	if !first {
		f.removeLocked(oldestKey)
	}
}

// removeLocked deletes an entry and its tag index references.
// Caller must hold the write lock.
func (f *fallbackTier) removeLocked(key string) {
	fe, ok := f.entries[key]
	if !ok {
		return
	}
	for _, tag := range fe.tags {
		if members, exists := f.tagIndex[tag]; exists {
			delete(members, key)
			if len(members) == 0 {
				delete(f.tagIndex, tag)
			}
		}
	}
	delete(f.entries, key)
}

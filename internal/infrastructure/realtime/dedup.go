package realtime

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// deduplicator tracks message ids seen within a rolling window so that
// broker redeliveries are processed at most once.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type deduplicator struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	window time.Duration
	clock  clock.Clock
}

func newDeduplicator(window time.Duration, clk clock.Clock) *deduplicator {
	return &deduplicator{
		seen:   make(map[string]time.Time),
		window: window,
		clock:  clk,
	}
}

// remember records the id and reports whether it was new. An id seen
// within the window reports false; one seen before the window re-arms and
// reports true.
func (d *deduplicator) remember(id string) bool {
	now := d.clock.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if at, ok := d.seen[id]; ok && now.Sub(at) < d.window {
		return false
	}
	d.seen[id] = now
	return true
}

// sweep discards entries older than the window to bound memory growth.
// Returns the number of entries removed.
func (d *deduplicator) sweep() int {
	now := d.clock.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for id, at := range d.seen {
		if now.Sub(at) >= d.window {
			delete(d.seen, id)
			removed++
		}
	}
	return removed
}

// size returns the current entry count.
func (d *deduplicator) size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

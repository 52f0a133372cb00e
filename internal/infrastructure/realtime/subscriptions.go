package realtime

import (
	"encoding/json"
	"sync"
)

// Callback receives one inbound event. Callbacks run on the transport's
// receive goroutine and should hand work off quickly.
type Callback func(event string, payload json.RawMessage)

// subscriber pairs a callback with a handle so the unsubscribe closure can
// remove exactly this registration.
type subscriber struct {
	id uint64
	cb Callback
}

// registry is the event-type → subscriber multi-map. Fan-out preserves
// registration order per event type.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type registry struct {
	mu     sync.Mutex
	subs   map[string][]subscriber
	nextID uint64
}

func newRegistry() *registry {
	return &registry{
		subs: make(map[string][]subscriber),
	}
}

// subscribe registers a callback and returns its unsubscribe closure.
// The closure removes only this callback and drops the event-type entry
// once it is empty; calling it more than once is a no-op.
func (r *registry) subscribe(event string, cb Callback) func() {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.subs[event] = append(r.subs[event], subscriber{id: id, cb: cb})
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()

		list := r.subs[event]
		for i, s := range list {
			if s.id == id {
				r.subs[event] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		if len(r.subs[event]) == 0 {
			delete(r.subs, event)
		}
	}
}

// callbacks returns a snapshot of the event's callbacks in registration
// order, so fan-out runs without holding the lock.
func (r *registry) callbacks(event string) []Callback {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.subs[event]
	if len(list) == 0 {
		return nil
	}
	out := make([]Callback, len(list))
	for i, s := range list {
		out[i] = s.cb
	}
	return out
}

// clear removes all subscriptions.
func (r *registry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = make(map[string][]subscriber)
}

// count returns the number of callbacks registered for an event type.
func (r *registry) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs[event])
}

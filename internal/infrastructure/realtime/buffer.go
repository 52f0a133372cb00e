package realtime

import "sort"

// outboundBuffer holds messages queued while disconnected. It is owned
// exclusively by one Manager and accessed only under the manager's lock,
// so it carries no locking of its own.
type outboundBuffer struct {
	items []Message
	max   int
}

func newOutboundBuffer(max int) *outboundBuffer {
	return &outboundBuffer{max: max}
}

// add appends a message, evicting the oldest buffered message when full.
// Reports whether an eviction happened.
func (b *outboundBuffer) add(msg Message) bool {
	evicted := false
	if len(b.items) >= b.max {
		b.items = b.items[1:]
		evicted = true
	}
	b.items = append(b.items, msg)
	return evicted
}

// drain empties the buffer and returns its contents ordered by priority
// (critical first), preserving insertion order within a priority tier.
func (b *outboundBuffer) drain() []Message {
	out := b.items
	b.items = nil

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})
	return out
}

// clear discards all buffered messages.
func (b *outboundBuffer) clear() {
	b.items = nil
}

// size returns the number of buffered messages.
func (b *outboundBuffer) size() int {
	return len(b.items)
}

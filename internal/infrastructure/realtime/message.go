package realtime

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
	"time"
)

// Priority orders outbound messages in the buffer flush.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// String returns the lowercase priority name.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "normal"
	}
}

// ParsePriority converts a priority name to a Priority.
// Unrecognised names map to PriorityNormal.
func ParsePriority(s string) Priority {
	switch strings.ToLower(s) {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	case "critical":
		return PriorityCritical
	default:
		return PriorityNormal
	}
}

// Message is one outbound or inbound realtime event.
type Message struct {
	ID        string
	Type      string
	Payload   json.RawMessage
	Room      string
	Priority  Priority
	CreatedAt time.Time
}

// DeriveID builds a deterministic message id from the event type and the
// identifying payload bytes, so a redelivered event hashes to the same id
// and the dedup window can suppress it.
func DeriveID(eventType string, payload []byte) string {
	h := fnv.New64a()
	h.Write([]byte(eventType))
	h.Write([]byte{0})
	h.Write(payload)
	return fmt.Sprintf("%s:%016x", eventType, h.Sum64())
}

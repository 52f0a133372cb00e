package transport

import (
	"context"
	"encoding/json"
	"errors"
)

// Domain-specific errors for transport operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when emitting on a closed transport.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrDialFailed is returned when a connection attempt fails.
	ErrDialFailed = errors.New("transport: dial failed")

	// ErrEmitFailed is returned when an outbound emit fails.
	ErrEmitFailed = errors.New("transport: emit failed")

	// ErrServerClosed is reported through the closed handler when the
	// broker deliberately ends the session. The manager treats it as
	// "told to leave" and does not reconnect.
	ErrServerClosed = errors.New("transport: closed by server")
)

// Envelope is the wire unit exchanged with the broker.
type Envelope struct {
	ID        string          `json:"id,omitempty"`
	Type      string          `json:"type"`
	Room      string          `json:"room,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt int64           `json:"created_at,omitempty"` // unix milliseconds
}

// EventHandler receives inbound envelopes. Handlers run on the adapter's
// receive goroutine and should hand work off quickly.
type EventHandler func(env Envelope)

// ClosedHandler is invoked exactly once per established connection when it
// ends. err is ErrServerClosed for a deliberate server disconnect, or the
// underlying failure otherwise.
type ClosedHandler func(err error)

// Logger is the subset of the logging API adapters need.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Transport is a bidirectional event stream to an external broker.
//
// Implementations do not reconnect on their own; the realtime manager owns
// the reconnection state machine. All methods are safe for concurrent use.
type Transport interface {
	// Dial establishes a fresh connection, blocking until it is up, the
	// attempt fails, or ctx is done.
	Dial(ctx context.Context) error

	// Close tears the connection down. The closed handler is not invoked
	// for a local Close. Closing an unconnected transport is a no-op.
	Close() error

	// Emit sends an envelope, room-scoped when env.Room is set.
	Emit(env Envelope) error

	// Join subscribes this client to a room's events.
	Join(room string) error

	// Leave unsubscribes this client from a room.
	Leave(room string) error

	// SetHandlers registers the inbound and closure callbacks. Must be
	// called before Dial.
	SetHandlers(onEvent EventHandler, onClosed ClosedHandler)
}

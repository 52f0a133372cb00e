package realtime

// ConnState is the connection manager's lifecycle state.
type ConnState int

const (
	// Disconnected is the initial state, and terminal after an explicit
	// disconnect (local or server-initiated).
	Disconnected ConnState = iota

	// Connecting means a dial attempt is in flight.
	Connecting

	// Connected means the broker session is established.
	Connected

	// Reconnecting means the connection was lost abnormally and a backoff
	// timer is pending.
	Reconnecting
)

// String returns the lowercase state name.
func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

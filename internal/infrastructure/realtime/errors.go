package realtime

import "errors"

// Domain-specific errors for realtime operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrConnectFailed is returned when a connection attempt fails. The
	// manager schedules a reconnect before returning it.
	ErrConnectFailed = errors.New("realtime: connect failed")

	// ErrAlreadyConnected is returned by Connect when a connection is
	// already established or in progress.
	ErrAlreadyConnected = errors.New("realtime: already connected")

	// ErrNotSerializable is returned by Send for a payload that cannot be
	// marshalled to JSON.
	ErrNotSerializable = errors.New("realtime: payload not serializable")

	// ErrDropped is returned by Send when the message could not be
	// delivered and buffering was not permitted.
	ErrDropped = errors.New("realtime: message dropped")
)

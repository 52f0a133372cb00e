package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/draftwire/draftwire-core/internal/infrastructure/config"
)

// Control event types on the websocket stream.
const (
	joinEvent  = "join"
	leaveEvent = "leave"
)

// wsWriteTimeout bounds a single frame write.
const wsWriteTimeout = 5 * time.Second

// WS adapts a WebSocket broker endpoint to the Transport interface.
//
// The stream carries JSON envelopes in both directions; room membership is
// negotiated with join/leave control envelopes. A normal-closure close
// frame from the server is reported as ErrServerClosed.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Writes are serialized behind a mutex; reads run on one goroutine.
type WS struct {
	cfg config.WebSocketConfig
	log Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	onEvent  EventHandler
	onClosed ClosedHandler
}

// NewWS creates a WebSocket transport. Call SetHandlers before Dial.
func NewWS(cfg config.WebSocketConfig, log Logger) *WS {
	return &WS{
		cfg: cfg,
		log: log,
	}
}

// SetHandlers registers the inbound and closure callbacks.
func (w *WS) SetHandlers(onEvent EventHandler, onClosed ClosedHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onEvent = onEvent
	w.onClosed = onClosed
}

// Dial opens a fresh connection and starts the read loop.
func (w *WS) Dial(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: time.Duration(w.cfg.HandshakeTimeout) * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDialFailed, err)
	}
	if w.cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(int64(w.cfg.MaxMessageSize))
	}

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()

	go w.readLoop(conn)
	return nil
}

// Close tears the connection down without invoking the closed handler.
func (w *WS) Close() error {
	w.mu.Lock()
	conn := w.conn
	w.conn = nil
	w.mu.Unlock()

	if conn == nil {
		return nil
	}

	// Best-effort close frame; the read loop exits on the closed socket.
	deadline := time.Now().Add(wsWriteTimeout)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return conn.Close()
}

// Emit writes an envelope frame.
func (w *WS) Emit(env Envelope) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return ErrNotConnected
	}

	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := w.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("%w: %w", ErrEmitFailed, err)
	}
	return nil
}

// Join announces room membership to the broker.
func (w *WS) Join(room string) error {
	return w.Emit(Envelope{Type: joinEvent, Room: room})
}

// Leave withdraws room membership.
func (w *WS) Leave(room string) error {
	return w.Emit(Envelope{Type: leaveEvent, Room: room})
}

// readLoop decodes inbound frames until the connection ends, then reports
// the closure once. Runs on its own goroutine per connection.
func (w *WS) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			w.finish(conn, err)
			return
		}

		var env Envelope
		if jerr := json.Unmarshal(data, &env); jerr != nil || env.Type == "" {
			if w.log != nil {
				w.log.Warn("discarding malformed broker frame", "error", jerr)
			}
			continue
		}

		w.mu.Lock()
		handler := w.onEvent
		w.mu.Unlock()
		if handler != nil {
			handler(env)
		}
	}
}

// finish classifies the terminal read error and notifies the closed
// handler, unless the closure was locally initiated via Close.
func (w *WS) finish(conn *websocket.Conn, err error) {
	w.mu.Lock()
	local := w.conn != conn // Close already detached this connection
	handler := w.onClosed
	if !local {
		w.conn = nil
	}
	w.mu.Unlock()

	if local {
		return
	}
	_ = conn.Close()

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		err = ErrServerClosed
	}
	if handler != nil {
		handler(err)
	}
}

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/draftwire/draftwire-core/internal/infrastructure/config"
	"github.com/draftwire/draftwire-core/internal/infrastructure/logging"
	"github.com/draftwire/draftwire-core/internal/infrastructure/transport"
)

// Heartbeat event types on the wire.
const (
	pingEvent = "ping"
	pongEvent = "pong"
)

// writeThroughTimeout bounds one cache write from the inbound path.
const writeThroughTimeout = 2 * time.Second

// Manager owns the broker connection: the state machine, outbound
// buffering, heartbeats, inbound dedup/write-through/fan-out, and health.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - The outbound buffer, room set, and latency window are guarded by
//     the manager's lock; the dedup set and subscription registry carry
//     their own locks because the transport goroutine touches them.
type Manager struct {
	tr    transport.Transport
	cache CacheWriter
	cfg   config.RealtimeConfig
	log   *logging.Logger
	clock clock.Clock

	mu             sync.Mutex
	state          ConnState
	attempts       int
	reconnectTimer *clock.Timer
	hbStop         chan struct{}
	sweepStop      chan struct{}
	buffer         *outboundBuffer
	rooms          map[string]struct{}
	lastHeartbeat  time.Time
	latency        *latencyWindow

	dedup   *deduplicator
	subs    *registry
	rules   map[string]WriteThroughRule
	metrics *managerMetrics
}

// NewManager creates a Manager over the given transport. The cache may be
// nil to disable write-through. Write-through uses the default rule table;
// replace it with SetWriteThroughRules before Connect.
//
// Parameters:
//   - tr: Broker transport (the manager owns its lifecycle)
//   - cacheStore: Write-through target, typically *cache.Store
//   - cfg: Realtime configuration from config.yaml
//   - log: Logger for connection diagnostics
//
// Returns:
//   - *Manager: Manager ready for Connect
func NewManager(tr transport.Transport, cacheStore CacheWriter, cfg config.RealtimeConfig, log *logging.Logger) *Manager {
	return newManager(tr, cacheStore, cfg, log, clock.New())
}

// newManager wires a Manager against any clock. Tests use a mock clock to
// drive heartbeats, backoff, and the dedup sweep deterministically.
func newManager(tr transport.Transport, cacheStore CacheWriter, cfg config.RealtimeConfig, log *logging.Logger, clk clock.Clock) *Manager {
	m := &Manager{
		tr:      tr,
		cache:   cacheStore,
		cfg:     cfg,
		log:     log,
		clock:   clk,
		buffer:  newOutboundBuffer(cfg.BufferSize),
		rooms:   make(map[string]struct{}),
		latency: newLatencyWindow(cfg.LatencyWindow),
		dedup:   newDeduplicator(time.Duration(cfg.DedupWindow)*time.Second, clk),
		subs:    newRegistry(),
		rules:   DefaultWriteThroughRules(),
		metrics: &managerMetrics{},
	}

	for _, room := range cfg.Rooms {
		m.rooms[room] = struct{}{}
	}

	tr.SetHandlers(m.handleEvent, m.handleClosed)
	return m
}

// SetWriteThroughRules replaces the event→cache rule table.
// Call before Connect.
func (m *Manager) SetWriteThroughRules(rules map[string]WriteThroughRule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = rules
}

// Connect establishes the broker session.
//
// The attempt is bounded by the configured connect timeout. On failure the
// manager enters the backoff/reconnect path before returning the error, so
// callers need not retry themselves. On success it rejoins the desired
// rooms, flushes buffered outbound messages in priority order, and starts
// the heartbeat.
//
// Returns:
//   - error: ErrAlreadyConnected, or ErrConnectFailed wrapping the cause
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == Connected || m.state == Connecting {
		m.mu.Unlock()
		return ErrAlreadyConnected
	}
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.setStateLocked(Connecting)
	m.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, time.Duration(m.cfg.ConnectTimeout)*time.Second)
	err := m.tr.Dial(dialCtx)
	cancel()
	if err != nil {
		m.log.Warn("broker connect failed", "attempt", m.consecutiveAttempts()+1, "error", err)
		m.scheduleReconnect()
		return fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	m.handleConnected()
	return nil
}

// Disconnect ends the session deliberately: all timers stop, the socket
// closes, and subscriptions and the outbound buffer are cleared. No
// reconnection is scheduled; the manager is reusable via Connect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	if m.hbStop != nil {
		close(m.hbStop)
		m.hbStop = nil
	}
	if m.sweepStop != nil {
		close(m.sweepStop)
		m.sweepStop = nil
	}
	m.buffer.clear()
	m.setStateLocked(Disconnected)
	m.mu.Unlock()

	m.subs.clear()
	if err := m.tr.Close(); err != nil {
		m.log.Warn("transport close failed", "error", err)
	}
	m.log.Info("disconnected from broker")
}

// handleConnected finalises a successful dial.
func (m *Manager) handleConnected() {
	m.mu.Lock()
	m.setStateLocked(Connected)
	m.attempts = 0

	rooms := make([]string, 0, len(m.rooms))
	for room := range m.rooms {
		rooms = append(rooms, room)
	}
	pending := m.buffer.drain()

	hbStop := make(chan struct{})
	m.hbStop = hbStop
	hbTicker := m.clock.Ticker(time.Duration(m.cfg.HeartbeatInterval) * time.Second)

	var sweepTicker *clock.Ticker
	var sweepStop chan struct{}
	if m.sweepStop == nil {
		sweepStop = make(chan struct{})
		m.sweepStop = sweepStop
		sweepTicker = m.clock.Ticker(time.Duration(m.cfg.DedupWindow) * time.Second)
	}
	m.mu.Unlock()

	for _, room := range rooms {
		if err := m.tr.Join(room); err != nil {
			m.log.Warn("room rejoin failed", "room", room, "error", err)
		}
	}

	// Flush the buffer in priority order, insertion order within a tier.
	for _, msg := range pending {
		_ = m.emit(msg, true)
	}

	go m.heartbeatLoop(hbTicker, hbStop)
	if sweepTicker != nil {
		go m.sweepLoop(sweepTicker, sweepStop)
	}

	m.log.Info("connected to broker", "rooms", len(rooms), "flushed", len(pending))
}

// handleClosed reacts to the transport reporting loss of connection.
// A server-initiated close ("told to leave") is terminal; anything else
// enters the backoff path.
func (m *Manager) handleClosed(err error) {
	m.mu.Lock()
	if m.hbStop != nil {
		close(m.hbStop)
		m.hbStop = nil
	}
	if m.state == Disconnected {
		// Explicit local disconnect already handled the teardown.
		m.mu.Unlock()
		return
	}
	serverClosed := errors.Is(err, transport.ErrServerClosed)
	if serverClosed {
		m.setStateLocked(Disconnected)
	}
	m.mu.Unlock()

	if serverClosed {
		m.log.Info("server ended session, not reconnecting")
		return
	}

	m.log.Warn("connection lost", "error", err)
	m.scheduleReconnect()
}

// scheduleReconnect arms the backoff timer for the next attempt. The delay
// doubles per consecutive failure, capped at the configured maximum.
func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	if m.state == Disconnected {
		// Explicit disconnect raced in; stay down.
		m.mu.Unlock()
		return
	}
	m.setStateLocked(Reconnecting)
	m.attempts++
	m.metrics.recordReconnect()

	delay := backoffDelay(
		time.Duration(m.cfg.Reconnect.InitialDelay)*time.Second,
		time.Duration(m.cfg.Reconnect.MaxDelay)*time.Second,
		m.attempts,
	)
	m.reconnectTimer = m.clock.AfterFunc(delay, func() {
		_ = m.Connect(context.Background())
	})
	attempt := m.attempts
	m.mu.Unlock()

	m.log.Info("reconnect scheduled", "attempt", attempt, "delay", delay)
}

// backoffDelay computes the exponential backoff for the given consecutive
// attempt number (1-based).
func backoffDelay(initial, max time.Duration, attempt int) time.Duration {
	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

// SendOption customises one Send call.
type SendOption func(*sendOptions)

type sendOptions struct {
	room     string
	priority Priority
	buffer   bool
}

// WithRoom scopes the message to a room.
func WithRoom(room string) SendOption {
	return func(o *sendOptions) { o.room = room }
}

// WithPriority sets the buffer-flush priority (default PriorityNormal).
func WithPriority(p Priority) SendOption {
	return func(o *sendOptions) { o.priority = p }
}

// WithoutBuffering drops the message instead of queueing it when the
// connection is down.
func WithoutBuffering() SendOption {
	return func(o *sendOptions) { o.buffer = false }
}

// Send delivers an event to the broker.
//
// While Connected the message is emitted immediately; otherwise it is
// appended to the bounded outbound buffer (drop-oldest on overflow) unless
// WithoutBuffering was given. An emission failure after connect is
// counted and, when buffering is permitted, requeued for the next connect
// rather than surfaced.
//
// Parameters:
//   - eventType: Event name (e.g. "score")
//   - payload: Any JSON-serializable value
//   - opts: WithRoom, WithPriority, WithoutBuffering
//
// Returns:
//   - error: ErrNotSerializable, ErrDropped, or an emit failure when
//     buffering was not permitted
func (m *Manager) Send(eventType string, payload any, opts ...SendOption) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotSerializable, err)
	}

	o := sendOptions{priority: PriorityNormal, buffer: true}
	for _, opt := range opts {
		opt(&o)
	}

	msg := Message{
		ID:        DeriveID(eventType, raw),
		Type:      eventType,
		Payload:   raw,
		Room:      o.room,
		Priority:  o.priority,
		CreatedAt: m.clock.Now(),
	}

	m.mu.Lock()
	connected := m.state == Connected
	m.mu.Unlock()

	if connected {
		if emitErr := m.emit(msg, o.buffer); emitErr != nil && !o.buffer {
			return emitErr
		}
		return nil
	}

	if o.buffer {
		m.bufferMessage(msg)
		return nil
	}
	m.metrics.recordDropped()
	return ErrDropped
}

// emit pushes one message onto the wire, requeueing it on failure when
// permitted.
func (m *Manager) emit(msg Message, allowRequeue bool) error {
	env := transport.Envelope{
		ID:        msg.ID,
		Type:      msg.Type,
		Room:      msg.Room,
		Payload:   msg.Payload,
		CreatedAt: msg.CreatedAt.UnixMilli(),
	}

	if err := m.tr.Emit(env); err != nil {
		m.metrics.recordError()
		m.log.Warn("emit failed", "type", msg.Type, "error", err)
		if allowRequeue {
			m.bufferMessage(msg)
		}
		return err
	}

	m.metrics.recordSent()
	m.dedup.remember(msg.ID)
	return nil
}

// bufferMessage queues a message for the next connect.
func (m *Manager) bufferMessage(msg Message) {
	m.mu.Lock()
	evicted := m.buffer.add(msg)
	m.mu.Unlock()

	m.metrics.recordBuffered()
	if evicted {
		m.metrics.recordDropped()
	}
}

// handleEvent processes one inbound envelope from the transport.
func (m *Manager) handleEvent(env transport.Envelope) {
	if env.Type == pongEvent {
		m.handlePong(env)
		return
	}

	id := env.ID
	if id == "" {
		id = DeriveID(env.Type, env.Payload)
	}
	if !m.dedup.remember(id) {
		// Redelivery inside the dedup window; the broker is at-least-once.
		m.metrics.recordDeduplicated()
		return
	}

	m.metrics.recordReceived()
	m.writeThrough(env)

	for _, cb := range m.subs.callbacks(env.Type) {
		m.invoke(cb, env)
	}
}

// invoke runs one subscriber callback with panic isolation, so a faulty
// subscriber cannot abort delivery to the rest or destabilise the
// connection.
func (m *Manager) invoke(cb Callback, env transport.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("subscriber panic recovered", "type", env.Type, "panic", r)
		}
	}()
	cb(env.Type, env.Payload)
}

// writeThrough opportunistically caches the event payload per the rule
// table. Failures are logged, never surfaced into the inbound path.
func (m *Manager) writeThrough(env transport.Envelope) {
	if m.cache == nil {
		return
	}

	m.mu.Lock()
	rule, ok := m.rules[env.Type]
	m.mu.Unlock()
	if !ok {
		return
	}

	key, ok := rule.Key(env.Payload)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeThroughTimeout)
	defer cancel()
	if err := m.cache.Set(ctx, key, json.RawMessage(env.Payload), rule.TTL, rule.Tags); err != nil {
		m.log.Warn("write-through failed", "type", env.Type, "key", key, "error", err)
	}
}

// heartbeatLoop emits pings on the configured interval until stopped.
func (m *Manager) heartbeatLoop(ticker *clock.Ticker, stop chan struct{}) {
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.sendPing()
		}
	}
}

// sendPing emits one heartbeat carrying the current timestamp and records
// lastHeartbeat, which health evaluation uses to detect staleness.
func (m *Manager) sendPing() {
	m.mu.Lock()
	if m.state != Connected {
		m.mu.Unlock()
		return
	}
	now := m.clock.Now()
	m.lastHeartbeat = now
	m.mu.Unlock()

	payload, _ := json.Marshal(pingPayload{SentAt: now.UnixMilli()})
	if err := m.tr.Emit(transport.Envelope{Type: pingEvent, Payload: payload, CreatedAt: now.UnixMilli()}); err != nil {
		m.metrics.recordError()
		m.log.Warn("heartbeat emit failed", "error", err)
	}
}

// handlePong folds a heartbeat reply into the rolling latency window.
func (m *Manager) handlePong(env transport.Envelope) {
	var p pingPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.SentAt == 0 {
		m.log.Warn("discarding malformed pong", "error", err)
		return
	}

	rtt := float64(m.clock.Now().UnixMilli() - p.SentAt)
	m.mu.Lock()
	m.latency.push(rtt)
	m.mu.Unlock()
}

// sweepLoop periodically discards dedup entries older than the window.
func (m *Manager) sweepLoop(ticker *clock.Ticker, stop chan struct{}) {
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if removed := m.dedup.sweep(); removed > 0 {
				m.log.Debug("dedup sweep", "removed", removed)
			}
		}
	}
}

// Subscribe registers a callback for an event type and returns its
// unsubscribe closure. Fan-out preserves registration order.
func (m *Manager) Subscribe(eventType string, cb Callback) func() {
	return m.subs.subscribe(eventType, cb)
}

// JoinRoom adds a room to the desired set, joining immediately when
// Connected; otherwise the room is applied on the next successful connect.
func (m *Manager) JoinRoom(room string) error {
	m.mu.Lock()
	m.rooms[room] = struct{}{}
	connected := m.state == Connected
	m.mu.Unlock()

	if connected {
		return m.tr.Join(room)
	}
	return nil
}

// LeaveRoom removes a room from the desired set, leaving immediately when
// Connected.
func (m *Manager) LeaveRoom(room string) error {
	m.mu.Lock()
	delete(m.rooms, room)
	connected := m.state == Connected
	m.mu.Unlock()

	if connected {
		return m.tr.Leave(room)
	}
	return nil
}

// State returns the current connection state.
func (m *Manager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Health evaluates connection health from current metrics alone.
func (m *Manager) Health() Health {
	m.mu.Lock()
	state := m.state
	lastHB := m.lastHeartbeat
	avg, _ := m.latency.average()
	m.mu.Unlock()

	return evaluateHealth(m.cfg.Health, state, lastHB, m.clock.Now(), avg, m.metrics.errorRate())
}

// Metrics returns a snapshot of connection activity since the last reset.
func (m *Manager) Metrics() MetricsSnapshot {
	m.mu.Lock()
	bufSize := m.buffer.size()
	avg, _ := m.latency.average()
	m.mu.Unlock()

	return m.metrics.snapshot(bufSize, avg)
}

// ResetMetrics zeroes the snapshot counters.
func (m *Manager) ResetMetrics() {
	m.metrics.reset()
}

// setStateLocked updates the state and its Prometheus gauge.
// Caller must hold the manager lock.
func (m *Manager) setStateLocked(s ConnState) {
	m.state = s
	promConnState.Set(float64(s))
}

// consecutiveAttempts returns the failed-connect streak.
func (m *Manager) consecutiveAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

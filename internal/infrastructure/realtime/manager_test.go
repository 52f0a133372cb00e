package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/draftwire/draftwire-core/internal/infrastructure/config"
	"github.com/draftwire/draftwire-core/internal/infrastructure/logging"
	"github.com/draftwire/draftwire-core/internal/infrastructure/transport"
)

// ===== Test Fixtures =====

// fakeTransport is an in-memory transport.Transport that records calls and
// lets tests inject failures and inbound traffic.
type fakeTransport struct {
	mu      sync.Mutex
	dialErr error
	emitErr error

	dials   int
	closes  int
	emitted []transport.Envelope
	joined  []string
	left    []string

	onEvent  transport.EventHandler
	onClosed transport.ClosedHandler
}

func (f *fakeTransport) Dial(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials++
	return f.dialErr
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeTransport) Emit(env transport.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.emitErr != nil {
		return f.emitErr
	}
	f.emitted = append(f.emitted, env)
	return nil
}

func (f *fakeTransport) Join(room string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = append(f.joined, room)
	return nil
}

func (f *fakeTransport) Leave(room string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.left = append(f.left, room)
	return nil
}

func (f *fakeTransport) SetHandlers(onEvent transport.EventHandler, onClosed transport.ClosedHandler) {
	f.onEvent = onEvent
	f.onClosed = onClosed
}

func (f *fakeTransport) setDialErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dialErr = err
}

func (f *fakeTransport) setEmitErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emitErr = err
}

func (f *fakeTransport) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

func (f *fakeTransport) emittedEnvelopes() []transport.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]transport.Envelope, len(f.emitted))
	copy(out, f.emitted)
	return out
}

func (f *fakeTransport) joinedRooms() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.joined))
	copy(out, f.joined)
	return out
}

// deliver simulates an inbound envelope from the broker.
func (f *fakeTransport) deliver(env transport.Envelope) {
	f.onEvent(env)
}

// dropConn simulates the transport reporting a lost connection.
func (f *fakeTransport) dropConn(err error) {
	f.onClosed(err)
}

// fakeCacheWriter records write-through calls.
type fakeCacheWriter struct {
	mu   sync.Mutex
	sets []cacheSet
	err  error
}

type cacheSet struct {
	key  string
	ttl  time.Duration
	tags []string
}

func (f *fakeCacheWriter) Set(ctx context.Context, key string, value any, ttl time.Duration, tags []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sets = append(f.sets, cacheSet{key: key, ttl: ttl, tags: tags})
	return nil
}

func (f *fakeCacheWriter) setCalls() []cacheSet {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]cacheSet, len(f.sets))
	copy(out, f.sets)
	return out
}

func rtTestLogger() *logging.Logger {
	return &logging.Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func testRealtimeConfig() config.RealtimeConfig {
	return config.RealtimeConfig{
		ConnectTimeout:    5,
		HeartbeatInterval: 30,
		LatencyWindow:     10,
		DedupWindow:       60,
		BufferSize:        3,
		Reconnect:         config.ReconnectConfig{InitialDelay: 1, MaxDelay: 8},
		Health: config.HealthConfig{
			StaleAfter:         90,
			DegradedLatencyMs:  250,
			DegradedErrorRate:  0.05,
			UnhealthyErrorRate: 0.25,
		},
	}
}

func newTestManager(cfg config.RealtimeConfig, cacheW CacheWriter) (*Manager, *fakeTransport, *clock.Mock) {
	ft := &fakeTransport{}
	clk := clock.NewMock()
	m := newManager(ft, cacheW, cfg, rtTestLogger(), clk)
	return m, ft, clk
}

// settle yields to the manager's timer goroutines after a mock-clock step.
func settle() {
	time.Sleep(10 * time.Millisecond)
}

// ===== Connection Lifecycle =====

func TestManager_ConnectLifecycle(t *testing.T) {
	m, ft, _ := newTestManager(testRealtimeConfig(), nil)
	defer m.Disconnect()

	if m.State() != Disconnected {
		t.Fatalf("initial state = %v, want Disconnected", m.State())
	}

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if m.State() != Connected {
		t.Errorf("state = %v, want Connected", m.State())
	}
	if got := ft.dialCount(); got != 1 {
		t.Errorf("dials = %d, want 1", got)
	}

	if err := m.Connect(context.Background()); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("second Connect() error = %v, want ErrAlreadyConnected", err)
	}
}

func TestManager_ConnectFailureSchedulesBackoff(t *testing.T) {
	m, ft, clk := newTestManager(testRealtimeConfig(), nil)
	defer m.Disconnect()

	ft.setDialErr(errors.New("connection refused"))

	err := m.Connect(context.Background())
	if !errors.Is(err, ErrConnectFailed) {
		t.Fatalf("Connect() error = %v, want ErrConnectFailed", err)
	}
	if m.State() != Reconnecting {
		t.Fatalf("state = %v, want Reconnecting", m.State())
	}

	// First retry after the initial 1s delay.
	clk.Add(1 * time.Second)
	settle()
	if got := ft.dialCount(); got != 2 {
		t.Fatalf("dials after 1s = %d, want 2", got)
	}

	// Second retry doubles to 2s: nothing at 1s, fires at 2s.
	clk.Add(1 * time.Second)
	settle()
	if got := ft.dialCount(); got != 2 {
		t.Fatalf("dials fired early, got %d", got)
	}
	clk.Add(1 * time.Second)
	settle()
	if got := ft.dialCount(); got != 3 {
		t.Fatalf("dials after 2s backoff = %d, want 3", got)
	}

	// Walk the remaining doubling: 4s, 8s.
	clk.Add(4 * time.Second)
	settle()
	clk.Add(8 * time.Second)
	settle()
	if got := ft.dialCount(); got != 5 {
		t.Fatalf("dials = %d, want 5", got)
	}

	// Sixth attempt would be 16s but is capped at MaxDelay=8s.
	clk.Add(7 * time.Second)
	settle()
	if got := ft.dialCount(); got != 5 {
		t.Fatalf("capped retry fired early, dials = %d", got)
	}
	clk.Add(1 * time.Second)
	settle()
	if got := ft.dialCount(); got != 6 {
		t.Fatalf("dials after capped 8s = %d, want 6", got)
	}

	// Recovery resets the attempt streak.
	ft.setDialErr(nil)
	clk.Add(8 * time.Second)
	settle()
	if m.State() != Connected {
		t.Errorf("state after recovery = %v, want Connected", m.State())
	}
	if m.consecutiveAttempts() != 0 {
		t.Errorf("attempts after recovery = %d, want 0", m.consecutiveAttempts())
	}
}

func TestManager_ServerCloseDoesNotReconnect(t *testing.T) {
	m, ft, clk := newTestManager(testRealtimeConfig(), nil)

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	ft.dropConn(transport.ErrServerClosed)
	if m.State() != Disconnected {
		t.Fatalf("state after server close = %v, want Disconnected", m.State())
	}

	clk.Add(2 * time.Minute)
	settle()
	if got := ft.dialCount(); got != 1 {
		t.Errorf("dials = %d, want 1 (no reconnect after server close)", got)
	}
}

func TestManager_AbnormalCloseReconnects(t *testing.T) {
	m, ft, clk := newTestManager(testRealtimeConfig(), nil)
	defer m.Disconnect()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	ft.dropConn(errors.New("broken pipe"))
	if m.State() != Reconnecting {
		t.Fatalf("state after drop = %v, want Reconnecting", m.State())
	}
	if got := m.Metrics().Reconnects; got != 1 {
		t.Errorf("Reconnects = %d, want 1", got)
	}

	clk.Add(1 * time.Second)
	settle()
	if m.State() != Connected {
		t.Errorf("state after backoff = %v, want Connected", m.State())
	}
	if got := ft.dialCount(); got != 2 {
		t.Errorf("dials = %d, want 2", got)
	}
}

func TestManager_DisconnectStopsEverything(t *testing.T) {
	m, ft, clk := newTestManager(testRealtimeConfig(), nil)

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	var delivered int
	m.Subscribe("score", func(event string, payload json.RawMessage) {
		delivered++
	})

	m.Disconnect()
	if m.State() != Disconnected {
		t.Fatalf("state = %v, want Disconnected", m.State())
	}

	clk.Add(5 * time.Minute)
	settle()
	if got := ft.dialCount(); got != 1 {
		t.Errorf("dials = %d, want 1 (no reconnect after Disconnect)", got)
	}

	// Subscriptions were cleared.
	ft.deliver(transport.Envelope{ID: "s1", Type: "score", Payload: json.RawMessage(`{}`)})
	if delivered != 0 {
		t.Errorf("callback invoked %d times after Disconnect, want 0", delivered)
	}
}

// ===== Send, Buffering, Priority =====

func TestManager_SendWhileConnected(t *testing.T) {
	m, ft, _ := newTestManager(testRealtimeConfig(), nil)
	defer m.Disconnect()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := m.Send("score", map[string]int{"points": 14}, WithRoom("league:42")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	envs := ft.emittedEnvelopes()
	if len(envs) != 1 {
		t.Fatalf("emitted = %d envelopes, want 1", len(envs))
	}
	if envs[0].Type != "score" || envs[0].Room != "league:42" || envs[0].ID == "" {
		t.Errorf("envelope = %+v, want type score, room league:42, non-empty id", envs[0])
	}
	if got := m.Metrics().Sent; got != 1 {
		t.Errorf("Sent = %d, want 1", got)
	}
}

func TestManager_SendNotSerializable(t *testing.T) {
	m, _, _ := newTestManager(testRealtimeConfig(), nil)

	if err := m.Send("bad", make(chan int)); !errors.Is(err, ErrNotSerializable) {
		t.Errorf("Send(chan) error = %v, want ErrNotSerializable", err)
	}
}

func TestManager_BufferFlushInPriorityOrder(t *testing.T) {
	m, ft, _ := newTestManager(testRealtimeConfig(), nil)
	defer m.Disconnect()

	// All three queue while disconnected, in the wrong order on purpose.
	if err := m.Send("low", "a", WithPriority(PriorityLow)); err != nil {
		t.Fatalf("Send(low) error = %v", err)
	}
	if err := m.Send("critical", "b", WithPriority(PriorityCritical)); err != nil {
		t.Fatalf("Send(critical) error = %v", err)
	}
	if err := m.Send("normal", "c"); err != nil {
		t.Fatalf("Send(normal) error = %v", err)
	}

	snap := m.Metrics()
	if snap.Buffered != 3 || snap.Sent != 0 || snap.BufferSize != 3 {
		t.Fatalf("pre-connect metrics = %+v, want Buffered=3 Sent=0 BufferSize=3", snap)
	}

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	envs := ft.emittedEnvelopes()
	if len(envs) != 3 {
		t.Fatalf("flushed = %d envelopes, want 3", len(envs))
	}
	wantOrder := []string{"critical", "normal", "low"}
	for i, want := range wantOrder {
		if envs[i].Type != want {
			t.Errorf("flush[%d] = %q, want %q", i, envs[i].Type, want)
		}
	}
	if got := m.Metrics().BufferSize; got != 0 {
		t.Errorf("BufferSize after flush = %d, want 0", got)
	}
}

func TestManager_BufferOverflowDropsOldest(t *testing.T) {
	m, ft, _ := newTestManager(testRealtimeConfig(), nil) // BufferSize: 3
	defer m.Disconnect()

	for _, typ := range []string{"first", "second", "third", "fourth"} {
		if err := m.Send(typ, typ); err != nil {
			t.Fatalf("Send(%s) error = %v", typ, err)
		}
	}

	snap := m.Metrics()
	if snap.Buffered != 4 || snap.Dropped != 1 {
		t.Fatalf("metrics = %+v, want Buffered=4 Dropped=1", snap)
	}

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	envs := ft.emittedEnvelopes()
	if len(envs) != 3 {
		t.Fatalf("flushed = %d envelopes, want 3", len(envs))
	}
	for _, env := range envs {
		if env.Type == "first" {
			t.Errorf("oldest message survived the overflow")
		}
	}
}

func TestManager_SendWithoutBufferingDrops(t *testing.T) {
	m, _, _ := newTestManager(testRealtimeConfig(), nil)

	if err := m.Send("ephemeral", "x", WithoutBuffering()); !errors.Is(err, ErrDropped) {
		t.Errorf("Send() error = %v, want ErrDropped", err)
	}
	if got := m.Metrics().Dropped; got != 1 {
		t.Errorf("Dropped = %d, want 1", got)
	}
}

func TestManager_EmitFailureRequeues(t *testing.T) {
	m, ft, _ := newTestManager(testRealtimeConfig(), nil)
	defer m.Disconnect()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	ft.setEmitErr(errors.New("wire jam"))
	if err := m.Send("score", "x"); err != nil {
		t.Fatalf("Send() error = %v, want nil (requeued)", err)
	}

	snap := m.Metrics()
	if snap.Errors != 1 || snap.Buffered != 1 || snap.BufferSize != 1 {
		t.Errorf("metrics = %+v, want Errors=1 Buffered=1 BufferSize=1", snap)
	}
}

// ===== Inbound: Dedup, Fan-out, Write-through =====

func TestManager_DuplicateDeliveredOnce(t *testing.T) {
	m, ft, _ := newTestManager(testRealtimeConfig(), nil)
	defer m.Disconnect()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	var delivered int
	m.Subscribe("score", func(event string, payload json.RawMessage) {
		delivered++
	})

	env := transport.Envelope{ID: "score:abc", Type: "score", Payload: json.RawMessage(`{"points":7}`)}
	ft.deliver(env)
	ft.deliver(env)

	if delivered != 1 {
		t.Errorf("delivered = %d, want 1", delivered)
	}
	snap := m.Metrics()
	if snap.Received != 1 || snap.Deduplicated != 1 {
		t.Errorf("metrics = %+v, want Received=1 Deduplicated=1", snap)
	}
}

func TestManager_DedupDerivesMissingID(t *testing.T) {
	m, ft, _ := newTestManager(testRealtimeConfig(), nil)
	defer m.Disconnect()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	var delivered int
	m.Subscribe("score", func(event string, payload json.RawMessage) {
		delivered++
	})

	// No broker-assigned id: identity falls back to type+payload.
	env := transport.Envelope{Type: "score", Payload: json.RawMessage(`{"points":3}`)}
	ft.deliver(env)
	ft.deliver(env)

	if delivered != 1 {
		t.Errorf("delivered = %d, want 1", delivered)
	}
}

func TestManager_DedupWindowExpires(t *testing.T) {
	m, ft, clk := newTestManager(testRealtimeConfig(), nil)
	defer m.Disconnect()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	var delivered int
	m.Subscribe("score", func(event string, payload json.RawMessage) {
		delivered++
	})

	env := transport.Envelope{ID: "score:xyz", Type: "score", Payload: json.RawMessage(`{}`)}
	ft.deliver(env)

	// Past the 60s window the same id is a legitimate new message.
	clk.Add(61 * time.Second)
	settle()
	ft.deliver(env)

	if delivered != 2 {
		t.Errorf("delivered = %d, want 2 (window expired)", delivered)
	}
}

func TestManager_FanOutOrderAndUnsubscribe(t *testing.T) {
	m, ft, _ := newTestManager(testRealtimeConfig(), nil)
	defer m.Disconnect()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	var order []string
	unsubA := m.Subscribe("score", func(event string, payload json.RawMessage) {
		order = append(order, "a")
	})
	m.Subscribe("score", func(event string, payload json.RawMessage) {
		order = append(order, "b")
	})

	ft.deliver(transport.Envelope{ID: "1", Type: "score", Payload: json.RawMessage(`{}`)})
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("fan-out order = %v, want [a b]", order)
	}

	unsubA()
	ft.deliver(transport.Envelope{ID: "2", Type: "score", Payload: json.RawMessage(`{}`)})
	if len(order) != 3 || order[2] != "b" {
		t.Errorf("after unsubscribe order = %v, want [a b b]", order)
	}
}

func TestManager_SubscriberPanicIsolated(t *testing.T) {
	m, ft, _ := newTestManager(testRealtimeConfig(), nil)
	defer m.Disconnect()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	var survived bool
	m.Subscribe("score", func(event string, payload json.RawMessage) {
		panic("subscriber bug")
	})
	m.Subscribe("score", func(event string, payload json.RawMessage) {
		survived = true
	})

	ft.deliver(transport.Envelope{ID: "1", Type: "score", Payload: json.RawMessage(`{}`)})
	if !survived {
		t.Error("second subscriber not invoked after first panicked")
	}
	if m.State() != Connected {
		t.Errorf("state = %v, want Connected (panic must not affect connection)", m.State())
	}
}

func TestManager_WriteThrough(t *testing.T) {
	cw := &fakeCacheWriter{}
	m, ft, _ := newTestManager(testRealtimeConfig(), cw)
	defer m.Disconnect()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	ft.deliver(transport.Envelope{
		ID:      "p1",
		Type:    "playerUpdate",
		Payload: json.RawMessage(`{"player_id":"2977644","status":"active"}`),
	})

	sets := cw.setCalls()
	if len(sets) != 1 {
		t.Fatalf("cache sets = %d, want 1", len(sets))
	}
	if sets[0].key != "player:2977644" {
		t.Errorf("key = %q, want player:2977644", sets[0].key)
	}
	if sets[0].ttl != 60*time.Second {
		t.Errorf("ttl = %v, want 60s", sets[0].ttl)
	}
	if len(sets[0].tags) != 1 || sets[0].tags[0] != "players" {
		t.Errorf("tags = %v, want [players]", sets[0].tags)
	}

	// Composite key from numeric fields.
	ft.deliver(transport.Envelope{
		ID:      "m1",
		Type:    "matchupUpdate",
		Payload: json.RawMessage(`{"league":"nfl","season":2026,"week":3}`),
	})
	sets = cw.setCalls()
	if len(sets) != 2 || sets[1].key != "matchups:nfl:2026:3" {
		t.Errorf("composite key = %q, want matchups:nfl:2026:3", sets[1].key)
	}

	// Unknown event types pass through without caching.
	ft.deliver(transport.Envelope{ID: "x1", Type: "chat", Payload: json.RawMessage(`{}`)})
	if got := len(cw.setCalls()); got != 2 {
		t.Errorf("cache sets after unknown event = %d, want 2", got)
	}
}

func TestManager_WriteThroughFailureDoesNotBlockFanOut(t *testing.T) {
	cw := &fakeCacheWriter{err: errors.New("redis down")}
	m, ft, _ := newTestManager(testRealtimeConfig(), cw)
	defer m.Disconnect()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	var delivered bool
	m.Subscribe("playerUpdate", func(event string, payload json.RawMessage) {
		delivered = true
	})

	ft.deliver(transport.Envelope{
		ID:      "p1",
		Type:    "playerUpdate",
		Payload: json.RawMessage(`{"player_id":"1"}`),
	})
	if !delivered {
		t.Error("subscriber not invoked when write-through failed")
	}
}

// ===== Rooms =====

func TestManager_RoomsReappliedOnConnect(t *testing.T) {
	cfg := testRealtimeConfig()
	cfg.Rooms = []string{"league:global"}
	m, ft, _ := newTestManager(cfg, nil)
	defer m.Disconnect()

	// Desired-set only while disconnected.
	if err := m.JoinRoom("league:42"); err != nil {
		t.Fatalf("JoinRoom() error = %v", err)
	}
	if got := len(ft.joinedRooms()); got != 0 {
		t.Fatalf("joined while disconnected = %d, want 0", got)
	}

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	joined := ft.joinedRooms()
	if len(joined) != 2 {
		t.Fatalf("joined = %v, want both configured and requested rooms", joined)
	}
	want := map[string]bool{"league:global": true, "league:42": true}
	for _, room := range joined {
		if !want[room] {
			t.Errorf("unexpected room %q", room)
		}
	}

	// Immediate join/leave while connected.
	if err := m.JoinRoom("league:7"); err != nil {
		t.Fatalf("JoinRoom() error = %v", err)
	}
	if got := len(ft.joinedRooms()); got != 3 {
		t.Errorf("joined = %d, want 3", got)
	}
	if err := m.LeaveRoom("league:7"); err != nil {
		t.Fatalf("LeaveRoom() error = %v", err)
	}
	ft.mu.Lock()
	left := len(ft.left)
	ft.mu.Unlock()
	if left != 1 {
		t.Errorf("left = %d, want 1", left)
	}
}

// ===== Heartbeat and Health =====

func TestManager_HeartbeatAndLatency(t *testing.T) {
	m, ft, clk := newTestManager(testRealtimeConfig(), nil)
	defer m.Disconnect()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	settle()

	clk.Add(30 * time.Second)
	settle()

	envs := ft.emittedEnvelopes()
	if len(envs) != 1 || envs[0].Type != "ping" {
		t.Fatalf("emitted = %+v, want one ping", envs)
	}

	// Reply 40ms later; the round-trip lands in the latency window.
	clk.Add(40 * time.Millisecond)
	ft.deliver(transport.Envelope{Type: "pong", Payload: envs[0].Payload})

	snap := m.Metrics()
	if snap.AvgLatencyMs != 40 {
		t.Errorf("AvgLatencyMs = %v, want 40", snap.AvgLatencyMs)
	}

	h := m.Health()
	if h.Status != StatusHealthy {
		t.Errorf("health = %+v, want healthy", h)
	}
	if h.LastHeartbeat.IsZero() {
		t.Error("LastHeartbeat not recorded on ping")
	}
}

func TestManager_HealthUnhealthyWhenDisconnected(t *testing.T) {
	m, _, _ := newTestManager(testRealtimeConfig(), nil)

	h := m.Health()
	if h.Status != StatusUnhealthy {
		t.Errorf("health while disconnected = %v, want unhealthy", h.Status)
	}
	if h.State != "disconnected" {
		t.Errorf("health state = %q, want disconnected", h.State)
	}
}

func TestEvaluateHealth(t *testing.T) {
	cfg := testRealtimeConfig().Health
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		state         ConnState
		lastHeartbeat time.Time
		latencyMs     float64
		errorRate     float64
		want          HealthStatus
	}{
		{"healthy baseline", Connected, now.Add(-10 * time.Second), 40, 0, StatusHealthy},
		{"disconnected", Disconnected, now, 0, 0, StatusUnhealthy},
		{"reconnecting", Reconnecting, now, 0, 0, StatusUnhealthy},
		{"stale heartbeat", Connected, now.Add(-91 * time.Second), 40, 0, StatusUnhealthy},
		{"error rate unhealthy", Connected, now, 40, 0.30, StatusUnhealthy},
		{"error rate degraded", Connected, now, 40, 0.10, StatusDegraded},
		{"latency degraded", Connected, now, 300, 0, StatusDegraded},
		{"no heartbeat yet", Connected, time.Time{}, 0, 0, StatusHealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := evaluateHealth(cfg, tt.state, tt.lastHeartbeat, now, tt.latencyMs, tt.errorRate)
			if h.Status != tt.want {
				t.Errorf("evaluateHealth() = %v (%s), want %v", h.Status, h.Reason, tt.want)
			}
		})
	}
}

// ===== Components =====

func TestDeriveID(t *testing.T) {
	a := DeriveID("score", json.RawMessage(`{"points":7}`))
	b := DeriveID("score", json.RawMessage(`{"points":7}`))
	c := DeriveID("score", json.RawMessage(`{"points":8}`))
	d := DeriveID("update", json.RawMessage(`{"points":7}`))

	if a != b {
		t.Errorf("same input produced different ids: %s vs %s", a, b)
	}
	if a == c || a == d {
		t.Errorf("distinct inputs collided: %s %s %s", a, c, d)
	}
}

func TestOutboundBuffer_StableWithinPriority(t *testing.T) {
	b := newOutboundBuffer(10)
	b.add(Message{ID: "n1", Priority: PriorityNormal})
	b.add(Message{ID: "h1", Priority: PriorityHigh})
	b.add(Message{ID: "n2", Priority: PriorityNormal})
	b.add(Message{ID: "h2", Priority: PriorityHigh})

	drained := b.drain()
	want := []string{"h1", "h2", "n1", "n2"}
	for i, id := range want {
		if drained[i].ID != id {
			t.Errorf("drain[%d] = %s, want %s", i, drained[i].ID, id)
		}
	}
	if b.size() != 0 {
		t.Errorf("size after drain = %d, want 0", b.size())
	}
}

func TestLatencyWindow_RollingAverage(t *testing.T) {
	w := newLatencyWindow(3)

	if _, ok := w.average(); ok {
		t.Error("empty window reported an average")
	}

	w.push(10)
	w.push(20)
	w.push(30)
	if avg, _ := w.average(); avg != 20 {
		t.Errorf("average = %v, want 20", avg)
	}

	// A fourth sample evicts the oldest.
	w.push(70)
	if avg, _ := w.average(); avg != 40 {
		t.Errorf("rolling average = %v, want 40", avg)
	}
}

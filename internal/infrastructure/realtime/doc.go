// Package realtime provides the broker connection manager for Draftwire Core.
//
// This package manages:
//   - The connection state machine (Disconnected, Connecting, Connected,
//     Reconnecting) with exponential-backoff reconnection
//   - Priority-aware buffering of outbound messages while disconnected
//   - Deduplication of redelivered inbound events
//   - Opportunistic write-through of fresh event payloads into the cache
//   - Subscriber fan-out per event type with callback isolation
//   - Heartbeat round-trips and health evaluation
//
// # Architecture
//
//	broker ↔ transport.Transport ↔ Manager → Deduplicator → cache write-through
//	                                              ↓
//	                                     subscriber callbacks
//
// The manager assumes at-least-once redelivery from the broker: every
// inbound event carries (or derives) a deterministic id, and ids seen
// within the dedup window are discarded silently. A deliberate
// server-side disconnect ("told to leave") transitions to Disconnected
// with no reconnection; any other loss of connection enters the backoff
// path.
//
// # Failure Semantics
//
// Emit failures are counted and, when buffering is permitted, requeued for
// the next connect. A panicking subscriber callback is isolated and logged;
// it never aborts delivery to remaining subscribers or destabilises the
// state machine.
//
// # Usage
//
//	mgr := realtime.NewManager(tr, store, cfg.Realtime, log)
//
//	unsubscribe := mgr.Subscribe("liveScores", func(event string, payload json.RawMessage) {
//	    ...
//	})
//	defer unsubscribe()
//
//	if err := mgr.Connect(ctx); err != nil { ... }
//	_ = mgr.Send("score", update, realtime.WithPriority(realtime.PriorityCritical))
package realtime

// Package transport provides broker connectivity for the realtime manager.
//
// This package manages:
//   - The Transport interface: dial/close/emit/join/leave plus inbound
//     event and closure callbacks
//   - An MQTT adapter (eclipse/paho) mapping rooms to topic scopes
//   - A WebSocket adapter (gorilla) speaking JSON event envelopes
//
// # Architecture
//
// The realtime manager owns the connection lifecycle: adapters never
// reconnect on their own. Every Dial builds a fresh underlying connection,
// and an adapter reports loss of connection exactly once through the
// closed handler. A closure initiated by the server ("told to leave") is
// reported as ErrServerClosed so the manager can suppress reconnection;
// any other closure enters the manager's backoff path.
//
// # Topic / Envelope Mapping
//
// MQTT:
//
//	draftwire/events/<type>          broadcast events
//	draftwire/rooms/<room>/<type>    room-scoped events
//
// WebSocket: a single stream of JSON envelopes
// {id, type, room, payload, created_at}; join/leave are control envelopes.
//
// # Usage
//
//	tr := transport.NewMQTT(cfg.Broker.MQTT, log)
//	tr.SetHandlers(onEvent, onClosed)
//	if err := tr.Dial(ctx); err != nil { ... }
//	defer tr.Close()
package transport

package transport

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/draftwire/draftwire-core/internal/infrastructure/config"
)

// MQTT topic layout.
const (
	topicPrefix     = "draftwire"
	eventTopicBase  = topicPrefix + "/events/"
	roomTopicBase   = topicPrefix + "/rooms/"
	eventWildcard   = eventTopicBase + "#"
	disconnectEvent = "disconnect"
)

// Adapter timeouts.
const (
	mqttOpTimeout         = 5 * time.Second
	mqttDisconnectQuiesce = 500 // milliseconds

	tlsMinVersion = tls.VersionTLS12
)

// MQTT adapts an MQTT broker to the Transport interface.
//
// Rooms map to topic scopes: joining a room subscribes to
// draftwire/rooms/<room>/#. Paho's own auto-reconnect is disabled; the
// realtime manager drives every reconnection through Dial.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type MQTT struct {
	cfg config.MQTTConfig
	log Logger

	mu       sync.Mutex
	client   pahomqtt.Client
	onEvent  EventHandler
	onClosed ClosedHandler
}

// NewMQTT creates an MQTT transport. Call SetHandlers before Dial.
func NewMQTT(cfg config.MQTTConfig, log Logger) *MQTT {
	return &MQTT{
		cfg: cfg,
		log: log,
	}
}

// SetHandlers registers the inbound and closure callbacks.
func (m *MQTT) SetHandlers(onEvent EventHandler, onClosed ClosedHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEvent = onEvent
	m.onClosed = onClosed
}

// Dial connects to the broker and subscribes to the broadcast event scope.
// Each call builds a fresh paho client.
func (m *MQTT) Dial(ctx context.Context) error {
	opts := m.buildOptions()

	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		m.notifyClosed(err)
	})

	client := pahomqtt.NewClient(opts)
	token := client.Connect()

	select {
	case <-ctx.Done():
		client.Disconnect(0)
		return fmt.Errorf("%w: %w", ErrDialFailed, ctx.Err())
	case <-token.Done():
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrDialFailed, err)
	}

	if err := m.subscribe(client, eventWildcard); err != nil {
		client.Disconnect(mqttDisconnectQuiesce)
		return err
	}

	m.mu.Lock()
	m.client = client
	m.mu.Unlock()
	return nil
}

// Close disconnects from the broker without invoking the closed handler.
func (m *MQTT) Close() error {
	m.mu.Lock()
	client := m.client
	m.client = nil
	m.mu.Unlock()

	if client == nil {
		return nil
	}
	client.Disconnect(mqttDisconnectQuiesce)
	return nil
}

// Emit publishes an envelope to its event or room topic.
func (m *MQTT) Emit(env Envelope) error {
	m.mu.Lock()
	client := m.client
	m.mu.Unlock()

	if client == nil || !client.IsConnected() {
		return ErrNotConnected
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEmitFailed, err)
	}

	topic := eventTopicBase + env.Type
	if env.Room != "" {
		topic = roomTopicBase + env.Room + "/" + env.Type
	}

	token := client.Publish(topic, byte(m.cfg.QoS), false, payload)
	if !token.WaitTimeout(mqttOpTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrEmitFailed, mqttOpTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrEmitFailed, err)
	}
	return nil
}

// Join subscribes to a room's topic scope.
func (m *MQTT) Join(room string) error {
	m.mu.Lock()
	client := m.client
	m.mu.Unlock()

	if client == nil || !client.IsConnected() {
		return ErrNotConnected
	}
	return m.subscribe(client, roomTopicBase+room+"/#")
}

// Leave unsubscribes from a room's topic scope.
func (m *MQTT) Leave(room string) error {
	m.mu.Lock()
	client := m.client
	m.mu.Unlock()

	if client == nil || !client.IsConnected() {
		return ErrNotConnected
	}

	token := client.Unsubscribe(roomTopicBase + room + "/#")
	if !token.WaitTimeout(mqttOpTimeout) {
		return fmt.Errorf("%w: unsubscribe timeout", ErrEmitFailed)
	}
	return token.Error()
}

// subscribe registers the shared inbound handler on a topic pattern.
func (m *MQTT) subscribe(client pahomqtt.Client, pattern string) error {
	token := client.Subscribe(pattern, byte(m.cfg.QoS), func(_ pahomqtt.Client, msg pahomqtt.Message) {
		m.handleInbound(msg.Payload())
	})
	if !token.WaitTimeout(mqttOpTimeout) {
		return fmt.Errorf("%w: subscribe timeout on %s", ErrDialFailed, pattern)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: subscribe %s: %w", ErrDialFailed, pattern, err)
	}
	return nil
}

// handleInbound decodes an envelope and dispatches it. Malformed payloads
// are logged and discarded.
func (m *MQTT) handleInbound(payload []byte) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil || env.Type == "" {
		if m.log != nil {
			m.log.Warn("discarding malformed broker message", "error", err)
		}
		return
	}

	// The broker signals "told to leave" with a disconnect control event.
	if env.Type == disconnectEvent {
		_ = m.Close()
		m.notifyClosed(ErrServerClosed)
		return
	}

	m.mu.Lock()
	handler := m.onEvent
	m.mu.Unlock()
	if handler != nil {
		handler(env)
	}
}

// notifyClosed forwards a connection loss to the closed handler.
func (m *MQTT) notifyClosed(err error) {
	m.mu.Lock()
	handler := m.onClosed
	m.client = nil
	m.mu.Unlock()
	if handler != nil {
		handler(err)
	}
}

// buildOptions creates paho options from config. Auto-reconnect and
// connect-retry stay off so the manager owns the reconnection state machine.
func (m *MQTT) buildOptions() *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if m.cfg.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, m.cfg.Host, m.cfg.Port))

	clientID := m.cfg.ClientID
	if clientID == "" {
		clientID = "draftwire-" + uuid.NewString()
	}
	opts.SetClientID(clientID)

	if m.cfg.Username != "" {
		opts.SetUsername(m.cfg.Username)
		opts.SetPassword(m.cfg.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	if m.cfg.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}

	return opts
}

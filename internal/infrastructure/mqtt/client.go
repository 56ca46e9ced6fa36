package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/nerrad567/rfm-gateway/internal/infrastructure/config"
)

// Client wraps paho.mqtt.golang for the gateway's bus side.
//
// Unlike a stock paho client it never reconnects or resubscribes on its
// own: the caller polls IsConnected and drives Reconnect, then subscribes
// again explicitly. That keeps "one resubscribe per recovered link" under
// the control loop's ownership.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	client  pahomqtt.Client
	options *pahomqtt.ClientOptions
	cfg     config.MQTTConfig
	will    *Will

	// subscriptions tracks the handlers registered since the last connect.
	// They are cleared when the link drops because the broker session is clean.
	subscriptions map[string]subscription
	subMu         sync.RWMutex

	connected bool
	connMu    sync.RWMutex

	onConnect    func()
	onDisconnect func(err error)
	callbackMu   sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// MessageHandler is the callback signature for received messages.
//
// Handlers are invoked on paho's goroutines and must not block; the
// gateway's handler only enqueues the message for the control loop.
type MessageHandler func(topic string, payload []byte) error

// Will describes the Last Will and Testament registered with the broker.
// The broker publishes it if the gateway drops off without a clean disconnect.
type Will struct {
	Topic    string
	Payload  string
	QoS      byte
	Retained bool
}

// NewClient builds a client without connecting it.
//
// When cfg.Broker.ClientID is empty a per-boot id of the form
// "rfmgw-<uuid>" is generated so that two gateways on one broker never
// kick each other off.
//
// Parameters:
//   - cfg: MQTT configuration from config.yaml
//   - will: Optional Last Will; nil disables it
//
// Returns:
//   - *Client: Disconnected client, call Connect or Reconnect next
func NewClient(cfg config.MQTTConfig, will *Will) *Client {
	if cfg.Broker.ClientID == "" {
		cfg.Broker.ClientID = GenerateClientID()
	}

	opts := buildClientOptions(cfg)
	if will != nil {
		opts.SetWill(will.Topic, will.Payload, will.QoS, will.Retained)
	}

	c := &Client{
		cfg:           cfg,
		options:       opts,
		will:          will,
		subscriptions: make(map[string]subscription),
	}

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})

	c.client = pahomqtt.NewClient(opts)
	return c
}

// GenerateClientID returns a unique client id for this process.
func GenerateClientID() string {
	return "rfmgw-" + uuid.NewString()
}

// ClientID returns the client id presented to the broker.
func (c *Client) ClientID() string {
	return c.cfg.Broker.ClientID
}

// Reconnect makes a single connection attempt and blocks until it either
// succeeds or times out. It does not restore subscriptions.
//
// Returns:
//   - error: nil if connected, ErrConnectionFailed otherwise
func (c *Client) Reconnect() error {
	if c.client.IsConnected() {
		c.setConnected(true)
		return nil
	}

	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The OnConnect handler runs asynchronously; mark the state here so
	// IsConnected is true as soon as Reconnect returns.
	c.setConnected(true)
	return nil
}

func (c *Client) setConnected(v bool) {
	c.connMu.Lock()
	c.connected = v
	c.connMu.Unlock()
}

// handleConnect is called by paho when the connection is established.
func (c *Client) handleConnect() {
	c.setConnected(true)

	c.clearRetainedWill()

	c.callbackMu.RLock()
	callback := c.onConnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

// handleDisconnect is called by paho when the connection is lost.
func (c *Client) handleDisconnect(err error) {
	c.setConnected(false)

	c.subMu.Lock()
	c.subscriptions = make(map[string]subscription)
	c.subMu.Unlock()

	if logger := c.getLogger(); logger != nil {
		logger.Warn("MQTT connection lost", "error", err)
	}

	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// clearRetainedWill removes a retained will left over from a previous crash.
// An empty retained payload deletes the retained message on the broker.
func (c *Client) clearRetainedWill() {
	if c.will == nil || !c.will.Retained {
		return
	}
	c.client.Publish(c.will.Topic, c.will.QoS, true, []byte{})
}

// Close gracefully disconnects from the MQTT broker.
// Live subscriptions are removed first so the broker stops routing to this
// session. A clean disconnect suppresses the Last Will.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}

	if c.IsConnected() {
		c.unsubscribeAll()
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	c.setConnected(false)
	return nil
}

// HealthCheck reports whether the bus link is usable.
//
// Returns:
//   - error: nil if healthy, ErrNotConnected or the context error otherwise
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client.IsConnected()
}

// SetOnConnect sets a callback invoked each time a connection is established.
func (c *Client) SetOnConnect(callback func()) {
	c.callbackMu.Lock()
	c.onConnect = callback
	c.callbackMu.Unlock()
}

// SetOnDisconnect sets a callback invoked when the connection is lost.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetLogger sets a logger for handler errors, panics and link loss.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// wrapHandler wraps a MessageHandler with panic recovery and optional logging.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered",
						"topic", msg.Topic(),
						"panic", r,
					)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT handler returned error",
					"topic", msg.Topic(),
					"error", err,
				)
			}
		}
	}
}

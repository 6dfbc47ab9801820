package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-irrigation/internal/infrastructure/config"
)

// MessageHandler receives one message. topic is the concrete topic with
// wildcards expanded, so PlantFromTopic recovers the plant ID. A returned
// error is logged and does not affect acknowledgement.
type MessageHandler func(topic string, payload []byte) error

// Logger is the subset of logging.Logger the client reports through.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Client is the service's connection to the broker. Valve commands and
// presence go out through it; acks, controller status and sensor readings
// come back through Subscribe.
//
// All methods are safe for concurrent use.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
	topics Topics

	subscriptions map[string]subscription
	subMu         sync.RWMutex

	// mu guards the connection flag, the callbacks and the logger.
	mu           sync.RWMutex
	connected    bool
	onConnect    func()
	onDisconnect func(err error)
	logger       Logger
}

// Connect dials the broker described by cfg, retrying the first connection
// with exponential backoff up to cfg.Reconnect.MaxAttempts times. Once up,
// paho reconnects on its own and every reconnect restores subscriptions and
// republishes the online presence. The broker publishes an offline presence
// as the will if the process dies without Close.
func Connect(cfg config.MQTTConfig, topics Topics) (*Client, error) {
	c := &Client{
		cfg:           cfg,
		topics:        topics,
		subscriptions: make(map[string]subscription),
	}

	opts := buildClientOptions(cfg)
	configureLWT(opts, topics.SystemStatus(), cfg.Broker.ClientID)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleDisconnect(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		c.warn("reconnecting to MQTT broker", "broker", brokerURL(cfg.Broker))
	})

	c.client = pahomqtt.NewClient(opts)
	if err := backoff.Retry(c.connectOnce, connectBackoff(cfg.Reconnect)); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, brokerURL(cfg.Broker), err)
	}

	// The connect handler runs on its own goroutine and may lag behind.
	c.setConnected(true)
	return c, nil
}

func (c *Client) connectOnce() error {
	return await(c.client.Connect(), defaultConnectTimeout, ErrConnectionFailed)
}

// connectBackoff spaces initial connection attempts between InitialDelay
// and MaxDelay seconds and gives up after MaxAttempts.
func connectBackoff(cfg config.MQTTReconnectConfig) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	if cfg.InitialDelay > 0 {
		bo.InitialInterval = time.Duration(cfg.InitialDelay) * time.Second
	}
	if cfg.MaxDelay > 0 {
		bo.MaxInterval = time.Duration(cfg.MaxDelay) * time.Second
	}

	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = defaultConnectAttempts
	}
	return backoff.WithMaxRetries(bo, uint64(attempts-1)) //nolint:gosec // attempts > 0
}

func (c *Client) handleConnect() {
	c.setConnected(true)
	c.restoreSubscriptions()
	if err := c.publishPresence(presenceOnline, ""); err != nil {
		c.warn("publishing online presence failed", "error", err)
	}

	c.mu.RLock()
	cb := c.onConnect
	c.mu.RUnlock()
	if cb != nil {
		cb()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.setConnected(false)

	c.mu.RLock()
	cb := c.onDisconnect
	c.mu.RUnlock()
	if cb != nil {
		cb(err)
	}
}

// Close publishes a graceful offline presence, so controllers can tell a
// restart from a crash, then disconnects. It is safe on a client that never
// connected.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		if err := c.publishPresence(presenceOffline, reasonShutdown); err != nil {
			c.warn("publishing offline presence failed", "error", err)
		}
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	c.setConnected(false)
	return nil
}

// HealthCheck reports ErrNotConnected while the broker link is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected combines the last connection event with paho's own view.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.client != nil && c.client.IsConnected()
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

// SetOnConnect registers a callback run after every (re)connect, once
// subscriptions are restored.
func (c *Client) SetOnConnect(cb func()) {
	c.mu.Lock()
	c.onConnect = cb
	c.mu.Unlock()
}

// SetOnDisconnect registers a callback run when the broker link drops.
func (c *Client) SetOnDisconnect(cb func(err error)) {
	c.mu.Lock()
	c.onDisconnect = cb
	c.mu.Unlock()
}

// SetLogger sets where handler failures and reconnects are reported.
// Without one they are dropped.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logger
}

func (c *Client) warn(msg string, args ...any) {
	if l := c.getLogger(); l != nil {
		l.Warn(msg, args...)
	}
}

package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-irrigation/internal/infrastructure/config"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 1000 // ms
	defaultConnectAttempts   = 5
	defaultKeepAlive         = 60 * time.Second

	maxQoS        = 2
	tlsMinVersion = tls.VersionTLS12
)

func brokerURL(b config.MQTTBrokerConfig) string {
	scheme := "tcp"
	if b.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, b.Host, b.Port)
}

// buildClientOptions maps the mqtt config section onto paho options.
//
// Sessions are clean: tracked subscriptions are replayed by the client
// rather than kept by the broker. Paho's ConnectRetry stays off because
// Connect runs its own bounded backoff and must report a dead broker.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions().
		AddBroker(brokerURL(cfg.Broker)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetConnectTimeout(defaultConnectTimeout).
		SetKeepAlive(defaultKeepAlive)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}
	if cfg.Reconnect.MaxDelay > 0 {
		opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}
	return opts
}

// configureLWT arms an offline presence on willTopic, retained at QoS 1,
// for the broker to publish if the connection dies uncleanly.
func configureLWT(opts *pahomqtt.ClientOptions, willTopic, clientID string) {
	opts.SetBinaryWill(willTopic, presencePayload(clientID, presenceOffline, reasonCrash), 1, true)
}

package mqtt

import (
	"encoding/json"
	"fmt"
	"time"
)

// maxPayloadSize caps outgoing messages at 1 MiB, the default Mosquitto
// message_size_limit.
const maxPayloadSize = 1 << 20

// Publish sends payload to topic and waits for the broker to acknowledge it.
//
// Irrigation commands go out non-retained; controller-facing state such as
// the service presence is retained so a controller that restarts sees it
// immediately.
//
//	err := client.Publish(mqtt.Topics{}.Command("fern-01"), []byte(`{"amount":200}`), 1, false)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := validate(topic, qos); err != nil {
		return err
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrPayloadTooLarge, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	return await(c.client.Publish(topic, qos, retained, payload), defaultPublishTimeout, ErrPublishFailed)
}

// PublishJSON marshals v and publishes it at the configured QoS.
func (c *Client) PublishJSON(topic string, v any, retained bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: marshalling payload: %w", ErrPublishFailed, err)
	}
	return c.Publish(topic, payload, c.qos(), retained)
}

// ─── Presence ───────────────────────────────────────────────────────

// Presence values published on the system status topic.
const (
	presenceOnline  = "online"
	presenceOffline = "offline"

	reasonCrash    = "unexpected_disconnect"
	reasonShutdown = "graceful_shutdown"
)

// presence is the retained document on Topics.SystemStatus. Valve
// controllers fall back to their local schedule while it reads offline.
type presence struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

func presencePayload(clientID, status, reason string) []byte {
	b, _ := json.Marshal(presence{ //nolint:errcheck // plain strings always marshal
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return b
}

// publishPresence sends the retained presence document, waiting at most
// defaultPublishTimeout.
func (c *Client) publishPresence(status, reason string) error {
	payload := presencePayload(c.cfg.Broker.ClientID, status, reason)
	token := c.client.Publish(c.topics.SystemStatus(), c.qos(), true, payload)
	return await(token, defaultPublishTimeout, ErrPublishFailed)
}

func (c *Client) qos() byte {
	return byte(c.cfg.QoS) //nolint:gosec // range checked by config.Validate
}

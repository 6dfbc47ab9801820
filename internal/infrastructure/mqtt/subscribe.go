package mqtt

import (
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// subscription is remembered so the client can resubscribe after the
// broker drops a clean session.
type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// Subscribe registers handler for topic, which may contain + and #
// wildcards (Topics.AllAcks, Topics.AllSensors). Handlers run on paho's
// goroutines; a panic is recovered and logged, and a returned error is
// logged at warn level.
//
// The subscription is restored automatically after a reconnect.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := validate(topic, qos); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler for %s", ErrSubscribeFailed, topic)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.track(subscription{topic: topic, qos: qos, handler: handler})
	token := c.client.Subscribe(topic, qos, c.wrapHandler(handler))
	if err := await(token, defaultPublishTimeout, ErrSubscribeFailed); err != nil {
		c.untrack(topic)
		return err
	}
	return nil
}

// Unsubscribe stops delivery for a topic previously passed to Subscribe.
// Messages already in flight may still reach the handler.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.untrack(topic)
	return await(c.client.Unsubscribe(topic), defaultPublishTimeout, ErrUnsubscribeFailed)
}

// SubscriptionCount reports how many topics are tracked for restore.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}

// HasSubscription reports whether topic (matched literally) is tracked.
func (c *Client) HasSubscription(topic string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, ok := c.subscriptions[topic]
	return ok
}

func (c *Client) track(s subscription) {
	c.subMu.Lock()
	if c.subscriptions == nil {
		c.subscriptions = make(map[string]subscription)
	}
	c.subscriptions[s.topic] = s
	c.subMu.Unlock()
}

func (c *Client) untrack(topic string) {
	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()
}

// restoreSubscriptions replays every tracked subscription. It runs on the
// paho connect goroutine, so waiting on the tokens does not stall delivery.
func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	subs := make([]subscription, 0, len(c.subscriptions))
	for _, s := range c.subscriptions {
		subs = append(subs, s)
	}
	c.subMu.RUnlock()

	for _, s := range subs {
		token := c.client.Subscribe(s.topic, s.qos, c.wrapHandler(s.handler))
		if err := await(token, defaultPublishTimeout, ErrSubscribeFailed); err != nil {
			c.warn("restoring MQTT subscription failed", "topic", s.topic, "error", err)
		}
	}
}

// wrapHandler adapts a MessageHandler to paho, recovering panics so one bad
// sensor payload cannot take down the delivery goroutine.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if l := c.getLogger(); l != nil {
					l.Error("MQTT handler panic recovered", "topic", msg.Topic(), "panic", r)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.warn("MQTT handler returned error", "topic", msg.Topic(), "error", err)
		}
	}
}

// ─── Helpers ────────────────────────────────────────────────────────

func validate(topic string, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	return nil
}

// await blocks on token for at most timeout and wraps any failure in op.
func await(token pahomqtt.Token, timeout time.Duration, op error) error {
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("%w: %w after %v", op, ErrTimeout, timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", op, err)
	}
	return nil
}

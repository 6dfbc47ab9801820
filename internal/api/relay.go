package api

import (
	"github.com/nerrad567/gray-logic-irrigation/internal/automation"
	"github.com/nerrad567/gray-logic-irrigation/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-irrigation/internal/infrastructure/mqtt"
)

// EventPublisher publishes JSON to the MQTT bus. *mqtt.Client implements it.
type EventPublisher interface {
	PublishJSON(topic string, v any, retained bool) error
	IsConnected() bool
}

// EventRelay fans engine events out to the WebSocket hub and mirrors them
// on the MQTT event topics, so other services on the bus see the same
// stream as browser clients.
//
// Thread Safety: safe for concurrent use if the hub and publisher are.
type EventRelay struct {
	hub       automation.WSHub
	publisher EventPublisher
	topics    mqtt.Topics
	logger    *logging.Logger
}

// NewEventRelay creates a relay. A nil publisher relays to the hub only.
func NewEventRelay(hub automation.WSHub, publisher EventPublisher, topics mqtt.Topics, logger *logging.Logger) *EventRelay {
	return &EventRelay{hub: hub, publisher: publisher, topics: topics, logger: logger}
}

// Broadcast implements automation.WSHub.
func (r *EventRelay) Broadcast(channel string, payload any) {
	if r.hub != nil {
		r.hub.Broadcast(channel, payload)
	}
	if r.publisher == nil || !r.publisher.IsConnected() {
		return
	}
	if err := r.publisher.PublishJSON(r.topics.Event(channel), payload, false); err != nil {
		r.logger.Warn("mirroring event to MQTT failed", "channel", channel, "error", err)
	}
}

package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is the root of every irrigation topic.
const DefaultTopicPrefix = "irrigation"

// Topics builds the irrigation MQTT topic hierarchy under Prefix.
// The zero value uses DefaultTopicPrefix.
//
//	topics := mqtt.Topics{}
//	topics.Command("fern-01") // "irrigation/command/fern-01"
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// =============================================================================
// Device Topics
// =============================================================================

// Command returns the topic valve controllers receive irrigation commands on.
//
// Example: irrigation/command/fern-01
func (t Topics) Command(plantID string) string {
	return fmt.Sprintf("%s/command/%s", t.prefix(), plantID)
}

// Ack returns the topic a controller acknowledges commands on.
//
// Example: irrigation/ack/fern-01
func (t Topics) Ack(plantID string) string {
	return fmt.Sprintf("%s/ack/%s", t.prefix(), plantID)
}

// Status returns the retained controller status topic.
//
// Example: irrigation/status/fern-01
func (t Topics) Status(plantID string) string {
	return fmt.Sprintf("%s/status/%s", t.prefix(), plantID)
}

// Sensors returns the topic sensor nodes publish readings on.
//
// Example: irrigation/sensors/fern-01
func (t Topics) Sensors(plantID string) string {
	return fmt.Sprintf("%s/sensors/%s", t.prefix(), plantID)
}

// =============================================================================
// Service Topics
// =============================================================================

// SystemStatus returns the service's own retained online/offline topic.
//
// Example: irrigation/system/status
func (t Topics) SystemStatus() string {
	return fmt.Sprintf("%s/system/status", t.prefix())
}

// Event returns the topic engine events are mirrored to.
//
// Example: irrigation/event/irrigation.executed
func (t Topics) Event(eventType string) string {
	return fmt.Sprintf("%s/event/%s", t.prefix(), eventType)
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllAcks matches every controller acknowledgement.
//
// Pattern: irrigation/ack/+
func (t Topics) AllAcks() string {
	return fmt.Sprintf("%s/ack/+", t.prefix())
}

// AllStatus matches every controller status.
//
// Pattern: irrigation/status/+
func (t Topics) AllStatus() string {
	return fmt.Sprintf("%s/status/+", t.prefix())
}

// AllSensors matches every sensor node.
//
// Pattern: irrigation/sensors/+
func (t Topics) AllSensors() string {
	return fmt.Sprintf("%s/sensors/+", t.prefix())
}

// PlantFromTopic returns the last topic level, which is the plant id for
// every per-plant topic above.
func PlantFromTopic(topic string) string {
	return topic[strings.LastIndex(topic, "/")+1:]
}

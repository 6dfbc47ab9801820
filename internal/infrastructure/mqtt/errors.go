package mqtt

import (
	"errors"
	"fmt"
)

// Sentinel errors. Callers match them with errors.Is; the wrapped message
// carries the broker-side detail.
var (
	ErrNotConnected      = errors.New("mqtt: client not connected")
	ErrConnectionFailed  = errors.New("mqtt: connection failed")
	ErrPublishFailed     = errors.New("mqtt: publish failed")
	ErrSubscribeFailed   = errors.New("mqtt: subscribe failed")
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidQoS is returned for a QoS above 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned for an empty topic.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")

	// ErrTimeout is wrapped alongside the operation's sentinel when the
	// broker does not acknowledge in time.
	ErrTimeout = errors.New("mqtt: operation timed out")

	// ErrPayloadTooLarge is a publish failure; errors.Is matches both.
	ErrPayloadTooLarge = fmt.Errorf("%w: payload too large", ErrPublishFailed)
)

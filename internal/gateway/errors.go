package gateway

import "errors"

var (
	// ErrNotConnected is returned when the MQTT bus is down.
	ErrNotConnected = errors.New("gateway: mqtt not connected")

	// ErrAckTimeout is returned when no ack arrives within the ack timeout.
	ErrAckTimeout = errors.New("gateway: ack timeout")

	// ErrCommandRejected is returned when the controller acks with success=false.
	ErrCommandRejected = errors.New("gateway: command rejected")

	// ErrCircuitOpen is returned while the breaker is failing fast.
	ErrCircuitOpen = errors.New("gateway: circuit open")

	// ErrInvalidAmount is returned for a non-positive amount.
	ErrInvalidAmount = errors.New("gateway: amount must be positive")
)

// Package gateway reaches irrigation valve controllers over MQTT.
//
// Each controller listens on irrigation/command/{plant}, answers on
// irrigation/ack/{plant} and keeps a retained online flag on
// irrigation/status/{plant}. Gateway implements automation.DeviceGateway:
//
//	CheckConnection → last retained status for the plant
//	SendCommand     → publish {id, amount}, wait for the ack with that id
//
// Commands run through a circuit breaker. After the configured number of
// consecutive failures it opens and commands fail fast with ErrCircuitOpen
// until the open timeout elapses.
package gateway

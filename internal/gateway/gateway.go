package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/nerrad567/gray-logic-irrigation/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-irrigation/internal/infrastructure/mqtt"
)

const (
	defaultAckTimeout          = 10 * time.Second
	defaultConsecutiveFailures = 3
	defaultOpenTimeout         = 30 * time.Second

	commandQoS = 1
)

// Bus is the subset of *mqtt.Client the gateway uses.
type Bus interface {
	PublishJSON(topic string, v any, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// Logger defines the logging interface used by the Gateway.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MetricsRecorder receives gateway events for instrumentation.
type MetricsRecorder interface {
	CommandSent(outcome string)
	BreakerState(state string)
}

type noopMetrics struct{}

func (noopMetrics) CommandSent(string)  {}
func (noopMetrics) BreakerState(string) {}

// Command outcomes reported to MetricsRecorder.
const (
	OutcomeAcked    = "acked"
	OutcomeRejected = "rejected"
	OutcomeTimeout  = "timeout"
	OutcomeOpen     = "circuit_open"
	OutcomeError    = "error"
)

// Gateway sends irrigation commands and tracks controller status.
//
// Thread Safety: all exported methods are safe for concurrent use.
type Gateway struct {
	bus        Bus
	topics     mqtt.Topics
	ackTimeout time.Duration
	breaker    *gobreaker.CircuitBreaker
	logger     Logger
	metrics    MetricsRecorder

	pendingMu sync.Mutex
	pending   map[string]chan Ack

	statusMu sync.RWMutex
	status   map[string]Status

	newID func() string
}

// New creates a gateway on bus. Call Start to subscribe.
func New(bus Bus, cfg config.GatewayConfig, logger Logger, metrics MetricsRecorder) *Gateway {
	if logger == nil {
		logger = noopLogger{}
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	ackTimeout := cfg.AckTimeout
	if ackTimeout <= 0 {
		ackTimeout = defaultAckTimeout
	}

	g := &Gateway{
		bus:        bus,
		topics:     mqtt.Topics{Prefix: cfg.TopicPrefix},
		ackTimeout: ackTimeout,
		logger:     logger,
		metrics:    metrics,
		pending:    make(map[string]chan Ack),
		status:     make(map[string]Status),
		newID:      uuid.NewString,
	}
	g.breaker = newBreaker(cfg.Breaker, g.onStateChange)
	metrics.BreakerState(g.breaker.State().String())
	return g
}

func newBreaker(cfg config.CircuitBreakerConfig, onChange func(name string, from, to gobreaker.State)) *gobreaker.CircuitBreaker {
	fails := cfg.ConsecutiveFailures
	if fails <= 0 {
		fails = defaultConsecutiveFailures
	}
	timeout := cfg.OpenTimeout
	if timeout <= 0 {
		timeout = defaultOpenTimeout
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "device-gateway",
		Interval: cfg.Interval,
		Timeout:  timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= uint32(fails) //nolint:gosec // fails > 0
		},
		// A caller giving up is not a device failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: onChange,
	})
}

func (g *Gateway) onStateChange(_ string, from, to gobreaker.State) {
	g.logger.Warn("device gateway circuit state changed", "from", from.String(), "to", to.String())
	g.metrics.BreakerState(to.String())
}

// Start subscribes to controller acks and status.
func (g *Gateway) Start() error {
	if err := g.bus.Subscribe(g.topics.AllAcks(), commandQoS, g.handleAck); err != nil {
		return fmt.Errorf("subscribing to acks: %w", err)
	}
	if err := g.bus.Subscribe(g.topics.AllStatus(), commandQoS, g.handleStatus); err != nil {
		return fmt.Errorf("subscribing to status: %w", err)
	}
	return nil
}

// Stop unsubscribes. Pending commands time out.
func (g *Gateway) Stop() error {
	var errs []error
	for _, topic := range []string{g.topics.AllAcks(), g.topics.AllStatus()} {
		if err := g.bus.Unsubscribe(topic); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CheckConnection reports whether plantID's controller is online. It is
// false while the breaker is open.
func (g *Gateway) CheckConnection(ctx context.Context, plantID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !g.bus.IsConnected() {
		return false, ErrNotConnected
	}
	if g.breaker.State() == gobreaker.StateOpen {
		return false, nil
	}
	st, ok := g.Status(plantID)
	return ok && st.Online, nil
}

// SendCommand publishes an irrigation command and waits for its ack.
func (g *Gateway) SendCommand(ctx context.Context, plantID string, amount float64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	_, err := g.breaker.Execute(func() (interface{}, error) {
		return nil, g.roundTrip(ctx, plantID, amount)
	})

	switch {
	case err == nil:
		g.metrics.CommandSent(OutcomeAcked)
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		g.metrics.CommandSent(OutcomeOpen)
		return fmt.Errorf("%w: %w", ErrCircuitOpen, err)
	case errors.Is(err, ErrCommandRejected):
		g.metrics.CommandSent(OutcomeRejected)
	case errors.Is(err, ErrAckTimeout):
		g.metrics.CommandSent(OutcomeTimeout)
	default:
		g.metrics.CommandSent(OutcomeError)
	}
	return err
}

func (g *Gateway) roundTrip(ctx context.Context, plantID string, amount float64) error {
	if !g.bus.IsConnected() {
		return ErrNotConnected
	}

	cmd := Command{
		ID:       g.newID(),
		PlantID:  plantID,
		Amount:   amount,
		IssuedAt: time.Now().UTC(),
	}

	ch := make(chan Ack, 1)
	g.pendingMu.Lock()
	g.pending[cmd.ID] = ch
	g.pendingMu.Unlock()
	defer func() {
		g.pendingMu.Lock()
		delete(g.pending, cmd.ID)
		g.pendingMu.Unlock()
	}()

	if err := g.bus.PublishJSON(g.topics.Command(plantID), cmd, false); err != nil {
		return fmt.Errorf("publishing command: %w", err)
	}
	g.logger.Debug("irrigation command sent", "plant_id", plantID, "command_id", cmd.ID, "amount", amount)

	timer := time.NewTimer(g.ackTimeout)
	defer timer.Stop()

	select {
	case ack := <-ch:
		if !ack.Success {
			return fmt.Errorf("%w: plant %s: %s", ErrCommandRejected, plantID, ack.Error)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: plant %s after %v", ErrAckTimeout, plantID, g.ackTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the last retained status of plantID's controller.
func (g *Gateway) Status(plantID string) (Status, bool) {
	g.statusMu.RLock()
	defer g.statusMu.RUnlock()
	st, ok := g.status[plantID]
	return st, ok
}

// Statuses returns a copy of every known controller status.
func (g *Gateway) Statuses() map[string]Status {
	g.statusMu.RLock()
	defer g.statusMu.RUnlock()
	out := make(map[string]Status, len(g.status))
	for k, v := range g.status {
		out[k] = v
	}
	return out
}

// BreakerState is the circuit breaker's state name.
func (g *Gateway) BreakerState() string {
	return g.breaker.State().String()
}

func (g *Gateway) handleAck(_ string, payload []byte) error {
	var ack Ack
	if err := json.Unmarshal(payload, &ack); err != nil {
		return fmt.Errorf("decoding ack: %w", err)
	}

	g.pendingMu.Lock()
	ch, ok := g.pending[ack.ID]
	g.pendingMu.Unlock()
	if !ok {
		g.logger.Debug("ack for unknown command", "command_id", ack.ID)
		return nil
	}

	select {
	case ch <- ack:
	default:
	}
	return nil
}

func (g *Gateway) handleStatus(topic string, payload []byte) error {
	plantID := mqtt.PlantFromTopic(topic)

	// An empty retained payload clears the status.
	if len(payload) == 0 {
		g.statusMu.Lock()
		delete(g.status, plantID)
		g.statusMu.Unlock()
		return nil
	}

	var st Status
	if err := json.Unmarshal(payload, &st); err != nil {
		return fmt.Errorf("decoding status for %s: %w", plantID, err)
	}
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now().UTC()
	}

	g.statusMu.Lock()
	prev, known := g.status[plantID]
	g.status[plantID] = st
	g.statusMu.Unlock()

	if !known || prev.Online != st.Online {
		g.logger.Info("controller status changed", "plant_id", plantID, "online", st.Online)
	}
	return nil
}

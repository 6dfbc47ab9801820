package automation

import (
	"context"
	"fmt"
	"time"
)

// Executor performs one irrigation: safety check, connection check, command.
//
// It updates the RunState it is given on success and nothing else; the
// caller owns locking and rule statistics.
type Executor struct {
	gateway  DeviceGateway
	safety   SafetyValidator
	timeout  time.Duration
	location *time.Location
}

// NewExecutor creates an executor. Gateway calls are bounded by timeout;
// daily totals roll over at midnight in loc.
func NewExecutor(gateway DeviceGateway, timeout time.Duration, loc *time.Location) *Executor {
	if loc == nil {
		loc = time.UTC
	}
	return &Executor{
		gateway:  gateway,
		timeout:  timeout,
		location: loc,
	}
}

// Execute delivers amount to the plant if every limit allows it.
//
// A blocked attempt and a failed connection leave state untouched. On a
// successful command the daily totals, last watering time, consecutive count
// and execution count advance.
func (x *Executor) Execute(ctx context.Context, plantID string, limits SafetyLimits, state *RunState, amount float64, now time.Time) ExecutionResult {
	state.rollover(now, x.location)

	if amount <= 0 {
		return ExecutionResult{Error: fmt.Sprintf("amount must be positive, got %.1f", amount)}
	}

	if v := x.safety.Check(state, limits, amount, now); v != nil {
		return ExecutionResult{
			Amount:  amount,
			Blocked: true,
			Limit:   string(v.Limit),
			Error:   v.Reason,
		}
	}

	if x.gateway == nil {
		return ExecutionResult{Amount: amount, DeviceError: true, Error: ErrDeviceUnavailable.Error()}
	}

	cctx, cancel := context.WithTimeout(ctx, x.timeout)
	connected, err := x.gateway.CheckConnection(cctx, plantID)
	cancel()
	if err != nil {
		return ExecutionResult{Amount: amount, DeviceError: true, Error: providerError("check connection", err).Error()}
	}
	if !connected {
		return ExecutionResult{Amount: amount, DeviceError: true, Error: fmt.Sprintf("%s: plant %s", ErrDeviceUnavailable, plantID)}
	}

	cctx, cancel = context.WithTimeout(ctx, x.timeout)
	err = x.gateway.SendCommand(cctx, plantID, amount)
	cancel()
	if err != nil {
		return ExecutionResult{Amount: amount, Dispatched: true, Error: err.Error()}
	}

	t := now
	state.WaterDeliveredToday += amount
	state.IrrigationsToday++
	state.LastWateringTime = &t
	state.ConsecutiveIrrigations++
	state.ExecutionCount++

	return ExecutionResult{Success: true, Amount: amount, Dispatched: true}
}

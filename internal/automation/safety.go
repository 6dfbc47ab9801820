package automation

import (
	"fmt"
	"time"
)

// SafetyValidator checks a proposed irrigation against a rule's hard limits.
// It never mutates the state it inspects.
type SafetyValidator struct{}

// Check evaluates the limits in a fixed order and returns the first
// violation: daily total, per-hour amount, minimum interval, consecutive count.
func (SafetyValidator) Check(state *RunState, limits SafetyLimits, amount float64, now time.Time) *SafetyViolation {
	if state.WaterDeliveredToday+amount > limits.MaxWaterPerDay {
		return &SafetyViolation{
			Limit: LimitDaily,
			Reason: fmt.Sprintf("daily water limit exceeded: %.1f delivered today + %.1f requested > %.1f allowed",
				state.WaterDeliveredToday, amount, limits.MaxWaterPerDay),
		}
	}

	if amount > limits.MaxWaterPerHour {
		return &SafetyViolation{
			Limit: LimitHourly,
			Reason: fmt.Sprintf("hourly water limit exceeded: %.1f requested > %.1f allowed per hour",
				amount, limits.MaxWaterPerHour),
		}
	}

	if state.LastWateringTime != nil {
		if since := now.Sub(*state.LastWateringTime); since < limits.MinTimeBetweenIrrigations.Duration {
			return &SafetyViolation{
				Limit: LimitInterval,
				Reason: fmt.Sprintf("minimum interval not reached: last irrigation %s ago, %s required",
					since.Round(time.Second), limits.MinTimeBetweenIrrigations.Duration),
			}
		}
	}

	if state.ConsecutiveIrrigations >= limits.MaxConsecutiveIrrigations {
		return &SafetyViolation{
			Limit: LimitConsecutive,
			Reason: fmt.Sprintf("maximum consecutive irrigations reached: %d of %d",
				state.ConsecutiveIrrigations, limits.MaxConsecutiveIrrigations),
		}
	}

	return nil
}

package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Domain errors for the automation package.
//
//	if errors.Is(err, automation.ErrRuleNotFound) {
//	    // handle not found case
//	}
var (
	// ErrInvalidConfig is returned when a rule configuration fails validation.
	ErrInvalidConfig = errors.New("automation: invalid config")

	// ErrRuleNotFound is returned when a rule ID does not exist.
	ErrRuleNotFound = errors.New("automation: rule not found")

	// ErrRuleExists is returned when creating a rule with an ID that already exists.
	ErrRuleExists = errors.New("automation: rule already exists")

	// ErrNotRunning is returned when an operation needs a running automation.
	ErrNotRunning = errors.New("automation: not running")

	// ErrSafetyViolation is returned when an irrigation would break a safety limit.
	ErrSafetyViolation = errors.New("automation: safety violation")

	// ErrDeviceUnavailable is returned when the irrigation device is not connected.
	ErrDeviceUnavailable = errors.New("automation: device unavailable")

	// ErrDeviceCommand is returned when the device rejects or fails a command.
	ErrDeviceCommand = errors.New("automation: device command failed")

	// ErrProvider is returned when a data provider call fails.
	ErrProvider = errors.New("automation: provider error")

	// ErrProviderTimeout is returned when a provider or gateway call exceeds its deadline.
	ErrProviderTimeout = errors.New("automation: provider timeout")

	// ErrMissingDependency is returned when a mode needs a provider the engine was built without.
	ErrMissingDependency = errors.New("automation: missing dependency")
)

// ValidationError carries every problem found in a rule configuration.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidConfig, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidConfig
}

// SafetyViolation names the limit an irrigation would have exceeded.
type SafetyViolation struct {
	Limit  SafetyLimit
	Reason string
}

func (v *SafetyViolation) Error() string {
	return fmt.Sprintf("%s: %s", ErrSafetyViolation, v.Reason)
}

func (v *SafetyViolation) Unwrap() error {
	return ErrSafetyViolation
}

// providerError classifies a collaborator failure. Deadline expiry maps to
// ErrProviderTimeout; everything else to ErrProvider.
func providerError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", ErrProviderTimeout, op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrProvider, op, err)
}

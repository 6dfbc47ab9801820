package optimizer

import (
	"context"
	"errors"
	"fmt"
)

// Domain errors for the optimizer package.
var (
	// ErrUnsupportedAlgorithm is returned when no strategy is registered under the requested name.
	ErrUnsupportedAlgorithm = errors.New("optimizer: unsupported algorithm")

	// ErrOptimizationFailed wraps any failure that triggered the fallback schedule.
	ErrOptimizationFailed = errors.New("optimizer: optimization failed")

	// ErrProvider is returned when a data source or weather call fails.
	ErrProvider = errors.New("optimizer: provider error")

	// ErrProviderTimeout is returned when a data source or weather call exceeds its deadline.
	ErrProviderTimeout = errors.New("optimizer: provider timeout")

	// ErrQTableNotFound is returned by a QTableStore that holds no table for the plant.
	ErrQTableNotFound = errors.New("optimizer: q-table not found")
)

func providerError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", ErrProviderTimeout, op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrProvider, op, err)
}

package optimizer

import (
	"context"

	"github.com/nerrad567/gray-logic-irrigation/internal/plant"
)

// Logger defines the logging interface used by the Optimizer.
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

// DataSource supplies plant data for an optimization.
type DataSource interface {
	PlantInfo(ctx context.Context, plantID string) (plant.Profile, error)
	LatestReading(ctx context.Context, plantID string) (plant.Reading, error)
	HistoricalData(ctx context.Context, plantID string, days int) ([]plant.Reading, error)
	WateringHistory(ctx context.Context, plantID string, limit int) ([]plant.WateringEvent, error)
}

// WeatherProvider supplies a daily forecast starting today.
type WeatherProvider interface {
	Forecast(ctx context.Context, days int) ([]plant.DayForecast, error)
}

// QTableStore persists one Q-table per plant. Load returns ErrQTableNotFound
// when the plant has none.
type QTableStore interface {
	Load(ctx context.Context, plantID string) (QTable, error)
	Save(ctx context.Context, plantID string, table QTable) error
}

// LearningLog keeps optimization inputs and results for later analysis.
type LearningLog interface {
	Append(ctx context.Context, rec Record) error
}

// MetricsRecorder receives optimizer events for instrumentation.
type MetricsRecorder interface {
	OptimizationCompleted(algorithm string, overallScore float64, fallback bool)
}

type noopMetrics struct{}

func (noopMetrics) OptimizationCompleted(string, float64, bool) {}

package automation

import (
	"context"

	"github.com/nerrad567/gray-logic-irrigation/internal/plant"
)

// Logger defines the logging interface used by the Registry and Engine.
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

// SensorDataProvider supplies the latest reading for a plant.
type SensorDataProvider interface {
	LatestReading(ctx context.Context, plantID string) (plant.Reading, error)
}

// Urgency grades how soon a plant needs water.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// Prediction is an irrigation-need estimate for a plant.
type Prediction struct {
	NeedsWatering     bool    `json:"needs_watering"`
	Urgency           Urgency `json:"urgency"`
	RecommendedAmount float64 `json:"recommended_amount"`
	Confidence        float64 `json:"confidence"`
}

// PredictionProvider estimates whether a plant needs watering.
type PredictionProvider interface {
	PredictIrrigationNeed(ctx context.Context, plantID string) (Prediction, error)
}

// Severity grades a warning alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert categories the engine reacts to.
const (
	CategoryRootRot = "root_rot"
)

// Alert is one early-warning finding.
type Alert struct {
	Severity Severity `json:"severity"`
	Category string   `json:"category"`
	Message  string   `json:"message,omitempty"`
}

// WarningAnalysis is the result of an early-warning scan.
type WarningAnalysis struct {
	Alerts []Alert `json:"alerts"`
}

// WarningProvider analyses a plant for risks.
type WarningProvider interface {
	AnalyzeAndAlert(ctx context.Context, plantID string) (WarningAnalysis, error)
}

// DeviceGateway reaches the irrigation hardware for a plant.
type DeviceGateway interface {
	CheckConnection(ctx context.Context, plantID string) (bool, error)
	SendCommand(ctx context.Context, plantID string, amount float64) error
}

// WeatherProvider supplies a daily forecast starting today.
type WeatherProvider interface {
	Forecast(ctx context.Context, days int) ([]plant.DayForecast, error)
}

// WSHub is the interface for broadcasting WebSocket events.
type WSHub interface {
	Broadcast(channel string, payload any)
}

// WebSocket channels the engine publishes on.
const (
	ChannelIrrigationExecuted = "irrigation.executed"
	ChannelAutomationDisabled = "automation.disabled"
	ChannelAutomationAlert    = "automation.alert"
)

// MetricsRecorder receives engine events for instrumentation.
type MetricsRecorder interface {
	IrrigationExecuted(mode string, outcome string, amount float64)
	AutomationError(mode string)
	AutomationDisabled(mode string)
	ActiveAutomations(n int)
}

type noopMetrics struct{}

func (noopMetrics) IrrigationExecuted(string, string, float64) {}
func (noopMetrics) AutomationError(string)                     {}
func (noopMetrics) AutomationDisabled(string)                  {}
func (noopMetrics) ActiveAutomations(int)                      {}

// Execution outcomes reported to MetricsRecorder.
const (
	OutcomeSuccess     = "success"
	OutcomeBlocked     = "blocked"
	OutcomeDeviceError = "device_error"
	OutcomeFailed      = "failed"
)

func outcomeOf(res ExecutionResult) string {
	switch {
	case res.Success:
		return OutcomeSuccess
	case res.Blocked:
		return OutcomeBlocked
	case res.DeviceError:
		return OutcomeDeviceError
	default:
		return OutcomeFailed
	}
}

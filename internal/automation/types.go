package automation

import (
	"encoding/json"
	"fmt"
	"time"
)

// Mode selects the decision loop a rule runs.
type Mode string

const (
	ModeSmart       Mode = "smart"        // prediction + warnings driven
	ModeScheduled   Mode = "scheduled"    // fixed wall-clock times
	ModeSensorBased Mode = "sensor_based" // sensor threshold triggers
)

// AllModes returns every supported mode.
func AllModes() []Mode {
	return []Mode{ModeSmart, ModeScheduled, ModeSensorBased}
}

// TriggerType distinguishes schedule entries from sensor thresholds.
type TriggerType string

const (
	TriggerSchedule TriggerType = "schedule"
	TriggerSensor   TriggerType = "sensor"
)

// Operator compares a sensor value against a trigger threshold.
type Operator string

const (
	OpLessThan    Operator = "less_than"
	OpGreaterThan Operator = "greater_than"
	OpEquals      Operator = "equals"
)

// ActionType is what a rule does when it fires.
type ActionType string

const (
	ActionIrrigation   ActionType = "irrigation"
	ActionNotification ActionType = "notification"
	ActionAlert        ActionType = "alert"
)

// Trigger is either a schedule entry or a sensor threshold.
//
// Schedule triggers use Time ("HH:MM", site local time), Days (lowercase
// weekday names; empty means every day) and Amount.
// Sensor triggers use Parameter, Operator, Value, Action and Amount.
type Trigger struct {
	Type TriggerType `json:"type"`

	Time string   `json:"time,omitempty"`
	Days []string `json:"days,omitempty"`

	Parameter string     `json:"parameter,omitempty"`
	Operator  Operator   `json:"operator,omitempty"`
	Value     float64    `json:"value,omitempty"`
	Action    ActionType `json:"action,omitempty"`

	Amount float64 `json:"amount,omitempty"`
}

// Action is a rule-level action. The amount of the first irrigation action
// is the default for triggers without their own amount; notification and
// alert actions are broadcast after each successful irrigation.
type Action struct {
	Type    ActionType `json:"type"`
	Amount  float64    `json:"amount,omitempty"`
	Message string     `json:"message,omitempty"`
}

// TimeWindow is a daily "HH:MM"–"HH:MM" interval. A window whose end is
// before its start wraps past midnight.
type TimeWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// WeatherOverride skips automatic irrigation on wet or cold days.
type WeatherOverride struct {
	SkipIfRainProbabilityAbove float64  `json:"skip_if_rain_probability_above,omitempty"`
	SkipIfTemperatureBelow     *float64 `json:"skip_if_temperature_below,omitempty"`
}

// Constraints shape automatic irrigation. Zero values mean "no constraint".
type Constraints struct {
	MaxAmountPerIrrigation float64          `json:"max_amount_per_irrigation,omitempty"`
	AllowedWindows         []TimeWindow     `json:"allowed_windows,omitempty"`
	MaxIrrigationsPerDay   int              `json:"max_irrigations_per_day,omitempty"`
	WeatherOverride        *WeatherOverride `json:"weather_override,omitempty"`
}

// Duration is a time.Duration that marshals as a Go duration string ("30m").
// Unmarshalling also accepts a plain number of seconds.
type Duration struct {
	time.Duration
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case float64:
		d.Duration = time.Duration(val * float64(time.Second))
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("parsing duration %q: %w", val, err)
		}
		d.Duration = parsed
	default:
		return fmt.Errorf("invalid duration %v", v)
	}
	return nil
}

// SafetyLimit names one of the four hard limits.
type SafetyLimit string

const (
	LimitDaily       SafetyLimit = "max_water_per_day"
	LimitHourly      SafetyLimit = "max_water_per_hour"
	LimitInterval    SafetyLimit = "min_time_between_irrigations"
	LimitConsecutive SafetyLimit = "max_consecutive_irrigations"
)

// SafetyLimits are hard caps no automation may exceed.
type SafetyLimits struct {
	MaxWaterPerHour           float64  `json:"max_water_per_hour"`
	MaxWaterPerDay            float64  `json:"max_water_per_day"`
	MinTimeBetweenIrrigations Duration `json:"min_time_between_irrigations"`
	MaxConsecutiveIrrigations int      `json:"max_consecutive_irrigations"`
}

// SafetyOverrides replaces individual default limits. Nil fields keep the default.
type SafetyOverrides struct {
	MaxWaterPerHour           *float64  `json:"max_water_per_hour,omitempty"`
	MaxWaterPerDay            *float64  `json:"max_water_per_day,omitempty"`
	MinTimeBetweenIrrigations *Duration `json:"min_time_between_irrigations,omitempty"`
	MaxConsecutiveIrrigations *int      `json:"max_consecutive_irrigations,omitempty"`
}

// Statistics accumulate over the lifetime of a rule.
type Statistics struct {
	TotalExecutions      int        `json:"total_executions"`
	SuccessfulExecutions int        `json:"successful_executions"`
	FailedExecutions     int        `json:"failed_executions"`
	WaterDelivered       float64    `json:"water_delivered"`
	LastExecution        *time.Time `json:"last_execution,omitempty"`
}

// Rule is the durable configuration of one plant automation.
//
// Enabled is true exactly while the engine holds a live runner for the rule.
type Rule struct {
	ID      string `json:"id"`
	PlantID string `json:"plant_id"`
	Mode    Mode   `json:"mode"`
	Enabled bool   `json:"enabled"`

	Triggers     []Trigger    `json:"triggers"`
	Actions      []Action     `json:"actions"`
	Constraints  Constraints  `json:"constraints"`
	SafetyLimits SafetyLimits `json:"safety_limits"`
	Statistics   Statistics   `json:"statistics"`

	LastError string `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeepCopy returns an independent copy of the rule. The registry hands out
// copies so callers cannot corrupt its cache.
func (r *Rule) DeepCopy() *Rule {
	if r == nil {
		return nil
	}

	cpy := *r

	if r.Triggers != nil {
		cpy.Triggers = make([]Trigger, len(r.Triggers))
		for i, t := range r.Triggers {
			cpy.Triggers[i] = t
			if t.Days != nil {
				cpy.Triggers[i].Days = append([]string(nil), t.Days...)
			}
		}
	}
	if r.Actions != nil {
		cpy.Actions = append([]Action(nil), r.Actions...)
	}
	if r.Constraints.AllowedWindows != nil {
		cpy.Constraints.AllowedWindows = append([]TimeWindow(nil), r.Constraints.AllowedWindows...)
	}
	if wo := r.Constraints.WeatherOverride; wo != nil {
		w := *wo
		w.SkipIfTemperatureBelow = cloneFloatPtr(wo.SkipIfTemperatureBelow)
		cpy.Constraints.WeatherOverride = &w
	}
	cpy.Statistics.LastExecution = cloneTimePtr(r.Statistics.LastExecution)

	return &cpy
}

// defaultAmount is the amount of the rule's first irrigation action.
func (r *Rule) defaultAmount() float64 {
	for _, a := range r.Actions {
		if a.Type == ActionIrrigation && a.Amount > 0 {
			return a.Amount
		}
	}
	return 0
}

// RuleConfig is the caller-supplied configuration for a new rule.
type RuleConfig struct {
	Mode         Mode             `json:"mode"`
	Enabled      bool             `json:"enabled"`
	Triggers     []Trigger        `json:"triggers"`
	Actions      []Action         `json:"actions"`
	Constraints  Constraints      `json:"constraints"`
	SafetyLimits *SafetyOverrides `json:"safety_limits,omitempty"`
}

// RuleUpdate changes an existing rule. Nil fields are left unchanged.
type RuleUpdate struct {
	Mode         *Mode            `json:"mode,omitempty"`
	Enabled      *bool            `json:"enabled,omitempty"`
	Triggers     []Trigger        `json:"triggers,omitempty"`
	Actions      []Action         `json:"actions,omitempty"`
	Constraints  *Constraints     `json:"constraints,omitempty"`
	SafetyLimits *SafetyOverrides `json:"safety_limits,omitempty"`
}

// SetupResult reports a created rule.
type SetupResult struct {
	RuleID  string `json:"automation_id"`
	Rule    *Rule  `json:"config"`
	Started bool   `json:"started"`
}

// RunStatus is the runtime status of a rule.
type RunStatus string

const (
	StatusRunning  RunStatus = "running"
	StatusStopped  RunStatus = "stopped"
	StatusNotFound RunStatus = "not_found"
)

// RunState is the ephemeral runtime state of a running rule.
type RunState struct {
	Status    RunStatus  `json:"status"`
	StartTime time.Time  `json:"start_time"`
	LastCheck *time.Time `json:"last_check,omitempty"`
	NextCheck *time.Time `json:"next_check,omitempty"`

	ExecutionCount int    `json:"execution_count"`
	ErrorCount     int    `json:"error_count"`
	LastError      string `json:"last_error,omitempty"`

	// Daily totals roll over at local midnight of the site time zone.
	WaterDeliveredToday float64   `json:"water_delivered_today"`
	IrrigationsToday    int       `json:"irrigations_today"`
	DayStart            time.Time `json:"day_start"`

	LastWateringTime       *time.Time `json:"last_watering_time,omitempty"`
	ConsecutiveIrrigations int        `json:"consecutive_irrigations"`
}

func (s RunState) clone() RunState {
	s.LastCheck = cloneTimePtr(s.LastCheck)
	s.NextCheck = cloneTimePtr(s.NextCheck)
	s.LastWateringTime = cloneTimePtr(s.LastWateringTime)
	return s
}

// rollover zeroes the daily totals when now falls on a later local day.
func (s *RunState) rollover(now time.Time, loc *time.Location) {
	today := midnightLocal(now, loc)
	if today.After(s.DayStart) {
		s.DayStart = today
		s.WaterDeliveredToday = 0
		s.IrrigationsToday = 0
	}
}

// midnightLocal returns the start of t's day in loc.
func midnightLocal(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}

// Status is the externally visible state of a rule.
type Status struct {
	RuleID     string     `json:"automation_id"`
	PlantID    string     `json:"plant_id,omitempty"`
	Mode       Mode       `json:"mode,omitempty"`
	Enabled    bool       `json:"enabled"`
	Status     RunStatus  `json:"status"`
	State      *RunState  `json:"context,omitempty"`
	Statistics Statistics `json:"statistics"`
	LastError  string     `json:"last_error,omitempty"`
}

// ExecutionResult is the outcome of one irrigation attempt.
type ExecutionResult struct {
	Success     bool    `json:"success"`
	Amount      float64 `json:"amount,omitempty"`
	Error       string  `json:"error,omitempty"`
	Blocked     bool    `json:"blocked,omitempty"`
	Limit       string  `json:"limit,omitempty"`
	DeviceError bool    `json:"device_error,omitempty"`

	// Dispatched is true when a command reached the gateway.
	Dispatched bool `json:"-"`
}

// HistoryEntry records one execution attempt.
type HistoryEntry struct {
	RuleID      string     `json:"automation_id"`
	PlantID     string     `json:"plant_id"`
	ActionType  ActionType `json:"action_type"`
	Amount      float64    `json:"amount"`
	Success     bool       `json:"success"`
	Blocked     bool       `json:"blocked,omitempty"`
	DeviceError bool       `json:"device_error,omitempty"`
	Error       string     `json:"error,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`
}

// StatisticsReport summarises a rule's execution record.
type StatisticsReport struct {
	RuleID        string     `json:"automation_id"`
	Statistics    Statistics `json:"statistics"`
	SuccessRate   float64    `json:"success_rate"`
	AverageAmount float64    `json:"average_amount"`
	Running       bool       `json:"running"`
	ErrorCount    int        `json:"error_count"`
	RecentBlocked int        `json:"recent_blocked"`
	RecentFailed  int        `json:"recent_failed"`
}

func cloneTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneFloatPtr(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

package automation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-irrigation/internal/plant"
)

const testTimeout = 2 * time.Second

type testEngine struct {
	*Engine
	repo    *mockRepository
	gateway *mockGateway
	sensors *mockSensors
	hub     *mockHub
}

func newTestEngine(t *testing.T, deps Dependencies, cfg Config) *testEngine {
	t.Helper()

	te := &testEngine{repo: newMockRepository(), hub: &mockHub{}}
	if deps.Gateway == nil {
		te.gateway = &mockGateway{}
		deps.Gateway = te.gateway
	} else if gw, ok := deps.Gateway.(*mockGateway); ok {
		te.gateway = gw
	}
	if deps.Sensors == nil {
		te.sensors = &mockSensors{reading: plant.Reading{Values: map[string]float64{"soil_moisture": 55}}}
		deps.Sensors = te.sensors
	} else if s, ok := deps.Sensors.(*mockSensors); ok {
		te.sensors = s
	}
	deps.Hub = te.hub
	if cfg.SensorInterval == 0 {
		cfg.SensorInterval = time.Hour
	}

	te.Engine = NewEngine(NewRegistry(te.repo), deps, cfg, nil)
	t.Cleanup(te.Close)
	return te
}

func sensorConfig(threshold, amount float64) RuleConfig {
	return RuleConfig{
		Mode:    ModeSensorBased,
		Enabled: true,
		Triggers: []Trigger{
			{Type: TriggerSensor, Parameter: "soilMoisture", Operator: OpLessThan, Value: threshold, Amount: amount},
		},
		Actions: []Action{{Type: ActionIrrigation, Amount: amount}},
	}
}

func setup(t *testing.T, e *testEngine, cfg RuleConfig) string {
	t.Helper()
	res, err := e.SetupAutomation(context.Background(), "plant-1", cfg)
	if err != nil {
		t.Fatalf("SetupAutomation() error = %v", err)
	}
	if cfg.Enabled && !res.Started {
		t.Fatalf("automation not started: %s", res.Rule.LastError)
	}
	return res.RuleID
}

func waitChecked(t *testing.T, e *testEngine, id string) {
	t.Helper()
	waitFor(t, testTimeout, func() bool {
		st := e.GetAutomationStatus(id)
		return st.State != nil && st.State.LastCheck != nil
	})
}

func waitDisabled(t *testing.T, e *testEngine, id string) Status {
	t.Helper()
	var st Status
	waitFor(t, testTimeout, func() bool {
		st = e.GetAutomationStatus(id)
		return st.Status == StatusStopped && !st.Enabled
	})
	return st
}

func TestEngine_DailyLimitBlocksSecondIrrigation(t *testing.T) {
	e := newTestEngine(t, Dependencies{}, Config{})
	cfg := sensorConfig(10, 200)
	cfg.SafetyLimits = &SafetyOverrides{MaxWaterPerDay: floatPtr(300), MaxWaterPerHour: floatPtr(500)}
	id := setup(t, e, cfg)
	ctx := context.Background()

	first, err := e.ExecuteIrrigation(ctx, id, 200)
	if err != nil {
		t.Fatalf("ExecuteIrrigation() error = %v", err)
	}
	if !first.Success {
		t.Fatalf("first irrigation = %+v, want success", first)
	}
	if st := e.GetAutomationStatus(id); st.State.WaterDeliveredToday != 200 {
		t.Errorf("WaterDeliveredToday = %v, want 200", st.State.WaterDeliveredToday)
	}

	second, err := e.ExecuteIrrigation(ctx, id, 200)
	if err != nil {
		t.Fatalf("ExecuteIrrigation() error = %v", err)
	}
	if second.Success || !second.Blocked {
		t.Fatalf("second irrigation = %+v, want blocked", second)
	}
	if second.Limit != string(LimitDaily) || !strings.Contains(second.Error, "daily water limit") {
		t.Errorf("blocked by %q (%q), want daily limit", second.Limit, second.Error)
	}
	if got := e.gateway.sent(); len(got) != 1 {
		t.Errorf("commands = %v, want exactly one", got)
	}

	hist := e.GetAutomationHistory(id, 0)
	if len(hist) != 2 || !hist[0].Blocked || !hist[1].Success {
		t.Errorf("history = %+v, want blocked then success (newest first)", hist)
	}
}

func TestEngine_SensorTrigger(t *testing.T) {
	tests := []struct {
		name     string
		moisture float64
		want     []float64
	}{
		{"dry soil irrigates once", 35, []float64{300}},
		{"moist soil does nothing", 45, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sensors := &mockSensors{reading: plant.Reading{Values: map[string]float64{"soilMoisture": tt.moisture}}}
			e := newTestEngine(t, Dependencies{Sensors: sensors}, Config{})
			id := setup(t, e, sensorConfig(40, 300))

			waitChecked(t, e, id)

			got := e.gateway.sent()
			if len(got) != len(tt.want) {
				t.Fatalf("commands = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("command[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestEngine_SensorAlertTriggerBroadcasts(t *testing.T) {
	sensors := &mockSensors{reading: plant.Reading{Values: map[string]float64{"temperature": 38}}}
	e := newTestEngine(t, Dependencies{Sensors: sensors}, Config{})
	cfg := sensorConfig(40, 300)
	cfg.Triggers = append(cfg.Triggers, Trigger{
		Type: TriggerSensor, Parameter: "temperature", Operator: OpGreaterThan, Value: 35, Action: ActionAlert,
	})
	id := setup(t, e, cfg)

	waitChecked(t, e, id)

	if n := e.hub.count(ChannelAutomationAlert); n != 1 {
		t.Errorf("alerts = %d, want 1", n)
	}
	if len(e.gateway.sent()) != 0 {
		t.Error("alert trigger must not irrigate")
	}
}

func TestEngine_AutoDisableAfterConsecutiveErrors(t *testing.T) {
	sensors := &mockSensors{err: errors.New("influx down")}
	e := newTestEngine(t, Dependencies{Sensors: sensors}, Config{SensorInterval: 5 * time.Millisecond})
	id := setup(t, e, sensorConfig(40, 300))

	st := waitDisabled(t, e, id)

	if !strings.Contains(st.LastError, "after 5 consecutive errors") {
		t.Errorf("LastError = %q", st.LastError)
	}
	if stored := e.repo.stored(id); stored.Enabled {
		t.Error("disabled flag not persisted")
	}
	if n := e.hub.count(ChannelAutomationDisabled); n != 1 {
		t.Errorf("disabled broadcasts = %d, want 1", n)
	}

	sensors.mu.Lock()
	calls := sensors.calls
	sensors.mu.Unlock()
	if calls != DefaultErrorThreshold {
		t.Errorf("sensor calls = %d, want %d", calls, DefaultErrorThreshold)
	}
}

func TestEngine_RepeatedDeviceFailuresDisable(t *testing.T) {
	sensors := &mockSensors{reading: plant.Reading{Values: map[string]float64{"soil_moisture": 20}}}
	gw := &mockGateway{disconnected: true}
	e := newTestEngine(t, Dependencies{Sensors: sensors, Gateway: gw}, Config{SensorInterval: 5 * time.Millisecond})
	id := setup(t, e, sensorConfig(40, 300))

	st := waitDisabled(t, e, id)

	if !strings.Contains(st.LastError, ErrDeviceUnavailable.Error()) {
		t.Errorf("LastError = %q, want device unavailable", st.LastError)
	}
	hist := e.GetAutomationHistory(id, 0)
	if len(hist) == 0 || !hist[0].DeviceError {
		t.Errorf("history = %+v, want device errors", hist)
	}
}

func TestEngine_SuccessResetsErrorCount(t *testing.T) {
	sensors := &mockSensors{err: errors.New("timeout")}
	e := newTestEngine(t, Dependencies{Sensors: sensors}, Config{SensorInterval: 5 * time.Millisecond, ErrorThreshold: 1000})
	id := setup(t, e, sensorConfig(40, 300))

	waitFor(t, testTimeout, func() bool {
		st := e.GetAutomationStatus(id)
		return st.State != nil && st.State.ErrorCount >= 2
	})

	sensors.mu.Lock()
	sensors.err = nil
	sensors.reading = plant.Reading{Values: map[string]float64{"soil_moisture": 60}}
	sensors.mu.Unlock()

	waitFor(t, testTimeout, func() bool {
		st := e.GetAutomationStatus(id)
		return st.State != nil && st.State.ErrorCount == 0
	})
	if st := e.GetAutomationStatus(id); st.Status != StatusRunning {
		t.Errorf("Status = %s, want running", st.Status)
	}
}

func TestEngine_SmartMode(t *testing.T) {
	tests := []struct {
		name       string
		warnings   WarningAnalysis
		wantSent   int
		wantAlerts int
	}{
		{"irrigates on need", WarningAnalysis{}, 1, 0},
		{"root rot suppresses", WarningAnalysis{Alerts: []Alert{{Severity: SeverityCritical, Category: CategoryRootRot, Message: "soggy"}}}, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := Dependencies{
				Predictions: &mockPredictions{pred: Prediction{NeedsWatering: true, Urgency: UrgencyMedium, RecommendedAmount: 200}},
				Warnings:    &mockWarnings{analysis: tt.warnings},
			}
			e := newTestEngine(t, deps, Config{SmartInterval: time.Hour})
			id := setup(t, e, RuleConfig{
				Mode:     ModeSmart,
				Enabled:  true,
				Triggers: []Trigger{{Type: TriggerSensor, Parameter: "soil_moisture", Operator: OpLessThan, Value: 40}},
				Actions:  []Action{{Type: ActionIrrigation, Amount: 200}},
			})

			waitChecked(t, e, id)

			if got := e.gateway.sent(); len(got) != tt.wantSent {
				t.Errorf("commands = %v, want %d", got, tt.wantSent)
			}
			if n := e.hub.count(ChannelAutomationAlert); n != tt.wantAlerts {
				t.Errorf("alerts = %d, want %d", n, tt.wantAlerts)
			}
		})
	}
}

func TestEngine_WeatherOverrideSkips(t *testing.T) {
	sensors := &mockSensors{reading: plant.Reading{Values: map[string]float64{"soil_moisture": 20}}}
	weather := &mockWeather{days: []plant.DayForecast{{RainProbability: 90, Temperature: 18}}}
	e := newTestEngine(t, Dependencies{Sensors: sensors, Weather: weather}, Config{})
	cfg := sensorConfig(40, 300)
	cfg.Constraints.WeatherOverride = &WeatherOverride{SkipIfRainProbabilityAbove: 70}
	id := setup(t, e, cfg)

	waitChecked(t, e, id)

	if got := e.gateway.sent(); len(got) != 0 {
		t.Errorf("commands = %v, want none on a rainy day", got)
	}
	if st := e.GetAutomationStatus(id); st.State.ErrorCount != 0 {
		t.Errorf("ErrorCount = %d, skip is not an error", st.State.ErrorCount)
	}
}

func TestEngine_StopIsIdempotent(t *testing.T) {
	e := newTestEngine(t, Dependencies{}, Config{})
	id := setup(t, e, sensorConfig(40, 300))

	if st := e.GetAutomationStatus(id); !st.Enabled || st.Status != StatusRunning {
		t.Fatalf("status = %+v, want enabled and running", st)
	}

	if !e.StopAutomation(id) {
		t.Fatal("first StopAutomation() = false, want true")
	}
	if e.StopAutomation(id) {
		t.Error("second StopAutomation() = true, want false")
	}

	st := e.GetAutomationStatus(id)
	if st.Enabled || st.Status != StatusStopped {
		t.Errorf("status = %+v, want disabled and stopped", st)
	}
	if e.repo.stored(id).Enabled {
		t.Error("disabled flag not persisted")
	}

	if _, err := e.ExecuteIrrigation(context.Background(), id, 100); !errors.Is(err, ErrNotRunning) {
		t.Errorf("ExecuteIrrigation() on stopped rule error = %v, want ErrNotRunning", err)
	}
}

func TestEngine_RestartKeepsDailyBudget(t *testing.T) {
	e := newTestEngine(t, Dependencies{}, Config{})
	cfg := sensorConfig(10, 200)
	cfg.SafetyLimits = &SafetyOverrides{
		MaxWaterPerDay:            floatPtr(300),
		MinTimeBetweenIrrigations: &Duration{},
	}
	id := setup(t, e, cfg)
	ctx := context.Background()

	if res, _ := e.ExecuteIrrigation(ctx, id, 200); !res.Success {
		t.Fatalf("first irrigation = %+v", res)
	}

	e.StopAutomation(id)
	if !e.StartAutomation(ctx, id) {
		t.Fatal("restart failed")
	}

	res, _ := e.ExecuteIrrigation(ctx, id, 200)
	if !res.Blocked || res.Limit != string(LimitDaily) {
		t.Errorf("after restart = %+v, want daily limit block", res)
	}
}

func TestEngine_SetupInvalidConfig(t *testing.T) {
	e := newTestEngine(t, Dependencies{}, Config{})

	_, err := e.SetupAutomation(context.Background(), "plant-1", RuleConfig{Mode: "psychic"})

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want *ValidationError", err)
	}
	if !errors.Is(err, ErrInvalidConfig) {
		t.Error("error should match ErrInvalidConfig")
	}
	if len(e.GetAllAutomations()) != 0 {
		t.Error("invalid rule must not be stored")
	}
}

func TestEngine_MissingDependencyLeavesRuleDisabled(t *testing.T) {
	e := newTestEngine(t, Dependencies{}, Config{})

	res, err := e.SetupAutomation(context.Background(), "plant-1", RuleConfig{
		Mode:     ModeSmart,
		Enabled:  true,
		Triggers: []Trigger{{Type: TriggerSensor, Parameter: "soil_moisture", Operator: OpLessThan, Value: 40}},
		Actions:  []Action{{Type: ActionIrrigation, Amount: 200}},
	})
	if err != nil {
		t.Fatalf("SetupAutomation() error = %v", err)
	}
	if res.Started {
		t.Fatal("smart rule started without prediction provider")
	}
	if res.Rule.Enabled || !strings.Contains(res.Rule.LastError, "failed to start") {
		t.Errorf("rule = %+v, want disabled with start failure", res.Rule)
	}
}

func TestEngine_UpdateRestartsRunningRule(t *testing.T) {
	e := newTestEngine(t, Dependencies{}, Config{})
	id := setup(t, e, sensorConfig(40, 300))
	ctx := context.Background()

	updated, err := e.UpdateAutomationConfig(ctx, id, RuleUpdate{
		Triggers: []Trigger{{Type: TriggerSensor, Parameter: "soil_moisture", Operator: OpLessThan, Value: 30, Amount: 250}},
	})
	if err != nil {
		t.Fatalf("UpdateAutomationConfig() error = %v", err)
	}
	if updated.Triggers[0].Value != 30 {
		t.Errorf("trigger value = %v, want 30", updated.Triggers[0].Value)
	}
	if st := e.GetAutomationStatus(id); st.Status != StatusRunning || !st.Enabled {
		t.Errorf("status = %+v, want still running", st)
	}

	disable := false
	if _, err := e.UpdateAutomationConfig(ctx, id, RuleUpdate{Enabled: &disable}); err != nil {
		t.Fatalf("UpdateAutomationConfig() error = %v", err)
	}
	if st := e.GetAutomationStatus(id); st.Status != StatusStopped || st.Enabled {
		t.Errorf("status = %+v, want stopped", st)
	}

	bad := Mode("nope")
	if _, err := e.UpdateAutomationConfig(ctx, id, RuleUpdate{Mode: &bad}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("invalid update error = %v, want ErrInvalidConfig", err)
	}
}

func TestEngine_DeleteAndNotFound(t *testing.T) {
	e := newTestEngine(t, Dependencies{}, Config{})
	id := setup(t, e, sensorConfig(40, 300))
	ctx := context.Background()

	if err := e.DeleteAutomation(ctx, id); err != nil {
		t.Fatalf("DeleteAutomation() error = %v", err)
	}
	if st := e.GetAutomationStatus(id); st.Status != StatusNotFound {
		t.Errorf("Status = %s, want not_found", st.Status)
	}
	if err := e.DeleteAutomation(ctx, id); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("second delete error = %v, want ErrRuleNotFound", err)
	}
	if _, err := e.ExecuteIrrigation(ctx, id, 100); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("ExecuteIrrigation() error = %v, want ErrRuleNotFound", err)
	}
	if _, err := e.GetAutomationStatistics(id); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("GetAutomationStatistics() error = %v, want ErrRuleNotFound", err)
	}
}

func TestEngine_Statistics(t *testing.T) {
	e := newTestEngine(t, Dependencies{}, Config{})
	cfg := sensorConfig(10, 200)
	cfg.SafetyLimits = &SafetyOverrides{MinTimeBetweenIrrigations: &Duration{}}
	id := setup(t, e, cfg)
	ctx := context.Background()

	e.ExecuteIrrigation(ctx, id, 200)
	e.ExecuteIrrigation(ctx, id, 100)
	e.ExecuteIrrigation(ctx, id, 900) // blocked by hourly limit

	report, err := e.GetAutomationStatistics(id)
	if err != nil {
		t.Fatalf("GetAutomationStatistics() error = %v", err)
	}
	if report.Statistics.SuccessfulExecutions != 2 || report.Statistics.WaterDelivered != 300 {
		t.Errorf("statistics = %+v", report.Statistics)
	}
	if report.SuccessRate != 100 || report.AverageAmount != 150 {
		t.Errorf("rate = %v, average = %v", report.SuccessRate, report.AverageAmount)
	}
	if report.RecentBlocked != 1 || !report.Running {
		t.Errorf("report = %+v", report)
	}
	if stored := e.repo.stored(id); stored.Statistics.WaterDelivered != 300 {
		t.Error("statistics not persisted")
	}
}

func TestEngine_StartRestoresEnabledRules(t *testing.T) {
	repo := newMockRepository()
	now := time.Now().UTC()
	rule := validSensorRule()
	rule.Enabled = true
	rule.CreatedAt, rule.UpdatedAt = now, now
	repo.rules[rule.ID] = rule
	repo.history = []HistoryEntry{{RuleID: rule.ID, PlantID: rule.PlantID, Amount: 100, Success: true, Timestamp: now}}

	e := NewEngine(NewRegistry(repo), Dependencies{
		Gateway: &mockGateway{},
		Sensors: &mockSensors{},
	}, Config{SensorInterval: time.Hour}, nil)
	t.Cleanup(e.Close)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if st := e.GetAutomationStatus(rule.ID); st.Status != StatusRunning {
		t.Errorf("Status = %s, want running", st.Status)
	}
	if hist := e.GetAutomationHistory("", 0); len(hist) != 1 {
		t.Errorf("history = %d entries, want 1 seeded from repository", len(hist))
	}
}

func TestEngine_CloseKeepsRulesEnabled(t *testing.T) {
	repo := newMockRepository()
	e := NewEngine(NewRegistry(repo), Dependencies{Gateway: &mockGateway{}, Sensors: &mockSensors{}}, Config{SensorInterval: time.Hour}, nil)
	res, err := e.SetupAutomation(context.Background(), "plant-1", sensorConfig(40, 300))
	if err != nil || !res.Started {
		t.Fatalf("setup: %v started=%v", err, res.Started)
	}

	e.Close()

	if !repo.stored(res.RuleID).Enabled {
		t.Error("Close() must leave rules enabled for the next start")
	}
}

// panicGateway reports a live device and panics on every command.
type panicGateway struct{}

func (panicGateway) CheckConnection(context.Context, string) (bool, error) { return true, nil }

func (panicGateway) SendCommand(context.Context, string, float64) error {
	panic("valve driver crashed")
}

func TestEngine_DeviceErrorsCountAsFailures(t *testing.T) {
	tests := []struct {
		name    string
		gateway *mockGateway
		device  bool
	}{
		{"device offline", &mockGateway{disconnected: true}, true},
		{"connection check fails", &mockGateway{connErr: errors.New("broker gone")}, true},
		{"command rejected", &mockGateway{sendErr: errors.New("valve stuck")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, Dependencies{Gateway: tt.gateway}, Config{})
			id := setup(t, e, sensorConfig(10, 200))

			res, err := e.ExecuteIrrigation(context.Background(), id, 100)
			if err != nil {
				t.Fatalf("ExecuteIrrigation() error = %v", err)
			}
			if res.Success || res.DeviceError != tt.device {
				t.Fatalf("result = %+v, want failure with DeviceError=%v", res, tt.device)
			}

			report, err := e.GetAutomationStatistics(id)
			if err != nil {
				t.Fatalf("GetAutomationStatistics() error = %v", err)
			}
			s := report.Statistics
			if s.FailedExecutions != 1 || s.SuccessfulExecutions != 0 || s.TotalExecutions != 0 {
				t.Errorf("statistics = %+v, want one failed execution only", s)
			}
			if report.SuccessRate != 0 {
				t.Errorf("SuccessRate = %v, want 0", report.SuccessRate)
			}
			if stored := e.repo.stored(id); stored.Statistics.FailedExecutions != 1 {
				t.Error("failed execution not persisted")
			}
		})
	}
}

func TestEngine_GatewayPanicDisablesRule(t *testing.T) {
	sensors := &mockSensors{reading: plant.Reading{Values: map[string]float64{"soil_moisture": 20}}}
	e := newTestEngine(t, Dependencies{Sensors: sensors, Gateway: panicGateway{}}, Config{SensorInterval: 5 * time.Millisecond})
	id := setup(t, e, sensorConfig(40, 300))

	run := e.registry.runner(id)
	if run == nil {
		t.Fatal("no runner after setup")
	}

	st := waitDisabled(t, e, id)
	if !strings.Contains(st.LastError, "valve driver crashed") {
		t.Errorf("LastError = %q, want the panic value", st.LastError)
	}

	select {
	case <-run.done:
	case <-time.After(testTimeout):
		t.Fatal("loop goroutine did not exit")
	}

	if stored := e.repo.stored(id); stored.Enabled {
		t.Error("disabled flag not persisted")
	}
	if n := e.hub.count(ChannelAutomationDisabled); n != 1 {
		t.Errorf("disabled broadcasts = %d, want 1", n)
	}
	// The runner lock must have been released by the panicking call.
	if snap := run.snapshot(); snap.Status != StatusStopped {
		t.Errorf("runner status = %s, want stopped", snap.Status)
	}
}

func TestEngine_ScheduledFiresAndRearms(t *testing.T) {
	base := time.Date(2026, 6, 1, 6, 59, 59, 0, time.UTC)
	started := time.Now()

	e := newTestEngine(t, Dependencies{}, Config{})
	e.now = func() time.Time { return base.Add(time.Since(started)) }

	id := setup(t, e, RuleConfig{
		Mode:     ModeScheduled,
		Enabled:  true,
		Triggers: []Trigger{{Type: TriggerSchedule, Time: "07:00", Amount: 150}},
		Actions:  []Action{{Type: ActionIrrigation, Amount: 200}},
	})

	first := time.Date(2026, 6, 1, 7, 0, 0, 0, time.UTC)
	waitFor(t, testTimeout, func() bool {
		st := e.GetAutomationStatus(id)
		return st.State != nil && st.State.NextCheck != nil
	})
	if st := e.GetAutomationStatus(id); !st.State.NextCheck.Equal(first) {
		t.Errorf("initial NextCheck = %v, want %v", st.State.NextCheck, first)
	}
	if len(e.gateway.sent()) != 0 {
		t.Error("irrigated before the scheduled time")
	}

	// After firing, the loop re-arms for the same time tomorrow.
	rearmed := first.AddDate(0, 0, 1)
	var st Status
	waitFor(t, testTimeout, func() bool {
		st = e.GetAutomationStatus(id)
		return st.State != nil && st.State.NextCheck != nil && st.State.NextCheck.Equal(rearmed)
	})

	if got := e.gateway.sent(); len(got) != 1 || got[0] != 150 {
		t.Fatalf("commands = %v, want [150]", got)
	}
	if st.State.LastCheck == nil || st.State.LastCheck.Before(base.Add(time.Second)) {
		t.Errorf("LastCheck = %v, fired before the schedule", st.State.LastCheck)
	}
	if st.State.WaterDeliveredToday != 150 || st.Statistics.SuccessfulExecutions != 1 {
		t.Errorf("state = %+v, statistics = %+v", st.State, st.Statistics)
	}
	if n := e.hub.count(ChannelIrrigationExecuted); n != 1 {
		t.Errorf("executed broadcasts = %d, want 1", n)
	}
}

func TestEngine_ConsecutiveCountResetsAfterInterval(t *testing.T) {
	e := newTestEngine(t, Dependencies{}, Config{})
	cfg := sensorConfig(10, 100)
	cfg.SafetyLimits = &SafetyOverrides{
		MaxWaterPerHour:           floatPtr(1000),
		MaxWaterPerDay:            floatPtr(1000),
		MinTimeBetweenIrrigations: &Duration{Duration: 50 * time.Millisecond},
		MaxConsecutiveIrrigations: intPtr(1),
	}
	id := setup(t, e, cfg)
	ctx := context.Background()

	if res, _ := e.ExecuteIrrigation(ctx, id, 100); !res.Success {
		t.Fatalf("first irrigation = %+v", res)
	}
	if st := e.GetAutomationStatus(id); st.State.ConsecutiveIrrigations != 1 {
		t.Fatalf("ConsecutiveIrrigations = %d, want 1", st.State.ConsecutiveIrrigations)
	}

	waitFor(t, testTimeout, func() bool {
		return e.GetAutomationStatus(id).State.ConsecutiveIrrigations == 0
	})

	res, _ := e.ExecuteIrrigation(ctx, id, 100)
	if !res.Success {
		t.Errorf("irrigation after reset = %+v, want success", res)
	}
}

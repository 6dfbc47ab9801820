package automation

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nerrad567/gray-logic-irrigation/internal/plant"
)

// equalsEpsilon is the tolerance of the equals operator.
const equalsEpsilon = 0.01

// loopFunc is one mode's decision loop. It returns when ctx is cancelled.
type loopFunc func(ctx context.Context, rule *Rule, run *runner)

// loopFor picks the loop for rule.Mode and checks its collaborators exist.
func (e *Engine) loopFor(rule *Rule) (loopFunc, error) {
	if e.deps.Gateway == nil {
		return nil, fmt.Errorf("%w: device gateway", ErrMissingDependency)
	}

	switch rule.Mode {
	case ModeSmart:
		if e.deps.Predictions == nil || e.deps.Warnings == nil {
			return nil, fmt.Errorf("%w: prediction and warning providers", ErrMissingDependency)
		}
		return func(ctx context.Context, rule *Rule, run *runner) {
			e.every(ctx, run, e.cfg.SmartInterval, func(ctx context.Context) { e.smartCheck(ctx, rule, run) })
		}, nil

	case ModeScheduled:
		triggers, err := compileSchedules(rule)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		return func(ctx context.Context, rule *Rule, run *runner) {
			e.runScheduled(ctx, rule, run, triggers)
		}, nil

	case ModeSensorBased:
		if e.deps.Sensors == nil {
			return nil, fmt.Errorf("%w: sensor data provider", ErrMissingDependency)
		}
		return func(ctx context.Context, rule *Rule, run *runner) {
			e.every(ctx, run, e.cfg.SensorInterval, func(ctx context.Context) { e.sensorCheck(ctx, rule, run) })
		}, nil
	}

	return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, rule.Mode)
}

// runLoop runs loop until its context is cancelled and closes run.done.
// A panicking loop disables its rule.
func (e *Engine) runLoop(ctx context.Context, rule *Rule, run *runner, loop loopFunc) {
	defer close(run.done)
	defer func() {
		if p := recover(); p != nil {
			e.logger.Error("automation loop panicked", "rule_id", rule.ID, "panic", p)
			e.disable(rule, run, fmt.Errorf("loop panic: %v", p), e.cfg.ErrorThreshold)
		}
	}()
	loop(ctx, rule, run)
}

// every runs check immediately and then once per interval.
func (e *Engine) every(ctx context.Context, run *runner, interval time.Duration, check func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		check(ctx)

		now := e.now()
		next := now.Add(interval)
		run.mu.Lock()
		run.state.LastCheck = &now
		run.state.NextCheck = &next
		run.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ─── Smart Mode ─────────────────────────────────────────────────────────────

func (e *Engine) smartCheck(ctx context.Context, rule *Rule, run *runner) {
	pctx, cancel := context.WithTimeout(ctx, e.cfg.ProviderTimeout)
	pred, err := e.deps.Predictions.PredictIrrigationNeed(pctx, rule.PlantID)
	cancel()
	if err != nil {
		if ctx.Err() == nil {
			e.handleAutomationError(rule, run, providerError("predict irrigation need", err))
		}
		return
	}

	pctx, cancel = context.WithTimeout(ctx, e.cfg.ProviderTimeout)
	warnings, err := e.deps.Warnings.AnalyzeAndAlert(pctx, rule.PlantID)
	cancel()
	if err != nil {
		if ctx.Err() == nil {
			e.handleAutomationError(rule, run, providerError("analyze warnings", err))
		}
		return
	}

	for _, a := range warnings.Alerts {
		if a.Severity == SeverityCritical {
			e.broadcast(ChannelAutomationAlert, map[string]any{
				"automation_id": rule.ID,
				"plant_id":      rule.PlantID,
				"category":      a.Category,
				"severity":      a.Severity,
				"message":       a.Message,
			})
		}
	}

	consecutive := run.snapshot().ConsecutiveIrrigations
	amount, ok, reason := shouldExecuteIrrigation(pred, warnings, rule.Constraints, consecutive)
	if !ok {
		e.logger.Debug("smart check: no irrigation", "rule_id", rule.ID, "reason", reason)
		e.iterationSucceeded(run)
		return
	}

	e.irrigate(ctx, rule, run, amount)
}

// shouldExecuteIrrigation is the smart-mode decision policy. It returns the
// amount to deliver, or false with the reason for skipping.
func shouldExecuteIrrigation(pred Prediction, warnings WarningAnalysis, c Constraints, consecutive int) (float64, bool, string) {
	if !pred.NeedsWatering {
		return 0, false, "prediction says watering is not needed"
	}
	if pred.Urgency == UrgencyLow && consecutive > 0 {
		return 0, false, "low urgency and already irrigated this cycle"
	}
	for _, a := range warnings.Alerts {
		if a.Severity == SeverityCritical && a.Category == CategoryRootRot {
			return 0, false, "critical root rot warning"
		}
	}

	amount := pred.RecommendedAmount
	if c.MaxAmountPerIrrigation > 0 && amount > c.MaxAmountPerIrrigation {
		amount = c.MaxAmountPerIrrigation
	}
	switch pred.Urgency {
	case UrgencyCritical:
		amount *= 1.2
	case UrgencyLow:
		amount *= 0.8
	}
	if amount <= 0 {
		return 0, false, "recommended amount is zero"
	}
	return amount, true, ""
}

// ─── Scheduled Mode ─────────────────────────────────────────────────────────

type scheduledTrigger struct {
	trigger  Trigger
	schedule cron.Schedule
}

func compileSchedules(rule *Rule) ([]scheduledTrigger, error) {
	var out []scheduledTrigger
	for i, t := range rule.Triggers {
		if t.Type != TriggerSchedule {
			continue
		}
		s, err := scheduleFor(t)
		if err != nil {
			return nil, fmt.Errorf("trigger %d: %w", i, err)
		}
		out = append(out, scheduledTrigger{trigger: t, schedule: s})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no schedule triggers")
	}
	return out, nil
}

// nextFire returns the earliest next occurrence and per-trigger next times.
func nextFire(triggers []scheduledTrigger, after time.Time, loc *time.Location) (time.Time, []time.Time) {
	next := make([]time.Time, len(triggers))
	var earliest time.Time
	for i, st := range triggers {
		next[i] = st.schedule.Next(after.In(loc))
		if earliest.IsZero() || next[i].Before(earliest) {
			earliest = next[i]
		}
	}
	return earliest, next
}

func (e *Engine) runScheduled(ctx context.Context, rule *Rule, run *runner, triggers []scheduledTrigger) {
	earliest, next := nextFire(triggers, e.now(), e.cfg.Location)

	for {
		t := earliest
		run.mu.Lock()
		run.state.NextCheck = &t
		run.mu.Unlock()

		timer := time.NewTimer(earliest.Sub(e.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		fired := e.now()
		for i, st := range triggers {
			if next[i].After(fired) {
				continue
			}
			amount := clampAmount(st.trigger.Amount, rule)
			e.irrigate(ctx, rule, run, amount)
			if ctx.Err() != nil {
				return
			}
		}

		run.mu.Lock()
		run.state.LastCheck = &fired
		run.mu.Unlock()

		earliest, next = nextFire(triggers, fired, e.cfg.Location)
	}
}

// clampAmount resolves a trigger amount, falling back to the rule's
// irrigation action and capping at MaxAmountPerIrrigation.
func clampAmount(amount float64, rule *Rule) float64 {
	if amount <= 0 {
		amount = rule.defaultAmount()
	}
	if max := rule.Constraints.MaxAmountPerIrrigation; max > 0 && amount > max {
		amount = max
	}
	return amount
}

// ─── Sensor Mode ────────────────────────────────────────────────────────────

func (e *Engine) sensorCheck(ctx context.Context, rule *Rule, run *runner) {
	pctx, cancel := context.WithTimeout(ctx, e.cfg.ProviderTimeout)
	reading, err := e.deps.Sensors.LatestReading(pctx, rule.PlantID)
	cancel()
	if err != nil {
		if ctx.Err() == nil {
			e.handleAutomationError(rule, run, providerError("latest reading", err))
		}
		return
	}

	fired := evaluateSensorTriggers(rule.Triggers, reading)
	irrigated := false
	for _, f := range fired {
		switch f.trigger.Action {
		case ActionNotification, ActionAlert:
			e.broadcast(ChannelAutomationAlert, map[string]any{
				"automation_id": rule.ID,
				"plant_id":      rule.PlantID,
				"type":          f.trigger.Action,
				"parameter":     f.trigger.Parameter,
				"operator":      f.trigger.Operator,
				"threshold":     f.trigger.Value,
				"value":         f.value,
			})
		default:
			e.irrigate(ctx, rule, run, clampAmount(f.trigger.Amount, rule))
			irrigated = true
		}
		if ctx.Err() != nil {
			return
		}
	}
	if !irrigated {
		e.iterationSucceeded(run)
	}
}

type firedTrigger struct {
	trigger Trigger
	value   float64
}

// evaluateSensorTriggers returns every sensor trigger whose condition holds
// for reading, in trigger order. Parameters missing from the reading never fire.
func evaluateSensorTriggers(triggers []Trigger, reading plant.Reading) []firedTrigger {
	var out []firedTrigger
	for _, t := range triggers {
		if t.Type != TriggerSensor {
			continue
		}
		v, ok := reading.Value(t.Parameter)
		if !ok {
			continue
		}
		if compare(t.Operator, v, t.Value) {
			out = append(out, firedTrigger{trigger: t, value: v})
		}
	}
	return out
}

func compare(op Operator, value, threshold float64) bool {
	switch op {
	case OpLessThan:
		return value < threshold
	case OpGreaterThan:
		return value > threshold
	case OpEquals:
		return math.Abs(value-threshold) <= equalsEpsilon
	}
	return false
}

// ─── Shared Irrigation Path ─────────────────────────────────────────────────

// irrigate applies rule constraints, executes and routes failures.
// Blocked attempts are not errors. Device failures count toward the error
// streak only once they repeat.
func (e *Engine) irrigate(ctx context.Context, rule *Rule, run *runner, amount float64) {
	if reason, ok := e.constraintsAllow(ctx, rule, run); !ok {
		e.logger.Debug("irrigation skipped by constraints", "rule_id", rule.ID, "reason", reason)
		e.iterationSucceeded(run)
		return
	}

	res, failures := e.execute(ctx, rule, run, amount, ActionIrrigation)
	switch {
	case res.Success:
		e.notifyActions(rule, res.Amount)
		e.iterationSucceeded(run)
	case res.DeviceError, res.Dispatched:
		if failures >= deviceFailureThreshold {
			cause := ErrDeviceCommand
			if res.DeviceError {
				cause = ErrDeviceUnavailable
			}
			e.handleAutomationError(rule, run, fmt.Errorf("%w: %s", cause, res.Error))
		}
	default:
		e.iterationSucceeded(run)
	}
}

// constraintsAllow checks allowed windows, the daily irrigation count and
// the weather override.
func (e *Engine) constraintsAllow(ctx context.Context, rule *Rule, run *runner) (string, bool) {
	c := rule.Constraints
	now := e.now()

	if len(c.AllowedWindows) > 0 && !inAnyWindow(now.In(e.cfg.Location), c.AllowedWindows) {
		return "outside allowed time windows", false
	}

	if c.MaxIrrigationsPerDay > 0 {
		st := run.snapshot()
		count := st.IrrigationsToday
		if midnightLocal(now, e.cfg.Location).After(st.DayStart) {
			count = 0
		}
		if count >= c.MaxIrrigationsPerDay {
			return fmt.Sprintf("daily irrigation count %d reached", c.MaxIrrigationsPerDay), false
		}
	}

	if wo := c.WeatherOverride; wo != nil && e.deps.Weather != nil {
		wctx, cancel := context.WithTimeout(ctx, e.cfg.ProviderTimeout)
		days, err := e.deps.Weather.Forecast(wctx, 1)
		cancel()
		switch {
		case err != nil:
			e.logger.Warn("weather override: forecast unavailable", "rule_id", rule.ID, "error", err)
		case len(days) > 0:
			today := days[0]
			if wo.SkipIfRainProbabilityAbove > 0 && today.RainProbability > wo.SkipIfRainProbabilityAbove {
				return fmt.Sprintf("rain probability %.0f%% above %.0f%%", today.RainProbability, wo.SkipIfRainProbabilityAbove), false
			}
			if wo.SkipIfTemperatureBelow != nil && today.Temperature < *wo.SkipIfTemperatureBelow {
				return fmt.Sprintf("temperature %.1f below %.1f", today.Temperature, *wo.SkipIfTemperatureBelow), false
			}
		}
	}

	return "", true
}

// inAnyWindow reports whether t's clock time lies in one of windows.
// Windows are half-open [start, end) and may wrap past midnight.
func inAnyWindow(t time.Time, windows []TimeWindow) bool {
	minute := t.Hour()*60 + t.Minute()
	for _, w := range windows {
		sh, sm, err := parseClock(w.Start)
		if err != nil {
			continue
		}
		eh, em, err := parseClock(w.End)
		if err != nil {
			continue
		}
		start, end := sh*60+sm, eh*60+em
		if start <= end {
			if minute >= start && minute < end {
				return true
			}
		} else if minute >= start || minute < end {
			return true
		}
	}
	return false
}

// notifyActions broadcasts the rule's notification and alert actions after
// a successful irrigation.
func (e *Engine) notifyActions(rule *Rule, amount float64) {
	for _, a := range rule.Actions {
		if a.Type != ActionNotification && a.Type != ActionAlert {
			continue
		}
		e.broadcast(ChannelAutomationAlert, map[string]any{
			"automation_id": rule.ID,
			"plant_id":      rule.PlantID,
			"type":          a.Type,
			"message":       a.Message,
			"amount":        amount,
		})
	}
}

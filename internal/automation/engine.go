package automation

import (
	"context"
	"fmt"
	"time"
)

// Engine defaults.
const (
	DefaultSmartInterval   = 30 * time.Minute
	DefaultSensorInterval  = 15 * time.Minute
	DefaultProviderTimeout = 15 * time.Second
	DefaultErrorThreshold  = 5

	// deviceFailureThreshold is how many device failures in a row count as
	// one automation error. A single transient failure does not.
	deviceFailureThreshold = 2

	persistTimeout = 5 * time.Second

	defaultHistoryLimit = 50
)

// Config holds engine-wide settings.
type Config struct {
	SmartInterval   time.Duration
	SensorInterval  time.Duration
	ProviderTimeout time.Duration
	ErrorThreshold  int
	HistoryCapacity int

	// SafetyLimits are the defaults merged with each rule's overrides.
	SafetyLimits SafetyLimits

	// Location is the site time zone used for schedules, windows and
	// the daily water budget.
	Location *time.Location
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		SmartInterval:   DefaultSmartInterval,
		SensorInterval:  DefaultSensorInterval,
		ProviderTimeout: DefaultProviderTimeout,
		ErrorThreshold:  DefaultErrorThreshold,
		HistoryCapacity: DefaultHistoryCapacity,
		SafetyLimits:    DefaultSafetyLimits(),
		Location:        time.UTC,
	}
}

// DefaultSafetyLimits returns the engine-wide hard limits.
func DefaultSafetyLimits() SafetyLimits {
	return SafetyLimits{
		MaxWaterPerHour:           500,
		MaxWaterPerDay:            2000,
		MinTimeBetweenIrrigations: Duration{30 * time.Minute},
		MaxConsecutiveIrrigations: 3,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.SmartInterval <= 0 {
		c.SmartInterval = d.SmartInterval
	}
	if c.SensorInterval <= 0 {
		c.SensorInterval = d.SensorInterval
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = d.ProviderTimeout
	}
	if c.ErrorThreshold <= 0 {
		c.ErrorThreshold = d.ErrorThreshold
	}
	if c.HistoryCapacity <= 0 {
		c.HistoryCapacity = d.HistoryCapacity
	}
	if c.SafetyLimits == (SafetyLimits{}) {
		c.SafetyLimits = d.SafetyLimits
	}
	if c.Location == nil {
		c.Location = d.Location
	}
}

// Dependencies are the engine's collaborators. Gateway is always required;
// smart mode needs Predictions and Warnings; sensor_based mode needs Sensors.
// Weather, Hub and Metrics are optional.
type Dependencies struct {
	Sensors     SensorDataProvider
	Predictions PredictionProvider
	Warnings    WarningProvider
	Gateway     DeviceGateway
	Weather     WeatherProvider
	Hub         WSHub
	Metrics     MetricsRecorder
}

// Engine runs irrigation automations.
//
// Each enabled rule owns one loop goroutine. Stopping a rule cancels the
// loop and waits for it to exit, so no iteration outlives the stop call.
//
// Thread Safety: all exported methods are safe for concurrent use.
type Engine struct {
	registry *Registry
	deps     Dependencies
	cfg      Config
	executor *Executor
	history  *historyLog
	logger   Logger
	now      func() time.Time

	rootCtx    context.Context
	rootCancel context.CancelFunc
}

// NewEngine creates an automation engine.
func NewEngine(registry *Registry, deps Dependencies, cfg Config, logger Logger) *Engine {
	if logger == nil {
		logger = noopLogger{}
	}
	if deps.Metrics == nil {
		deps.Metrics = noopMetrics{}
	}
	cfg.applyDefaults()

	rootCtx, rootCancel := context.WithCancel(context.Background())
	return &Engine{
		registry:   registry,
		deps:       deps,
		cfg:        cfg,
		executor:   NewExecutor(deps.Gateway, cfg.ProviderTimeout, cfg.Location),
		history:    newHistoryLog(cfg.HistoryCapacity),
		logger:     logger,
		now:        time.Now,
		rootCtx:    rootCtx,
		rootCancel: rootCancel,
	}
}

// Start loads persisted rules and restarts every enabled one.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.registry.RefreshCache(ctx); err != nil {
		return err
	}

	entries, err := e.registry.repo.ListRecentHistory(ctx, e.cfg.HistoryCapacity)
	if err != nil {
		e.logger.Warn("loading execution history failed", "error", err)
	}
	for i := len(entries) - 1; i >= 0; i-- {
		e.history.append(entries[i])
	}

	started := 0
	for _, rule := range e.registry.ListRules() {
		if !rule.Enabled {
			continue
		}
		if e.StartAutomation(ctx, rule.ID) {
			started++
		}
	}

	e.logger.Info("automation engine started", "rules", len(e.registry.ListRules()), "running", started)
	return nil
}

// Close stops every running loop without disabling the rules, so they
// resume on the next Start.
func (e *Engine) Close() {
	for _, id := range e.registry.runningIDs() {
		e.stopRunner(id, false)
	}
	e.rootCancel()
	e.deps.Metrics.ActiveAutomations(0)
}

// SetupAutomation validates cfg, creates the rule and starts it when
// cfg.Enabled is set. Invalid configuration returns a *ValidationError.
func (e *Engine) SetupAutomation(ctx context.Context, plantID string, cfg RuleConfig) (SetupResult, error) {
	now := e.now().UTC()
	rule := &Rule{
		ID:           GenerateID(),
		PlantID:      plantID,
		Mode:         cfg.Mode,
		Triggers:     cfg.Triggers,
		Actions:      cfg.Actions,
		Constraints:  cfg.Constraints,
		SafetyLimits: mergeSafetyLimits(e.cfg.SafetyLimits, cfg.SafetyLimits),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	rule = rule.DeepCopy()

	if verr := validateRule(rule); verr != nil {
		return SetupResult{}, verr
	}

	if err := e.registry.CreateRule(ctx, rule); err != nil {
		return SetupResult{}, err
	}

	e.logger.Info("automation created", "rule_id", rule.ID, "plant_id", plantID, "mode", rule.Mode)

	result := SetupResult{RuleID: rule.ID}
	if cfg.Enabled {
		result.Started = e.StartAutomation(ctx, rule.ID)
	}

	created, err := e.registry.GetRule(rule.ID)
	if err != nil {
		return SetupResult{}, err
	}
	result.Rule = created
	return result, nil
}

// StartAutomation starts the rule's loop, restarting it if already running.
// It returns false when the loop cannot be started; the cause is recorded
// on the rule and the rule is left disabled.
func (e *Engine) StartAutomation(ctx context.Context, ruleID string) bool {
	rule, err := e.registry.GetRule(ruleID)
	if err != nil {
		e.logger.Warn("start automation: rule not found", "rule_id", ruleID)
		return false
	}

	if e.registry.runner(ruleID) != nil {
		e.stopRunner(ruleID, false)
	}

	loop, err := e.loopFor(rule)
	if err != nil {
		e.recordStartFailure(ctx, rule, err)
		return false
	}

	now := e.now()
	run := newRunner(now, e.cfg.Location)
	if parked, ok := e.registry.parkedState(ruleID); ok && !midnightLocal(now, e.cfg.Location).After(parked.DayStart) {
		run.state.WaterDeliveredToday = parked.WaterDeliveredToday
		run.state.IrrigationsToday = parked.IrrigationsToday
		run.state.LastWateringTime = cloneTimePtr(parked.LastWateringTime)
		if parked.LastWateringTime != nil && now.Sub(*parked.LastWateringTime) < rule.SafetyLimits.MinTimeBetweenIrrigations.Duration {
			run.state.ConsecutiveIrrigations = parked.ConsecutiveIrrigations
			run.armConsecutiveReset(rule.SafetyLimits.MinTimeBetweenIrrigations.Duration - now.Sub(*parked.LastWateringTime))
		}
	}

	runCtx, cancel := context.WithCancel(e.rootCtx)
	run.cancel = cancel

	if err := e.registry.attach(ruleID, run); err != nil {
		cancel()
		e.recordStartFailure(ctx, rule, err)
		return false
	}

	updated, err := e.registry.mutateRule(ruleID, func(r *Rule) { r.Enabled = true })
	if err == nil {
		if perr := e.registry.persist(ctx, updated); perr != nil {
			e.logger.Error("persisting enabled flag failed", "rule_id", ruleID, "error", perr)
		}
	}

	go e.runLoop(runCtx, rule, run, loop)

	e.deps.Metrics.ActiveAutomations(e.registry.ActiveCount())
	e.logger.Info("automation started", "rule_id", ruleID, "plant_id", rule.PlantID, "mode", rule.Mode)
	return true
}

// StopAutomation stops a running rule and disables it. It returns false if
// the rule was not running.
func (e *Engine) StopAutomation(ruleID string) bool {
	if !e.stopRunner(ruleID, true) {
		return false
	}
	e.logger.Info("automation stopped", "rule_id", ruleID)
	return true
}

// DeleteAutomation stops the rule if running and removes it.
func (e *Engine) DeleteAutomation(ctx context.Context, ruleID string) error {
	e.stopRunner(ruleID, false)

	if err := e.registry.DeleteRule(ctx, ruleID); err != nil {
		return err
	}
	e.history.remove(ruleID)

	e.logger.Info("automation deleted", "rule_id", ruleID)
	return nil
}

// UpdateAutomationConfig merges upd into the rule, re-validates it and, if
// the rule was running, restarts it so the loop only ever sees one
// configuration. Setting Enabled starts or stops the rule explicitly.
func (e *Engine) UpdateAutomationConfig(ctx context.Context, ruleID string, upd RuleUpdate) (*Rule, error) {
	current, err := e.registry.GetRule(ruleID)
	if err != nil {
		return nil, err
	}

	merged := current.DeepCopy()
	if upd.Mode != nil {
		merged.Mode = *upd.Mode
	}
	if upd.Triggers != nil {
		merged.Triggers = upd.Triggers
	}
	if upd.Actions != nil {
		merged.Actions = upd.Actions
	}
	if upd.Constraints != nil {
		merged.Constraints = *upd.Constraints
	}
	merged.SafetyLimits = mergeSafetyLimits(merged.SafetyLimits, upd.SafetyLimits)
	merged = merged.DeepCopy()

	if verr := validateRule(merged); verr != nil {
		return nil, verr
	}

	wasRunning := e.registry.runner(ruleID) != nil
	wantRunning := wasRunning
	if upd.Enabled != nil {
		wantRunning = *upd.Enabled
	}

	if wasRunning {
		e.stopRunner(ruleID, false)
	}

	merged.Enabled = false
	merged.UpdatedAt = e.now().UTC()
	if err := e.registry.SaveRule(ctx, merged); err != nil {
		if wasRunning {
			e.StartAutomation(ctx, ruleID)
		}
		return nil, err
	}

	if wantRunning {
		e.StartAutomation(ctx, ruleID)
	}

	e.logger.Info("automation updated", "rule_id", ruleID, "running", wantRunning)
	return e.registry.GetRule(ruleID)
}

// GetAutomationStatus returns the rule's runtime status. Unknown ids yield
// a Status with StatusNotFound.
func (e *Engine) GetAutomationStatus(ruleID string) Status {
	rule, err := e.registry.GetRule(ruleID)
	if err != nil {
		return Status{RuleID: ruleID, Status: StatusNotFound}
	}

	st := Status{
		RuleID:     rule.ID,
		PlantID:    rule.PlantID,
		Mode:       rule.Mode,
		Enabled:    rule.Enabled,
		Status:     StatusStopped,
		Statistics: rule.Statistics,
		LastError:  rule.LastError,
	}
	if run := e.registry.runner(ruleID); run != nil {
		snap := run.snapshot()
		st.Status = snap.Status
		st.State = &snap
	}
	return st
}

// GetAllAutomations returns every configured rule.
func (e *Engine) GetAllAutomations() []Rule {
	return e.registry.ListRules()
}

// GetAutomationHistory returns up to limit history entries for the rule,
// newest first. An empty ruleID returns entries for all rules.
func (e *Engine) GetAutomationHistory(ruleID string, limit int) []HistoryEntry {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > e.cfg.HistoryCapacity {
		limit = e.cfg.HistoryCapacity
	}
	return e.history.recent(ruleID, limit)
}

// GetAutomationStatistics summarises the rule's execution record.
func (e *Engine) GetAutomationStatistics(ruleID string) (*StatisticsReport, error) {
	rule, err := e.registry.GetRule(ruleID)
	if err != nil {
		return nil, err
	}

	s := rule.Statistics
	report := &StatisticsReport{
		RuleID:     rule.ID,
		Statistics: s,
	}
	if attempts := s.SuccessfulExecutions + s.FailedExecutions; attempts > 0 {
		report.SuccessRate = float64(s.SuccessfulExecutions) / float64(attempts) * 100
	}
	if s.SuccessfulExecutions > 0 {
		report.AverageAmount = s.WaterDelivered / float64(s.SuccessfulExecutions)
	}
	if run := e.registry.runner(ruleID); run != nil {
		report.Running = true
		report.ErrorCount = run.snapshot().ErrorCount
	}
	for _, h := range e.history.recent(ruleID, 0) {
		switch {
		case h.Blocked:
			report.RecentBlocked++
		case !h.Success:
			report.RecentFailed++
		}
	}
	return report, nil
}

// ExecuteIrrigation runs one irrigation for a running rule. Safety blocks,
// device and command failures are reported in the result; the error is
// only set for unknown or stopped rules.
func (e *Engine) ExecuteIrrigation(ctx context.Context, ruleID string, amount float64) (ExecutionResult, error) {
	rule, err := e.registry.GetRule(ruleID)
	if err != nil {
		return ExecutionResult{}, err
	}
	run := e.registry.runner(ruleID)
	if run == nil {
		return ExecutionResult{}, ErrNotRunning
	}

	res, _ := e.execute(ctx, rule, run, amount, ActionIrrigation)
	return res, nil
}

// ─── Internals ──────────────────────────────────────────────────────────────

// execute runs the executor under the runner lock and records the outcome.
// It returns the result and the current run of device failures.
func (e *Engine) execute(ctx context.Context, rule *Rule, run *runner, amount float64, action ActionType) (ExecutionResult, int) {
	now := e.now()

	res, failures, ran := e.executeLocked(ctx, rule, run, amount, now)
	if !ran {
		return res, 0
	}

	e.recordExecution(rule, action, res, now)
	return res, failures
}

// executeLocked holds run.mu for the executor call. run.mu must be free
// again if a gateway panics: runLoop's recover takes it in disable.
func (e *Engine) executeLocked(ctx context.Context, rule *Rule, run *runner, amount float64, now time.Time) (ExecutionResult, int, bool) {
	run.mu.Lock()
	defer run.mu.Unlock()

	if run.state.Status != StatusRunning {
		return ExecutionResult{Amount: amount, Error: ErrNotRunning.Error()}, 0, false
	}
	res := e.executor.Execute(ctx, rule.PlantID, rule.SafetyLimits, &run.state, amount, now)
	switch {
	case res.Success:
		run.deviceFailures = 0
		run.armConsecutiveReset(rule.SafetyLimits.MinTimeBetweenIrrigations.Duration)
	case res.DeviceError, res.Dispatched:
		run.deviceFailures++
	}
	return res, run.deviceFailures, true
}

// recordExecution updates rule statistics, the history log, metrics and
// WebSocket subscribers.
func (e *Engine) recordExecution(rule *Rule, action ActionType, res ExecutionResult, at time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	// Unreachable devices count as failed executions alongside rejected commands.
	if res.Dispatched || res.DeviceError {
		updated, err := e.registry.mutateRule(rule.ID, func(r *Rule) {
			if res.Success {
				t := at
				r.Statistics.TotalExecutions++
				r.Statistics.SuccessfulExecutions++
				r.Statistics.WaterDelivered += res.Amount
				r.Statistics.LastExecution = &t
				return
			}
			r.Statistics.FailedExecutions++
		})
		if err == nil {
			if perr := e.registry.persist(ctx, updated); perr != nil {
				e.logger.Error("persisting statistics failed", "rule_id", rule.ID, "error", perr)
			}
		}
	}

	entry := HistoryEntry{
		RuleID:      rule.ID,
		PlantID:     rule.PlantID,
		ActionType:  action,
		Amount:      res.Amount,
		Success:     res.Success,
		Blocked:     res.Blocked,
		DeviceError: res.DeviceError,
		Error:       res.Error,
		Timestamp:   at.UTC(),
	}
	e.history.append(entry)
	if err := e.registry.repo.AppendHistory(ctx, entry); err != nil {
		e.logger.Error("persisting history failed", "rule_id", rule.ID, "error", err)
	}

	delivered := 0.0
	if res.Success {
		delivered = res.Amount
	}
	e.deps.Metrics.IrrigationExecuted(string(rule.Mode), outcomeOf(res), delivered)

	switch {
	case res.Success:
		e.logger.Info("irrigation executed", "rule_id", rule.ID, "plant_id", rule.PlantID, "amount", res.Amount)
		e.broadcast(ChannelIrrigationExecuted, entry)
	case res.Blocked:
		e.logger.Warn("irrigation blocked", "rule_id", rule.ID, "limit", res.Limit, "reason", res.Error)
	default:
		e.logger.Warn("irrigation failed", "rule_id", rule.ID, "device_error", res.DeviceError, "error", res.Error)
	}
}

// handleAutomationError records a loop failure. Reaching the error
// threshold disables the rule.
func (e *Engine) handleAutomationError(rule *Rule, run *runner, err error) {
	run.mu.Lock()
	if run.state.Status != StatusRunning {
		run.mu.Unlock()
		return
	}
	run.state.ErrorCount++
	run.state.LastError = err.Error()
	count := run.state.ErrorCount
	run.mu.Unlock()

	e.deps.Metrics.AutomationError(string(rule.Mode))
	e.logger.Warn("automation error", "rule_id", rule.ID, "error_count", count, "error", err)

	if count >= e.cfg.ErrorThreshold {
		e.disable(rule, run, err, count)
	}
}

// iterationSucceeded clears the error streak.
func (e *Engine) iterationSucceeded(run *runner) {
	run.mu.Lock()
	run.state.ErrorCount = 0
	run.mu.Unlock()
}

// disable stops run from inside its own loop. It does not wait for the loop
// to exit; the loop returns as soon as it sees the cancelled context.
func (e *Engine) disable(rule *Rule, run *runner, cause error, count int) {
	if !e.registry.detachIf(rule.ID, run) {
		return
	}

	run.mu.Lock()
	run.halt()
	state := run.state.clone()
	run.mu.Unlock()
	e.registry.park(rule.ID, state)
	run.cancel()

	msg := fmt.Sprintf("automation disabled after %d consecutive errors: %v", count, cause)
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	updated, err := e.registry.mutateRule(rule.ID, func(r *Rule) {
		r.Enabled = false
		r.LastError = msg
	})
	if err == nil {
		if perr := e.registry.persist(ctx, updated); perr != nil {
			e.logger.Error("persisting disabled rule failed", "rule_id", rule.ID, "error", perr)
		}
	}

	e.deps.Metrics.AutomationDisabled(string(rule.Mode))
	e.deps.Metrics.ActiveAutomations(e.registry.ActiveCount())
	e.broadcast(ChannelAutomationDisabled, map[string]any{
		"automation_id": rule.ID,
		"plant_id":      rule.PlantID,
		"error":         msg,
	})
	e.logger.Error("automation disabled", "rule_id", rule.ID, "error_count", count, "error", cause)
}

// stopRunner detaches and stops the rule's runner, waiting for its loop to
// exit. With disable set the rule is also marked disabled. It must not be
// called from a loop goroutine.
func (e *Engine) stopRunner(ruleID string, disable bool) bool {
	run := e.registry.detach(ruleID)
	if run == nil {
		return false
	}

	run.mu.Lock()
	run.halt()
	state := run.state.clone()
	run.mu.Unlock()
	e.registry.park(ruleID, state)

	run.cancel()
	<-run.done

	if disable {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		updated, err := e.registry.mutateRule(ruleID, func(r *Rule) { r.Enabled = false })
		if err == nil {
			if perr := e.registry.persist(ctx, updated); perr != nil {
				e.logger.Error("persisting disabled flag failed", "rule_id", ruleID, "error", perr)
			}
		}
	}

	e.deps.Metrics.ActiveAutomations(e.registry.ActiveCount())
	return true
}

func (e *Engine) recordStartFailure(ctx context.Context, rule *Rule, cause error) {
	e.deps.Metrics.AutomationError(string(rule.Mode))
	e.logger.Error("automation failed to start", "rule_id", rule.ID, "error", cause)

	updated, err := e.registry.mutateRule(rule.ID, func(r *Rule) {
		r.Enabled = false
		r.LastError = fmt.Sprintf("failed to start: %v", cause)
	})
	if err != nil {
		return
	}
	if perr := e.registry.persist(ctx, updated); perr != nil {
		e.logger.Error("persisting start failure failed", "rule_id", rule.ID, "error", perr)
	}
}

func (e *Engine) broadcast(channel string, payload any) {
	if e.deps.Hub != nil {
		e.deps.Hub.Broadcast(channel, payload)
	}
}

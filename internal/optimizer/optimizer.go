package optimizer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-irrigation/internal/plant"
)

// Optimizer defaults.
const (
	DefaultProviderTimeout      = 15 * time.Second
	DefaultHistoryWindowDays    = 7
	DefaultWateringHistoryLimit = 50
	DefaultReoptimizeEvery      = 24 * time.Hour
)

// Config holds optimizer-wide settings.
type Config struct {
	DefaultAlgorithm     string
	DefaultHorizon       int
	ProviderTimeout      time.Duration
	HistoryWindowDays    int
	WateringHistoryLimit int
	ReoptimizeEvery      time.Duration

	// Seed fixes the random streams of the genetic and reinforcement
	// strategies. Zero seeds from the clock.
	Seed uint64
}

// DefaultConfig returns the optimizer defaults.
func DefaultConfig() Config {
	return Config{
		DefaultAlgorithm:     AlgorithmRuleBased,
		DefaultHorizon:       DefaultHorizon,
		ProviderTimeout:      DefaultProviderTimeout,
		HistoryWindowDays:    DefaultHistoryWindowDays,
		WateringHistoryLimit: DefaultWateringHistoryLimit,
		ReoptimizeEvery:      DefaultReoptimizeEvery,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.DefaultAlgorithm == "" {
		c.DefaultAlgorithm = d.DefaultAlgorithm
	}
	if c.DefaultHorizon <= 0 || c.DefaultHorizon > MaxHorizon {
		c.DefaultHorizon = d.DefaultHorizon
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = d.ProviderTimeout
	}
	if c.HistoryWindowDays <= 0 {
		c.HistoryWindowDays = d.HistoryWindowDays
	}
	if c.WateringHistoryLimit <= 0 {
		c.WateringHistoryLimit = d.WateringHistoryLimit
	}
	if c.ReoptimizeEvery <= 0 {
		c.ReoptimizeEvery = d.ReoptimizeEvery
	}
}

// Dependencies are the optimizer's collaborators. Data is required; without
// Weather a neutral forecast is used. QTables, Learning and Metrics are
// optional.
type Dependencies struct {
	Data     DataSource
	Weather  WeatherProvider
	QTables  QTableStore
	Learning LearningLog
	Metrics  MetricsRecorder
}

// Optimizer produces multi-day irrigation schedules.
//
// Every optimization either returns a strategy's schedule, clamped to the
// caller's constraints and scored, or the fixed fallback schedule. The only
// error Optimize returns is ErrUnsupportedAlgorithm.
//
// Thread Safety: all exported methods are safe for concurrent use.
type Optimizer struct {
	deps   Dependencies
	cfg    Config
	logger Logger
	now    func() time.Time

	mu         sync.RWMutex
	strategies strategyTable
}

// New creates an optimizer with the rule-based, genetic and reinforcement
// strategies registered.
func New(deps Dependencies, cfg Config, logger Logger) *Optimizer {
	if logger == nil {
		logger = noopLogger{}
	}
	if deps.Metrics == nil {
		deps.Metrics = noopMetrics{}
	}
	cfg.applyDefaults()

	return &Optimizer{
		deps:   deps,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		strategies: strategyTable{
			AlgorithmRuleBased:     RuleBased{},
			AlgorithmGenetic:       NewGenetic(cfg.Seed),
			AlgorithmReinforcement: NewReinforcement(deps.QTables, logger, cfg.Seed),
		},
	}
}

// Register adds or replaces a strategy.
func (o *Optimizer) Register(name string, s ScheduleStrategy) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.strategies[name] = s
}

// Algorithms returns the registered strategy names, sorted.
func (o *Optimizer) Algorithms() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.strategies.names()
}

// Optimize plans irrigation for plantID over the requested horizon.
//
// An unknown algorithm fails with ErrUnsupportedAlgorithm. Any other
// failure, including a panic in a strategy, yields the fallback result
// with Error set.
func (o *Optimizer) Optimize(ctx context.Context, plantID string, opts Options) (*Result, error) {
	algorithm := opts.Algorithm
	if algorithm == "" {
		algorithm = o.cfg.DefaultAlgorithm
	}

	o.mu.RLock()
	strategy, ok := o.strategies.lookup(algorithm)
	o.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, algorithm)
	}

	horizon := opts.Horizon
	if horizon <= 0 {
		horizon = o.cfg.DefaultHorizon
	}
	if horizon > MaxHorizon {
		horizon = MaxHorizon
	}

	start := o.now()
	result, err := o.run(ctx, plantID, algorithm, strategy, horizon, opts, start)
	if err != nil {
		o.logger.Warn("optimization failed, using fallback schedule",
			"plant_id", plantID,
			"algorithm", algorithm,
			"error", err,
		)
		result = o.fallbackResult(plantID, horizon, start, fmt.Errorf("%w: %w", ErrOptimizationFailed, err))
	} else {
		o.logger.Info("optimization completed",
			"plant_id", plantID,
			"algorithm", algorithm,
			"overall_score", result.Performance.OverallScore,
			"events", result.Schedule.EventCount(),
		)
	}

	o.deps.Metrics.OptimizationCompleted(algorithm, result.Performance.OverallScore, result.Fallback())
	return result, nil
}

// run performs gather, generate, clamp, evaluate and log. A panic anywhere
// in it is returned as an error.
func (o *Optimizer) run(ctx context.Context, plantID, algorithm string, strategy ScheduleStrategy, horizon int, opts Options, start time.Time) (result *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()

	in, err := o.gather(ctx, plantID, horizon, start)
	if err != nil {
		return nil, err
	}
	in.Constraints, in.Preferences = normalize(opts.Constraints, opts.Preferences)

	schedule, err := strategy.Generate(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("%s strategy: %w", algorithm, err)
	}
	schedule = ApplyConstraints(schedule, in.Constraints)

	perf, recs := Evaluate(schedule, in)
	result = &Result{
		PlantID:          plantID,
		Algorithm:        algorithm,
		Schedule:         schedule,
		Performance:      perf,
		Recommendations:  recs,
		GeneratedAt:      start,
		NextOptimization: start.Add(o.cfg.ReoptimizeEvery),
	}

	if o.deps.Learning != nil {
		rec := Record{
			PlantID:      plantID,
			Algorithm:    algorithm,
			Input:        in,
			Result:       *result,
			OverallScore: perf.OverallScore,
			CreatedAt:    start,
		}
		if err := o.deps.Learning.Append(ctx, rec); err != nil {
			return nil, fmt.Errorf("learning log: %w", err)
		}
	}
	return result, nil
}

// gather collects the plant's data. Each call has its own timeout.
func (o *Optimizer) gather(ctx context.Context, plantID string, horizon int, start time.Time) (Input, error) {
	in := Input{PlantID: plantID, Horizon: horizon, Start: start}
	if o.deps.Data == nil {
		return in, fmt.Errorf("%w: no data source configured", ErrProvider)
	}

	var err error
	if in.Profile, err = callWithTimeout(ctx, o.cfg.ProviderTimeout, "plant info", func(ctx context.Context) (plant.Profile, error) {
		return o.deps.Data.PlantInfo(ctx, plantID)
	}); err != nil {
		return in, err
	}
	if in.Current, err = callWithTimeout(ctx, o.cfg.ProviderTimeout, "latest reading", func(ctx context.Context) (plant.Reading, error) {
		return o.deps.Data.LatestReading(ctx, plantID)
	}); err != nil {
		return in, err
	}
	if in.History, err = callWithTimeout(ctx, o.cfg.ProviderTimeout, "historical data", func(ctx context.Context) ([]plant.Reading, error) {
		return o.deps.Data.HistoricalData(ctx, plantID, o.cfg.HistoryWindowDays)
	}); err != nil {
		return in, err
	}
	if in.Watering, err = callWithTimeout(ctx, o.cfg.ProviderTimeout, "watering history", func(ctx context.Context) ([]plant.WateringEvent, error) {
		return o.deps.Data.WateringHistory(ctx, plantID, o.cfg.WateringHistoryLimit)
	}); err != nil {
		return in, err
	}

	if o.deps.Weather == nil {
		in.Forecast = plant.NeutralForecast(start, horizon)
		return in, nil
	}
	if in.Forecast, err = callWithTimeout(ctx, o.cfg.ProviderTimeout, "weather forecast", func(ctx context.Context) ([]plant.DayForecast, error) {
		return o.deps.Weather.Forecast(ctx, horizon)
	}); err != nil {
		return in, err
	}
	return in, nil
}

func callWithTimeout[T any](ctx context.Context, timeout time.Duration, op string, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	v, err := fn(ctx)
	if err != nil {
		var zero T
		return zero, providerError(op, err)
	}
	return v, nil
}

// fallbackResult is the deterministic schedule returned when optimization
// fails: one 07:00 irrigation of 200 units on every day of the horizon.
func (o *Optimizer) fallbackResult(plantID string, horizon int, start time.Time, cause error) *Result {
	s := Schedule{Days: make([]DaySchedule, horizon)}
	for i := range s.Days {
		s.Days[i] = DaySchedule{
			Day:  i,
			Date: start.AddDate(0, 0, i),
			Events: []Event{{
				Time:     fallbackTime,
				Amount:   fallbackAmount,
				Reason:   "fallback schedule",
				Priority: PriorityMedium,
			}},
		}
	}
	return &Result{
		PlantID:          plantID,
		Algorithm:        AlgorithmFallback,
		Schedule:         s,
		Performance:      fallbackPerformance(),
		Recommendations:  []Recommendation{},
		GeneratedAt:      start,
		NextOptimization: start.Add(o.cfg.ReoptimizeEvery),
		Error:            cause.Error(),
	}
}

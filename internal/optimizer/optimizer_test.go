package optimizer

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

type testOptimizer struct {
	*Optimizer
	data     *mockData
	weather  *mockWeather
	qtables  *memQTableStore
	learning *mockLearningLog
	metrics  *mockMetrics
}

func newTestOptimizer(t *testing.T, moisture float64) *testOptimizer {
	t.Helper()
	to := &testOptimizer{
		data:     newMockData(moisture),
		weather:  &mockWeather{rain: 20},
		qtables:  newMemQTableStore(),
		learning: &mockLearningLog{},
		metrics:  &mockMetrics{},
	}
	to.Optimizer = New(Dependencies{
		Data:     to.data,
		Weather:  to.weather,
		QTables:  to.qtables,
		Learning: to.learning,
		Metrics:  to.metrics,
	}, Config{ProviderTimeout: 50 * time.Millisecond, Seed: 99}, nil)
	to.now = func() time.Time { return testStart }
	return to
}

// assertWithinConstraints checks every day against the normalized defaults.
func assertWithinConstraints(t *testing.T, s Schedule) {
	t.Helper()
	c := DefaultConstraints()
	ws := parseWindows(c.AllowedWindows)
	for _, d := range s.Days {
		if len(d.Events) > c.MaxIrrigationsPerDay {
			t.Errorf("day %d: %d events > %d", d.Day, len(d.Events), c.MaxIrrigationsPerDay)
		}
		if d.Water() > c.MaxWaterPerDay {
			t.Errorf("day %d: water %v > %v", d.Day, d.Water(), c.MaxWaterPerDay)
		}
		for _, e := range d.Events {
			m := clockMinutes(e.Time)
			in := false
			for _, w := range ws {
				in = in || w.contains(m)
			}
			if !in {
				t.Errorf("day %d: event at %s outside allowed windows", d.Day, e.Time)
			}
		}
	}
}

func assertFallback(t *testing.T, res *Result, horizon int) {
	t.Helper()
	if !res.Fallback() {
		t.Fatalf("Algorithm = %q, want fallback", res.Algorithm)
	}
	if len(res.Schedule.Days) != horizon {
		t.Fatalf("len(Days) = %d, want %d", len(res.Schedule.Days), horizon)
	}
	for _, d := range res.Schedule.Days {
		if len(d.Events) != 1 || d.Events[0].Time != "07:00" || d.Events[0].Amount != 200 {
			t.Errorf("day %d events = %+v, want one 07:00 200", d.Day, d.Events)
		}
	}
	if res.Performance.OverallScore != fallbackScore {
		t.Errorf("OverallScore = %v, want %d", res.Performance.OverallScore, fallbackScore)
	}
	if !strings.Contains(res.Error, "optimization failed") {
		t.Errorf("Error = %q, want optimization failed", res.Error)
	}
}

func TestOptimize_Strategies(t *testing.T) {
	for _, algorithm := range []string{AlgorithmRuleBased, AlgorithmGenetic, AlgorithmReinforcement} {
		t.Run(algorithm, func(t *testing.T) {
			o := newTestOptimizer(t, 35)

			res, err := o.Optimize(context.Background(), "plant-1", Options{Algorithm: algorithm})
			if err != nil {
				t.Fatalf("Optimize() error = %v", err)
			}
			if res.Fallback() {
				t.Fatalf("got fallback: %s", res.Error)
			}
			if res.Algorithm != algorithm {
				t.Errorf("Algorithm = %q, want %q", res.Algorithm, algorithm)
			}
			if len(res.Schedule.Days) != DefaultHorizon {
				t.Errorf("len(Days) = %d, want %d", len(res.Schedule.Days), DefaultHorizon)
			}
			assertWithinConstraints(t, res.Schedule)

			if o.learning.count() != 1 {
				t.Errorf("learning records = %d, want 1", o.learning.count())
			}
			call, ok := o.metrics.last()
			if !ok || call.algorithm != algorithm || call.fallback || call.score != res.Performance.OverallScore {
				t.Errorf("metrics = %+v, want %s non-fallback", call, algorithm)
			}
			if !res.NextOptimization.Equal(testStart.Add(DefaultReoptimizeEvery)) {
				t.Errorf("NextOptimization = %v", res.NextOptimization)
			}
		})
	}
}

func TestOptimize_ReinforcementPersistsTable(t *testing.T) {
	o := newTestOptimizer(t, 35)
	if _, err := o.Optimize(context.Background(), "plant-1", Options{Algorithm: AlgorithmReinforcement}); err != nil {
		t.Fatalf("Optimize() error = %v", err)
	}
	if o.qtables.get("plant-1") == nil {
		t.Error("q-table was not saved")
	}
}

func TestOptimize_UnsupportedAlgorithm(t *testing.T) {
	o := newTestOptimizer(t, 35)

	res, err := o.Optimize(context.Background(), "plant-1", Options{Algorithm: "quantum"})
	if !errors.Is(err, ErrUnsupportedAlgorithm) {
		t.Fatalf("Optimize() error = %v, want ErrUnsupportedAlgorithm", err)
	}
	if res != nil {
		t.Errorf("result = %+v, want nil", res)
	}
	if _, ok := o.metrics.last(); ok {
		t.Error("metrics recorded for an unsupported algorithm")
	}
}

func TestOptimize_Fallback(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name    string
		setup   func(o *testOptimizer)
		opts    Options
		wantErr string
	}{
		{"plant info", func(o *testOptimizer) { o.data.profileErr = boom }, Options{}, "plant info"},
		{"latest reading", func(o *testOptimizer) { o.data.readingErr = boom }, Options{}, "latest reading"},
		{"history", func(o *testOptimizer) { o.data.historyErr = boom }, Options{}, "historical data"},
		{"watering", func(o *testOptimizer) { o.data.wateringErr = boom }, Options{}, "watering history"},
		{"weather", func(o *testOptimizer) { o.weather.err = boom }, Options{}, "weather forecast"},
		{"timeout", func(o *testOptimizer) { o.data.block = true }, Options{}, "provider timeout"},
		{"learning log", func(o *testOptimizer) { o.learning.err = boom }, Options{}, "learning log"},
		{"strategy error", func(o *testOptimizer) {
			o.Register("broken", StrategyFunc(func(context.Context, Input) (Schedule, error) {
				return Schedule{}, boom
			}))
		}, Options{Algorithm: "broken"}, "broken strategy"},
		{"strategy panic", func(o *testOptimizer) {
			o.Register("panicky", StrategyFunc(func(context.Context, Input) (Schedule, error) {
				panic("index out of range")
			}))
		}, Options{Algorithm: "panicky"}, "panic"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newTestOptimizer(t, 35)
			tt.setup(o)
			opts := tt.opts
			opts.Horizon = 5

			res, err := o.Optimize(context.Background(), "plant-1", opts)
			if err != nil {
				t.Fatalf("Optimize() error = %v, want nil", err)
			}
			assertFallback(t, res, 5)
			if !strings.Contains(res.Error, tt.wantErr) {
				t.Errorf("Error = %q, want it to mention %q", res.Error, tt.wantErr)
			}

			call, ok := o.metrics.last()
			if !ok || !call.fallback {
				t.Errorf("metrics = %+v, want fallback", call)
			}
		})
	}
}

func TestOptimize_FallbackIsDeterministic(t *testing.T) {
	o := newTestOptimizer(t, 35)
	o.data.profileErr = errors.New("down")

	a, _ := o.Optimize(context.Background(), "plant-1", Options{})
	b, _ := o.Optimize(context.Background(), "plant-1", Options{})
	if !reflect.DeepEqual(a, b) {
		t.Error("fallback results differ between runs")
	}
}

func TestOptimize_Defaults(t *testing.T) {
	t.Run("default algorithm", func(t *testing.T) {
		o := newTestOptimizer(t, 35)
		res, _ := o.Optimize(context.Background(), "plant-1", Options{})
		if res.Algorithm != AlgorithmRuleBased {
			t.Errorf("Algorithm = %q, want %q", res.Algorithm, AlgorithmRuleBased)
		}
	})

	t.Run("horizon capped", func(t *testing.T) {
		o := newTestOptimizer(t, 35)
		res, _ := o.Optimize(context.Background(), "plant-1", Options{Horizon: 90})
		if len(res.Schedule.Days) != MaxHorizon {
			t.Errorf("len(Days) = %d, want %d", len(res.Schedule.Days), MaxHorizon)
		}
	})

	t.Run("no weather provider", func(t *testing.T) {
		o := newTestOptimizer(t, 35)
		o.deps.Weather = nil
		res, _ := o.Optimize(context.Background(), "plant-1", Options{})
		if res.Fallback() {
			t.Errorf("got fallback: %s", res.Error)
		}
	})

	t.Run("custom constraints", func(t *testing.T) {
		o := newTestOptimizer(t, 20)
		res, _ := o.Optimize(context.Background(), "plant-1", Options{
			Constraints: &Constraints{MaxWaterPerDay: 100, MaxIrrigationsPerDay: 1},
		})
		for _, d := range res.Schedule.Days {
			if d.Water() > 100 || len(d.Events) > 1 {
				t.Errorf("day %d = %+v exceeds constraints", d.Day, d.Events)
			}
		}
	})
}

func TestOptimizer_Algorithms(t *testing.T) {
	o := newTestOptimizer(t, 35)
	want := []string{AlgorithmGenetic, AlgorithmReinforcement, AlgorithmRuleBased}
	if got := o.Algorithms(); !reflect.DeepEqual(got, want) {
		t.Errorf("Algorithms() = %v, want %v", got, want)
	}
}

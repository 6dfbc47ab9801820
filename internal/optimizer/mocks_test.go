package optimizer

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-irrigation/internal/plant"
)

var testStart = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

// testInput builds an input for the default profile with a constant forecast.
func testInput(moisture, rain float64, horizon int) Input {
	forecast := plant.NeutralForecast(testStart, horizon)
	for i := range forecast {
		forecast[i].RainProbability = rain
	}
	c, p := normalize(nil, nil)
	return Input{
		PlantID:     "plant-1",
		Profile:     plant.DefaultProfile("plant-1"),
		Current:     plant.Reading{PlantID: "plant-1", Values: map[string]float64{plant.ParamSoilMoisture: moisture}},
		Forecast:    forecast,
		Constraints: c,
		Preferences: p,
		Horizon:     horizon,
		Start:       testStart,
	}
}

// mockData is an in-memory DataSource. block makes every call wait for
// its context.
type mockData struct {
	profile  plant.Profile
	reading  plant.Reading
	history  []plant.Reading
	watering []plant.WateringEvent

	profileErr  error
	readingErr  error
	historyErr  error
	wateringErr error
	block       bool
}

func newMockData(moisture float64) *mockData {
	return &mockData{
		profile: plant.DefaultProfile("plant-1"),
		reading: plant.Reading{PlantID: "plant-1", Values: map[string]float64{plant.ParamSoilMoisture: moisture}},
	}
}

func (m *mockData) wait(ctx context.Context) error {
	if !m.block {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (m *mockData) PlantInfo(ctx context.Context, _ string) (plant.Profile, error) {
	if err := m.wait(ctx); err != nil {
		return plant.Profile{}, err
	}
	return m.profile, m.profileErr
}

func (m *mockData) LatestReading(ctx context.Context, _ string) (plant.Reading, error) {
	if err := m.wait(ctx); err != nil {
		return plant.Reading{}, err
	}
	return m.reading, m.readingErr
}

func (m *mockData) HistoricalData(ctx context.Context, _ string, _ int) ([]plant.Reading, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	return m.history, m.historyErr
}

func (m *mockData) WateringHistory(ctx context.Context, _ string, _ int) ([]plant.WateringEvent, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	return m.watering, m.wateringErr
}

type mockWeather struct {
	rain float64
	err  error
}

func (m *mockWeather) Forecast(_ context.Context, days int) ([]plant.DayForecast, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := plant.NeutralForecast(testStart, days)
	for i := range out {
		out[i].RainProbability = m.rain
	}
	return out, nil
}

// memQTableStore is an in-memory QTableStore.
type memQTableStore struct {
	mu      sync.Mutex
	tables  map[string]QTable
	loadErr error
	saveErr error
	saves   int
}

func newMemQTableStore() *memQTableStore {
	return &memQTableStore{tables: make(map[string]QTable)}
}

func (m *memQTableStore) Load(_ context.Context, plantID string) (QTable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	t, ok := m.tables[plantID]
	if !ok {
		return nil, ErrQTableNotFound
	}
	return t.Clone(), nil
}

func (m *memQTableStore) Save(_ context.Context, plantID string, table QTable) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.tables[plantID] = table.Clone()
	return nil
}

func (m *memQTableStore) get(plantID string) QTable {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tables[plantID]
}

type mockLearningLog struct {
	mu      sync.Mutex
	records []Record
	err     error
}

func (m *mockLearningLog) Append(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *mockLearningLog) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

type metricCall struct {
	algorithm string
	score     float64
	fallback  bool
}

type mockMetrics struct {
	mu    sync.Mutex
	calls []metricCall
}

func (m *mockMetrics) OptimizationCompleted(algorithm string, score float64, fallback bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, metricCall{algorithm, score, fallback})
}

func (m *mockMetrics) last() (metricCall, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return metricCall{}, false
	}
	return m.calls[len(m.calls)-1], true
}

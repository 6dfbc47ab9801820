package automation

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-irrigation/internal/plant"
)

// mockRepository is an in-memory Repository.
type mockRepository struct {
	mu      sync.Mutex
	rules   map[string]*Rule
	history []HistoryEntry

	// For testing error paths
	createErr error
	updateErr error
}

func newMockRepository() *mockRepository {
	return &mockRepository{rules: make(map[string]*Rule)}
}

func (m *mockRepository) GetByID(_ context.Context, id string) (*Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rules[id]; ok {
		return r.DeepCopy(), nil
	}
	return nil, ErrRuleNotFound
}

func (m *mockRepository) List(_ context.Context) ([]Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Rule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, *r.DeepCopy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockRepository) ListByPlant(ctx context.Context, plantID string) ([]Rule, error) {
	all, _ := m.List(ctx)
	var out []Rule
	for _, r := range all {
		if r.PlantID == plantID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockRepository) Create(_ context.Context, rule *Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if _, ok := m.rules[rule.ID]; ok {
		return ErrRuleExists
	}
	m.rules[rule.ID] = rule.DeepCopy()
	return nil
}

func (m *mockRepository) Update(_ context.Context, rule *Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	if _, ok := m.rules[rule.ID]; !ok {
		return ErrRuleNotFound
	}
	m.rules[rule.ID] = rule.DeepCopy()
	return nil
}

func (m *mockRepository) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[id]; !ok {
		return ErrRuleNotFound
	}
	delete(m.rules, id)
	return nil
}

func (m *mockRepository) AppendHistory(_ context.Context, e HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, e)
	return nil
}

func (m *mockRepository) ListHistory(_ context.Context, ruleID string, limit int) ([]HistoryEntry, error) {
	return m.filterHistory(func(e HistoryEntry) bool { return e.RuleID == ruleID }, limit), nil
}

func (m *mockRepository) ListPlantHistory(_ context.Context, plantID string, limit int) ([]HistoryEntry, error) {
	return m.filterHistory(func(e HistoryEntry) bool { return e.PlantID == plantID }, limit), nil
}

func (m *mockRepository) ListRecentHistory(_ context.Context, limit int) ([]HistoryEntry, error) {
	return m.filterHistory(func(HistoryEntry) bool { return true }, limit), nil
}

func (m *mockRepository) filterHistory(keep func(HistoryEntry) bool, limit int) []HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []HistoryEntry
	for i := len(m.history) - 1; i >= 0; i-- {
		if keep(m.history[i]) {
			out = append(out, m.history[i])
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (m *mockRepository) stored(id string) *Rule {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rules[id].DeepCopy()
}

// mockGateway records every command it receives.
type mockGateway struct {
	mu           sync.Mutex
	disconnected bool
	connErr      error
	sendErr      error
	commands     []float64
}

func (g *mockGateway) CheckConnection(_ context.Context, _ string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.disconnected, g.connErr
}

func (g *mockGateway) SendCommand(_ context.Context, _ string, amount float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sendErr != nil {
		return g.sendErr
	}
	g.commands = append(g.commands, amount)
	return nil
}

func (g *mockGateway) sent() []float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]float64(nil), g.commands...)
}

type mockSensors struct {
	mu      sync.Mutex
	reading plant.Reading
	err     error
	calls   int
}

func (s *mockSensors) LatestReading(_ context.Context, plantID string) (plant.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return plant.Reading{}, s.err
	}
	r := s.reading
	r.PlantID = plantID
	return r, nil
}

type mockPredictions struct {
	pred Prediction
	err  error
}

func (p *mockPredictions) PredictIrrigationNeed(context.Context, string) (Prediction, error) {
	return p.pred, p.err
}

type mockWarnings struct {
	analysis WarningAnalysis
	err      error
}

func (w *mockWarnings) AnalyzeAndAlert(context.Context, string) (WarningAnalysis, error) {
	return w.analysis, w.err
}

type mockWeather struct {
	days []plant.DayForecast
	err  error
}

func (w *mockWeather) Forecast(context.Context, int) ([]plant.DayForecast, error) {
	return w.days, w.err
}

type hubEvent struct {
	channel string
	payload any
}

type mockHub struct {
	mu     sync.Mutex
	events []hubEvent
}

func (h *mockHub) Broadcast(channel string, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, hubEvent{channel, payload})
}

func (h *mockHub) count(channel string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, e := range h.events {
		if e.channel == channel {
			n++
		}
	}
	return n
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func floatPtr(f float64) *float64 { return &f }
func intPtr(i int) *int           { return &i }

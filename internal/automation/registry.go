package automation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// runner is the live half of an enabled rule: its RunState, the loop's
// cancel function and a channel closed when the loop goroutine exits.
type runner struct {
	mu             sync.Mutex
	state          RunState
	deviceFailures int
	resetTimer     *time.Timer

	cancel context.CancelFunc
	done   chan struct{}
}

func newRunner(now time.Time, loc *time.Location) *runner {
	return &runner{
		state: RunState{
			Status:    StatusRunning,
			StartTime: now,
			DayStart:  midnightLocal(now, loc),
		},
		done: make(chan struct{}),
	}
}

// snapshot returns a copy of the runner state.
func (r *runner) snapshot() RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.clone()
}

// armConsecutiveReset zeroes ConsecutiveIrrigations after d. Caller holds r.mu.
func (r *runner) armConsecutiveReset(d time.Duration) {
	if r.resetTimer != nil {
		r.resetTimer.Stop()
	}
	r.resetTimer = time.AfterFunc(d, func() {
		r.mu.Lock()
		r.state.ConsecutiveIrrigations = 0
		r.mu.Unlock()
	})
}

// halt marks the runner stopped and releases its timer. Caller holds r.mu.
func (r *runner) halt() {
	r.state.Status = StatusStopped
	if r.resetTimer != nil {
		r.resetTimer.Stop()
		r.resetTimer = nil
	}
}

// Registry owns the rule cache and the runner arena.
//
// One RWMutex guards both maps. Rules are persisted through the Repository
// and handed out as deep copies.
type Registry struct {
	repo Repository

	mu      sync.RWMutex
	rules   map[string]*Rule
	runners map[string]*runner
	// parked keeps the daily totals of stopped runners so a restart on the
	// same day cannot reset the water budget.
	parked map[string]RunState

	logger Logger
}

// NewRegistry creates a new rule registry backed by repo.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:    repo,
		rules:   make(map[string]*Rule),
		runners: make(map[string]*runner),
		parked:  make(map[string]RunState),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all rules from the repository. Runners are untouched.
func (r *Registry) RefreshCache(ctx context.Context) error {
	rules, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.rules = make(map[string]*Rule, len(rules))
	for i := range rules {
		r.rules[rules[i].ID] = rules[i].DeepCopy()
	}

	r.logger.Info("rule cache refreshed", "count", len(rules))
	return nil
}

// GetRule returns a deep copy of the rule.
func (r *Registry) GetRule(id string) (*Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rule, ok := r.rules[id]
	if !ok {
		return nil, ErrRuleNotFound
	}
	return rule.DeepCopy(), nil
}

// ListRules returns deep copies of every rule ordered by creation time.
func (r *Registry) ListRules() []Rule {
	r.mu.RLock()
	rules := make([]Rule, 0, len(r.rules))
	for _, rule := range r.rules {
		rules = append(rules, *rule.DeepCopy())
	}
	r.mu.RUnlock()

	sort.Slice(rules, func(i, j int) bool {
		if !rules[i].CreatedAt.Equal(rules[j].CreatedAt) {
			return rules[i].CreatedAt.Before(rules[j].CreatedAt)
		}
		return rules[i].ID < rules[j].ID
	})
	return rules
}

// CreateRule persists and caches a new rule.
func (r *Registry) CreateRule(ctx context.Context, rule *Rule) error {
	r.mu.RLock()
	_, exists := r.rules[rule.ID]
	r.mu.RUnlock()
	if exists {
		return ErrRuleExists
	}

	if err := r.repo.Create(ctx, rule); err != nil {
		return fmt.Errorf("persisting rule: %w", err)
	}

	r.mu.Lock()
	r.rules[rule.ID] = rule.DeepCopy()
	r.mu.Unlock()
	return nil
}

// SaveRule persists an existing rule and replaces the cached copy.
func (r *Registry) SaveRule(ctx context.Context, rule *Rule) error {
	r.mu.RLock()
	_, exists := r.rules[rule.ID]
	r.mu.RUnlock()
	if !exists {
		return ErrRuleNotFound
	}

	if err := r.repo.Update(ctx, rule); err != nil {
		return fmt.Errorf("persisting rule: %w", err)
	}

	r.mu.Lock()
	r.rules[rule.ID] = rule.DeepCopy()
	r.mu.Unlock()
	return nil
}

// mutateRule applies fn to the cached rule under the lock and returns a copy
// of the result for the caller to persist.
func (r *Registry) mutateRule(id string, fn func(*Rule)) (*Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rule, ok := r.rules[id]
	if !ok {
		return nil, ErrRuleNotFound
	}
	fn(rule)
	rule.UpdatedAt = time.Now().UTC()
	return rule.DeepCopy(), nil
}

// persist writes a rule copy produced by mutateRule.
func (r *Registry) persist(ctx context.Context, rule *Rule) error {
	if err := r.repo.Update(ctx, rule); err != nil {
		return fmt.Errorf("persisting rule: %w", err)
	}
	return nil
}

// DeleteRule removes a rule from the repository and the cache.
func (r *Registry) DeleteRule(ctx context.Context, id string) error {
	r.mu.RLock()
	_, exists := r.rules[id]
	r.mu.RUnlock()
	if !exists {
		return ErrRuleNotFound
	}

	if err := r.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting rule: %w", err)
	}

	r.mu.Lock()
	delete(r.rules, id)
	delete(r.parked, id)
	r.mu.Unlock()
	return nil
}

// ─── Runner Arena ───────────────────────────────────────────────────────────

func (r *Registry) runner(id string) *runner {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.runners[id]
}

// attach stores run for id. It fails if a runner is already attached.
func (r *Registry) attach(id string, run *runner) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rules[id]; !ok {
		return ErrRuleNotFound
	}
	if _, ok := r.runners[id]; ok {
		return fmt.Errorf("automation %s already has a runner", id)
	}
	r.runners[id] = run
	return nil
}

// detach removes and returns the runner for id, or nil if none.
func (r *Registry) detach(id string) *runner {
	r.mu.Lock()
	defer r.mu.Unlock()

	run := r.runners[id]
	delete(r.runners, id)
	return run
}

// detachIf removes the runner for id only if it is still run.
func (r *Registry) detachIf(id string, run *runner) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.runners[id] != run {
		return false
	}
	delete(r.runners, id)
	return true
}

func (r *Registry) park(id string, state RunState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rules[id]; ok {
		r.parked[id] = state
	}
}

func (r *Registry) parkedState(id string) (RunState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.parked[id]
	return s, ok
}

func (r *Registry) runningIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.runners))
	for id := range r.runners {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ActiveCount returns the number of running automations.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.runners)
}

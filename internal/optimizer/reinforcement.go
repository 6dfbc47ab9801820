package optimizer

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/nerrad567/gray-logic-irrigation/internal/plant"
)

// Q-learning parameters.
const (
	DefaultLearningRate   = 0.1
	DefaultDiscount       = 0.9
	DefaultExploration    = 0.1
	DefaultEpisodes       = 100
	qValueLimit           = 100.0
	wetRainThreshold      = 60
	dryRainThreshold      = 20
	dryHumidityThreshold  = 50
	afternoonStartMinutes = 12 * 60
	eveningStartMinutes   = 17 * 60
)

// RLAction is one of the four watering choices.
type RLAction string

const (
	ActionNone   RLAction = "no_watering"
	ActionLight  RLAction = "light"
	ActionMedium RLAction = "medium"
	ActionHeavy  RLAction = "heavy"
)

// rlActions is the ordered action set; ties in the greedy policy go to the
// earlier (smaller) action.
var rlActions = []RLAction{ActionNone, ActionLight, ActionMedium, ActionHeavy}

var rlAmounts = map[RLAction]float64{
	ActionNone:   0,
	ActionLight:  50,
	ActionMedium: 150,
	ActionHeavy:  300,
}

// QTable maps a state key ("moisture|weather|time") to action values.
type QTable map[string]map[RLAction]float64

// Clone returns a deep copy.
func (q QTable) Clone() QTable {
	out := make(QTable, len(q))
	for s, actions := range q {
		row := make(map[RLAction]float64, len(actions))
		for a, v := range actions {
			row[a] = v
		}
		out[s] = row
	}
	return out
}

func (q QTable) get(state string, a RLAction) float64 {
	return q[state][a]
}

func (q QTable) set(state string, a RLAction, v float64) {
	row, ok := q[state]
	if !ok {
		row = make(map[RLAction]float64, len(rlActions))
		q[state] = row
	}
	row[a] = v
}

// best returns the highest-valued action for state.
func (q QTable) best(state string) (RLAction, float64) {
	bestA, bestV := rlActions[0], q.get(state, rlActions[0])
	for _, a := range rlActions[1:] {
		if v := q.get(state, a); v > bestV {
			bestA, bestV = a, v
		}
	}
	return bestA, bestV
}

// Discrete state components.
const (
	levelLow    = "low"
	levelMedium = "medium"
	levelHigh   = "high"
)

func moistureLevel(m float64, in Input) string {
	switch {
	case m < in.Profile.MoistureMin:
		return levelLow
	case m > in.Profile.MoistureMax:
		return levelHigh
	}
	return levelMedium
}

func weatherLevel(rain, humidity float64) string {
	switch {
	case rain > wetRainThreshold:
		return "wet"
	case rain < dryRainThreshold && humidity < dryHumidityThreshold:
		return "dry"
	}
	return "normal"
}

func timeOfDay(minutes int) string {
	switch {
	case minutes < afternoonStartMinutes:
		return "morning"
	case minutes < eveningStartMinutes:
		return "afternoon"
	}
	return "evening"
}

func stateKey(moisture, weather, tod string) string {
	return moisture + "|" + weather + "|" + tod
}

// reward scores one transition.
func reward(prev, next string, a RLAction) float64 {
	var r float64
	if next == levelMedium {
		r += 10
	}
	if prev == levelLow && next == levelHigh {
		r += 5
	}
	if next == levelLow {
		r -= 15
	}
	if prev == levelHigh && next == levelHigh {
		r -= 5
	}
	if prev == levelHigh && a == ActionHeavy {
		r -= 10
	}
	if prev == levelHigh && a == ActionNone {
		r += 3
	}
	return r
}

// Reinforcement plans with a per-plant Q-table trained on the moisture model.
//
// The table is loaded from Store when one exists, trained for Episodes
// simulated runs of the horizon and saved back. The trained table only
// replaces the loaded one if its greedy policy earns at least as much
// simulated reward.
type Reinforcement struct {
	Store  QTableStore
	Logger Logger

	LearningRate float64
	Discount     float64
	Exploration  float64
	Episodes     int

	// Seed fixes the random stream. Zero seeds from the clock.
	Seed uint64
}

// NewReinforcement returns a Reinforcement strategy with the default parameters.
func NewReinforcement(store QTableStore, logger Logger, seed uint64) *Reinforcement {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Reinforcement{
		Store:        store,
		Logger:       logger,
		LearningRate: DefaultLearningRate,
		Discount:     DefaultDiscount,
		Exploration:  DefaultExploration,
		Episodes:     DefaultEpisodes,
		Seed:         seed,
	}
}

// Generate implements ScheduleStrategy.
func (r *Reinforcement) Generate(ctx context.Context, in Input) (Schedule, error) {
	table, err := r.Train(ctx, in)
	if err != nil {
		return Schedule{}, err
	}
	return greedySchedule(table, in), nil
}

// Train loads, trains and saves the plant's table and returns it.
func (r *Reinforcement) Train(ctx context.Context, in Input) (QTable, error) {
	loaded := r.load(ctx, in.PlantID)
	table := loaded.Clone()
	rng := r.rand()

	for ep := 0; ep < r.Episodes; ep++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m := in.StartMoisture()
		for i := 0; i < in.Horizon; i++ {
			day := in.day(i)
			level := moistureLevel(m, in)
			state := decisionState(level, day, in, i)

			a := r.choose(rng, table, state)
			m = nextMoisture(m, rlAmounts[a], day)
			nextLevel := moistureLevel(m, in)

			var future float64
			if i+1 < in.Horizon {
				nd := in.day(i + 1)
				_, future = table.best(decisionState(nextLevel, nd, in, i+1))
			}

			q := table.get(state, a)
			q += r.LearningRate * (reward(level, nextLevel, a) + r.Discount*future - q)
			table.set(state, a, clamp(q, -qValueLimit, qValueLimit))
		}
	}

	if len(loaded) > 0 && GreedyReward(table, in) < GreedyReward(loaded, in) {
		r.Logger.Debug("q-learning: keeping stored table", "plant_id", in.PlantID)
		table = loaded
	}

	if r.Store != nil {
		if err := r.Store.Save(ctx, in.PlantID, table); err != nil {
			r.Logger.Warn("saving q-table failed", "plant_id", in.PlantID, "error", err)
		}
	}
	return table, nil
}

func (r *Reinforcement) load(ctx context.Context, plantID string) QTable {
	if r.Store == nil {
		return QTable{}
	}
	table, err := r.Store.Load(ctx, plantID)
	switch {
	case errors.Is(err, ErrQTableNotFound):
		return QTable{}
	case err != nil:
		r.Logger.Warn("loading q-table failed, starting fresh", "plant_id", plantID, "error", err)
		return QTable{}
	case table == nil:
		return QTable{}
	}
	return table
}

func (r *Reinforcement) choose(rng *rand.Rand, table QTable, state string) RLAction {
	if rng.Float64() < r.Exploration {
		return rlActions[rng.IntN(len(rlActions))]
	}
	a, _ := table.best(state)
	return a
}

func (r *Reinforcement) rand() *rand.Rand {
	seed := r.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.New(rand.NewPCG(seed, seed^0x6a09e667f3bcc909))
}

// decisionState is the state for the decision on day i. The time-of-day
// component follows the preferred time that day's watering would use.
func decisionState(level string, day plant.DayForecast, in Input, i int) string {
	return stateKey(level, weatherLevel(day.RainProbability, day.Humidity), timeOfDay(clockMinutes(in.decisionTime(i))))
}

// GreedyReward is the cumulative reward of following table's greedy policy
// over the horizon from the current moisture.
func GreedyReward(table QTable, in Input) float64 {
	var total float64
	m := in.StartMoisture()
	for i := 0; i < in.Horizon; i++ {
		day := in.day(i)
		level := moistureLevel(m, in)
		a, _ := table.best(decisionState(level, day, in, i))
		m = nextMoisture(m, rlAmounts[a], day)
		total += reward(level, moistureLevel(m, in), a)
	}
	return total
}

// greedySchedule turns the greedy policy into a schedule, one decision per
// day at that day's preferred time.
func greedySchedule(table QTable, in Input) Schedule {
	s := emptySchedule(in)
	m := in.StartMoisture()
	for i := range s.Days {
		day := in.day(i)
		level := moistureLevel(m, in)
		a, v := table.best(decisionState(level, day, in, i))
		if amount := rlAmounts[a]; amount > 0 {
			s.Days[i].Events = []Event{{
				Time:     in.decisionTime(i),
				Amount:   amount,
				Reason:   fmt.Sprintf("q-learning: %s (q=%.1f, moisture %s)", a, v, level),
				Priority: priorityFor(level),
			}}
		}
		m = nextMoisture(m, rlAmounts[a], day)
	}
	return s
}

func priorityFor(level string) Priority {
	switch level {
	case levelLow:
		return PriorityHigh
	case levelHigh:
		return PriorityLow
	}
	return PriorityMedium
}

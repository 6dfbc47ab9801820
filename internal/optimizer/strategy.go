package optimizer

import (
	"context"
	"sort"
)

// ScheduleStrategy generates an unclamped schedule for one plant.
// Implementations must be safe for concurrent use.
type ScheduleStrategy interface {
	Generate(ctx context.Context, in Input) (Schedule, error)
}

// StrategyFunc adapts a function to ScheduleStrategy.
type StrategyFunc func(ctx context.Context, in Input) (Schedule, error)

// Generate calls f.
func (f StrategyFunc) Generate(ctx context.Context, in Input) (Schedule, error) {
	return f(ctx, in)
}

// strategyTable maps strategy names to implementations.
type strategyTable map[string]ScheduleStrategy

func (t strategyTable) lookup(name string) (ScheduleStrategy, bool) {
	s, ok := t[name]
	return s, ok
}

func (t strategyTable) names() []string {
	out := make([]string, 0, len(t))
	for name := range t {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// emptySchedule returns a schedule with one empty day per horizon day.
func emptySchedule(in Input) Schedule {
	s := Schedule{Days: make([]DaySchedule, in.Horizon)}
	for i := range s.Days {
		s.Days[i] = DaySchedule{
			Day:    i,
			Date:   in.Start.AddDate(0, 0, i),
			Events: []Event{},
		}
	}
	return s
}

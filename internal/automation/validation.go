package automation

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// Validation constants.
const (
	maxTriggers = 50
	maxActions  = 20
	maxAmount   = 10000
	maxDays     = 7
)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sun":       time.Sunday,
	"mon":       time.Monday,
	"tue":       time.Tuesday,
	"wed":       time.Wednesday,
	"thu":       time.Thursday,
	"fri":       time.Friday,
	"sat":       time.Saturday,
}

// validateRule checks a complete rule and returns every problem found,
// or nil when the rule is valid.
func validateRule(r *Rule) *ValidationError {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(r.PlantID) == "" {
		add("plant id is required")
	}

	switch r.Mode {
	case ModeSmart, ModeScheduled, ModeSensorBased:
	default:
		add("mode %q is not one of smart, scheduled, sensor_based", r.Mode)
	}

	if len(r.Triggers) == 0 {
		add("at least one trigger is required")
	}
	if len(r.Triggers) > maxTriggers {
		add("at most %d triggers are allowed", maxTriggers)
	}
	if len(r.Actions) == 0 {
		add("at least one action is required")
	}
	if len(r.Actions) > maxActions {
		add("at most %d actions are allowed", maxActions)
	}

	var scheduleTriggers, sensorTriggers int
	for i, t := range r.Triggers {
		switch t.Type {
		case TriggerSchedule:
			scheduleTriggers++
			if _, err := scheduleFor(t); err != nil {
				add("trigger %d: %v", i, err)
			}
		case TriggerSensor:
			sensorTriggers++
			if strings.TrimSpace(t.Parameter) == "" {
				add("trigger %d: parameter is required", i)
			}
			switch t.Operator {
			case OpLessThan, OpGreaterThan, OpEquals:
			default:
				add("trigger %d: operator %q is not one of less_than, greater_than, equals", i, t.Operator)
			}
			if t.Action != "" && !validActionType(t.Action) {
				add("trigger %d: action %q is not supported", i, t.Action)
			}
		default:
			add("trigger %d: type %q is not one of schedule, sensor", i, t.Type)
		}
		if t.Amount < 0 || t.Amount > maxAmount {
			add("trigger %d: amount must be between 0 and %d", i, maxAmount)
		}
		if firesIrrigation(t) && t.Amount == 0 && r.defaultAmount() == 0 && r.Mode != ModeSmart {
			add("trigger %d: no amount and no irrigation action amount to fall back to", i)
		}
	}

	if r.Mode == ModeScheduled && scheduleTriggers == 0 {
		add("scheduled mode needs at least one schedule trigger")
	}
	if r.Mode == ModeSensorBased && sensorTriggers == 0 {
		add("sensor_based mode needs at least one sensor trigger")
	}

	for i, a := range r.Actions {
		if !validActionType(a.Type) {
			add("action %d: type %q is not one of irrigation, notification, alert", i, a.Type)
		}
		if a.Amount < 0 || a.Amount > maxAmount {
			add("action %d: amount must be between 0 and %d", i, maxAmount)
		}
	}

	c := r.Constraints
	if c.MaxAmountPerIrrigation < 0 {
		add("constraints: max amount per irrigation must not be negative")
	}
	if c.MaxIrrigationsPerDay < 0 {
		add("constraints: max irrigations per day must not be negative")
	}
	for i, w := range c.AllowedWindows {
		if _, _, err := parseClock(w.Start); err != nil {
			add("constraints: window %d start: %v", i, err)
		}
		if _, _, err := parseClock(w.End); err != nil {
			add("constraints: window %d end: %v", i, err)
		}
	}

	s := r.SafetyLimits
	if s.MaxWaterPerHour <= 0 {
		add("safety: max water per hour must be positive")
	}
	if s.MaxWaterPerDay <= 0 {
		add("safety: max water per day must be positive")
	}
	if s.MinTimeBetweenIrrigations.Duration < 0 {
		add("safety: min time between irrigations must not be negative")
	}
	if s.MaxConsecutiveIrrigations < 1 {
		add("safety: max consecutive irrigations must be at least 1")
	}

	if len(problems) == 0 {
		return nil
	}
	return &ValidationError{Problems: problems}
}

func validActionType(a ActionType) bool {
	switch a {
	case ActionIrrigation, ActionNotification, ActionAlert:
		return true
	}
	return false
}

// firesIrrigation reports whether a trigger results in an irrigation.
// Schedule triggers always irrigate; sensor triggers default to irrigation.
func firesIrrigation(t Trigger) bool {
	if t.Type == TriggerSchedule {
		return true
	}
	return t.Action == "" || t.Action == ActionIrrigation
}

// mergeSafetyLimits applies overrides on top of defaults.
func mergeSafetyLimits(defaults SafetyLimits, o *SafetyOverrides) SafetyLimits {
	out := defaults
	if o == nil {
		return out
	}
	if o.MaxWaterPerHour != nil {
		out.MaxWaterPerHour = *o.MaxWaterPerHour
	}
	if o.MaxWaterPerDay != nil {
		out.MaxWaterPerDay = *o.MaxWaterPerDay
	}
	if o.MinTimeBetweenIrrigations != nil {
		out.MinTimeBetweenIrrigations = *o.MinTimeBetweenIrrigations
	}
	if o.MaxConsecutiveIrrigations != nil {
		out.MaxConsecutiveIrrigations = *o.MaxConsecutiveIrrigations
	}
	return out
}

// parseClock parses "HH:MM" in 24-hour time.
func parseClock(s string) (hour, minute int, err error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, 0, fmt.Errorf("time %q is not HH:MM", s)
	}
	hour, err = strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("time %q has an invalid hour", s)
	}
	minute, err = strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("time %q has an invalid minute", s)
	}
	return hour, minute, nil
}

// scheduleFor compiles a schedule trigger into a cron schedule.
// "07:30" on monday and thursday becomes "30 7 * * 1,4".
func scheduleFor(t Trigger) (cron.Schedule, error) {
	hour, minute, err := parseClock(t.Time)
	if err != nil {
		return nil, err
	}

	dow := "*"
	if len(t.Days) > 0 {
		if len(t.Days) > maxDays*2 {
			return nil, fmt.Errorf("too many days")
		}
		seen := make(map[time.Weekday]bool, len(t.Days))
		nums := make([]int, 0, len(t.Days))
		for _, d := range t.Days {
			wd, ok := weekdays[strings.ToLower(strings.TrimSpace(d))]
			if !ok {
				return nil, fmt.Errorf("day %q is not a weekday", d)
			}
			if !seen[wd] {
				seen[wd] = true
				nums = append(nums, int(wd))
			}
		}
		sort.Ints(nums)
		parts := make([]string, len(nums))
		for i, n := range nums {
			parts[i] = strconv.Itoa(n)
		}
		dow = strings.Join(parts, ",")
	}

	sched, err := cron.ParseStandard(fmt.Sprintf("%d %d * * %s", minute, hour, dow))
	if err != nil {
		return nil, fmt.Errorf("compiling schedule: %w", err)
	}
	return sched, nil
}

// GenerateID creates a new UUID for a rule.
func GenerateID() string {
	return uuid.New().String()
}

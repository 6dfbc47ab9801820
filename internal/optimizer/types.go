package optimizer

import (
	"sort"
	"time"

	"github.com/nerrad567/gray-logic-irrigation/internal/plant"
)

// Strategy names.
const (
	AlgorithmRuleBased     = "rule_based"
	AlgorithmGenetic       = "genetic"
	AlgorithmReinforcement = "reinforcement"

	// AlgorithmFallback marks a result produced by the fallback path.
	AlgorithmFallback = "fallback"
)

// Defaults for options a caller leaves unset.
const (
	DefaultHorizon              = 7
	MaxHorizon                  = 30
	DefaultMaxWaterPerDay       = 1000
	DefaultMinIntervalHours     = 6
	DefaultMaxIrrigationsPerDay = 2

	fallbackTime   = "07:00"
	fallbackAmount = 200
	fallbackScore  = 60
)

// Priority ranks a scheduled event.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	}
	return 0
}

// Event is one planned irrigation.
type Event struct {
	Time     string   `json:"time"` // "HH:MM" site local time
	Amount   float64  `json:"amount"`
	Reason   string   `json:"reason,omitempty"`
	Priority Priority `json:"priority,omitempty"`
}

// DaySchedule holds the events of one day, ordered by time.
type DaySchedule struct {
	Day    int       `json:"day"`
	Date   time.Time `json:"date"`
	Events []Event   `json:"events"`
}

// Water is the total amount scheduled for the day.
func (d DaySchedule) Water() float64 {
	var total float64
	for _, e := range d.Events {
		total += e.Amount
	}
	return total
}

func (d *DaySchedule) sortEvents() {
	sort.SliceStable(d.Events, func(i, j int) bool {
		return clockMinutes(d.Events[i].Time) < clockMinutes(d.Events[j].Time)
	})
}

// Schedule is a multi-day irrigation plan.
type Schedule struct {
	Days []DaySchedule `json:"days"`
}

// TotalWater is the amount scheduled across all days.
func (s Schedule) TotalWater() float64 {
	var total float64
	for _, d := range s.Days {
		total += d.Water()
	}
	return total
}

// EventCount is the number of events across all days.
func (s Schedule) EventCount() int {
	n := 0
	for _, d := range s.Days {
		n += len(d.Events)
	}
	return n
}

// Clone returns a deep copy.
func (s Schedule) Clone() Schedule {
	out := Schedule{Days: make([]DaySchedule, len(s.Days))}
	for i, d := range s.Days {
		out.Days[i] = d
		out.Days[i].Events = append([]Event(nil), d.Events...)
	}
	return out
}

// TimeWindow is a daily "HH:MM"–"HH:MM" interval.
type TimeWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Constraints bound every generated schedule.
type Constraints struct {
	MaxWaterPerDay       float64      `json:"max_water_per_day"`
	MinIntervalHours     float64      `json:"min_interval_hours"`
	AllowedWindows       []TimeWindow `json:"allowed_windows"`
	MaxIrrigationsPerDay int          `json:"max_irrigations_per_day"`
}

// DefaultConstraints returns the constraints used when a caller sets none.
func DefaultConstraints() Constraints {
	return Constraints{
		MaxWaterPerDay:   DefaultMaxWaterPerDay,
		MinIntervalHours: DefaultMinIntervalHours,
		AllowedWindows: []TimeWindow{
			{Start: "06:00", End: "10:00"},
			{Start: "17:00", End: "20:00"},
		},
		MaxIrrigationsPerDay: DefaultMaxIrrigationsPerDay,
	}
}

// Conservation is how strongly schedules trade plant comfort for water.
type Conservation string

const (
	ConservationLow    Conservation = "low"
	ConservationMedium Conservation = "medium"
	ConservationHigh   Conservation = "high"
)

func (c Conservation) factor() float64 {
	switch c {
	case ConservationLow:
		return 1.1
	case ConservationHigh:
		return 0.85
	}
	return 1
}

// Preferences shape schedules without bounding them.
type Preferences struct {
	PreferredTimes []string     `json:"preferred_times"`
	Conservation   Conservation `json:"conservation"`
}

// DefaultPreferences returns the preferences used when a caller sets none.
func DefaultPreferences() Preferences {
	return Preferences{
		PreferredTimes: []string{"07:00", "18:00"},
		Conservation:   ConservationMedium,
	}
}

// Options are the caller's optimization parameters. Nil and zero fields
// take defaults.
type Options struct {
	Algorithm   string       `json:"algorithm,omitempty"`
	Horizon     int          `json:"horizon,omitempty"`
	Constraints *Constraints `json:"constraints,omitempty"`
	Preferences *Preferences `json:"preferences,omitempty"`
}

// normalize fills unset constraint and preference fields with defaults.
func normalize(c *Constraints, p *Preferences) (Constraints, Preferences) {
	dc, dp := DefaultConstraints(), DefaultPreferences()

	out := dc
	if c != nil {
		out = *c
		if out.MaxWaterPerDay <= 0 {
			out.MaxWaterPerDay = dc.MaxWaterPerDay
		}
		if out.MinIntervalHours < 0 {
			out.MinIntervalHours = dc.MinIntervalHours
		}
		if len(out.AllowedWindows) == 0 {
			out.AllowedWindows = dc.AllowedWindows
		}
		if out.MaxIrrigationsPerDay <= 0 {
			out.MaxIrrigationsPerDay = dc.MaxIrrigationsPerDay
		}
	}

	prefs := dp
	if p != nil {
		prefs = *p
		var valid []string
		for _, t := range prefs.PreferredTimes {
			if _, err := parseClock(t); err == nil {
				valid = append(valid, t)
			}
		}
		prefs.PreferredTimes = valid
		if len(prefs.PreferredTimes) == 0 {
			prefs.PreferredTimes = dp.PreferredTimes
		}
		switch prefs.Conservation {
		case ConservationLow, ConservationMedium, ConservationHigh:
		default:
			prefs.Conservation = dp.Conservation
		}
	}
	return out, prefs
}

// Input is everything a strategy needs to plan one plant.
type Input struct {
	PlantID     string                `json:"plant_id"`
	Profile     plant.Profile         `json:"profile"`
	Current     plant.Reading         `json:"current"`
	History     []plant.Reading       `json:"-"`
	Watering    []plant.WateringEvent `json:"watering,omitempty"`
	Forecast    []plant.DayForecast   `json:"forecast"`
	Constraints Constraints           `json:"constraints"`
	Preferences Preferences           `json:"preferences"`
	Horizon     int                   `json:"horizon"`
	Start       time.Time             `json:"start"`
}

// StartMoisture is the current soil moisture, falling back to the latest
// historical sample and then to the plant's optimum.
func (in Input) StartMoisture() float64 {
	if v, ok := in.Current.Value(plant.ParamSoilMoisture); ok {
		return v
	}
	for i := len(in.History) - 1; i >= 0; i-- {
		if v, ok := in.History[i].Value(plant.ParamSoilMoisture); ok {
			return v
		}
	}
	return in.Profile.OptimalMoisture()
}

// day returns the forecast for day i of the horizon.
func (in Input) day(i int) plant.DayForecast {
	if i < len(in.Forecast) {
		return in.Forecast[i]
	}
	return plant.NeutralForecast(in.Start.AddDate(0, 0, i), 1)[0]
}

// preferredTimes returns the first and last preferred times.
func (in Input) preferredTimes() (first, last string) {
	times := in.Preferences.PreferredTimes
	if len(times) == 0 {
		times = DefaultPreferences().PreferredTimes
	}
	return times[0], times[len(times)-1]
}

// decisionTime is the preferred time used on day i. Days cycle through the
// preferred times in order.
func (in Input) decisionTime(i int) string {
	times := in.Preferences.PreferredTimes
	if len(times) == 0 {
		times = DefaultPreferences().PreferredTimes
	}
	return times[i%len(times)]
}

// Performance scores a schedule. Every field is in [0, 100].
type Performance struct {
	WaterEfficiency     float64 `json:"water_efficiency"`
	PlantHealth         float64 `json:"plant_health"`
	CostEffectiveness   float64 `json:"cost_effectiveness"`
	EnvironmentalImpact float64 `json:"environmental_impact"`
	UserConvenience     float64 `json:"user_convenience"`
	OverallScore        float64 `json:"overall_score"`
}

// Recommendation is an actionable note derived from a low sub-score.
type Recommendation struct {
	Area    string `json:"area"`
	Message string `json:"message"`
}

// Result is the outcome of one optimization.
type Result struct {
	PlantID          string           `json:"plant_id"`
	Algorithm        string           `json:"algorithm"`
	Schedule         Schedule         `json:"schedule"`
	Performance      Performance      `json:"performance"`
	Recommendations  []Recommendation `json:"recommendations"`
	GeneratedAt      time.Time        `json:"generated_at"`
	NextOptimization time.Time        `json:"next_optimization"`

	// Error explains why the fallback schedule was returned.
	Error string `json:"error,omitempty"`
}

// Fallback reports whether the result is the fallback schedule.
func (r *Result) Fallback() bool {
	return r.Algorithm == AlgorithmFallback
}

// Record is one entry in the learning log.
type Record struct {
	PlantID      string    `json:"plant_id"`
	Algorithm    string    `json:"algorithm"`
	Input        Input     `json:"input"`
	Result       Result    `json:"result"`
	OverallScore float64   `json:"overall_score"`
	CreatedAt    time.Time `json:"created_at"`
}

package optimizer

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/nerrad567/gray-logic-irrigation/internal/plant"
)

// Soil model. Moisture is a percentage; water is in device units.
const (
	moisturePerUnit = 0.08 // moisture points gained per unit of water
	rainGainMax     = 10.0 // moisture points from a day of certain rain

	baseEvaporation = 4.0
	minEvaporation  = 1.0
	maxEvaporation  = 15.0

	minutesPerDay = 24 * 60
)

// moistureGain is the rise in soil moisture from amount units of water.
func moistureGain(amount float64) float64 {
	return amount * moisturePerUnit
}

// evaporation estimates the day's moisture loss from the weather.
func evaporation(day plant.DayForecast) float64 {
	e := baseEvaporation +
		0.4*(day.Temperature-20) +
		0.1*day.WindSpeed -
		0.05*(day.Humidity-50)
	return clamp(e, minEvaporation, maxEvaporation)
}

// rainGain is the expected moisture from rain.
func rainGain(day plant.DayForecast) float64 {
	return day.RainProbability / 100 * rainGainMax
}

// nextMoisture advances the running estimate by one day.
func nextMoisture(m, water float64, day plant.DayForecast) float64 {
	return clamp(m+moistureGain(water)+rainGain(day)-evaporation(day), 0, 100)
}

// hotAndDry reports a day that needs supplementary water.
func hotAndDry(day plant.DayForecast) bool {
	return day.Temperature > 28 && day.Humidity < 40 && day.RainProbability < 30
}

// bandDistance is how far m lies outside [min, max]; negative below.
func bandDistance(m float64, p plant.Profile) float64 {
	switch {
	case m < p.MoistureMin:
		return m - p.MoistureMin
	case m > p.MoistureMax:
		return m - p.MoistureMax
	}
	return 0
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// ─── Clock Helpers ──────────────────────────────────────────────────────────

// parseClock parses "HH:MM" into minutes after midnight.
func parseClock(s string) (int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("time %q is not HH:MM", s)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("time %q has an invalid hour", s)
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("time %q has an invalid minute", s)
	}
	return hour*60 + minute, nil
}

// clockMinutes is parseClock for already-validated times; invalid is 0.
func clockMinutes(s string) int {
	m, err := parseClock(s)
	if err != nil {
		return 0
	}
	return m
}

func formatClock(minutes int) string {
	minutes = ((minutes % minutesPerDay) + minutesPerDay) % minutesPerDay
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// window is a TimeWindow in minutes; end < start wraps midnight.
type window struct{ start, end int }

func parseWindows(ws []TimeWindow) []window {
	out := make([]window, 0, len(ws))
	for _, w := range ws {
		s, err := parseClock(w.Start)
		if err != nil {
			continue
		}
		e, err := parseClock(w.End)
		if err != nil {
			continue
		}
		out = append(out, window{s, e})
	}
	return out
}

func (w window) contains(m int) bool {
	if w.start <= w.end {
		return m >= w.start && m < w.end
	}
	return m >= w.start || m < w.end
}

// placeInWindow returns m if it lies in a window, otherwise the next
// window start after m, wrapping to the first window of the day.
func placeInWindow(m int, ws []window) int {
	if len(ws) == 0 {
		return m
	}
	best, bestDist := m, minutesPerDay+1
	for _, w := range ws {
		if w.contains(m) {
			return m
		}
		dist := ((w.start - m) + minutesPerDay) % minutesPerDay
		if dist < bestDist {
			best, bestDist = w.start, dist
		}
	}
	return best
}

// ─── Constraint Clamp ───────────────────────────────────────────────────────

// ApplyConstraints clamps a schedule to c. Per day, in order: events move
// into the next allowed window, events closer than MinIntervalHours to
// the previous one are merged into it, the lowest-priority events beyond
// MaxIrrigationsPerDay are dropped and the remaining amounts are scaled
// down to MaxWaterPerDay. The first event of a day is dropped if it falls
// within MinIntervalHours of the previous day's last event.
func ApplyConstraints(s Schedule, c Constraints) Schedule {
	out := s.Clone()
	windows := parseWindows(c.AllowedWindows)
	gap := int(c.MinIntervalHours * 60)
	lastPrev := -1 // minute of the previous day's last event, -1 if none

	for i := range out.Days {
		day := &out.Days[i]

		events := make([]Event, 0, len(day.Events))
		for _, e := range day.Events {
			if e.Amount <= 0 {
				continue
			}
			e.Time = formatClock(placeInWindow(clockMinutes(e.Time), windows))
			events = append(events, e)
		}
		day.Events = events
		day.sortEvents()

		var kept []Event
		for _, e := range day.Events {
			m := clockMinutes(e.Time)
			if len(kept) == 0 {
				if lastPrev >= 0 && gap > 0 && m+minutesPerDay-lastPrev < gap {
					continue
				}
				kept = append(kept, e)
				continue
			}
			prev := &kept[len(kept)-1]
			if gap > 0 && m-clockMinutes(prev.Time) < gap {
				prev.Amount += e.Amount
				if e.Priority.rank() > prev.Priority.rank() {
					prev.Priority = e.Priority
				}
				continue
			}
			kept = append(kept, e)
		}

		if c.MaxIrrigationsPerDay > 0 && len(kept) > c.MaxIrrigationsPerDay {
			kept = keepHighestPriority(kept, c.MaxIrrigationsPerDay)
		}

		total := 0.0
		for _, e := range kept {
			total += e.Amount
		}
		scale := 1.0
		if c.MaxWaterPerDay > 0 && total > c.MaxWaterPerDay {
			scale = c.MaxWaterPerDay / total
		}
		for j := range kept {
			kept[j].Amount = math.Floor(kept[j].Amount*scale*10) / 10
		}

		day.Events = kept
		if day.Events == nil {
			day.Events = []Event{}
		}
		if len(kept) > 0 {
			lastPrev = clockMinutes(kept[len(kept)-1].Time)
		} else {
			lastPrev = -1
		}
	}
	return out
}

// keepHighestPriority keeps n events, preferring higher priority and then
// earlier time, and returns them in time order.
func keepHighestPriority(events []Event, n int) []Event {
	idx := make([]int, len(events))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return events[idx[a]].Priority.rank() > events[idx[b]].Priority.rank()
	})
	keep := make(map[int]bool, n)
	for _, i := range idx[:n] {
		keep[i] = true
	}
	out := make([]Event, 0, n)
	for i, e := range events {
		if keep[i] {
			out = append(out, e)
		}
	}
	return out
}

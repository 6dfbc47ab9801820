package optimizer

import (
	"context"
	"fmt"
)

// Rule-based tuning.
const (
	rainScaleThreshold = 60  // percent; amounts are scaled down above this
	rainScaleFactor    = 0.3 // scale applied on rainy days
	rainSkipThreshold  = 40  // percent; a saturated plant skips the day above this

	minRuleAmount        = 50
	maxRuleAmountFactor  = 1.5 // of the daily water requirement
	supplementAmountRate = 0.5 // of the daily water requirement
)

// RuleBased walks the horizon day by day with a running moisture estimate.
//
// Per day, in order:
//  1. below the plant's minimum: irrigate enough to reach the optimum
//  2. hot and dry forecast: add an evening supplement
//  3. rain probability above 60%: scale the day's amounts by 0.3
//  4. above the maximum with rain probability above 40%: skip the day
type RuleBased struct{}

// Generate implements ScheduleStrategy.
func (RuleBased) Generate(ctx context.Context, in Input) (Schedule, error) {
	s := emptySchedule(in)
	p := in.Profile
	m := in.StartMoisture()
	factor := in.Preferences.Conservation.factor()

	morning, evening := in.preferredTimes()

	for i := range s.Days {
		if err := ctx.Err(); err != nil {
			return Schedule{}, err
		}
		day := in.day(i)
		var events []Event

		switch {
		case m > p.MoistureMax && day.RainProbability > rainSkipThreshold:
			// Saturated with rain coming.

		default:
			if m < p.MoistureMin {
				deficit := (p.OptimalMoisture() - m + evaporation(day)) / moisturePerUnit
				amount := clamp(deficit*factor, minRuleAmount, p.WaterRequirement*maxRuleAmountFactor)
				events = append(events, Event{
					Time:     morning,
					Amount:   round1(amount),
					Reason:   fmt.Sprintf("moisture %.1f below minimum %.1f", m, p.MoistureMin),
					Priority: PriorityHigh,
				})
			}

			if hotAndDry(day) {
				events = append(events, Event{
					Time:     evening,
					Amount:   round1(p.WaterRequirement * supplementAmountRate * factor),
					Reason:   fmt.Sprintf("hot and dry: %.0f°C, %.0f%% humidity", day.Temperature, day.Humidity),
					Priority: PriorityMedium,
				})
			}

			if day.RainProbability > rainScaleThreshold {
				for j := range events {
					events[j].Amount = round1(events[j].Amount * rainScaleFactor)
					events[j].Reason += fmt.Sprintf("; reduced for %.0f%% rain", day.RainProbability)
				}
			}
		}

		if events != nil {
			s.Days[i].Events = events
		}
		m = nextMoisture(m, s.Days[i].Water(), day)
	}

	return s, nil
}

package optimizer

import (
	"fmt"
	"math"
)

// Sub-score weights for the overall score.
const (
	weightEfficiency    = 0.25
	weightHealth        = 0.30
	weightCost          = 0.20
	weightEnvironmental = 0.15
	weightConvenience   = 0.10
)

// Recommendation thresholds.
const (
	efficiencyThreshold = 70
	costThreshold       = 70
	healthThreshold     = 80
)

// Evaluator tuning.
const (
	healthDistanceWeight = 3.0

	waterUnitCost = 0.01
	eventCost     = 0.5

	rainEventPenalty   = 10.0
	largeEventAmount   = 300.0
	largeEventPenalty  = 0.05 // per unit above largeEventAmount
	extraEventPenalty  = 10.0
	nightEventPenalty  = 5.0
	middayEventPenalty = 3.0

	nightStartHour = 22
	nightEndHour   = 5
)

// Recommendation areas.
const (
	AreaEfficiency = "water_efficiency"
	AreaHealth     = "plant_health"
	AreaCost       = "cost_effectiveness"
)

// Evaluate scores s against the plant and forecast in in and derives
// recommendations from the sub-scores that fall below their threshold.
func Evaluate(s Schedule, in Input) (Performance, []Recommendation) {
	p := Performance{
		WaterEfficiency:     round1(waterEfficiency(s, in)),
		PlantHealth:         round1(plantHealth(s, in)),
		CostEffectiveness:   round1(costEffectiveness(s, in)),
		EnvironmentalImpact: round1(environmentalImpact(s, in)),
		UserConvenience:     round1(userConvenience(s)),
	}
	p.OverallScore = round1(weightEfficiency*p.WaterEfficiency +
		weightHealth*p.PlantHealth +
		weightCost*p.CostEffectiveness +
		weightEnvironmental*p.EnvironmentalImpact +
		weightConvenience*p.UserConvenience)

	return p, recommend(p)
}

// waterEfficiency is the share of water not expected to be wasted by rain.
func waterEfficiency(s Schedule, in Input) float64 {
	total := s.TotalWater()
	if total == 0 {
		return 100
	}
	var wasted float64
	for i, d := range s.Days {
		day := in.day(i)
		if day.RainProbability > rainScaleThreshold {
			wasted += d.Water() * day.RainProbability / 100
		}
	}
	return clamp(100*(1-wasted/total), 0, 100)
}

// plantHealth follows the moisture trajectory and penalizes the average
// distance from the plant's band.
func plantHealth(s Schedule, in Input) float64 {
	if len(s.Days) == 0 {
		return 100
	}
	m := in.StartMoisture()
	var dist float64
	for i, d := range s.Days {
		m = nextMoisture(m, d.Water(), in.day(i))
		dist += math.Abs(bandDistance(m, in.Profile))
	}
	return clamp(100-healthDistanceWeight*dist/float64(len(s.Days)), 0, 100)
}

// costEffectiveness compares the schedule's water and operating cost to a
// baseline of one event per day at the plant's daily requirement.
func costEffectiveness(s Schedule, in Input) float64 {
	if len(s.Days) == 0 {
		return 100
	}
	cost := waterUnitCost*s.TotalWater() + eventCost*float64(s.EventCount())
	baseline := float64(len(s.Days)) * (waterUnitCost*in.Profile.WaterRequirement + eventCost)
	if cost <= baseline {
		return 100
	}
	if baseline <= 0 {
		return 0
	}
	return clamp(100*baseline/cost, 0, 100)
}

func environmentalImpact(s Schedule, in Input) float64 {
	score := 100.0
	for i, d := range s.Days {
		rainy := in.day(i).RainProbability > rainScaleThreshold
		for _, e := range d.Events {
			if rainy {
				score -= rainEventPenalty
			}
			if e.Amount > largeEventAmount {
				score -= largeEventPenalty * (e.Amount - largeEventAmount)
			}
		}
	}
	return clamp(score, 0, 100)
}

func userConvenience(s Schedule) float64 {
	score := 100.0
	for _, d := range s.Days {
		if extra := len(d.Events) - DefaultMaxIrrigationsPerDay; extra > 0 {
			score -= extraEventPenalty * float64(extra)
		}
		for _, e := range d.Events {
			hour := clockMinutes(e.Time) / 60
			switch {
			case hour >= nightStartHour || hour < nightEndHour:
				score -= nightEventPenalty
			case hour >= 11 && hour < 15:
				score -= middayEventPenalty
			}
		}
	}
	return clamp(score, 0, 100)
}

func recommend(p Performance) []Recommendation {
	recs := []Recommendation{}
	if p.WaterEfficiency < efficiencyThreshold {
		recs = append(recs, Recommendation{
			Area:    AreaEfficiency,
			Message: fmt.Sprintf("Water efficiency is %.0f%%: avoid irrigating on days with a high chance of rain.", p.WaterEfficiency),
		})
	}
	if p.PlantHealth < healthThreshold {
		recs = append(recs, Recommendation{
			Area:    AreaHealth,
			Message: fmt.Sprintf("Predicted plant health is %.0f%%: soil moisture leaves the optimal band, adjust amounts or frequency.", p.PlantHealth),
		})
	}
	if p.CostEffectiveness < costThreshold {
		recs = append(recs, Recommendation{
			Area:    AreaCost,
			Message: fmt.Sprintf("Cost effectiveness is %.0f%%: combine small irrigations or reduce total volume.", p.CostEffectiveness),
		})
	}
	return recs
}

// fallbackPerformance is the fixed mid-range record of a fallback result.
func fallbackPerformance() Performance {
	return Performance{
		WaterEfficiency:     fallbackScore,
		PlantHealth:         fallbackScore,
		CostEffectiveness:   fallbackScore,
		EnvironmentalImpact: fallbackScore,
		UserConvenience:     fallbackScore,
		OverallScore:        fallbackScore,
	}
}

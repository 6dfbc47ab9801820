package advisor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/nerrad567/gray-logic-irrigation/internal/automation"
	"github.com/nerrad567/gray-logic-irrigation/internal/plant"
)

// ErrNoMoisture is returned when the latest reading has no soil moisture.
var ErrNoMoisture = errors.New("advisor: reading has no soil moisture")

// Alert categories besides automation.CategoryRootRot.
const (
	CategoryDrought    = "drought"
	CategoryHeatStress = "heat_stress"
	CategoryColdStress = "cold_stress"
)

const (
	// Moisture this far above the band counts as saturated.
	saturationMargin = 10.0
	// Saturated hourly samples needed before root rot turns critical.
	rootRotSamples = 3
	// Degrees above the band at which heat stress turns critical.
	heatCriticalMargin = 5.0

	// Moisture within this distance below optimal needs no water.
	comfortMargin = 5.0
	// Moisture within this distance below optimal is low urgency.
	lowUrgencyMargin = 10.0

	maxAmountFactor = 1.5
	heatAmountBoost = 1.1
)

// DataSource supplies plant profiles and readings. *sensors.Service
// implements it.
type DataSource interface {
	PlantInfo(ctx context.Context, plantID string) (plant.Profile, error)
	LatestReading(ctx context.Context, plantID string) (plant.Reading, error)
	HistoricalData(ctx context.Context, plantID string, days int) ([]plant.Reading, error)
}

// Advisor implements the prediction and warning providers.
type Advisor struct {
	data DataSource
	now  func() time.Time
}

// New creates an Advisor over data.
func New(data DataSource) *Advisor {
	return &Advisor{data: data, now: time.Now}
}

// PredictIrrigationNeed grades how far the plant's moisture has fallen below
// the middle of its band and recommends an amount to close the gap.
func (a *Advisor) PredictIrrigationNeed(ctx context.Context, plantID string) (automation.Prediction, error) {
	profile, reading, moisture, err := a.current(ctx, plantID)
	if err != nil {
		return automation.Prediction{}, err
	}

	optimal := profile.OptimalMoisture()
	deficit := optimal - moisture

	pred := automation.Prediction{
		Urgency:    urgencyFor(profile, moisture),
		Confidence: a.confidence(reading.Timestamp),
	}
	if deficit <= comfortMargin {
		pred.Urgency = automation.UrgencyLow
		return pred, nil
	}

	pred.NeedsWatering = true
	band := optimal - profile.MoistureMin
	if band <= 0 {
		band = 1
	}
	amount := profile.WaterRequirement * deficit / band
	if t, ok := reading.Value(plant.ParamTemperature); ok && t > profile.TemperatureMax {
		amount *= heatAmountBoost
	}
	pred.RecommendedAmount = math.Round(math.Min(amount, profile.WaterRequirement*maxAmountFactor))
	return pred, nil
}

func urgencyFor(p plant.Profile, moisture float64) automation.Urgency {
	switch {
	case moisture < p.MoistureMin*0.5:
		return automation.UrgencyCritical
	case moisture < p.MoistureMin:
		return automation.UrgencyHigh
	case moisture < p.OptimalMoisture()-lowUrgencyMargin:
		return automation.UrgencyMedium
	default:
		return automation.UrgencyLow
	}
}

// confidence decays with the age of the reading.
func (a *Advisor) confidence(at time.Time) float64 {
	age := a.now().Sub(at)
	switch {
	case at.IsZero():
		return 0.5
	case age <= time.Hour:
		return 0.9
	case age <= 6*time.Hour:
		return 0.75
	default:
		return 0.5
	}
}

// AnalyzeAndAlert checks the plant for saturation, drought and temperature
// stress. Alerts are ordered critical first.
func (a *Advisor) AnalyzeAndAlert(ctx context.Context, plantID string) (automation.WarningAnalysis, error) {
	profile, reading, moisture, err := a.current(ctx, plantID)
	if err != nil {
		return automation.WarningAnalysis{}, err
	}

	history, err := a.data.HistoricalData(ctx, plantID, 1)
	if err != nil {
		return automation.WarningAnalysis{}, fmt.Errorf("loading history: %w", err)
	}

	var critical, other []automation.Alert
	add := func(al automation.Alert) {
		if al.Severity == automation.SeverityCritical {
			critical = append(critical, al)
			return
		}
		other = append(other, al)
	}

	saturated := profile.MoistureMax + saturationMargin
	if moisture > saturated {
		if sustained(history, saturated, rootRotSamples) {
			add(automation.Alert{
				Severity: automation.SeverityCritical,
				Category: automation.CategoryRootRot,
				Message:  fmt.Sprintf("soil moisture above %.0f%% for %d hours", saturated, rootRotSamples),
			})
		} else {
			add(automation.Alert{
				Severity: automation.SeverityWarning,
				Category: automation.CategoryRootRot,
				Message:  fmt.Sprintf("soil moisture %.0f%% is saturated", moisture),
			})
		}
	}

	switch {
	case moisture < profile.MoistureMin*0.5:
		add(automation.Alert{
			Severity: automation.SeverityCritical,
			Category: CategoryDrought,
			Message:  fmt.Sprintf("soil moisture %.0f%% is critically low", moisture),
		})
	case moisture < profile.MoistureMin:
		add(automation.Alert{
			Severity: automation.SeverityWarning,
			Category: CategoryDrought,
			Message:  fmt.Sprintf("soil moisture %.0f%% is below %.0f%%", moisture, profile.MoistureMin),
		})
	}

	if t, ok := reading.Value(plant.ParamTemperature); ok {
		switch {
		case t > profile.TemperatureMax+heatCriticalMargin:
			add(automation.Alert{
				Severity: automation.SeverityCritical,
				Category: CategoryHeatStress,
				Message:  fmt.Sprintf("temperature %.1f°C is far above %.0f°C", t, profile.TemperatureMax),
			})
		case t > profile.TemperatureMax:
			add(automation.Alert{
				Severity: automation.SeverityWarning,
				Category: CategoryHeatStress,
				Message:  fmt.Sprintf("temperature %.1f°C is above %.0f°C", t, profile.TemperatureMax),
			})
		case t < profile.TemperatureMin:
			add(automation.Alert{
				Severity: automation.SeverityWarning,
				Category: CategoryColdStress,
				Message:  fmt.Sprintf("temperature %.1f°C is below %.0f°C", t, profile.TemperatureMin),
			})
		}
	}

	return automation.WarningAnalysis{Alerts: append(append([]automation.Alert{}, critical...), other...)}, nil
}

// sustained reports whether the last n history samples all exceed limit.
func sustained(history []plant.Reading, limit float64, n int) bool {
	count := 0
	for i := len(history) - 1; i >= 0 && count < n; i-- {
		v, ok := history[i].Value(plant.ParamSoilMoisture)
		if !ok {
			continue
		}
		if v <= limit {
			return false
		}
		count++
	}
	return count == n
}

func (a *Advisor) current(ctx context.Context, plantID string) (plant.Profile, plant.Reading, float64, error) {
	profile, err := a.data.PlantInfo(ctx, plantID)
	if err != nil {
		return plant.Profile{}, plant.Reading{}, 0, fmt.Errorf("loading plant: %w", err)
	}
	reading, err := a.data.LatestReading(ctx, plantID)
	if err != nil {
		return plant.Profile{}, plant.Reading{}, 0, fmt.Errorf("loading reading: %w", err)
	}
	moisture, ok := reading.Value(plant.ParamSoilMoisture)
	if !ok {
		return plant.Profile{}, plant.Reading{}, 0, fmt.Errorf("%w: plant %s", ErrNoMoisture, plantID)
	}
	return profile, reading, moisture, nil
}

package plant

import (
	"strings"
	"time"
)

// Canonical sensor parameter names.
const (
	ParamSoilMoisture = "soil_moisture"
	ParamTemperature  = "temperature"
	ParamHumidity     = "humidity"
	ParamLight        = "light"
	ParamPH           = "ph"
)

// Profile describes a plant's optimal growing band.
type Profile struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Species          string    `json:"species,omitempty"`
	MoistureMin      float64   `json:"moisture_min"`
	MoistureMax      float64   `json:"moisture_max"`
	TemperatureMin   float64   `json:"temperature_min"`
	TemperatureMax   float64   `json:"temperature_max"`
	WaterRequirement float64   `json:"water_requirement"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// DefaultProfile returns the band used when a plant has no stored profile.
func DefaultProfile(id string) Profile {
	return Profile{
		ID:               id,
		Name:             id,
		MoistureMin:      40,
		MoistureMax:      70,
		TemperatureMin:   15,
		TemperatureMax:   30,
		WaterRequirement: 200,
	}
}

// OptimalMoisture is the midpoint of the moisture band.
func (p Profile) OptimalMoisture() float64 {
	return (p.MoistureMin + p.MoistureMax) / 2
}

// Reading is one sensor sample set for a plant.
type Reading struct {
	PlantID   string             `json:"plant_id"`
	Values    map[string]float64 `json:"values"`
	Timestamp time.Time          `json:"timestamp"`
}

// Value looks a parameter up by name. "soilMoisture", "soil_moisture" and
// "SoilMoisture" all resolve to the same value.
func (r Reading) Value(param string) (float64, bool) {
	if r.Values == nil {
		return 0, false
	}
	if v, ok := r.Values[param]; ok {
		return v, true
	}
	want := NormalizeParam(param)
	for k, v := range r.Values {
		if NormalizeParam(k) == want {
			return v, true
		}
	}
	return 0, false
}

// SoilMoisture returns the soil moisture value, or def when absent.
func (r Reading) SoilMoisture(def float64) float64 {
	if v, ok := r.Value(ParamSoilMoisture); ok {
		return v
	}
	return def
}

// NormalizeParam lowercases a parameter name and strips separators.
func NormalizeParam(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, c := range strings.ToLower(name) {
		if c == '_' || c == '-' || c == ' ' {
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

// WateringEvent is one delivered irrigation.
type WateringEvent struct {
	PlantID   string    `json:"plant_id"`
	Amount    float64   `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

// DayForecast is one day of weather forecast.
// RainProbability is a percentage in [0, 100].
type DayForecast struct {
	Date            time.Time `json:"date"`
	Temperature     float64   `json:"temperature"`
	Humidity        float64   `json:"humidity"`
	RainProbability float64   `json:"rain_probability"`
	WindSpeed       float64   `json:"wind_speed"`
}

// NeutralForecast returns n days of mild, dry weather starting at from.
// It stands in when no forecast source is available.
func NeutralForecast(from time.Time, n int) []DayForecast {
	out := make([]DayForecast, n)
	for i := range out {
		out[i] = DayForecast{
			Date:            from.AddDate(0, 0, i),
			Temperature:     20,
			Humidity:        60,
			RainProbability: 20,
			WindSpeed:       5,
		}
	}
	return out
}

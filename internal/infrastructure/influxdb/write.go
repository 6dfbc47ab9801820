package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-irrigation/internal/plant"
)

// Measurement and tag names.
const (
	MeasurementReadings   = "sensor_readings"
	MeasurementIrrigation = "irrigation_events"

	TagPlantID = "plant_id"
	TagSource  = "source"

	FieldAmount = "amount"
)

// WriteReading writes one sensor reading, one field per parameter.
//
// Parameter names are normalised so soilMoisture and soil_moisture land in
// the same field. A reading without values is dropped.
//
// Example:
//
//	client.WriteReading(plant.Reading{
//	    PlantID:   "fern-01",
//	    Values:    map[string]float64{"soil_moisture": 41.5},
//	    Timestamp: time.Now(),
//	})
func (c *Client) WriteReading(r plant.Reading) {
	if !c.IsConnected() || len(r.Values) == 0 {
		return
	}

	fields := make(map[string]interface{}, len(r.Values))
	for k, v := range r.Values {
		fields[canonicalParam(k)] = v
	}
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementReadings,
		map[string]string{TagPlantID: r.PlantID},
		fields,
		ts,
	))
}

// WriteIrrigation records water delivered to a plant. source names what
// triggered the delivery.
func (c *Client) WriteIrrigation(plantID, source string, amount float64, ts time.Time) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementIrrigation,
		map[string]string{TagPlantID: plantID, TagSource: source},
		map[string]interface{}{FieldAmount: amount},
		ts,
	))
}

var canonicalParams = func() map[string]string {
	m := make(map[string]string)
	for _, p := range []string{
		plant.ParamSoilMoisture,
		plant.ParamTemperature,
		plant.ParamHumidity,
		plant.ParamLight,
		plant.ParamPH,
	} {
		m[plant.NormalizeParam(p)] = p
	}
	return m
}()

// canonicalParam maps known parameter spellings onto their canonical name.
func canonicalParam(name string) string {
	if p, ok := canonicalParams[plant.NormalizeParam(name)]; ok {
		return p
	}
	return name
}

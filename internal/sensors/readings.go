package sensors

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/nerrad567/gray-logic-irrigation/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-irrigation/internal/plant"
)

// latestLookback bounds how far back a "latest" reading may be.
const latestLookback = 24 * time.Hour

// historyWindow is the aggregation window for historical readings.
const historyWindow = time.Hour

// TimeSeries is the subset of *influxdb.Client used for reading queries.
type TimeSeries interface {
	Query(ctx context.Context, flux string) ([]influxdb.Row, error)
	Bucket() string
}

// InfluxReadings queries sensor readings from InfluxDB.
type InfluxReadings struct {
	ts TimeSeries
}

// NewInfluxReadings creates a reading source over ts.
func NewInfluxReadings(ts TimeSeries) *InfluxReadings {
	return &InfluxReadings{ts: ts}
}

// Latest returns the most recent value of every parameter reported for
// plantID within the last day, merged into one reading stamped with the
// newest sample time.
func (r *InfluxReadings) Latest(ctx context.Context, plantID string) (plant.Reading, error) {
	flux := fmt.Sprintf(`from(bucket: %s)
  |> range(start: -%s)
  |> filter(fn: (r) => r._measurement == %s and r.%s == %s)
  |> last()`,
		influxdb.String(r.ts.Bucket()),
		fluxDuration(latestLookback),
		influxdb.String(influxdb.MeasurementReadings),
		influxdb.TagPlantID,
		influxdb.String(plantID),
	)

	rows, err := r.ts.Query(ctx, flux)
	if err != nil {
		return plant.Reading{}, fmt.Errorf("querying latest reading: %w", err)
	}
	if len(rows) == 0 {
		return plant.Reading{}, fmt.Errorf("%w: plant %s", ErrNoReadings, plantID)
	}

	reading := plant.Reading{PlantID: plantID, Values: make(map[string]float64, len(rows))}
	for _, row := range rows {
		reading.Values[row.Field] = row.Value
		if row.Time.After(reading.Timestamp) {
			reading.Timestamp = row.Time
		}
	}
	return reading, nil
}

// History returns hourly mean readings for the last days, oldest first.
func (r *InfluxReadings) History(ctx context.Context, plantID string, days int) ([]plant.Reading, error) {
	if days <= 0 {
		return []plant.Reading{}, nil
	}

	flux := fmt.Sprintf(`from(bucket: %s)
  |> range(start: -%s)
  |> filter(fn: (r) => r._measurement == %s and r.%s == %s)
  |> aggregateWindow(every: %s, fn: mean, createEmpty: false)`,
		influxdb.String(r.ts.Bucket()),
		fluxDuration(time.Duration(days)*24*time.Hour),
		influxdb.String(influxdb.MeasurementReadings),
		influxdb.TagPlantID,
		influxdb.String(plantID),
		fluxDuration(historyWindow),
	)

	rows, err := r.ts.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("querying reading history: %w", err)
	}
	return mergeByTime(plantID, rows), nil
}

// mergeByTime folds one-field rows into readings keyed by timestamp.
func mergeByTime(plantID string, rows []influxdb.Row) []plant.Reading {
	byTime := make(map[int64]*plant.Reading)
	for _, row := range rows {
		key := row.Time.UnixNano()
		rd, ok := byTime[key]
		if !ok {
			rd = &plant.Reading{PlantID: plantID, Values: make(map[string]float64), Timestamp: row.Time}
			byTime[key] = rd
		}
		rd.Values[row.Field] = row.Value
	}

	out := make([]plant.Reading, 0, len(byTime))
	for _, rd := range byTime {
		out = append(out, *rd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// fluxDuration renders d as a Flux duration literal in whole hours or
// minutes.
func fluxDuration(d time.Duration) string {
	if d%time.Hour == 0 {
		return fmt.Sprintf("%dh", int64(d/time.Hour))
	}
	return fmt.Sprintf("%dm", int64(d/time.Minute))
}

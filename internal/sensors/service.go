package sensors

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-irrigation/internal/plant"
)

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ReadingSource answers reading queries. *InfluxReadings implements it.
type ReadingSource interface {
	Latest(ctx context.Context, plantID string) (plant.Reading, error)
	History(ctx context.Context, plantID string, days int) ([]plant.Reading, error)
}

// WateringSource lists delivered irrigations, newest first.
type WateringSource interface {
	List(ctx context.Context, plantID string, limit int) ([]plant.WateringEvent, error)
}

// LatestCache holds the newest reading per plant. *Ingestor implements it.
type LatestCache interface {
	Latest(plantID string) (plant.Reading, bool)
}

// Dependencies holds the data sources of a Service. Readings and Cache
// may be nil; Plants and Watering are required.
type Dependencies struct {
	Plants   PlantRepository
	Readings ReadingSource
	Watering WateringSource
	Cache    LatestCache
}

// Service implements automation.SensorDataProvider and optimizer.DataSource.
type Service struct {
	deps   Dependencies
	logger Logger
}

// NewService creates a Service.
func NewService(deps Dependencies, logger Logger) *Service {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Service{deps: deps, logger: logger}
}

// PlantInfo returns the plant's stored profile, or the default band when the
// plant has none.
func (s *Service) PlantInfo(ctx context.Context, plantID string) (plant.Profile, error) {
	p, err := s.deps.Plants.Get(ctx, plantID)
	if errors.Is(err, ErrPlantNotFound) {
		s.logger.Debug("no stored profile, using defaults", "plant_id", plantID)
		return plant.DefaultProfile(plantID), nil
	}
	if err != nil {
		return plant.Profile{}, err
	}
	return p, nil
}

// LatestReading returns the newest reading from InfluxDB or the in-memory
// cache, whichever is more recent. A failing InfluxDB query is tolerated
// while the cache can answer.
func (s *Service) LatestReading(ctx context.Context, plantID string) (plant.Reading, error) {
	var (
		stored   plant.Reading
		storeErr error
		haveDB   bool
	)
	if s.deps.Readings != nil {
		stored, storeErr = s.deps.Readings.Latest(ctx, plantID)
		haveDB = storeErr == nil
	} else {
		storeErr = ErrNoReadings
	}

	var cached plant.Reading
	haveCache := false
	if s.deps.Cache != nil {
		cached, haveCache = s.deps.Cache.Latest(plantID)
	}

	switch {
	case haveDB && haveCache:
		if cached.Timestamp.After(stored.Timestamp) {
			return cached, nil
		}
		return stored, nil
	case haveDB:
		return stored, nil
	case haveCache:
		if !errors.Is(storeErr, ErrNoReadings) {
			s.logger.Warn("reading store unavailable, serving cached reading", "plant_id", plantID, "error", storeErr)
		}
		return cached, nil
	case errors.Is(storeErr, ErrNoReadings):
		return plant.Reading{}, fmt.Errorf("%w: plant %s", ErrNoReadings, plantID)
	default:
		return plant.Reading{}, storeErr
	}
}

// HistoricalData returns hourly readings for the last days, oldest first.
func (s *Service) HistoricalData(ctx context.Context, plantID string, days int) ([]plant.Reading, error) {
	if s.deps.Readings == nil {
		return []plant.Reading{}, nil
	}
	return s.deps.Readings.History(ctx, plantID, days)
}

// WateringHistory returns up to limit delivered irrigations, newest first.
func (s *Service) WateringHistory(ctx context.Context, plantID string, limit int) ([]plant.WateringEvent, error) {
	return s.deps.Watering.List(ctx, plantID, limit)
}

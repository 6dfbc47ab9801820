package sensors

import "errors"

var (
	// ErrPlantNotFound is returned when a plant profile does not exist.
	ErrPlantNotFound = errors.New("sensors: plant not found")

	// ErrPlantExists is returned when creating a plant whose ID is taken.
	ErrPlantExists = errors.New("sensors: plant already exists")

	// ErrInvalidPlant is returned when a plant profile fails validation.
	ErrInvalidPlant = errors.New("sensors: invalid plant")

	// ErrNoReadings is returned when a plant has no recent reading.
	ErrNoReadings = errors.New("sensors: no readings")

	// ErrInvalidReading is returned for a sensor message without values.
	ErrInvalidReading = errors.New("sensors: invalid reading")
)

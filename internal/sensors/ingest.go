package sensors

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-irrigation/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-irrigation/internal/plant"
)

const sensorQoS = 1

// Subscriber is the subset of *mqtt.Client the Ingestor uses.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// ReadingWriter stores readings. *influxdb.Client implements it.
type ReadingWriter interface {
	WriteReading(r plant.Reading)
}

// sensorMessage is the payload field sensors publish.
//
//	{"values": {"soil_moisture": 41.5, "temperature": 22}, "timestamp": "2026-06-01T07:00:00Z"}
type sensorMessage struct {
	Values    map[string]float64 `json:"values"`
	Timestamp time.Time          `json:"timestamp"`
}

// Ingestor consumes sensor readings from MQTT.
//
// Thread Safety: all exported methods are safe for concurrent use.
type Ingestor struct {
	bus    Subscriber
	topics mqtt.Topics
	writer ReadingWriter
	logger Logger
	now    func() time.Time

	mu     sync.RWMutex
	latest map[string]plant.Reading
}

// NewIngestor creates an ingestor. writer may be nil when InfluxDB is
// disabled; readings are then only kept in memory.
func NewIngestor(bus Subscriber, topics mqtt.Topics, writer ReadingWriter, logger Logger) *Ingestor {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Ingestor{
		bus:    bus,
		topics: topics,
		writer: writer,
		logger: logger,
		now:    time.Now,
		latest: make(map[string]plant.Reading),
	}
}

// Start subscribes to every plant's sensor topic.
func (in *Ingestor) Start() error {
	if err := in.bus.Subscribe(in.topics.AllSensors(), sensorQoS, in.handle); err != nil {
		return fmt.Errorf("subscribing to sensors: %w", err)
	}
	return nil
}

// Stop unsubscribes from sensor topics.
func (in *Ingestor) Stop() error {
	return in.bus.Unsubscribe(in.topics.AllSensors())
}

// Latest returns the newest reading received for plantID.
func (in *Ingestor) Latest(plantID string) (plant.Reading, bool) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	r, ok := in.latest[plantID]
	return r, ok
}

func (in *Ingestor) handle(topic string, payload []byte) error {
	plantID := mqtt.PlantFromTopic(topic)
	if plantID == "" {
		return fmt.Errorf("%w: no plant in topic %q", ErrInvalidReading, topic)
	}

	var msg sensorMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidReading, err)
	}
	if len(msg.Values) == 0 {
		return fmt.Errorf("%w: plant %s sent no values", ErrInvalidReading, plantID)
	}

	r := plant.Reading{PlantID: plantID, Values: msg.Values, Timestamp: msg.Timestamp}
	if r.Timestamp.IsZero() {
		r.Timestamp = in.now().UTC()
	}

	in.mu.Lock()
	prev, ok := in.latest[plantID]
	if !ok || !r.Timestamp.Before(prev.Timestamp) {
		in.latest[plantID] = r
	}
	in.mu.Unlock()

	if in.writer != nil {
		in.writer.WriteReading(r)
	}
	in.logger.Debug("sensor reading received", "plant_id", plantID, "values", len(r.Values))
	return nil
}

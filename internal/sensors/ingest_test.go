package sensors

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-irrigation/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-irrigation/internal/plant"
)

type fakeSubscriber struct {
	handlers map[string]mqtt.MessageHandler
}

func (f *fakeSubscriber) Subscribe(topic string, _ byte, h mqtt.MessageHandler) error {
	if f.handlers == nil {
		f.handlers = make(map[string]mqtt.MessageHandler)
	}
	f.handlers[topic] = h
	return nil
}

func (f *fakeSubscriber) Unsubscribe(topic string) error {
	delete(f.handlers, topic)
	return nil
}

type recordingWriter struct {
	mu       sync.Mutex
	readings []plant.Reading
}

func (w *recordingWriter) WriteReading(r plant.Reading) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.readings = append(w.readings, r)
}

func startIngestor(t *testing.T, writer ReadingWriter) (*Ingestor, mqtt.MessageHandler) {
	t.Helper()
	bus := &fakeSubscriber{}
	in := NewIngestor(bus, mqtt.Topics{}, writer, nil)
	in.now = func() time.Time { return t0 }
	if err := in.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h := bus.handlers["irrigation/sensors/+"]
	if h == nil {
		t.Fatal("no subscription on irrigation/sensors/+")
	}
	return in, h
}

func TestIngestor_Handle(t *testing.T) {
	writer := &recordingWriter{}
	in, handle := startIngestor(t, writer)

	err := handle("irrigation/sensors/fern-01", []byte(`{"values":{"soilMoisture":41.5,"temperature":22}}`))
	if err != nil {
		t.Fatalf("handle() error = %v", err)
	}

	r, ok := in.Latest("fern-01")
	if !ok {
		t.Fatal("Latest() ok = false")
	}
	if r.SoilMoisture(0) != 41.5 || !r.Timestamp.Equal(t0) {
		t.Errorf("Latest() = %+v", r)
	}
	if len(writer.readings) != 1 || writer.readings[0].PlantID != "fern-01" {
		t.Errorf("written = %+v", writer.readings)
	}
}

func TestIngestor_KeepsNewest(t *testing.T) {
	in, handle := startIngestor(t, nil)

	_ = handle("irrigation/sensors/fern-01", []byte(`{"values":{"soil_moisture":40},"timestamp":"2026-06-01T08:00:00Z"}`))
	_ = handle("irrigation/sensors/fern-01", []byte(`{"values":{"soil_moisture":55},"timestamp":"2026-06-01T06:00:00Z"}`))

	r, _ := in.Latest("fern-01")
	if r.SoilMoisture(0) != 40 {
		t.Errorf("SoilMoisture = %v, want the 08:00 value 40", r.SoilMoisture(0))
	}
}

func TestIngestor_RejectsBadPayloads(t *testing.T) {
	writer := &recordingWriter{}
	_, handle := startIngestor(t, writer)

	for name, payload := range map[string]string{
		"not json":  `{`,
		"no values": `{"values":{}}`,
	} {
		if err := handle("irrigation/sensors/fern-01", []byte(payload)); !errors.Is(err, ErrInvalidReading) {
			t.Errorf("%s: error = %v, want ErrInvalidReading", name, err)
		}
	}
	if len(writer.readings) != 0 {
		t.Errorf("bad payloads were written: %+v", writer.readings)
	}
}

func TestIngestor_Stop(t *testing.T) {
	bus := &fakeSubscriber{}
	in := NewIngestor(bus, mqtt.Topics{Prefix: "garden"}, nil, nil)
	if err := in.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if bus.handlers["garden/sensors/+"] == nil {
		t.Fatal("prefix not applied")
	}
	if err := in.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if len(bus.handlers) != 0 {
		t.Error("still subscribed after Stop")
	}
}

package sensors

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubGateway struct{ err error }

func (s stubGateway) CheckConnection(context.Context, string) (bool, error) { return true, nil }
func (s stubGateway) SendCommand(context.Context, string, float64) error    { return s.err }

type irrigationCall struct {
	plantID, source string
	amount          float64
	ts              time.Time
}

type recordingIrrigations struct{ calls []irrigationCall }

func (r *recordingIrrigations) WriteIrrigation(plantID, source string, amount float64, ts time.Time) {
	r.calls = append(r.calls, irrigationCall{plantID, source, amount, ts})
}

func TestDeliveryRecorder(t *testing.T) {
	ctx := context.Background()
	w := &recordingIrrigations{}

	rec := NewDeliveryRecorder(stubGateway{}, w)
	rec.now = func() time.Time { return t0 }
	if err := rec.SendCommand(ctx, "fern", 120); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	if len(w.calls) != 1 || w.calls[0] != (irrigationCall{"fern", SourceAutomation, 120, t0}) {
		t.Errorf("writes = %+v", w.calls)
	}

	boom := errors.New("ack timeout")
	failing := NewDeliveryRecorder(stubGateway{err: boom}, w)
	if err := failing.SendCommand(ctx, "fern", 120); !errors.Is(err, boom) {
		t.Errorf("SendCommand() error = %v, want %v", err, boom)
	}
	if len(w.calls) != 1 {
		t.Error("failed command was recorded")
	}

	if ok, _ := rec.CheckConnection(ctx, "fern"); !ok {
		t.Error("CheckConnection not forwarded")
	}
}

package sensors

import (
	"context"
	"time"
)

// DeviceGateway sends irrigation commands. automation.DeviceGateway has the
// same shape.
type DeviceGateway interface {
	CheckConnection(ctx context.Context, plantID string) (bool, error)
	SendCommand(ctx context.Context, plantID string, amount float64) error
}

// IrrigationWriter stores delivered irrigations. *influxdb.Client
// implements it.
type IrrigationWriter interface {
	WriteIrrigation(plantID, source string, amount float64, ts time.Time)
}

// SourceAutomation tags irrigations dispatched by the automation engine.
const SourceAutomation = "automation"

// DeliveryRecorder wraps a DeviceGateway and writes every acknowledged
// command to the time-series store.
type DeliveryRecorder struct {
	DeviceGateway
	writer IrrigationWriter
	now    func() time.Time
}

// NewDeliveryRecorder wraps gw.
func NewDeliveryRecorder(gw DeviceGateway, writer IrrigationWriter) *DeliveryRecorder {
	return &DeliveryRecorder{DeviceGateway: gw, writer: writer, now: time.Now}
}

// SendCommand forwards to the wrapped gateway and records a success.
func (d *DeliveryRecorder) SendCommand(ctx context.Context, plantID string, amount float64) error {
	if err := d.DeviceGateway.SendCommand(ctx, plantID, amount); err != nil {
		return err
	}
	d.writer.WriteIrrigation(plantID, SourceAutomation, amount, d.now())
	return nil
}

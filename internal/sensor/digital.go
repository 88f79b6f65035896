package sensor

import (
	"fmt"
	"log/slog"

	"batterycounter/internal/hw"

	"periph.io/x/conn/v3/gpio"
)

// levelReader is the part of gpio.PinIn the digital sensor needs
type levelReader interface {
	Read() gpio.Level
}

// DigitalSensor reads an active-low input: an IR break-beam receiver pulls
// the line LOW while the beam is interrupted, a limit switch wired to ground
// pulls it LOW while pressed.
type DigitalSensor struct {
	name    string
	pin     levelReader
	release func() error
}

// NewDigitalSensor wraps an already configured input
func NewDigitalSensor(name string, pin levelReader) *DigitalSensor {
	return &DigitalSensor{name: name, pin: pin}
}

// OpenDigital configures pinName as a pulled-up input
func OpenDigital(kind, pinName string, logger *slog.Logger) (*DigitalSensor, error) {
	p, err := hw.Pin(pinName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSensorUnavailable, err)
	}
	if err := p.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("%w: configure %s as input: %v", ErrSensorUnavailable, pinName, err)
	}

	logger.Info("digital sensor initialised",
		"component", "sensor",
		"kind", kind,
		"pin", pinName,
	)

	return &DigitalSensor{
		name:    fmt.Sprintf("%s(%s)", kind, pinName),
		pin:     p,
		release: p.Halt,
	}, nil
}

// Name returns the sensor name
func (s *DigitalSensor) Name() string {
	return s.name
}

// Triggered reports whether the line is currently pulled low
func (s *DigitalSensor) Triggered() (bool, error) {
	return s.pin.Read() == gpio.Low, nil
}

// Close releases the pin
func (s *DigitalSensor) Close() error {
	if s.release == nil {
		return nil
	}
	return s.release()
}

var _ Sensor = (*DigitalSensor)(nil)

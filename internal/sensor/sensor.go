// Package sensor turns raw proximity readings into debounced "item passed"
// detections. Hardware variants (IR break-beam, limit switch, VL6180X
// time-of-flight) share one Sensor capability and are selected by kind.
package sensor

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"batterycounter/internal/clock"
)

var (
	// ErrSensor marks a recoverable read failure; callers skip the poll.
	ErrSensor = errors.New("sensor read failed")
	// ErrSensorUnavailable marks a sensor that could not be opened at all.
	ErrSensorUnavailable = errors.New("sensor unavailable")
)

// Sensor reports whether the raw signal is currently in its triggered state
// (beam broken, switch pressed, object closer than the threshold).
type Sensor interface {
	Name() string
	Triggered() (bool, error)
	Close() error
}

// DistanceReporter is implemented by range-finding sensors
type DistanceReporter interface {
	// LastDistance returns the most recent distance in millimetres, or -1
	LastDistance() int
}

// Debouncer accepts a rising edge of the triggered signal only when at least
// window has elapsed since the previously accepted edge.
type Debouncer struct {
	window       time.Duration
	lastState    bool
	lastAccepted time.Time
	hasAccepted  bool
}

// NewDebouncer creates a debouncer with the given minimum spacing
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{window: window}
}

// Observe feeds one sample taken at now and reports whether it completes
// an accepted detection. now must come from a monotonic clock reading.
func (d *Debouncer) Observe(triggered bool, now time.Time) bool {
	edge := triggered && !d.lastState
	d.lastState = triggered
	if !edge {
		return false
	}
	if d.hasAccepted && now.Sub(d.lastAccepted) < d.window {
		return false
	}
	d.lastAccepted = now
	d.hasAccepted = true
	return true
}

// Detector combines a Sensor with a Debouncer
type Detector struct {
	mu       sync.Mutex
	sensor   Sensor
	debounce *Debouncer
	clock    clock.Clock
}

// NewDetector creates a detector polling s with the given debounce window
func NewDetector(s Sensor, window time.Duration, c clock.Clock) *Detector {
	if c == nil {
		c = clock.Real{}
	}
	return &Detector{
		sensor:   s,
		debounce: NewDebouncer(window),
		clock:    c,
	}
}

// Detect polls the sensor once. It returns true at most once per physical
// pass. Read failures are returned wrapped in ErrSensor and leave the edge
// state untouched.
func (d *Detector) Detect() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	triggered, err := d.sensor.Triggered()
	if err != nil {
		if errors.Is(err, ErrSensor) {
			return false, err
		}
		return false, fmt.Errorf("%w: %s: %v", ErrSensor, d.sensor.Name(), err)
	}
	return d.debounce.Observe(triggered, d.clock.Now()), nil
}

// LastDistance returns the sensor's last distance, or -1 for digital sensors
func (d *Detector) LastDistance() int {
	if r, ok := d.sensor.(DistanceReporter); ok {
		return r.LastDistance()
	}
	return -1
}

// Name returns the underlying sensor name
func (d *Detector) Name() string {
	return d.sensor.Name()
}

// Close releases the sensor hardware
func (d *Detector) Close() error {
	return d.sensor.Close()
}

// Package indicator drives the activity LED that blinks on each detection.
package indicator

import (
	"fmt"
	"sync"

	"batterycounter/internal/hw"

	"periph.io/x/conn/v3/gpio"
)

// Indicator is a single on/off light
type Indicator interface {
	Set(on bool) error
	Close() error
}

// outPin is satisfied by gpio.PinOut
type outPin interface {
	Out(l gpio.Level) error
}

// LED is an indicator on a GPIO output
type LED struct {
	mu      sync.Mutex
	pin     outPin
	on      bool
	release func() error
}

// NewLED wraps an output pin
func NewLED(pin outPin) *LED {
	return &LED{pin: pin}
}

// OpenLED configures pinName as an output, initially off
func OpenLED(pinName string) (*LED, error) {
	p, err := hw.Pin(pinName)
	if err != nil {
		return nil, err
	}
	if err := p.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("configure %s as output: %w", pinName, err)
	}
	return &LED{pin: p, release: p.Halt}, nil
}

// Set switches the LED; repeated calls with the same state do not touch
// the pin
func (l *LED) Set(on bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if on == l.on {
		return nil
	}
	if err := l.pin.Out(gpio.Level(on)); err != nil {
		return err
	}
	l.on = on
	return nil
}

// On reports the current state
func (l *LED) On() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.on
}

// Close turns the LED off and releases the pin
func (l *LED) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	err := l.pin.Out(gpio.Low)
	l.on = false
	if l.release != nil {
		if rerr := l.release(); err == nil {
			err = rerr
		}
	}
	return err
}

// Nop is an indicator without hardware
type Nop struct{}

// Set does nothing
func (Nop) Set(bool) error { return nil }

// Close does nothing
func (Nop) Close() error { return nil }

var (
	_ Indicator = (*LED)(nil)
	_ Indicator = Nop{}
)

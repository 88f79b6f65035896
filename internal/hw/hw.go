// Package hw wraps periph.io host initialisation and pin lookup shared by
// the sensor, display and indicator drivers.
package hw

import (
	"errors"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

var (
	ErrHostInit    = errors.New("hardware host initialisation failed")
	ErrPinNotFound = errors.New("gpio pin not found")
)

var (
	initOnce sync.Once
	initErr  error
)

// Init loads the periph.io host drivers once per process
func Init() error {
	initOnce.Do(func() {
		if _, err := host.Init(); err != nil {
			initErr = fmt.Errorf("%w: %v", ErrHostInit, err)
		}
	})
	return initErr
}

// Pin looks up a GPIO pin by name (e.g. "GPIO17")
func Pin(name string) (gpio.PinIO, error) {
	if err := Init(); err != nil {
		return nil, err
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrPinNotFound, name)
	}
	return p, nil
}

package sensor

import "time"

// Sensor kinds
const (
	KindBreakBeam   = "breakbeam"
	KindLimitSwitch = "limitswitch"
	KindToF         = "tof"
	KindSimulated   = "simulated"
)

// Config selects and parameterises a sensor
type Config struct {
	Kind           string `json:"kind" yaml:"kind" toml:"kind"`
	Pin            string `json:"pin" yaml:"pin" toml:"pin"`                                     // digital input pin (breakbeam, limitswitch)
	DebounceMS     int    `json:"debounce_ms" yaml:"debounce_ms" toml:"debounce_ms"`
	I2CBus         string `json:"i2c_bus" yaml:"i2c_bus" toml:"i2c_bus"`                         // tof: bus name, "" = first bus
	I2CAddr        uint16 `json:"i2c_addr" yaml:"i2c_addr" toml:"i2c_addr"`                      // tof: 7-bit address
	XShutPin       string `json:"xshut_pin" yaml:"xshut_pin" toml:"xshut_pin"`                   // tof: enable pin, optional
	ThresholdMM    int    `json:"threshold_mm" yaml:"threshold_mm" toml:"threshold_mm"`          // tof: trigger distance
	SimulatePeriod int    `json:"simulate_period" yaml:"simulate_period" toml:"simulate_period"` // simulated: polls per item
}

// DefaultConfig returns the break-beam wiring of the reference device
func DefaultConfig() Config {
	return Config{
		Kind:           KindBreakBeam,
		Pin:            "GPIO15",
		DebounceMS:     150,
		I2CBus:         "1",
		I2CAddr:        0x29,
		XShutPin:       "GPIO17",
		ThresholdMM:    15,
		SimulatePeriod: 40,
	}
}

// Debounce returns the debounce window as a duration
func (c Config) Debounce() time.Duration {
	return time.Duration(c.DebounceMS) * time.Millisecond
}

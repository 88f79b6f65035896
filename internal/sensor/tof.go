package sensor

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"batterycounter/internal/hw"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
)

// VL6180X register map (16-bit addresses)
const (
	regModelID           = 0x000
	regInterruptClear    = 0x015
	regFreshOutOfReset   = 0x016
	regSysRangeStart     = 0x018
	regInterruptStatus   = 0x04F
	regRangeValue        = 0x062
	vl6180xModelID       = 0xB4
	rangeReadyBit        = 0x04
	clearAllInterrupts   = 0x07
	defaultRangeDeadline = 100 * time.Millisecond
)

// Mandatory private register settings from the VL6180X application note,
// applied once after power-up.
var vl6180xInitSequence = []struct {
	reg uint16
	val byte
}{
	{0x0207, 0x01}, {0x0208, 0x01}, {0x0096, 0x00}, {0x0097, 0xFD},
	{0x00E3, 0x00}, {0x00E4, 0x04}, {0x00E5, 0x02}, {0x00E6, 0x01},
	{0x00E7, 0x03}, {0x00F5, 0x02}, {0x00D9, 0x05}, {0x00DB, 0xCE},
	{0x00DC, 0x03}, {0x00DD, 0xF8}, {0x009F, 0x00}, {0x00A3, 0x3C},
	{0x00B7, 0x00}, {0x00BB, 0x3C}, {0x00B2, 0x09}, {0x00CA, 0x09},
	{0x0198, 0x01}, {0x01B0, 0x17}, {0x01AD, 0x00}, {0x00FF, 0x05},
	{0x0100, 0x05}, {0x0199, 0x05}, {0x01A6, 0x1B}, {0x01AC, 0x3E},
	{0x01A7, 0x1F}, {0x0030, 0x00},
}

var (
	ErrRangeTimeout = errors.New("range measurement not ready")
	ErrWrongModel   = errors.New("unexpected VL6180X model id")
)

// registerBus is satisfied by *i2c.Dev
type registerBus interface {
	Tx(w, r []byte) error
}

// VL6180X is a time-of-flight range sensor. It counts as triggered while an
// object is closer than the threshold.
type VL6180X struct {
	dev          registerBus
	thresholdMM  int
	deadline     time.Duration
	lastDistance atomic.Int32
	closers      []func() error
}

// NewVL6180X initialises the sensor on dev
func NewVL6180X(dev registerBus, thresholdMM int) (*VL6180X, error) {
	s := &VL6180X{
		dev:         dev,
		thresholdMM: thresholdMM,
		deadline:    defaultRangeDeadline,
	}
	s.lastDistance.Store(-1)

	model, err := s.readReg(regModelID)
	if err != nil {
		return nil, fmt.Errorf("%w: read model id: %v", ErrSensorUnavailable, err)
	}
	if model != vl6180xModelID {
		return nil, fmt.Errorf("%w: %w: got 0x%02X", ErrSensorUnavailable, ErrWrongModel, model)
	}

	if err := s.loadSettings(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSensorUnavailable, err)
	}
	return s, nil
}

// OpenVL6180X powers the sensor through XSHUT, opens the I2C bus and
// initialises the device
func OpenVL6180X(cfg Config, logger *slog.Logger) (*VL6180X, error) {
	var closers []func() error
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if err := hw.Init(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSensorUnavailable, err)
	}

	if cfg.XShutPin != "" {
		xshut, err := hw.Pin(cfg.XShutPin)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSensorUnavailable, err)
		}
		if err := xshut.Out(gpio.High); err != nil {
			return nil, fmt.Errorf("%w: raise xshut: %v", ErrSensorUnavailable, err)
		}
		closers = append(closers, func() error {
			err := xshut.Out(gpio.Low)
			xshut.Halt()
			return err
		})
		// Boot time after XSHUT goes high
		time.Sleep(100 * time.Millisecond)
	}

	bus, err := i2creg.Open(cfg.I2CBus)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("%w: open i2c bus %q: %v", ErrSensorUnavailable, cfg.I2CBus, err)
	}
	closers = append(closers, bus.Close)

	s, err := NewVL6180X(&i2c.Dev{Bus: bus, Addr: cfg.I2CAddr}, cfg.ThresholdMM)
	if err != nil {
		cleanup()
		return nil, err
	}
	s.closers = closers

	logger.Info("time-of-flight sensor initialised",
		"component", "sensor",
		"i2c_bus", cfg.I2CBus,
		"address", fmt.Sprintf("0x%02X", cfg.I2CAddr),
		"threshold_mm", cfg.ThresholdMM,
	)
	return s, nil
}

func (s *VL6180X) loadSettings() error {
	fresh, err := s.readReg(regFreshOutOfReset)
	if err != nil {
		return fmt.Errorf("read reset flag: %w", err)
	}
	if fresh != 1 {
		return nil
	}
	for _, kv := range vl6180xInitSequence {
		if err := s.writeReg(kv.reg, kv.val); err != nil {
			return fmt.Errorf("write 0x%04X: %w", kv.reg, err)
		}
	}
	return s.writeReg(regFreshOutOfReset, 0x00)
}

func (s *VL6180X) writeReg(reg uint16, val byte) error {
	return s.dev.Tx([]byte{byte(reg >> 8), byte(reg), val}, nil)
}

func (s *VL6180X) readReg(reg uint16) (byte, error) {
	r := make([]byte, 1)
	if err := s.dev.Tx([]byte{byte(reg >> 8), byte(reg)}, r); err != nil {
		return 0, err
	}
	return r[0], nil
}

// ReadDistance performs a single-shot range measurement in millimetres
func (s *VL6180X) ReadDistance() (int, error) {
	if err := s.writeReg(regSysRangeStart, 0x01); err != nil {
		return -1, err
	}

	deadline := time.Now().Add(s.deadline)
	for {
		status, err := s.readReg(regInterruptStatus)
		if err != nil {
			return -1, err
		}
		if status&rangeReadyBit != 0 {
			break
		}
		if time.Now().After(deadline) {
			return -1, ErrRangeTimeout
		}
		time.Sleep(time.Millisecond)
	}

	distance, err := s.readReg(regRangeValue)
	if err != nil {
		return -1, err
	}
	if err := s.writeReg(regInterruptClear, clearAllInterrupts); err != nil {
		return -1, err
	}
	return int(distance), nil
}

// Name returns the sensor name
func (s *VL6180X) Name() string {
	return KindToF
}

// Triggered reports whether an object is within the threshold
func (s *VL6180X) Triggered() (bool, error) {
	d, err := s.ReadDistance()
	if err != nil {
		s.lastDistance.Store(-1)
		return false, fmt.Errorf("%w: %s: %v", ErrSensor, KindToF, err)
	}
	s.lastDistance.Store(int32(d))
	return d > 0 && d < s.thresholdMM, nil
}

// LastDistance returns the last measured distance, or -1
func (s *VL6180X) LastDistance() int {
	return int(s.lastDistance.Load())
}

// Close lowers XSHUT and closes the bus
func (s *VL6180X) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

var (
	_ Sensor           = (*VL6180X)(nil)
	_ DistanceReporter = (*VL6180X)(nil)
)

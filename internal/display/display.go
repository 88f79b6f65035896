// Package display renders the running battery count and its environmental
// impact. Variants log the readout, drive an ST7789 TFT panel, or do
// nothing.
package display

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"batterycounter/internal/core"
)

// Display kinds
const (
	KindLog    = "log"
	KindST7789 = "st7789"
	KindNone   = "none"
)

var (
	ErrUnknownKind = errors.New("unknown display kind")
	// ErrUnavailable means the display hardware could not be initialised
	ErrUnavailable = errors.New("display unavailable")
)

// Readout is what the display shows
type Readout struct {
	Total      int64
	Soil       float64
	Water      float64
	Unsynced   int64
	DistanceMM int // -1 when unknown
}

// Compose derives the readout from the last remote stats plus the events
// still waiting in the local queue
func Compose(remote core.Stats, unsynced int64, factors core.ImpactFactors, distanceMM int) Readout {
	s := factors.Advance(remote, unsynced)
	return Readout{
		Total:      s.Total,
		Soil:       s.Soil,
		Water:      s.Water,
		Unsynced:   unsynced,
		DistanceMM: distanceMM,
	}
}

// Lines formats the readout as short display lines
func (r Readout) Lines(showDistance bool) []string {
	lines := []string{
		"BATTERIES",
		fmt.Sprintf("%d", r.Total),
		fmt.Sprintf("SOIL  %.2f KG", r.Soil),
		fmt.Sprintf("WATER %.2f L", r.Water),
	}
	if r.Unsynced > 0 {
		lines = append(lines, fmt.Sprintf("PENDING %d", r.Unsynced))
	}
	if showDistance {
		if r.DistanceMM >= 0 {
			lines = append(lines, fmt.Sprintf("DIST %d MM", r.DistanceMM))
		} else {
			lines = append(lines, "DIST --")
		}
	}
	return lines
}

// Display renders readouts
type Display interface {
	Show(r Readout) error
	Close() error
}

// Config selects and parameterises a display
type Config struct {
	Kind         string `json:"kind" yaml:"kind" toml:"kind"`
	Monotonic    bool   `json:"monotonic" yaml:"monotonic" toml:"monotonic"`
	ShowDistance bool   `json:"show_distance" yaml:"show_distance" toml:"show_distance"`
	SPIPort      string `json:"spi_port" yaml:"spi_port" toml:"spi_port"`
	DCPin        string `json:"dc_pin" yaml:"dc_pin" toml:"dc_pin"`
	RSTPin       string `json:"rst_pin" yaml:"rst_pin" toml:"rst_pin"`
	BLPin        string `json:"bl_pin" yaml:"bl_pin" toml:"bl_pin"`
}

// DefaultConfig logs the readout
func DefaultConfig() Config {
	return Config{
		Kind:   KindLog,
		DCPin:  "GPIO9",
		RSTPin: "GPIO25",
	}
}

// Open builds the display selected by cfg.Kind, wrapped in a high-water
// filter when cfg.Monotonic is set
func Open(cfg Config, logger *slog.Logger) (Display, error) {
	var d Display
	switch cfg.Kind {
	case KindLog, "":
		d = NewLogDisplay(logger, cfg.ShowDistance)
	case KindNone:
		d = Nop{}
	case KindST7789:
		panel, err := OpenST7789(cfg, logger)
		if err != nil {
			return nil, err
		}
		d = panel
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, cfg.Kind)
	}

	if cfg.Monotonic {
		d = NewMonotonic(d)
	}
	return d, nil
}

// Nop discards every readout
type Nop struct{}

// Show does nothing
func (Nop) Show(Readout) error { return nil }

// Close does nothing
func (Nop) Close() error { return nil }

// LogDisplay writes each changed readout as a structured log line
type LogDisplay struct {
	mu           sync.Mutex
	logger       *slog.Logger
	showDistance bool
	last         Readout
	shown        bool
}

// NewLogDisplay creates a log-backed display
func NewLogDisplay(logger *slog.Logger, showDistance bool) *LogDisplay {
	return &LogDisplay{
		logger:       logger.With("component", "display"),
		showDistance: showDistance,
	}
}

// Show logs r unless it equals the previous readout
func (d *LogDisplay) Show(r Readout) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.shown && r == d.last {
		return nil
	}
	d.last = r
	d.shown = true

	attrs := []any{
		"total", r.Total,
		"soil_kg", r.Soil,
		"water_l", r.Water,
		"unsynced", r.Unsynced,
	}
	if d.showDistance {
		attrs = append(attrs, "distance_mm", r.DistanceMM)
	}
	d.logger.Info("readout", attrs...)
	return nil
}

// Close does nothing
func (d *LogDisplay) Close() error { return nil }

// Monotonic never shows a lower total, soil or water figure than it has
// shown before. Remote stats can briefly lag behind events that were
// already counted locally.
type Monotonic struct {
	mu   sync.Mutex
	next Display
	high Readout
}

// NewMonotonic wraps next
func NewMonotonic(next Display) *Monotonic {
	return &Monotonic{next: next}
}

// Show forwards r raised to the high-water marks
func (m *Monotonic) Show(r Readout) error {
	m.mu.Lock()
	if r.Total > m.high.Total {
		m.high.Total = r.Total
	}
	if r.Soil > m.high.Soil {
		m.high.Soil = r.Soil
	}
	if r.Water > m.high.Water {
		m.high.Water = r.Water
	}
	out := r
	out.Total = m.high.Total
	out.Soil = m.high.Soil
	out.Water = m.high.Water
	m.mu.Unlock()

	return m.next.Show(out)
}

// Close closes the wrapped display
func (m *Monotonic) Close() error {
	return m.next.Close()
}

var (
	_ Display = Nop{}
	_ Display = (*LogDisplay)(nil)
	_ Display = (*Monotonic)(nil)
)

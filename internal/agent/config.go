// Package agent runs the battery counter on the device: the detection loop
// that captures events into the local queue, and the sync process that
// delivers them to the aggregation service.
package agent

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"batterycounter/internal/core"
	"batterycounter/internal/display"
	"batterycounter/internal/sensor"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

var (
	ErrMissingDeviceID     = errors.New("device_id is required")
	ErrMissingURL          = errors.New("log_url and stats_url are required")
	ErrInvalidURL          = errors.New("invalid service URL")
	ErrMissingQueuePath    = errors.New("queue_path is required")
	ErrInvalidInterval     = errors.New("intervals and timeouts must be positive")
	ErrInvalidStatsEvery   = errors.New("stats_every_loops must be at least 1")
	ErrInvalidDebounce     = errors.New("sensor debounce_ms must not be negative")
	ErrInvalidImpact       = errors.New("impact factors must not be negative")
	ErrUnsupportedFormat   = errors.New("unsupported config file format")
	ErrInvalidConfigFormat = errors.New("config file could not be decoded")
)

// Duration is a time.Duration read from strings such as "50ms" or "5s"
type Duration struct {
	time.Duration
}

// UnmarshalText parses a Go duration string
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText formats the duration
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config holds the device agent configuration
type Config struct {
	DeviceID        string             `json:"device_id" yaml:"device_id" toml:"device_id"`
	LogURL          string             `json:"log_url" yaml:"log_url" toml:"log_url"`       // POST target for events
	StatsURL        string             `json:"stats_url" yaml:"stats_url" toml:"stats_url"` // GET source for totals
	Token           string             `json:"token" yaml:"token" toml:"token"`             // optional bearer token
	QueuePath       string             `json:"queue_path" yaml:"queue_path" toml:"queue_path"`
	Sensor          sensor.Config      `json:"sensor" yaml:"sensor" toml:"sensor"`
	Display         display.Config     `json:"display" yaml:"display" toml:"display"`
	LEDPin          string             `json:"led_pin" yaml:"led_pin" toml:"led_pin"` // empty disables the LED
	LoopInterval    Duration           `json:"loop_interval" yaml:"loop_interval" toml:"loop_interval"`
	StatsEveryLoops int                `json:"stats_every_loops" yaml:"stats_every_loops" toml:"stats_every_loops"`
	SyncInterval    Duration           `json:"sync_interval" yaml:"sync_interval" toml:"sync_interval"`
	RequestTimeout  Duration           `json:"request_timeout" yaml:"request_timeout" toml:"request_timeout"`
	ProbeAddress    string             `json:"probe_address" yaml:"probe_address" toml:"probe_address"` // empty disables the probe
	ProbeTimeout    Duration           `json:"probe_timeout" yaml:"probe_timeout" toml:"probe_timeout"`
	Impact          core.ImpactFactors `json:"impact" yaml:"impact" toml:"impact"`
	MetricsAddr     string             `json:"metrics_addr" yaml:"metrics_addr" toml:"metrics_addr"` // empty disables /metrics
	LogLevel        string             `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat       string             `json:"log_format" yaml:"log_format" toml:"log_format"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		QueuePath:       "cache.json",
		Sensor:          sensor.DefaultConfig(),
		Display:         display.DefaultConfig(),
		LEDPin:          "GPIO14",
		LoopInterval:    Duration{50 * time.Millisecond},
		StatsEveryLoops: 100,
		SyncInterval:    Duration{5 * time.Second},
		RequestTimeout:  Duration{10 * time.Second},
		ProbeAddress:    "8.8.8.8:53",
		ProbeTimeout:    Duration{2 * time.Second},
		Impact:          core.DefaultImpactFactors(),
		LogLevel:        "info",
		LogFormat:       "json",
	}
}

// LoadConfig reads a YAML, TOML or JSON file over the defaults
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		_, err = toml.Decode(string(data), cfg)
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(cfg)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfigFormat, path, err)
	}
	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DeviceID) == "" {
		return ErrMissingDeviceID
	}
	if c.LogURL == "" || c.StatsURL == "" {
		return ErrMissingURL
	}
	for _, raw := range []string{c.LogURL, c.StatsURL} {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: %q", ErrInvalidURL, raw)
		}
	}
	if c.QueuePath == "" {
		return ErrMissingQueuePath
	}
	if c.LoopInterval.Duration <= 0 || c.SyncInterval.Duration <= 0 || c.RequestTimeout.Duration <= 0 {
		return ErrInvalidInterval
	}
	if c.ProbeAddress != "" && c.ProbeTimeout.Duration <= 0 {
		return ErrInvalidInterval
	}
	if c.StatsEveryLoops < 1 {
		return ErrInvalidStatsEvery
	}
	if c.Sensor.DebounceMS < 0 {
		return ErrInvalidDebounce
	}
	if c.Impact.SoilPerItem < 0 || c.Impact.WaterPerItem < 0 {
		return ErrInvalidImpact
	}
	return nil
}

package sensor

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

var (
	ErrKindNotFound      = errors.New("sensor kind not found")
	ErrKindAlreadyExists = errors.New("sensor kind already registered")
)

// Factory opens a sensor from its configuration
type Factory func(cfg Config, logger *slog.Logger) (Sensor, error)

// Registry maps sensor kinds to factories
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty sensor registry
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// DefaultRegistry returns a registry with every built-in sensor kind
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.mustRegister(KindBreakBeam, func(cfg Config, logger *slog.Logger) (Sensor, error) {
		return OpenDigital(KindBreakBeam, cfg.Pin, logger)
	})
	r.mustRegister(KindLimitSwitch, func(cfg Config, logger *slog.Logger) (Sensor, error) {
		return OpenDigital(KindLimitSwitch, cfg.Pin, logger)
	})
	r.mustRegister(KindToF, func(cfg Config, logger *slog.Logger) (Sensor, error) {
		return OpenVL6180X(cfg, logger)
	})
	r.mustRegister(KindSimulated, func(cfg Config, logger *slog.Logger) (Sensor, error) {
		return NewSimulated(cfg.SimulatePeriod), nil
	})
	return r
}

// mustRegister is Register for the built-in kinds, which never collide
func (r *Registry) mustRegister(kind string, factory Factory) {
	if err := r.Register(kind, factory); err != nil {
		panic(err)
	}
}

// Register adds a factory to the registry
func (r *Registry) Register(kind string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[kind]; exists {
		return fmt.Errorf("%w: %s", ErrKindAlreadyExists, kind)
	}

	r.factories[kind] = factory
	return nil
}

// Open builds the sensor selected by cfg.Kind
func (r *Registry) Open(cfg Config, logger *slog.Logger) (Sensor, error) {
	r.mu.RLock()
	factory, exists := r.factories[cfg.Kind]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %q (available: %s)", ErrKindNotFound, cfg.Kind, strings.Join(r.List(), ", "))
	}
	return factory(cfg, logger)
}

// List returns all registered kinds, sorted
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

package sensor

import "sync"

// Simulated produces one trigger pulse every period polls. It lets the
// agent run on a workstation without any sensor attached.
type Simulated struct {
	mu     sync.Mutex
	period int
	width  int
	polls  int
}

// NewSimulated creates a simulated sensor; period <= 0 never triggers
func NewSimulated(period int) *Simulated {
	width := 2
	if period > 0 && width >= period {
		width = 1
	}
	return &Simulated{period: period, width: width}
}

// Name returns the sensor name
func (s *Simulated) Name() string {
	return KindSimulated
}

// Triggered is high for the first width polls of every period
func (s *Simulated) Triggered() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.period <= 0 {
		return false, nil
	}
	phase := s.polls % s.period
	s.polls++
	return phase < s.width, nil
}

// Close is a no-op
func (s *Simulated) Close() error {
	return nil
}

var _ Sensor = (*Simulated)(nil)

// Package clock abstracts time so loops and debouncing can be tested
// without sleeping.
package clock

import (
	"sync"
	"time"
)

// Clock interface abstracts time operations for testing
type Clock interface {
	// Now returns the current time. Real clocks carry a monotonic reading,
	// so Sub between two Now values is immune to wall-clock adjustments.
	Now() time.Time
	// NewTicker creates a new ticker that will send on its channel every d duration
	NewTicker(d time.Duration) Ticker
}

// Ticker is the subset of time.Ticker used by the loops
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Real implements Clock using the real system time
type Real struct{}

// Now returns the current time
func (Real) Now() time.Time {
	return time.Now()
}

// NewTicker creates a new time.Ticker
func (Real) NewTicker(d time.Duration) Ticker {
	return realTicker{time.NewTicker(d)}
}

type realTicker struct {
	t *time.Ticker
}

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// Mock implements Clock for testing. Tickers created from a Mock fire only
// when Tick is called.
type Mock struct {
	mu      sync.Mutex
	current time.Time
	tickers []*mockTicker
}

// NewMock creates a mock clock starting at t
func NewMock(t time.Time) *Mock {
	return &Mock{current: t}
}

// Now returns the mocked current time
func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// NewTicker returns a manually driven ticker
func (m *Mock) NewTicker(d time.Duration) Ticker {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &mockTicker{c: make(chan time.Time, 1)}
	m.tickers = append(m.tickers, t)
	return t
}

// Advance moves the mocked time forward by the given duration
func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = m.current.Add(d)
}

// Set sets the mocked current time to a specific value
func (m *Mock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = t
}

// Tick delivers the current time to every live ticker without blocking
func (m *Mock) Tick() {
	m.mu.Lock()
	now := m.current
	tickers := append([]*mockTicker(nil), m.tickers...)
	m.mu.Unlock()

	for _, t := range tickers {
		t.send(now)
	}
}

type mockTicker struct {
	mu      sync.Mutex
	c       chan time.Time
	stopped bool
}

func (t *mockTicker) C() <-chan time.Time { return t.c }

func (t *mockTicker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *mockTicker) send(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	select {
	case t.c <- now:
	default:
	}
}

// Ensure implementations satisfy the interface
var (
	_ Clock = Real{}
	_ Clock = (*Mock)(nil)
)

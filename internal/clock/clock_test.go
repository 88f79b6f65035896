package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMock_AdvanceAndSet(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewMock(start)

	assert.Equal(t, start, m.Now())

	m.Advance(150 * time.Millisecond)
	assert.Equal(t, 150*time.Millisecond, m.Now().Sub(start))

	later := start.Add(time.Hour)
	m.Set(later)
	assert.Equal(t, later, m.Now())
}

func TestMock_Tick(t *testing.T) {
	m := NewMock(time.Unix(1000, 0))
	ticker := m.NewTicker(time.Second)

	m.Tick()
	select {
	case got := <-ticker.C():
		assert.Equal(t, int64(1000), got.Unix())
	default:
		t.Fatal("expected a tick")
	}

	// Ticks coalesce when nobody reads
	m.Tick()
	m.Tick()
	<-ticker.C()
	select {
	case <-ticker.C():
		t.Fatal("expected coalesced ticks")
	default:
	}

	ticker.Stop()
	m.Tick()
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker must not fire")
	default:
	}
}

func TestReal_Monotonic(t *testing.T) {
	c := Real{}
	a := c.Now()
	b := c.Now()
	assert.False(t, b.Before(a))

	ticker := c.NewTicker(time.Millisecond)
	defer ticker.Stop()
	select {
	case <-ticker.C():
	case <-time.After(time.Second):
		t.Fatal("real ticker never fired")
	}
}

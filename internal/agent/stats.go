package agent

import (
	"sync/atomic"

	"batterycounter/internal/core"
)

// StatsCache holds the last known remote aggregate. Reads never block;
// the sync process is the only writer.
type StatsCache struct {
	v atomic.Pointer[core.Stats]
}

// NewStatsCache creates a cache initialised to zero
func NewStatsCache() *StatsCache {
	c := &StatsCache{}
	c.v.Store(&core.Stats{})
	return c
}

// Load returns the current snapshot
func (c *StatsCache) Load() core.Stats {
	return *c.v.Load()
}

// Store replaces the snapshot
func (c *StatsCache) Store(s core.Stats) {
	c.v.Store(&s)
}

// Advance adds n acknowledged items to the snapshot
func (c *StatsCache) Advance(f core.ImpactFactors, n int64) core.Stats {
	for {
		old := c.v.Load()
		next := f.Advance(*old, n)
		if c.v.CompareAndSwap(old, &next) {
			return next
		}
	}
}

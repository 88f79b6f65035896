package agent

import (
	"context"
	"errors"
	"sync"

	"batterycounter/internal/core"
)

// memQueue is an in-memory EventQueue
type memQueue struct {
	mu         sync.Mutex
	events     []core.CountEvent
	enqueueErr error
	removeErr  error
	// onRemove runs before events are removed
	onRemove func()
}

func (q *memQueue) Enqueue(ev core.CountEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.enqueueErr != nil && !errors.Is(q.enqueueErr, errKeepInMemory) {
		return q.enqueueErr
	}
	q.events = append(q.events, ev)
	return q.enqueueErr
}

func (q *memQueue) PeekAll() []core.CountEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]core.CountEvent(nil), q.events...)
}

func (q *memQueue) Remove(events []core.CountEvent) (int, error) {
	if q.onRemove != nil {
		q.onRemove()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	drop := map[string]bool{}
	for _, ev := range events {
		drop[ev.ID] = true
	}
	kept := q.events[:0:0]
	for _, ev := range q.events {
		if !drop[ev.ID] {
			kept = append(kept, ev)
		}
	}
	removed := len(q.events) - len(kept)
	q.events = kept
	return removed, q.removeErr
}

func (q *memQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

func (q *memQueue) Quantity() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return core.TotalQuantity(q.events)
}

// errKeepInMemory marks an enqueue error after which the event is still queued
var errKeepInMemory = errors.New("keep in memory")

// mockClient answers PostLog from a per-event script
type mockClient struct {
	mu        sync.Mutex
	postErrs  map[string]error
	dupes     map[string]bool
	posted    []string
	stats     *core.Stats
	statsErr  error
	statsHits int
}

func newMockClient() *mockClient {
	return &mockClient{postErrs: map[string]error{}, dupes: map[string]bool{}}
}

func (m *mockClient) PostLog(ctx context.Context, ev core.CountEvent) (*LogReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.posted = append(m.posted, ev.ID)
	if err := m.postErrs[ev.ID]; err != nil {
		return nil, err
	}
	return &LogReceipt{OK: true, Duplicate: m.dupes[ev.ID]}, nil
}

func (m *mockClient) GetStats(ctx context.Context) (*core.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statsHits++
	if m.statsErr != nil {
		return nil, m.statsErr
	}
	if m.stats == nil {
		return &core.Stats{}, nil
	}
	s := *m.stats
	return &s, nil
}

func (m *mockClient) postedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.posted...)
}

type staticProber bool

func (p staticProber) Reachable(context.Context) bool { return bool(p) }

// scriptedDetector returns queued results, then false
type scriptedDetector struct {
	mu       sync.Mutex
	results  []bool
	errs     []error
	distance int
}

func (d *scriptedDetector) Detect() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.results) == 0 {
		return false, nil
	}
	r := d.results[0]
	d.results = d.results[1:]
	var err error
	if len(d.errs) > 0 {
		err = d.errs[0]
		d.errs = d.errs[1:]
	}
	return r, err
}

func (d *scriptedDetector) LastDistance() int { return d.distance }

func events(ids ...string) []core.CountEvent {
	out := make([]core.CountEvent, len(ids))
	for i, id := range ids {
		out[i] = core.CountEvent{ID: id, OccurredAt: int64(1000 + i), Quantity: 1, DeviceID: "rpi4_1"}
	}
	return out
}

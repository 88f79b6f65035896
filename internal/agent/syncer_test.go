package agent

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"batterycounter/internal/clock"
	"batterycounter/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSyncer(client RemoteClient, q EventQueue, stats *StatsCache, reachable bool) *Syncer {
	return NewSyncer(client, q, stats, staticProber(reachable), clock.NewMock(time.Unix(0, 0)),
		5*time.Second, core.DefaultImpactFactors(), nil, testLogger())
}

func TestSyncer_DrainsAllOnSuccess(t *testing.T) {
	q := &memQueue{events: events("a", "b", "c")}
	client := newMockClient()
	client.stats = &core.Stats{Total: 3, Soil: 0.06, Water: 0.45}
	stats := NewStatsCache()

	res := newTestSyncer(client, q, stats, true).Tick(context.Background())

	assert.True(t, res.Reachable)
	assert.Equal(t, 3, res.Stored)
	assert.Equal(t, 3, res.Removed)
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, []string{"a", "b", "c"}, client.postedIDs())
	assert.True(t, res.StatsRefreshed)
	assert.Equal(t, int64(3), stats.Load().Total)
}

func TestSyncer_TransientFailureStopsDrain(t *testing.T) {
	q := &memQueue{events: events("a", "b", "c", "d")}
	client := newMockClient()
	client.postErrs["b"] = errors.New("connection reset")
	client.stats = &core.Stats{Total: 10}
	stats := NewStatsCache()

	res := newTestSyncer(client, q, stats, true).Tick(context.Background())

	// Fail-fast: c and d are not attempted
	assert.Equal(t, []string{"a", "b"}, client.postedIDs())
	assert.Equal(t, 1, res.Stored)
	assert.Equal(t, 3, res.Deferred)
	remaining := q.PeekAll()
	require.Len(t, remaining, 3)
	assert.Equal(t, "b", remaining[0].ID)
	// Stats refresh is attempted regardless
	assert.True(t, res.StatsRefreshed)
	assert.Equal(t, int64(10), stats.Load().Total)
}

func TestSyncer_ServerErrorsAreTransient(t *testing.T) {
	for _, status := range []int{http.StatusInternalServerError, http.StatusRequestTimeout, http.StatusTooManyRequests} {
		q := &memQueue{events: events("a", "b")}
		client := newMockClient()
		client.postErrs["a"] = &APIError{StatusCode: status}

		res := newTestSyncer(client, q, NewStatsCache(), true).Tick(context.Background())

		assert.Equal(t, 2, q.Len(), "status %d", status)
		assert.Equal(t, 0, res.Poisoned)
		assert.Equal(t, []string{"a"}, client.postedIDs())
	}
}

func TestSyncer_PermanentRejectionIsDropped(t *testing.T) {
	q := &memQueue{events: events("a", "bad", "c")}
	client := newMockClient()
	client.postErrs["bad"] = &APIError{StatusCode: http.StatusBadRequest, Body: `{"error":"timestamp is required"}`}

	res := newTestSyncer(client, q, NewStatsCache(), true).Tick(context.Background())

	assert.Equal(t, []string{"a", "bad", "c"}, client.postedIDs())
	assert.Equal(t, 1, res.Poisoned)
	assert.Equal(t, 2, res.Stored)
	assert.Equal(t, 0, q.Len())
}

func TestSyncer_UnreachableSkipsTick(t *testing.T) {
	q := &memQueue{events: events("a")}
	client := newMockClient()

	res := newTestSyncer(client, q, NewStatsCache(), false).Tick(context.Background())

	assert.False(t, res.Reachable)
	assert.Empty(t, client.postedIDs())
	assert.Equal(t, 0, client.statsHits)
	assert.Equal(t, 1, q.Len())
}

func TestSyncer_StatsFailureKeepsStaleValue(t *testing.T) {
	stats := NewStatsCache()
	stats.Store(core.Stats{Total: 42, Soil: 0.84, Water: 6.3})
	client := newMockClient()
	client.statsErr = errors.New("timeout")

	res := newTestSyncer(client, &memQueue{}, stats, true).Tick(context.Background())

	assert.False(t, res.StatsRefreshed)
	assert.Equal(t, int64(42), stats.Load().Total)
}

func TestSyncer_DuplicatesAdvanceCachedTotal(t *testing.T) {
	q := &memQueue{events: events("a", "b")}
	client := newMockClient()
	client.dupes["a"] = true
	client.statsErr = errors.New("down")
	stats := NewStatsCache()
	stats.Store(core.Stats{Total: 5})

	res := newTestSyncer(client, q, stats, true).Tick(context.Background())

	assert.Equal(t, 1, res.Duplicates)
	assert.Equal(t, 1, res.Stored)
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, int64(7), stats.Load().Total)
}

// lostAckClient stores every event it receives but fails the first
// delivery of each, as if the response never reached the device
type lostAckClient struct {
	stored map[string]bool
}

func (c *lostAckClient) PostLog(ctx context.Context, ev core.CountEvent) (*LogReceipt, error) {
	if c.stored[ev.ID] {
		return &LogReceipt{OK: true, Duplicate: true}, nil
	}
	c.stored[ev.ID] = true
	return nil, errors.New("connection reset after write")
}

func (c *lostAckClient) GetStats(ctx context.Context) (*core.Stats, error) {
	return nil, errors.New("stats endpoint down")
}

func TestSyncer_LostAckRetryNeverUnderstates(t *testing.T) {
	q := &memQueue{events: events("a")}
	stats := NewStatsCache()
	stats.Store(core.Stats{Total: 10})
	syncer := newTestSyncer(&lostAckClient{stored: map[string]bool{}}, q, stats, true)
	const captured = 11

	displayed := func() int64 { return stats.Load().Total + q.Quantity() }

	first := syncer.Tick(context.Background())
	assert.Equal(t, 1, first.Deferred)
	assert.GreaterOrEqual(t, displayed(), int64(captured))

	second := syncer.Tick(context.Background())
	assert.Equal(t, 1, second.Duplicates)
	assert.Equal(t, 0, q.Len())
	assert.GreaterOrEqual(t, displayed(), int64(captured))
}

func TestSyncer_ServiceWideRejectionKeepsBacklog(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusMethodNotAllowed} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			var hits atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.WriteHeader(status)
				w.Write([]byte(`{"error":"refused"}`))
			}))
			defer server.Close()

			client := NewHTTPClient(server.URL+"/log", server.URL+"/stats", "", time.Second, testLogger())
			q := &memQueue{events: events("a", "b", "c", "d", "e")}

			res := newTestSyncer(client, q, NewStatsCache(), true).Tick(context.Background())

			assert.Equal(t, 0, res.Poisoned)
			assert.Equal(t, 5, res.Deferred)
			assert.Equal(t, 5, q.Len())
			// One POST, then the drain stops; the stats GET is the second hit
			assert.Equal(t, int32(2), hits.Load())
		})
	}
}

func TestSyncer_MultiUnitEventKeepsDisplayedTotal(t *testing.T) {
	legacy := core.CountEvent{ID: "evt_legacy", OccurredAt: 1000, Quantity: 3, DeviceID: "rpi4_1"}
	q := &memQueue{events: []core.CountEvent{legacy}}
	stats := NewStatsCache()
	stats.Store(core.DefaultImpactFactors().Derive(10))
	client := newMockClient()
	client.statsErr = errors.New("down")
	d := &recordingDisplay{}
	loop := newTestLoop(&scriptedDetector{}, q, stats, d, &recordingLED{}, clock.NewMock(time.Unix(1, 0)), 1)

	loop.Iterate()
	assert.Equal(t, int64(13), d.last().Total)

	newTestSyncer(client, q, stats, true).Tick(context.Background())
	loop.Iterate()

	assert.Equal(t, 0, q.Len())
	assert.Equal(t, int64(13), d.last().Total)
}

func TestSyncer_DisplayedTotalNeverUnderstates(t *testing.T) {
	q := &memQueue{events: events("a", "b", "c")}
	client := newMockClient()
	client.statsErr = errors.New("stats endpoint down")
	stats := NewStatsCache()
	stats.Store(core.Stats{Total: 100})

	displayed := func() int64 { return stats.Load().Total + q.Quantity() }
	before := displayed()

	// Observe the invariant at the moment the queue shrinks
	q.onRemove = func() {
		assert.GreaterOrEqual(t, stats.Load().Total+q.Quantity(), before)
	}

	newTestSyncer(client, q, stats, true).Tick(context.Background())

	assert.Equal(t, before, displayed())
	assert.Equal(t, int64(103), stats.Load().Total)
}

func TestSyncer_EventsCapturedDuringDrainAreKept(t *testing.T) {
	q := &memQueue{events: events("a")}
	client := newMockClient()
	q.onRemove = func() {
		q.Enqueue(core.CountEvent{ID: "late", OccurredAt: 2000, Quantity: 1, DeviceID: "rpi4_1"})
	}

	newTestSyncer(client, q, NewStatsCache(), true).Tick(context.Background())

	require.Equal(t, 1, q.Len())
	assert.Equal(t, "late", q.PeekAll()[0].ID)
}

func TestSyncer_RemovePersistErrorIsContained(t *testing.T) {
	q := &memQueue{events: events("a"), removeErr: errors.New("disk full")}
	client := newMockClient()

	res := newTestSyncer(client, q, NewStatsCache(), true).Tick(context.Background())
	assert.Equal(t, 1, res.Removed)
}

func TestSyncer_CancelledContextStopsDrain(t *testing.T) {
	q := &memQueue{events: events("a", "b")}
	client := newMockClient()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := newTestSyncer(client, q, NewStatsCache(), true).Tick(ctx)

	assert.Empty(t, client.postedIDs())
	assert.Equal(t, 2, res.Deferred)
	assert.Equal(t, 2, q.Len())
}

func TestSyncer_StartTicksUntilCancelled(t *testing.T) {
	clk := clock.NewMock(time.Unix(0, 0))
	q := &memQueue{}
	client := newMockClient()
	s := NewSyncer(client, q, NewStatsCache(), staticProber(true), clk, 5*time.Second,
		core.DefaultImpactFactors(), nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	// Initial tick happens immediately
	require.Eventually(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		return client.statsHits >= 1
	}, time.Second, 5*time.Millisecond)

	q.Enqueue(events("x")[0])
	clk.Tick()
	require.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("syncer did not stop")
	}
}

func TestStatsCache_Advance(t *testing.T) {
	c := NewStatsCache()
	assert.Equal(t, core.Stats{}, c.Load())

	c.Store(core.Stats{Total: 10, Soil: 0.2, Water: 1.5})
	next := c.Advance(core.DefaultImpactFactors(), 2)

	assert.Equal(t, int64(12), next.Total)
	assert.InDelta(t, 0.24, next.Soil, 1e-9)
	assert.InDelta(t, 1.8, next.Water, 1e-9)
	assert.Equal(t, next, c.Load())
}

func TestSyncer_FiveEventsAcceptedRaiseRemoteTotal(t *testing.T) {
	q := &memQueue{events: events("a", "b", "c", "d", "e")}
	stats := NewStatsCache()
	stats.Store(core.DefaultImpactFactors().Derive(145))
	client := newMockClient()
	client.stats = &core.Stats{Total: 150, Soil: 3, Water: 22.5}

	res := newTestSyncer(client, q, stats, true).Tick(context.Background())

	assert.Equal(t, 5, res.Stored)
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, core.Stats{Total: 150, Soil: 3, Water: 22.5}, stats.Load())
}

func TestSyncer_OfflineTicksLetQueueGrow(t *testing.T) {
	q := &memQueue{}
	stats := NewStatsCache()
	stats.Store(core.DefaultImpactFactors().Derive(20))
	client := newMockClient()
	d := &recordingDisplay{}
	det := &scriptedDetector{results: []bool{true, true, true}}
	loop := newTestLoop(det, q, stats, d, &recordingLED{}, clock.NewMock(time.Unix(1700000000, 0)), 100)
	syncer := newTestSyncer(client, q, stats, false)

	for i := 1; i <= 3; i++ {
		require.True(t, loop.Iterate())
		res := syncer.Tick(context.Background())

		assert.False(t, res.Reachable)
		assert.Equal(t, i, q.Len())
		assert.Equal(t, int64(20+i), d.last().Total)
	}
	assert.Empty(t, client.postedIDs())
	assert.Equal(t, int64(20), stats.Load().Total)
}

package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"batterycounter/internal/clock"
	"batterycounter/internal/core"
)

// EventQueue is the durable backlog shared by the loop and the syncer
type EventQueue interface {
	Enqueue(ev core.CountEvent) error
	PeekAll() []core.CountEvent
	Remove(events []core.CountEvent) (int, error)
	Len() int
	// Quantity sums the amount of every queued event
	Quantity() int64
}

// TickResult summarises one sync pass
type TickResult struct {
	Reachable      bool
	Attempted      int
	Stored         int
	Duplicates     int
	Poisoned       int
	Deferred       int
	Removed        int
	StatsRefreshed bool
}

// Syncer periodically drains the queue to the service and refreshes the
// cached remote stats. Errors never escape it; they are logged and the
// next tick retries.
type Syncer struct {
	client   RemoteClient
	queue    EventQueue
	stats    *StatsCache
	prober   Prober
	clock    clock.Clock
	interval time.Duration
	factors  core.ImpactFactors
	metrics  *Metrics
	logger   *slog.Logger
	mu       sync.Mutex
}

// NewSyncer creates a sync process
func NewSyncer(client RemoteClient, queue EventQueue, stats *StatsCache, prober Prober, c clock.Clock, interval time.Duration, factors core.ImpactFactors, metrics *Metrics, logger *slog.Logger) *Syncer {
	if prober == nil {
		prober = AlwaysReachable{}
	}
	if c == nil {
		c = clock.Real{}
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Syncer{
		client:   client,
		queue:    queue,
		stats:    stats,
		prober:   prober,
		clock:    c,
		interval: interval,
		factors:  factors,
		metrics:  metrics,
		logger:   logger.With("component", "syncer"),
	}
}

// Start runs the sync loop until ctx is cancelled (blocking)
func (s *Syncer) Start(ctx context.Context) {
	s.logger.Info("starting sync loop", "interval", s.interval)

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync loop stopped")
			return
		case <-ticker.C():
			s.Tick(ctx)
		}
	}
}

// Tick performs one sync pass
func (s *Syncer) Tick(ctx context.Context) TickResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res TickResult
	if !s.prober.Reachable(ctx) {
		s.logger.Info("network unreachable, skipping sync", "queued", s.queue.Len())
		s.metrics.SyncTicks.WithLabelValues("offline").Inc()
		return res
	}
	res.Reachable = true

	s.drain(ctx, &res)
	s.refreshStats(ctx, &res)

	s.metrics.QueueDepth.Set(float64(s.queue.Len()))
	switch {
	case res.Deferred > 0:
		s.metrics.SyncTicks.WithLabelValues("partial").Inc()
	default:
		s.metrics.SyncTicks.WithLabelValues("ok").Inc()
	}
	return res
}

func (s *Syncer) drain(ctx context.Context, res *TickResult) {
	snapshot := s.queue.PeekAll()
	if len(snapshot) == 0 {
		return
	}

	done := make([]core.CountEvent, 0, len(snapshot))
	var ackedQty int64

	for i, ev := range snapshot {
		if ctx.Err() != nil {
			res.Deferred = len(snapshot) - i
			break
		}
		res.Attempted++

		receipt, err := s.client.PostLog(ctx, ev)
		if err != nil {
			if IsPermanent(err) {
				s.logger.Warn("service rejected event, dropping it",
					"event_id", ev.ID,
					"timestamp", ev.OccurredAt,
					"device_id", ev.DeviceID,
					"error", err,
				)
				res.Poisoned++
				s.metrics.SyncEvents.WithLabelValues(OutcomePoisoned).Inc()
				done = append(done, ev)
				continue
			}

			res.Deferred = len(snapshot) - i
			s.metrics.SyncEvents.WithLabelValues(OutcomeDeferred).Add(float64(res.Deferred))
			s.logger.Info("delivery failed, will retry next tick",
				"event_id", ev.ID,
				"remaining", res.Deferred,
				"error", err,
			)
			break
		}

		done = append(done, ev)
		// A duplicate was stored by an earlier attempt whose ack was lost;
		// the cached total may not include it yet either way
		ackedQty += int64(ev.Quantity)
		if receipt != nil && receipt.Duplicate {
			res.Duplicates++
			s.metrics.SyncEvents.WithLabelValues(OutcomeDuplicate).Inc()
			continue
		}
		res.Stored++
		s.metrics.SyncEvents.WithLabelValues(OutcomeStored).Inc()
	}

	if len(done) == 0 {
		return
	}

	// Account for the acknowledged events before they leave the queue so
	// the displayed total never dips between the removal and the next
	// refresh. Overstating until that refresh is acceptable.
	if ackedQty > 0 {
		s.stats.Advance(s.factors, ackedQty)
	}

	removed, err := s.queue.Remove(done)
	res.Removed = removed
	if err != nil {
		s.logger.Error("failed to persist queue after sync", "error", err)
	}

	s.logger.Info("synced events",
		"stored", res.Stored,
		"duplicates", res.Duplicates,
		"poisoned", res.Poisoned,
		"remaining", s.queue.Len(),
	)
}

func (s *Syncer) refreshStats(ctx context.Context, res *TickResult) {
	if ctx.Err() != nil {
		return
	}
	stats, err := s.client.GetStats(ctx)
	if err != nil {
		s.logger.Info("stats refresh failed, keeping last known values", "error", err)
		s.metrics.StatsRefreshes.WithLabelValues("error").Inc()
		return
	}

	s.stats.Store(*stats)
	res.StatsRefreshed = true
	s.metrics.StatsRefreshes.WithLabelValues("ok").Inc()
	s.metrics.RemoteTotal.Set(float64(stats.Total))
	s.logger.Debug("stats refreshed", "total", stats.Total)
}

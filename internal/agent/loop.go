package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"batterycounter/internal/clock"
	"batterycounter/internal/core"
	"batterycounter/internal/display"
	"batterycounter/internal/idgen"
	"batterycounter/internal/indicator"
	"batterycounter/internal/queue"
)

// Detector is a debounced item detector
type Detector interface {
	Detect() (bool, error)
	LastDistance() int
}

// LoopConfig holds the main loop parameters
type LoopConfig struct {
	DeviceID   string
	Interval   time.Duration
	StatsEvery int
	Factors    core.ImpactFactors
}

// Loop polls the detector at a fixed cadence, captures detections into the
// queue and keeps the display current
type Loop struct {
	detector Detector
	queue    EventQueue
	stats    *StatsCache
	display  display.Display
	led      indicator.Indicator
	clock    clock.Clock
	cfg      LoopConfig
	metrics  *Metrics
	logger   *slog.Logger
	newID    func() string

	iterations    uint64
	sensorFailing bool
	blinking      bool
}

// NewLoop creates the main loop. display and led may be nil.
func NewLoop(detector Detector, q EventQueue, stats *StatsCache, d display.Display, led indicator.Indicator, c clock.Clock, cfg LoopConfig, metrics *Metrics, logger *slog.Logger) *Loop {
	if d == nil {
		d = display.Nop{}
	}
	if led == nil {
		led = indicator.Nop{}
	}
	if c == nil {
		c = clock.Real{}
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if cfg.StatsEvery < 1 {
		cfg.StatsEvery = 1
	}
	return &Loop{
		detector: detector,
		queue:    q,
		stats:    stats,
		display:  d,
		led:      led,
		clock:    c,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger.With("component", "loop"),
		newID:    idgen.NewEvent,
	}
}

// Run polls until ctx is cancelled. The iteration in progress always
// completes before Run returns.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("starting detection loop",
		"device_id", l.cfg.DeviceID,
		"interval", l.cfg.Interval,
		"stats_every", l.cfg.StatsEvery,
	)

	ticker := l.clock.NewTicker(l.cfg.Interval)
	defer ticker.Stop()
	defer l.led.Set(false)

	l.setLED(true)
	l.Iterate()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("detection loop stopped", "iterations", l.iterations)
			return nil
		case <-ticker.C():
			l.Iterate()
		}
	}
}

// Iterate runs a single poll cycle and reports whether an item was
// captured
func (l *Loop) Iterate() bool {
	defer func() { l.iterations++ }()

	if l.blinking {
		l.setLED(true)
		l.blinking = false
	}

	detected, err := l.detector.Detect()
	if err != nil {
		l.metrics.SensorErrors.Inc()
		if !l.sensorFailing {
			l.logger.Warn("sensor read failed", "error", err)
			l.sensorFailing = true
		}
		detected = false
	} else if l.sensorFailing {
		l.logger.Info("sensor readings recovered")
		l.sensorFailing = false
	}

	if detected {
		l.capture()
		l.setLED(false)
		l.blinking = true
		l.refresh()
		return true
	}

	if l.iterations%uint64(l.cfg.StatsEvery) == 0 {
		l.refresh()
	}
	return false
}

func (l *Loop) capture() {
	ev := core.NewCountEvent(l.newID(), l.cfg.DeviceID, l.clock.Now())
	l.metrics.Detections.Inc()

	if err := l.queue.Enqueue(ev); err != nil {
		l.metrics.EnqueueErrors.Inc()
		if errors.Is(err, queue.ErrPersist) {
			l.logger.Error("detection kept in memory only, queue write failed",
				"event_id", ev.ID,
				"error", err,
			)
			return
		}
		l.logger.Error("detection dropped", "event_id", ev.ID, "error", err)
		return
	}

	l.logger.Info("item detected",
		"event_id", ev.ID,
		"timestamp", ev.OccurredAt,
		"queued", l.queue.Len(),
	)
}

func (l *Loop) refresh() {
	unsynced := l.queue.Quantity()
	l.metrics.QueueDepth.Set(float64(l.queue.Len()))

	r := display.Compose(l.stats.Load(), unsynced, l.cfg.Factors, l.detector.LastDistance())
	if err := l.display.Show(r); err != nil {
		l.logger.Debug("display update failed", "error", err)
	}
}

func (l *Loop) setLED(on bool) {
	if err := l.led.Set(on); err != nil {
		l.logger.Debug("led update failed", "error", err)
	}
}

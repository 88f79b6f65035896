package agent

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Sync outcomes recorded per event
const (
	OutcomeStored    = "stored"
	OutcomeDuplicate = "duplicate"
	OutcomePoisoned  = "poisoned"
	OutcomeDeferred  = "deferred"
)

// Metrics are the agent's Prometheus collectors
type Metrics struct {
	Detections     prometheus.Counter
	SensorErrors   prometheus.Counter
	EnqueueErrors  prometheus.Counter
	SyncEvents     *prometheus.CounterVec
	SyncTicks      *prometheus.CounterVec
	QueueDepth     prometheus.Gauge
	RemoteTotal    prometheus.Gauge
	StatsRefreshes *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg when it is
// not nil
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Detections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "counter",
			Subsystem: "agent",
			Name:      "detections_total",
			Help:      "Accepted item detections.",
		}),
		SensorErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "counter",
			Subsystem: "agent",
			Name:      "sensor_errors_total",
			Help:      "Sensor polls that failed.",
		}),
		EnqueueErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "counter",
			Subsystem: "agent",
			Name:      "enqueue_errors_total",
			Help:      "Detections that could not be persisted to the local queue.",
		}),
		SyncEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "counter",
			Subsystem: "agent",
			Name:      "sync_events_total",
			Help:      "Events handled by the sync process by outcome.",
		}, []string{"outcome"}),
		SyncTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "counter",
			Subsystem: "agent",
			Name:      "sync_ticks_total",
			Help:      "Sync process ticks by result.",
		}, []string{"result"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "counter",
			Subsystem: "agent",
			Name:      "queue_depth",
			Help:      "Events waiting in the local queue.",
		}),
		RemoteTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "counter",
			Subsystem: "agent",
			Name:      "remote_total",
			Help:      "Last known aggregate total.",
		}),
		StatsRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "counter",
			Subsystem: "agent",
			Name:      "stats_refreshes_total",
			Help:      "Stats fetches by result.",
		}, []string{"result"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Detections,
			m.SensorErrors,
			m.EnqueueErrors,
			m.SyncEvents,
			m.SyncTicks,
			m.QueueDepth,
			m.RemoteTotal,
			m.StatsRefreshes,
		)
	}
	return m
}

package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the monitoring loop. persistence_errors_total is the
// alertable one: a failed status write breaks the lifecycle invariant.

var ticksTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "posmon",
		Subsystem: "monitor",
		Name:      "ticks_total",
		Help:      "Monitor ticks by outcome",
	},
	[]string{"outcome"}, // ok, market_closed, busy, failed
)

var tickDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "posmon",
		Subsystem: "monitor",
		Name:      "tick_duration_seconds",
		Help:      "Duration of an open-market tick",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	},
)

var transitionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "posmon",
		Subsystem: "positions",
		Name:      "transitions_total",
		Help:      "Persisted status transitions by target status",
	},
	[]string{"to"},
)

var anomaliesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "posmon",
		Subsystem: "anomalies",
		Name:      "detected_total",
		Help:      "Anomalies that passed the cooldown gate",
	},
	[]string{"kind"},
)

var quoteErrorsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "posmon",
		Subsystem: "marketdata",
		Name:      "quote_errors_total",
		Help:      "Per-ticker quote fetch failures",
	},
)

var persistenceErrorsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "posmon",
		Subsystem: "positions",
		Name:      "persistence_errors_total",
		Help:      "Status updates that failed to persist",
	},
)

var notificationsFailedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "posmon",
		Subsystem: "notify",
		Name:      "failed_total",
		Help:      "Best-effort side effects that failed",
	},
	[]string{"kind"}, // notify, narrative
)

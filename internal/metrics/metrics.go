// Package metrics holds the Prometheus collectors of the notification engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Fanouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tvcast_fanouts_total",
			Help: "Fanout attempts by outcome",
		},
		[]string{"result"},
	)

	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tvcast_deliveries_total",
			Help: "Per-recipient routing decisions (online or offline)",
		},
		[]string{"route"},
	)

	PushMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tvcast_push_messages_total",
			Help: "Push tokens processed by outcome",
		},
		[]string{"result"},
	)

	OfflineEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tvcast_offline_queue_evictions_total",
			Help: "Entries dropped because a user's offline queue was full",
		},
	)

	OfflineReplays = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tvcast_offline_replays_total",
			Help: "Notifications replayed on reconnect by source (memory or store)",
		},
		[]string{"source"},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tvcast_scheduler_sweep_duration_seconds",
			Help:    "Duration of scheduler sweeps",
			Buckets: prometheus.DefBuckets,
		},
	)

	SweepItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tvcast_scheduler_items_total",
			Help: "Due notifications handled by the scheduler by outcome",
		},
		[]string{"result"},
	)

	Tracking = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tvcast_tracking_total",
			Help: "Read/click transitions by action and outcome",
		},
		[]string{"action", "outcome"},
	)
)

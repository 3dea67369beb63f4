// Package metrics holds the process-wide Prometheus collectors served on
// /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Ticks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "detectd_ticks_total",
		Help: "Pipeline ticks, labelled by outcome (published, buffered, empty, aborted).",
	}, []string{"outcome"})

	EventsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "detectd_events_published_total",
		Help: "Detection events handed to the MQTT transport, history included.",
	})

	EventsBuffered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "detectd_events_buffered_total",
		Help: "Detection events written to the event store while offline or after a failed hand-off.",
	})

	HistoryDrains = promauto.NewCounter(prometheus.CounterOpts{
		Name: "detectd_history_drains_total",
		Help: "Completed drains of the event store.",
	})

	PublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "detectd_publish_failures_total",
		Help: "Publish hand-offs rejected by the transport.",
	})

	StageFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "detectd_stage_failures_total",
		Help: "Tick stage failures, labelled by stage (capture, detect, store).",
	}, []string{"stage"})

	StoreRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "detectd_store_records",
		Help: "Records currently held by the event store.",
	})

	PendingHistory = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "detectd_pending_history",
		Help: "1 when the event store may hold undelivered events.",
	})

	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "detectd_tick_duration_ms",
		Help:    "Tick latency from capture to publish or buffer, in milliseconds.",
		Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	})
)

// SetPendingHistory mirrors the controller flag into the gauge
func SetPendingHistory(pending bool) {
	if pending {
		PendingHistory.Set(1)
		return
	}
	PendingHistory.Set(0)
}

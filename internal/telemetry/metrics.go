// Package telemetry exposes the service's Prometheus metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveWorkers tracks how many account worker processes are running.
	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "monitor_active_workers",
		Help: "Number of account worker processes currently supervised.",
	})

	// WorkerRestarts counts supervisor-driven worker restarts.
	WorkerRestarts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "monitor_worker_restarts_total",
		Help: "Total worker restarts performed by the supervisor.",
	})

	// Events counts detection events by type and source.
	Events = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "monitor_events_total",
		Help: "Detection events dispatched, by type and source.",
	}, []string{"type", "source"})

	// EventsThrottled counts events dropped by admission control.
	EventsThrottled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "monitor_events_throttled_total",
		Help: "Detection events dropped by the throttler.",
	})

	// SyncRecords counts records written by the sync pipeline, by kind.
	SyncRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "monitor_sync_records_total",
		Help: "Records persisted by the sync pipeline, by record kind.",
	}, []string{"kind"})

	// NotifyFailures counts downstream callbacks that exhausted retries.
	NotifyFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "monitor_notify_failures_total",
		Help: "Downstream callback deliveries that failed after all retries.",
	})
)

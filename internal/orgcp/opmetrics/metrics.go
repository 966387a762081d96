package opmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WorkflowTotal counts reconciliation workflow runs by workflow and outcome.
	WorkflowTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orgcp",
		Subsystem: "reconciler",
		Name:      "workflow_total",
		Help:      "Total reconciliation workflow runs by workflow and outcome.",
	}, []string{"workflow", "outcome"})

	// WorkflowDuration tracks reconciliation workflow latency.
	WorkflowDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "orgcp",
		Subsystem: "reconciler",
		Name:      "workflow_duration_seconds",
		Help:      "Reconciliation workflow duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"workflow"})

	// SeatsMigrated counts seats migrated during license restarts.
	SeatsMigrated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orgcp",
		Subsystem: "reconciler",
		Name:      "seats_migrated_total",
		Help:      "Seats migrated during license restarts by result.",
	}, []string{"result"})

	// NoticesWritten counts one-time notices written for redirects.
	NoticesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "orgcp",
		Subsystem: "http",
		Name:      "notices_written_total",
		Help:      "One-time notices written for redirect responses.",
	})

	// RequestsTotal counts HTTP requests by route and status.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orgcp",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests by route and status.",
	}, []string{"route", "status"})
)

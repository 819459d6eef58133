// Package metrics provides Prometheus instrumentation for the partner engine:
// overlap detection throughput, match request sizes and notification delivery.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OverlapsCreated counts overlaps inserted, labeled by trigger:
	// "user", "trip".
	OverlapsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "partner_overlaps_created_total",
		Help: "Total number of trip overlaps created",
	}, []string{"trigger"})

	// OverlapInsertConflicts counts inserts that lost the race to a concurrent
	// detection run and were skipped.
	OverlapInsertConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "partner_overlap_insert_conflicts_total",
		Help: "Overlap inserts skipped because the trip pair already had an overlap",
	})

	// OverlapsExpired counts overlaps removed by expiry cleanup.
	OverlapsExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "partner_overlaps_expired_total",
		Help: "Total number of expired overlaps deleted",
	})

	// DetectionDuration records how long one detection run takes.
	DetectionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "partner_overlap_detection_seconds",
		Help:    "Overlap detection run duration in seconds",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"scope"}) // scope = "user", "trip", "all"

	// MatchRequests counts match list requests by outcome: "ok", "error".
	MatchRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "partner_match_requests_total",
		Help: "Total number of match list requests",
	}, []string{"outcome"})

	// MatchResults records how many matches each request returned.
	MatchResults = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "partner_match_results",
		Help:    "Number of matches returned per request",
		Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
	})

	// Notifications counts notification dispatch outcomes: "sent", "dropped", "failed".
	Notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "partner_notifications_total",
		Help: "Notification dispatch outcomes",
	}, []string{"outcome"})

	// JobRuns counts scheduled job executions by job and outcome ("ok", "error").
	JobRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "partner_scheduler_job_runs_total",
		Help: "Scheduled job executions",
	}, []string{"job", "outcome"})
)

func init() {
	prometheus.MustRegister(
		OverlapsCreated,
		OverlapInsertConflicts,
		OverlapsExpired,
		DetectionDuration,
		MatchRequests,
		MatchResults,
		Notifications,
		JobRuns,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

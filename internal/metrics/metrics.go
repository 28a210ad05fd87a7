// Package metrics exposes the engine's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	JobsClaimed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "driftq_jobs_claimed_total",
		Help: "Jobs claimed by workers, per queue.",
	}, []string{"queue"})

	JobsResolved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "driftq_jobs_resolved_total",
		Help: "Job resolutions, per queue and outcome.",
	}, []string{"queue", "outcome"})

	HandlerDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "driftq_handler_duration_seconds",
		Help:    "Handler execution time, per queue.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	}, []string{"queue"})

	ScheduleOccurrences = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "driftq_schedule_occurrences_total",
		Help: "Occurrences enqueued by the scheduler, per schedule key.",
	}, []string{"schedule"})
)

func init() {
	prometheus.MustRegister(JobsClaimed, JobsResolved, HandlerDuration, ScheduleOccurrences)
}

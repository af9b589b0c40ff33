package jobqueue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swapexec_jobs_processed_total",
		Help: "Jobs that completed successfully.",
	})
	jobsRetried = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swapexec_jobs_retried_total",
		Help: "Failed attempts that were re-enqueued for retry.",
	})
	jobsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swapexec_jobs_failed_total",
		Help: "Jobs that exhausted their retry budget or failed fatally.",
	})
	jobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "swapexec_job_duration_seconds",
		Help:    "Wall-clock duration of a single job attempt.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})
)

package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// jobsSubmitted counts accepted submissions by function
	jobsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mind_jobs_submitted_total",
		Help: "Total jobs submitted by function",
	}, []string{"function"})

	// jobsFinished counts completed jobs by function and terminal status
	jobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mind_jobs_finished_total",
		Help: "Total jobs finished by function and status",
	}, []string{"function", "status"})

	// jobDuration tracks wall time of job execution
	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mind_job_duration_seconds",
		Help:    "Job execution duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 14), // 0.1s to ~27min
	}, []string{"function"})

	// jobsInFlight is the number of jobs currently executing
	jobsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mind_jobs_in_flight",
		Help: "Jobs currently executing",
	})
)

package schedule

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "notifyd",
			Subsystem: "schedule",
			Name:      "active_jobs",
			Help:      "Number of armed delivery timers",
		},
	)

	jobsFired = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "notifyd",
			Subsystem: "schedule",
			Name:      "jobs_fired_total",
			Help:      "Total scheduled jobs that fired",
		},
	)

	jobsCancelled = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "notifyd",
			Subsystem: "schedule",
			Name:      "jobs_cancelled_total",
			Help:      "Total scheduled jobs cancelled before firing",
		},
	)
)

package batch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	batchesStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "notifyd",
			Subsystem: "batch",
			Name:      "started_total",
			Help:      "Total batches accepted for processing",
		},
	)

	batchesFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "notifyd",
			Subsystem: "batch",
			Name:      "finished_total",
			Help:      "Total finished batches by status",
		},
		[]string{"status"},
	)

	batchDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "notifyd",
			Subsystem: "batch",
			Name:      "deliveries_total",
			Help:      "Total per-recipient outcomes across all batches",
		},
		[]string{"outcome"},
	)
)

func recordBatchFinished(status string, sent, failed int) {
	batchesFinished.WithLabelValues(status).Inc()
	batchDeliveries.WithLabelValues("sent").Add(float64(sent))
	batchDeliveries.WithLabelValues("failed").Add(float64(failed))
}

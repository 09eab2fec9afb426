package dispatch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "notifyd"

var (
	notificationsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "delivered_total",
			Help:      "Total delivery attempts by channel type and outcome",
		},
		[]string{"channel_type", "status"},
	)

	deliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "delivery_duration_seconds",
			Help:      "Time to deliver a notification through its channel",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"channel_type"},
	)

	retriesScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "retries_scheduled_total",
			Help:      "Total retries scheduled after failed deliveries",
		},
	)

	dlqEscalations = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "dlq_escalations_total",
			Help:      "Total notifications escalated to the dead letter queue",
		},
	)

	redriverFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "redriver_fetched_total",
			Help:      "Total due notifications picked up by the re-driver",
		},
	)
)

// recordDelivered records a delivery attempt outcome.
func recordDelivered(channelType, status string) {
	notificationsDelivered.WithLabelValues(channelType, status).Inc()
}

// recordDeliveryDuration records how long a channel send took.
func recordDeliveryDuration(channelType string, duration time.Duration) {
	deliveryDuration.WithLabelValues(channelType).Observe(duration.Seconds())
}

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueueOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinic_queue_operations_total",
			Help: "Queue and waitlist operations by outcome",
		},
		[]string{"operation", "status"},
	)

	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clinic_queue_operation_duration_seconds",
			Help:    "Duration of queue and waitlist operations",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"operation"},
	)

	QueueRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinic_queue_retries_total",
			Help: "Retried queue mutations by reason",
		},
		[]string{"reason"},
	)

	WaitlistOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinic_waitlist_outcomes_total",
			Help: "Waitlist entries processed by outcome",
		},
		[]string{"outcome"},
	)

	EventsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinic_events_total",
			Help: "Queue events handed to the publisher by outcome",
		},
		[]string{"type", "status"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinic_cache_lookups_total",
			Help: "Read-through cache lookups by result",
		},
		[]string{"result"},
	)
)

// TrackOperation records one finished operation.
func TrackOperation(operation string, started time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	QueueOperations.WithLabelValues(operation, status).Inc()
	OperationDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

func Handler() http.Handler {
	return promhttp.Handler()
}

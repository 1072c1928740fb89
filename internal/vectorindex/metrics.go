package vectorindex

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "orgrag",
			Subsystem: "vectorindex",
			Name:      "operation_duration_seconds",
			Help:      "Duration of vector index operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider", "operation"},
	)

	operationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orgrag",
			Subsystem: "vectorindex",
			Name:      "operation_errors_total",
			Help:      "Total number of failed vector index operations",
		},
		[]string{"provider", "operation"},
	)

	documentsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orgrag",
			Subsystem: "vectorindex",
			Name:      "documents_written_total",
			Help:      "Total number of documents written, by write mode",
		},
		[]string{"provider", "mode"},
	)
)

// observe records one operation. Call as defer observe(p, op, time.Now(), &err).
func observe(provider, op string, start time.Time, err *error) {
	operationDuration.WithLabelValues(provider, op).Observe(time.Since(start).Seconds())
	if err != nil && *err != nil {
		operationErrors.WithLabelValues(provider, op).Inc()
	}
}

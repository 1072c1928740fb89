package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	degradedUpserts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "orgrag",
			Subsystem: "ingest",
			Name:      "degraded_upserts_total",
			Help:      "Total number of batches written with plain insert because the index lacks merge support",
		},
	)

	batchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "orgrag",
			Subsystem: "ingest",
			Name:      "batch_duration_seconds",
			Help:      "Duration of ingestion batches in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"outcome"},
	)

	chunksIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "orgrag",
			Subsystem: "ingest",
			Name:      "chunks_total",
			Help:      "Total number of chunks written to the vector index",
		},
	)

	itemsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orgrag",
			Subsystem: "ingest",
			Name:      "items_skipped_total",
			Help:      "Total number of batch items that produced no chunks",
		},
		[]string{"source"},
	)

	partialWrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "orgrag",
			Subsystem: "ingest",
			Name:      "partial_writes_total",
			Help:      "Total number of batches indexed whose metadata write failed",
		},
	)
)

// outcomeLabel classifies a finished batch for batchDuration.
func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case isPartial(err):
		return "partial"
	default:
		return "error"
	}
}

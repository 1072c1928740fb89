package retrieval

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	asks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orgrag",
			Subsystem: "retrieval",
			Name:      "asks_total",
			Help:      "Total number of questions, by outcome",
		},
		[]string{"outcome"},
	)

	searchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "orgrag",
			Subsystem: "retrieval",
			Name:      "search_duration_seconds",
			Help:      "Duration of query embedding plus index search in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	generationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "orgrag",
			Subsystem: "retrieval",
			Name:      "generation_duration_seconds",
			Help:      "Duration of answer generation in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		},
	)

	resultsReturned = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "orgrag",
			Subsystem: "retrieval",
			Name:      "results_returned",
			Help:      "Number of chunks returned per search",
			Buckets:   []float64{0, 1, 2, 3, 5, 10, 20, 50},
		},
	)
)

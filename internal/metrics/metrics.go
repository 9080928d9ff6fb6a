// Package metrics holds the Prometheus collectors for retrieval and indexing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RetrieveDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "booksearch_retrieve_duration_seconds",
			Help:    "Duration of retrieve calls in seconds",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2, 5},
		},
		[]string{"outcome"}, // ok, invalid_argument, index_unavailable, deadline_exceeded, error
	)

	GeneratorDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "booksearch_generator_duration_seconds",
			Help:    "Duration of candidate generation per source in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	CandidatesReturned = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "booksearch_candidates",
			Help:    "Number of candidates returned per source",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
		[]string{"source"},
	)

	DegradedRetrievals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booksearch_degraded_retrievals_total",
			Help: "Retrievals answered from a single source after the other failed",
		},
		[]string{"failed_source"},
	)

	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "booksearch_query_cache_hits_total",
			Help: "Total number of query cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "booksearch_query_cache_misses_total",
			Help: "Total number of query cache misses",
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "booksearch_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booksearch_circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // success, failure, caller_error, rejected
	)

	IndexedBooks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "booksearch_indexed_books",
			Help: "Number of books in the index after the last index run",
		},
	)

	IndexDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "booksearch_index_duration_seconds",
			Help:    "Duration of index runs in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)
)

func RecordRetrieve(outcome string, duration time.Duration) {
	RetrieveDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func RecordGenerator(source string, duration time.Duration, candidates int) {
	GeneratorDuration.WithLabelValues(source).Observe(duration.Seconds())
	CandidatesReturned.WithLabelValues(source).Observe(float64(candidates))
}

func RecordDegraded(failedSource string) {
	DegradedRetrievals.WithLabelValues(failedSource).Inc()
}

func RecordCache(hit bool) {
	if hit {
		CacheHits.Inc()
		return
	}
	CacheMisses.Inc()
}

func RecordIndexRun(duration time.Duration, totalBooks int) {
	IndexDuration.Observe(duration.Seconds())
	IndexedBooks.Set(float64(totalBooks))
}

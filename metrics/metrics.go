package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "animerecs_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "animerecs_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Response cache
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "animerecs_cache_hits_total",
			Help: "Total number of recommendation cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "animerecs_cache_misses_total",
			Help: "Total number of recommendation cache misses",
		},
	)

	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "animerecs_cache_errors_total",
			Help: "Cache operations that failed and were treated as a miss",
		},
		[]string{"operation"},
	)

	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "animerecs_cache_entries",
			Help: "Current number of cached recommendation pages",
		},
	)

	// Catalog
	CatalogQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "animerecs_catalog_queries_total",
			Help: "Catalog genre queries by outcome",
		},
		[]string{"genre", "outcome"},
	)

	CatalogQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "animerecs_catalog_query_duration_seconds",
			Help:    "Duration of catalog genre queries in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"genre"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "animerecs_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"name"},
	)

	// Genre scoring
	GenreSelections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "animerecs_genre_selections_total",
			Help: "How often each genre was selected for a request",
		},
		[]string{"genre"},
	)

	GenreFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "animerecs_genre_fallbacks_total",
			Help: "Requests where no genre cleared the threshold",
		},
	)

	// Rate limiting
	RateLimitDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "animerecs_rate_limit_decisions_total",
			Help: "Rate limiter decisions by limiter and result",
		},
		[]string{"limiter", "result"},
	)
)

// RecordHTTPRequest observes one served request.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordCatalogQuery observes one genre query against the catalog.
func RecordCatalogQuery(genre string, err error, duration time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	CatalogQueries.WithLabelValues(genre, outcome).Inc()
	CatalogQueryDuration.WithLabelValues(genre).Observe(duration.Seconds())
}

// RecordGenres counts the genres picked for a request.
func RecordGenres(genres []string, fallback bool) {
	for _, g := range genres {
		GenreSelections.WithLabelValues(g).Inc()
	}
	if fallback {
		GenreFallbacks.Inc()
	}
}

// RecordRateLimit counts a limiter decision ("allowed", "exceeded", "fail_open", "bypass").
func RecordRateLimit(limiter, result string) {
	RateLimitDecisions.WithLabelValues(limiter, result).Inc()
}

// SetCircuitBreakerState publishes a breaker's state as a number.
func SetCircuitBreakerState(name string, state int) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

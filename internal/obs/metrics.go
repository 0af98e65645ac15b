package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP-wide metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Gateway-specific metrics.
var (
	AuthFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_auth_failures_total",
			Help: "Authentication rejections by kind.",
		},
		[]string{"kind"},
	)

	AssertionReplays = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_assertion_replays_total",
		Help: "Host assertions rejected because their single-use id was already seen.",
	})

	ReplayCacheFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_replay_cache_fallbacks_total",
		Help: "Dedup cache operations served by the in-memory fallback after a primary error.",
	})

	PendingQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_pending_writes",
		Help: "Writes staged in the pending queue awaiting replay.",
	})

	PendingStalled = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_pending_writes_stalled",
		Help: "Pending writes that exceeded the retry budget and await operator inspection.",
	})

	SweepRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_sweep_runs_total",
			Help: "Background sweep executions by sweeper and outcome.",
		},
		[]string{"sweeper", "outcome"},
	)

	SweepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_sweep_duration_seconds",
			Help:    "Background sweep durations in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sweeper"},
	)
)

// Init registers all gateway metrics with the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		AuthFailures, AssertionReplays, ReplayCacheFallbacks,
		PendingQueueDepth, PendingStalled, SweepRuns, SweepDuration,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument wraps an HTTP handler with request count, latency and in-flight
// tracking.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Package metrics exposes the Prometheus collectors for the custodian's HTTP
// surface, swap pipeline, DCA scheduler, rate limiter and caches.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds every collector this binary exposes under /metrics.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "custodian",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "custodian",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "custodian",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "path"},
	)

	swapOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "custodian",
			Subsystem: "swap",
			Name:      "outcomes_total",
			Help:      "Total number of swap pipeline runs, by terminal frame kind.",
		},
		[]string{"outcome"},
	)

	swapDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "custodian",
			Subsystem: "swap",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of a swap pipeline run, quote to terminal frame.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"outcome"},
	)

	schedulerTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "custodian",
			Subsystem: "scheduler",
			Name:      "ticks_total",
			Help:      "Total number of DCA scheduler ticks, by outcome.",
		},
		[]string{"outcome"},
	)

	schedulerCatchup = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "custodian",
			Subsystem: "scheduler",
			Name:      "catchup_intervals",
			Help:      "Number of missed intervals replayed by a single catch-up pass.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
	)

	rateLimitDenials = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "custodian",
			Subsystem: "ratelimit",
			Name:      "denied_total",
			Help:      "Total number of requests rejected by the sliding-window limiter.",
		},
	)

	cacheAccess = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "custodian",
			Subsystem: "cache",
			Name:      "accesses_total",
			Help:      "Total number of cache lookups, by cache name and hit/miss.",
		},
		[]string{"cache", "result"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		swapOutcomes,
		swapDuration,
		schedulerTicks,
		schedulerCatchup,
		rateLimitDenials,
		cacheAccess,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an http.Handler exposing the registered collectors.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps next with inflight/request-count/duration metrics.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordSwapOutcome records one completed swap pipeline run.
func RecordSwapOutcome(outcome string, duration time.Duration) {
	if outcome == "" {
		outcome = "unknown"
	}
	swapOutcomes.WithLabelValues(outcome).Inc()
	swapDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordSchedulerTick records one scheduler loop iteration and, when it ran
// a catch-up pass, how many missed intervals it replayed.
func RecordSchedulerTick(outcome string, catchupIntervals int) {
	if outcome == "" {
		outcome = "unknown"
	}
	schedulerTicks.WithLabelValues(outcome).Inc()
	if catchupIntervals > 0 {
		schedulerCatchup.Observe(float64(catchupIntervals))
	}
}

// RecordRateLimitDenied records one request rejected by the limiter.
func RecordRateLimitDenied() {
	rateLimitDenials.Inc()
}

// RecordCacheAccess records one lookup against a named cache.
func RecordCacheAccess(cacheName string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheAccess.WithLabelValues(cacheName, result).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses path-parameter segments so requests field paths
// don't explode the requests_total cardinality with per-id label values.
func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "v1":
		if len(parts) >= 2 && parts[1] == "authorized" {
			return "/v1/authorized/:id"
		}
		if len(parts) >= 2 {
			return "/v1/" + parts[1]
		}
		return "/v1"
	case "secret", "import":
		return "/" + parts[0] + "/:token"
	default:
		return "/" + parts[0]
	}
}

// Package telemetry holds the prometheus metrics and OpenTelemetry tracing
// shared by the HTTP server and the services behind it.
package telemetry

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/TimurManjosov/querygate/internal/db"
)

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	httpDur = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	// QueriesTotal counts executed queries by outcome (ok, bad_request, failed).
	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querygate_queries_total",
			Help: "Queries handled by the query service",
		},
		[]string{"outcome"},
	)
	QueryDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "querygate_query_duration_seconds",
		Help:    "Time from acquire to last row for executed queries",
		Buckets: prometheus.DefBuckets,
	})
	QueryRows = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "querygate_query_rows",
		Help:    "Rows returned per successful query",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	})

	DatabaseUp = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "database_up",
		Help: "1 if the last health probe reached the database, 0 otherwise",
	})
	HealthChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querygate_health_checks_total",
			Help: "Health probes by resulting status",
		},
		[]string{"status"},
	)
)

var initOnce sync.Once

// Init registers the package metrics with the default registry. Safe to call
// more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(httpReqs, httpDur, QueriesTotal, QueryDuration, QueryRows, DatabaseUp, HealthChecks)
	})
}

// RegisterPool exposes pool statistics as gauges and counters.
func RegisterPool(stats func() db.Stats) error {
	return prometheus.Register(NewPoolCollector(stats))
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(ww, r)

		// route pattern is only complete once the router has matched
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}

		httpReqs.WithLabelValues(route, r.Method, http.StatusText(ww.status)).Inc()
		httpDur.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

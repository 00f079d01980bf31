package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Filter is the global Metrics Filter (§4.8). It runs at lowest precedence
// so it observes the final status, emitting a duration timer and a request
// counter labeled path/method/status, and on error an additional error
// counter labeled path/method/error_kind. Label values are bounded by
// Normalize.
type Filter struct {
	variant  Variant
	duration *prometheus.HistogramVec
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
}

// New registers the gateway's request metrics under the given common
// "application" tag (§6 Actuator surface), using variant for path
// normalization.
func New(registry prometheus.Registerer, application string, variant Variant) *Filter {
	constLabels := prometheus.Labels{"application": application}
	f := &Filter{
		variant: variant,
		duration: promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
			Name:        "gateway_request_duration_seconds",
			Help:        "Duration of gateway-handled requests.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		}, []string{"path", "method", "status"}),
		requests: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name:        "gateway_requests_total",
			Help:        "Total requests handled by the gateway.",
			ConstLabels: constLabels,
		}, []string{"path", "method", "status"}),
		errors: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name:        "gateway_request_errors_total",
			Help:        "Total requests that ended in an error response.",
			ConstLabels: constLabels,
		}, []string{"path", "method", "error_kind"}),
	}
	return f
}

// statusWriter wraps http.ResponseWriter to capture the status code
// written, mirroring the teacher's statusWriter in internal/server/middleware.go.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Middleware wraps next, recording duration/request/error metrics on every
// exit path regardless of outcome.
func (f *Filter) Middleware(errorKind func(r *http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()

			next.ServeHTTP(sw, r)

			elapsed := time.Since(start).Seconds()
			path := Normalize(r.URL.Path, f.variant)
			status := strconv.Itoa(sw.status)

			f.duration.WithLabelValues(path, r.Method, status).Observe(elapsed)
			f.requests.WithLabelValues(path, r.Method, status).Inc()

			if sw.status >= 400 {
				kind := "unknown"
				if errorKind != nil {
					if k := errorKind(r); k != "" {
						kind = k
					}
				}
				f.errors.WithLabelValues(path, r.Method, kind).Inc()
			}
		})
	}
}

// Handler exposes the Prometheus-format metrics endpoint for the actuator
// surface (§6).
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}


package pipeline

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sessiongate/gateway/internal/metrics"
)

// NewServerHandler assembles the actuator surface (§6: liveness, readiness,
// Prometheus metrics) alongside the route-dispatch Host, and wraps the
// whole thing in the global filter chain (Build).
func NewServerHandler(host *Host, metricsFilter *metrics.Filter, registry *prometheus.Registry, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", Livez)
	mux.HandleFunc("GET /readyz", host.Readyz)
	mux.Handle("GET /metrics", metrics.Handler(registry))
	mux.Handle("/", host)

	return Build(mux, metricsFilter.Middleware, logger)
}

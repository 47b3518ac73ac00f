// Package http wires the debug/ops endpoints: health probes, per-profile
// stats and Prometheus metrics. The tool surface itself is served elsewhere.
package http

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/evermem/evermem/internal/api/recovery"
)

// NewRouter assembles the debug router. The stats handler is nil when the
// memory subsystem is degraded; its route is simply not registered.
func NewRouter(health *HealthHandler, stats *StatsHandler) *mux.Router {
	r := mux.NewRouter()
	r.Use(recovery.Middleware)

	r.HandleFunc("/healthz", health.Health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	if stats != nil {
		r.HandleFunc("/v1/profiles/{profileId}/stats", stats.ProfileStats).Methods(http.MethodGet)
	}
	return r
}

package api

import (
	"net/http"

	"github.com/cachehub/mirror/pkg/metrics"
)

// handleMetricsText exposes the Prometheus text-format metrics under the
// control API too, alongside the router's top-level /metrics endpoint
// (4.I: "GET /api/v2/metrics").
func (a *API) handleMetricsText(w http.ResponseWriter, r *http.Request) {
	metrics.Handler().ServeHTTP(w, r)
}

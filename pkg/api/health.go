package api

import (
	"net/http"

	"github.com/cachehub/mirror/pkg/apierr"
)

func (a *API) handleHealthSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"state":     a.Lifecycle.State().String(),
		"in_flight": a.Lifecycle.InFlight(),
	})
}

func (a *API) handleHealthSources(w http.ResponseWriter, r *http.Request) {
	ecosystem := r.URL.Query().Get("ecosystem")
	if a.Failover == nil {
		writeJSON(w, http.StatusOK, map[string]any{"sources": []any{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": a.Failover.Stats(ecosystem)})
}

func (a *API) handleHealthCheckNow(w http.ResponseWriter, r *http.Request) {
	ecosystem := r.PathValue("ecosystem")
	if a.Failover == nil {
		apierr.WriteJSON(w, apierr.New(apierr.Internal, "failover manager not configured"))
		return
	}
	a.Failover.CheckNow(r.Context(), ecosystem)
	writeJSON(w, http.StatusOK, map[string]any{"ecosystem": ecosystem, "sources": a.Failover.Stats(ecosystem)})
}

func (a *API) handleFailoverHistory(w http.ResponseWriter, r *http.Request) {
	if a.Failover == nil {
		writeJSON(w, http.StatusOK, map[string]any{"events": []any{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": a.Failover.Events()})
}

// handleFailoverForce triggers an immediate recheck of the named
// ecosystem, which promotes the next healthy source if the active one is
// currently failing its threshold (4.G).
func (a *API) handleFailoverForce(w http.ResponseWriter, r *http.Request) {
	ecosystem := r.PathValue("ecosystem")
	if a.Failover == nil {
		apierr.WriteJSON(w, apierr.New(apierr.Internal, "failover manager not configured"))
		return
	}
	a.Failover.CheckNow(r.Context(), ecosystem)
	name, url, _ := a.Failover.Active(ecosystem)
	writeJSON(w, http.StatusOK, map[string]any{"ecosystem": ecosystem, "active_name": name, "active_url": url})
}

package api

import (
	"net/http"

	"github.com/cachehub/mirror/pkg/apierr"
)

// handleListMirrors reports the configured upstream priority list per
// ecosystem alongside the failover manager's currently active source.
func (a *API) handleListMirrors(w http.ResponseWriter, r *http.Request) {
	cfg := a.Config.Get()
	byEcosystem := make(map[string][]map[string]any)
	for _, m := range cfg.Mirrors {
		active := false
		if a.Failover != nil {
			if name, _, ok := a.Failover.Active(m.Ecosystem); ok {
				active = name == m.Name
			}
		}
		byEcosystem[m.Ecosystem] = append(byEcosystem[m.Ecosystem], map[string]any{
			"name":          m.Name,
			"upstream_base": m.UpstreamBase,
			"priority":      m.Priority,
			"active":        active,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"mirrors": byEcosystem})
}

// handleEnableMirror is a placeholder admin toggle; mirrors are currently
// enabled by presence in config.Mirrors rather than a separate flag, so
// this confirms the named mirror exists and returns it.
func (a *API) handleEnableMirror(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	cfg := a.Config.Get()
	for _, m := range cfg.Mirrors {
		if m.Name == name {
			writeJSON(w, http.StatusOK, m)
			return
		}
	}
	apierr.WriteJSON(w, apierr.New(apierr.NotFound, "mirror not found"))
}

// handleRefreshMirror forces an immediate health check + possible failover
// re-evaluation for the ecosystem the named mirror belongs to.
func (a *API) handleRefreshMirror(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	cfg := a.Config.Get()
	for _, m := range cfg.Mirrors {
		if m.Name == name {
			if a.Failover != nil {
				a.Failover.CheckNow(r.Context(), m.Ecosystem)
			}
			writeJSON(w, http.StatusAccepted, map[string]any{"ecosystem": m.Ecosystem, "refreshed": true})
			return
		}
	}
	apierr.WriteJSON(w, apierr.New(apierr.NotFound, "mirror not found"))
}

package api

import (
	"net/http"
	"time"

	"github.com/cachehub/mirror/pkg/apierr"
)

func (a *API) handleServerInfo(w http.ResponseWriter, r *http.Request) {
	ecosystems := make([]string, 0, len(a.Adapters))
	for name := range a.Adapters {
		ecosystems = append(ecosystems, name)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version":    a.Version,
		"started_at": a.StartedAt,
		"uptime_s":   time.Since(a.StartedAt).Seconds(),
		"state":      a.Lifecycle.State().String(),
		"in_flight":  a.Lifecycle.InFlight(),
		"ecosystems": ecosystems,
	})
}

func (a *API) handleMonitoringRealtime(w http.ResponseWriter, r *http.Request) {
	if a.Monitor == nil {
		apierr.WriteJSON(w, apierr.New(apierr.Internal, "monitor sampler not configured"))
		return
	}
	writeJSON(w, http.StatusOK, a.Monitor.Snapshot())
}

func (a *API) handleMonitoringHistory(w http.ResponseWriter, r *http.Request) {
	since := time.Now().Add(-time.Hour)
	if v := r.URL.Query().Get("since_minutes"); v != "" {
		if mins, err := time.ParseDuration(v + "m"); err == nil {
			since = time.Now().Add(-mins)
		}
	}
	samples, err := a.Metadata.MonitorSamplesSince(since)
	if err != nil {
		apierr.WriteJSON(w, apierr.Wrap(apierr.Internal, "loading monitor history", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"samples": samples})
}

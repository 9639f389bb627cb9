package api

import "net/http"

// handleListAlerts reports the alert evaluator's bounded history. Dispatch
// to external channels (email, Slack) is out of scope per spec.md's
// Non-goals; this exposes evaluation results only.
func (a *API) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	if a.Alerts == nil {
		writeJSON(w, http.StatusOK, map[string]any{"alerts": []any{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": a.Alerts.History()})
}

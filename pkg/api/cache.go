package api

import (
	"encoding/json"
	"net/http"

	"github.com/cachehub/mirror/pkg/apierr"
	"github.com/cachehub/mirror/pkg/prewarm"
)

func (a *API) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.Store.Stats()
	if err != nil {
		apierr.WriteJSON(w, apierr.Wrap(apierr.Internal, "reading cache stats", err))
		return
	}
	perEco := make(map[string]map[string]int64, len(a.Adapters))
	for name, ad := range a.Adapters {
		files, bytes := ad.CacheStats()
		perEco[name] = map[string]int64{"files": files, "bytes": bytes}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_files": stats.FileCount,
		"total_bytes": stats.TotalBytes,
		"ecosystems":  perEco,
	})
}

func (a *API) handleCacheUsage(w http.ResponseWriter, r *http.Request) {
	files, bytes, err := a.Metadata.CacheUsage()
	if err != nil {
		apierr.WriteJSON(w, apierr.Wrap(apierr.Internal, "reading cache usage", err))
		return
	}
	if a.Monitor != nil {
		a.Alerts.EvaluateDiskUsage(a.Monitor.Snapshot().DiskPercent)
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files, "bytes": bytes})
}

// handleCacheClean evicts a single cache key via ?key=, matching the
// content store's key-scoped Evict (bulk sweeping is the sweeper's job,
// not an admin-triggered operation per spec.md's Non-goals).
func (a *API) handleCacheClean(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		apierr.WriteJSON(w, apierr.New(apierr.BadRequest, "key is required"))
		return
	}
	if err := a.Store.Evict(key); err != nil {
		apierr.WriteJSON(w, apierr.Wrap(apierr.Internal, "evicting key", err))
		return
	}
	_ = a.Metadata.DeleteCacheRecord(key)
	w.WriteHeader(http.StatusNoContent)
}

// handleCachePrewarm runs the configured Prewarmer against the requested
// targets (4.H).
func (a *API) handleCachePrewarm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Targets []prewarm.Target `json:"targets"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteJSON(w, apierr.Wrap(apierr.BadRequest, "decoding request", err))
		return
	}
	if a.Prewarmer == nil {
		apierr.WriteJSON(w, apierr.New(apierr.Internal, "prewarmer not configured"))
		return
	}
	summary := a.Prewarmer.Run(r.Context(), req.Targets)
	writeJSON(w, http.StatusOK, summary)
}

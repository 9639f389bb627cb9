package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/cachehub/mirror/pkg/apierr"
	"github.com/cachehub/mirror/pkg/lifecycle"
)

// pendingRestart tracks a requested-but-unconfirmed restart, mirroring the
// two-step confirm flow spec.md's restart group exposes
// (POST /restart then POST /restart/confirm).
type pendingRestart struct {
	mu       sync.Mutex
	reason   string
	strategy lifecycle.Strategy
	at       time.Time
	pending  bool
}

func (a *API) handleRestart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason   string `json:"reason"`
		Strategy string `json:"strategy"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	strategy := lifecycle.StrategyGraceful
	if req.Strategy != "" {
		strategy = lifecycle.Strategy(req.Strategy)
	}

	a.restart.mu.Lock()
	a.restart.reason = req.Reason
	a.restart.strategy = strategy
	a.restart.at = time.Now()
	a.restart.pending = true
	a.restart.mu.Unlock()

	writeJSON(w, http.StatusAccepted, map[string]any{"pending": true, "strategy": strategy, "reason": req.Reason})
}

func (a *API) handleRestartConfirm(w http.ResponseWriter, r *http.Request) {
	a.restart.mu.Lock()
	if !a.restart.pending {
		a.restart.mu.Unlock()
		apierr.WriteJSON(w, apierr.New(apierr.Conflict, "no restart pending"))
		return
	}
	reason := a.restart.reason
	strategy := a.restart.strategy
	a.restart.pending = false
	a.restart.mu.Unlock()

	a.Lifecycle.Strategy = strategy
	a.Lifecycle.RecordRestart(reason)
	go a.Lifecycle.Shutdown(r.Context())

	writeJSON(w, http.StatusAccepted, map[string]any{"confirmed": true})
}

func (a *API) handleRestartImmediate(w http.ResponseWriter, r *http.Request) {
	a.Lifecycle.Strategy = lifecycle.StrategyImmediate
	a.Lifecycle.RecordRestart("immediate restart requested")
	go a.Lifecycle.Shutdown(r.Context())
	writeJSON(w, http.StatusAccepted, map[string]any{"confirmed": true, "strategy": lifecycle.StrategyImmediate})
}

func (a *API) handleRestartPending(w http.ResponseWriter, r *http.Request) {
	a.restart.mu.Lock()
	defer a.restart.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"pending":  a.restart.pending,
		"reason":   a.restart.reason,
		"strategy": a.restart.strategy,
		"at":       a.restart.at,
	})
}

func (a *API) handleRestartHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"history": a.Lifecycle.RestartHistory()})
}

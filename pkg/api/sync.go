package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/cachehub/mirror/pkg/apierr"
)

// handleSyncSources reports per-source sync progress tracked by the
// scheduler, covering both scheduled tasks and ad-hoc temp syncs (4.F).
func (a *API) handleSyncSources(w http.ResponseWriter, r *http.Request) {
	cfg := a.Config.Get()
	out := make(map[string]any, len(cfg.Mirrors))
	for _, m := range cfg.Mirrors {
		if p := a.Scheduler.Progress(m.Name); p != nil {
			out[m.Name] = p
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": out, "pending_ops": a.Scheduler.PendingCount()})
}

func (a *API) handleSyncStart(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	a.Bus.Publish("sync."+name, map[string]any{"event": "start_requested"})
	writeJSON(w, http.StatusAccepted, map[string]any{"source": name, "status": "start_requested"})
}

func (a *API) handleSyncStop(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	a.Bus.Publish("sync."+name, map[string]any{"event": "stop_requested"})
	writeJSON(w, http.StatusAccepted, map[string]any{"source": name, "status": "stop_requested"})
}

// handleSyncStatus reports the named source's progress, or long-polls the
// event bus for up to the request's context deadline if no progress yet
// exists, replacing the Python original's websocket push (ws_handler.py).
func (a *API) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if p := a.Scheduler.Progress(name); p != nil {
		writeJSON(w, http.StatusOK, p)
		return
	}

	ch, cancel := a.Bus.Subscribe("sync." + name)
	defer cancel()
	select {
	case ev := <-ch:
		writeJSON(w, http.StatusOK, ev.Payload)
	case <-r.Context().Done():
		apierr.WriteJSON(w, apierr.New(apierr.NotFound, "no progress recorded for source"))
	}
}

// handleSyncPackages triggers an ad-hoc temp sync for a specific list of
// package items (4.F's SyncPackages first-class operation).
func (a *API) handleSyncPackages(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SourceType string   `json:"source_type"`
		Source     string   `json:"source"`
		Items      []string `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteJSON(w, apierr.Wrap(apierr.BadRequest, "decoding request", err))
		return
	}
	if len(req.Items) == 0 {
		apierr.WriteJSON(w, apierr.New(apierr.BadRequest, "items is required"))
		return
	}

	fetch := func(ctx context.Context, item string) error {
		ad, ok := a.Adapters[req.SourceType]
		if !ok {
			return apierr.New(apierr.BadRequest, "unknown ecosystem: "+req.SourceType)
		}
		rec, err := http.NewRequestWithContext(ctx, http.MethodGet, "/"+item, nil)
		if err != nil {
			return err
		}
		rw := &discardResponseWriter{headers: make(http.Header)}
		if err := ad.Handle(ctx, rw, rec, item); err != nil {
			return err
		}
		if rw.status >= 400 {
			return apierr.New(apierr.BadGateway, "upstream fetch failed")
		}
		return nil
	}

	run, err := a.Scheduler.SyncPackages(r.Context(), req.SourceType, req.Source, req.Items, fetch)
	if err != nil {
		apierr.WriteJSON(w, apierr.Wrap(apierr.Internal, "running package sync", err))
		return
	}
	a.Bus.Publish("sync."+req.Source, run)
	writeJSON(w, http.StatusAccepted, run)
}

// discardResponseWriter satisfies http.ResponseWriter for adapter.Handle
// calls driven internally rather than from a real client connection.
type discardResponseWriter struct {
	headers http.Header
	status  int
}

func (d *discardResponseWriter) Header() http.Header         { return d.headers }
func (d *discardResponseWriter) Write(b []byte) (int, error) { return len(b), nil }
func (d *discardResponseWriter) WriteHeader(status int)      { d.status = status }

package api

import (
	"encoding/json"
	"net/http"

	"github.com/cachehub/mirror/pkg/apierr"
)

func (a *API) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg := a.Config.Get()
	cfg.DB.Pass = ""
	cfg.Server.SessionSecret = ""
	cfg.Server.StaticPass = ""
	writeJSON(w, http.StatusOK, cfg)
}

// handlePutConfig replaces in-memory config with the posted JSON. It does
// not persist to disk; use config/reload to re-merge from settings.json
// and the environment.
func (a *API) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	cfg := a.Config.Get()
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		apierr.WriteJSON(w, apierr.Wrap(apierr.BadRequest, "decoding config", err))
		return
	}
	a.Config.Set(cfg)
	writeJSON(w, http.StatusOK, cfg)
}

func (a *API) handleReloadConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SettingsPath string `json:"settings_path"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	cfg, err := a.Config.Reload(req.SettingsPath)
	if err != nil {
		apierr.WriteJSON(w, apierr.Wrap(apierr.Internal, "reloading config", err))
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

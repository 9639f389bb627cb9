package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cachehub/mirror/pkg/apierr"
	"github.com/cachehub/mirror/pkg/types"
)

// handleLogin validates stored-user credentials (the configured static
// user is not accepted here; only the router's Basic auth check knows it)
// and, on success, mints a signed session cookie via the request router's session
// table so subsequent requests authenticate through the cookie path
// (4.E's auth validation order).
func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteJSON(w, apierr.Wrap(apierr.BadRequest, "decoding login request", err))
		return
	}

	user, err := a.Metadata.GetUser(req.Username)
	if err != nil || user == nil || !user.Enabled {
		a.recordLogin(req.Username, r, types.LoginFailed, "unknown or disabled user")
		apierr.WriteJSON(w, apierr.New(apierr.Unauthorized, "invalid credentials"))
		return
	}
	if user.LockedUntil != nil && time.Now().Before(*user.LockedUntil) {
		a.recordLogin(req.Username, r, types.LoginLocked, "account locked")
		apierr.WriteJSON(w, apierr.New(apierr.Forbidden, "account locked"))
		return
	}
	if !verifyPassword(user.PasswordHash, req.Password) {
		user.FailedAttempts++
		_ = a.Metadata.UpdateUser(user)
		a.recordLogin(req.Username, r, types.LoginFailed, "bad password")
		apierr.WriteJSON(w, apierr.New(apierr.Unauthorized, "invalid credentials"))
		return
	}

	now := time.Now()
	user.LastLogin = &now
	user.LoginCount++
	user.FailedAttempts = 0
	_ = a.Metadata.UpdateUser(user)
	a.recordLogin(req.Username, r, types.LoginSuccess, "")

	if a.Router != nil {
		cookie := a.Router.CreateSession(req.Username)
		http.SetCookie(w, &http.Cookie{
			Name:     a.Router.SessionCookieName,
			Value:    cookie,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"username": user.Username, "role": user.Role})
}

func (a *API) recordLogin(username string, r *http.Request, status types.LoginStatus, reason string) {
	_ = a.Metadata.RecordLogin(&types.LoginLog{
		Username:  username,
		IP:        r.RemoteAddr,
		UserAgent: r.UserAgent(),
		Status:    status,
		Reason:    reason,
		At:        time.Now(),
	})
}

// handleChangePassword updates the calling user's password hash. The
// caller must already be authenticated (the route sits under a protected
// prefix); it identifies itself by username in the request body rather
// than re-deriving it from context, matching the router's auth gate,
// which does not thread the authenticated username past itself yet.
func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username    string `json:"username"`
		OldPassword string `json:"old_password"`
		NewPassword string `json:"new_password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteJSON(w, apierr.Wrap(apierr.BadRequest, "decoding request", err))
		return
	}

	user, err := a.Metadata.GetUser(req.Username)
	if err != nil || user == nil {
		apierr.WriteJSON(w, apierr.New(apierr.NotFound, "user not found"))
		return
	}
	if !verifyPassword(user.PasswordHash, req.OldPassword) {
		apierr.WriteJSON(w, apierr.New(apierr.Unauthorized, "old password does not match"))
		return
	}

	newHash, err := hashPassword(req.NewPassword)
	if err != nil {
		apierr.WriteJSON(w, apierr.Wrap(apierr.Internal, "hashing new password", err))
		return
	}
	user.PasswordHash = newHash
	if err := a.Metadata.UpdateUser(user); err != nil {
		apierr.WriteJSON(w, apierr.Wrap(apierr.Internal, "updating user", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

package router

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/cachehub/mirror/pkg/types"
)

const sessionMaxAge = 24 * time.Hour

// protectedPrefixes lists the URL prefixes that require authentication per
// 4.E for every method: admin, config, restart, webhooks (reads included),
// and API keys. isProtected also requires authentication for every
// non-GET/HEAD request under /api/v1/ or /api/v2/. Everything else
// (listings, search, downloads, health, read-only stats) is public.
var protectedPrefixes = []string{
	"/api/v1/admin",
	"/api/v2/admin",
	"/api/v1/config",
	"/api/v2/config",
	"/api/v1/restart",
	"/api/v2/restart",
	"/api/v1/webhooks",
	"/api/v2/webhooks",
	"/api/v1/auth/apikeys",
	"/api/v2/auth/apikeys",
}

func isProtected(r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead &&
		(strings.HasPrefix(r.URL.Path, "/api/v1/") || strings.HasPrefix(r.URL.Path, "/api/v2/")) {
		return true
	}
	path := strings.ToLower(r.URL.Path)
	for _, p := range protectedPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// checkIPAllowList reports whether r's remote address is permitted. An
// empty allow-list means the gate is disabled (all IPs pass).
func checkIPAllowList(allow []string, r *http.Request) bool {
	if len(allow) == 0 {
		return true
	}
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		host = h
	}
	ip := net.ParseIP(host)
	for _, entry := range allow {
		if entry == host {
			return true
		}
		if _, cidr, err := net.ParseCIDR(entry); err == nil && ip != nil && cidr.Contains(ip) {
			return true
		}
	}
	return false
}

// authenticate runs the validation order 4.E specifies: Bearer, Basic,
// X-API-Key, session cookie, query key. First success wins. It returns the
// identified username (empty for a pure bearer/API-key match without a
// user record) and whether any method succeeded.
func (rt *Router) authenticate(r *http.Request) (username string, ok bool) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, found := strings.CutPrefix(auth, "Bearer "); found {
			if rt.checkAPIKey(token) {
				return "", true
			}
		} else if userPass, found := strings.CutPrefix(auth, "Basic "); found {
			if u, p, ok2 := parseBasicAuth(userPass); ok2 {
				if rt.checkBasicAuth(u, p) {
					return u, true
				}
			}
		}
	}

	if key := r.Header.Get("X-API-Key"); key != "" {
		if rt.checkAPIKey(key) {
			return "", true
		}
	}

	if rt.SessionCookieName != "" {
		if c, err := r.Cookie(rt.SessionCookieName); err == nil {
			if user, ok2 := rt.checkSessionCookie(c.Value); ok2 {
				return user, true
			}
		}
	}

	if key := r.URL.Query().Get("key"); key != "" {
		if rt.checkAPIKey(key) {
			return "", true
		}
	}

	return "", false
}

func (rt *Router) checkAPIKey(token string) bool {
	if rt.Metadata == nil {
		return false
	}
	hash := hashToken(token)
	key, err := rt.Metadata.GetAPIKeyByHash(hash)
	if err != nil || key == nil {
		return false
	}
	if !key.Enabled {
		return false
	}
	if key.ExpiresAt != nil && time.Now().After(*key.ExpiresAt) {
		return false
	}
	_ = rt.Metadata.TouchAPIKeyUse(key.KeyID, time.Now())
	return true
}

func (rt *Router) checkBasicAuth(user, pass string) bool {
	if rt.StaticUser != "" && subtle.ConstantTimeCompare([]byte(user), []byte(rt.StaticUser)) == 1 &&
		subtle.ConstantTimeCompare([]byte(pass), []byte(rt.StaticPass)) == 1 {
		return true
	}
	if rt.Metadata == nil {
		return false
	}
	u, err := rt.Metadata.GetUser(user)
	if err != nil || u == nil || !u.Enabled {
		return false
	}
	if u.LockedUntil != nil && time.Now().Before(*u.LockedUntil) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(pass)) == nil
}

func (rt *Router) checkSessionCookie(value string) (user string, ok bool) {
	parts := strings.SplitN(value, ".", 3)
	if len(parts) != 3 {
		return "", false
	}
	sessionID := parts[0]
	userID, found := rt.sessionUser(sessionID)
	if !found {
		return "", false
	}
	if _, ok2 := verifySessionCookie(rt.SessionSecret, value, userID, sessionMaxAge); !ok2 {
		return "", false
	}
	return userID, true
}

// recordLogin writes a login audit entry best-effort (4.E's user table).
func (rt *Router) recordLogin(username string, r *http.Request, status types.LoginStatus, reason string) {
	if rt.Metadata == nil {
		return
	}
	_ = rt.Metadata.RecordLogin(&types.LoginLog{
		Username:  username,
		IP:        r.RemoteAddr,
		UserAgent: r.UserAgent(),
		Status:    status,
		Reason:    reason,
		At:        time.Now(),
	})
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// parseBasicAuth decodes the base64 "user:pass" payload that follows
// "Basic " in an Authorization header.
func parseBasicAuth(encoded string) (user, pass string, ok bool) {
	req := &http.Request{Header: http.Header{"Authorization": []string{"Basic " + encoded}}}
	return req.BasicAuth()
}

// Package router implements the request router (spec 4.E): ecosystem
// dispatch, CORS, the safe-path/static-file/directory-listing path, and the
// authentication gate guarding protected endpoints.
package router

import (
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/cachehub/mirror/pkg/adapter"
	"github.com/cachehub/mirror/pkg/metadata"
	"github.com/cachehub/mirror/pkg/metrics"
)

func newSessionID() string { return uuid.NewString() }

// Router dispatches incoming requests to the ecosystem adapter named by
// the first path segment, or to the static file tree / control API
// otherwise.
type Router struct {
	mux *http.ServeMux

	adapters map[string]adapter.Adapter
	order    []string // registration order, for the index page

	Metadata metadata.Backend
	sessions *sessionTable

	BaseDir          string
	DirectoryListing bool

	CORSOrigins []string
	IPAllowList []string

	SessionCookieName string
	SessionSecret     string
	StaticUser        string
	StaticPass        string

	RateLimitPerMin int
	limiter         *rateLimiter

	APIHandler http.Handler // control API (4.I), mounted under /api/
}

// New builds a Router. adapters maps ecosystem name to its adapter
// (registered under "/<name>/..."); order controls index-page listing.
func New(adapters map[string]adapter.Adapter, order []string) *Router {
	rt := &Router{
		mux:               http.NewServeMux(),
		adapters:          adapters,
		order:             order,
		sessions:          newSessionTable(),
		SessionCookieName: "mirror_session",
		DirectoryListing:  true,
	}
	rt.mux.HandleFunc("/", rt.route)
	return rt
}

// SetRateLimit installs a per-IP request-per-minute cap enforced
// unconditionally at route entry, before the IP allow-list and the auth
// gate (9: rate limiting must not depend on which branch a request takes
// through the router). perMin <= 0 disables the limiter.
func (rt *Router) SetRateLimit(perMin int) {
	rt.RateLimitPerMin = perMin
	rt.limiter = newRateLimiter(perMin)
}

// Handler returns the route dispatcher. It does not count in-flight
// requests (4.J); the caller wraps it with lifecycle.Manager.Middleware
// for that, since the counter is owned by pkg/lifecycle.
func (rt *Router) Handler() http.Handler { return rt.mux }

func (rt *Router) route(w http.ResponseWriter, r *http.Request) {
	rt.applyCORS(w, r)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if rt.limiter != nil && !rt.limiter.allow(r) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	if !checkIPAllowList(rt.IPAllowList, r) {
		http.Error(w, "forbidden: ip not allowed", http.StatusForbidden)
		return
	}

	if isProtected(r) {
		username, ok := rt.authenticate(r)
		if !ok {
			rt.recordLogin("", r, "failed", "missing or invalid credentials")
			w.Header().Set("WWW-Authenticate", `Basic realm="mirror"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if username != "" {
			rt.recordLogin(username, r, "success", "")
		}
	}

	if rt.APIHandler != nil && (strings.HasPrefix(r.URL.Path, "/api/v1/") || strings.HasPrefix(r.URL.Path, "/api/v2/")) {
		rt.APIHandler.ServeHTTP(w, r)
		return
	}

	if strings.HasPrefix(r.URL.Path, "/metrics") {
		metrics.Handler().ServeHTTP(w, r)
		return
	}
	switch r.URL.Path {
	case "/health":
		metrics.HealthHandler()(w, r)
		return
	case "/ready":
		metrics.ReadyHandler()(w, r)
		return
	case "/live":
		metrics.LivenessHandler()(w, r)
		return
	}

	ecosystem, subpath, ok := splitEcosystem(r.URL.Path)
	if ok {
		if a, found := rt.adapters[ecosystem]; found {
			if err := a.Handle(r.Context(), w, r, subpath); err != nil {
				log.Printf("router: %s: %v", ecosystem, err)
			}
			return
		}
	}

	rt.serveStatic(w, r)
}

// splitEcosystem lowercases the first path segment for matching (4.E)
// while preserving the remainder's original case for the adapter, since
// file paths are case-sensitive even though routing is not.
func splitEcosystem(urlPath string) (ecosystem, subpath string, ok bool) {
	trimmed := strings.TrimPrefix(urlPath, "/")
	idx := strings.IndexByte(trimmed, '/')
	if idx < 0 {
		return strings.ToLower(trimmed), "", trimmed != ""
	}
	return strings.ToLower(trimmed[:idx]), trimmed[idx+1:], true
}

func (rt *Router) applyCORS(w http.ResponseWriter, r *http.Request) {
	origin := "*"
	if len(rt.CORSOrigins) > 0 {
		origin = ""
		reqOrigin := r.Header.Get("Origin")
		for _, o := range rt.CORSOrigins {
			if o == "*" || o == reqOrigin {
				origin = reqOrigin
				break
			}
		}
		if origin == "" {
			return
		}
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Authorization, X-API-Key, Content-Type")
}

// serveStatic serves files directly out of BaseDir, with a safe-path check
// against traversal, Range support (delegated to http.ServeFile, which
// implements 206 itself), and directory listing per 4.E.
func (rt *Router) serveStatic(w http.ResponseWriter, r *http.Request) {
	if rt.BaseDir == "" {
		http.NotFound(w, r)
		return
	}

	cleaned := filepath.Clean("/" + r.URL.Path)
	fullPath := filepath.Join(rt.BaseDir, cleaned)
	if !strings.HasPrefix(fullPath, filepath.Clean(rt.BaseDir)+string(filepath.Separator)) && fullPath != filepath.Clean(rt.BaseDir) {
		http.Error(w, "forbidden: invalid path", http.StatusForbidden)
		return
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		if cleaned == "/" {
			rt.serveIndex(w, r)
			return
		}
		http.NotFound(w, r)
		return
	}

	if info.IsDir() {
		if !rt.DirectoryListing {
			http.Error(w, "forbidden: directory listing disabled", http.StatusForbidden)
			return
		}
		if err := serveDirListing(w, cleaned, fullPath); err != nil {
			log.Printf("router: dir listing %s: %v", cleaned, err)
		}
		return
	}

	http.ServeFile(w, r, fullPath)
}

// serveIndex renders a minimal landing page listing registered ecosystems,
// used when no static base dir content exists for "/".
func (rt *Router) serveIndex(w http.ResponseWriter, r *http.Request) {
	names := append([]string(nil), rt.order...)
	sort.Strings(names)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("cachehub mirror\n\necosystems:\n"))
	for _, n := range names {
		w.Write([]byte("  /" + n + "/\n"))
	}
}

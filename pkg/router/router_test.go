package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cachehub/mirror/pkg/adapter"
	"github.com/cachehub/mirror/pkg/metadata"
	"github.com/cachehub/mirror/pkg/types"
)

type stubAdapter struct {
	name string
}

func (s *stubAdapter) Name() string { return s.name }
func (s *stubAdapter) Handle(ctx context.Context, w http.ResponseWriter, r *http.Request, subpath string) error {
	w.Write([]byte("served:" + s.name + ":" + subpath))
	return nil
}
func (s *stubAdapter) CacheStats() (int64, int64) { return 0, 0 }

func newTestRouter(t *testing.T) (*Router, metadata.Backend) {
	t.Helper()
	dir := t.TempDir()
	meta, err := metadata.NewBoltBackend(filepath.Join(dir, "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })

	rt := New(map[string]adapter.Adapter{
		"pypi": &stubAdapter{name: "pypi"},
	}, []string{"pypi"})
	rt.Metadata = meta
	rt.SessionSecret = "test-secret"
	rt.StaticUser = "admin"
	rt.StaticPass = "hunter2"
	rt.BaseDir = filepath.Join(dir, "static")
	require.NoError(t, os.MkdirAll(rt.BaseDir, 0o755))
	return rt, meta
}

func TestRouterDispatchesToAdapter(t *testing.T) {
	rt, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/pypi/simple/requests/", nil)
	w := httptest.NewRecorder()
	rt.Handler().ServeHTTP(w, req)

	require.Equal(t, "served:pypi:simple/requests/", w.Body.String())
}

func TestRouterAppliesCORS(t *testing.T) {
	rt, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/pypi/x", nil)
	w := httptest.NewRecorder()
	rt.Handler().ServeHTTP(w, req)

	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouterRejectsUnauthenticatedProtectedRequest(t *testing.T) {
	rt, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks", nil)
	w := httptest.NewRecorder()
	rt.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouterAcceptsBasicAuthForProtectedRequest(t *testing.T) {
	rt, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks", nil)
	req.SetBasicAuth("admin", "hunter2")
	w := httptest.NewRecorder()
	rt.Handler().ServeHTTP(w, req)

	require.NotEqual(t, http.StatusUnauthorized, w.Code)
}

func TestRouterAcceptsAPIKeyForProtectedRequest(t *testing.T) {
	rt, meta := newTestRouter(t)

	key := &types.AdminAPIKey{KeyID: "k1", KeyHash: hashToken("secret-token"), Name: "ci", Enabled: true}
	require.NoError(t, meta.CreateAPIKey(key))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks", nil)
	req.Header.Set("X-API-Key", "secret-token")
	w := httptest.NewRecorder()
	rt.Handler().ServeHTTP(w, req)

	require.NotEqual(t, http.StatusUnauthorized, w.Code)
}

func TestRouterAcceptsSessionCookie(t *testing.T) {
	rt, _ := newTestRouter(t)

	cookieValue := rt.CreateSession("alice")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks", nil)
	req.AddCookie(&http.Cookie{Name: rt.SessionCookieName, Value: cookieValue})
	w := httptest.NewRecorder()
	rt.Handler().ServeHTTP(w, req)

	require.NotEqual(t, http.StatusUnauthorized, w.Code)
}

func TestRouterBlocksDisallowedIP(t *testing.T) {
	rt, _ := newTestRouter(t)
	rt.IPAllowList = []string{"10.0.0.1"}

	req := httptest.NewRequest(http.MethodGet, "/pypi/x", nil)
	req.RemoteAddr = "192.168.1.5:1234"
	w := httptest.NewRecorder()
	rt.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestServeStaticDirectoryListing(t *testing.T) {
	rt, _ := newTestRouter(t)
	require.NoError(t, os.WriteFile(filepath.Join(rt.BaseDir, "b.txt"), []byte("b"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(rt.BaseDir, "Adir"), 0o755))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	rt.Handler().ServeHTTP(w, req)

	require.Contains(t, w.Body.String(), "Adir")
	require.Contains(t, w.Body.String(), "b.txt")
}

func TestServeStaticRejectsTraversal(t *testing.T) {
	rt, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/../../etc/passwd", nil)
	w := httptest.NewRecorder()
	rt.Handler().ServeHTTP(w, req)

	require.NotEqual(t, http.StatusOK, w.Code)
}

func TestRateLimitRejectsBurstAboveLimit(t *testing.T) {
	rt, _ := newTestRouter(t)
	rt.SetRateLimit(2)

	req := httptest.NewRequest(http.MethodGet, "/pypi/x", nil)
	req.RemoteAddr = "203.0.113.9:5555"

	var codes []int
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		rt.Handler().ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	require.Contains(t, codes, http.StatusTooManyRequests)
}

func TestRateLimitDisabledByDefault(t *testing.T) {
	rt, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/pypi/x", nil)
	for i := 0; i < 10; i++ {
		w := httptest.NewRecorder()
		rt.Handler().ServeHTTP(w, req)
		require.NotEqual(t, http.StatusTooManyRequests, w.Code)
	}
}

func TestSplitEcosystemLowercasesPrefixOnly(t *testing.T) {
	eco, subpath, ok := splitEcosystem("/PyPI/Simple/MixedCase/")
	require.True(t, ok)
	require.Equal(t, "pypi", eco)
	require.Equal(t, "Simple/MixedCase/", subpath)
}

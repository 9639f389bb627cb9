package pypi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cachehub/mirror/pkg/adapter"
	"github.com/cachehub/mirror/pkg/fetcher"
	"github.com/cachehub/mirror/pkg/store"
)

func newTestAdapter(t *testing.T, upstream *httptest.Server) *Adapter {
	t.Helper()
	st, err := store.New(t.TempDir())
	require.NoError(t, err)
	deps := adapter.Deps{Store: st, Fetcher: fetcher.New("")}
	return New(deps, upstream.URL+"/simple")
}

func TestServePackageIndexRewritesRelativeLinks(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<!DOCTYPE html><html><body>
<a href="../../packages/aa/bb/cc/requests-2.31.0.tar.gz#sha256=deadbeef">requests-2.31.0.tar.gz</a>
</body></html>`))
	}))
	defer upstream.Close()

	a := newTestAdapter(t, upstream)
	req := httptest.NewRequest(http.MethodGet, "/simple/requests/", nil)
	w := httptest.NewRecorder()

	err := a.Handle(t.Context(), w, req, "simple/requests")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	require.Contains(t, body, `href="/packages/aa/bb/cc/requests-2.31.0.tar.gz#egg=requests-2.31.0"`)
	require.NotContains(t, body, "sha256")
}

func TestServePackageIndexJSONNegotiation(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<a href="../../packages/aa/bb/cc/requests-2.31.0.tar.gz#sha256=deadbeef">requests-2.31.0.tar.gz</a>`))
	}))
	defer upstream.Close()

	a := newTestAdapter(t, upstream)
	req := httptest.NewRequest(http.MethodGet, "/simple/requests/", nil)
	req.Header.Set("Accept", "application/vnd.pypi.simple.v1+json")
	w := httptest.NewRecorder()

	err := a.Handle(t.Context(), w, req, "simple/requests")
	require.NoError(t, err)
	require.Contains(t, w.Header().Get("Content-Type"), "application/vnd.pypi.simple.v1+json")
	require.Contains(t, w.Body.String(), `"url":"/packages/aa/bb/cc/requests-2.31.0.tar.gz"`)
}

func TestServeArtifactCachesAndServesFromStore(t *testing.T) {
	var hits int
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("binary-content"))
	}))
	defer upstream.Close()

	a := newTestAdapter(t, upstream)
	req := httptest.NewRequest(http.MethodGet, "/packages/aa/bb/cc/requests-2.31.0.tar.gz", nil)
	w := httptest.NewRecorder()

	err := a.Handle(t.Context(), w, req, "packages/aa/bb/cc/requests-2.31.0.tar.gz")
	require.NoError(t, err)
	require.Equal(t, "binary-content", w.Body.String())
	require.Equal(t, 1, hits)

	w2 := httptest.NewRecorder()
	err = a.Handle(t.Context(), w2, req, "packages/aa/bb/cc/requests-2.31.0.tar.gz")
	require.NoError(t, err)
	require.Equal(t, "binary-content", w2.Body.String())
	require.Equal(t, 1, hits, "second request should be served from cache without hitting upstream")
}

func TestServeMetadataRewritesURLs(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"info":{"name":"requests"},"urls":[{"url":"https://files.pythonhosted.org/packages/aa/bb/cc/requests-2.31.0.tar.gz"}]}`))
	}))
	defer upstream.Close()

	a := newTestAdapter(t, upstream)
	req := httptest.NewRequest(http.MethodGet, "/web/requests/json", nil)
	w := httptest.NewRecorder()

	err := a.Handle(t.Context(), w, req, "web/requests")
	require.NoError(t, err)
	require.Contains(t, w.Body.String(), `"url":"/packages/aa/bb/cc/requests-2.31.0.tar.gz"`)
}

func TestVersionFromFilename(t *testing.T) {
	require.Equal(t, "2.31.0", versionFromFilename("requests", "requests-2.31.0.tar.gz"))
	require.Equal(t, "1.0.0", versionFromFilename("foo", "foo-1.0.0-py3-none-any.whl"))
	require.Equal(t, "3.1.2", versionFromFilename("flask", "flask-3.1.2-py3-none-any.whl"))
	require.Equal(t, "1.2.3-1", versionFromFilename("bar", "bar-1.2.3-1-cp311-cp311-manylinux_2_17_x86_64.whl"))
}


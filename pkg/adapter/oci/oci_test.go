package oci

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
	return New(deps, upstream.URL, "test-secret")
}

func TestServeManifestSetsDigestHeader(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.docker.distribution.manifest.v2+json")
		w.Write([]byte(`{"schemaVersion":2}`))
	}))
	defer upstream.Close()

	a := newTestAdapter(t, upstream)
	req := httptest.NewRequest(http.MethodGet, "/v2/library/alpine/manifests/latest", nil)
	w := httptest.NewRecorder()

	err := a.Handle(t.Context(), w, req, "library/alpine/manifests/latest")
	require.NoError(t, err)
	require.NotEmpty(t, w.Header().Get("Docker-Content-Digest"))
	require.Contains(t, w.Header().Get("Docker-Content-Digest"), "sha256:")
	require.JSONEq(t, `{"schemaVersion":2}`, w.Body.String())
}

func TestServeManifestCacheHitRecomputesDigest(t *testing.T) {
	var hits int
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte(`{"schemaVersion":2}`))
	}))
	defer upstream.Close()

	a := newTestAdapter(t, upstream)
	req := httptest.NewRequest(http.MethodGet, "/v2/library/alpine/manifests/sha256:abcd", nil)

	w1 := httptest.NewRecorder()
	require.NoError(t, a.Handle(t.Context(), w1, req, "library/alpine/manifests/sha256:abcd"))
	digest1 := w1.Header().Get("Docker-Content-Digest")

	w2 := httptest.NewRecorder()
	require.NoError(t, a.Handle(t.Context(), w2, req, "library/alpine/manifests/sha256:abcd"))
	digest2 := w2.Header().Get("Docker-Content-Digest")

	require.Equal(t, 1, hits)
	require.Equal(t, digest1, digest2)
}

func TestServeBlobCachesByDigest(t *testing.T) {
	var hits int
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("blob-bytes"))
	}))
	defer upstream.Close()

	a := newTestAdapter(t, upstream)
	req := httptest.NewRequest(http.MethodGet, "/v2/library/alpine/blobs/sha256:deadbeef", nil)

	w1 := httptest.NewRecorder()
	require.NoError(t, a.Handle(t.Context(), w1, req, "library/alpine/blobs/sha256:deadbeef"))
	require.Equal(t, "blob-bytes", w1.Body.String())
	require.Equal(t, "sha256:deadbeef", w1.Header().Get("Docker-Content-Digest"))

	w2 := httptest.NewRecorder()
	require.NoError(t, a.Handle(t.Context(), w2, req, "library/alpine/blobs/sha256:deadbeef"))
	require.Equal(t, 1, hits)
}

func TestMintTokenIsStableFormat(t *testing.T) {
	a := newTestAdapter(t, httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))
	req := httptest.NewRequest(http.MethodGet, "/v2/token", nil)
	w := httptest.NewRecorder()

	err := a.Handle(t.Context(), w, req, "token")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"token"`)
}

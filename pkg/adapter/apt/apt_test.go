package apt

import (
	"bytes"
	"compress/gzip"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cachehub/mirror/pkg/adapter"
	"github.com/cachehub/mirror/pkg/fetcher"
	"github.com/cachehub/mirror/pkg/store"
)

func newTestAdapter(t *testing.T, mirrors ...*httptest.Server) *Adapter {
	t.Helper()
	st, err := store.New(t.TempDir())
	require.NoError(t, err)
	deps := adapter.Deps{Store: st, Fetcher: fetcher.New("")}
	urls := make([]string, len(mirrors))
	for i, m := range mirrors {
		urls[i] = m.URL
	}
	return New(deps, urls)
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	_, err := gw.Write(data)
	require.NoError(t, err)
	require.NoError(t, gw.Close())
	return buf.Bytes()
}

func TestServePackagesPlainDecompresses(t *testing.T) {
	plain := []byte("Package: foo\nVersion: 1.0\n\n")
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.URL.Path, "Packages.gz")
		w.Write(gzipBytes(t, plain))
	}))
	defer upstream.Close()

	a := newTestAdapter(t, upstream)
	req := httptest.NewRequest(http.MethodGet, "/debian/dists/stable/main/binary-amd64/Packages", nil)
	w := httptest.NewRecorder()

	err := a.Handle(t.Context(), w, req, "dists/stable/main/binary-amd64/Packages")
	require.NoError(t, err)
	require.Equal(t, string(plain), w.Body.String())
}

func TestServeInReleaseFallsBackToSynthesized(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if bytes.Contains([]byte(r.URL.Path), []byte("InRelease")) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("Origin: Debian\nSuite: stable\n"))
	}))
	defer upstream.Close()

	a := newTestAdapter(t, upstream)
	req := httptest.NewRequest(http.MethodGet, "/debian/dists/stable/InRelease", nil)
	w := httptest.NewRecorder()

	err := a.Handle(t.Context(), w, req, "dists/stable/InRelease")
	require.NoError(t, err)
	require.Contains(t, w.Body.String(), "NOT cryptographically signed")
	require.Contains(t, w.Body.String(), "Origin: Debian")
}

func TestFetchFromMirrorsTriesNextOnFailure(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer good.Close()

	a := newTestAdapter(t, bad, good)
	body, _, err := a.fetchFromMirrors(t.Context(), "dists/stable/Release")
	require.NoError(t, err)
	require.Equal(t, "ok", string(body))
}

func TestServePoolFileCachesAfterFirstFetch(t *testing.T) {
	var hits int
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("deb-bytes"))
	}))
	defer upstream.Close()

	a := newTestAdapter(t, upstream)
	req := httptest.NewRequest(http.MethodGet, "/debian/pool/main/f/foo/foo_1.0_amd64.deb", nil)
	w := httptest.NewRecorder()

	err := a.Handle(t.Context(), w, req, "pool/main/f/foo/foo_1.0_amd64.deb")
	require.NoError(t, err)
	require.Equal(t, "deb-bytes", w.Body.String())

	w2 := httptest.NewRecorder()
	require.NoError(t, a.Handle(t.Context(), w2, req, "pool/main/f/foo/foo_1.0_amd64.deb"))
	require.Equal(t, 1, hits)
}

package npm

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cachehub/mirror/pkg/adapter"
	"github.com/cachehub/mirror/pkg/fetcher"
	"github.com/cachehub/mirror/pkg/store"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) (*Adapter, *[]string) {
	t.Helper()
	st, err := store.New(t.TempDir())
	require.NoError(t, err)
	var paths []string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		handler(w, r)
	}))
	t.Cleanup(upstream.Close)
	deps := adapter.Deps{Store: st, Fetcher: fetcher.New("")}
	return New(deps, upstream.URL), &paths
}

func TestSplitPackagePath(t *testing.T) {
	pkg, rest, isTarball := splitPackagePath("lodash")
	require.Equal(t, "lodash", pkg)
	require.Equal(t, "", rest)
	require.False(t, isTarball)

	pkg, rest, isTarball = splitPackagePath("lodash/4.17.21")
	require.Equal(t, "lodash", pkg)
	require.Equal(t, "4.17.21", rest)
	require.False(t, isTarball)

	pkg, rest, isTarball = splitPackagePath("@babel/core")
	require.Equal(t, "@babel/core", pkg)
	require.Equal(t, "", rest)
	require.False(t, isTarball)

	pkg, rest, isTarball = splitPackagePath("@babel/core/-/core-7.24.0.tgz")
	require.Equal(t, "@babel/core", pkg)
	require.Equal(t, "core-7.24.0.tgz", rest)
	require.True(t, isTarball)

	pkg, rest, isTarball = splitPackagePath("lodash/-/lodash-4.17.21.tgz")
	require.Equal(t, "lodash", pkg)
	require.Equal(t, "lodash-4.17.21.tgz", rest)
	require.True(t, isTarball)
}

func TestServeMetadataLatest(t *testing.T) {
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"name":"lodash","dist-tags":{"latest":"4.17.21"}}`))
	})

	req := httptest.NewRequest(http.MethodGet, "/npm/lodash", nil)
	w := httptest.NewRecorder()
	err := a.Handle(t.Context(), w, req, "lodash")
	require.NoError(t, err)
	require.Contains(t, w.Body.String(), `"name":"lodash"`)
}

func TestServeTarballCachesScopedPackage(t *testing.T) {
	var hits int
	a, paths := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("tarball-bytes"))
	})

	req := httptest.NewRequest(http.MethodGet, "/npm/@babel/core/-/core-7.24.0.tgz", nil)
	w := httptest.NewRecorder()
	err := a.Handle(t.Context(), w, req, "@babel/core/-/core-7.24.0.tgz")
	require.NoError(t, err)
	require.Equal(t, "tarball-bytes", w.Body.String())
	require.Contains(t, (*paths)[0], "/@babel/core/-/core-7.24.0.tgz")

	w2 := httptest.NewRecorder()
	require.NoError(t, a.Handle(t.Context(), w2, req, "@babel/core/-/core-7.24.0.tgz"))
	require.Equal(t, 1, hits)
}

package goproxy

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cachehub/mirror/pkg/adapter"
	"github.com/cachehub/mirror/pkg/fetcher"
	"github.com/cachehub/mirror/pkg/store"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	st, err := store.New(t.TempDir())
	require.NoError(t, err)
	upstream := httptest.NewServer(handler)
	t.Cleanup(upstream.Close)
	deps := adapter.Deps{Store: st, Fetcher: fetcher.New("")}
	return New(deps, upstream.URL)
}

func TestSplitModuleOp(t *testing.T) {
	module, op, ok := splitModuleOp("github.com/pkg/errors/@v/list")
	require.True(t, ok)
	require.Equal(t, "github.com/pkg/errors", module)
	require.Equal(t, "@v/list", op)

	module, op, ok = splitModuleOp("golang.org/x/sync/@v/v0.5.0.zip")
	require.True(t, ok)
	require.Equal(t, "golang.org/x/sync", module)
	require.Equal(t, "@v/v0.5.0.zip", op)
}

func TestServeMissingSumReturnsEmpty200(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	req := httptest.NewRequest(http.MethodGet, "/mod/github.com/pkg/errors/@v/v0.9.1.sum", nil)
	w := httptest.NewRecorder()
	err := a.Handle(t.Context(), w, req, "github.com/pkg/errors/@v/v0.9.1.sum")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, w.Body.String())
}

func TestServeVersionFileCachesZip(t *testing.T) {
	var hits int
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("zip-bytes"))
	})

	req := httptest.NewRequest(http.MethodGet, "/mod/golang.org/x/sync/@v/v0.5.0.zip", nil)
	w := httptest.NewRecorder()
	err := a.Handle(t.Context(), w, req, "golang.org/x/sync/@v/v0.5.0.zip")
	require.NoError(t, err)
	require.Equal(t, "zip-bytes", w.Body.String())

	w2 := httptest.NewRecorder()
	require.NoError(t, a.Handle(t.Context(), w2, req, "golang.org/x/sync/@v/v0.5.0.zip"))
	require.Equal(t, 1, hits)
}

func TestParseRequireBlockGroupedAndInline(t *testing.T) {
	modFile := []byte(`module example.com/foo

go 1.21

require example.com/bar v1.0.0

require (
	example.com/baz v2.3.4
	example.com/qux v0.1.0 // indirect
)
`)
	deps := parseRequireBlock(modFile)
	require.Equal(t, []string{
		"example.com/bar v1.0.0",
		"example.com/baz v2.3.4",
		"example.com/qux v0.1.0",
	}, deps)
}

func TestExtractLatestVersion(t *testing.T) {
	body := []byte(`{"Version":"v1.2.3","Time":"2024-01-01T00:00:00Z"}`)
	require.Equal(t, "v1.2.3", extractLatestVersion(body))
}

func TestServeDependencyList(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/example.com/foo/@latest":
			w.Write([]byte(`{"Version":"v1.0.0"}`))
		case r.URL.Path == "/example.com/foo/@v/v1.0.0.mod":
			w.Write([]byte("module example.com/foo\n\nrequire example.com/bar v1.0.0\n"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	req := httptest.NewRequest(http.MethodGet, "/mod/example.com/foo/@list", nil)
	w := httptest.NewRecorder()
	err := a.Handle(t.Context(), w, req, "example.com/foo/@list")
	require.NoError(t, err)
	require.Equal(t, "example.com/bar v1.0.0\n", w.Body.String())
}

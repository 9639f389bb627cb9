package yum

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cachehub/mirror/pkg/adapter"
	"github.com/cachehub/mirror/pkg/fetcher"
	"github.com/cachehub/mirror/pkg/store"
)

const sampleRepomd = `<?xml version="1.0" encoding="UTF-8"?>
<repomd xmlns="http://linux.duke.edu/metadata/repo">
  <data type="primary">
    <location href="repodata/abcd1234-primary.xml.gz"/>
  </data>
  <data type="filelists">
    <location href="repodata/ef567890-filelists.xml.gz"/>
  </data>
</repomd>`

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	st, err := store.New(t.TempDir())
	require.NoError(t, err)
	upstream := httptest.NewServer(handler)
	t.Cleanup(upstream.Close)
	deps := adapter.Deps{Store: st, Fetcher: fetcher.New("")}
	return New(deps, upstream.URL)
}

func TestServeDatabaseResolvesChecksumFilename(t *testing.T) {
	var requestedPaths []string
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		requestedPaths = append(requestedPaths, r.URL.Path)
		if r.URL.Path == "/8/BaseOS/x86_64/os/repodata/repomd.xml" {
			w.Write([]byte(sampleRepomd))
			return
		}
		w.Write([]byte("primary-db-bytes"))
	})

	req := httptest.NewRequest(http.MethodGet, "/yum/8/BaseOS/x86_64/os/repodata/primary.xml.gz", nil)
	w := httptest.NewRecorder()

	err := a.Handle(t.Context(), w, req, "8/BaseOS/x86_64/os/repodata/primary.xml.gz")
	require.NoError(t, err)
	require.Equal(t, "primary-db-bytes", w.Body.String())
	require.Contains(t, requestedPaths, "/8/BaseOS/x86_64/os/repodata/abcd1234-primary.xml.gz")
}

func TestDatabaseTypeExtraction(t *testing.T) {
	require.Equal(t, "primary", databaseType("primary.xml.gz"))
	require.Equal(t, "filelists", databaseType("repodata/filelists.xml.gz"))
	require.Equal(t, "other", databaseType("other.sqlite.bz2"))
}

func TestServeRepomdCaches(t *testing.T) {
	var hits int
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte(sampleRepomd))
	})

	req := httptest.NewRequest(http.MethodGet, "/yum/8/BaseOS/x86_64/os/repodata/repomd.xml", nil)
	w := httptest.NewRecorder()
	require.NoError(t, a.Handle(t.Context(), w, req, "8/BaseOS/x86_64/os/repodata/repomd.xml"))

	w2 := httptest.NewRecorder()
	require.NoError(t, a.Handle(t.Context(), w2, req, "8/BaseOS/x86_64/os/repodata/repomd.xml"))
	require.Equal(t, 1, hits)
}

package fetcher

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFetchSingleFlightCoalesces(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	f := New("")
	var wg sync.WaitGroup
	results := make([]Result, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.Fetch(t.Context(), http.MethodGet, srv.URL, Options{})
			require.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	require.Equal(t, int64(1), atomic.LoadInt64(&hits))
	for _, r := range results {
		require.Equal(t, "payload", string(r.Body))
	}
}

func TestFetchNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := New("")
	_, err := f.Fetch(t.Context(), http.MethodGet, srv.URL, Options{})
	require.Error(t, err)
	var fetchErr *Error
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, NotFound, fetchErr.Kind)
}

func TestFetchUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := New("")
	_, err := f.Fetch(t.Context(), http.MethodGet, srv.URL, Options{})
	var fetchErr *Error
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, UpstreamError, fetchErr.Kind)
}

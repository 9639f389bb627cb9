package lifecycle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMiddlewareTracksInFlightCount(t *testing.T) {
	m := New(time.Second, StrategyGraceful)

	release := make(chan struct{})
	started := make(chan struct{})
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
	}))

	go func() {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	}()

	<-started
	require.Equal(t, int64(1), m.InFlight())
	close(release)

	require.Eventually(t, func() bool { return m.InFlight() == 0 }, time.Second, 10*time.Millisecond)
}

func TestMiddlewareRejectsWhenStopping(t *testing.T) {
	m := New(time.Second, StrategyGraceful)
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	m.state.Store(int32(StateStopping))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestShutdownRunsHooksAndDrains(t *testing.T) {
	m := New(100*time.Millisecond, StrategyGraceful)

	var hookRan bool
	m.OnShutdown(func(ctx context.Context) error {
		hookRan = true
		return nil
	})

	m.Shutdown(context.Background())
	require.True(t, hookRan)
	require.Equal(t, StateStopped, m.State())
}

func TestShutdownImmediateDoesNotWaitForDrain(t *testing.T) {
	m := New(5*time.Second, StrategyImmediate)
	m.inFlight.Add(1)

	done := make(chan struct{})
	go func() {
		m.Shutdown(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("immediate shutdown should not block on in-flight requests")
	}
}

func TestRestartHistoryBounded(t *testing.T) {
	m := New(time.Second, StrategyGraceful)
	for i := 0; i < 25; i++ {
		m.RecordRestart("config change")
	}
	require.Len(t, m.RestartHistory(), 20)
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cachehub/mirror/pkg/adapter"
	"github.com/cachehub/mirror/pkg/alert"
	"github.com/cachehub/mirror/pkg/config"
	"github.com/cachehub/mirror/pkg/healthcheck"
	"github.com/cachehub/mirror/pkg/lifecycle"
	"github.com/cachehub/mirror/pkg/metadata"
	"github.com/cachehub/mirror/pkg/monitor"
	"github.com/cachehub/mirror/pkg/prewarm"
	"github.com/cachehub/mirror/pkg/router"
	"github.com/cachehub/mirror/pkg/store"
	syncsched "github.com/cachehub/mirror/pkg/sync"
	"github.com/cachehub/mirror/pkg/types"
)

type stubAdapter struct {
	name   string
	status int
}

func (s *stubAdapter) Name() string { return s.name }
func (s *stubAdapter) Handle(ctx context.Context, w http.ResponseWriter, r *http.Request, subpath string) error {
	if s.status != 0 {
		w.WriteHeader(s.status)
		return nil
	}
	w.Write([]byte("served:" + s.name + ":" + subpath))
	return nil
}
func (s *stubAdapter) CacheStats() (int64, int64) { return 3, 1024 }

func newTestAPI(t *testing.T) *API {
	t.Helper()
	dir := t.TempDir()

	meta, err := metadata.NewBoltBackend(filepath.Join(dir, "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })

	st, err := store.New(filepath.Join(dir, "store"))
	require.NoError(t, err)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(upstream.Close)

	cfg := config.Defaults()
	cfg.Mirrors = []config.MirrorSource{
		{Ecosystem: "pypi", Name: "primary", UpstreamBase: upstream.URL, Priority: 0},
	}
	cfgStore := config.NewStore(cfg)

	failover := healthcheck.NewManager(healthcheck.Config{
		Interval: time.Minute, Timeout: time.Second, Retries: 3,
	}, 3)
	failover.Register("pypi", map[string]string{"primary": upstream.URL}, []string{"primary"})

	rt := router.New(map[string]adapter.Adapter{"pypi": &stubAdapter{name: "pypi"}}, []string{"pypi"})
	rt.Metadata = meta
	rt.SessionSecret = "test-secret"
	rt.StaticUser = "admin"
	rt.StaticPass = "hunter2"

	a := New(API{
		Metadata:  meta,
		Store:     st,
		Adapters:  map[string]adapter.Adapter{"pypi": &stubAdapter{name: "pypi"}},
		Scheduler: syncsched.NewScheduler(meta, dir, time.Minute, time.Hour),
		Prewarmer: prewarm.New(func(ctx context.Context, ecosystem, item string) (int64, int, error) {
			return 42, http.StatusOK, nil
		}, 2),
		Failover:  failover,
		Lifecycle: lifecycle.New(5*time.Second, lifecycle.StrategyGraceful),
		Monitor:   monitor.New(meta, dir, time.Minute),
		Alerts:    alert.New(),
		Config:    cfgStore,
		Router:    rt,
		Version:   "test",
	})
	return a
}

func doJSON(t *testing.T, handler http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, rdr)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestHandleServerInfo(t *testing.T) {
	a := newTestAPI(t)
	w := doJSON(t, a.Handler(), http.MethodGet, "/api/v2/server/info", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "test", body["version"])
	require.Contains(t, body["ecosystems"], "pypi")
}

func TestHandleUploadThenGetThenDelete(t *testing.T) {
	a := newTestAPI(t)
	handler := a.Handler()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "package.whl")
	require.NoError(t, err)
	_, err = part.Write([]byte("binary-content"))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("path", "pypi/package.whl"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v2/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	var rec types.FileRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	require.Equal(t, "pypi/package.whl", rec.Path)

	getReq := httptest.NewRequest(http.MethodGet, "/api/v2/file/pypi/package.whl", nil)
	getW := httptest.NewRecorder()
	handler.ServeHTTP(getW, getReq)
	require.Equal(t, http.StatusOK, getW.Code)
	require.Equal(t, "binary-content", getW.Body.String())

	listW := doJSON(t, handler, http.MethodGet, "/api/v2/files", nil)
	require.Equal(t, http.StatusOK, listW.Code)

	delReq := httptest.NewRequest(http.MethodDelete, "/api/v2/file/pypi/package.whl", nil)
	delW := httptest.NewRecorder()
	handler.ServeHTTP(delW, delReq)
	require.Equal(t, http.StatusNoContent, delW.Code)

	getAgainReq := httptest.NewRequest(http.MethodGet, "/api/v2/file/pypi/package.whl", nil)
	getAgainW := httptest.NewRecorder()
	handler.ServeHTTP(getAgainW, getAgainReq)
	require.Equal(t, http.StatusNotFound, getAgainW.Code)
}

func TestHandleSyncPackages(t *testing.T) {
	a := newTestAPI(t)
	w := doJSON(t, a.Handler(), http.MethodPost, "/api/v2/sync/packages", map[string]any{
		"source_type": "pypi",
		"source":      "primary",
		"items":       []string{"requests/requests-2.31.0.tar.gz"},
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	var run types.SyncRun
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	require.Equal(t, types.SyncRunCompleted, run.Status)
}

func TestHandleSyncPackagesRejectsEmptyItems(t *testing.T) {
	a := newTestAPI(t)
	w := doJSON(t, a.Handler(), http.MethodPost, "/api/v2/sync/packages", map[string]any{
		"source_type": "pypi",
		"source":      "primary",
		"items":       []string{},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleSyncPackagesUnknownEcosystemFailsItem(t *testing.T) {
	a := newTestAPI(t)
	w := doJSON(t, a.Handler(), http.MethodPost, "/api/v2/sync/packages", map[string]any{
		"source_type": "nope",
		"source":      "primary",
		"items":       []string{"x"},
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	var run types.SyncRun
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	require.Equal(t, types.SyncRunFailed, run.Status)
	require.Equal(t, 1, run.FailedFiles)
}

func TestHandleCacheStats(t *testing.T) {
	a := newTestAPI(t)
	w := doJSON(t, a.Handler(), http.MethodGet, "/api/v2/cache/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	eco := body["ecosystems"].(map[string]any)["pypi"].(map[string]any)
	require.Equal(t, float64(3), eco["files"])
}

func TestHandleCacheCleanRequiresKey(t *testing.T) {
	a := newTestAPI(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v2/cache/clean", nil)
	w := httptest.NewRecorder()
	a.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleCachePrewarm(t *testing.T) {
	a := newTestAPI(t)
	w := doJSON(t, a.Handler(), http.MethodPost, "/api/v2/cache/prewarm", map[string]any{
		"targets": []map[string]any{
			{"ecosystem": "pypi", "items": []string{"a", "b"}, "priority": "high"},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var summary types.PrewarmSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	require.Equal(t, 2, summary.Total)
	require.Equal(t, 2, summary.Success)
}

func TestHandleHealthSourcesAndCheckNow(t *testing.T) {
	a := newTestAPI(t)
	w := doJSON(t, a.Handler(), http.MethodGet, "/api/v2/health/sources?ecosystem=pypi", nil)
	require.Equal(t, http.StatusOK, w.Code)

	checkW := doJSON(t, a.Handler(), http.MethodPost, "/api/v2/health/check/pypi", nil)
	require.Equal(t, http.StatusOK, checkW.Code)
}

func TestHandleFailoverForce(t *testing.T) {
	a := newTestAPI(t)
	w := doJSON(t, a.Handler(), http.MethodPost, "/api/v2/health/failover/pypi", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "primary", body["active_name"])
}

func TestHandleListAlerts(t *testing.T) {
	a := newTestAPI(t)
	w := doJSON(t, a.Handler(), http.MethodGet, "/api/v2/alerts", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestWebhookCreateTestAndDeliveries(t *testing.T) {
	a := newTestAPI(t)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	createW := doJSON(t, a.Handler(), http.MethodPost, "/api/v2/webhooks", map[string]any{
		"url":    upstream.URL,
		"events": []string{"mirror.failover"},
		"secret": "shh",
	})
	require.Equal(t, http.StatusCreated, createW.Code)

	var wh types.Webhook
	require.NoError(t, json.Unmarshal(createW.Body.Bytes(), &wh))
	require.NotEmpty(t, wh.ID)

	listW := doJSON(t, a.Handler(), http.MethodGet, "/api/v2/webhooks", nil)
	require.Equal(t, http.StatusOK, listW.Code)

	testW := doJSON(t, a.Handler(), http.MethodPost, "/api/v2/webhooks/"+wh.ID+"/test", nil)
	require.Equal(t, http.StatusOK, testW.Code)

	var delivery types.WebhookDelivery
	require.NoError(t, json.Unmarshal(testW.Body.Bytes(), &delivery))
	require.Equal(t, types.DeliverySuccess, delivery.Status)

	deliveriesW := doJSON(t, a.Handler(), http.MethodGet, "/api/v2/webhooks/"+wh.ID+"/deliveries", nil)
	require.Equal(t, http.StatusOK, deliveriesW.Code)

	delW := httptest.NewRequest(http.MethodDelete, "/api/v2/webhooks/"+wh.ID, nil)
	delRec := httptest.NewRecorder()
	a.Handler().ServeHTTP(delRec, delW)
	require.Equal(t, http.StatusNoContent, delRec.Code)
}

func TestNotifyDeliversToSubscribedWebhookOnly(t *testing.T) {
	a := newTestAPI(t)

	delivered := make(chan string, 2)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		delivered <- r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	require.NoError(t, a.Metadata.CreateWebhook(&types.Webhook{
		ID: "wh-sub", URL: upstream.URL, Events: []string{"mirror.failover"}, Enabled: true,
	}))
	require.NoError(t, a.Metadata.CreateWebhook(&types.Webhook{
		ID: "wh-unsub", URL: upstream.URL, Events: []string{"alert.fired"}, Enabled: true,
	}))

	a.Notify(context.Background(), "mirror.failover", map[string]string{"ecosystem": "pypi"})

	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a webhook delivery for the subscribed event")
	}

	select {
	case <-delivered:
		t.Fatal("unsubscribed webhook should not have received a delivery")
	case <-time.After(100 * time.Millisecond):
	}

	deliveries, err := a.Metadata.ListDeliveries("wh-sub", 10)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
}

func TestHandleGetConfigRedactsSecrets(t *testing.T) {
	a := newTestAPI(t)
	cfg := a.Config.Get()
	cfg.Server.SessionSecret = "super-secret"
	a.Config.Set(cfg)

	w := doJSON(t, a.Handler(), http.MethodGet, "/api/v2/config", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotContains(t, w.Body.String(), "super-secret")
}

func TestHandlePutConfig(t *testing.T) {
	a := newTestAPI(t)
	cfg := a.Config.Get()
	cfg.Server.RateLimitPerMin = 99

	w := doJSON(t, a.Handler(), http.MethodPut, "/api/v2/config", cfg)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 99, a.Config.Get().Server.RateLimitPerMin)
}

func TestLoginFlow(t *testing.T) {
	a := newTestAPI(t)
	hash, err := hashPassword("wonderland")
	require.NoError(t, err)
	require.NoError(t, a.Metadata.CreateUser(&types.User{
		Username:     "alice",
		PasswordHash: hash,
		Role:         "admin",
		Enabled:      true,
	}))

	badW := doJSON(t, a.Handler(), http.MethodPost, "/api/v2/user/login", map[string]string{
		"username": "alice", "password": "wrong",
	})
	require.Equal(t, http.StatusUnauthorized, badW.Code)

	goodW := doJSON(t, a.Handler(), http.MethodPost, "/api/v2/user/login", map[string]string{
		"username": "alice", "password": "wonderland",
	})
	require.Equal(t, http.StatusOK, goodW.Code)
	require.NotEmpty(t, goodW.Result().Cookies())
}

func TestChangePassword(t *testing.T) {
	a := newTestAPI(t)
	oldHash, err := hashPassword("old-pass")
	require.NoError(t, err)
	require.NoError(t, a.Metadata.CreateUser(&types.User{
		Username:     "bob",
		PasswordHash: oldHash,
		Role:         "admin",
		Enabled:      true,
	}))

	w := doJSON(t, a.Handler(), http.MethodPut, "/api/v2/user/password", map[string]string{
		"username": "bob", "old_password": "old-pass", "new_password": "new-pass",
	})
	require.Equal(t, http.StatusNoContent, w.Code)

	user, err := a.Metadata.GetUser("bob")
	require.NoError(t, err)
	require.True(t, verifyPassword(user.PasswordHash, "new-pass"))
}

func TestRestartFlow(t *testing.T) {
	a := newTestAPI(t)

	pendingW := doJSON(t, a.Handler(), http.MethodGet, "/api/v2/server/restart/pending", nil)
	require.Equal(t, http.StatusOK, pendingW.Code)
	var pending map[string]any
	require.NoError(t, json.Unmarshal(pendingW.Body.Bytes(), &pending))
	require.Equal(t, false, pending["pending"])

	reqW := doJSON(t, a.Handler(), http.MethodPost, "/api/v2/server/restart", map[string]any{
		"reason": "config change", "strategy": "graceful",
	})
	require.Equal(t, http.StatusAccepted, reqW.Code)

	confirmAgainW := doJSON(t, a.Handler(), http.MethodGet, "/api/v2/server/restart/pending", nil)
	var afterReq map[string]any
	require.NoError(t, json.Unmarshal(confirmAgainW.Body.Bytes(), &afterReq))
	require.Equal(t, true, afterReq["pending"])
}

func TestRestartConfirmWithoutPendingConflicts(t *testing.T) {
	a := newTestAPI(t)
	w := doJSON(t, a.Handler(), http.MethodPost, "/api/v2/server/restart/confirm", nil)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestHandleListMirrorsAndRefresh(t *testing.T) {
	a := newTestAPI(t)
	w := doJSON(t, a.Handler(), http.MethodGet, "/api/v2/mirrors", nil)
	require.Equal(t, http.StatusOK, w.Code)

	refreshW := doJSON(t, a.Handler(), http.MethodPost, "/api/v2/mirrors/primary/refresh", nil)
	require.Equal(t, http.StatusAccepted, refreshW.Code)

	missingW := doJSON(t, a.Handler(), http.MethodPost, "/api/v2/mirrors/ghost/refresh", nil)
	require.Equal(t, http.StatusNotFound, missingW.Code)
}

func TestV1HandlerExposesOnlyFileSubset(t *testing.T) {
	a := newTestAPI(t)
	w := doJSON(t, a.Handler(), http.MethodGet, "/api/v1/server/info", nil)
	require.Equal(t, http.StatusOK, w.Code)

	mirrorsW := doJSON(t, a.Handler(), http.MethodGet, "/api/v1/mirrors", nil)
	require.Equal(t, http.StatusNotFound, mirrorsW.Code)
}

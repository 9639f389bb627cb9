package api

import (
	"encoding/json"
	"net/http"
	"time"

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
)

// API bundles every component the control plane's resource groups read
// from or act on, grounded on the design notes' explicit
// RequestContext/ServiceRegistry/ResponseWriter split (9): the handlers
// below take (w, r) directly and reach into API's fields rather than a
// duck-typed handler bundle.
type API struct {
	Metadata  metadata.Backend
	Store     *store.Store
	Adapters  map[string]adapter.Adapter
	Scheduler *syncsched.Scheduler
	Prewarmer *prewarm.Prewarmer
	Failover  *healthcheck.Manager
	Lifecycle *lifecycle.Manager
	Monitor   *monitor.Sampler
	Alerts    *alert.Evaluator
	Config    *config.Store
	Bus       *Bus
	Router    *router.Router

	StartedAt time.Time
	Version   string

	restart pendingRestart
}

// New builds an API. A nil Bus is replaced with a fresh one.
func New(a API) *API {
	if a.Bus == nil {
		a.Bus = NewBus()
	}
	if a.StartedAt.IsZero() {
		a.StartedAt = time.Now()
	}
	return &a
}

// Handler assembles the full /api/v1 and /api/v2 route tree. v2 carries
// every route; v1 carries the historical subset (files, upload, server
// info, monitoring) by reusing the same handler funcs (4.I: "v2 is a
// superset").
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	register := func(prefix string, full bool) {
		mux.HandleFunc("GET "+prefix+"/server/info", a.handleServerInfo)
		mux.HandleFunc("GET "+prefix+"/monitoring/realtime", a.handleMonitoringRealtime)
		mux.HandleFunc("GET "+prefix+"/monitoring/history", a.handleMonitoringHistory)
		mux.HandleFunc("GET "+prefix+"/files", a.handleListFiles)
		mux.HandleFunc("GET "+prefix+"/file/{path...}", a.handleGetFile)
		mux.HandleFunc("DELETE "+prefix+"/file/{path...}", a.handleDeleteFile)
		mux.HandleFunc("POST "+prefix+"/upload", a.handleUpload)

		if !full {
			return
		}

		mux.HandleFunc("GET "+prefix+"/mirrors", a.handleListMirrors)
		mux.HandleFunc("POST "+prefix+"/mirrors/{name}/enable", a.handleEnableMirror)
		mux.HandleFunc("POST "+prefix+"/mirrors/{name}/refresh", a.handleRefreshMirror)

		mux.HandleFunc("GET "+prefix+"/sync/sources", a.handleSyncSources)
		mux.HandleFunc("POST "+prefix+"/sync/{name}/start", a.handleSyncStart)
		mux.HandleFunc("POST "+prefix+"/sync/{name}/stop", a.handleSyncStop)
		mux.HandleFunc("GET "+prefix+"/sync/{name}/status", a.handleSyncStatus)
		mux.HandleFunc("POST "+prefix+"/sync/packages", a.handleSyncPackages)

		mux.HandleFunc("GET "+prefix+"/cache/stats", a.handleCacheStats)
		mux.HandleFunc("GET "+prefix+"/cache/usage", a.handleCacheUsage)
		mux.HandleFunc("POST "+prefix+"/cache/clean", a.handleCacheClean)
		mux.HandleFunc("POST "+prefix+"/cache/prewarm", a.handleCachePrewarm)

		mux.HandleFunc("GET "+prefix+"/health", a.handleHealthSummary)
		mux.HandleFunc("GET "+prefix+"/health/sources", a.handleHealthSources)
		mux.HandleFunc("POST "+prefix+"/health/check/{ecosystem}", a.handleHealthCheckNow)
		mux.HandleFunc("GET "+prefix+"/health/failover", a.handleFailoverHistory)
		mux.HandleFunc("POST "+prefix+"/health/failover/{ecosystem}", a.handleFailoverForce)

		mux.HandleFunc("GET "+prefix+"/alerts", a.handleListAlerts)

		mux.HandleFunc("GET "+prefix+"/webhooks", a.handleListWebhooks)
		mux.HandleFunc("POST "+prefix+"/webhooks", a.handleCreateWebhook)
		mux.HandleFunc("DELETE "+prefix+"/webhooks/{id}", a.handleDeleteWebhook)
		mux.HandleFunc("POST "+prefix+"/webhooks/{id}/test", a.handleTestWebhook)
		mux.HandleFunc("GET "+prefix+"/webhooks/{id}/deliveries", a.handleWebhookDeliveries)

		mux.HandleFunc("GET "+prefix+"/config", a.handleGetConfig)
		mux.HandleFunc("PUT "+prefix+"/config", a.handlePutConfig)
		mux.HandleFunc("POST "+prefix+"/config/reload", a.handleReloadConfig)

		mux.HandleFunc("POST "+prefix+"/server/restart", a.handleRestart)
		mux.HandleFunc("POST "+prefix+"/server/restart/confirm", a.handleRestartConfirm)
		mux.HandleFunc("POST "+prefix+"/server/restart/immediate", a.handleRestartImmediate)
		mux.HandleFunc("GET "+prefix+"/server/restart/pending", a.handleRestartPending)
		mux.HandleFunc("GET "+prefix+"/server/restart/history", a.handleRestartHistory)

		mux.HandleFunc("POST "+prefix+"/user/login", a.handleLogin)
		mux.HandleFunc("PUT "+prefix+"/user/password", a.handleChangePassword)

		mux.HandleFunc("GET "+prefix+"/metrics", a.handleMetricsText)
	}

	register("/api/v1", false)
	register("/api/v2", true)

	return mux
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

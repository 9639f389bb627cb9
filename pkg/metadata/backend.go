// Package metadata implements the relational metadata store (component B):
// a Backend interface with two implementations — an embedded BoltBackend
// (go.etcd.io/bbolt) and an embedded SQLiteBackend (modernc.org/sqlite) —
// sharing one schema and one migration runner, selected at startup by
// config.DBConfig.Type.
package metadata

import (
	"time"

	"github.com/cachehub/mirror/pkg/types"
)

// Backend is the full set of typed operations the control API, the sync
// scheduler, the health checker, and the router's download accounting use
// against the metadata store. BoltBackend runs each call in a single bbolt
// transaction. SQLiteBackend's read-modify-write calls (SoftDeleteFile,
// TouchFileAccess, RecordHit, RevokeAPIKey, TouchAPIKeyUse) run a read and
// a write as separate statements, not inside one transaction.
type Backend interface {
	// Files
	CreateFile(rec *types.FileRecord) error
	GetFile(path string) (*types.FileRecord, error)
	ListFiles(dirPrefix string) ([]*types.FileRecord, error)
	UpdateFile(rec *types.FileRecord) error
	SoftDeleteFile(path string) error
	PurgeFile(path string) error
	TouchFileAccess(path string, at time.Time) error

	// Downloads
	RecordDownload(rec *types.DownloadRecord) error
	CountDownloads(since time.Time) (int64, error)
	TopDownloads(since time.Time, limit int) ([]types.DownloadRecord, error)

	// Sync runs
	CreateSyncRun(run *types.SyncRun) error
	UpdateSyncRun(run *types.SyncRun) error
	GetSyncRun(syncID string) (*types.SyncRun, error)
	ListSyncRuns(sourceName string, limit int) ([]*types.SyncRun, error)

	// Cache index
	UpsertCacheRecord(rec *types.CacheRecord) error
	GetCacheRecord(key string) (*types.CacheRecord, error)
	RecordHit(key string, at time.Time) error
	DeleteCacheRecord(key string) error
	CacheUsage() (files int64, bytes int64, err error)

	// Monitor samples
	InsertMonitorSample(s *types.MonitorSample) error
	MonitorSamplesSince(since time.Time) ([]types.MonitorSample, error)

	// Webhooks
	CreateWebhook(wh *types.Webhook) error
	GetWebhook(id string) (*types.Webhook, error)
	ListWebhooks() ([]*types.Webhook, error)
	UpdateWebhook(wh *types.Webhook) error
	DeleteWebhook(id string) error
	RecordDelivery(d *types.WebhookDelivery) error
	ListDeliveries(webhookID string, limit int) ([]types.WebhookDelivery, error)

	// Users + login audit
	CreateUser(u *types.User) error
	GetUser(username string) (*types.User, error)
	UpdateUser(u *types.User) error
	RecordLogin(l *types.LoginLog) error

	// Admin API keys
	CreateAPIKey(k *types.AdminAPIKey) error
	GetAPIKeyByHash(hash string) (*types.AdminAPIKey, error)
	ListAPIKeys() ([]*types.AdminAPIKey, error)
	RevokeAPIKey(keyID string) error
	TouchAPIKeyUse(keyID string, at time.Time) error

	// Schema
	SchemaVersions() ([]types.SchemaVersion, error)
	RecordSchemaVersion(v types.SchemaVersion) error

	Close() error
}

// ErrNotFound is returned by single-record lookups when nothing matches.
var ErrNotFound = errNotFound{}

type errNotFound struct{}

func (errNotFound) Error() string { return "metadata: not found" }

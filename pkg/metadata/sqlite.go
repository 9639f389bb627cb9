package metadata

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cachehub/mirror/pkg/types"
)

// SQLiteBackend implements Backend atop an embedded modernc.org/sqlite
// database: the alternative to BoltBackend for deployments that want SQL
// access to the metadata for ad-hoc reporting.
type SQLiteBackend struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS files (
	path TEXT PRIMARY KEY,
	data TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS downloads (
	id TEXT PRIMARY KEY,
	file_path TEXT NOT NULL,
	download_time DATETIME NOT NULL,
	data TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS sync_runs (
	sync_id TEXT PRIMARY KEY,
	source_name TEXT NOT NULL,
	started_at DATETIME NOT NULL,
	data TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS cache_records (
	cache_key TEXT PRIMARY KEY,
	data TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS monitor_samples (
	ts INTEGER PRIMARY KEY,
	data TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS webhooks (
	id TEXT PRIMARY KEY,
	data TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS webhook_deliveries (
	id TEXT PRIMARY KEY,
	webhook_id TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	data TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS users (
	username TEXT PRIMARY KEY,
	data TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS login_logs (
	id TEXT PRIMARY KEY,
	username TEXT NOT NULL,
	at DATETIME NOT NULL,
	data TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS admin_api_keys (
	key_id TEXT PRIMARY KEY,
	key_hash TEXT NOT NULL,
	data TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS schema_versions (
	version INTEGER PRIMARY KEY,
	data TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_downloads_time ON downloads(download_time);
CREATE INDEX IF NOT EXISTS idx_deliveries_webhook ON webhook_deliveries(webhook_id, created_at);
CREATE INDEX IF NOT EXISTS idx_apikeys_hash ON admin_api_keys(key_hash);
`

// NewSQLiteBackend opens (creating and migrating if needed) a sqlite-backed
// Backend at path, with the given connection pool tuning.
func NewSQLiteBackend(path string, maxOpenConns int, connMaxLifetime time.Duration) (*SQLiteBackend, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("metadata: creating sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("metadata: opening sqlite db: %w", err)
	}
	if maxOpenConns <= 0 {
		maxOpenConns = 1 // modernc.org/sqlite is not safe for unbounded concurrent writers
	}
	db.SetMaxOpenConns(maxOpenConns)
	if connMaxLifetime > 0 {
		db.SetConnMaxLifetime(connMaxLifetime)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("metadata: applying sqlite schema: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

func (s *SQLiteBackend) Close() error { return s.db.Close() }

// --- Files ---

func (s *SQLiteBackend) CreateFile(rec *types.FileRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO files(path, data) VALUES (?, ?)`, rec.Path, data)
	return err
}

func (s *SQLiteBackend) GetFile(path string) (*types.FileRecord, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM files WHERE path = ?`, path).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec types.FileRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *SQLiteBackend) ListFiles(dirPrefix string) ([]*types.FileRecord, error) {
	rows, err := s.db.Query(`SELECT data FROM files WHERE path LIKE ? ORDER BY path`, dirPrefix+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.FileRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var rec types.FileRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			continue
		}
		if rec.IsDeleted {
			continue
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (s *SQLiteBackend) UpdateFile(rec *types.FileRecord) error {
	rec.UpdatedAt = time.Now()
	return s.CreateFile(rec)
}

func (s *SQLiteBackend) SoftDeleteFile(path string) error {
	rec, err := s.GetFile(path)
	if err != nil {
		return err
	}
	rec.IsDeleted = true
	return s.UpdateFile(rec)
}

func (s *SQLiteBackend) PurgeFile(path string) error {
	_, err := s.db.Exec(`DELETE FROM files WHERE path = ?`, path)
	return err
}

func (s *SQLiteBackend) TouchFileAccess(path string, at time.Time) error {
	rec, err := s.GetFile(path)
	if err != nil {
		return err
	}
	rec.LastAccessed = at
	rec.DownloadCount++
	return s.UpdateFile(rec)
}

// --- Downloads ---

func (s *SQLiteBackend) RecordDownload(rec *types.DownloadRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	id := fmt.Sprintf("%s-%d", rec.FilePath, rec.DownloadTime.UnixNano())
	_, err = s.db.Exec(`INSERT OR REPLACE INTO downloads(id, file_path, download_time, data) VALUES (?, ?, ?, ?)`,
		id, rec.FilePath, rec.DownloadTime, data)
	return err
}

func (s *SQLiteBackend) CountDownloads(since time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM downloads WHERE download_time > ?`, since).Scan(&n)
	return n, err
}

func (s *SQLiteBackend) TopDownloads(since time.Time, limit int) ([]types.DownloadRecord, error) {
	rows, err := s.db.Query(`
		SELECT file_path, COUNT(*) as cnt, MAX(data)
		FROM downloads
		WHERE download_time > ?
		GROUP BY file_path
		ORDER BY cnt DESC
		LIMIT ?`, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.DownloadRecord
	for rows.Next() {
		var path string
		var cnt int
		var data string
		if err := rows.Scan(&path, &cnt, &data); err != nil {
			return nil, err
		}
		var rec types.DownloadRecord
		if json.Unmarshal([]byte(data), &rec) == nil {
			rec.FilePath = path
			rec.Duration = time.Duration(cnt)
			out = append(out, rec)
		}
	}
	return out, rows.Err()
}

// --- Sync runs ---

func (s *SQLiteBackend) CreateSyncRun(run *types.SyncRun) error {
	data, err := json.Marshal(run)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO sync_runs(sync_id, source_name, started_at, data) VALUES (?, ?, ?, ?)`,
		run.SyncID, run.SourceName, run.StartedAt, data)
	return err
}

func (s *SQLiteBackend) UpdateSyncRun(run *types.SyncRun) error {
	return s.CreateSyncRun(run)
}

func (s *SQLiteBackend) GetSyncRun(syncID string) (*types.SyncRun, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM sync_runs WHERE sync_id = ?`, syncID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var run types.SyncRun
	if err := json.Unmarshal([]byte(data), &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *SQLiteBackend) ListSyncRuns(sourceName string, limit int) ([]*types.SyncRun, error) {
	var rows *sql.Rows
	var err error
	if sourceName == "" {
		rows, err = s.db.Query(`SELECT data FROM sync_runs ORDER BY started_at DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.Query(`SELECT data FROM sync_runs WHERE source_name = ? ORDER BY started_at DESC LIMIT ?`, sourceName, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.SyncRun
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var run types.SyncRun
		if json.Unmarshal([]byte(data), &run) == nil {
			out = append(out, &run)
		}
	}
	return out, rows.Err()
}

// --- Cache index ---

func (s *SQLiteBackend) UpsertCacheRecord(rec *types.CacheRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO cache_records(cache_key, data) VALUES (?, ?)`, rec.CacheKey, data)
	return err
}

func (s *SQLiteBackend) GetCacheRecord(key string) (*types.CacheRecord, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM cache_records WHERE cache_key = ?`, key).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec types.CacheRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *SQLiteBackend) RecordHit(key string, at time.Time) error {
	rec, err := s.GetCacheRecord(key)
	if err != nil {
		return err
	}
	rec.Hits++
	rec.LastHit = at
	return s.UpsertCacheRecord(rec)
}

func (s *SQLiteBackend) DeleteCacheRecord(key string) error {
	_, err := s.db.Exec(`DELETE FROM cache_records WHERE cache_key = ?`, key)
	return err
}

func (s *SQLiteBackend) CacheUsage() (int64, int64, error) {
	rows, err := s.db.Query(`SELECT data FROM cache_records`)
	if err != nil {
		return 0, 0, err
	}
	defer rows.Close()

	var files, bytes int64
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return 0, 0, err
		}
		var rec types.CacheRecord
		if json.Unmarshal([]byte(data), &rec) == nil {
			files++
			bytes += rec.FileSize
		}
	}
	return files, bytes, rows.Err()
}

// --- Monitor samples ---

func (s *SQLiteBackend) InsertMonitorSample(sample *types.MonitorSample) error {
	data, err := json.Marshal(sample)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO monitor_samples(ts, data) VALUES (?, ?)`, sample.Timestamp.UnixNano(), data)
	return err
}

func (s *SQLiteBackend) MonitorSamplesSince(since time.Time) ([]types.MonitorSample, error) {
	rows, err := s.db.Query(`SELECT data FROM monitor_samples WHERE ts > ? ORDER BY ts`, since.UnixNano())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.MonitorSample
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var sm types.MonitorSample
		if json.Unmarshal([]byte(data), &sm) == nil {
			out = append(out, sm)
		}
	}
	return out, rows.Err()
}

// --- Webhooks ---

func (s *SQLiteBackend) CreateWebhook(wh *types.Webhook) error {
	data, err := json.Marshal(wh)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO webhooks(id, data) VALUES (?, ?)`, wh.ID, data)
	return err
}

func (s *SQLiteBackend) GetWebhook(id string) (*types.Webhook, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM webhooks WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var wh types.Webhook
	if err := json.Unmarshal([]byte(data), &wh); err != nil {
		return nil, err
	}
	return &wh, nil
}

func (s *SQLiteBackend) ListWebhooks() ([]*types.Webhook, error) {
	rows, err := s.db.Query(`SELECT data FROM webhooks`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Webhook
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var wh types.Webhook
		if json.Unmarshal([]byte(data), &wh) == nil {
			out = append(out, &wh)
		}
	}
	return out, rows.Err()
}

func (s *SQLiteBackend) UpdateWebhook(wh *types.Webhook) error {
	wh.UpdatedAt = time.Now()
	return s.CreateWebhook(wh)
}

func (s *SQLiteBackend) DeleteWebhook(id string) error {
	_, err := s.db.Exec(`DELETE FROM webhooks WHERE id = ?`, id)
	return err
}

func (s *SQLiteBackend) RecordDelivery(d *types.WebhookDelivery) error {
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO webhook_deliveries(id, webhook_id, created_at, data) VALUES (?, ?, ?, ?)`,
		d.ID, d.WebhookID, d.CreatedAt, data)
	return err
}

func (s *SQLiteBackend) ListDeliveries(webhookID string, limit int) ([]types.WebhookDelivery, error) {
	rows, err := s.db.Query(`SELECT data FROM webhook_deliveries WHERE webhook_id = ? ORDER BY created_at DESC LIMIT ?`, webhookID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.WebhookDelivery
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var d types.WebhookDelivery
		if json.Unmarshal([]byte(data), &d) == nil {
			out = append(out, d)
		}
	}
	return out, rows.Err()
}

// --- Users + login audit ---

func (s *SQLiteBackend) CreateUser(u *types.User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO users(username, data) VALUES (?, ?)`, u.Username, data)
	return err
}

func (s *SQLiteBackend) GetUser(username string) (*types.User, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM users WHERE username = ?`, username).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var u types.User
	if err := json.Unmarshal([]byte(data), &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *SQLiteBackend) UpdateUser(u *types.User) error {
	return s.CreateUser(u)
}

func (s *SQLiteBackend) RecordLogin(l *types.LoginLog) error {
	data, err := json.Marshal(l)
	if err != nil {
		return err
	}
	id := fmt.Sprintf("%s-%d", l.Username, l.At.UnixNano())
	_, err = s.db.Exec(`INSERT OR REPLACE INTO login_logs(id, username, at, data) VALUES (?, ?, ?, ?)`, id, l.Username, l.At, data)
	return err
}

// --- Admin API keys ---

func (s *SQLiteBackend) CreateAPIKey(k *types.AdminAPIKey) error {
	data, err := json.Marshal(k)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO admin_api_keys(key_id, key_hash, data) VALUES (?, ?, ?)`, k.KeyID, k.KeyHash, data)
	return err
}

func (s *SQLiteBackend) GetAPIKeyByHash(hash string) (*types.AdminAPIKey, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM admin_api_keys WHERE key_hash = ?`, hash).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var k types.AdminAPIKey
	if err := json.Unmarshal([]byte(data), &k); err != nil {
		return nil, err
	}
	return &k, nil
}

func (s *SQLiteBackend) ListAPIKeys() ([]*types.AdminAPIKey, error) {
	rows, err := s.db.Query(`SELECT data FROM admin_api_keys`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.AdminAPIKey
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var k types.AdminAPIKey
		if json.Unmarshal([]byte(data), &k) == nil {
			out = append(out, &k)
		}
	}
	return out, rows.Err()
}

func (s *SQLiteBackend) RevokeAPIKey(keyID string) error {
	var data string
	err := s.db.QueryRow(`SELECT data FROM admin_api_keys WHERE key_id = ?`, keyID).Scan(&data)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	var k types.AdminAPIKey
	if err := json.Unmarshal([]byte(data), &k); err != nil {
		return err
	}
	k.Enabled = false
	return s.CreateAPIKey(&k)
}

func (s *SQLiteBackend) TouchAPIKeyUse(keyID string, at time.Time) error {
	var data string
	err := s.db.QueryRow(`SELECT data FROM admin_api_keys WHERE key_id = ?`, keyID).Scan(&data)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	var k types.AdminAPIKey
	if err := json.Unmarshal([]byte(data), &k); err != nil {
		return err
	}
	k.LastUsed = &at
	return s.CreateAPIKey(&k)
}

// --- Schema versions ---

func (s *SQLiteBackend) SchemaVersions() ([]types.SchemaVersion, error) {
	rows, err := s.db.Query(`SELECT data FROM schema_versions ORDER BY version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.SchemaVersion
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var v types.SchemaVersion
		if json.Unmarshal([]byte(data), &v) == nil {
			out = append(out, v)
		}
	}
	return out, rows.Err()
}

func (s *SQLiteBackend) RecordSchemaVersion(v types.SchemaVersion) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO schema_versions(version, data) VALUES (?, ?)`, v.Version, data)
	return err
}

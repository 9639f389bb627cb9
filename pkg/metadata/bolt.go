package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/cachehub/mirror/pkg/types"
)

func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

var (
	bucketFiles       = []byte("files")
	bucketDownloads   = []byte("downloads")
	bucketSyncRuns    = []byte("sync_runs")
	bucketCache       = []byte("cache")
	bucketMonitor     = []byte("monitor_samples")
	bucketWebhooks    = []byte("webhooks")
	bucketDeliveries  = []byte("webhook_deliveries")
	bucketUsers       = []byte("users")
	bucketLoginLogs   = []byte("login_logs")
	bucketAPIKeys     = []byte("admin_api_keys")
	bucketSchemaVers  = []byte("schema_versions")
)

// BoltBackend implements Backend on a single bbolt file: the embedded,
// default metadata-store option.
type BoltBackend struct {
	db *bolt.DB
}

// NewBoltBackend opens (creating if needed) a bbolt-backed Backend at path.
func NewBoltBackend(path string) (*BoltBackend, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := ensureDir(dir); err != nil {
			return nil, err
		}
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("metadata: opening bolt db: %w", err)
	}

	buckets := [][]byte{
		bucketFiles, bucketDownloads, bucketSyncRuns, bucketCache,
		bucketMonitor, bucketWebhooks, bucketDeliveries, bucketUsers,
		bucketLoginLogs, bucketAPIKeys, bucketSchemaVers,
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range buckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("creating bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltBackend{db: db}, nil
}

func (b *BoltBackend) Close() error { return b.db.Close() }

// --- Files ---

func (b *BoltBackend) CreateFile(rec *types.FileRecord) error {
	if rec.FileID == "" {
		rec.FileID = uuid.NewString()
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketFiles), []byte(rec.Path), rec)
	})
}

func (b *BoltBackend) GetFile(path string) (*types.FileRecord, error) {
	var rec types.FileRecord
	err := b.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(bucketFiles), []byte(path), &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (b *BoltBackend) ListFiles(dirPrefix string) ([]*types.FileRecord, error) {
	var out []*types.FileRecord
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFiles).ForEach(func(k, v []byte) error {
			var rec types.FileRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return nil
			}
			if rec.IsDeleted {
				return nil
			}
			if dirPrefix == "" || strings.HasPrefix(rec.Path, dirPrefix) {
				out = append(out, &rec)
			}
			return nil
		})
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDir != out[j].IsDir {
			return out[i].IsDir
		}
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out, err
}

func (b *BoltBackend) UpdateFile(rec *types.FileRecord) error {
	rec.UpdatedAt = time.Now()
	return b.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketFiles), []byte(rec.Path), rec)
	})
}

func (b *BoltBackend) SoftDeleteFile(path string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketFiles)
		var rec types.FileRecord
		if err := getJSON(bkt, []byte(path), &rec); err != nil {
			return err
		}
		rec.IsDeleted = true
		rec.UpdatedAt = time.Now()
		return putJSON(bkt, []byte(path), &rec)
	})
}

func (b *BoltBackend) PurgeFile(path string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFiles).Delete([]byte(path))
	})
}

func (b *BoltBackend) TouchFileAccess(path string, at time.Time) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketFiles)
		var rec types.FileRecord
		if err := getJSON(bkt, []byte(path), &rec); err != nil {
			return err
		}
		rec.LastAccessed = at
		rec.DownloadCount++
		return putJSON(bkt, []byte(path), &rec)
	})
}

// --- Downloads (append-only) ---

func (b *BoltBackend) RecordDownload(rec *types.DownloadRecord) error {
	key := downloadKey(rec.DownloadTime)
	return b.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketDownloads), key, rec)
	})
}

func downloadKey(t time.Time) []byte {
	return []byte(fmt.Sprintf("%020d-%s", t.UnixNano(), uuid.NewString()))
}

func (b *BoltBackend) CountDownloads(since time.Time) (int64, error) {
	var n int64
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDownloads).ForEach(func(k, v []byte) error {
			var rec types.DownloadRecord
			if json.Unmarshal(v, &rec) == nil && rec.DownloadTime.After(since) {
				n++
			}
			return nil
		})
	})
	return n, err
}

func (b *BoltBackend) TopDownloads(since time.Time, limit int) ([]types.DownloadRecord, error) {
	counts := map[string]int{}
	var sizes = map[string]int64{}
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDownloads).ForEach(func(k, v []byte) error {
			var rec types.DownloadRecord
			if json.Unmarshal(v, &rec) == nil && rec.DownloadTime.After(since) {
				counts[rec.FilePath]++
				sizes[rec.FilePath] = rec.FileSize
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	out := make([]types.DownloadRecord, 0, len(counts))
	for path, c := range counts {
		out = append(out, types.DownloadRecord{FilePath: path, FileSize: sizes[path], Duration: time.Duration(c)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Duration > out[j].Duration })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- Sync runs ---

func (b *BoltBackend) CreateSyncRun(run *types.SyncRun) error {
	if run.SyncID == "" {
		run.SyncID = uuid.NewString()
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketSyncRuns), []byte(run.SyncID), run)
	})
}

func (b *BoltBackend) UpdateSyncRun(run *types.SyncRun) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketSyncRuns), []byte(run.SyncID), run)
	})
}

func (b *BoltBackend) GetSyncRun(syncID string) (*types.SyncRun, error) {
	var run types.SyncRun
	err := b.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(bucketSyncRuns), []byte(syncID), &run)
	})
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (b *BoltBackend) ListSyncRuns(sourceName string, limit int) ([]*types.SyncRun, error) {
	var out []*types.SyncRun
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSyncRuns).ForEach(func(k, v []byte) error {
			var run types.SyncRun
			if json.Unmarshal(v, &run) != nil {
				return nil
			}
			if sourceName == "" || run.SourceName == sourceName {
				out = append(out, &run)
			}
			return nil
		})
	})
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

// --- Cache index ---

func (b *BoltBackend) UpsertCacheRecord(rec *types.CacheRecord) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketCache), []byte(rec.CacheKey), rec)
	})
}

func (b *BoltBackend) GetCacheRecord(key string) (*types.CacheRecord, error) {
	var rec types.CacheRecord
	err := b.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(bucketCache), []byte(key), &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (b *BoltBackend) RecordHit(key string, at time.Time) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketCache)
		var rec types.CacheRecord
		if err := getJSON(bkt, []byte(key), &rec); err != nil {
			return err
		}
		rec.Hits++
		rec.LastHit = at
		return putJSON(bkt, []byte(key), &rec)
	})
}

func (b *BoltBackend) DeleteCacheRecord(key string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCache).Delete([]byte(key))
	})
}

func (b *BoltBackend) CacheUsage() (int64, int64, error) {
	var files, bytes int64
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCache).ForEach(func(k, v []byte) error {
			var rec types.CacheRecord
			if json.Unmarshal(v, &rec) == nil {
				files++
				bytes += rec.FileSize
			}
			return nil
		})
	})
	return files, bytes, err
}

// --- Monitor samples ---

func (b *BoltBackend) InsertMonitorSample(s *types.MonitorSample) error {
	key := []byte(fmt.Sprintf("%020d", s.Timestamp.UnixNano()))
	return b.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketMonitor), key, s)
	})
}

func (b *BoltBackend) MonitorSamplesSince(since time.Time) ([]types.MonitorSample, error) {
	var out []types.MonitorSample
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMonitor).ForEach(func(k, v []byte) error {
			var s types.MonitorSample
			if json.Unmarshal(v, &s) == nil && s.Timestamp.After(since) {
				out = append(out, s)
			}
			return nil
		})
	})
	return out, err
}

// --- Webhooks ---

func (b *BoltBackend) CreateWebhook(wh *types.Webhook) error {
	if wh.ID == "" {
		wh.ID = uuid.NewString()
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketWebhooks), []byte(wh.ID), wh)
	})
}

func (b *BoltBackend) GetWebhook(id string) (*types.Webhook, error) {
	var wh types.Webhook
	err := b.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(bucketWebhooks), []byte(id), &wh)
	})
	if err != nil {
		return nil, err
	}
	return &wh, nil
}

func (b *BoltBackend) ListWebhooks() ([]*types.Webhook, error) {
	var out []*types.Webhook
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWebhooks).ForEach(func(k, v []byte) error {
			var wh types.Webhook
			if json.Unmarshal(v, &wh) == nil {
				out = append(out, &wh)
			}
			return nil
		})
	})
	return out, err
}

func (b *BoltBackend) UpdateWebhook(wh *types.Webhook) error {
	wh.UpdatedAt = time.Now()
	return b.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketWebhooks), []byte(wh.ID), wh)
	})
}

func (b *BoltBackend) DeleteWebhook(id string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWebhooks).Delete([]byte(id))
	})
}

func (b *BoltBackend) RecordDelivery(d *types.WebhookDelivery) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	key := []byte(fmt.Sprintf("%s/%020d", d.WebhookID, d.CreatedAt.UnixNano()))
	return b.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketDeliveries), key, d)
	})
}

func (b *BoltBackend) ListDeliveries(webhookID string, limit int) ([]types.WebhookDelivery, error) {
	var out []types.WebhookDelivery
	prefix := webhookID + "/"
	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketDeliveries).Cursor()
		for k, v := c.Seek([]byte(prefix)); k != nil && strings.HasPrefix(string(k), prefix); k, v = c.Next() {
			var d types.WebhookDelivery
			if json.Unmarshal(v, &d) == nil {
				out = append(out, d)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

// --- Users + login audit ---

func (b *BoltBackend) CreateUser(u *types.User) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketUsers), []byte(u.Username), u)
	})
}

func (b *BoltBackend) GetUser(username string) (*types.User, error) {
	var u types.User
	err := b.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(bucketUsers), []byte(username), &u)
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (b *BoltBackend) UpdateUser(u *types.User) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketUsers), []byte(u.Username), u)
	})
}

func (b *BoltBackend) RecordLogin(l *types.LoginLog) error {
	key := []byte(fmt.Sprintf("%s/%020d", l.Username, l.At.UnixNano()))
	return b.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketLoginLogs), key, l)
	})
}

// --- Admin API keys ---

func (b *BoltBackend) CreateAPIKey(k *types.AdminAPIKey) error {
	if k.KeyID == "" {
		k.KeyID = uuid.NewString()
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketAPIKeys), []byte(k.KeyID), k)
	})
}

func (b *BoltBackend) GetAPIKeyByHash(hash string) (*types.AdminAPIKey, error) {
	var found *types.AdminAPIKey
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAPIKeys).ForEach(func(k, v []byte) error {
			var key types.AdminAPIKey
			if json.Unmarshal(v, &key) == nil && key.KeyHash == hash {
				found = &key
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (b *BoltBackend) ListAPIKeys() ([]*types.AdminAPIKey, error) {
	var out []*types.AdminAPIKey
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAPIKeys).ForEach(func(k, v []byte) error {
			var key types.AdminAPIKey
			if json.Unmarshal(v, &key) == nil {
				out = append(out, &key)
			}
			return nil
		})
	})
	return out, err
}

func (b *BoltBackend) RevokeAPIKey(keyID string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketAPIKeys)
		var key types.AdminAPIKey
		if err := getJSON(bkt, []byte(keyID), &key); err != nil {
			return err
		}
		key.Enabled = false
		return putJSON(bkt, []byte(keyID), &key)
	})
}

func (b *BoltBackend) TouchAPIKeyUse(keyID string, at time.Time) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketAPIKeys)
		var key types.AdminAPIKey
		if err := getJSON(bkt, []byte(keyID), &key); err != nil {
			return err
		}
		key.LastUsed = &at
		return putJSON(bkt, []byte(keyID), &key)
	})
}

// --- Schema versions ---

func (b *BoltBackend) SchemaVersions() ([]types.SchemaVersion, error) {
	var out []types.SchemaVersion
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSchemaVers).ForEach(func(k, v []byte) error {
			var sv types.SchemaVersion
			if json.Unmarshal(v, &sv) == nil {
				out = append(out, sv)
			}
			return nil
		})
	})
	return out, err
}

func (b *BoltBackend) RecordSchemaVersion(v types.SchemaVersion) error {
	key := []byte(fmt.Sprintf("%d", v.Version))
	return b.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketSchemaVers), key, &v)
	})
}

// --- helpers ---

func putJSON(bkt *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return bkt.Put(key, data)
}

func getJSON(bkt *bolt.Bucket, key []byte, v any) error {
	data := bkt.Get(key)
	if data == nil {
		return ErrNotFound
	}
	return json.Unmarshal(data, v)
}

// Package store implements the content-addressed cache (component A): a
// payload file plus a JSON sidecar recording TTL and size, written
// atomically via temp-file-then-rename, with a background sweeper that
// removes orphaned temp files left by a crash mid-write.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cachehub/mirror/pkg/log"
	"github.com/cachehub/mirror/pkg/types"
)

// ErrMiss is returned by Lookup when the key is absent, expired, or its
// sidecar is corrupt.
var ErrMiss = errors.New("store: cache miss")

// Entry is the result of a successful Lookup.
type Entry struct {
	Body        io.ReadCloser
	Size        int64
	ContentType string
	Age         time.Duration
}

// Stats summarizes the store's current footprint.
type Stats struct {
	FileCount  int64
	TotalBytes int64
}

// Store is the content-addressed payload + sidecar cache rooted at a base
// directory. All keys are forward-slash paths relative to that root.
type Store struct {
	baseDir string
	mu      sync.Mutex // not locked anywhere: sweeper passes, Put and Evict run concurrently

	// Remote, when set, backs every Put with an async write-through and
	// serves Lookup on a local miss, letting large or rarely-read
	// ecosystems spill onto S3 without the adapter code knowing.
	Remote *Remote
}

// New creates a Store rooted at baseDir, creating the directory if needed.
func New(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("store: creating base dir: %w", err)
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("store: resolving base dir: %w", err)
	}
	return &Store{baseDir: abs}, nil
}

// resolve maps a cache key to an absolute payload path, rejecting any key
// that would escape the base directory.
func (s *Store) resolve(key string) (string, error) {
	clean := filepath.Clean("/" + filepath.FromSlash(key))
	full := filepath.Join(s.baseDir, clean)
	rel, err := filepath.Rel(s.baseDir, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("store: path traversal rejected for key %q", key)
	}
	return full, nil
}

func sidecarPath(payloadPath string) string { return payloadPath + ".meta" }

// Lookup returns the cached entry for key, or ErrMiss if it is absent,
// expired, or its sidecar can't be parsed. Expired entries are left in
// place for the sweeper; Lookup never deletes on read.
func (s *Store) Lookup(key string) (Entry, error) {
	payloadPath, err := s.resolve(key)
	if err != nil {
		return Entry{}, err
	}

	data, err := os.ReadFile(sidecarPath(payloadPath))
	if err != nil {
		return s.lookupRemote(key)
	}
	var sc types.Sidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return s.lookupRemote(key)
	}
	if time.Now().Unix() >= sc.Expires {
		return s.lookupRemote(key)
	}

	f, err := os.Open(payloadPath)
	if err != nil {
		return s.lookupRemote(key)
	}
	return Entry{
		Body:        f,
		Size:        sc.Size,
		ContentType: sc.ContentType,
		Age:         time.Since(time.Unix(sc.CachedAt, 0)),
	}, nil
}

// lookupRemote falls back to the S3 tier on a local miss, if one is
// configured. Returns ErrMiss untouched when Remote is nil.
func (s *Store) lookupRemote(key string) (Entry, error) {
	if s.Remote == nil {
		return Entry{}, ErrMiss
	}
	return s.Remote.Lookup(context.Background(), key)
}

// Put writes body under key with the given content type and TTL. The
// payload is written to a temp file in the same directory, fsynced, and
// renamed into place before the sidecar (which records the final size) is
// written, so a sidecar never outlives a missing payload.
func (s *Store) Put(key string, body io.Reader, contentType string, ttl time.Duration) error {
	payloadPath, err := s.resolve(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(payloadPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: creating dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp.*")
	if err != nil {
		return fmt.Errorf("store: creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	size, err := io.Copy(tmp, body)
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("store: writing payload: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("store: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store: closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, payloadPath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store: renaming into place: %w", err)
	}

	now := time.Now()
	sc := types.Sidecar{
		CachedAt:    now.Unix(),
		Expires:     now.Add(ttl).Unix(),
		Size:        size,
		ContentType: contentType,
	}
	scData, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("store: marshalling sidecar: %w", err)
	}
	if err := writeAtomic(sidecarPath(payloadPath), scData); err != nil {
		// Roll back: a payload with no sidecar is a miss, but clean up anyway.
		os.Remove(payloadPath)
		return fmt.Errorf("store: writing sidecar: %w", err)
	}

	if s.Remote != nil {
		s.writeThroughRemote(key, payloadPath, contentType, ttl)
	}
	return nil
}

// writeThroughRemote mirrors a freshly-written payload to the S3 tier in
// the background; a failure here never fails the caller's Put, since the
// local copy is already durable and the sweeper/adapters only need the
// remote tier for overflow capacity, not correctness.
func (s *Store) writeThroughRemote(key, payloadPath, contentType string, ttl time.Duration) {
	go func() {
		f, err := os.Open(payloadPath)
		if err != nil {
			return
		}
		defer f.Close()
		if err := s.Remote.Put(context.Background(), key, f, contentType, ttl); err != nil {
			log.WithComponent("store").Warn().Err(err).Str("key", key).Msg("remote write-through failed")
		}
	}()
}

func writeAtomic(dst string, data []byte) error {
	dir := filepath.Dir(dst)
	tmp, err := os.CreateTemp(dir, ".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, dst)
}

// Evict removes the payload and sidecar for key, if present.
func (s *Store) Evict(key string) error {
	payloadPath, err := s.resolve(key)
	if err != nil {
		return err
	}
	_ = os.Remove(sidecarPath(payloadPath))
	if err := os.Remove(payloadPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Stats walks the base directory and totals payload files (sidecars and
// temp files are excluded from the count).
func (s *Store) Stats() (Stats, error) {
	var st Stats
	err := filepath.WalkDir(s.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		name := d.Name()
		if strings.HasSuffix(name, ".meta") || strings.HasPrefix(name, ".tmp.") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		st.FileCount++
		st.TotalBytes += info.Size()
		return nil
	})
	return st, err
}

// BaseDir returns the store's resolved root directory.
func (s *Store) BaseDir() string { return s.baseDir }

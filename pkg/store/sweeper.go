package store

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cachehub/mirror/pkg/log"
	"github.com/cachehub/mirror/pkg/types"
)

// Sweeper periodically removes expired cache entries and orphaned temp
// files (partial writes left behind by a crash between CreateTemp and
// Rename).
type Sweeper struct {
	store    *Store
	interval time.Duration
}

// NewSweeper creates a Sweeper over store, running every interval.
func NewSweeper(store *Store, interval time.Duration) *Sweeper {
	return &Sweeper{store: store, interval: interval}
}

// Run blocks, sweeping on each tick until ctx is cancelled.
func (sw *Sweeper) Run(ctx context.Context) {
	logger := log.WithComponent("store-sweeper")
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := sw.sweepOnce(); err != nil {
				logger.Error().Err(err).Msg("sweep pass failed")
			}
		case <-ctx.Done():
			return
		}
	}
}

// sweepOnce runs a single pass: expired sidecar+payload pairs are deleted,
// and a .tmp.* file is removed once it has not been written to for a full
// sweep interval. A Put still copying into its temp file keeps that file's
// modification time recent, so the pass does not pull the file out from
// under the Put's rename. A temp file left by a crash was last written
// before the restart, so it is idle for more than one interval by the
// first pass after the restart, and that pass removes it.
func (sw *Sweeper) sweepOnce() error {
	now := time.Now().Unix()
	return filepath.WalkDir(sw.store.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		name := d.Name()
		switch {
		case strings.HasPrefix(name, ".tmp."):
			if info, err := d.Info(); err == nil && time.Since(info.ModTime()) < sw.interval {
				return nil
			}
			os.Remove(path)
			return nil
		case strings.HasSuffix(name, ".meta"):
			data, err := os.ReadFile(path)
			if err != nil {
				return nil
			}
			var sc types.Sidecar
			if json.Unmarshal(data, &sc) != nil || now >= sc.Expires {
				payload := strings.TrimSuffix(path, ".meta")
				os.Remove(path)
				os.Remove(payload)
			}
		}
		return nil
	})
}

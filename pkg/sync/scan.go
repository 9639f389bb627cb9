package sync

import (
	"io/fs"
	"path/filepath"
	"time"

	"github.com/cachehub/mirror/pkg/metadata"
	"github.com/cachehub/mirror/pkg/types"
)

// scanDirectory walks baseDir and returns the set of relative file paths
// present on disk, used to diff against the metadata store's file index
// (4.F's scan loop).
func scanDirectory(baseDir string) (map[string]fs.FileInfo, error) {
	found := make(map[string]fs.FileInfo)
	err := filepath.WalkDir(baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(baseDir, path)
		if relErr != nil {
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}
		found[filepath.ToSlash(rel)] = info
		return nil
	})
	return found, err
}

// Diff computes the set difference between what scanDirectory found on
// disk and what the metadata store's file index says is present, emitting
// add/delete ops onto the pending queue (4.F: "emits add/delete events").
func (s *Scheduler) Diff() (added, deleted int, err error) {
	onDisk, err := scanDirectory(s.BaseDir)
	if err != nil {
		return 0, 0, err
	}

	known, err := s.Metadata.ListFiles("")
	if err != nil {
		return 0, 0, err
	}
	knownPaths := make(map[string]bool, len(known))
	for _, rec := range known {
		if rec.IsDeleted {
			continue
		}
		knownPaths[rec.Path] = true
	}

	for path, info := range onDisk {
		if !knownPaths[path] {
			s.queue.Push(PendingOp{Kind: OpAdd, Path: path, Size: info.Size()})
			added++
		}
	}
	for path := range knownPaths {
		if _, ok := onDisk[path]; !ok {
			s.queue.Push(PendingOp{Kind: OpDelete, Path: path})
			deleted++
		}
	}
	return added, deleted, nil
}

// applyOp persists one pending op to the metadata store.
func applyOp(meta metadata.Backend, op PendingOp) error {
	now := time.Now()
	switch op.Kind {
	case OpAdd, OpUpdate:
		existing, err := meta.GetFile(op.Path)
		if err != nil && err != metadata.ErrNotFound {
			return err
		}
		if existing == nil {
			return meta.CreateFile(&types.FileRecord{
				FileID:       newFileID(op.Path),
				Path:         op.Path,
				Name:         filepath.Base(op.Path),
				Size:         op.Size,
				Hash:         op.Hash,
				CreatedAt:    now,
				UpdatedAt:    now,
				LastAccessed: now,
				SyncStatus:   types.SyncStatusSynced,
			})
		}
		existing.Size = op.Size
		existing.Hash = op.Hash
		existing.UpdatedAt = now
		return meta.UpdateFile(existing)
	case OpDelete:
		return meta.SoftDeleteFile(op.Path)
	default:
		return nil
	}
}

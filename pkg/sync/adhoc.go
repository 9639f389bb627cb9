package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/cachehub/mirror/pkg/types"
)

// FetchFunc fetches one item for a source during an ad-hoc or scheduled
// sync; the sync package is transport-agnostic and is handed this by the
// caller (normally a thin wrapper around the matching pkg/adapter).
type FetchFunc func(ctx context.Context, item string) error

// SyncPackages runs a temporary, ad-hoc sync of items for source,
// tracked under the same per-source progress slot as scheduled syncs but
// flagged IsTempSync (4.F).
func (s *Scheduler) SyncPackages(ctx context.Context, sourceType, source string, items []string, fetch FetchFunc) (*types.SyncRun, error) {
	run := &types.SyncRun{
		SyncID:     newSyncID(),
		SourceType: sourceType,
		SourceName: source,
		Status:     types.SyncRunRunning,
		TotalFiles: len(items),
		StartedAt:  time.Now(),
		IsTempSync: true,
	}
	if s.Metadata != nil {
		if err := s.Metadata.CreateSyncRun(run); err != nil {
			return nil, fmt.Errorf("sync: create run: %w", err)
		}
	}

	s.setProgress(source, &SourceProgress{
		Status:     types.SyncRunRunning,
		TotalFiles: len(items),
		IsTempSync: true,
	})

	for _, item := range items {
		if err := fetch(ctx, item); err != nil {
			run.FailedFiles++
		} else {
			run.SyncedFiles++
		}
		s.setProgress(source, &SourceProgress{
			Status:      types.SyncRunRunning,
			TotalFiles:  run.TotalFiles,
			SyncedFiles: run.SyncedFiles,
			FailedFiles: run.FailedFiles,
			IsTempSync:  true,
		})
	}

	now := time.Now()
	run.CompletedAt = &now
	if run.FailedFiles == run.TotalFiles && run.TotalFiles > 0 {
		run.Status = types.SyncRunFailed
	} else {
		run.Status = types.SyncRunCompleted
	}

	if s.Metadata != nil {
		if err := s.Metadata.UpdateSyncRun(run); err != nil {
			return run, err
		}
	}

	s.setProgress(source, &SourceProgress{
		Status:      run.Status,
		TotalFiles:  run.TotalFiles,
		SyncedFiles: run.SyncedFiles,
		FailedFiles: run.FailedFiles,
		LastSync:    &now,
		IsTempSync:  true,
	})

	return run, nil
}

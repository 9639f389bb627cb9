package sync

import (
	"context"
	"time"

	"github.com/cachehub/mirror/pkg/types"
)

// Interval is a simple (non-cron) recurrence, used when a source's sync
// schedule is expressed as "every N seconds/minutes/hours/days" rather
// than a cron expression.
type Interval struct {
	Seconds int
	Minutes int
	Hours   int
	Days    int
}

func (iv Interval) duration() time.Duration {
	return time.Duration(iv.Seconds)*time.Second +
		time.Duration(iv.Minutes)*time.Minute +
		time.Duration(iv.Hours)*time.Hour +
		time.Duration(iv.Days)*24*time.Hour
}

// Task is one scheduled per-source sync, driven by either a cron schedule
// or a simple interval (4.F).
type Task struct {
	Name       string
	SourceName string
	SourceType string
	Cron       *CronSchedule
	Interval   *Interval
	Fn         func(ctx context.Context) error

	lastRun time.Time
}

// due reports whether t should trigger task, given its schedule and the
// last time it ran.
func (t *Task) due(now time.Time) bool {
	switch {
	case t.Cron != nil:
		return t.Cron.Matches(now) && now.Truncate(time.Minute).After(t.lastRun.Truncate(time.Minute))
	case t.Interval != nil:
		return t.lastRun.IsZero() || now.Sub(t.lastRun) >= t.Interval.duration()
	default:
		return false
	}
}

// SourceProgress is the per-source status the control API exposes (4.F).
type SourceProgress struct {
	Status      types.SyncRunStatus `json:"status"`
	TotalFiles  int                 `json:"total_files"`
	SyncedFiles int                 `json:"synced_files"`
	FailedFiles int                 `json:"failed_files"`
	LastSync    *time.Time          `json:"last_sync,omitempty"`
	NextSync    *time.Time          `json:"next_sync,omitempty"`
	IsTempSync  bool                `json:"is_temp_sync"`
}

// AddTask registers a scheduled task for a source.
func (s *Scheduler) AddTask(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.Name] = t
}

// RemoveTask unregisters a scheduled task.
func (s *Scheduler) RemoveTask(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, name)
}

// tickTasks checks every registered task and launches the due ones that
// are not already running (4.F: "if the same task is already running,
// skip this tick").
func (s *Scheduler) tickTasks(now time.Time) {
	s.mu.Lock()
	var toRun []*Task
	for _, t := range s.tasks {
		if !t.due(now) {
			continue
		}
		if s.taskRuns[t.Name] {
			s.logger.Debug().Str("task", t.Name).Msg("task still running, skipping tick")
			continue
		}
		s.taskRuns[t.Name] = true
		t.lastRun = now
		toRun = append(toRun, t)
	}
	s.mu.Unlock()

	for _, t := range toRun {
		go s.runTask(t)
	}
}

func (s *Scheduler) runTask(t *Task) {
	defer func() {
		s.mu.Lock()
		delete(s.taskRuns, t.Name)
		s.mu.Unlock()
	}()

	s.setProgress(t.SourceName, &SourceProgress{Status: types.SyncRunRunning})

	ctx := context.Background()
	err := t.Fn(ctx)

	now := time.Now()
	prior := s.Progress(t.SourceName)
	next := &SourceProgress{LastSync: &now}
	if prior != nil {
		next.TotalFiles, next.SyncedFiles, next.FailedFiles = prior.TotalFiles, prior.SyncedFiles, prior.FailedFiles
	}
	if err != nil {
		next.Status = types.SyncRunFailed
		s.logger.Error().Err(err).Str("task", t.Name).Msg("scheduled sync task failed")
	} else {
		next.Status = types.SyncRunCompleted
	}
	s.setProgress(t.SourceName, next)
}

func (s *Scheduler) setProgress(source string, p *SourceProgress) {
	s.progressMu.Lock()
	defer s.progressMu.Unlock()
	s.progress[source] = p
}

// Progress returns the current progress record for source, or nil if no
// sync has ever run for it.
func (s *Scheduler) Progress(source string) *SourceProgress {
	s.progressMu.Lock()
	defer s.progressMu.Unlock()
	return s.progress[source]
}

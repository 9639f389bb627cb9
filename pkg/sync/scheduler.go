package sync

import (
	"crypto/sha1"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cachehub/mirror/pkg/log"
	"github.com/cachehub/mirror/pkg/metadata"
)

// Scheduler runs the two cooperating loops 4.F describes (sync loop, scan
// loop) plus the per-source task runner.
type Scheduler struct {
	Metadata metadata.Backend
	BaseDir  string

	TickInterval time.Duration
	ScanInterval time.Duration

	logger zerolog.Logger
	mu     sync.RWMutex
	queue  *pendingQueue
	stopCh chan struct{}

	tasks    map[string]*Task
	taskRuns map[string]bool // task name -> currently running

	progress   map[string]*SourceProgress // source name -> progress
	progressMu sync.Mutex
}

// NewScheduler builds a Scheduler. tickInterval drives the sync loop;
// scanInterval drives the scan loop.
func NewScheduler(meta metadata.Backend, baseDir string, tickInterval, scanInterval time.Duration) *Scheduler {
	if tickInterval <= 0 {
		tickInterval = 30 * time.Second
	}
	if scanInterval <= 0 {
		scanInterval = 15 * time.Minute
	}
	return &Scheduler{
		Metadata:     meta,
		BaseDir:      baseDir,
		TickInterval: tickInterval,
		ScanInterval: scanInterval,
		logger:       log.WithComponent("sync"),
		queue:        newPendingQueue(),
		stopCh:       make(chan struct{}),
		tasks:        make(map[string]*Task),
		taskRuns:     make(map[string]bool),
		progress:     make(map[string]*SourceProgress),
	}
}

// Start launches the sync loop, scan loop, and task-runner tick, each on
// its own goroutine (5: "each own a dedicated task").
func (s *Scheduler) Start() {
	go s.runSyncLoop()
	go s.runScanLoop()
	go s.runTaskLoop()
}

// Stop signals all loops to exit.
func (s *Scheduler) Stop() { close(s.stopCh) }

func (s *Scheduler) runSyncLoop() {
	ticker := time.NewTicker(s.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.drainQueue()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Scheduler) runScanLoop() {
	ticker := time.NewTicker(s.ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			added, deleted, err := s.Diff()
			if err != nil {
				s.logger.Error().Err(err).Msg("scan loop failed")
				continue
			}
			if added > 0 || deleted > 0 {
				s.logger.Info().Int("added", added).Int("deleted", deleted).Msg("scan loop detected changes")
			}
		case <-s.stopCh:
			return
		}
	}
}

func (s *Scheduler) runTaskLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.tickTasks(time.Now())
		case <-s.stopCh:
			return
		}
	}
}

// drainQueue applies every queued op to the metadata store (4.F: "sync
// loop drains the pending-operations queue ... at every tick").
func (s *Scheduler) drainQueue() {
	ops := s.queue.Drain()
	for _, op := range ops {
		if err := applyOp(s.Metadata, op); err != nil {
			s.logger.Error().Err(err).Str("path", op.Path).Msg("failed to apply pending op")
		}
	}
}

// Enqueue pushes a request-path-originated change for the next sync-loop
// tick to persist.
func (s *Scheduler) Enqueue(op PendingOp) { s.queue.Push(op) }

// PendingCount reports how many ops are queued, awaiting the next tick.
func (s *Scheduler) PendingCount() int { return s.queue.Len() }

func newFileID(path string) string {
	sum := sha1.Sum([]byte(path))
	return hex.EncodeToString(sum[:8])
}

func newSyncID() string { return uuid.NewString() }

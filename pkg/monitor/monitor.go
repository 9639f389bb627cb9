// Package monitor implements the resource sampler (spec 4.K): a periodic
// sampler that emits MonitorSample rows into the metadata store, plus a
// synchronous "realtime" snapshot for the control API. Samples are taken
// via gopsutil v2.
package monitor

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/disk"
	"github.com/shirou/gopsutil/mem"
	gopsnet "github.com/shirou/gopsutil/net"

	"github.com/cachehub/mirror/pkg/log"
	"github.com/cachehub/mirror/pkg/metadata"
	"github.com/cachehub/mirror/pkg/types"
)

// Sampler periodically snapshots CPU/memory/disk/network usage into the
// metadata store.
type Sampler struct {
	Metadata metadata.Backend
	DiskPath string
	Interval time.Duration

	logger    zerolog.Logger
	stopCh    chan struct{}
	startedAt time.Time
	active    atomic.Int64
}

// New builds a Sampler. interval defaults to one minute if <= 0.
func New(meta metadata.Backend, diskPath string, interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = time.Minute
	}
	if diskPath == "" {
		diskPath = "/"
	}
	return &Sampler{
		Metadata:  meta,
		DiskPath:  diskPath,
		Interval:  interval,
		logger:    log.WithComponent("monitor"),
		stopCh:    make(chan struct{}),
		startedAt: time.Now(),
	}
}

// Start launches the periodic sampling loop.
func (s *Sampler) Start() { go s.run() }

// Stop signals the sampling loop to exit.
func (s *Sampler) Stop() { close(s.stopCh) }

func (s *Sampler) run() {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			sample := s.Snapshot()
			if s.Metadata != nil {
				if err := s.Metadata.InsertMonitorSample(&sample); err != nil {
					s.logger.Error().Err(err).Msg("failed to persist monitor sample")
				}
			}
		case <-s.stopCh:
			return
		}
	}
}

// SetActiveConnections records the in-flight request count that the next
// snapshot reports as ActiveConnections. Nothing in cmd/mirrord calls it,
// so the server's samples report zero active connections.
func (s *Sampler) SetActiveConnections(n int64) { s.active.Store(n) }

// Snapshot assembles a MonitorSample synchronously, for the control API's
// "realtime" endpoint (4.K). Permission failures on any OS counter degrade
// that field to zero with a logged note rather than failing the call.
func (s *Sampler) Snapshot() types.MonitorSample {
	sample := types.MonitorSample{
		Timestamp:         time.Now(),
		ActiveConnections: int(s.active.Load()),
		ServerUptime:      int64(time.Since(s.startedAt).Seconds()),
	}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		sample.CPUPercent = pct[0]
	} else if err != nil {
		s.logger.Warn().Err(err).Msg("cpu sample degraded to zero")
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		sample.MemoryPercent = vm.UsedPercent
	} else {
		s.logger.Warn().Err(err).Msg("memory sample degraded to zero")
	}

	if du, err := disk.Usage(s.DiskPath); err == nil {
		sample.DiskPercent = du.UsedPercent
	} else {
		s.logger.Warn().Err(err).Msg("disk sample degraded to zero")
	}

	if counters, err := gopsnet.IOCounters(false); err == nil && len(counters) > 0 {
		sample.NetworkRx = counters[0].BytesRecv
		sample.NetworkTx = counters[0].BytesSent
	} else if err != nil {
		s.logger.Warn().Err(err).Msg("network sample degraded to zero")
	}

	return sample
}

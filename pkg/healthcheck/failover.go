package healthcheck

import (
	"context"
	"sync"
	"time"

	"github.com/cachehub/mirror/pkg/log"
	"github.com/cachehub/mirror/pkg/types"
)

// SourceStats is the rolling statistics kept per (ecosystem, upstream) pair.
type SourceStats struct {
	Name               string
	URL                string
	ConsecutiveFailures int
	TotalChecks        int64
	SuccessCount       int64
	AvgResponseTime    time.Duration
	Status             *Status
}

// SuccessRate returns the fraction of checks that succeeded, or 1 if no
// checks have run yet.
func (s *SourceStats) SuccessRate() float64 {
	if s.TotalChecks == 0 {
		return 1
	}
	return float64(s.SuccessCount) / float64(s.TotalChecks)
}

// ecosystemSources is one ecosystem's ordered upstream priority list plus
// which index is currently active.
type ecosystemSources struct {
	sources []*SourceStats
	active  int
}

// Manager runs periodic HTTP checks for every configured (ecosystem,
// upstream) pair and promotes the next healthy source in priority order
// once the active one trips failure_threshold consecutive failures.
type Manager struct {
	mu        sync.RWMutex
	config    Config
	threshold int
	byEco     map[string]*ecosystemSources
	events    []types.FailoverEvent
	onSwap    func(types.FailoverEvent)
}

// NewManager builds a Manager with the given probe config and failure
// threshold (consecutive failures before promoting the next source).
func NewManager(config Config, threshold int) *Manager {
	if threshold <= 0 {
		threshold = config.Retries
	}
	return &Manager{
		config:    config,
		threshold: threshold,
		byEco:     make(map[string]*ecosystemSources),
	}
}

// OnSwap registers a callback invoked synchronously whenever the manager
// promotes a new active source (cmd/mirrord uses it to fire the
// mirror.failover webhook event).
func (m *Manager) OnSwap(fn func(types.FailoverEvent)) {
	m.onSwap = fn
}

// Register adds upstreams in priority order for ecosystem; the first
// becomes the initial active source.
func (m *Manager) Register(ecosystem string, upstreams map[string]string, order []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sources := make([]*SourceStats, 0, len(order))
	for _, name := range order {
		url, ok := upstreams[name]
		if !ok {
			continue
		}
		sources = append(sources, &SourceStats{Name: name, URL: url, Status: NewStatus()})
	}
	m.byEco[ecosystem] = &ecosystemSources{sources: sources}
}

// Active returns the currently active upstream URL for ecosystem.
func (m *Manager) Active(ecosystem string) (name, url string, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	es, exists := m.byEco[ecosystem]
	if !exists || len(es.sources) == 0 {
		return "", "", false
	}
	s := es.sources[es.active]
	return s.Name, s.URL, true
}

// CheckNow runs one synchronous health check pass for ecosystem outside the
// regular ticker, for the control API's on-demand check/refresh endpoints.
func (m *Manager) CheckNow(ctx context.Context, ecosystem string) {
	m.checkEcosystem(ctx, ecosystem)
}

// Run starts the check loop; it blocks until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	m.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Manager) tick(ctx context.Context) {
	m.mu.Lock()
	ecosystems := make([]string, 0, len(m.byEco))
	for eco := range m.byEco {
		ecosystems = append(ecosystems, eco)
	}
	m.mu.Unlock()

	for _, eco := range ecosystems {
		m.checkEcosystem(ctx, eco)
	}
}

func (m *Manager) checkEcosystem(ctx context.Context, ecosystem string) {
	m.mu.Lock()
	es, ok := m.byEco[ecosystem]
	if !ok || len(es.sources) == 0 {
		m.mu.Unlock()
		return
	}
	active := es.sources[es.active]
	m.mu.Unlock()

	checkCtx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	result := NewHTTPChecker(active.URL).WithMethod("HEAD").Check(checkCtx)
	cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	active.TotalChecks++
	if result.Healthy {
		active.SuccessCount++
		active.ConsecutiveFailures = 0
	} else {
		active.ConsecutiveFailures++
	}
	if active.AvgResponseTime == 0 {
		active.AvgResponseTime = result.Duration
	} else {
		active.AvgResponseTime = (active.AvgResponseTime + result.Duration) / 2
	}
	active.Status.Update(result, m.config)

	if active.ConsecutiveFailures < m.threshold {
		return
	}

	for i, candidate := range es.sources {
		if i == es.active || candidate.ConsecutiveFailures >= m.threshold {
			continue
		}
		event := types.FailoverEvent{
			Timestamp: time.Now(),
			Ecosystem: ecosystem,
			OldSource: active.Name,
			NewSource: candidate.Name,
			Reason:    "consecutive_failures_exceeded_threshold",
		}
		es.active = i
		m.events = append(m.events, event)
		if len(m.events) > 200 {
			m.events = m.events[len(m.events)-200:]
		}
		log.WithSource(ecosystem, event.NewSource).Info().Str("old", event.OldSource).Msg("failover: promoted next healthy upstream")
		if m.onSwap != nil {
			m.onSwap(event)
		}
		return
	}
}

// Stats returns a snapshot of every tracked source for ecosystem.
func (m *Manager) Stats(ecosystem string) []SourceStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	es, ok := m.byEco[ecosystem]
	if !ok {
		return nil
	}
	out := make([]SourceStats, len(es.sources))
	for i, s := range es.sources {
		out[i] = *s
	}
	return out
}

// Events returns the most recent failover events, newest last.
func (m *Manager) Events() []types.FailoverEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.FailoverEvent, len(m.events))
	copy(out, m.events)
	return out
}

// Package prewarm implements the cache prewarmer (spec 4.H): given curated
// per-ecosystem item lists, it issues unconditional GETs against the
// server's own adapter URLs to fill the cache ahead of client demand,
// concurrently up to a configurable worker count, honoring priority order
// and a bounded retry.
package prewarm

import (
	"context"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cachehub/mirror/pkg/log"
	"github.com/cachehub/mirror/pkg/metrics"
	"github.com/cachehub/mirror/pkg/types"
)

// priorityRank orders 4.H's priority tiers: critical > high > medium > low.
var priorityRank = map[string]int{
	"critical": 0,
	"high":     1,
	"medium":   2,
	"low":      3,
}

// Target is one requested prewarm batch for an ecosystem.
type Target struct {
	Ecosystem string
	Items     []string
	Priority  string
	Limit     int
}

// Fetcher issues the unconditional GET against the server's own adapter
// URL for one item, returning the response size on success. Prewarm is
// transport-agnostic; the caller supplies this (normally a thin wrapper
// hitting localhost through the router so the normal cache-fill path runs).
type Fetcher func(ctx context.Context, ecosystem, item string) (size int64, statusCode int, err error)

const defaultMaxAttempts = 2

// Prewarmer runs prewarm batches and keeps a bounded history of summaries.
type Prewarmer struct {
	Fetch     Fetcher
	BatchSize int

	logger zerolog.Logger

	mu      sync.Mutex
	history []types.PrewarmSummary
}

// New builds a Prewarmer. batchSize is the max concurrent workers; it
// defaults to 4 if <= 0.
func New(fetch Fetcher, batchSize int) *Prewarmer {
	if batchSize <= 0 {
		batchSize = 4
	}
	return &Prewarmer{Fetch: fetch, BatchSize: batchSize, logger: log.WithComponent("prewarm")}
}

// Run processes targets' items concurrently up to BatchSize, priority
// order critical>high>medium>low, and returns the run summary.
func (p *Prewarmer) Run(ctx context.Context, targets []Target) types.PrewarmSummary {
	started := time.Now()
	items := expand(targets)

	sort.SliceStable(items, func(i, j int) bool {
		return priorityRank[items[i].Priority] < priorityRank[items[j].Priority]
	})

	sem := make(chan struct{}, p.BatchSize)
	var wg sync.WaitGroup
	var mu sync.Mutex
	summary := types.PrewarmSummary{Total: len(items)}

	for i := range items {
		item := items[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			status := p.processItem(ctx, item)

			mu.Lock()
			switch status {
			case types.PrewarmSuccess:
				summary.Success++
			case types.PrewarmFailed:
				summary.Failed++
			case types.PrewarmSkipped:
				summary.Skipped++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	summary.ElapsedSeconds = time.Since(started).Seconds()
	summary.FinishedAt = time.Now()
	p.recordHistory(summary)
	return summary
}

// processItem issues the GET, retrying once on failure if attempts remain
// under max_attempts, then returns the terminal status (4.H).
func (p *Prewarmer) processItem(ctx context.Context, item types.PrewarmItem) types.PrewarmItemStatus {
	if p.Fetch == nil {
		return types.PrewarmSkipped
	}

	maxAttempts := item.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	var lastErr error
	for item.Attempts < maxAttempts {
		item.Attempts++
		timer := metrics.NewTimer()
		size, status, err := p.Fetch(ctx, item.Ecosystem, item.Item)
		item.ResponseTime = timer.Duration()
		if err == nil && status >= 200 && status < 400 {
			item.SizeBytes = size
			return types.PrewarmSuccess
		}
		lastErr = err
	}

	p.logger.Warn().
		Str("ecosystem", item.Ecosystem).
		Str("item", item.Item).
		Err(lastErr).
		Msg("prewarm item failed after retries")
	return types.PrewarmFailed
}

// expand flattens targets into individual PrewarmItems, honoring each
// target's limit.
func expand(targets []Target) []types.PrewarmItem {
	var items []types.PrewarmItem
	for _, t := range targets {
		list := t.Items
		if t.Limit > 0 && t.Limit < len(list) {
			list = list[:t.Limit]
		}
		priority := t.Priority
		if priority == "" {
			priority = "medium"
		}
		for _, item := range list {
			items = append(items, types.PrewarmItem{
				Ecosystem:   t.Ecosystem,
				Item:        item,
				Priority:    priority,
				Status:      types.PrewarmPending,
				MaxAttempts: defaultMaxAttempts,
			})
		}
	}
	return items
}

const historyLimit = 20

func (p *Prewarmer) recordHistory(s types.PrewarmSummary) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history = append(p.history, s)
	if len(p.history) > historyLimit {
		p.history = p.history[len(p.history)-historyLimit:]
	}
}

// History returns the last ~20 run summaries, oldest first.
func (p *Prewarmer) History() []types.PrewarmSummary {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.PrewarmSummary, len(p.history))
	copy(out, p.history)
	return out
}

// HTTPFetcher builds a Fetcher that issues a GET against baseURL+"/"+ecosystem+"/"+item.
func HTTPFetcher(client *http.Client, baseURL string) Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, ecosystem, item string) (int64, int, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/"+ecosystem+"/"+item, nil)
		if err != nil {
			return 0, 0, err
		}
		res, err := client.Do(req)
		if err != nil {
			return 0, 0, err
		}
		defer res.Body.Close()
		size, _ := io.Copy(io.Discard, res.Body)
		return size, res.StatusCode, nil
	}
}

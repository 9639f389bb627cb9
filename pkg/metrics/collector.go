package metrics

import (
	"time"

	"github.com/cachehub/mirror/pkg/metadata"
	"github.com/cachehub/mirror/pkg/store"
)

// Collector periodically samples the content store and metadata backend
// into the gauge metrics that can't be updated inline at the call site
// (the cache footprint: file count and total bytes).
type Collector struct {
	store  *store.Store
	meta   metadata.Backend
	stopCh chan struct{}
}

// NewCollector builds a Collector over the given store and metadata backend.
func NewCollector(s *store.Store, m metadata.Backend) *Collector {
	return &Collector{store: s, meta: m, stopCh: make(chan struct{})}
}

// Start begins sampling on a 15s ticker, collecting once immediately.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts sampling.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectCacheMetrics()
}

func (c *Collector) collectCacheMetrics() {
	if c.meta != nil {
		files, bytes, err := c.meta.CacheUsage()
		if err == nil {
			CacheFilesTotal.Set(float64(files))
			CacheBytesTotal.Set(float64(bytes))
			return
		}
	}
	if c.store != nil {
		if stats, err := c.store.Stats(); err == nil {
			CacheFilesTotal.Set(float64(stats.FileCount))
			CacheBytesTotal.Set(float64(stats.TotalBytes))
		}
	}
}

// Package metrics defines and registers the mirror server's Prometheus
// metrics: cache hit/miss counters, upstream fetch latency, served-bytes
// counters, sync run outcomes, prewarm results, and failover events.
// Metrics are registered at package init and exposed via Handler for
// scraping under /metrics.
package metrics

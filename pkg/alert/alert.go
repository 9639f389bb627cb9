// Package alert implements a minimal threshold-based alert evaluator
// (supplemented from original_source's core/alerts.py): disk-usage and
// upstream failure-rate rules, keeping a bounded in-memory history. In the
// server, disk usage is evaluated only when the control API's cache/usage
// endpoint is requested; nothing in the server calls EvaluateFailureRate,
// and neither the monitor sampler nor the health checker feeds the
// evaluator. Dispatch transports
// (email, Slack, ...) are out of scope per spec.md's Non-goals; only
// evaluation and alert-record retention live in this package, grounded on
// the failover manager's in-memory bounded-events pattern.
package alert

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cachehub/mirror/pkg/log"
	"github.com/cachehub/mirror/pkg/types"
)

const historyLimit = 200

// Rule is one evaluated threshold condition.
type Rule struct {
	Name      string
	Threshold float64
	Severity  types.AlertSeverity
	Message   func(value float64) string
}

// Evaluator holds the configured rules and the bounded alert history.
type Evaluator struct {
	mu      sync.Mutex
	rules   map[string]Rule
	history []types.Alert
	logger  zerolog.Logger
	onAlert func(types.Alert)
}

// New builds an Evaluator with the default disk-usage and failure-rate
// rules; additional rules can be added with AddRule.
func New() *Evaluator {
	e := &Evaluator{rules: make(map[string]Rule), logger: log.WithComponent("alert")}
	e.AddRule(Rule{
		Name:      "disk_usage_high",
		Threshold: 90,
		Severity:  types.AlertWarning,
		Message:   func(v float64) string { return fmt.Sprintf("disk usage at %.1f%%, exceeds threshold", v) },
	})
	e.AddRule(Rule{
		Name:      "upstream_failure_rate_high",
		Threshold: 0.5,
		Severity:  types.AlertCritical,
		Message:   func(v float64) string { return fmt.Sprintf("upstream failure rate at %.1f%%, exceeds threshold", v*100) },
	})
	return e
}

// AddRule registers or overwrites a named rule.
func (e *Evaluator) AddRule(r Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules[r.Name] = r
}

// OnAlert registers a callback invoked synchronously whenever a rule
// fires, used to publish onto pkg/api's event bus.
func (e *Evaluator) OnAlert(fn func(types.Alert)) { e.onAlert = fn }

// Evaluate checks value against rule, raising and recording an alert if
// value meets or exceeds the rule's threshold. It is a no-op if the named
// rule is not registered.
func (e *Evaluator) Evaluate(ruleName string, value float64) {
	e.mu.Lock()
	rule, ok := e.rules[ruleName]
	e.mu.Unlock()
	if !ok || value < rule.Threshold {
		return
	}

	a := types.Alert{
		ID:        uuid.NewString(),
		Rule:      rule.Name,
		Severity:  rule.Severity,
		Message:   rule.Message(value),
		Value:     value,
		Threshold: rule.Threshold,
		RaisedAt:  time.Now(),
	}

	e.mu.Lock()
	e.history = append(e.history, a)
	if len(e.history) > historyLimit {
		e.history = e.history[len(e.history)-historyLimit:]
	}
	e.mu.Unlock()

	e.logger.Warn().Str("rule", a.Rule).Float64("value", value).Msg(a.Message)
	if e.onAlert != nil {
		e.onAlert(a)
	}
}

// EvaluateDiskUsage is a convenience wrapper evaluating the built-in
// disk_usage_high rule from a monitor sample's DiskPercent.
func (e *Evaluator) EvaluateDiskUsage(diskPercent float64) { e.Evaluate("disk_usage_high", diskPercent) }

// EvaluateFailureRate is a convenience wrapper evaluating the built-in
// upstream_failure_rate_high rule from a health-checker success rate.
func (e *Evaluator) EvaluateFailureRate(successRate float64) {
	e.Evaluate("upstream_failure_rate_high", 1-successRate)
}

// History returns the most recent alerts, oldest first.
func (e *Evaluator) History() []types.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]types.Alert, len(e.history))
	copy(out, e.history)
	return out
}

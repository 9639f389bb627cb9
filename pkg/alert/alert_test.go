package alert

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cachehub/mirror/pkg/types"
)

func TestEvaluateDiskUsageFiresAboveThreshold(t *testing.T) {
	e := New()
	var got types.Alert
	e.OnAlert(func(a types.Alert) { got = a })

	e.EvaluateDiskUsage(95)

	require.Equal(t, "disk_usage_high", got.Rule)
	require.Equal(t, types.AlertWarning, got.Severity)
	require.Len(t, e.History(), 1)
}

func TestEvaluateDiskUsageBelowThresholdDoesNotFire(t *testing.T) {
	e := New()
	e.EvaluateDiskUsage(10)
	require.Empty(t, e.History())
}

func TestEvaluateFailureRateFiresCritical(t *testing.T) {
	e := New()
	e.EvaluateFailureRate(0.2) // 80% failure rate
	history := e.History()
	require.Len(t, history, 1)
	require.Equal(t, types.AlertCritical, history[0].Severity)
}

func TestHistoryBounded(t *testing.T) {
	e := New()
	for i := 0; i < 250; i++ {
		e.EvaluateDiskUsage(99)
	}
	require.Len(t, e.History(), 200)
}

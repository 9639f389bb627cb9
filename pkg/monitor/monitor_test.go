package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSnapshotPopulatesFields(t *testing.T) {
	s := New(nil, "/", time.Minute)
	s.SetActiveConnections(3)

	sample := s.Snapshot()
	require.Equal(t, 3, sample.ActiveConnections)
	require.GreaterOrEqual(t, sample.ServerUptime, int64(0))
	require.False(t, sample.Timestamp.IsZero())
}

func TestNewDefaultsInterval(t *testing.T) {
	s := New(nil, "", 0)
	require.Equal(t, time.Minute, s.Interval)
	require.Equal(t, "/", s.DiskPath)
}

package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseCronWildcard(t *testing.T) {
	sched, err := ParseCron("* * * * *")
	require.NoError(t, err)
	require.True(t, sched.Matches(time.Date(2026, 1, 1, 3, 17, 0, 0, time.UTC)))
}

func TestParseCronEveryFiveMinutes(t *testing.T) {
	sched, err := ParseCron("*/5 * * * *")
	require.NoError(t, err)
	require.True(t, sched.Matches(time.Date(2026, 1, 1, 3, 20, 0, 0, time.UTC)))
	require.False(t, sched.Matches(time.Date(2026, 1, 1, 3, 21, 0, 0, time.UTC)))
}

func TestParseCronList(t *testing.T) {
	sched, err := ParseCron("0 0,12 * * *")
	require.NoError(t, err)
	require.True(t, sched.Matches(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
	require.True(t, sched.Matches(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)))
	require.False(t, sched.Matches(time.Date(2026, 1, 1, 6, 0, 0, 0, time.UTC)))
}

func TestParseCronRange(t *testing.T) {
	sched, err := ParseCron("0 9-17 * * 1-5")
	require.NoError(t, err)
	require.True(t, sched.Matches(time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC))) // Monday
	require.False(t, sched.Matches(time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC))) // Sunday
}

func TestParseCronInvalid(t *testing.T) {
	_, err := ParseCron("* * *")
	require.Error(t, err)

	_, err = ParseCron("99 * * * *")
	require.Error(t, err)
}

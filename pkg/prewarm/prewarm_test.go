package prewarm

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunSucceedsForAllItems(t *testing.T) {
	p := New(func(ctx context.Context, ecosystem, item string) (int64, int, error) {
		return 1024, 200, nil
	}, 2)

	summary := p.Run(context.Background(), []Target{
		{Ecosystem: "pypi", Items: []string{"a", "b", "c"}, Priority: "high"},
	})

	require.Equal(t, 3, summary.Total)
	require.Equal(t, 3, summary.Success)
	require.Equal(t, 0, summary.Failed)
}

func TestRunRetriesOnceThenFails(t *testing.T) {
	var attempts int32
	p := New(func(ctx context.Context, ecosystem, item string) (int64, int, error) {
		atomic.AddInt32(&attempts, 1)
		return 0, 502, nil
	}, 1)

	summary := p.Run(context.Background(), []Target{
		{Ecosystem: "npm", Items: []string{"x"}, Priority: "low"},
	})

	require.Equal(t, 1, summary.Failed)
	require.Equal(t, int32(defaultMaxAttempts), atomic.LoadInt32(&attempts))
}

func TestRunHonorsLimit(t *testing.T) {
	var called int32
	p := New(func(ctx context.Context, ecosystem, item string) (int64, int, error) {
		atomic.AddInt32(&called, 1)
		return 1, 200, nil
	}, 4)

	summary := p.Run(context.Background(), []Target{
		{Ecosystem: "pypi", Items: []string{"a", "b", "c", "d"}, Limit: 2},
	})

	require.Equal(t, 2, summary.Total)
	require.Equal(t, int32(2), atomic.LoadInt32(&called))
}

func TestRunAppendsHistory(t *testing.T) {
	p := New(func(ctx context.Context, ecosystem, item string) (int64, int, error) {
		return 0, 200, nil
	}, 1)

	for i := 0; i < 3; i++ {
		p.Run(context.Background(), []Target{{Ecosystem: "oci", Items: []string{"img"}}})
	}

	require.Len(t, p.History(), 3)
}

func TestExpandFlattensAllTargets(t *testing.T) {
	items := expand([]Target{
		{Ecosystem: "a", Items: []string{"1"}, Priority: "low"},
		{Ecosystem: "b", Items: []string{"2"}, Priority: "critical"},
	})
	require.Len(t, items, 2)
}

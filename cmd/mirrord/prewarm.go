package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/cachehub/mirror/pkg/config"
	"github.com/cachehub/mirror/pkg/prewarm"
)

var prewarmCmd = &cobra.Command{
	Use:   "prewarm",
	Short: "Prewarm the cache for one ecosystem",
	Long: `prewarm issues unconditional fetches for a curated item list against
the named ecosystem's adapter, filling the cache ahead of client demand.`,
	RunE: runPrewarm,
}

func init() {
	prewarmCmd.Flags().String("ecosystem", "", "Ecosystem to prewarm")
	prewarmCmd.Flags().StringSlice("items", nil, "Comma-separated list of item paths to prewarm")
	prewarmCmd.Flags().String("priority", "high", "Priority tier: critical, high, medium, low")
	prewarmCmd.Flags().Int("limit", 0, "Cap the number of items fetched (0 = no cap)")
	prewarmCmd.MarkFlagRequired("ecosystem")
	prewarmCmd.MarkFlagRequired("items")
}

func runPrewarm(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(settingsPath(cmd))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	comp, err := buildComponents(cfg)
	if err != nil {
		return err
	}
	defer comp.Metadata.Close()

	eco, _ := cmd.Flags().GetString("ecosystem")
	items, _ := cmd.Flags().GetStringSlice("items")
	priority, _ := cmd.Flags().GetString("priority")
	limit, _ := cmd.Flags().GetInt("limit")

	ad, ok := comp.Adapters[eco]
	if !ok {
		return fmt.Errorf("unknown ecosystem %q", eco)
	}

	warmer := prewarm.New(func(ctx context.Context, ecosystem, item string) (int64, int, error) {
		rec, err := http.NewRequestWithContext(ctx, http.MethodGet, "/"+item, nil)
		if err != nil {
			return 0, 0, err
		}
		rw := &discardResponseWriter{}
		if err := ad.Handle(ctx, rw, rec, item); err != nil {
			return 0, rw.status, err
		}
		return rw.written, rw.status, nil
	}, 4)

	summary := warmer.Run(context.Background(), []prewarm.Target{
		{Ecosystem: eco, Items: items, Priority: priority, Limit: limit},
	})

	fmt.Printf("prewarm: %d/%d succeeded, %d failed, %d skipped (%.1fs)\n",
		summary.Success, summary.Total, summary.Failed, summary.Skipped, summary.ElapsedSeconds)
	if summary.Failed > 0 {
		return fmt.Errorf("prewarm completed with %d failures", summary.Failed)
	}
	return nil
}

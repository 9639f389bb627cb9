package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/cachehub/mirror/pkg/api"
	"github.com/cachehub/mirror/pkg/config"
	"github.com/cachehub/mirror/pkg/log"
	"github.com/cachehub/mirror/pkg/metrics"
	"github.com/cachehub/mirror/pkg/store"
	"github.com/cachehub/mirror/pkg/types"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the mirror server",
	Long: `serve starts the HTTP listener: ecosystem adapters under /<name>/,
the control API under /api/v1 and /api/v2, and the background sync, health
check, monitor, and cache-sweep loops.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("listen", "", "Override the configured listen address")
	serveCmd.Flags().String("metrics-addr", "", "Bind a separate /metrics listener instead of serving it in-process")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(settingsPath(cmd))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if addr, _ := cmd.Flags().GetString("listen"); addr != "" {
		cfg.Server.ListenAddr = addr
	}

	metrics.RegisterComponent("store", false, "initializing")
	metrics.RegisterComponent("metadata", false, "initializing")
	metrics.RegisterComponent("api", false, "initializing")

	comp, err := buildComponents(cfg)
	if err != nil {
		return err
	}
	metrics.RegisterComponent("store", true, "ready")
	metrics.RegisterComponent("metadata", true, "ready")

	metrics.SetVersion(Version)
	collector := metrics.NewCollector(comp.Store, comp.Metadata)
	collector.Start()

	a := api.New(api.API{
		Metadata:  comp.Metadata,
		Store:     comp.Store,
		Adapters:  comp.Adapters,
		Scheduler: comp.Scheduler,
		Prewarmer: comp.Prewarmer,
		Failover:  comp.Failover,
		Lifecycle: comp.Lifecycle,
		Monitor:   comp.Monitor,
		Alerts:    comp.Alerts,
		Config:    comp.ConfigStore,
		Router:    comp.Router,
		Version:   Version,
	})
	comp.Router.APIHandler = a.Handler()
	metrics.RegisterComponent("api", true, "ready")

	comp.Failover.OnSwap(func(ev types.FailoverEvent) {
		a.Notify(context.Background(), "mirror.failover", ev)
	})
	comp.Alerts.OnAlert(func(al types.Alert) {
		a.Notify(context.Background(), "alert.fired", al)
	})

	comp.Monitor.Start()
	comp.Scheduler.Start()

	healthCtx, cancelHealth := context.WithCancel(context.Background())
	go comp.Failover.Run(healthCtx)
	if cfg.Cache.SweepInterval > 0 {
		go store.NewSweeper(comp.Store, cfg.Cache.SweepInterval).Run(healthCtx)
	}

	comp.Lifecycle.OnShutdown(func(ctx context.Context) error {
		cancelHealth()
		comp.Scheduler.Stop()
		comp.Monitor.Stop()
		collector.Stop()
		return comp.Metadata.Close()
	})

	handler := comp.Lifecycle.Middleware(comp.Router.Handler())
	srv := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // large artifact bodies can take a while to stream
		IdleTimeout:  120 * time.Second,
	}

	if metricsAddr, _ := cmd.Flags().GetString("metrics-addr"); metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/health", metrics.HealthHandler())
		mux.Handle("/ready", metrics.ReadyHandler())
		mux.Handle("/live", metrics.LivenessHandler())
		go func() {
			log.Info(fmt.Sprintf("metrics listening on %s", metricsAddr))
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				log.Errorf("metrics server", err)
			}
		}()
	}

	log.Info(fmt.Sprintf("mirrord listening on %s", cfg.Server.ListenAddr))
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("http server", err)
		}
	}()

	comp.Lifecycle.WaitForSignal(context.Background(), func() {
		reloaded, err := comp.ConfigStore.Reload(settingsPath(cmd))
		if err != nil {
			log.Errorf("config reload", err)
			return
		}
		log.Info(fmt.Sprintf("config reloaded (listen_addr=%s)", reloaded.Server.ListenAddr))
	})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout+5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

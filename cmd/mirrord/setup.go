package main

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"github.com/cachehub/mirror/pkg/adapter"
	"github.com/cachehub/mirror/pkg/adapter/apt"
	"github.com/cachehub/mirror/pkg/adapter/generic"
	"github.com/cachehub/mirror/pkg/adapter/goproxy"
	"github.com/cachehub/mirror/pkg/adapter/npm"
	"github.com/cachehub/mirror/pkg/adapter/oci"
	"github.com/cachehub/mirror/pkg/adapter/pypi"
	"github.com/cachehub/mirror/pkg/adapter/yum"
	"github.com/cachehub/mirror/pkg/alert"
	"github.com/cachehub/mirror/pkg/config"
	"github.com/cachehub/mirror/pkg/fetcher"
	"github.com/cachehub/mirror/pkg/healthcheck"
	"github.com/cachehub/mirror/pkg/lifecycle"
	"github.com/cachehub/mirror/pkg/metadata"
	"github.com/cachehub/mirror/pkg/monitor"
	"github.com/cachehub/mirror/pkg/prewarm"
	"github.com/cachehub/mirror/pkg/router"
	"github.com/cachehub/mirror/pkg/store"
	syncsched "github.com/cachehub/mirror/pkg/sync"
)

// components bundles every long-lived collaborator serve, sync, and
// prewarm build identically, so the three subcommands share one
// construction path instead of re-deriving adapters from config each time.
type components struct {
	ConfigStore *config.Store
	Metadata    metadata.Backend
	Store       *store.Store
	Fetcher     *fetcher.Fetcher
	Adapters    map[string]adapter.Adapter
	Order       []string
	Scheduler   *syncsched.Scheduler
	Failover    *healthcheck.Manager
	Prewarmer   *prewarm.Prewarmer
	Lifecycle   *lifecycle.Manager
	Monitor     *monitor.Sampler
	Alerts      *alert.Evaluator
	Router      *router.Router
}

// sourcesByEcosystem groups cfg.Mirrors by ecosystem, sorted by Priority
// ascending (priority 0 is primary until failover promotes another).
func sourcesByEcosystem(cfg config.Config) map[string][]config.MirrorSource {
	grouped := make(map[string][]config.MirrorSource)
	for _, m := range cfg.Mirrors {
		grouped[m.Ecosystem] = append(grouped[m.Ecosystem], m)
	}
	for _, list := range grouped {
		sort.Slice(list, func(i, j int) bool { return list[i].Priority < list[j].Priority })
	}
	return grouped
}

// buildAdapter constructs the one adapter implementation for ecosystem
// against its primary (priority-0) upstream, the only upstream each
// adapter type currently addresses directly.
func buildAdapter(ecosystem string, source config.MirrorSource, deps adapter.Deps, cfg config.Config) (adapter.Adapter, error) {
	upstreamBase := source.UpstreamBase
	switch ecosystem {
	case "pypi":
		return pypi.New(deps, upstreamBase), nil
	case "npm":
		return npm.New(deps, upstreamBase), nil
	case "goproxy", "go":
		return goproxy.New(deps, upstreamBase), nil
	case "oci", "docker":
		a := oci.New(deps, upstreamBase, cfg.Server.SessionSecret)
		a.UpstreamUser = source.UpstreamUser
		a.UpstreamPass = source.UpstreamPass
		return a, nil
	case "apt":
		return apt.New(deps, []string{upstreamBase}), nil
	case "yum":
		return yum.New(deps, upstreamBase), nil
	default:
		return generic.New(deps, ecosystem, upstreamBase, cfg.Cache.ArtifactTTL), nil
	}
}

// buildComponents wires every collaborator from a merged Config, following
// the same construction sequence every caller needs: open the stores,
// build the domain objects, wire the router, and defer the HTTP listener
// itself to the caller.
func buildComponents(cfg config.Config) (*components, error) {
	meta, err := metadata.Open(cfg.DB.Type, cfg.DB.Path, cfg.DB.PoolSize, 0)
	if err != nil {
		return nil, fmt.Errorf("opening metadata backend: %w", err)
	}

	st, err := store.New(cfg.Server.BaseDir)
	if err != nil {
		meta.Close()
		return nil, fmt.Errorf("opening content store: %w", err)
	}
	if cfg.Cache.S3Bucket != "" {
		remote, err := store.NewRemote(context.Background(), cfg.Cache.S3Bucket, cfg.Cache.S3Prefix, cfg.Cache.S3ForcePathStyle)
		if err != nil {
			meta.Close()
			return nil, fmt.Errorf("configuring remote cache tier: %w", err)
		}
		if err := remote.EnsureBucket(context.Background()); err != nil {
			meta.Close()
			return nil, fmt.Errorf("ensuring cache bucket: %w", err)
		}
		st.Remote = remote
	}

	ft := fetcher.New("cachehub-mirror/" + Version)

	failover := healthcheck.NewManager(healthcheck.Config{
		Interval: cfg.Health.Interval,
		Timeout:  cfg.Health.Timeout,
		Retries:  cfg.Health.FailureThreshold,
	}, cfg.Health.FailureThreshold)

	grouped := sourcesByEcosystem(cfg)
	adapters := make(map[string]adapter.Adapter, len(grouped))
	order := make([]string, 0, len(grouped))
	for eco := range grouped {
		order = append(order, eco)
	}
	sort.Strings(order)

	deps := adapter.Deps{Store: st, Fetcher: ft, Metadata: meta}
	for _, eco := range order {
		sources := grouped[eco]
		upstreams := make(map[string]string, len(sources))
		priorityOrder := make([]string, 0, len(sources))
		for _, s := range sources {
			upstreams[s.Name] = s.UpstreamBase
			priorityOrder = append(priorityOrder, s.Name)
		}
		failover.Register(eco, upstreams, priorityOrder)

		a, err := buildAdapter(eco, sources[0], deps, cfg)
		if err != nil {
			meta.Close()
			return nil, err
		}
		adapters[eco] = a
	}

	rt := router.New(adapters, order)
	rt.Metadata = meta
	rt.BaseDir = cfg.Server.BaseDir
	rt.DirectoryListing = cfg.Server.DirectoryListing
	rt.CORSOrigins = cfg.Server.CORSOrigins
	rt.IPAllowList = cfg.Server.IPAllowList
	rt.SessionSecret = cfg.Server.SessionSecret
	rt.StaticUser = cfg.Server.StaticUser
	rt.StaticPass = cfg.Server.StaticPass
	rt.SetRateLimit(cfg.Server.RateLimitPerMin)

	sched := syncsched.NewScheduler(meta, cfg.Server.BaseDir, cfg.Sync.TickInterval, cfg.Sync.ScanInterval)
	mon := monitor.New(meta, cfg.Server.BaseDir, cfg.Monitor.SampleInterval)
	evaluator := alert.New()
	lc := lifecycle.New(cfg.Server.GracefulTimeout, lifecycle.StrategyGraceful)

	warmer := prewarm.New(prewarm.HTTPFetcher(http.DefaultClient, "http://127.0.0.1"+cfg.Server.ListenAddr), 4)

	return &components{
		ConfigStore: config.NewStore(cfg),
		Metadata:    meta,
		Store:       st,
		Fetcher:     ft,
		Adapters:    adapters,
		Order:       order,
		Scheduler:   sched,
		Failover:    failover,
		Prewarmer:   warmer,
		Lifecycle:   lc,
		Monitor:     mon,
		Alerts:      evaluator,
		Router:      rt,
	}, nil
}

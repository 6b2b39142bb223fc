package cli

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/cratestatus/internal/config"
	"github.com/matzehuels/cratestatus/pkg/advisory"
	"github.com/matzehuels/cratestatus/pkg/analysis"
	"github.com/matzehuels/cratestatus/pkg/cache"
	"github.com/matzehuels/cratestatus/pkg/index"
	"github.com/matzehuels/cratestatus/pkg/integrations"
	"github.com/matzehuels/cratestatus/pkg/integrations/crates"
	"github.com/matzehuels/cratestatus/pkg/integrations/forge"
	"github.com/matzehuels/cratestatus/pkg/integrations/osv"
	"github.com/matzehuels/cratestatus/pkg/status"
	"github.com/matzehuels/cratestatus/pkg/storage"
)

// app is everything built from a config: the registry and advisory
// stores, the engine and its collaborators.
type app struct {
	cfg        *config.Config
	logger     *log.Logger
	httpCache  cache.Cache
	l2         cache.Cache
	crates     *crates.Client
	forge      *forge.Fetcher
	sparse     *index.SparseSource
	index      *index.Store
	advisories *advisory.Store
	archive    storage.Archive
	engine     *analysis.Engine
}

// buildApp wires the components selected by cfg. noCache disables the
// on-disk HTTP response cache.
func buildApp(ctx context.Context, cfg *config.Config, logger *log.Logger, noCache bool) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	var err error
	if a.httpCache, err = newHTTPCache(cfg, noCache); err != nil {
		return nil, err
	}

	a.crates = newCratesClient(cfg, a.httpCache)

	a.forge = forge.New(a.httpCache, forge.Config{
		GitHubToken:       cfg.Forge.GitHubToken,
		GitLabToken:       cfg.Forge.GitLabToken,
		GiteaHosts:        cfg.Forge.GiteaHosts,
		RequestsPerSecond: cfg.Forge.RequestsPerSecond,
		Burst:             cfg.Forge.Burst,
		CacheTTL:          cfg.Forge.CacheTTL,
		Logger:            component(logger, "forge"),
	})

	var src index.Source
	switch cfg.Index.Source {
	case "file":
		src = index.NewFileSource(cfg.Index.Path)
	default:
		a.sparse = index.NewSparseSource(a.crates,
			index.WithSeeds(cfg.Index.SeedCrates...),
			index.WithConcurrency(cfg.Analysis.FetchConcurrency),
			index.WithSourceLogger(component(logger, "index")))
		src = a.sparse
	}
	a.index = index.NewStore(src, index.WithLogger(component(logger, "index")))

	advLogger := component(logger, "advisory")
	a.advisories = advisory.NewStore(newAdvisorySource(cfg, a.httpCache, advLogger), advLogger)

	if cfg.Cache.Backend == "redis" {
		rc, err := cache.NewRedisCache(ctx, cache.RedisConfig{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		a.l2 = rc
	}

	switch cfg.Archive.Backend {
	case "memory":
		a.archive = storage.NewMemory(0)
	case "mongo":
		m, err := storage.NewMongo(ctx, storage.MongoConfig{URI: cfg.Archive.MongoURI, Database: cfg.Archive.Database})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.archive = m
	}

	opts := []analysis.Option{
		analysis.WithFetcher(a.forge),
		analysis.WithLogger(component(logger, "engine")),
		analysis.WithCache(analysis.NewCache(analysis.CacheConfig{
			TTL:      cfg.Cache.TTL,
			Capacity: cfg.Cache.Capacity,
			Timeout:  cfg.Cache.ComputeTimeout,
			L2:       a.l2,
			Logger:   component(logger, "cache"),
		})),
	}
	if a.archive != nil {
		opts = append(opts, analysis.WithArchive(a.archive))
	}
	a.engine = analysis.NewEngine(a.index, a.advisories, opts...)
	return a, nil
}

// newCratesClient returns the crates.io client, behind a circuit breaker
// unless index.breaker is off.
func newCratesClient(cfg *config.Config, httpCache cache.Cache) *crates.Client {
	var breaker []integrations.Option
	if cfg.Index.Breaker {
		breaker = append(breaker, integrations.WithBreaker("crates.io", cfg.Index.BreakerTimeout))
	}
	return crates.NewClient(httpCache, crates.Config{
		IndexURL: cfg.Index.URL,
		APIURL:   cfg.Index.APIURL,
		CacheTTL: cfg.Index.RefreshInterval,
	}, breaker...)
}

func newAdvisorySource(cfg *config.Config, httpCache cache.Cache, logger *log.Logger) advisory.Source {
	if cfg.Advisory.Source == "dir" {
		return advisory.NewDirSource(cfg.Advisory.Path, logger)
	}
	var opts []integrations.Option
	if cfg.Index.Breaker {
		opts = append(opts, integrations.WithBreaker("osv", cfg.Index.BreakerTimeout))
	}
	return advisory.NewOSVSource(osv.NewClient(httpCache, cfg.Advisory.URL, cfg.Advisory.RefreshInterval, opts...), logger)
}

// policy is the configured default roll-up.
func (a *app) policy() status.Policy {
	return status.Policy{
		IncludeDev:      a.cfg.Analysis.IncludeDev,
		IncludeOptional: a.cfg.Analysis.IncludeOptional,
	}
}

// warm loads the first index and advisory snapshots.
func (a *app) warm(ctx context.Context) error {
	if err := a.index.Refresh(ctx); err != nil {
		return fmt.Errorf("load registry index: %w", err)
	}
	if err := a.advisories.Refresh(ctx); err != nil {
		return fmt.Errorf("load advisories: %w", err)
	}
	return nil
}

func (a *app) Close() {
	if a.archive != nil {
		if err := a.archive.Close(); err != nil {
			a.logger.Warn("close archive", "err", err)
		}
	}
	if a.l2 != nil {
		_ = a.l2.Close()
	}
	if a.httpCache != nil {
		_ = a.httpCache.Close()
	}
}

// newHTTPCache returns the on-disk response cache: cfg.CacheDir, or the
// XDG cache directory. It falls back to no caching when the directory is
// unusable.
func newHTTPCache(cfg *config.Config, noCache bool) (cache.Cache, error) {
	if noCache {
		return cache.NewNullCache(), nil
	}
	dir := cfg.CacheDir
	if dir == "" {
		d, err := cacheDir()
		if err != nil {
			return cache.NewNullCache(), nil
		}
		dir = d
	}
	return cache.NewFileCache(dir)
}

package cli

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/cratestatus/internal/server"
	"github.com/matzehuels/cratestatus/pkg/advisory"
	"github.com/matzehuels/cratestatus/pkg/observability"
)

type serveOpts struct {
	listen  string
	noCache bool
}

// serveCommand creates the serve command.
func (c *CLI) serveCommand() *cobra.Command {
	var opts serveOpts
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API. The registry index and the advisory database are
loaded in the background and refreshed on the configured intervals; until
the first load completes, analyses answer with INDEX_UNAVAILABLE.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runServe(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.listen, "listen", "", "listen address (overrides config)")
	cmd.Flags().BoolVar(&opts.noCache, "no-cache", false, "disable the on-disk HTTP response cache")
	return cmd
}

func (c *CLI) runServe(ctx context.Context, opts serveOpts) error {
	logger := loggerFromContext(ctx)
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	if opts.listen != "" {
		cfg.Listen = opts.listen
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	observability.Register(observability.NewPrometheus(reg))
	defer observability.Reset()

	a, err := buildApp(ctx, cfg, logger, opts.noCache)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := server.New(server.Config{
		Engine:     a.engine,
		Index:      a.index,
		Advisories: a.advisories,
		Archive:    a.archive,
		Crates:     a.crates,
		Repos:      a.forge,
		Policy:     a.policy(),
		Metrics:    promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Logger:     component(logger, "server"),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.index.Refresh(gctx); err != nil {
			logger.Warn("initial index load failed; retrying on the refresh interval", "err", err)
		}
		a.index.Run(gctx, cfg.Index.RefreshInterval)
		return nil
	})
	g.Go(func() error {
		if err := a.advisories.Refresh(gctx); err != nil {
			logger.Warn("initial advisory load failed; retrying on the refresh interval", "err", err)
		}
		a.advisories.Run(gctx, cfg.Advisory.RefreshInterval)
		return nil
	})
	if cfg.Advisory.Source == "dir" && cfg.Advisory.Watch {
		g.Go(func() error {
			return advisory.Watch(gctx, a.advisories, cfg.Advisory.Path, advisory.DefaultDebounce, component(logger, "advisory"))
		})
	}
	g.Go(func() error {
		return srv.Run(gctx, cfg.Listen)
	})
	return g.Wait()
}

package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matzehuels/cratestatus/pkg/advisory"
	"github.com/matzehuels/cratestatus/pkg/index"
)

type syncOpts struct {
	crates     []string
	out        string
	advisories bool
	noCache    bool
}

// syncCommand creates the sync command. It writes index entries as a
// changelog that `index.source = "file"` can serve offline.
func (c *CLI) syncCommand() *cobra.Command {
	var opts syncOpts
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Download registry index entries into a changelog file",
		Long: `Download the sparse-index entries of the given crates (and the configured
seed crates) and append them to a JSON-lines changelog. A server configured
with index.source = "file" reads that changelog instead of crates.io.`,
		Example: `  cratestatus sync --crates serde,tokio,rand --out index.jsonl
  cratestatus sync -c cratestatus.toml --advisories`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runSync(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().StringSliceVar(&opts.crates, "crates", nil, "crates to download (comma-separated)")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "changelog to append to (default: index.path from config)")
	cmd.Flags().BoolVar(&opts.advisories, "advisories", false, "also load the advisory database and report its size")
	cmd.Flags().BoolVar(&opts.noCache, "no-cache", false, "disable the on-disk HTTP response cache")
	return cmd
}

func (c *CLI) runSync(ctx context.Context, w io.Writer, opts syncOpts) error {
	logger := loggerFromContext(ctx)

	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	out := opts.out
	if out == "" {
		out = cfg.Index.Path
	}
	if out == "" {
		return fmt.Errorf("--out is required when index.path is not configured")
	}

	names := append(append([]string{}, cfg.Index.SeedCrates...), opts.crates...)
	names = dedupe(names)
	if len(names) == 0 {
		return fmt.Errorf("no crates to sync: pass --crates or set index.seed_crates")
	}

	httpCache, err := newHTTPCache(cfg, opts.noCache)
	if err != nil {
		return err
	}
	defer httpCache.Close()

	src := index.NewSparseSource(newCratesClient(cfg, httpCache),
		index.WithConcurrency(cfg.Analysis.FetchConcurrency),
		index.WithSourceLogger(logger))

	prog := newProgress(logger)
	spin := newSpinner(ctx, fmt.Sprintf("Downloading %d index files", len(names)))
	spin.Start()
	events, fetchErr := src.Fetch(ctx, names)
	spin.Stop()
	if len(events) == 0 && fetchErr != nil {
		return fetchErr
	}
	if fetchErr != nil {
		printWarning(w, "Some crates failed: %v", fetchErr)
	}

	if err := index.AppendChangelog(out, events); err != nil {
		return err
	}
	prog.done("Synced index files", "crates", len(src.Tracked()), "out", out)
	printSuccess(w, "Wrote %d events", len(events))
	printDetail(w, "Changelog: %s", out)

	if opts.advisories {
		store := advisory.NewStore(newAdvisorySource(cfg, httpCache, logger), logger)
		if err := store.Refresh(ctx); err != nil {
			return err
		}
		st := store.Status()
		printSuccess(w, "Loaded %d advisories", st.Advisories)
		if st.Cycle != "" {
			printDetail(w, "Cycle: %s", st.Cycle)
		}
	}
	return nil
}

// dedupe trims names and drops empty and repeated entries, keeping order.
func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := names[:0]
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/matzehuels/cratestatus/pkg/project"
	"github.com/matzehuels/cratestatus/pkg/status"
)

type analyzeOpts struct {
	dev      bool
	optional bool
	json     bool
	noCache  bool
	failOn   string
}

// analyzeCommand creates the analyze command.
func (c *CLI) analyzeCommand() *cobra.Command {
	var opts analyzeOpts
	cmd := &cobra.Command{
		Use:   "analyze <identity>",
		Short: "Analyze a repository or crate",
		Long: `Analyze the dependencies of a hosted repository or a published crate.

Identities:
  github/owner/name, https://gitlab.com/owner/name, gitea:host/owner/name
  crate:serde, crate:serde@1.0.100`,
		Example: `  cratestatus analyze github/rust-lang/cargo
  cratestatus analyze crate:tokio --dev
  cratestatus analyze gitlab/owner/name --json --fail-on outdated`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runAnalyze(cmd.Context(), cmd.OutOrStdout(), args[0], opts)
		},
	}
	cmd.Flags().BoolVar(&opts.dev, "dev", false, "count dev-dependencies in the summary")
	cmd.Flags().BoolVar(&opts.optional, "optional", false, "count optional dependencies in the summary")
	cmd.Flags().BoolVar(&opts.json, "json", false, "print the result as JSON")
	cmd.Flags().BoolVar(&opts.noCache, "no-cache", false, "disable the on-disk HTTP response cache")
	cmd.Flags().StringVar(&opts.failOn, "fail-on", "", "exit non-zero at this severity or worse (unknown, outdated, insecure)")
	return cmd
}

func (c *CLI) runAnalyze(ctx context.Context, w io.Writer, arg string, opts analyzeOpts) error {
	logger := loggerFromContext(ctx)

	id, err := project.Parse(arg)
	if err != nil {
		return err
	}
	var threshold status.Severity
	if opts.failOn != "" {
		if err := threshold.UnmarshalText([]byte(opts.failOn)); err != nil {
			return fmt.Errorf("--fail-on: %w", err)
		}
	}

	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	cfg.Analysis.IncludeDev = cfg.Analysis.IncludeDev || opts.dev
	cfg.Analysis.IncludeOptional = cfg.Analysis.IncludeOptional || opts.optional

	a, err := buildApp(ctx, cfg, logger, opts.noCache)
	if err != nil {
		return err
	}
	defer a.Close()

	prog := newProgress(logger)
	spin := newSpinner(ctx, "Loading registry index and advisories")
	spin.Start()
	if err := a.warm(ctx); err != nil {
		spin.Stop()
		return err
	}
	spin.Update("Analyzing " + id.String())
	res, err := a.engine.AnalyzeProject(ctx, id, a.policy())
	spin.Stop()
	if err != nil {
		return err
	}
	prog.done("Analyzed "+id.String(), "dependencies", res.Dependencies(), "severity", res.Summary.Severity)

	if opts.json {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		renderResult(w, res)
	}

	if opts.failOn != "" && res.Summary.Severity >= threshold {
		return fmt.Errorf("%s is %s (--fail-on %s)", id, res.Summary.Severity, threshold)
	}
	return nil
}

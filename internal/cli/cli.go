// Package cli implements the cratestatus command-line interface.
//
// # Commands
//
//   - serve: run the HTTP API with background index and advisory refresh
//   - analyze: analyze one repository or crate and print the result
//   - sync: download registry index entries into a changelog file
//   - cache: inspect and clean the HTTP response cache
//
// All commands accept --config (a TOML file, see internal/config) and
// --verbose. The logger is attached to the command context and retrieved
// with loggerFromContext.
package cli

import (
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/cratestatus/internal/config"
	"github.com/matzehuels/cratestatus/pkg/buildinfo"
)

// appName is the application name used for directories and display.
const appName = "cratestatus"

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// CLI holds shared state for all commands.
type CLI struct {
	Logger     *log.Logger
	configPath string
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{Logger: newLogger(w, level)}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          appName,
		Short:        "cratestatus reports how current a Rust project's dependencies are",
		Long:         `cratestatus checks the dependencies declared in Cargo manifests against the crates.io index and the RustSec advisory database, and reports outdated, yanked and insecure dependencies.`,
		Version:      buildinfo.Version,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			cmd.SetContext(withLogger(cmd.Context(), c.Logger))
		},
	}

	root.SetVersionTemplate(buildinfo.Template())
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "path to a cratestatus.toml config file")

	root.AddCommand(c.serveCommand())
	root.AddCommand(c.analyzeCommand())
	root.AddCommand(c.syncCommand())
	root.AddCommand(c.cacheCommand())
	root.AddCommand(c.completionCommand())

	return root
}

// loadConfig reads --config, or the defaults when it is not set.
func (c *CLI) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}
	if cfg.LogLevel == "debug" {
		c.SetLogLevel(log.DebugLevel)
	}
	return cfg, nil
}

// cacheDir returns the cache directory using XDG standard (~/.cache/cratestatus/).
func cacheDir() (string, error) {
	if cacheHome := os.Getenv("XDG_CACHE_HOME"); cacheHome != "" {
		return filepath.Join(cacheHome, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cache", appName), nil
}

package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/matzehuels/cratestatus/pkg/cache"
)

// cacheCommand creates the cache management command.
func (c *CLI) cacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the HTTP response cache",
	}

	cmd.AddCommand(c.cachePathCommand())
	cmd.AddCommand(c.cacheStatsCommand())
	cmd.AddCommand(c.cachePruneCommand())
	cmd.AddCommand(c.cacheClearCommand())

	return cmd
}

// responseCacheDir resolves the cache directory: cache_dir from --config,
// or the XDG default.
func (c *CLI) responseCacheDir() (string, error) {
	if c.configPath != "" {
		cfg, err := c.loadConfig()
		if err != nil {
			return "", err
		}
		if cfg.CacheDir != "" {
			return cfg.CacheDir, nil
		}
	}
	dir, err := cacheDir()
	if err != nil {
		return "", fmt.Errorf("get cache dir: %w", err)
	}
	return dir, nil
}

// openCache opens the cache directory. ok is false when it does not exist
// yet.
func (c *CLI) openCache() (fc *cache.FileCache, ok bool, err error) {
	dir, err := c.responseCacheDir()
	if err != nil {
		return nil, false, err
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, false, nil
	}
	fc, err = cache.NewFileCache(dir)
	if err != nil {
		return nil, false, err
	}
	return fc, true, nil
}

// cachePathCommand creates the "cache path" subcommand.
func (c *CLI) cachePathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the cache directory path",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := c.responseCacheDir()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), dir)
			return nil
		},
	}
}

// cacheStatsCommand creates the "cache stats" subcommand.
func (c *CLI) cacheStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show the number and size of cached responses",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fc, ok, err := c.openCache()
			if err != nil {
				return err
			}
			if !ok {
				printInfo(out, "Cache is empty")
				return nil
			}
			defer fc.Close()

			st, err := fc.Stats()
			if err != nil {
				return err
			}
			printKeyValue(out, "Directory", fc.Dir())
			printKeyValue(out, "Entries", fmt.Sprint(st.Entries))
			printKeyValue(out, "Expired", fmt.Sprint(st.Expired))
			printKeyValue(out, "Size", formatBytes(st.Bytes))
			return nil
		},
	}
}

// cachePruneCommand creates the "cache prune" subcommand.
func (c *CLI) cachePruneCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Remove expired and unreadable cached responses",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fc, ok, err := c.openCache()
			if err != nil {
				return err
			}
			if !ok {
				printInfo(out, "Cache is empty")
				return nil
			}
			defer fc.Close()

			n, err := fc.Prune()
			if err != nil {
				return err
			}
			printSuccess(out, "Pruned %d expired entries", n)
			printDetail(out, "Directory: %s", fc.Dir())
			return nil
		},
	}
}

// cacheClearCommand creates the "cache clear" subcommand.
func (c *CLI) cacheClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Clear all cached HTTP responses",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fc, ok, err := c.openCache()
			if err != nil {
				return err
			}
			if !ok {
				printInfo(out, "Cache is empty")
				return nil
			}
			defer fc.Close()

			st, err := fc.Stats()
			if err != nil {
				return err
			}
			if err := fc.Clear(); err != nil {
				return err
			}
			printSuccess(out, "Cleared %d cached entries", st.Entries)
			printDetail(out, "Directory: %s", fc.Dir())
			return nil
		},
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sitemap-crawler",
		Short: "Collects product URLs from a site's sitemap index.",
		Long: `sitemap-crawler walks a sitemap index, fetches the child sitemaps that
match an index pattern in parallel, keeps the page URLs that match a leaf
pattern, and writes them deduplicated and sorted to a single-column CSV.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	cmd.AddCommand(newCrawlCmd())
	return cmd
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the run; any
// fatal error exits with status 1.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "sitemap-crawler:", err)
		os.Exit(1)
	}
}

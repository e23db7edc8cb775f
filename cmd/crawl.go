// Package cmd defines and implements the CLI commands for the sitemap-crawler executable.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-crawler/internal/app"
	"github.com/JakeFAU/sitemap-crawler/internal/config"
	"github.com/JakeFAU/sitemap-crawler/internal/logging"
)

// newApp is the application factory. It's a variable so tests can inject
// client options.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.NewApp(ctx, cfg, logger)
}

// newCrawlCmd creates the 'crawl' subcommand, which performs one stateless run.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl a sitemap index and write the product URL table",
		Long: `Fetches the root sitemap, walks every child sitemap whose URL matches
crawler.index_pattern, and writes the canonical URLs matching
crawler.leaf_pattern to crawler.output_path. Failed child sitemaps are
logged and skipped; only a root failure aborts the run.`,
		Args: cobra.NoArgs,
		RunE: runCrawlCommand,
	}

	flags := cmd.Flags()
	flags.String("root", "", "root sitemap URL (crawler.root_url)")
	flags.String("output", "", "output CSV path (crawler.output_path)")
	flags.Int("concurrency", 0, "child sitemaps fetched in parallel (crawler.concurrency)")
	flags.Int("timeout-ms", 0, "per-request timeout in milliseconds (crawler.request_timeout_ms)")
	flags.String("user-agent", "", "User-Agent header (crawler.user_agent)")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush

	ctx := cmd.Context()
	appInstance, err := newApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	// Close runs on a fresh context so a canceled run still flushes metrics.
	defer appInstance.Close(context.WithoutCancel(ctx))

	engine, err := appInstance.Engine()
	if err != nil {
		return err
	}

	result, err := engine.Run(ctx)
	if err != nil {
		logger.Error("crawl failed", zap.Error(err))
		return fmt.Errorf("crawl: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d product URLs to %s (%d/%d child sitemaps ok)\n",
		result.Artifact.Rows, result.Artifact.Path, result.Succeeded, result.Attempted)
	return nil
}

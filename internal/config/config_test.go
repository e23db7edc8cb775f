package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	require.Equal(t, "https://www.example.com/sitemap.xml", cfg.Crawler.RootURL)
	require.Equal(t, "data/product_urls.csv", cfg.Crawler.OutputPath)
	require.Equal(t, "product_url", cfg.Crawler.OutputHeader)
	require.Equal(t, 8, cfg.Crawler.Concurrency)
	require.Equal(t, 20*time.Second, cfg.RequestTimeout())
	require.Equal(t, "products", cfg.Crawler.IndexPattern)
	require.Equal(t, "/products/", cfg.Crawler.LeafPattern)
	require.True(t, cfg.Crawler.FallbackToRootLeaves)
	require.Equal(t, 1, cfg.Crawler.MaxDepth)
	require.Equal(t, 50<<20, cfg.Crawler.MaxBodyBytes)
	require.Equal(t, 1, cfg.Retry.MaxAttempts)
	require.Equal(t, 250*time.Millisecond, cfg.BackoffInitial())
	require.Equal(t, 5*time.Second, cfg.BackoffMax())
	require.True(t, cfg.Logging.Development)
	require.Equal(t, "crawl_runs", cfg.DB.Table)
	require.Equal(t, "sitemaps", cfg.Storage.GCSPrefix)
}

func TestLoadWithFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	configYAML := `
crawler:
  root_url: https://shop.example/sitemap.xml
  output_path: out/urls.csv
  concurrency: 3
  request_timeout_ms: 1500
  index_pattern: catalog
  leaf_pattern: /p/
  fallback_to_root_leaves: false
  max_depth: 2
  respect_robots: true
  rate_limit_per_second: 2.5
retry:
  max_attempts: 3
  backoff_initial_ms: 100
  backoff_max_ms: 400
logging:
  development: false
  level: warn
storage:
  gcs_bucket: crawl-artifacts
pubsub:
  project_id: proj
  topic_name: crawl-runs
db:
  dsn: postgres://localhost/crawl
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	require.Equal(t, "https://shop.example/sitemap.xml", cfg.Crawler.RootURL)
	require.Equal(t, 3, cfg.Crawler.Concurrency)
	require.Equal(t, 1500*time.Millisecond, cfg.RequestTimeout())
	require.False(t, cfg.Crawler.FallbackToRootLeaves)
	require.True(t, cfg.Crawler.RespectRobots)
	require.InDelta(t, 2.5, cfg.Crawler.RateLimitPerSecond, 1e-9)
	require.Equal(t, 3, cfg.Retry.MaxAttempts)
	require.False(t, cfg.Logging.Development)
	require.Equal(t, "warn", cfg.Logging.Level)

	crawl := cfg.CrawlConfig()
	require.Equal(t, "catalog", crawl.IndexPattern)
	require.Equal(t, "/p/", crawl.LeafPattern)
	require.Equal(t, 2, crawl.MaxDepth)
	require.Equal(t, "crawl-runs", crawl.PublishTopic)
	require.Equal(t, "sitemaps", crawl.ArtifactPrefix)
	require.NoError(t, crawl.Validate())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SITEMAP_CRAWLER_ROOT_URL", "https://env.example/sitemap_index.xml")
	t.Setenv("SITEMAP_CRAWLER_CONCURRENCY", "16")
	t.Setenv("SITEMAP_STORAGE_GCS_BUCKET", "env-bucket")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	require.Equal(t, "https://env.example/sitemap_index.xml", cfg.Crawler.RootURL)
	require.Equal(t, 16, cfg.Crawler.Concurrency)
	require.Equal(t, "env-bucket", cfg.Storage.GCSBucket)
}

func TestLoadFlagOverrides(t *testing.T) {
	t.Setenv("SITEMAP_CRAWLER_CONCURRENCY", "16")

	fs := pflag.NewFlagSet("crawl", pflag.ContinueOnError)
	fs.String("root", "", "")
	fs.String("output", "", "")
	fs.Int("concurrency", 0, "")
	fs.Int("timeout-ms", 0, "")
	fs.String("user-agent", "", "")
	require.NoError(t, fs.Parse([]string{"--root", "https://flag.example/sitemap.xml", "--concurrency", "2"}))

	cfg, err := Load("", fs)
	require.NoError(t, err)
	require.Equal(t, "https://flag.example/sitemap.xml", cfg.Crawler.RootURL)
	require.Equal(t, 2, cfg.Crawler.Concurrency, "flags win over env")
	require.Equal(t, "data/product_urls.csv", cfg.Crawler.OutputPath, "unset flags keep lower layers")
	require.Equal(t, 20000, cfg.Crawler.RequestTimeoutMs)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.ErrorContains(t, err, "read config")
}

func TestValidate(t *testing.T) {
	base, err := Load("", nil)
	require.NoError(t, err)

	cases := map[string]func(*Config){
		"relative root":     func(c *Config) { c.Crawler.RootURL = "/sitemap.xml" },
		"ftp root":          func(c *Config) { c.Crawler.RootURL = "ftp://shop.example/sitemap.xml" },
		"empty output":      func(c *Config) { c.Crawler.OutputPath = " " },
		"zero concurrency":  func(c *Config) { c.Crawler.Concurrency = 0 },
		"zero timeout":      func(c *Config) { c.Crawler.RequestTimeoutMs = 0 },
		"zero depth":        func(c *Config) { c.Crawler.MaxDepth = 0 },
		"zero body cap":     func(c *Config) { c.Crawler.MaxBodyBytes = 0 },
		"negative rate":     func(c *Config) { c.Crawler.RateLimitPerSecond = -1 },
		"bad leaf regex":    func(c *Config) { c.Crawler.LeafPattern = "(" },
		"empty index":       func(c *Config) { c.Crawler.IndexPattern = "" },
		"zero attempts":     func(c *Config) { c.Retry.MaxAttempts = 0 },
		"inverted backoff":  func(c *Config) { c.Retry.BackoffInitialMs = 6000 },
		"topic w/o project": func(c *Config) { c.PubSub.TopicName = "t" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

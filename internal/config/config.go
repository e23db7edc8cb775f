// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
)

// EnvPrefix namespaces environment overrides, e.g. SITEMAP_CRAWLER_ROOT_URL.
const EnvPrefix = "SITEMAP"

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Crawler CrawlerConfig `mapstructure:"crawler"`
	Retry   RetryConfig   `mapstructure:"retry"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Storage StorageConfig `mapstructure:"storage"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	DB      DBConfig      `mapstructure:"db"`
}

// CrawlerConfig governs the walk, the fetcher and the output file.
type CrawlerConfig struct {
	RootURL              string  `mapstructure:"root_url"`
	OutputPath           string  `mapstructure:"output_path"`
	OutputHeader         string  `mapstructure:"output_header"`
	Concurrency          int     `mapstructure:"concurrency"`
	RequestTimeoutMs     int     `mapstructure:"request_timeout_ms"`
	UserAgent            string  `mapstructure:"user_agent"`
	IndexPattern         string  `mapstructure:"index_pattern"`
	LeafPattern          string  `mapstructure:"leaf_pattern"`
	FallbackToRootLeaves bool    `mapstructure:"fallback_to_root_leaves"`
	MaxDepth             int     `mapstructure:"max_depth"`
	MaxBodyBytes         int     `mapstructure:"max_body_bytes"`
	RespectRobots        bool    `mapstructure:"respect_robots"`
	RateLimitPerSecond   float64 `mapstructure:"rate_limit_per_second"`
}

// RetryConfig bounds fetch retries. MaxAttempts of 1 disables retrying.
type RetryConfig struct {
	MaxAttempts      int `mapstructure:"max_attempts"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// MetricsConfig enables the scrape listener and the textfile export.
type MetricsConfig struct {
	ListenAddr   string `mapstructure:"listen_addr"`
	TextfilePath string `mapstructure:"textfile_path"`
}

// StorageConfig sets where the artifact is uploaded, if anywhere.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
}

// PubSubConfig holds metadata for run-completed notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// DBConfig controls access to the run history table.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	Table        string `mapstructure:"table"`
	EnsureSchema bool   `mapstructure:"ensure_schema"`
}

// flagKeys maps CLI flag names to the config keys they override.
var flagKeys = map[string]string{
	"root":        "crawler.root_url",
	"output":      "crawler.output_path",
	"concurrency": "crawler.concurrency",
	"timeout-ms":  "crawler.request_timeout_ms",
	"user-agent":  "crawler.user_agent",
}

// Load builds a Config from defaults, an optional file, the environment and
// any flags in fs that were set explicitly, in increasing precedence.
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.root_url", "https://www.example.com/sitemap.xml")
	v.SetDefault("crawler.output_path", "data/product_urls.csv")
	v.SetDefault("crawler.output_header", "product_url")
	v.SetDefault("crawler.concurrency", 8)
	v.SetDefault("crawler.request_timeout_ms", 20000)
	v.SetDefault("crawler.user_agent", "sitemap-crawler/1.0 (+https://github.com/JakeFAU/sitemap-crawler)")
	v.SetDefault("crawler.index_pattern", "products")
	v.SetDefault("crawler.leaf_pattern", "/products/")
	v.SetDefault("crawler.fallback_to_root_leaves", true)
	v.SetDefault("crawler.max_depth", 1)
	v.SetDefault("crawler.max_body_bytes", 50<<20)
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("crawler.rate_limit_per_second", 0)
	v.SetDefault("retry.max_attempts", 1)
	v.SetDefault("retry.backoff_initial_ms", 250)
	v.SetDefault("retry.backoff_max_ms", 5000)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("metrics.listen_addr", "")
	v.SetDefault("metrics.textfile_path", "")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.gcs_prefix", "sitemaps")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "crawl_runs")
	v.SetDefault("db.ensure_schema", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	u, err := url.ParseRequestURI(c.Crawler.RootURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("crawler.root_url must be an absolute http(s) URL, got %q", c.Crawler.RootURL)
	}
	if strings.TrimSpace(c.Crawler.OutputPath) == "" {
		return errors.New("crawler.output_path must be set")
	}
	if c.Crawler.Concurrency <= 0 {
		return errors.New("crawler.concurrency must be > 0")
	}
	if c.Crawler.RequestTimeoutMs <= 0 {
		return errors.New("crawler.request_timeout_ms must be > 0")
	}
	if c.Crawler.MaxDepth < 1 {
		return errors.New("crawler.max_depth must be >= 1")
	}
	if c.Crawler.MaxBodyBytes <= 0 {
		return errors.New("crawler.max_body_bytes must be > 0")
	}
	if c.Crawler.RateLimitPerSecond < 0 {
		return errors.New("crawler.rate_limit_per_second must be >= 0")
	}
	for key, pattern := range map[string]string{
		"crawler.index_pattern": c.Crawler.IndexPattern,
		"crawler.leaf_pattern":  c.Crawler.LeafPattern,
	} {
		if strings.TrimSpace(pattern) == "" {
			return fmt.Errorf("%s must be set", key)
		}
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	if c.Retry.MaxAttempts < 1 {
		return errors.New("retry.max_attempts must be >= 1")
	}
	if c.Retry.BackoffInitialMs < 0 || c.Retry.BackoffMaxMs < c.Retry.BackoffInitialMs {
		return errors.New("retry backoff must satisfy 0 <= backoff_initial_ms <= backoff_max_ms")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return errors.New("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// RequestTimeout converts the per-request timeout into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Crawler.RequestTimeoutMs) * time.Millisecond
}

// BackoffInitial converts the initial retry backoff into a duration.
func (c Config) BackoffInitial() time.Duration {
	return time.Duration(c.Retry.BackoffInitialMs) * time.Millisecond
}

// BackoffMax converts the retry backoff cap into a duration.
func (c Config) BackoffMax() time.Duration {
	return time.Duration(c.Retry.BackoffMaxMs) * time.Millisecond
}

// CrawlConfig projects the engine settings.
func (c Config) CrawlConfig() crawler.Config {
	return crawler.Config{
		RootURL:              c.Crawler.RootURL,
		IndexPattern:         c.Crawler.IndexPattern,
		LeafPattern:          c.Crawler.LeafPattern,
		FallbackToRootLeaves: c.Crawler.FallbackToRootLeaves,
		MaxDepth:             c.Crawler.MaxDepth,
		ArtifactPrefix:       c.Storage.GCSPrefix,
		PublishTopic:         c.PubSub.TopicName,
	}
}

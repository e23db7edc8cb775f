// Package app initializes and holds the services one crawl run needs, acting
// as a dependency injection container.
package app

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/sitemap-crawler/internal/config"
	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
	"github.com/JakeFAU/sitemap-crawler/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/sitemap-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/sitemap-crawler/internal/hash/sha256"
	"github.com/JakeFAU/sitemap-crawler/internal/metrics"
	"github.com/JakeFAU/sitemap-crawler/internal/policy/ratelimit"
	gcppublisher "github.com/JakeFAU/sitemap-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/sitemap-crawler/internal/sitemap"
	gcsstorage "github.com/JakeFAU/sitemap-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/sitemap-crawler/internal/storage/local"
	pgstore "github.com/JakeFAU/sitemap-crawler/internal/storage/postgres"
)

// Option customizes how NewApp builds cloud clients.
type Option func(*options)

type options struct {
	storageOpts []option.ClientOption
	pubsubOpts  []option.ClientOption
	progress    dispatcher.ProgressFunc
}

// WithStorageOptions passes client options to the GCS client.
func WithStorageOptions(opts ...option.ClientOption) Option {
	return func(o *options) { o.storageOpts = append(o.storageOpts, opts...) }
}

// WithPubSubOptions passes client options to the Pub/Sub client.
func WithPubSubOptions(opts ...option.ClientOption) Option {
	return func(o *options) { o.pubsubOpts = append(o.pubsubOpts, opts...) }
}

// WithProgress installs a dispatcher progress callback.
func WithProgress(fn dispatcher.ProgressFunc) Option {
	return func(o *options) { o.progress = fn }
}

// App holds the services for one crawl run. The optional reporting services
// (blob upload, run history, notifications) are nil unless configured.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	fetcher    *collyfetcher.Fetcher
	dispatch   *dispatcher.Dispatcher
	writer     *localstorage.TableWriter
	blobs      *gcsstorage.BlobStore
	runs       *pgstore.RunStore
	publisher  *gcppublisher.Publisher
	gcsClient  *storage.Client
	psClient   *pubsub.Client
	metricsSrv *metrics.Server
}

// NewApp builds every service cfg asks for and fails fast if one cannot be
// initialized. Callers must Close the returned App.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, logger: logger}
	if err := a.init(ctx, o); err != nil {
		a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context, o options) error {
	cfg, logger := a.cfg, a.logger
	var err error

	metrics.Init()
	if cfg.Metrics.ListenAddr != "" {
		a.metricsSrv, err = metrics.Listen(cfg.Metrics.ListenAddr, logger)
		if err != nil {
			return err
		}
	}

	var limiter collyfetcher.Waiter
	if cfg.Crawler.RateLimitPerSecond > 0 {
		limiter = ratelimit.New(ratelimit.Config{RPS: cfg.Crawler.RateLimitPerSecond})
		logger.Info("per-host rate limit enabled", zap.Float64("rps", cfg.Crawler.RateLimitPerSecond))
	}
	a.fetcher = collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Crawler.UserAgent,
		RespectRobots: cfg.Crawler.RespectRobots,
		Timeout:       cfg.RequestTimeout(),
		MaxBodyBytes:  cfg.Crawler.MaxBodyBytes,
		Limiter:       limiter,
	})
	a.dispatch = dispatcher.New(dispatcher.Config{
		Workers:  cfg.Crawler.Concurrency,
		Progress: o.progress,
	}, logger)

	a.writer, err = localstorage.NewTableWriter(localstorage.Config{
		Path:    cfg.Crawler.OutputPath,
		Header:  cfg.Crawler.OutputHeader,
		UseCRLF: localstorage.PlatformCRLF(),
	}, sha256.New())
	if err != nil {
		return fmt.Errorf("init table writer: %w", err)
	}

	if cfg.Storage.GCSBucket != "" {
		a.gcsClient, err = storage.NewClient(ctx, o.storageOpts...)
		if err != nil {
			return fmt.Errorf("init gcs client: %w", err)
		}
		a.blobs, err = gcsstorage.New(a.gcsClient, gcsstorage.Config{Bucket: cfg.Storage.GCSBucket})
		if err != nil {
			return fmt.Errorf("init gcs blob store: %w", err)
		}
		logger.Info("artifact upload enabled", zap.String("bucket", cfg.Storage.GCSBucket))
	}

	if cfg.PubSub.TopicName != "" {
		a.psClient, err = pubsub.NewClient(ctx, cfg.PubSub.ProjectID, o.pubsubOpts...)
		if err != nil {
			return fmt.Errorf("init pubsub client: %w", err)
		}
		a.publisher = gcppublisher.New(a.psClient)
		logger.Info("run notifications enabled", zap.String("topic", cfg.PubSub.TopicName))
	}

	if cfg.DB.DSN != "" {
		a.runs, err = pgstore.NewRunStore(ctx, pgstore.RunStoreConfig{DSN: cfg.DB.DSN, Table: cfg.DB.Table})
		if err != nil {
			return fmt.Errorf("init run store: %w", err)
		}
		if cfg.DB.EnsureSchema {
			if err := a.runs.EnsureSchema(ctx); err != nil {
				return err
			}
		}
		logger.Info("run history enabled", zap.String("table", cfg.DB.Table))
	}

	return nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Engine wires the services into a crawl engine.
func (a *App) Engine() (*crawler.Engine, error) {
	deps := crawler.Deps{
		Fetcher:      a.fetcher,
		Parser:       sitemap.New(),
		Scheduler:    a.dispatch,
		Materializer: a.writer,
		Retry: crawler.NewExponentialRetryPolicy(
			a.cfg.Retry.MaxAttempts,
			a.cfg.BackoffInitial(),
			a.cfg.BackoffMax(),
		),
	}
	// Assign only non-nil services so the interfaces stay nil when disabled.
	if a.blobs != nil {
		deps.Blobs = a.blobs
	}
	if a.runs != nil {
		deps.Runs = a.runs
	}
	if a.publisher != nil {
		deps.Publisher = a.publisher
	}
	engine, err := crawler.NewEngine(a.cfg.CrawlConfig(), deps, a.logger)
	if err != nil {
		return nil, fmt.Errorf("init engine: %w", err)
	}
	return engine, nil
}

// Close exports the textfile metrics, if configured, and releases every
// service. It is safe to call on a partially initialized App.
func (a *App) Close(ctx context.Context) {
	if a.cfg.Metrics.TextfilePath != "" {
		if err := metrics.WriteTextfile(a.cfg.Metrics.TextfilePath); err != nil {
			a.logger.Warn("metrics textfile export failed", zap.Error(err))
		}
	}
	if a.metricsSrv != nil {
		if err := a.metricsSrv.Shutdown(ctx); err != nil {
			a.logger.Warn("metrics listener shutdown", zap.Error(err))
		}
	}
	if a.publisher != nil {
		a.publisher.Stop()
	}
	if a.psClient != nil {
		if err := a.psClient.Close(); err != nil {
			a.logger.Warn("close pubsub client", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("close gcs client", zap.Error(err))
		}
	}
	if a.runs != nil {
		a.runs.Close()
	}
}

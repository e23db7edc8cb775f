// Package dispatcher fans child-index work out to a bounded pool of goroutines.
package dispatcher

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
	"github.com/JakeFAU/sitemap-crawler/internal/metrics"
)

// DefaultWorkers is used when Config.Workers is not positive.
const DefaultWorkers = 8

// ProgressFunc receives (done, total) after each item finishes.
type ProgressFunc func(done, total int)

// Config controls dispatcher behavior.
type Config struct {
	Workers  int
	Progress ProgressFunc
}

// Dispatcher runs a finite list of items with at most Workers in flight.
type Dispatcher struct {
	workers  int
	progress ProgressFunc
	logger   *zap.Logger
}

// New creates a Dispatcher.
func New(cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		workers:  cfg.Workers,
		progress: cfg.Progress,
		logger:   logger,
	}
}

// Workers reports the parallelism cap.
func (d *Dispatcher) Workers() int {
	return d.workers
}

// Dispatch starts items in order, never more than Workers at once, and blocks
// until all of them have completed or failed. A failing item is logged and
// counted; it never cancels or delays its siblings.
func (d *Dispatcher) Dispatch(ctx context.Context, items []crawler.IndexEntry, work crawler.WorkFunc) crawler.DispatchStats {
	stats := crawler.DispatchStats{Attempted: len(items)}
	if len(items) == 0 {
		return stats
	}

	var (
		mu   sync.Mutex
		done int
	)
	total := len(items)
	metrics.SetProgress(0, total)

	var g errgroup.Group
	g.SetLimit(d.workers)
	for _, item := range items {
		// Go blocks once the limit is reached, so items launch in arrival order.
		g.Go(func() error {
			err := work(ctx, item)

			mu.Lock()
			done++
			if err != nil {
				stats.Failed++
				stats.Failures = append(stats.Failures, crawler.ChildFailure{
					Locator: item.Locator,
					Reason:  err.Error(),
				})
			} else {
				stats.Succeeded++
			}
			finished := done
			mu.Unlock()

			if err != nil {
				d.logger.Warn("child index failed",
					zap.String("locator", item.Locator),
					zap.Int("depth", item.Depth),
					zap.Error(err),
				)
				metrics.ObserveChild(metrics.ChildFailed)
			} else {
				metrics.ObserveChild(metrics.ChildSucceeded)
			}
			metrics.SetProgress(finished, total)
			if d.progress != nil {
				d.progress(finished, total)
			}
			return nil
		})
	}
	_ = g.Wait()
	return stats
}

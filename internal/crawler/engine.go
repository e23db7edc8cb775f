package crawler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-crawler/internal/clock/system"
	"github.com/JakeFAU/sitemap-crawler/internal/id/uuid"
	"github.com/JakeFAU/sitemap-crawler/internal/metrics"
	"github.com/JakeFAU/sitemap-crawler/internal/storage/memory"
)

const artifactContentType = "text/csv; charset=utf-8"

// Deps bundles the collaborators an Engine needs. Fetcher, Parser, Scheduler
// and Materializer are required; the rest are optional.
type Deps struct {
	Fetcher      Fetcher
	Parser       Parser
	Scheduler    Scheduler
	Materializer Materializer
	Retry        RetryPolicy
	Blobs        BlobStore
	Publisher    Publisher
	Runs         RunStore
	Clock        Clock
	IDs          IDGenerator
}

// Engine walks a root index, fans out over its child indices, and materializes
// the canonical leaf identifiers.
type Engine struct {
	cfg    Config
	deps   Deps
	index  *Filter
	leaves *Filter
	logger *zap.Logger
}

// NewEngine validates cfg and wires the collaborators.
func NewEngine(cfg Config, deps Deps, logger *zap.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid crawl config: %w", err)
	}
	if deps.Fetcher == nil || deps.Parser == nil || deps.Scheduler == nil || deps.Materializer == nil {
		return nil, errors.New("fetcher, parser, scheduler and materializer are required")
	}
	index, err := NewFilter(cfg.IndexPattern)
	if err != nil {
		return nil, fmt.Errorf("index pattern: %w", err)
	}
	leaves, err := NewFilter(cfg.LeafPattern)
	if err != nil {
		return nil, fmt.Errorf("leaf pattern: %w", err)
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.IDs == nil {
		deps.IDs = uuid.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:    cfg,
		deps:   deps,
		index:  index,
		leaves: leaves,
		logger: logger,
	}, nil
}

// Run performs one stateless walk. Only root-level failures are returned; child
// index failures are logged and counted in the result.
func (e *Engine) Run(ctx context.Context) (RunResult, error) {
	runID, err := e.deps.IDs.NewID()
	if err != nil {
		return RunResult{}, fmt.Errorf("generate run id: %w", err)
	}
	logger := e.logger.With(zap.String("run_id", runID))
	result := RunResult{
		RunID:     runID,
		RootURL:   e.cfg.RootURL,
		StartedAt: e.deps.Clock.Now(),
	}

	root, err := e.fetchDocument(ctx, e.cfg.RootURL, logger)
	if err != nil {
		metrics.ObserveRun(metrics.RunFailed, 0, 0)
		return RunResult{}, fmt.Errorf("%w: %w", ErrRootFetch, err)
	}
	logger.Info("root index parsed",
		zap.String("root", e.cfg.RootURL),
		zap.Stringer("kind", root.Kind),
		zap.Int("entries", len(root.Entries)),
	)

	set := memory.NewIdentifierSet()
	if err := e.collect(ctx, root, set, &result, logger); err != nil {
		metrics.ObserveRun(metrics.RunFailed, 0, 0)
		return RunResult{}, err
	}

	ids := set.Sorted()
	artifact, err := e.deps.Materializer.Write(ctx, ids)
	if err != nil {
		metrics.ObserveRun(metrics.RunFailed, 0, 0)
		return RunResult{}, fmt.Errorf("materialize identifiers: %w", err)
	}
	result.Identifiers = make([]CanonicalID, len(ids))
	for i, id := range ids {
		result.Identifiers[i] = CanonicalID(id)
	}
	result.Artifact = artifact
	result.FinishedAt = e.deps.Clock.Now()

	e.report(ctx, &result, logger)
	metrics.ObserveRun(metrics.RunSucceeded, len(ids), result.Duration())

	logger.Info("crawl complete",
		zap.Int("identifiers", len(ids)),
		zap.String("output", artifact.Path),
		zap.Int("children_attempted", result.Attempted),
		zap.Int("children_succeeded", result.Succeeded),
		zap.Int("children_failed", result.Failed),
		zap.Duration("elapsed", result.Duration()),
	)
	return result, nil
}

func (e *Engine) collect(
	ctx context.Context,
	root Document,
	set *memory.IdentifierSet,
	result *RunResult,
	logger *zap.Logger,
) error {
	switch root.Kind {
	case KindIndexOfIndices:
		if len(root.Entries) == 0 {
			return ErrEmptyRoot
		}
		children := e.selectChildren(root.Entries)
		logger.Info("discovered child indices",
			zap.Int("matching", len(children)),
			zap.Int("total", len(root.Entries)),
			zap.String("index_pattern", e.index.Pattern()),
		)
		if len(children) > 0 {
			e.walk(ctx, children, set, result, logger)
			return nil
		}
		if !e.cfg.FallbackToRootLeaves {
			return ErrNoChildIndices
		}
		logger.Info("no matching child indices; treating root entries as leaves")
		result.UsedRootAsLeaves = true
		e.acceptLeaves(root.Entries, set)
		return nil
	case KindLeafSet:
		if len(root.Entries) == 0 {
			return ErrEmptyRoot
		}
		added := e.acceptLeaves(root.Entries, set)
		logger.Info("root is a leaf set", zap.Int("entries", len(root.Entries)), zap.Int("accepted", added))
		return nil
	default:
		return fmt.Errorf("%w: unrecognized root document", ErrEmptyRoot)
	}
}

func (e *Engine) selectChildren(entries []string) []IndexEntry {
	children := make([]IndexEntry, 0, len(entries))
	for _, loc := range entries {
		if e.index.Matches(loc) {
			children = append(children, IndexEntry{Locator: loc, Depth: 1})
		}
	}
	return children
}

// walk dispatches one finite level of child indices at a time. Nested indices
// found at a level become the next level until MaxDepth is reached.
func (e *Engine) walk(
	ctx context.Context,
	pending []IndexEntry,
	set *memory.IdentifierSet,
	result *RunResult,
	logger *zap.Logger,
) {
	for len(pending) > 0 {
		var (
			mu   sync.Mutex
			next []IndexEntry
		)
		stats := e.deps.Scheduler.Dispatch(ctx, pending, func(ctx context.Context, entry IndexEntry) error {
			doc, err := e.fetchDocument(ctx, entry.Locator, logger)
			if err != nil {
				return err
			}
			switch doc.Kind {
			case KindLeafSet:
				added := e.acceptLeaves(doc.Entries, set)
				logger.Debug("child index processed",
					zap.String("locator", entry.Locator),
					zap.Int("entries", len(doc.Entries)),
					zap.Int("added", added),
				)
			case KindIndexOfIndices:
				if entry.Depth >= e.cfg.MaxDepth {
					logger.Debug("nested index beyond max depth skipped", zap.String("locator", entry.Locator))
					return nil
				}
				mu.Lock()
				for _, loc := range doc.Entries {
					next = append(next, IndexEntry{Locator: loc, Depth: entry.Depth + 1})
				}
				mu.Unlock()
			default:
				logger.Debug("child index unrecognized; contributes nothing", zap.String("locator", entry.Locator))
			}
			return nil
		})
		result.Attempted += stats.Attempted
		result.Succeeded += stats.Succeeded
		result.Failed += stats.Failed
		result.Failures = append(result.Failures, stats.Failures...)
		if ctx.Err() != nil {
			return
		}
		pending = next
	}
}

func (e *Engine) acceptLeaves(entries []string, set *memory.IdentifierSet) int {
	added := 0
	for _, loc := range entries {
		id, ok := e.leaves.Accept(loc)
		if ok && set.Add(string(id)) {
			added++
		}
	}
	return added
}

// fetchDocument fetches and parses one locator, applying the retry policy.
func (e *Engine) fetchDocument(ctx context.Context, locator string, logger *zap.Logger) (Document, error) {
	for attempt := 1; ; attempt++ {
		body, err := e.deps.Fetcher.Fetch(ctx, locator)
		if err == nil {
			return e.deps.Parser.Parse(body), nil
		}
		if e.deps.Retry == nil || !e.deps.Retry.ShouldRetry(err, attempt) {
			return Document{}, err
		}
		wait := e.deps.Retry.Backoff(attempt)
		logger.Debug("retrying fetch",
			zap.String("locator", locator),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Document{}, fmt.Errorf("retry wait for %s: %w", locator, ctx.Err())
		case <-timer.C:
		}
	}
}

// report hands the finished run to the optional downstream stores. Failures
// here never fail the run; the artifact is already on disk.
func (e *Engine) report(ctx context.Context, result *RunResult, logger *zap.Logger) {
	if e.deps.Blobs != nil {
		uri, err := e.uploadArtifact(ctx, result)
		if err != nil {
			logger.Warn("artifact upload failed", zap.String("path", result.Artifact.Path), zap.Error(err))
		} else {
			result.Artifact.URI = uri
			logger.Info("artifact uploaded", zap.String("uri", uri))
		}
	}
	if e.deps.Runs != nil {
		if err := e.deps.Runs.RecordRun(ctx, *result); err != nil {
			logger.Warn("record run failed", zap.Error(err))
		}
	}
	if e.deps.Publisher != nil && e.cfg.PublishTopic != "" {
		id, err := e.deps.Publisher.Publish(ctx, e.cfg.PublishTopic, *result)
		if err != nil {
			logger.Warn("publish run summary failed", zap.String("topic", e.cfg.PublishTopic), zap.Error(err))
		} else {
			logger.Info("run summary published", zap.String("topic", e.cfg.PublishTopic), zap.String("message_id", id))
		}
	}
}

func (e *Engine) uploadArtifact(ctx context.Context, result *RunResult) (string, error) {
	f, err := os.Open(result.Artifact.Path)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			e.logger.Warn("close artifact", zap.Error(cerr))
		}
	}()
	object := path.Join(e.cfg.ArtifactPrefix, result.RunID, filepath.Base(result.Artifact.Path))
	uri, err := e.deps.Blobs.PutObject(ctx, object, artifactContentType, f)
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return uri, nil
}

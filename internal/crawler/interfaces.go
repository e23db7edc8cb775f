package crawler

import (
	"context"
	"io"
	"time"
)

// Fetcher retrieves a document by locator and returns its body as text.
// Failures are reported as *FetchError.
type Fetcher interface {
	Fetch(ctx context.Context, locator string) (string, error)
}

// Parser turns raw markup into a tagged Document. It never fails; markup it
// cannot classify yields KindUnrecognized.
type Parser interface {
	Parse(text string) Document
}

// WorkFunc processes one child index. A returned error is isolated to that item.
type WorkFunc func(ctx context.Context, entry IndexEntry) error

// Scheduler runs work over a finite list of child indices under a fixed
// parallelism cap and returns once every item has completed or failed.
type Scheduler interface {
	Dispatch(ctx context.Context, items []IndexEntry, work WorkFunc) DispatchStats
}

// DispatchStats summarizes one Scheduler pass.
type DispatchStats struct {
	Attempted int
	Succeeded int
	Failed    int
	Failures  []ChildFailure
}

// Materializer writes the final identifier set to durable storage.
type Materializer interface {
	Write(ctx context.Context, rows []string) (Artifact, error)
}

// BlobStore uploads an artifact and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher pushes run completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RunStore persists run summaries.
type RunStore interface {
	RecordRun(ctx context.Context, result RunResult) error
}

// RetryPolicy decides whether a failed fetch should be attempted again.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Hasher computes digests for artifact integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

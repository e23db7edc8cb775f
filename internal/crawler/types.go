package crawler

import (
	"time"
)

// DocumentKind tags the shape detected in a parsed index document.
type DocumentKind int

// Recognized document shapes.
const (
	KindUnrecognized DocumentKind = iota
	KindIndexOfIndices
	KindLeafSet
)

// String renders the kind for log fields.
func (k DocumentKind) String() string {
	switch k {
	case KindIndexOfIndices:
		return "index_of_indices"
	case KindLeafSet:
		return "leaf_set"
	default:
		return "unrecognized"
	}
}

// Document is the tagged result of parsing an index document. Entries holds
// child locators for KindIndexOfIndices and leaf locators for KindLeafSet; it
// is always empty for KindUnrecognized.
type Document struct {
	Kind    DocumentKind
	Entries []string
}

// IndexEntry is a child locator discovered in an index-of-indices document.
// Duplicates are tolerated; each one is fetched independently.
type IndexEntry struct {
	Locator string
	Depth   int
}

// CanonicalID is a leaf locator with its query string and trailing path
// separators removed. It is the deduplication key.
type CanonicalID string

// ChildFailure records one child index that could not be processed.
type ChildFailure struct {
	Locator string `json:"locator"`
	Reason  string `json:"reason"`
}

// Artifact describes the materialized output file.
type Artifact struct {
	Path   string `json:"path"`
	Rows   int    `json:"rows"`
	Digest string `json:"sha256"`
	URI    string `json:"uri,omitempty"`
}

// RunResult is the immutable summary of one crawl run.
type RunResult struct {
	RunID            string         `json:"run_id"`
	RootURL          string         `json:"root_url"`
	Identifiers      []CanonicalID  `json:"-"`
	Attempted        int            `json:"children_attempted"`
	Succeeded        int            `json:"children_succeeded"`
	Failed           int            `json:"children_failed"`
	Failures         []ChildFailure `json:"failures,omitempty"`
	UsedRootAsLeaves bool           `json:"used_root_as_leaves"`
	StartedAt        time.Time      `json:"started_at"`
	FinishedAt       time.Time      `json:"finished_at"`
	Artifact         Artifact       `json:"artifact"`
}

// Duration returns the wall time of the run.
func (r RunResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

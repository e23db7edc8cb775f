// Package crawler implements the sitemap discovery engine: the document and
// result types shared across subsystems, the leaf filter, the retry policy, and
// the orchestrator that walks a root index, fans out over child indices, and
// materializes the canonical leaf set.
package crawler

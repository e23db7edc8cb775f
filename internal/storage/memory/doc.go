// Package memory holds in-process stores: the concurrency-safe identifier set
// that aggregates a run's leaves, and a blob store for local runs and tests.
package memory

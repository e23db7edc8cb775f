// Package postgres records crawl run summaries in Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
)

// DefaultTable receives one row per run.
const DefaultTable = "crawl_runs"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// RunStoreConfig controls the Postgres connection pool used for run rows.
type RunStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// RunStore writes run summaries into Postgres.
type RunStore struct {
	pool  execCloser
	table string
}

// NewRunStore creates a Postgres-backed RunStore using the provided config.
func NewRunStore(ctx context.Context, cfg RunStoreConfig) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RunStore{pool: pool, table: table}, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(pool execCloser, table string) (*RunStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	table, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &RunStore{pool: pool, table: table}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the run table when it does not exist yet.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id              TEXT PRIMARY KEY,
	root_url            TEXT NOT NULL,
	started_at          TIMESTAMPTZ NOT NULL,
	finished_at         TIMESTAMPTZ NOT NULL,
	children_attempted  INTEGER NOT NULL,
	children_succeeded  INTEGER NOT NULL,
	children_failed     INTEGER NOT NULL,
	used_root_as_leaves BOOLEAN NOT NULL DEFAULT FALSE,
	identifiers         INTEGER NOT NULL,
	artifact_path       TEXT NOT NULL,
	artifact_uri        TEXT,
	artifact_sha256     TEXT NOT NULL,
	failures            JSONB NOT NULL DEFAULT '[]'
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// RecordRun inserts one run summary row.
func (s *RunStore) RecordRun(ctx context.Context, result crawler.RunResult) error {
	if s == nil || s.pool == nil {
		return errors.New("run store is not configured")
	}
	if result.RunID == "" {
		return errors.New("run id is required")
	}
	failures := result.Failures
	if failures == nil {
		failures = []crawler.ChildFailure{}
	}
	failuresJSON, err := json.Marshal(failures)
	if err != nil {
		return fmt.Errorf("marshal failures: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	root_url,
	started_at,
	finished_at,
	children_attempted,
	children_succeeded,
	children_failed,
	used_root_as_leaves,
	identifiers,
	artifact_path,
	artifact_uri,
	artifact_sha256,
	failures
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
)`, s.table)

	args := []any{
		result.RunID,
		result.RootURL,
		result.StartedAt,
		result.FinishedAt,
		result.Attempted,
		result.Succeeded,
		result.Failed,
		result.UsedRootAsLeaves,
		result.Artifact.Rows,
		result.Artifact.Path,
		result.Artifact.URI,
		result.Artifact.Digest,
		failuresJSON,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
)

func TestRecordRunInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock, "")
	require.NoError(t, err)

	started := time.Unix(1700000000, 0).UTC()
	result := crawler.RunResult{
		RunID:     "0190d3c2-7b1e-7cc0-8a55-0d6f0c2a1b3c",
		RootURL:   "https://shop.example/sitemap.xml",
		Attempted: 2,
		Succeeded: 1,
		Failed:    1,
		Failures: []crawler.ChildFailure{
			{Locator: "https://shop.example/sitemap_products_2.xml", Reason: "http status 500"},
		},
		StartedAt:  started,
		FinishedAt: started.Add(3 * time.Second),
		Artifact: crawler.Artifact{
			Path:   "data/product_urls.csv",
			Rows:   2,
			Digest: "abc123",
			URI:    "gs://bucket/sitemaps/run/product_urls.csv",
		},
	}

	mock.ExpectExec("INSERT INTO crawl_runs").
		WithArgs(
			result.RunID,
			result.RootURL,
			result.StartedAt,
			result.FinishedAt,
			2,
			1,
			1,
			false,
			2,
			result.Artifact.Path,
			result.Artifact.URI,
			result.Artifact.Digest,
			[]byte(`[{"locator":"https://shop.example/sitemap_products_2.xml","reason":"http status 500"}]`),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.RecordRun(context.Background(), result))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRunEmptyFailuresEncodeAsArray(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock, "runs_v2")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO runs_v2").
		WithArgs(
			"run", "https://shop.example/sitemap.xml",
			pgxmock.AnyArg(), pgxmock.AnyArg(),
			0, 0, 0, true, 0,
			"out.csv", "", "",
			[]byte(`[]`),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = store.RecordRun(context.Background(), crawler.RunResult{
		RunID:            "run",
		RootURL:          "https://shop.example/sitemap.xml",
		UsedRootAsLeaves: true,
		Artifact:         crawler.Artifact{Path: "out.csv"},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRunWrapsExecError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock, "")
	require.NoError(t, err)

	anyArgs := make([]any, 13)
	for i := range anyArgs {
		anyArgs[i] = pgxmock.AnyArg()
	}
	mock.ExpectExec("INSERT INTO crawl_runs").
		WithArgs(anyArgs...).
		WillReturnError(errors.New("connection reset"))

	err = store.RecordRun(context.Background(), crawler.RunResult{RunID: "run"})
	require.ErrorContains(t, err, "insert run: connection reset")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRunRequiresID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock, "")
	require.NoError(t, err)
	require.EqualError(t, store.RecordRun(context.Background(), crawler.RunResult{}), "run id is required")
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS crawl_runs").WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTableNameValidation(t *testing.T) {
	t.Parallel()

	_, err := NewRunStoreWithPool(nil, "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewRunStoreWithPool(mock, "runs; DROP TABLE x")
	require.ErrorContains(t, err, "invalid table name")

	_, err = NewRunStore(context.Background(), RunStoreConfig{})
	require.EqualError(t, err, "db.dsn is required")
}

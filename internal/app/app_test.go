package app_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/pubsub/apiv1/pubsubpb"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/sitemap-crawler/internal/app"
	"github.com/JakeFAU/sitemap-crawler/internal/config"
)

// newSitemapServer serves a two-child sitemap index. The second child always
// fails with 500.
func newSitemapServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	var base string
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>%[1]s/sitemap_products_1.xml</loc></sitemap>
  <sitemap><loc>%[1]s/sitemap_products_2.xml</loc></sitemap>
  <sitemap><loc>%[1]s/sitemap_pages_1.xml</loc></sitemap>
</sitemapindex>`, base)
	})
	mux.HandleFunc("/sitemap_products_1.xml", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>https://shop.example/products/x?track=1</loc></url>
  <url><loc>https://shop.example/products/y/</loc></url>
  <url><loc>https://shop.example/about</loc></url>
  <url><loc>https://shop.example/products/x</loc></url>
</urlset>`)
	})
	mux.HandleFunc("/sitemap_products_2.xml", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	mux.HandleFunc("/sitemap_pages_1.xml", func(w http.ResponseWriter, _ *http.Request) {
		t.Error("non-matching child index must not be fetched")
	})
	srv := httptest.NewServer(mux)
	base = srv.URL
	t.Cleanup(srv.Close)
	return srv
}

func baseConfig(t *testing.T, root string) config.Config {
	t.Helper()

	cfg, err := config.Load("", nil)
	require.NoError(t, err)
	cfg.Crawler.RootURL = root
	cfg.Crawler.OutputPath = filepath.Join(t.TempDir(), "out", "product_urls.csv")
	cfg.Crawler.Concurrency = 2
	cfg.Crawler.RequestTimeoutMs = 2000
	return cfg
}

func TestEngineCrawlsIndexEndToEnd(t *testing.T) {
	srv := newSitemapServer(t)
	cfg := baseConfig(t, srv.URL+"/sitemap.xml")

	core, logs := observer.New(zap.InfoLevel)
	var (
		mu       sync.Mutex
		progress []int
	)
	a, err := app.NewApp(context.Background(), cfg, zap.New(core), app.WithProgress(func(done, _ int) {
		mu.Lock()
		progress = append(progress, done)
		mu.Unlock()
	}))
	require.NoError(t, err)
	defer a.Close(context.Background())
	require.NotNil(t, a.Logger())

	engine, err := a.Engine()
	require.NoError(t, err)

	result, err := engine.Run(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(cfg.Crawler.OutputPath)
	require.NoError(t, err)
	require.Equal(t, "product_url\nhttps://shop.example/products/x\nhttps://shop.example/products/y\n", string(data))

	require.Equal(t, 2, result.Attempted)
	require.Equal(t, 1, result.Succeeded)
	require.Equal(t, 1, result.Failed)
	require.Len(t, result.Failures, 1)
	require.Equal(t, srv.URL+"/sitemap_products_2.xml", result.Failures[0].Locator)
	require.Equal(t, 2, result.Artifact.Rows)
	require.Len(t, result.Artifact.Digest, 64)
	require.Len(t, progress, 2)

	require.Len(t, logs.FilterMessage("child index failed").All(), 1)
	summary := logs.FilterMessage("crawl complete").All()
	require.Len(t, summary, 1)
	assert.EqualValues(t, 2, summary[0].ContextMap()["identifiers"])
}

func TestEngineReportsToCloudServices(t *testing.T) {
	srv := newSitemapServer(t)
	cfg := baseConfig(t, srv.URL+"/sitemap.xml")
	cfg.Storage.GCSBucket = "crawl-artifacts"
	cfg.PubSub.ProjectID = "test-project"
	cfg.PubSub.TopicName = "crawl-runs"
	cfg.Metrics.ListenAddr = "127.0.0.1:0"
	cfg.Metrics.TextfilePath = filepath.Join(t.TempDir(), "sitemap.prom")

	var uploaded sync.Map
	gcs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		name := r.URL.Query().Get("name")
		uploaded.Store(name, string(body))
		fmt.Fprintf(w, `{"name": %q, "bucket": "crawl-artifacts"}`, name)
	}))
	defer gcs.Close()

	ps := pstest.NewServer()
	defer func() { _ = ps.Close() }()
	conn, err := grpc.NewClient(ps.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	ctx := context.Background()
	_, err = ps.GServer.CreateTopic(ctx, &pubsubpb.Topic{Name: "projects/test-project/topics/crawl-runs"})
	require.NoError(t, err)

	a, err := app.NewApp(ctx, cfg, zap.NewNop(),
		app.WithStorageOptions(option.WithEndpoint(gcs.URL), option.WithoutAuthentication()),
		app.WithPubSubOptions(option.WithGRPCConn(conn)),
	)
	require.NoError(t, err)

	engine, err := a.Engine()
	require.NoError(t, err)
	result, err := engine.Run(ctx)
	require.NoError(t, err)
	a.Close(ctx)

	object := "sitemaps/" + result.RunID + "/product_urls.csv"
	require.Equal(t, "gs://crawl-artifacts/"+object, result.Artifact.URI)
	body, ok := uploaded.Load(object)
	require.True(t, ok, "artifact not uploaded")
	require.Contains(t, body, "https://shop.example/products/y")

	msgs := ps.Messages()
	require.Len(t, msgs, 1)
	var summary map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Data, &summary))
	require.Equal(t, result.RunID, summary["run_id"])
	require.EqualValues(t, 1, summary["children_failed"])

	prom, err := os.ReadFile(cfg.Metrics.TextfilePath)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(prom), "sitemap_runs_total"))
}

func TestNewAppRejectsBadDSN(t *testing.T) {
	cfg := baseConfig(t, "https://shop.example/sitemap.xml")
	cfg.DB.DSN = "postgres://%zz"

	a, err := app.NewApp(context.Background(), cfg, nil)
	require.ErrorContains(t, err, "init run store")
	require.Nil(t, a)
}

func TestNewAppRejectsDirectoryOutput(t *testing.T) {
	cfg := baseConfig(t, "https://shop.example/sitemap.xml")
	cfg.Crawler.OutputPath = t.TempDir()

	_, err := app.NewApp(context.Background(), cfg, nil)
	require.ErrorContains(t, err, "init table writer")
}

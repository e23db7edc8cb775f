// Package collyfetcher implements crawler.Fetcher using gocolly.
package collyfetcher

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
	"github.com/JakeFAU/sitemap-crawler/internal/metrics"
)

const (
	// DefaultTimeout bounds a single retrieval when Config.Timeout is zero.
	DefaultTimeout = 20 * time.Second
	// DefaultMaxBodyBytes is the sitemap protocol's uncompressed size ceiling.
	DefaultMaxBodyBytes = 50 << 20

	acceptHeader = "application/xml, text/xml;q=0.9, */*;q=0.8"
)

// errBodyTooLarge reports a body, raw or inflated, above Config.MaxBodyBytes.
var errBodyTooLarge = errors.New("response body exceeds size limit")

// Waiter delays a fetch, typically to honor a per-host rate limit.
type Waiter interface {
	Wait(ctx context.Context, locator string) error
}

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	MaxBodyBytes  int
	Limiter       Waiter
}

// Fetcher implements crawler.Fetcher using the Colly collector.
type Fetcher struct {
	cfg       Config
	transport http.RoundTripper
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// fetchState carries what the collector callbacks observed for one Visit.
type fetchState struct {
	status int
	body   []byte
	err    error
}

// New builds a Fetcher. Connections are pooled across fetches; each fetch
// gets its own collector bound to the caller's context.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &Fetcher{
		cfg:       cfg,
		transport: newHTTPTransport(),
	}
}

// Fetch retrieves locator and returns its body as text. Any 2xx status is a
// success; everything else is reported as *crawler.FetchError.
func (f *Fetcher) Fetch(ctx context.Context, locator string) (string, error) {
	u, err := url.Parse(locator)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %q", crawler.ErrInvalidLocator, locator)
	}
	if f.cfg.Limiter != nil {
		if err := f.cfg.Limiter.Wait(ctx, locator); err != nil {
			return "", crawler.ClassifyTransportError(locator, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	start := time.Now()
	state := &fetchState{}
	collector := f.buildCollector(ctx, state)
	body, err := f.runCollector(ctx, collector, locator, state)
	elapsed := time.Since(start)
	if err != nil {
		var fe *crawler.FetchError
		if errors.As(err, &fe) {
			metrics.ObserveFetch(locator, string(fe.Kind), 0, elapsed)
		}
		return "", err
	}
	metrics.ObserveFetch(locator, metrics.FetchOK, len(body), elapsed)
	return body, nil
}

func (f *Fetcher) buildCollector(ctx context.Context, state *fetchState) *colly.Collector {
	collector := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		// One byte past the cap so an oversized body is detectable, not truncated.
		colly.MaxBodySize(f.cfg.MaxBodyBytes+1),
	)
	collector.WithTransport(&contextTransport{ctx: ctx, base: f.transport})
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	collector.SetRequestTimeout(f.cfg.Timeout)
	f.configureCollectorHooks(collector, state)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, state *fetchState) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", acceptHeader)
	})

	hooks.OnResponse(func(r *colly.Response) {
		state.status = r.StatusCode
		state.body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			state.status = r.StatusCode
		}
		state.err = err
	})
}

func (f *Fetcher) runCollector(
	ctx context.Context,
	collector *colly.Collector,
	locator string,
	state *fetchState,
) (string, error) {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(locator)
	}()

	select {
	case <-ctx.Done():
		return "", crawler.ClassifyTransportError(locator, ctx.Err())
	case err := <-done:
		if err == nil {
			err = state.err
		}
		if err != nil {
			if errors.Is(err, colly.ErrRobotsTxtBlocked) {
				return "", &crawler.FetchError{Kind: crawler.KindBlocked, Locator: locator, Err: err}
			}
			if ctx.Err() != nil {
				return "", crawler.ClassifyTransportError(locator, ctx.Err())
			}
			if state.status != 0 && !isSuccess(state.status) {
				return "", &crawler.FetchError{Kind: crawler.KindHTTPStatus, Locator: locator, StatusCode: state.status}
			}
			return "", crawler.ClassifyTransportError(locator, err)
		}
		if !isSuccess(state.status) {
			return "", &crawler.FetchError{Kind: crawler.KindHTTPStatus, Locator: locator, StatusCode: state.status}
		}
		body, err := decodeBody(state.body, f.cfg.MaxBodyBytes)
		if err != nil {
			return "", &crawler.FetchError{Kind: crawler.KindNetwork, Locator: locator, Err: err}
		}
		return string(body), nil
	}
}

// contextTransport binds every request of one collector, robots.txt probes
// included, to the fetch context so deadlines and cancellation abort the transfer.
type contextTransport struct {
	ctx  context.Context
	base http.RoundTripper
}

func (t *contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req.WithContext(t.ctx))
	if err != nil {
		return nil, fmt.Errorf("roundtrip %s: %w", req.URL.Redacted(), err)
	}
	return resp, nil
}

func isSuccess(status int) bool {
	return status >= http.StatusOK && status < http.StatusMultipleChoices
}

// decodeBody inflates gzip payloads served without Content-Encoding, as
// .xml.gz sitemaps usually are. Bodies above limit, before or after
// inflation, fail with errBodyTooLarge.
func decodeBody(body []byte, limit int) ([]byte, error) {
	if len(body) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", errBodyTooLarge, limit)
	}
	if len(body) < 2 || body[0] != 0x1f || body[1] != 0x8b {
		return body, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gzip header: %w", err)
	}
	defer func() { _ = zr.Close() }()
	out, err := io.ReadAll(io.LimitReader(zr, int64(limit)+1))
	if err != nil {
		return nil, fmt.Errorf("gzip body: %w", err)
	}
	if len(out) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes inflated", errBodyTooLarge, limit)
	}
	return out, nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
	}
}

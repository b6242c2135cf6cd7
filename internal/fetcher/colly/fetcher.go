// Package collyfetcher implements crawler.PageFetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/site-harvester/internal/crawler"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultMaxBodySize = 10 << 20
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	// Timeout applies when a request does not carry its own.
	Timeout     time.Duration
	MaxBodySize int
}

// Fetcher performs single GETs through a Colly collector. It never retries;
// retry policy lives with the caller.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = defaultMaxBodySize
	}

	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())
	// Robots are enforced by the discovery policy, not per fetch.
	c.IgnoreRobotsTxt = true
	// Clones share the visited store; every fetch is an explicit request.
	c.AllowURLRevisit = true
	// Deliver 4xx/5xx bodies through OnResponse so callers see the status.
	c.ParseHTTPErrorResponse = true
	c.MaxBodySize = cfg.MaxBodySize
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET. A non-2xx response is returned together
// with a *crawler.StatusError so callers can classify it.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.PageRequest) (crawler.Page, error) {
	timeout := request.Timeout
	if timeout <= 0 {
		timeout = f.cfg.Timeout
	}
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		page     crawler.Page
		fetchErr error
		received bool
	)
	collector := f.baseCollector.Clone()
	collector.Context = fetchCtx
	f.configureCollectorHooks(collector, request, time.Now(), &page, &received, &fetchErr)

	if err := runCollector(fetchCtx, collector, request.URL, &fetchErr); err != nil {
		return crawler.Page{}, err
	}
	if !received {
		return crawler.Page{}, fmt.Errorf("colly fetch %s: no response", request.URL)
	}
	if page.StatusCode < 200 || page.StatusCode > 299 {
		return page, &crawler.StatusError{StatusCode: page.StatusCode}
	}
	return page, nil
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request crawler.PageRequest,
	start time.Time,
	page *crawler.Page,
	received *bool,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		copyHeaders(request.Headers, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		headers := http.Header{}
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		finalURL := request.URL
		if r.Request != nil && r.Request.URL != nil {
			finalURL = r.Request.URL.String()
		}
		*page = crawler.Page{
			URL:        finalURL,
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
		*received = true
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

// copyHeaders replaces request headers, so a per-request User-Agent wins over
// the collector default.
func copyHeaders(headers http.Header, r *colly.Request) {
	for key, values := range headers {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
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
		IdleConnTimeout:       90 * time.Second,
	}
}

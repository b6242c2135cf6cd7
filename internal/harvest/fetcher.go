// Package harvest fetches useful URLs with retries and politeness and turns
// them into content records. It never returns an error: every outcome is a
// crawler.FetchResult.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-harvester/internal/clock/system"
	"github.com/JakeFAU/site-harvester/internal/crawler"
	"github.com/JakeFAU/site-harvester/internal/extract"
	"github.com/JakeFAU/site-harvester/internal/metrics"
)

// DefaultUserAgent is the browser user agent sent with content fetches.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// Config controls one Fetcher.
type Config struct {
	UserAgent   string
	Timeout     time.Duration
	MaxAttempts int
	// BaseDelay scales the exponential backoff; zero means one second.
	BaseDelay time.Duration
}

// PageExtractor turns a fetched body into a content record. Errors wrapping
// crawler.ErrParse are never retried.
type PageExtractor func(pageURL string, body []byte, extractedAt time.Time) (crawler.FetchResult, error)

// throttler is implemented by rate limiters that slow down after a 429.
type throttler interface {
	Throttle(url string)
}

// Fetcher is the content fetcher used by the pipeline producer.
type Fetcher struct {
	pages    crawler.PageFetcher
	headless crawler.PageFetcher
	detector crawler.HeadlessDetector
	limiter  crawler.RateLimiter
	pauser   crawler.Pauser
	clock    crawler.Clock
	extract  PageExtractor
	policy   *crawler.ExponentialRetryPolicy
	cfg      Config
	logger   *zap.Logger
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithHeadless enables promotion of script-rendered pages to a browser fetch.
func WithHeadless(fetcher crawler.PageFetcher, detector crawler.HeadlessDetector) Option {
	return func(f *Fetcher) {
		f.headless = fetcher
		f.detector = detector
	}
}

// WithRateLimiter spaces fetches per host.
func WithRateLimiter(limiter crawler.RateLimiter) Option {
	return func(f *Fetcher) { f.limiter = limiter }
}

// WithPauser replaces the backoff sleeper.
func WithPauser(p crawler.Pauser) Option {
	return func(f *Fetcher) { f.pauser = p }
}

// WithClock replaces the clock used for extraction timestamps.
func WithClock(c crawler.Clock) Option {
	return func(f *Fetcher) { f.clock = c }
}

// WithPageExtractor replaces the HTML extraction step.
func WithPageExtractor(e PageExtractor) Option {
	return func(f *Fetcher) { f.extract = e }
}

// New builds a Fetcher around a raw page fetcher.
func New(pages crawler.PageFetcher, cfg Config, logger *zap.Logger, opts ...Option) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Fetcher{
		pages:   pages,
		pauser:  crawler.TimerPauser{},
		clock:   system.New(),
		extract: extract.Page,
		policy:  crawler.NewExponentialRetryPolicy(cfg.MaxAttempts, cfg.BaseDelay),
		cfg:     cfg,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch retrieves and extracts one URL. Transient failures are retried with
// exponential backoff up to the attempt cap; parse failures and cancellation
// end the loop immediately.
func (f *Fetcher) Fetch(ctx context.Context, jobID, url string) crawler.FetchResult {
	logger := f.logger.With(zap.String("job_id", jobID), zap.String("url", url))
	for attempt := 1; ; attempt++ {
		metrics.ObserveFetchAttempt(url, attempt > 1)
		result, bytesFetched, err := f.attempt(ctx, jobID, url)
		if err == nil {
			result.Attempts = attempt
			metrics.ObserveFetchResult(url, true, bytesFetched)
			logger.Debug("page harvested", zap.Int("attempts", attempt), zap.Int("words", result.WordCount))
			return result
		}

		f.noteStatus(url, err)
		if !crawler.IsRetryable(err) {
			logger.Warn("fetch failed", zap.Int("attempt", attempt), zap.Error(err))
			return f.failure(url, err, attempt)
		}
		retry, delay := f.policy.Decide(attempt)
		if !retry {
			logger.Warn("fetch retries exhausted", zap.Int("attempts", attempt), zap.Error(err))
			return f.failure(url, fmt.Errorf("request failed after %d attempts: %w", attempt, err), attempt)
		}
		logger.Info("retrying fetch",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", f.policy.MaxAttempts()),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if perr := f.pauser.Pause(ctx, delay); perr != nil {
			return f.failure(url, perr, attempt)
		}
	}
}

func (f *Fetcher) attempt(ctx context.Context, jobID, url string) (crawler.FetchResult, int, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, url); err != nil {
			return crawler.FetchResult{}, 0, err
		}
	}
	req := crawler.PageRequest{
		JobID: jobID,
		URL:   url,
		Headers: http.Header{
			"User-Agent": {f.cfg.UserAgent},
			"Accept":     {"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"},
		},
		Timeout: f.cfg.Timeout,
	}
	page, err := f.pages.Fetch(ctx, req)
	if err != nil {
		return crawler.FetchResult{}, 0, err
	}
	page = f.maybePromote(ctx, req, page)

	result, err := f.extract(url, page.Body, f.clock.Now())
	if err != nil {
		return crawler.FetchResult{}, len(page.Body), err
	}
	return result, len(page.Body), nil
}

// maybePromote re-fetches through the browser when the detector flags the
// page as a script shell. A failed browser fetch keeps the original page.
func (f *Fetcher) maybePromote(ctx context.Context, req crawler.PageRequest, page crawler.Page) crawler.Page {
	if f.headless == nil || f.detector == nil || !f.detector.ShouldPromote(page) {
		return page
	}
	req.UseHeadless = true
	rendered, err := f.headless.Fetch(ctx, req)
	if err != nil {
		f.logger.Warn("headless fetch failed; keeping static page", zap.String("url", req.URL), zap.Error(err))
		return page
	}
	return rendered
}

func (f *Fetcher) noteStatus(url string, err error) {
	var statusErr *crawler.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusTooManyRequests {
		return
	}
	if t, ok := f.limiter.(throttler); ok {
		t.Throttle(url)
	}
}

func (f *Fetcher) failure(url string, err error, attempts int) crawler.FetchResult {
	metrics.ObserveFetchResult(url, false, 0)
	return crawler.FetchResult{
		URL: url,
		Metadata: crawler.Metadata{
			ExtractedAt: f.clock.Now().UTC(),
		},
		Headings: []crawler.Heading{},
		Links:    []crawler.Link{},
		Success:  false,
		Error:    err.Error(),
		Attempts: attempts,
	}
}

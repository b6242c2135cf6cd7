package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-harvester/internal/crawler"
	"github.com/JakeFAU/site-harvester/internal/metrics"
)

// Config bounds a discovery walk.
type Config struct {
	MaxURLs    int
	MaxDepth   int
	UseSitemap bool
	// PageTimeout bounds each discovery page fetch.
	PageTimeout time.Duration
}

// Result is the discovered set in insertion order.
type Result struct {
	BaseURL string
	URLs    []crawler.DiscoveredURL
	Crawled int
	// Canceled is set when the walk stopped because the job was canceled.
	Canceled bool
}

// Ranked returns the URLs sorted by descending priority, ties kept in
// discovery order, truncated to limit when limit > 0.
func (r Result) Ranked(limit int) []crawler.DiscoveredURL {
	ranked := append([]crawler.DiscoveredURL(nil), r.URLs...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Priority > ranked[j].Priority
	})
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// Discoverer runs the breadth-first walk for one site at a time. Each call to
// Discover owns its own frontier and discovered set.
type Discoverer struct {
	fetcher crawler.PageFetcher
	sitemap *SitemapLoader
	robots  crawler.RobotsPolicy
	skip    *crawler.SkipFilter
	cfg     Config
	logger  *zap.Logger
}

// New builds a Discoverer. sitemap and robots may be nil.
func New(
	fetcher crawler.PageFetcher,
	sitemap *SitemapLoader,
	robots crawler.RobotsPolicy,
	skip *crawler.SkipFilter,
	cfg Config,
	logger *zap.Logger,
) *Discoverer {
	if cfg.MaxURLs <= 0 {
		cfg.MaxURLs = 100
	}
	if cfg.MaxDepth < 0 {
		cfg.MaxDepth = 0
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{
		fetcher: fetcher,
		sitemap: sitemap,
		robots:  robots,
		skip:    skip,
		cfg:     cfg,
		logger:  logger,
	}
}

// WithLimits returns a copy whose bounds are tightened to maxURLs and
// maxDepth. Non-positive values, and values above the configured bounds, are
// ignored.
func (d *Discoverer) WithLimits(maxURLs, maxDepth int) *Discoverer {
	cp := *d
	if maxURLs > 0 && maxURLs < cp.cfg.MaxURLs {
		cp.cfg.MaxURLs = maxURLs
	}
	if maxDepth > 0 && maxDepth < cp.cfg.MaxDepth {
		cp.cfg.MaxDepth = maxDepth
	}
	return &cp
}

// walk is the mutable state of one Discover call.
type walk struct {
	frontier   *Frontier
	discovered map[string]int
	result     *Result
}

func (w *walk) full(budget int) bool {
	return len(w.result.URLs) >= budget
}

// add records a new URL unless it is known or the budget is spent. First
// score wins; rediscovery never overwrites.
func (w *walk) add(u string, priority, depth, budget int) bool {
	if _, known := w.discovered[u]; known || w.full(budget) {
		return false
	}
	w.discovered[u] = len(w.result.URLs)
	w.result.URLs = append(w.result.URLs, crawler.DiscoveredURL{URL: u, Priority: priority, Depth: depth})
	return true
}

// Discover walks baseURL breadth-first. Page-level failures yield zero links
// and never abort the walk; cancellation stops it early with a partial result.
func (d *Discoverer) Discover(ctx context.Context, state *crawler.JobState, baseURL string) (Result, error) {
	base, err := crawler.NormalizeURL(baseURL)
	if err != nil {
		return Result{}, fmt.Errorf("normalize base url: %w", err)
	}
	logger := d.logger.With(zap.String("base_url", base))
	if state != nil {
		logger = logger.With(zap.String("job_id", state.ID))
	}

	result := Result{BaseURL: base}
	w := &walk{
		frontier:   NewFrontier(),
		discovered: make(map[string]int),
		result:     &result,
	}
	budget := d.cfg.MaxURLs

	// The seed always ranks first, even when it is not the site root.
	w.add(base, rootScore, 0, budget)
	w.frontier.Push(base, 0)

	if d.cfg.UseSitemap && d.sitemap != nil {
		for _, seed := range d.sitemap.Load(ctx, base) {
			if w.full(budget) {
				break
			}
			if w.add(seed, Score(seed, crawler.ContextSitemap, 1), 1, budget) && d.cfg.MaxDepth >= 1 {
				w.frontier.Push(seed, 1)
			}
		}
	}

	for w.frontier.Len() > 0 && !w.full(budget) {
		if state.Canceled() || ctx.Err() != nil {
			result.Canceled = true
			logger.Info("discovery stopped early", zap.Int("discovered", len(result.URLs)))
			break
		}
		entry, _ := w.frontier.Pop()
		if w.frontier.Visited(entry.URL) || entry.Depth > d.cfg.MaxDepth {
			continue
		}
		w.frontier.MarkVisited(entry.URL)
		result.Crawled++

		links := d.pageLinks(ctx, logger, entry.URL, base)
		childDepth := entry.Depth + 1
		for _, link := range links {
			if w.full(budget) {
				break
			}
			priority := Score(link.URL, link.Context, childDepth)
			if w.add(link.URL, priority, childDepth, budget) && childDepth <= d.cfg.MaxDepth {
				w.frontier.Push(link.URL, childDepth)
			}
		}
	}

	metrics.ObserveDiscovery(base, len(result.URLs), result.Crawled)
	logger.Info("discovery complete",
		zap.Int("discovered", len(result.URLs)),
		zap.Int("crawled", result.Crawled),
	)
	return result, nil
}

// pageLinks fetches one page and returns its classified links. Any failure is
// logged and yields no links.
func (d *Discoverer) pageLinks(ctx context.Context, logger *zap.Logger, pageURL, base string) []ClassifiedLink {
	if d.robots != nil && !d.robots.Allowed(ctx, pageURL) {
		logger.Debug("robots disallows page", zap.String("url", pageURL))
		return nil
	}
	page, err := d.fetcher.Fetch(ctx, crawler.PageRequest{URL: pageURL, Timeout: d.cfg.PageTimeout})
	if err != nil {
		logger.Warn("discovery fetch failed", zap.String("url", pageURL), zap.Error(err))
		return nil
	}
	if ct := page.Headers.Get("Content-Type"); ct != "" && !strings.Contains(strings.ToLower(ct), "html") {
		logger.Debug("skipping non-html page", zap.String("url", pageURL), zap.String("content_type", ct))
		return nil
	}
	links, err := ExtractLinks(pageURL, base, page.Body, d.skip)
	if err != nil {
		level := zap.WarnLevel
		if errors.Is(err, crawler.ErrParse) {
			level = zap.DebugLevel
		}
		logger.Log(level, "link extraction failed", zap.String("url", pageURL), zap.Error(err))
		return nil
	}
	return links
}

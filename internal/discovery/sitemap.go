package discovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-harvester/internal/crawler"
)

const (
	defaultSitemapTimeout = 10 * time.Second
	maxChildSitemaps      = 5
	maxSitemapNesting     = 2

	indexLocXPath  = "//*[local-name()='sitemap']/*[local-name()='loc']"
	urlsetLocXPath = "//*[local-name()='url']/*[local-name()='loc']"
	rootXPath      = "/*[local-name()='urlset' or local-name()='sitemapindex']"
)

var errNotSitemap = errors.New("document is not a sitemap")

// SitemapLoader seeds discovery from well-known sitemap locations. It is best
// effort: every candidate gets a single attempt and failures are never fatal.
type SitemapLoader struct {
	fetcher crawler.PageFetcher
	skip    *crawler.SkipFilter
	timeout time.Duration
	logger  *zap.Logger
}

// NewSitemapLoader builds a loader that fetches through fetcher.
func NewSitemapLoader(fetcher crawler.PageFetcher, skip *crawler.SkipFilter, timeout time.Duration, logger *zap.Logger) *SitemapLoader {
	if timeout <= 0 {
		timeout = defaultSitemapTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SitemapLoader{
		fetcher: fetcher,
		skip:    skip,
		timeout: timeout,
		logger:  logger,
	}
}

// Load returns canonical same-host URLs from the first candidate sitemap that
// responds 200 and parses. It returns nil when no candidate works.
func (l *SitemapLoader) Load(ctx context.Context, baseURL string) []string {
	if l == nil || l.fetcher == nil {
		return nil
	}
	for _, candidate := range sitemapCandidates(baseURL) {
		locs, err := l.loadDocument(ctx, candidate, baseURL, 0)
		if err != nil {
			l.logger.Debug("sitemap candidate failed", zap.String("url", candidate), zap.Error(err))
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		l.logger.Info("sitemap loaded", zap.String("url", candidate), zap.Int("urls", len(locs)))
		return locs
	}
	l.logger.Info("no sitemap found", zap.String("base_url", baseURL))
	return nil
}

func (l *SitemapLoader) loadDocument(ctx context.Context, sitemapURL, baseURL string, nesting int) ([]string, error) {
	doc, err := l.fetchDocument(ctx, sitemapURL)
	if err != nil {
		return nil, err
	}

	if children := xmlquery.Find(doc, indexLocXPath); len(children) > 0 {
		if len(children) > maxChildSitemaps {
			children = children[:maxChildSitemaps]
		}
		var locs []string
		for _, child := range children {
			childURL := strings.TrimSpace(child.InnerText())
			if childURL == "" || nesting >= maxSitemapNesting {
				continue
			}
			childLocs, err := l.loadDocument(ctx, childURL, baseURL, nesting+1)
			if err != nil {
				l.logger.Debug("child sitemap failed", zap.String("url", childURL), zap.Error(err))
				continue
			}
			locs = append(locs, childLocs...)
		}
		return locs, nil
	}

	var locs []string
	seen := make(map[string]struct{})
	for _, node := range xmlquery.Find(doc, urlsetLocXPath) {
		canonical, err := crawler.NormalizeURL(node.InnerText())
		if err != nil {
			continue
		}
		if !crawler.SameHost(canonical, baseURL) || l.skip.ShouldSkip(canonical) {
			continue
		}
		if _, dup := seen[canonical]; dup {
			continue
		}
		seen[canonical] = struct{}{}
		locs = append(locs, canonical)
	}
	return locs, nil
}

func (l *SitemapLoader) fetchDocument(ctx context.Context, sitemapURL string) (*xmlquery.Node, error) {
	page, err := l.fetcher.Fetch(ctx, crawler.PageRequest{URL: sitemapURL, Timeout: l.timeout})
	if err != nil {
		return nil, fmt.Errorf("fetch sitemap: %w", err)
	}
	if page.StatusCode != 200 {
		return nil, &crawler.StatusError{StatusCode: page.StatusCode}
	}
	doc, err := xmlquery.Parse(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("parse sitemap: %w: %w", crawler.ErrParse, err)
	}
	if xmlquery.FindOne(doc, rootXPath) == nil {
		return nil, errNotSitemap
	}
	return doc, nil
}

// sitemapCandidates lists the well-known sitemap URLs for a base URL in the
// order they are tried, without duplicates.
func sitemapCandidates(baseURL string) []string {
	trimmed := strings.TrimRight(baseURL, "/")
	out := []string{
		trimmed + "/sitemap.xml",
		trimmed + "/sitemap_index.xml",
	}
	if u, err := url.Parse(baseURL); err == nil && u.Host != "" {
		out = append(out,
			"https://"+u.Host+"/sitemap.xml",
			"https://"+u.Host+"/sitemap_index.xml",
		)
	}
	seen := make(map[string]struct{}, len(out))
	deduped := out[:0]
	for _, c := range out {
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		deduped = append(deduped, c)
	}
	return deduped
}

package discovery

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/site-harvester/internal/crawler"
)

// ClassifiedLink is a canonical same-host link and where it was first found.
type ClassifiedLink struct {
	URL     string
	Context crawler.LinkContext
}

var ignoredHrefPrefixes = []string{"#", "javascript:", "mailto:", "tel:"}

// linkExtractor classifies the anchors of one page.
type linkExtractor struct {
	page     *url.URL
	baseURL  string
	homepage bool
	skip     *crawler.SkipFilter

	seen  map[string]struct{}
	links []ClassifiedLink
}

// ExtractLinks returns the same-host links of an HTML page in document order.
// Links under nav or header elements are classified first, then footer links,
// then every remaining anchor as homepage (when the page is the base URL) or
// body. A URL keeps the first classification it receives.
func ExtractLinks(pageURL, baseURL string, body []byte, skip *crawler.SkipFilter) ([]ClassifiedLink, error) {
	page, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w: %w", crawler.ErrParse, err)
	}

	canonicalPage, err := crawler.NormalizeURL(pageURL)
	if err != nil {
		return nil, err
	}
	x := &linkExtractor{
		page:     page,
		baseURL:  baseURL,
		homepage: canonicalPage == baseURL,
		skip:     skip,
		seen:     make(map[string]struct{}),
	}

	x.collect(doc.Find("nav a[href], header a[href]"), crawler.ContextNav)
	x.collect(doc.Find("footer a[href]"), crawler.ContextFooter)
	rest := crawler.ContextBody
	if x.homepage {
		rest = crawler.ContextHomepage
	}
	x.collect(doc.Find("a[href]"), rest)
	return x.links, nil
}

func (x *linkExtractor) collect(sel *goquery.Selection, linkCtx crawler.LinkContext) {
	sel.Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok {
			return
		}
		canonical, ok := x.resolve(href)
		if !ok {
			return
		}
		if _, dup := x.seen[canonical]; dup {
			return
		}
		x.seen[canonical] = struct{}{}
		x.links = append(x.links, ClassifiedLink{URL: canonical, Context: linkCtx})
	})
}

func (x *linkExtractor) resolve(href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", false
	}
	lower := strings.ToLower(href)
	for _, prefix := range ignoredHrefPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return "", false
		}
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := x.page.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	canonical, err := crawler.NormalizeURL(abs.String())
	if err != nil {
		return "", false
	}
	if !crawler.SameHost(canonical, x.baseURL) {
		return "", false
	}
	if x.skip.ShouldSkip(canonical) {
		return "", false
	}
	return canonical, true
}

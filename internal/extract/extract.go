// Package extract turns a fetched HTML page into the cleaned content record
// that the pipeline persists and feeds to structured extraction.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/site-harvester/internal/crawler"
)

const (
	maxLinks  = 20
	maxPhones = 5
)

const (
	strippedElements = "script, style, nav, footer, header, aside, iframe, noscript, svg"
	headingSelector  = "h1, h2, h3, h4, h5, h6"
)

var (
	contentClass = regexp.MustCompile(`(?i)content|main`)
	emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Z|a-z]{2,}\b`)
	phonePattern = regexp.MustCompile(`(\+?\d{1,3}[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}`)
	whitespace   = regexp.MustCompile(`\s+`)
)

// socialDomains are matched against the link host, including subdomains.
var socialDomains = []string{
	"linkedin.com",
	"twitter.com",
	"x.com",
	"facebook.com",
	"instagram.com",
	"youtube.com",
	"github.com",
}

// Page parses body and returns a successful FetchResult for pageURL. Parse
// failures wrap crawler.ErrParse.
func Page(pageURL string, body []byte, extractedAt time.Time) (crawler.FetchResult, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return crawler.FetchResult{}, fmt.Errorf("parse html: %w: %w", crawler.ErrParse, err)
	}

	doc.Find(strippedElements).Remove()
	removeComments(doc.Selection)

	region := mainRegion(doc)
	content := strings.Join(textLines(region), "\n")

	return crawler.FetchResult{
		URL:      pageURL,
		Metadata: metadata(doc, extractedAt),
		Content:  content,
		Headings: headings(region),
		Links:    links(region),
		ContactInfo: crawler.ContactInfo{
			Emails:      unique(emailPattern.FindAllString(content, -1), 0),
			Phones:      phones(content),
			SocialLinks: socialLinks(doc),
		},
		WordCount: len(strings.Fields(content)),
		Success:   true,
	}, nil
}

func metadata(doc *goquery.Document, extractedAt time.Time) crawler.Metadata {
	return crawler.Metadata{
		Title:       clean(doc.Find("title").First().Text()),
		Description: clean(metaContent(doc, "description")),
		Keywords:    clean(metaContent(doc, "keywords")),
		ExtractedAt: extractedAt.UTC(),
	}
}

func metaContent(doc *goquery.Document, name string) string {
	var content string
	doc.Find("meta[name]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if !strings.EqualFold(s.AttrOr("name", ""), name) {
			return true
		}
		content = s.AttrOr("content", "")
		return false
	})
	return content
}

// mainRegion prefers main, then article, then a content-labelled div, then body.
func mainRegion(doc *goquery.Document) *goquery.Selection {
	if sel := doc.Find("main").First(); sel.Length() > 0 {
		return sel
	}
	if sel := doc.Find("article").First(); sel.Length() > 0 {
		return sel
	}
	div := doc.Find("div[class]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return contentClass.MatchString(s.AttrOr("class", ""))
	}).First()
	if div.Length() > 0 {
		return div
	}
	if sel := doc.Find("body").First(); sel.Length() > 0 {
		return sel
	}
	return doc.Selection
}

func removeComments(sel *goquery.Selection) {
	sel.Contents().Each(func(_ int, child *goquery.Selection) {
		if goquery.NodeName(child) == "#comment" {
			child.Remove()
			return
		}
		removeComments(child)
	})
}

// textLines walks the text nodes under sel and returns trimmed non-blank lines
// with consecutive duplicates dropped.
func textLines(sel *goquery.Selection) []string {
	var lines []string
	var walk func(*goquery.Selection)
	walk = func(s *goquery.Selection) {
		s.Contents().Each(func(_ int, child *goquery.Selection) {
			if goquery.NodeName(child) != "#text" {
				walk(child)
				return
			}
			for _, line := range strings.Split(child.Text(), "\n") {
				line = strings.TrimSpace(line)
				if line == "" || (len(lines) > 0 && lines[len(lines)-1] == line) {
					continue
				}
				lines = append(lines, line)
			}
		})
	}
	walk(sel)
	return lines
}

func headings(sel *goquery.Selection) []crawler.Heading {
	out := []crawler.Heading{}
	sel.Find(headingSelector).Each(func(_ int, h *goquery.Selection) {
		out = append(out, crawler.Heading{Level: goquery.NodeName(h), Text: clean(h.Text())})
	})
	return out
}

func links(sel *goquery.Selection) []crawler.Link {
	out := []crawler.Link{}
	sel.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		text := clean(a.Text())
		if text == "" {
			return true
		}
		out = append(out, crawler.Link{Text: text, Href: a.AttrOr("href", "")})
		return len(out) < maxLinks
	})
	return out
}

func phones(content string) []string {
	matches := phonePattern.FindAllString(content, -1)
	for i, m := range matches {
		matches[i] = clean(m)
	}
	return unique(matches, maxPhones)
}

func socialLinks(doc *goquery.Document) []string {
	var hrefs []string
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if isSocial(href) {
			hrefs = append(hrefs, href)
		}
	})
	return unique(hrefs, 0)
}

func isSocial(href string) bool {
	u, err := url.Parse(href)
	if err != nil {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	for _, domain := range socialDomains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

// unique dedups values preserving first-seen order; limit <= 0 means no limit.
func unique(values []string, limit int) []string {
	out := []string{}
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func clean(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// Package detector decides when a plain fetch should be retried in a headless
// browser.
package detector

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/site-harvester/internal/crawler"
)

const defaultMinWords = 50

// Heuristic promotes pages that look like client-rendered shells: little
// visible text plus a framework mount point, heavy inline scripting, or a
// noscript warning.
type Heuristic struct {
	// MinWords is the visible word count below which a page is suspect.
	MinWords int
}

// NewHeuristic creates a detector. A non-positive minWords uses the default.
func NewHeuristic(minWords int) *Heuristic {
	if minWords <= 0 {
		minWords = defaultMinWords
	}
	return &Heuristic{MinWords: minWords}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("__nuxt"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
}

// ShouldPromote implements crawler.HeadlessDetector.
func (h *Heuristic) ShouldPromote(page crawler.Page) bool {
	if page.StatusCode != 200 || page.UsedHeadless {
		return false
	}
	if ct := page.Headers.Get("Content-Type"); ct != "" && !strings.Contains(strings.ToLower(ct), "html") {
		return false
	}
	if len(bytes.TrimSpace(page.Body)) == 0 {
		return true
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return false
	}
	noscript := strings.ToLower(doc.Find("noscript").Text())
	doc.Find("script, style, noscript, template").Remove()
	if len(strings.Fields(doc.Find("body").Text())) >= h.MinWords {
		return false
	}

	if strings.Contains(noscript, "enable javascript") {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(page.Body, marker) {
			return true
		}
	}
	return scriptShare(page.Body) >= 25
}

// scriptShare returns the percentage of the document occupied by script
// elements. An unterminated script counts through the end of the document.
func scriptShare(body []byte) int {
	lower := bytes.ToLower(body)
	total := len(lower)
	if total == 0 {
		return 0
	}
	openTag := []byte("<script")
	closeTag := []byte("</script>")

	covered := 0
	for pos := 0; pos < total; {
		rel := bytes.Index(lower[pos:], openTag)
		if rel < 0 {
			break
		}
		start := pos + rel
		end := total
		if relEnd := bytes.Index(lower[start:], closeTag); relEnd >= 0 {
			end = start + relEnd + len(closeTag)
		}
		covered += end - start
		pos = end
	}
	return covered * 100 / total
}

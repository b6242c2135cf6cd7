package discovery

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/JakeFAU/site-harvester/internal/crawler"
)

// fakeFetcher serves canned pages keyed by URL and records every request.
type fakeFetcher struct {
	mu       sync.Mutex
	pages    map[string]string
	statuses map[string]int
	requests []string
}

func newFakeFetcher(pages map[string]string) *fakeFetcher {
	return &fakeFetcher{pages: pages, statuses: map[string]int{}}
}

func (f *fakeFetcher) Fetch(_ context.Context, req crawler.PageRequest) (crawler.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req.URL)
	if status, ok := f.statuses[req.URL]; ok {
		return crawler.Page{URL: req.URL, StatusCode: status}, &crawler.StatusError{StatusCode: status}
	}
	body, ok := f.pages[req.URL]
	if !ok {
		return crawler.Page{}, errors.New("connection refused")
	}
	return crawler.Page{
		URL:        req.URL,
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": {"text/html; charset=utf-8"}},
		Body:       []byte(body),
	}, nil
}

func (f *fakeFetcher) Requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

func (f *fakeFetcher) count(url string) int {
	n := 0
	for _, r := range f.Requests() {
		if r == url {
			n++
		}
	}
	return n
}

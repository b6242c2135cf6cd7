package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-harvester/internal/crawler"
)

type fakeEndpoint struct {
	mu       sync.Mutex
	requests []chatRequest
	auth     []string
	hits     atomic.Int32
	reply    func(req chatRequest) (int, string)
}

func (f *fakeEndpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.hits.Add(1)
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.auth = append(f.auth, r.Header.Get("Authorization"))
	f.mu.Unlock()

	status, content := f.reply(req)
	if status != http.StatusOK {
		http.Error(w, content, status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": content}}},
		"usage":   map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	})
}

func (f *fakeEndpoint) Auth() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.auth...)
}

func (f *fakeEndpoint) Requests() []chatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chatRequest(nil), f.requests...)
}

func newTestClient(t *testing.T, f *fakeEndpoint, threshold uint) *Client {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	client, err := NewClient(Config{
		APIURL:                  srv.URL + "/",
		APIKey:                  "secret",
		Model:                   "test-model",
		Timeout:                 5 * time.Second,
		BreakerFailureThreshold: threshold,
		BreakerDelay:            time.Minute,
	}, nil)
	require.NoError(t, err)
	return client
}

type captureLog struct {
	mu      sync.Mutex
	entries []RequestLogEntry
}

func (c *captureLog) Record(_ context.Context, entry RequestLogEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
}

func TestNewClientRequiresModel(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{}, nil)
	require.Error(t, err)
}

func TestExtractReplacesSnapshot(t *testing.T) {
	t.Parallel()

	next := crawler.NewSnapshot()
	next.CompanyName = "Acme Corp"
	next.Persons = append(next.Persons, crawler.Person{Name: "Jane Roe", Role: "CEO"})
	body, err := json.Marshal(next)
	require.NoError(t, err)

	f := &fakeEndpoint{reply: func(chatRequest) (int, string) { return http.StatusOK, string(body) }}
	log := &captureLog{}
	extractor := NewExtractor(newTestClient(t, f, 5), log, 0)

	current := crawler.NewSnapshot()
	current.Email = "info@acme.test"
	got, err := extractor.Extract(context.Background(), current, "About Acme\nJane Roe, CEO")
	require.NoError(t, err)
	require.Equal(t, next, got)

	reqs := f.Requests()
	require.Len(t, reqs, 1)
	require.Equal(t, "test-model", reqs[0].Model)
	require.Len(t, reqs[0].Messages, 2)
	require.Contains(t, reqs[0].Messages[1].Content, "info@acme.test")
	require.Contains(t, reqs[0].Messages[1].Content, "Jane Roe, CEO")
	format, ok := reqs[0].ResponseFormat.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "json_schema", format["type"])
	require.Equal(t, []string{"Bearer secret"}, f.Auth())

	require.Len(t, log.entries, 1)
	require.Equal(t, "extract", log.entries[0].Purpose)
	require.Equal(t, "About Acme", log.entries[0].Subject)
	require.Equal(t, 15, log.entries[0].Usage.TotalTokens)
}

func TestExtractErrorKeepsSnapshot(t *testing.T) {
	t.Parallel()

	f := &fakeEndpoint{reply: func(chatRequest) (int, string) { return http.StatusOK, "not json" }}
	log := &captureLog{}
	extractor := NewExtractor(newTestClient(t, f, 5), log, 0)

	current := crawler.NewSnapshot()
	current.CompanyName = "Acme"
	got, err := extractor.Extract(context.Background(), current, "text")
	require.ErrorIs(t, err, crawler.ErrParse)
	require.Equal(t, current, got)
	require.Len(t, log.entries, 1)
}

func TestExtractSkipsBlankText(t *testing.T) {
	t.Parallel()

	f := &fakeEndpoint{reply: func(chatRequest) (int, string) { return http.StatusOK, "{}" }}
	extractor := NewExtractor(newTestClient(t, f, 5), nil, 0)
	current := crawler.NewSnapshot()
	got, err := extractor.Extract(context.Background(), current, "  \n ")
	require.NoError(t, err)
	require.Equal(t, current, got)
	require.Zero(t, f.hits.Load())
}

func TestExtractTruncatesText(t *testing.T) {
	t.Parallel()

	f := &fakeEndpoint{reply: func(chatRequest) (int, string) { return http.StatusOK, "{}" }}
	extractor := NewExtractor(newTestClient(t, f, 5), nil, 5)
	_, err := extractor.Extract(context.Background(), crawler.NewSnapshot(), "abcdefghij")
	require.NoError(t, err)
	prompt := f.Requests()[0].Messages[1].Content
	require.Contains(t, prompt, "abcde")
	require.NotContains(t, prompt, "abcdef")
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	t.Parallel()

	f := &fakeEndpoint{reply: func(chatRequest) (int, string) { return http.StatusInternalServerError, "boom" }}
	client := newTestClient(t, f, 2)
	extractor := NewExtractor(client, nil, 0)
	current := crawler.NewSnapshot()

	for i := 0; i < 2; i++ {
		_, err := extractor.Extract(context.Background(), current, fmt.Sprintf("page %d", i))
		require.ErrorContains(t, err, "unexpected status")
		require.False(t, IsUnavailable(err))
	}
	require.True(t, client.BreakerOpen())

	got, err := extractor.Extract(context.Background(), current, "page 3")
	require.True(t, IsUnavailable(err))
	require.Equal(t, current, got)
	require.Equal(t, int32(2), f.hits.Load())
}

func TestLabel(t *testing.T) {
	t.Parallel()

	answers := map[string]string{
		"https://example.com/contact": "True",
		"https://example.com/blog/x":  "False.",
		"https://example.com/odd":     "maybe",
	}
	f := &fakeEndpoint{reply: func(req chatRequest) (int, string) {
		for url, answer := range answers {
			if containsURL(req.Messages[1].Content, url) {
				return http.StatusOK, answer
			}
		}
		return http.StatusBadRequest, "unknown url"
	}}
	log := &captureLog{}
	labeler := NewLabeler(newTestClient(t, f, 5), log)

	useful, err := labeler.Label(context.Background(), "https://example.com/contact")
	require.NoError(t, err)
	require.True(t, useful)

	useful, err = labeler.Label(context.Background(), "https://example.com/blog/x")
	require.NoError(t, err)
	require.False(t, useful)

	useful, err = labeler.Label(context.Background(), "https://example.com/odd")
	require.NoError(t, err)
	require.True(t, useful)

	useful, err = labeler.Label(context.Background(), "https://example.com/unknown")
	require.Error(t, err)
	require.True(t, useful)

	require.Len(t, log.entries, 4)
	require.Equal(t, "label", log.entries[0].Purpose)
	require.Equal(t, 10, f.Requests()[0].MaxTokens)
}

func containsURL(prompt, url string) bool {
	return len(prompt) >= len(url) && prompt[len(prompt)-len(url):] == url
}

func TestStaticCollaborators(t *testing.T) {
	t.Parallel()

	useful, err := StaticLabeler{}.Label(context.Background(), "https://example.com/x")
	require.NoError(t, err)
	require.True(t, useful)

	snap := crawler.NewSnapshot()
	snap.CompanyName = "Acme"
	got, err := PassthroughExtractor{}.Extract(context.Background(), snap, "anything")
	require.NoError(t, err)
	require.Equal(t, snap, got)
}

type fakeAppender struct {
	rel   string
	lines []any
	err   error
}

func (f *fakeAppender) AppendJSONL(_ context.Context, rel string, v any) error {
	f.rel = rel
	f.lines = append(f.lines, v)
	return f.err
}

func TestJSONLLog(t *testing.T) {
	t.Parallel()

	out := &fakeAppender{}
	log := NewJSONLLog(out, "logs/ai_requests.jsonl", nil)
	log.Record(context.Background(), RequestLogEntry{Purpose: "label"})
	require.Equal(t, "logs/ai_requests.jsonl", out.rel)
	require.Len(t, out.lines, 1)

	out.err = fmt.Errorf("disk full")
	log.Record(context.Background(), RequestLogEntry{Purpose: "label"})
	require.Len(t, out.lines, 2)
}

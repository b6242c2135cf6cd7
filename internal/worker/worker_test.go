package worker

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-harvester/internal/ai"
	"github.com/JakeFAU/site-harvester/internal/crawler"
	"github.com/JakeFAU/site-harvester/internal/discovery"
	"github.com/JakeFAU/site-harvester/internal/project"
	"github.com/JakeFAU/site-harvester/internal/queue/memory"
	storemem "github.com/JakeFAU/site-harvester/internal/storage/memory"
)

const homepage = `<html><body>
<a href="/about">About</a>
<a href="/contact">Contact</a>
<a href="/blog/launch">Launch</a>
</body></html>`

type sitePages struct {
	pages map[string]string
}

func (s sitePages) Fetch(_ context.Context, req crawler.PageRequest) (crawler.Page, error) {
	body, ok := s.pages[req.URL]
	if !ok {
		return crawler.Page{}, errors.New("connection refused")
	}
	return crawler.Page{
		URL:        req.URL,
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": {"text/html"}},
		Body:       []byte(body),
	}, nil
}

type contentFetcher struct {
	mu    sync.Mutex
	calls []string
	fail  bool
}

func (f *contentFetcher) Fetch(_ context.Context, _ string, url string) crawler.FetchResult {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	f.mu.Unlock()
	if f.fail {
		return crawler.FetchResult{URL: url, Error: "status 503", Attempts: 5}
	}
	return crawler.FetchResult{URL: url, Content: "text of " + url, WordCount: 3, Success: true, Attempts: 1}
}

func (f *contentFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type scriptedLabeler struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (l *scriptedLabeler) Label(_ context.Context, url string) (bool, error) {
	l.mu.Lock()
	l.calls++
	l.mu.Unlock()
	if l.err != nil {
		return true, l.err
	}
	return !strings.Contains(url, "/blog/"), nil
}

func scriptedAI(labeler crawler.Labeler) AIFactory {
	return func(*project.Layout) (crawler.Labeler, crawler.Extractor) {
		return labeler, ai.PassthroughExtractor{}
	}
}

type fixture struct {
	store    *storemem.ArtifactStore
	jobs     *storemem.JobStore
	fetcher  *contentFetcher
	labeler  *scriptedLabeler
	worker   *Worker
	queue    *memory.Queue[crawler.QueueItem]
	finished chan string
}

func newFixture(t *testing.T, discoverer *discovery.Discoverer) *fixture {
	t.Helper()
	f := &fixture{
		store:    storemem.NewArtifactStore(),
		jobs:     storemem.NewJobStore(),
		fetcher:  &contentFetcher{},
		labeler:  &scriptedLabeler{},
		queue:    memory.NewQueue[crawler.QueueItem](4),
		finished: make(chan string, 4),
	}
	f.worker = New(f.queue, f.jobs, f.store, discoverer, f.fetcher, Config{}, zap.NewNop(),
		WithAI(scriptedAI(f.labeler)),
		WithRecorder(f.jobs),
	)
	f.worker.OnFinish(func(id string) { f.finished <- id })
	return f
}

func newDiscoverer() *discovery.Discoverer {
	pages := sitePages{pages: map[string]string{"https://example.com/": homepage}}
	return discovery.New(pages, nil, nil, crawler.NewSkipFilter(), discovery.Config{MaxURLs: 10, MaxDepth: 1}, nil)
}

func (f *fixture) createJob(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, f.jobs.CreateJob(context.Background(), crawler.Job{
		ID:         id,
		Status:     crawler.JobStatusQueued,
		Submitted:  time.Now(),
		Parameters: crawler.JobParameters{BaseURL: "https://example.com"},
	}))
}

func TestProcessHarvestsUsefulURLs(t *testing.T) {
	t.Parallel()

	f := newFixture(t, newDiscoverer())
	f.createJob(t, "job-1")

	summary := f.worker.Process(context.Background(), crawler.QueueItem{JobID: "job-1", BaseURL: "https://example.com"})
	require.Equal(t, crawler.JobStatusSucceeded, summary.Status)
	require.Equal(t, 4, summary.Counters.URLsDiscovered)
	require.Equal(t, 3, summary.Counters.URLsUseful)
	require.Equal(t, 3, summary.Counters.PagesSucceeded)
	require.Equal(t, 3, summary.Counters.UnitsExtracted)
	require.NotContains(t, f.fetcher.Calls(), "https://example.com/blog/launch")

	layout := project.New(f.store, "example_com")
	rows, err := layout.LoadURLs(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 4)
	require.Equal(t, "https://example.com/", rows[0].URL)
	for _, row := range rows {
		require.NotNil(t, row.Useful, row.URL)
	}

	saved, err := layout.LoadSummary(context.Background())
	require.NoError(t, err)
	require.Equal(t, summary.Status, saved.Status)
	require.Equal(t, "job-1", saved.JobID)

	job, err := f.jobs.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusSucceeded, job.Status)
	require.NotNil(t, job.Started)
	require.NotNil(t, job.Finished)
	require.Len(t, f.jobs.Fetches("job-1"), 3)
	require.Equal(t, "job-1", <-f.finished)
}

func TestProcessResumesLabeledList(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	layout := project.New(f.store, "example_com")
	yes, no := true, false
	require.NoError(t, layout.SaveURLs(context.Background(), []crawler.LabeledURL{
		{DiscoveredURL: crawler.DiscoveredURL{URL: "https://example.com/", Priority: 100}, Useful: &yes},
		{DiscoveredURL: crawler.DiscoveredURL{URL: "https://example.com/jobs", Priority: 70}, Useful: &no},
		{DiscoveredURL: crawler.DiscoveredURL{URL: "https://example.com/team", Priority: 60}},
	}))

	summary := f.worker.Process(context.Background(), crawler.QueueItem{BaseURL: "https://example.com"})
	require.Equal(t, crawler.JobStatusSucceeded, summary.Status)
	require.Equal(t, 1, f.labeler.calls)
	require.Equal(t, []string{"https://example.com/", "https://example.com/team"}, f.fetcher.Calls())
}

func TestProcessLabelErrorKeepsURL(t *testing.T) {
	t.Parallel()

	f := newFixture(t, newDiscoverer())
	f.labeler.err = errors.New("breaker open")

	summary := f.worker.Process(context.Background(), crawler.QueueItem{BaseURL: "https://example.com"})
	require.Equal(t, crawler.JobStatusSucceeded, summary.Status)
	require.Equal(t, 4, summary.Counters.URLsUseful)
	require.Contains(t, f.fetcher.Calls(), "https://example.com/blog/launch")
}

func TestProcessSkipHarvest(t *testing.T) {
	t.Parallel()

	f := newFixture(t, newDiscoverer())
	summary := f.worker.Process(context.Background(), crawler.QueueItem{
		BaseURL: "https://example.com",
		Params:  crawler.JobParameters{SkipHarvest: true, MaxURLs: 2},
	})
	require.Equal(t, crawler.JobStatusSucceeded, summary.Status)
	require.Equal(t, 2, summary.Counters.URLsDiscovered)
	require.Empty(t, f.fetcher.Calls())
}

func TestProcessNoPagesFetched(t *testing.T) {
	t.Parallel()

	f := newFixture(t, newDiscoverer())
	f.fetcher.fail = true
	f.createJob(t, "job-2")

	summary := f.worker.Process(context.Background(), crawler.QueueItem{JobID: "job-2", BaseURL: "https://example.com"})
	require.Equal(t, crawler.JobStatusFailed, summary.Status)
	require.Equal(t, "no pages were fetched", summary.ErrorText)
	require.Equal(t, 3, summary.Counters.PagesFailed)

	failures, err := project.New(f.store, "example_com").LoadFailures(context.Background())
	require.NoError(t, err)
	require.Len(t, failures, 3)

	job, err := f.jobs.GetJob(context.Background(), "job-2")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusFailed, job.Status)
}

func TestProcessCanceledJob(t *testing.T) {
	t.Parallel()

	f := newFixture(t, newDiscoverer())
	state := crawler.NewJobState("job-3")
	state.Cancel()
	f.createJob(t, "job-3")

	summary := f.worker.Process(context.Background(), crawler.QueueItem{
		JobID:   "job-3",
		BaseURL: "https://example.com",
		State:   state,
	})
	require.Equal(t, crawler.JobStatusCanceled, summary.Status)
	require.Empty(t, f.fetcher.Calls())
	require.Zero(t, f.labeler.calls)

	job, err := f.jobs.GetJob(context.Background(), "job-3")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCanceled, job.Status)
}

func TestProcessWithoutDiscovererFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	summary := f.worker.Process(context.Background(), crawler.QueueItem{BaseURL: "https://example.com"})
	require.Equal(t, crawler.JobStatusFailed, summary.Status)
	require.Contains(t, summary.ErrorText, "no discoverer configured")
}

func TestRunConsumesQueue(t *testing.T) {
	t.Parallel()

	f := newFixture(t, newDiscoverer())
	f.createJob(t, "job-4")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		f.worker.Run(ctx)
		close(done)
	}()
	require.NoError(t, f.queue.Enqueue(ctx, crawler.QueueItem{JobID: "job-4", BaseURL: "https://example.com"}))

	select {
	case id := <-f.finished:
		require.Equal(t, "job-4", id)
	case <-time.After(5 * time.Second):
		t.Fatal("job did not finish")
	}
	f.queue.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after queue close")
	}
}

func TestDeriveFinalStatus(t *testing.T) {
	t.Parallel()

	canceled := crawler.NewJobState("c")
	canceled.Cancel()
	tests := []struct {
		name     string
		state    *crawler.JobState
		counters crawler.JobCounters
		params   crawler.JobParameters
		err      error
		want     crawler.JobStatus
		wantText string
	}{
		{name: "canceled wins", state: canceled, err: errors.New("x"), want: crawler.JobStatusCanceled},
		{name: "run error", state: crawler.NewJobState("a"), err: errors.New("discover: boom"), want: crawler.JobStatusFailed, wantText: "discover: boom"},
		{name: "discover only", state: crawler.NewJobState("b"), params: crawler.JobParameters{SkipHarvest: true}, want: crawler.JobStatusSucceeded},
		{name: "nothing useful", state: crawler.NewJobState("d"), want: crawler.JobStatusSucceeded},
		{
			name:     "nothing fetched",
			state:    crawler.NewJobState("e"),
			counters: crawler.JobCounters{URLsUseful: 2, PagesFailed: 2},
			want:     crawler.JobStatusFailed,
			wantText: "no pages were fetched",
		},
		{
			name:     "partial success",
			state:    crawler.NewJobState("f"),
			counters: crawler.JobCounters{URLsUseful: 2, PagesSucceeded: 1, PagesFailed: 1},
			want:     crawler.JobStatusSucceeded,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			status, text := deriveFinalStatus(context.Background(), tt.state, tt.counters, tt.params, tt.err)
			require.Equal(t, tt.want, status)
			require.Equal(t, tt.wantText, text)
		})
	}
}

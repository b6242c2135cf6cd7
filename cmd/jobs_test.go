package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-harvester/internal/config"
	"github.com/JakeFAU/site-harvester/internal/crawler"
)

type fakeRuntime struct {
	mu        sync.Mutex
	started   bool
	submitted []crawler.JobParameters
	canceled  []string
	closed    bool
	served    bool
	status    map[string]crawler.JobStatus
	submitErr error
}

func (f *fakeRuntime) Start(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
}

func (f *fakeRuntime) Submit(_ context.Context, params crawler.JobParameters) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = append(f.submitted, params)
	return fmt.Sprintf("job-%d", len(f.submitted)), nil
}

func (f *fakeRuntime) Cancel(ids []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, ids...)
}

func (f *fakeRuntime) Wait(context.Context) error { return nil }

func (f *fakeRuntime) Job(_ context.Context, id string) (crawler.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status := crawler.JobStatusSucceeded
	if s, ok := f.status[id]; ok {
		status = s
	}
	return crawler.Job{ID: id, Status: status}, nil
}

func (f *fakeRuntime) Run(context.Context) error {
	f.served = true
	return nil
}

func (f *fakeRuntime) Close(context.Context) error {
	f.closed = true
	return nil
}

func execute(t *testing.T, rt *fakeRuntime, stdin string, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  development: false\ncrawler:\n  max_urls: 40\n"), 0o600))

	root := newRootCmd(func(context.Context, config.Config, *zap.Logger) (Runtime, error) {
		return rt, nil
	})
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--config", path}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestDiscoverSkipsHarvest(t *testing.T) {
	t.Parallel()

	rt := &fakeRuntime{}
	out, err := execute(t, rt, "", "discover", "https://example.com", "--max-depth", "1")
	require.NoError(t, err)

	require.True(t, rt.started)
	require.True(t, rt.closed)
	require.Len(t, rt.submitted, 1)
	require.Equal(t, crawler.JobParameters{
		BaseURL: "https://example.com", MaxURLs: 40, MaxDepth: 1, SkipHarvest: true,
	}, rt.submitted[0])

	var job crawler.Job
	require.NoError(t, json.Unmarshal([]byte(out), &job))
	require.Equal(t, "job-1", job.ID)
}

func TestHarvestRunsFullJob(t *testing.T) {
	t.Parallel()

	rt := &fakeRuntime{}
	_, err := execute(t, rt, "", "harvest", "https://example.com", "--max-urls", "5")
	require.NoError(t, err)
	require.Len(t, rt.submitted, 1)
	require.False(t, rt.submitted[0].SkipHarvest)
	require.Equal(t, 5, rt.submitted[0].MaxURLs)
}

func TestHarvestRequiresURL(t *testing.T) {
	t.Parallel()

	_, err := execute(t, &fakeRuntime{}, "", "harvest")
	require.Error(t, err)
}

func TestBatchReadsSitesFromStdin(t *testing.T) {
	t.Parallel()

	rt := &fakeRuntime{status: map[string]crawler.JobStatus{"job-2": crawler.JobStatusFailed}}
	input := "name,url\nA,https://a.example\nB,https://b.example\nC,not-a-url\n"
	out, err := execute(t, rt, input, "batch", "--skip-harvest")

	require.EqualError(t, err, "1 of 2 jobs did not succeed")
	require.Len(t, rt.submitted, 2)
	require.Equal(t, "https://a.example", rt.submitted[0].BaseURL)
	require.True(t, rt.submitted[1].SkipHarvest)
	require.Equal(t, 2, strings.Count(out, "\n"))
}

func TestBatchReadsSitesFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sites.csv")
	require.NoError(t, os.WriteFile(path, []byte("https://a.example\nhttps://b.example\n"), 0o600))

	rt := &fakeRuntime{}
	_, err := execute(t, rt, "", "batch", "--sites", path)
	require.NoError(t, err)
	require.Len(t, rt.submitted, 2)
}

func TestBatchWithoutSites(t *testing.T) {
	t.Parallel()

	_, err := execute(t, &fakeRuntime{}, "url\n", "batch")
	require.ErrorContains(t, err, "no http(s) sites")
}

func TestSubmitFailureCountsAsFailed(t *testing.T) {
	t.Parallel()

	rt := &fakeRuntime{submitErr: errors.New("queue closed")}
	_, err := execute(t, rt, "", "harvest", "https://example.com")
	require.EqualError(t, err, "1 of 1 jobs did not succeed")
}

func TestServeRunsRuntime(t *testing.T) {
	t.Parallel()

	rt := &fakeRuntime{}
	_, err := execute(t, rt, "", "serve")
	require.NoError(t, err)
	require.True(t, rt.served)
	require.True(t, rt.closed)
}

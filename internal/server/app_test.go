package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-harvester/internal/config"
	"github.com/JakeFAU/site-harvester/internal/crawler"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Storage.Backend = config.StorageMemory
	cfg.Crawler.RequestsPerSecond = 100
	cfg.Crawler.Burst = 10
	cfg.Crawler.MaxRetries = 1
	cfg.Crawler.UseSitemap = false
	cfg.Pipeline.Workers = 2
	return cfg
}

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	page := func(title, body string) http.HandlerFunc {
		return func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprintf(w, `<html><head><title>%s</title></head><body><main>%s</main></body></html>`, title, body)
		}
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		page("Home", `<h1>Acme Widgets</h1><p>We build widgets for every workshop in the region.</p>
			<a href="/about">About us</a> <a href="/contact">Contact</a>`)(w, r)
	})
	mux.HandleFunc("/about", page("About", `<h1>About</h1><p>Acme was founded by people who love widgets.</p>`))
	mux.HandleFunc("/contact", page("Contact", `<h1>Contact</h1><p>Call us at +1 555 010 0000 any weekday.</p>`))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestAppHarvestsSubmittedSite(t *testing.T) {
	t.Parallel()

	site := newSite(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	app, err := Build(ctx, testConfig(t), zap.NewNop(), WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	defer func() { require.NoError(t, app.Close(context.Background())) }()

	app.Start(ctx)
	jobID, err := app.Submit(ctx, crawler.JobParameters{BaseURL: site.URL, MaxURLs: 10, MaxDepth: 1})
	require.NoError(t, err)
	require.NoError(t, app.Wait(ctx))

	job, err := app.Job(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusSucceeded, job.Status, job.ErrorText)
	require.Equal(t, 3, job.Counters.URLsDiscovered)
	require.Equal(t, 3, job.Counters.PagesSucceeded)
}

func TestAppSkipHarvestStopsAfterDiscovery(t *testing.T) {
	t.Parallel()

	site := newSite(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	app, err := Build(ctx, testConfig(t), zap.NewNop(), WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	defer func() { require.NoError(t, app.Close(context.Background())) }()

	app.Start(ctx)
	jobID, err := app.Submit(ctx, crawler.JobParameters{BaseURL: site.URL, SkipHarvest: true})
	require.NoError(t, err)
	require.NoError(t, app.Wait(ctx))

	job, err := app.Job(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusSucceeded, job.Status)
	require.Zero(t, job.Counters.PagesSucceeded)
}

func TestAppSubmitRejectsRelativeURL(t *testing.T) {
	t.Parallel()

	app, err := Build(context.Background(), testConfig(t), zap.NewNop(), WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	defer func() { require.NoError(t, app.Close(context.Background())) }()

	_, err = app.Submit(context.Background(), crawler.JobParameters{BaseURL: "example.com"})
	require.Error(t, err)
}

func TestBuildRejectsUnknownBackend(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Storage.Backend = "s3"
	_, err := Build(context.Background(), cfg, zap.NewNop(), WithRegisterer(prometheus.NewRegistry()))
	require.ErrorContains(t, err, "unknown storage backend")
}

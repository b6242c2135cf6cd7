// Package server builds the harvester's dependency graph and runs it either
// as an HTTP service or for a one-shot CLI batch.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-harvester/internal/ai"
	"github.com/JakeFAU/site-harvester/internal/api"
	"github.com/JakeFAU/site-harvester/internal/clock/system"
	"github.com/JakeFAU/site-harvester/internal/config"
	"github.com/JakeFAU/site-harvester/internal/crawler"
	"github.com/JakeFAU/site-harvester/internal/discovery"
	"github.com/JakeFAU/site-harvester/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/site-harvester/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/site-harvester/internal/fetcher/headless"
	"github.com/JakeFAU/site-harvester/internal/harvest"
	"github.com/JakeFAU/site-harvester/internal/hash/sha256"
	"github.com/JakeFAU/site-harvester/internal/headless/detector"
	"github.com/JakeFAU/site-harvester/internal/id/uuid"
	"github.com/JakeFAU/site-harvester/internal/pipeline"
	"github.com/JakeFAU/site-harvester/internal/policy/ratelimit"
	"github.com/JakeFAU/site-harvester/internal/progress"
	progresssinks "github.com/JakeFAU/site-harvester/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/site-harvester/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/site-harvester/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/site-harvester/internal/queue/memory"
	gcsstorage "github.com/JakeFAU/site-harvester/internal/storage/gcs"
	localstorage "github.com/JakeFAU/site-harvester/internal/storage/local"
	memoryStorage "github.com/JakeFAU/site-harvester/internal/storage/memory"
	pgstore "github.com/JakeFAU/site-harvester/internal/storage/postgres"
	"github.com/JakeFAU/site-harvester/internal/telemetry"
	"github.com/JakeFAU/site-harvester/internal/worker"
)

// Version is reported on spans.
var Version = "dev"

// App contains the application's dependencies.
type App struct {
	cfg            config.Config
	logger         *zap.Logger
	jobStore       crawler.JobStore
	recorder       crawler.FetchRecorder
	artifacts      crawler.ArtifactStore
	publisher      crawler.Publisher
	queue          *queueMemory.Queue[crawler.QueueItem]
	dispatch       *dispatcher.Dispatcher
	idGen          crawler.IDGenerator
	clock          crawler.Clock
	progressHub    *progress.Hub
	headless       *headlessfetcher.Fetcher
	gcpPublisher   *gcppublisher.Publisher
	storage        *storage.Client
	pool           *pgxpool.Pool
	tracerShutdown func(context.Context) error
	registerer     prometheus.Registerer
	closeOnce      sync.Once
}

// Option customizes Build.
type Option func(*App)

// WithRegisterer registers the progress collectors against reg instead of
// the default registerer.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *App) { a.registerer = reg }
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{
		cfg:    cfg,
		logger: logger,
		idGen:  uuid.New(),
		clock:  system.New(),
	}
	for _, opt := range opts {
		opt(app)
	}
	ok := false
	defer func() {
		if !ok {
			app.closeInfrastructure(context.WithoutCancel(ctx))
		}
	}()

	if cfg.Tracing.Enabled {
		shutdown, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName: cfg.Tracing.ServiceName,
			Version:     Version,
			SampleRatio: cfg.Tracing.SampleRatio,
		})
		if err != nil {
			return nil, fmt.Errorf("tracer init failed: %w", err)
		}
		app.tracerShutdown = shutdown
	}

	logger.Info("building application dependencies")
	if err := app.setupStorage(ctx); err != nil {
		return nil, err
	}
	if err := app.setupDatabase(ctx); err != nil {
		return nil, err
	}
	if err := app.setupPublisher(ctx); err != nil {
		return nil, err
	}
	emitter, err := app.setupProgress()
	if err != nil {
		return nil, err
	}
	if err := app.setupDispatcher(emitter); err != nil {
		return nil, err
	}
	ok = true
	return app, nil
}

func (a *App) setupStorage(ctx context.Context) error {
	switch a.cfg.Storage.Backend {
	case config.StorageGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storage = client
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return fmt.Errorf("gcs artifact store init failed: %w", err)
		}
		a.artifacts = store
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.GCSBucket))
	case config.StorageLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.OutputDir})
		if err != nil {
			return fmt.Errorf("local artifact store init failed: %w", err)
		}
		a.artifacts = store
		a.logger.Info("using local storage backend", zap.String("path", store.BaseDir()))
	case config.StorageMemory:
		a.artifacts = memoryStorage.NewArtifactStore()
		a.logger.Info("using in-memory storage backend")
	default:
		return fmt.Errorf("unknown storage backend %q", a.cfg.Storage.Backend)
	}
	return nil
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no DSN configured, keeping jobs and fetch records in memory")
		store := memoryStorage.NewJobStore()
		a.jobStore = store
		a.recorder = store
		return nil
	}
	pool, err := pgstore.NewPool(ctx, pgstore.PoolConfig{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(a.cfg.DB.ConnLifetime) * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("postgres pool init failed: %w", err)
	}
	a.pool = pool
	jobs, err := pgstore.NewJobStore(pool, a.cfg.DB.JobTable)
	if err != nil {
		return fmt.Errorf("job store init failed: %w", err)
	}
	fetches, err := pgstore.NewFetchStore(pool, a.cfg.DB.FetchTable)
	if err != nil {
		return fmt.Errorf("fetch store init failed: %w", err)
	}
	a.jobStore = jobs
	a.recorder = fetches
	a.logger.Info("postgres stores initialized",
		zap.String("job_table", a.cfg.DB.JobTable),
		zap.String("fetch_table", a.cfg.DB.FetchTable),
	)
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.cfg.PubSub.ProjectID == "" || a.cfg.PubSub.TopicName == "" {
		a.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		a.publisher = memorypublisher.New()
		return nil
	}
	pub, err := gcppublisher.NewFromProject(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
	if err != nil {
		return fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.gcpPublisher = pub
	a.publisher = pub
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return nil
}

func (a *App) setupProgress() (progress.Emitter, error) {
	sinkList := []progress.Sink{progresssinks.NewLogSink(a.logger.Named("progress_log"))}
	promSink, err := progresssinks.NewPrometheusSink(a.registerer)
	if err != nil {
		return nil, fmt.Errorf("progress prometheus sink init failed: %w", err)
	}
	sinkList = append(sinkList, promSink)
	hubCfg := progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   time.Duration(a.cfg.Progress.MaxBatchWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(a.cfg.Progress.SinkTimeoutMs) * time.Millisecond,
		Logger:         a.logger,
	}
	a.progressHub = progress.NewHub(hubCfg, sinkList...)
	a.logger.Debug("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return a.progressHub, nil
}

func (a *App) setupDispatcher(emitter progress.Emitter) error {
	cfg := a.cfg
	skip := crawler.NewSkipFilter(cfg.Crawler.ExtraSkipPatterns...)
	pages := collyfetcher.New(collyfetcher.Config{
		UserAgent:   cfg.Crawler.UserAgent,
		Timeout:     cfg.RequestTimeout(),
		MaxBodySize: cfg.Crawler.MaxBodyBytes,
	})

	robots := crawler.NewRobotsPolicy(cfg.Crawler.RespectRobots, cfg.Crawler.UserAgent, cfg.DiscoveryTimeout(), a.logger)
	sitemaps := discovery.NewSitemapLoader(pages, skip, cfg.SitemapTimeout(), a.logger)
	discoverer := discovery.New(pages, sitemaps, robots, skip, discovery.Config{
		MaxURLs:     cfg.Crawler.MaxURLs,
		MaxDepth:    cfg.Crawler.MaxDepth,
		UseSitemap:  cfg.Crawler.UseSitemap,
		PageTimeout: cfg.DiscoveryTimeout(),
	}, a.logger)

	limiter := ratelimit.New(ratelimit.Config{
		RPS:     cfg.Crawler.RequestsPerSecond,
		Burst:   cfg.Crawler.Burst,
		HostRPS: cfg.Crawler.HostRPS(),
	})
	harvestOpts := []harvest.Option{harvest.WithRateLimiter(limiter), harvest.WithClock(a.clock)}
	if cfg.Headless.Enabled {
		headless, err := headlessfetcher.New(headlessfetcher.Config{
			MaxParallel: cfg.Headless.MaxParallel,
			UserAgent:   cfg.Crawler.UserAgent,
			Timeout:     time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			a.logger.Warn("headless fetcher init failed, continuing without it", zap.Error(err))
		} else {
			a.headless = headless
			harvestOpts = append(harvestOpts,
				harvest.WithHeadless(headless, detector.NewHeuristic(cfg.Headless.PromotionThresh)))
			a.logger.Info("using headless fetcher", zap.Int("max_parallel", cfg.Headless.MaxParallel))
		}
	}
	content := harvest.New(pages, harvest.Config{
		UserAgent:   cfg.Crawler.UserAgent,
		Timeout:     cfg.RequestTimeout(),
		MaxAttempts: cfg.Crawler.MaxRetries,
		BaseDelay:   cfg.BackoffBase(),
	}, a.logger, harvestOpts...)

	aiFactory := worker.StaticAI
	if cfg.AI.Enabled {
		client, err := ai.NewClient(ai.Config{
			APIURL:                  cfg.AI.APIURL,
			APIKey:                  cfg.AI.APIKey,
			Model:                   cfg.AI.Model,
			Timeout:                 time.Duration(cfg.AI.TimeoutSeconds) * time.Second,
			Temperature:             cfg.AI.Temperature,
			BreakerFailureThreshold: cfg.AI.BreakerFailureThreshold,
			BreakerDelay:            time.Duration(cfg.AI.BreakerDelaySeconds) * time.Second,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("ai client init failed: %w", err)
		}
		aiFactory = worker.ClientAI(client, cfg.AI.MaxTextChars, a.logger)
		a.logger.Info("ai collaborators enabled", zap.String("model", cfg.AI.Model))
	}

	workerCfg := worker.Config{
		Pipeline: pipeline.Config{
			QueueDepth: cfg.Pipeline.QueueDepth,
			Topic:      cfg.PubSub.TopicName,
		},
		ProjectPrefix: cfg.Storage.Prefix,
	}
	a.queue = queueMemory.NewQueue[crawler.QueueItem](cfg.Pipeline.JobQueueDepth)
	workers := make([]*worker.Worker, 0, cfg.Pipeline.Workers)
	for i := 0; i < cfg.Pipeline.Workers; i++ {
		workers = append(workers, worker.New(
			a.queue,
			a.jobStore,
			a.artifacts,
			discoverer,
			content,
			workerCfg,
			a.logger.With(zap.Int("index", i)),
			worker.WithAI(aiFactory),
			worker.WithRecorder(a.recorder),
			worker.WithPublisher(a.publisher),
			worker.WithHasher(sha256.New()),
			worker.WithClock(a.clock),
			worker.WithEmitter(emitter),
		))
	}
	a.dispatch = dispatcher.New(a.queue, workers)
	a.logger.Info("worker pool ready",
		zap.Int("workers", cfg.Pipeline.Workers),
		zap.Int("queue_depth", cfg.Pipeline.QueueDepth),
	)
	return nil
}

// Start runs the worker pool until ctx ends.
func (a *App) Start(ctx context.Context) {
	go a.dispatch.Run(ctx)
}

// Submit records a queued job for params and hands it to the worker pool.
func (a *App) Submit(ctx context.Context, params crawler.JobParameters) (string, error) {
	canonical, err := crawler.NormalizeURL(params.BaseURL)
	if err != nil {
		return "", fmt.Errorf("base url %q: %w", params.BaseURL, err)
	}
	params.BaseURL = canonical
	jobID, err := a.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	now := a.clock.Now()
	job := crawler.Job{ID: jobID, Status: crawler.JobStatusQueued, Submitted: now, Parameters: params}
	if err := a.jobStore.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	item := crawler.QueueItem{
		JobID:     jobID,
		BaseURL:   canonical,
		Params:    params,
		Attempt:   1,
		Submitted: now.Unix(),
	}
	if err := a.dispatch.Enqueue(ctx, item); err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return jobID, nil
}

// Cancel flags every queued or running job in ids.
func (a *App) Cancel(ids []string) {
	for _, id := range ids {
		a.dispatch.Cancel(id)
	}
}

// Wait blocks until every submitted job has finished.
func (a *App) Wait(ctx context.Context) error {
	return a.dispatch.Wait(ctx)
}

// Job returns the stored state of a job.
func (a *App) Job(ctx context.Context, id string) (crawler.Job, error) {
	job, err := a.jobStore.GetJob(ctx, id)
	if err != nil {
		return crawler.Job{}, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// Run serves the HTTP API and the worker pool until ctx is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []api.Option{api.WithArtifacts(a.artifacts)}
	if a.pool != nil {
		opts = append(opts, api.WithReadinessCheck("postgres", func(ctx context.Context) error {
			return a.pool.Ping(ctx)
		}))
	}
	apiServer := api.NewServer(a.jobStore, a.dispatch, a.idGen, a.clock, a.cfg, a.logger, opts...)

	a.Start(ctx)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	return a.Close(shutdownCtx)
}

// Close gracefully shuts down the application. Calls after the first are
// no-ops.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		if a.queue != nil {
			a.queue.Close()
		}
		a.closeInfrastructure(ctx)
		a.logger.Info("shutdown complete")
	})
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.headless != nil {
		a.headless.Close()
	}
	if a.gcpPublisher != nil {
		if err := a.gcpPublisher.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
}

// Package worker runs site jobs: discovery, labeling, and the harvest
// pipeline, one project per site.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-harvester/internal/ai"
	"github.com/JakeFAU/site-harvester/internal/clock/system"
	"github.com/JakeFAU/site-harvester/internal/crawler"
	"github.com/JakeFAU/site-harvester/internal/discovery"
	"github.com/JakeFAU/site-harvester/internal/metrics"
	"github.com/JakeFAU/site-harvester/internal/pipeline"
	"github.com/JakeFAU/site-harvester/internal/progress"
	"github.com/JakeFAU/site-harvester/internal/project"
)

// Config controls Worker behavior.
type Config struct {
	Pipeline pipeline.Config
	// ProjectPrefix is prepended to every project directory.
	ProjectPrefix string
}

// AIFactory builds the labeler and extractor for one project. Their request
// logs are written into that project.
type AIFactory func(layout *project.Layout) (crawler.Labeler, crawler.Extractor)

// StaticAI labels everything useful and never changes the snapshot.
func StaticAI(*project.Layout) (crawler.Labeler, crawler.Extractor) {
	return ai.StaticLabeler{}, ai.PassthroughExtractor{}
}

// ClientAI backs both collaborators with client, logging requests to the
// project's AI log. maxChars caps the page text sent for extraction.
func ClientAI(client *ai.Client, maxChars int, logger *zap.Logger) AIFactory {
	return func(layout *project.Layout) (crawler.Labeler, crawler.Extractor) {
		log := ai.NewJSONLLog(layout, project.AILogFile, logger)
		return ai.NewLabeler(client, log), ai.NewExtractor(client, log, maxChars)
	}
}

// Worker consumes queue items and runs each site job to completion.
type Worker struct {
	queue      crawler.Queue
	jobStore   crawler.JobStore
	store      crawler.ArtifactStore
	discoverer *discovery.Discoverer
	fetcher    pipeline.ContentFetcher
	aiFactory  AIFactory
	recorder   crawler.FetchRecorder
	publisher  crawler.Publisher
	hasher     crawler.Hasher
	clock      crawler.Clock
	emitter    progress.Emitter
	onFinish   func(jobID string)
	cfg        Config
	logger     *zap.Logger
}

// Option customizes a Worker.
type Option func(*Worker)

// WithAI sets the per-project AI collaborators.
func WithAI(f AIFactory) Option {
	return func(w *Worker) { w.aiFactory = f }
}

// WithRecorder persists a FetchRecord per harvested URL.
func WithRecorder(r crawler.FetchRecorder) Option {
	return func(w *Worker) { w.recorder = r }
}

// WithPublisher announces persisted artifacts.
func WithPublisher(p crawler.Publisher) Option {
	return func(w *Worker) { w.publisher = p }
}

// WithHasher sets the content digest.
func WithHasher(h crawler.Hasher) Option {
	return func(w *Worker) { w.hasher = h }
}

// WithClock overrides the time source.
func WithClock(c crawler.Clock) Option {
	return func(w *Worker) { w.clock = c }
}

// WithEmitter reports job progress events.
func WithEmitter(e progress.Emitter) Option {
	return func(w *Worker) { w.emitter = e }
}

// New constructs a Worker. jobStore may be nil for CLI runs.
func New(
	queue crawler.Queue,
	jobStore crawler.JobStore,
	store crawler.ArtifactStore,
	discoverer *discovery.Discoverer,
	fetcher pipeline.ContentFetcher,
	cfg Config,
	logger *zap.Logger,
	opts ...Option,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Worker{
		queue:      queue,
		jobStore:   jobStore,
		store:      store,
		discoverer: discoverer,
		fetcher:    fetcher,
		aiFactory:  StaticAI,
		clock:      system.New(),
		emitter:    progress.Discard{},
		cfg:        cfg,
		logger:     logger.Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// OnFinish registers fn to run after every job, whatever its outcome.
func (w *Worker) OnFinish(fn func(jobID string)) {
	w.onFinish = fn
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			if errors.Is(err, crawler.ErrQueueClosed) {
				return
			}
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.Process(ctx, item)
	}
}

// Process runs one site job and returns its summary. It never fails; the
// outcome is carried in the summary's status.
func (w *Worker) Process(ctx context.Context, item crawler.QueueItem) crawler.ProjectSummary {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	if w.onFinish != nil {
		defer w.onFinish(item.JobID)
	}

	state := item.State
	if state == nil {
		state = crawler.NewJobState(item.JobID)
	}
	baseURL := item.BaseURL
	if baseURL == "" {
		baseURL = item.Params.BaseURL
	}
	logger := w.logger.With(zap.String("job_id", item.JobID), zap.String("base_url", baseURL))
	layout := project.ForSite(w.store, w.cfg.ProjectPrefix, baseURL)

	summary := crawler.ProjectSummary{
		JobID:     item.JobID,
		BaseURL:   baseURL,
		StartedAt: w.clock.Now(),
	}
	w.updateStatus(ctx, item.JobID, crawler.JobStatusRunning, "", crawler.JobCounters{}, logger)
	w.emit(item.JobID, progress.StageJobStart, baseURL, 0, "")
	logger.Info("job started", zap.String("project", layout.Dir()))

	err := w.runSite(ctx, state, layout, baseURL, item.Params, logger)

	summary.Counters = state.Counters()
	summary.Status, summary.ErrorText = deriveFinalStatus(ctx, state, summary.Counters, item.Params, err)
	summary.FinishedAt = w.clock.Now()

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := layout.SaveSummary(persistCtx, summary); err != nil {
		logger.Error("save project summary failed", zap.Error(err))
	}
	w.updateStatus(persistCtx, item.JobID, summary.Status, summary.ErrorText, summary.Counters, logger)

	stage := progress.StageJobDone
	switch summary.Status {
	case crawler.JobStatusCanceled:
		stage = progress.StageJobCanceled
	case crawler.JobStatusFailed:
		stage = progress.StageJobError
	}
	w.emit(item.JobID, stage, baseURL, summary.Counters.UnitsExtracted, summary.ErrorText)
	metrics.ObserveJob(string(summary.Status))
	logger.Info("job finished",
		zap.String("status", string(summary.Status)),
		zap.Int("pages_succeeded", summary.Counters.PagesSucceeded),
		zap.Int("pages_failed", summary.Counters.PagesFailed),
		zap.Duration("elapsed", summary.FinishedAt.Sub(summary.StartedAt)),
	)
	return summary
}

// runSite executes discovery, labeling, and the pipeline in order. Returned
// errors are job-level failures; cancellation is reported through state.
func (w *Worker) runSite(
	ctx context.Context,
	state *crawler.JobState,
	layout *project.Layout,
	baseURL string,
	params crawler.JobParameters,
	logger *zap.Logger,
) error {
	labeler, extractor := w.aiFactory(layout)

	rows, err := w.loadOrDiscover(ctx, state, layout, baseURL, params, logger)
	if err != nil {
		return err
	}
	if state.Canceled() {
		return nil
	}

	useful, err := w.label(ctx, state, layout, labeler, rows, logger)
	if err != nil {
		return err
	}
	if state.Canceled() || params.SkipHarvest {
		return nil
	}
	if len(useful) == 0 {
		logger.Warn("no useful urls to harvest")
		return nil
	}

	opts := []pipeline.Option{
		pipeline.WithClock(w.clock),
		pipeline.WithEmitter(w.emitter),
	}
	if w.recorder != nil {
		opts = append(opts, pipeline.WithRecorder(w.recorder))
	}
	if w.publisher != nil {
		opts = append(opts, pipeline.WithPublisher(w.publisher))
	}
	if w.hasher != nil {
		opts = append(opts, pipeline.WithHasher(w.hasher))
	}
	p := pipeline.New(w.fetcher, extractor, layout, w.cfg.Pipeline, w.logger, opts...)
	if _, err := p.Run(ctx, state, baseURL, useful); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	return nil
}

// loadOrDiscover resumes from an existing urls.csv, or runs discovery and
// writes one ranked to the budget.
func (w *Worker) loadOrDiscover(
	ctx context.Context,
	state *crawler.JobState,
	layout *project.Layout,
	baseURL string,
	params crawler.JobParameters,
	logger *zap.Logger,
) ([]crawler.LabeledURL, error) {
	rows, err := layout.LoadURLs(ctx)
	switch {
	case err == nil && len(rows) > 0:
		logger.Info("resuming from existing url list", zap.Int("urls", len(rows)))
		state.UpdateCounters(func(c *crawler.JobCounters) { c.URLsDiscovered = len(rows) })
		return rows, nil
	case err != nil && !errors.Is(err, crawler.ErrArtifactNotFound):
		return nil, fmt.Errorf("load url list: %w", err)
	}

	if w.discoverer == nil {
		return nil, errors.New("no discoverer configured")
	}
	result, err := w.discoverer.WithLimits(params.MaxURLs, params.MaxDepth).Discover(ctx, state, baseURL)
	if err != nil {
		return nil, fmt.Errorf("discover: %w", err)
	}
	ranked := result.Ranked(params.MaxURLs)
	rows = make([]crawler.LabeledURL, len(ranked))
	for i, d := range ranked {
		rows[i] = crawler.LabeledURL{DiscoveredURL: d}
	}
	if err := layout.SaveURLs(context.WithoutCancel(ctx), rows); err != nil {
		return nil, fmt.Errorf("save url list: %w", err)
	}
	state.UpdateCounters(func(c *crawler.JobCounters) { c.URLsDiscovered = len(rows) })
	w.emit(state.ID, progress.StageDiscoveryDone, baseURL, len(rows), "")
	return rows, nil
}

// label fills in missing usefulness labels and rewrites urls.csv. A labeler
// error counts as useful. It returns the useful URLs in list order.
func (w *Worker) label(
	ctx context.Context,
	state *crawler.JobState,
	layout *project.Layout,
	labeler crawler.Labeler,
	rows []crawler.LabeledURL,
	logger *zap.Logger,
) ([]string, error) {
	changed := false
	for i := range rows {
		if rows[i].Useful != nil {
			continue
		}
		if state.Canceled() || ctx.Err() != nil {
			break
		}
		useful, err := labeler.Label(ctx, rows[i].URL)
		if err != nil {
			logger.Warn("labeling failed; keeping url", zap.String("url", rows[i].URL), zap.Error(err))
			useful = true
		}
		rows[i].Useful = &useful
		changed = true
	}
	if changed {
		if err := layout.SaveURLs(context.WithoutCancel(ctx), rows); err != nil {
			return nil, fmt.Errorf("save labeled url list: %w", err)
		}
	}

	var useful []string
	for _, row := range rows {
		if row.Useful != nil && *row.Useful {
			useful = append(useful, row.URL)
		}
	}
	state.UpdateCounters(func(c *crawler.JobCounters) { c.URLsUseful = len(useful) })
	logger.Info("labeling complete", zap.Int("useful", len(useful)), zap.Int("total", len(rows)))
	return useful, nil
}

func (w *Worker) updateStatus(
	ctx context.Context,
	jobID string,
	status crawler.JobStatus,
	errText string,
	counters crawler.JobCounters,
	logger *zap.Logger,
) {
	if w.jobStore == nil || jobID == "" {
		return
	}
	if err := w.jobStore.UpdateJobStatus(ctx, jobID, status, errText, counters); err != nil {
		logger.Error("update job status failed", zap.String("status", string(status)), zap.Error(err))
	}
}

func (w *Worker) emit(jobID string, stage progress.Stage, site string, count int, note string) {
	if jobID == "" {
		return
	}
	w.emitter.Emit(progress.Event{
		JobID: jobID,
		TS:    w.clock.Now(),
		Stage: stage,
		Site:  site,
		Count: count,
		Note:  note,
	})
}

func deriveFinalStatus(
	ctx context.Context,
	state *crawler.JobState,
	counters crawler.JobCounters,
	params crawler.JobParameters,
	runErr error,
) (crawler.JobStatus, string) {
	switch {
	case state.Canceled() || ctx.Err() != nil:
		return crawler.JobStatusCanceled, ""
	case runErr != nil:
		return crawler.JobStatusFailed, runErr.Error()
	case params.SkipHarvest || counters.URLsUseful == 0:
		return crawler.JobStatusSucceeded, ""
	case counters.PagesSucceeded == 0:
		return crawler.JobStatusFailed, "no pages were fetched"
	default:
		return crawler.JobStatusSucceeded, ""
	}
}

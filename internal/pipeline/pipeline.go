// Package pipeline runs the producer and consumer halves of a harvest. The
// producer fetches useful URLs and persists one artifact per success; the
// consumer folds each artifact into the company snapshot through the
// Extractor, strictly in hand-off order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-harvester/internal/ai"
	"github.com/JakeFAU/site-harvester/internal/clock/system"
	"github.com/JakeFAU/site-harvester/internal/crawler"
	"github.com/JakeFAU/site-harvester/internal/progress"
	"github.com/JakeFAU/site-harvester/internal/project"
	"github.com/JakeFAU/site-harvester/internal/queue/memory"
)

// ContentFetcher retrieves and extracts one URL. It never fails; failures are
// reported in the result.
type ContentFetcher interface {
	Fetch(ctx context.Context, jobID, url string) crawler.FetchResult
}

// Config tunes the hand-off.
type Config struct {
	QueueDepth int
	// Topic receives an ArtifactNotice per persisted artifact.
	Topic string
}

// Result summarizes one pipeline run.
type Result struct {
	Snapshot        crawler.Snapshot
	Processed       int
	Drained         int
	Succeeded       int
	Failed          int
	ExtractFailures int
	Failures        []crawler.FailureRecord
	Canceled        bool
}

// unit is one hand-off item. end marks the end of the stream.
type unit struct {
	name string
	url  string
	end  bool
}

// Pipeline wires the collaborators shared by both halves.
type Pipeline struct {
	fetcher   ContentFetcher
	extractor crawler.Extractor
	layout    *project.Layout
	recorder  crawler.FetchRecorder
	publisher crawler.Publisher
	hasher    crawler.Hasher
	clock     crawler.Clock
	emitter   progress.Emitter
	cfg       Config
	logger    *zap.Logger
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithRecorder persists a FetchRecord per URL.
func WithRecorder(r crawler.FetchRecorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

// WithPublisher announces each persisted artifact.
func WithPublisher(pub crawler.Publisher) Option {
	return func(p *Pipeline) { p.publisher = pub }
}

// WithHasher sets the digest used for content hashes.
func WithHasher(h crawler.Hasher) Option {
	return func(p *Pipeline) { p.hasher = h }
}

// WithClock overrides time.Now.
func WithClock(c crawler.Clock) Option {
	return func(p *Pipeline) { p.clock = c }
}

// WithEmitter reports page and unit progress.
func WithEmitter(e progress.Emitter) Option {
	return func(p *Pipeline) { p.emitter = e }
}

// New builds a Pipeline writing to layout.
func New(
	fetcher ContentFetcher,
	extractor crawler.Extractor,
	layout *project.Layout,
	cfg Config,
	logger *zap.Logger,
	opts ...Option,
) *Pipeline {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 16
	}
	if extractor == nil {
		extractor = ai.PassthroughExtractor{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		fetcher:   fetcher,
		extractor: extractor,
		layout:    layout,
		clock:     system.New(),
		emitter:   progress.Discard{},
		cfg:       cfg,
		logger:    logger.Named("pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run harvests urls in order and folds the artifacts into a snapshot. The
// producer and consumer run on their own goroutines and share only the
// hand-off queue and state. Cancellation through state yields a partial
// result, not an error; an error is returned only when ctx itself ends or the
// project cannot be written.
func (p *Pipeline) Run(ctx context.Context, state *crawler.JobState, site string, urls []string) (Result, error) {
	handoff := memory.NewQueue[unit](p.cfg.QueueDepth)
	logger := p.logger.With(zap.String("site", site))
	if state != nil {
		logger = logger.With(zap.String("job_id", state.ID))
	}

	var (
		wg       sync.WaitGroup
		produced producerResult
		consumed consumerResult
		halted   = make(chan struct{})
		halt     = sync.OnceFunc(func() { close(halted) })
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		produced = p.produce(ctx, state, site, urls, handoff, halted, logger)
	}()
	go func() {
		defer wg.Done()
		consumed = p.consume(ctx, state, handoff, halt, logger)
	}()
	wg.Wait()

	result := Result{
		Snapshot:        consumed.snapshot,
		Processed:       consumed.processed,
		Drained:         consumed.drained,
		Succeeded:       produced.succeeded,
		Failed:          len(produced.failures),
		ExtractFailures: consumed.extractFailures,
		Failures:        produced.failures,
		Canceled:        state.Canceled(),
	}

	// Side files are written with a fresh context so a shutdown still leaves
	// the failure list behind.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := p.layout.SaveFailures(persistCtx, result.Failures); err != nil {
		return result, fmt.Errorf("save failures: %w", err)
	}
	if err := errors.Join(produced.err, consumed.err); err != nil {
		return result, err
	}
	logger.Info("pipeline finished",
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.Int("processed", result.Processed),
		zap.Bool("canceled", result.Canceled),
	)
	return result, nil
}

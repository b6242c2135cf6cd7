package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-harvester/internal/ai"
	"github.com/JakeFAU/site-harvester/internal/crawler"
	"github.com/JakeFAU/site-harvester/internal/metrics"
	"github.com/JakeFAU/site-harvester/internal/progress"
	"github.com/JakeFAU/site-harvester/internal/queue/memory"
)

type consumerResult struct {
	snapshot        crawler.Snapshot
	last            string
	processed       int
	drained         int
	extractFailures int
	err             error
}

// consume folds units into the snapshot until the end-of-stream unit. When it
// stops early, on cancellation or a failed checkpoint, it calls halt and keeps
// reading until the end unit so the producer never blocks on the hand-off.
func (p *Pipeline) consume(
	ctx context.Context,
	state *crawler.JobState,
	handoff *memory.Queue[unit],
	halt func(),
	logger *zap.Logger,
) consumerResult {
	out, ended := p.foldUnits(ctx, state, handoff, logger)
	if ended {
		return out
	}
	halt()
	logger.Info("consumer stopped; draining hand-off",
		zap.Int("processed", out.processed),
		zap.Bool("canceled", state.Canceled()),
		zap.Error(out.err),
	)
	for {
		item, err := handoff.Dequeue(ctx)
		if err != nil {
			if out.err == nil {
				out.err = fmt.Errorf("drain: %w", err)
			}
			return out
		}
		if item.end {
			return out
		}
		out.drained++
	}
}

// foldUnits runs the fold loop. It reports whether the end unit was read.
func (p *Pipeline) foldUnits(
	ctx context.Context,
	state *crawler.JobState,
	handoff *memory.Queue[unit],
	logger *zap.Logger,
) (consumerResult, bool) {
	out := consumerResult{snapshot: crawler.NewSnapshot()}
	jobID := ""
	if state != nil {
		jobID = state.ID
	}

	waitCtx, release := state.Bind(ctx)
	defer release()

	for {
		item, err := handoff.Dequeue(waitCtx)
		if err != nil {
			if state.Canceled() && ctx.Err() == nil {
				out.err = p.checkpoint(ctx, out, true)
				return out, false
			}
			out.err = fmt.Errorf("consume: %w", err)
			return out, false
		}
		if item.end {
			out.err = p.checkpoint(ctx, out, state.Canceled())
			return out, true
		}
		if state.Canceled() {
			out.drained++
			out.err = p.checkpoint(ctx, out, true)
			return out, false
		}

		out.snapshot = p.fold(ctx, state, jobID, item, &out, logger)
		out.processed++
		out.last = item.name
		if err := p.checkpoint(ctx, out, false); err != nil {
			out.err = err
			return out, false
		}
	}
}

// fold applies one unit. Extractor and load errors leave the snapshot as is.
func (p *Pipeline) fold(
	ctx context.Context,
	state *crawler.JobState,
	jobID string,
	item unit,
	out *consumerResult,
	logger *zap.Logger,
) crawler.Snapshot {
	current := out.snapshot
	start := time.Now()
	outcome := "applied"
	next, err := p.apply(ctx, current, item)
	switch {
	case err == nil:
	case ai.IsUnavailable(err):
		outcome = "skipped"
	default:
		outcome = "failed"
	}
	metrics.ObserveExtraction(outcome)
	state.UpdateCounters(func(c *crawler.JobCounters) {
		c.UnitsExtracted++
		if err != nil {
			c.ExtractFailures++
		}
	})
	if err != nil {
		out.extractFailures++
		logger.Warn("extraction failed; keeping snapshot",
			zap.String("artifact", item.name),
			zap.String("outcome", outcome),
			zap.Error(err),
		)
		next = current
	}
	p.emitter.Emit(progress.Event{
		JobID:   jobID,
		TS:      p.clock.Now(),
		Stage:   progress.StageUnitExtracted,
		URL:     item.url,
		Count:   out.processed + 1,
		Success: err == nil,
		Dur:     time.Since(start),
	})
	return next
}

func (p *Pipeline) apply(ctx context.Context, current crawler.Snapshot, item unit) (crawler.Snapshot, error) {
	artifact, err := p.layout.LoadArtifact(ctx, item.name)
	if err != nil {
		return current, fmt.Errorf("load artifact: %w", err)
	}
	next, err := p.extractor.Extract(ctx, current, artifact.Content)
	if err != nil {
		return current, err
	}
	return next, nil
}

// checkpoint persists the progress file and the snapshot.
func (p *Pipeline) checkpoint(ctx context.Context, out consumerResult, partial bool) error {
	if partial || ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
	}
	err := errors.Join(
		p.layout.SaveProgress(ctx, crawler.Progress{
			LastUpdated:       p.clock.Now(),
			LastFileProcessed: out.last,
			ProcessedUnits:    out.processed,
			Partial:           partial,
			Data:              out.snapshot,
		}),
		p.layout.SaveSnapshot(ctx, out.snapshot),
	)
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	return nil
}

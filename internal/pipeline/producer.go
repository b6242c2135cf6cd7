package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-harvester/internal/crawler"
	"github.com/JakeFAU/site-harvester/internal/progress"
	"github.com/JakeFAU/site-harvester/internal/queue/memory"
)

type producerResult struct {
	succeeded int
	failures  []crawler.FailureRecord
	err       error
}

// produce fetches each URL, persists successes, and hands their artifact names
// to the consumer. The end-of-stream unit is enqueued exactly once, whether
// the list ran out, the job was canceled, or the consumer halted.
func (p *Pipeline) produce(
	ctx context.Context,
	state *crawler.JobState,
	site string,
	urls []string,
	handoff *memory.Queue[unit],
	halted <-chan struct{},
	logger *zap.Logger,
) (out producerResult) {
	defer func() {
		if err := handoff.Enqueue(ctx, unit{end: true}); err != nil {
			out.err = errors.Join(out.err, fmt.Errorf("enqueue end of stream: %w", err))
		}
	}()

	for i, pageURL := range urls {
		if state.Canceled() {
			logger.Info("producer stopping on cancellation", zap.Int("remaining", len(urls)-i))
			return out
		}
		select {
		case <-halted:
			logger.Info("producer stopping; consumer halted", zap.Int("remaining", len(urls)-i))
			return out
		default:
		}
		if err := ctx.Err(); err != nil {
			out.err = fmt.Errorf("produce: %w", err)
			return out
		}

		jobID := ""
		if state != nil {
			jobID = state.ID
		}
		result := p.fetcher.Fetch(ctx, jobID, pageURL)
		record := crawler.FetchRecord{
			JobID:     jobID,
			URL:       pageURL,
			Success:   result.Success,
			Attempts:  result.Attempts,
			ErrorText: result.Error,
			WordCount: result.WordCount,
			FetchedAt: p.clock.Now(),
		}

		var name string
		if result.Success {
			var uri string
			var err error
			name, uri, err = p.layout.SaveArtifact(ctx, i+1, result)
			if err != nil {
				result.Success = false
				result.Error = err.Error()
				record.Success = false
				record.ErrorText = result.Error
				logger.Error("persist artifact failed", zap.String("url", pageURL), zap.Error(err))
			} else {
				record.ArtifactURI = uri
				record.ContentHash = p.contentHash(result, logger)
			}
		}
		p.record(ctx, record, logger)
		p.emitter.Emit(progress.Event{
			JobID:   jobID,
			TS:      p.clock.Now(),
			Stage:   progress.StagePageFetched,
			Site:    site,
			URL:     pageURL,
			Count:   result.WordCount,
			Success: result.Success,
			Note:    result.Error,
		})

		if !result.Success {
			out.failures = append(out.failures, crawler.FailureRecord{
				URL:      pageURL,
				Error:    result.Error,
				Attempts: result.Attempts,
			})
			state.UpdateCounters(func(c *crawler.JobCounters) { c.PagesFailed++ })
			continue
		}

		out.succeeded++
		state.UpdateCounters(func(c *crawler.JobCounters) { c.PagesSucceeded++ })
		p.announce(ctx, crawler.ArtifactNotice{
			JobID:       jobID,
			URL:         pageURL,
			ArtifactURI: record.ArtifactURI,
			WordCount:   result.WordCount,
			PersistedAt: record.FetchedAt,
		}, logger)

		if err := handoff.Enqueue(ctx, unit{name: name, url: pageURL}); err != nil {
			out.err = fmt.Errorf("enqueue %s: %w", name, err)
			return out
		}
	}
	return out
}

func (p *Pipeline) contentHash(result crawler.FetchResult, logger *zap.Logger) string {
	if p.hasher == nil {
		return ""
	}
	sum, err := p.hasher.Fingerprint(result)
	if err != nil {
		logger.Debug("fingerprint content", zap.Error(err))
		return ""
	}
	return sum
}

func (p *Pipeline) record(ctx context.Context, record crawler.FetchRecord, logger *zap.Logger) {
	if p.recorder == nil || record.JobID == "" {
		return
	}
	if err := p.recorder.RecordFetch(ctx, record); err != nil {
		logger.Warn("record fetch failed", zap.String("url", record.URL), zap.Error(err))
	}
}

func (p *Pipeline) announce(ctx context.Context, notice crawler.ArtifactNotice, logger *zap.Logger) {
	if p.publisher == nil {
		return
	}
	if _, err := p.publisher.Publish(ctx, p.cfg.Topic, notice); err != nil {
		logger.Warn("publish artifact notice failed", zap.String("url", notice.URL), zap.Error(err))
	}
}

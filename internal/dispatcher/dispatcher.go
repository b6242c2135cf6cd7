// Package dispatcher manages worker fan-out over the job queue and tracks
// running jobs so they can be canceled by ID.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/site-harvester/internal/crawler"
	"github.com/JakeFAU/site-harvester/internal/worker"
)

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   crawler.Queue
	workers []*worker.Worker

	mu     sync.Mutex
	active map[string]*crawler.JobState
	// idle is closed whenever no job is queued or running.
	idle chan struct{}
}

// New creates a Dispatcher. It registers itself to hear when each worker
// finishes a job.
func New(queue crawler.Queue, workers []*worker.Worker) *Dispatcher {
	d := &Dispatcher{
		queue:   queue,
		workers: workers,
		active:  make(map[string]*crawler.JobState),
		idle:    closedChan(),
	}
	for _, w := range workers {
		w.OnFinish(d.finish)
	}
	return d
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue registers the job's cancellation state and queues it.
func (d *Dispatcher) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if item.JobID == "" {
		return errors.New("job id is required")
	}
	if item.State == nil {
		item.State = crawler.NewJobState(item.JobID)
	}
	d.mu.Lock()
	if _, dup := d.active[item.JobID]; dup {
		d.mu.Unlock()
		return fmt.Errorf("job %s is already queued", item.JobID)
	}
	if len(d.active) == 0 {
		d.idle = make(chan struct{})
	}
	d.active[item.JobID] = item.State
	d.mu.Unlock()

	if err := d.queue.Enqueue(ctx, item); err != nil {
		d.finish(item.JobID)
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Cancel sets the cancellation flag of a queued or running job. It reports
// false when the job is unknown or already finished.
func (d *Dispatcher) Cancel(jobID string) bool {
	d.mu.Lock()
	state, ok := d.active[jobID]
	d.mu.Unlock()
	if !ok {
		return false
	}
	state.Cancel()
	return true
}

// Active returns the number of queued or running jobs.
func (d *Dispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.active)
}

// Wait blocks until no job is queued or running, or ctx ends. Jobs enqueued
// while it waits are waited for too.
func (d *Dispatcher) Wait(ctx context.Context) error {
	for {
		d.mu.Lock()
		idle := d.idle
		d.mu.Unlock()
		select {
		case <-idle:
		case <-ctx.Done():
			return fmt.Errorf("wait for jobs: %w", ctx.Err())
		}
		d.mu.Lock()
		done := len(d.active) == 0
		d.mu.Unlock()
		if done {
			return nil
		}
	}
}

func (d *Dispatcher) finish(jobID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.active[jobID]; !ok {
		return
	}
	delete(d.active, jobID)
	if len(d.active) == 0 {
		close(d.idle)
	}
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

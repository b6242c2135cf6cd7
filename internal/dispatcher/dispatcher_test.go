// Package dispatcher contains tests for worker coordination.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-harvester/internal/crawler"
	"github.com/JakeFAU/site-harvester/internal/queue/memory"
	storemem "github.com/JakeFAU/site-harvester/internal/storage/memory"
	"github.com/JakeFAU/site-harvester/internal/worker"
)

// TestDispatcherRunStartsWorkers ensures workers begin processing and stop on cancel.
func TestDispatcherRunStartsWorkers(t *testing.T) {
	t.Parallel()

	queue := &blockingQueue{started: make(chan struct{}, 1)}
	w := worker.New(queue, nil, nil, nil, nil, worker.Config{}, zap.NewNop())
	dispatch := New(queue, []*worker.Worker{w})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	select {
	case <-queue.started:
	case <-time.After(time.Second):
		t.Fatal("worker did not begin dequeuing")
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

// TestDispatcherEnqueueForwardsErrors verifies queue errors are wrapped for callers.
func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	queue := &errorQueue{err: errors.New("boom")}
	dispatch := New(queue, nil)

	err := dispatch.Enqueue(context.Background(), crawler.QueueItem{JobID: "job"})
	require.EqualError(t, err, "queue enqueue: boom")
	require.Zero(t, dispatch.Active())
	require.False(t, dispatch.Cancel("job"))
}

func TestDispatcherEnqueueValidates(t *testing.T) {
	t.Parallel()

	dispatch := New(memory.NewQueue[crawler.QueueItem](2), nil)
	require.Error(t, dispatch.Enqueue(context.Background(), crawler.QueueItem{}))

	require.NoError(t, dispatch.Enqueue(context.Background(), crawler.QueueItem{JobID: "a"}))
	require.Error(t, dispatch.Enqueue(context.Background(), crawler.QueueItem{JobID: "a"}))
	require.Equal(t, 1, dispatch.Active())
}

func TestDispatcherCancelSetsJobState(t *testing.T) {
	t.Parallel()

	queue := memory.NewQueue[crawler.QueueItem](1)
	dispatch := New(queue, nil)
	state := crawler.NewJobState("job-1")
	require.NoError(t, dispatch.Enqueue(context.Background(), crawler.QueueItem{JobID: "job-1", State: state}))

	require.True(t, dispatch.Cancel("job-1"))
	require.True(t, state.Canceled())
	require.False(t, dispatch.Cancel("other"))
}

// TestDispatcherWaitTracksCompletion runs canceled jobs through a real worker,
// which finishes them without touching the network.
func TestDispatcherWaitTracksCompletion(t *testing.T) {
	t.Parallel()

	queue := memory.NewQueue[crawler.QueueItem](4)
	w := worker.New(queue, nil, storemem.NewArtifactStore(), nil, nil, worker.Config{}, zap.NewNop())
	dispatch := New(queue, []*worker.Worker{w})

	for i := range 3 {
		state := crawler.NewJobState(fmt.Sprintf("job-%d", i))
		state.Cancel()
		require.NoError(t, dispatch.Enqueue(context.Background(), crawler.QueueItem{
			JobID:   state.ID,
			BaseURL: fmt.Sprintf("https://site%d.example", i),
			State:   state,
		}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dispatch.Run(ctx)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	require.NoError(t, dispatch.Wait(waitCtx))
	require.Zero(t, dispatch.Active())
}

func TestDispatcherWaitHonorsContext(t *testing.T) {
	t.Parallel()

	dispatch := New(memory.NewQueue[crawler.QueueItem](1), nil)
	require.NoError(t, dispatch.Enqueue(context.Background(), crawler.QueueItem{JobID: "stuck"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, dispatch.Wait(ctx), context.DeadlineExceeded)
}

func TestDispatcherWaitIdleReturnsImmediately(t *testing.T) {
	t.Parallel()

	dispatch := New(memory.NewQueue[crawler.QueueItem](1), nil)
	require.NoError(t, waitOrTimeout(t, dispatch))
}

func TestDispatcherWaitFollowsLateEnqueues(t *testing.T) {
	t.Parallel()

	dispatch := New(memory.NewQueue[crawler.QueueItem](4), nil)
	require.NoError(t, dispatch.Enqueue(context.Background(), crawler.QueueItem{JobID: "first"}))

	expired, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, dispatch.Wait(expired), context.DeadlineExceeded)

	waited := make(chan error, 1)
	go func() { waited <- dispatch.Wait(context.Background()) }()

	require.NoError(t, dispatch.Enqueue(context.Background(), crawler.QueueItem{JobID: "second"}))
	dispatch.finish("first")
	select {
	case err := <-waited:
		t.Fatalf("Wait returned with a job still queued: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	dispatch.finish("second")
	dispatch.finish("second")
	select {
	case err := <-waited:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after the last job finished")
	}

	require.NoError(t, dispatch.Enqueue(context.Background(), crawler.QueueItem{JobID: "third"}))
	require.Equal(t, 1, dispatch.Active())
	dispatch.finish("third")
	require.NoError(t, waitOrTimeout(t, dispatch))
}

func waitOrTimeout(t *testing.T, d *Dispatcher) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- d.Wait(context.Background()) }()
	select {
	case err := <-done:
		return err
	case <-time.After(time.Second):
		t.Fatal("Wait blocked")
		return nil
	}
}

type blockingQueue struct {
	started chan struct{}
}

func (q *blockingQueue) Enqueue(_ context.Context, _ crawler.QueueItem) error {
	select {
	case q.started <- struct{}{}:
	default:
	}
	return nil
}

func (q *blockingQueue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	select {
	case q.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return crawler.QueueItem{}, fmt.Errorf("blocking dequeue canceled: %w", ctx.Err())
}

type errorQueue struct {
	err error
}

func (q *errorQueue) Enqueue(context.Context, crawler.QueueItem) error {
	return q.err
}

func (q *errorQueue) Dequeue(context.Context) (crawler.QueueItem, error) {
	return crawler.QueueItem{}, nil
}

package crawler

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJobStateCancel(t *testing.T) {
	t.Parallel()

	state := NewJobState("job-1")
	require.False(t, state.Canceled())
	state.Cancel()
	state.Cancel()
	require.True(t, state.Canceled())

	var nilState *JobState
	require.False(t, nilState.Canceled())
	nilState.Cancel()
}

func TestJobStateBind(t *testing.T) {
	t.Parallel()

	state := NewJobState("job-1")
	ctx, release := state.Bind(context.Background())
	defer release()
	require.NoError(t, ctx.Err())

	state.Cancel()
	<-ctx.Done()
	require.True(t, errors.Is(context.Cause(ctx), ErrJobCanceled))

	late, releaseLate := state.Bind(context.Background())
	defer releaseLate()
	require.ErrorIs(t, context.Cause(late), ErrJobCanceled)
}

func TestJobStateBindRelease(t *testing.T) {
	t.Parallel()

	state := NewJobState("job-1")
	ctx, release := state.Bind(context.Background())
	release()
	require.ErrorIs(t, ctx.Err(), context.Canceled)
	require.Empty(t, state.bindings)

	parent, cancel := context.WithCancel(context.Background())
	child, releaseChild := state.Bind(parent)
	defer releaseChild()
	cancel()
	<-child.Done()
	require.False(t, state.Canceled())
}

func TestJobStateCountersConcurrent(t *testing.T) {
	t.Parallel()

	state := NewJobState("job-2")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			state.UpdateCounters(func(c *JobCounters) { c.PagesSucceeded++ })
		}()
	}
	wg.Wait()
	require.Equal(t, 50, state.Counters().PagesSucceeded)
}

func TestLabeledURLIsUseful(t *testing.T) {
	t.Parallel()

	no := false
	require.True(t, LabeledURL{}.IsUseful())
	require.False(t, LabeledURL{Useful: &no}.IsUseful())
}

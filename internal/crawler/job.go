package crawler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrJobCanceled is the cause attached to contexts bound to a canceled job.
var ErrJobCanceled = errors.New("job canceled")

// JobState is the per-job state shared by discovery and the pipeline. The
// cancellation flag is set by an external caller and polled cooperatively.
type JobState struct {
	ID string

	canceled atomic.Bool
	mu       sync.Mutex
	counters JobCounters

	bindMu   sync.Mutex
	bindings map[int]context.CancelCauseFunc
	nextBind int
}

// NewJobState builds the state object for a starting job.
func NewJobState(id string) *JobState {
	return &JobState{ID: id, bindings: make(map[int]context.CancelCauseFunc)}
}

// Cancel requests cooperative cancellation and cancels every bound context.
// It is safe to call repeatedly.
func (s *JobState) Cancel() {
	if s == nil {
		return
	}
	s.canceled.Store(true)
	s.bindMu.Lock()
	defer s.bindMu.Unlock()
	for id, cancel := range s.bindings {
		cancel(ErrJobCanceled)
		delete(s.bindings, id)
	}
}

// Canceled reports whether cancellation was requested.
func (s *JobState) Canceled() bool {
	if s == nil {
		return false
	}
	return s.canceled.Load()
}

// Bind derives a context from parent that is also canceled, with cause
// ErrJobCanceled, when Cancel is called. The returned func releases it.
func (s *JobState) Bind(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	if s == nil {
		return ctx, func() { cancel(context.Canceled) }
	}
	s.bindMu.Lock()
	if s.canceled.Load() {
		s.bindMu.Unlock()
		cancel(ErrJobCanceled)
		return ctx, func() {}
	}
	if s.bindings == nil {
		s.bindings = make(map[int]context.CancelCauseFunc)
	}
	id := s.nextBind
	s.nextBind++
	s.bindings[id] = cancel
	s.bindMu.Unlock()

	return ctx, func() {
		s.bindMu.Lock()
		delete(s.bindings, id)
		s.bindMu.Unlock()
		cancel(context.Canceled)
	}
}

// UpdateCounters applies fn to the counters under lock.
func (s *JobState) UpdateCounters(fn func(*JobCounters)) {
	if s == nil || fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.counters)
}

// Counters returns a copy of the current counters.
func (s *JobState) Counters() JobCounters {
	if s == nil {
		return JobCounters{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

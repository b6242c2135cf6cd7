package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/site-harvester/internal/crawler"
)

// JobStore keeps job metadata and fetch records in memory.
type JobStore struct {
	mu      sync.RWMutex
	jobs    map[string]crawler.Job
	fetches map[string][]crawler.FetchRecord
	now     func() time.Time
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs:    make(map[string]crawler.Job),
		fetches: make(map[string][]crawler.FetchRecord),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job crawler.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = job
	return nil
}

// UpdateJobStatus records a status transition, stamping start and finish
// times on the first running and terminal updates.
func (s *JobStore) UpdateJobStatus(
	_ context.Context,
	jobID string,
	status crawler.JobStatus,
	errText string,
	counters crawler.JobCounters,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%s: %w", jobID, crawler.ErrJobNotFound)
	}
	job.Status = status
	job.ErrorText = errText
	job.Counters = counters
	now := s.now()
	if status == crawler.JobStatusRunning && job.Started == nil {
		job.Started = &now
	}
	if status.Terminal() && job.Finished == nil {
		job.Finished = &now
	}
	s.jobs[jobID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.Job{}, fmt.Errorf("%s: %w", jobID, crawler.ErrJobNotFound)
	}
	return job, nil
}

// RecordFetch appends a fetch row for a job.
func (s *JobStore) RecordFetch(_ context.Context, record crawler.FetchRecord) error {
	if record.JobID == "" {
		return errors.New("fetch record job id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches[record.JobID] = append(s.fetches[record.JobID], record)
	return nil
}

// Fetches returns a copy of the fetch rows recorded for a job.
func (s *JobStore) Fetches(jobID string) []crawler.FetchRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.FetchRecord, len(s.fetches[jobID]))
	copy(out, s.fetches[jobID])
	return out
}

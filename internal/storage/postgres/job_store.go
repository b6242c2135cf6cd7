package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/site-harvester/internal/crawler"
)

// JobStore persists harvest jobs so status survives API restarts.
type JobStore struct {
	pool  querier
	table string
	now   func() time.Time
}

// NewJobStore constructs a job store over an existing pool.
func NewJobStore(pool querier, table string) (*JobStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	name, err := tableName(table, "harvest_jobs")
	if err != nil {
		return nil, err
	}
	return &JobStore{
		pool:  pool,
		table: name,
		now:   func() time.Time { return time.Now().UTC() },
	}, nil
}

// CreateJob inserts a queued job.
func (s *JobStore) CreateJob(ctx context.Context, job crawler.Job) error {
	params, err := json.Marshal(job.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}
	counters, err := json.Marshal(job.Counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, status, submitted_at, parameters, counters)
VALUES ($1,$2,$3,$4,$5)`, s.table)
	if _, err := s.pool.Exec(ctx, query, job.ID, string(job.Status), job.Submitted, params, counters); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJobStatus records a transition. started_at and finished_at are set
// once, on the first running and terminal update respectively.
func (s *JobStore) UpdateJobStatus(
	ctx context.Context,
	jobID string,
	status crawler.JobStatus,
	errText string,
	counters crawler.JobCounters,
) error {
	encoded, err := json.Marshal(counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	query := fmt.Sprintf(`
UPDATE %s SET
	status = $2,
	error_text = $3,
	counters = $4,
	started_at = CASE WHEN $5 AND started_at IS NULL THEN $7 ELSE started_at END,
	finished_at = CASE WHEN $6 AND finished_at IS NULL THEN $7 ELSE finished_at END
WHERE id = $1`, s.table)
	tag, err := s.pool.Exec(ctx, query,
		jobID,
		string(status),
		errText,
		encoded,
		status == crawler.JobStatusRunning,
		status.Terminal(),
		s.now(),
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", jobID, crawler.ErrJobNotFound)
	}
	return nil
}

// GetJob loads a job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (crawler.Job, error) {
	query := fmt.Sprintf(`
SELECT id, status, submitted_at, started_at, finished_at, error_text, parameters, counters
FROM %s
WHERE id = $1`, s.table)

	var (
		job      crawler.Job
		status   string
		errText  *string
		params   []byte
		counters []byte
	)
	err := s.pool.QueryRow(ctx, query, jobID).Scan(
		&job.ID,
		&status,
		&job.Submitted,
		&job.Started,
		&job.Finished,
		&errText,
		&params,
		&counters,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Job{}, fmt.Errorf("%s: %w", jobID, crawler.ErrJobNotFound)
	}
	if err != nil {
		return crawler.Job{}, fmt.Errorf("get job: %w", err)
	}
	job.Status = crawler.JobStatus(status)
	if errText != nil {
		job.ErrorText = *errText
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &job.Parameters); err != nil {
			return crawler.Job{}, fmt.Errorf("decode parameters: %w", err)
		}
	}
	if len(counters) > 0 {
		if err := json.Unmarshal(counters, &job.Counters); err != nil {
			return crawler.Job{}, fmt.Errorf("decode counters: %w", err)
		}
	}
	return job, nil
}

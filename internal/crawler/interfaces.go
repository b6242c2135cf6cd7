package crawler

import (
	"context"
	"errors"
	"time"
)

// ErrArtifactNotFound is returned by ArtifactStore.Get for unknown names.
var ErrArtifactNotFound = errors.New("artifact not found")

// ErrQueueClosed is returned by a Queue that no longer accepts or yields items.
var ErrQueueClosed = errors.New("queue closed")

// ErrJobNotFound is returned by JobStore.GetJob for unknown IDs.
var ErrJobNotFound = errors.New("job not found")

// JobStore persists job metadata.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errText string, counters JobCounters) error
	GetJob(ctx context.Context, jobID string) (Job, error)
}

// ArtifactStore persists named artifacts and reads them back.
type ArtifactStore interface {
	Put(ctx context.Context, name string, contentType string, data []byte) (string, error)
	Get(ctx context.Context, name string) ([]byte, error)
}

// FetchRecorder persists one row per harvested URL.
type FetchRecorder interface {
	RecordFetch(ctx context.Context, record FetchRecord) error
}

// Publisher pushes artifact notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// PageFetcher performs a single raw page fetch with no retries.
type PageFetcher interface {
	Fetch(ctx context.Context, request PageRequest) (Page, error)
}

// HeadlessDetector decides whether a headless fetch is warranted.
type HeadlessDetector interface {
	ShouldPromote(page Page) bool
}

// Extractor is the external structured-extraction operation. It receives the
// current snapshot and must return the complete next snapshot.
type Extractor interface {
	Extract(ctx context.Context, current Snapshot, text string) (Snapshot, error)
}

// Labeler decides whether a URL is worth harvesting.
type Labeler interface {
	Label(ctx context.Context, url string) (bool, error)
}

// RobotsPolicy determines whether robots.txt allows fetching a URL.
type RobotsPolicy interface {
	Allowed(ctx context.Context, url string) bool
}

// RateLimiter blocks until a request to the URL's host is permitted.
type RateLimiter interface {
	Wait(ctx context.Context, url string) error
}

// Queue provides enqueue/dequeue semantics for site jobs.
type Queue interface {
	Enqueue(ctx context.Context, job QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Hasher fingerprints the extracted content of a page so unchanged pages can
// be recognized across runs.
type Hasher interface {
	Fingerprint(result FetchResult) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// QueueItem wraps one site job ready to run.
type QueueItem struct {
	JobID     string
	BaseURL   string
	Params    JobParameters
	State     *JobState
	Attempt   int
	Submitted int64
}

package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage names a milestone of a harvest job.
type Stage string

// Supported progress stages.
const (
	StageJobStart      Stage = "JOB_START"
	StageDiscoveryDone Stage = "DISCOVERY_DONE"
	StagePageFetched   Stage = "PAGE_FETCHED"
	StageUnitExtracted Stage = "UNIT_EXTRACTED"
	StageJobDone       Stage = "JOB_DONE"
	StageJobCanceled   Stage = "JOB_CANCELED"
	StageJobError      Stage = "JOB_ERROR"
)

// Terminal reports whether the stage closes a job.
func (s Stage) Terminal() bool {
	return s == StageJobDone || s == StageJobCanceled || s == StageJobError
}

// Event is one progress milestone.
type Event struct {
	JobID string
	TS    time.Time
	Stage Stage
	// Site is the host being harvested.
	Site string
	// URL is set for page events.
	URL string
	// Count carries a stage specific quantity: URLs discovered, words
	// extracted, or units processed.
	Count int
	// Success is meaningful for PAGE_FETCHED and UNIT_EXTRACTED.
	Success bool
	Dur     time.Duration
	Note    string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart, StageDiscoveryDone, StageJobDone, StageJobCanceled, StageJobError:
	case StagePageFetched, StageUnitExtracted:
		if e.URL == "" {
			return fmt.Errorf("%s requires url", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

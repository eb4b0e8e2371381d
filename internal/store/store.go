package store

import (
	"context"
	"errors"
	"time"

	"github.com/JakeFAU/watch-wrapped/internal/wrapped"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrStatusRegression is returned when a status update would move a job
// backwards through its lifecycle.
var ErrStatusRegression = errors.New("job status cannot move backwards")

// JobState is the stored lifecycle of one run.
type JobState struct {
	// JobID is the caller-supplied run identifier.
	JobID string
	// Status is the most recent status reached.
	Status wrapped.JobStatus
	// UpdatedAt is when Status was last written.
	UpdatedAt time.Time
	// ResultURI points at the stored result once the run completed.
	ResultURI string
}

// StatusStore receives lifecycle transitions for a run.
type StatusStore interface {
	// SetStatus records status for jobID. Repeating the current status is a
	// no-op; moving backwards returns ErrStatusRegression.
	SetStatus(ctx context.Context, jobID string, status wrapped.JobStatus) error
	// GetStatus loads the current state or returns ErrNotFound.
	GetStatus(ctx context.Context, jobID string) (JobState, error)
}

// ResultStore persists the aggregate of a completed run.
type ResultStore interface {
	// SaveResult stores result under jobID and returns a URI for it.
	SaveResult(ctx context.Context, jobID string, result wrapped.Result) (string, error)
}

// CheckTransition validates moving from current to next.
func CheckTransition(current, next wrapped.JobStatus) error {
	if !next.Valid() {
		return errors.New("unknown job status " + string(next))
	}
	if next.Rank() < current.Rank() {
		return ErrStatusRegression
	}
	return nil
}

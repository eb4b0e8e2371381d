package wrapped

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound signals that the catalog has no record for an identifier.
// It is an expected outcome, not a transport failure.
var ErrNotFound = errors.New("catalog item not found")

// MetadataFetcher resolves a single identifier against the external catalog.
type MetadataFetcher interface {
	FetchMetadata(ctx context.Context, id string) (Metadata, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// Completion is the payload published when a run finishes.
type Completion struct {
	JobID       string    `json:"job_id"`
	Status      JobStatus `json:"status"`
	ResultURI   string    `json:"result_uri,omitempty"`
	TotalVideos int64     `json:"total_videos"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Attributes returns Pub/Sub message attributes for routing and filtering.
func (c Completion) Attributes() map[string]string {
	return map[string]string{
		"job_id": c.JobID,
		"status": string(c.Status),
	}
}

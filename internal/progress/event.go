package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageJobStart     Stage = "JOB_START"
	StageJobDone      Stage = "JOB_DONE"
	StageJobError     Stage = "JOB_ERROR"
	StageCacheHit     Stage = "CACHE_HIT"
	StageFetchDone    Stage = "FETCH_DONE"
	StageFetchMissing Stage = "FETCH_MISSING"
	StageFetchError   Stage = "FETCH_ERROR"
)

// Event captures a single milestone of a pipeline run.
type Event struct {
	// JobID identifies the run that emitted the event.
	JobID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle or resolution milestone occurred.
	Stage Stage
	// VideoID scopes resolution events to a single catalog identifier.
	VideoID string
	// Count carries a stage-specific quantity, e.g. events parsed on
	// JOB_START or distinct identifiers resolved on JOB_DONE.
	Count int64
	// Dur captures latency for fetches and job completions.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
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
	case StageJobStart, StageJobDone, StageJobError:
	case StageCacheHit, StageFetchDone, StageFetchMissing, StageFetchError:
		if e.VideoID == "" {
			return fmt.Errorf("%s requires video id", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// IsResolution reports whether the stage describes a single metadata lookup.
func (s Stage) IsResolution() bool {
	switch s {
	case StageCacheHit, StageFetchDone, StageFetchMissing, StageFetchError:
		return true
	default:
		return false
	}
}

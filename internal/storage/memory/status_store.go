package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/watch-wrapped/internal/store"
	"github.com/JakeFAU/watch-wrapped/internal/wrapped"
)

// StatusStore provides an in-memory implementation for development/testing.
type StatusStore struct {
	mu      sync.RWMutex
	jobs    map[string]store.JobState
	history map[string][]wrapped.JobStatus
	now     func() time.Time
}

// NewStatusStore constructs a StatusStore.
func NewStatusStore() *StatusStore {
	return &StatusStore{
		jobs:    make(map[string]store.JobState),
		history: make(map[string][]wrapped.JobStatus),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetStatus records a forward transition for jobID.
func (s *StatusStore) SetStatus(_ context.Context, jobID string, status wrapped.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.jobs[jobID]
	if err := store.CheckTransition(state.Status, status); err != nil {
		return err
	}
	if state.Status == status {
		return nil
	}
	state.JobID = jobID
	state.Status = status
	state.UpdatedAt = s.now()
	s.jobs[jobID] = state
	s.history[jobID] = append(s.history[jobID], status)
	return nil
}

// GetStatus fetches the state for jobID.
func (s *StatusStore) GetStatus(_ context.Context, jobID string) (store.JobState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.jobs[jobID]
	if !ok {
		return store.JobState{}, store.ErrNotFound
	}
	return state, nil
}

// History returns every distinct status recorded for jobID, oldest first.
func (s *StatusStore) History(jobID string) []wrapped.JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]wrapped.JobStatus, len(s.history[jobID]))
	copy(out, s.history[jobID])
	return out
}

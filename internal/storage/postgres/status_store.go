package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/watch-wrapped/internal/store"
	"github.com/JakeFAU/watch-wrapped/internal/wrapped"
)

// StatusStore implements store.StatusStore. The upsert refuses to lower
// status_rank, which keeps transitions monotonic even with concurrent writers.
type StatusStore struct {
	pool  Pool
	table string
	now   func() time.Time
}

// NewStatusStore constructs a StatusStore over an existing pool.
func NewStatusStore(pool Pool, table string) (*StatusStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = DefaultTables().Status
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &StatusStore{pool: pool, table: table, now: func() time.Time { return time.Now().UTC() }}, nil
}

// SetStatus upserts the status for jobID.
func (s *StatusStore) SetStatus(ctx context.Context, jobID string, status wrapped.JobStatus) error {
	if err := store.CheckTransition("", status); err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %[1]s (job_id, status, status_rank, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (job_id) DO UPDATE
SET status = EXCLUDED.status, status_rank = EXCLUDED.status_rank, updated_at = EXCLUDED.updated_at
WHERE %[1]s.status_rank <= EXCLUDED.status_rank`, s.table)

	tag, err := s.pool.Exec(ctx, query, jobID, string(status), status.Rank(), s.now())
	if err != nil {
		return fmt.Errorf("upsert job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set %s for job %s: %w", status, jobID, store.ErrStatusRegression)
	}
	return nil
}

// GetStatus loads the current status for jobID.
func (s *StatusStore) GetStatus(ctx context.Context, jobID string) (store.JobState, error) {
	query := fmt.Sprintf(`SELECT status, updated_at FROM %s WHERE job_id = $1`, s.table)
	var (
		status    string
		updatedAt time.Time
	)
	if err := s.pool.QueryRow(ctx, query, jobID).Scan(&status, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.JobState{}, store.ErrNotFound
		}
		return store.JobState{}, fmt.Errorf("get job status: %w", err)
	}
	return store.JobState{JobID: jobID, Status: wrapped.JobStatus(status), UpdatedAt: updatedAt}, nil
}

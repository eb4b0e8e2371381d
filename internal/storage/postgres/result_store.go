package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/JakeFAU/watch-wrapped/internal/wrapped"
)

// ResultStore writes run results into a JSONB column.
type ResultStore struct {
	pool  Pool
	table string
	now   func() time.Time
}

// NewResultStore constructs a ResultStore over an existing pool.
func NewResultStore(pool Pool, table string) (*ResultStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = DefaultTables().Results
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &ResultStore{pool: pool, table: table, now: func() time.Time { return time.Now().UTC() }}, nil
}

// SaveResult upserts the result row for jobID.
func (s *ResultStore) SaveResult(ctx context.Context, jobID string, result wrapped.Result) (string, error) {
	if jobID == "" {
		return "", fmt.Errorf("job id is required")
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("marshal result: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (job_id, result, created_at)
VALUES ($1, $2, $3)
ON CONFLICT (job_id) DO UPDATE SET result = EXCLUDED.result, created_at = EXCLUDED.created_at`, s.table)
	if _, err := s.pool.Exec(ctx, query, jobID, payload, s.now()); err != nil {
		return "", fmt.Errorf("insert result: %w", err)
	}
	return fmt.Sprintf("postgres://%s/%s", s.table, jobID), nil
}

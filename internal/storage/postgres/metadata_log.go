package postgres

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/watch-wrapped/internal/wrapped"
)

// MetadataLog stores cache records in a table keyed by item id. Inserts use
// ON CONFLICT DO NOTHING so the first record for an id wins, even across
// processes sharing the database.
type MetadataLog struct {
	pool   Pool
	table  string
	logger *zap.Logger
}

// NewMetadataLog constructs a MetadataLog over an existing pool.
func NewMetadataLog(pool Pool, table string, logger *zap.Logger) (*MetadataLog, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = DefaultTables().Metadata
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MetadataLog{pool: pool, table: table, logger: logger}, nil
}

// Load returns every record in insertion order.
func (l *MetadataLog) Load(ctx context.Context) ([]wrapped.Metadata, error) {
	query := fmt.Sprintf(`SELECT id, record FROM %s ORDER BY seq`, l.table)
	rows, err := l.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query metadata: %w", err)
	}
	defer rows.Close()

	var out []wrapped.Metadata
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan metadata: %w", err)
		}
		md, err := wrapped.UnmarshalMetadata(raw)
		if err != nil {
			l.logger.Warn("skipping malformed metadata record", zap.String("video_id", id), zap.Error(err))
			continue
		}
		out = append(out, md)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate metadata: %w", err)
	}
	return out, nil
}

// Append inserts md unless a row for its id exists.
func (l *MetadataLog) Append(ctx context.Context, md wrapped.Metadata) error {
	record, err := wrapped.MarshalMetadata(md)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`INSERT INTO %s (id, record) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`, l.table)
	if _, err := l.pool.Exec(ctx, query, md.ID, record); err != nil {
		return fmt.Errorf("insert metadata %s: %w", md.ID, err)
	}
	return nil
}

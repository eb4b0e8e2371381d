// Package sqlite persists the metadata log in a single-file SQLite database
// using the pure-Go modernc driver. The schema is managed by embedded
// golang-migrate migrations applied on Open.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/JakeFAU/watch-wrapped/internal/wrapped"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// MetadataLog stores one row per catalog item, ordered by insertion.
type MetadataLog struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (or creates) the database at path and migrates it to the latest
// schema. Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string, logger *zap.Logger) (*MetadataLog, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	version, err := runMigrations(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Debug("sqlite metadata log ready", zap.String("path", path), zap.Uint("schema_version", version))
	return &MetadataLog{db: db, logger: logger}, nil
}

func runMigrations(db *sql.DB) (uint, error) {
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return 0, fmt.Errorf("create migration driver: %w", err)
	}
	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("create migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return 0, fmt.Errorf("create migrator: %w", err)
	}
	// m.Close would close db, which the log keeps using.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("run migrations: %w", err)
	}
	version, dirty, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("read migration version: %w", err)
	}
	if dirty {
		return 0, fmt.Errorf("sqlite schema version %d is dirty", version)
	}
	return version, nil
}

// Load returns every stored record in insertion order. Undecodable rows are
// skipped with a warning.
func (l *MetadataLog) Load(ctx context.Context) ([]wrapped.Metadata, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT id, record FROM metadata_cache ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("load metadata: %w", err)
	}
	defer rows.Close() //nolint:errcheck // rows.Err is checked below

	var out []wrapped.Metadata
	for rows.Next() {
		var id, record string
		if err := rows.Scan(&id, &record); err != nil {
			return nil, fmt.Errorf("scan metadata: %w", err)
		}
		md, err := wrapped.UnmarshalMetadata([]byte(record))
		if err != nil {
			l.logger.Warn("skipping malformed metadata record", zap.String("video_id", id), zap.Error(err))
			continue
		}
		out = append(out, md)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load metadata: %w", err)
	}
	return out, nil
}

// Append inserts md unless a row for its id already exists.
func (l *MetadataLog) Append(ctx context.Context, md wrapped.Metadata) error {
	data, err := wrapped.MarshalMetadata(md)
	if err != nil {
		return err
	}
	_, err = l.db.ExecContext(ctx,
		`INSERT INTO metadata_cache (id, record) VALUES (?, ?) ON CONFLICT(id) DO NOTHING`,
		md.ID, string(data),
	)
	if err != nil {
		return fmt.Errorf("append metadata %s: %w", md.ID, err)
	}
	return nil
}

// Ping reports whether the database is reachable.
func (l *MetadataLog) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

// Close closes the database.
func (l *MetadataLog) Close() error {
	if err := l.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

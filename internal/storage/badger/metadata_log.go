// Package badger persists the metadata log in an embedded BadgerDB so the
// cache survives restarts without an external database.
package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/JakeFAU/watch-wrapped/internal/wrapped"
)

const keyPrefix = "md:"

// MetadataLog stores one key per catalog item. Appends never overwrite an
// existing key, so the first record written for an id is the one kept.
type MetadataLog struct {
	db     *badger.DB
	logger *zap.Logger
	owned  bool
}

// Open opens (or creates) a BadgerDB at dir and returns a log that closes it
// on Close.
func Open(dir string, logger *zap.Logger) (*MetadataLog, error) {
	if dir == "" {
		return nil, fmt.Errorf("badger directory is required")
	}
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil // badger's own logger is noisy; errors surface through returns

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}
	log := NewMetadataLog(db, logger)
	log.owned = true
	return log, nil
}

// NewMetadataLog wraps an already-open database. The caller keeps ownership.
func NewMetadataLog(db *badger.DB, logger *zap.Logger) *MetadataLog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MetadataLog{db: db, logger: logger}
}

// Load returns every stored record. Undecodable values are skipped with a warning.
func (l *MetadataLog) Load(ctx context.Context) ([]wrapped.Metadata, error) {
	var out []wrapped.Metadata
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			err := item.Value(func(val []byte) error {
				md, err := wrapped.UnmarshalMetadata(val)
				if err != nil {
					l.logger.Warn("skipping malformed metadata record",
						zap.ByteString("key", item.KeyCopy(nil)),
						zap.Error(err),
					)
					return nil
				}
				out = append(out, md)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load metadata: %w", err)
	}
	return out, nil
}

// Append stores md unless a record for its id already exists.
func (l *MetadataLog) Append(_ context.Context, md wrapped.Metadata) error {
	data, err := wrapped.MarshalMetadata(md)
	if err != nil {
		return err
	}
	key := []byte(keyPrefix + md.ID)
	err = l.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		switch {
		case err == nil:
			return nil
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return fmt.Errorf("append metadata %s: %w", md.ID, err)
	}
	return nil
}

// Close closes the database if this log opened it.
func (l *MetadataLog) Close() error {
	if !l.owned {
		return nil
	}
	if err := l.db.Close(); err != nil {
		return fmt.Errorf("close badger db: %w", err)
	}
	return nil
}

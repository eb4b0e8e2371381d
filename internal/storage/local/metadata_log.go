package local

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/watch-wrapped/internal/wrapped"
)

// maxRecordBytes bounds a single JSON line in the metadata log.
const maxRecordBytes = 1 << 20

// MetadataLog is an append-only JSON-lines file with one metadata record per
// line. A missing file is an empty log.
type MetadataLog struct {
	path   string
	logger *zap.Logger
	mu     sync.Mutex
}

// NewMetadataLog returns a log stored at path. The parent directory is
// created if needed; the file itself is created on first append.
func NewMetadataLog(path string, logger *zap.Logger) (*MetadataLog, error) {
	if path == "" {
		return nil, fmt.Errorf("metadata log path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := ensureWritableDir(filepath.Dir(path)); err != nil {
		return nil, err
	}
	return &MetadataLog{path: path, logger: logger}, nil
}

// Load reads every well-formed record. Malformed lines are skipped with a
// warning so a torn trailing write cannot block hydration.
func (l *MetadataLog) Load(ctx context.Context) ([]wrapped.Metadata, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open metadata log: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only

	var out []wrapped.Metadata
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordBytes)
	line := 0
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		md, err := wrapped.UnmarshalMetadata(raw)
		if err != nil {
			l.logger.Warn("skipping malformed metadata record",
				zap.String("path", l.path),
				zap.Int("line", line),
				zap.Error(err),
			)
			continue
		}
		out = append(out, md)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read metadata log: %w", err)
	}
	return out, nil
}

// Append writes md as one line and syncs the file.
func (l *MetadataLog) Append(_ context.Context, md wrapped.Metadata) error {
	data, err := wrapped.MarshalMetadata(md)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open metadata log: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("append metadata record: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync metadata log: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close metadata log: %w", err)
	}
	return nil
}

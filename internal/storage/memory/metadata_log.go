package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/watch-wrapped/internal/wrapped"
)

// MetadataLog is an in-memory append-only metadata log. FailAppends makes
// every Append fail, which tests use to exercise durability warnings.
type MetadataLog struct {
	mu          sync.Mutex
	records     []wrapped.Metadata
	loads       int
	FailAppends error
}

// NewMetadataLog returns a log pre-seeded with records.
func NewMetadataLog(records ...wrapped.Metadata) *MetadataLog {
	return &MetadataLog{records: append([]wrapped.Metadata(nil), records...)}
}

// Load returns a copy of every appended record in order.
func (l *MetadataLog) Load(_ context.Context) ([]wrapped.Metadata, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loads++
	out := make([]wrapped.Metadata, len(l.records))
	copy(out, l.records)
	return out, nil
}

// Append records md.
func (l *MetadataLog) Append(_ context.Context, md wrapped.Metadata) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailAppends != nil {
		return l.FailAppends
	}
	l.records = append(l.records, md)
	return nil
}

// Len returns the number of appended records.
func (l *MetadataLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Loads returns how many times Load was called.
func (l *MetadataLog) Loads() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loads
}

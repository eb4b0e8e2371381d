// Package blob stores run results as JSON documents in any BlobStore
// (local filesystem, GCS or memory).
package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/goccy/go-json"

	"github.com/JakeFAU/watch-wrapped/internal/wrapped"
)

const resultObject = "result.json"

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// ResultStore implements store.ResultStore on top of a BlobStore. Results are
// written to {prefix}/{jobID}/result.json.
type ResultStore struct {
	blobs  BlobStore
	prefix string
}

// NewResultStore returns a ResultStore writing through blobs.
func NewResultStore(blobs BlobStore, prefix string) (*ResultStore, error) {
	if blobs == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	return &ResultStore{blobs: blobs, prefix: strings.Trim(prefix, "/")}, nil
}

// SaveResult encodes result and uploads it.
func (s *ResultStore) SaveResult(ctx context.Context, jobID string, result wrapped.Result) (string, error) {
	if strings.TrimSpace(jobID) == "" || strings.ContainsAny(jobID, `/\`) {
		return "", fmt.Errorf("invalid job id %q", jobID)
	}
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal result: %w", err)
	}
	uri, err := s.blobs.PutObject(ctx, s.objectPath(jobID), "application/json", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("store result: %w", err)
	}
	return uri, nil
}

func (s *ResultStore) objectPath(jobID string) string {
	if s.prefix == "" {
		return path.Join(jobID, resultObject)
	}
	return path.Join(s.prefix, jobID, resultObject)
}

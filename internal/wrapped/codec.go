package wrapped

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// metadataRecord is the persisted form of Metadata. Field names are part of
// the on-disk format and must not change.
type metadataRecord struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	ChannelID       string `json:"channel_id"`
	ChannelTitle    string `json:"channel_title"`
	PublishedAt     string `json:"published_at,omitempty"`
	DurationSeconds int64  `json:"duration_seconds"`
	ViewCount       int64  `json:"view_count"`
}

// MarshalMetadata encodes md as a single-line JSON record.
func MarshalMetadata(md Metadata) ([]byte, error) {
	rec := metadataRecord{
		ID:              md.ID,
		Title:           md.Title,
		ChannelID:       md.ChannelID,
		ChannelTitle:    md.ChannelTitle,
		DurationSeconds: md.DurationSeconds,
		ViewCount:       md.ViewCount,
	}
	if !md.PublishedAt.IsZero() {
		rec.PublishedAt = md.PublishedAt.UTC().Format(time.RFC3339Nano)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata %s: %w", md.ID, err)
	}
	return data, nil
}

// UnmarshalMetadata decodes a record produced by MarshalMetadata.
func UnmarshalMetadata(data []byte) (Metadata, error) {
	var rec metadataRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return Metadata{}, fmt.Errorf("unmarshal metadata: %w", err)
	}
	if rec.ID == "" {
		return Metadata{}, fmt.Errorf("unmarshal metadata: missing id")
	}
	md := Metadata{
		ID:              rec.ID,
		Title:           rec.Title,
		ChannelID:       rec.ChannelID,
		ChannelTitle:    rec.ChannelTitle,
		DurationSeconds: rec.DurationSeconds,
		ViewCount:       rec.ViewCount,
	}
	if rec.PublishedAt != "" {
		ts, err := time.Parse(time.RFC3339Nano, rec.PublishedAt)
		if err != nil {
			return Metadata{}, fmt.Errorf("unmarshal metadata %s: published_at: %w", rec.ID, err)
		}
		md.PublishedAt = ts.UTC()
	}
	return md, nil
}

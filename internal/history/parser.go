// Package history turns a watch-history export into ordered watch events and
// extracts catalog identifiers from the events' URLs.
package history

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/JakeFAU/watch-wrapped/internal/wrapped"
)

// ErrMalformedExport is returned when the export cannot be decoded as a whole.
var ErrMalformedExport = errors.New("malformed watch-history export")

// titlePrefix is prepended to every title by the export tooling.
const titlePrefix = "Watched "

// record mirrors one activity entry in a Takeout watch-history.json file.
// Fields not listed here are ignored.
type record struct {
	Title    string  `json:"title"`
	TitleURL *string `json:"titleUrl"`
	Time     string  `json:"time"`
}

// Parse decodes an in-memory export. See ParseReader.
func Parse(payload []byte) ([]wrapped.WatchEvent, error) {
	return ParseReader(bytes.NewReader(payload))
}

// ParseReader decodes a JSON array of activity records, dropping records
// without a URL and preserving the order of the rest. Any structural decode
// failure is reported as ErrMalformedExport.
func ParseReader(r io.Reader) ([]wrapped.WatchEvent, error) {
	dec := json.NewDecoder(r)

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedExport, err)
	}
	if tok == nil {
		if err := expectEOF(dec); err != nil {
			return nil, err
		}
		return []wrapped.WatchEvent{}, nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return nil, fmt.Errorf("%w: expected array, got %v", ErrMalformedExport, tok)
	}

	events := make([]wrapped.WatchEvent, 0, 256)
	for dec.More() {
		var rec record
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", ErrMalformedExport, len(events), err)
		}
		if rec.TitleURL == nil || *rec.TitleURL == "" {
			continue
		}
		events = append(events, wrapped.WatchEvent{
			Title:     strings.TrimPrefix(rec.Title, titlePrefix),
			URL:       *rec.TitleURL,
			WatchedAt: parseTime(rec.Time),
		})
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedExport, err)
	}
	if err := expectEOF(dec); err != nil {
		return nil, err
	}
	return events, nil
}

// expectEOF rejects anything but whitespace after the top-level value.
func expectEOF(dec *json.Decoder) error {
	tok, err := dec.Token()
	switch {
	case errors.Is(err, io.EOF):
		return nil
	case err != nil:
		return fmt.Errorf("%w: trailing data: %v", ErrMalformedExport, err)
	default:
		return fmt.Errorf("%w: trailing data after array: %v", ErrMalformedExport, tok)
	}
}

// parseTime returns the zero time when raw is absent or unparseable.
func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}

package history

import "strings"

// watchMarker precedes the video identifier in a watch URL.
const watchMarker = "watch?v="

// ExtractVideoID returns everything after the first "watch?v=" in url.
// It reports false when the marker is missing or nothing follows it.
func ExtractVideoID(url string) (string, bool) {
	idx := strings.Index(url, watchMarker)
	if idx < 0 {
		return "", false
	}
	id := url[idx+len(watchMarker):]
	if id == "" {
		return "", false
	}
	return id, true
}

// DistinctIDs returns the identifiers of events in first-seen order along with
// the per-event identifier slice ("" for events without one).
func DistinctIDs(urls []string) (ordered []string, perEvent []string) {
	seen := make(map[string]struct{}, len(urls))
	perEvent = make([]string, len(urls))
	for i, u := range urls {
		id, ok := ExtractVideoID(u)
		if !ok {
			continue
		}
		perEvent[i] = id
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ordered = append(ordered, id)
	}
	return ordered, perEvent
}

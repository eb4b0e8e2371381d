package wrapped

import "time"

// JobStatus represents the lifecycle state of a pipeline run.
type JobStatus string

// Job status values reported to the status boundary.
const (
	StatusInitiated  JobStatus = "INITIATED"
	StatusProcessing JobStatus = "PROCESSING"
	StatusCompleted  JobStatus = "COMPLETED"
)

// Rank orders statuses so stores can refuse regressions. Unknown statuses rank 0.
func (s JobStatus) Rank() int {
	switch s {
	case StatusInitiated:
		return 1
	case StatusProcessing:
		return 2
	case StatusCompleted:
		return 3
	default:
		return 0
	}
}

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	return s.Rank() > 0
}

// WatchEvent is one parsed record from a watch-history export.
// A zero WatchedAt means the export carried no usable timestamp.
type WatchEvent struct {
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	WatchedAt time.Time `json:"watched_at"`
}

// HasTime reports whether the event carries a timestamp.
func (e WatchEvent) HasTime() bool {
	return !e.WatchedAt.IsZero()
}

// Metadata is the catalog record for a single video.
type Metadata struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	ChannelID       string    `json:"channel_id"`
	ChannelTitle    string    `json:"channel_title"`
	PublishedAt     time.Time `json:"published_at"`
	DurationSeconds int64     `json:"duration_seconds"`
	ViewCount       int64     `json:"view_count"`
}

// ItemStat is one entry of a per-item ranking.
type ItemStat struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	ChannelTitle string `json:"channel_title"`
	WatchCount   int64  `json:"watch_count"`
	WatchSeconds int64  `json:"watch_seconds"`
	ViewCount    int64  `json:"view_count"`
}

// ChannelStat is one entry of a per-channel ranking.
type ChannelStat struct {
	ChannelID    string `json:"channel_id"`
	ChannelTitle string `json:"channel_title"`
	WatchCount   int64  `json:"watch_count"`
	WatchSeconds int64  `json:"watch_seconds"`
	ViewCount    int64  `json:"view_count"`
}

// MonthStat is the watch time accumulated in one calendar month.
type MonthStat struct {
	Month        string `json:"month"` // YYYY-MM
	WatchSeconds int64  `json:"watch_seconds"`
}

// EnrichmentSummary records what the metadata resolution stage did for a run.
type EnrichmentSummary struct {
	Requested          int `json:"requested"`
	CacheHits          int `json:"cache_hits"`
	Fetched            int `json:"fetched"`
	NotFound           int `json:"not_found"`
	Failed             int `json:"failed"`
	OverCap            int `json:"over_cap"`
	DurabilityWarnings int `json:"durability_warnings"`
}

// Result is the aggregate produced by a single pipeline run.
type Result struct {
	JobID                      string            `json:"job_id"`
	Events                     []WatchEvent      `json:"history,omitempty"`
	TotalVideosWatched         int64             `json:"total_videos_watched"`
	TotalUniqueVideosWatched   int64             `json:"total_unique_videos_watched"`
	TotalUniqueChannelsWatched int64             `json:"total_unique_channels_watched"`
	MostViewedVideos           []ItemStat        `json:"most_viewed_videos"`
	MostWatchedVideos          []ItemStat        `json:"most_watched_videos"`
	ViewsPerChannel            []ChannelStat     `json:"views_per_channel"`
	TimeWatchedPerChannel      []ChannelStat     `json:"time_watched_per_channel"`
	TimeWatchedPerMonth        []MonthStat       `json:"time_watched_per_month"`
	AverageDailyWatchSeconds   float64           `json:"average_daily_watch_seconds"`
	AverageVideoSeconds        float64           `json:"average_video_seconds"`
	WatchesPerHour             [24]int64         `json:"watches_per_hour"`
	MostFrequentHours          []int             `json:"most_frequent_hours"`
	Enrichment                 EnrichmentSummary `json:"enrichment"`
	GeneratedAt                time.Time         `json:"generated_at"`
}

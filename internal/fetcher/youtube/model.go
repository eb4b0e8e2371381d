package youtube

import (
	"strconv"
	"time"

	"github.com/sosodev/duration"
	"go.uber.org/zap"

	"github.com/JakeFAU/watch-wrapped/internal/wrapped"
)

type videoListResponse struct {
	Items []videoItem `json:"items"`
}

type videoItem struct {
	ID      string `json:"id"`
	Snippet struct {
		Title        string `json:"title"`
		ChannelID    string `json:"channelId"`
		ChannelTitle string `json:"channelTitle"`
		PublishedAt  string `json:"publishedAt"`
	} `json:"snippet"`
	ContentDetails struct {
		Duration string `json:"duration"`
	} `json:"contentDetails"`
	Statistics struct {
		ViewCount string `json:"viewCount"`
	} `json:"statistics"`
}

// toMetadata converts an API item. Unparseable optional fields degrade to
// zero values with a warning rather than failing the fetch.
func (c *Client) toMetadata(id string, item videoItem) wrapped.Metadata {
	md := wrapped.Metadata{
		ID:           id,
		Title:        item.Snippet.Title,
		ChannelID:    item.Snippet.ChannelID,
		ChannelTitle: item.Snippet.ChannelTitle,
	}
	if raw := item.Snippet.PublishedAt; raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			md.PublishedAt = ts.UTC()
		} else {
			c.logger.Warn("unparseable publishedAt", zap.String("video_id", id), zap.String("value", raw))
		}
	}
	if raw := item.ContentDetails.Duration; raw != "" {
		if secs, err := parseDurationSeconds(raw); err == nil {
			md.DurationSeconds = secs
		} else {
			c.logger.Warn("unparseable duration", zap.String("video_id", id), zap.String("value", raw), zap.Error(err))
		}
	}
	if raw := item.Statistics.ViewCount; raw != "" {
		if views, err := strconv.ParseInt(raw, 10, 64); err == nil {
			md.ViewCount = views
		} else {
			c.logger.Warn("unparseable viewCount", zap.String("video_id", id), zap.String("value", raw))
		}
	}
	return md
}

// parseDurationSeconds converts an ISO-8601 duration such as PT1H2M3S.
func parseDurationSeconds(raw string) (int64, error) {
	d, err := duration.Parse(raw)
	if err != nil {
		return 0, err
	}
	return int64(d.ToTimeDuration() / time.Second), nil
}

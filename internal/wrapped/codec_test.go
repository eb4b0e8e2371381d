package wrapped

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataRecordRoundTrip(t *testing.T) {
	t.Parallel()

	md := Metadata{
		ID:              "abc123",
		Title:           "Some \"quoted\" title\nwith newline",
		ChannelID:       "UC1",
		ChannelTitle:    "Channel One",
		PublishedAt:     time.Date(2021, 3, 4, 5, 6, 7, 890, time.FixedZone("x", 3600)),
		DurationSeconds: 300,
		ViewCount:       1_000_000,
	}

	data, err := MarshalMetadata(md)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "\n", "record must stay on one line")

	got, err := UnmarshalMetadata(data)
	require.NoError(t, err)
	assert.True(t, got.PublishedAt.Equal(md.PublishedAt))
	assert.Equal(t, time.UTC, got.PublishedAt.Location())
	got.PublishedAt = md.PublishedAt
	assert.Equal(t, md, got)
}

func TestUnmarshalMetadataErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data string
	}{
		{name: "not json", data: "{nope"},
		{name: "missing id", data: `{"title":"x"}`},
		{name: "bad published_at", data: `{"id":"a","published_at":"yesterday"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := UnmarshalMetadata([]byte(tt.data))
			require.Error(t, err)
		})
	}
}

func TestJobStatusRank(t *testing.T) {
	t.Parallel()

	assert.Less(t, StatusInitiated.Rank(), StatusProcessing.Rank())
	assert.Less(t, StatusProcessing.Rank(), StatusCompleted.Rank())
	assert.False(t, JobStatus("bogus").Valid())
	assert.True(t, StatusCompleted.Valid())
}

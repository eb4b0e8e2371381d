package stats

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/watch-wrapped/internal/wrapped"
)

func at(s string) time.Time {
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return ts
}

func ev(ts string) wrapped.WatchEvent {
	e := wrapped.WatchEvent{URL: "https://www.youtube.com/watch?v=x"}
	if ts != "" {
		e.WatchedAt = at(ts)
	}
	return e
}

func TestAggregateThreeEventsTwoItems(t *testing.T) {
	t.Parallel()

	events := []wrapped.WatchEvent{
		ev("2024-01-01T10:00:00Z"),
		ev("2024-01-02T10:30:00Z"),
		ev("2024-01-03T22:00:00Z"),
	}
	ids := []string{"first", "second", "first"}
	join := map[string]wrapped.Metadata{
		"first":  {ID: "first", ChannelID: "c1", DurationSeconds: 120, ViewCount: 50},
		"second": {ID: "second", ChannelID: "c2", DurationSeconds: 300, ViewCount: 10},
	}

	res := Aggregate(events, ids, join, Options{})

	assert.Equal(t, int64(3), res.TotalVideosWatched)
	assert.Equal(t, int64(2), res.TotalUniqueVideosWatched)
	assert.Equal(t, int64(2), res.TotalUniqueChannelsWatched)

	require.Len(t, res.MostWatchedVideos, 2)
	assert.Equal(t, "second", res.MostWatchedVideos[0].ID)
	assert.Equal(t, int64(300), res.MostWatchedVideos[0].WatchSeconds)
	assert.Equal(t, "first", res.MostWatchedVideos[1].ID)
	assert.Equal(t, int64(240), res.MostWatchedVideos[1].WatchSeconds)
	assert.Equal(t, int64(2), res.MostWatchedVideos[1].WatchCount)

	require.Len(t, res.MostViewedVideos, 2)
	assert.Equal(t, "first", res.MostViewedVideos[0].ID)

	// 540 enriched seconds over 3 inclusive days.
	assert.InDelta(t, 180.0, res.AverageDailyWatchSeconds, 1e-9)
	// Mean over distinct items, not weighted by repeats.
	assert.InDelta(t, 210.0, res.AverageVideoSeconds, 1e-9)

	assert.Equal(t, []wrapped.MonthStat{{Month: "2024-01", WatchSeconds: 540}}, res.TimeWatchedPerMonth)
	assert.Equal(t, []int{10}, res.MostFrequentHours)
	assert.Equal(t, int64(2), res.WatchesPerHour[10])
	assert.Equal(t, int64(1), res.WatchesPerHour[22])
}

func TestAggregateEmpty(t *testing.T) {
	t.Parallel()

	res := Aggregate(nil, nil, nil, Options{})
	assert.Zero(t, res.TotalVideosWatched)
	assert.Zero(t, res.TotalUniqueVideosWatched)
	assert.Zero(t, res.AverageDailyWatchSeconds)
	assert.Zero(t, res.AverageVideoSeconds)
	assert.Empty(t, res.MostViewedVideos)
	assert.Empty(t, res.TimeWatchedPerMonth)
	assert.NotNil(t, res.MostFrequentHours)
	assert.Empty(t, res.MostFrequentHours)
}

func TestAggregateUnenrichedAndUnidentified(t *testing.T) {
	t.Parallel()

	events := []wrapped.WatchEvent{
		ev("2024-03-01T08:00:00Z"), // no identifier
		ev("2024-03-01T09:00:00Z"), // identifier not in join (not found or over cap)
		ev(""),                     // enriched, no timestamp
	}
	ids := []string{"", "missing", "known"}
	join := map[string]wrapped.Metadata{
		"known": {ID: "known", ChannelID: "c", DurationSeconds: 60, ViewCount: 5},
	}

	res := Aggregate(events, ids, join, Options{})
	assert.Equal(t, int64(3), res.TotalVideosWatched)
	assert.Equal(t, int64(2), res.TotalUniqueVideosWatched)
	assert.Equal(t, int64(1), res.TotalUniqueChannelsWatched)
	require.Len(t, res.MostViewedVideos, 1)
	assert.Equal(t, "known", res.MostViewedVideos[0].ID)

	// The enriched event has no timestamp so no month bucket exists.
	assert.Empty(t, res.TimeWatchedPerMonth)
	// 60 enriched seconds over a 1-day span.
	assert.InDelta(t, 60.0, res.AverageDailyWatchSeconds, 1e-9)
	assert.Equal(t, []int{8, 9}, res.MostFrequentHours)
}

func TestAggregateTopNAndTieBreak(t *testing.T) {
	t.Parallel()

	var events []wrapped.WatchEvent
	var ids []string
	join := map[string]wrapped.Metadata{}
	for i := 0; i < 15; i++ {
		id := fmt.Sprintf("v%02d", i)
		events = append(events, ev("2024-01-01T00:00:00Z"))
		ids = append(ids, id)
		// Every item ties on views and duration.
		join[id] = wrapped.Metadata{ID: id, ChannelID: fmt.Sprintf("c%02d", i%4), DurationSeconds: 10, ViewCount: 7}
	}

	res := Aggregate(events, ids, join, Options{TopN: 5})
	require.Len(t, res.MostViewedVideos, 5)
	for i, item := range res.MostViewedVideos {
		assert.Equal(t, fmt.Sprintf("v%02d", i), item.ID)
	}
	require.Len(t, res.ViewsPerChannel, 4)
	// c00..c02 have 4 items each (28 views), c03 has 3 (21 views).
	assert.Equal(t, "c00", res.ViewsPerChannel[0].ChannelID)
	assert.Equal(t, int64(28), res.ViewsPerChannel[0].ViewCount)
	assert.Equal(t, "c03", res.ViewsPerChannel[3].ChannelID)

	again := Aggregate(events, ids, join, Options{TopN: 5})
	assert.Equal(t, res, again, "aggregation is deterministic")

	defaulted := Aggregate(events, ids, join, Options{})
	assert.Len(t, defaulted.MostViewedVideos, DefaultTopN)
}

func TestAggregateChannelRollUp(t *testing.T) {
	t.Parallel()

	events := []wrapped.WatchEvent{ev(""), ev(""), ev(""), ev("")}
	ids := []string{"a", "b", "b", "c"}
	join := map[string]wrapped.Metadata{
		"a": {ID: "a", ChannelID: "ch1", ChannelTitle: "One", DurationSeconds: 100, ViewCount: 1},
		"b": {ID: "b", ChannelID: "ch1", ChannelTitle: "One (renamed)", DurationSeconds: 50, ViewCount: 2},
		"c": {ID: "c", ChannelID: "ch2", ChannelTitle: "Two", DurationSeconds: 500, ViewCount: 100},
	}

	res := Aggregate(events, ids, join, Options{})
	require.Len(t, res.TimeWatchedPerChannel, 2)
	assert.Equal(t, wrapped.ChannelStat{
		ChannelID: "ch2", ChannelTitle: "Two", WatchCount: 1, WatchSeconds: 500, ViewCount: 100,
	}, res.TimeWatchedPerChannel[0])
	assert.Equal(t, wrapped.ChannelStat{
		ChannelID: "ch1", ChannelTitle: "One", WatchCount: 3, WatchSeconds: 200, ViewCount: 3,
	}, res.TimeWatchedPerChannel[1])
}

func TestAggregateMonthSeries(t *testing.T) {
	t.Parallel()

	events := []wrapped.WatchEvent{
		ev("2024-03-10T00:00:00Z"),
		ev("2023-12-31T23:30:00Z"),
		ev("2024-01-15T12:00:00Z"),
		ev("2024-03-11T00:00:00Z"),
	}
	ids := []string{"a", "a", "a", "a"}
	join := map[string]wrapped.Metadata{"a": {ID: "a", DurationSeconds: 10}}

	res := Aggregate(events, ids, join, Options{})
	assert.Equal(t, []wrapped.MonthStat{
		{Month: "2023-12", WatchSeconds: 10},
		{Month: "2024-01", WatchSeconds: 10},
		{Month: "2024-03", WatchSeconds: 20},
	}, res.TimeWatchedPerMonth)

	limited := Aggregate(events, ids, join, Options{MonthLimit: 2})
	assert.Equal(t, []string{"2023-12", "2024-01"}, []string{limited.TimeWatchedPerMonth[0].Month, limited.TimeWatchedPerMonth[1].Month})
	assert.Len(t, limited.TimeWatchedPerMonth, 2)

	// In UTC+1 the December event falls on 2024-01-01.
	shifted := Aggregate(events, ids, join, Options{Location: time.FixedZone("UTC+1", 3600)})
	assert.Equal(t, "2024-01", shifted.TimeWatchedPerMonth[0].Month)
	assert.Equal(t, int64(20), shifted.TimeWatchedPerMonth[0].WatchSeconds)
}

func TestDaySpan(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int64(1), daySpan(at("2024-01-01T00:00:00Z"), at("2024-01-01T23:59:59Z"), time.UTC))
	assert.Equal(t, int64(2), daySpan(at("2024-01-01T23:59:59Z"), at("2024-01-02T00:00:00Z"), time.UTC))
	assert.Equal(t, int64(366), daySpan(at("2024-01-01T00:00:00Z"), at("2024-12-31T12:00:00Z"), time.UTC))
}

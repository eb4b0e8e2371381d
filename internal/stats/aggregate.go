// Package stats computes the aggregate viewing statistics for a run from the
// parsed events joined with their catalog metadata.
package stats

import (
	"sort"
	"time"

	"github.com/JakeFAU/watch-wrapped/internal/wrapped"
)

// DefaultTopN is the ranking length used when Options.TopN is unset.
const DefaultTopN = 10

// Options tunes aggregation.
type Options struct {
	// TopN bounds every ranking. Non-positive means DefaultTopN.
	TopN int
	// MonthLimit keeps only the first MonthLimit months of the chronological
	// series. Zero keeps all months.
	MonthLimit int
	// Location determines calendar months, days and hours. Nil means UTC.
	Location *time.Location
}

type itemAcc struct {
	md         wrapped.Metadata
	watchCount int64
}

// Aggregate computes every statistic in one traversal of events. ids holds
// the identifier extracted from each event ("" when none) and must be the
// same length as events. Only identifiers present in join count as enriched.
func Aggregate(events []wrapped.WatchEvent, ids []string, join map[string]wrapped.Metadata, opts Options) wrapped.Result {
	topN := opts.TopN
	if topN <= 0 {
		topN = DefaultTopN
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	var (
		res           wrapped.Result
		distinct      = make(map[string]struct{})
		items         = make(map[string]*itemAcc)
		channels      = make(map[string]struct{})
		months        = make(map[string]int64)
		enrichedSecs  int64
		first, last   time.Time
		haveTimestamp bool
	)
	res.TotalVideosWatched = int64(len(events))

	for i, ev := range events {
		id := ""
		if i < len(ids) {
			id = ids[i]
		}
		if id != "" {
			distinct[id] = struct{}{}
		}

		var local time.Time
		if ev.HasTime() {
			local = ev.WatchedAt.In(loc)
			res.WatchesPerHour[local.Hour()]++
			if !haveTimestamp || ev.WatchedAt.Before(first) {
				first = ev.WatchedAt
			}
			if !haveTimestamp || ev.WatchedAt.After(last) {
				last = ev.WatchedAt
			}
			haveTimestamp = true
		}

		md, enriched := join[id]
		if id == "" || !enriched {
			continue
		}
		acc, ok := items[id]
		if !ok {
			acc = &itemAcc{md: md}
			items[id] = acc
		}
		acc.watchCount++
		if md.ChannelID != "" {
			channels[md.ChannelID] = struct{}{}
		}
		enrichedSecs += md.DurationSeconds
		if ev.HasTime() {
			months[local.Format("2006-01")] += md.DurationSeconds
		}
	}

	res.TotalUniqueVideosWatched = int64(len(distinct))
	res.TotalUniqueChannelsWatched = int64(len(channels))

	itemStats, channelStats, durationSum := rollUp(items)
	res.MostViewedVideos = topItems(itemStats, topN, func(s wrapped.ItemStat) int64 { return s.ViewCount })
	res.MostWatchedVideos = topItems(itemStats, topN, func(s wrapped.ItemStat) int64 { return s.WatchSeconds })
	res.ViewsPerChannel = topChannels(channelStats, topN, func(c wrapped.ChannelStat) int64 { return c.ViewCount })
	res.TimeWatchedPerChannel = topChannels(channelStats, topN, func(c wrapped.ChannelStat) int64 { return c.WatchSeconds })
	res.TimeWatchedPerMonth = monthSeries(months, opts.MonthLimit)

	if len(items) > 0 {
		res.AverageVideoSeconds = float64(durationSum) / float64(len(items))
	}
	if haveTimestamp {
		res.AverageDailyWatchSeconds = float64(enrichedSecs) / float64(daySpan(first, last, loc))
	}
	res.MostFrequentHours = peakHours(res.WatchesPerHour)
	return res
}

// rollUp builds per-item and per-channel stats. Items are visited in id
// order so the channel title chosen for a channel is deterministic.
func rollUp(items map[string]*itemAcc) ([]wrapped.ItemStat, []wrapped.ChannelStat, int64) {
	ids := make([]string, 0, len(items))
	for id := range items {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	itemStats := make([]wrapped.ItemStat, 0, len(ids))
	byChannel := make(map[string]*wrapped.ChannelStat)
	var channelOrder []string
	var durationSum int64
	for _, id := range ids {
		acc := items[id]
		stat := wrapped.ItemStat{
			ID:           id,
			Title:        acc.md.Title,
			ChannelTitle: acc.md.ChannelTitle,
			WatchCount:   acc.watchCount,
			WatchSeconds: acc.watchCount * acc.md.DurationSeconds,
			ViewCount:    acc.md.ViewCount,
		}
		itemStats = append(itemStats, stat)
		durationSum += acc.md.DurationSeconds

		if acc.md.ChannelID == "" {
			continue
		}
		ch, ok := byChannel[acc.md.ChannelID]
		if !ok {
			ch = &wrapped.ChannelStat{
				ChannelID:    acc.md.ChannelID,
				ChannelTitle: acc.md.ChannelTitle,
			}
			byChannel[acc.md.ChannelID] = ch
			channelOrder = append(channelOrder, acc.md.ChannelID)
		}
		ch.WatchCount += stat.WatchCount
		ch.WatchSeconds += stat.WatchSeconds
		ch.ViewCount += stat.ViewCount
	}

	channelStats := make([]wrapped.ChannelStat, 0, len(channelOrder))
	for _, id := range channelOrder {
		channelStats = append(channelStats, *byChannel[id])
	}
	return itemStats, channelStats, durationSum
}

// topItems ranks by key descending, breaking ties by id ascending.
func topItems(in []wrapped.ItemStat, n int, key func(wrapped.ItemStat) int64) []wrapped.ItemStat {
	out := make([]wrapped.ItemStat, len(in))
	copy(out, in)
	sort.Slice(out, func(i, j int) bool {
		ki, kj := key(out[i]), key(out[j])
		if ki == kj {
			return out[i].ID < out[j].ID
		}
		return ki > kj
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func topChannels(in []wrapped.ChannelStat, n int, key func(wrapped.ChannelStat) int64) []wrapped.ChannelStat {
	out := make([]wrapped.ChannelStat, len(in))
	copy(out, in)
	sort.Slice(out, func(i, j int) bool {
		ki, kj := key(out[i]), key(out[j])
		if ki == kj {
			return out[i].ChannelID < out[j].ChannelID
		}
		return ki > kj
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func monthSeries(months map[string]int64, limit int) []wrapped.MonthStat {
	keys := make([]string, 0, len(months))
	for k := range months {
		keys = append(keys, k)
	}
	// YYYY-MM sorts chronologically as a string.
	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	out := make([]wrapped.MonthStat, 0, len(keys))
	for _, k := range keys {
		out = append(out, wrapped.MonthStat{Month: k, WatchSeconds: months[k]})
	}
	return out
}

// daySpan counts calendar days from first to last inclusive in loc.
func daySpan(first, last time.Time, loc *time.Location) int64 {
	f := first.In(loc)
	l := last.In(loc)
	start := time.Date(f.Year(), f.Month(), f.Day(), 0, 0, 0, 0, time.UTC)
	end := time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, time.UTC)
	return int64(end.Sub(start)/(24*time.Hour)) + 1
}

func peakHours(hist [24]int64) []int {
	var peak int64
	for _, c := range hist {
		peak = max(peak, c)
	}
	hours := []int{}
	if peak == 0 {
		return hours
	}
	for h, c := range hist {
		if c == peak {
			hours = append(hours, h)
		}
	}
	return hours
}

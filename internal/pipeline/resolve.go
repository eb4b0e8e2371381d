package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/watch-wrapped/internal/cache"
	"github.com/JakeFAU/watch-wrapped/internal/dispatcher"
	"github.com/JakeFAU/watch-wrapped/internal/progress"
	"github.com/JakeFAU/watch-wrapped/internal/wrapped"
)

type outcome int

const (
	outcomeFetched outcome = iota
	outcomeNotFound
	outcomeFailed
)

type resolution struct {
	md      wrapped.Metadata
	outcome outcome
	durErr  error
	err     error
}

// resolve returns the metadata join for ids. Cache hits are served directly;
// misses go through the fetch pool, where the cache guarantees one catalog
// request per id. Transport failures skip the id. Only context errors and
// cache hydration failures abort the run.
func (o *Orchestrator) resolve(
	ctx context.Context,
	jobID string,
	ids []string,
	summary *wrapped.EnrichmentSummary,
	logger *zap.Logger,
) (map[string]wrapped.Metadata, error) {
	join := make(map[string]wrapped.Metadata, len(ids))
	var misses []string
	for _, id := range ids {
		md, ok, err := o.cache.Lookup(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("cache lookup: %w", err)
		}
		if ok {
			join[id] = md
			summary.CacheHits++
			o.emit(progress.Event{JobID: jobID, Stage: progress.StageCacheHit, VideoID: id})
			continue
		}
		misses = append(misses, id)
	}
	if len(misses) == 0 {
		return join, nil
	}

	pool := dispatcher.New(o.cfg.FetchConcurrency, o.cfg.QueueDepth, func(ctx context.Context, id string) resolution {
		return o.fill(ctx, jobID, id)
	})
	results, err := pool.Run(ctx, misses)
	if err != nil {
		return nil, fmt.Errorf("resolve metadata: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("resolve metadata: %w", err)
	}

	for i, res := range results {
		id := misses[i]
		switch res.outcome {
		case outcomeFetched:
			join[id] = res.md
			summary.Fetched++
			if res.durErr != nil {
				summary.DurabilityWarnings++
				logger.Warn("metadata cached in memory only",
					zap.String("video_id", id), zap.Error(res.durErr))
			}
		case outcomeNotFound:
			summary.NotFound++
		case outcomeFailed:
			summary.Failed++
			logger.Warn("metadata fetch failed; item skipped",
				zap.String("video_id", id), zap.Error(res.err))
		}
	}
	return join, nil
}

func (o *Orchestrator) fill(ctx context.Context, jobID, id string) resolution {
	start := o.clock.Now()
	md, found, err := o.cache.Fill(ctx, id, o.fetcher.FetchMetadata)
	evt := progress.Event{JobID: jobID, VideoID: id, Dur: o.since(start)}

	var res resolution
	switch {
	case err != nil && !errors.Is(err, cache.ErrNotDurable):
		res = resolution{outcome: outcomeFailed, err: err}
		evt.Stage = progress.StageFetchError
		evt.Note = err.Error()
	case !found:
		res = resolution{outcome: outcomeNotFound}
		evt.Stage = progress.StageFetchMissing
	default:
		res = resolution{md: md, outcome: outcomeFetched, durErr: err}
		evt.Stage = progress.StageFetchDone
	}
	o.emit(evt)
	return res
}

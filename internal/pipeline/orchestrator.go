package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/watch-wrapped/internal/cache"
	"github.com/JakeFAU/watch-wrapped/internal/clock/system"
	"github.com/JakeFAU/watch-wrapped/internal/history"
	"github.com/JakeFAU/watch-wrapped/internal/metrics"
	"github.com/JakeFAU/watch-wrapped/internal/progress"
	"github.com/JakeFAU/watch-wrapped/internal/stats"
	"github.com/JakeFAU/watch-wrapped/internal/store"
	"github.com/JakeFAU/watch-wrapped/internal/wrapped"
)

// DefaultMaxItems bounds how many distinct identifiers one run enriches.
const DefaultMaxItems = 5000

// Config controls Orchestrator behavior.
type Config struct {
	// MaxItems caps the distinct identifiers resolved per run, in first-seen
	// order. Non-positive means DefaultMaxItems.
	MaxItems int
	// FetchConcurrency is the number of workers resolving cache misses.
	FetchConcurrency int
	// QueueDepth bounds the work queue feeding the workers.
	QueueDepth int
	// JobTimeout bounds a whole run. Zero disables the bound.
	JobTimeout time.Duration
	// Topic receives the completion notification when a Publisher is set.
	Topic string
	// IncludeHistory copies the parsed events into the result.
	IncludeHistory bool
	// Stats tunes aggregation.
	Stats stats.Options
}

// Deps are the collaborators a run needs. Cache, Fetcher, Status and Results
// are required.
type Deps struct {
	Cache     *cache.Cache
	Fetcher   wrapped.MetadataFetcher
	Status    store.StatusStore
	Results   store.ResultStore
	Publisher wrapped.Publisher
	Progress  progress.Emitter
	Clock     wrapped.Clock
	Logger    *zap.Logger
}

// Orchestrator executes pipeline runs. One Orchestrator serves many runs and
// shares its cache across them.
type Orchestrator struct {
	cache     *cache.Cache
	fetcher   wrapped.MetadataFetcher
	status    store.StatusStore
	results   store.ResultStore
	publisher wrapped.Publisher
	progress  progress.Emitter
	clock     wrapped.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs an Orchestrator.
func New(deps Deps, cfg Config) (*Orchestrator, error) {
	switch {
	case deps.Cache == nil:
		return nil, errors.New("pipeline: cache is required")
	case deps.Fetcher == nil:
		return nil, errors.New("pipeline: metadata fetcher is required")
	case deps.Status == nil:
		return nil, errors.New("pipeline: status store is required")
	case deps.Results == nil:
		return nil, errors.New("pipeline: result store is required")
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = DefaultMaxItems
	}
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = 1
	}
	if deps.Progress == nil {
		deps.Progress = progress.Discard
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Orchestrator{
		cache:     deps.Cache,
		fetcher:   deps.Fetcher,
		status:    deps.Status,
		results:   deps.Results,
		publisher: deps.Publisher,
		progress:  deps.Progress,
		clock:     deps.Clock,
		cfg:       cfg,
		logger:    deps.Logger,
	}, nil
}

// Run processes one export payload for jobID. On failure the status stays at
// the last value reached and no result is returned.
func (o *Orchestrator) Run(ctx context.Context, jobID string, payload []byte) (wrapped.Result, error) {
	if jobID == "" {
		return wrapped.Result{}, errors.New("pipeline: job id is required")
	}
	if o.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.JobTimeout)
		defer cancel()
	}
	logger := o.logger.With(zap.String("job_id", jobID))
	started := o.clock.Now()

	result, err := o.run(ctx, jobID, payload, logger)
	if err != nil {
		metrics.ObserveJob("failed")
		o.emit(progress.Event{JobID: jobID, Stage: progress.StageJobError, Dur: o.since(started), Note: err.Error()})
		logger.Error("pipeline run failed", zap.Error(err))
		return wrapped.Result{}, err
	}
	metrics.ObserveJob("completed")
	o.emit(progress.Event{
		JobID: jobID,
		Stage: progress.StageJobDone,
		Count: result.TotalUniqueVideosWatched,
		Dur:   o.since(started),
	})
	return result, nil
}

func (o *Orchestrator) run(ctx context.Context, jobID string, payload []byte, logger *zap.Logger) (wrapped.Result, error) {
	if err := o.setStatus(ctx, jobID, wrapped.StatusInitiated); err != nil {
		return wrapped.Result{}, err
	}

	events, err := history.Parse(payload)
	if err != nil {
		return wrapped.Result{}, fmt.Errorf("parse export: %w", err)
	}
	o.emit(progress.Event{JobID: jobID, Stage: progress.StageJobStart, Count: int64(len(events))})

	urls := make([]string, len(events))
	for i, ev := range events {
		urls[i] = ev.URL
	}
	ordered, perEvent := history.DistinctIDs(urls)

	var summary wrapped.EnrichmentSummary
	if len(ordered) > o.cfg.MaxItems {
		summary.OverCap = len(ordered) - o.cfg.MaxItems
		logger.Warn("distinct items exceed cap; excess left unenriched",
			zap.Int("distinct", len(ordered)), zap.Int("cap", o.cfg.MaxItems))
		ordered = ordered[:o.cfg.MaxItems]
	}
	summary.Requested = len(ordered)

	join, err := o.resolve(ctx, jobID, ordered, &summary, logger)
	if err != nil {
		return wrapped.Result{}, err
	}

	if err := o.setStatus(ctx, jobID, wrapped.StatusProcessing); err != nil {
		return wrapped.Result{}, err
	}

	result := stats.Aggregate(events, perEvent, join, o.cfg.Stats)
	result.JobID = jobID
	result.Enrichment = summary
	result.GeneratedAt = o.clock.Now().UTC()
	if o.cfg.IncludeHistory {
		result.Events = events
	}

	uri, err := o.results.SaveResult(ctx, jobID, result)
	if err != nil {
		return wrapped.Result{}, fmt.Errorf("save result: %w", err)
	}
	if err := o.setStatus(ctx, jobID, wrapped.StatusCompleted); err != nil {
		return wrapped.Result{}, err
	}

	logger.Info("pipeline run completed",
		zap.String("result_uri", uri),
		zap.Int64("total", result.TotalVideosWatched),
		zap.Int64("unique", result.TotalUniqueVideosWatched),
		zap.Int("cache_hits", summary.CacheHits),
		zap.Int("fetched", summary.Fetched),
		zap.Int("not_found", summary.NotFound),
		zap.Int("failed", summary.Failed),
	)
	o.publishCompletion(ctx, result, uri, logger)
	return result, nil
}

func (o *Orchestrator) setStatus(ctx context.Context, jobID string, status wrapped.JobStatus) error {
	if err := o.status.SetStatus(ctx, jobID, status); err != nil {
		return fmt.Errorf("set status %s: %w", status, err)
	}
	return nil
}

func (o *Orchestrator) publishCompletion(ctx context.Context, result wrapped.Result, uri string, logger *zap.Logger) {
	if o.publisher == nil || o.cfg.Topic == "" {
		return
	}
	msg := wrapped.Completion{
		JobID:       result.JobID,
		Status:      wrapped.StatusCompleted,
		ResultURI:   uri,
		TotalVideos: result.TotalVideosWatched,
		FinishedAt:  result.GeneratedAt,
	}
	msgID, err := o.publisher.Publish(ctx, o.cfg.Topic, msg)
	if err != nil {
		logger.Warn("completion publish failed", zap.String("topic", o.cfg.Topic), zap.Error(err))
		return
	}
	logger.Debug("completion published", zap.String("message_id", msgID))
}

func (o *Orchestrator) emit(evt progress.Event) {
	if evt.TS.IsZero() {
		evt.TS = o.clock.Now()
	}
	o.progress.Emit(evt)
}

func (o *Orchestrator) since(start time.Time) time.Duration {
	return max(o.clock.Now().Sub(start), 0)
}

// Package app builds and owns the long-lived services of the process: the
// shared metadata cache, its persisted log, the status and result stores, the
// catalog client, the completion publisher and the progress hub.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/watch-wrapped/internal/api"
	"github.com/JakeFAU/watch-wrapped/internal/cache"
	"github.com/JakeFAU/watch-wrapped/internal/clock/system"
	"github.com/JakeFAU/watch-wrapped/internal/config"
	"github.com/JakeFAU/watch-wrapped/internal/fetcher/youtube"
	"github.com/JakeFAU/watch-wrapped/internal/logging"
	"github.com/JakeFAU/watch-wrapped/internal/metrics"
	"github.com/JakeFAU/watch-wrapped/internal/pipeline"
	"github.com/JakeFAU/watch-wrapped/internal/progress"
	progresssinks "github.com/JakeFAU/watch-wrapped/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/watch-wrapped/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/watch-wrapped/internal/publisher/pubsub"
	"github.com/JakeFAU/watch-wrapped/internal/stats"
	badgerstore "github.com/JakeFAU/watch-wrapped/internal/storage/badger"
	"github.com/JakeFAU/watch-wrapped/internal/storage/blob"
	gcsstorage "github.com/JakeFAU/watch-wrapped/internal/storage/gcs"
	localstorage "github.com/JakeFAU/watch-wrapped/internal/storage/local"
	memorystorage "github.com/JakeFAU/watch-wrapped/internal/storage/memory"
	pgstore "github.com/JakeFAU/watch-wrapped/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/watch-wrapped/internal/storage/sqlite"
	"github.com/JakeFAU/watch-wrapped/internal/store"
	"github.com/JakeFAU/watch-wrapped/internal/wrapped"
)

const defaultTopic = "wrapped-completions"

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	cache     *cache.Cache
	cacheLog  cache.Log
	status    store.StatusStore
	results   store.ResultStore
	publisher wrapped.Publisher
	topic     string
	progress  progress.Emitter

	pgPool          *pgxpool.Pool
	badgerLog       *badgerstore.MetadataLog
	sqliteLog       *sqlitestore.MetadataLog
	storage         *storage.Client
	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsub.Publisher
	progressHub     *progress.Hub
	opsServer       *http.Server

	pipelineOnce sync.Once
	pipeline     *pipeline.Orchestrator
	pipelineErr  error
}

// Build creates the application's dependencies. The catalog client is built
// lazily by Pipeline so commands that never fetch do not need an API key.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(logging.Config{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	a := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.String("results_backend", cfg.Results.Backend),
		zap.String("status_backend", cfg.Status.Backend),
	)

	steps := []func(context.Context) error{
		a.setupDatabase,
		a.setupCache,
		a.setupStatus,
		a.setupResults,
		a.setupPublisher,
		a.setupProgress,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			a.closeInfrastructure(ctx)
			return nil, err
		}
	}
	return a, nil
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Cache returns the process-wide metadata cache.
func (a *App) Cache() *cache.Cache {
	return a.cache
}

// Status returns the configured status store.
func (a *App) Status() store.StatusStore {
	return a.status
}

// Pipeline returns the orchestrator, building the catalog client on first use.
func (a *App) Pipeline() (*pipeline.Orchestrator, error) {
	a.pipelineOnce.Do(func() {
		a.pipeline, a.pipelineErr = a.buildPipeline()
	})
	return a.pipeline, a.pipelineErr
}

func (a *App) buildPipeline() (*pipeline.Orchestrator, error) {
	cat := a.cfg.Catalog
	fetcher, err := youtube.New(youtube.Config{
		BaseURL:         cat.BaseURL,
		APIKey:          cat.APIKey,
		Timeout:         a.cfg.CatalogTimeout(),
		RateLimitRPS:    cat.RateLimitRPS,
		RateLimitBurst:  cat.RateLimitBurst,
		MaxAttempts:     cat.MaxRetries + 1,
		BackoffBase:     time.Duration(cat.BackoffInitialMs) * time.Millisecond,
		BackoffMax:      time.Duration(cat.BackoffMaxMs) * time.Millisecond,
		BreakerFailures: cat.BreakerFailures,
		BreakerTimeout:  time.Duration(cat.BreakerTimeoutSeconds) * time.Second,
	}, nil, a.logger.Named("catalog"))
	if err != nil {
		return nil, fmt.Errorf("catalog client init failed: %w", err)
	}

	pc := a.cfg.Pipeline
	orch, err := pipeline.New(pipeline.Deps{
		Cache:     a.cache,
		Fetcher:   fetcher,
		Status:    a.status,
		Results:   a.results,
		Publisher: a.publisher,
		Progress:  a.progress,
		Clock:     system.New(),
		Logger:    a.logger.Named("pipeline"),
	}, pipeline.Config{
		MaxItems:         pc.MaxItems,
		FetchConcurrency: pc.FetchConcurrency,
		QueueDepth:       pc.QueueDepth,
		JobTimeout:       a.cfg.JobTimeout(),
		Topic:            a.topic,
		IncludeHistory:   pc.IncludeHistory,
		Stats: stats.Options{
			TopN:       pc.TopN,
			MonthLimit: pc.MonthLimit,
			Location:   a.cfg.Location(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline init failed: %w", err)
	}
	a.logger.Info("pipeline ready",
		zap.Int("max_items", pc.MaxItems),
		zap.Int("fetch_concurrency", pc.FetchConcurrency),
		zap.Duration("job_timeout", a.cfg.JobTimeout()),
	)
	return orch, nil
}

func (a *App) setupDatabase(ctx context.Context) error {
	if !a.cfg.UsesPostgres() {
		return nil
	}
	pool, err := pgstore.Connect(ctx, pgstore.Config{
		DSN:      a.cfg.Database.DSN,
		MaxConns: a.cfg.Database.MaxConns,
		MinConns: a.cfg.Database.MinConns,
	})
	if err != nil {
		return fmt.Errorf("database init failed: %w", err)
	}
	a.pgPool = pool
	if err := pgstore.EnsureSchema(ctx, pool, pgstore.DefaultTables()); err != nil {
		return fmt.Errorf("database schema init failed: %w", err)
	}
	a.logger.Info("postgres connected")
	return nil
}

func (a *App) setupCache(ctx context.Context) error {
	var err error
	switch a.cfg.Cache.Backend {
	case config.BackendFile:
		a.cacheLog, err = localstorage.NewMetadataLog(a.cfg.Cache.Path, a.logger.Named("cache_log"))
	case config.BackendSQLite:
		a.sqliteLog, err = sqlitestore.Open(ctx, a.cfg.Cache.SQLitePath, a.logger.Named("cache_log"))
		a.cacheLog = a.sqliteLog
	case config.BackendBadger:
		a.badgerLog, err = badgerstore.Open(a.cfg.Cache.BadgerDir, a.logger.Named("cache_log"))
		a.cacheLog = a.badgerLog
	case config.BackendPostgres:
		a.cacheLog, err = pgstore.NewMetadataLog(a.pgPool, pgstore.DefaultTables().Metadata, a.logger.Named("cache_log"))
	default:
		a.logger.Warn("using in-memory metadata log; the cache will not survive a restart")
		a.cacheLog = memorystorage.NewMetadataLog()
	}
	if err != nil {
		return fmt.Errorf("metadata log init failed: %w", err)
	}
	a.cache = cache.New(a.cacheLog, a.logger.Named("cache"), cache.WithFetchTimeout(a.cacheFetchTimeout()))
	return nil
}

// cacheFetchTimeout bounds a shared catalog fetch by the worst case of every
// attempt timing out plus the longest backoff between attempts.
func (a *App) cacheFetchTimeout() time.Duration {
	cat := a.cfg.Catalog
	attempts := time.Duration(cat.MaxRetries + 1)
	return attempts*a.cfg.CatalogTimeout() + attempts*time.Duration(cat.BackoffMaxMs)*time.Millisecond
}

func (a *App) setupStatus(_ context.Context) error {
	if a.cfg.Status.Backend != config.BackendPostgres {
		a.status = memorystorage.NewStatusStore()
		return nil
	}
	st, err := pgstore.NewStatusStore(a.pgPool, pgstore.DefaultTables().Status)
	if err != nil {
		return fmt.Errorf("status store init failed: %w", err)
	}
	a.status = st
	return nil
}

func (a *App) setupResults(ctx context.Context) error {
	rc := a.cfg.Results
	var (
		blobs blob.BlobStore
		err   error
	)
	switch rc.Backend {
	case config.BackendPostgres:
		rs, err := pgstore.NewResultStore(a.pgPool, pgstore.DefaultTables().Results)
		if err != nil {
			return fmt.Errorf("result store init failed: %w", err)
		}
		a.results = rs
		return nil
	case config.BackendGCS:
		a.storage, err = storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		blobs, err = gcsstorage.New(a.storage, gcsstorage.Config{Bucket: rc.Bucket})
		a.logger.Debug("GCS results backend", zap.String("bucket", rc.Bucket))
	case config.BackendLocal:
		blobs, err = localstorage.New(localstorage.Config{BaseDir: rc.BaseDir})
		a.logger.Debug("local results backend", zap.String("path", rc.BaseDir))
	default:
		blobs = memorystorage.NewBlobStore()
	}
	if err != nil {
		return fmt.Errorf("blob store init failed: %w", err)
	}
	a.results, err = blob.NewResultStore(blobs, rc.Prefix)
	if err != nil {
		return fmt.Errorf("result store init failed: %w", err)
	}
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	ps := a.cfg.PubSub
	if ps.ProjectID == "" || ps.TopicName == "" {
		a.logger.Debug("no Pub/Sub topic configured, using in-memory publisher")
		a.publisher = memorypublisher.New()
		a.topic = defaultTopic
		return nil
	}
	var err error
	a.pubsubClient, err = pubsub.NewClient(ctx, ps.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubPublisher = a.pubsubClient.Publisher(ps.TopicName)
	a.publisher = gcppublisher.New(a.pubsubPublisher)
	a.topic = ps.TopicName
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", ps.ProjectID),
		zap.String("topic", ps.TopicName),
	)
	return nil
}

func (a *App) setupProgress(_ context.Context) error {
	pc := a.cfg.Progress
	if !pc.Enabled {
		a.progress = progress.Discard
		return nil
	}
	sinks := make([]progress.Sink, 0, 2)
	promSink, err := progresssinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return fmt.Errorf("progress metrics init failed: %w", err)
		}
		a.logger.Debug("progress collectors already registered; metrics sink skipped")
	} else {
		sinks = append(sinks, promSink)
	}
	if pc.LogEnabled {
		sinks = append(sinks, progresssinks.NewLogSink(a.logger.Named("progress")))
	}
	a.progressHub = progress.NewHub(progress.Config{
		BufferSize:     pc.BufferSize,
		MaxBatchEvents: pc.Batch.MaxEvents,
		MaxBatchWait:   time.Duration(pc.Batch.MaxWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(pc.SinkTimeoutMs) * time.Millisecond,
		Logger:         a.logger.Named("progress_hub"),
	}, sinks...)
	a.progress = a.progressHub
	return nil
}

// OpsHandler returns the ops HTTP handler with readiness checks for the
// configured backends.
func (a *App) OpsHandler() http.Handler {
	checks := map[string]api.Check{
		"cache": a.cache.Hydrate,
	}
	if a.pgPool != nil {
		checks["database"] = a.pgPool.Ping
	}
	if a.sqliteLog != nil {
		checks["sqlite"] = a.sqliteLog.Ping
	}
	return api.NewServer(a.status, a.cache, checks, a.logger.Named("api"),
		api.WithRateLimit(a.cfg.Server.RateLimitPerMinute),
	).Handler()
}

// StartOps serves the ops endpoints in the background when enabled. Close
// shuts the server down.
func (a *App) StartOps() {
	if !a.cfg.Server.Enabled {
		return
	}
	a.opsServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.OpsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := a.opsServer
	go func() {
		a.logger.Info("ops server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("ops server error", zap.Error(err))
		}
	}()
}

// Close releases every resource the App opened. It is safe to call once
// after Build succeeds.
func (a *App) Close(ctx context.Context) error {
	if a.opsServer != nil {
		if err := a.opsServer.Shutdown(ctx); err != nil {
			a.logger.Warn("ops server shutdown failed", zap.Error(err))
		}
	}
	a.closeInfrastructure(ctx)
	a.logger.Info("shutdown complete")
	_ = a.logger.Sync()
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.badgerLog != nil {
		if err := a.badgerLog.Close(); err != nil {
			a.logger.Warn("badger close failed", zap.Error(err))
		}
	}
	if a.sqliteLog != nil {
		if err := a.sqliteLog.Close(); err != nil {
			a.logger.Warn("sqlite close failed", zap.Error(err))
		}
	}
	if a.pgPool != nil {
		a.pgPool.Close()
	}
}

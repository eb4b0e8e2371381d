// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"
	_ "time/tzdata" // embedded zone database for pipeline.timezone

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. WRAPPED_CATALOG_API_KEY.
const EnvPrefix = "WRAPPED"

// Backend names accepted by the cache, results and status sections.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
)

// Config captures all service configuration knobs loaded via Viper. Field
// rules live in the validate tags; Validate adds the cross-section checks.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Database DatabaseConfig `mapstructure:"database"`
	Results  ResultsConfig  `mapstructure:"results"`
	Status   StatusConfig   `mapstructure:"status"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Progress ProgressConfig `mapstructure:"progress"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port" validate:"required_if=Enabled true,gte=0,lte=65535"`
	// RateLimitPerMinute caps requests per client IP. Zero disables limiting.
	RateLimitPerMinute int `mapstructure:"rate_limit_per_minute" validate:"gte=0"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
}

// PipelineConfig governs a single run.
type PipelineConfig struct {
	MaxItems          int    `mapstructure:"max_items" validate:"gt=0"`
	TopN              int    `mapstructure:"top_n" validate:"gt=0"`
	MonthLimit        int    `mapstructure:"month_limit" validate:"gte=0"`
	FetchConcurrency  int    `mapstructure:"fetch_concurrency" validate:"gt=0"`
	QueueDepth        int    `mapstructure:"queue_depth" validate:"gte=0"`
	JobTimeoutSeconds int    `mapstructure:"job_timeout_seconds" validate:"gte=0"`
	Timezone          string `mapstructure:"timezone" validate:"required,timezone"`
	IncludeHistory    bool   `mapstructure:"include_history"`
}

// CatalogConfig configures the metadata catalog client.
type CatalogConfig struct {
	BaseURL               string  `mapstructure:"base_url" validate:"required,url"`
	APIKey                string  `mapstructure:"api_key"`
	TimeoutSeconds        int     `mapstructure:"timeout_seconds" validate:"gt=0"`
	RateLimitRPS          float64 `mapstructure:"rate_limit_rps" validate:"gte=0"`
	RateLimitBurst        int     `mapstructure:"rate_limit_burst" validate:"gte=0"`
	MaxRetries            int     `mapstructure:"max_retries" validate:"gte=0"`
	BackoffInitialMs      int     `mapstructure:"backoff_initial_ms" validate:"gte=0"`
	BackoffMaxMs          int     `mapstructure:"backoff_max_ms" validate:"gte=0"`
	BreakerFailures       uint32  `mapstructure:"breaker_failures"`
	BreakerTimeoutSeconds int     `mapstructure:"breaker_timeout_seconds" validate:"gte=0"`
}

// CacheConfig selects where the metadata cache persists.
type CacheConfig struct {
	Backend    string `mapstructure:"backend" validate:"oneof=memory file sqlite badger postgres"`
	Path       string `mapstructure:"path" validate:"required_if=Backend file"`
	SQLitePath string `mapstructure:"sqlite_path" validate:"required_if=Backend sqlite"`
	BadgerDir  string `mapstructure:"badger_dir" validate:"required_if=Backend badger"`
}

// DatabaseConfig controls access to Postgres.
type DatabaseConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns" validate:"gte=0"`
	MinConns int32  `mapstructure:"min_conns" validate:"gte=0"`
}

// ResultsConfig selects where results are stored.
type ResultsConfig struct {
	Backend string `mapstructure:"backend" validate:"oneof=memory local gcs postgres"`
	BaseDir string `mapstructure:"base_dir" validate:"required_if=Backend local"`
	Bucket  string `mapstructure:"bucket" validate:"required_if=Backend gcs"`
	Prefix  string `mapstructure:"prefix"`
}

// StatusConfig selects the status store.
type StatusConfig struct {
	Backend string `mapstructure:"backend" validate:"oneof=memory postgres"`
}

// PubSubConfig holds metadata for completion notifications. An empty
// ProjectID disables publishing to Pub/Sub.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name" validate:"required_with=ProjectID"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	Enabled       bool                `mapstructure:"enabled"`
	LogEnabled    bool                `mapstructure:"log_enabled"`
	BufferSize    int                 `mapstructure:"buffer_size" validate:"gte=0"`
	Batch         ProgressBatchConfig `mapstructure:"batch"`
	SinkTimeoutMs int                 `mapstructure:"sink_timeout_ms" validate:"gte=0"`
}

// ProgressBatchConfig sets hub flush thresholds.
type ProgressBatchConfig struct {
	MaxEvents int `mapstructure:"max_events" validate:"gte=0"`
	MaxWaitMs int `mapstructure:"max_wait_ms" validate:"gte=0"`
}

// Load builds a Config from an optional file plus the environment.
func Load(path string) (Config, error) {
	return LoadFrom(viper.New(), path)
}

// LoadFrom is Load over a caller-supplied Viper so flags bound by the CLI
// take part in resolution.
func LoadFrom(v *viper.Viper, path string) (Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 9090)
	v.SetDefault("server.rate_limit_per_minute", 120)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("pipeline.max_items", 5000)
	v.SetDefault("pipeline.top_n", 10)
	v.SetDefault("pipeline.month_limit", 10)
	v.SetDefault("pipeline.fetch_concurrency", 8)
	v.SetDefault("pipeline.queue_depth", 64)
	v.SetDefault("pipeline.job_timeout_seconds", 600)
	v.SetDefault("pipeline.timezone", "UTC")
	v.SetDefault("pipeline.include_history", false)
	v.SetDefault("catalog.base_url", "https://www.googleapis.com/youtube/v3")
	v.SetDefault("catalog.api_key", "")
	v.SetDefault("catalog.timeout_seconds", 15)
	v.SetDefault("catalog.rate_limit_rps", 10)
	v.SetDefault("catalog.rate_limit_burst", 10)
	v.SetDefault("catalog.max_retries", 3)
	v.SetDefault("catalog.backoff_initial_ms", 250)
	v.SetDefault("catalog.backoff_max_ms", 5000)
	v.SetDefault("catalog.breaker_failures", 5)
	v.SetDefault("catalog.breaker_timeout_seconds", 30)
	v.SetDefault("cache.backend", BackendFile)
	v.SetDefault("cache.path", "data/metadata.jsonl")
	v.SetDefault("cache.sqlite_path", "data/metadata.db")
	v.SetDefault("cache.badger_dir", "data/metadata.badger")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("results.backend", BackendLocal)
	v.SetDefault("results.base_dir", "data/results")
	v.SetDefault("results.bucket", "")
	v.SetDefault("results.prefix", "results")
	v.SetDefault("status.backend", BackendMemory)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", true)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.batch.max_events", 256)
	v.SetDefault("progress.batch.max_wait_ms", 250)
	v.SetDefault("progress.sink_timeout_ms", 5000)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their config keys rather than Go names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("mapstructure"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate enforces required values and reasonable limits. Every problem is
// reported, not just the first.
func (c Config) Validate() error {
	var errs []error
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("validate config: %w", err)
		}
		for _, fe := range fieldErrs {
			errs = append(errs, describe(fe))
		}
	}
	if c.UsesPostgres() && c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required when a postgres backend is selected"))
	}
	return errors.Join(errs...)
}

func describe(fe validator.FieldError) error {
	_, key, _ := strings.Cut(fe.Namespace(), ".")
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", key)
	case "required_if", "required_with":
		return fmt.Errorf("%s is required when %s", key, strings.ReplaceAll(fe.Param(), " ", "="))
	case "oneof":
		return fmt.Errorf("%s %q is not one of [%s]", key, fe.Value(), fe.Param())
	case "gt":
		return fmt.Errorf("%s must be > %s", key, fe.Param())
	case "gte":
		return fmt.Errorf("%s must be >= %s", key, fe.Param())
	case "lte":
		return fmt.Errorf("%s must be <= %s", key, fe.Param())
	case "timezone":
		return fmt.Errorf("%s: unknown time zone %q", key, fe.Value())
	case "url":
		return fmt.Errorf("%s must be an absolute URL", key)
	default:
		return fmt.Errorf("%s fails %s validation", key, fe.Tag())
	}
}

// UsesPostgres reports whether any backend needs a database pool.
func (c Config) UsesPostgres() bool {
	return c.Cache.Backend == BackendPostgres ||
		c.Results.Backend == BackendPostgres ||
		c.Status.Backend == BackendPostgres
}

// Location resolves the pipeline timezone. Validate has already checked it.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Pipeline.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// JobTimeout converts the pipeline budget into a duration. Zero means unbounded.
func (c Config) JobTimeout() time.Duration {
	return time.Duration(c.Pipeline.JobTimeoutSeconds) * time.Second
}

// CatalogTimeout is the per-request catalog timeout.
func (c Config) CatalogTimeout() time.Duration {
	return time.Duration(c.Catalog.TimeoutSeconds) * time.Second
}

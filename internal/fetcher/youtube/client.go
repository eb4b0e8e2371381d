// Package youtube implements wrapped.MetadataFetcher against the YouTube Data
// API v3 videos.list endpoint.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/watch-wrapped/internal/metrics"
	"github.com/JakeFAU/watch-wrapped/internal/policy/ratelimit"
	"github.com/JakeFAU/watch-wrapped/internal/policy/retry"
	"github.com/JakeFAU/watch-wrapped/internal/wrapped"
)

// DefaultBaseURL is the public Data API root.
const DefaultBaseURL = "https://www.googleapis.com/youtube/v3"

const (
	videoParts      = "snippet,contentDetails,statistics"
	maxErrorBody    = 4 << 10
	maxResponseBody = 1 << 20
)

// Config captures the client's endpoint, credentials and resilience settings.
type Config struct {
	BaseURL         string
	APIKey          string
	Timeout         time.Duration
	RateLimitRPS    float64
	RateLimitBurst  int
	MaxAttempts     int
	BackoffBase     time.Duration
	BackoffMax      time.Duration
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("catalog responded %d: %s", e.Code, e.Body)
}

// Retryable reports whether the status is worth retrying.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= http.StatusInternalServerError
}

// Client fetches video metadata.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *ratelimit.Limiter
	retry   *retry.ExponentialPolicy
	breaker *gobreaker.CircuitBreaker[wrapped.Metadata]
	logger  *zap.Logger
}

// New builds a Client. httpClient may be nil, in which case one is created
// with cfg.Timeout.
func New(cfg Config, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("catalog api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid catalog base url: %w", err)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		cfg:     cfg,
		http:    httpClient,
		limiter: ratelimit.New(ratelimit.Config{DefaultRPS: cfg.RateLimitRPS, DefaultBurst: cfg.RateLimitBurst}),
		retry: retry.NewExponentialPolicy(retry.Config{
			MaxAttempts: cfg.MaxAttempts,
			BaseDelay:   cfg.BackoffBase,
			MaxDelay:    cfg.BackoffMax,
		}),
		logger: logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker[wrapped.Metadata](gobreaker.Settings{
		Name:        "youtube-catalog",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			// Missing items and caller cancellation or deadlines say nothing
			// about upstream health.
			return err == nil ||
				errors.Is(err, wrapped.ErrNotFound) ||
				errors.Is(err, context.Canceled) ||
				errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return c, nil
}

// FetchMetadata resolves one video id. It returns wrapped.ErrNotFound when the
// catalog has no such video.
func (c *Client) FetchMetadata(ctx context.Context, id string) (wrapped.Metadata, error) {
	for attempt := 1; ; attempt++ {
		md, err := c.breaker.Execute(func() (wrapped.Metadata, error) {
			return c.fetchOnce(ctx, id)
		})
		if err == nil || errors.Is(err, wrapped.ErrNotFound) {
			return md, err
		}
		if !c.retry.ShouldRetry(err, attempt) {
			return wrapped.Metadata{}, fmt.Errorf("fetch %s: %w", id, err)
		}
		wait := c.retry.Backoff(attempt)
		c.logger.Debug("retrying catalog request",
			zap.String("video_id", id),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		if err := retry.Sleep(ctx, wait); err != nil {
			return wrapped.Metadata{}, fmt.Errorf("fetch %s: %w", id, err)
		}
	}
}

func (c *Client) fetchOnce(ctx context.Context, id string) (wrapped.Metadata, error) {
	endpoint := c.cfg.BaseURL + "/videos"
	if err := c.limiter.Wait(ctx, endpoint); err != nil {
		return wrapped.Metadata{}, err
	}

	q := url.Values{}
	q.Set("part", videoParts)
	q.Set("id", id)
	q.Set("key", c.cfg.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return wrapped.Metadata{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveCatalogRequest("transport_error", time.Since(start))
		return wrapped.Metadata{}, fmt.Errorf("catalog request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // body fully consumed below

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		metrics.ObserveCatalogRequest("status_"+strconv.Itoa(resp.StatusCode), time.Since(start))
		if resp.StatusCode == http.StatusTooManyRequests {
			c.limiter.Pause(endpoint, retryAfter(resp.Header.Get("Retry-After")))
		}
		return wrapped.Metadata{}, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var payload videoListResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(&payload); err != nil {
		metrics.ObserveCatalogRequest("decode_error", time.Since(start))
		return wrapped.Metadata{}, fmt.Errorf("decode catalog response: %w", err)
	}
	if len(payload.Items) == 0 {
		metrics.ObserveCatalogRequest("not_found", time.Since(start))
		return wrapped.Metadata{}, wrapped.ErrNotFound
	}
	metrics.ObserveCatalogRequest("ok", time.Since(start))
	return c.toMetadata(id, payload.Items[0]), nil
}

// retryAfter reads the delay-seconds form of Retry-After. HTTP dates and
// garbage yield zero.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

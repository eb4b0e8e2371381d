// Package ratelimit keeps catalog requests within the API quota: one token
// bucket per upstream host, plus a pause window a host can impose with
// Retry-After.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/watch-wrapped/internal/metrics"
)

// Config holds rate limiter configuration. A non-positive RPS disables the
// token bucket; pauses still apply.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
}

type bucket struct {
	tokens      *rate.Limiter
	pausedUntil time.Time
}

// Limiter hands out request slots per host.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	now     func() time.Time
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	limit := rate.Inf
	if cfg.DefaultRPS > 0 {
		limit = rate.Limit(cfg.DefaultRPS)
	}
	return &Limiter{
		buckets: make(map[string]*bucket),
		limit:   limit,
		burst:   max(cfg.DefaultBurst, 1),
		now:     time.Now,
	}
}

// Wait blocks until the host of rawURL may receive another request or ctx
// ends.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	start := l.now()
	b, resume := l.bucketFor(hostOf(rawURL))

	if pause := resume.Sub(start); pause > 0 {
		t := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("rate limit wait: %w", ctx.Err())
		case <-t.C:
		}
	}
	if err := b.tokens.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := l.now().Sub(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(waited)
	}
	return nil
}

// Pause holds every request to the host of rawURL for d. Overlapping pauses
// keep the later deadline.
func (l *Limiter) Pause(rawURL string, d time.Duration) {
	if d <= 0 {
		return
	}
	until := l.now().Add(d)
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.lookup(hostOf(rawURL))
	if until.After(b.pausedUntil) {
		b.pausedUntil = until
	}
}

func (l *Limiter) bucketFor(host string) (*bucket, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.lookup(host)
	return b, b.pausedUntil
}

// lookup requires l.mu.
func (l *Limiter) lookup(host string) *bucket {
	b, ok := l.buckets[host]
	if !ok {
		b = &bucket{tokens: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[host] = b
	}
	return b
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Hostname()
}

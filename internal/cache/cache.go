// Package cache holds the process-wide catalog metadata cache. Entries are
// hydrated once from a persisted append-only log and every newly fetched item
// is appended back so later runs (and later processes) can reuse it.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/watch-wrapped/internal/metrics"
	"github.com/JakeFAU/watch-wrapped/internal/wrapped"
)

// ErrNotDurable marks an entry that is usable in memory but could not be
// appended to the persisted log.
var ErrNotDurable = errors.New("metadata entry not persisted")

// Log is the persisted append-only store behind the cache.
type Log interface {
	// Load returns every persisted record. A log that does not exist yet is empty.
	Load(ctx context.Context) ([]wrapped.Metadata, error)
	// Append durably records one entry.
	Append(ctx context.Context, md wrapped.Metadata) error
}

// FetchFunc resolves one identifier on a cache miss.
type FetchFunc func(ctx context.Context, id string) (wrapped.Metadata, error)

// DefaultFetchTimeout bounds a shared fetch when no WithFetchTimeout option is
// given.
const DefaultFetchTimeout = 2 * time.Minute

// Option configures a Cache.
type Option func(*Cache)

// WithFetchTimeout bounds how long a shared fetch may run once it is detached
// from the callers that started it. Non-positive values are ignored.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.fetchTimeout = d
		}
	}
}

// flight is the context shared by every caller waiting on one id. It is
// cancelled once the last waiter leaves.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// outcome is the shared result of one fetch. The durability error is handed
// to a single receiver.
type outcome struct {
	md       wrapped.Metadata
	found    bool
	durErr   error
	reported atomic.Bool
}

// Cache maps identifiers to metadata. It is safe for concurrent use and is
// meant to be constructed once per process and shared by every run.
type Cache struct {
	log    Log
	logger *zap.Logger

	hydrateMu sync.Mutex
	hydrated  atomic.Bool

	mu      sync.RWMutex
	entries map[string]wrapped.Metadata

	flights      singleflight.Group
	flightMu     sync.Mutex
	inflight     map[string]*flight
	fetchTimeout time.Duration
}

// New creates an empty cache backed by log. Hydration happens on first use.
func New(log Log, logger *zap.Logger, opts ...Option) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cache{
		log:          log,
		logger:       logger,
		entries:      make(map[string]wrapped.Metadata),
		inflight:     make(map[string]*flight),
		fetchTimeout: DefaultFetchTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Hydrate loads the persisted log into memory exactly once. Concurrent callers
// block until the first load finishes. A failed load is not latched, so a
// later call retries it.
func (c *Cache) Hydrate(ctx context.Context) error {
	if c.hydrated.Load() {
		return nil
	}
	c.hydrateMu.Lock()
	defer c.hydrateMu.Unlock()
	if c.hydrated.Load() {
		return nil
	}

	records, err := c.log.Load(ctx)
	if err != nil {
		return fmt.Errorf("hydrate metadata cache: %w", err)
	}

	c.mu.Lock()
	for _, md := range records {
		// First record for an id wins, matching the claim semantics of Insert.
		if _, ok := c.entries[md.ID]; !ok {
			c.entries[md.ID] = md
		}
	}
	size := len(c.entries)
	c.mu.Unlock()

	c.hydrated.Store(true)
	metrics.SetCacheEntries(size)
	c.logger.Info("metadata cache hydrated", zap.Int("records", len(records)), zap.Int("entries", size))
	return nil
}

// Lookup reports the cached entry for id, hydrating first if needed.
func (c *Cache) Lookup(ctx context.Context, id string) (wrapped.Metadata, bool, error) {
	if err := c.Hydrate(ctx); err != nil {
		return wrapped.Metadata{}, false, err
	}
	md, ok := c.get(id)
	metrics.ObserveCacheLookup(ok)
	return md, ok, nil
}

// Insert stores md if no entry exists for its id and then appends it to the
// log. It returns false when another caller already owns the id. When the
// append fails the entry stays in memory and the returned error wraps
// ErrNotDurable.
func (c *Cache) Insert(ctx context.Context, md wrapped.Metadata) (bool, error) {
	if md.ID == "" {
		return false, fmt.Errorf("insert metadata: empty id")
	}
	if err := c.Hydrate(ctx); err != nil {
		return false, err
	}

	c.mu.Lock()
	if _, exists := c.entries[md.ID]; exists {
		c.mu.Unlock()
		return false, nil
	}
	c.entries[md.ID] = md
	size := len(c.entries)
	c.mu.Unlock()
	metrics.SetCacheEntries(size)

	// The claim above guarantees at most one append per id per process.
	if err := c.log.Append(ctx, md); err != nil {
		metrics.IncDurabilityWarning()
		return true, fmt.Errorf("%w: %s: %v", ErrNotDurable, md.ID, err)
	}
	return true, nil
}

// Fill returns the entry for id, calling fetch at most once across all
// concurrent callers asking for the same id. The bool result is false when the
// catalog has no record; nothing is cached in that case.
//
// The fetch runs detached from any single caller. A caller whose ctx ends
// stops waiting and gets ctx.Err() while the others keep waiting; the fetch
// itself is cancelled only when every waiter has gone. A durability failure is
// returned alongside a usable entry to exactly one of the callers that shared
// the fetch.
func (c *Cache) Fill(ctx context.Context, id string, fetch FetchFunc) (wrapped.Metadata, bool, error) {
	if err := c.Hydrate(ctx); err != nil {
		return wrapped.Metadata{}, false, err
	}
	if md, ok := c.get(id); ok {
		return md, true, nil
	}

	f := c.join(ctx, id)
	defer c.leave(id, f)

	ch := c.flights.DoChan(id, func() (any, error) {
		if md, ok := c.get(id); ok {
			return &outcome{md: md, found: true}, nil
		}
		fctx, cancel := context.WithTimeout(f.ctx, c.fetchTimeout)
		defer cancel()

		md, err := fetch(fctx, id)
		switch {
		case errors.Is(err, wrapped.ErrNotFound):
			return &outcome{}, nil
		case err != nil:
			return nil, err
		}
		md.ID = id
		_, insErr := c.Insert(fctx, md)
		if insErr != nil && !errors.Is(insErr, ErrNotDurable) {
			return nil, insErr
		}
		return &outcome{md: md, found: true, durErr: insErr}, nil
	})

	select {
	case <-ctx.Done():
		return wrapped.Metadata{}, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return wrapped.Metadata{}, false, res.Err
		}
		out := res.Val.(*outcome)
		if out.durErr != nil && out.reported.CompareAndSwap(false, true) {
			return out.md, out.found, out.durErr
		}
		return out.md, out.found, nil
	}
}

// join registers the caller as a waiter on id, starting a flight detached
// from ctx if none is running.
func (c *Cache) join(ctx context.Context, id string) *flight {
	c.flightMu.Lock()
	defer c.flightMu.Unlock()
	f, ok := c.inflight[id]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		c.inflight[id] = f
	}
	f.waiters++
	return f
}

// leave drops one waiter. The last one out cancels the flight and forgets the
// in-progress call so the next Fill starts fresh.
func (c *Cache) leave(id string, f *flight) {
	c.flightMu.Lock()
	defer c.flightMu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	c.flights.Forget(id)
	if c.inflight[id] == f {
		delete(c.inflight, id)
	}
}

// Len returns the number of cached entries, hydrating first if needed.
func (c *Cache) Len(ctx context.Context) (int, error) {
	if err := c.Hydrate(ctx); err != nil {
		return 0, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries), nil
}

func (c *Cache) get(id string) (wrapped.Metadata, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	md, ok := c.entries[id]
	return md, ok
}

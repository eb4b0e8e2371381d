package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/watch-wrapped/internal/storage/memory"
	"github.com/JakeFAU/watch-wrapped/internal/wrapped"
)

type countingFetcher struct {
	mu      sync.Mutex
	calls   map[string]int
	records map[string]wrapped.Metadata
	delay   time.Duration
	err     error
}

func newCountingFetcher(records ...wrapped.Metadata) *countingFetcher {
	f := &countingFetcher{calls: make(map[string]int), records: make(map[string]wrapped.Metadata)}
	for _, md := range records {
		f.records[md.ID] = md
	}
	return f
}

func (f *countingFetcher) fetch(_ context.Context, id string) (wrapped.Metadata, error) {
	f.mu.Lock()
	f.calls[id]++
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return wrapped.Metadata{}, f.err
	}
	md, ok := f.records[id]
	if !ok {
		return wrapped.Metadata{}, wrapped.ErrNotFound
	}
	return md, nil
}

func (f *countingFetcher) count(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

type failingLog struct{ err error }

func (l failingLog) Load(context.Context) ([]wrapped.Metadata, error) { return nil, l.err }
func (l failingLog) Append(context.Context, wrapped.Metadata) error  { return l.err }

// inflightWaiters reports how many callers are waiting on id.
func (c *Cache) inflightWaiters(id string) int {
	c.flightMu.Lock()
	defer c.flightMu.Unlock()
	if f, ok := c.inflight[id]; ok {
		return f.waiters
	}
	return 0
}

// gatedFetcher blocks every fetch until release is closed or the fetch
// context ends.
type gatedFetcher struct {
	release  chan struct{}
	calls    atomic.Int32
	canceled chan error
}

func newGatedFetcher() *gatedFetcher {
	return &gatedFetcher{release: make(chan struct{}), canceled: make(chan error, 1)}
}

func (g *gatedFetcher) fetch(ctx context.Context, id string) (wrapped.Metadata, error) {
	g.calls.Add(1)
	select {
	case <-g.release:
		return wrapped.Metadata{ID: id, Title: "shared"}, nil
	case <-ctx.Done():
		g.canceled <- ctx.Err()
		return wrapped.Metadata{}, ctx.Err()
	}
}

type fillResult struct {
	md  wrapped.Metadata
	ok  bool
	err error
}

func fillAsync(ctx context.Context, c *Cache, id string, fetch FetchFunc) <-chan fillResult {
	out := make(chan fillResult, 1)
	go func() {
		md, ok, err := c.Fill(ctx, id, fetch)
		out <- fillResult{md: md, ok: ok, err: err}
	}()
	return out
}

func TestLookupHydratesOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	log := memory.NewMetadataLog(wrapped.Metadata{ID: "a", Title: "A"}, wrapped.Metadata{ID: "a", Title: "dup"})
	c := New(log, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			md, ok, err := c.Lookup(ctx, "a")
			assert.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "A", md.Title, "first persisted record wins")
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, log.Loads())
	_, ok, err := c.Lookup(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHydrateFailureIsRetryable(t *testing.T) {
	t.Parallel()

	c := New(failingLog{err: errors.New("boom")}, nil)
	_, _, err := c.Lookup(context.Background(), "a")
	require.Error(t, err)
	assert.False(t, c.hydrated.Load())
}

func TestInsertClaimsOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	log := memory.NewMetadataLog()
	c := New(log, nil)

	inserted, err := c.Insert(ctx, wrapped.Metadata{ID: "x", Title: "first"})
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = c.Insert(ctx, wrapped.Metadata{ID: "x", Title: "second"})
	require.NoError(t, err)
	assert.False(t, inserted)

	md, ok, err := c.Lookup(ctx, "x")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "first", md.Title)
	assert.Equal(t, 1, log.Len(), "second insert must not append")

	_, err = c.Insert(ctx, wrapped.Metadata{})
	require.Error(t, err)
}

func TestInsertAppendFailureKeepsEntry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	log := memory.NewMetadataLog()
	log.FailAppends = errors.New("disk full")
	c := New(log, nil)

	inserted, err := c.Insert(ctx, wrapped.Metadata{ID: "x"})
	assert.True(t, inserted)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotDurable))

	_, ok, err := c.Lookup(ctx, "x")
	require.NoError(t, err)
	assert.True(t, ok, "entry stays usable in memory")
}

func TestFillSingleFlight(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	log := memory.NewMetadataLog()
	c := New(log, nil)
	f := newCountingFetcher(wrapped.Metadata{ID: "v1", DurationSeconds: 60})
	f.delay = 20 * time.Millisecond

	var wg sync.WaitGroup
	var found atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			md, ok, err := c.Fill(ctx, "v1", f.fetch)
			assert.NoError(t, err)
			if ok && md.DurationSeconds == 60 {
				found.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(20), found.Load())
	assert.Equal(t, 1, f.count("v1"))
	assert.Equal(t, 1, log.Len())

	// Later fills are served from memory.
	_, ok, err := c.Fill(ctx, "v1", f.fetch)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, f.count("v1"))
}

func TestFillNotFoundCachesNothing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	log := memory.NewMetadataLog()
	c := New(log, nil)
	f := newCountingFetcher()

	_, ok, err := c.Fill(ctx, "gone", f.fetch)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, log.Len())

	_, ok, err = c.Lookup(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFillTransportError(t *testing.T) {
	t.Parallel()

	c := New(memory.NewMetadataLog(), nil)
	f := newCountingFetcher()
	f.err = errors.New("connection reset")

	_, ok, err := c.Fill(context.Background(), "v", f.fetch)
	require.Error(t, err)
	assert.False(t, ok)
}

func TestFillDurabilityWarning(t *testing.T) {
	t.Parallel()

	log := memory.NewMetadataLog()
	log.FailAppends = errors.New("read-only")
	c := New(log, nil)
	f := newCountingFetcher(wrapped.Metadata{ID: "v"})

	md, ok, err := c.Fill(context.Background(), "v", f.fetch)
	assert.True(t, ok)
	assert.Equal(t, "v", md.ID)
	assert.True(t, errors.Is(err, ErrNotDurable))
}

func TestCacheSurvivesRestart(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	log := memory.NewMetadataLog()
	f := newCountingFetcher(wrapped.Metadata{ID: "a", Title: "A"}, wrapped.Metadata{ID: "b", Title: "B"})

	first := New(log, nil)
	for _, id := range []string{"a", "b"} {
		_, ok, err := first.Fill(ctx, id, f.fetch)
		require.NoError(t, err)
		require.True(t, ok)
	}

	second := New(log, nil)
	n, err := second.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	md, ok, err := second.Lookup(ctx, "b")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "B", md.Title)
}

func TestFillCancelledCallerLeavesOthersWaiting(t *testing.T) {
	t.Parallel()

	log := memory.NewMetadataLog()
	c := New(log, nil)
	g := newGatedFetcher()

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	resA := fillAsync(ctxA, c, "v", g.fetch)
	require.Eventually(t, func() bool { return g.calls.Load() == 1 }, time.Second, time.Millisecond)

	resB := fillAsync(context.Background(), c, "v", g.fetch)
	require.Eventually(t, func() bool { return c.inflightWaiters("v") == 2 }, time.Second, time.Millisecond)

	cancelA()
	a := <-resA
	require.ErrorIs(t, a.err, context.Canceled)
	assert.False(t, a.ok)

	close(g.release)
	b := <-resB
	require.NoError(t, b.err)
	assert.True(t, b.ok)
	assert.Equal(t, "shared", b.md.Title)
	assert.Equal(t, int32(1), g.calls.Load(), "the second caller joins the running fetch")
	assert.Equal(t, 1, log.Len())
	assert.Zero(t, c.inflightWaiters("v"))
}

func TestFillLastCallerLeavingCancelsFetch(t *testing.T) {
	t.Parallel()

	c := New(memory.NewMetadataLog(), nil)
	g := newGatedFetcher()

	ctx, cancel := context.WithCancel(context.Background())
	res := fillAsync(ctx, c, "v", g.fetch)
	require.Eventually(t, func() bool { return g.calls.Load() == 1 }, time.Second, time.Millisecond)

	cancel()
	require.ErrorIs(t, (<-res).err, context.Canceled)

	select {
	case err := <-g.canceled:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("fetch kept running after every caller left")
	}

	// A later caller starts a fresh fetch.
	close(g.release)
	md, ok, err := c.Fill(context.Background(), "v", g.fetch)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "shared", md.Title)
	assert.Equal(t, int32(2), g.calls.Load())
}

func TestFillFetchTimeout(t *testing.T) {
	t.Parallel()

	c := New(memory.NewMetadataLog(), nil, WithFetchTimeout(20*time.Millisecond))
	g := newGatedFetcher()

	_, ok, err := c.Fill(context.Background(), "v", g.fetch)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, ok)
}

func TestFillDurabilityWarningReportedOnce(t *testing.T) {
	t.Parallel()

	log := memory.NewMetadataLog()
	log.FailAppends = errors.New("read-only")
	c := New(log, nil)
	g := newGatedFetcher()

	results := []<-chan fillResult{
		fillAsync(context.Background(), c, "v", g.fetch),
		fillAsync(context.Background(), c, "v", g.fetch),
	}
	require.Eventually(t, func() bool { return c.inflightWaiters("v") == 2 }, time.Second, time.Millisecond)
	close(g.release)

	var durable int
	for _, ch := range results {
		r := <-ch
		assert.True(t, r.ok)
		assert.Equal(t, "v", r.md.ID)
		if r.err != nil {
			require.ErrorIs(t, r.err, ErrNotDurable)
			durable++
		}
	}
	assert.Equal(t, 1, durable, "one caller reports the failed append")
	assert.Equal(t, int32(1), g.calls.Load())
}

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if cacheLookupsTotal == nil || cacheEntries == nil ||
		catalogRequestsTotal == nil || httpRequestsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestCacheHelpers(t *testing.T) {
	Init()

	hitsBefore := testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("hit"))
	missesBefore := testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("miss"))
	ObserveCacheLookup(true)
	ObserveCacheLookup(true)
	ObserveCacheLookup(false)

	if got := testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("hit")) - hitsBefore; got != 2 {
		t.Errorf("expected 2 hits, got %f", got)
	}
	if got := testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("miss")) - missesBefore; got != 1 {
		t.Errorf("expected 1 miss, got %f", got)
	}

	SetCacheEntries(42)
	if got := testutil.ToFloat64(cacheEntries); got != 42 {
		t.Errorf("expected cache entries gauge 42, got %f", got)
	}
}

func TestCatalogHelpers(t *testing.T) {
	Init()

	before := testutil.ToFloat64(catalogRequestsTotal.WithLabelValues("not_found"))
	ObserveCatalogRequest("not_found", 20*time.Millisecond)
	if got := testutil.ToFloat64(catalogRequestsTotal.WithLabelValues("not_found")) - before; got != 1 {
		t.Errorf("expected one not_found request, got %f", got)
	}
	if n := testutil.CollectAndCount(catalogRequestDuration); n <= 0 {
		t.Errorf("expected catalog duration to be observed, got %d", n)
	}
}

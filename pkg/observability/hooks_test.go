package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNoopHooksDoNotPanic(t *testing.T) {
	ctx := context.Background()

	s := NoopSnapshotHooks{}
	s.OnRefresh(ctx, "index", time.Second, nil)
	s.OnSwap(ctx, "index", 10, time.Now())
	s.OnStale(ctx, "advisory", true)

	a := NoopAnalysisHooks{}
	a.OnAnalysisStart(ctx, "github.com/o/r")
	a.OnAnalysisComplete(ctx, "github.com/o/r", 12, time.Second, nil)

	c := NoopCacheHooks{}
	c.OnCacheHit(ctx, "analysis")
	c.OnCacheMiss(ctx, "analysis")
	c.OnCacheSet(ctx, "http", 1024)
	c.OnCacheShared(ctx, "analysis")

	h := NoopHTTPHooks{}
	h.OnRequest(ctx, "GET", "index.crates.io", "/se/rd/serde")
	h.OnResponse(ctx, "GET", "index.crates.io", "/se/rd/serde", 200, time.Second)
	h.OnError(ctx, "GET", "index.crates.io", "/se/rd/serde", nil)
}

func TestGlobalHooksRegistry(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	if _, ok := Snapshot().(NoopSnapshotHooks); !ok {
		t.Error("Snapshot() should return NoopSnapshotHooks by default")
	}
	if _, ok := Analysis().(NoopAnalysisHooks); !ok {
		t.Error("Analysis() should return NoopAnalysisHooks by default")
	}
	if _, ok := Cache().(NoopCacheHooks); !ok {
		t.Error("Cache() should return NoopCacheHooks by default")
	}
	if _, ok := HTTP().(NoopHTTPHooks); !ok {
		t.Error("HTTP() should return NoopHTTPHooks by default")
	}

	p := NewPrometheus(prometheus.NewRegistry())
	Register(p)
	if Snapshot() != SnapshotHooks(p) || Analysis() != AnalysisHooks(p) ||
		Cache() != CacheHooks(p) || HTTP() != HTTPHooks(p) {
		t.Error("Register should install the backend for every category")
	}

	SetCacheHooks(nil)
	if Cache() != CacheHooks(p) {
		t.Error("SetCacheHooks(nil) should keep the current hooks")
	}

	Reset()
	if _, ok := Cache().(NoopCacheHooks); !ok {
		t.Error("Reset should restore NoopCacheHooks")
	}
}

func TestPrometheusCollectors(t *testing.T) {
	ctx := context.Background()
	p := NewPrometheus(prometheus.NewRegistry())

	p.OnRefresh(ctx, "index", 10*time.Millisecond, nil)
	p.OnRefresh(ctx, "index", 10*time.Millisecond, errors.New("feed down"))
	if got := testutil.ToFloat64(p.refreshFailures.WithLabelValues("index")); got != 1 {
		t.Errorf("refresh failures = %v, want 1", got)
	}

	p.OnStale(ctx, "index", true)
	if got := testutil.ToFloat64(p.snapshotStale.WithLabelValues("index")); got != 1 {
		t.Errorf("stale = %v, want 1", got)
	}
	p.OnStale(ctx, "index", false)
	if got := testutil.ToFloat64(p.snapshotStale.WithLabelValues("index")); got != 0 {
		t.Errorf("stale = %v, want 0", got)
	}

	p.OnSwap(ctx, "advisory", 42, time.Unix(1700000000, 0))
	if got := testutil.ToFloat64(p.snapshotEntries.WithLabelValues("advisory")); got != 42 {
		t.Errorf("entries = %v, want 42", got)
	}

	p.OnCacheHit(ctx, "analysis")
	p.OnCacheShared(ctx, "analysis")
	p.OnCacheShared(ctx, "analysis")
	if got := testutil.ToFloat64(p.cacheEvents.WithLabelValues("analysis", "shared")); got != 2 {
		t.Errorf("shared = %v, want 2", got)
	}

	p.OnAnalysisStart(ctx, "x")
	if got := testutil.ToFloat64(p.analysisInFlight); got != 1 {
		t.Errorf("in flight = %v, want 1", got)
	}
	p.OnAnalysisComplete(ctx, "x", 3, time.Millisecond, nil)
	if got := testutil.ToFloat64(p.analysisInFlight); got != 0 {
		t.Errorf("in flight = %v, want 0", got)
	}

	p.OnResponse(ctx, "GET", "index.crates.io", "/", 404, time.Millisecond)
	if got := testutil.ToFloat64(p.httpRequests.WithLabelValues("index.crates.io", "4xx")); got != 1 {
		t.Errorf("4xx = %v, want 1", got)
	}
}

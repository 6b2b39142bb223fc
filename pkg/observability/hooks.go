// Package observability provides hooks for metrics and tracing.
//
// This package enables optional instrumentation without adding hard
// dependencies on specific observability backends. Libraries emit events
// through the registered hooks; the server registers [Prometheus] at startup,
// everything else runs against no-op defaults.
//
// # Architecture
//
// The package uses a simple hooks pattern:
//   - Define hook interfaces for different event categories
//   - Provide no-op default implementations
//   - Allow registration of custom implementations at startup
//
// # Usage
//
// Register hooks at application startup:
//
//	func main() {
//	    observability.Register(observability.NewPrometheus(prometheus.DefaultRegisterer))
//	    // ... run application
//	}
//
// Libraries call hooks to emit events:
//
//	start := time.Now()
//	err := store.Refresh(ctx)
//	observability.Snapshot().OnRefresh(ctx, "index", time.Since(start), err)
package observability

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// Snapshot Hooks
// =============================================================================

// SnapshotHooks receives events from the index and advisory stores. The
// store argument is "index" or "advisory".
type SnapshotHooks interface {
	// OnRefresh records one refresh cycle, successful or not.
	OnRefresh(ctx context.Context, store string, duration time.Duration, err error)

	// OnSwap records a new snapshot becoming visible to readers.
	OnSwap(ctx context.Context, store string, entries int, builtAt time.Time)

	// OnStale records a change of the stale flag.
	OnStale(ctx context.Context, store string, stale bool)
}

// =============================================================================
// Analysis Hooks
// =============================================================================

// AnalysisHooks receives events from the analysis pipeline.
type AnalysisHooks interface {
	OnAnalysisStart(ctx context.Context, identity string)
	OnAnalysisComplete(ctx context.Context, identity string, dependencies int, duration time.Duration, err error)
}

// =============================================================================
// Cache Hooks
// =============================================================================

// CacheHooks receives events from cache operations.
type CacheHooks interface {
	// OnCacheHit records a cache hit.
	OnCacheHit(ctx context.Context, keyType string)

	// OnCacheMiss records a cache miss.
	OnCacheMiss(ctx context.Context, keyType string)

	// OnCacheSet records a cache write.
	OnCacheSet(ctx context.Context, keyType string, size int)

	// OnCacheShared records a caller attaching to a computation already in
	// flight.
	OnCacheShared(ctx context.Context, keyType string)
}

// =============================================================================
// HTTP Hooks
// =============================================================================

// HTTPHooks receives events from HTTP client operations.
type HTTPHooks interface {
	// OnRequest records an outgoing HTTP request.
	OnRequest(ctx context.Context, method, host, path string)

	// OnResponse records an HTTP response.
	OnResponse(ctx context.Context, method, host, path string, statusCode int, duration time.Duration)

	// OnError records an HTTP error (network failure, timeout, open breaker).
	OnError(ctx context.Context, method, host, path string, err error)
}

// =============================================================================
// No-op Implementations
// =============================================================================

// NoopSnapshotHooks is a no-op implementation of SnapshotHooks.
type NoopSnapshotHooks struct{}

func (NoopSnapshotHooks) OnRefresh(context.Context, string, time.Duration, error) {}
func (NoopSnapshotHooks) OnSwap(context.Context, string, int, time.Time)          {}
func (NoopSnapshotHooks) OnStale(context.Context, string, bool)                   {}

// NoopAnalysisHooks is a no-op implementation of AnalysisHooks.
type NoopAnalysisHooks struct{}

func (NoopAnalysisHooks) OnAnalysisStart(context.Context, string) {}
func (NoopAnalysisHooks) OnAnalysisComplete(context.Context, string, int, time.Duration, error) {
}

// NoopCacheHooks is a no-op implementation of CacheHooks.
type NoopCacheHooks struct{}

func (NoopCacheHooks) OnCacheHit(context.Context, string)      {}
func (NoopCacheHooks) OnCacheMiss(context.Context, string)     {}
func (NoopCacheHooks) OnCacheSet(context.Context, string, int) {}
func (NoopCacheHooks) OnCacheShared(context.Context, string)   {}

// NoopHTTPHooks is a no-op implementation of HTTPHooks.
type NoopHTTPHooks struct{}

func (NoopHTTPHooks) OnRequest(context.Context, string, string, string)                      {}
func (NoopHTTPHooks) OnResponse(context.Context, string, string, string, int, time.Duration) {}
func (NoopHTTPHooks) OnError(context.Context, string, string, string, error)                 {}

// =============================================================================
// Global Hook Registry
// =============================================================================

var (
	snapshotHooks SnapshotHooks = NoopSnapshotHooks{}
	analysisHooks AnalysisHooks = NoopAnalysisHooks{}
	cacheHooks    CacheHooks    = NoopCacheHooks{}
	httpHooks     HTTPHooks     = NoopHTTPHooks{}
	hooksMu       sync.RWMutex
)

// SetSnapshotHooks registers custom snapshot hooks.
func SetSnapshotHooks(h SnapshotHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		snapshotHooks = h
	}
}

// SetAnalysisHooks registers custom analysis hooks.
func SetAnalysisHooks(h AnalysisHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		analysisHooks = h
	}
}

// SetCacheHooks registers custom cache hooks.
func SetCacheHooks(h CacheHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		cacheHooks = h
	}
}

// SetHTTPHooks registers custom HTTP hooks.
func SetHTTPHooks(h HTTPHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		httpHooks = h
	}
}

// All is implemented by backends that cover every hook category.
type All interface {
	SnapshotHooks
	AnalysisHooks
	CacheHooks
	HTTPHooks
}

// Register installs h for every hook category.
func Register(h All) {
	SetSnapshotHooks(h)
	SetAnalysisHooks(h)
	SetCacheHooks(h)
	SetHTTPHooks(h)
}

// Snapshot returns the registered snapshot hooks.
func Snapshot() SnapshotHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return snapshotHooks
}

// Analysis returns the registered analysis hooks.
func Analysis() AnalysisHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return analysisHooks
}

// Cache returns the registered cache hooks.
func Cache() CacheHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return cacheHooks
}

// HTTP returns the registered HTTP hooks.
func HTTP() HTTPHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return httpHooks
}

// Reset restores all hooks to their no-op defaults.
// This is primarily useful for testing.
func Reset() {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	snapshotHooks = NoopSnapshotHooks{}
	analysisHooks = NoopAnalysisHooks{}
	cacheHooks = NoopCacheHooks{}
	httpHooks = NoopHTTPHooks{}
}

// Package cache provides the byte-level caching backends shared by the
// registry clients and the analysis result cache.
//
// Three backends implement [Cache]:
//
//   - [NullCache] never stores anything (tests, --no-cache)
//   - [FileCache] keeps entries as JSON files on disk (CLI usage)
//   - [RedisCache] shares entries between server replicas
//
// Keys are produced by a [Keyer] so that the HTTP layer and the analysis
// layer never collide, and so that a deployment can scope keys with
// [NewScopedKeyer].
package cache

import (
	"context"
	"time"
)

// Cache is a byte cache with per-entry TTL. A miss is reported with
// hit == false and a nil error; errors are reserved for backend failures.
type Cache interface {
	Get(ctx context.Context, key string) (data []byte, hit bool, err error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Keyer generates cache keys for each cached concern.
type Keyer interface {
	// HTTPKey keys a raw upstream response (index file, manifest, feed).
	HTTPKey(namespace, key string) string

	// AnalysisKey keys a finished analysis result.
	AnalysisKey(identity string, opts AnalysisKeyOpts) string
}

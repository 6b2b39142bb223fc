// Package integrations provides the HTTP clients cratestatus uses to reach
// upstream services.
//
// # Overview
//
// Each upstream has its own subpackage:
//
//   - [crates]: crates.io sparse index and popular-crates API
//   - [osv]: OSV advisory archive for the crates.io ecosystem
//   - [forge]: manifest fetchers for repository hosting providers
//
// # Shared Infrastructure
//
// The [Client] type provides the plumbing every subpackage builds on:
//
//   - JSON and raw-body response caching via [cache.Cache]
//   - Retry with exponential backoff for network failures, 5xx and 429
//   - An optional circuit breaker ([WithBreaker]) so a dead upstream fails
//     fast instead of tying up refresh cycles
//   - An optional rate limiter ([WithRateLimit]) for forge API quotas
//   - Status mapping to [ErrNotFound], [ErrUnauthorized], [ErrRateLimited]
//     and [ErrNetwork]
//
// [crates]: github.com/matzehuels/cratestatus/pkg/integrations/crates
// [osv]: github.com/matzehuels/cratestatus/pkg/integrations/osv
// [forge]: github.com/matzehuels/cratestatus/pkg/integrations/forge
// [cache.Cache]: github.com/matzehuels/cratestatus/pkg/cache.Cache
package integrations

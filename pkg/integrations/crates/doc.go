// Package crates provides an HTTP client for the crates.io registry.
//
// # Overview
//
// Two endpoints are used:
//
//   - the sparse index (https://index.crates.io), one newline-delimited
//     JSON file per crate listing every published version with its
//     dependencies and yank flag; this feeds the index store
//   - the web API summary (https://crates.io/api/v1/summary) for the
//     popular-crates list
//
// # Usage
//
//	client := crates.NewClient(backend, crates.Config{CacheTTL: time.Minute})
//	releases, err := client.FetchIndex(ctx, "serde", false)
//	if err != nil {
//	    return err
//	}
//	for _, r := range releases {
//	    fmt.Println(r.Version, r.Yanked)
//	}
//
// # Caching
//
// Responses are cached through the shared [integrations.Client]. Pass
// refresh=true to bypass the cache, as the index refresh cycle does.
//
// # User-Agent
//
// The client includes a User-Agent header as requested by crates.io policy.
//
// [integrations.Client]: github.com/matzehuels/cratestatus/pkg/integrations.Client
package crates

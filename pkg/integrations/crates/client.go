package crates

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/matzehuels/cratestatus/pkg/buildinfo"
	"github.com/matzehuels/cratestatus/pkg/cache"
	"github.com/matzehuels/cratestatus/pkg/integrations"
)

const (
	DefaultIndexURL = "https://index.crates.io"
	DefaultAPIURL   = "https://crates.io/api/v1"
)

// IndexRelease is one line of a sparse index file: a single published
// version of a crate.
type IndexRelease struct {
	Name    string          `json:"name"`
	Version string          `json:"vers"`
	Deps    []IndexDep      `json:"deps"`
	Yanked  bool            `json:"yanked"`
	Cksum   string          `json:"cksum,omitempty"`
	Feats   json.RawMessage `json:"features,omitempty"`
}

// IndexDep is a dependency record inside an [IndexRelease].
type IndexDep struct {
	Name     string `json:"name"`
	Req      string `json:"req"`
	Kind     string `json:"kind,omitempty"` // "normal" (or empty), "dev", "build"
	Optional bool   `json:"optional"`
	Target   string `json:"target,omitempty"`
	Package  string `json:"package,omitempty"` // real crate name when renamed
	Registry string `json:"registry,omitempty"`
}

// CrateName returns the registry crate the dependency points at.
func (d IndexDep) CrateName() string {
	if d.Package != "" {
		return d.Package
	}
	return d.Name
}

// PopularCrate is an entry of the crates.io summary lists.
type PopularCrate struct {
	Name        string `json:"name"`
	MaxVersion  string `json:"max_version"`
	Description string `json:"description"`
	Downloads   int64  `json:"downloads"`
}

// Config selects the endpoints the client talks to.
type Config struct {
	IndexURL string
	APIURL   string
	CacheTTL time.Duration
}

// Client reads the crates.io sparse index and the crates.io web API.
//
// All methods are safe for concurrent use by multiple goroutines.
//
// Note: crates.io requires a User-Agent header; this client sets one automatically.
type Client struct {
	*integrations.Client
	indexURL string
	apiURL   string
}

// NewClient creates a crates.io client with the given cache backend.
// Empty Config fields fall back to the public crates.io endpoints.
func NewClient(backend cache.Cache, cfg Config, opts ...integrations.Option) *Client {
	if cfg.IndexURL == "" {
		cfg.IndexURL = DefaultIndexURL
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	headers := map[string]string{"User-Agent": buildinfo.UserAgent()}
	return &Client{
		Client:   integrations.NewClient(backend, "crates", cfg.CacheTTL, headers, opts...),
		indexURL: strings.TrimSuffix(cfg.IndexURL, "/"),
		apiURL:   strings.TrimSuffix(cfg.APIURL, "/"),
	}
}

// IndexPath returns the sparse index path of a crate: "1/a", "2/ab",
// "3/a/abc", "se/rd/serde". Names are lowercased.
func IndexPath(name string) string {
	n := strings.ToLower(name)
	switch len(n) {
	case 0:
		return ""
	case 1:
		return "1/" + n
	case 2:
		return "2/" + n
	case 3:
		return "3/" + n[:1] + "/" + n
	default:
		return n[:2] + "/" + n[2:4] + "/" + n
	}
}

// FetchIndex retrieves and parses the sparse index file of a crate.
//
// If refresh is true, the cache is bypassed. Releases are returned in file
// order, which is publication order.
//
// Returns:
//   - the releases on success
//   - [integrations.ErrNotFound] if the crate doesn't exist
//   - [integrations.ErrNetwork] for HTTP failures (timeout, 5xx, etc.)
func (c *Client) FetchIndex(ctx context.Context, name string, refresh bool) ([]IndexRelease, error) {
	path := IndexPath(name)
	if path == "" {
		return nil, fmt.Errorf("%w: empty crate name", integrations.ErrNotFound)
	}
	body, err := c.CachedBytes(ctx, path, refresh, func() ([]byte, error) {
		return c.GetBytes(ctx, c.indexURL+"/"+path)
	})
	if err != nil {
		if errors.Is(err, integrations.ErrNotFound) {
			return nil, fmt.Errorf("%w: crate %s", err, name)
		}
		return nil, err
	}
	return ParseIndexFile(body)
}

// ParseIndexFile parses newline-delimited JSON index records. Blank lines
// are skipped.
func ParseIndexFile(data []byte) ([]IndexRelease, error) {
	var out []IndexRelease
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var r IndexRelease
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("index line %d: %w", line, err)
		}
		out = append(out, r)
	}
	return out, sc.Err()
}

// PopularCrates returns the most downloaded crates from the crates.io
// summary endpoint, in the order crates.io ranks them.
func (c *Client) PopularCrates(ctx context.Context, refresh bool) ([]PopularCrate, error) {
	var data summaryResponse
	err := c.Cached(ctx, "summary", refresh, &data, func() error {
		return c.Get(ctx, c.apiURL+"/summary", &data)
	})
	if err != nil {
		return nil, err
	}
	return data.MostDownloaded, nil
}

type summaryResponse struct {
	MostDownloaded []PopularCrate `json:"most_downloaded"`
}

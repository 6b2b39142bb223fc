// Package osv downloads the OSV vulnerability archive for the crates.io
// ecosystem.
//
// The archive (https://osv-vulnerabilities.storage.googleapis.com/crates.io/all.zip)
// is a zip of one JSON document per advisory in the OSV schema. RustSec
// publishes every advisory there, so it is a drop-in replacement for a local
// advisory-db checkout.
package osv

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/matzehuels/cratestatus/pkg/cache"
	"github.com/matzehuels/cratestatus/pkg/integrations"
)

// DefaultURL is the crates.io archive on the public OSV bucket.
const DefaultURL = "https://osv-vulnerabilities.storage.googleapis.com/crates.io/all.zip"

// Entry is an OSV record, reduced to the fields cratestatus reads.
type Entry struct {
	ID         string      `json:"id"`
	Modified   time.Time   `json:"modified"`
	Published  time.Time   `json:"published"`
	Withdrawn  *time.Time  `json:"withdrawn,omitempty"`
	Aliases    []string    `json:"aliases,omitempty"`
	Summary    string      `json:"summary,omitempty"`
	Details    string      `json:"details,omitempty"`
	Severity   []Severity  `json:"severity,omitempty"`
	Affected   []Affected  `json:"affected"`
	References []Reference `json:"references,omitempty"`

	DatabaseSpecific struct {
		Severity string `json:"severity,omitempty"`
	} `json:"database_specific"`
}

// Severity is a scored severity vector (for example CVSS_V3).
type Severity struct {
	Type  string `json:"type"`
	Score string `json:"score"`
}

// Affected describes one package range set.
type Affected struct {
	Package  Package  `json:"package"`
	Ranges   []Range  `json:"ranges,omitempty"`
	Versions []string `json:"versions,omitempty"`

	DatabaseSpecific struct {
		Informational string `json:"informational,omitempty"`
	} `json:"database_specific"`
}

// Package names an ecosystem package.
type Package struct {
	Ecosystem string `json:"ecosystem"`
	Name      string `json:"name"`
}

// Range is an ordered list of introduced/fixed events.
type Range struct {
	Type   string  `json:"type"`
	Events []Event `json:"events"`
}

// Event is a single range boundary; exactly one field is set.
type Event struct {
	Introduced   string `json:"introduced,omitempty"`
	Fixed        string `json:"fixed,omitempty"`
	LastAffected string `json:"last_affected,omitempty"`
	Limit        string `json:"limit,omitempty"`
}

// Reference is a link attached to a record.
type Reference struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// Link returns the first ADVISORY reference, or the first reference.
func (e Entry) Link() string {
	for _, r := range e.References {
		if r.Type == "ADVISORY" {
			return r.URL
		}
	}
	if len(e.References) > 0 {
		return e.References[0].URL
	}
	return ""
}

// Client downloads the archive through the shared integrations client.
type Client struct {
	*integrations.Client
	url string
}

// NewClient creates an OSV client. An empty url selects [DefaultURL].
// The archive is cached for cacheTTL; a refresh cycle bypasses the cache.
func NewClient(backend cache.Cache, url string, cacheTTL time.Duration, opts ...integrations.Option) *Client {
	if url == "" {
		url = DefaultURL
	}
	return &Client{
		Client: integrations.NewClient(backend, "osv", cacheTTL, nil, opts...),
		url:    url,
	}
}

// FetchAll downloads and decodes every record in the archive.
func (c *Client) FetchAll(ctx context.Context, refresh bool) ([]Entry, error) {
	data, err := c.CachedBytes(ctx, "archive", refresh, func() ([]byte, error) {
		return c.GetBytes(ctx, c.url)
	})
	if err != nil {
		return nil, err
	}
	return ReadArchive(data)
}

// ReadArchive decodes every *.json member of an OSV zip archive.
func ReadArchive(data []byte) ([]Entry, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open osv archive: %w", err)
	}
	entries := make([]Entry, 0, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !strings.EqualFold(path.Ext(f.Name), ".json") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", f.Name, err)
		}
		var e Entry
		err = json.NewDecoder(rc).Decode(&e)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.Name, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

package osv

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/matzehuels/cratestatus/pkg/cache"
	"github.com/matzehuels/cratestatus/pkg/integrations"
)

const sampleRecord = `{
  "id": "RUSTSEC-2021-0001",
  "modified": "2021-06-01T00:00:00Z",
  "published": "2021-01-04T12:00:00Z",
  "aliases": ["CVE-2021-1234"],
  "summary": "Memory corruption in foo",
  "affected": [{
    "package": {"ecosystem": "crates.io", "name": "foo"},
    "ranges": [{"type": "SEMVER", "events": [{"introduced": "1.0.0"}, {"fixed": "1.2.3"}]}]
  }],
  "references": [
    {"type": "PACKAGE", "url": "https://crates.io/crates/foo"},
    {"type": "ADVISORY", "url": "https://rustsec.org/advisories/RUSTSEC-2021-0001.html"}
  ]
}`

func buildArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestReadArchive(t *testing.T) {
	data := buildArchive(t, map[string]string{
		"RUSTSEC-2021-0001.json": sampleRecord,
		"README.txt":             "ignored",
	})
	entries, err := ReadArchive(data)
	if err != nil {
		t.Fatalf("ReadArchive: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.ID != "RUSTSEC-2021-0001" || e.Affected[0].Package.Name != "foo" {
		t.Errorf("entry = %+v", e)
	}
	if ev := e.Affected[0].Ranges[0].Events; len(ev) != 2 || ev[1].Fixed != "1.2.3" {
		t.Errorf("events = %+v", ev)
	}
	if e.Link() != "https://rustsec.org/advisories/RUSTSEC-2021-0001.html" {
		t.Errorf("Link() = %s", e.Link())
	}
}

func TestReadArchiveMalformed(t *testing.T) {
	if _, err := ReadArchive([]byte("not a zip")); err == nil {
		t.Error("expected error for non-zip data")
	}
	data := buildArchive(t, map[string]string{"bad.json": "{"})
	if _, err := ReadArchive(data); err == nil {
		t.Error("expected error for malformed member")
	}
}

func TestClientFetchAll(t *testing.T) {
	archive := buildArchive(t, map[string]string{"a.json": sampleRecord})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer server.Close()

	c := NewClient(cache.NewNullCache(), server.URL+"/crates.io/all.zip", time.Hour,
		integrations.WithHTTPClient(server.Client()))
	entries, err := c.FetchAll(context.Background(), true)
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if len(entries) != 1 || entries[0].Aliases[0] != "CVE-2021-1234" {
		t.Errorf("entries = %+v", entries)
	}
}

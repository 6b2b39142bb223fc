package crates

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/matzehuels/cratestatus/pkg/cache"
	"github.com/matzehuels/cratestatus/pkg/integrations"
)

const serdeIndex = `{"name":"serde","vers":"1.0.0","deps":[],"cksum":"a","features":{},"yanked":false}
{"name":"serde","vers":"1.0.1","deps":[{"name":"serde_derive","req":"=1.0.1","features":[],"optional":true,"default_features":true,"target":null,"kind":"normal"}],"cksum":"b","features":{},"yanked":true}

{"name":"serde","vers":"1.0.2","deps":[{"name":"serde_test","req":"^1.0","features":[],"optional":false,"default_features":true,"target":null,"kind":"dev"},{"name":"json","req":"^1","optional":false,"kind":"normal","package":"serde_json"}],"cksum":"c","features":{},"yanked":false}
`

func TestIndexPath(t *testing.T) {
	tests := map[string]string{
		"a":     "1/a",
		"ab":    "2/ab",
		"abc":   "3/a/abc",
		"serde": "se/rd/serde",
		"Tokio": "to/ki/tokio",
		"":      "",
	}
	for in, want := range tests {
		if got := IndexPath(in); got != want {
			t.Errorf("IndexPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestClient_FetchIndex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			t.Error("missing User-Agent")
		}
		if r.URL.Path != "/se/rd/serde" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(serdeIndex))
	}))
	defer server.Close()

	c := testClient(t, server)
	releases, err := c.FetchIndex(context.Background(), "serde", true)
	if err != nil {
		t.Fatalf("FetchIndex failed: %v", err)
	}
	if len(releases) != 3 {
		t.Fatalf("got %d releases, want 3", len(releases))
	}
	if !releases[1].Yanked || releases[0].Yanked {
		t.Errorf("yank flags = %v, %v", releases[0].Yanked, releases[1].Yanked)
	}
	deps := releases[2].Deps
	if len(deps) != 2 || deps[0].Kind != "dev" {
		t.Fatalf("deps = %+v", deps)
	}
	if deps[1].CrateName() != "serde_json" || deps[1].Name != "json" {
		t.Errorf("renamed dep = %+v", deps[1])
	}
}

func TestClient_FetchIndex_NotFound(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	_, err := testClient(t, server).FetchIndex(context.Background(), "nonexistent", true)
	if !errors.Is(err, integrations.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestParseIndexFileMalformed(t *testing.T) {
	if _, err := ParseIndexFile([]byte("{\"name\":\"x\"}\nnot json\n")); err == nil {
		t.Error("expected error for malformed line")
	}
}

func TestClient_PopularCrates(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/summary" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		hits++
		w.Write([]byte(`{"most_downloaded":[{"name":"syn","max_version":"2.0.0","downloads":100},{"name":"serde","max_version":"1.0.2","downloads":90}]}`))
	}))
	defer server.Close()

	backend, err := cache.NewFileCache(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	c := NewClient(backend, Config{IndexURL: server.URL, APIURL: server.URL + "/api/v1", CacheTTL: time.Hour},
		integrations.WithHTTPClient(server.Client()))

	for i := 0; i < 2; i++ {
		popular, err := c.PopularCrates(context.Background(), false)
		if err != nil {
			t.Fatalf("PopularCrates: %v", err)
		}
		if len(popular) != 2 || popular[0].Name != "syn" {
			t.Errorf("popular = %+v", popular)
		}
	}
	if hits != 1 {
		t.Errorf("summary fetched %d times, want 1", hits)
	}
}

func testClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	return NewClient(cache.NewNullCache(), Config{IndexURL: server.URL, APIURL: server.URL},
		integrations.WithHTTPClient(server.Client()),
		integrations.WithBackoff(cache.Backoff{Attempts: 1}))
}

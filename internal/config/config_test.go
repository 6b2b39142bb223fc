package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cratestatus.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
listen = "127.0.0.1:9000"
log_level = "debug"

[index]
source = "file"
path = "/var/lib/cratestatus/changes.jsonl"
refresh_interval = "30s"
breaker = false

[advisory]
source = "dir"
path = "/srv/advisory-db"
watch = true

[cache]
ttl = "2m"
capacity = 50
backend = "redis"
redis_addr = "localhost:6379"

[analysis]
include_dev = true

[forge]
gitea_hosts = ["git.example.org"]
requests_per_second = 2.5
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Listen != "127.0.0.1:9000" {
		t.Errorf("Listen = %s", cfg.Listen)
	}
	if cfg.Index.Source != "file" || cfg.Index.RefreshInterval != 30*time.Second {
		t.Errorf("Index = %+v", cfg.Index)
	}
	if cfg.Index.Breaker {
		t.Error("explicit breaker = false should stick")
	}
	if !cfg.Advisory.Watch || cfg.Advisory.RefreshInterval != time.Hour {
		t.Errorf("Advisory = %+v", cfg.Advisory)
	}
	if cfg.Cache.TTL != 2*time.Minute || cfg.Cache.Capacity != 50 {
		t.Errorf("Cache = %+v", cfg.Cache)
	}
	if cfg.Cache.ComputeTimeout != 60*time.Second {
		t.Errorf("ComputeTimeout = %v, want default 60s", cfg.Cache.ComputeTimeout)
	}
	if !cfg.Analysis.IncludeDev || cfg.Analysis.IncludeOptional {
		t.Errorf("Analysis = %+v", cfg.Analysis)
	}
	if cfg.Forge.RequestsPerSecond != 2.5 || cfg.Forge.Burst != 20 {
		t.Errorf("Forge = %+v", cfg.Forge)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Index.Source != "sparse" || cfg.Index.RefreshInterval != 5*time.Minute || !cfg.Index.Breaker {
		t.Errorf("Index = %+v", cfg.Index)
	}
	if cfg.Advisory.Source != "osv" || cfg.Advisory.RefreshInterval != time.Hour {
		t.Errorf("Advisory = %+v", cfg.Advisory)
	}
	if cfg.Cache.TTL != 10*time.Minute || cfg.Cache.Capacity != 500 || cfg.Cache.Backend != "memory" {
		t.Errorf("Cache = %+v", cfg.Cache)
	}
	if cfg.Archive.Backend != "none" {
		t.Errorf("Archive.Backend = %s", cfg.Archive.Backend)
	}
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "")
	t.Setenv("CRATESTATUS_GITHUB_TOKEN", "ghp_env")
	t.Setenv("CRATESTATUS_MONGO_URI", "mongodb://localhost:27017")

	cfg, err := Load(writeConfig(t, `
[archive]
backend = "mongo"
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Forge.GitHubToken != "ghp_env" {
		t.Errorf("GitHubToken = %q", cfg.Forge.GitHubToken)
	}
	if cfg.Archive.MongoURI != "mongodb://localhost:27017" {
		t.Errorf("MongoURI = %q", cfg.Archive.MongoURI)
	}
}

func TestLoadInvalid(t *testing.T) {
	t.Setenv("CRATESTATUS_REDIS_ADDR", "")
	t.Setenv("CRATESTATUS_MONGO_URI", "")

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"bad toml", "listen = ", "parse"},
		{"bad level", `log_level = "loud"`, "log_level"},
		{"unknown index source", "[index]\nsource = \"git\"", "index.source"},
		{"file without path", "[index]\nsource = \"file\"", "index.path"},
		{"bad index url", "[index]\nurl = \"ftp://x\"", "index.url"},
		{"dir without path", "[advisory]\nsource = \"dir\"", "advisory.path"},
		{"watch without dir", "[advisory]\nwatch = true", "advisory.watch"},
		{"redis without addr", "[cache]\nbackend = \"redis\"", "cache.redis_addr"},
		{"mongo without uri", "[archive]\nbackend = \"mongo\"", "archive.mongo_uri"},
		{"unknown archive", "[archive]\nbackend = \"s3\"", "archive.backend"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadRelativePaths(t *testing.T) {
	path := writeConfig(t, "cache_dir = \"cache\"\n[index]\nsource = \"file\"\npath = \"index.jsonl\"\n[advisory]\nsource = \"dir\"\npath = \"/srv/advisory-db\"\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	base := filepath.Dir(path)
	if cfg.Index.Path != filepath.Join(base, "index.jsonl") || cfg.CacheDir != filepath.Join(base, "cache") {
		t.Errorf("relative paths not resolved: %q %q", cfg.Index.Path, cfg.CacheDir)
	}
	if cfg.Advisory.Path != "/srv/advisory-db" {
		t.Errorf("absolute path rewritten: %q", cfg.Advisory.Path)
	}
}

func TestLoadExample(t *testing.T) {
	cfg, err := Load("../../examples/offline/cratestatus.toml")
	if err != nil {
		t.Fatalf("Load(example) error: %v", err)
	}
	if cfg.Index.Source != "file" || cfg.Advisory.Source != "dir" || !cfg.Advisory.Watch {
		t.Errorf("unexpected example config: %+v", cfg)
	}
	if _, err := os.Stat(cfg.Index.Path); err != nil {
		t.Errorf("example index: %v", err)
	}
}

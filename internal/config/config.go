// Package config loads the cratestatus configuration file.
//
// The file is TOML. Every key is optional; [Load] starts from [Default],
// decodes the file over it, fills zero values back in and validates the
// result. Secrets can be supplied through the environment instead of the
// file (see [ApplyEnv]).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Listen   string `toml:"listen"`
	LogLevel string `toml:"log_level"`
	// CacheDir holds the file-backed HTTP response cache. Empty disables it.
	CacheDir string `toml:"cache_dir"`

	Index    Index    `toml:"index"`
	Advisory Advisory `toml:"advisory"`
	Cache    Cache    `toml:"cache"`
	Archive  Archive  `toml:"archive"`
	Analysis Analysis `toml:"analysis"`
	Forge    Forge    `toml:"forge"`
}

type Index struct {
	Source          string        `toml:"source"` // "sparse" or "file"
	URL             string        `toml:"url"`
	APIURL          string        `toml:"api_url"`
	Path            string        `toml:"path"`
	RefreshInterval time.Duration `toml:"refresh_interval"`
	SeedCrates      []string      `toml:"seed_crates"`
	Breaker         bool          `toml:"breaker"`
	BreakerTimeout  time.Duration `toml:"breaker_timeout"`
}

type Advisory struct {
	Source          string        `toml:"source"` // "osv" or "dir"
	URL             string        `toml:"url"`
	Path            string        `toml:"path"`
	RefreshInterval time.Duration `toml:"refresh_interval"`
	Watch           bool          `toml:"watch"`
}

type Cache struct {
	TTL            time.Duration `toml:"ttl"`
	Capacity       int           `toml:"capacity"`
	ComputeTimeout time.Duration `toml:"compute_timeout"`
	Backend        string        `toml:"backend"` // "memory" or "redis"
	RedisAddr      string        `toml:"redis_addr"`
	RedisPassword  string        `toml:"redis_password"`
	RedisDB        int           `toml:"redis_db"`
}

type Archive struct {
	Backend  string `toml:"backend"` // "none", "memory" or "mongo"
	MongoURI string `toml:"mongo_uri"`
	Database string `toml:"database"`
}

type Analysis struct {
	IncludeDev       bool `toml:"include_dev"`
	IncludeOptional  bool `toml:"include_optional"`
	FetchConcurrency int  `toml:"fetch_concurrency"`
}

type Forge struct {
	GitHubToken       string        `toml:"github_token"`
	GitLabToken       string        `toml:"gitlab_token"`
	GiteaHosts        []string      `toml:"gitea_hosts"`
	RequestsPerSecond float64       `toml:"requests_per_second"`
	Burst             int           `toml:"burst"`
	CacheTTL          time.Duration `toml:"cache_ttl"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{Index: Index{Breaker: true}}
	applyDefaults(cfg)
	return cfg
}

// Load reads path over the defaults. An empty path returns Default with
// environment overrides applied.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		resolvePaths(cfg, filepath.Dir(path))
	}
	ApplyEnv(cfg)
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolvePaths makes relative file paths relative to the config file.
func resolvePaths(cfg *Config, base string) {
	for _, p := range []*string{&cfg.CacheDir, &cfg.Index.Path, &cfg.Advisory.Path} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Listen == "" {
		cfg.Listen = ":8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	if cfg.Index.Source == "" {
		cfg.Index.Source = "sparse"
	}
	if cfg.Index.RefreshInterval <= 0 {
		cfg.Index.RefreshInterval = 5 * time.Minute
	}
	if cfg.Index.BreakerTimeout <= 0 {
		cfg.Index.BreakerTimeout = 30 * time.Second
	}

	if cfg.Advisory.Source == "" {
		cfg.Advisory.Source = "osv"
	}
	if cfg.Advisory.RefreshInterval <= 0 {
		cfg.Advisory.RefreshInterval = time.Hour
	}

	if cfg.Cache.TTL <= 0 {
		cfg.Cache.TTL = 10 * time.Minute
	}
	if cfg.Cache.Capacity <= 0 {
		cfg.Cache.Capacity = 500
	}
	if cfg.Cache.ComputeTimeout <= 0 {
		cfg.Cache.ComputeTimeout = 60 * time.Second
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "memory"
	}

	if cfg.Archive.Backend == "" {
		cfg.Archive.Backend = "none"
	}
	if cfg.Archive.Database == "" {
		cfg.Archive.Database = "cratestatus"
	}

	if cfg.Analysis.FetchConcurrency <= 0 {
		cfg.Analysis.FetchConcurrency = 16
	}

	if cfg.Forge.RequestsPerSecond <= 0 {
		cfg.Forge.RequestsPerSecond = 10
	}
	if cfg.Forge.Burst <= 0 {
		cfg.Forge.Burst = 20
	}
	if cfg.Forge.CacheTTL <= 0 {
		cfg.Forge.CacheTTL = 10 * time.Minute
	}
}

package config

import (
	"fmt"
	"strings"

	apperr "github.com/matzehuels/cratestatus/pkg/errors"
)

// Validate checks that the selected backends have what they need.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of: debug, info, warn, error; got %q", c.LogLevel)
	}
	if err := validateIndex(&c.Index); err != nil {
		return err
	}
	if err := validateAdvisory(&c.Advisory); err != nil {
		return err
	}
	if err := validateCache(&c.Cache); err != nil {
		return err
	}
	return validateArchive(&c.Archive)
}

func validateIndex(ix *Index) error {
	switch ix.Source {
	case "sparse":
		if ix.URL != "" {
			if err := apperr.ValidateURL(ix.URL); err != nil {
				return fmt.Errorf("index.url: %w", err)
			}
		}
	case "file":
		if strings.TrimSpace(ix.Path) == "" {
			return fmt.Errorf("index.path is required when index.source is file")
		}
	default:
		return fmt.Errorf("index.source must be one of: sparse, file; got %q", ix.Source)
	}
	return nil
}

func validateAdvisory(a *Advisory) error {
	switch a.Source {
	case "osv":
		if a.URL != "" {
			if err := apperr.ValidateURL(a.URL); err != nil {
				return fmt.Errorf("advisory.url: %w", err)
			}
		}
		if a.Watch {
			return fmt.Errorf("advisory.watch requires advisory.source = dir")
		}
	case "dir":
		if strings.TrimSpace(a.Path) == "" {
			return fmt.Errorf("advisory.path is required when advisory.source is dir")
		}
	default:
		return fmt.Errorf("advisory.source must be one of: osv, dir; got %q", a.Source)
	}
	return nil
}

func validateCache(c *Cache) error {
	switch c.Backend {
	case "memory":
	case "redis":
		if strings.TrimSpace(c.RedisAddr) == "" {
			return fmt.Errorf("cache.redis_addr is required when cache.backend is redis")
		}
	default:
		return fmt.Errorf("cache.backend must be one of: memory, redis; got %q", c.Backend)
	}
	return nil
}

func validateArchive(a *Archive) error {
	switch a.Backend {
	case "none", "memory":
	case "mongo":
		if strings.TrimSpace(a.MongoURI) == "" {
			return fmt.Errorf("archive.mongo_uri is required when archive.backend is mongo")
		}
	default:
		return fmt.Errorf("archive.backend must be one of: none, memory, mongo; got %q", a.Backend)
	}
	return nil
}

package integrations

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/matzehuels/cratestatus/pkg/cache"
	apperr "github.com/matzehuels/cratestatus/pkg/errors"
)

const httpTimeout = 30 * time.Second

var (
	// ErrNotFound is returned when a crate, file or repository doesn't exist upstream.
	ErrNotFound = cache.ErrNotFound

	// ErrNetwork is returned for HTTP failures (timeouts, connection errors, 5xx responses).
	ErrNetwork = cache.ErrNetwork

	// ErrRateLimited is returned when the upstream answered 429 on every attempt.
	ErrRateLimited = cache.ErrRateLimited

	// ErrUnauthorized is returned for 401 and 403 responses.
	ErrUnauthorized = errors.New("unauthorized")
)

// NewHTTPClient creates an HTTP client with a standard timeout for upstream requests.
func NewHTTPClient() *http.Client {
	return &http.Client{Timeout: httpTimeout}
}

// Code maps an upstream error to the matching structured error code.
func Code(err error) apperr.Code {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return apperr.ErrCodeNotFound
	case errors.Is(err, ErrUnauthorized):
		return apperr.ErrCodeUnauthorized
	case errors.Is(err, ErrRateLimited):
		return apperr.ErrCodeRateLimited
	default:
		return apperr.ErrCodeNetwork
	}
}

var repoURLReplacer = strings.NewReplacer(
	"git@github.com:", "https://github.com/",
	"git@gitlab.com:", "https://gitlab.com/",
	"git@bitbucket.org:", "https://bitbucket.org/",
	"git://github.com/", "https://github.com/",
)

// NormalizeRepoURL converts various repository URL formats to canonical HTTPS form.
// Handles git@, git://, and git+ prefixes, and removes .git suffixes and
// trailing slashes. Returns empty string if raw is empty.
func NormalizeRepoURL(raw string) string {
	if raw == "" {
		return ""
	}
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "git+")
	s = repoURLReplacer.Replace(s)
	s = strings.TrimSuffix(s, "/")
	return strings.TrimSuffix(s, ".git")
}

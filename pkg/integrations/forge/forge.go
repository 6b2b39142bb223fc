// Package forge fetches Cargo manifests from repository hosting providers.
//
// One provider exists per [project.Site]. Each knows how to build the raw
// file URL for a path at the default branch and, where the provider's API
// allows it, how to list subdirectories (used to expand glob workspace
// members). [Fetcher] dispatches on the identity's site and implements
// [project.Fetcher] and [project.Lister].
//
// Every provider has its own [integrations.Client], so each host gets its
// own rate limiter and cache namespace.
package forge

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/cratestatus/pkg/buildinfo"
	"github.com/matzehuels/cratestatus/pkg/cache"
	apperr "github.com/matzehuels/cratestatus/pkg/errors"
	"github.com/matzehuels/cratestatus/pkg/integrations"
	"github.com/matzehuels/cratestatus/pkg/project"
)

// Config configures the provider set.
type Config struct {
	GitHubToken string
	GitLabToken string

	// GiteaHosts are the self-hosted Gitea instances identities may name.
	GiteaHosts []string

	// RequestsPerSecond and Burst throttle each host. Zero disables
	// throttling.
	RequestsPerSecond float64
	Burst             int

	CacheTTL time.Duration

	// Endpoints overrides base URLs, keyed by site name ("github") or by
	// Gitea host.
	Endpoints map[string]string

	Logger *log.Logger
}

type provider interface {
	fetch(ctx context.Context, id project.Identity, path string) ([]byte, error)
}

type dirLister interface {
	listDirs(ctx context.Context, id project.Identity, dir string) ([]string, error)
}

// Fetcher routes requests to the provider of the identity's site.
type Fetcher struct {
	providers map[project.Site]provider
	gitea     map[string]provider
	github    *githubProvider
	logger    *log.Logger
}

// New builds the provider set. backend caches fetched files for
// cfg.CacheTTL; pass a NullCache to always refetch.
func New(backend cache.Cache, cfg Config, opts ...integrations.Option) *Fetcher {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	client := func(ns string, headers map[string]string) *integrations.Client {
		o := append([]integrations.Option{integrations.WithRateLimit(cfg.RequestsPerSecond, cfg.Burst)}, opts...)
		return integrations.NewClient(backend, "forge:"+ns, cfg.CacheTTL, withUA(headers), o...)
	}
	endpoint := func(key, def string) string {
		if u, ok := cfg.Endpoints[key]; ok && u != "" {
			return strings.TrimSuffix(u, "/")
		}
		return def
	}

	gh := newGitHub(client("github", githubHeaders(cfg.GitHubToken)),
		endpoint("github", "https://raw.githubusercontent.com"),
		endpoint("github-api", endpoint("github", "https://api.github.com")))
	f := &Fetcher{
		providers: map[project.Site]provider{
			project.SiteGitHub: gh,
			project.SiteGitLab: newGitLab(client("gitlab", gitlabHeaders(cfg.GitLabToken)),
				endpoint("gitlab", "https://gitlab.com")),
			project.SiteBitbucket: newBitbucket(client("bitbucket", nil),
				endpoint("bitbucket", "https://bitbucket.org"),
				endpoint("bitbucket-api", endpoint("bitbucket", "https://api.bitbucket.org"))),
			project.SiteSourceHut: newSourceHut(client("sourcehut", nil),
				endpoint("sourcehut", "https://git.sr.ht")),
			project.SiteCodeberg: newGitea(client("codeberg", nil),
				endpoint("codeberg", "https://codeberg.org")),
		},
		gitea:  map[string]provider{},
		github: gh,
		logger: logger,
	}
	for _, host := range cfg.GiteaHosts {
		host = strings.ToLower(strings.TrimSpace(host))
		if host == "" {
			continue
		}
		f.gitea[host] = newGitea(client("gitea:"+host, nil), endpoint(host, "https://"+host))
	}
	return f
}

// Fetch implements [project.Fetcher].
func (f *Fetcher) Fetch(ctx context.Context, id project.Identity, path string) ([]byte, error) {
	p, err := f.provider(id)
	if err != nil {
		return nil, err
	}
	path = cleanPath(path)
	if err := apperr.ValidatePath(path); err != nil {
		return nil, err
	}
	data, err := p.fetch(ctx, id, path)
	if err != nil {
		f.logger.Debug("manifest fetch failed", "identity", id, "path", path, "err", err)
		return nil, fetchError(id, path, err)
	}
	return data, nil
}

// ListDirs implements [project.Lister] for providers with a listing API.
// Providers without one return an empty list.
func (f *Fetcher) ListDirs(ctx context.Context, id project.Identity, dir string) ([]string, error) {
	p, err := f.provider(id)
	if err != nil {
		return nil, err
	}
	l, ok := p.(dirLister)
	if !ok {
		return nil, nil
	}
	dir = cleanPath(dir)
	if dir != "" {
		if err := apperr.ValidatePath(dir); err != nil {
			return nil, err
		}
	}
	dirs, err := l.listDirs(ctx, id, dir)
	if err != nil {
		return nil, fetchError(id, dir+"/", err)
	}
	return dirs, nil
}

// PopularRepos returns popular Rust repositories on GitHub.
func (f *Fetcher) PopularRepos(ctx context.Context) ([]project.Identity, error) {
	return f.github.popular(ctx)
}

func (f *Fetcher) provider(id project.Identity) (provider, error) {
	if id.IsCrate() {
		return nil, apperr.New(apperr.ErrCodeInvalidInput, "%s is not a repository", id)
	}
	if id.Site == project.SiteGitea {
		if p, ok := f.gitea[strings.ToLower(id.Host)]; ok {
			return p, nil
		}
		return nil, apperr.New(apperr.ErrCodeInvalidInput, "gitea host %q is not configured", id.Host)
	}
	if p, ok := f.providers[id.Site]; ok {
		return p, nil
	}
	return nil, apperr.New(apperr.ErrCodeInvalidInput, "unsupported site %q", id.Site)
}

func fetchError(id project.Identity, path string, err error) error {
	return apperr.Wrap(apperr.ErrCodeFetch,
		apperr.Wrap(integrations.Code(err), err, "%s", path),
		"fetch %s from %s", path, id)
}

func cleanPath(p string) string {
	p = strings.TrimPrefix(strings.TrimSpace(p), "./")
	return strings.Trim(p, "/")
}

func withUA(h map[string]string) map[string]string {
	out := map[string]string{"User-Agent": buildinfo.UserAgent()}
	for k, v := range h {
		out[k] = v
	}
	return out
}

var (
	_ project.Fetcher = (*Fetcher)(nil)
	_ project.Lister  = (*Fetcher)(nil)
)

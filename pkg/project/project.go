// Package project defines what cratestatus analyzes: a hosted repository
// or a published crate, and the contract manifest fetchers implement.
package project

import (
	"context"
	"sort"
	"strings"

	apperr "github.com/matzehuels/cratestatus/pkg/errors"
)

// Site is a repository hosting provider.
type Site string

const (
	SiteGitHub    Site = "github"
	SiteGitLab    Site = "gitlab"
	SiteBitbucket Site = "bitbucket"
	SiteSourceHut Site = "sourcehut"
	SiteCodeberg  Site = "codeberg"
	SiteGitea     Site = "gitea" // self-hosted; Identity.Host names the instance
)

// Sites lists the providers in a stable order.
var Sites = []Site{SiteGitHub, SiteGitLab, SiteBitbucket, SiteSourceHut, SiteCodeberg, SiteGitea}

var siteHosts = map[string]Site{
	"github.com":    SiteGitHub,
	"gitlab.com":    SiteGitLab,
	"bitbucket.org": SiteBitbucket,
	"git.sr.ht":     SiteSourceHut,
	"codeberg.org":  SiteCodeberg,
}

// Host returns the public host of a hosted site; empty for gitea.
func (s Site) Host() string {
	for host, site := range siteHosts {
		if site == s {
			return host
		}
	}
	return ""
}

// ParseSite accepts a site name ("github") or its host ("github.com").
func ParseSite(s string) (Site, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if site, ok := siteHosts[s]; ok {
		return site, nil
	}
	for _, site := range Sites {
		if string(site) == s {
			return site, nil
		}
	}
	return "", apperr.New(apperr.ErrCodeInvalidInput, "unknown site %q", s)
}

// Identity names the thing being analyzed. Exactly one of the repository
// fields (Site, Owner, Name) or the crate fields (Crate, Version) is set.
type Identity struct {
	Site  Site   `json:"site,omitempty" bson:"site,omitempty"`
	Host  string `json:"host,omitempty" bson:"host,omitempty"`
	Owner string `json:"owner,omitempty" bson:"owner,omitempty"`
	Name  string `json:"name,omitempty" bson:"name,omitempty"`

	Crate string `json:"crate,omitempty" bson:"crate,omitempty"`
	// Version is empty for "latest non-yanked release".
	Version string `json:"version,omitempty" bson:"version,omitempty"`
}

// IsCrate reports whether the identity is a published crate.
func (i Identity) IsCrate() bool { return i.Crate != "" }

// String renders a stable, human-readable form that also serves as the
// identity part of cache keys: "github.com/owner/name",
// "gitea:git.example.org/owner/name", "crates.io/serde@1.0.0" or
// "crates.io/serde@latest".
func (i Identity) String() string {
	if i.IsCrate() {
		v := i.Version
		if v == "" {
			v = "latest"
		}
		return "crates.io/" + i.Crate + "@" + v
	}
	if i.Site == SiteGitea {
		return "gitea:" + i.Host + "/" + i.Owner + "/" + i.Name
	}
	return i.Site.Host() + "/" + i.Owner + "/" + i.Name
}

// Repo builds and validates a repository identity.
func Repo(site Site, owner, name string) (Identity, error) {
	id := Identity{Site: site, Owner: owner, Name: strings.TrimSuffix(name, ".git")}
	if site == SiteGitea {
		return Identity{}, apperr.New(apperr.ErrCodeInvalidInput, "gitea repositories need a host; use Gitea()")
	}
	return id, id.validate()
}

// Gitea builds a self-hosted Gitea repository identity.
func Gitea(host, owner, name string) (Identity, error) {
	id := Identity{Site: SiteGitea, Host: strings.ToLower(host), Owner: owner, Name: strings.TrimSuffix(name, ".git")}
	return id, id.validate()
}

// Crate builds a crate identity. An empty or "latest" version means the
// newest non-yanked release.
func Crate(name, version string) (Identity, error) {
	if version == "latest" {
		version = ""
	}
	if err := apperr.ValidateCrateName(name); err != nil {
		return Identity{}, err
	}
	return Identity{Crate: name, Version: version}, nil
}

func (i Identity) validate() error {
	if i.IsCrate() {
		return apperr.ValidateCrateName(i.Crate)
	}
	if _, err := ParseSite(string(i.Site)); err != nil {
		return err
	}
	if i.Site == SiteGitea {
		if err := apperr.ValidateRepoSegment("host", i.Host); err != nil {
			return err
		}
	}
	if err := apperr.ValidateRepoSegment("owner", i.Owner); err != nil {
		return err
	}
	return apperr.ValidateRepoSegment("repository name", i.Name)
}

// Parse accepts the identity forms used on the command line:
//
//	github/owner/name
//	github.com/owner/name
//	https://gitlab.com/owner/name(.git)
//	gitea:git.example.org/owner/name
//	crate:serde  crate:serde@1.0.100
func Parse(s string) (Identity, error) {
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(s, "crate:"); ok {
		name, version, _ := strings.Cut(rest, "@")
		return Crate(name, version)
	}
	if rest, ok := strings.CutPrefix(s, "gitea:"); ok {
		parts := strings.Split(strings.Trim(rest, "/"), "/")
		if len(parts) != 3 {
			return Identity{}, apperr.New(apperr.ErrCodeInvalidInput, "expected gitea:host/owner/name, got %q", s)
		}
		return Gitea(parts[0], parts[1], parts[2])
	}

	s = strings.TrimPrefix(s, "git+")
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	if rest, ok := strings.CutPrefix(s, "git@"); ok {
		s = strings.Replace(rest, ":", "/", 1)
	}
	parts := strings.Split(strings.Trim(s, "/"), "/")
	if len(parts) != 3 {
		return Identity{}, apperr.New(apperr.ErrCodeInvalidInput, "expected site/owner/name or crate:name[@version], got %q", s)
	}
	site, err := ParseSite(parts[0])
	if err != nil {
		return Identity{}, err
	}
	return Repo(site, strings.TrimPrefix(parts[1], "~"), parts[2])
}

// Fetcher retrieves raw files from a hosted repository. path is relative
// to the repository root at its default branch.
//
// Implementations report failures as structured errors with code
// FETCH_ERROR whose cause carries NOT_FOUND, UNAUTHORIZED or RATE_LIMITED
// when the provider said so.
type Fetcher interface {
	Fetch(ctx context.Context, id Identity, path string) ([]byte, error)
}

// Lister is implemented by fetchers that can enumerate directories. It is
// used to expand glob workspace members. Only subdirectory names are
// returned.
type Lister interface {
	ListDirs(ctx context.Context, id Identity, dir string) ([]string, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, id Identity, path string) ([]byte, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, id Identity, path string) ([]byte, error) {
	return f(ctx, id, path)
}

// MapFetcher serves files from memory, keyed by path. It is used for local
// directories read ahead of time and in tests.
type MapFetcher map[string][]byte

// Fetch returns the file at path or a FETCH_ERROR wrapping NOT_FOUND.
func (m MapFetcher) Fetch(_ context.Context, id Identity, path string) ([]byte, error) {
	if data, ok := m[path]; ok {
		return data, nil
	}
	return nil, apperr.Wrap(apperr.ErrCodeFetch,
		apperr.New(apperr.ErrCodeNotFound, "%s not found", path),
		"fetch %s from %s", path, id)
}

// ListDirs returns the immediate subdirectories of dir that appear in the
// map's paths.
func (m MapFetcher) ListDirs(_ context.Context, _ Identity, dir string) ([]string, error) {
	prefix := strings.Trim(dir, "/")
	if prefix != "" {
		prefix += "/"
	}
	seen := map[string]bool{}
	var out []string
	for p := range m {
		rest, ok := strings.CutPrefix(p, prefix)
		if !ok {
			continue
		}
		sub, _, nested := strings.Cut(rest, "/")
		if nested && !seen[sub] {
			seen[sub] = true
			out = append(out, sub)
		}
	}
	sort.Strings(out)
	return out, nil
}

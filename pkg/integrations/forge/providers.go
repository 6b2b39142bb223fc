package forge

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/matzehuels/cratestatus/pkg/integrations"
	"github.com/matzehuels/cratestatus/pkg/project"
)

func githubHeaders(token string) map[string]string {
	h := map[string]string{"Accept": "application/vnd.github.v3+json"}
	if token != "" {
		h["Authorization"] = "Bearer " + token
	}
	return h
}

func gitlabHeaders(token string) map[string]string {
	if token == "" {
		return nil
	}
	return map[string]string{"PRIVATE-TOKEN": token}
}

// escapePath escapes each segment of a slash-separated path.
func escapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

func cacheKey(id project.Identity, path string) string {
	return id.String() + "/" + path
}

// =============================================================================
// GitHub
// =============================================================================

type githubProvider struct {
	*integrations.Client
	rawURL string
	apiURL string
}

func newGitHub(c *integrations.Client, rawURL, apiURL string) *githubProvider {
	return &githubProvider{Client: c, rawURL: rawURL, apiURL: apiURL}
}

func (p *githubProvider) fetch(ctx context.Context, id project.Identity, path string) ([]byte, error) {
	return p.CachedBytes(ctx, cacheKey(id, path), false, func() ([]byte, error) {
		return p.GetBytes(ctx, fmt.Sprintf("%s/%s/%s/HEAD/%s", p.rawURL, id.Owner, id.Name, escapePath(path)))
	})
}

type githubContent struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

func (p *githubProvider) listDirs(ctx context.Context, id project.Identity, dir string) ([]string, error) {
	var items []githubContent
	u := fmt.Sprintf("%s/repos/%s/%s/contents/%s", p.apiURL, id.Owner, id.Name, escapePath(dir))
	if err := p.Get(ctx, u, &items); err != nil {
		return nil, err
	}
	var out []string
	for _, it := range items {
		if it.Type == "dir" {
			out = append(out, it.Name)
		}
	}
	return out, nil
}

type githubSearch struct {
	Items []struct {
		Name  string `json:"name"`
		Owner struct {
			Login string `json:"login"`
		} `json:"owner"`
	} `json:"items"`
}

func (p *githubProvider) popular(ctx context.Context) ([]project.Identity, error) {
	var res githubSearch
	err := p.Cached(ctx, "popular", false, &res, func() error {
		return p.Get(ctx, p.apiURL+"/search/repositories?q=language:rust&sort=stars", &res)
	})
	if err != nil {
		return nil, err
	}
	out := make([]project.Identity, 0, len(res.Items))
	for _, it := range res.Items {
		id, err := project.Repo(project.SiteGitHub, it.Owner.Login, it.Name)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

// =============================================================================
// GitLab
// =============================================================================

type gitlabProvider struct {
	*integrations.Client
	baseURL string
}

func newGitLab(c *integrations.Client, baseURL string) *gitlabProvider {
	return &gitlabProvider{Client: c, baseURL: baseURL}
}

func (p *gitlabProvider) fetch(ctx context.Context, id project.Identity, path string) ([]byte, error) {
	return p.CachedBytes(ctx, cacheKey(id, path), false, func() ([]byte, error) {
		return p.GetBytes(ctx, fmt.Sprintf("%s/%s/%s/-/raw/HEAD/%s", p.baseURL, id.Owner, id.Name, escapePath(path)))
	})
}

func (p *gitlabProvider) listDirs(ctx context.Context, id project.Identity, dir string) ([]string, error) {
	var items []struct {
		Name string `json:"name"`
		Type string `json:"type"`
	}
	u := fmt.Sprintf("%s/api/v4/projects/%s/repository/tree?path=%s&per_page=100",
		p.baseURL, url.PathEscape(id.Owner+"/"+id.Name), url.QueryEscape(dir))
	if err := p.Get(ctx, u, &items); err != nil {
		return nil, err
	}
	var out []string
	for _, it := range items {
		if it.Type == "tree" {
			out = append(out, it.Name)
		}
	}
	return out, nil
}

// =============================================================================
// Bitbucket
// =============================================================================

type bitbucketProvider struct {
	*integrations.Client
	baseURL string
	apiURL  string
}

func newBitbucket(c *integrations.Client, baseURL, apiURL string) *bitbucketProvider {
	return &bitbucketProvider{Client: c, baseURL: baseURL, apiURL: apiURL}
}

func (p *bitbucketProvider) fetch(ctx context.Context, id project.Identity, path string) ([]byte, error) {
	return p.CachedBytes(ctx, cacheKey(id, path), false, func() ([]byte, error) {
		return p.GetBytes(ctx, fmt.Sprintf("%s/%s/%s/raw/HEAD/%s", p.baseURL, id.Owner, id.Name, escapePath(path)))
	})
}

func (p *bitbucketProvider) listDirs(ctx context.Context, id project.Identity, dir string) ([]string, error) {
	var page struct {
		Values []struct {
			Path string `json:"path"`
			Type string `json:"type"`
		} `json:"values"`
	}
	u := fmt.Sprintf("%s/2.0/repositories/%s/%s/src/HEAD/%s?pagelen=100", p.apiURL, id.Owner, id.Name, escapePath(dir))
	if dir != "" {
		u = fmt.Sprintf("%s/2.0/repositories/%s/%s/src/HEAD/%s/?pagelen=100", p.apiURL, id.Owner, id.Name, escapePath(dir))
	}
	if err := p.Get(ctx, u, &page); err != nil {
		return nil, err
	}
	var out []string
	for _, v := range page.Values {
		if v.Type == "commit_directory" {
			out = append(out, v.Path[strings.LastIndex(v.Path, "/")+1:])
		}
	}
	return out, nil
}

// =============================================================================
// SourceHut
// =============================================================================

// sourcehutProvider has no listing: git.sr.ht exposes tree listings only
// through its GraphQL API, which requires a token.
type sourcehutProvider struct {
	*integrations.Client
	baseURL string
}

func newSourceHut(c *integrations.Client, baseURL string) *sourcehutProvider {
	return &sourcehutProvider{Client: c, baseURL: baseURL}
}

func (p *sourcehutProvider) fetch(ctx context.Context, id project.Identity, path string) ([]byte, error) {
	return p.CachedBytes(ctx, cacheKey(id, path), false, func() ([]byte, error) {
		return p.GetBytes(ctx, fmt.Sprintf("%s/~%s/%s/blob/HEAD/%s", p.baseURL, id.Owner, id.Name, escapePath(path)))
	})
}

// =============================================================================
// Gitea (Codeberg and self-hosted)
// =============================================================================

type giteaProvider struct {
	*integrations.Client
	baseURL string
}

func newGitea(c *integrations.Client, baseURL string) *giteaProvider {
	return &giteaProvider{Client: c, baseURL: baseURL}
}

// fetch uses the API raw endpoint, which resolves the default branch
// when no ref is given.
func (p *giteaProvider) fetch(ctx context.Context, id project.Identity, path string) ([]byte, error) {
	return p.CachedBytes(ctx, cacheKey(id, path), false, func() ([]byte, error) {
		return p.GetBytes(ctx, fmt.Sprintf("%s/api/v1/repos/%s/%s/raw/%s", p.baseURL, id.Owner, id.Name, escapePath(path)))
	})
}

func (p *giteaProvider) listDirs(ctx context.Context, id project.Identity, dir string) ([]string, error) {
	var items []githubContent
	u := fmt.Sprintf("%s/api/v1/repos/%s/%s/contents/%s", p.baseURL, id.Owner, id.Name, escapePath(dir))
	if err := p.Get(ctx, u, &items); err != nil {
		return nil, err
	}
	var out []string
	for _, it := range items {
		if it.Type == "dir" {
			out = append(out, it.Name)
		}
	}
	return out, nil
}

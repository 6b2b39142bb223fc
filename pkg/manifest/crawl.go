package manifest

import (
	"context"
	"path"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	apperr "github.com/matzehuels/cratestatus/pkg/errors"
	"github.com/matzehuels/cratestatus/pkg/project"
)

// MaxManifests bounds how many manifests one crawl reads.
const MaxManifests = 256

const crawlConcurrency = 8

// Reader fetches files from one project.
type Reader interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
}

// DirLister is implemented by readers that can list subdirectories. It is
// needed to expand glob workspace members.
type DirLister interface {
	ListDirs(ctx context.Context, dir string) ([]string, error)
}

// ForProject adapts a project fetcher to a Reader bound to id. The result
// implements DirLister when f implements project.Lister.
func ForProject(f project.Fetcher, id project.Identity) Reader {
	r := projectReader{f: f, id: id}
	if l, ok := f.(project.Lister); ok {
		return listingReader{projectReader: r, l: l}
	}
	return r
}

type projectReader struct {
	f  project.Fetcher
	id project.Identity
}

func (r projectReader) ReadFile(ctx context.Context, p string) ([]byte, error) {
	return r.f.Fetch(ctx, r.id, p)
}

type listingReader struct {
	projectReader
	l project.Lister
}

func (r listingReader) ListDirs(ctx context.Context, dir string) ([]string, error) {
	return r.l.ListDirs(ctx, r.id, dir)
}

// Failure is a member manifest that could not be read or parsed.
type Failure struct {
	Path string `json:"path"`
	Err  error  `json:"-"`
}

// Set is the result of a crawl: parsed manifests in discovery order,
// entry first, and the members that failed.
type Set struct {
	Manifests []*Manifest
	Failed    []Failure
}

// Crawl reads the manifest at entry and everything it points to: non-glob
// workspace members, glob members ending in "/*" when r is a DirLister,
// and local path dependencies. Every manifest is read once, each wave of
// newly discovered paths concurrently.
//
// A failure on the entry manifest aborts the crawl with that error. A
// failing member is recorded in Set.Failed and the crawl continues.
func Crawl(ctx context.Context, r Reader, entry string) (*Set, error) {
	if entry == "" {
		entry = FileName
	}
	entry = path.Clean(entry)
	if err := apperr.ValidatePath(entry); err != nil {
		return nil, err
	}

	set := &Set{}
	visited := map[string]bool{entry: true}
	wave := []string{entry}

	for len(wave) > 0 {
		results := make([]crawlResult, len(wave))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(crawlConcurrency)
		for i, p := range wave {
			g.Go(func() error {
				results[i] = fetchManifest(gctx, r, p)
				return nil
			})
		}
		_ = g.Wait()
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var next []string
		for i, res := range results {
			if res.err != nil {
				if wave[i] == entry {
					return nil, res.err
				}
				set.Failed = append(set.Failed, Failure{Path: wave[i], Err: res.err})
				continue
			}
			set.Manifests = append(set.Manifests, res.m)
			for _, p := range discover(ctx, r, res.m) {
				if visited[p] || len(visited) >= MaxManifests {
					continue
				}
				visited[p] = true
				next = append(next, p)
			}
		}
		wave = next
	}
	return set, nil
}

type crawlResult struct {
	m   *Manifest
	err error
}

func fetchManifest(ctx context.Context, r Reader, p string) crawlResult {
	data, err := r.ReadFile(ctx, p)
	if err != nil {
		if apperr.GetCode(err) == "" {
			err = apperr.Wrap(apperr.ErrCodeFetch, err, "fetch %s", p)
		}
		return crawlResult{err: err}
	}
	m, err := Parse(p, data)
	return crawlResult{m: m, err: err}
}

// discover returns the manifest paths m refers to, in declaration order.
func discover(ctx context.Context, r Reader, m *Manifest) []string {
	dir := m.Dir()
	var out []string
	add := func(rel string) {
		p := path.Join(dir, rel, FileName)
		if apperr.ValidatePath(p) == nil {
			out = append(out, p)
		}
	}

	if ws := m.Workspace; ws != nil {
		excluded := map[string]bool{}
		for _, e := range ws.Exclude {
			excluded[path.Join(dir, e)] = true
		}
		for _, member := range ws.Members {
			member = strings.TrimSuffix(member, "/")
			if !strings.ContainsAny(member, "*?[") {
				if !excluded[path.Join(dir, member)] {
					add(member)
				}
				continue
			}
			parent, ok := strings.CutSuffix(member, "/*")
			lister, canList := r.(DirLister)
			if !ok || !canList || strings.ContainsAny(parent, "*?[") {
				continue
			}
			subs, err := lister.ListDirs(ctx, path.Join(dir, parent))
			if err != nil {
				continue
			}
			for _, sub := range subs {
				rel := path.Join(parent, sub)
				if !excluded[path.Join(dir, rel)] {
					add(rel)
				}
			}
		}
	}

	for _, d := range m.Dependencies {
		if d.Source == SourcePath && d.Path != "" {
			add(d.Path)
		}
	}
	if ws := m.Workspace; ws != nil {
		names := make([]string, 0, len(ws.Dependencies))
		for name, d := range ws.Dependencies {
			if d.Source == SourcePath && d.Path != "" {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		for _, name := range names {
			add(ws.Dependencies[name].Path)
		}
	}
	return out
}

package analysis

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"github.com/matzehuels/cratestatus/pkg/advisory"
	"github.com/matzehuels/cratestatus/pkg/cache"
	apperr "github.com/matzehuels/cratestatus/pkg/errors"
	"github.com/matzehuels/cratestatus/pkg/index"
	"github.com/matzehuels/cratestatus/pkg/manifest"
	"github.com/matzehuels/cratestatus/pkg/observability"
	"github.com/matzehuels/cratestatus/pkg/project"
	"github.com/matzehuels/cratestatus/pkg/status"
)

// Archiver records freshly computed results.
type Archiver interface {
	Append(ctx context.Context, r *Result) error
}

// Engine runs analyses against the live index and advisory stores.
type Engine struct {
	index      *index.Store
	advisories *advisory.Store
	fetcher    project.Fetcher
	cache      *Cache
	keyer      cache.Keyer
	archive    Archiver
	logger     *log.Logger

	crawls singleflight.Group
}

// Option configures an Engine.
type Option func(*Engine)

// WithFetcher sets the manifest fetcher used by AnalyzeProject for
// repository identities.
func WithFetcher(f project.Fetcher) Option { return func(e *Engine) { e.fetcher = f } }

// WithCache sets the result cache. The default is NewCache(CacheConfig{}).
func WithCache(c *Cache) Option { return func(e *Engine) { e.cache = c } }

// WithKeyer sets the keyer used to derive cache keys.
func WithKeyer(k cache.Keyer) Option { return func(e *Engine) { e.keyer = k } }

// WithArchive records every computed result.
func WithArchive(a Archiver) Option { return func(e *Engine) { e.archive = a } }

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine returns an engine reading idx and adv.
func NewEngine(idx *index.Store, adv *advisory.Store, opts ...Option) *Engine {
	e := &Engine{
		index:      idx,
		advisories: adv,
		keyer:      cache.NewDefaultKeyer(),
		logger:     log.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cache == nil {
		e.cache = NewCache(CacheConfig{Logger: e.logger})
	}
	return e
}

// Cache returns the engine's result cache.
func (e *Engine) Cache() *Cache { return e.cache }

// Analyze classifies the given manifest set. The first manifest is the
// entry point; a parse error there fails the request, a parse error in any
// other manifest is reported on that manifest's result.
func (e *Engine) Analyze(ctx context.Context, id project.Identity, manifests []Manifest, policy status.Policy) (*Result, error) {
	if len(manifests) == 0 {
		return nil, apperr.New(apperr.ErrCodeInvalidInput, "no manifests to analyze")
	}
	key := keyWith(e.keyer, id, manifests, policy)
	return e.cache.Get(ctx, key, func(ctx context.Context) (*Result, error) {
		set := &manifest.Set{}
		for i, m := range manifests {
			parsed, err := manifest.Parse(m.Path, m.Content)
			if err != nil {
				if i == 0 {
					return nil, err
				}
				set.Failed = append(set.Failed, manifest.Failure{Path: m.Path, Err: err})
				continue
			}
			set.Manifests = append(set.Manifests, parsed)
		}
		return e.run(ctx, id, key, policy, e.resolveSet(set))
	})
}

// AnalyzeProject fetches and analyzes a project. Repository identities
// are crawled through the configured fetcher; crate identities take their
// dependency list from the registry index.
func (e *Engine) AnalyzeProject(ctx context.Context, id project.Identity, policy status.Policy) (*Result, error) {
	if id.IsCrate() {
		return e.analyzeCrate(ctx, id, policy)
	}
	if e.fetcher == nil {
		return nil, apperr.New(apperr.ErrCodeUnsupportedSource, "no manifest fetcher configured for %s", id)
	}

	set, err := e.crawl(ctx, id)
	if err != nil {
		return nil, err
	}

	inputs := make([]Manifest, 0, len(set.Manifests)+len(set.Failed))
	for _, m := range set.Manifests {
		inputs = append(inputs, Manifest{Path: m.Path, Content: m.Raw})
	}
	for _, f := range set.Failed {
		inputs = append(inputs, Manifest{Path: f.Path, Content: []byte("\x00" + f.Err.Error())})
	}
	key := keyWith(e.keyer, id, inputs, policy)
	return e.cache.Get(ctx, key, func(ctx context.Context) (*Result, error) {
		return e.run(ctx, id, key, policy, e.resolveSet(set))
	})
}

func (e *Engine) analyzeCrate(ctx context.Context, id project.Identity, policy status.Policy) (*Result, error) {
	key := keyWith(e.keyer, id, nil, policy)
	return e.cache.Get(ctx, key, func(ctx context.Context) (*Result, error) {
		snap, err := e.index.Ensure(ctx, []string{id.Crate})
		if err != nil {
			return nil, err
		}
		rel, err := findRelease(snap, id)
		if err != nil {
			return nil, err
		}
		return e.run(ctx, id, key, policy, []ManifestResult{crateManifest(id.Crate, rel)})
	})
}

// run classifies the resolved manifests against snapshots that contain
// every referenced crate, then rolls up and archives the result.
func (e *Engine) run(ctx context.Context, id project.Identity, key string, policy status.Policy, results []ManifestResult) (*Result, error) {
	start := time.Now()
	observability.Analysis().OnAnalysisStart(ctx, id.String())

	r, err := e.compute(ctx, id, key, policy, results)

	deps := 0
	if r != nil {
		deps = r.Dependencies()
	}
	observability.Analysis().OnAnalysisComplete(ctx, id.String(), deps, time.Since(start), err)
	if err != nil {
		e.logger.Debug("analysis failed", "identity", id, "err", err)
		return nil, err
	}
	e.logger.Debug("analysis complete", "identity", id, "deps", deps,
		"severity", r.Summary.Severity, "took", time.Since(start).Round(time.Millisecond))

	if e.archive != nil {
		if err := e.archive.Append(ctx, r); err != nil {
			e.logger.Warn("archive result", "identity", id, "err", err)
		}
	}
	return r, nil
}

func (e *Engine) compute(ctx context.Context, id project.Identity, key string, policy status.Policy, results []ManifestResult) (*Result, error) {
	if _, err := e.index.Snapshot(); err != nil {
		return nil, err
	}
	adv, err := e.advisories.Snapshot()
	if err != nil {
		return nil, err
	}

	var names []string
	for _, m := range results {
		for _, d := range m.Dependencies {
			if d.Dependency.Resolvable() {
				names = append(names, d.Dependency.Package)
			}
		}
	}
	idx, err := e.index.Ensure(ctx, names)
	if err != nil {
		return nil, err
	}

	r := &Result{
		Identity:      id,
		Key:           key,
		Policy:        policy,
		Manifests:     results,
		ComputedAt:    time.Now().UTC(),
		IndexCycle:    idx.Cycle(),
		AdvisoryCycle: adv.Cycle(),
		Stale:         e.index.Stale() || e.advisories.Stale(),
	}
	var all []status.Status
	for i := range r.Manifests {
		m := &r.Manifests[i]
		if m.Error != "" {
			continue
		}
		deps := make([]manifest.Dependency, len(m.Dependencies))
		for j, s := range m.Dependencies {
			deps[j] = s.Dependency
		}
		m.Dependencies = status.ClassifyAll(deps, idx, adv)
		m.Summary = status.Reduce(m.Dependencies, policy)
		all = append(all, m.Dependencies...)
	}
	r.Summary = status.Reduce(all, policy)
	return r, nil
}

// crawl reads a repository's manifests once for all concurrent callers.
// Like a computation, the crawl is detached from the callers and bounded
// by the cache timeout.
func (e *Engine) crawl(ctx context.Context, id project.Identity) (*manifest.Set, error) {
	ch := e.crawls.DoChan(id.String(), func() (any, error) {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cache.timeout)
		defer cancel()
		return manifest.Crawl(cctx, manifest.ForProject(e.fetcher, id), manifest.FileName)
	})
	select {
	case res := <-ch:
		if errors.Is(res.Err, context.DeadlineExceeded) {
			return nil, apperr.Wrap(apperr.ErrCodeTimeout, res.Err, "crawl %s", id)
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*manifest.Set), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// resolveSet resolves a manifest set into unclassified manifest results.
func (e *Engine) resolveSet(set *manifest.Set) []ManifestResult {
	var out []ManifestResult
	for _, res := range manifest.Resolve(set.Manifests) {
		mr := ManifestResult{Path: res.Path, Package: res.Package, Dependencies: make([]status.Status, len(res.Dependencies))}
		for i, d := range res.Dependencies {
			mr.Dependencies[i] = status.Status{Dependency: d}
		}
		out = append(out, mr)
	}
	for _, f := range set.Failed {
		out = append(out, ManifestResult{Path: f.Path, Dependencies: []status.Status{}, Error: apperr.UserMessage(f.Err)})
	}
	return out
}

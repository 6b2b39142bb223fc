package index

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/cratestatus/pkg/integrations"
	"github.com/matzehuels/cratestatus/pkg/integrations/crates"
	"github.com/matzehuels/cratestatus/pkg/semver"
)

// DefaultFetchConcurrency bounds parallel index-file downloads.
const DefaultFetchConcurrency = 16

// SparseSource turns the crates.io sparse index into a changelog.
//
// The sparse index has no global event feed, so the source remembers the
// crates it has served and the last state it saw for each of them. A
// refresh downloads every tracked crate's index file again and reports the
// difference as publish, yank and unyank events. Crates join the tracked
// set through the seed list and through Fetch.
type SparseSource struct {
	client      *crates.Client
	seeds       []string
	concurrency int
	logger      *log.Logger

	mu    sync.Mutex
	state map[string]map[string]bool // crate -> version -> yanked
	cycle int
}

// SparseOption configures a SparseSource.
type SparseOption func(*SparseSource)

// WithSeeds sets the crates loaded on the initial refresh.
func WithSeeds(names ...string) SparseOption {
	return func(s *SparseSource) { s.seeds = append(s.seeds, names...) }
}

// WithConcurrency bounds parallel downloads.
func WithConcurrency(n int) SparseOption {
	return func(s *SparseSource) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithSourceLogger sets the logger.
func WithSourceLogger(l *log.Logger) SparseOption {
	return func(s *SparseSource) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSparseSource returns a source reading through client.
func NewSparseSource(client *crates.Client, opts ...SparseOption) *SparseSource {
	s := &SparseSource{
		client:      client,
		concurrency: DefaultFetchConcurrency,
		logger:      log.Default(),
		state:       make(map[string]map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tracked returns the names of the crates the source follows.
func (s *SparseSource) Tracked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.state))
	for n := range s.state {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Changes implements Source. An empty cursor loads the seed crates; any
// other cursor re-reads all tracked crates and diffs them.
func (s *SparseSource) Changes(ctx context.Context, cursor string) (Changelog, error) {
	initial := cursor == ""
	names := s.seeds
	if !initial {
		names = s.Tracked()
	}

	files, err := s.download(ctx, names, !initial)
	if err != nil && len(files) == 0 && len(names) > 0 {
		return Changelog{}, err
	}
	if err != nil {
		s.logger.Warn("partial index refresh", "crates", len(names), "fetched", len(files), "err", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var events []Event
	for _, name := range sortedKeys(files) {
		events = append(events, s.diffLocked(name, files[name])...)
	}
	s.cycle++
	return Changelog{
		Events: events,
		Cursor: strconv.Itoa(s.cycle) + "@" + time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// Fetch implements Source. Fetched crates are tracked from now on.
func (s *SparseSource) Fetch(ctx context.Context, names []string) ([]Event, error) {
	files, err := s.download(ctx, names, false)

	s.mu.Lock()
	defer s.mu.Unlock()
	var events []Event
	for _, name := range sortedKeys(files) {
		delete(s.state, name)
		events = append(events, s.diffLocked(name, files[name])...)
	}
	return events, err
}

// download fetches index files concurrently. Unknown crates are skipped;
// other failures are joined into the returned error while successful
// downloads are still returned.
func (s *SparseSource) download(ctx context.Context, names []string, refresh bool) (map[string][]crates.IndexRelease, error) {
	var (
		mu    sync.Mutex
		out   = make(map[string][]crates.IndexRelease, len(names))
		errs  []error
		group errgroup.Group
	)
	group.SetLimit(s.concurrency)
	for _, name := range names {
		name := key(name)
		group.Go(func() error {
			rels, err := s.client.FetchIndex(ctx, name, refresh)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, integrations.ErrNotFound):
				s.logger.Debug("crate not in index", "crate", name)
			case err != nil:
				errs = append(errs, err)
			default:
				out[name] = rels
			}
			return nil
		})
	}
	_ = group.Wait()
	return out, errors.Join(errs...)
}

// diffLocked compares a downloaded index file with the remembered state
// and records the new state. Callers hold s.mu.
func (s *SparseSource) diffLocked(name string, rels []crates.IndexRelease) []Event {
	prev := s.state[name]
	next := make(map[string]bool, len(rels))
	var events []Event
	for _, r := range rels {
		v, err := semver.Parse(r.Version)
		if err != nil {
			s.logger.Debug("skipping unparseable version", "crate", name, "version", r.Version)
			continue
		}
		next[v.String()] = r.Yanked
		was, known := prev[v.String()]
		switch {
		case !known:
			events = append(events, Event{
				Kind:    EventPublish,
				Crate:   name,
				Version: v,
				Yanked:  r.Yanked,
				Deps:    convertDeps(name, r.Deps, s.logger),
			})
		case was != r.Yanked && r.Yanked:
			events = append(events, Event{Kind: EventYank, Crate: name, Version: v})
		case was != r.Yanked:
			events = append(events, Event{Kind: EventUnyank, Crate: name, Version: v})
		}
	}
	s.state[name] = next
	return events
}

func convertDeps(crate string, in []crates.IndexDep, logger *log.Logger) []Dep {
	out := make([]Dep, 0, len(in))
	for _, d := range in {
		if d.Registry != "" {
			continue
		}
		req, err := semver.ParseRequirement(d.Req)
		if err != nil {
			logger.Debug("skipping dependency with unparseable requirement",
				"crate", crate, "dep", d.Name, "req", d.Req)
			continue
		}
		kind := KindNormal
		switch d.Kind {
		case "dev":
			kind = KindDev
		case "build":
			kind = KindBuild
		}
		out = append(out, Dep{Name: d.CrateName(), Req: req, Kind: kind, Optional: d.Optional})
	}
	return out
}

func sortedKeys(m map[string][]crates.IndexRelease) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

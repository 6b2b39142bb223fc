package index

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	apperr "github.com/matzehuels/cratestatus/pkg/errors"
	"github.com/matzehuels/cratestatus/pkg/observability"
)

const storeName = "index"

// DefaultAbsentTTL is how long a crate the source reported as unknown is
// remembered before Ensure asks for it again.
const DefaultAbsentTTL = 5 * time.Minute

// Source supplies registry changes to a Store.
type Source interface {
	// Changes returns the events after cursor. An empty cursor asks for the
	// initial load.
	Changes(ctx context.Context, cursor string) (Changelog, error)

	// Fetch returns publish events for the named crates. Unknown crates are
	// omitted from the result rather than reported as errors.
	Fetch(ctx context.Context, names []string) ([]Event, error)
}

// Status describes a store for health endpoints.
type Status struct {
	Ready       bool      `json:"ready"`
	Stale       bool      `json:"stale"`
	Crates      int       `json:"crates"`
	Cursor      string    `json:"cursor,omitempty"`
	Cycle       string    `json:"cycle,omitempty"`
	BuiltAt     time.Time `json:"built_at,omitempty"`
	LastRefresh time.Time `json:"last_refresh,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

// Store serves the current Snapshot and replaces it on refresh.
//
// Readers call Snapshot and never block. Refresh cycles hold refreshMu
// exclusively; Ensure holds it shared from its Fetch through its swap, so
// fetched crates are always in place before a later changelog yanks them,
// and a fetch never starts before an in-flight changelog is applied. The
// copy-then-swap step itself is serialized by swapMu, which is held only
// while events are applied to the latest snapshot and the pointer is
// exchanged.
type Store struct {
	source    Source
	logger    *log.Logger
	absentTTL time.Duration

	current   atomic.Pointer[Snapshot]
	stale     atomic.Bool
	refreshMu sync.RWMutex
	swapMu    sync.Mutex

	mu          sync.Mutex
	lastRefresh time.Time
	lastErr     error
	absent      map[string]time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the logger. The default is log.Default().
func WithLogger(l *log.Logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithAbsentTTL sets how long unknown crates are remembered by Ensure.
func WithAbsentTTL(d time.Duration) StoreOption {
	return func(s *Store) { s.absentTTL = d }
}

// NewStore returns an empty store backed by src. Call Refresh (or Run)
// before serving.
func NewStore(src Source, opts ...StoreOption) *Store {
	s := &Store{
		source:    src,
		logger:    log.Default(),
		absentTTL: DefaultAbsentTTL,
		absent:    make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns the live snapshot, or an INDEX_UNAVAILABLE error if no
// refresh has succeeded yet.
func (s *Store) Snapshot() (*Snapshot, error) {
	snap := s.current.Load()
	if snap == nil {
		return nil, apperr.New(apperr.ErrCodeIndexUnavailable, "registry index is still loading")
	}
	return snap, nil
}

// Stale reports whether the most recent refresh failed.
func (s *Store) Stale() bool { return s.stale.Load() }

// Status returns a summary of the store state.
func (s *Store) Status() Status {
	st := Status{Stale: s.stale.Load()}
	if snap := s.current.Load(); snap != nil {
		st.Ready = true
		st.Crates = snap.Len()
		st.Cursor = snap.Cursor()
		st.Cycle = snap.Cycle()
		st.BuiltAt = snap.BuiltAt()
	}
	s.mu.Lock()
	st.LastRefresh = s.lastRefresh
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	s.mu.Unlock()
	return st
}

// Refresh runs one changelog cycle. On failure the previous snapshot keeps
// serving, the store is marked stale and the error is returned.
func (s *Store) Refresh(ctx context.Context) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	start := time.Now()
	cycle := uuid.NewString()
	var cursor string
	if cur := s.current.Load(); cur != nil {
		cursor = cur.Cursor()
	}

	cl, err := s.source.Changes(ctx, cursor)
	s.mu.Lock()
	s.lastRefresh = start
	s.lastErr = err
	s.mu.Unlock()
	observability.Snapshot().OnRefresh(ctx, storeName, time.Since(start), err)
	if err != nil {
		s.setStale(ctx, true)
		s.logger.Warn("index refresh failed", "cycle", cycle, "cursor", cursor, "err", err, "stale", true)
		return apperr.Wrap(apperr.ErrCodeFetch, err, "refresh registry index")
	}

	snap, stats := s.swap(ctx, cl.Events, cycle, func(next *Snapshot) {
		next.cursor = cl.Cursor
	})
	s.setStale(ctx, false)
	s.logger.Info("index refreshed",
		"cycle", cycle,
		"crates", snap.Len(),
		"events", len(cl.Events),
		"published", stats.Published,
		"yanked", stats.Yanked,
		"cursor", cl.Cursor,
		"took", time.Since(start).Round(time.Millisecond))
	return nil
}

// Ensure makes sure the named crates are present, fetching missing ones
// through the Source. It returns the snapshot to use for the caller's
// analysis. Fetch failures are logged and leave the affected crates absent;
// only a cold store produces an error. A fetch waits for an in-flight
// Refresh to finish.
func (s *Store) Ensure(ctx context.Context, names []string) (*Snapshot, error) {
	snap, err := s.Snapshot()
	if err != nil {
		return nil, err
	}

	if len(s.missing(snap, names)) == 0 {
		return snap, nil
	}

	s.refreshMu.RLock()
	defer s.refreshMu.RUnlock()

	// A refresh or another Ensure may have landed while waiting.
	snap = s.current.Load()
	missing := s.missing(snap, names)
	if len(missing) == 0 {
		return snap, nil
	}

	events, err := s.source.Fetch(ctx, missing)
	if err != nil {
		s.logger.Warn("index fetch failed", "crates", len(missing), "err", err)
	}

	found := make(map[string]bool, len(events))
	for _, ev := range events {
		found[key(ev.Crate)] = true
	}
	s.mu.Lock()
	now := time.Now()
	for _, name := range missing {
		if !found[key(name)] && err == nil {
			s.absent[key(name)] = now
		}
	}
	s.mu.Unlock()

	if len(events) == 0 {
		return s.current.Load(), nil
	}
	next, _ := s.swap(ctx, events, "", nil)
	s.logger.Debug("index extended", "crates", len(found), "events", len(events))
	return next, nil
}

// Run refreshes every interval until ctx is done. Errors are logged by
// Refresh and do not stop the loop.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.Refresh(ctx)
		}
	}
}

// Load replaces the live snapshot directly. It is meant for seeding a
// store from a prebuilt snapshot.
func (s *Store) Load(snap *Snapshot) {
	s.swapMu.Lock()
	s.current.Store(snap)
	s.swapMu.Unlock()
	s.setStale(context.Background(), false)
}

func (s *Store) swap(ctx context.Context, events []Event, cycle string, mutate func(*Snapshot)) (*Snapshot, ApplyStats) {
	s.swapMu.Lock()
	defer s.swapMu.Unlock()

	cur := s.current.Load()
	next, stats := Apply(cur, events)
	next.builtAt = time.Now()
	next.cycle = cycle
	if cycle == "" && cur != nil {
		next.cycle = cur.cycle
	}
	if mutate != nil {
		mutate(next)
	}
	s.current.Store(next)
	observability.Snapshot().OnSwap(ctx, storeName, next.Len(), next.builtAt)
	return next, stats
}

func (s *Store) setStale(ctx context.Context, stale bool) {
	if s.stale.Swap(stale) != stale {
		observability.Snapshot().OnStale(ctx, storeName, stale)
	}
}

func (s *Store) missing(snap *Snapshot, names []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	seen := make(map[string]bool, len(names))
	var out []string
	for _, name := range names {
		k := key(name)
		if name == "" || seen[k] || snap.Has(name) {
			continue
		}
		seen[k] = true
		if at, ok := s.absent[k]; ok {
			if now.Sub(at) < s.absentTTL {
				continue
			}
			delete(s.absent, k)
		}
		out = append(out, strings.ToLower(name))
	}
	sort.Strings(out)
	return out
}

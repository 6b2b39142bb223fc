package advisory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	apperr "github.com/matzehuels/cratestatus/pkg/errors"
	"github.com/matzehuels/cratestatus/pkg/observability"
)

const storeName = "advisory"

// Source loads the complete advisory set.
type Source interface {
	Load(ctx context.Context) ([]Advisory, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) ([]Advisory, error)

// Load implements Source.
func (f SourceFunc) Load(ctx context.Context) ([]Advisory, error) { return f(ctx) }

// Status describes a store for health endpoints.
type Status struct {
	Ready       bool      `json:"ready"`
	Stale       bool      `json:"stale"`
	Advisories  int       `json:"advisories"`
	Cycle       string    `json:"cycle,omitempty"`
	BuiltAt     time.Time `json:"built_at,omitempty"`
	LastRefresh time.Time `json:"last_refresh,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

// Store serves the current advisory Snapshot.
type Store struct {
	source Source
	logger *log.Logger

	current   atomic.Pointer[Snapshot]
	stale     atomic.Bool
	refreshMu sync.Mutex

	mu          sync.Mutex
	lastRefresh time.Time
	lastErr     error
}

// NewStore returns an empty store backed by src. A nil logger selects
// log.Default().
func NewStore(src Source, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	return &Store{source: src, logger: logger}
}

// Snapshot returns the live snapshot, or ADVISORY_UNAVAILABLE before the
// first successful refresh.
func (s *Store) Snapshot() (*Snapshot, error) {
	snap := s.current.Load()
	if snap == nil {
		return nil, apperr.New(apperr.ErrCodeAdvisoryUnavailable, "advisory database is still loading")
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
		st.Advisories = snap.Len()
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

// Refresh reloads the advisory set and swaps it in. On failure the old
// snapshot keeps serving and the store is marked stale.
func (s *Store) Refresh(ctx context.Context) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	start := time.Now()
	cycle := uuid.NewString()
	advisories, err := s.source.Load(ctx)

	s.mu.Lock()
	s.lastRefresh = start
	s.lastErr = err
	s.mu.Unlock()
	observability.Snapshot().OnRefresh(ctx, storeName, time.Since(start), err)

	if err != nil {
		s.setStale(ctx, true)
		s.logger.Warn("advisory refresh failed", "cycle", cycle, "err", err, "stale", true)
		return apperr.Wrap(apperr.ErrCodeFetch, err, "refresh advisory database")
	}

	snap := NewSnapshot(advisories)
	snap.cycle = cycle
	s.current.Store(snap)
	observability.Snapshot().OnSwap(ctx, storeName, snap.Len(), snap.builtAt)
	s.setStale(ctx, false)
	s.logger.Info("advisories refreshed", "cycle", cycle, "advisories", snap.Len(),
		"took", time.Since(start).Round(time.Millisecond))
	return nil
}

// Run refreshes every interval until ctx is done.
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

func (s *Store) setStale(ctx context.Context, stale bool) {
	if s.stale.Swap(stale) != stale {
		observability.Snapshot().OnStale(ctx, storeName, stale)
	}
}

package index

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperr "github.com/matzehuels/cratestatus/pkg/errors"
	"github.com/matzehuels/cratestatus/pkg/semver"
)

// fakeSource serves scripted changelogs.
type fakeSource struct {
	mu      sync.Mutex
	batches []Changelog
	err     error
	crates  map[string][]Event
	fetches atomic.Int32
	onFetch func()
}

func (f *fakeSource) Changes(ctx context.Context, cursor string) (Changelog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return Changelog{}, f.err
	}
	if len(f.batches) == 0 {
		return Changelog{Cursor: cursor}, nil
	}
	cl := f.batches[0]
	f.batches = f.batches[1:]
	return cl, nil
}

func (f *fakeSource) Fetch(ctx context.Context, names []string) ([]Event, error) {
	f.fetches.Add(1)
	if f.onFetch != nil {
		f.onFetch()
	}
	var out []Event
	for _, n := range names {
		out = append(out, f.crates[n]...)
	}
	return out, nil
}

func publish(crate, v string) Event {
	return Event{Kind: EventPublish, Crate: crate, Version: semver.MustParse(v)}
}

func TestStoreUnavailableBeforeFirstLoad(t *testing.T) {
	s := NewStore(&fakeSource{})
	if _, err := s.Snapshot(); !apperr.Is(err, apperr.ErrCodeIndexUnavailable) {
		t.Fatalf("Snapshot() error = %v, want INDEX_UNAVAILABLE", err)
	}
	if _, err := s.Ensure(context.Background(), []string{"serde"}); !apperr.Is(err, apperr.ErrCodeIndexUnavailable) {
		t.Fatalf("Ensure() error = %v, want INDEX_UNAVAILABLE", err)
	}
	if s.Status().Ready {
		t.Error("Status().Ready = true before load")
	}
}

func TestStoreRefreshAppliesChangelog(t *testing.T) {
	src := &fakeSource{batches: []Changelog{
		{Events: []Event{publish("serde", "1.0.0")}, Cursor: "1"},
		{Events: []Event{publish("serde", "1.0.1"), {Kind: EventYank, Crate: "serde", Version: semver.MustParse("1.0.0")}}, Cursor: "2"},
	}}
	s := NewStore(src)
	ctx := context.Background()

	if err := s.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	first, _ := s.Snapshot()
	if err := s.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	second, _ := s.Snapshot()

	if first == second {
		t.Fatal("refresh should swap in a new snapshot")
	}
	if got := len(first.AllVersions("serde")); got != 1 {
		t.Errorf("old snapshot changed: %d versions", got)
	}
	if second.Cursor() != "2" {
		t.Errorf("Cursor = %q, want 2", second.Cursor())
	}
	if r, _ := second.Release("serde", semver.MustParse("1.0.0")); !r.Yanked {
		t.Error("yank not applied")
	}
	if second.Cycle() == "" || second.Cycle() == first.Cycle() {
		t.Errorf("cycle ids = %q, %q", first.Cycle(), second.Cycle())
	}
}

func TestStoreFailedRefreshKeepsSnapshot(t *testing.T) {
	src := &fakeSource{batches: []Changelog{{Events: []Event{publish("rand", "0.8.5")}, Cursor: "1"}}}
	s := NewStore(src)
	ctx := context.Background()
	if err := s.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	before, _ := s.Snapshot()

	src.mu.Lock()
	src.err = errors.New("connection reset")
	src.mu.Unlock()

	err := s.Refresh(ctx)
	if !apperr.Is(err, apperr.ErrCodeFetch) {
		t.Fatalf("Refresh() error = %v, want FETCH_ERROR", err)
	}
	after, err := s.Snapshot()
	if err != nil || after != before {
		t.Fatalf("snapshot changed after failed refresh: %v", err)
	}
	if !s.Stale() {
		t.Error("store should be stale")
	}
	st := s.Status()
	if !st.Stale || st.LastError == "" || st.Crates != 1 {
		t.Errorf("Status = %+v", st)
	}

	src.mu.Lock()
	src.err = nil
	src.mu.Unlock()
	if err := s.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if s.Stale() {
		t.Error("successful refresh should clear stale flag")
	}
}

func TestStoreConcurrentReadersSeeConsistentSnapshots(t *testing.T) {
	// Every batch publishes a new version of both crates; a reader must
	// never see them out of step.
	const rounds = 50
	src := &fakeSource{}
	for i := 0; i < rounds; i++ {
		v := semver.Version{Major: 1, Minor: uint64(i)}
		src.batches = append(src.batches, Changelog{Events: []Event{
			{Kind: EventPublish, Crate: "left", Version: v},
			{Kind: EventPublish, Crate: "right", Version: v},
		}})
	}
	s := NewStore(src)
	ctx := context.Background()
	if err := s.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	done := make(chan struct{})
	var bad atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				snap, err := s.Snapshot()
				if err != nil {
					bad.Add(1)
					return
				}
				l, _ := snap.LatestOverall("left")
				r, _ := snap.LatestOverall("right")
				if !l.Equal(r) {
					bad.Add(1)
				}
			}
		}()
	}
	for i := 1; i < rounds; i++ {
		if err := s.Refresh(ctx); err != nil {
			t.Error(err)
		}
	}
	close(done)
	wg.Wait()

	if bad.Load() != 0 {
		t.Errorf("%d inconsistent reads", bad.Load())
	}
	snap, _ := s.Snapshot()
	if got := len(snap.AllVersions("left")); got != rounds {
		t.Errorf("left has %d versions, want %d", got, rounds)
	}
}

func TestStoreEnsure(t *testing.T) {
	src := &fakeSource{
		batches: []Changelog{{Events: []Event{publish("serde", "1.0.0")}, Cursor: "c1"}},
		crates:  map[string][]Event{"tokio": {publish("tokio", "1.38.0")}},
	}
	s := NewStore(src)
	ctx := context.Background()
	if err := s.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	snap, err := s.Ensure(ctx, []string{"serde", "Tokio", "ghost"})
	if err != nil {
		t.Fatal(err)
	}
	if !snap.Has("tokio") || !snap.Has("serde") {
		t.Fatal("Ensure should add missing crates and keep existing ones")
	}
	if snap.Has("ghost") {
		t.Error("unknown crate should stay absent")
	}
	if snap.Cursor() != "c1" {
		t.Errorf("Ensure changed cursor to %q", snap.Cursor())
	}

	// ghost is remembered as absent; serde and tokio are present.
	calls := src.fetches.Load()
	if _, err := s.Ensure(ctx, []string{"serde", "tokio", "ghost"}); err != nil {
		t.Fatal(err)
	}
	if src.fetches.Load() != calls {
		t.Error("Ensure should not fetch again for known or absent crates")
	}
}

func TestStoreEnsureOrderedWithRefresh(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	src := &fakeSource{
		batches: []Changelog{
			{Events: []Event{publish("serde", "1.0.0")}, Cursor: "c1"},
			{Events: []Event{{Kind: EventYank, Crate: "tokio", Version: semver.MustParse("1.38.0")}}, Cursor: "c2"},
		},
		crates: map[string][]Event{"tokio": {publish("tokio", "1.38.0")}},
	}
	s := NewStore(src)
	ctx := context.Background()
	if err := s.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	// The fetch returns tokio as it was before the yank.
	src.onFetch = func() {
		close(started)
		<-release
	}
	ensured := make(chan error, 1)
	go func() {
		_, err := s.Ensure(ctx, []string{"tokio"})
		ensured <- err
	}()
	<-started

	refreshed := make(chan error, 1)
	go func() { refreshed <- s.Refresh(ctx) }()
	select {
	case <-refreshed:
		t.Fatal("Refresh applied its changelog while a fetch was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	if err := <-ensured; err != nil {
		t.Fatal(err)
	}
	if err := <-refreshed; err != nil {
		t.Fatal(err)
	}

	snap, _ := s.Snapshot()
	r, ok := snap.Release("tokio", semver.MustParse("1.38.0"))
	if !ok {
		t.Fatal("tokio 1.38.0 missing")
	}
	if !r.Yanked {
		t.Error("yank published after the fetch was lost")
	}
	if snap.Cursor() != "c2" {
		t.Errorf("Cursor() = %q, want c2", snap.Cursor())
	}
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "changes.jsonl")
	write := func(s string) {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			t.Fatal(err)
		}
		defer f.Close()
		if _, err := f.WriteString(s); err != nil {
			t.Fatal(err)
		}
	}

	write(`{"kind":"publish","crate":"foo","version":"1.0.0","deps":[{"name":"bar","req":"^0.3","kind":"normal"}]}` + "\n")
	write(`{"kind":"publish","crate":"foo","version":"1.1.0"}` + "\n\n")

	s := NewStore(NewFileSource(path), WithAbsentTTL(time.Minute))
	ctx := context.Background()
	if err := s.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	snap, _ := s.Snapshot()
	if snap.Cursor() != "3" {
		t.Errorf("Cursor = %q, want 3", snap.Cursor())
	}
	r, ok := snap.Release("foo", semver.MustParse("1.0.0"))
	if !ok || len(r.Deps) != 1 || r.Deps[0].Req.String() != "^0.3" {
		t.Fatalf("Release = %+v", r)
	}

	write(`{"kind":"yank","crate":"foo","version":"1.1.0"}` + "\n" + `{"kind":"publish","crate":"partial"`)
	if err := s.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	snap, _ = s.Snapshot()
	if v, _ := snap.Matching("foo", semver.MustParseRequirement("^1")); v.String() != "1.0.0" {
		t.Errorf("Matching = %s, want 1.0.0", v)
	}
	if snap.Has("partial") || snap.Cursor() != "4" {
		t.Errorf("incomplete trailing line should wait; cursor = %q", snap.Cursor())
	}
}

func TestFileSourceBadLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "changes.jsonl")
	if err := os.WriteFile(path, []byte("{not json}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := NewStore(NewFileSource(path))
	if err := s.Refresh(context.Background()); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := s.Snapshot(); !apperr.Is(err, apperr.ErrCodeIndexUnavailable) {
		t.Errorf("Snapshot() error = %v", err)
	}
}

func TestAppendChangelogRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "changes.jsonl")
	events := []Event{
		{Kind: EventPublish, Crate: "foo", Version: semver.MustParse("1.0.0"),
			Deps: []Dep{{Name: "bar", Req: semver.MustParseRequirement(">= 0.3, <0.5"), Kind: KindBuild, Optional: true}}},
		{Kind: EventPublish, Crate: "foo", Version: semver.MustParse("1.1.0-rc.1")},
	}
	if err := AppendChangelog(path, events); err != nil {
		t.Fatal(err)
	}
	if err := AppendChangelog(path, []Event{{Kind: EventYank, Crate: "foo", Version: semver.MustParse("1.0.0")}}); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	got, lines, err := ParseChangelog(data, 0)
	if err != nil {
		t.Fatal(err)
	}
	if lines != 3 || len(got) != 3 {
		t.Fatalf("lines = %d, events = %d", lines, len(got))
	}
	if d := got[0].Deps[0]; d.Kind != KindBuild || !d.Optional || d.Req.String() != ">= 0.3, <0.5" {
		t.Errorf("dep = %+v", d)
	}
	if got[2].Kind != EventYank || !got[1].Version.IsPrerelease() {
		t.Errorf("events = %+v", got)
	}
}

// Package index keeps a queryable mirror of the crates registry.
//
// A [Snapshot] is immutable: it maps crate names to their published
// releases (version, yank flag, dependency list). A [Store] owns the
// current snapshot and replaces it wholesale. Each refresh cycle pulls a
// [Changelog] of publish and yank events from a [Source], applies it to a
// copy of the live snapshot and swaps the pointer. Readers never lock and
// never observe a partially applied changelog.
//
// If a refresh fails the last good snapshot keeps serving and the store is
// marked stale. Before the first successful load [Store.Snapshot] returns
// an INDEX_UNAVAILABLE error.
package index

import (
	"sort"
	"strings"
	"time"

	"github.com/matzehuels/cratestatus/pkg/semver"
)

// DepKind is the dependency table a requirement came from.
type DepKind string

const (
	KindNormal DepKind = "normal"
	KindDev    DepKind = "dev"
	KindBuild  DepKind = "build"
)

// Dep is one dependency record of a published release.
type Dep struct {
	Name     string             `json:"name"`
	Req      semver.Requirement `json:"req"`
	Kind     DepKind            `json:"kind"`
	Optional bool               `json:"optional,omitempty"`
}

// Release is one published version of a crate.
type Release struct {
	Version semver.Version `json:"version"`
	Yanked  bool           `json:"yanked"`
	Deps    []Dep          `json:"deps,omitempty"`
}

type crateEntry struct {
	name     string
	releases []Release // ascending by version
}

func (c *crateEntry) clone() *crateEntry {
	return &crateEntry{name: c.name, releases: append([]Release(nil), c.releases...)}
}

func (c *crateEntry) find(v semver.Version) int {
	i := sort.Search(len(c.releases), func(i int) bool {
		return !c.releases[i].Version.Less(v)
	})
	if i < len(c.releases) && c.releases[i].Version.Equal(v) {
		return i
	}
	return -(i + 1)
}

// Snapshot is an immutable view of the registry. The zero value is an
// empty index. All methods are safe for concurrent use.
type Snapshot struct {
	crates  map[string]*crateEntry
	cursor  string
	cycle   string
	builtAt time.Time
}

// NewSnapshot builds a snapshot from per-crate release lists. Releases
// need not be sorted; duplicates keep the last occurrence.
func NewSnapshot(crates map[string][]Release) *Snapshot {
	s := &Snapshot{crates: make(map[string]*crateEntry, len(crates)), builtAt: time.Now()}
	for name, rels := range crates {
		e := &crateEntry{name: name}
		for _, r := range rels {
			e.upsert(r)
		}
		s.crates[key(name)] = e
	}
	return s
}

func key(name string) string { return strings.ToLower(name) }

func (s *Snapshot) entry(name string) *crateEntry {
	if s == nil || s.crates == nil {
		return nil
	}
	return s.crates[key(name)]
}

// Has reports whether the crate is present.
func (s *Snapshot) Has(name string) bool { return s.entry(name) != nil }

// Len returns the number of crates.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.crates)
}

// Cursor is the changelog position the snapshot reflects.
func (s *Snapshot) Cursor() string { return s.cursor }

// Cycle is the id of the refresh cycle that built the snapshot.
func (s *Snapshot) Cycle() string { return s.cycle }

// BuiltAt is when the snapshot was built.
func (s *Snapshot) BuiltAt() time.Time { return s.builtAt }

// AllVersions returns every release of the crate in ascending version
// order, yanked ones included. The result is a copy and may be empty.
func (s *Snapshot) AllVersions(name string) []Release {
	e := s.entry(name)
	if e == nil {
		return nil
	}
	return append([]Release(nil), e.releases...)
}

// Release returns the release with exactly version v.
func (s *Snapshot) Release(name string, v semver.Version) (Release, bool) {
	e := s.entry(name)
	if e == nil {
		return Release{}, false
	}
	if i := e.find(v); i >= 0 {
		return e.releases[i], true
	}
	return Release{}, false
}

// LatestOverall returns the highest published version, yanked releases
// included. Pre-releases are ignored unless the crate has nothing else.
func (s *Snapshot) LatestOverall(name string) (semver.Version, bool) {
	e := s.entry(name)
	if e == nil || len(e.releases) == 0 {
		return semver.Version{}, false
	}
	for i := len(e.releases) - 1; i >= 0; i-- {
		if !e.releases[i].Version.IsPrerelease() {
			return e.releases[i].Version, true
		}
	}
	return e.releases[len(e.releases)-1].Version, true
}

// Latest returns the newest non-yanked release, preferring stable
// versions. It resolves "latest" crate identities.
func (s *Snapshot) Latest(name string) (Release, bool) {
	e := s.entry(name)
	if e == nil {
		return Release{}, false
	}
	var pre *Release
	for i := len(e.releases) - 1; i >= 0; i-- {
		r := &e.releases[i]
		if r.Yanked {
			continue
		}
		if !r.Version.IsPrerelease() {
			return *r, true
		}
		if pre == nil {
			pre = r
		}
	}
	if pre != nil {
		return *pre, true
	}
	return Release{}, false
}

// Matching returns the highest non-yanked version satisfying req.
func (s *Snapshot) Matching(name string, req semver.Requirement) (semver.Version, bool) {
	e := s.entry(name)
	if e == nil {
		return semver.Version{}, false
	}
	for i := len(e.releases) - 1; i >= 0; i-- {
		r := e.releases[i]
		if !r.Yanked && req.Matches(r.Version) {
			return r.Version, true
		}
	}
	return semver.Version{}, false
}

// MatchingIgnoringYank returns the highest release satisfying req whether
// or not it is yanked.
func (s *Snapshot) MatchingIgnoringYank(name string, req semver.Requirement) (Release, bool) {
	e := s.entry(name)
	if e == nil {
		return Release{}, false
	}
	for i := len(e.releases) - 1; i >= 0; i-- {
		if req.Matches(e.releases[i].Version) {
			return e.releases[i], true
		}
	}
	return Release{}, false
}

// upsert inserts r keeping ascending order, replacing an existing release
// of the same version.
func (c *crateEntry) upsert(r Release) {
	i := c.find(r.Version)
	if i >= 0 {
		c.releases[i] = r
		return
	}
	at := -(i + 1)
	c.releases = append(c.releases, Release{})
	copy(c.releases[at+1:], c.releases[at:])
	c.releases[at] = r
}

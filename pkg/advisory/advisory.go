// Package advisory mirrors a vulnerability database for crates.
//
// Advisories are loaded from a [Source] (a RustSec advisory-db checkout or
// the OSV crates.io archive) into an immutable [Snapshot] indexed by crate
// name. A [Store] swaps snapshots atomically, exactly like the registry
// index: readers never block, a failed refresh keeps the previous snapshot
// and marks the store stale, and before the first load the store reports
// ADVISORY_UNAVAILABLE.
package advisory

import (
	"sort"
	"strings"
	"time"

	"github.com/matzehuels/cratestatus/pkg/semver"
)

// Advisory is one vulnerability record for one crate.
//
// A version is affected when it matches one of the Vulnerable ranges (or
// Vulnerable is empty) and matches none of the Patched or Unaffected
// ranges.
type Advisory struct {
	ID          string               `json:"id"`
	Crate       string               `json:"crate"`
	Title       string               `json:"title"`
	Description string               `json:"description,omitempty"`
	Severity    string               `json:"severity,omitempty"`
	Date        time.Time            `json:"date,omitempty"`
	Vulnerable  []semver.Requirement `json:"vulnerable,omitempty"`
	Patched     []semver.Requirement `json:"patched,omitempty"`
	Unaffected  []semver.Requirement `json:"unaffected,omitempty"`
	Aliases     []string             `json:"aliases,omitempty"`
	URL         string               `json:"url,omitempty"`
}

// Affects reports whether v is vulnerable to the advisory. Ranges are
// compared by precedence, so pre-releases fall inside the range that
// brackets them.
func (a *Advisory) Affects(v semver.Version) bool {
	if matchesAny(a.Patched, v) || matchesAny(a.Unaffected, v) {
		return false
	}
	if len(a.Vulnerable) == 0 {
		return true
	}
	return matchesAny(a.Vulnerable, v)
}

func matchesAny(reqs []semver.Requirement, v semver.Version) bool {
	for _, r := range reqs {
		if r.Contains(v) {
			return true
		}
	}
	return false
}

// Snapshot is an immutable set of advisories indexed by crate.
type Snapshot struct {
	byCrate map[string][]*Advisory // sorted by ID
	total   int
	cycle   string
	builtAt time.Time
}

// NewSnapshot indexes advisories. Records with the same ID and crate keep
// the first occurrence.
func NewSnapshot(advisories []Advisory) *Snapshot {
	s := &Snapshot{byCrate: make(map[string][]*Advisory), builtAt: time.Now()}
	seen := make(map[string]bool, len(advisories))
	for i := range advisories {
		a := advisories[i]
		k := strings.ToLower(a.Crate)
		if a.ID == "" || k == "" || seen[k+"\x00"+a.ID] {
			continue
		}
		seen[k+"\x00"+a.ID] = true
		s.byCrate[k] = append(s.byCrate[k], &a)
		s.total++
	}
	for _, list := range s.byCrate {
		sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	}
	return s
}

// AdvisoriesFor returns the advisories affecting version of crate, sorted
// by ID. The returned advisories must not be modified.
func (s *Snapshot) AdvisoriesFor(crate string, version semver.Version) []*Advisory {
	if s == nil {
		return nil
	}
	var out []*Advisory
	for _, a := range s.byCrate[strings.ToLower(crate)] {
		if a.Affects(version) {
			out = append(out, a)
		}
	}
	return out
}

// ForCrate returns every advisory filed against crate.
func (s *Snapshot) ForCrate(crate string) []*Advisory {
	if s == nil {
		return nil
	}
	return append([]*Advisory(nil), s.byCrate[strings.ToLower(crate)]...)
}

// Len returns the number of advisories.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return s.total
}

// Cycle is the id of the refresh cycle that built the snapshot.
func (s *Snapshot) Cycle() string { return s.cycle }

// BuiltAt is when the snapshot was built.
func (s *Snapshot) BuiltAt() time.Time { return s.builtAt }

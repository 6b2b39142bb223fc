// Package status classifies declared dependencies against the registry
// index and the advisory database, and rolls the results up into one
// project severity.
//
// [Classify] is a pure function of its inputs: the same requirement and
// snapshots always produce the same [Status]. That is what allows whole
// analysis results to be cached.
package status

import (
	"github.com/matzehuels/cratestatus/pkg/advisory"
	"github.com/matzehuels/cratestatus/pkg/index"
	"github.com/matzehuels/cratestatus/pkg/manifest"
	"github.com/matzehuels/cratestatus/pkg/semver"
)

// Flags are the findings for one dependency.
type Flags struct {
	Outdated     bool `json:"outdated"`
	Yanked       bool `json:"yanked"`
	Unresolvable bool `json:"unresolvable"`
	Insecure     bool `json:"insecure"`
}

// Status is the classification of one declared dependency.
type Status struct {
	Dependency manifest.Dependency `json:"dependency"`
	Matched    *semver.Version     `json:"matched,omitempty"`
	Latest     *semver.Version     `json:"latest,omitempty"`
	Flags      Flags               `json:"flags"`
	Advisories []string            `json:"advisories,omitempty"`
}

// Severity returns the severity of this single dependency.
func (s Status) Severity() Severity {
	switch {
	case s.Flags.Insecure:
		return Insecure
	case s.Flags.Outdated:
		return Outdated
	case s.Flags.Unresolvable:
		return Unknown
	}
	return Ok
}

// Classify computes the status of dep.
//
//  1. The matched version is the highest non-yanked release satisfying the
//     requirement; without one the dependency is unresolvable.
//  2. It is outdated when the matched version is older than the latest
//     release overall.
//  3. It is yanked (and therefore outdated) when the highest release
//     satisfying the requirement, yanked ones included, is yanked and newer
//     than the match. Without a match only the unresolvable flag is set.
//  4. It is insecure when an advisory affects the matched version, or the
//     requirement's lower bound when nothing matched.
//
// Dependencies that cannot be looked up (unsupported sources, invalid
// requirements) are unresolvable and skip the lookups. A nil adv skips the
// advisory check.
func Classify(dep manifest.Dependency, idx *index.Snapshot, adv *advisory.Snapshot) Status {
	st := Status{Dependency: dep}
	if !dep.Resolvable() {
		st.Flags.Unresolvable = true
		return st
	}
	name := dep.Package

	matched, ok := idx.Matching(name, dep.Req)
	if ok {
		st.Matched = &matched
	} else {
		st.Flags.Unresolvable = true
	}

	if latest, ok := idx.LatestOverall(name); ok {
		st.Latest = &latest
		if st.Matched != nil && matched.Less(latest) {
			st.Flags.Outdated = true
		}
	}

	if r, ok := idx.MatchingIgnoringYank(name, dep.Req); ok && r.Yanked {
		if st.Matched != nil && matched.Less(r.Version) {
			st.Flags.Yanked = true
			st.Flags.Outdated = true
		}
	}

	at := dep.Req.LowerBound()
	if st.Matched != nil {
		at = matched
	}
	for _, a := range adv.AdvisoriesFor(name, at) {
		st.Advisories = append(st.Advisories, a.ID)
	}
	st.Flags.Insecure = len(st.Advisories) > 0
	return st
}

// ClassifyAll classifies deps in order.
func ClassifyAll(deps []manifest.Dependency, idx *index.Snapshot, adv *advisory.Snapshot) []Status {
	out := make([]Status, len(deps))
	for i, d := range deps {
		out[i] = Classify(d, idx, adv)
	}
	return out
}

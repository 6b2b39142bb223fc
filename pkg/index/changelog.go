package index

import (
	"github.com/matzehuels/cratestatus/pkg/semver"
)

// EventKind is the type of a registry change.
type EventKind string

const (
	EventPublish EventKind = "publish"
	EventYank    EventKind = "yank"
	EventUnyank  EventKind = "unyank"
)

// Event is a single registry change. Publish events carry the full release;
// yank and unyank events only name the version.
type Event struct {
	Kind    EventKind      `json:"kind"`
	Crate   string         `json:"crate"`
	Version semver.Version `json:"version"`
	Yanked  bool           `json:"yanked,omitempty"`
	Deps    []Dep          `json:"deps,omitempty"`
}

// Changelog is the result of one poll of a Source: the events since the
// requested cursor and the cursor to ask from next time.
type Changelog struct {
	Events []Event
	Cursor string
}

// ApplyStats counts what an Apply did.
type ApplyStats struct {
	Published int
	Yanked    int
	Unyanked  int
	Ignored   int // yank/unyank of an unknown release
}

// Apply returns a new snapshot with events applied on top of base. base is
// never modified: crates touched by events are cloned, the rest are shared.
// A nil base is treated as empty. Publishing an existing version replaces
// it, which makes re-applying a changelog harmless.
func Apply(base *Snapshot, events []Event) (*Snapshot, ApplyStats) {
	var stats ApplyStats
	next := &Snapshot{crates: make(map[string]*crateEntry, base.Len()+len(events))}
	if base != nil {
		for k, v := range base.crates {
			next.crates[k] = v
		}
		next.cursor = base.cursor
	}

	cloned := map[string]bool{}
	writable := func(name string) *crateEntry {
		k := key(name)
		e, ok := next.crates[k]
		switch {
		case !ok:
			e = &crateEntry{name: name}
			next.crates[k] = e
		case !cloned[k]:
			e = e.clone()
			next.crates[k] = e
		}
		cloned[k] = true
		return e
	}

	for _, ev := range events {
		switch ev.Kind {
		case EventPublish:
			writable(ev.Crate).upsert(Release{Version: ev.Version, Yanked: ev.Yanked, Deps: ev.Deps})
			stats.Published++
		case EventYank, EventUnyank:
			if old := next.crates[key(ev.Crate)]; old == nil || old.find(ev.Version) < 0 {
				stats.Ignored++
				continue
			}
			e := writable(ev.Crate)
			e.releases[e.find(ev.Version)].Yanked = ev.Kind == EventYank
			if ev.Kind == EventYank {
				stats.Yanked++
			} else {
				stats.Unyanked++
			}
		default:
			stats.Ignored++
		}
	}
	return next, stats
}

// Package analysis runs the dependency-status pipeline and caches its
// results.
//
// An [Engine] turns a project identity into a [Result]: it crawls the
// project's manifests (or reads a published crate's dependency list from
// the registry index), resolves them, classifies every requirement and
// rolls the statuses up. Results are memoized by a [Cache] keyed on the
// identity, the normalized manifest contents and the roll-up policy;
// concurrent requests for the same key share one computation.
package analysis

import (
	"time"

	"github.com/matzehuels/cratestatus/pkg/project"
	"github.com/matzehuels/cratestatus/pkg/status"
)

// Manifest is raw manifest text at a repository path.
type Manifest struct {
	Path    string
	Content []byte
}

// ManifestResult holds the classified dependencies of one package, in
// declaration order. Error is set instead when the manifest could not be
// fetched or parsed.
type ManifestResult struct {
	Path         string          `json:"path"`
	Package      string          `json:"package,omitempty"`
	Version      string          `json:"version,omitempty"`
	Dependencies []status.Status `json:"dependencies"`
	Summary      status.Summary  `json:"summary"`
	Error        string          `json:"error,omitempty"`
}

// Result is a finished analysis. It is never modified after it is
// produced; cached results are shared between callers.
type Result struct {
	Identity   project.Identity `json:"identity"`
	Key        string           `json:"key"`
	Policy     status.Policy    `json:"policy"`
	Manifests  []ManifestResult `json:"manifests"`
	Summary    status.Summary   `json:"summary"`
	ComputedAt time.Time        `json:"computed_at"`

	// IndexCycle and AdvisoryCycle name the snapshots the result was
	// computed from. Stale is set when either store was stale.
	IndexCycle    string `json:"index_cycle,omitempty"`
	AdvisoryCycle string `json:"advisory_cycle,omitempty"`
	Stale         bool   `json:"stale,omitempty"`
}

// Statuses returns every classified dependency across manifests.
func (r *Result) Statuses() []status.Status {
	var out []status.Status
	for _, m := range r.Manifests {
		out = append(out, m.Dependencies...)
	}
	return out
}

// Dependencies counts classified dependencies across manifests.
func (r *Result) Dependencies() int {
	n := 0
	for _, m := range r.Manifests {
		n += len(m.Dependencies)
	}
	return n
}

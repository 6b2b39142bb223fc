package status

import (
	"fmt"

	"github.com/matzehuels/cratestatus/pkg/manifest"
)

// Severity orders project health. Higher is worse.
type Severity int

const (
	Ok Severity = iota
	Unknown
	Outdated
	Insecure
)

var severityNames = [...]string{"ok", "unknown", "outdated", "insecure"}

func (s Severity) String() string {
	if s < 0 || int(s) >= len(severityNames) {
		return fmt.Sprintf("Severity(%d)", int(s))
	}
	return severityNames[s]
}

// MarshalText encodes the severity name.
func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText decodes a severity name.
func (s *Severity) UnmarshalText(b []byte) error {
	for i, n := range severityNames {
		if n == string(b) {
			*s = Severity(i)
			return nil
		}
	}
	return fmt.Errorf("unknown severity %q", b)
}

// Policy selects which dependencies count toward the roll-up. Normal and
// build dependencies always count.
type Policy struct {
	IncludeDev      bool `json:"include_dev"`
	IncludeOptional bool `json:"include_optional"`
}

// Counts reports whether a dependency is part of the roll-up.
func (p Policy) Counts(d manifest.Dependency) bool {
	if d.Kind == manifest.KindDev && !p.IncludeDev {
		return false
	}
	if d.Optional && !p.IncludeOptional {
		return false
	}
	return true
}

// Summary is the project-level roll-up consumed by badges.
type Summary struct {
	Severity     Severity `json:"severity"`
	Total        int      `json:"total"`
	Outdated     int      `json:"outdated"`
	Yanked       int      `json:"yanked"`
	Insecure     int      `json:"insecure"`
	Unresolvable int      `json:"unresolvable"`
}

// Reduce rolls statuses up under policy. The severity is the worst
// severity of any counted dependency; each count is the number of counted
// dependencies with that flag.
func Reduce(statuses []Status, policy Policy) Summary {
	var sum Summary
	for _, s := range statuses {
		if !policy.Counts(s.Dependency) {
			continue
		}
		sum.Total++
		if s.Flags.Outdated {
			sum.Outdated++
		}
		if s.Flags.Yanked {
			sum.Yanked++
		}
		if s.Flags.Insecure {
			sum.Insecure++
		}
		if s.Flags.Unresolvable {
			sum.Unresolvable++
		}
		if sev := s.Severity(); sev > sum.Severity {
			sum.Severity = sev
		}
	}
	return sum
}

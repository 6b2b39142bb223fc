package semver

import (
	"fmt"
	"strings"
)

// Op is a comparator operator.
type Op int

const (
	OpCaret Op = iota // ^1.2.3 and bare 1.2.3
	OpExact           // =1.2.3
	OpGreater         // >1.2.3
	OpGreaterEq       // >=1.2.3
	OpLess            // <1.2.3
	OpLessEq          // <=1.2.3
	OpTilde           // ~1.2.3
	OpWildcard        // 1.2.*
)

var opText = map[Op]string{
	OpCaret:     "^",
	OpExact:     "=",
	OpGreater:   ">",
	OpGreaterEq: ">=",
	OpLess:      "<",
	OpLessEq:    "<=",
	OpTilde:     "~",
}

// Comparator is a single operator applied to a possibly partial version.
type Comparator struct {
	Op       Op
	Major    uint64
	Minor    uint64
	Patch    uint64
	HasMinor bool
	HasPatch bool
	Pre      Prerelease
}

// Requirement is a conjunction of comparators. The zero value matches every
// non-prerelease version, like "*".
type Requirement struct {
	raw         string
	comparators []Comparator
}

// Any is the requirement "*".
var Any = Requirement{raw: "*"}

// ParseRequirement parses a Cargo version requirement.
func ParseRequirement(s string) (Requirement, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return Requirement{}, fmt.Errorf("invalid requirement: empty")
	}
	req := Requirement{raw: raw}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return Requirement{}, fmt.Errorf("invalid requirement %q: empty comparator", raw)
		}
		if part == "*" || part == "x" || part == "X" {
			if len(strings.Split(raw, ",")) > 1 {
				return Requirement{}, fmt.Errorf("invalid requirement %q: wildcard must stand alone", raw)
			}
			continue
		}
		c, err := parseComparator(part)
		if err != nil {
			return Requirement{}, fmt.Errorf("invalid requirement %q: %w", raw, err)
		}
		req.comparators = append(req.comparators, c)
	}
	return req, nil
}

// MustParseRequirement is like ParseRequirement but panics on error.
func MustParseRequirement(s string) Requirement {
	r, err := ParseRequirement(s)
	if err != nil {
		panic(err)
	}
	return r
}

func parseComparator(s string) (Comparator, error) {
	c := Comparator{Op: OpCaret}
	explicit := true
	switch {
	case strings.HasPrefix(s, ">="):
		c.Op, s = OpGreaterEq, s[2:]
	case strings.HasPrefix(s, "<="):
		c.Op, s = OpLessEq, s[2:]
	case strings.HasPrefix(s, ">"):
		c.Op, s = OpGreater, s[1:]
	case strings.HasPrefix(s, "<"):
		c.Op, s = OpLess, s[1:]
	case strings.HasPrefix(s, "="):
		c.Op, s = OpExact, s[1:]
	case strings.HasPrefix(s, "~"):
		c.Op, s = OpTilde, s[1:]
	case strings.HasPrefix(s, "^"):
		c.Op, s = OpCaret, s[1:]
	default:
		explicit = false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return c, fmt.Errorf("missing version after operator")
	}

	if i := strings.IndexByte(s, '+'); i >= 0 {
		s = s[:i]
	}
	if i := strings.IndexByte(s, '-'); i >= 0 {
		pre, err := parsePrerelease(s[i+1:])
		if err != nil {
			return c, err
		}
		c.Pre = pre
		s = s[:i]
	}

	parts := strings.Split(s, ".")
	if len(parts) > 3 {
		return c, fmt.Errorf("too many version components in %q", s)
	}
	wildcard := false
	for i, p := range parts {
		if p == "*" || p == "x" || p == "X" {
			if i == 0 {
				return c, fmt.Errorf("wildcard major version with operator")
			}
			wildcard = true
			continue
		}
		if wildcard {
			return c, fmt.Errorf("numeric component after wildcard in %q", s)
		}
		n, err := parseNumeric(p)
		if err != nil {
			return c, err
		}
		switch i {
		case 0:
			c.Major = n
		case 1:
			c.Minor, c.HasMinor = n, true
		case 2:
			c.Patch, c.HasPatch = n, true
		}
	}
	if wildcard && !explicit {
		c.Op = OpWildcard
	}
	if len(c.Pre) > 0 && !c.HasPatch {
		return c, fmt.Errorf("pre-release requires a full version")
	}
	return c, nil
}

// Comparators returns a copy of the parsed comparators.
func (r Requirement) Comparators() []Comparator {
	return append([]Comparator(nil), r.comparators...)
}

// String returns the requirement as written.
func (r Requirement) String() string {
	if r.raw == "" {
		return "*"
	}
	return r.raw
}

// MarshalText encodes the requirement as written.
func (r Requirement) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// UnmarshalText parses a requirement string.
func (r *Requirement) UnmarshalText(b []byte) error {
	p, err := ParseRequirement(string(b))
	if err != nil {
		return err
	}
	*r = p
	return nil
}

// Matches reports whether v satisfies every comparator. A pre-release
// version only matches when some comparator names a pre-release of the same
// major.minor.patch.
func (r Requirement) Matches(v Version) bool {
	if !r.Contains(v) {
		return false
	}
	if !v.IsPrerelease() {
		return true
	}
	for _, c := range r.comparators {
		if c.preCompatible(v) {
			return true
		}
	}
	return false
}

// Contains reports whether v lies within the range the comparators describe,
// by plain precedence. Unlike [Requirement.Matches] a pre-release needs no
// opt-in, so 1.0.0-beta.2 is contained in "<1.0.0".
func (r Requirement) Contains(v Version) bool {
	for _, c := range r.comparators {
		if !c.matches(v) {
			return false
		}
	}
	return true
}

// LowerBound returns the smallest version the requirement could admit.
// Upper-bound-only requirements have lower bound 0.0.0.
func (r Requirement) LowerBound() Version {
	var lb Version
	for _, c := range r.comparators {
		lb = Max(lb, c.lowerBound())
	}
	return lb
}

func (c Comparator) preCompatible(v Version) bool {
	return c.Major == v.Major && c.HasMinor && c.Minor == v.Minor &&
		c.HasPatch && c.Patch == v.Patch && len(c.Pre) > 0
}

func (c Comparator) matches(v Version) bool {
	switch c.Op {
	case OpExact, OpWildcard:
		return c.matchesExact(v)
	case OpGreater:
		return c.matchesGreater(v)
	case OpGreaterEq:
		return c.matchesExact(v) || c.matchesGreater(v)
	case OpLess:
		return c.matchesLess(v)
	case OpLessEq:
		return c.matchesExact(v) || c.matchesLess(v)
	case OpTilde:
		return c.matchesTilde(v)
	default:
		return c.matchesCaret(v)
	}
}

func (c Comparator) matchesExact(v Version) bool {
	if v.Major != c.Major {
		return false
	}
	if c.HasMinor && v.Minor != c.Minor {
		return false
	}
	if c.HasPatch && v.Patch != c.Patch {
		return false
	}
	return v.Pre.Compare(c.Pre) == 0
}

func (c Comparator) matchesGreater(v Version) bool {
	if v.Major != c.Major {
		return v.Major > c.Major
	}
	if !c.HasMinor {
		return false
	}
	if v.Minor != c.Minor {
		return v.Minor > c.Minor
	}
	if !c.HasPatch {
		return false
	}
	if v.Patch != c.Patch {
		return v.Patch > c.Patch
	}
	return v.Pre.Compare(c.Pre) > 0
}

func (c Comparator) matchesLess(v Version) bool {
	if v.Major != c.Major {
		return v.Major < c.Major
	}
	if !c.HasMinor {
		return false
	}
	if v.Minor != c.Minor {
		return v.Minor < c.Minor
	}
	if !c.HasPatch {
		return false
	}
	if v.Patch != c.Patch {
		return v.Patch < c.Patch
	}
	return v.Pre.Compare(c.Pre) < 0
}

func (c Comparator) matchesTilde(v Version) bool {
	if v.Major != c.Major {
		return false
	}
	if c.HasMinor && v.Minor != c.Minor {
		return false
	}
	if c.HasPatch && v.Patch != c.Patch {
		return v.Patch > c.Patch
	}
	return v.Pre.Compare(c.Pre) >= 0
}

func (c Comparator) matchesCaret(v Version) bool {
	if v.Major != c.Major {
		return false
	}
	if !c.HasMinor {
		return true
	}
	if !c.HasPatch {
		if c.Major > 0 {
			return v.Minor >= c.Minor
		}
		return v.Minor == c.Minor
	}
	switch {
	case c.Major > 0:
		if v.Minor != c.Minor {
			return v.Minor > c.Minor
		}
		if v.Patch != c.Patch {
			return v.Patch > c.Patch
		}
	case c.Minor > 0:
		if v.Minor != c.Minor {
			return false
		}
		if v.Patch != c.Patch {
			return v.Patch > c.Patch
		}
	default:
		if v.Minor != c.Minor || v.Patch != c.Patch {
			return false
		}
	}
	return v.Pre.Compare(c.Pre) >= 0
}

func (c Comparator) lowerBound() Version {
	switch c.Op {
	case OpLess, OpLessEq:
		return Version{}
	case OpGreater:
		switch {
		case c.HasPatch && len(c.Pre) == 0:
			return Version{Major: c.Major, Minor: c.Minor, Patch: c.Patch + 1}
		case c.HasPatch:
			return Version{Major: c.Major, Minor: c.Minor, Patch: c.Patch}
		case c.HasMinor:
			return Version{Major: c.Major, Minor: c.Minor + 1}
		default:
			return Version{Major: c.Major + 1}
		}
	}
	return Version{Major: c.Major, Minor: c.Minor, Patch: c.Patch, Pre: c.Pre}
}

// String renders the comparator in canonical form.
func (c Comparator) String() string {
	var b strings.Builder
	b.WriteString(opText[c.Op])
	fmt.Fprintf(&b, "%d", c.Major)
	switch {
	case c.HasMinor:
		fmt.Fprintf(&b, ".%d", c.Minor)
	case c.Op == OpWildcard:
		b.WriteString(".*")
		return b.String()
	}
	switch {
	case c.HasPatch:
		fmt.Fprintf(&b, ".%d", c.Patch)
	case c.Op == OpWildcard:
		b.WriteString(".*")
	}
	if len(c.Pre) > 0 {
		b.WriteByte('-')
		b.WriteString(c.Pre.String())
	}
	return b.String()
}

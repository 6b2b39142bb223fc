// Package semver implements semantic versions and Cargo-style version
// requirements.
//
// # Versions
//
// A [Version] is major.minor.patch with optional pre-release and build
// metadata. Precedence follows semver 2.0: numeric fields first, then a
// version with a pre-release sorts before the release of the same triple.
// Build metadata never affects ordering.
//
// # Requirements
//
// A [Requirement] is a comma-separated list of comparators that must all
// match. Comparators use the operators understood by Cargo:
//
//	=1.2.3  >1.2  >=1  <2.0  <=1.4  ~1.2  ^0.3  1.*  *
//
// A bare version such as "1.2" is a caret requirement.
package semver

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a parsed semantic version. The zero value is 0.0.0.
type Version struct {
	Major uint64
	Minor uint64
	Patch uint64
	Pre   Prerelease
	Build string
}

// Parse parses a full semantic version ("1.2.3", "1.0.0-beta.2+sha.5").
// Leading "v" and surrounding whitespace are tolerated.
func Parse(s string) (Version, error) {
	raw := s
	s = strings.TrimPrefix(strings.TrimSpace(s), "v")
	if s == "" {
		return Version{}, fmt.Errorf("invalid version %q: empty", raw)
	}

	var v Version
	if i := strings.IndexByte(s, '+'); i >= 0 {
		v.Build = s[i+1:]
		s = s[:i]
		if v.Build == "" {
			return Version{}, fmt.Errorf("invalid version %q: empty build metadata", raw)
		}
	}
	if i := strings.IndexByte(s, '-'); i >= 0 {
		pre, err := parsePrerelease(s[i+1:])
		if err != nil {
			return Version{}, fmt.Errorf("invalid version %q: %w", raw, err)
		}
		v.Pre = pre
		s = s[:i]
	}

	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return Version{}, fmt.Errorf("invalid version %q: expected major.minor.patch", raw)
	}
	nums := [3]*uint64{&v.Major, &v.Minor, &v.Patch}
	for i, p := range parts {
		n, err := parseNumeric(p)
		if err != nil {
			return Version{}, fmt.Errorf("invalid version %q: %w", raw, err)
		}
		*nums[i] = n
	}
	return v, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// package-level literals.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// IsPrerelease reports whether v carries a pre-release tag.
func (v Version) IsPrerelease() bool { return len(v.Pre) > 0 }

// Compare returns -1, 0 or +1 depending on precedence of v relative to o.
func (v Version) Compare(o Version) int {
	if c := cmpUint(v.Major, o.Major); c != 0 {
		return c
	}
	if c := cmpUint(v.Minor, o.Minor); c != 0 {
		return c
	}
	if c := cmpUint(v.Patch, o.Patch); c != 0 {
		return c
	}
	return v.Pre.Compare(o.Pre)
}

// Less reports whether v sorts before o.
func (v Version) Less(o Version) bool { return v.Compare(o) < 0 }

// Equal reports precedence equality (build metadata ignored).
func (v Version) Equal(o Version) bool { return v.Compare(o) == 0 }

func (v Version) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d.%d.%d", v.Major, v.Minor, v.Patch)
	if len(v.Pre) > 0 {
		b.WriteByte('-')
		b.WriteString(v.Pre.String())
	}
	if v.Build != "" {
		b.WriteByte('+')
		b.WriteString(v.Build)
	}
	return b.String()
}

// MarshalText encodes the version as its canonical string.
func (v Version) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

// UnmarshalText parses a version string.
func (v *Version) UnmarshalText(b []byte) error {
	p, err := Parse(string(b))
	if err != nil {
		return err
	}
	*v = p
	return nil
}

// Prerelease is the dot-separated pre-release identifier list.
type Prerelease []string

func parsePrerelease(s string) (Prerelease, error) {
	if s == "" {
		return nil, fmt.Errorf("empty pre-release")
	}
	ids := strings.Split(s, ".")
	for _, id := range ids {
		if id == "" {
			return nil, fmt.Errorf("empty pre-release identifier")
		}
		for _, r := range id {
			if !isIdentChar(r) {
				return nil, fmt.Errorf("invalid character %q in pre-release", r)
			}
		}
	}
	return ids, nil
}

// Compare orders pre-release lists. An empty list (a release) sorts after
// any non-empty one.
func (p Prerelease) Compare(o Prerelease) int {
	switch {
	case len(p) == 0 && len(o) == 0:
		return 0
	case len(p) == 0:
		return 1
	case len(o) == 0:
		return -1
	}
	for i := 0; i < len(p) && i < len(o); i++ {
		if c := compareIdent(p[i], o[i]); c != 0 {
			return c
		}
	}
	return cmpInt(len(p), len(o))
}

func (p Prerelease) String() string { return strings.Join(p, ".") }

func compareIdent(a, b string) int {
	an, aNum := numericIdent(a)
	bn, bNum := numericIdent(b)
	switch {
	case aNum && bNum:
		return cmpUint(an, bn)
	case aNum:
		return -1
	case bNum:
		return 1
	}
	return strings.Compare(a, b)
}

func numericIdent(s string) (uint64, bool) {
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseUint(s, 10, 64)
	return n, err == nil
}

func parseNumeric(s string) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty numeric component")
	}
	if len(s) > 1 && s[0] == '0' {
		return 0, fmt.Errorf("leading zero in %q", s)
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid numeric component %q", s)
	}
	return n, nil
}

func isIdentChar(r rune) bool {
	return r == '-' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func cmpUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Max returns the greater of two versions.
func Max(a, b Version) Version {
	if a.Less(b) {
		return b
	}
	return a
}

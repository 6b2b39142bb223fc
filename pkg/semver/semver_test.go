package semver

import (
	"sort"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"1.2.3", "1.2.3", false},
		{"v0.10.1", "0.10.1", false},
		{"1.0.0-alpha.1", "1.0.0-alpha.1", false},
		{"1.0.0-rc.1+build.5", "1.0.0-rc.1+build.5", false},
		{"1.2", "", true},
		{"01.2.3", "", true},
		{"1.2.3-", "", true},
		{"1.2.3-a..b", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			v, err := Parse(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err == nil && v.String() != tt.want {
				t.Errorf("Parse(%q) = %s, want %s", tt.in, v, tt.want)
			}
		})
	}
}

func TestVersionOrdering(t *testing.T) {
	ordered := []string{
		"1.0.0-alpha",
		"1.0.0-alpha.1",
		"1.0.0-alpha.beta",
		"1.0.0-beta",
		"1.0.0-beta.2",
		"1.0.0-beta.11",
		"1.0.0-rc.1",
		"1.0.0",
		"1.0.1",
		"1.1.0",
		"2.0.0",
	}
	var vs []Version
	for i := len(ordered) - 1; i >= 0; i-- {
		vs = append(vs, MustParse(ordered[i]))
	}
	sort.Slice(vs, func(i, j int) bool { return vs[i].Less(vs[j]) })
	for i, v := range vs {
		if v.String() != ordered[i] {
			t.Errorf("position %d = %s, want %s", i, v, ordered[i])
		}
	}
}

func TestBuildMetadataIgnored(t *testing.T) {
	a := MustParse("1.0.0+a")
	b := MustParse("1.0.0+b")
	if !a.Equal(b) {
		t.Error("build metadata should not affect precedence")
	}
}

func TestRequirementMatches(t *testing.T) {
	tests := []struct {
		req   string
		match []string
		miss  []string
	}{
		{"1.2.3", []string{"1.2.3", "1.9.0"}, []string{"1.2.2", "2.0.0", "1.3.0-alpha"}},
		{"^0.3", []string{"0.3.0", "0.3.9"}, []string{"0.4.0", "0.2.9"}},
		{"^0.0.3", []string{"0.0.3"}, []string{"0.0.4", "0.0.2"}},
		{"^0.0", []string{"0.0.0", "0.0.9"}, []string{"0.1.0"}},
		{"^1", []string{"1.0.0", "1.99.0"}, []string{"2.0.0", "0.9.0"}},
		{"~1.2", []string{"1.2.0", "1.2.9"}, []string{"1.3.0"}},
		{"~1.2.3", []string{"1.2.3", "1.2.4"}, []string{"1.2.2", "1.3.0"}},
		{"~1", []string{"1.0.0", "1.9.9"}, []string{"2.0.0"}},
		{"=1.2.3", []string{"1.2.3"}, []string{"1.2.4"}},
		{"=1.2", []string{"1.2.0", "1.2.7"}, []string{"1.3.0"}},
		{">1.2", []string{"1.3.0", "2.0.0"}, []string{"1.2.9"}},
		{">=1.2.3, <1.4", []string{"1.2.3", "1.3.99"}, []string{"1.4.0", "1.2.2"}},
		{"<=1.2", []string{"1.2.9", "0.1.0"}, []string{"1.3.0"}},
		{"<2", []string{"1.9.9"}, []string{"2.0.0"}},
		{"1.*", []string{"1.0.0", "1.5.2"}, []string{"2.0.0"}},
		{"1.2.*", []string{"1.2.0", "1.2.7"}, []string{"1.3.0"}},
		{"*", []string{"0.0.1", "99.0.0"}, []string{"1.0.0-alpha"}},
		{">=1.0.0-beta.2", []string{"1.0.0-beta.3", "1.0.0", "1.2.0"}, []string{"1.0.0-beta.1", "1.1.0-alpha"}},
		{">=1.0.0,<1.2.3", []string{"1.2.0", "1.0.0"}, []string{"1.2.3"}},
	}

	for _, tt := range tests {
		t.Run(tt.req, func(t *testing.T) {
			r := MustParseRequirement(tt.req)
			for _, v := range tt.match {
				if !r.Matches(MustParse(v)) {
					t.Errorf("%q should match %s", tt.req, v)
				}
			}
			for _, v := range tt.miss {
				if r.Matches(MustParse(v)) {
					t.Errorf("%q should not match %s", tt.req, v)
				}
			}
		})
	}
}

func TestRequirementContains(t *testing.T) {
	tests := []struct {
		req      string
		v        string
		contains bool
		matches  bool
	}{
		{"<1.0.0", "1.0.0-beta.2", true, false},
		{">=0.9.0, <1.0.0", "0.9.5-rc.1", true, false},
		{">=1.0.0", "1.0.0-rc.1", false, false},
		{">=1.0.0-beta.2", "1.0.0-beta.3", true, true},
		{"<1.0.0", "0.9.0", true, true},
		{"<1.0.0", "1.0.0", false, false},
	}
	for _, tt := range tests {
		r := MustParseRequirement(tt.req)
		v := MustParse(tt.v)
		if got := r.Contains(v); got != tt.contains {
			t.Errorf("%q.Contains(%s) = %v, want %v", tt.req, tt.v, got, tt.contains)
		}
		if got := r.Matches(v); got != tt.matches {
			t.Errorf("%q.Matches(%s) = %v, want %v", tt.req, tt.v, got, tt.matches)
		}
	}
}

func TestParseRequirementErrors(t *testing.T) {
	for _, in := range []string{"", ">=", "1.2.3.4", "*.1", "1.*.3", "^1-alpha", "1.2,", "*, >1"} {
		if _, err := ParseRequirement(in); err == nil {
			t.Errorf("ParseRequirement(%q) should fail", in)
		}
	}
}

func TestRequirementLowerBound(t *testing.T) {
	tests := []struct {
		req  string
		want string
	}{
		{"^1.2", "1.2.0"},
		{">=1.0.0, <2", "1.0.0"},
		{">1.2.3", "1.2.4"},
		{">1.2", "1.3.0"},
		{"<2.0.0", "0.0.0"},
		{"*", "0.0.0"},
		{"~0.4.1", "0.4.1"},
	}
	for _, tt := range tests {
		if got := MustParseRequirement(tt.req).LowerBound().String(); got != tt.want {
			t.Errorf("LowerBound(%q) = %s, want %s", tt.req, got, tt.want)
		}
	}
}

func TestRequirementString(t *testing.T) {
	r := MustParseRequirement(" >=1.0, <2 ")
	if r.String() != ">=1.0, <2" {
		t.Errorf("String() = %q", r.String())
	}
	var zero Requirement
	if zero.String() != "*" {
		t.Errorf("zero String() = %q, want *", zero.String())
	}
	if !zero.Matches(MustParse("3.0.0")) {
		t.Error("zero requirement should match releases")
	}
}

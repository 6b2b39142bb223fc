package manifest

import (
	"context"
	"strings"
	"testing"

	apperr "github.com/matzehuels/cratestatus/pkg/errors"
	"github.com/matzehuels/cratestatus/pkg/project"
)

func names(deps []Dependency) string {
	var parts []string
	for _, d := range deps {
		parts = append(parts, string(d.Kind)+":"+d.Package)
	}
	return strings.Join(parts, ",")
}

func TestParseKeepsDeclarationOrder(t *testing.T) {
	m, err := Parse("Cargo.toml", []byte(`
[package]
name = "platform-specific"

[dependencies]
serde = "1.0"
anyhow = "1"

[dev-dependencies]
proptest = "1"

[target.'cfg(unix)'.dependencies]
nix = { version = "0.28", features = ["sched"] }

[dependencies.tokio]
version = "1.38"
optional = true

[target.'cfg(windows)'.dev-dependencies]
winapi = "0.3"

[build-dependencies]
cc = "1.0"
`))
	if err != nil {
		t.Fatal(err)
	}
	want := "normal:serde,normal:anyhow,dev:proptest,normal:nix,normal:tokio,dev:winapi,build:cc"
	if got := names(m.Dependencies); got != want {
		t.Errorf("order = %s\nwant    %s", got, want)
	}
	for _, d := range m.Dependencies {
		switch d.Name {
		case "tokio":
			if !d.Optional || d.Req.String() != "1.38" {
				t.Errorf("tokio = %+v", d)
			}
		case "nix":
			if d.Target != "cfg(unix)" {
				t.Errorf("nix target = %q", d.Target)
			}
		}
	}
}

func TestParseDedupByNameAndKind(t *testing.T) {
	m, err := Parse("Cargo.toml", []byte(`
[package]
name = "dups"

[dependencies]
libc = "0.2"

[dev-dependencies]
libc = "0.2"

[target.'cfg(unix)'.dependencies]
libc = "0.2.150"
`))
	if err != nil {
		t.Fatal(err)
	}
	if got := names(m.Dependencies); got != "normal:libc,dev:libc" {
		t.Errorf("deps = %s", got)
	}
	if m.Dependencies[0].Req.String() != "0.2" {
		t.Errorf("first declaration should win, got %s", m.Dependencies[0].Req)
	}
}

func TestParseRenamedDependency(t *testing.T) {
	m, err := Parse("Cargo.toml", []byte(`
[package]
name = "symbolic"

[dependencies]
symbolic-common_crate = { version = "2.0.6", package = "symbolic-common" }
`))
	if err != nil {
		t.Fatal(err)
	}
	d := m.Dependencies[0]
	if d.Name != "symbolic-common_crate" || d.Package != "symbolic-common" {
		t.Errorf("dep = %+v", d)
	}
}

func TestParseErrors(t *testing.T) {
	tests := map[string]string{
		"bad toml":         "[package\nname = 1",
		"no package":       "[dependencies]\nserde = \"1\"\n",
		"bad package name": "[package]\nname = \"../evil\"\n",
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse("Cargo.toml", []byte(input))
			if !apperr.Is(err, apperr.ErrCodeParse) {
				t.Errorf("Parse() error = %v, want PARSE_ERROR", err)
			}
		})
	}
}

func TestParsePerItemProblems(t *testing.T) {
	m, err := Parse("Cargo.toml", []byte(`
[package]
name = "mixed"

[dependencies]
good = "1"
badreq = "not a version"
"bad.name" = "1"
`))
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Dependencies) != 3 {
		t.Fatalf("deps = %d", len(m.Dependencies))
	}
	if !m.Dependencies[0].Resolvable() {
		t.Error("good should be resolvable")
	}
	if p := m.Dependencies[1].Problem; p == nil || p.Code != apperr.ErrCodeInvalidManifest {
		t.Errorf("badreq problem = %v", p)
	}
	if p := m.Dependencies[2].Problem; p == nil || p.Code != apperr.ErrCodeInvalidPackage {
		t.Errorf("bad.name problem = %v", p)
	}
}

func TestResolveWorkspaceInheritance(t *testing.T) {
	root, err := Parse("Cargo.toml", []byte(`
[workspace]
members = ["crates/core"]

[workspace.dependencies]
serde = "1"
log = { version = "0.4", package = "log" }
`))
	if err != nil {
		t.Fatal(err)
	}
	member, err := Parse("crates/core/Cargo.toml", []byte(`
[package]
name = "core"

[dependencies]
serde = { workspace = true, optional = true }
missing = { workspace = true }
log.workspace = true
`))
	if err != nil {
		t.Fatal(err)
	}
	if !member.Dependencies[0].Inherited() {
		t.Fatal("workspace = true should be recorded before resolution")
	}

	res := Resolve([]*Manifest{root, member})
	if len(res) != 1 || res[0].Package != "core" {
		t.Fatalf("Resolve() = %+v", res)
	}
	deps := res[0].Dependencies
	if len(deps) != 3 {
		t.Fatalf("deps = %+v", deps)
	}
	serde := deps[0]
	if serde.Req.String() != "1" || !serde.Optional || !serde.Resolvable() {
		t.Errorf("serde = %+v", serde)
	}
	if p := deps[1].Problem; p == nil || deps[1].Resolvable() {
		t.Errorf("missing should be unresolvable, problem = %v", p)
	}
	if deps[2].Name != "log" || deps[2].Req.String() != "0.4" {
		t.Errorf("log = %+v", deps[2])
	}
}

func TestResolveSources(t *testing.T) {
	root, _ := Parse("Cargo.toml", []byte(`
[package]
name = "app"

[dependencies]
core = { path = "crates/core" }
helper = { path = "../helper" }
published = { path = "vendor/published", version = "2" }
upstream = { git = "https://github.com/o/upstream" }
private = { version = "1", registry = "my-registry" }
explicit = { version = "1", registry = "crates-io" }
`))
	core, _ := Parse("crates/core/Cargo.toml", []byte("[package]\nname = \"core\"\n"))

	res := Resolve([]*Manifest{root, core})
	if len(res) != 2 {
		t.Fatalf("Resolve() = %d entries", len(res))
	}
	got := map[string]*Problem{}
	var order []string
	for _, d := range res[0].Dependencies {
		got[d.Name] = d.Problem
		order = append(order, d.Name)
	}
	if strings.Join(order, ",") != "helper,published,upstream,private,explicit" {
		t.Fatalf("deps = %v (internal path deps must be dropped)", order)
	}
	for _, name := range []string{"helper", "upstream", "private"} {
		if got[name] == nil || got[name].Code != apperr.ErrCodeUnsupportedSource {
			t.Errorf("%s problem = %v, want UNSUPPORTED_SOURCE", name, got[name])
		}
	}
	for _, name := range []string{"published", "explicit"} {
		if got[name] != nil {
			t.Errorf("%s should be resolvable, got %v", name, got[name])
		}
	}
}

func TestCrawl(t *testing.T) {
	files := project.MapFetcher{
		"Cargo.toml": []byte(`
[workspace]
members = ["cli", "crates/*"]
exclude = ["crates/scratch"]
`),
		"cli/Cargo.toml": []byte(`
[package]
name = "cli"

[dependencies]
shared = { path = "../shared" }
clap = "4"
`),
		"crates/a/Cargo.toml":       []byte("[package]\nname = \"a\"\n"),
		"crates/b/Cargo.toml":       []byte("[package\nbroken"),
		"crates/scratch/Cargo.toml": []byte("[package]\nname = \"scratch\"\n"),
		"shared/Cargo.toml":         []byte("[package]\nname = \"shared\"\n[dependencies]\nanyhow = \"1\"\n"),
	}
	id, _ := project.Repo(project.SiteGitHub, "o", "r")

	set, err := Crawl(context.Background(), ForProject(files, id), "")
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, m := range set.Manifests {
		got = append(got, m.Path)
	}
	want := "Cargo.toml,cli/Cargo.toml,crates/a/Cargo.toml,shared/Cargo.toml"
	if strings.Join(got, ",") != want {
		t.Errorf("manifests = %v\nwant %s", got, want)
	}
	if len(set.Failed) != 1 || set.Failed[0].Path != "crates/b/Cargo.toml" || !apperr.Is(set.Failed[0].Err, apperr.ErrCodeParse) {
		t.Errorf("Failed = %+v", set.Failed)
	}

	res := Resolve(set.Manifests)
	if len(res) != 3 || names(res[0].Dependencies) != "normal:clap" {
		t.Errorf("resolved = %+v", res)
	}
}

func TestCrawlWithoutListingSkipsGlobs(t *testing.T) {
	files := project.MapFetcher{
		"Cargo.toml":          []byte("[workspace]\nmembers = [\"crates/*\"]\n"),
		"crates/a/Cargo.toml": []byte("[package]\nname = \"a\"\n"),
	}
	id, _ := project.Repo(project.SiteGitHub, "o", "r")
	fetchOnly := project.FetcherFunc(files.Fetch)

	set, err := Crawl(context.Background(), ForProject(fetchOnly, id), FileName)
	if err != nil {
		t.Fatal(err)
	}
	if len(set.Manifests) != 1 {
		t.Errorf("manifests = %d, want only the root", len(set.Manifests))
	}
}

func TestCrawlEntryFailure(t *testing.T) {
	id, _ := project.Repo(project.SiteGitHub, "o", "r")
	_, err := Crawl(context.Background(), ForProject(project.MapFetcher{}, id), "")
	if !apperr.Is(err, apperr.ErrCodeFetch) || !apperr.Is(err, apperr.ErrCodeNotFound) {
		t.Errorf("Crawl() error = %v, want FETCH_ERROR/NOT_FOUND", err)
	}
}

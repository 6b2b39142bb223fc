// Package manifest reads Cargo manifests and turns a project's manifest
// set into the dependency requirements that get classified.
//
// [Parse] decodes one Cargo.toml, keeping declaration order. [Crawl] starts
// at a repository's root manifest and follows workspace members and local
// path dependencies. [Resolve] applies workspace inheritance, drops
// dependencies on other packages of the same project and marks
// non-registry sources as unsupported.
package manifest

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	apperr "github.com/matzehuels/cratestatus/pkg/errors"
	"github.com/matzehuels/cratestatus/pkg/semver"
)

// FileName is the manifest file name.
const FileName = "Cargo.toml"

// Kind is the dependency table a requirement was declared in.
type Kind string

const (
	KindNormal Kind = "normal"
	KindDev    Kind = "dev"
	KindBuild  Kind = "build"
)

// Source is where a dependency is obtained from.
type Source string

const (
	SourceRegistry    Source = "registry"
	SourcePath        Source = "path"
	SourceGit         Source = "git"
	SourceAltRegistry Source = "alt-registry"
)

// Problem explains why a dependency cannot be classified.
type Problem struct {
	Code    apperr.Code `json:"code"`
	Message string      `json:"message"`
}

func (p *Problem) Error() string { return string(p.Code) + ": " + p.Message }

// Dependency is one declared requirement.
type Dependency struct {
	// Name is the key used in the manifest; Package is the registry crate
	// it refers to. They differ for renamed dependencies.
	Name     string             `json:"name"`
	Package  string             `json:"package"`
	Req      semver.Requirement `json:"req"`
	Kind     Kind               `json:"kind"`
	Optional bool               `json:"optional,omitempty"`
	Source   Source             `json:"source"`
	Path     string             `json:"path,omitempty"`
	Target   string             `json:"target,omitempty"`
	Origin   string             `json:"origin"`
	Problem  *Problem           `json:"problem,omitempty"`

	inherit bool
	hasReq  bool
}

// Resolvable reports whether the dependency can be looked up in the
// registry.
func (d Dependency) Resolvable() bool { return d.Problem == nil && !d.inherit }

// Inherited reports whether the entry is `workspace = true` and has not
// been resolved yet.
func (d Dependency) Inherited() bool { return d.inherit }

// Manifest is a parsed Cargo.toml.
type Manifest struct {
	Path    string
	Package string // empty for a virtual workspace root

	// Workspace is set when the manifest has a [workspace] table.
	Workspace *Workspace

	Dependencies []Dependency

	// Raw is the text the manifest was parsed from.
	Raw []byte
}

// Dir returns the repository directory of the manifest, "" for the root.
func (m *Manifest) Dir() string {
	i := strings.LastIndexByte(m.Path, '/')
	if i < 0 {
		return ""
	}
	return m.Path[:i]
}

// Workspace is the [workspace] table of a root manifest.
type Workspace struct {
	Members      []string
	Exclude      []string
	Dependencies map[string]Dependency
}

type depTables struct {
	Dependencies       map[string]any `toml:"dependencies"`
	DevDependencies    map[string]any `toml:"dev-dependencies"`
	DevDependencies2   map[string]any `toml:"dev_dependencies"`
	BuildDependencies  map[string]any `toml:"build-dependencies"`
	BuildDependencies2 map[string]any `toml:"build_dependencies"`
}

func (t depTables) table(name string) (map[string]any, Kind) {
	switch name {
	case "dependencies":
		return t.Dependencies, KindNormal
	case "dev-dependencies":
		return t.DevDependencies, KindDev
	case "dev_dependencies":
		return t.DevDependencies2, KindDev
	case "build-dependencies":
		return t.BuildDependencies, KindBuild
	case "build_dependencies":
		return t.BuildDependencies2, KindBuild
	}
	return nil, ""
}

type cargoToml struct {
	Package *struct {
		Name string `toml:"name"`
	} `toml:"package"`
	Workspace *struct {
		Members      []string       `toml:"members"`
		Exclude      []string       `toml:"exclude"`
		Dependencies map[string]any `toml:"dependencies"`
	} `toml:"workspace"`
	depTables
	Target map[string]depTables `toml:"target"`
}

// Parse decodes the manifest at path. Malformed TOML, and manifests with
// neither [package] nor [workspace], are PARSE_ERROR. Problems with single
// dependencies are recorded on the dependency instead.
func Parse(path string, data []byte) (*Manifest, error) {
	var raw cargoToml
	md, err := toml.Decode(string(data), &raw)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrCodeParse, err, "manifest %s", path)
	}
	if raw.Package == nil && raw.Workspace == nil {
		return nil, apperr.New(apperr.ErrCodeParse, "manifest %s: neither [package] nor [workspace] found", path)
	}

	m := &Manifest{Path: path, Raw: data}
	if raw.Package != nil {
		if err := apperr.ValidateCrateName(raw.Package.Name); err != nil {
			return nil, apperr.Wrap(apperr.ErrCodeParse, err, "manifest %s: package name", path)
		}
		m.Package = raw.Package.Name
	}

	seen := map[string]bool{}
	add := func(d Dependency) {
		k := d.Name + "\x00" + string(d.Kind)
		if seen[k] {
			return
		}
		seen[k] = true
		m.Dependencies = append(m.Dependencies, d)
	}

	// Keys come back in document order. Dotted keys such as
	// `serde.workspace = true` only appear with their full path.
	for _, key := range md.Keys() {
		switch {
		case len(key) >= 4 && key[0] == "target":
			tbl, kind := raw.Target[key[1]].table(key[2])
			if v, ok := tbl[key[3]]; ok && kind != "" {
				add(newDependency(path, key[3], v, kind, key[1]))
			}
		case len(key) >= 2:
			tbl, kind := raw.depTables.table(key[0])
			if v, ok := tbl[key[1]]; ok && kind != "" {
				add(newDependency(path, key[1], v, kind, ""))
			}
		}
	}

	if ws := raw.Workspace; ws != nil {
		m.Workspace = &Workspace{
			Members:      ws.Members,
			Exclude:      ws.Exclude,
			Dependencies: make(map[string]Dependency, len(ws.Dependencies)),
		}
		for name, v := range ws.Dependencies {
			m.Workspace.Dependencies[name] = newDependency(path, name, v, KindNormal, "")
		}
	}
	return m, nil
}

func newDependency(origin, name string, v any, kind Kind, target string) Dependency {
	d := Dependency{
		Name:    name,
		Package: name,
		Req:     semver.Any,
		Kind:    kind,
		Source:  SourceRegistry,
		Target:  target,
		Origin:  origin,
	}

	var version string
	switch val := v.(type) {
	case string:
		version, d.hasReq = val, true
	case map[string]any:
		if s, ok := val["version"].(string); ok {
			version, d.hasReq = s, true
		}
		if s, ok := val["package"].(string); ok && s != "" {
			d.Package = s
		}
		if b, ok := val["optional"].(bool); ok {
			d.Optional = b
		}
		if b, ok := val["workspace"].(bool); ok && b {
			d.inherit = true
		}
		switch {
		case val["git"] != nil:
			d.Source = SourceGit
		case val["path"] != nil:
			d.Source = SourcePath
			d.Path, _ = val["path"].(string)
		case val["registry-index"] != nil:
			d.Source = SourceAltRegistry
		case val["registry"] != nil && val["registry"] != "crates-io":
			d.Source = SourceAltRegistry
		}
	default:
		d.Problem = &Problem{Code: apperr.ErrCodeInvalidManifest, Message: fmt.Sprintf("unsupported dependency value %T", v)}
		return d
	}

	if err := apperr.ValidateCrateName(d.Package); err != nil {
		d.Problem = &Problem{Code: apperr.ErrCodeInvalidPackage, Message: apperr.UserMessage(err)}
		return d
	}
	if d.hasReq {
		req, err := semver.ParseRequirement(version)
		if err != nil {
			d.Problem = &Problem{Code: apperr.ErrCodeInvalidManifest, Message: err.Error()}
			return d
		}
		d.Req = req
	}
	return d
}

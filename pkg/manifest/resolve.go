package manifest

import (
	"path"
	"strings"

	apperr "github.com/matzehuels/cratestatus/pkg/errors"
)

// Resolved is the requirement list of one package manifest after
// workspace resolution, in declaration order.
type Resolved struct {
	Path         string       `json:"path"`
	Package      string       `json:"package"`
	Dependencies []Dependency `json:"dependencies"`
}

// Resolve turns a manifest set into per-package requirement lists. The
// result follows the order of set; virtual workspace roots produce no
// entry.
//
// Entries marked `workspace = true` take version, package and source from
// the nearest enclosing [workspace.dependencies]; optional comes from the
// member. Path dependencies on packages of the same set are dropped. Other
// path dependencies are classified against the registry when they also
// carry a version, and are unsupported otherwise, as are git and
// alternate-registry dependencies.
func Resolve(set []*Manifest) []Resolved {
	paths := make(map[string]bool, len(set))
	packages := make(map[string]bool, len(set))
	for _, m := range set {
		paths[m.Path] = true
		if m.Package != "" {
			packages[strings.ToLower(m.Package)] = true
		}
	}

	var out []Resolved
	for _, m := range set {
		if m.Package == "" {
			continue
		}
		root := workspaceRoot(set, m)
		r := Resolved{Path: m.Path, Package: m.Package, Dependencies: []Dependency{}}
		for _, d := range m.Dependencies {
			base := m.Dir()
			if d.inherit {
				d, base = inherit(d, root)
			}
			if d.Problem == nil && d.Source == SourcePath {
				target := path.Join(base, d.Path, FileName)
				if paths[target] || packages[strings.ToLower(d.Package)] {
					continue
				}
			}
			if d.Problem == nil {
				d.Problem = sourceProblem(d)
			}
			r.Dependencies = append(r.Dependencies, d)
		}
		out = append(out, r)
	}
	return out
}

// workspaceRoot returns the closest manifest with a [workspace] table
// whose directory contains m, or nil.
func workspaceRoot(set []*Manifest, m *Manifest) *Manifest {
	var best *Manifest
	for _, c := range set {
		if c.Workspace == nil {
			continue
		}
		dir := c.Dir()
		if dir != "" && m.Dir() != dir && !strings.HasPrefix(m.Dir(), dir+"/") {
			continue
		}
		if best == nil || len(dir) > len(best.Dir()) {
			best = c
		}
	}
	return best
}

func inherit(d Dependency, root *Manifest) (Dependency, string) {
	if root == nil {
		d.inherit = false
		d.Problem = &Problem{Code: apperr.ErrCodeInvalidManifest, Message: "inherits from a workspace, but no workspace root was found"}
		return d, ""
	}
	w, ok := root.Workspace.Dependencies[d.Name]
	if !ok {
		d.inherit = false
		d.Problem = &Problem{Code: apperr.ErrCodeInvalidManifest, Message: "not declared in [workspace.dependencies]"}
		return d, root.Dir()
	}
	d.inherit = false
	d.Package = w.Package
	d.Req = w.Req
	d.hasReq = w.hasReq
	d.Source = w.Source
	d.Path = w.Path
	d.Problem = w.Problem
	return d, root.Dir()
}

func sourceProblem(d Dependency) *Problem {
	switch d.Source {
	case SourceRegistry:
		return nil
	case SourcePath:
		if d.hasReq {
			return nil
		}
		return &Problem{Code: apperr.ErrCodeUnsupportedSource, Message: "path dependency outside the project"}
	case SourceGit:
		return &Problem{Code: apperr.ErrCodeUnsupportedSource, Message: "git dependency"}
	default:
		return &Problem{Code: apperr.ErrCodeUnsupportedSource, Message: "dependency from an alternate registry"}
	}
}

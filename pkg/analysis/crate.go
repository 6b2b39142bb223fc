package analysis

import (
	apperr "github.com/matzehuels/cratestatus/pkg/errors"
	"github.com/matzehuels/cratestatus/pkg/index"
	"github.com/matzehuels/cratestatus/pkg/manifest"
	"github.com/matzehuels/cratestatus/pkg/project"
	"github.com/matzehuels/cratestatus/pkg/semver"
	"github.com/matzehuels/cratestatus/pkg/status"
)

// findRelease picks the release a crate identity refers to: the exact
// version, or the newest non-yanked release when the version is empty.
func findRelease(snap *index.Snapshot, id project.Identity) (index.Release, error) {
	if !snap.Has(id.Crate) {
		return index.Release{}, apperr.New(apperr.ErrCodePackageNotFound, "crate %s not found in the registry index", id.Crate)
	}
	if id.Version == "" {
		rel, ok := snap.Latest(id.Crate)
		if !ok {
			return index.Release{}, apperr.New(apperr.ErrCodePackageNotFound, "crate %s has no live releases", id.Crate)
		}
		return rel, nil
	}
	v, err := semver.Parse(id.Version)
	if err != nil {
		return index.Release{}, apperr.Wrap(apperr.ErrCodeInvalidInput, err, "version %q", id.Version)
	}
	rel, ok := snap.Release(id.Crate, v)
	if !ok {
		return index.Release{}, apperr.New(apperr.ErrCodePackageNotFound, "crate %s has no release %s", id.Crate, v)
	}
	return rel, nil
}

// crateManifest converts a release's dependency records into the same
// shape a parsed manifest resolves to. Index files repeat a dependency once
// per target table; only the first record per (name, kind) is kept.
func crateManifest(name string, rel index.Release) ManifestResult {
	origin := "crates.io/" + name + "@" + rel.Version.String()
	mr := ManifestResult{
		Path:         origin,
		Package:      name,
		Version:      rel.Version.String(),
		Dependencies: make([]status.Status, 0, len(rel.Deps)),
	}
	seen := make(map[string]bool, len(rel.Deps))
	for _, d := range rel.Deps {
		kind := manifest.KindNormal
		switch d.Kind {
		case index.KindDev:
			kind = manifest.KindDev
		case index.KindBuild:
			kind = manifest.KindBuild
		}
		k := d.Name + "\x00" + string(kind)
		if seen[k] {
			continue
		}
		seen[k] = true
		mr.Dependencies = append(mr.Dependencies, status.Status{Dependency: manifest.Dependency{
			Name:     d.Name,
			Package:  d.Name,
			Req:      d.Req,
			Kind:     kind,
			Optional: d.Optional,
			Source:   manifest.SourceRegistry,
			Origin:   origin,
		}})
	}
	return mr
}

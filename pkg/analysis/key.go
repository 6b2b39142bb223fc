package analysis

import (
	"bytes"
	"sort"

	"github.com/matzehuels/cratestatus/pkg/cache"
	"github.com/matzehuels/cratestatus/pkg/project"
	"github.com/matzehuels/cratestatus/pkg/status"
)

// Key returns the cache key of an analysis: a SHA-256 over the identity,
// the normalized manifests sorted by path, and the policy. Line-ending and
// trailing-whitespace differences do not change the key.
func Key(id project.Identity, manifests []Manifest, policy status.Policy) string {
	return keyWith(cache.NewDefaultKeyer(), id, manifests, policy)
}

func keyWith(k cache.Keyer, id project.Identity, manifests []Manifest, policy status.Policy) string {
	digests := make([]string, 0, len(manifests))
	for _, m := range manifests {
		digests = append(digests, m.Path+"\x00"+cache.Hash(Normalize(m.Content)))
	}
	sort.Strings(digests)
	return k.AnalysisKey(id.String(), cache.AnalysisKeyOpts{
		Manifests:       digests,
		IncludeDev:      policy.IncludeDev,
		IncludeOptional: policy.IncludeOptional,
	})
}

// Normalize converts CRLF to LF and strips trailing whitespace from every
// line and from the end of the text.
func Normalize(content []byte) []byte {
	content = bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
	lines := bytes.Split(content, []byte("\n"))
	for i, l := range lines {
		lines[i] = bytes.TrimRight(l, " \t\r")
	}
	return bytes.TrimRight(bytes.Join(lines, []byte("\n")), "\n")
}

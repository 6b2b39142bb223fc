package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// AnalysisKeyOpts are the inputs besides the identity that change an
// analysis result.
type AnalysisKeyOpts struct {
	// Manifests are digests of the normalized manifests, in crawl order.
	Manifests []string `json:"manifests,omitempty"`

	IncludeDev      bool `json:"include_dev,omitempty"`
	IncludeOptional bool `json:"include_optional,omitempty"`
}

// DefaultKeyer is the unscoped Keyer.
type DefaultKeyer struct{}

// NewDefaultKeyer returns the unscoped Keyer.
func NewDefaultKeyer() Keyer { return DefaultKeyer{} }

// HTTPKey returns "http:<namespace>:<key>".
func (DefaultKeyer) HTTPKey(namespace, key string) string {
	return "http:" + namespace + ":" + key
}

// AnalysisKey returns "analysis:<sha256(identity, opts)>".
func (DefaultKeyer) AnalysisKey(identity string, opts AnalysisKeyOpts) string {
	return hashKey("analysis", identity, opts)
}

// hashKey generates a cache key by hashing the components.
// The key format is: prefix:hash(parts...)
func hashKey(prefix string, parts ...any) string {
	data, _ := json.Marshal(parts)
	hash := sha256.Sum256(data)
	return fmt.Sprintf("%s:%s", prefix, hex.EncodeToString(hash[:]))
}

// Hash computes a SHA-256 hash of the input data.
// Returns the full 64-character hex string.
func Hash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

package cache

// ScopedKeyer wraps a Keyer with a prefix so several deployments can share
// one Redis without seeing each other's entries.
//
//	keyer := NewScopedKeyer(NewDefaultKeyer(), "cratestatus:prod:")
type ScopedKeyer struct {
	inner  Keyer
	prefix string
}

// NewScopedKeyer creates a keyer with a prefix.
// The prefix is prepended to all generated keys.
func NewScopedKeyer(inner Keyer, prefix string) Keyer {
	if inner == nil {
		inner = NewDefaultKeyer()
	}
	return &ScopedKeyer{inner: inner, prefix: prefix}
}

// HTTPKey generates a prefixed key for upstream response caching.
func (k *ScopedKeyer) HTTPKey(namespace, key string) string {
	return k.prefix + k.inner.HTTPKey(namespace, key)
}

// AnalysisKey generates a prefixed key for analysis results.
func (k *ScopedKeyer) AnalysisKey(identity string, opts AnalysisKeyOpts) string {
	return k.prefix + k.inner.AnalysisKey(identity, opts)
}

package storage

import (
	"context"
	"sync"

	"github.com/matzehuels/cratestatus/pkg/analysis"
	apperr "github.com/matzehuels/cratestatus/pkg/errors"
	"github.com/matzehuels/cratestatus/pkg/project"
)

// DefaultMemoryDepth is how many results Memory keeps per identity.
const DefaultMemoryDepth = 16

// Memory is an in-process Archive. It keeps the most recent results per
// identity and drops older ones.
type Memory struct {
	mu      sync.RWMutex
	depth   int
	results map[string][]*analysis.Result
}

// NewMemory returns an empty Memory archive keeping depth results per
// identity. A depth <= 0 uses DefaultMemoryDepth.
func NewMemory(depth int) *Memory {
	if depth <= 0 {
		depth = DefaultMemoryDepth
	}
	return &Memory{depth: depth, results: make(map[string][]*analysis.Result)}
}

func (m *Memory) Append(_ context.Context, r *analysis.Result) error {
	if r == nil {
		return apperr.New(apperr.ErrCodeInvalidInput, "nil result")
	}
	k := r.Identity.String()

	m.mu.Lock()
	defer m.mu.Unlock()
	list := append(m.results[k], r)
	if len(list) > m.depth {
		list = list[len(list)-m.depth:]
	}
	m.results[k] = list
	return nil
}

func (m *Memory) Latest(_ context.Context, id project.Identity) (*analysis.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.results[id.String()]
	if len(list) == 0 {
		return nil, apperr.New(apperr.ErrCodeNotFound, "no archived result for %s", id)
	}
	return list[len(list)-1], nil
}

// History returns up to depth archived results for id, oldest first.
func (m *Memory) History(id project.Identity) []*analysis.Result {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*analysis.Result(nil), m.results[id.String()]...)
}

func (m *Memory) Close() error { return nil }

package graph

import (
	"fmt"
	"sort"
	"sync"

	"github.com/visioninhope/agents-sub013/core"
)

// Source resolves graphs by id.
type Source interface {
	Graph(id string) (*Graph, error)
}

// Registry is a concurrency safe in-memory Source.
type Registry struct {
	mu     sync.RWMutex
	graphs map[string]*Graph
}

// NewRegistry creates a registry pre-populated with graphs.
func NewRegistry(graphs ...*Graph) *Registry {
	r := &Registry{graphs: make(map[string]*Graph, len(graphs))}
	for _, g := range graphs {
		r.graphs[g.ID()] = g
	}
	return r
}

// Register adds or replaces a graph.
func (r *Registry) Register(g *Graph) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.graphs[g.ID()] = g
}

// Graph returns the graph with the given id or core.ErrNotFound.
func (r *Registry) Graph(id string) (*Graph, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.graphs[id]
	if !ok {
		return nil, fmt.Errorf("graph %q: %w", id, core.ErrNotFound)
	}
	return g, nil
}

// IDs returns the registered graph ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.graphs))
	for id := range r.graphs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

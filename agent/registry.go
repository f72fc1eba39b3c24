package agent

import (
	"fmt"
	"sort"
	"sync"

	"github.com/visioninhope/agents-sub013/core"
	"github.com/visioninhope/agents-sub013/graph"
	"github.com/visioninhope/agents-sub013/model"
	"github.com/visioninhope/agents-sub013/tool"
)

// Models resolves the model names used in agent definitions.
type Models struct {
	mu       sync.RWMutex
	models   map[string]model.Model
	fallback model.Model
}

// NewModels creates a model table. fallback serves definitions that name no
// model, and unknown names are an error.
func NewModels(fallback model.Model) *Models {
	return &Models{models: make(map[string]model.Model), fallback: fallback}
}

// Register binds name to m.
func (m *Models) Register(name string, mdl model.Model) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.models[name] = mdl
}

// Resolve returns the model for name.
func (m *Models) Resolve(name string) (model.Model, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if name == "" {
		if m.fallback == nil {
			return nil, fmt.Errorf("no default model configured: %w", core.ErrNotFound)
		}
		return m.fallback, nil
	}
	mdl, ok := m.models[name]
	if !ok {
		return nil, fmt.Errorf("model %q: %w", name, core.ErrNotFound)
	}
	return mdl, nil
}

// Registry holds the agents of every registered graph.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]map[string]*Agent
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]map[string]*Agent)}
}

// Add registers the agents of a graph, replacing earlier ones.
func (r *Registry) Add(graphID string, agents ...*Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byID := make(map[string]*Agent, len(agents))
	for _, a := range agents {
		byID[a.ID()] = a
	}
	r.agents[graphID] = byID
}

// Agent returns the runtime agent of a graph.
func (r *Registry) Agent(graphID, agentID string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.agents[graphID][agentID]
	if !ok {
		return nil, fmt.Errorf("agent %q in graph %q: %w", agentID, graphID, core.ErrNotFound)
	}
	return a, nil
}

// IDs returns the agent ids of a graph in sorted order.
func (r *Registry) IDs(graphID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.agents[graphID]))
	for id := range r.agents[graphID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// BuildFromGraph creates the runtime agents of g and adds them to the
// registry. Unknown models or tools are configuration errors.
func (r *Registry) BuildFromGraph(g *graph.Graph, models *Models, tools *tool.Registry, optFns ...func(o *Options)) error {
	defs := g.Agents()
	agents := make([]*Agent, 0, len(defs))

	for _, def := range defs {
		mdl, err := models.Resolve(def.Model)
		if err != nil {
			return &core.ConfigurationError{GraphID: g.ID(), AgentID: def.ID, Reason: err.Error()}
		}

		var agentTools []tool.Tool
		if len(def.Tools) > 0 {
			if tools == nil {
				return &core.ConfigurationError{GraphID: g.ID(), AgentID: def.ID, Reason: "tools declared but no tool registry configured"}
			}
			if agentTools, err = tools.Resolve(def.Tools); err != nil {
				return &core.ConfigurationError{GraphID: g.ID(), AgentID: def.ID, Reason: err.Error()}
			}
		}

		agents = append(agents, New(def.ID, mdl, func(o *Options) {
			for _, fn := range optFns {
				fn(o)
			}
			if def.Name != "" {
				o.Name = def.Name
			}
			o.Description = def.Description
			if def.Instructions != "" {
				o.Instruction = NewInstructionFromText(def.Instructions)
			}
			o.Tools = append(o.Tools, agentTools...)
		}))
	}

	r.Add(g.ID(), agents...)
	return nil
}

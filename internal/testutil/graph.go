package testutil

import (
	"testing"

	"github.com/visioninhope/agents-sub013/core"
	"github.com/visioninhope/agents-sub013/graph"
)

// Scope is the scope of graphs built with the default tenant and project.
func Scope(graphID string) core.Scope {
	return core.Scope{TenantID: "tenant", ProjectID: "project", GraphID: graphID}
}

// GraphBuilder assembles graph definitions for tests.
//
//	g := testutil.NewGraph("g", "router").
//		Agent("router").Agent("math").
//		Transfers("router", "math").
//		Build(t)
type GraphBuilder struct {
	def graph.Definition
}

// NewGraph starts a graph whose default agent is defaultAgent.
func NewGraph(id, defaultAgent string) *GraphBuilder {
	return &GraphBuilder{def: graph.Definition{
		ID:             id,
		TenantID:       "tenant",
		ProjectID:      "project",
		Name:           id,
		DefaultAgentID: defaultAgent,
	}}
}

// Agent declares an agent; fns may adjust its definition.
func (b *GraphBuilder) Agent(id string, fns ...func(d *graph.AgentDefinition)) *GraphBuilder {
	def := graph.AgentDefinition{ID: id, Name: id, Description: id + " agent"}
	for _, fn := range fns {
		fn(&def)
	}
	b.def.Agents = append(b.def.Agents, def)
	return b
}

// Transfers declares transfer edges from one agent.
func (b *GraphBuilder) Transfers(from string, to ...string) *GraphBuilder {
	return b.edit(from, func(d *graph.AgentDefinition) { d.TransferTargets = append(d.TransferTargets, to...) })
}

// Delegates declares delegation edges from one agent.
func (b *GraphBuilder) Delegates(from string, to ...string) *GraphBuilder {
	return b.edit(from, func(d *graph.AgentDefinition) { d.DelegateTargets = append(d.DelegateTargets, to...) })
}

// Limits sets graph level limits.
func (b *GraphBuilder) Limits(l graph.Limits) *GraphBuilder {
	b.def.Limits = l
	return b
}

// Context sets the request context contract.
func (b *GraphBuilder) Context(c graph.ContextDefinition) *GraphBuilder {
	b.def.Context = c
	return b
}

// StatusUpdates sets the status update policy.
func (b *GraphBuilder) StatusUpdates(s graph.StatusUpdates) *GraphBuilder {
	b.def.StatusUpdates = s
	return b
}

// Definition returns the definition built so far.
func (b *GraphBuilder) Definition() graph.Definition { return b.def }

// Build validates the graph and fails the test on error.
func (b *GraphBuilder) Build(t testing.TB) *graph.Graph {
	t.Helper()
	g, err := graph.Build(b.def)
	if err != nil {
		t.Fatalf("build graph %s: %v", b.def.ID, err)
	}
	return g
}

func (b *GraphBuilder) edit(id string, fn func(d *graph.AgentDefinition)) *GraphBuilder {
	for i := range b.def.Agents {
		if b.def.Agents[i].ID == id {
			fn(&b.def.Agents[i])
			return b
		}
	}
	def := graph.AgentDefinition{ID: id, Name: id}
	fn(&def)
	b.def.Agents = append(b.def.Agents, def)
	return b
}

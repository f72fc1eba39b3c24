// Package graph declares agent graphs: the agents, the transfer and
// delegation edges between them, limits inherited project -> graph -> agent,
// the request context contract and the status update policy. A Graph is
// immutable once built; every edge is validated at build time.
package graph

import (
	"fmt"
	"sort"
	"time"

	"github.com/visioninhope/agents-sub013/core"
)

// Limits bounds a turn. Zero fields inherit from the enclosing level.
type Limits struct {
	MaxSteps          int           `yaml:"max_steps" json:"max_steps,omitempty"`
	MaxTransfers      int           `yaml:"max_transfers" json:"max_transfers,omitempty"`
	ModelTimeout      time.Duration `yaml:"model_timeout" json:"model_timeout,omitempty"`
	DelegationTimeout time.Duration `yaml:"delegation_timeout" json:"delegation_timeout,omitempty"`
}

// DefaultLimits apply when no level sets a value.
var DefaultLimits = Limits{
	MaxSteps:          12,
	MaxTransfers:      10,
	ModelTimeout:      2 * time.Minute,
	DelegationTimeout: 5 * time.Minute,
}

// Merge returns l overridden by every non-zero field of over.
func (l Limits) Merge(over Limits) Limits {
	if over.MaxSteps != 0 {
		l.MaxSteps = over.MaxSteps
	}
	if over.MaxTransfers != 0 {
		l.MaxTransfers = over.MaxTransfers
	}
	if over.ModelTimeout != 0 {
		l.ModelTimeout = over.ModelTimeout
	}
	if over.DelegationTimeout != 0 {
		l.DelegationTimeout = over.DelegationTimeout
	}
	return l
}

// AgentDefinition declares one agent of a graph.
type AgentDefinition struct {
	ID              string   `yaml:"id"`
	Name            string   `yaml:"name"`
	Description     string   `yaml:"description"`
	Instructions    string   `yaml:"instructions"`
	Model           string   `yaml:"model"`
	Tools           []string `yaml:"tools"`
	TransferTargets []string `yaml:"can_transfer_to"`
	DelegateTargets []string `yaml:"can_delegate_to"`
	Limits          Limits   `yaml:"limits"`
}

// VariableDefinition declares a context variable fetched lazily per turn.
type VariableDefinition struct {
	// Fetcher names the registered fetcher ("static", "http", ...).
	Fetcher string `yaml:"fetcher"`
	// URL is a template rendered with the request headers (http fetcher).
	URL string `yaml:"url"`
	// Headers are templates rendered with the request headers (http fetcher).
	Headers map[string]string `yaml:"headers"`
	// Value is returned by the static fetcher.
	Value any `yaml:"value"`
	// Default is used when the fetch fails; nil means the failure propagates.
	Default any `yaml:"default"`
	// Timeout bounds one fetch. Zero uses the resolver's fetch timeout.
	Timeout time.Duration `yaml:"timeout"`
}

// ContextDefinition is the request context contract of a graph.
type ContextDefinition struct {
	// HeadersSchema is a JSON schema subset (type/properties/required/enum/pattern)
	// validated against lower-cased request header names.
	HeadersSchema map[string]any                `yaml:"headers_schema"`
	Variables     map[string]VariableDefinition `yaml:"variables"`
}

// StatusUpdates configures periodic progress summaries.
type StatusUpdates struct {
	NumEvents     int    `yaml:"num_events"`
	TimeInSeconds int    `yaml:"time_in_seconds"`
	Model         string `yaml:"model"`
	Prompt        string `yaml:"prompt"`
}

// Enabled reports whether any trigger is configured.
func (s StatusUpdates) Enabled() bool { return s.NumEvents > 0 || s.TimeInSeconds > 0 }

// Definition is the declarative form of a graph.
type Definition struct {
	ID             string            `yaml:"id"`
	TenantID       string            `yaml:"tenant_id"`
	ProjectID      string            `yaml:"project_id"`
	Name           string            `yaml:"name"`
	DefaultAgentID string            `yaml:"default_agent"`
	ProjectLimits  Limits            `yaml:"project_limits"`
	Limits         Limits            `yaml:"limits"`
	Agents         []AgentDefinition `yaml:"agents"`
	Context        ContextDefinition `yaml:"context"`
	StatusUpdates  StatusUpdates     `yaml:"status_updates"`
}

// Graph is a validated, immutable agent graph.
type Graph struct {
	def       Definition
	agents    map[string]AgentDefinition
	transfers map[string][]string
	delegates map[string][]string
}

// Build validates def and returns the graph. Every failure is a
// *core.ConfigurationError.
func Build(def Definition) (*Graph, error) {
	cfgErr := func(agentID, format string, args ...any) error {
		return &core.ConfigurationError{GraphID: def.ID, AgentID: agentID, Reason: fmt.Sprintf(format, args...)}
	}

	if def.ID == "" {
		return nil, cfgErr("", "graph id is required")
	}
	if len(def.Agents) == 0 {
		return nil, cfgErr("", "graph declares no agents")
	}

	g := &Graph{
		def:       def,
		agents:    make(map[string]AgentDefinition, len(def.Agents)),
		transfers: make(map[string][]string, len(def.Agents)),
		delegates: make(map[string][]string, len(def.Agents)),
	}

	for _, a := range def.Agents {
		if a.ID == "" {
			return nil, cfgErr("", "agent id is required")
		}
		if _, dup := g.agents[a.ID]; dup {
			return nil, cfgErr(a.ID, "duplicate agent id")
		}
		g.agents[a.ID] = a
	}

	if def.DefaultAgentID == "" {
		return nil, cfgErr("", "default agent is required")
	}
	if _, ok := g.agents[def.DefaultAgentID]; !ok {
		return nil, cfgErr(def.DefaultAgentID, "default agent is not declared")
	}

	for _, a := range def.Agents {
		t, err := targets(a.ID, "transfer", a.TransferTargets, g.agents)
		if err != nil {
			return nil, cfgErr(a.ID, "%v", err)
		}
		d, err := targets(a.ID, "delegate", a.DelegateTargets, g.agents)
		if err != nil {
			return nil, cfgErr(a.ID, "%v", err)
		}
		g.transfers[a.ID] = t
		g.delegates[a.ID] = d
	}

	if def.StatusUpdates.NumEvents < 0 || def.StatusUpdates.TimeInSeconds < 0 {
		return nil, cfgErr("", "status update triggers must not be negative")
	}

	return g, nil
}

func targets(from, kind string, ids []string, agents map[string]AgentDefinition) ([]string, error) {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))

	for _, id := range ids {
		if id == from {
			return nil, fmt.Errorf("agent cannot %s to itself", kind)
		}
		if _, ok := agents[id]; !ok {
			return nil, fmt.Errorf("undeclared %s target %q", kind, id)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}

	sort.Strings(out)
	return out, nil
}

// ID returns the graph id.
func (g *Graph) ID() string { return g.def.ID }

// Name returns the display name of the graph.
func (g *Graph) Name() string { return g.def.Name }

// Scope returns the tenant/project/graph scope.
func (g *Graph) Scope() core.Scope {
	return core.Scope{TenantID: g.def.TenantID, ProjectID: g.def.ProjectID, GraphID: g.def.ID}
}

// DefaultAgentID returns the agent that starts new conversations.
func (g *Graph) DefaultAgentID() string { return g.def.DefaultAgentID }

// Agent returns the definition of the agent with the given id.
func (g *Graph) Agent(id string) (AgentDefinition, bool) {
	a, ok := g.agents[id]
	return a, ok
}

// Agents returns every agent definition in declaration order.
func (g *Graph) Agents() []AgentDefinition {
	out := make([]AgentDefinition, len(g.def.Agents))
	copy(out, g.def.Agents)
	return out
}

// TransferTargets returns the sorted transfer targets of an agent.
func (g *Graph) TransferTargets(agentID string) []string { return append([]string(nil), g.transfers[agentID]...) }

// DelegateTargets returns the sorted delegate targets of an agent.
func (g *Graph) DelegateTargets(agentID string) []string { return append([]string(nil), g.delegates[agentID]...) }

// CanTransfer reports whether from declares to as a transfer target.
func (g *Graph) CanTransfer(from, to string) bool { return contains(g.transfers[from], to) }

// CanDelegate reports whether from declares to as a delegate target.
func (g *Graph) CanDelegate(from, to string) bool { return contains(g.delegates[from], to) }

// EffectiveLimits resolves the limits of an agent: defaults, then project,
// then graph, then agent; the most specific non-zero value wins.
func (g *Graph) EffectiveLimits(agentID string) Limits {
	l := DefaultLimits.Merge(g.def.ProjectLimits).Merge(g.def.Limits)
	if a, ok := g.agents[agentID]; ok {
		l = l.Merge(a.Limits)
	}
	return l
}

// Context returns the request context contract.
func (g *Graph) Context() ContextDefinition { return g.def.Context }

// StatusUpdates returns the status update policy.
func (g *Graph) StatusUpdates() StatusUpdates { return g.def.StatusUpdates }

// Definition returns a copy of the declaration the graph was built from.
func (g *Graph) Definition() Definition { return g.def }

func contains(list []string, s string) bool {
	i := sort.SearchStrings(list, s)
	return i < len(list) && list[i] == s
}

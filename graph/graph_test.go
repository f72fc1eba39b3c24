package graph

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visioninhope/agents-sub013/core"
)

func sampleDefinition() Definition {
	return Definition{
		ID:             "support",
		TenantID:       "t1",
		ProjectID:      "p1",
		DefaultAgentID: "router",
		ProjectLimits:  Limits{MaxSteps: 20, ModelTimeout: time.Minute},
		Limits:         Limits{MaxSteps: 8},
		Agents: []AgentDefinition{
			{ID: "router", TransferTargets: []string{"billing", "billing"}, DelegateTargets: []string{"math"}},
			{ID: "billing", Limits: Limits{MaxSteps: 3, DelegationTimeout: time.Second}},
			{ID: "math"},
		},
	}
}

func TestBuildAdjacency(t *testing.T) {
	g, err := Build(sampleDefinition())
	require.NoError(t, err)

	assert.Equal(t, "router", g.DefaultAgentID())
	assert.Equal(t, core.Scope{TenantID: "t1", ProjectID: "p1", GraphID: "support"}, g.Scope())
	assert.Equal(t, []string{"billing"}, g.TransferTargets("router"))
	assert.Equal(t, []string{"math"}, g.DelegateTargets("router"))
	assert.True(t, g.CanTransfer("router", "billing"))
	assert.False(t, g.CanTransfer("billing", "router"))
	assert.True(t, g.CanDelegate("router", "math"))
	assert.False(t, g.CanDelegate("router", "billing"))
	assert.Empty(t, g.TransferTargets("unknown"))
}

func TestBuildRejectsUndeclaredTransferTarget(t *testing.T) {
	def := sampleDefinition()
	def.Agents[0].TransferTargets = []string{"ghost"}

	_, err := Build(def)
	var cfgErr *core.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "router", cfgErr.AgentID)
	assert.Contains(t, cfgErr.Reason, "ghost")
}

func TestBuildValidation(t *testing.T) {
	cases := map[string]func(d *Definition){
		"missing id":          func(d *Definition) { d.ID = "" },
		"no agents":           func(d *Definition) { d.Agents = nil },
		"unknown default":     func(d *Definition) { d.DefaultAgentID = "ghost" },
		"missing default":     func(d *Definition) { d.DefaultAgentID = "" },
		"duplicate agent":     func(d *Definition) { d.Agents = append(d.Agents, AgentDefinition{ID: "math"}) },
		"self delegation":     func(d *Definition) { d.Agents[2].DelegateTargets = []string{"math"} },
		"undeclared delegate": func(d *Definition) { d.Agents[1].DelegateTargets = []string{"ghost"} },
		"negative trigger":    func(d *Definition) { d.StatusUpdates.NumEvents = -1 },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			def := sampleDefinition()
			mutate(&def)
			_, err := Build(def)
			var cfgErr *core.ConfigurationError
			assert.True(t, errors.As(err, &cfgErr), "expected configuration error, got %v", err)
		})
	}
}

func TestEffectiveLimitsInheritance(t *testing.T) {
	g, err := Build(sampleDefinition())
	require.NoError(t, err)

	router := g.EffectiveLimits("router")
	assert.Equal(t, 8, router.MaxSteps, "graph overrides project")
	assert.Equal(t, time.Minute, router.ModelTimeout, "project overrides default")
	assert.Equal(t, DefaultLimits.MaxTransfers, router.MaxTransfers)

	billing := g.EffectiveLimits("billing")
	assert.Equal(t, 3, billing.MaxSteps, "agent overrides graph")
	assert.Equal(t, time.Second, billing.DelegationTimeout)
}

const graphYAML = `
id: support
tenant_id: acme
project_id: web
default_agent: router
limits:
  max_transfers: 4
  delegation_timeout: 45s
context:
  headers_schema:
    type: object
    properties:
      x-user-id:
        type: string
    required: [x-user-id]
  variables:
    plan:
      fetcher: static
      value: pro
status_updates:
  num_events: 3
  time_in_seconds: 10
agents:
  - id: router
    instructions: 'Route {{index .headers "x-user-id"}}'
    can_transfer_to: [billing]
    can_delegate_to: [math]
  - id: billing
  - id: math
`

func TestLoadYAML(t *testing.T) {
	g, err := LoadYAML(strings.NewReader(graphYAML))
	require.NoError(t, err)

	assert.Equal(t, "support", g.ID())
	assert.Equal(t, 45*time.Second, g.EffectiveLimits("math").DelegationTimeout)
	assert.Equal(t, 4, g.EffectiveLimits("router").MaxTransfers)
	assert.True(t, g.StatusUpdates().Enabled())
	assert.Equal(t, "pro", g.Context().Variables["plan"].Value)
	assert.Equal(t, []any{"x-user-id"}, g.Context().HeadersSchema["required"])
}

func TestLoadYAMLRejectsUnknownFields(t *testing.T) {
	_, err := LoadYAML(strings.NewReader("id: g\nbogus: true\n"))
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(graphYAML), 0o600))

	g, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, g.Agents(), 3)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	g, err := Build(sampleDefinition())
	require.NoError(t, err)

	r := NewRegistry()
	_, err = r.Graph("support")
	assert.ErrorIs(t, err, core.ErrNotFound)

	r.Register(g)
	got, err := r.Graph("support")
	require.NoError(t, err)
	assert.Same(t, g, got)
	assert.Equal(t, []string{"support"}, r.IDs())
}

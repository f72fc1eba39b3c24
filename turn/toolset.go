package turn

import (
	"github.com/visioninhope/agents-sub013/agent"
	"github.com/visioninhope/agents-sub013/graph"
	"github.com/visioninhope/agents-sub013/model"
	"github.com/visioninhope/agents-sub013/tool"
)

// toolset is what one agent may call in one step: its own tools plus the
// transfer and delegate tools generated from the graph's edges.
type toolset struct {
	list      []tool.Tool
	byName    map[string]tool.Tool
	transfers map[string]*tool.TransferTool
	delegates map[string]*tool.DelegateTool
}

// buildToolset assembles the tools of a. Transfer tools are left out for
// delegated sub-turns, which must answer their delegator.
func buildToolset(g *graph.Graph, a *agent.Agent, allowTransfer bool) *toolset {
	ts := &toolset{
		byName:    make(map[string]tool.Tool),
		transfers: make(map[string]*tool.TransferTool),
		delegates: make(map[string]*tool.DelegateTool),
	}

	for _, t := range a.Tools() {
		ts.add(t)
	}

	ctxDef := g.Context()
	if len(ctxDef.Variables) > 0 || len(ctxDef.HeadersSchema) > 0 {
		if _, ok := ts.byName[tool.ContextLookupName]; !ok {
			ts.add(tool.NewContextLookupTool())
		}
	}

	if allowTransfer {
		for _, target := range g.TransferTargets(a.ID()) {
			t := tool.NewTransferTool(target, describe(g, target))
			ts.transfers[t.Name()] = t
			ts.add(t)
		}
	}

	for _, target := range g.DelegateTargets(a.ID()) {
		t := tool.NewDelegateTool(target, describe(g, target), nil)
		ts.delegates[t.Name()] = t
		ts.add(t)
	}

	return ts
}

func (ts *toolset) add(t tool.Tool) {
	if _, dup := ts.byName[t.Name()]; dup {
		return
	}
	ts.byName[t.Name()] = t
	ts.list = append(ts.list, t)
}

func (ts *toolset) definitions() []model.ToolDefinition { return tool.Definitions(ts.list) }

func describe(g *graph.Graph, agentID string) string {
	def, ok := g.Agent(agentID)
	if !ok {
		return ""
	}
	return def.Description
}

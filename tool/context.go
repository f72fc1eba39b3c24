package tool

import (
	"github.com/visioninhope/agents-sub013/core"
)

// ContextLookupName is the name of the built-in context lookup tool.
const ContextLookupName = "context_lookup"

// ContextLookupTool lets an agent read validated request headers and context
// variables of the current turn.
type ContextLookupTool struct{}

// NewContextLookupTool constructs the tool.
func NewContextLookupTool() *ContextLookupTool { return &ContextLookupTool{} }

// Name implements Tool.
func (ContextLookupTool) Name() string { return ContextLookupName }

// Description implements Tool.
func (ContextLookupTool) Description() string {
	return "Read a value from the request context: a request header or a named context variable."
}

// Parameters implements Tool.
func (ContextLookupTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"kind": map[string]any{"type": "string", "enum": []any{"header", "variable"}},
			"name": map[string]any{"type": "string"},
		},
		"required": []string{"kind", "name"},
	}
}

// Call implements Tool.
func (t ContextLookupTool) Call(tc *core.ToolContext, args map[string]any) (any, error) {
	kind, _ := args["kind"].(string)
	name, _ := args["name"].(string)
	if name == "" {
		return nil, NewToolError(t.Name(), "name is required", CodeValidation)
	}

	switch kind {
	case "header":
		v := tc.Header(name)
		if v == "" {
			return nil, NewToolError(t.Name(), "header "+name+" is not set", CodeNotFound)
		}
		return map[string]any{"name": name, "value": v}, nil
	case "variable":
		v, err := tc.Variable(name)
		if err != nil {
			return nil, &ToolError{Tool: t.Name(), Message: err.Error(), Code: CodeExecution}
		}
		return map[string]any{"name": name, "value": v}, nil
	default:
		return nil, NewToolError(t.Name(), "kind must be header or variable", CodeValidation)
	}
}

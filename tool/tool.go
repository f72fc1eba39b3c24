// Package tool implements the tools an agent can call: plain Go functions,
// the generated transfer and delegation tools derived from the graph, and the
// built-in context lookup tool.
package tool

import (
	"fmt"
	"sort"

	"github.com/visioninhope/agents-sub013/core"
	"github.com/visioninhope/agents-sub013/internal/util"
	"github.com/visioninhope/agents-sub013/model"
)

// Tool is a capability exposed to a model through function calling.
//
// Implementations must be safe for concurrent use: the executor runs the
// calls of one model step in parallel.
type Tool interface {
	// Name is the function name the model calls.
	Name() string
	// Description tells the model when to use the tool.
	Description() string
	// Parameters is the JSON schema of the arguments.
	Parameters() map[string]any
	// Call executes the tool with decoded arguments.
	Call(toolCtx *core.ToolContext, args map[string]any) (any, error)
}

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// Error codes of ToolError.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeExecution  = "EXECUTION_ERROR"
	CodePanic      = "PANIC"
	CodeNotFound   = "NOT_FOUND"
)

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{Tool: tool, Message: message, Code: code}
}

// Definition describes t to a model.
func Definition(t Tool) model.ToolDefinition {
	return model.NewFunctionTool(t.Name(), t.Description(), t.Parameters())
}

// Definitions describes every tool, in order.
func Definitions(tools []Tool) []model.ToolDefinition {
	out := make([]model.ToolDefinition, len(tools))
	for i, t := range tools {
		out[i] = Definition(t)
	}
	return out
}

// Registry resolves the tool names declared by agent definitions.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates a registry holding tools.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds or replaces a tool.
func (r *Registry) Register(t Tool) { r.tools[t.Name()] = t }

// Lookup returns the tool named name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Resolve returns the tools for names, failing on the first unknown one.
func (r *Registry) Resolve(names []string) ([]Tool, error) {
	out := make([]Tool, 0, len(names))
	for _, n := range names {
		t, ok := r.tools[n]
		if !ok {
			return nil, fmt.Errorf("unknown tool %q: %w", n, core.ErrNotFound)
		}
		out = append(out, t)
	}
	return out, nil
}

// Names lists registered tool names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

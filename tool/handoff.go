package tool

import (
	"fmt"
	"strings"

	"github.com/visioninhope/agents-sub013/core"
	"github.com/visioninhope/agents-sub013/internal/util"
)

// Name prefixes of the generated graph tools.
const (
	TransferPrefix = "transfer_to_"
	DelegatePrefix = "delegate_to_"
)

// TransferTool hands the conversation to one declared transfer target.
type TransferTool struct {
	target      string
	description string
}

// NewTransferTool builds the transfer tool for target. description is the
// target agent's description.
func NewTransferTool(target, description string) *TransferTool {
	return &TransferTool{target: target, description: description}
}

// Target returns the agent the tool transfers to.
func (t *TransferTool) Target() string { return t.target }

// Name implements Tool.
func (t *TransferTool) Name() string { return util.ToolName(TransferPrefix, t.target) }

// Description implements Tool.
func (t *TransferTool) Description() string {
	d := fmt.Sprintf("Hand the conversation over to the %s agent. It continues with the full history and answers the user directly.", t.target)
	if t.description != "" {
		d += " " + strings.TrimSpace(t.description)
	}
	return d
}

// Parameters implements Tool.
func (t *TransferTool) Parameters() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

// Call implements Tool.
func (t *TransferTool) Call(tc *core.ToolContext, _ map[string]any) (any, error) {
	tc.TransferToAgent(t.target)
	return map[string]any{"transferred": true, "agent": t.target}, nil
}

// DelegateTool asks one declared delegate target to perform a sub-task and
// waits for its result. The executor dispatches delegate calls of one step
// together; Call is used when a tool is invoked on its own.
type DelegateTool struct {
	target      string
	description string
	delegate    func(tc *core.ToolContext, target, description string) (any, error)
}

// NewDelegateTool builds the delegate tool for target. fn performs the
// delegation when the tool is called directly; it may be nil.
func NewDelegateTool(target, description string, fn func(tc *core.ToolContext, target, description string) (any, error)) *DelegateTool {
	return &DelegateTool{target: target, description: description, delegate: fn}
}

// Target returns the agent the tool delegates to.
func (t *DelegateTool) Target() string { return t.target }

// Name implements Tool.
func (t *DelegateTool) Name() string { return util.ToolName(DelegatePrefix, t.target) }

// Description implements Tool.
func (t *DelegateTool) Description() string {
	d := fmt.Sprintf("Ask the %s agent to complete a self-contained sub-task and return its result to you.", t.target)
	if t.description != "" {
		d += " " + strings.TrimSpace(t.description)
	}
	return d
}

// Parameters implements Tool.
func (t *DelegateTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"description": map[string]any{
				"type":        "string",
				"description": "Complete description of the sub-task, including every detail the agent needs.",
			},
		},
		"required": []string{"description"},
	}
}

// TaskDescription extracts and validates the sub-task description.
func (t *DelegateTool) TaskDescription(args map[string]any) (string, error) {
	if err := util.ValidateParameters(args, t.Parameters()); err != nil {
		return "", &ToolError{Tool: t.Name(), Message: err.Error(), Code: CodeValidation, Details: err}
	}
	desc, _ := args["description"].(string)
	if strings.TrimSpace(desc) == "" {
		return "", &ToolError{Tool: t.Name(), Message: "description must not be empty", Code: CodeValidation}
	}
	return desc, nil
}

// Call implements Tool.
func (t *DelegateTool) Call(tc *core.ToolContext, args map[string]any) (any, error) {
	desc, err := t.TaskDescription(args)
	if err != nil {
		return nil, err
	}
	if t.delegate == nil {
		return nil, NewToolError(t.Name(), "delegation is not available here", CodeExecution)
	}
	return t.delegate(tc, t.target, desc)
}

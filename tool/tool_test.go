package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visioninhope/agents-sub013/core"
)

type fakeValues struct {
	headers map[string]string
	vars    map[string]any
}

func (f fakeValues) Header(name string) string { return f.headers[name] }

func (f fakeValues) Variable(_ context.Context, name string) (any, error) {
	v, ok := f.vars[name]
	if !ok {
		return nil, errors.New("variable " + name + " failed")
	}
	return v, nil
}

func (f fakeValues) RenderInstructions(_ context.Context, text string) (string, error) {
	return text, nil
}

func newToolContext(values core.RequestValues) *core.ToolContext {
	conv := &core.Conversation{ID: "conv-1", ActiveAgentID: "a"}
	turn := core.NewTurnContext(conv, "msg-1", values, nil)
	return core.NewToolContext(context.Background(), turn, "a", "call-1")
}

func sumTool() *FunctionTool {
	type sumArgs struct {
		A float64 `json:"a" description:"First addend"`
		B float64 `json:"b" description:"Second addend"`
	}
	return NewFunctionToolFromStruct("calculate_sum", "Calculate the sum of two numbers", sumArgs{},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			return args["a"].(float64) + args["b"].(float64), nil
		})
}

func TestFunctionToolSuccess(t *testing.T) {
	out, err := sumTool().Call(newToolContext(nil), map[string]any{"a": 2.0, "b": 40.0})
	require.NoError(t, err)
	assert.Equal(t, 42.0, out)
}

func TestFunctionToolValidationError(t *testing.T) {
	_, err := sumTool().Call(newToolContext(nil), map[string]any{"a": 2.0})

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeValidation, toolErr.Code)
	assert.Equal(t, "calculate_sum", toolErr.Tool)
}

func TestFunctionToolExecutionError(t *testing.T) {
	failing := NewFunctionTool("fail", "always fails", map[string]any{"type": "object"},
		func(*core.ToolContext, map[string]any) (any, error) { return nil, errors.New("boom") })
	custom := NewFunctionTool("custom", "custom code", map[string]any{"type": "object"},
		func(*core.ToolContext, map[string]any) (any, error) { return nil, NewToolError("custom", "nope", "RATE_LIMITED") })

	var toolErr *ToolError
	_, err := failing.Call(newToolContext(nil), map[string]any{})
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeExecution, toolErr.Code)

	_, err = custom.Call(newToolContext(nil), map[string]any{})
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "RATE_LIMITED", toolErr.Code)
	assert.Equal(t, "tool error [RATE_LIMITED] in custom: nope", toolErr.Error())
}

func TestTransferTool(t *testing.T) {
	tt := NewTransferTool("billing", "Handles invoices.")
	assert.Equal(t, "transfer_to_billing", tt.Name())
	assert.Contains(t, tt.Description(), "Handles invoices.")

	tc := newToolContext(nil)
	_, err := tt.Call(tc, nil)
	require.NoError(t, err)
	assert.Equal(t, "billing", tc.Actions().TransferToAgent)
}

func TestDelegateTool(t *testing.T) {
	var gotTarget, gotDesc string
	dt := NewDelegateTool("math helper", "", func(tc *core.ToolContext, target, desc string) (any, error) {
		gotTarget, gotDesc = target, desc
		return "42", nil
	})
	assert.Equal(t, "delegate_to_math_helper", dt.Name())

	out, err := dt.Call(newToolContext(nil), map[string]any{"description": "Generate a number"})
	require.NoError(t, err)
	assert.Equal(t, "42", out)
	assert.Equal(t, "math helper", gotTarget)
	assert.Equal(t, "Generate a number", gotDesc)

	_, err = dt.TaskDescription(map[string]any{"description": "   "})
	assert.Error(t, err)

	_, err = NewDelegateTool("x", "", nil).Call(newToolContext(nil), map[string]any{"description": "d"})
	assert.Error(t, err)
}

func TestContextLookupTool(t *testing.T) {
	tc := newToolContext(fakeValues{
		headers: map[string]string{"x-user-id": "u-7"},
		vars:    map[string]any{"plan": "gold"},
	})
	lookup := NewContextLookupTool()

	out, err := lookup.Call(tc, map[string]any{"kind": "header", "name": "x-user-id"})
	require.NoError(t, err)
	assert.Equal(t, "u-7", out.(map[string]any)["value"])

	out, err = lookup.Call(tc, map[string]any{"kind": "variable", "name": "plan"})
	require.NoError(t, err)
	assert.Equal(t, "gold", out.(map[string]any)["value"])

	_, err = lookup.Call(tc, map[string]any{"kind": "variable", "name": "missing"})
	assert.Error(t, err)
	_, err = lookup.Call(tc, map[string]any{"kind": "header", "name": "x-none"})
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(sumTool(), NewContextLookupTool())
	assert.Equal(t, []string{"calculate_sum", "context_lookup"}, r.Names())

	tools, err := r.Resolve([]string{"context_lookup"})
	require.NoError(t, err)
	assert.Len(t, tools, 1)

	_, err = r.Resolve([]string{"ghost"})
	assert.ErrorIs(t, err, core.ErrNotFound)

	defs := Definitions(tools)
	assert.Equal(t, "function", defs[0].Type)
	assert.Equal(t, "context_lookup", defs[0].Function.Name)
}

func TestEmitArtifact(t *testing.T) {
	tc := newToolContext(nil)
	id := tc.EmitArtifact("chart", map[string]any{"points": 3})
	require.Len(t, tc.Actions().Artifacts, 1)
	assert.Equal(t, id, tc.Actions().Artifacts[0].ID)
}

package core

import (
	"context"
	"fmt"

	"github.com/visioninhope/agents-sub013/logging"
)

// Artifact is a structured output a tool publishes alongside its result.
type Artifact struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Payload any    `json:"payload"`
}

// ToolActions collects orchestration signals raised by a tool invocation.
type ToolActions struct {
	TransferToAgent string
	Artifacts       []Artifact
}

// ToolContext provides a constrained surface for tool implementations: the
// call's context, the turn's request values and a way to request a transfer.
type ToolContext struct {
	ctx            context.Context
	turn           *TurnContext
	agentID        string
	functionCallID string
	actions        ToolActions
}

// NewToolContext constructs a tool context bound to a turn and function call.
func NewToolContext(ctx context.Context, turn *TurnContext, agentID, functionCallID string) *ToolContext {
	return &ToolContext{ctx: ctx, turn: turn, agentID: agentID, functionCallID: functionCallID}
}

// Context returns the context associated with the tool invocation.
func (tc *ToolContext) Context() context.Context { return tc.ctx }

// Turn returns the owning turn context.
func (tc *ToolContext) Turn() *TurnContext { return tc.turn }

// ConversationID returns the conversation the tool runs in.
func (tc *ToolContext) ConversationID() string {
	if tc.turn == nil || tc.turn.Conversation == nil {
		return ""
	}
	return tc.turn.Conversation.ID
}

// AgentID returns the agent that issued the call.
func (tc *ToolContext) AgentID() string { return tc.agentID }

// FunctionCallID returns the function call ID associated with the tool invocation.
func (tc *ToolContext) FunctionCallID() string { return tc.functionCallID }

// Logger returns the logger associated with the tool invocation.
func (tc *ToolContext) Logger() logging.Logger {
	if tc.turn == nil {
		return logging.NoOpLogger{}
	}
	return tc.turn.Logger()
}

// Header returns a validated request header.
func (tc *ToolContext) Header(name string) string {
	if tc.turn == nil || tc.turn.Values == nil {
		return ""
	}
	return tc.turn.Values.Header(name)
}

// Variable resolves a context variable of the turn.
func (tc *ToolContext) Variable(name string) (any, error) {
	if tc.turn == nil || tc.turn.Values == nil {
		return nil, fmt.Errorf("context variable %q: no request context", name)
	}
	return tc.turn.Values.Variable(tc.ctx, name)
}

// TransferToAgent signals orchestration to hand the conversation to another agent.
func (tc *ToolContext) TransferToAgent(agentID string) {
	tc.actions.TransferToAgent = agentID
	tc.Logger().Info("tool.transfer.request", "from_agent", tc.agentID, "to_agent", agentID, "function_call_id", tc.functionCallID)
}

// EmitArtifact publishes an artifact to the turn's stream and returns its id.
func (tc *ToolContext) EmitArtifact(name string, payload any) string {
	id := NewID()
	tc.actions.Artifacts = append(tc.actions.Artifacts, Artifact{ID: id, Name: name, Payload: payload})
	return id
}

// Actions returns the actions accumulated in the tool context.
func (tc *ToolContext) Actions() ToolActions { return tc.actions }

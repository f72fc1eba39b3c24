// Package stream encodes turn output as a server-sent event stream of typed
// frames.
//
// Every frame is written as
//
//	data: {"type":"<frame-type>", ...}\n\n
//
// and the stream ends with the terminator "data: [DONE]\n\n".
package stream

import (
	"encoding/json"
	"net/http"

	"github.com/visioninhope/agents-sub013/core"
)

// FrameType names a frame on the wire.
type FrameType string

const (
	FrameRole          FrameType = "role"
	FrameTextDelta     FrameType = "text-delta"
	FrameDataOperation FrameType = "data-operation"
	FrameDataArtifact  FrameType = "data-artifact"
	FrameStatusUpdate  FrameType = "status-update"
	FrameDone          FrameType = "done"
	FrameError         FrameType = "error"
)

// Operations carried by data-operation frames.
const (
	OpTransfer           = "transfer"
	OpDelegationSent     = "delegation_sent"
	OpDelegationReturned = "delegation_returned"
	OpToolCall           = "tool_call"
	OpToolResult         = "tool_result"
	OpCompletion         = "completion"
)

// ProtocolHeader declares the stream protocol version.
const (
	ProtocolHeader  = "x-vercel-ai-ui-message-stream"
	ProtocolVersion = "v1"
)

// Terminator ends every stream.
var Terminator = []byte("data: [DONE]\n\n")

// Frame is one unit of stream output.
type Frame struct {
	Type      FrameType      `json:"type"`
	ID        string         `json:"id,omitempty"`
	Role      string         `json:"role,omitempty"`
	AgentID   string         `json:"agentId,omitempty"`
	Delta     string         `json:"delta,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	ErrorText string         `json:"errorText,omitempty"`
	Code      string         `json:"code,omitempty"`
}

// IsContent reports whether the frame is content that must follow a role frame.
func (f Frame) IsContent() bool {
	return f.Type == FrameTextDelta || f.Type == FrameDataOperation || f.Type == FrameDataArtifact
}

// RoleFrame announces the agent producing the following content.
func RoleFrame(agentID string) Frame {
	return Frame{Type: FrameRole, ID: core.NewID(), Role: core.RoleAssistant, AgentID: agentID}
}

// TextDelta carries a chunk of generated text.
func TextDelta(agentID, text string) Frame {
	return Frame{Type: FrameTextDelta, AgentID: agentID, Delta: text}
}

// Operation describes an orchestration step (transfer, delegation, ...).
func Operation(agentID, operation string, details map[string]any) Frame {
	data := map[string]any{"type": operation}
	for k, v := range details {
		data[k] = v
	}
	return Frame{Type: FrameDataOperation, AgentID: agentID, Data: data}
}

// Artifact carries a structured artifact.
func Artifact(agentID, artifactID string, payload any) Frame {
	return Frame{Type: FrameDataArtifact, AgentID: agentID, Data: map[string]any{"artifactId": artifactID, "payload": payload}}
}

// StatusUpdate carries a progress summary.
func StatusUpdate(summary string) Frame {
	return Frame{Type: FrameStatusUpdate, Data: map[string]any{"summary": summary}}
}

// ErrorFrame reports a terminal error.
func ErrorFrame(err error) Frame {
	return Frame{Type: FrameError, ErrorText: err.Error(), Code: core.ErrorCode(err)}
}

// DoneFrame marks the successful or failed end of the turn.
func DoneFrame() Frame { return Frame{Type: FrameDone} }

// Operation returns the operation name of a data-operation frame.
func (f Frame) Operation() string {
	if f.Type != FrameDataOperation {
		return ""
	}
	op, _ := f.Data["type"].(string)
	return op
}

// Encode renders f as one SSE event.
func Encode(f Frame) ([]byte, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(b)+8)
	out = append(out, "data: "...)
	out = append(out, b...)
	out = append(out, "\n\n"...)
	return out, nil
}

// SetHeaders prepares an HTTP response for streaming.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set(ProtocolHeader, ProtocolVersion)
}

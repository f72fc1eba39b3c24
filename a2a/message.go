// Package a2a implements the agent-to-agent message envelope used for
// delegation and the transports that carry it, in process or over HTTP.
package a2a

import (
	"errors"
	"fmt"
	"strings"

	"github.com/visioninhope/agents-sub013/core"
)

// Roles of an A2A message.
const (
	RoleAgent = "agent"
	RoleUser  = "user"
)

// KindMessage is the only message kind exchanged.
const KindMessage = "message"

// Part kinds.
const (
	PartKindText = "text"
	PartKindData = "data"
)

// Data part types.
const (
	DataTypeOperation = "operation"
	DataTypeArtifact  = "artifact"
)

// DefaultContextID is the placeholder some callers send when they have no
// conversation; it is never a valid context id.
const DefaultContextID = "default"

var (
	ErrMissingMessageID = errors.New("a2a: message id is required")
	ErrInvalidRole      = errors.New("a2a: role must be agent or user")
	ErrInvalidKind      = errors.New("a2a: kind must be message")
	ErrEmptyParts       = errors.New("a2a: message has no parts")
	ErrMissingTarget    = errors.New("a2a: target agent is required")
)

// Part is one segment of a message.
type Part struct {
	Kind string         `json:"kind"`
	Text string         `json:"text,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

// TextPart builds a text part.
func TextPart(text string) Part { return Part{Kind: PartKindText, Text: text} }

// OperationPart builds a data part describing an operation.
func OperationPart(operation string, details map[string]any) Part {
	data := map[string]any{"type": DataTypeOperation, "operation": operation}
	for k, v := range details {
		data[k] = v
	}
	return Part{Kind: PartKindData, Data: data}
}

// ArtifactPart builds a data part carrying an artifact.
func ArtifactPart(artifactID string, payload any) Part {
	return Part{Kind: PartKindData, Data: map[string]any{"type": DataTypeArtifact, "artifactId": artifactID, "payload": payload}}
}

// Metadata travels with every message.
type Metadata struct {
	ConversationID string `json:"conversationId"`
	ThreadID       string `json:"threadId,omitempty"`
	FromAgentID    string `json:"fromAgentId,omitempty"`
	ToAgentID      string `json:"toAgentId,omitempty"`
	TaskID         string `json:"taskId,omitempty"`
	GraphID        string `json:"graphId,omitempty"`
	// Depth is the delegation depth of the sub-turn the message starts.
	Depth int `json:"depth,omitempty"`
}

// Message is the A2A envelope.
type Message struct {
	Role      string   `json:"role"`
	Parts     []Part   `json:"parts"`
	MessageID string   `json:"messageId"`
	Kind      string   `json:"kind"`
	ContextID string   `json:"contextId"`
	Metadata  Metadata `json:"metadata"`
}

// NewTaskMessage builds the message that hands a delegated task to another
// agent. The description is always parts[0].
func NewTaskMessage(contextID, graphID, from, to, taskID, description string) Message {
	return Message{
		Role:      RoleAgent,
		Parts:     []Part{TextPart(description)},
		MessageID: core.NewID(),
		Kind:      KindMessage,
		ContextID: contextID,
		Metadata: Metadata{
			ConversationID: contextID,
			ThreadID:       contextID,
			FromAgentID:    from,
			ToAgentID:      to,
			TaskID:         taskID,
			GraphID:        graphID,
		},
	}
}

// NewReply builds the response to req carrying text and optional extra parts.
func NewReply(req Message, text string, extra ...Part) Message {
	parts := append([]Part{TextPart(text)}, extra...)
	return Message{
		Role:      RoleAgent,
		Parts:     parts,
		MessageID: core.NewID(),
		Kind:      KindMessage,
		ContextID: req.ContextID,
		Metadata: Metadata{
			ConversationID: req.ContextID,
			ThreadID:       req.Metadata.ThreadID,
			FromAgentID:    req.Metadata.ToAgentID,
			ToAgentID:      req.Metadata.FromAgentID,
			TaskID:         req.Metadata.TaskID,
			GraphID:        req.Metadata.GraphID,
		},
	}
}

// Text concatenates the text parts.
func (m Message) Text() string {
	var sb strings.Builder
	for _, p := range m.Parts {
		if p.Kind == PartKindText {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// Validate checks the envelope. A missing or "default" context id yields
// core.ErrUnresolvedContextID.
func (m Message) Validate() error {
	if m.MessageID == "" {
		return ErrMissingMessageID
	}
	if m.Role != RoleAgent && m.Role != RoleUser {
		return ErrInvalidRole
	}
	if m.Kind != KindMessage {
		return ErrInvalidKind
	}
	if len(m.Parts) == 0 {
		return ErrEmptyParts
	}
	if m.ContextID == "" || m.ContextID == DefaultContextID {
		return fmt.Errorf("a2a: context id %q: %w", m.ContextID, core.ErrUnresolvedContextID)
	}
	for i, p := range m.Parts {
		if p.Kind != PartKindText && p.Kind != PartKindData {
			return fmt.Errorf("a2a: part %d has unknown kind %q", i, p.Kind)
		}
	}
	return nil
}

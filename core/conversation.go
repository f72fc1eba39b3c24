package core

import "time"

// Scope identifies the tenant, project and graph a conversation belongs to.
type Scope struct {
	TenantID  string `json:"tenant_id"`
	ProjectID string `json:"project_id"`
	GraphID   string `json:"graph_id"`
}

// Conversation is a persistent dialogue bound to one agent graph. Exactly one
// agent is active at any time.
type Conversation struct {
	ID            string    `json:"id"`
	Scope         Scope     `json:"scope"`
	ActiveAgentID string    `json:"active_agent_id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Clone returns a copy of the conversation.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

// Message is one entry of a conversation's history.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	AgentID        string    `json:"agent_id,omitempty"`
	Content        Content   `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewMessage creates a message with a fresh id and timestamp.
func NewMessage(conversationID, agentID string, content Content) Message {
	return Message{
		ID:             NewID(),
		ConversationID: conversationID,
		Role:           content.Role,
		AgentID:        agentID,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
}

// Contents extracts the content of each message, preserving order.
func Contents(msgs []Message) []Content {
	out := make([]Content, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Content)
	}
	return out
}

package core

import (
	"context"

	"github.com/visioninhope/agents-sub013/logging"
)

// RequestValues exposes the resolved request context of a turn: validated
// headers and lazily fetched context variables.
type RequestValues interface {
	Header(name string) string
	Variable(ctx context.Context, name string) (any, error)
	RenderInstructions(ctx context.Context, text string) (string, error)
}

// TurnContext carries the per-turn state shared by every component taking
// part in one turn: the conversation, the request values, the event log and
// the step/transfer limiter. Delegated sub-turns get a Child context sharing
// the event log and request values.
type TurnContext struct {
	TurnID       string
	Conversation *Conversation
	MessageID    string
	Values       RequestValues
	Events       *EventLog
	Limiter      *TurnLimiter
	// Depth is 0 for the user facing turn and grows by one per delegation hop.
	Depth int

	logger logging.Logger
}

// NewTurnContext constructs a top level turn context.
func NewTurnContext(conv *Conversation, messageID string, values RequestValues, logger logging.Logger) *TurnContext {
	return NewTurnContextWithID(NewID(), conv, messageID, values, logger)
}

// NewTurnContextWithID is NewTurnContext with a caller chosen turn id.
func NewTurnContextWithID(turnID string, conv *Conversation, messageID string, values RequestValues, logger logging.Logger) *TurnContext {
	return &TurnContext{
		TurnID:       turnID,
		Conversation: conv,
		MessageID:    messageID,
		Values:       values,
		Events:       NewEventLog(),
		Limiter:      NewTurnLimiter(),
		logger:       logging.Wrap(logger).WithConversation(conv.ID, turnID),
	}
}

// Child derives the context of a delegated sub-turn.
func (tc *TurnContext) Child() *TurnContext {
	turnID := NewID()
	return &TurnContext{
		TurnID:       turnID,
		Conversation: tc.Conversation.Clone(),
		MessageID:    tc.MessageID,
		Values:       tc.Values,
		Events:       tc.Events,
		Limiter:      NewTurnLimiter(),
		Depth:        tc.Depth + 1,
		logger:       logging.Wrap(tc.logger).With("parent_turn_id", tc.TurnID, "sub_turn_id", turnID),
	}
}

// ConversationID returns the id of the turn's conversation.
func (tc *TurnContext) ConversationID() string { return tc.Conversation.ID }

// Scope returns the scope of the turn's conversation.
func (tc *TurnContext) Scope() Scope { return tc.Conversation.Scope }

// Logger returns the turn scoped logger.
func (tc *TurnContext) Logger() logging.Logger { return logging.OrNoOp(tc.logger) }

// Record appends an event to the turn's log and returns it.
func (tc *TurnContext) Record(typ EventType, agentID string, payload map[string]any) Event {
	ev := NewEvent(typ, agentID, payload)
	if tc.Events != nil {
		tc.Events.Append(ev)
	}
	return ev
}

type turnContextKey struct{}

// WithTurn returns a context carrying tc.
func WithTurn(ctx context.Context, tc *TurnContext) context.Context {
	return context.WithValue(ctx, turnContextKey{}, tc)
}

// TurnFromContext returns the turn carried by ctx, if any.
func TurnFromContext(ctx context.Context) (*TurnContext, bool) {
	tc, ok := ctx.Value(turnContextKey{}).(*TurnContext)
	return tc, ok && tc != nil
}

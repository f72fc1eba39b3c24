// Package transfer hands a conversation from one agent to another. A
// transfer is synchronous and creates no task: the active agent pointer moves
// and the target continues the same turn with the full message history.
package transfer

import (
	"context"
	"fmt"

	"github.com/visioninhope/agents-sub013/core"
	"github.com/visioninhope/agents-sub013/graph"
	"github.com/visioninhope/agents-sub013/logging"
	"github.com/visioninhope/agents-sub013/metrics"
)

// ActiveSetter updates the active agent of a conversation.
type ActiveSetter interface {
	SetActive(ctx context.Context, conversationID, agentID string) error
}

// HistoryReader lists a conversation's messages.
type HistoryReader interface {
	ListMessages(ctx context.Context, conversationID string, limit int) ([]core.Message, error)
}

// Handoff is the outcome of a transfer.
type Handoff struct {
	FromAgentID string
	ToAgentID   string
	History     []core.Message
}

// Options configures a Coordinator.
type Options struct {
	Logger  logging.Logger
	Metrics *metrics.Collector
}

// Coordinator performs transfers.
type Coordinator struct {
	graphs  graph.Source
	active  ActiveSetter
	history HistoryReader
	logger  logging.Logger
	metrics *metrics.Collector
}

// NewCoordinator creates a transfer coordinator.
func NewCoordinator(graphs graph.Source, active ActiveSetter, history HistoryReader, optFns ...func(o *Options)) *Coordinator {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Coordinator{
		graphs:  graphs,
		active:  active,
		history: history,
		logger:  logging.Wrap(opts.Logger).WithComponent("transfer"),
		metrics: opts.Metrics,
	}
}

// Transfer moves the conversation of tc from one agent to another. The edge
// must be declared in the graph. Nothing changes unless the handoff history
// loads and the active pointer moves. On success
// tc.Conversation reflects it and a transfer event is recorded.
func (c *Coordinator) Transfer(ctx context.Context, tc *core.TurnContext, from, to string) (*Handoff, error) {
	g, err := c.graphs.Graph(tc.Scope().GraphID)
	if err != nil {
		return nil, err
	}

	if !g.CanTransfer(from, to) {
		return nil, &core.ConfigurationError{
			GraphID: g.ID(),
			AgentID: from,
			Reason:  fmt.Sprintf("transfer to undeclared target %q", to),
		}
	}

	history, err := c.history.ListMessages(ctx, tc.ConversationID(), 0)
	if err != nil {
		return nil, fmt.Errorf("load history for transfer: %w", err)
	}

	if err := c.active.SetActive(ctx, tc.ConversationID(), to); err != nil {
		return nil, fmt.Errorf("transfer %s -> %s: %w", from, to, err)
	}
	tc.Conversation.ActiveAgentID = to

	tc.Record(core.EventTransfer, from, map[string]any{"from": from, "to": to})
	c.metrics.IncTransfer(g.ID(), from, to)
	c.logger.Info("transfer.completed", "conversation_id", tc.ConversationID(), "from", from, "to", to, "history", len(history))

	return &Handoff{FromAgentID: from, ToAgentID: to, History: history}, nil
}

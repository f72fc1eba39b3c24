// Package router resolves and records the active agent of a conversation.
package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/visioninhope/agents-sub013/core"
	"github.com/visioninhope/agents-sub013/graph"
	"github.com/visioninhope/agents-sub013/logging"
)

// Options configures a Router.
type Options struct {
	Logger logging.Logger
}

// Router maps a conversation to its single active agent.
type Router struct {
	store  core.ConversationStore
	graphs graph.Source
	logger logging.Logger
}

// New creates a Router.
func New(store core.ConversationStore, graphs graph.Source, optFns ...func(o *Options)) *Router {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Router{
		store:  store,
		graphs: graphs,
		logger: logging.Wrap(opts.Logger).WithComponent("router"),
	}
}

// Load returns the conversation, creating it on first use. The returned
// conversation's ActiveAgentID is always an agent of the graph: an empty or
// stale value is replaced by the graph's default agent and persisted.
func (r *Router) Load(ctx context.Context, scope core.Scope, conversationID string) (*core.Conversation, error) {
	g, err := r.graphs.Graph(scope.GraphID)
	if err != nil {
		return nil, err
	}

	conv, err := r.store.GetConversation(ctx, conversationID)
	if errors.Is(err, core.ErrNotFound) {
		conv = &core.Conversation{ID: conversationID, Scope: scope, ActiveAgentID: g.DefaultAgentID()}
		err = r.store.CreateConversation(ctx, conv)
		if err == nil {
			r.logger.Info("router.conversation.created", "conversation_id", conversationID, "agent", conv.ActiveAgentID)
			return conv, nil
		}
		if !errors.Is(err, core.ErrConflict) {
			return nil, err
		}
		// created concurrently; fall through to the stored row
		conv, err = r.store.GetConversation(ctx, conversationID)
	}
	if err != nil {
		return nil, err
	}

	if conv.Scope.GraphID != "" && conv.Scope.GraphID != scope.GraphID {
		return nil, fmt.Errorf("conversation %q belongs to graph %q, not %q: %w", conversationID, conv.Scope.GraphID, scope.GraphID, core.ErrConflict)
	}

	if _, ok := g.Agent(conv.ActiveAgentID); ok {
		return conv, nil
	}

	if conv.ActiveAgentID != "" {
		r.logger.Warn("router.agent.stale", "conversation_id", conversationID, "agent", conv.ActiveAgentID, "default", g.DefaultAgentID())
	}
	if err := r.store.CompareAndSetActiveAgent(ctx, conversationID, conv.ActiveAgentID, g.DefaultAgentID()); err != nil {
		return nil, err
	}
	conv.ActiveAgentID = g.DefaultAgentID()

	return conv, nil
}

// Resolve returns the active agent of the conversation, or the graph's
// default agent when none is recorded (in which case it is persisted).
func (r *Router) Resolve(ctx context.Context, scope core.Scope, conversationID string) (string, error) {
	conv, err := r.Load(ctx, scope, conversationID)
	if err != nil {
		return "", err
	}
	return conv.ActiveAgentID, nil
}

// SetActive makes agentID the active agent. Setting the current agent again
// is a no-op; otherwise a single compare-and-set is issued against the value
// just read, so a concurrent change surfaces as core.ErrConflict.
func (r *Router) SetActive(ctx context.Context, conversationID, agentID string) error {
	conv, err := r.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.ActiveAgentID == agentID {
		return nil
	}

	if err := r.store.CompareAndSetActiveAgent(ctx, conversationID, conv.ActiveAgentID, agentID); err != nil {
		return err
	}

	r.logger.Info("router.agent.activated", "conversation_id", conversationID, "from", conv.ActiveAgentID, "to", agentID)
	return nil
}

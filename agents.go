// Package agents is the high-level entry point of the runtime. Most
// applications interact with it by:
//  1. Creating an Agents via New with the models agents refer to
//  2. Registering graphs, either built in code or loaded from YAML
//  3. Running turns with Chat (streaming) or ChatSync (collected), or
//     serving them over HTTP with Handler
//
// Everything defaults to in-memory implementations suitable for local
// development and tests; production deployments supply a durable store
// through Options.Runner.
package agents

import (
	"context"
	"fmt"
	"net/http"

	"github.com/visioninhope/agents-sub013/agent"
	"github.com/visioninhope/agents-sub013/core"
	"github.com/visioninhope/agents-sub013/graph"
	"github.com/visioninhope/agents-sub013/logging"
	"github.com/visioninhope/agents-sub013/runner"
	"github.com/visioninhope/agents-sub013/server"
	"github.com/visioninhope/agents-sub013/stream"
	"github.com/visioninhope/agents-sub013/tool"
	"github.com/visioninhope/agents-sub013/turn"
)

// Options configures an Agents instance.
type Options struct {
	// Tools are the function tools graph agents may declare by name.
	Tools []tool.Tool
	// Agent options applied to every agent built from a graph.
	Agent []func(o *agent.Options)
	// Runner options, for example the store or retry policy.
	Runner []func(o *runner.Options)
	// Server options used by Handler.
	Server []func(o *server.Options)

	Logger logging.Logger
}

// Agents aggregates graphs, their agents and the runner executing turns.
type Agents struct {
	opts   Options
	models *agent.Models
	tools  *tool.Registry
	graphs *graph.Registry
	agents *agent.Registry
	runner *runner.Runner
}

// New creates an instance resolving agent models through models.
func New(models *agent.Models, optFns ...func(o *Options)) *Agents {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	a := &Agents{
		opts:   opts,
		models: models,
		tools:  tool.NewRegistry(opts.Tools...),
		graphs: graph.NewRegistry(),
		agents: agent.NewRegistry(),
	}

	a.runner = runner.New(a.graphs, a.agents, func(o *runner.Options) {
		o.Models = models
		o.Logger = opts.Logger
		for _, fn := range opts.Runner {
			fn(o)
		}
	})

	return a
}

// RegisterGraph builds the agents of g and makes the graph available to
// turns. Unknown models or tools fail with a *core.ConfigurationError.
func (a *Agents) RegisterGraph(g *graph.Graph) error {
	if err := a.agents.BuildFromGraph(g, a.models, a.tools, a.opts.Agent...); err != nil {
		return err
	}
	a.graphs.Register(g)
	return nil
}

// LoadGraphFile loads a YAML graph definition and registers it.
func (a *Agents) LoadGraphFile(path string) error {
	g, err := graph.LoadFile(path)
	if err != nil {
		return err
	}
	return a.RegisterGraph(g)
}

// Graph returns a registered graph.
func (a *Agents) Graph(id string) (*graph.Graph, error) { return a.graphs.Graph(id) }

// Runner exposes the underlying runner.
func (a *Agents) Runner() *runner.Runner { return a.runner }

// NewChatRequest builds a request carrying a plain user message for g. An
// empty conversationID starts a new conversation.
func NewChatRequest(g *graph.Graph, conversationID, text string) runner.ChatRequest {
	return runner.ChatRequest{
		Scope:          g.Scope(),
		ConversationID: conversationID,
		Message:        core.NewTextContent(core.RoleUser, text),
		Headers:        http.Header{},
	}
}

// Chat runs one turn, streaming its frames to sink.
func (a *Agents) Chat(ctx context.Context, req runner.ChatRequest, sink stream.Sink) (turn.Result, error) {
	return a.runner.Run(ctx, req, sink)
}

// ChatSync runs one turn on graphID with a plain user message and returns
// the result together with every frame the turn produced.
func (a *Agents) ChatSync(ctx context.Context, graphID, conversationID, text string) (turn.Result, []stream.Frame, error) {
	g, err := a.graphs.Graph(graphID)
	if err != nil {
		return turn.Result{}, nil, fmt.Errorf("chat: %w", err)
	}

	sink := stream.NewCollector()
	res, err := a.runner.Run(ctx, NewChatRequest(g, conversationID, text), sink)

	return res, sink.Frames(), err
}

// Server creates an HTTP server over the registered graphs.
func (a *Agents) Server() *server.Server {
	return server.New(a.runner, a.graphs, func(o *server.Options) {
		o.Logger = a.opts.Logger
		for _, fn := range a.opts.Server {
			fn(o)
		}
	})
}

// Handler serves the HTTP API over the registered graphs.
func (a *Agents) Handler() http.Handler { return a.Server().Handler() }

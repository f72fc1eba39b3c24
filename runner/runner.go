package runner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/visioninhope/agents-sub013/a2a"
	"github.com/visioninhope/agents-sub013/agent"
	"github.com/visioninhope/agents-sub013/core"
	"github.com/visioninhope/agents-sub013/delegation"
	"github.com/visioninhope/agents-sub013/graph"
	"github.com/visioninhope/agents-sub013/internal/retry"
	"github.com/visioninhope/agents-sub013/logging"
	"github.com/visioninhope/agents-sub013/metrics"
	"github.com/visioninhope/agents-sub013/reqcontext"
	"github.com/visioninhope/agents-sub013/router"
	"github.com/visioninhope/agents-sub013/status"
	"github.com/visioninhope/agents-sub013/store/memory"
	"github.com/visioninhope/agents-sub013/stream"
	"github.com/visioninhope/agents-sub013/transfer"
	"github.com/visioninhope/agents-sub013/turn"
)

// DefaultMaxDelegationDepth bounds chains of nested delegations.
const DefaultMaxDelegationDepth = 3

const reconcileTimeout = 10 * time.Second

// ErrTurnNotFound is returned by Cancel for unknown or finished turns.
var ErrTurnNotFound = errors.New("turn not found")

// ChatRequest is one inbound user message.
type ChatRequest struct {
	Scope core.Scope
	// ConversationID may be empty; a new conversation is then started.
	ConversationID string
	// MessageID identifies the user message; generated when empty.
	MessageID string
	// TurnID lets the caller address the turn in Cancel; generated when empty.
	TurnID  string
	Message core.Content
	Headers http.Header
	Body    map[string]any
}

// Options holds dependency + configuration overrides passed to New().
type Options struct {
	// Store persists conversations, messages and tasks. Defaults to an
	// in-memory store.
	Store core.Store
	// Transport delivers delegations. Defaults to an in-process transport
	// served by HandleDelegation.
	Transport a2a.Transport
	// Models resolves the summarizer model named by a graph's status updates.
	Models *agent.Models
	// Summarizer overrides the status update summarizer of every graph.
	Summarizer status.Summarizer
	// Fetchers adds or replaces context variable fetchers.
	Fetchers map[string]reqcontext.Fetcher
	// StatusUpdates applies to graphs that declare no status updates.
	StatusUpdates status.Config

	Retry                    retry.Policy
	DelegationTimeout        time.Duration
	MaxConcurrentDelegations int
	MaxDelegationDepth       int
	MaxParallelTools         int

	Logger  logging.Logger
	Metrics *metrics.Collector
	Tracer  trace.Tracer
}

// Runner coordinates turn execution. Public methods are safe for concurrent
// use; concurrent turns on one conversation are not serialized.
type Runner struct {
	graphs      graph.Source
	agents      turn.AgentSource
	store       core.Store
	resolver    *reqcontext.Resolver
	router      *router.Router
	delegations *delegation.Coordinator
	exec        *turn.Executor
	opts        Options
	logger      *logging.StructuredLogger

	activeRuns map[string]context.CancelFunc
	mu         sync.RWMutex
}

// New constructs a Runner with optional overrides.
func New(graphs graph.Source, agents turn.AgentSource, optFns ...func(o *Options)) *Runner {
	opts := Options{
		Retry:                    retry.DefaultPolicy(),
		DelegationTimeout:        graph.DefaultLimits.DelegationTimeout,
		MaxConcurrentDelegations: delegation.DefaultMaxConcurrent,
		MaxDelegationDepth:       DefaultMaxDelegationDepth,
		Logger:                   logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Store == nil {
		opts.Store = memory.New()
	}

	r := &Runner{
		graphs:     graphs,
		agents:     agents,
		store:      opts.Store,
		opts:       opts,
		logger:     logging.Wrap(opts.Logger).WithComponent("runner"),
		activeRuns: make(map[string]context.CancelFunc),
	}

	transport := opts.Transport
	if transport == nil {
		transport = a2a.NewLocalTransport(r.HandleDelegation)
	}

	r.resolver = reqcontext.NewResolver(graphs, func(o *reqcontext.Options) {
		o.Logger = opts.Logger
		for name, f := range opts.Fetchers {
			o.Fetchers[name] = f
		}
	})
	r.router = router.New(opts.Store, graphs, func(o *router.Options) { o.Logger = opts.Logger })
	transfers := transfer.NewCoordinator(graphs, r.router, opts.Store, func(o *transfer.Options) {
		o.Logger = opts.Logger
		o.Metrics = opts.Metrics
	})
	r.delegations = delegation.NewCoordinator(opts.Store, transport, graphs, func(o *delegation.Options) {
		o.Timeout = opts.DelegationTimeout
		o.MaxConcurrent = opts.MaxConcurrentDelegations
		o.Logger = opts.Logger
		o.Metrics = opts.Metrics
		o.Tracer = opts.Tracer
	})
	r.exec = turn.NewExecutor(graphs, agents, opts.Store, transfers, r.delegations, func(o *turn.Options) {
		o.Retry = opts.Retry
		o.Functions = turn.FunctionExecutorConfig{MaxParallel: opts.MaxParallelTools}
		o.Logger = opts.Logger
		o.Metrics = opts.Metrics
		o.Tracer = opts.Tracer
	})

	return r
}

// Store returns the runner's persistence backend.
func (r *Runner) Store() core.Store { return r.store }

// Router returns the conversation router.
func (r *Runner) Router() *router.Router { return r.router }

// Run executes one turn and writes its frames to sink, which is always
// closed before Run returns. The error is the one reported in the terminal
// error frame; a *core.StreamWriteError means the client went away and no
// error frame could be written.
func (r *Runner) Run(ctx context.Context, req ChatRequest, sink stream.Sink) (turn.Result, error) {
	start := time.Now()

	res, err := r.run(ctx, req, sink)

	var swErr *core.StreamWriteError
	if err != nil && !errors.As(err, &swErr) {
		if werr := sink.Write(stream.ErrorFrame(err)); werr != nil {
			r.logger.Debug("runner.error_frame.failed", "error", werr)
		}
	}
	if cerr := sink.Close(); cerr != nil && err == nil {
		err = cerr
	}

	r.opts.Metrics.ObserveTurn(req.Scope.GraphID, err == nil, time.Since(start))

	return res, err
}

func (r *Runner) run(ctx context.Context, req ChatRequest, sink stream.Sink) (turn.Result, error) {
	convID := req.ConversationID
	switch convID {
	case "":
		convID = core.NewID()
	case a2a.DefaultContextID:
		return turn.Result{}, &core.ContextValidationError{
			GraphID: req.Scope.GraphID,
			Field:   "conversationId",
			Reason:  fmt.Sprintf("%q is not a valid conversation id", convID),
			Err:     core.ErrUnresolvedContextID,
		}
	}

	g, err := r.graphs.Graph(req.Scope.GraphID)
	if err != nil {
		return turn.Result{}, err
	}

	values, err := r.resolver.Resolve(ctx, g.ID(), req.Headers, req.Body)
	if err != nil {
		return turn.Result{}, err
	}

	conv, err := r.router.Load(ctx, req.Scope, convID)
	if err != nil {
		return turn.Result{}, fmt.Errorf("load conversation: %w", err)
	}

	msgID := req.MessageID
	if msgID == "" {
		msgID = core.NewID()
	}
	turnID := req.TurnID
	if turnID == "" {
		turnID = core.NewID()
	}
	tc := core.NewTurnContextWithID(turnID, conv, msgID, values, r.opts.Logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := r.register(tc.TurnID, cancel); err != nil {
		return turn.Result{}, err
	}
	defer r.unregister(tc.TurnID)

	log := r.logger.With("conversation_id", conv.ID, "turn_id", tc.TurnID, "graph_id", g.ID())
	log.Info("runner.turn.start", "agent", conv.ActiveAgentID)

	stopStatus := r.startStatus(ctx, g, tc, conv.ActiveAgentID, sink)

	res, err := r.exec.Execute(ctx, tc, conv.ActiveAgentID, req.Message, sink)

	tc.Events.Close()
	stopStatus()

	rctx, rcancel := context.WithTimeout(context.WithoutCancel(ctx), reconcileTimeout)
	defer rcancel()
	if _, rerr := r.delegations.Reconcile(rctx, conv.ID); rerr != nil {
		log.Error("runner.reconcile.failed", "error", rerr)
	}

	if err != nil {
		log.Warn("runner.turn.failed", "error", err, "code", core.ErrorCode(err), "agent", res.FinalAgentID)
	} else {
		log.Info("runner.turn.completed", "agent", res.FinalAgentID, "iterations", res.Iterations, "transfers", res.Transfers)
	}

	return res, err
}

// startStatus runs the status reporter of a turn and returns a function that
// waits for it to finish. The reporter drains the event log and returns once
// the log is closed.
func (r *Runner) startStatus(ctx context.Context, g *graph.Graph, tc *core.TurnContext, agentID string, sink stream.Sink) func() {
	cfg := status.FromGraph(g.StatusUpdates())
	if !cfg.Enabled() {
		cfg = r.opts.StatusUpdates
	}
	if !cfg.Enabled() {
		return func() {}
	}

	summarizer, err := r.summarizer(g, agentID)
	if err != nil {
		r.logger.Warn("runner.status.disabled", "graph_id", g.ID(), "error", err)
		return func() {}
	}

	reporter := status.NewReporter(cfg, summarizer, func(o *status.ReporterOptions) {
		o.Logger = tc.Logger()
		o.Metrics = r.opts.Metrics
	})

	sctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = reporter.Run(sctx, tc.Events, func(_ context.Context, summary string) error {
			return sink.Write(stream.StatusUpdate(summary))
		})
	}()

	return func() {
		<-done
		cancel()
	}
}

func (r *Runner) summarizer(g *graph.Graph, agentID string) (status.Summarizer, error) {
	if r.opts.Summarizer != nil {
		return r.opts.Summarizer, nil
	}
	if name := g.StatusUpdates().Model; name != "" && r.opts.Models != nil {
		mdl, err := r.opts.Models.Resolve(name)
		if err != nil {
			return nil, err
		}
		return status.ModelSummarizer{Model: mdl}, nil
	}
	a, err := r.agents.Agent(g.ID(), agentID)
	if err != nil {
		return nil, err
	}
	return status.ModelSummarizer{Model: a.Model()}, nil
}

// HandleDelegation runs a delegated sub-turn and answers with the target
// agent's final text and artifacts. Only edges the graph declares as
// delegations are served. When ctx carries the delegating turn the
// sub-turn shares its request values and event log; otherwise (a remote
// delegation) a fresh context is built from the message.
func (r *Runner) HandleDelegation(ctx context.Context, msg a2a.Message) (a2a.Message, error) {
	if err := msg.Validate(); err != nil {
		return a2a.Message{}, err
	}

	g, err := r.graphs.Graph(msg.Metadata.GraphID)
	if err != nil {
		return a2a.Message{}, err
	}
	from, to := msg.Metadata.FromAgentID, msg.Metadata.ToAgentID
	if !g.CanDelegate(from, to) {
		return a2a.Message{}, &core.ConfigurationError{
			GraphID: g.ID(),
			AgentID: from,
			Reason:  fmt.Sprintf("%q is not a declared delegate target", to),
		}
	}

	var tc *core.TurnContext
	if parent, ok := core.TurnFromContext(ctx); ok {
		tc = parent.Child()
	} else {
		conv := &core.Conversation{ID: msg.ContextID, Scope: g.Scope(), ActiveAgentID: to}
		tc = core.NewTurnContext(conv, msg.MessageID, nil, r.opts.Logger)
		tc.Depth = max(msg.Metadata.Depth, 1)
	}

	if maxDepth := r.opts.MaxDelegationDepth; maxDepth > 0 && tc.Depth > maxDepth {
		return a2a.Message{}, &core.LimitExceededError{AgentID: from, Limit: "delegation depth", Max: maxDepth}
	}

	collector := stream.NewCollector()
	res, err := r.exec.Execute(ctx, tc, to, core.NewTextContent(core.RoleUser, msg.Text()), collector,
		func(o *turn.ExecuteOptions) { o.Ephemeral = true })
	if err != nil {
		return a2a.Message{}, err
	}

	parts := make([]a2a.Part, 0, len(res.Artifacts))
	for _, art := range res.Artifacts {
		parts = append(parts, a2a.ArtifactPart(art.ID, map[string]any{"name": art.Name, "data": art.Payload}))
	}

	return a2a.NewReply(msg, res.Text, parts...), nil
}

// Cancel cancels a running turn by ID. The turn stops after its current
// step and still terminates its stream.
func (r *Runner) Cancel(turnID string) error {
	r.mu.RLock()
	cancel, exists := r.activeRuns[turnID]
	r.mu.RUnlock()

	if !exists {
		return fmt.Errorf("turn %s: %w", turnID, ErrTurnNotFound)
	}

	cancel()

	return nil
}

// Active lists the ids of running turns.
func (r *Runner) Active() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.activeRuns))
	for id := range r.activeRuns {
		ids = append(ids, id)
	}
	return ids
}

func (r *Runner) register(turnID string, cancel context.CancelFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.activeRuns[turnID]; dup {
		return fmt.Errorf("turn %s is already running: %w", turnID, core.ErrConflict)
	}
	r.activeRuns[turnID] = cancel
	return nil
}

func (r *Runner) unregister(turnID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.activeRuns, turnID)
}

// Package delegation runs bounded sub-tasks on other agents of a graph.
//
// Each delegation is tracked by a Task that moves pending -> working ->
// completed|failed. The delegating turn blocks until every delegation it
// issued in one step has reached a terminal state or its deadline.
package delegation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/visioninhope/agents-sub013/a2a"
	"github.com/visioninhope/agents-sub013/core"
	"github.com/visioninhope/agents-sub013/graph"
	"github.com/visioninhope/agents-sub013/logging"
	"github.com/visioninhope/agents-sub013/metrics"
)

const (
	// DefaultMaxConcurrent bounds the fan-out of one DelegateAll call.
	DefaultMaxConcurrent = 4
	finalizeTimeout      = 10 * time.Second
)

// Request describes one delegation issued by an agent.
type Request struct {
	FromAgentID string
	ToAgentID   string
	Description string
	// CallID is the function call that triggered the delegation, echoed in
	// the result so it can be answered.
	CallID string
	// ConversationID may be empty; it is then resolved from the turn carried
	// by ctx.
	ConversationID string
	MessageID      string
	Scope          core.Scope
	// Timeout overrides the graph's delegation timeout when positive.
	Timeout time.Duration
}

// Result is the outcome of one delegation.
type Result struct {
	TaskID  string
	AgentID string
	CallID  string
	Status  core.TaskStatus
	Output  string
	Err     error
}

// ToolOutput renders r as the function response payload of the delegating
// call.
func (r Result) ToolOutput() map[string]any {
	out := map[string]any{
		"task_id": r.TaskID,
		"agent":   r.AgentID,
		"status":  string(r.Status),
	}
	if r.Err != nil {
		out["error"] = r.Err.Error()
	} else {
		out["result"] = r.Output
	}
	return out
}

// Options configures a Coordinator.
type Options struct {
	// Timeout applies when neither the request nor the graph sets one.
	Timeout       time.Duration
	MaxConcurrent int
	Logger        logging.Logger
	Metrics       *metrics.Collector
	Tracer        trace.Tracer
	Now           func() time.Time
}

// Coordinator creates tasks, dispatches them through an A2A transport and
// records their outcome.
type Coordinator struct {
	tasks     core.TaskStore
	transport a2a.Transport
	graphs    graph.Source
	opts      Options
	logger    *logging.StructuredLogger
}

// NewCoordinator creates a delegation coordinator.
func NewCoordinator(tasks core.TaskStore, transport a2a.Transport, graphs graph.Source, optFns ...func(o *Options)) *Coordinator {
	opts := Options{
		Timeout:       graph.DefaultLimits.DelegationTimeout,
		MaxConcurrent: DefaultMaxConcurrent,
		Logger:        logging.NoOpLogger{},
		Now:           func() time.Time { return time.Now().UTC() },
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/visioninhope/agents-sub013/delegation")
	}

	return &Coordinator{
		tasks:     tasks,
		transport: transport,
		graphs:    graphs,
		opts:      opts,
		logger:    logging.Wrap(opts.Logger).WithComponent("delegation"),
	}
}

// ResolveContextID returns the first usable candidate. Empty values and the
// "default" placeholder are skipped.
func ResolveContextID(candidates ...string) (string, error) {
	for _, c := range candidates {
		if c != "" && c != a2a.DefaultContextID {
			return c, nil
		}
	}
	return "", core.ErrUnresolvedContextID
}

// Delegate runs one delegation to completion. The returned error equals
// Result.Err; a non-nil error with an empty TaskID means no task was created.
func (c *Coordinator) Delegate(ctx context.Context, req Request) (Result, error) {
	res := Result{AgentID: req.ToAgentID, CallID: req.CallID}

	tc, _ := core.TurnFromContext(ctx)
	if tc != nil {
		if req.Scope == (core.Scope{}) {
			req.Scope = tc.Scope()
		}
		if req.MessageID == "" {
			req.MessageID = tc.MessageID
		}
	}

	var turnConvID string
	if tc != nil {
		turnConvID = tc.ConversationID()
	}
	contextID, err := ResolveContextID(req.ConversationID, turnConvID)
	if err != nil {
		res.Status, res.Err = core.TaskFailed, err
		return res, err
	}

	g, err := c.graphs.Graph(req.Scope.GraphID)
	if err != nil {
		res.Status, res.Err = core.TaskFailed, err
		return res, err
	}
	if !g.CanDelegate(req.FromAgentID, req.ToAgentID) {
		err := &core.ConfigurationError{
			GraphID: g.ID(),
			AgentID: req.FromAgentID,
			Reason:  fmt.Sprintf("delegation to undeclared target %q", req.ToAgentID),
		}
		res.Status, res.Err = core.TaskFailed, err
		return res, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = g.EffectiveLimits(req.FromAgentID).DelegationTimeout
	}
	if timeout <= 0 {
		timeout = c.opts.Timeout
	}

	ctx, span := c.opts.Tracer.Start(ctx, "delegation.delegate", trace.WithAttributes(
		attribute.String("graph.id", g.ID()),
		attribute.String("agent.from", req.FromAgentID),
		attribute.String("agent.to", req.ToAgentID),
		attribute.String("conversation.id", contextID),
	))
	defer span.End()

	start := c.opts.Now()
	now := start
	task := &core.Task{
		ID:        core.NewID(),
		Scope:     req.Scope,
		AgentID:   req.ToAgentID,
		ContextID: contextID,
		Status:    core.TaskPending,
		Metadata: core.TaskMetadata{
			ConversationID: contextID,
			MessageID:      req.MessageID,
			CreatedAt:      now,
			UpdatedAt:      now,
			AgentID:        req.FromAgentID,
			GraphID:        g.ID(),
		},
	}
	res.TaskID = task.ID
	span.SetAttributes(attribute.String("task.id", task.ID))

	log := c.logger.With("task_id", task.ID, "conversation_id", contextID, "from_agent", req.FromAgentID, "to_agent", req.ToAgentID)

	if err := c.tasks.CreateTask(ctx, task); err != nil {
		err = fmt.Errorf("create delegation task: %w", err)
		res.Status, res.Err = core.TaskFailed, err
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	log.Debug("delegation.task.created")

	if _, err := c.tasks.TransitionTask(ctx, task.ID, core.TaskPending, core.TaskUpdate{Status: core.TaskWorking}); err != nil {
		err = fmt.Errorf("start delegation task: %w", err)
		c.finalize(ctx, log, task.ID, core.TaskPending, core.TaskUpdate{Status: core.TaskFailed, Error: err.Error()})
		res.Status, res.Err = core.TaskFailed, err
		return res, err
	}

	if tc != nil {
		tc.Record(core.EventDelegationSent, req.FromAgentID, map[string]any{
			"task_id":     task.ID,
			"to":          req.ToAgentID,
			"description": req.Description,
		})
	}
	log.Info("delegation.task.sent", "timeout", timeout)

	msg := a2a.NewTaskMessage(contextID, g.ID(), req.FromAgentID, req.ToAgentID, task.ID, req.Description)
	msg.Metadata.Depth = 1
	if tc != nil {
		msg.Metadata.Depth = tc.Depth + 1
	}
	reply, err := c.send(ctx, msg, timeout)

	if err != nil {
		var toErr *core.DelegationTimeoutError
		if errors.As(err, &toErr) {
			toErr.TaskID, toErr.AgentID = task.ID, req.ToAgentID
		}
		c.finalize(ctx, log, task.ID, core.TaskWorking, core.TaskUpdate{Status: core.TaskFailed, Error: err.Error()})
		res.Status, res.Err = core.TaskFailed, err
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn("delegation.task.failed", "error", err, "code", core.ErrorCode(err))
	} else {
		res.Output = reply.Text()
		c.finalize(ctx, log, task.ID, core.TaskWorking, core.TaskUpdate{Status: core.TaskCompleted, Result: res.Output})
		res.Status = core.TaskCompleted
		log.Info("delegation.task.completed", "output_len", len(res.Output))
	}

	if tc != nil {
		payload := map[string]any{"task_id": task.ID, "from": req.ToAgentID, "status": string(res.Status)}
		if res.Err != nil {
			payload["error"] = core.ErrorCode(res.Err)
		}
		tc.Record(core.EventDelegationReturned, req.FromAgentID, payload)
	}
	c.opts.Metrics.ObserveDelegation(g.ID(), req.ToAgentID, string(res.Status), c.opts.Now().Sub(start))

	return res, res.Err
}

// send delivers msg and waits at most timeout for the reply. The transport
// runs in its own goroutine so a handler that ignores cancellation cannot
// hold the caller past the deadline.
func (c *Coordinator) send(ctx context.Context, msg a2a.Message, timeout time.Duration) (a2a.Message, error) {
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		reply a2a.Message
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		reply, err := c.transport.Send(dctx, msg)
		done <- outcome{reply: reply, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && errors.Is(dctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return a2a.Message{}, &core.DelegationTimeoutError{Timeout: timeout}
		}
		return out.reply, out.err
	case <-dctx.Done():
		if ctx.Err() != nil {
			return a2a.Message{}, ctx.Err()
		}
		return a2a.Message{}, &core.DelegationTimeoutError{Timeout: timeout}
	}
}

// finalize writes a terminal transition even when ctx was cancelled.
func (c *Coordinator) finalize(ctx context.Context, log logging.Logger, taskID string, from core.TaskStatus, u core.TaskUpdate) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if _, err := c.tasks.TransitionTask(fctx, taskID, from, u); err != nil {
		log.Error("delegation.task.finalize_failed", "status", string(u.Status), "error", err)
	}
}

// DelegateAll runs every request concurrently, bounded by MaxConcurrent, and
// joins over all of them. Results keep the order of reqs. Cancelling ctx
// cancels every outstanding delegation.
func (c *Coordinator) DelegateAll(ctx context.Context, reqs []Request) []Result {
	results := make([]Result, len(reqs))
	if len(reqs) == 0 {
		return results
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.MaxConcurrent)

	for i, req := range reqs {
		g.Go(func() error {
			// Individual failures are reported in the result and must not
			// cancel sibling delegations.
			results[i], _ = c.Delegate(gctx, req)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// Reconcile fails every pending or working task of a conversation. It is
// called when a turn ends so no task is left dangling.
func (c *Coordinator) Reconcile(ctx context.Context, conversationID string) (int, error) {
	open, err := c.tasks.ListTasks(ctx, conversationID, core.TaskPending, core.TaskWorking)
	if err != nil {
		return 0, fmt.Errorf("list open tasks: %w", err)
	}

	var (
		n    int
		errs []error
	)
	for _, t := range open {
		_, err := c.tasks.TransitionTask(ctx, t.ID, t.Status, core.TaskUpdate{
			Status: core.TaskFailed,
			Error:  "turn ended before the task completed",
		})
		switch {
		case err == nil:
			n++
		case errors.Is(err, core.ErrConflict):
			// finished concurrently
		default:
			errs = append(errs, fmt.Errorf("task %s: %w", t.ID, err))
		}
	}
	if n > 0 {
		c.logger.Warn("delegation.reconciled", "conversation_id", conversationID, "failed", n)
	}

	return n, errors.Join(errs...)
}

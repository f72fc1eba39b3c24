// Package turn drives one agent turn: it calls the active agent's model,
// streams its output, runs the tools it asks for, hands the conversation over
// on transfer and joins delegated sub-tasks, until an agent produces a final
// answer or a limit is hit.
package turn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/visioninhope/agents-sub013/agent"
	"github.com/visioninhope/agents-sub013/core"
	"github.com/visioninhope/agents-sub013/delegation"
	"github.com/visioninhope/agents-sub013/graph"
	"github.com/visioninhope/agents-sub013/internal/retry"
	"github.com/visioninhope/agents-sub013/logging"
	"github.com/visioninhope/agents-sub013/metrics"
	"github.com/visioninhope/agents-sub013/model"
	"github.com/visioninhope/agents-sub013/stream"
	"github.com/visioninhope/agents-sub013/transfer"
)

// AgentSource resolves the runtime agent of a graph.
type AgentSource interface {
	Agent(graphID, agentID string) (*agent.Agent, error)
}

// History persists the messages produced by a turn.
type History interface {
	AppendMessage(ctx context.Context, msg core.Message) error
	ListMessages(ctx context.Context, conversationID string, limit int) ([]core.Message, error)
}

// Transferer hands a conversation to another agent.
type Transferer interface {
	Transfer(ctx context.Context, tc *core.TurnContext, from, to string) (*transfer.Handoff, error)
}

// Delegator runs the delegations issued in one step and joins over them.
type Delegator interface {
	DelegateAll(ctx context.Context, reqs []delegation.Request) []delegation.Result
}

// Result summarizes an executed turn.
type Result struct {
	Success      bool
	Iterations   int
	FinalAgentID string
	// Text is the final answer of FinalAgentID.
	Text      string
	Transfers int
	Artifacts []core.Artifact
}

// Options configures an Executor.
type Options struct {
	Retry     retry.Policy
	Functions FunctionExecutorConfig
	Logger    logging.Logger
	Metrics   *metrics.Collector
	Tracer    trace.Tracer
}

// ExecuteOptions configures one Execute call.
type ExecuteOptions struct {
	// Ephemeral runs a delegated sub-turn: history is kept in memory only,
	// starts from the incoming message and no transfer tools are offered.
	Ephemeral bool
}

// Executor runs turns. It is safe for concurrent use by independent turns.
type Executor struct {
	graphs      graph.Source
	agents      AgentSource
	history     History
	transfers   Transferer
	delegations Delegator
	functions   *functionExecutor
	opts        Options
}

// NewExecutor creates a turn executor. transfers and delegations may be nil,
// in which case the corresponding calls are answered with an error.
func NewExecutor(graphs graph.Source, agents AgentSource, history History, transfers Transferer, delegations Delegator, optFns ...func(o *Options)) *Executor {
	opts := Options{
		Retry:  retry.DefaultPolicy(),
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/visioninhope/agents-sub013/turn")
	}

	return &Executor{
		graphs:      graphs,
		agents:      agents,
		history:     history,
		transfers:   transfers,
		delegations: delegations,
		functions:   newFunctionExecutor(opts.Functions, logging.Wrap(opts.Logger).WithComponent("turn")),
		opts:        opts,
	}
}

// Execute runs the turn of tc starting with agentID, answering message.
// Every frame is written to sink in order; the sink is not closed. A non-nil
// error ends the turn; frames already written stay written.
func (e *Executor) Execute(ctx context.Context, tc *core.TurnContext, agentID string, message core.Content, sink stream.Sink, optFns ...func(o *ExecuteOptions)) (Result, error) {
	var xo ExecuteOptions
	for _, fn := range optFns {
		fn(&xo)
	}

	g, err := e.graphs.Graph(tc.Scope().GraphID)
	if err != nil {
		return Result{FinalAgentID: agentID}, err
	}

	ctx = core.WithTurn(ctx, tc)
	ctx, span := e.opts.Tracer.Start(ctx, "turn.execute", trace.WithAttributes(
		attribute.String("graph.id", g.ID()),
		attribute.String("conversation.id", tc.ConversationID()),
		attribute.String("turn.id", tc.TurnID),
		attribute.String("agent.id", agentID),
		attribute.Int("turn.depth", tc.Depth),
		attribute.Bool("turn.ephemeral", xo.Ephemeral),
	))
	defer span.End()

	r := &run{
		Executor:  e,
		g:         g,
		tc:        tc,
		sink:      sink,
		ephemeral: xo.Ephemeral,
		log:       logging.Wrap(tc.Logger()).WithComponent("turn"),
	}

	start := time.Now()
	res, err := r.execute(ctx, agentID, message)

	if err != nil {
		tc.Record(core.EventError, res.FinalAgentID, map[string]any{"code": core.ErrorCode(err)})
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(
		attribute.Int("turn.iterations", res.Iterations),
		attribute.String("turn.final_agent", res.FinalAgentID),
	)
	r.log.LogTurn(res.FinalAgentID, res.Iterations, time.Since(start), err)

	return res, err
}

// run is the state of one Execute call.
type run struct {
	*Executor
	g         *graph.Graph
	tc        *core.TurnContext
	sink      stream.Sink
	ephemeral bool
	log       *logging.StructuredLogger

	contents []core.Content
	res      Result
}

func (r *run) execute(ctx context.Context, agentID string, message core.Content) (Result, error) {
	r.res.FinalAgentID = agentID

	a, err := r.agents.Agent(r.g.ID(), agentID)
	if err != nil {
		return r.res, fmt.Errorf("resolve agent %s: %w", agentID, err)
	}

	if err := r.start(ctx, agentID, message); err != nil {
		return r.res, err
	}

	if err := r.sink.Write(stream.RoleFrame(a.ID())); err != nil {
		return r.res, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return r.res, err
		}

		limits := r.g.EffectiveLimits(a.ID())
		if err := r.tc.Limiter.Step(a.ID(), limits.MaxSteps); err != nil {
			return r.res, err
		}
		r.res.Iterations++
		r.opts.Metrics.IncStep(r.g.ID(), a.ID())

		instructions, err := a.ResolveInstructions(ctx, r.tc)
		if err != nil {
			return r.res, err
		}

		ts := buildToolset(r.g, a, !r.ephemeral)
		req := model.Request{
			Instructions: instructions,
			Contents:     window(r.contents, a.MaxHistoryMessages()),
			Tools:        ts.definitions(),
			Stream:       a.Streaming(),
		}

		r.log.Debug("turn.step.start", "agent", a.ID(), "step", r.res.Iterations, "history", len(req.Contents), "tools", len(req.Tools))

		resp, err := r.generate(ctx, a, req, limits.ModelTimeout)
		if err != nil {
			return r.res, err
		}

		content := resp.Content
		content.Role = core.RoleAssistant
		calls := content.FunctionCalls()

		if !content.IsEmpty() {
			if err := r.append(ctx, a.ID(), content); err != nil {
				return r.res, err
			}
		}
		r.tc.Record(core.EventGeneration, a.ID(), map[string]any{
			"step":          r.res.Iterations,
			"finish_reason": resp.FinishReason,
			"tool_calls":    len(calls),
		})

		if len(calls) == 0 {
			r.res.Success = true
			r.res.Text = content.Text()
			if err := r.sink.Write(stream.Operation(a.ID(), stream.OpCompletion, map[string]any{"iterations": r.res.Iterations})); err != nil {
				return r.res, err
			}
			return r.res, nil
		}

		next, err := r.handleCalls(ctx, a, ts, calls)
		if err != nil {
			return r.res, err
		}
		if next != nil {
			a = next
			r.res.FinalAgentID = a.ID()
		}
	}
}

// start seeds the history: delegated sub-turns begin with the task message
// alone, user turns persist the message and load the stored history.
func (r *run) start(ctx context.Context, agentID string, message core.Content) error {
	if r.ephemeral {
		if !message.IsEmpty() {
			r.contents = append(r.contents, message)
		}
		return nil
	}

	if !message.IsEmpty() {
		msg := core.NewMessage(r.tc.ConversationID(), "", message)
		if r.tc.MessageID != "" {
			msg.ID = r.tc.MessageID
		}
		if err := r.history.AppendMessage(ctx, msg); err != nil {
			return fmt.Errorf("persist user message: %w", err)
		}
	}

	msgs, err := r.history.ListMessages(ctx, r.tc.ConversationID(), 0)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	r.contents = core.Contents(msgs)
	r.log.Debug("turn.history.loaded", "agent", agentID, "messages", len(msgs))

	return nil
}

// append records content in the turn's history and, for user turns, in the
// conversation store.
func (r *run) append(ctx context.Context, agentID string, content core.Content) error {
	r.contents = append(r.contents, content)
	if r.ephemeral {
		return nil
	}
	if err := r.history.AppendMessage(ctx, core.NewMessage(r.tc.ConversationID(), agentID, content)); err != nil {
		return fmt.Errorf("persist %s message: %w", content.Role, err)
	}
	return nil
}

// generate calls the model with retry and streams its text. A failed attempt
// is retried only while no text of it reached the sink.
func (r *run) generate(ctx context.Context, a *agent.Agent, req model.Request, timeout time.Duration) (model.Response, error) {
	policy := r.opts.Retry
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		r.opts.Metrics.IncModelRetry(a.ID())
		r.log.Warn("turn.model.retry", "agent", a.ID(), "attempt", attempt, "delay_ms", delay.Milliseconds(), "error", err)
	}

	var (
		resp    model.Response
		emitted bool
	)
	start := time.Now()
	attempts, err := retry.Do(ctx, policy, func(ctx context.Context, _ int) error {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		streamed := false
		out, err := model.Collect(ctx, a.Model(), req, func(text string) error {
			if err := r.sink.Write(stream.TextDelta(a.ID(), text)); err != nil {
				return err
			}
			streamed, emitted = true, true
			return nil
		})
		if err != nil {
			var swErr *core.StreamWriteError
			if emitted || errors.As(err, &swErr) {
				return retry.Permanent(err)
			}
			return err
		}

		if text := out.Content.Text(); !streamed && text != "" {
			if err := r.sink.Write(stream.TextDelta(a.ID(), text)); err != nil {
				return retry.Permanent(err)
			}
		}
		resp = out
		return nil
	})

	r.log.LogModelCall(a.ID(), a.Model().Info().Name, attempts, time.Since(start), err)

	if err != nil {
		var swErr *core.StreamWriteError
		switch {
		case ctx.Err() != nil:
			return model.Response{}, ctx.Err()
		case errors.As(err, &swErr):
			return model.Response{}, err
		default:
			return model.Response{}, &core.ModelInvocationError{AgentID: a.ID(), Attempts: attempts, Err: err}
		}
	}

	return resp, nil
}

// handleCalls answers every function call of one step. Delegations run
// together through the delegator, other tools through the function executor.
// When a tool requested a transfer the new active agent is returned.
func (r *run) handleCalls(ctx context.Context, a *agent.Agent, ts *toolset, calls []core.FunctionCall) (*agent.Agent, error) {
	responses := make([]core.FunctionResponse, len(calls))

	var (
		reqs     []delegation.Request
		reqIdx   []int
		plain    []core.FunctionCall
		plainIdx []int
		target   string
	)
	transferAt := -1

	for i, fc := range calls {
		r.tc.Record(core.EventToolCall, a.ID(), map[string]any{"tool": fc.Name, "call_id": fc.ID})

		dt, ok := ts.delegates[fc.Name]
		if !ok {
			plain = append(plain, fc)
			plainIdx = append(plainIdx, i)
			continue
		}

		args, err := agent.DecodeArguments(fc.Arguments)
		var desc string
		if err == nil {
			desc, err = dt.TaskDescription(args)
		}
		if err != nil {
			responses[i] = core.FunctionResponse{ID: fc.ID, Name: fc.Name, Error: err.Error()}
			continue
		}
		reqs = append(reqs, delegation.Request{
			FromAgentID:    a.ID(),
			ToAgentID:      dt.Target(),
			Description:    desc,
			CallID:         fc.ID,
			ConversationID: r.tc.ConversationID(),
			MessageID:      r.tc.MessageID,
			Scope:          r.tc.Scope(),
		})
		reqIdx = append(reqIdx, i)
	}

	if len(reqs) > 0 {
		if err := r.delegate(ctx, a, calls, reqs, reqIdx, responses); err != nil {
			return nil, err
		}
	}

	for _, i := range plainIdx {
		if _, isTransfer := ts.transfers[calls[i].Name]; isTransfer {
			continue
		}
		if err := r.sink.Write(stream.Operation(a.ID(), stream.OpToolCall, map[string]any{"tool": calls[i].Name, "callId": calls[i].ID})); err != nil {
			return nil, err
		}
	}

	outcomes := r.functions.Execute(ctx, r.tc, a.ID(), ts.byName, a.ToolTimeout(), plain)
	for k, out := range outcomes {
		i := plainIdx[k]
		responses[i] = out.Response

		for _, art := range out.Actions.Artifacts {
			r.res.Artifacts = append(r.res.Artifacts, art)
			if err := r.sink.Write(stream.Artifact(a.ID(), art.ID, map[string]any{"name": art.Name, "data": art.Payload})); err != nil {
				return nil, err
			}
		}

		if to := out.Actions.TransferToAgent; to != "" {
			switch {
			case r.ephemeral:
				responses[i] = core.FunctionResponse{ID: out.Call.ID, Name: out.Call.Name, Error: "transfers are not available while working on a delegated task"}
			case transferAt >= 0:
				responses[i] = core.FunctionResponse{ID: out.Call.ID, Name: out.Call.Name, Error: fmt.Sprintf("ignored: the conversation is already being handed to %s", target)}
			default:
				transferAt, target = i, to
			}
		}

		if _, isTransfer := ts.transfers[out.Call.Name]; !isTransfer {
			details := map[string]any{"tool": out.Call.Name, "callId": out.Call.ID, "durationMs": out.Duration.Milliseconds()}
			if out.failed() {
				details["error"] = true
			}
			if err := r.sink.Write(stream.Operation(a.ID(), stream.OpToolResult, details)); err != nil {
				return nil, err
			}
		}
	}

	parts := make([]core.Part, len(responses))
	for i, resp := range responses {
		parts[i] = core.FunctionResponsePart{FunctionResponse: resp}
		r.tc.Record(core.EventToolResult, a.ID(), map[string]any{"tool": resp.Name, "call_id": resp.ID, "error": resp.Error != ""})
	}
	if err := r.append(ctx, a.ID(), core.Content{Role: core.RoleTool, Parts: parts}); err != nil {
		return nil, err
	}

	if transferAt < 0 {
		return nil, nil
	}
	return r.transfer(ctx, a, target)
}

// delegate fans the delegations of one step out and writes their results
// into responses.
func (r *run) delegate(ctx context.Context, a *agent.Agent, calls []core.FunctionCall, reqs []delegation.Request, idx []int, responses []core.FunctionResponse) error {
	if r.delegations == nil {
		for _, i := range idx {
			responses[i] = core.FunctionResponse{ID: calls[i].ID, Name: calls[i].Name, Error: "delegation is not available"}
		}
		return nil
	}

	for _, req := range reqs {
		if err := r.sink.Write(stream.Operation(a.ID(), stream.OpDelegationSent, map[string]any{"agent": req.ToAgentID, "callId": req.CallID})); err != nil {
			return err
		}
	}

	results := r.delegations.DelegateAll(ctx, reqs)

	for k, res := range results {
		fc := calls[idx[k]]
		resp := core.FunctionResponse{ID: fc.ID, Name: fc.Name, Response: res.ToolOutput()}
		if res.Err != nil {
			resp.Error = res.Err.Error()
		}
		responses[idx[k]] = resp

		details := map[string]any{"agent": res.AgentID, "callId": res.CallID, "taskId": res.TaskID, "status": string(res.Status)}
		if res.Err != nil {
			details["code"] = core.ErrorCode(res.Err)
		}
		if err := r.sink.Write(stream.Operation(a.ID(), stream.OpDelegationReturned, details)); err != nil {
			return err
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

// transfer moves the conversation to target and continues with its agent on
// the full history.
func (r *run) transfer(ctx context.Context, from *agent.Agent, target string) (*agent.Agent, error) {
	if r.transfers == nil {
		return nil, &core.ConfigurationError{GraphID: r.g.ID(), AgentID: from.ID(), Reason: "transfers are not configured"}
	}

	limits := r.g.EffectiveLimits(from.ID())
	if err := r.tc.Limiter.CheckTransfer(from.ID(), limits.MaxTransfers); err != nil {
		return nil, err
	}

	next, err := r.agents.Agent(r.g.ID(), target)
	if err != nil {
		return nil, fmt.Errorf("resolve transfer target %s: %w", target, err)
	}

	handoff, err := r.transfers.Transfer(ctx, r.tc, from.ID(), target)
	if err != nil {
		return nil, err
	}
	if err := r.tc.Limiter.Transfer(from.ID(), limits.MaxTransfers); err != nil {
		return nil, err
	}
	r.contents = core.Contents(handoff.History)
	r.res.Transfers++

	if err := r.sink.Write(stream.Operation(from.ID(), stream.OpTransfer, map[string]any{"from": from.ID(), "to": target})); err != nil {
		return nil, err
	}
	if err := r.sink.Write(stream.RoleFrame(target)); err != nil {
		return nil, err
	}

	r.log.Info("turn.transfer", "from", from.ID(), "to", target, "history", len(r.contents))

	return next, nil
}

// window keeps the last n contents (all when n <= 0) without starting on a
// tool response whose call was cut off.
func window(contents []core.Content, n int) []core.Content {
	if n > 0 && len(contents) > n {
		contents = contents[len(contents)-n:]
	}
	for len(contents) > 0 && contents[0].Role == core.RoleTool {
		contents = contents[1:]
	}
	return contents
}

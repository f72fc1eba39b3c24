package turn

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/visioninhope/agents-sub013/agent"
	"github.com/visioninhope/agents-sub013/core"
	"github.com/visioninhope/agents-sub013/logging"
	"github.com/visioninhope/agents-sub013/tool"
)

// FunctionExecutorConfig configures the parallel function executor.
type FunctionExecutorConfig struct {
	MaxParallel    int  // 0 or <1 => no explicit limit (len(calls))
	LogStartEvents bool // log a start line per function
}

// callOutcome is the answer to one function call together with the actions
// the tool raised.
type callOutcome struct {
	Call     core.FunctionCall
	Response core.FunctionResponse
	Actions  core.ToolActions
	Duration time.Duration
}

// failed reports whether the call ended in an error.
func (o callOutcome) failed() bool { return o.Response.Error != "" }

// functionExecutor runs the plain tool calls of one model step. It never
// panics, answers every call exactly once and keeps call order.
type functionExecutor struct {
	cfg    FunctionExecutorConfig
	logger logging.Logger
}

func newFunctionExecutor(cfg FunctionExecutorConfig, logger logging.Logger) *functionExecutor {
	return &functionExecutor{cfg: cfg, logger: logging.OrNoOp(logger)}
}

// Execute runs calls with bounded parallelism. Calls not started before ctx
// ends are answered with the context error.
func (e *functionExecutor) Execute(
	ctx context.Context,
	tc *core.TurnContext,
	agentID string,
	tools map[string]tool.Tool,
	timeout time.Duration,
	calls []core.FunctionCall,
) []callOutcome {
	n := len(calls)
	out := make([]callOutcome, n)
	if n == 0 {
		return out
	}

	// Fast path: single call, execute inline.
	if n == 1 {
		out[0] = e.executeOne(ctx, tc, agentID, tools, timeout, calls[0])
		return out
	}

	maxPar := e.cfg.MaxParallel
	if maxPar <= 0 || maxPar > n {
		maxPar = n
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, maxPar)

	batchStart := time.Now()
	for i := range calls {
		if ctx.Err() != nil {
			out[i] = canceled(calls[i], ctx.Err())
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(idx int, fc core.FunctionCall) {
			defer wg.Done()
			defer func() { <-sem }()

			if ctx.Err() != nil {
				out[idx] = canceled(fc, ctx.Err())
				return
			}
			out[idx] = e.executeOne(ctx, tc, agentID, tools, timeout, fc)
		}(i, calls[i])
	}

	wg.Wait()

	e.logger.Debug(
		"turn.functions.batch.complete",
		"agent", agentID,
		"count", n,
		"parallelism", maxPar,
		"duration_ms", time.Since(batchStart).Milliseconds(),
	)

	return out
}

func (e *functionExecutor) executeOne(
	ctx context.Context,
	tc *core.TurnContext,
	agentID string,
	tools map[string]tool.Tool,
	timeout time.Duration,
	fc core.FunctionCall,
) callOutcome {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	toolCtx := core.NewToolContext(ctx, tc, agentID, fc.ID)
	if e.cfg.LogStartEvents {
		e.logger.Info("turn.function.start", "agent", agentID, "function", fc.Name, "function_call_id", fc.ID)
	}

	start := time.Now()
	var (
		result any
		err    error
	)
	func() { // panic safety
		defer func() {
			if r := recover(); r != nil {
				err = panicError(fc.Name, r)
				e.logger.Error("turn.function.panic", "agent", agentID, "function", fc.Name, "recover", r, "stack", string(debug.Stack()))
			}
		}()
		result, err = executeTool(tools, toolCtx, fc.Name, fc.Arguments)
	}()
	dur := time.Since(start)

	if err != nil && timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = &tool.ToolError{Tool: fc.Name, Message: fmt.Sprintf("timed out after %s", timeout), Code: tool.CodeExecution, Details: err.Error()}
	}

	e.logger.Info(
		"turn.function.executed",
		"agent", agentID,
		"function", fc.Name,
		"duration_ms", dur.Milliseconds(),
		"error", err != nil,
	)

	resp := core.FunctionResponse{ID: fc.ID, Name: fc.Name, Response: result}
	if err != nil {
		resp.Response = nil
		resp.Error = err.Error()
	}

	return callOutcome{Call: fc, Response: resp, Actions: toolCtx.Actions(), Duration: dur}
}

func canceled(fc core.FunctionCall, err error) callOutcome {
	return callOutcome{Call: fc, Response: core.FunctionResponse{ID: fc.ID, Name: fc.Name, Error: err.Error()}}
}

// panicError converts a recovered panic value to a tool error.
func panicError(name string, r any) error {
	return &tool.ToolError{Tool: name, Message: fmt.Sprintf("panic recovered: %v", r), Code: tool.CodePanic}
}

// executeTool centralizes tool lookup & execution.
func executeTool(tools map[string]tool.Tool, toolCtx *core.ToolContext, name, args string) (any, error) {
	impl, ok := tools[name]
	if !ok {
		return nil, tool.NewToolError(name, "tool not found", tool.CodeNotFound)
	}

	argMap, err := agent.DecodeArguments(args)
	if err != nil {
		return nil, &tool.ToolError{Tool: name, Message: err.Error(), Code: tool.CodeValidation}
	}

	return impl.Call(toolCtx, argMap)
}

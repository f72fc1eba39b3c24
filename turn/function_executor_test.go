package turn

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visioninhope/agents-sub013/core"
	"github.com/visioninhope/agents-sub013/tool"
)

func testTurn() *core.TurnContext {
	return core.NewTurnContext(&core.Conversation{ID: "conv"}, "msg", nil, nil)
}

func toolMap(tools ...tool.Tool) map[string]tool.Tool {
	m := make(map[string]tool.Tool, len(tools))
	for _, t := range tools {
		m[t.Name()] = t
	}
	return m
}

func TestFunctionExecutorPreservesOrder(t *testing.T) {
	echo := tool.NewFunctionTool("echo", "", nil, func(_ *core.ToolContext, args map[string]any) (any, error) {
		if d, ok := args["delay"].(float64); ok {
			time.Sleep(time.Duration(d) * time.Millisecond)
		}
		return args["v"], nil
	})

	calls := []core.FunctionCall{
		{ID: "1", Name: "echo", Arguments: `{"v":"a","delay":30}`},
		{ID: "2", Name: "echo", Arguments: `{"v":"b","delay":10}`},
		{ID: "3", Name: "echo", Arguments: `{"v":"c"}`},
	}

	out := newFunctionExecutor(FunctionExecutorConfig{}, nil).Execute(context.Background(), testTurn(), "a", toolMap(echo), 0, calls)
	require.Len(t, out, 3)
	for i, want := range []string{"a", "b", "c"} {
		assert.Equal(t, calls[i].ID, out[i].Response.ID)
		assert.Equal(t, want, out[i].Response.Response)
		assert.False(t, out[i].failed())
	}
}

func TestFunctionExecutorBoundsParallelism(t *testing.T) {
	var running, peak atomic.Int32
	slow := tool.NewFunctionTool("slow", "", nil, func(*core.ToolContext, map[string]any) (any, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		return "ok", nil
	})

	calls := make([]core.FunctionCall, 6)
	for i := range calls {
		calls[i] = core.FunctionCall{ID: string(rune('a' + i)), Name: "slow"}
	}

	out := newFunctionExecutor(FunctionExecutorConfig{MaxParallel: 2}, nil).Execute(context.Background(), testTurn(), "a", toolMap(slow), 0, calls)
	require.Len(t, out, 6)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestFunctionExecutorErrors(t *testing.T) {
	boom := tool.NewFunctionTool("boom", "", nil, func(*core.ToolContext, map[string]any) (any, error) {
		panic("kaboom")
	})
	fail := tool.NewFunctionTool("fail", "", nil, func(*core.ToolContext, map[string]any) (any, error) {
		return nil, errors.New("nope")
	})

	tests := []struct {
		name string
		call core.FunctionCall
		want string
	}{
		{"panic", core.FunctionCall{ID: "1", Name: "boom"}, tool.CodePanic},
		{"unknown tool", core.FunctionCall{ID: "2", Name: "missing"}, tool.CodeNotFound},
		{"bad arguments", core.FunctionCall{ID: "3", Name: "fail", Arguments: "{not json"}, tool.CodeValidation},
		{"tool error", core.FunctionCall{ID: "4", Name: "fail"}, "nope"},
	}

	exec := newFunctionExecutor(FunctionExecutorConfig{LogStartEvents: true}, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := exec.Execute(context.Background(), testTurn(), "a", toolMap(boom, fail), 0, []core.FunctionCall{tt.call})
			require.Len(t, out, 1)
			assert.True(t, out[0].failed())
			assert.Nil(t, out[0].Response.Response)
			assert.Contains(t, out[0].Response.Error, tt.want)
		})
	}
}

func TestFunctionExecutorTimeout(t *testing.T) {
	hang := tool.NewFunctionTool("hang", "", nil, func(tc *core.ToolContext, _ map[string]any) (any, error) {
		<-tc.Context().Done()
		return nil, tc.Context().Err()
	})

	out := newFunctionExecutor(FunctionExecutorConfig{}, nil).Execute(context.Background(), testTurn(), "a", toolMap(hang), 20*time.Millisecond,
		[]core.FunctionCall{{ID: "1", Name: "hang"}})
	require.Len(t, out, 1)
	assert.Contains(t, out[0].Response.Error, "timed out after 20ms")
}

func TestFunctionExecutorCanceledBeforeStart(t *testing.T) {
	var calls atomic.Int32
	count := tool.NewFunctionTool("count", "", nil, func(*core.ToolContext, map[string]any) (any, error) {
		calls.Add(1)
		return nil, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := newFunctionExecutor(FunctionExecutorConfig{}, nil).Execute(ctx, testTurn(), "a", toolMap(count), 0,
		[]core.FunctionCall{{ID: "1", Name: "count"}, {ID: "2", Name: "count"}})
	require.Len(t, out, 2)
	for _, o := range out {
		assert.Equal(t, context.Canceled.Error(), o.Response.Error)
	}
	assert.Zero(t, calls.Load())
}

func TestFunctionExecutorCollectsActions(t *testing.T) {
	emit := tool.NewFunctionTool("emit", "", nil, func(tc *core.ToolContext, _ map[string]any) (any, error) {
		tc.EmitArtifact("chart", map[string]any{"points": 3})
		return "done", nil
	})

	out := newFunctionExecutor(FunctionExecutorConfig{}, nil).Execute(context.Background(), testTurn(), "a", toolMap(emit), 0,
		[]core.FunctionCall{{ID: "1", Name: "emit"}})
	require.Len(t, out, 1)
	require.Len(t, out[0].Actions.Artifacts, 1)
	assert.Equal(t, "chart", out[0].Actions.Artifacts[0].Name)
}

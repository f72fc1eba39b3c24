package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visioninhope/agents-sub013/a2a"
	"github.com/visioninhope/agents-sub013/agent"
	"github.com/visioninhope/agents-sub013/core"
	"github.com/visioninhope/agents-sub013/graph"
	"github.com/visioninhope/agents-sub013/internal/retry"
	"github.com/visioninhope/agents-sub013/internal/testutil"
	"github.com/visioninhope/agents-sub013/model"
	"github.com/visioninhope/agents-sub013/status"
	"github.com/visioninhope/agents-sub013/stream"
)

// syncBuffer is a bytes.Buffer safe for the status reporter and the
// executor writing concurrently through one stream.Writer.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// decode parses an SSE body into frames and reports whether it ended with
// the terminator.
func decode(t *testing.T, body string) ([]stream.Frame, bool) {
	t.Helper()

	var (
		frames     []stream.Frame
		terminated bool
	)
	for _, chunk := range strings.Split(body, "\n\n") {
		if chunk == "" {
			continue
		}
		payload := strings.TrimPrefix(chunk, "data: ")
		if payload == "[DONE]" {
			terminated = true
			continue
		}
		var f stream.Frame
		require.NoError(t, json.Unmarshal([]byte(payload), &f), payload)
		frames = append(frames, f)
	}
	return frames, terminated
}

func types(frames []stream.Frame) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = string(f.Type)
		if op := f.Operation(); op != "" {
			out[i] += ":" + op
		}
	}
	return out
}

func fastRetry(o *Options) {
	o.Retry = retry.Policy{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func newRunner(t *testing.T, b *testutil.GraphBuilder, agents map[string]model.Model, optFns ...func(o *Options)) (*Runner, *graph.Graph) {
	t.Helper()

	g := b.Build(t)
	reg := agent.NewRegistry()
	list := make([]*agent.Agent, 0, len(agents))
	for id, m := range agents {
		list = append(list, agent.New(id, m))
	}
	reg.Add(g.ID(), list...)

	return New(graph.NewRegistry(g), reg, append([]func(o *Options){fastRetry}, optFns...)...), g
}

func chat(g *graph.Graph, convID, text string) ChatRequest {
	return ChatRequest{
		Scope:          g.Scope(),
		ConversationID: convID,
		Message:        core.NewTextContent(core.RoleUser, text),
		Headers:        http.Header{},
	}
}

func TestRunStreamsTurn(t *testing.T) {
	llm := testutil.NewScriptedModel("m", testutil.Stream("Hello", " there"))
	r, g := newRunner(t, testutil.NewGraph("g", "router").Agent("router"), map[string]model.Model{"router": llm})

	var buf syncBuffer
	res, err := r.Run(context.Background(), chat(g, "conv-1", "hi"), stream.NewWriter(&buf))
	require.NoError(t, err)
	assert.Equal(t, "Hello there", res.Text)

	frames, terminated := decode(t, buf.String())
	assert.True(t, terminated)
	assert.Equal(t, []string{
		"role",
		"text-delta",
		"text-delta",
		"text-delta",
		"data-operation:completion",
		"done",
	}, types(frames))
	assert.Equal(t, "\n", frames[3].Delta)
	assert.Empty(t, r.Active())
}

func TestRunPersistsDefaultAgent(t *testing.T) {
	llm := testutil.NewScriptedModel("m", testutil.Text("ok"))
	r, g := newRunner(t, testutil.NewGraph("g", "router").Agent("router"), map[string]model.Model{"router": llm})

	_, err := r.Run(context.Background(), chat(g, "conv-new", "hi"), stream.NewCollector())
	require.NoError(t, err)

	conv, err := r.Store().GetConversation(context.Background(), "conv-new")
	require.NoError(t, err)
	assert.Equal(t, "router", conv.ActiveAgentID)
	assert.Equal(t, g.Scope(), conv.Scope)
}

func TestRunGeneratesConversationID(t *testing.T) {
	llm := testutil.NewScriptedModel("m", testutil.Text("ok"))
	r, g := newRunner(t, testutil.NewGraph("g", "router").Agent("router"), map[string]model.Model{"router": llm})

	_, err := r.Run(context.Background(), chat(g, "", "hi"), stream.NewCollector())
	require.NoError(t, err)

	msgs := llm.Requests()[0].Contents
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Text())
}

func TestRunRejectsMissingHeaderBeforeAnyAgentRuns(t *testing.T) {
	llm := testutil.NewScriptedModel("m", testutil.Text("never"))
	b := testutil.NewGraph("g", "router").Agent("router").Context(graph.ContextDefinition{
		HeadersSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"x-user-id": map[string]any{"type": "string"}},
			"required":   []any{"x-user-id"},
		},
	})
	r, g := newRunner(t, b, map[string]model.Model{"router": llm})

	var buf syncBuffer
	_, err := r.Run(context.Background(), chat(g, "conv-h", "hi"), stream.NewWriter(&buf))

	var ctxErr *core.ContextValidationError
	require.ErrorAs(t, err, &ctxErr)
	assert.Equal(t, 0, llm.Calls())

	frames, terminated := decode(t, buf.String())
	assert.True(t, terminated)
	require.Equal(t, []string{"error", "done"}, types(frames))
	assert.Equal(t, core.CodeContextValidation, frames[0].Code)
}

func TestRunRejectsDefaultConversationID(t *testing.T) {
	llm := testutil.NewScriptedModel("m", testutil.Text("never"))
	r, g := newRunner(t, testutil.NewGraph("g", "router").Agent("router"), map[string]model.Model{"router": llm})

	sink := stream.NewCollector()
	_, err := r.Run(context.Background(), chat(g, "default", "hi"), sink)
	require.ErrorIs(t, err, core.ErrUnresolvedContextID)
	assert.Equal(t, 0, llm.Calls())
	assert.Equal(t, stream.FrameError, sink.Frames()[0].Type)
}

func TestRunDelegationGeneratesNumber(t *testing.T) {
	mathLLM := testutil.NewScriptedModel("math",
		testutil.Call("delegate_to_gen", `{"description":"Generate a number"}`),
		testutil.Text("Your number is 42"),
	)
	genLLM := testutil.NewScriptedModel("gen")
	genLLM.Respond = func(req model.Request) testutil.Step {
		if req.Contents[0].Text() == "Generate a number" {
			return testutil.Text("42")
		}
		return testutil.Text("no")
	}

	b := testutil.NewGraph("g", "math").Agent("math").Agent("gen").Delegates("math", "gen")
	r, g := newRunner(t, b, map[string]model.Model{"math": mathLLM, "gen": genLLM})

	res, err := r.Run(context.Background(), chat(g, "conv-d", "number please"), stream.NewCollector())
	require.NoError(t, err)
	assert.Equal(t, "Your number is 42", res.Text)

	tasks, err := r.Store().ListTasks(context.Background(), "conv-d")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, core.TaskCompleted, tasks[0].Status)
	assert.Equal(t, "42", tasks[0].Result)
	assert.Equal(t, "conv-d", tasks[0].ContextID)
	assert.NotEqual(t, "default", tasks[0].ContextID)
}

func TestRunEmitsStatusUpdates(t *testing.T) {
	echo := testutil.NewScriptedModel("m",
		testutil.Call("delegate_to_helper", `{"description":"look something up"}`),
		testutil.Text("done"),
	)
	helper := testutil.NewScriptedModel("helper", testutil.Text("found it"))

	b := testutil.NewGraph("g", "main").
		Agent("main").Agent("helper").
		Delegates("main", "helper").
		StatusUpdates(graph.StatusUpdates{NumEvents: 2})

	var (
		mu      sync.Mutex
		digests [][]string
	)
	summarizer := status.SummarizerFunc(func(_ context.Context, _ string, d []string) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		digests = append(digests, d)
		return "Still working on it", nil
	})
	r, g := newRunner(t, b, map[string]model.Model{"main": echo, "helper": helper}, func(o *Options) { o.Summarizer = summarizer })

	sink := stream.NewCollector()
	_, err := r.Run(context.Background(), chat(g, "conv-s", "go"), sink)
	require.NoError(t, err)

	var updates int
	for _, f := range sink.Frames() {
		if f.Type == stream.FrameStatusUpdate {
			updates++
			assert.Equal(t, "Still working on it", f.Data["summary"])
		}
	}
	assert.GreaterOrEqual(t, updates, 1)

	mu.Lock()
	defer mu.Unlock()
	for _, window := range digests {
		for _, d := range window {
			assert.NotContains(t, d, "helper")
		}
	}
}

func TestCancelStopsTurn(t *testing.T) {
	llm := testutil.NewScriptedModel("m", testutil.Block())
	r, g := newRunner(t, testutil.NewGraph("g", "router").Agent("router"), map[string]model.Model{"router": llm})

	req := chat(g, "conv-c", "hi")
	req.TurnID = "turn-1"

	var buf syncBuffer
	errCh := make(chan error, 1)
	go func() {
		_, err := r.Run(context.Background(), req, stream.NewWriter(&buf))
		errCh <- err
	}()

	require.Eventually(t, func() bool { return r.Cancel("turn-1") == nil }, 2*time.Second, 5*time.Millisecond)

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("turn did not stop")
	}

	frames, terminated := decode(t, buf.String())
	assert.True(t, terminated)
	got := types(frames)
	assert.Equal(t, []string{"role", "error", "done"}, got)
	assert.Equal(t, core.CodeCanceled, frames[1].Code)

	require.ErrorIs(t, r.Cancel("turn-1"), ErrTurnNotFound)
}

func TestHandleDelegationRemote(t *testing.T) {
	gen := testutil.NewScriptedModel("gen", testutil.Text("42"))
	b := testutil.NewGraph("g", "math").Agent("math").Agent("gen").Delegates("math", "gen")
	r, _ := newRunner(t, b, map[string]model.Model{"math": testutil.NewScriptedModel("math"), "gen": gen})

	msg := a2a.NewTaskMessage("conv-remote", "g", "math", "gen", "task-1", "Generate a number")
	reply, err := r.HandleDelegation(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, "42", reply.Text())
	assert.Equal(t, "conv-remote", reply.ContextID)
	assert.Equal(t, a2a.RoleAgent, reply.Role)
}

func TestHandleDelegationRejectsUndeclaredEdge(t *testing.T) {
	secret := testutil.NewScriptedModel("secret", testutil.Text("internal answer"))
	b := testutil.NewGraph("g", "math").Agent("math").Agent("gen").Agent("secret").Delegates("math", "gen")
	r, _ := newRunner(t, b, map[string]model.Model{
		"math":   testutil.NewScriptedModel("math"),
		"gen":    testutil.NewScriptedModel("gen"),
		"secret": secret,
	})

	tests := []struct {
		name     string
		from, to string
	}{
		{"undeclared target", "gen", "secret"},
		{"reverse edge", "gen", "math"},
		{"unknown agent", "math", "ghost"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.HandleDelegation(context.Background(), a2a.NewTaskMessage("conv-remote", "g", tt.from, tt.to, "task-1", "x"))
			var cfgErr *core.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, "g", cfgErr.GraphID)
		})
	}
	assert.Equal(t, 0, secret.Calls())
}

func TestHandleDelegationRemoteDepthFromEnvelope(t *testing.T) {
	gen := testutil.NewScriptedModel("gen", testutil.Text("42"))
	b := testutil.NewGraph("g", "math").Agent("math").Agent("gen").Delegates("math", "gen")
	r, _ := newRunner(t, b, map[string]model.Model{"math": testutil.NewScriptedModel("math"), "gen": gen},
		func(o *Options) { o.MaxDelegationDepth = 2 })

	msg := a2a.NewTaskMessage("conv-remote", "g", "math", "gen", "task-1", "x")
	msg.Metadata.Depth = 3

	_, err := r.HandleDelegation(context.Background(), msg)
	var limitErr *core.LimitExceededError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, 0, gen.Calls())
}

func TestHandleDelegationDepthLimit(t *testing.T) {
	gen := testutil.NewScriptedModel("gen", testutil.Text("42"))
	b := testutil.NewGraph("g", "math").Agent("math").Agent("gen").Delegates("math", "gen")
	r, g := newRunner(t, b, map[string]model.Model{"math": testutil.NewScriptedModel("math"), "gen": gen},
		func(o *Options) { o.MaxDelegationDepth = 1 })

	parent := core.NewTurnContext(&core.Conversation{ID: "conv", Scope: g.Scope()}, "m", nil, nil)
	parent.Depth = 1
	ctx := core.WithTurn(context.Background(), parent)

	_, err := r.HandleDelegation(ctx, a2a.NewTaskMessage("conv", "g", "math", "gen", "task-1", "x"))
	var limitErr *core.LimitExceededError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, 0, gen.Calls())
}

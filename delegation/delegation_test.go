package delegation

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/visioninhope/agents-sub013/a2a"
	"github.com/visioninhope/agents-sub013/core"
	"github.com/visioninhope/agents-sub013/graph"
	"github.com/visioninhope/agents-sub013/store/memory"
)

var scope = core.Scope{TenantID: "t", ProjectID: "p", GraphID: "g"}

func newGraphs(t *testing.T) *graph.Registry {
	t.Helper()
	g, err := graph.Build(graph.Definition{
		ID:             "g",
		TenantID:       "t",
		ProjectID:      "p",
		DefaultAgentID: "a",
		Agents: []graph.AgentDefinition{
			{ID: "a", DelegateTargets: []string{"b", "slow"}, Limits: graph.Limits{DelegationTimeout: 100 * time.Millisecond}},
			{ID: "b"},
			{ID: "slow"},
		},
	})
	require.NoError(t, err)
	return graph.NewRegistry(g)
}

func turnContext(convID string) *core.TurnContext {
	conv := &core.Conversation{ID: convID, Scope: scope, ActiveAgentID: "a"}
	return core.NewTurnContext(conv, "msg-1", nil, nil)
}

// scriptedHandler answers like the target agents of the test graph.
func scriptedHandler(seen *[]a2a.Message) a2a.Handler {
	return func(ctx context.Context, msg a2a.Message) (a2a.Message, error) {
		if seen != nil {
			*seen = append(*seen, msg)
		}
		switch msg.Metadata.ToAgentID {
		case "b":
			if msg.Text() == "Generate a number" {
				return a2a.NewReply(msg, "42"), nil
			}
			return a2a.Message{}, errors.New("unsupported request")
		case "slow":
			<-ctx.Done()
			return a2a.Message{}, ctx.Err()
		}
		return a2a.Message{}, errors.New("unknown agent")
	}
}

func TestDelegateCompletes(t *testing.T) {
	store := memory.New()
	var seen []a2a.Message
	c := NewCoordinator(store, a2a.NewLocalTransport(scriptedHandler(&seen)), newGraphs(t))

	tc := turnContext("conv-1")
	ctx := core.WithTurn(context.Background(), tc)

	res, err := c.Delegate(ctx, Request{FromAgentID: "a", ToAgentID: "b", Description: "Generate a number", CallID: "call-1"})
	require.NoError(t, err)
	assert.Equal(t, core.TaskCompleted, res.Status)
	assert.Equal(t, "42", res.Output)
	assert.Equal(t, "call-1", res.CallID)
	assert.Equal(t, "42", res.ToolOutput()["result"])

	task, err := store.GetTask(ctx, res.TaskID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskCompleted, task.Status)
	assert.Equal(t, "42", task.Result)
	assert.Equal(t, "conv-1", task.ContextID)
	assert.Equal(t, "b", task.AgentID)
	assert.Equal(t, "a", task.Metadata.AgentID)
	assert.Equal(t, "msg-1", task.Metadata.MessageID)
	assert.Equal(t, "g", task.Metadata.GraphID)

	require.Len(t, seen, 1)
	assert.Equal(t, "conv-1", seen[0].ContextID)
	assert.Equal(t, "Generate a number", seen[0].Parts[0].Text)
	assert.Equal(t, res.TaskID, seen[0].Metadata.TaskID)

	var types []core.EventType
	for _, ev := range tc.Events.Events() {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []core.EventType{core.EventDelegationSent, core.EventDelegationReturned}, types)
}

type mockTransport struct{ mock.Mock }

func (m *mockTransport) Send(ctx context.Context, msg a2a.Message) (a2a.Message, error) {
	args := m.Called(ctx, msg)
	return args.Get(0).(a2a.Message), args.Error(1)
}

func TestDelegateTransportFailureFailsTask(t *testing.T) {
	store := memory.New()
	transport := &mockTransport{}
	transport.On("Send", mock.Anything, mock.MatchedBy(func(msg a2a.Message) bool {
		return msg.Metadata.ToAgentID == "b" && msg.ContextID == "conv-1" && msg.Text() == "Generate a number" && msg.Metadata.Depth == 1
	})).Return(a2a.Message{}, errors.New("connection refused")).Once()

	c := NewCoordinator(store, transport, newGraphs(t))
	ctx := core.WithTurn(context.Background(), turnContext("conv-1"))

	res, err := c.Delegate(ctx, Request{FromAgentID: "a", ToAgentID: "b", Description: "Generate a number"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, core.TaskFailed, res.Status)
	transport.AssertExpectations(t)

	task, err := store.GetTask(ctx, res.TaskID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskFailed, task.Status)
	assert.Contains(t, task.Error, "connection refused")
}

func TestDelegateTimeoutFailsTask(t *testing.T) {
	store := memory.New()
	c := NewCoordinator(store, a2a.NewLocalTransport(scriptedHandler(nil)), newGraphs(t))
	ctx := core.WithTurn(context.Background(), turnContext("conv-1"))

	start := time.Now()
	res, err := c.Delegate(ctx, Request{FromAgentID: "a", ToAgentID: "slow", Description: "never ends"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	var toErr *core.DelegationTimeoutError
	require.ErrorAs(t, err, &toErr)
	assert.Equal(t, res.TaskID, toErr.TaskID)
	assert.Equal(t, "slow", toErr.AgentID)
	assert.Contains(t, res.ToolOutput()["error"], "timed out")

	task, err := store.GetTask(ctx, res.TaskID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskFailed, task.Status)
	assert.NotEmpty(t, task.Error)
}

func TestDelegateTimeoutWithHandlerIgnoringCancellation(t *testing.T) {
	store := memory.New()
	release := make(chan struct{})
	defer close(release)

	c := NewCoordinator(store, a2a.NewLocalTransport(func(ctx context.Context, msg a2a.Message) (a2a.Message, error) {
		<-release
		return a2a.NewReply(msg, "late"), nil
	}), newGraphs(t))
	ctx := core.WithTurn(context.Background(), turnContext("conv-1"))

	res, err := c.Delegate(ctx, Request{FromAgentID: "a", ToAgentID: "b", Description: "x", Timeout: 20 * time.Millisecond})
	var toErr *core.DelegationTimeoutError
	require.ErrorAs(t, err, &toErr)
	assert.Equal(t, core.TaskFailed, res.Status)
}

func TestDelegateContextIDNeverDefault(t *testing.T) {
	store := memory.New()
	var seen []a2a.Message
	c := NewCoordinator(store, a2a.NewLocalTransport(scriptedHandler(&seen)), newGraphs(t))

	// An explicit "default" falls back to the turn's real conversation id.
	ctx := core.WithTurn(context.Background(), turnContext("conv-real"))
	res, err := c.Delegate(ctx, Request{FromAgentID: "a", ToAgentID: "b", Description: "Generate a number", ConversationID: "default"})
	require.NoError(t, err)

	task, err := store.GetTask(ctx, res.TaskID)
	require.NoError(t, err)
	assert.Equal(t, "conv-real", task.ContextID)
	assert.Equal(t, "conv-real", seen[0].ContextID)

	// Without a turn there is nothing to resolve.
	res, err = c.Delegate(context.Background(), Request{FromAgentID: "a", ToAgentID: "b", Description: "x", Scope: scope})
	assert.ErrorIs(t, err, core.ErrUnresolvedContextID)
	assert.Empty(t, res.TaskID)
}

func TestDelegateRejectsUndeclaredTarget(t *testing.T) {
	c := NewCoordinator(memory.New(), a2a.NewLocalTransport(scriptedHandler(nil)), newGraphs(t))
	ctx := core.WithTurn(context.Background(), turnContext("conv-1"))

	_, err := c.Delegate(ctx, Request{FromAgentID: "b", ToAgentID: "a", Description: "x"})
	var cfgErr *core.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestDelegateAllJoinsInOrder(t *testing.T) {
	var inFlight, peak atomic.Int32
	store := memory.New()
	c := NewCoordinator(store, a2a.NewLocalTransport(func(ctx context.Context, msg a2a.Message) (a2a.Message, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		return a2a.NewReply(msg, "done: "+msg.Text()), nil
	}), newGraphs(t), func(o *Options) { o.MaxConcurrent = 2 })

	ctx := core.WithTurn(context.Background(), turnContext("conv-1"))
	reqs := []Request{
		{FromAgentID: "a", ToAgentID: "b", Description: "one", CallID: "1"},
		{FromAgentID: "a", ToAgentID: "b", Description: "two", CallID: "2"},
		{FromAgentID: "a", ToAgentID: "b", Description: "three", CallID: "3"},
		{FromAgentID: "a", ToAgentID: "ghost", Description: "four", CallID: "4"},
	}

	results := c.DelegateAll(ctx, reqs)
	require.Len(t, results, 4)
	assert.Equal(t, "done: one", results[0].Output)
	assert.Equal(t, "done: three", results[2].Output)
	assert.Equal(t, "3", results[2].CallID)
	assert.Error(t, results[3].Err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestDelegateAllParentCancellation(t *testing.T) {
	store := memory.New()
	c := NewCoordinator(store, a2a.NewLocalTransport(scriptedHandler(nil)), newGraphs(t), func(o *Options) { o.Timeout = time.Minute })

	ctx, cancel := context.WithCancel(core.WithTurn(context.Background(), turnContext("conv-1")))
	time.AfterFunc(20*time.Millisecond, cancel)

	results := c.DelegateAll(ctx, []Request{
		{FromAgentID: "a", ToAgentID: "slow", Description: "x", Timeout: time.Minute},
		{FromAgentID: "a", ToAgentID: "slow", Description: "y", Timeout: time.Minute},
	})
	for _, r := range results {
		assert.ErrorIs(t, r.Err, context.Canceled)
		assert.Equal(t, core.TaskFailed, r.Status)
	}

	tasks, err := store.ListTasks(context.Background(), "conv-1", core.TaskWorking)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestResolveContextID(t *testing.T) {
	id, err := ResolveContextID("", "default", "conv-9", "other")
	require.NoError(t, err)
	assert.Equal(t, "conv-9", id)

	_, err = ResolveContextID("default", "")
	assert.ErrorIs(t, err, core.ErrUnresolvedContextID)
}

func TestReconcile(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	for i, st := range []core.TaskStatus{core.TaskPending, core.TaskWorking, core.TaskCompleted} {
		task := &core.Task{ID: string(rune('a' + i)), ContextID: "conv-1", Status: core.TaskPending, Metadata: core.TaskMetadata{ConversationID: "conv-1"}}
		require.NoError(t, store.CreateTask(ctx, task))
		if st != core.TaskPending {
			_, err := store.TransitionTask(ctx, task.ID, core.TaskPending, core.TaskUpdate{Status: core.TaskWorking})
			require.NoError(t, err)
		}
		if st == core.TaskCompleted {
			_, err := store.TransitionTask(ctx, task.ID, core.TaskWorking, core.TaskUpdate{Status: core.TaskCompleted})
			require.NoError(t, err)
		}
	}

	c := NewCoordinator(store, a2a.NewLocalTransport(scriptedHandler(nil)), newGraphs(t))
	n, err := c.Reconcile(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	open, err := store.ListTasks(ctx, "conv-1", core.TaskPending, core.TaskWorking)
	require.NoError(t, err)
	assert.Empty(t, open)
}

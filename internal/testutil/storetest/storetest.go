// Package storetest holds the behavioural suite every core.Store backend
// must pass.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visioninhope/agents-sub013/core"
)

// Run executes the suite against stores produced by newStore. Each subtest
// gets a fresh store.
func Run(t *testing.T, newStore func(t *testing.T) core.Store) {
	t.Run("ConversationLifecycle", func(t *testing.T) { testConversationLifecycle(t, newStore(t)) })
	t.Run("ActiveAgentCAS", func(t *testing.T) { testActiveAgentCAS(t, newStore(t)) })
	t.Run("ConcurrentCAS", func(t *testing.T) { testConcurrentCAS(t, newStore(t)) })
	t.Run("Messages", func(t *testing.T) { testMessages(t, newStore(t)) })
	t.Run("TaskLifecycle", func(t *testing.T) { testTaskLifecycle(t, newStore(t)) })
	t.Run("ListTasks", func(t *testing.T) { testListTasks(t, newStore(t)) })
}

func newConversation(id string) *core.Conversation {
	return &core.Conversation{
		ID:            id,
		Scope:         core.Scope{TenantID: "t", ProjectID: "p", GraphID: "g"},
		ActiveAgentID: "router",
	}
}

func newTask(id, conversationID string) *core.Task {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &core.Task{
		ID:        id,
		Scope:     core.Scope{TenantID: "t", ProjectID: "p", GraphID: "g"},
		AgentID:   "math",
		ContextID: conversationID,
		Status:    core.TaskPending,
		Metadata: core.TaskMetadata{
			ConversationID: conversationID,
			MessageID:      "m1",
			CreatedAt:      now,
			UpdatedAt:      now,
			AgentID:        "router",
			GraphID:        "g",
		},
	}
}

func testConversationLifecycle(t *testing.T, s core.Store) {
	ctx := context.Background()

	_, err := s.GetConversation(ctx, "c1")
	require.ErrorIs(t, err, core.ErrNotFound)

	require.NoError(t, s.CreateConversation(ctx, newConversation("c1")))
	require.ErrorIs(t, s.CreateConversation(ctx, newConversation("c1")), core.ErrConflict)

	conv, err := s.GetConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "router", conv.ActiveAgentID)
	assert.Equal(t, "g", conv.Scope.GraphID)
	assert.False(t, conv.CreatedAt.IsZero())
}

func testActiveAgentCAS(t *testing.T, s core.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateConversation(ctx, newConversation("c1")))

	require.NoError(t, s.CompareAndSetActiveAgent(ctx, "c1", "router", "billing"))
	err := s.CompareAndSetActiveAgent(ctx, "c1", "router", "support")
	require.ErrorIs(t, err, core.ErrConflict)

	conv, err := s.GetConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "billing", conv.ActiveAgentID)

	require.ErrorIs(t, s.CompareAndSetActiveAgent(ctx, "missing", "", "x"), core.ErrNotFound)
}

func testConcurrentCAS(t *testing.T, s core.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateConversation(ctx, newConversation("c1")))

	const workers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := s.CompareAndSetActiveAgent(ctx, "c1", "router", fmt.Sprintf("agent-%d", i)); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, core.ErrConflict)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins, "exactly one compare-and-set may win")
}

func testMessages(t *testing.T, s core.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateConversation(ctx, newConversation("c1")))

	for i := 0; i < 4; i++ {
		msg := core.NewMessage("c1", "router", core.NewTextContent(core.RoleUser, fmt.Sprintf("m%d", i)))
		require.NoError(t, s.AppendMessage(ctx, msg))
	}
	call := core.Content{Role: core.RoleAssistant, Parts: []core.Part{
		core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: "c", Name: "lookup", Arguments: "{}"}},
	}}
	require.NoError(t, s.AppendMessage(ctx, core.NewMessage("c1", "router", call)))

	all, err := s.ListMessages(ctx, "c1", 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "m0", all[0].Content.Text())
	assert.Equal(t, "lookup", all[4].Content.FunctionCalls()[0].Name)

	recent, err := s.ListMessages(ctx, "c1", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "m3", recent[0].Content.Text())

	empty, err := s.ListMessages(ctx, "other", 0)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testTaskLifecycle(t *testing.T, s core.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateTask(ctx, newTask("t1", "c1")))
	require.ErrorIs(t, s.CreateTask(ctx, newTask("t1", "c1")), core.ErrConflict)

	task, err := s.TransitionTask(ctx, "t1", core.TaskPending, core.TaskUpdate{Status: core.TaskWorking})
	require.NoError(t, err)
	assert.Equal(t, core.TaskWorking, task.Status)

	_, err = s.TransitionTask(ctx, "t1", core.TaskPending, core.TaskUpdate{Status: core.TaskWorking})
	require.ErrorIs(t, err, core.ErrConflict)

	_, err = s.TransitionTask(ctx, "t1", core.TaskWorking, core.TaskUpdate{Status: core.TaskPending})
	require.ErrorIs(t, err, core.ErrInvalidTransition)

	task, err = s.TransitionTask(ctx, "t1", core.TaskWorking, core.TaskUpdate{Status: core.TaskCompleted, Result: "42"})
	require.NoError(t, err)
	assert.Equal(t, "42", task.Result)

	got, err := s.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, core.TaskCompleted, got.Status)
	assert.Equal(t, "c1", got.ContextID)
	assert.Equal(t, "c1", got.Metadata.ConversationID)
	assert.Equal(t, "router", got.Metadata.AgentID)
	assert.Equal(t, "math", got.AgentID)

	_, err = s.GetTask(ctx, "missing")
	require.ErrorIs(t, err, core.ErrNotFound)
	_, err = s.TransitionTask(ctx, "missing", core.TaskPending, core.TaskUpdate{Status: core.TaskWorking})
	require.ErrorIs(t, err, core.ErrNotFound)
}

func testListTasks(t *testing.T, s core.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateTask(ctx, newTask("t1", "c1")))
	require.NoError(t, s.CreateTask(ctx, newTask("t2", "c1")))
	require.NoError(t, s.CreateTask(ctx, newTask("t3", "c2")))

	_, err := s.TransitionTask(ctx, "t2", core.TaskPending, core.TaskUpdate{Status: core.TaskFailed, Error: "x"})
	require.NoError(t, err)

	all, err := s.ListTasks(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pending, err := s.ListTasks(ctx, "c1", core.TaskPending, core.TaskWorking)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "t1", pending[0].ID)
}

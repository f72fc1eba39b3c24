package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/visioninhope/agents-sub013/core"
	"github.com/visioninhope/agents-sub013/graph"
	"github.com/visioninhope/agents-sub013/store/memory"
)

// countingStore records writes to the active agent pointer.
type countingStore struct {
	*memory.Store
	writes int
}

func (s *countingStore) CompareAndSetActiveAgent(ctx context.Context, id, expected, next string) error {
	s.writes++
	return s.Store.CompareAndSetActiveAgent(ctx, id, expected, next)
}

var scope = core.Scope{TenantID: "t", ProjectID: "p", GraphID: "g"}

func newRouter(t *testing.T) (*Router, *countingStore) {
	t.Helper()
	g, err := graph.Build(graph.Definition{
		ID:             "g",
		DefaultAgentID: "router",
		Agents: []graph.AgentDefinition{
			{ID: "router", TransferTargets: []string{"billing", "support"}},
			{ID: "billing"},
			{ID: "support"},
		},
	})
	require.NoError(t, err)

	store := &countingStore{Store: memory.New()}
	return New(store, graph.NewRegistry(g)), store
}

func TestResolveDefaultsAndPersists(t *testing.T) {
	r, store := newRouter(t)
	ctx := context.Background()

	agent, err := r.Resolve(ctx, scope, "c1")
	require.NoError(t, err)
	assert.Equal(t, "router", agent)

	conv, err := store.GetConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "router", conv.ActiveAgentID)
	assert.Equal(t, scope, conv.Scope)
}

func TestResolveReturnsStoredAgent(t *testing.T) {
	r, _ := newRouter(t)
	ctx := context.Background()

	_, err := r.Resolve(ctx, scope, "c1")
	require.NoError(t, err)
	require.NoError(t, r.SetActive(ctx, "c1", "billing"))

	agent, err := r.Resolve(ctx, scope, "c1")
	require.NoError(t, err)
	assert.Equal(t, "billing", agent)
}

func TestResolveFallsBackFromStaleAgent(t *testing.T) {
	r, store := newRouter(t)
	ctx := context.Background()

	require.NoError(t, store.CreateConversation(ctx, &core.Conversation{ID: "c1", Scope: scope, ActiveAgentID: "removed"}))

	agent, err := r.Resolve(ctx, scope, "c1")
	require.NoError(t, err)
	assert.Equal(t, "router", agent)

	conv, err := store.GetConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "router", conv.ActiveAgentID)
}

func TestResolveRejectsForeignGraph(t *testing.T) {
	r, store := newRouter(t)
	ctx := context.Background()
	require.NoError(t, store.CreateConversation(ctx, &core.Conversation{ID: "c1", Scope: core.Scope{GraphID: "other"}, ActiveAgentID: "x"}))

	_, err := r.Resolve(ctx, scope, "c1")
	assert.ErrorIs(t, err, core.ErrConflict)
}

func TestSetActiveIdempotent(t *testing.T) {
	r, store := newRouter(t)
	ctx := context.Background()
	_, err := r.Resolve(ctx, scope, "c1")
	require.NoError(t, err)

	require.NoError(t, r.SetActive(ctx, "c1", "billing"))
	writes := store.writes

	require.NoError(t, r.SetActive(ctx, "c1", "billing"))
	assert.Equal(t, writes, store.writes, "setting the active agent again must not write")
}

func TestSetActiveUnknownConversation(t *testing.T) {
	r, _ := newRouter(t)
	assert.ErrorIs(t, r.SetActive(context.Background(), "missing", "billing"), core.ErrNotFound)
}

// Any sequence of SetActive calls leaves exactly the last requested agent
// active, and repeating the current agent never writes.
func TestSetActiveProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		r, store := newRouter(t)
		ctx := context.Background()
		_, err := r.Resolve(ctx, scope, "c1")
		require.NoError(rt, err)

		current := "router"
		expectedWrites := store.writes
		ops := rapid.SliceOfN(rapid.SampledFrom([]string{"router", "billing", "support"}), 1, 30).Draw(rt, "ops")

		for _, next := range ops {
			require.NoError(rt, r.SetActive(ctx, "c1", next))
			if next != current {
				expectedWrites++
			}
			current = next

			conv, err := store.GetConversation(ctx, "c1")
			require.NoError(rt, err)
			if conv.ActiveAgentID != current {
				rt.Fatalf("active agent %q, want %q", conv.ActiveAgentID, current)
			}
		}

		if store.writes != expectedWrites {
			rt.Fatalf("writes %d, want %d", store.writes, expectedWrites)
		}
	})
}

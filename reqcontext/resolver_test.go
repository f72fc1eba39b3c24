package reqcontext

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visioninhope/agents-sub013/core"
	"github.com/visioninhope/agents-sub013/graph"
)

func newRegistry(t *testing.T, ctxDef graph.ContextDefinition) *graph.Registry {
	t.Helper()
	g, err := graph.Build(graph.Definition{
		ID:             "g",
		DefaultAgentID: "router",
		Agents:         []graph.AgentDefinition{{ID: "router"}},
		Context:        ctxDef,
	})
	require.NoError(t, err)
	return graph.NewRegistry(g)
}

var userSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"x-user-id": map[string]any{"type": "string"},
	},
	"required": []any{"x-user-id"},
}

func TestResolveMissingRequiredHeader(t *testing.T) {
	r := NewResolver(newRegistry(t, graph.ContextDefinition{HeadersSchema: userSchema}))

	_, err := r.Resolve(context.Background(), "g", http.Header{}, nil)

	var ctxErr *core.ContextValidationError
	require.True(t, errors.As(err, &ctxErr))
	assert.Equal(t, "x-user-id", ctxErr.Field)
	assert.Equal(t, core.CodeContextValidation, core.ErrorCode(err))
}

func TestResolveNormalizesHeaders(t *testing.T) {
	r := NewResolver(newRegistry(t, graph.ContextDefinition{HeadersSchema: userSchema}))

	h := http.Header{}
	h.Set("X-User-Id", "u-1")
	rc, err := r.Resolve(context.Background(), "g", h, map[string]any{"k": "v"})
	require.NoError(t, err)

	assert.Equal(t, "u-1", rc.Header("x-user-id"))
	assert.Equal(t, "u-1", rc.Header("X-USER-ID"))
	assert.Equal(t, "v", rc.Body["k"])
}

func TestResolveUnknownGraph(t *testing.T) {
	r := NewResolver(graph.NewRegistry())
	_, err := r.Resolve(context.Background(), "nope", nil, nil)
	var ctxErr *core.ContextValidationError
	assert.True(t, errors.As(err, &ctxErr))
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestVariableFetchedOnceAndCached(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	slow := FetcherFunc(func(ctx context.Context, def graph.VariableDefinition, headers map[string]string) (any, error) {
		calls.Add(1)
		<-release
		return "gold-" + headers["x-user-id"], nil
	})

	r := NewResolver(newRegistry(t, graph.ContextDefinition{
		Variables: map[string]graph.VariableDefinition{"tier": {Fetcher: "slow"}},
	}), func(o *Options) { o.Fetchers["slow"] = slow })

	h := http.Header{}
	h.Set("x-user-id", "u1")
	rc, err := r.Resolve(context.Background(), "g", h, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]any, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := rc.Variable(context.Background(), "tier")
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	close(release)
	wg.Wait()

	v, err := rc.Variable(context.Background(), "tier")
	require.NoError(t, err)
	assert.Equal(t, "gold-u1", v)
	assert.LessOrEqual(t, calls.Load(), int32(5))
	for _, res := range results {
		assert.Equal(t, "gold-u1", res)
	}

	before := calls.Load()
	_, _ = rc.Variable(context.Background(), "tier")
	assert.Equal(t, before, calls.Load(), "cached value must not refetch")
}

func TestVariableCallerDeadlineDoesNotFailOtherCallers(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	slow := FetcherFunc(func(ctx context.Context, _ graph.VariableDefinition, _ map[string]string) (any, error) {
		close(started)
		select {
		case <-release:
			return "gold", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	r := NewResolver(newRegistry(t, graph.ContextDefinition{
		Variables: map[string]graph.VariableDefinition{"tier": {Fetcher: "slow"}},
	}), func(o *Options) { o.Fetchers["slow"] = slow })

	rc, err := r.Resolve(context.Background(), "g", http.Header{}, nil)
	require.NoError(t, err)

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	shortErr := make(chan error, 1)
	go func() {
		_, err := rc.Variable(short, "tier")
		shortErr <- err
	}()
	<-started

	healthy := make(chan any, 1)
	go func() {
		v, err := rc.Variable(context.Background(), "tier")
		assert.NoError(t, err)
		healthy <- v
	}()

	require.ErrorIs(t, <-shortErr, context.DeadlineExceeded)
	close(release)

	select {
	case v := <-healthy:
		assert.Equal(t, "gold", v)
	case <-time.After(2 * time.Second):
		t.Fatal("healthy caller never received the shared value")
	}
}

func TestVariableFetchTimeout(t *testing.T) {
	hang := FetcherFunc(func(ctx context.Context, _ graph.VariableDefinition, _ map[string]string) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	r := NewResolver(newRegistry(t, graph.ContextDefinition{
		Variables: map[string]graph.VariableDefinition{
			"tier": {Fetcher: "hang", Timeout: 10 * time.Millisecond},
			"plan": {Fetcher: "hang", Timeout: 10 * time.Millisecond, Default: "free"},
		},
	}), func(o *Options) { o.Fetchers["hang"] = hang })

	rc, err := r.Resolve(context.Background(), "g", http.Header{}, nil)
	require.NoError(t, err)

	_, err = rc.Variable(context.Background(), "tier")
	var ctxErr *core.ContextValidationError
	require.ErrorAs(t, err, &ctxErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	v, err := rc.Variable(context.Background(), "plan")
	require.NoError(t, err)
	assert.Equal(t, "free", v)
}

func TestFailingVariableOnlyFailsReferencingInstructions(t *testing.T) {
	failing := FetcherFunc(func(context.Context, graph.VariableDefinition, map[string]string) (any, error) {
		return nil, errors.New("upstream down")
	})
	r := NewResolver(newRegistry(t, graph.ContextDefinition{
		Variables: map[string]graph.VariableDefinition{
			"broken":   {Fetcher: "failing"},
			"fallback": {Fetcher: "failing", Default: "n/a"},
			"plan":     {Fetcher: FetcherStatic, Value: "pro"},
		},
	}), func(o *Options) { o.Fetchers["failing"] = failing })

	rc, err := r.Resolve(context.Background(), "g", nil, nil)
	require.NoError(t, err)

	out, err := rc.RenderInstructions(context.Background(), "Plan {{.vars.plan}}, {{index .vars \"fallback\"}}")
	require.NoError(t, err)
	assert.Equal(t, "Plan pro, n/a", out)

	_, err = rc.RenderInstructions(context.Background(), "Uses {{.vars.broken}}")
	var ctxErr *core.ContextValidationError
	require.True(t, errors.As(err, &ctxErr))
	assert.Equal(t, "broken", ctxErr.Field)

	_, err = rc.Variable(context.Background(), "undeclared")
	assert.Error(t, err)
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/u-7", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"Ada"}`))
	}))
	defer srv.Close()

	r := NewResolver(newRegistry(t, graph.ContextDefinition{
		Variables: map[string]graph.VariableDefinition{
			"user": {
				Fetcher: FetcherHTTP,
				URL:     srv.URL + `/users/{{index .headers "x-user-id"}}`,
				Headers: map[string]string{"Authorization": `Bearer {{index .headers "x-token"}}`},
			},
		},
	}))

	h := http.Header{}
	h.Set("x-user-id", "u-7")
	h.Set("x-token", "tok")
	rc, err := r.Resolve(context.Background(), "g", h, nil)
	require.NoError(t, err)

	out, err := rc.RenderInstructions(context.Background(), "Hi {{.vars.user.name}}")
	require.NoError(t, err)
	assert.Equal(t, "Hi Ada", out)
}

func TestReferencedVariables(t *testing.T) {
	refs := ReferencedVariables(`{{.vars.b}} {{.vars.a.x}} {{index .vars "c-d"}} {{.headers.x}}`)
	assert.Equal(t, []string{"a", "b", "c-d"}, refs)
}

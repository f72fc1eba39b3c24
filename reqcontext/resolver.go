// Package reqcontext resolves the per-turn request context: it validates the
// inbound headers against the graph's declared schema before any agent runs
// and exposes context variables that are fetched lazily, once per turn.
package reqcontext

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/visioninhope/agents-sub013/core"
	"github.com/visioninhope/agents-sub013/graph"
	"github.com/visioninhope/agents-sub013/internal/util"
	"github.com/visioninhope/agents-sub013/logging"
)

// Fetcher names understood by graph variable definitions.
const (
	FetcherStatic = "static"
	FetcherHTTP   = "http"
)

// Options configures a Resolver.
type Options struct {
	Fetchers map[string]Fetcher
	// FetchTimeout bounds variable fetches that declare no timeout.
	FetchTimeout time.Duration
	Logger       logging.Logger
}

// Resolver builds RequestContexts for turns.
type Resolver struct {
	graphs graph.Source
	opts   Options
}

// NewResolver creates a resolver with the static and http fetchers
// registered; options may add or replace fetchers.
func NewResolver(graphs graph.Source, optFns ...func(o *Options)) *Resolver {
	opts := Options{
		Fetchers: map[string]Fetcher{
			FetcherStatic: StaticFetcher{},
			FetcherHTTP:   NewHTTPFetcher(defaultHTTPTimeout),
		},
		FetchTimeout: defaultHTTPTimeout,
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Resolver{graphs: graphs, opts: opts}
}

// Resolve validates headers for graphID and returns the turn's request
// context. Validation failures are *core.ContextValidationError.
func (r *Resolver) Resolve(ctx context.Context, graphID string, headers http.Header, body map[string]any) (*RequestContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g, err := r.graphs.Graph(graphID)
	if err != nil {
		return nil, &core.ContextValidationError{GraphID: graphID, Field: "graph", Reason: "unknown graph", Err: err}
	}

	normalized := make(map[string]string, len(headers))
	for k, vs := range headers {
		if len(vs) > 0 {
			normalized[strings.ToLower(k)] = vs[0]
		}
	}

	def := g.Context()
	if def.HeadersSchema != nil {
		params := make(map[string]any, len(normalized))
		for k, v := range normalized {
			params[k] = v
		}

		if err := util.ValidateParameters(params, def.HeadersSchema); err != nil {
			field := ""
			var vErr *util.ValidationError
			if errors.As(err, &vErr) {
				field = vErr.Field
			}
			r.opts.Logger.Warn("context.headers.invalid", "graph", graphID, "field", field, "error", err.Error())
			return nil, &core.ContextValidationError{GraphID: graphID, Field: field, Reason: err.Error(), Err: err}
		}
	}

	return &RequestContext{
		GraphID:  graphID,
		headers:  normalized,
		Body:     body,
		defs:     def.Variables,
		fetchers: r.opts.Fetchers,
		timeout:  r.opts.FetchTimeout,
		cache:    make(map[string]any),
		logger:   r.opts.Logger,
	}, nil
}

// RequestContext is the resolved request context of one turn. It implements
// core.RequestValues.
type RequestContext struct {
	GraphID string
	Body    map[string]any

	headers  map[string]string
	defs     map[string]graph.VariableDefinition
	fetchers map[string]Fetcher
	timeout  time.Duration
	logger   logging.Logger

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string]any
}

// Header returns a validated request header (case-insensitive).
func (rc *RequestContext) Header(name string) string { return rc.headers[strings.ToLower(name)] }

// Headers returns a copy of the normalized headers.
func (rc *RequestContext) Headers() map[string]string {
	out := make(map[string]string, len(rc.headers))
	for k, v := range rc.headers {
		out[k] = v
	}
	return out
}

// Variable resolves a context variable. Concurrent callers share one fetch
// and successful values are cached for the rest of the turn. The shared fetch
// is detached from any single caller's cancellation and bounded by the
// variable's timeout; each caller stops waiting when its own ctx is done.
func (rc *RequestContext) Variable(ctx context.Context, name string) (any, error) {
	rc.mu.RLock()
	v, ok := rc.cache[name]
	rc.mu.RUnlock()
	if ok {
		return v, nil
	}

	def, ok := rc.defs[name]
	if !ok {
		return nil, &core.ContextValidationError{GraphID: rc.GraphID, Field: name, Reason: "undeclared context variable"}
	}

	ch := rc.group.DoChan(name, func() (any, error) {
		fetcher, ok := rc.fetchers[def.Fetcher]
		if !ok {
			return nil, fmt.Errorf("unknown fetcher %q", def.Fetcher)
		}

		fetchCtx := context.WithoutCancel(ctx)
		if timeout := cmp.Or(def.Timeout, rc.timeout); timeout > 0 {
			var cancel context.CancelFunc
			fetchCtx, cancel = context.WithTimeout(fetchCtx, timeout)
			defer cancel()
		}

		val, err := fetcher.Fetch(fetchCtx, def, rc.headers)
		if err != nil {
			if def.Default == nil {
				return nil, err
			}
			rc.logger.Warn("context.variable.default", "graph", rc.GraphID, "variable", name, "error", err.Error())
			val = def.Default
		}

		rc.mu.Lock()
		rc.cache[name] = val
		rc.mu.Unlock()

		return val, nil
	})

	var err error
	select {
	case res := <-ch:
		v, err = res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err != nil {
		rc.logger.Error("context.variable.failed", "graph", rc.GraphID, "variable", name, "error", err.Error())
		return nil, &core.ContextValidationError{GraphID: rc.GraphID, Field: name, Reason: "context variable fetch failed", Err: err}
	}

	return v, nil
}

var (
	dotVarRef   = regexp.MustCompile(`\.vars\.([A-Za-z_][A-Za-z0-9_]*)`)
	indexVarRef = regexp.MustCompile(`index\s+\.vars\s+"([^"]+)"`)
)

// ReferencedVariables lists the variables an instruction template refers to.
func ReferencedVariables(text string) []string {
	seen := map[string]struct{}{}
	for _, re := range []*regexp.Regexp{dotVarRef, indexVarRef} {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			seen[m[1]] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// RenderInstructions resolves only the variables referenced by text and
// renders it with {{.vars.*}} and {{index .headers "name"}} available.
func (rc *RequestContext) RenderInstructions(ctx context.Context, text string) (string, error) {
	refs := ReferencedVariables(text)
	vars := make(map[string]any, len(refs))

	for _, name := range refs {
		if _, declared := rc.defs[name]; !declared {
			continue
		}
		v, err := rc.Variable(ctx, name)
		if err != nil {
			return "", err
		}
		vars[name] = v
	}

	return util.RenderTemplate(text, map[string]any{
		"headers": toAny(rc.headers),
		"vars":    vars,
		"body":    rc.Body,
	})
}

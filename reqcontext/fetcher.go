package reqcontext

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/visioninhope/agents-sub013/graph"
	"github.com/visioninhope/agents-sub013/internal/util"
)

const defaultHTTPTimeout = 10 * time.Second

// Fetcher resolves the value of one context variable.
type Fetcher interface {
	Fetch(ctx context.Context, def graph.VariableDefinition, headers map[string]string) (any, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, def graph.VariableDefinition, headers map[string]string) (any, error)

// Fetch implements Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, def graph.VariableDefinition, headers map[string]string) (any, error) {
	return f(ctx, def, headers)
}

// StaticFetcher returns the declared value.
type StaticFetcher struct{}

// Fetch implements Fetcher.
func (StaticFetcher) Fetch(_ context.Context, def graph.VariableDefinition, _ map[string]string) (any, error) {
	return def.Value, nil
}

// HTTPFetcher performs a GET against the declared URL and decodes the JSON
// response. URL and header values are templates rendered with the request
// headers available as {{index .headers "name"}}.
type HTTPFetcher struct {
	Client  *http.Client
	MaxBody int64
}

// NewHTTPFetcher creates an HTTPFetcher with a bounded client.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{Client: &http.Client{Timeout: timeout}, MaxBody: 1 << 20}
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, def graph.VariableDefinition, headers map[string]string) (any, error) {
	data := map[string]any{"headers": toAny(headers)}

	url, err := util.RenderTemplate(def.URL, data)
	if err != nil {
		return nil, fmt.Errorf("render url: %w", err)
	}
	if url == "" {
		return nil, fmt.Errorf("http fetcher requires a url")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	for k, v := range def.Headers {
		rendered, err := util.RenderTemplate(v, data)
		if err != nil {
			return nil, fmt.Errorf("render header %s: %w", k, err)
		}
		req.Header.Set(k, rendered)
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}

	limit := f.MaxBody
	if limit <= 0 {
		limit = 1 << 20
	}

	var out any
	if err := json.NewDecoder(io.LimitReader(resp.Body, limit)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", url, err)
	}

	return out, nil
}

func toAny(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

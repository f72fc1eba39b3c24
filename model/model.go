package model

import (
	"context"
	"errors"
	"strings"

	"github.com/visioninhope/agents-sub013/core"
)

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual function (tool) exposed to the model.
// Parameters is a JSON Schema object.
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// NewFunctionTool builds a function tool definition.
func NewFunctionTool(name, description string, parameters map[string]any) ToolDefinition {
	return ToolDefinition{
		Type:     "function",
		Function: FunctionDefinition{Name: name, Description: description, Parameters: parameters},
	}
}

// Request captures the normalized model input.
type Request struct {
	Instructions string           `json:"instructions"`
	Contents     []core.Content   `json:"contents"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
	Stream       bool             `json:"stream,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a partial or final chunk emitted by a model.
type Response struct {
	ID           string       `json:"id"`
	Partial      bool         `json:"partial"`
	Content      core.Content `json:"content"`
	FinishReason string       `json:"finish_reason"` // "stop", "length", "tool_calls", ...
	Usage        *TokenUsage  `json:"usage,omitempty"`
}

// FunctionCalls returns the function calls of the response.
func (r Response) FunctionCalls() []core.FunctionCall { return r.Content.FunctionCalls() }

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"`
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the interface the executor drives. Generate streams zero or more
// partial responses followed by one final response; the error channel carries
// at most one error. Both channels are closed when generation ends.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)
	Info() Info
}

// ErrNoResponse is returned by Collect when a model ends without a final
// response.
var ErrNoResponse = errors.New("model returned no final response")

// Collect drains a generation. onDelta, when non-nil, receives the text of
// every partial response in order. It returns the final response.
func Collect(ctx context.Context, m Model, req Request, onDelta func(text string) error) (Response, error) {
	respCh, errCh := m.Generate(ctx, req)

	var (
		final    *Response
		streamed strings.Builder
	)

	for respCh != nil || errCh != nil {
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case resp, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if resp.Partial {
				text := resp.Content.Text()
				if text == "" {
					continue
				}
				streamed.WriteString(text)
				if onDelta != nil {
					if err := onDelta(text); err != nil {
						return Response{}, err
					}
				}
				continue
			}
			r := resp
			final = &r
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return Response{}, err
			}
		}
	}

	if final == nil {
		if streamed.Len() == 0 {
			return Response{}, ErrNoResponse
		}
		return Response{
			Content:      core.NewTextContent(core.RoleAssistant, streamed.String()),
			FinishReason: "stop",
		}, nil
	}
	return *final, nil
}

// Func adapts a function to the Model interface. The function's response is
// emitted as the final response.
type Func struct {
	Name string
	Fn   func(ctx context.Context, req Request) (Response, error)
}

// Generate implements Model.
func (f Func) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 1)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)

		resp, err := f.Fn(ctx, req)
		if err != nil {
			errCh <- err
			return
		}
		resp.Partial = false
		respCh <- resp
	}()

	return respCh, errCh
}

// Info implements Model.
func (f Func) Info() Info { return Info{Name: f.Name, Provider: "func", SupportsTools: true} }

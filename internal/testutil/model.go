package testutil

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/visioninhope/agents-sub013/core"
	"github.com/visioninhope/agents-sub013/model"
)

// ErrScriptExhausted is returned when a ScriptedModel is called more often
// than it has steps.
var ErrScriptExhausted = errors.New("scripted model: no step left")

// Step is one canned generation. Deltas are streamed as partial responses
// before Response; Err fails the generation after the deltas.
type Step struct {
	Deltas   []string
	Response model.Response
	Err      error
	// Wait blocks the generation until the context ends.
	Wait bool
}

// Text answers with plain text.
func Text(text string) Step {
	return Step{Response: model.Response{
		Content:      core.NewTextContent(core.RoleAssistant, text),
		FinishReason: "stop",
	}}
}

// Stream answers with text streamed in chunks.
func Stream(chunks ...string) Step {
	s := Text(strings.Join(chunks, ""))
	s.Deltas = chunks
	return s
}

// Call answers with one function call. args is raw JSON.
func Call(name, args string) Step {
	return Calls(core.FunctionCall{Name: name, Arguments: args})
}

// Calls answers with several function calls issued in one step. Missing call
// ids are filled in.
func Calls(calls ...core.FunctionCall) Step {
	parts := make([]core.Part, len(calls))
	for i, fc := range calls {
		if fc.ID == "" {
			fc.ID = fmt.Sprintf("call_%d_%s", i, fc.Name)
		}
		parts[i] = core.FunctionCallPart{FunctionCall: fc}
	}
	return Step{Response: model.Response{
		Content:      core.Content{Role: core.RoleAssistant, Parts: parts},
		FinishReason: "tool_calls",
	}}
}

// Fail fails the generation with err.
func Fail(err error) Step { return Step{Err: err} }

// Block waits until the generation context is done.
func Block() Step { return Step{Wait: true} }

// ScriptedModel replays steps in order, one per Generate call, and records
// every request. Respond, when set, is consulted once the steps run out.
type ScriptedModel struct {
	Name    string
	Respond func(req model.Request) Step

	mu       sync.Mutex
	steps    []Step
	requests []model.Request
}

// NewScriptedModel creates a model replaying steps.
func NewScriptedModel(name string, steps ...Step) *ScriptedModel {
	return &ScriptedModel{Name: name, steps: steps}
}

// Generate implements model.Model.
func (m *ScriptedModel) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	// Unbuffered so every partial is consumed before a later error is seen.
	respCh := make(chan model.Response)
	errCh := make(chan error, 1)

	m.mu.Lock()
	n := len(m.requests)
	m.requests = append(m.requests, req)
	var (
		step Step
		ok   bool
	)
	if n < len(m.steps) {
		step, ok = m.steps[n], true
	} else if m.Respond != nil {
		step, ok = m.Respond(req), true
	}
	m.mu.Unlock()

	go func() {
		defer close(respCh)
		defer close(errCh)

		if !ok {
			errCh <- ErrScriptExhausted
			return
		}
		if step.Wait {
			<-ctx.Done()
			errCh <- ctx.Err()
			return
		}

		for _, d := range step.Deltas {
			select {
			case respCh <- model.Response{Partial: true, Content: core.NewTextContent(core.RoleAssistant, d)}:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}
		if step.Err != nil {
			errCh <- step.Err
			return
		}

		select {
		case respCh <- step.Response:
		case <-ctx.Done():
			errCh <- ctx.Err()
		}
	}()

	return respCh, errCh
}

// Info implements model.Model.
func (m *ScriptedModel) Info() model.Info {
	return model.Info{Name: m.Name, Provider: "scripted", SupportsTools: true}
}

// Requests returns the requests received so far.
func (m *ScriptedModel) Requests() []model.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Request(nil), m.requests...)
}

// Calls returns how often Generate was called.
func (m *ScriptedModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// ToolNames lists the tool names offered in request i.
func (m *ScriptedModel) ToolNames(i int) []string {
	reqs := m.Requests()
	if i >= len(reqs) {
		return nil
	}
	names := make([]string, len(reqs[i].Tools))
	for j, t := range reqs[i].Tools {
		names[j] = t.Function.Name
	}
	return names
}

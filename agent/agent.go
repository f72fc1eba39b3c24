package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/visioninhope/agents-sub013/core"
	"github.com/visioninhope/agents-sub013/model"
	"github.com/visioninhope/agents-sub013/tool"
)

// Options configures an Agent.
type Options struct {
	Name        string
	Description string
	Instruction Instruction
	// Streaming requests partial text from the model.
	Streaming   bool
	ToolTimeout time.Duration
	// MaxHistoryMessages bounds the history sent to the model; 0 sends all.
	MaxHistoryMessages int
	Tools              []tool.Tool
}

// Agent is one model-backed participant of a graph.
type Agent struct {
	id                 string
	name               string
	description        string
	llm                model.Model
	instruction        Instruction
	tools              map[string]tool.Tool
	streaming          bool
	toolTimeout        time.Duration
	maxHistoryMessages int
}

// New creates an agent with sensible defaults: streaming on, a 30 second
// tool timeout and a 50 message history window.
func New(id string, llm model.Model, optFns ...func(o *Options)) *Agent {
	opts := Options{
		Name:               id,
		Instruction:        NewInstructionFromText(fmt.Sprintf("You are %s, a helpful AI assistant.", id)),
		Streaming:          true,
		ToolTimeout:        30 * time.Second,
		MaxHistoryMessages: 50,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	a := &Agent{
		id:                 id,
		name:               opts.Name,
		description:        opts.Description,
		llm:                llm,
		instruction:        opts.Instruction,
		tools:              make(map[string]tool.Tool),
		streaming:          opts.Streaming,
		toolTimeout:        opts.ToolTimeout,
		maxHistoryMessages: opts.MaxHistoryMessages,
	}
	a.RegisterTools(opts.Tools...)

	return a
}

// ID returns the agent id.
func (a *Agent) ID() string { return a.id }

// Name returns the display name.
func (a *Agent) Name() string { return a.name }

// Description returns the description shown to other agents.
func (a *Agent) Description() string { return a.description }

// Model returns the language model.
func (a *Agent) Model() model.Model { return a.llm }

// Streaming reports whether partial text is requested.
func (a *Agent) Streaming() bool { return a.streaming }

// ToolTimeout bounds a single tool call.
func (a *Agent) ToolTimeout() time.Duration { return a.toolTimeout }

// MaxHistoryMessages returns the history window.
func (a *Agent) MaxHistoryMessages() int { return a.maxHistoryMessages }

// RegisterTool adds a function tool.
func (a *Agent) RegisterTool(t tool.Tool) { a.tools[t.Name()] = t }

// RegisterTools adds several function tools.
func (a *Agent) RegisterTools(tools ...tool.Tool) {
	for _, t := range tools {
		a.RegisterTool(t)
	}
}

// Tool returns a registered tool.
func (a *Agent) Tool(name string) (tool.Tool, bool) {
	t, ok := a.tools[name]
	return t, ok
}

// Tools returns the registered tools sorted by name.
func (a *Agent) Tools() []tool.Tool {
	out := make([]tool.Tool, 0, len(a.tools))
	for _, t := range a.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// ResolveInstructions renders the system prompt for a turn.
func (a *Agent) ResolveInstructions(ctx context.Context, tc *core.TurnContext) (string, error) {
	return a.instruction.Resolve(ctx, tc)
}

// DecodeArguments parses the JSON arguments of a function call. Empty
// arguments decode to an empty map.
func DecodeArguments(raw string) (map[string]any, error) {
	args := make(map[string]any)
	if raw == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("decode tool arguments: %w", err)
	}
	return args, nil
}

package agent

import (
	"context"

	"github.com/visioninhope/agents-sub013/core"
)

// Provider supplies dynamic instruction text at runtime.
type Provider interface {
	Instruction(ctx context.Context, tc *core.TurnContext) (string, error)
}

// Func is a functional adapter to allow ordinary functions to be used as Providers.
type Func func(ctx context.Context, tc *core.TurnContext) (string, error)

// Instruction implements Provider.
func (f Func) Instruction(ctx context.Context, tc *core.TurnContext) (string, error) { return f(ctx, tc) }

// Instruction is either a static template or a dynamic provider.
type Instruction struct {
	text     string
	provider Provider
}

// NewInstructionFromText creates an Instruction from a template. The template
// may reference {{.headers.name}} and {{.vars.name}}.
func NewInstructionFromText(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromProvider creates an Instruction from a dynamic provider.
func NewInstructionFromProvider(p Provider) Instruction { return Instruction{provider: p} }

// NewInstructionFromFunc creates an Instruction from a function.
func NewInstructionFromFunc(f func(ctx context.Context, tc *core.TurnContext) (string, error)) Instruction {
	return Instruction{provider: Func(f)}
}

// IsStatic returns true if the instruction is backed by a template.
func (i Instruction) IsStatic() bool { return i.provider == nil }

// Resolve returns the instruction text. Templates are rendered with the
// turn's request values; only the variables they reference are fetched.
func (i Instruction) Resolve(ctx context.Context, tc *core.TurnContext) (string, error) {
	if i.provider != nil {
		return i.provider.Instruction(ctx, tc)
	}
	if tc == nil || tc.Values == nil || i.text == "" {
		return i.text, nil
	}
	return tc.Values.RenderInstructions(ctx, i.text)
}

package status

import (
	"context"
	"fmt"
	"strings"

	"github.com/visioninhope/agents-sub013/core"
	"github.com/visioninhope/agents-sub013/model"
)

// DefaultPrompt instructs the summarizer model.
const DefaultPrompt = "You write one short, friendly progress update for a user waiting on an answer. " +
	"Describe what is being worked on in plain language. Do not mention internal names or identifiers."

// Summarizer turns a window of sanitized event digests into one update.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string, digests []string) (string, error)
}

// SummarizerFunc adapts a function to Summarizer.
type SummarizerFunc func(ctx context.Context, prompt string, digests []string) (string, error)

// Summarize implements Summarizer.
func (f SummarizerFunc) Summarize(ctx context.Context, prompt string, digests []string) (string, error) {
	return f(ctx, prompt, digests)
}

// ModelSummarizer summarizes through a model.
type ModelSummarizer struct {
	Model model.Model
}

// Summarize implements Summarizer.
func (s ModelSummarizer) Summarize(ctx context.Context, prompt string, digests []string) (string, error) {
	if prompt == "" {
		prompt = DefaultPrompt
	}

	var sb strings.Builder
	sb.WriteString("Recent activity:\n")
	for _, d := range digests {
		sb.WriteString("- ")
		sb.WriteString(d)
		sb.WriteByte('\n')
	}

	resp, err := model.Collect(ctx, s.Model, model.Request{
		Instructions: prompt,
		Contents:     []core.Content{core.NewTextContent(core.RoleUser, sb.String())},
	}, nil)
	if err != nil {
		return "", fmt.Errorf("summarize status: %w", err)
	}

	return strings.TrimSpace(resp.Content.Text()), nil
}

// Digest describes one event without agent ids, tool arguments or tool
// results.
func Digest(ev core.Event) string {
	switch ev.Type {
	case core.EventToolCall:
		if name, ok := ev.Payload["tool"].(string); ok && name != "" {
			return "using the " + sanitizeName(name) + " tool"
		}
		return "using a tool"
	case core.EventToolResult:
		if failed, _ := ev.Payload["error"].(bool); failed {
			return "a tool step failed"
		}
		return "a tool step finished"
	case core.EventGeneration:
		return "drafting a response"
	case core.EventTransfer:
		return "handing the conversation to a specialist"
	case core.EventDelegationSent:
		return "asking a specialist for help with a sub-task"
	case core.EventDelegationReturned:
		if st, _ := ev.Payload["status"].(string); st == string(core.TaskFailed) {
			return "a sub-task could not be completed"
		}
		return "a sub-task was completed"
	case core.EventError:
		return "ran into a problem"
	default:
		return "working"
	}
}

// Sanitize digests a window of events, collapsing consecutive duplicates.
func Sanitize(events []core.Event) []string {
	var out []string
	for _, ev := range events {
		d := Digest(ev)
		if n := len(out); n > 0 && out[n-1] == d {
			continue
		}
		out = append(out, d)
	}
	return out
}

// sanitizeName keeps tool names readable: prefixes are dropped and
// separators become spaces.
func sanitizeName(name string) string {
	for _, prefix := range []string{"transfer_to_", "delegate_to_"} {
		if strings.HasPrefix(name, prefix) {
			return "specialist"
		}
	}
	return strings.NewReplacer("_", " ", "-", " ").Replace(name)
}

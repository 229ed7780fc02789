// Package llm defines the reasoning backend contract and the bounded
// think/act/observe executor the analysis tasks run on.
package llm

import "context"

// Prompt is one request to the reasoning backend.
type Prompt struct {
	System      string
	User        string
	Temperature float32
	MaxTokens   int
	// Stop sequences end generation early, e.g. before a fabricated observation.
	Stop []string
}

// ToolSpec describes a tool the model may ask to call.
type ToolSpec struct {
	Name        string
	Description string
}

// Backend produces text for a prompt. Implementations must be safe for
// concurrent use; one instance is shared by every task in a run.
type Backend interface {
	Invoke(ctx context.Context, prompt Prompt, tools []ToolSpec) (string, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, prompt Prompt, tools []ToolSpec) (string, error)

func (f BackendFunc) Invoke(ctx context.Context, prompt Prompt, tools []ToolSpec) (string, error) {
	return f(ctx, prompt, tools)
}

// Package llm defines the Provider abstraction TurnRunner streams completions
// through, plus concrete adapters for Anthropic, OpenAI, and Bedrock
// (SPEC_FULL.md §4.13).
//
// Grounded on internal/agent/runtime.go's LLMProvider interface in the
// teacher: same four-method shape (Complete/Name/Models/SupportsTools), same
// streamed-chunk design, rescoped from the teacher's pkg/models.ToolCall to
// conductor's pkg/nostrcore.ToolCall.
package llm

import (
	"context"

	"github.com/nostrswarm/conductor/pkg/nostrcore"
)

// Provider streams a completion for one turn. Implementations must be safe
// for concurrent use — TurnRunner may call Complete from many conversation
// goroutines at once.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (<-chan CompletionChunk, error)
	Name() string
	Models() []ModelInfo
	SupportsTools() bool
}

// CompletionRequest is one turn's worth of prompt material.
type CompletionRequest struct {
	Model     string
	System    string
	Messages  []Message
	Tools     []ToolSpec
	MaxTokens int
}

// Message is one entry in the conversation sent to the provider.
type Message struct {
	Role        string // "user", "assistant", or "tool"
	Content     string
	ToolCalls   []nostrcore.ToolCall
	ToolResults []ToolResultEntry
}

// ToolResultEntry pairs a tool result with the call id it answers, so a
// provider adapter can correlate it back to the assistant's tool_use block.
type ToolResultEntry struct {
	CallID string
	Result nostrcore.ToolResult
}

// ToolSpec is a tool definition offered to the provider for function calling.
type ToolSpec struct {
	Name        string
	Description string
	Schema      []byte // JSON Schema, as produced by internal/tooldispatch
}

// CompletionChunk is one streamed piece of a completion.
type CompletionChunk struct {
	Text         string
	ToolCall     *nostrcore.ToolCall
	Done         bool
	Err          error
	InputTokens  int
	OutputTokens int
}

// ModelInfo describes one model a provider offers.
type ModelInfo struct {
	ID             string
	Name           string
	ContextSize    int
	SupportsVision bool
}

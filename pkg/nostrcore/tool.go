package nostrcore

import "encoding/json"

// EffectClass categorizes the side effects a tool invocation may have
// (spec.md §4.7). Write/spawn tools are only legal while a conversation is in
// the execute phase.
type EffectClass string

const (
	EffectRead    EffectClass = "read"
	EffectWrite   EffectClass = "write"
	EffectPublish EffectClass = "publish"
	EffectSpawn   EffectClass = "spawn"
)

// ToolCall is a single tool invocation request parsed from an LLM response,
// either from a native tool-call structure or from the <tool_use> fallback
// envelope (spec.md §4.6, §6).
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolResultStatus tags the outcome of a ToolDispatcher.Invoke call so agents
// get a precise, machine-distinguishable reason for failure (DESIGN NOTE:
// "a tagged variant per tool result").
type ToolResultStatus string

const (
	ToolOK             ToolResultStatus = "ok"
	ToolInvalidArgs    ToolResultStatus = "invalid_args"
	ToolTimeout        ToolResultStatus = "timeout"
	ToolDenied         ToolResultStatus = "denied"
	ToolPhaseViolation ToolResultStatus = "phase_violation"
)

// MaxToolResultBytes is the bound beyond which a tool result is truncated
// with a clear marker (spec.md §4.7 step 4).
const MaxToolResultBytes = 16 * 1024

// ToolResult is what ToolDispatcher.Invoke returns to the calling turn.
type ToolResult struct {
	Status      ToolResultStatus
	Content     string
	Truncated   bool
	EffectClass EffectClass
}

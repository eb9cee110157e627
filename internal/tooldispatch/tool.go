// Package tooldispatch implements the ToolDispatcher (spec.md §4.7): a
// registry of tools keyed by name, each with a JSON-Schema parameter spec, a
// handler, a per-invocation timeout, and an effect class, plus the single
// Invoke entry point that validates, runs, and bounds every tool call.
//
// Grounded on internal/agent/runtime.go's Tool interface
// (Name/Description/Schema/Execute) in the teacher; parameter validation is
// generalized from the teacher's hand-rolled checks to a real JSON Schema
// validator (github.com/santhosh-tekuri/jsonschema/v5), and schema
// generation for built-ins uses github.com/invopop/jsonschema to reflect Go
// argument structs instead of hand-writing schema literals.
package tooldispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nostrswarm/conductor/pkg/nostrcore"
)

// Handler executes a tool call's validated arguments and returns its result
// content, or an error if the handler itself failed (as opposed to invalid
// input, which is caught by schema validation before Handler ever runs).
// conversationID names the owning conversation, so handlers that act on
// conversation state (phase transitions, history reads, milestones) don't
// need it threaded through context.
type Handler func(ctx context.Context, agent *nostrcore.Agent, conversationID string, args json.RawMessage) (string, error)

// Tool is one registered tool definition.
type Tool struct {
	Name        string
	Description string
	Schema      json.RawMessage // JSON Schema for arguments
	Handler     Handler
	Timeout     time.Duration
	EffectClass nostrcore.EffectClass
}

// DefaultTimeout is used for tools registered without an explicit timeout.
const DefaultTimeout = 30 * time.Second

package tooldispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/nostrswarm/conductor/pkg/nostrcore"
)

// PhaseSource reports the current phase of a conversation, so Invoke can
// gate write/spawn tools to the execute phase (spec.md §4.7) without
// importing internal/convo directly.
type PhaseSource interface {
	CurrentPhase(conversationID string) (nostrcore.Phase, bool)
}

// PostInvokeHook observes every completed invocation, regardless of outcome.
// ReflectionSystem registers one and filters to the record_lesson call it
// cares about (spec.md §4.9); Dispatcher itself does not filter by name.
type PostInvokeHook func(agent *nostrcore.Agent, conversationID string, call nostrcore.ToolCall, result nostrcore.ToolResult)

// Dispatcher is the ToolDispatcher of spec.md §4.7.
type Dispatcher struct {
	mu    sync.RWMutex
	tools map[string]Tool
	hooks []PostInvokeHook

	phases PhaseSource
}

// OnInvoke registers a hook run synchronously after every Invoke call
// completes. Hooks run in registration order and must not block long; a
// fire-and-forget publisher like ReflectionSystem should hand off to its own
// goroutine.
func (d *Dispatcher) OnInvoke(hook PostInvokeHook) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hooks = append(d.hooks, hook)
}

// New constructs an empty Dispatcher.
func New(phases PhaseSource) *Dispatcher {
	return &Dispatcher{tools: make(map[string]Tool), phases: phases}
}

// Register adds a tool, defaulting Timeout to DefaultTimeout if unset.
func (d *Dispatcher) Register(t Tool) {
	if t.Timeout <= 0 {
		t.Timeout = DefaultTimeout
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tools[t.Name] = t
}

// Lookup returns the registered tool, for callers (e.g. TurnRunner) that
// need its schema/effect class ahead of invocation.
func (d *Dispatcher) Lookup(name string) (Tool, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.tools[name]
	return t, ok
}

// All returns every registered tool, for building the provider-facing tool
// list filtered by an agent's allow-list.
func (d *Dispatcher) All() []Tool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Tool, 0, len(d.tools))
	for _, t := range d.tools {
		out = append(out, t)
	}
	return out
}

// Invoke runs toolName on behalf of agent within conversationID, per the
// four-step procedure of spec.md §4.7.
func (d *Dispatcher) Invoke(ctx context.Context, agent *nostrcore.Agent, conversationID string, call nostrcore.ToolCall) (result nostrcore.ToolResult) {
	defer func() {
		d.mu.RLock()
		hooks := d.hooks
		d.mu.RUnlock()
		for _, hook := range hooks {
			hook(agent, conversationID, call, result)
		}
	}()

	if !agent.CanUseTool(call.Name) {
		return nostrcore.ToolResult{Status: nostrcore.ToolDenied, Content: fmt.Sprintf("agent %s may not use tool %s", agent.Slug, call.Name)}
	}

	tool, ok := d.Lookup(call.Name)
	if !ok {
		return nostrcore.ToolResult{Status: nostrcore.ToolDenied, Content: fmt.Sprintf("unknown tool %s", call.Name)}
	}

	if err := validateArgs(tool.Schema, call.Arguments); err != nil {
		return nostrcore.ToolResult{Status: nostrcore.ToolInvalidArgs, Content: err.Error(), EffectClass: tool.EffectClass}
	}

	if tool.EffectClass == nostrcore.EffectWrite || tool.EffectClass == nostrcore.EffectSpawn {
		if d.phases != nil {
			phase, ok := d.phases.CurrentPhase(conversationID)
			if !ok || phase != nostrcore.PhaseExecute {
				return nostrcore.ToolResult{
					Status:      nostrcore.ToolPhaseViolation,
					Content:     fmt.Sprintf("tool %s requires execute phase", call.Name),
					EffectClass: tool.EffectClass,
				}
			}
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, tool.Timeout)
	defer cancel()

	type outcome struct {
		content string
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		content, err := tool.Handler(runCtx, agent, conversationID, call.Arguments)
		done <- outcome{content: content, err: err}
	}()

	select {
	case <-runCtx.Done():
		return nostrcore.ToolResult{Status: nostrcore.ToolTimeout, Content: fmt.Sprintf("tool %s timed out", call.Name), EffectClass: tool.EffectClass}
	case res := <-done:
		if res.err != nil {
			return nostrcore.ToolResult{Status: nostrcore.ToolInvalidArgs, Content: res.err.Error(), EffectClass: tool.EffectClass}
		}
		content, truncated := boundContent(res.content)
		return nostrcore.ToolResult{Status: nostrcore.ToolOK, Content: content, Truncated: truncated, EffectClass: tool.EffectClass}
	}
}

func boundContent(s string) (string, bool) {
	if len(s) <= nostrcore.MaxToolResultBytes {
		return s, false
	}
	return s[:nostrcore.MaxToolResultBytes] + "\n...[truncated]", true
}

package turn

import "github.com/nostrswarm/conductor/internal/llm"

// Preset is the resolved LLM configuration for one agent's turn: which
// Provider to call, which model, and the context budget to pack history
// against (spec.md §4.6: "the LLM preset's context window").
type Preset struct {
	Provider    llm.Provider
	Model       string
	ContextSize int
	MaxTokens   int
}

// PresetResolver resolves an llms.json preset name to a Preset. Implemented
// by internal/config's Service; tests use StaticPresets.
type PresetResolver interface {
	ResolvePreset(name string) (Preset, bool)
}

// StaticPresets is a fixed name->Preset map, useful for tests and for
// wiring a single-provider deployment without a full ConfigService.
type StaticPresets map[string]Preset

// ResolvePreset implements PresetResolver.
func (s StaticPresets) ResolvePreset(name string) (Preset, bool) {
	p, ok := s[name]
	return p, ok
}

package registry

import "github.com/nostrswarm/conductor/pkg/nostrcore"

// builtinDefinition is a compiled-in agent definition: everything about a
// built-in agent except its identity, which the registry mints or loads from
// the identity store (spec.md §4.2's "synthesizes a definition from
// compiled-in defaults and persists only the long-lived identity").
type builtinDefinition struct {
	slug           string
	name           string
	role           string
	instructions   string
	toolAllowList  []string
	llmPreset      string
	isOrchestrator bool
}

// builtins is the closed set of built-in agents conductor ships with. Never
// loaded from disk; project config may only add agents, not redefine these
// (spec.md §4.2).
var builtins = []builtinDefinition{
	{
		slug: "orchestrator",
		name: "Orchestrator",
		role: "Forms teams, routes conversations, and supervises milestones.",
		instructions: "You coordinate other agents. You do not write code yourself; " +
			"you form teams, request phase transitions, and review their output.",
		toolAllowList:  []string{"publish_status", "publish_typing", "request_phase_transition", "complete_milestone", "read_conversation_history"},
		llmPreset:      "orchestrator",
		isOrchestrator: true,
	},
	{
		slug:          "planner",
		name:          "Planner",
		role:          "Turns a request into a concrete, reviewable plan.",
		instructions:  "You break a request into a short ordered plan other agents can execute.",
		toolAllowList: []string{"publish_status", "publish_typing", "record_lesson", "read_conversation_history"},
		llmPreset:     "planner",
	},
	{
		slug:          "executor",
		name:          "Executor",
		role:          "Carries out plan steps using tools.",
		instructions:  "You execute the current plan step using the tools available to you.",
		toolAllowList: []string{"publish_status", "publish_typing", "record_lesson", "complete_milestone", "read_conversation_history"},
		llmPreset:     "executor",
	},
	{
		slug:          "reviewer",
		name:          "Reviewer",
		role:          "Checks executed work against the plan before it ships.",
		instructions:  "You review the executor's work and call complete_milestone with your verdict.",
		toolAllowList: []string{"publish_status", "publish_typing", "record_lesson", "complete_milestone", "read_conversation_history"},
		llmPreset:     "reviewer",
	},
}

func newAgentFromBuiltin(b builtinDefinition, rec IdentityRecord) *nostrcore.Agent {
	allow := make(map[string]bool, len(b.toolAllowList))
	for _, t := range b.toolAllowList {
		allow[t] = true
	}
	return &nostrcore.Agent{
		PubKey:         rec.PubKey,
		Slug:           b.slug,
		Name:           b.name,
		Role:           b.role,
		Instructions:   b.instructions,
		ToolAllowList:  allow,
		LLMPreset:      b.llmPreset,
		IsBuiltIn:      true,
		IsOrchestrator: b.isOrchestrator,
	}
}

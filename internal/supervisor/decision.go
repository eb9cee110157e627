package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nostrswarm/conductor/internal/llm"
	"github.com/nostrswarm/conductor/pkg/nostrcore"
)

// decisionSystemPrompt is the strict JSON contract spec.md §4.8 requires:
// "prompts the supervisor agent's LLM with a strict JSON contract and parses
// the reply into SupervisionDecision."
const decisionSystemPrompt = `You are a supervisor evaluating a milestone's checkpoints.
Reply with exactly one JSON object and nothing else, matching this shape:
{"decision":"approve|reject|revise|escalate","confidence":0.0,"reasoning":"...","required_actions":["..."],"escalation_reason":"..."}
required_actions and escalation_reason may be omitted or empty when not applicable.`

type decisionPayload struct {
	Decision         string   `json:"decision"`
	Confidence       float64  `json:"confidence"`
	Reasoning        string   `json:"reasoning"`
	RequiredActions  []string `json:"required_actions"`
	EscalationReason string   `json:"escalation_reason"`
}

// MakeDecision prompts the supervising agent's LLM with milestone's current
// checkpoint state and extraContext, parses its JSON reply into a
// SupervisionDecision, and records it via RecordDecision so it becomes
// visible to phase.Decider for the next Review-phase exit request.
func (s *Supervisor) MakeDecision(ctx context.Context, milestone *nostrcore.Milestone, supervisorAgent *nostrcore.Agent, provider llm.Provider, model, extraContext string) (nostrcore.SupervisionDecision, error) {
	prompt := renderMilestoneContext(milestone) + "\n\n" + extraContext

	chunks, err := provider.Complete(ctx, llm.CompletionRequest{
		Model:  model,
		System: decisionSystemPrompt,
		Messages: []llm.Message{
			{Role: "user", Content: strings.TrimSpace(prompt)},
		},
	})
	if err != nil {
		return nostrcore.SupervisionDecision{}, fmt.Errorf("supervisor: makeDecision completion failed: %w", err)
	}

	var text strings.Builder
	for chunk := range chunks {
		if chunk.Err != nil {
			return nostrcore.SupervisionDecision{}, fmt.Errorf("supervisor: makeDecision completion failed: %w", chunk.Err)
		}
		text.WriteString(chunk.Text)
		if chunk.Done {
			break
		}
	}

	var payload decisionPayload
	if err := json.Unmarshal([]byte(extractJSON(text.String())), &payload); err != nil {
		return nostrcore.SupervisionDecision{}, fmt.Errorf("supervisor: could not parse supervisor reply as JSON: %w", err)
	}

	decision := nostrcore.SupervisionDecision{
		Decision:         nostrcore.Decision(payload.Decision),
		Confidence:       payload.Confidence,
		Reasoning:        payload.Reasoning,
		RequiredActions:  payload.RequiredActions,
		EscalationReason: payload.EscalationReason,
		SupervisorID:     supervisorAgent.PubKey,
		Timestamp:        s.clock(),
	}

	if err := s.RecordDecision(milestone.ID, decision); err != nil {
		return decision, err
	}
	return decision, nil
}

func renderMilestoneContext(m *nostrcore.Milestone) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Milestone %s (risk=%s, task_type=%s) checkpoints:\n", m.ID, m.RiskLevel, m.TaskType)
	for _, c := range m.Checkpoints {
		fmt.Fprintf(&b, "- %s: %s", c.Name, c.Status)
		if c.Notes != "" {
			fmt.Fprintf(&b, " (%s)", c.Notes)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// extractJSON trims any leading/trailing prose a provider might add around
// the JSON object despite the system prompt's instruction, by slicing from
// the first '{' to the last '}'.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start == -1 || end == -1 || end < start {
		return s
	}
	return s[start : end+1]
}

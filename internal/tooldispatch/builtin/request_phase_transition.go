package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nostrswarm/conductor/internal/tooldispatch"
	"github.com/nostrswarm/conductor/pkg/nostrcore"
)

// RequestPhaseTransitionArgs is request_phase_transition's argument struct.
// TaskType and RiskLevel are only consulted when To is "execute": they let
// the requesting agent classify the work so Supervisor can open a
// SupervisionTask (spec.md §4.8) for it; omitting TaskType means the work
// is not supervised at all, matching spec.md's "for each conversation that
// enters a supervised task type" — not every conversation's execute phase
// is one.
type RequestPhaseTransitionArgs struct {
	To        string `json:"to" jsonschema:"required,enum=chat|plan|execute|review|reflect|done,description=The phase to move the conversation into."`
	Reason    string `json:"reason" jsonschema:"required,description=Why this transition is being requested."`
	TaskType  string `json:"task_type,omitempty" jsonschema:"enum=code_generation|system_modification|multi_step_operation|data_processing|default,description=When moving to execute: the supervised task type to open a SupervisionTask for. Omit if this work is not supervised."`
	RiskLevel string `json:"risk_level,omitempty" jsonschema:"enum=low|medium|high,description=When moving to execute with a task_type: how strictly completeSupervision should judge the task. Defaults to medium."`
}

// RequestPhaseTransition validates and, if legal, applies a phase change
// under the conversation's lock (spec.md §4.5, §4.7). Entering execute with
// a task_type opens a SupervisionTask and records its milestone id onto the
// conversation so a later exit from review can resolve Supervisor's
// decision for it.
func RequestPhaseTransition(deps Deps) tooldispatch.Tool {
	return tooldispatch.Tool{
		Name:        "request_phase_transition",
		Description: "Request that the conversation move to a different phase.",
		Schema:      tooldispatch.GenerateSchema[RequestPhaseTransitionArgs](),
		EffectClass: nostrcore.EffectPublish,
		Handler: func(ctx context.Context, agent *nostrcore.Agent, conversationID string, raw json.RawMessage) (string, error) {
			var args RequestPhaseTransitionArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return "", err
			}
			newPhase := nostrcore.Phase(args.To)

			var applied string
			var enteredExecute bool
			err := deps.Conversations.WithLock(ctx, conversationID, func(conv *nostrcore.Conversation) error {
				milestoneID := ""
				if n := len(conv.Milestones); n > 0 {
					milestoneID = conv.Milestones[n-1]
				}

				result, err := deps.Phases.RequestTransition(conv, newPhase, agent.Slug, args.Reason, milestoneID, conv.LastActivityAt)
				if err != nil {
					return err
				}
				conv.Phase = result.To
				enteredExecute = result.To == nostrcore.PhaseExecute
				applied = fmt.Sprintf("transitioned %s -> %s", result.From, result.To)
				return nil
			})
			if err != nil {
				return "", err
			}

			if enteredExecute && args.TaskType != "" && deps.Tasks != nil {
				riskLevel := nostrcore.RiskLevel(args.RiskLevel)
				if riskLevel == "" {
					riskLevel = nostrcore.RiskMedium
				}
				milestone := deps.Tasks.StartTask(conversationID, agent.Slug, nostrcore.TaskType(args.TaskType), riskLevel, 0)
				if err := deps.Conversations.AddMilestone(ctx, conversationID, milestone.ID); err != nil {
					return "", err
				}
			}

			return applied, nil
		},
	}
}

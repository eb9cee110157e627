package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nostrswarm/conductor/internal/tooldispatch"
	"github.com/nostrswarm/conductor/pkg/nostrcore"
)

// CompleteMilestoneArgs is complete_milestone's argument struct.
type CompleteMilestoneArgs struct {
	MilestoneID string `json:"milestone_id" jsonschema:"required,description=The id of the milestone to close out."`
}

// CompleteMilestone asks Supervisor to finalize a milestone and reports its
// SupervisionResult back to the calling agent.
func CompleteMilestone(deps Deps) tooldispatch.Tool {
	return tooldispatch.Tool{
		Name:        "complete_milestone",
		Description: "Mark a milestone as complete and receive the supervisor's pass/fail verdict.",
		Schema:      tooldispatch.GenerateSchema[CompleteMilestoneArgs](),
		EffectClass: nostrcore.EffectWrite,
		Handler: func(ctx context.Context, agent *nostrcore.Agent, conversationID string, raw json.RawMessage) (string, error) {
			var args CompleteMilestoneArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return "", err
			}
			result, err := deps.Milestones.CompleteMilestone(ctx, args.MilestoneID, agent.PubKey)
			if err != nil {
				return "", err
			}
			if result.Passed {
				return "milestone passed", nil
			}
			return fmt.Sprintf("milestone failed: %v", result.Issues), nil
		},
	}
}

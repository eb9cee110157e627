package builtin

import (
	"context"
	"encoding/json"

	"github.com/nostrswarm/conductor/internal/eventbus"
	"github.com/nostrswarm/conductor/internal/tooldispatch"
	"github.com/nostrswarm/conductor/pkg/nostrcore"
)

// PublishStatusArgs is publish_status's argument struct.
type PublishStatusArgs struct {
	Status string `json:"status" jsonschema:"required,description=Short human-readable status update for the rest of the team."`
}

// PublishStatus publishes a kind-1 status event tagged to the conversation.
func PublishStatus(deps Deps) tooldispatch.Tool {
	return tooldispatch.Tool{
		Name:        "publish_status",
		Description: "Publish a short status update visible to the rest of the team.",
		Schema:      tooldispatch.GenerateSchema[PublishStatusArgs](),
		EffectClass: nostrcore.EffectPublish,
		Handler: func(ctx context.Context, agent *nostrcore.Agent, conversationID string, raw json.RawMessage) (string, error) {
			var args PublishStatusArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return "", err
			}
			tags := nostrcore.Tags{{"e", conversationID}}
			if _, err := deps.Bus.Publish(ctx, agent.PubKey, eventbus.KindStatus, args.Status, tags); err != nil {
				return "", err
			}
			return "status published", nil
		},
	}
}

package builtin

import (
	"context"
	"encoding/json"

	"github.com/nostrswarm/conductor/internal/eventbus"
	"github.com/nostrswarm/conductor/internal/tooldispatch"
	"github.com/nostrswarm/conductor/pkg/nostrcore"
)

// PublishTypingArgs is publish_typing's argument struct.
type PublishTypingArgs struct {
	State string `json:"state" jsonschema:"required,enum=start|stop,description=Whether the agent is starting or stopping a visible typing indicator."`
}

// PublishTyping publishes the kind-24111/24112 typing-indicator pair.
func PublishTyping(deps Deps) tooldispatch.Tool {
	return tooldispatch.Tool{
		Name:        "publish_typing",
		Description: "Signal to the rest of the team that this agent is (or is no longer) composing a reply.",
		Schema:      tooldispatch.GenerateSchema[PublishTypingArgs](),
		EffectClass: nostrcore.EffectPublish,
		Handler: func(ctx context.Context, agent *nostrcore.Agent, conversationID string, raw json.RawMessage) (string, error) {
			var args PublishTypingArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return "", err
			}
			kind := eventbus.KindTypingStart
			if args.State == "stop" {
				kind = eventbus.KindTypingStop
			}
			tags := nostrcore.Tags{{"e", conversationID}}
			if _, err := deps.Bus.Publish(ctx, agent.PubKey, kind, "", tags); err != nil {
				return "", err
			}
			return "typing " + args.State, nil
		},
	}
}

package builtin

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/nostrswarm/conductor/internal/tooldispatch"
	"github.com/nostrswarm/conductor/pkg/nostrcore"
)

// ReadConversationHistoryArgs is read_conversation_history's argument struct.
type ReadConversationHistoryArgs struct {
	Limit int `json:"limit,omitempty" jsonschema:"description=Maximum number of most-recent history entries to return (default 20)."`
}

const defaultHistoryLimit = 20

// ReadConversationHistory is the mandatory read-only introspection tool
// (spec.md §4.7), a snapshot of a conversation's append-only history taken
// under its lock so it never races a concurrent turn's writes.
func ReadConversationHistory(deps Deps) tooldispatch.Tool {
	return tooldispatch.Tool{
		Name:        "read_conversation_history",
		Description: "Read the most recent events exchanged in this conversation.",
		Schema:      tooldispatch.GenerateSchema[ReadConversationHistoryArgs](),
		EffectClass: nostrcore.EffectRead,
		Handler: func(ctx context.Context, agent *nostrcore.Agent, conversationID string, raw json.RawMessage) (string, error) {
			var args ReadConversationHistoryArgs
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &args); err != nil {
					return "", err
				}
			}
			limit := args.Limit
			if limit <= 0 {
				limit = defaultHistoryLimit
			}

			var lines []string
			err := deps.Conversations.WithLock(ctx, conversationID, func(conv *nostrcore.Conversation) error {
				entries := conv.History
				if len(entries) > limit {
					entries = entries[len(entries)-limit:]
				}
				lines = make([]string, 0, len(entries))
				for _, h := range entries {
					direction := "in"
					if h.Outbound {
						direction = "out"
					}
					lines = append(lines, direction+" "+h.Event.PubKey+": "+h.Event.Content)
				}
				return nil
			})
			if err != nil {
				return "", err
			}
			return strings.Join(lines, "\n"), nil
		},
	}
}

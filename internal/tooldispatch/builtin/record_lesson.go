package builtin

import (
	"context"
	"encoding/json"

	"github.com/nostrswarm/conductor/internal/tooldispatch"
	"github.com/nostrswarm/conductor/pkg/nostrcore"
)

// RecordLessonArgs is record_lesson's argument struct. The handler itself
// only validates and acknowledges the call; ReflectionSystem observes it via
// Dispatcher's post-invoke hook and performs the actual publish (spec.md
// §4.9), so the lesson survives even if the turn's own publish step fails.
type RecordLessonArgs struct {
	Title  string `json:"title" jsonschema:"required,description=Short title for the lesson."`
	Lesson string `json:"lesson" jsonschema:"required,description=The lesson learned, in full."`
}

// RecordLesson registers the intent to publish a lesson; the publish itself
// happens out of band via ReflectionSystem.
func RecordLesson(deps Deps) tooldispatch.Tool {
	return tooldispatch.Tool{
		Name:        "record_lesson",
		Description: "Record a lesson learned during this conversation for the rest of the team to see.",
		Schema:      tooldispatch.GenerateSchema[RecordLessonArgs](),
		EffectClass: nostrcore.EffectPublish,
		Handler: func(ctx context.Context, agent *nostrcore.Agent, conversationID string, raw json.RawMessage) (string, error) {
			var args RecordLessonArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return "", err
			}
			return "lesson recorded: " + args.Title, nil
		},
	}
}

// Package reflection implements the ReflectionSystem of spec.md §4.9: it
// observes the tool-dispatch stream for record_lesson invocations and
// publishes a Lesson under the invoking agent's identity, fire-and-forget
// with one retry.
//
// Grounded on the teacher's internal/agent/event_sink.go observer family
// (EventSink/CallbackSink in particular): a single-purpose callback wired
// into the runtime's event stream rather than a polling consumer. Dispatcher
// already does the fan-out (tooldispatch.PostInvokeHook runs every
// registered hook after each call), so ReflectionSystem only needs to
// provide one hook and filter it to the call it cares about — there is no
// multi-sink fan-out to build here, unlike the teacher's MultiSink, since
// Dispatcher itself is the fan-out point.
package reflection

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nostrswarm/conductor/internal/eventbus"
	"github.com/nostrswarm/conductor/internal/tooldispatch"
	"github.com/nostrswarm/conductor/pkg/nostrcore"
)

// recordLessonArgs mirrors builtin.RecordLessonArgs's wire shape. Declared
// locally rather than imported: ReflectionSystem only needs the JSON
// contract, not a Go type identity shared with the tool's own package.
type recordLessonArgs struct {
	Title  string `json:"title"`
	Lesson string `json:"lesson"`
}

// System is the ReflectionSystem of spec.md §4.9.
type System struct {
	bus    eventbus.Bus
	logger *slog.Logger
	clock  func() time.Time
}

// New constructs a System publishing through bus.
func New(bus eventbus.Bus, logger *slog.Logger) *System {
	if logger == nil {
		logger = slog.Default()
	}
	return &System{bus: bus, logger: logger.With("component", "reflection"), clock: time.Now}
}

// Hook returns the tooldispatch.PostInvokeHook to register with a
// Dispatcher; it filters to successful record_lesson calls and publishes
// the resulting Lesson in its own goroutine so a slow/failed publish never
// blocks the turn that recorded it.
func (s *System) Hook() tooldispatch.PostInvokeHook {
	return func(agent *nostrcore.Agent, conversationID string, call nostrcore.ToolCall, result nostrcore.ToolResult) {
		if call.Name != "record_lesson" || result.Status != nostrcore.ToolOK {
			return
		}

		var args recordLessonArgs
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			s.logger.Warn("record_lesson call had unparseable arguments", "error", err, "conversation", conversationID)
			return
		}

		lesson := nostrcore.Lesson{
			AgentID:         agent.PubKey,
			Title:           args.Title,
			Body:            args.Lesson,
			AgentDefEventID: agent.DefinitionEventID,
			CreatedAt:       s.clock(),
		}

		go s.publish(agent.PubKey, lesson)
	}
}

// publish sends lesson under authorPubKey's identity, retrying exactly once
// on failure (spec.md §4.9: "fire-and-forget with one retry").
func (s *System) publish(authorPubKey string, lesson nostrcore.Lesson) {
	tags := nostrcore.Tags{{"title", lesson.Title}}
	if lesson.ReferenceEvent != "" {
		tags = append(tags, nostrcore.Tag{"e", lesson.ReferenceEvent})
	}
	if lesson.AgentDefEventID != "" {
		tags = append(tags, nostrcore.Tag{"e", lesson.AgentDefEventID})
	}

	ctx := context.Background()
	if _, err := s.bus.Publish(ctx, authorPubKey, eventbus.KindAgentLesson, lesson.Body, tags); err == nil {
		return
	}

	if _, err := s.bus.Publish(ctx, authorPubKey, eventbus.KindAgentLesson, lesson.Body, tags); err != nil {
		s.logger.Warn("failed to publish lesson after retry", "error", err, "agent", authorPubKey, "title", lesson.Title)
	}
}

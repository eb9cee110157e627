// Package builtin provides the mandatory tools spec.md §4.7 requires every
// implementation to register: publish_status, publish_typing, record_lesson,
// request_phase_transition, complete_milestone, and read_conversation_history.
//
// Grounded on the teacher's functiontool-constructed tools
// (pkg/tool/webtool/web_request.go, pkg/tool/todotool/todo.go in
// kadirpekel-hector): one argument struct per tool, reflected into a schema
// with tooldispatch.GenerateSchema, closing over the dependencies the
// handler needs rather than reaching for package-level state.
package builtin

import (
	"context"
	"time"

	"github.com/nostrswarm/conductor/internal/convo"
	"github.com/nostrswarm/conductor/internal/eventbus"
	"github.com/nostrswarm/conductor/internal/phase"
	"github.com/nostrswarm/conductor/internal/tooldispatch"
	"github.com/nostrswarm/conductor/pkg/nostrcore"
)

// MilestoneCompleter is the surface complete_milestone needs from Supervisor.
// Declared here rather than imported, so builtin does not depend on
// internal/supervisor directly; *supervisor.Supervisor satisfies it.
type MilestoneCompleter interface {
	CompleteMilestone(ctx context.Context, milestoneID, agentPubKey string) (nostrcore.SupervisionResult, error)
}

// TaskStarter is the surface request_phase_transition needs from Supervisor
// to open a SupervisionTask (spec.md §4.8: "for each conversation that
// enters a supervised task type") the moment a conversation actually enters
// execute, rather than never starting one at all.
type TaskStarter interface {
	StartTask(conversationID, agentID string, taskType nostrcore.TaskType, riskLevel nostrcore.RiskLevel, maxDuration time.Duration) *nostrcore.Milestone
}

// Deps wires the built-in tools to the live runtime.
type Deps struct {
	Bus           eventbus.Bus
	Conversations *convo.Store
	Phases        *phase.Machine
	Milestones    MilestoneCompleter
	Tasks         TaskStarter
}

// RegisterAll registers every mandatory built-in tool with d.
func RegisterAll(d *tooldispatch.Dispatcher, deps Deps) {
	d.Register(PublishStatus(deps))
	d.Register(PublishTyping(deps))
	d.Register(RecordLesson(deps))
	d.Register(RequestPhaseTransition(deps))
	d.Register(CompleteMilestone(deps))
	d.Register(ReadConversationHistory(deps))
}

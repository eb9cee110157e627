package phase

import (
	"fmt"
	"time"

	"github.com/nostrswarm/conductor/internal/coreerr"
	"github.com/nostrswarm/conductor/pkg/nostrcore"
)

// Decider is consulted on every transition request: an open intervention
// blocks the transition, and while the conversation is in Review only the
// decision's matching target phase may be driven through (spec.md §4.5).
// Implemented by internal/supervisor to
// avoid an import cycle between phase and supervisor.
type Decider interface {
	// LatestDecision returns the most recent supervision decision recorded
	// for milestoneID, and whether one exists.
	LatestDecision(milestoneID string) (nostrcore.SupervisionDecision, bool)

	// InterventionRequired reports whether the owning task has an open
	// intervention that must block any transition (spec.md §4.5).
	InterventionRequired(milestoneID string) bool
}

// TransitionLog receives a record of every executed transition, with the
// duration since the conversation's prior transition (spec.md §4.5). This is
// conductor's hook into ExecutionLogger's phase_transition_executed event.
type TransitionLog interface {
	TransitionExecuted(convID string, from, to Phase, decisionBy, reason string, sinceLast time.Duration)
}

// Result is requestTransition's outcome.
type Result struct {
	Applied bool
	From    Phase
	To      Phase
}

// decisionToTarget maps a Review-phase supervision decision to the single
// phase it is allowed to drive the machine toward (spec.md §4.5: "review ->
// reflect, review -> execute (on reject), review -> done (on approve)"; a
// revise verdict sends the conversation through ReflectionSystem before any
// further work, hence -> reflect). DecisionEscalate has no entry: escalation
// blocks a transition via InterventionRequired rather than driving one.
var decisionToTarget = map[nostrcore.Decision]Phase{
	nostrcore.DecisionApprove: Done,
	nostrcore.DecisionReject:  Execute,
	nostrcore.DecisionRevise:  Reflect,
}

// Machine owns phase transitions for one conversation's lifetime worth of
// requests; it holds no per-conversation state itself (nostrcore.Conversation
// owns the current phase) so a single Machine can serve every conversation.
type Machine struct {
	decider Decider
	log     TransitionLog
}

// New creates a Machine. decider and log may be nil; a nil decider means
// Review-phase transitions are never gated by a supervisor decision (useful
// in tests exercising the lattice alone).
func New(decider Decider, log TransitionLog) *Machine {
	return &Machine{decider: decider, log: log}
}

// RequestTransition validates and, if legal, returns a Result describing the
// transition the caller should apply to its Conversation. It does not mutate
// the conversation itself — callers apply Result.To under the conversation's
// lock, matching spec.md's "atomically update conv.phase" requirement, which
// only the lock owner (internal/convo) can guarantee.
func (m *Machine) RequestTransition(conv *nostrcore.Conversation, newPhase Phase, decisionBy, reason, milestoneID string, lastTransitionAt time.Time) (Result, error) {
	if conv == nil {
		return Result{}, fmt.Errorf("phase: nil conversation")
	}
	from := conv.Phase

	if !Legal(from, newPhase) {
		return Result{}, fmt.Errorf("%w: %s -> %s", coreerr.ErrIllegalPhase, from, newPhase)
	}

	if m.decider != nil && m.decider.InterventionRequired(milestoneID) {
		return Result{}, coreerr.ErrInterventionRequired
	}

	if from == Review && m.decider != nil {
		decision, ok := m.decider.LatestDecision(milestoneID)
		if !ok {
			return Result{}, fmt.Errorf("%w: no supervision decision recorded for review exit", coreerr.ErrIllegalPhase)
		}
		target, driven := decisionToTarget[decision.Decision]
		if !driven || target != newPhase {
			return Result{}, fmt.Errorf("%w: decision %q does not permit %s -> %s", coreerr.ErrIllegalPhase, decision.Decision, from, newPhase)
		}
	}

	if m.log != nil {
		since := time.Duration(0)
		if !lastTransitionAt.IsZero() {
			since = time.Since(lastTransitionAt)
		}
		m.log.TransitionExecuted(conv.ID, from, newPhase, decisionBy, reason, since)
	}

	return Result{Applied: true, From: from, To: newPhase}, nil
}

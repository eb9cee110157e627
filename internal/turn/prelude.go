package turn

import "github.com/nostrswarm/conductor/pkg/nostrcore"

// phasePreludes are the short scripted per-phase instructions appended to an
// agent's system prompt (spec.md §4.6 step 2b: "a short scripted instruction
// per phase").
var phasePreludes = map[nostrcore.Phase]string{
	nostrcore.PhaseChat: "The conversation is in the chat phase. Clarify scope and intent with " +
		"the user; do not propose a plan or touch the execute-phase tools yet.",
	nostrcore.PhasePlan: "The conversation is in the plan phase. Lay out the concrete steps the " +
		"team will take. Call request_phase_transition to move to execute once the plan is agreed.",
	nostrcore.PhaseExecute: "The conversation is in the execute phase. Carry out the plan, recording " +
		"checkpoints and milestones as you complete them.",
	nostrcore.PhaseReview: "The conversation is in the review phase. Evaluate the work against the " +
		"plan and checkpoints; request a transition to reflect, execute, or done based on the outcome.",
	nostrcore.PhaseReflect: "The conversation is in the reflect phase. Record any lessons worth " +
		"keeping with record_lesson before the conversation closes.",
	nostrcore.PhaseDone: "The conversation is done. Only respond if directly addressed.",
}

func phasePrelude(p nostrcore.Phase) string {
	return phasePreludes[p]
}

// Package phase implements the conversation phase lattice and the gatekeeper
// that validates phase transition requests (spec.md §4.5), grounded in the
// teacher's small, explicit state-transition style used for job status in
// internal/jobs.
package phase

import "github.com/nostrswarm/conductor/pkg/nostrcore"

// Phase re-exports nostrcore.Phase for readability within this package.
type Phase = nostrcore.Phase

const (
	Chat    = nostrcore.PhaseChat
	Plan    = nostrcore.PhasePlan
	Execute = nostrcore.PhaseExecute
	Review  = nostrcore.PhaseReview
	Reflect = nostrcore.PhaseReflect
	Done    = nostrcore.PhaseDone
)

// lattice enumerates every legal edge in the phase graph (spec.md §4.5).
// Built once at init so Reachable/Legal never allocate.
var lattice = map[Phase]map[Phase]bool{
	Chat:    {Plan: true, Done: true},
	Plan:    {Execute: true, Chat: true},
	Execute: {Review: true, Plan: true},
	Review:  {Reflect: true, Execute: true, Done: true},
	Reflect: {Done: true},
	Done:    {},
}

// Legal reports whether the from->to edge exists in the lattice.
func Legal(from, to Phase) bool {
	edges, ok := lattice[from]
	if !ok {
		return false
	}
	return edges[to]
}

// Reachable reports whether to is reachable from Chat via lattice edges.
// Used by tests to verify Testable Property #1: every conversation's phase
// is, at all times, reachable from chat.
func Reachable(to Phase) bool {
	seen := map[Phase]bool{}
	var walk func(p Phase) bool
	walk = func(p Phase) bool {
		if p == to {
			return true
		}
		if seen[p] {
			return false
		}
		seen[p] = true
		for next := range lattice[p] {
			if walk(next) {
				return true
			}
		}
		return false
	}
	return walk(Chat)
}

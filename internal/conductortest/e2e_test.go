package conductortest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nostrswarm/conductor/internal/eventbus"
	"github.com/nostrswarm/conductor/pkg/nostrcore"
)

// TestScenarioA_MinimalChatRoundTrip is spec.md §8 Scenario A, run through
// the real registry/router/team-formation/turn-runner/dispatcher wiring
// instead of a bare TurnRunner: one kind-11 event from a whitelisted user,
// the orchestrator wins team lead and replies once.
func TestScenarioA_MinimalChatRoundTrip(t *testing.T) {
	f := newFixture(t,
		classifierStep("orchestrator"),
		textStep("Hi, what shall we build?"),
	)

	trigger := nostrcore.Event{
		ID:      "root-a",
		PubKey:  "npub1operator",
		Kind:    eventbus.KindChatMessage,
		Content: "Hello",
	}
	f.route(t, trigger, 3)

	published := f.bus.snapshot()
	require.Len(t, published, 3)
	assert.Equal(t, []int{eventbus.KindTypingStart, eventbus.KindThreadReply, eventbus.KindTypingStop}, f.bus.kindsInOrder())
	assert.Equal(t, "Hi, what shall we build?", published[1].content)

	orchestrator, ok := f.registry.Orchestrator()
	require.True(t, ok)
	assert.Equal(t, orchestrator.PubKey, published[1].pubkey)

	conv, ok := f.store.Get("root-a")
	require.True(t, ok)
	assert.Equal(t, nostrcore.PhaseChat, conv.Phase)
	assert.Len(t, conv.History, 2, "inbound trigger plus outbound reply")
	assert.Equal(t, orchestrator.PubKey, conv.Team.LeadID)
}

// TestScenarioB_PhaseTransitionViaTool is spec.md §8 Scenario B: the
// orchestrator calls request_phase_transition{to:"plan"} and the
// conversation's phase actually advances, end to end through the real
// PhaseMachine and Dispatcher rather than a mocked Phases dependency.
func TestScenarioB_PhaseTransitionViaTool(t *testing.T) {
	f := newFixture(t,
		classifierStep("orchestrator"),
		toolCallStep("request_phase_transition", "call-1", `{"to":"plan","reason":"user ready"}`),
		textStep("Planning now."),
	)

	trigger := nostrcore.Event{
		ID:      "root-b",
		PubKey:  "npub1operator",
		Kind:    eventbus.KindChatMessage,
		Content: "Start building",
	}
	f.route(t, trigger, 3)

	published := f.bus.snapshot()
	var replies int
	for _, p := range published {
		if p.kind == eventbus.KindThreadReply {
			replies++
			assert.Equal(t, "Planning now.", p.content)
		}
	}
	assert.Equal(t, 1, replies)

	conv, ok := f.store.Get("root-b")
	require.True(t, ok)
	assert.Equal(t, nostrcore.PhasePlan, conv.Phase)
}

package turn

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nostrswarm/conductor/internal/convo"
	"github.com/nostrswarm/conductor/internal/coreerr"
	"github.com/nostrswarm/conductor/internal/eventbus"
	"github.com/nostrswarm/conductor/internal/llm"
	"github.com/nostrswarm/conductor/internal/router"
	"github.com/nostrswarm/conductor/internal/tooldispatch"
	"github.com/nostrswarm/conductor/pkg/nostrcore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type publishedEvent struct {
	pubkey  string
	kind    int
	content string
	tags    nostrcore.Tags
}

type stubBus struct {
	published []publishedEvent
}

func (b *stubBus) Start(context.Context, eventbus.Handler) error { return nil }

func (b *stubBus) Publish(_ context.Context, pubkey string, kind int, content string, tags nostrcore.Tags) (eventbus.PublishAck, error) {
	b.published = append(b.published, publishedEvent{pubkey, kind, content, tags})
	return eventbus.PublishAck{EventID: "reply-" + content}, nil
}

func (b *stubBus) PublishProfile(context.Context, *nostrcore.Agent) error { return nil }
func (b *stubBus) Stop(context.Context) error                             { return nil }

func (b *stubBus) kindsInOrder() []int {
	var out []int
	for _, p := range b.published {
		out = append(out, p.kind)
	}
	return out
}

// turnStep is one queued outcome for sequencedProvider.Complete.
type turnStep struct {
	chunks []llm.CompletionChunk
	err    error
}

type sequencedProvider struct {
	steps []turnStep
	idx   int
}

func (p *sequencedProvider) Complete(_ context.Context, _ llm.CompletionRequest) (<-chan llm.CompletionChunk, error) {
	if p.idx >= len(p.steps) {
		return nil, errors.New("sequencedProvider: no more steps queued")
	}
	step := p.steps[p.idx]
	p.idx++
	if step.err != nil {
		return nil, step.err
	}
	ch := make(chan llm.CompletionChunk, len(step.chunks)+1)
	for _, c := range step.chunks {
		ch <- c
	}
	if len(step.chunks) == 0 || !step.chunks[len(step.chunks)-1].Done {
		ch <- llm.CompletionChunk{Done: true}
	}
	close(ch)
	return ch, nil
}

func (p *sequencedProvider) Name() string          { return "sequenced" }
func (p *sequencedProvider) SupportsTools() bool    { return true }
func (p *sequencedProvider) Models() []llm.ModelInfo { return nil }

func textStep(text string) turnStep {
	return turnStep{chunks: []llm.CompletionChunk{{Text: text, Done: true}}}
}

func toolCallStep(name, id, args string) turnStep {
	return turnStep{chunks: []llm.CompletionChunk{
		{ToolCall: &nostrcore.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}, Done: true},
	}}
}

func testAgent() *nostrcore.Agent {
	return &nostrcore.Agent{
		Slug:          "orchestrator",
		PubKey:        "orch-pub",
		Instructions:  "You are the orchestrator.",
		ToolAllowList: map[string]bool{"echo": true, "read_history": true},
	}
}

func newFixture(provider llm.Provider) (*Runner, *stubBus, *convo.Store) {
	store := convo.New()
	bus := &stubBus{}
	dispatcher := tooldispatch.New(store)
	presets := StaticPresets{"default": {Provider: provider, Model: "test-model", ContextSize: 8192, MaxTokens: 1024}}
	r := New(dispatcher, bus, store, presets, Config{DefaultPreset: "default", RetrySchedule: []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}})
	return r, bus, store
}

func seedConversation(t *testing.T, store *convo.Store, convID string, trigger nostrcore.Event) {
	t.Helper()
	store.GetOrCreate(convID, trigger.PubKey)
	require.NoError(t, store.AppendInbound(context.Background(), convID, trigger, time.Now()))
}

func TestRunTurn_PublishesTypingReplyTypingInOrder(t *testing.T) {
	provider := &sequencedProvider{steps: []turnStep{textStep("Hi, what shall we build?")}}
	r, bus, store := newFixture(provider)
	agent := testAgent()

	trigger := nostrcore.Event{ID: "root1", PubKey: "user1", Content: "Hello"}
	seedConversation(t, store, "root1", trigger)

	r.RunTurn(context.Background(), router.TurnRequest{ConversationID: "root1", Agent: agent, TriggerEvent: trigger})

	require.Len(t, bus.published, 3)
	assert.Equal(t, []int{eventbus.KindTypingStart, eventbus.KindThreadReply, eventbus.KindTypingStop}, bus.kindsInOrder())
	assert.Equal(t, "Hi, what shall we build?", bus.published[1].content)

	conv, ok := store.Get("root1")
	require.True(t, ok)
	assert.Len(t, conv.History, 2, "inbound trigger plus outbound reply")
	assert.Equal(t, nostrcore.TurnNone, conv.ActiveTurn)
}

func TestRunTurn_InvokesToolThenRepliesOnce(t *testing.T) {
	provider := &sequencedProvider{steps: []turnStep{
		toolCallStep("echo", "call1", `{"text":"hi"}`),
		textStep("Planning now."),
	}}
	r, bus, store := newFixture(provider)

	var invoked int
	r.dispatcher.Register(tooldispatch.Tool{
		Name:        "echo",
		Description: "echoes text",
		Schema:      json.RawMessage(`{"type":"object"}`),
		EffectClass: nostrcore.EffectRead,
		Handler: func(_ context.Context, _ *nostrcore.Agent, _ string, args json.RawMessage) (string, error) {
			invoked++
			return string(args), nil
		},
	})

	agent := testAgent()
	trigger := nostrcore.Event{ID: "root1", PubKey: "user1", Content: "Start building"}
	seedConversation(t, store, "root1", trigger)

	r.RunTurn(context.Background(), router.TurnRequest{ConversationID: "root1", Agent: agent, TriggerEvent: trigger})

	assert.Equal(t, 1, invoked)
	replies := 0
	for _, p := range bus.published {
		if p.kind == eventbus.KindThreadReply {
			replies++
			assert.Equal(t, "Planning now.", p.content)
		}
	}
	assert.Equal(t, 1, replies)
}

func TestRunTurn_ToolBudgetExceededFailsTurn(t *testing.T) {
	var steps []turnStep
	for i := 0; i < 9; i++ {
		steps = append(steps, toolCallStep("read_history", "call", `{}`))
	}
	provider := &sequencedProvider{steps: steps}
	r, bus, store := newFixture(provider)

	var invoked int
	r.dispatcher.Register(tooldispatch.Tool{
		Name:        "read_history",
		Description: "reads history",
		Schema:      json.RawMessage(`{"type":"object"}`),
		EffectClass: nostrcore.EffectRead,
		Handler: func(_ context.Context, _ *nostrcore.Agent, _ string, _ json.RawMessage) (string, error) {
			invoked++
			return "ok", nil
		},
	})

	agent := testAgent()
	trigger := nostrcore.Event{ID: "root1", PubKey: "user1", Content: "go"}
	seedConversation(t, store, "root1", trigger)

	r.RunTurn(context.Background(), router.TurnRequest{ConversationID: "root1", Agent: agent, TriggerEvent: trigger})

	assert.Equal(t, DefaultMaxToolCalls, invoked, "9th call must be refused")

	var sawFailure bool
	for _, p := range bus.published {
		if p.kind == eventbus.KindStatus && p.content == "turn_failed" {
			sawFailure = true
			reason, ok := p.tags.Find("reason")
			require.True(t, ok)
			assert.Equal(t, coreerr.ErrToolBudgetExceeded.Error(), reason.Value())
		}
	}
	assert.True(t, sawFailure)
}

func TestRunTurn_MalformedToolUseGetsOneCorrectiveReprompt(t *testing.T) {
	provider := &sequencedProvider{steps: []turnStep{
		textStep(`<tool_use>{"name": not json}</tool_use>`),
		textStep("Recovered reply."),
	}}
	r, bus, store := newFixture(provider)
	agent := testAgent()
	trigger := nostrcore.Event{ID: "root1", PubKey: "user1", Content: "hi"}
	seedConversation(t, store, "root1", trigger)

	r.RunTurn(context.Background(), router.TurnRequest{ConversationID: "root1", Agent: agent, TriggerEvent: trigger})

	var gotReply bool
	for _, p := range bus.published {
		if p.kind == eventbus.KindThreadReply {
			gotReply = true
			assert.Equal(t, "Recovered reply.", p.content)
		}
	}
	assert.True(t, gotReply, "turn should recover after one corrective re-prompt")
}

func TestRunTurn_MalformedTwiceFailsTurn(t *testing.T) {
	bad := `<tool_use>{"name": not json}</tool_use>`
	provider := &sequencedProvider{steps: []turnStep{textStep(bad), textStep(bad)}}
	r, bus, store := newFixture(provider)
	agent := testAgent()
	trigger := nostrcore.Event{ID: "root1", PubKey: "user1", Content: "hi"}
	seedConversation(t, store, "root1", trigger)

	r.RunTurn(context.Background(), router.TurnRequest{ConversationID: "root1", Agent: agent, TriggerEvent: trigger})

	var sawFailure bool
	for _, p := range bus.published {
		if p.kind == eventbus.KindStatus && p.content == "turn_failed" {
			sawFailure = true
		}
		assert.NotEqual(t, eventbus.KindThreadReply, p.kind, "no reply should be published when the turn fails")
	}
	assert.True(t, sawFailure)
}

func TestRunTurn_RetriesRetryableLLMErrorThenSucceeds(t *testing.T) {
	provider := &sequencedProvider{steps: []turnStep{
		{err: coreerr.ErrLLMRetryable},
		{err: coreerr.ErrLLMRetryable},
		textStep("Recovered after retries."),
	}}
	r, bus, store := newFixture(provider)
	agent := testAgent()
	trigger := nostrcore.Event{ID: "root1", PubKey: "user1", Content: "hi"}
	seedConversation(t, store, "root1", trigger)

	r.RunTurn(context.Background(), router.TurnRequest{ConversationID: "root1", Agent: agent, TriggerEvent: trigger})

	var gotReply bool
	for _, p := range bus.published {
		if p.kind == eventbus.KindThreadReply {
			gotReply = true
			assert.Equal(t, "Recovered after retries.", p.content)
		}
	}
	assert.True(t, gotReply)
}

func TestRunTurn_ExhaustsRetriesAndFailsTurn(t *testing.T) {
	provider := &sequencedProvider{steps: []turnStep{
		{err: coreerr.ErrLLMRetryable},
		{err: coreerr.ErrLLMRetryable},
		{err: coreerr.ErrLLMRetryable},
		{err: coreerr.ErrLLMRetryable},
	}}
	r, bus, store := newFixture(provider)
	agent := testAgent()
	trigger := nostrcore.Event{ID: "root1", PubKey: "user1", Content: "hi"}
	seedConversation(t, store, "root1", trigger)

	r.RunTurn(context.Background(), router.TurnRequest{ConversationID: "root1", Agent: agent, TriggerEvent: trigger})

	var sawFailure bool
	for _, p := range bus.published {
		if p.kind == eventbus.KindStatus && p.content == "turn_failed" {
			sawFailure = true
		}
	}
	assert.True(t, sawFailure)
}

func TestRunTurn_PhaseTransitionToolAppliesSynchronouslyWithinOneTurn(t *testing.T) {
	provider := &sequencedProvider{steps: []turnStep{
		toolCallStep("request_phase_transition", "call1", `{"to":"plan","reason":"user ready"}`),
		textStep("Planning now."),
	}}
	r, bus, store := newFixture(provider)

	r.dispatcher.Register(tooldispatch.Tool{
		Name:        "request_phase_transition",
		Description: "transitions phase",
		Schema:      json.RawMessage(`{"type":"object"}`),
		EffectClass: nostrcore.EffectPublish,
		Handler: func(_ context.Context, _ *nostrcore.Agent, conversationID string, _ json.RawMessage) (string, error) {
			return "transitioned", store.SetPhase(context.Background(), conversationID, nostrcore.PhasePlan)
		},
	})

	agent := testAgent()
	trigger := nostrcore.Event{ID: "root1", PubKey: "user1", Content: "Start building"}
	seedConversation(t, store, "root1", trigger)

	r.RunTurn(context.Background(), router.TurnRequest{ConversationID: "root1", Agent: agent, TriggerEvent: trigger})

	conv, ok := store.Get("root1")
	require.True(t, ok)
	assert.Equal(t, nostrcore.PhasePlan, conv.Phase, "phase transition tool must apply before the turn returns")
	_ = bus
}

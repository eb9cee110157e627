// Package conductortest wires every component the way
// internal/conductor.Runtime does — Registry, EventBus, Conversation
// store, PhaseMachine, ToolDispatcher with its built-ins, Supervisor,
// TeamFormation, TurnRunner, Router — behind a deterministic stub bus
// and a scripted LLM stub, and runs Scenarios A and B of spec.md §8's
// lettered end-to-end scenarios against the assembled whole.
//
// The individual components already have focused unit coverage for these
// scenarios (internal/turn's runner_test.go covers A, B and D against a bare
// TurnRunner, internal/tooldispatch/builtin's builtin_test.go covers C,
// internal/supervisor's supervisor_test.go covers E,
// internal/reflection's reflection_test.go covers F); this package exists
// because spec.md §8 frames the scenarios as properties of the whole
// routed system — team formation picking an addressee, the router
// enqueuing onto the right conversation, and the turn then running — not
// of any one package in isolation.
package conductortest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/require"

	"github.com/nostrswarm/conductor/internal/convo"
	"github.com/nostrswarm/conductor/internal/eventbus"
	"github.com/nostrswarm/conductor/internal/execlog"
	"github.com/nostrswarm/conductor/internal/llm"
	"github.com/nostrswarm/conductor/internal/phase"
	"github.com/nostrswarm/conductor/internal/registry"
	"github.com/nostrswarm/conductor/internal/reflection"
	"github.com/nostrswarm/conductor/internal/router"
	"github.com/nostrswarm/conductor/internal/supervisor"
	"github.com/nostrswarm/conductor/internal/teamformation"
	"github.com/nostrswarm/conductor/internal/tooldispatch"
	"github.com/nostrswarm/conductor/internal/tooldispatch/builtin"
	"github.com/nostrswarm/conductor/internal/turn"
	"github.com/nostrswarm/conductor/pkg/nostrcore"

	"github.com/prometheus/client_golang/prometheus"
)

// publishedEvent is one call the stub bus recorded.
type publishedEvent struct {
	pubkey  string
	kind    int
	content string
	tags    nostrcore.Tags
}

// stubBus is a synchronous, in-memory eventbus.Bus, grounded on the same
// shape internal/turn/runner_test.go's stubBus uses: Publish appends
// instead of touching a relay, PublishProfile satisfies registry.Publisher
// directly (no SignerResolver indirection needed since nothing here signs
// anything).
type stubBus struct {
	mu        sync.Mutex
	published []publishedEvent
}

func (b *stubBus) Start(context.Context, eventbus.Handler) error { return nil }

func (b *stubBus) Publish(_ context.Context, pubkey string, kind int, content string, tags nostrcore.Tags) (eventbus.PublishAck, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, publishedEvent{pubkey, kind, content, tags})
	return eventbus.PublishAck{EventID: fmt.Sprintf("evt-%d", len(b.published))}, nil
}

func (b *stubBus) PublishProfile(context.Context, *nostrcore.Agent) error { return nil }
func (b *stubBus) Stop(context.Context) error                             { return nil }

func (b *stubBus) kindsInOrder() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]int, len(b.published))
	for i, p := range b.published {
		out[i] = p.kind
	}
	return out
}

func (b *stubBus) snapshot() []publishedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]publishedEvent(nil), b.published...)
}

// memIdentityStore mints deterministic, in-memory identities, grounded on
// internal/config/service_test.go's memIdentityStore fake.
type memIdentityStore struct {
	mu   sync.Mutex
	recs map[string]registry.IdentityRecord
}

func newMemIdentityStore() *memIdentityStore {
	return &memIdentityStore{recs: map[string]registry.IdentityRecord{}}
}

func (m *memIdentityStore) GetOrCreate(_ context.Context, slug string) (registry.IdentityRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.recs[slug]; ok {
		return rec, nil
	}
	rec := registry.IdentityRecord{Slug: slug, PubKey: "pub-" + slug, PrivateKey: "priv-" + slug}
	m.recs[slug] = rec
	return rec, nil
}

func (m *memIdentityStore) Get(_ context.Context, slug string) (registry.IdentityRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[slug]
	return rec, ok, nil
}

func (m *memIdentityStore) List(context.Context) ([]registry.IdentityRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]registry.IdentityRecord, 0, len(m.recs))
	for _, r := range m.recs {
		out = append(out, r)
	}
	return out, nil
}

func (m *memIdentityStore) Close() error { return nil }

// scriptedStep is one queued outcome for scriptedProvider.Complete.
type scriptedStep struct {
	chunks []llm.CompletionChunk
	err    error
}

// scriptedProvider is a deterministic llm.Provider that replays a fixed
// sequence of completions regardless of the request passed in — the same
// instance backs both TeamFormation's classifier call and every agent's
// turn, matching the single provider per fixture these tests assemble.
type scriptedProvider struct {
	mu    sync.Mutex
	steps []scriptedStep
	idx   int
}

func (p *scriptedProvider) Complete(_ context.Context, _ llm.CompletionRequest) (<-chan llm.CompletionChunk, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.idx >= len(p.steps) {
		return nil, fmt.Errorf("scriptedProvider: no more steps queued (called %d times)", p.idx+1)
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

func (p *scriptedProvider) Name() string           { return "scripted" }
func (p *scriptedProvider) SupportsTools() bool     { return true }
func (p *scriptedProvider) Models() []llm.ModelInfo { return nil }

func textStep(text string) scriptedStep {
	return scriptedStep{chunks: []llm.CompletionChunk{{Text: text, Done: true}}}
}

func toolCallStep(name, id, args string) scriptedStep {
	return scriptedStep{chunks: []llm.CompletionChunk{
		{ToolCall: &nostrcore.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}, Done: true},
	}}
}

// classifierStep builds TeamFormation's classifier response, scoring
// leadSlug decisively above every other builtin agent so it always wins the
// lead with strategy single_responder (spec.md §4.11's dominance margin).
func classifierStep(leadSlug string) scriptedStep {
	type scored struct {
		Agent     string  `json:"agent"`
		Score     float64 `json:"score"`
		Reasoning string  `json:"reasoning"`
	}
	scores := make([]scored, 0, 4)
	for _, slug := range []string{"orchestrator", "planner", "executor", "reviewer"} {
		score := 0.1
		if slug == leadSlug {
			score = 0.9
		}
		scores = append(scores, scored{Agent: slug, Score: score, Reasoning: "scripted"})
	}
	payload, _ := json.Marshal(struct {
		Scores    []scored `json:"scores"`
		Reasoning string   `json:"reasoning"`
	}{Scores: scores, Reasoning: "scripted lead selection"})
	return textStep(string(payload))
}

// fixture is the fully wired system under test.
type fixture struct {
	bus        *stubBus
	registry   *registry.Registry
	store      *convo.Store
	supervisor *supervisor.Supervisor
	phases     *phase.Machine
	dispatcher *tooldispatch.Dispatcher
	execLog    *execlog.Logger
	router     *router.Router
	provider   *scriptedProvider
}

// newFixture assembles the system with steps queued on the shared
// scriptedProvider in call order: the classifier call TeamFormation makes
// on a conversation's first event always comes first, so callers pass
// classifierStep(leadSlug) followed by each agent turn's own steps.
func newFixture(t *testing.T, steps ...scriptedStep) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	bus := &stubBus{}
	identities := newMemIdentityStore()
	reg := registry.New(identities, bus)
	require.NoError(t, reg.Bootstrap(ctx, nil))

	store := convo.New()
	execLogger := execlog.New(logger, prometheus.NewRegistry())

	cronSched := cron.New()
	sv := supervisor.New(bus, cronSched, logger)
	phaseMachine := phase.New(sv, execLogger)

	dispatcher := tooldispatch.New(store)
	builtin.RegisterAll(dispatcher, builtin.Deps{
		Bus:           bus,
		Conversations: store,
		Phases:        phaseMachine,
		Milestones:    sv,
		Tasks:         sv,
	})

	reflectionSystem := reflection.New(bus, logger)
	dispatcher.OnInvoke(reflectionSystem.Hook())

	provider := &scriptedProvider{steps: steps}
	teamFormer := teamformation.New(reg, provider, "test-model", execLogger)

	presets := turn.StaticPresets{}
	for _, slug := range []string{"orchestrator", "planner", "executor", "reviewer"} {
		presets[slug] = turn.Preset{Provider: provider, Model: "test-model", ContextSize: 8192, MaxTokens: 1024}
	}

	turnRunner := turn.New(dispatcher, bus, store, presets, turn.Config{
		Logger:        logger,
		RetrySchedule: []time.Duration{time.Millisecond, time.Millisecond},
	})

	r := router.New(reg, store, teamFormer, turnRunner, nil)

	return &fixture{
		bus: bus, registry: reg, store: store, supervisor: sv,
		phases: phaseMachine, dispatcher: dispatcher, execLog: execLogger,
		router: r, provider: provider,
	}
}

// route feeds a single inbound event through the router — which itself
// creates the conversation, appends the event, forms the team, and
// enqueues one TurnRequest per addressed agent — and blocks until at
// least wantPublished events have reached the stub bus (the router
// enqueues asynchronously onto a per-conversation goroutine, so tests
// poll for the expected publish count rather than racing it).
func (f *fixture) route(t *testing.T, ev nostrcore.Event, wantPublished int) {
	t.Helper()
	f.router.HandleEvent(context.Background(), ev)

	require.Eventually(t, func() bool {
		return len(f.bus.snapshot()) >= wantPublished
	}, 2*time.Second, 5*time.Millisecond)
}

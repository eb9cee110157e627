package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nostrswarm/conductor/internal/convo"
	"github.com/nostrswarm/conductor/pkg/nostrcore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAgents struct {
	byID map[string]*nostrcore.Agent
	orch *nostrcore.Agent
}

func (s stubAgents) ByID(pubkey string) (*nostrcore.Agent, bool) {
	a, ok := s.byID[pubkey]
	return a, ok
}

func (s stubAgents) Orchestrator() (*nostrcore.Agent, bool) {
	if s.orch == nil {
		return nil, false
	}
	return s.orch, true
}

type stubTeams struct {
	team nostrcore.Team
	err  error
	n    int
}

func (t *stubTeams) FormTeam(context.Context, string, string) (nostrcore.Team, error) {
	t.n++
	return t.team, t.err
}

type recordingRunner struct {
	mu  sync.Mutex
	ran []TurnRequest
}

func (r *recordingRunner) RunTurn(_ context.Context, req TurnRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ran = append(r.ran, req)
}

func (r *recordingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ran)
}

type recordingStatus struct {
	mu       sync.Mutex
	messages []string
}

func (s *recordingStatus) ReportStatus(_ context.Context, _ string, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, message)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestHandleEvent_AddressesExplicitMention(t *testing.T) {
	orchestrator := &nostrcore.Agent{Slug: "orchestrator", PubKey: "orch-pub"}
	reviewer := &nostrcore.Agent{Slug: "reviewer", PubKey: "reviewer-pub"}
	agents := stubAgents{byID: map[string]*nostrcore.Agent{
		"orch-pub":     orchestrator,
		"reviewer-pub": reviewer,
	}, orch: orchestrator}

	store := convo.New()
	teams := &stubTeams{team: nostrcore.Team{LeadID: "orch-pub"}}
	runner := &recordingRunner{}
	r := New(agents, store, teams, runner, nil)

	ev := nostrcore.Event{ID: "root1", PubKey: "user1", Content: "please review", Tags: nostrcore.Tags{{"p", "reviewer-pub"}}}
	r.HandleEvent(context.Background(), ev)

	waitFor(t, func() bool { return runner.count() == 1 })
	assert.Equal(t, "reviewer", runner.ran[0].Agent.Slug)
}

func TestHandleEvent_FallsBackToTeamLead(t *testing.T) {
	orchestrator := &nostrcore.Agent{Slug: "orchestrator", PubKey: "orch-pub"}
	lead := &nostrcore.Agent{Slug: "planner", PubKey: "planner-pub"}
	agents := stubAgents{byID: map[string]*nostrcore.Agent{
		"orch-pub":    orchestrator,
		"planner-pub": lead,
	}, orch: orchestrator}

	store := convo.New()
	conv, _ := store.GetOrCreate("root1", "user1")
	conv.Team = nostrcore.Team{LeadID: "planner-pub"}

	runner := &recordingRunner{}
	r := New(agents, store, nil, runner, nil)

	ev := nostrcore.Event{ID: "e2", PubKey: "user1", Content: "ok continue", Tags: nostrcore.Tags{{"e", "root1"}}}
	r.HandleEvent(context.Background(), ev)

	waitFor(t, func() bool { return runner.count() == 1 })
	assert.Equal(t, "planner", runner.ran[0].Agent.Slug)
}

func TestHandleEvent_ReportsNoAddressableAgents(t *testing.T) {
	agents := stubAgents{byID: map[string]*nostrcore.Agent{}}
	store := convo.New()
	runner := &recordingRunner{}
	status := &recordingStatus{}
	r := New(agents, store, &stubTeams{}, runner, status)

	ev := nostrcore.Event{ID: "root1", PubKey: "user1", Content: "hello"}
	r.HandleEvent(context.Background(), ev)

	waitFor(t, func() bool { return len(status.messages) == 1 })
	assert.Equal(t, 0, runner.count())
}

func TestHandleEvent_TombstonedConversationIsDropped(t *testing.T) {
	agents := stubAgents{}
	store := convo.New()
	conv, _ := store.GetOrCreate("root1", "user1")
	conv.Phase = nostrcore.PhaseDone
	conv.LastActivityAt = time.Now().Add(-2 * convo.DefaultQuiescence)
	store.Sweep(time.Now())
	require.True(t, store.Tombstoned("root1"))

	runner := &recordingRunner{}
	r := New(agents, store, nil, runner, nil)

	ev := nostrcore.Event{ID: "e2", PubKey: "user1", Content: "late arrival", Tags: nostrcore.Tags{{"e", "root1"}}}
	r.HandleEvent(context.Background(), ev)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, runner.count())
}

func TestHandleEvent_FormsTeamOnlyOnce(t *testing.T) {
	orchestrator := &nostrcore.Agent{Slug: "orchestrator", PubKey: "orch-pub"}
	agents := stubAgents{byID: map[string]*nostrcore.Agent{"orch-pub": orchestrator}, orch: orchestrator}
	store := convo.New()
	teams := &stubTeams{team: nostrcore.Team{LeadID: "orch-pub"}}
	runner := &recordingRunner{}
	r := New(agents, store, teams, runner, nil)

	ev1 := nostrcore.Event{ID: "root1", PubKey: "user1", Content: "start"}
	r.HandleEvent(context.Background(), ev1)
	waitFor(t, func() bool { return runner.count() == 1 })

	ev2 := nostrcore.Event{ID: "e2", PubKey: "user1", Content: "continue", Tags: nostrcore.Tags{{"e", "root1"}}}
	r.HandleEvent(context.Background(), ev2)
	waitFor(t, func() bool { return runner.count() == 2 })

	assert.Equal(t, 1, teams.n, "FormTeam should run exactly once per conversation")
}

func TestHandleEvent_SerializesWithinOneConversation(t *testing.T) {
	orchestrator := &nostrcore.Agent{Slug: "orchestrator", PubKey: "orch-pub"}
	agents := stubAgents{byID: map[string]*nostrcore.Agent{"orch-pub": orchestrator}, orch: orchestrator}
	store := convo.New()
	teams := &stubTeams{team: nostrcore.Team{LeadID: "orch-pub"}}

	var mu sync.Mutex
	var order []int
	blocker := make(chan struct{})
	runner := turnRunnerFunc(func(_ context.Context, req TurnRequest) {
		mu.Lock()
		order = append(order, len(order))
		mu.Unlock()
		<-blocker
	})

	r := New(agents, store, teams, runner, nil)
	ev1 := nostrcore.Event{ID: "root1", PubKey: "user1", Content: "start"}
	r.HandleEvent(context.Background(), ev1)

	waitFor(t, func() bool { mu.Lock(); defer mu.Unlock(); return len(order) == 1 })

	ev2 := nostrcore.Event{ID: "e2", PubKey: "user1", Content: "second", Tags: nostrcore.Tags{{"e", "root1"}}}
	r.HandleEvent(context.Background(), ev2)

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 1, len(order), "second turn must not start until the first unblocks")
	mu.Unlock()
	close(blocker)
}

type turnRunnerFunc func(ctx context.Context, req TurnRequest)

func (f turnRunnerFunc) RunTurn(ctx context.Context, req TurnRequest) { f(ctx, req) }

package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nostrswarm/conductor/internal/eventbus"
	"github.com/nostrswarm/conductor/internal/llm"
	"github.com/nostrswarm/conductor/pkg/nostrcore"
)

type stubBus struct {
	published []struct {
		pubkey, content string
		tags            nostrcore.Tags
	}
}

func (b *stubBus) Start(context.Context, eventbus.Handler) error { return nil }

func (b *stubBus) Publish(_ context.Context, pubkey string, _ int, content string, tags nostrcore.Tags) (eventbus.PublishAck, error) {
	b.published = append(b.published, struct {
		pubkey, content string
		tags            nostrcore.Tags
	}{pubkey, content, tags})
	return eventbus.PublishAck{EventID: "ev"}, nil
}

func (b *stubBus) PublishProfile(context.Context, *nostrcore.Agent) error { return nil }
func (b *stubBus) Stop(context.Context) error                            { return nil }

func newTestSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	c := cron.New()
	c.Start()
	t.Cleanup(func() { c.Stop() })
	return New(nil, c, nil)
}

func TestStartTask_SeedsTemplateByType(t *testing.T) {
	s := newTestSupervisor(t)

	m := s.StartTask("conv1", "agent1", nostrcore.TaskCodeGeneration, nostrcore.RiskHigh, time.Hour)
	names := make([]string, len(m.Checkpoints))
	for i, c := range m.Checkpoints {
		names[i] = c.Name
		assert.Equal(t, nostrcore.CheckpointPending, c.Status)
	}
	assert.Equal(t, []string{"Planning", "Implementation", "Testing"}, names)
	assert.Equal(t, nostrcore.MilestoneInProgress, m.Status)
}

func TestStartTask_DefaultTemplateForUnmappedType(t *testing.T) {
	s := newTestSupervisor(t)
	m := s.StartTask("conv1", "agent1", nostrcore.TaskDataProcessing, nostrcore.RiskLow, time.Hour)
	names := make([]string, len(m.Checkpoints))
	for i, c := range m.Checkpoints {
		names[i] = c.Name
	}
	assert.Equal(t, []string{"Start", "Progress", "Completion"}, names)
}

// TestScenarioE_HighRiskSupervisedRejection matches spec.md Scenario E
// exactly: a high-risk code_generation task whose Testing checkpoint fails
// must surface intervention_required and a failing SupervisionResult.
func TestScenarioE_HighRiskSupervisedRejection(t *testing.T) {
	s := newTestSupervisor(t)
	m := s.StartTask("conv1", "agent1", nostrcore.TaskCodeGeneration, nostrcore.RiskHigh, time.Hour)

	require.NoError(t, s.RecordCheckpoint(context.Background(), m.ID, "Planning", nostrcore.CheckpointPassed, ""))
	require.NoError(t, s.RecordCheckpoint(context.Background(), m.ID, "Implementation", nostrcore.CheckpointPassed, ""))
	require.NoError(t, s.RecordCheckpoint(context.Background(), m.ID, "Testing", nostrcore.CheckpointFailed, "unit tests red"))

	assert.True(t, s.InterventionRequired(m.ID))

	result, err := s.CompleteSupervision(context.Background(), m.ID)
	require.NoError(t, err)
	assert.False(t, result.Passed)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, "1 checkpoint(s) failed: Testing", result.Issues[0])
}

func TestRecordCheckpoint_HighRiskFailurePublishesIntervention(t *testing.T) {
	bus := &stubBus{}
	c := cron.New()
	c.Start()
	t.Cleanup(func() { c.Stop() })
	s := New(bus, c, nil)

	m := s.StartTask("conv1", "agent1", nostrcore.TaskCodeGeneration, nostrcore.RiskHigh, time.Hour)
	require.NoError(t, s.RecordCheckpoint(context.Background(), m.ID, "Testing", nostrcore.CheckpointFailed, "boom"))

	require.Len(t, bus.published, 1)
	assert.Equal(t, "intervention_required", bus.published[0].content)
	reason, ok := bus.published[0].tags.Find("reason")
	require.True(t, ok)
	assert.Contains(t, reason.Value(), "Testing")
}

func TestRecordCheckpoint_MediumRiskFailureDoesNotIntervene(t *testing.T) {
	bus := &stubBus{}
	c := cron.New()
	c.Start()
	t.Cleanup(func() { c.Stop() })
	s := New(bus, c, nil)

	m := s.StartTask("conv1", "agent1", nostrcore.TaskSystemModification, nostrcore.RiskMedium, time.Hour)
	require.NoError(t, s.RecordCheckpoint(context.Background(), m.ID, "Backup Check", nostrcore.CheckpointFailed, "boom"))

	assert.Empty(t, bus.published)
	assert.False(t, s.InterventionRequired(m.ID))
}

func TestCompleteSupervision_HighRiskPassesOnlyWhenNoFailedOrPending(t *testing.T) {
	s := newTestSupervisor(t)
	m := s.StartTask("conv1", "agent1", nostrcore.TaskCodeGeneration, nostrcore.RiskHigh, time.Hour)

	require.NoError(t, s.RecordCheckpoint(context.Background(), m.ID, "Planning", nostrcore.CheckpointPassed, ""))
	require.NoError(t, s.RecordCheckpoint(context.Background(), m.ID, "Implementation", nostrcore.CheckpointPassed, ""))
	// "Testing" left pending.

	result, err := s.CompleteSupervision(context.Background(), m.ID)
	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.Contains(t, result.Issues[0], "pending: Testing")
}

func TestCompleteSupervision_MediumRiskPassesWithOnlyPending(t *testing.T) {
	s := newTestSupervisor(t)
	m := s.StartTask("conv1", "agent1", nostrcore.TaskSystemModification, nostrcore.RiskMedium, time.Hour)

	require.NoError(t, s.RecordCheckpoint(context.Background(), m.ID, "Backup Check", nostrcore.CheckpointPassed, ""))

	result, err := s.CompleteSupervision(context.Background(), m.ID)
	require.NoError(t, err)
	assert.True(t, result.Passed, "medium risk only requires no failed checkpoint")
}

func TestCompleteSupervision_LowRiskRequiresAtLeastOnePass(t *testing.T) {
	s := newTestSupervisor(t)
	m := s.StartTask("conv1", "agent1", nostrcore.TaskDefault, nostrcore.RiskLow, time.Hour)

	result, err := s.CompleteSupervision(context.Background(), m.ID)
	require.NoError(t, err)
	assert.False(t, result.Passed, "low risk with nothing passed yet should fail")

	m2 := s.StartTask("conv1", "agent1", nostrcore.TaskDefault, nostrcore.RiskLow, time.Hour)
	require.NoError(t, s.RecordCheckpoint(context.Background(), m2.ID, "Start", nostrcore.CheckpointPassed, ""))
	result2, err := s.CompleteSupervision(context.Background(), m2.ID)
	require.NoError(t, err)
	assert.True(t, result2.Passed)
}

func TestCompleteMilestone_SatisfiesMilestoneCompleterInterface(t *testing.T) {
	s := newTestSupervisor(t)
	m := s.StartTask("conv1", "agent1", nostrcore.TaskDefault, nostrcore.RiskLow, time.Hour)
	require.NoError(t, s.RecordCheckpoint(context.Background(), m.ID, "Start", nostrcore.CheckpointPassed, ""))

	result, err := s.CompleteMilestone(context.Background(), m.ID, "agent1")
	require.NoError(t, err)
	assert.True(t, result.Passed)
}

func TestLatestDecision_AbsentUntilRecorded(t *testing.T) {
	s := newTestSupervisor(t)
	m := s.StartTask("conv1", "agent1", nostrcore.TaskDefault, nostrcore.RiskLow, time.Hour)

	_, ok := s.LatestDecision(m.ID)
	assert.False(t, ok)

	require.NoError(t, s.RecordDecision(m.ID, nostrcore.SupervisionDecision{Decision: nostrcore.DecisionApprove, Confidence: 0.9}))
	decision, ok := s.LatestDecision(m.ID)
	require.True(t, ok)
	assert.Equal(t, nostrcore.DecisionApprove, decision.Decision)
}

func TestRecordDecision_EscalateOrLowConfidenceRaisesIntervention(t *testing.T) {
	s := newTestSupervisor(t)
	m := s.StartTask("conv1", "agent1", nostrcore.TaskDefault, nostrcore.RiskLow, time.Hour)

	require.NoError(t, s.RecordDecision(m.ID, nostrcore.SupervisionDecision{Decision: nostrcore.DecisionApprove, Confidence: 0.3}))
	assert.True(t, s.InterventionRequired(m.ID), "low confidence approve must still escalate per ShouldEscalate")
}

type sequencedDecisionProvider struct {
	text string
}

func (p *sequencedDecisionProvider) Complete(_ context.Context, _ llm.CompletionRequest) (<-chan llm.CompletionChunk, error) {
	ch := make(chan llm.CompletionChunk, 1)
	ch <- llm.CompletionChunk{Text: p.text, Done: true}
	close(ch)
	return ch, nil
}

func (p *sequencedDecisionProvider) Name() string           { return "test" }
func (p *sequencedDecisionProvider) SupportsTools() bool     { return false }
func (p *sequencedDecisionProvider) Models() []llm.ModelInfo { return nil }

func TestMakeDecision_ParsesJSONReplyAndRecords(t *testing.T) {
	s := newTestSupervisor(t)
	m := s.StartTask("conv1", "agent1", nostrcore.TaskCodeGeneration, nostrcore.RiskHigh, time.Hour)
	require.NoError(t, s.RecordCheckpoint(context.Background(), m.ID, "Planning", nostrcore.CheckpointPassed, ""))
	require.NoError(t, s.RecordCheckpoint(context.Background(), m.ID, "Implementation", nostrcore.CheckpointPassed, ""))
	require.NoError(t, s.RecordCheckpoint(context.Background(), m.ID, "Testing", nostrcore.CheckpointPassed, ""))

	provider := &sequencedDecisionProvider{text: `Here is my verdict: {"decision":"approve","confidence":0.95,"reasoning":"all green"} thanks`}
	supervisorAgent := &nostrcore.Agent{Slug: "reviewer", PubKey: "rev-pub"}

	decision, err := s.MakeDecision(context.Background(), m, supervisorAgent, provider, "test-model", "")
	require.NoError(t, err)
	assert.Equal(t, nostrcore.DecisionApprove, decision.Decision)
	assert.InDelta(t, 0.95, decision.Confidence, 0.0001)
	assert.Equal(t, "rev-pub", decision.SupervisorID)

	stored, ok := s.LatestDecision(m.ID)
	require.True(t, ok)
	assert.Equal(t, nostrcore.DecisionApprove, stored.Decision)
}

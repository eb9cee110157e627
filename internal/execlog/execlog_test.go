package execlog

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nostrswarm/conductor/internal/phase"
)

func newTestLogger(t *testing.T) (*Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))
	reg := prometheus.NewRegistry()
	return New(base, reg), &buf
}

func counterValue(t *testing.T, l *Logger, eventType string) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, l.counters.total.WithLabelValues(eventType).Write(m))
	return m.GetCounter().GetValue()
}

func TestRecordAgentThinking_LogsAndIncrementsCounter(t *testing.T) {
	l, buf := newTestLogger(t)
	ctx := WithConversationID(context.Background(), "conv1")

	l.RecordAgentThinking(ctx, "planner", "considering next step")

	assert.Contains(t, buf.String(), "agent_thinking")
	assert.Contains(t, buf.String(), "conv1")
	assert.Equal(t, float64(1), counterValue(t, l, "agent_thinking"))
}

func TestContextHelpers_PropagateCorrelationIDs(t *testing.T) {
	l, buf := newTestLogger(t)
	ctx := context.Background()
	ctx = WithConversationID(ctx, "conv1")
	ctx = WithAgentID(ctx, "agent-a")
	ctx = WithPhase(ctx, phase.Execute)
	ctx = WithRunID(ctx, "run1")

	l.RecordAgentDecision(ctx, "planner", "approve", "looks good")

	out := buf.String()
	for _, want := range []string{"conv1", "agent-a", string(phase.Execute), "run1"} {
		assert.Contains(t, out, want)
	}
}

func TestTransitionExecuted_SatisfiesPhaseTransitionLog(t *testing.T) {
	l, buf := newTestLogger(t)

	var log phase.TransitionLog = l
	log.TransitionExecuted("conv1", phase.Plan, phase.Execute, "supervisor", "approved", 5*time.Second)

	assert.Contains(t, buf.String(), "phase_transition_executed")
	assert.Equal(t, float64(1), counterValue(t, l, "phase_transition_executed"))
}

func TestRecordToolExecutionStart_CompletionFuncLogsCompleteEvent(t *testing.T) {
	l, buf := newTestLogger(t)
	ctx := WithConversationID(context.Background(), "conv1")

	complete := l.RecordToolExecutionStart(ctx, "planner", "read_conversation_history", "call1")
	assert.Contains(t, buf.String(), "tool_execution_start")

	complete("ok", "")

	out := buf.String()
	assert.Contains(t, out, "tool_execution_complete")
	assert.Equal(t, float64(1), counterValue(t, l, "tool_execution_start"))
	assert.Equal(t, float64(1), counterValue(t, l, "tool_execution_complete"))
}

func TestRecordToolExecutionStart_RecordsErrorMessageOnFailure(t *testing.T) {
	l, buf := newTestLogger(t)
	ctx := WithConversationID(context.Background(), "conv1")

	complete := l.RecordToolExecutionStart(ctx, "planner", "echo", "call1")
	complete("error", "boom")

	assert.True(t, strings.Contains(buf.String(), "boom"))
}

func TestRecordExecutionFlowStart_CompleteLogsOutcomeAndDuration(t *testing.T) {
	l, buf := newTestLogger(t)
	ctx := WithConversationID(context.Background(), "conv1")

	_, complete := l.RecordExecutionFlowStart(ctx, "conv1", "run1")
	assert.Contains(t, buf.String(), "execution_flow_start")

	complete("replied")

	out := buf.String()
	assert.Contains(t, out, "execution_flow_complete")
	assert.Contains(t, out, "replied")
}

func TestRecordConversationStartAndComplete(t *testing.T) {
	l, buf := newTestLogger(t)
	l.RecordConversationStart(context.Background(), "conv1", "dm")
	l.RecordConversationComplete(context.Background(), "conv1", string(phase.Done))

	out := buf.String()
	assert.Contains(t, out, "conversation_start")
	assert.Contains(t, out, "conversation_complete")
}

func TestRecordRoutingAnalysisAndDecision(t *testing.T) {
	l, buf := newTestLogger(t)
	l.RecordRoutingAnalysis(context.Background(), "conv1", []string{"planner", "reviewer"})
	l.RecordRoutingDecision(context.Background(), "conv1", "planner", "explicit_mention")

	out := buf.String()
	assert.Contains(t, out, "routing_analysis")
	assert.Contains(t, out, "routing_decision")
	assert.Contains(t, out, "explicit_mention")
}

func TestRecordAgentHandoff(t *testing.T) {
	l, buf := newTestLogger(t)
	l.RecordAgentHandoff(context.Background(), "planner", "reviewer", "phase change to review")

	assert.Contains(t, buf.String(), "agent_handoff")
	assert.Equal(t, float64(1), counterValue(t, l, "agent_handoff"))
}

func TestShutdown_NoError(t *testing.T) {
	l, _ := newTestLogger(t)
	assert.NoError(t, l.Shutdown(context.Background()))
}

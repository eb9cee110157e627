// Package execlog implements the ExecutionLogger of spec.md §4.10: a pure
// sink emitting one structured record per event, for a closed set of 14
// event types, with no behavioral effect on the core. Test suites and
// operators assert against its stream rather than the core's control flow.
//
// Grounded on the teacher's internal/observability package: structured slog
// records carrying the same context-key correlation id pattern as
// observability.AddRunID/AddSessionID, one prometheus.CounterVec and one
// HistogramVec labelled by event type, and an OpenTelemetry span per TurnRunner iteration and tool call.
// Unlike the teacher, conductor's go.mod carries no OTLP exporter — only
// go.opentelemetry.io/otel's SDK and API packages — so Logger's
// TracerProvider is always in-process (see DESIGN.md for the justification).
package execlog

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/nostrswarm/conductor/internal/phase"
)

// EventType is one of the closed set of 14 record kinds spec.md §4.10 names.
type EventType string

const (
	EventAgentThinking           EventType = "agent_thinking"
	EventAgentDecision           EventType = "agent_decision"
	EventAgentHandoff            EventType = "agent_handoff"
	EventPhaseTransitionTrigger  EventType = "phase_transition_trigger"
	EventPhaseTransitionDecision EventType = "phase_transition_decision"
	EventPhaseTransitionExecuted EventType = "phase_transition_executed"
	EventRoutingAnalysis         EventType = "routing_analysis"
	EventRoutingDecision         EventType = "routing_decision"
	EventToolExecutionStart      EventType = "tool_execution_start"
	EventToolExecutionComplete   EventType = "tool_execution_complete"
	EventConversationStart       EventType = "conversation_start"
	EventConversationComplete    EventType = "conversation_complete"
	EventExecutionFlowStart      EventType = "execution_flow_start"
	EventExecutionFlowComplete   EventType = "execution_flow_complete"
)

// allEventTypes drives metric pre-registration; keep in sync with the consts
// above.
var allEventTypes = []EventType{
	EventAgentThinking, EventAgentDecision, EventAgentHandoff,
	EventPhaseTransitionTrigger, EventPhaseTransitionDecision, EventPhaseTransitionExecuted,
	EventRoutingAnalysis, EventRoutingDecision,
	EventToolExecutionStart, EventToolExecutionComplete,
	EventConversationStart, EventConversationComplete,
	EventExecutionFlowStart, EventExecutionFlowComplete,
}

type contextKey string

const (
	conversationIDKey contextKey = "conversation_id"
	agentIDKey        contextKey = "agent_id"
	phaseKey          contextKey = "phase"
	runIDKey          contextKey = "run_id"
)

// WithConversationID returns a context carrying the conversation id, picked
// up by every Record* call and every span the Logger starts.
func WithConversationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, conversationIDKey, id)
}

// WithAgentID returns a context carrying the acting agent's pubkey.
func WithAgentID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, agentIDKey, id)
}

// WithPhase returns a context carrying the conversation's current phase.
func WithPhase(ctx context.Context, p phase.Phase) context.Context {
	return context.WithValue(ctx, phaseKey, string(p))
}

// WithRunID returns a context carrying a TurnRunner iteration's run id.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

func fromContext(ctx context.Context) []any {
	attrs := make([]any, 0, 8)
	if v, ok := ctx.Value(conversationIDKey).(string); ok && v != "" {
		attrs = append(attrs, "conversation_id", v)
	}
	if v, ok := ctx.Value(agentIDKey).(string); ok && v != "" {
		attrs = append(attrs, "agent_id", v)
	}
	if v, ok := ctx.Value(phaseKey).(string); ok && v != "" {
		attrs = append(attrs, "phase", v)
	}
	if v, ok := ctx.Value(runIDKey).(string); ok && v != "" {
		attrs = append(attrs, "run_id", v)
	}
	return attrs
}

// eventCounters holds the one CounterVec every event type increments into,
// labeled by event_type so a single metric backs all 14 kinds without 14
// near-identical promauto registrations.
type eventCounters struct {
	total    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// Logger is the ExecutionLogger. It is a pure sink: nothing it does can fail
// a turn, so its methods return nothing and never block the caller beyond
// the cost of a slog write and a metric increment.
type Logger struct {
	logger   *slog.Logger
	counters eventCounters
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
	clock    func() time.Time
}

// New constructs a Logger. registerer defaults to prometheus's global
// registry when nil; provide a fresh *prometheus.Registry in tests to avoid
// duplicate-registration panics across test runs in the same process.
func New(base *slog.Logger, registerer prometheus.Registerer) *Logger {
	if base == nil {
		base = slog.Default()
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	counters := eventCounters{
		total: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_execution_events_total",
			Help: "Total ExecutionLogger events by type.",
		}, []string{"event_type"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "conductor_execution_event_duration_seconds",
			Help:    "Duration recorded by events that carry one (tool calls, turns).",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"event_type"}),
	}

	provider := sdktrace.NewTracerProvider()
	return &Logger{
		logger:   base.With("component", "execlog"),
		counters: counters,
		tracer:   provider.Tracer("conductor"),
		provider: provider,
		clock:    time.Now,
	}
}

// record is the single emission path every Record* helper funnels through:
// one slog line at Info level, one counter increment, keeping the 14 event
// types structurally identical on the wire.
func (l *Logger) record(ctx context.Context, event EventType, args ...any) {
	l.counters.total.WithLabelValues(string(event)).Inc()
	attrs := append([]any{"event_type", string(event)}, fromContext(ctx)...)
	attrs = append(attrs, args...)
	l.logger.Log(ctx, slog.LevelInfo, string(event), attrs...)
}

func (l *Logger) observeDuration(event EventType, d time.Duration) {
	l.counters.duration.WithLabelValues(string(event)).Observe(d.Seconds())
}

// RecordAgentThinking logs an agent's raw reasoning text before a decision
// is finalized (the LLM's prose output ahead of any tool_use/reply).
func (l *Logger) RecordAgentThinking(ctx context.Context, agentSlug, text string) {
	l.record(ctx, EventAgentThinking, "agent", agentSlug, "text", text)
}

// RecordAgentDecision logs a finalized agent decision (e.g. a Supervisor
// verdict or a milestone completion choice).
func (l *Logger) RecordAgentDecision(ctx context.Context, agentSlug, decision, reasoning string) {
	l.record(ctx, EventAgentDecision, "agent", agentSlug, "decision", decision, "reasoning", reasoning)
}

// RecordAgentHandoff logs one agent's turn ending with addressing handing
// control to another agent (router mention resolution, lead delegation).
func (l *Logger) RecordAgentHandoff(ctx context.Context, fromAgent, toAgent, reason string) {
	l.record(ctx, EventAgentHandoff, "from", fromAgent, "to", toAgent, "reason", reason)
}

// RecordPhaseTransitionTrigger logs the stimulus that caused a phase
// transition to be requested (an explicit tool call, a supervision result).
func (l *Logger) RecordPhaseTransitionTrigger(ctx context.Context, convID, trigger string) {
	l.record(ctx, EventPhaseTransitionTrigger, "conversation_id", convID, "trigger", trigger)
}

// RecordPhaseTransitionDecision logs the gatekeeper's verdict on a requested
// transition, before it is applied.
func (l *Logger) RecordPhaseTransitionDecision(ctx context.Context, convID string, from, to phase.Phase, applied bool) {
	l.record(ctx, EventPhaseTransitionDecision, "conversation_id", convID, "from", string(from), "to", string(to), "applied", applied)
}

// TransitionExecuted implements phase.TransitionLog: it is called once per
// actually-applied transition, after the Machine has committed it.
func (l *Logger) TransitionExecuted(convID string, from, to phase.Phase, decisionBy, reason string, sinceLast time.Duration) {
	ctx := WithConversationID(context.Background(), convID)
	l.record(ctx, EventPhaseTransitionExecuted,
		"from", string(from), "to", string(to),
		"decision_by", decisionBy, "reason", reason,
		"since_last_ms", sinceLast.Milliseconds())
	l.observeDuration(EventPhaseTransitionExecuted, sinceLast)
}

// RecordRoutingAnalysis logs Router's mention/content scan for a trigger
// event, ahead of its addressee decision.
func (l *Logger) RecordRoutingAnalysis(ctx context.Context, convID string, candidates []string) {
	l.record(ctx, EventRoutingAnalysis, "conversation_id", convID, "candidates", candidates)
}

// RecordRoutingDecision logs which agent Router resolved as the addressee
// and by which rule (explicit mention, lead, orchestrator fallback).
func (l *Logger) RecordRoutingDecision(ctx context.Context, convID, resolvedAgent, rule string) {
	l.record(ctx, EventRoutingDecision, "conversation_id", convID, "agent", resolvedAgent, "rule", rule)
}

// RecordToolExecutionStart logs a tool invocation beginning. It returns a
// completion func that records tool_execution_complete and the duration
// histogram in one call, so callers can defer it.
func (l *Logger) RecordToolExecutionStart(ctx context.Context, agentSlug, toolName, callID string) func(status string, errMsg string) {
	start := l.clock()
	l.record(ctx, EventToolExecutionStart, "agent", agentSlug, "tool", toolName, "call_id", callID)

	spanCtx, span := l.tracer.Start(ctx, "tool."+toolName)
	return func(status, errMsg string) {
		defer span.End()
		d := l.clock().Sub(start)
		args := []any{"agent", agentSlug, "tool", toolName, "call_id", callID, "status", status, "duration_ms", d.Milliseconds()}
		if errMsg != "" {
			args = append(args, "error", errMsg)
		}
		l.record(spanCtx, EventToolExecutionComplete, args...)
		l.observeDuration(EventToolExecutionComplete, d)
	}
}

// RecordConversationStart logs a conversation's first event.
func (l *Logger) RecordConversationStart(ctx context.Context, convID, trigger string) {
	l.record(ctx, EventConversationStart, "conversation_id", convID, "trigger", trigger)
}

// RecordConversationComplete logs a conversation reaching a terminal phase.
func (l *Logger) RecordConversationComplete(ctx context.Context, convID, finalPhase string) {
	l.record(ctx, EventConversationComplete, "conversation_id", convID, "final_phase", finalPhase)
}

// RecordExecutionFlowStart starts a TurnRunner iteration span, child-linked
// to the conversation's trace via ctx, and logs execution_flow_start. The
// returned func ends the span and logs execution_flow_complete.
func (l *Logger) RecordExecutionFlowStart(ctx context.Context, convID, runID string) (context.Context, func(outcome string)) {
	start := l.clock()
	ctx = WithRunID(ctx, runID)
	l.record(ctx, EventExecutionFlowStart, "conversation_id", convID, "run_id", runID)

	spanCtx, span := l.tracer.Start(ctx, "turn.run")
	return spanCtx, func(outcome string) {
		defer span.End()
		d := l.clock().Sub(start)
		l.record(spanCtx, EventExecutionFlowComplete, "conversation_id", convID, "run_id", runID, "outcome", outcome, "duration_ms", d.Milliseconds())
		l.observeDuration(EventExecutionFlowComplete, d)
	}
}

// Shutdown releases the in-process TracerProvider's resources. Safe to call
// even though no exporter is attached.
func (l *Logger) Shutdown(ctx context.Context) error {
	return l.provider.Shutdown(ctx)
}

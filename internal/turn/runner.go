// Package turn implements the TurnRunner of spec.md §4.6: given a
// conversation, an agent, and the triggering event, it builds a prompt,
// streams the LLM, dispatches any tool calls, and publishes the agent's
// reply.
//
// Directly modeled on internal/agent/runtime.go's Runtime.run loop in the
// teacher: build prompt -> stream completion -> accumulate text and tool
// calls from the chunk channel -> dispatch tools -> loop until no further
// tool calls -> persist and return. Retry/backoff is grounded on the
// teacher's internal/backoff package; history truncation is grounded on
// internal/agent/context.Packer's newest-first, char-budget selection,
// rescoped from a fixed char budget to the LLM preset's ContextSize.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/nostrswarm/conductor/internal/backoff"
	"github.com/nostrswarm/conductor/internal/coreerr"
	"github.com/nostrswarm/conductor/internal/eventbus"
	"github.com/nostrswarm/conductor/internal/llm"
	"github.com/nostrswarm/conductor/internal/router"
	"github.com/nostrswarm/conductor/internal/tooldispatch"
	"github.com/nostrswarm/conductor/pkg/nostrcore"
)

// DefaultMaxToolCalls bounds tool invocations per turn (spec.md §4.6).
const DefaultMaxToolCalls = 8

// DefaultTurnBudget is the per-turn cancellable context budget (spec.md §5).
const DefaultTurnBudget = 5 * time.Minute

// DefaultContextSize is used when a Preset leaves ContextSize unset.
const DefaultContextSize = 128_000

// reserveTokens is subtracted from the preset's context window before
// packing history, leaving room for the model's own response.
const reserveTokens = 2048

// approxCharsPerToken is the same cheap token-size proxy the teacher's
// Packer uses (4 chars/token).
const approxCharsPerToken = 4

// DefaultRetrySchedule is the exact llm_error_retryable backoff schedule of
// spec.md §4.6: 200ms, 800ms, 3.2s.
var DefaultRetrySchedule = []time.Duration{
	200 * time.Millisecond,
	800 * time.Millisecond,
	3200 * time.Millisecond,
}

// Conversations is the subset of the conversation store TurnRunner needs,
// satisfied by *internal/convo.Store.
type Conversations interface {
	Get(id string) (*nostrcore.Conversation, bool)
	WithLock(ctx context.Context, id string, fn func(*nostrcore.Conversation) error) error
	AppendOutbound(ctx context.Context, id string, ev nostrcore.Event, taskID string, now time.Time) error
}

// Config configures a Runner; zero values fall back to the spec's defaults.
type Config struct {
	MaxToolCalls  int
	TurnBudget    time.Duration
	RetrySchedule []time.Duration
	DefaultPreset string
	Logger        *slog.Logger
}

func (c *Config) setDefaults() {
	if c.MaxToolCalls <= 0 {
		c.MaxToolCalls = DefaultMaxToolCalls
	}
	if c.TurnBudget <= 0 {
		c.TurnBudget = DefaultTurnBudget
	}
	if c.RetrySchedule == nil {
		c.RetrySchedule = DefaultRetrySchedule
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Runner is the TurnRunner of spec.md §4.6, satisfying router.TurnRunner.
type Runner struct {
	dispatcher    *tooldispatch.Dispatcher
	bus           eventbus.Bus
	conversations Conversations
	presets       PresetResolver

	maxToolCalls  int
	turnBudget    time.Duration
	retrySchedule []time.Duration
	defaultPreset string
	clock         func() time.Time
	logger        *slog.Logger
}

// New constructs a Runner.
func New(dispatcher *tooldispatch.Dispatcher, bus eventbus.Bus, conversations Conversations, presets PresetResolver, cfg Config) *Runner {
	cfg.setDefaults()
	return &Runner{
		dispatcher:    dispatcher,
		bus:           bus,
		conversations: conversations,
		presets:       presets,
		maxToolCalls:  cfg.MaxToolCalls,
		turnBudget:    cfg.TurnBudget,
		retrySchedule: cfg.RetrySchedule,
		defaultPreset: cfg.DefaultPreset,
		clock:         time.Now,
		logger:        cfg.Logger.With("component", "turn"),
	}
}

// RunTurn implements router.TurnRunner: it runs the six-step algorithm of
// spec.md §4.6 for req, publishing typing/reply/status events on the bus and
// recording the reply in the conversation store before returning.
func (r *Runner) RunTurn(ctx context.Context, req router.TurnRequest) {
	turnCtx, cancel := context.WithTimeout(ctx, r.turnBudget)
	defer cancel()

	agent := req.Agent
	convID := req.ConversationID

	conv, ok := r.conversations.Get(convID)
	if !ok {
		r.logger.Warn("turn requested for unknown conversation", "conversation", convID)
		return
	}

	r.setActiveTurn(turnCtx, convID, nostrcore.TurnRunning)
	defer r.setActiveTurn(context.Background(), convID, nostrcore.TurnNone)

	if _, err := r.bus.Publish(turnCtx, agent.PubKey, eventbus.KindTypingStart, "", nostrcore.Tags{{"e", convID}}); err != nil {
		r.logger.Warn("publish typing_start failed", "error", err)
	}
	defer func() {
		if _, err := r.bus.Publish(context.Background(), agent.PubKey, eventbus.KindTypingStop, "", nostrcore.Tags{{"e", convID}}); err != nil {
			r.logger.Warn("publish typing_stop failed", "error", err)
		}
	}()

	preset, ok := r.resolvePreset(agent)
	if !ok {
		r.failTurn(turnCtx, agent.PubKey, convID, "no LLM preset resolvable for agent "+agent.Slug)
		return
	}

	taskID := req.TriggerEvent.TaskID()
	if taskID == "" {
		taskID = conv.Metadata["task_id"]
	}

	system := agent.Instructions
	if prelude := phasePrelude(conv.Phase); prelude != "" {
		system = strings.TrimSpace(system + "\n\n" + prelude)
	}

	messages := r.buildHistoryMessages(conv, req.TriggerEvent, agent, preset.ContextSize)
	messages = append(messages, r.eventMessage(req.TriggerEvent, agent))

	toolSpecs := r.toolSpecsFor(agent)

	toolCallCount := 0
	malformedRetried := false
	var finalText string

	for {
		select {
		case <-turnCtx.Done():
			r.failTurn(turnCtx, agent.PubKey, convID, "turn budget exceeded")
			return
		default:
		}

		completionReq := llm.CompletionRequest{
			Model:     preset.Model,
			System:    system,
			Messages:  messages,
			Tools:     toolSpecs,
			MaxTokens: preset.MaxTokens,
		}

		text, calls, malformed, err := r.completeWithRetry(turnCtx, preset.Provider, completionReq)
		if err != nil {
			r.failTurn(turnCtx, agent.PubKey, convID, err.Error())
			return
		}

		if malformed != nil {
			if malformedRetried {
				r.failTurn(turnCtx, agent.PubKey, convID, "malformed tool call: "+malformed.Error())
				return
			}
			malformedRetried = true
			messages = append(messages,
				llm.Message{Role: "assistant", Content: text},
				llm.Message{Role: "user", Content: "Your previous tool_use block could not be parsed: " + malformed.Error() + ". Reissue valid JSON or respond normally."},
			)
			continue
		}

		messages = append(messages, llm.Message{Role: "assistant", Content: text, ToolCalls: calls})

		if len(calls) == 0 {
			finalText = text
			break
		}

		results := make([]llm.ToolResultEntry, 0, len(calls))
		budgetExceeded := false
		for _, call := range calls {
			if toolCallCount >= r.maxToolCalls {
				budgetExceeded = true
				break
			}
			toolCallCount++
			result := r.dispatcher.Invoke(turnCtx, agent, convID, call)
			results = append(results, llm.ToolResultEntry{CallID: call.ID, Result: result})
		}

		if budgetExceeded {
			r.failTurn(turnCtx, agent.PubKey, convID, coreerr.ErrToolBudgetExceeded.Error())
			return
		}

		messages = append(messages, llm.Message{Role: "tool", ToolResults: results})
	}

	r.publishReply(turnCtx, agent, convID, conv, taskID, finalText)
}

// publishReply publishes finalText as a thread-reply event tagged to the
// conversation and, when taskID chains to a prior outbound event, to that
// event too (spec.md §4.6 step 5), then records it in the conversation
// store's append-only history.
func (r *Runner) publishReply(ctx context.Context, agent *nostrcore.Agent, convID string, conv *nostrcore.Conversation, taskID, text string) {
	tags := nostrcore.Tags{{"e", convID}}
	if taskID != "" {
		if prev := conv.PreviousEventFor(taskID); prev != "" {
			tags = append(tags, nostrcore.Tag{"e", prev})
		}
	}

	ack, err := r.bus.Publish(ctx, agent.PubKey, eventbus.KindThreadReply, text, tags)
	if err != nil {
		r.failTurn(ctx, agent.PubKey, convID, "publish reply: "+err.Error())
		return
	}

	replyEvent := nostrcore.Event{
		ID:        ack.EventID,
		PubKey:    agent.PubKey,
		Kind:      eventbus.KindThreadReply,
		Content:   text,
		Tags:      tags,
		CreatedAt: r.clock(),
	}
	if err := r.conversations.AppendOutbound(ctx, convID, replyEvent, taskID, r.clock()); err != nil {
		r.logger.Warn("append outbound reply failed", "error", err, "conversation", convID)
	}
}

// failTurn publishes the turn_failed status event of spec.md §4.6/§7 and
// leaves the conversation's phase untouched.
func (r *Runner) failTurn(ctx context.Context, agentPubKey, convID, reason string) {
	tags := nostrcore.Tags{{"e", convID}, {"reason", reason}}
	if _, err := r.bus.Publish(ctx, agentPubKey, eventbus.KindStatus, "turn_failed", tags); err != nil {
		r.logger.Warn("failed to publish turn_failed status", "error", err)
	}
	r.logger.Warn("turn failed", "conversation", convID, "reason", reason)
}

func (r *Runner) setActiveTurn(ctx context.Context, convID string, state nostrcore.TurnState) {
	err := r.conversations.WithLock(ctx, convID, func(c *nostrcore.Conversation) error {
		c.ActiveTurn = state
		return nil
	})
	if err != nil {
		r.logger.Debug("set active turn state failed", "error", err, "conversation", convID)
	}
}

func (r *Runner) resolvePreset(agent *nostrcore.Agent) (Preset, bool) {
	if r.presets == nil {
		return Preset{}, false
	}
	name := agent.LLMPreset
	if name == "" {
		name = r.defaultPreset
	}
	return r.presets.ResolvePreset(name)
}

// toolSpecsFor builds the provider-facing tool list for agent, filtered by
// its allow-list, in stable name order.
func (r *Runner) toolSpecsFor(agent *nostrcore.Agent) []llm.ToolSpec {
	all := r.dispatcher.All()
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })

	specs := make([]llm.ToolSpec, 0, len(all))
	for _, t := range all {
		if !agent.CanUseTool(t.Name) {
			continue
		}
		specs = append(specs, llm.ToolSpec{Name: t.Name, Description: t.Description, Schema: t.Schema})
	}
	return specs
}

// roleFor derives a history entry's role from its author's relationship to
// agent (spec.md §4.6 step 2: "the triggering event's role derived from the
// event's author relationship to the agent").
func roleFor(authorPubKey string, agent *nostrcore.Agent) string {
	if authorPubKey == agent.PubKey {
		return "assistant"
	}
	return "user"
}

func (r *Runner) eventMessage(ev nostrcore.Event, agent *nostrcore.Agent) llm.Message {
	return llm.Message{Role: roleFor(ev.PubKey, agent), Content: ev.Content}
}

// buildHistoryMessages selects conv.History newest-first up to the preset's
// context budget minus reserveTokens, then restores chronological order
// (spec.md §4.6 step 2c; grounded on agent/context.Packer's selection
// shape). The triggering event itself is excluded: Router has already
// appended it to conv.History by the time RunTurn runs, but step 2 presents
// it separately at the prompt's tail.
func (r *Runner) buildHistoryMessages(conv *nostrcore.Conversation, trigger nostrcore.Event, agent *nostrcore.Agent, contextSize int) []llm.Message {
	if contextSize <= 0 {
		contextSize = DefaultContextSize
	}
	budgetChars := (contextSize - reserveTokens) * approxCharsPerToken
	if budgetChars <= 0 {
		budgetChars = contextSize * approxCharsPerToken / 2
	}

	var selected []nostrcore.HistoryEntry
	used := 0
	for i := len(conv.History) - 1; i >= 0; i-- {
		h := conv.History[i]
		if h.Event.ID != "" && h.Event.ID == trigger.ID {
			continue
		}
		cost := len(h.Event.Content)
		if used+cost > budgetChars && len(selected) > 0 {
			break
		}
		selected = append(selected, h)
		used += cost
	}

	messages := make([]llm.Message, 0, len(selected))
	for i := len(selected) - 1; i >= 0; i-- {
		h := selected[i]
		messages = append(messages, llm.Message{Role: roleFor(h.Event.PubKey, agent), Content: h.Event.Content})
	}
	return messages
}

// completeOnce drains one streamed completion, scanning its text for
// <tool_use> fallback blocks alongside any natively-parsed tool calls.
func (r *Runner) completeOnce(ctx context.Context, provider llm.Provider, req llm.CompletionRequest) (text string, calls []nostrcore.ToolCall, malformed, err error) {
	chunks, err := provider.Complete(ctx, req)
	if err != nil {
		return "", nil, nil, err
	}

	var textBuilder strings.Builder
	scanner := &toolUseScanner{}
	for chunk := range chunks {
		if chunk.Err != nil {
			return "", nil, nil, chunk.Err
		}
		if chunk.Text != "" {
			visible, parsed, perr := scanner.Feed(chunk.Text)
			textBuilder.WriteString(visible)
			calls = append(calls, parsed...)
			if perr != nil {
				malformed = perr
			}
		}
		if chunk.ToolCall != nil {
			calls = append(calls, *chunk.ToolCall)
		}
		if chunk.Done {
			break
		}
	}
	textBuilder.WriteString(scanner.Flush())
	return textBuilder.String(), calls, malformed, nil
}

// completeWithRetry retries completeOnce on llm_error_retryable failures
// using the exact 200ms/800ms/3.2s schedule of spec.md §4.6, grounded on the
// teacher's internal/backoff.SleepWithContext. Non-retryable errors and
// malformed tool calls are returned immediately without consuming a retry.
func (r *Runner) completeWithRetry(ctx context.Context, provider llm.Provider, req llm.CompletionRequest) (text string, calls []nostrcore.ToolCall, malformed, err error) {
	text, calls, malformed, err = r.completeOnce(ctx, provider, req)
	if err == nil {
		return text, calls, malformed, nil
	}
	if !errors.Is(err, coreerr.ErrLLMRetryable) {
		return "", nil, nil, err
	}

	lastErr := err
	for _, wait := range r.retrySchedule {
		if serr := backoff.SleepWithContext(ctx, wait); serr != nil {
			return "", nil, nil, serr
		}
		text, calls, malformed, err = r.completeOnce(ctx, provider, req)
		if err == nil {
			return text, calls, malformed, nil
		}
		if !errors.Is(err, coreerr.ErrLLMRetryable) {
			return "", nil, nil, err
		}
		lastErr = err
	}
	return "", nil, nil, fmt.Errorf("%w: %v", coreerr.ErrLLMFatal, lastErr)
}

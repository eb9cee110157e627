// Package router implements the Router of spec.md §4.4: for each inbound
// event it resolves the owning conversation, determines which agents it
// addresses, forms a team on a conversation's first event, and enqueues one
// TurnRequest per addressed agent onto that conversation's serial queue.
//
// Grounded on internal/multiagent/router.go's Router (a small struct wrapping
// lookups into a shared registry, stable-sorted match ordering) and
// internal/agent/routing/heuristic.go's scoring helpers in the teacher;
// generalized from the teacher's keyword/pattern/intent handoff-trigger
// matching to spec.md's fixed three-step addressee resolution (explicit
// mentions, conversation lead, orchestrator fallback), since conductor has no
// notion of handoff rules — addressing is structural, not content-scored.
package router

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nostrswarm/conductor/internal/coreerr"
	"github.com/nostrswarm/conductor/pkg/nostrcore"
)

// AgentResolver is the subset of AgentRegistry the Router needs, satisfied by
// *internal/registry.Registry.
type AgentResolver interface {
	ByID(pubkey string) (*nostrcore.Agent, bool)
	Orchestrator() (*nostrcore.Agent, bool)
}

// Conversations is the subset of the conversation store the Router needs,
// satisfied by *internal/convo.Store.
type Conversations interface {
	Tombstoned(id string) bool
	GetOrCreate(rootEventID, rootAuthor string) (*nostrcore.Conversation, bool)
	Get(id string) (*nostrcore.Conversation, bool)
	WithLock(ctx context.Context, id string, fn func(*nostrcore.Conversation) error) error
	AppendInbound(ctx context.Context, id string, ev nostrcore.Event, now time.Time) error
}

// TeamFormer builds a Team for a conversation's root content, synchronously,
// the first time a conversation is seen (spec.md §4.4 step 4, §4.11).
type TeamFormer interface {
	FormTeam(ctx context.Context, conversationID, rootContent string) (nostrcore.Team, error)
}

// StatusReporter lets Router publish an outbound status event when routing
// fails to find any addressable agent (spec.md §4.4: "reported as an
// outbound status event on the conversation").
type StatusReporter interface {
	ReportStatus(ctx context.Context, conversationID, message string)
}

// TurnRequest is one unit of queued work: run agent's turn against
// triggerEvent within conversationID.
type TurnRequest struct {
	ConversationID string
	Agent          *nostrcore.Agent
	TriggerEvent   nostrcore.Event
}

// TurnRunner executes a single queued TurnRequest. Implemented by
// internal/turn.Runner.
type TurnRunner interface {
	RunTurn(ctx context.Context, req TurnRequest)
}

// queueDepth bounds how many pending requests a conversation's serial queue
// holds before HandleEvent's enqueue blocks; generous enough that a burst of addressed
// agents from one event never blocks the bus's delivery goroutine under
// normal load.
const queueDepth = 32

// conversationQueue is one conversation's FIFO of turns, drained by exactly
// one goroutine for the conversation's lifetime (spec.md §5: "parallel
// tasks with per-conversation serialization").
type conversationQueue struct {
	requests chan TurnRequest
	stop     chan struct{}
}

// Router is the Router of spec.md §4.4.
type Router struct {
	agents        AgentResolver
	conversations Conversations
	teams         TeamFormer
	turns         TurnRunner
	status        StatusReporter

	mu     sync.Mutex
	queues map[string]*conversationQueue
}

// New constructs a Router. status may be nil to suppress no-addressable-agent
// reporting (useful in tests exercising routing logic alone).
func New(agents AgentResolver, conversations Conversations, teams TeamFormer, turns TurnRunner, status StatusReporter) *Router {
	return &Router{
		agents:        agents,
		conversations: conversations,
		teams:         teams,
		turns:         turns,
		status:        status,
		queues:        make(map[string]*conversationQueue),
	}
}

// HandleEvent implements eventbus.Handler: it runs the five-step procedure of
// spec.md §4.4 for one inbound event.
func (r *Router) HandleEvent(ctx context.Context, ev nostrcore.Event) {
	convID := ev.ConversationID()

	if r.conversations.Tombstoned(convID) {
		slog.Warn("router: dropping event for tombstoned conversation", "conversation", convID, "event", ev.ID)
		return
	}

	conv, _ := r.conversations.GetOrCreate(convID, ev.PubKey)

	if err := r.conversations.AppendInbound(ctx, convID, ev, time.Now()); err != nil {
		return
	}

	if err := r.ensureTeam(ctx, conv, ev); err != nil {
		r.reportStatus(ctx, convID, "team_formation_failed: "+err.Error())
		return
	}

	addressed := r.resolveAddressees(conv, ev)
	if len(addressed) == 0 {
		r.reportStatus(ctx, convID, coreerr.ErrNoAddressableAgents.Error())
		return
	}

	sort.Slice(addressed, func(i, j int) bool { return addressed[i].Slug < addressed[j].Slug })

	for _, agent := range addressed {
		r.enqueue(ctx, TurnRequest{ConversationID: convID, Agent: agent, TriggerEvent: ev})
	}
}

// resolveAddressees implements spec.md §4.4 step 3: explicit "p"-tag
// mentions, else the conversation's current lead, else the orchestrator.
// Unknown or inactive ids are filtered out by the registry lookup itself.
func (r *Router) resolveAddressees(conv *nostrcore.Conversation, ev nostrcore.Event) []*nostrcore.Agent {
	var out []*nostrcore.Agent

	for _, pubkey := range ev.AddressedAgents() {
		if agent, ok := r.agents.ByID(pubkey); ok {
			out = append(out, agent)
		}
	}
	if len(out) > 0 {
		return out
	}

	if conv.Team.LeadID != "" {
		if agent, ok := r.agents.ByID(conv.Team.LeadID); ok {
			return []*nostrcore.Agent{agent}
		}
	}

	if agent, ok := r.agents.Orchestrator(); ok {
		return []*nostrcore.Agent{agent}
	}

	return nil
}

// ensureTeam invokes TeamFormation synchronously the first time a
// conversation has no team (spec.md §4.4 step 4), storing the result before
// returning so every subsequent addressee resolution sees it.
func (r *Router) ensureTeam(ctx context.Context, conv *nostrcore.Conversation, ev nostrcore.Event) error {
	if conv.Team.LeadID != "" || r.teams == nil {
		return nil
	}
	team, err := r.teams.FormTeam(ctx, conv.ID, ev.Content)
	if err != nil {
		return err
	}
	return r.conversations.WithLock(ctx, conv.ID, func(c *nostrcore.Conversation) error {
		if c.Team.LeadID == "" {
			c.Team = team
		}
		return nil
	})
}

func (r *Router) reportStatus(ctx context.Context, conversationID, message string) {
	if r.status != nil {
		r.status.ReportStatus(ctx, conversationID, message)
	}
}

// enqueue adds req to its conversation's serial queue, spawning the drain
// goroutine on first use.
func (r *Router) enqueue(ctx context.Context, req TurnRequest) {
	q := r.queueFor(req.ConversationID)
	select {
	case q.requests <- req:
	case <-ctx.Done():
	}
}

func (r *Router) queueFor(conversationID string) *conversationQueue {
	r.mu.Lock()
	defer r.mu.Unlock()

	if q, ok := r.queues[conversationID]; ok {
		return q
	}
	q := &conversationQueue{
		requests: make(chan TurnRequest, queueDepth),
		stop:     make(chan struct{}),
	}
	r.queues[conversationID] = q
	go r.drain(q)
	return q
}

// drain runs every queued TurnRequest for one conversation, one at a time,
// until Close is called for that conversation — the ordering guarantee of
// spec.md §4.6: "turn N's outbound events are all published before turn N+1
// begins."
func (r *Router) drain(q *conversationQueue) {
	for {
		select {
		case req := <-q.requests:
			r.turns.RunTurn(context.Background(), req)
		case <-q.stop:
			return
		}
	}
}

// Close tears down conversationID's serial queue, for the maintenance
// scheduler to call once a conversation is evicted from the store.
func (r *Router) Close(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if q, ok := r.queues[conversationID]; ok {
		close(q.stop)
		delete(r.queues, conversationID)
	}
}

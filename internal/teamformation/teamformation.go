// Package teamformation implements TeamFormation of spec.md §4.11: for a
// conversation's first event, it scores every registered agent against the
// root content with a classifier prompt to the orchestrator's LLM, picks a
// lead by highest score, and picks an execution strategy.
//
// Grounded on the teacher's internal/multiagent/capability_router.go
// scoreAgents (score-then-sort-then-threshold shape, generalized here from
// capability matching to an LLM-judged score) and
// internal/agent/routing/heuristic.go's keyword-scoring fallback style;
// unlike the teacher, conductor's agent set is fixed at startup so there is
// no capability index or health/load tracking to maintain — only the
// scoring call and the strategy thresholds survive the generalization.
package teamformation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nostrswarm/conductor/internal/llm"
	"github.com/nostrswarm/conductor/pkg/nostrcore"
)

// AgentLister is the subset of AgentRegistry TeamFormation needs, satisfied
// by *internal/registry.Registry.
type AgentLister interface {
	All() []*nostrcore.Agent
}

// DecisionLogger receives the agent_decision event TeamFormation records
// each time FormTeam forms a new team (spec.md §4.11); a cache hit or an
// error records nothing. Satisfied by
// *internal/execlog.Logger.
type DecisionLogger interface {
	RecordAgentDecision(ctx context.Context, agentSlug, decision, reasoning string)
}

// classifierSystemPrompt is the strict JSON contract the orchestrator's LLM
// must follow when scoring agents against a request.
const classifierSystemPrompt = `You are scoring which of several agents should work on an incoming request.
Score each listed agent from 0.0 (irrelevant) to 1.0 (perfect fit) for this request, and explain briefly.
Reply with exactly one JSON object and nothing else, matching this shape:
{"scores":[{"agent":"<slug>","score":0.0,"reasoning":"..."}],"reasoning":"..."}
Include every agent listed, in any order.`

// dominanceMargin is how far a leading score must be above the runner-up for
// single_responder ("one agent dominates").
const dominanceMargin = 0.35

// tieMargin is how close two top scores must be for parallel ("near-tied").
const tieMargin = 0.08

// participationThreshold is the minimum score for an agent to join the team
// as a support member under the hierarchical strategy.
const participationThreshold = 0.3

// TeamFormation is the TeamFormation component of spec.md §4.11.
type TeamFormation struct {
	agents   AgentLister
	provider llm.Provider
	model    string
	logger   DecisionLogger
	clock    func() time.Time

	// cache is keyed by sha256(rootContent)+":"+sha256(sorted agent ids)
	// and lives for the life of the process: no entry is ever removed, not
	// even when the conversation that formed it is evicted, so a later
	// conversation with the same root content and agent set reuses it.
	cache sync.Map
}

// New constructs a TeamFormation. logger may be nil to suppress the
// agent_decision event (useful in tests exercising scoring alone).
func New(agents AgentLister, provider llm.Provider, model string, logger DecisionLogger) *TeamFormation {
	return &TeamFormation{agents: agents, provider: provider, model: model, logger: logger, clock: time.Now}
}

// agentScore is one agent's classifier result.
type agentScore struct {
	Agent     string  `json:"agent"`
	Score     float64 `json:"score"`
	Reasoning string  `json:"reasoning"`
}

type classifierPayload struct {
	Scores    []agentScore `json:"scores"`
	Reasoning string       `json:"reasoning"`
}

// FormTeam implements router.TeamFormer.
func (t *TeamFormation) FormTeam(ctx context.Context, conversationID, rootContent string) (nostrcore.Team, error) {
	candidates := t.agents.All()
	if len(candidates) == 0 {
		return nostrcore.Team{}, fmt.Errorf("teamformation: no registered agents to form a team from")
	}

	key := cacheKey(rootContent, candidates)
	if cached, ok := t.cache.Load(key); ok {
		return cached.(nostrcore.Team), nil
	}

	scores, overallReasoning, err := t.score(ctx, candidates, rootContent)
	if err != nil {
		return nostrcore.Team{}, err
	}

	team, reasoning := buildTeam(scores, candidates)
	if overallReasoning != "" {
		reasoning = overallReasoning + "; " + reasoning
	}

	t.cache.Store(key, team)

	if t.logger != nil {
		t.logger.RecordAgentDecision(ctx, team.LeadID, string(team.Strategy), reasoning)
	}

	return team, nil
}

// Evict is a no-op: TeamFormation's cache is keyed by content, not
// conversation id, so there is no per-conversation entry to drop, and
// cached teams stay in memory for the life of the process. Nothing in
// conductor calls it.
func (t *TeamFormation) Evict(string) {}

// score handles the trivial single-candidate case without an LLM round
// trip, then otherwise prompts the classifier and parses its reply.
func (t *TeamFormation) score(ctx context.Context, candidates []*nostrcore.Agent, rootContent string) ([]agentScore, string, error) {
	if len(candidates) == 1 {
		return []agentScore{{Agent: candidates[0].Slug, Score: 1.0, Reasoning: "only registered agent"}}, "single candidate, no classification needed", nil
	}

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Request:\n%s\n\nAgents:\n", rootContent)
	for _, a := range candidates {
		fmt.Fprintf(&prompt, "- slug=%s role=%s instructions=%s\n", a.Slug, a.Role, truncate(a.Instructions, 200))
	}

	chunks, err := t.provider.Complete(ctx, llm.CompletionRequest{
		Model:  t.model,
		System: classifierSystemPrompt,
		Messages: []llm.Message{
			{Role: "user", Content: prompt.String()},
		},
	})
	if err != nil {
		return nil, "", fmt.Errorf("teamformation: classifier completion failed: %w", err)
	}

	var text strings.Builder
	for chunk := range chunks {
		if chunk.Err != nil {
			return nil, "", fmt.Errorf("teamformation: classifier completion failed: %w", chunk.Err)
		}
		text.WriteString(chunk.Text)
		if chunk.Done {
			break
		}
	}

	var payload classifierPayload
	if err := json.Unmarshal([]byte(extractJSON(text.String())), &payload); err != nil {
		return nil, "", fmt.Errorf("teamformation: could not parse classifier reply as JSON: %w", err)
	}
	return payload.Scores, payload.Reasoning, nil
}

// buildTeam picks a lead and strategy from scores, falling back to treating
// every candidate as equally scored if the classifier omitted one.
func buildTeam(scores []agentScore, candidates []*nostrcore.Agent) (nostrcore.Team, string) {
	bySlug := make(map[string]*nostrcore.Agent, len(candidates))
	for _, a := range candidates {
		bySlug[a.Slug] = a
	}

	byScoreSlug := make(map[string]float64, len(scores))
	for _, s := range scores {
		byScoreSlug[s.Agent] = s.Score
	}
	for _, a := range candidates {
		if _, ok := byScoreSlug[a.Slug]; !ok {
			byScoreSlug[a.Slug] = 0
		}
	}

	ranked := make([]string, 0, len(byScoreSlug))
	for slug := range byScoreSlug {
		ranked = append(ranked, slug)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if byScoreSlug[ranked[i]] != byScoreSlug[ranked[j]] {
			return byScoreSlug[ranked[i]] > byScoreSlug[ranked[j]]
		}
		return ranked[i] < ranked[j]
	})

	lead := bySlug[ranked[0]]
	leadScore := byScoreSlug[ranked[0]]

	if len(ranked) == 1 {
		return nostrcore.Team{LeadID: lead.PubKey, MemberIDs: []string{lead.PubKey}, Strategy: nostrcore.StrategySingleResponder},
			fmt.Sprintf("only candidate %s", lead.Slug)
	}

	runnerUp := ranked[1]
	runnerUpScore := byScoreSlug[runnerUp]
	margin := leadScore - runnerUpScore

	supports := make([]string, 0, len(ranked))
	for _, slug := range ranked[1:] {
		if byScoreSlug[slug] >= participationThreshold {
			supports = append(supports, slug)
		}
	}

	var strategy nostrcore.Strategy
	switch {
	case margin >= dominanceMargin:
		strategy = nostrcore.StrategySingleResponder
		supports = nil
	case margin <= tieMargin && bySlug[lead.Slug].Independent && bySlug[runnerUp].Independent:
		strategy = nostrcore.StrategyParallel
		supports = []string{runnerUp}
	case len(supports) >= 2:
		strategy = nostrcore.StrategyHierarchical
	default:
		strategy = nostrcore.StrategySingleResponder
		supports = nil
	}

	members := []string{lead.PubKey}
	for _, slug := range supports {
		if a, ok := bySlug[slug]; ok {
			members = append(members, a.PubKey)
		}
	}

	alternatives := make([]string, 0, len(ranked)-1)
	for _, slug := range ranked[1:] {
		alternatives = append(alternatives, fmt.Sprintf("%s=%.2f", slug, byScoreSlug[slug]))
	}
	reasoning := fmt.Sprintf("lead=%s (%.2f), strategy=%s, alternatives=[%s]",
		lead.Slug, leadScore, strategy, strings.Join(alternatives, ", "))

	return nostrcore.Team{LeadID: lead.PubKey, MemberIDs: members, Strategy: strategy}, reasoning
}

// cacheKey hashes rootContent and the sorted candidate pubkey set, per
// SPEC_FULL.md §9 DESIGN NOTE (c).
func cacheKey(rootContent string, candidates []*nostrcore.Agent) string {
	ids := make([]string, len(candidates))
	for i, a := range candidates {
		ids[i] = a.PubKey
	}
	sort.Strings(ids)

	contentHash := sha256.Sum256([]byte(rootContent))
	idsHash := sha256.Sum256([]byte(strings.Join(ids, ",")))
	return hex.EncodeToString(contentHash[:]) + ":" + hex.EncodeToString(idsHash[:])
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// extractJSON trims any leading/trailing prose a provider might add around
// the JSON object, by slicing from the first '{' to the last '}'.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start == -1 || end == -1 || end < start {
		return s
	}
	return s[start : end+1]
}

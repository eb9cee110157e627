package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nostrswarm/conductor/pkg/nostrcore"
)

// ProjectAgentDef is a project-defined agent loaded from agents/<slug>.json
// by ConfigService (spec.md §6). Unlike builtinDefinition, these come from
// disk and may be redefined on reload.
type ProjectAgentDef struct {
	Slug          string
	Name          string
	Role          string
	Instructions  string
	ToolAllowList []string
	LLMPreset     string
}

// Publisher republishes an agent's kind-0 profile event through the event
// bus. Implemented by internal/eventbus to avoid an import cycle (registry is
// a dependency of eventbus's signer resolution, not the reverse).
type Publisher interface {
	PublishProfile(ctx context.Context, agent *nostrcore.Agent) error
}

// Registry is the AgentRegistry of spec.md §4.2: the set of agents (built-in
// plus project-defined), each with a stable identity resolved through an
// IdentityStore.
//
// Grounded on the teacher's internal/identity/store.go Store-interface shape,
// adapted from cross-channel user identity to per-agent signer identity —
// the one concept nexus and conductor share is "durable identity behind a
// lookup-by-key interface."
type Registry struct {
	mu sync.RWMutex

	identities IdentityStore
	publisher  Publisher

	byPubKey map[string]*nostrcore.Agent
	bySlug   map[string]*nostrcore.Agent
	orchSlug string
}

// New constructs an empty Registry. Call LoadBuiltins and LoadProjectAgents
// (or both, via Bootstrap) before using it.
func New(identities IdentityStore, publisher Publisher) *Registry {
	return &Registry{
		identities: identities,
		publisher:  publisher,
		byPubKey:   make(map[string]*nostrcore.Agent),
		bySlug:     make(map[string]*nostrcore.Agent),
	}
}

// Bootstrap loads the compiled-in builtins and then any project-defined
// agents, in that order (project agents may not shadow a builtin slug).
func (r *Registry) Bootstrap(ctx context.Context, projectAgents []ProjectAgentDef) error {
	if err := r.LoadBuiltins(ctx); err != nil {
		return err
	}
	return r.LoadProjectAgents(ctx, projectAgents)
}

// LoadBuiltins mints or loads the identity for each compiled-in agent and
// registers it. Never reads agents/*.json for these — spec.md §4.2's explicit
// carve-out for built-ins.
func (r *Registry) LoadBuiltins(ctx context.Context) error {
	for _, b := range builtins {
		rec, err := r.identities.GetOrCreate(ctx, b.slug)
		if err != nil {
			return fmt.Errorf("registry: load builtin %s: %w", b.slug, err)
		}
		agent := newAgentFromBuiltin(b, rec)
		r.register(agent)
		if agent.IsOrchestrator {
			r.orchSlug = agent.Slug
		}
	}
	return nil
}

// LoadProjectAgents mints or loads an identity for each project-defined
// agent and registers it, refusing to shadow a built-in slug.
func (r *Registry) LoadProjectAgents(ctx context.Context, defs []ProjectAgentDef) error {
	for _, d := range defs {
		r.mu.RLock()
		existing, ok := r.bySlug[d.Slug]
		r.mu.RUnlock()
		if ok && existing.IsBuiltIn {
			return fmt.Errorf("registry: agent %q redefines a built-in slug", d.Slug)
		}

		rec, err := r.identities.GetOrCreate(ctx, d.Slug)
		if err != nil {
			return fmt.Errorf("registry: load project agent %s: %w", d.Slug, err)
		}
		allow := make(map[string]bool, len(d.ToolAllowList))
		for _, t := range d.ToolAllowList {
			allow[t] = true
		}
		agent := &nostrcore.Agent{
			PubKey:        rec.PubKey,
			Slug:          d.Slug,
			Name:          d.Name,
			Role:          d.Role,
			Instructions:  d.Instructions,
			ToolAllowList: allow,
			LLMPreset:     d.LLMPreset,
		}
		r.register(agent)
	}
	return nil
}

func (r *Registry) register(agent *nostrcore.Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byPubKey[agent.PubKey] = agent
	r.bySlug[agent.Slug] = agent
}

// ByID resolves an agent by its pubkey.
func (r *Registry) ByID(pubkey string) (*nostrcore.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byPubKey[pubkey]
	return a, ok
}

// BySlug resolves an agent by slug. Per spec.md §4.2's guarantee, the same
// *Agent instance is returned for the process lifetime.
func (r *Registry) BySlug(slug string) (*nostrcore.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.bySlug[slug]
	return a, ok
}

// Orchestrator returns the single agent marked IsOrchestrator.
func (r *Registry) Orchestrator() (*nostrcore.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.orchSlug == "" {
		return nil, false
	}
	a, ok := r.bySlug[r.orchSlug]
	return a, ok
}

// All returns every registered agent, sorted by slug for deterministic
// iteration (status output, tests).
func (r *Registry) All() []*nostrcore.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*nostrcore.Agent, 0, len(r.bySlug))
	for _, a := range r.bySlug {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}

// RemoveBySlug removes a project-defined agent. Refuses to remove built-ins,
// reporting false rather than erroring (spec.md §4.2).
func (r *Registry) RemoveBySlug(slug string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.bySlug[slug]
	if !ok || a.IsBuiltIn {
		return false
	}
	delete(r.bySlug, slug)
	delete(r.byPubKey, a.PubKey)
	return true
}

// PrivateKeyFor resolves the signing key for a registered agent's pubkey,
// satisfying eventbus.SignerResolver so the bus can obtain a signer from the
// registry without an import cycle (spec.md §4.1: "obtains the signer from
// AgentRegistry").
func (r *Registry) PrivateKeyFor(pubkey string) (string, bool) {
	r.mu.RLock()
	agent, ok := r.byPubKey[pubkey]
	r.mu.RUnlock()
	if !ok {
		return "", false
	}
	rec, found, err := r.identities.Get(context.Background(), agent.Slug)
	if err != nil || !found {
		return "", false
	}
	return rec.PrivateKey, true
}

// RepublishProfiles re-publishes every registered agent's kind-0 profile
// event through the configured Publisher. Called on startup and whenever
// ConfigService's file watcher observes a change to agents/*.json.
func (r *Registry) RepublishProfiles(ctx context.Context) error {
	for _, a := range r.All() {
		if err := r.publisher.PublishProfile(ctx, a); err != nil {
			return fmt.Errorf("registry: republish profile for %s: %w", a.Slug, err)
		}
	}
	return nil
}

package registry

import (
	"context"
	"fmt"
	"testing"

	"github.com/nostrswarm/conductor/pkg/nostrcore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memIdentityStore struct {
	recs map[string]IdentityRecord
	seq  int
}

func newMemIdentityStore() *memIdentityStore {
	return &memIdentityStore{recs: map[string]IdentityRecord{}}
}

func (m *memIdentityStore) GetOrCreate(_ context.Context, slug string) (IdentityRecord, error) {
	if rec, ok := m.recs[slug]; ok {
		return rec, nil
	}
	m.seq++
	rec := IdentityRecord{Slug: slug, PubKey: fmt.Sprintf("pub-%s-%d", slug, m.seq), PrivateKey: fmt.Sprintf("priv-%d", m.seq)}
	m.recs[slug] = rec
	return rec, nil
}

func (m *memIdentityStore) Get(_ context.Context, slug string) (IdentityRecord, bool, error) {
	rec, ok := m.recs[slug]
	return rec, ok, nil
}

func (m *memIdentityStore) List(context.Context) ([]IdentityRecord, error) {
	var out []IdentityRecord
	for _, r := range m.recs {
		out = append(out, r)
	}
	return out, nil
}

func (m *memIdentityStore) Close() error { return nil }

type recordingPublisher struct {
	published []string
	fail      bool
}

func (p *recordingPublisher) PublishProfile(_ context.Context, agent *nostrcore.Agent) error {
	if p.fail {
		return fmt.Errorf("publish failed")
	}
	p.published = append(p.published, agent.Slug)
	return nil
}

func TestBootstrap_LoadsBuiltinsAndOrchestrator(t *testing.T) {
	r := New(newMemIdentityStore(), &recordingPublisher{})
	require.NoError(t, r.Bootstrap(context.Background(), nil))

	orch, ok := r.Orchestrator()
	require.True(t, ok)
	assert.Equal(t, "orchestrator", orch.Slug)
	assert.True(t, orch.IsBuiltIn)

	planner, ok := r.BySlug("planner")
	require.True(t, ok)
	assert.True(t, planner.CanUseTool("record_lesson"))
	assert.False(t, planner.CanUseTool("complete_milestone"))
}

func TestBySlug_StableInstanceAcrossCalls(t *testing.T) {
	r := New(newMemIdentityStore(), &recordingPublisher{})
	require.NoError(t, r.Bootstrap(context.Background(), nil))

	a1, _ := r.BySlug("planner")
	a2, _ := r.BySlug("planner")
	assert.Same(t, a1, a2)
}

func TestLoadProjectAgents_RefusesToShadowBuiltin(t *testing.T) {
	r := New(newMemIdentityStore(), &recordingPublisher{})
	require.NoError(t, r.LoadBuiltins(context.Background()))

	err := r.LoadProjectAgents(context.Background(), []ProjectAgentDef{{Slug: "planner", Name: "Evil Planner"}})
	require.Error(t, err)
}

func TestLoadProjectAgents_AddsNewAgent(t *testing.T) {
	r := New(newMemIdentityStore(), &recordingPublisher{})
	require.NoError(t, r.Bootstrap(context.Background(), []ProjectAgentDef{
		{Slug: "qa", Name: "QA", ToolAllowList: []string{"publish_status"}},
	}))

	qa, ok := r.BySlug("qa")
	require.True(t, ok)
	assert.False(t, qa.IsBuiltIn)
	assert.True(t, qa.CanUseTool("publish_status"))
}

func TestRemoveBySlug_RefusesBuiltins(t *testing.T) {
	r := New(newMemIdentityStore(), &recordingPublisher{})
	require.NoError(t, r.Bootstrap(context.Background(), []ProjectAgentDef{{Slug: "qa", Name: "QA"}}))

	assert.False(t, r.RemoveBySlug("planner"))
	assert.True(t, r.RemoveBySlug("qa"))
	_, ok := r.BySlug("qa")
	assert.False(t, ok)
}

func TestIdentitiesStableAcrossReload(t *testing.T) {
	store := newMemIdentityStore()
	r1 := New(store, &recordingPublisher{})
	require.NoError(t, r1.LoadBuiltins(context.Background()))
	a1, _ := r1.BySlug("executor")

	r2 := New(store, &recordingPublisher{})
	require.NoError(t, r2.LoadBuiltins(context.Background()))
	a2, _ := r2.BySlug("executor")

	assert.Equal(t, a1.PubKey, a2.PubKey)
}

func TestRepublishProfiles_PublishesEveryAgent(t *testing.T) {
	pub := &recordingPublisher{}
	r := New(newMemIdentityStore(), pub)
	require.NoError(t, r.Bootstrap(context.Background(), []ProjectAgentDef{{Slug: "qa", Name: "QA"}}))

	require.NoError(t, r.RepublishProfiles(context.Background()))
	assert.Len(t, pub.published, len(builtins)+1)
}

func TestRepublishProfiles_PropagatesFailure(t *testing.T) {
	pub := &recordingPublisher{fail: true}
	r := New(newMemIdentityStore(), pub)
	require.NoError(t, r.LoadBuiltins(context.Background()))

	err := r.RepublishProfiles(context.Background())
	require.Error(t, err)
}

func TestAll_SortedBySlug(t *testing.T) {
	r := New(newMemIdentityStore(), &recordingPublisher{})
	require.NoError(t, r.LoadBuiltins(context.Background()))

	all := r.All()
	for i := 1; i < len(all); i++ {
		assert.True(t, all[i-1].Slug < all[i].Slug)
	}
}

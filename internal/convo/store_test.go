package convo

import (
	"context"
	"testing"
	"time"

	"github.com/nostrswarm/conductor/pkg/nostrcore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreate_CreatesOnce(t *testing.T) {
	s := New()

	conv, created := s.GetOrCreate("root1", "author1")
	require.True(t, created)
	assert.Equal(t, nostrcore.PhaseChat, conv.Phase)

	again, created2 := s.GetOrCreate("root1", "author1")
	assert.False(t, created2)
	assert.Same(t, conv, again)
}

func TestWithLock_UnknownConversation(t *testing.T) {
	s := New()
	err := s.WithLock(context.Background(), "missing", func(*nostrcore.Conversation) error { return nil })
	require.Error(t, err)
}

func TestWithLock_SerializesMutation(t *testing.T) {
	s := New()
	s.GetOrCreate("root1", "author1")

	const n = 50
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			errs <- s.WithLock(context.Background(), "root1", func(c *nostrcore.Conversation) error {
				c.Metadata["counter"] = c.Metadata["counter"] + "x"
				return nil
			})
		}()
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
	}

	conv, _ := s.Get("root1")
	assert.Len(t, conv.Metadata["counter"], n)
}

func TestAppendOutbound_ChainsPreviousEvent(t *testing.T) {
	s := New()
	s.GetOrCreate("root1", "author1")
	ctx := context.Background()

	require.NoError(t, s.AppendOutbound(ctx, "root1", nostrcore.Event{ID: "e1"}, "task1", time.Now()))
	require.NoError(t, s.AppendOutbound(ctx, "root1", nostrcore.Event{ID: "e2"}, "task1", time.Now()))

	conv, _ := s.Get("root1")
	assert.Equal(t, "e2", conv.PreviousEventFor("task1"))
	assert.Len(t, conv.History, 2)
}

func TestSweep_EvictsDoneAfterQuiescenceAndTombstones(t *testing.T) {
	s := New()
	s.SetQuiescence(time.Minute)
	conv, _ := s.GetOrCreate("root1", "author1")
	conv.Phase = nostrcore.PhaseDone
	conv.LastActivityAt = time.Now().Add(-2 * time.Minute)

	evicted := s.Sweep(time.Now())
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 0, s.Len())
	assert.True(t, s.Tombstoned("root1"))

	_, ok := s.Get("root1")
	assert.False(t, ok)
}

func TestSweep_DoesNotEvictBeforeQuiescence(t *testing.T) {
	s := New()
	s.SetQuiescence(time.Hour)
	conv, _ := s.GetOrCreate("root1", "author1")
	conv.Phase = nostrcore.PhaseDone
	conv.LastActivityAt = time.Now()

	evicted := s.Sweep(time.Now())
	assert.Equal(t, 0, evicted)
	assert.Equal(t, 1, s.Len())
}

func TestSweep_ForgetsOldTombstones(t *testing.T) {
	s := New()
	s.tombstoneTT = time.Minute
	s.GetOrCreate("root1", "author1")
	conv, _ := s.Get("root1")
	conv.Phase = nostrcore.PhaseDone
	conv.LastActivityAt = time.Now().Add(-time.Hour)

	s.Sweep(time.Now())
	assert.True(t, s.Tombstoned("root1"))

	s.Sweep(time.Now().Add(2 * time.Hour))
	assert.False(t, s.Tombstoned("root1"))
}

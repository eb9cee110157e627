package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStore struct {
	ids []string
}

func (s *stubStore) SweepIDs(time.Time) []string {
	return s.ids
}

type recordingRouters struct {
	closed []string
}

func (r *recordingRouters) Close(conversationID string) {
	r.closed = append(r.closed, conversationID)
}

func TestSweepNow_ClosesRouterQueueForEachEvictedConversation(t *testing.T) {
	store := &stubStore{ids: []string{"conv1", "conv2"}}
	routers := &recordingRouters{}
	s := New(store, routers, nil)

	s.SweepNow()

	assert.ElementsMatch(t, []string{"conv1", "conv2"}, routers.closed)
}

func TestSweepNow_NoEvictionsClosesNothing(t *testing.T) {
	store := &stubStore{}
	routers := &recordingRouters{}
	s := New(store, routers, nil)

	s.SweepNow()

	assert.Empty(t, routers.closed)
}

func TestStart_RunsSweepOnScheduleAndStopReturns(t *testing.T) {
	store := &stubStore{ids: []string{"conv1"}}
	routers := &recordingRouters{}
	s := New(store, routers, nil)
	s.SetSweepSchedule("@every 50ms")

	require.NoError(t, s.Start())

	require.Eventually(t, func() bool {
		return len(routers.closed) > 0
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestCron_ExposesSharedSchedulerForOtherComponents(t *testing.T) {
	s := New(&stubStore{}, &recordingRouters{}, nil)
	assert.NotNil(t, s.Cron())
}

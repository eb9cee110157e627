package convo

import (
	"context"
	"time"

	"github.com/nostrswarm/conductor/pkg/nostrcore"
)

// AppendInbound records an inbound event against the conversation identified
// by id under the conversation's lock. Returns coreerr.ErrUnknownConversation
// if id has no live conversation (callers should check Tombstoned first to
// distinguish "never existed" from "evicted").
func (s *Store) AppendInbound(ctx context.Context, id string, ev nostrcore.Event, now time.Time) error {
	return s.WithLock(ctx, id, func(c *nostrcore.Conversation) error {
		c.RecordInbound(ev, now)
		return nil
	})
}

// AppendOutbound records an outbound event published on behalf of taskID
// against the conversation, maintaining the per-task previous-event-id chain
// (spec.md §3 / §4.3).
func (s *Store) AppendOutbound(ctx context.Context, id string, ev nostrcore.Event, taskID string, now time.Time) error {
	return s.WithLock(ctx, id, func(c *nostrcore.Conversation) error {
		c.RecordOutbound(ev, taskID, now)
		return nil
	})
}

// AddMilestone appends a milestone id to the conversation's milestone list
// under lock.
func (s *Store) AddMilestone(ctx context.Context, id, milestoneID string) error {
	return s.WithLock(ctx, id, func(c *nostrcore.Conversation) error {
		c.Milestones = append(c.Milestones, milestoneID)
		return nil
	})
}

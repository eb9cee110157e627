// Package maintenance owns the shared github.com/robfig/cron/v3 scheduler
// and the periodic conversation-eviction sweep (spec.md §4.3, §9 DESIGN NOTE):
// conversations sitting in phase done past their quiescence window are
// evicted from internal/convo.Store and have their internal/router.Router
// serial queue closed.
//
// internal/supervisor already registers its own per-task checkpoint monitors
// directly on a *cron.Cron passed into its constructor (grounded on
// internal/tools/policy/approval.go's expiry idea, rescoped to cron entries);
// this package is what creates that shared scheduler, starts and stops it,
// and adds the one entry it owns itself, following the same "log only when
// count>0" idiom as internal/tasks/scheduler.go's cleanupStaleExecutions in
// the teacher (here the sweep logs at Info).
package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule runs the conversation sweep once a minute.
const DefaultSweepSchedule = "@every 1m"

// ConversationStore is the subset of *internal/convo.Store the sweep needs.
type ConversationStore interface {
	SweepIDs(now time.Time) []string
}

// RouterCloser tears down a conversation's serial queue, satisfied by
// *internal/router.Router.
type RouterCloser interface {
	Close(conversationID string)
}

// Scheduler owns the shared cron.Cron instance conductor's components
// register periodic work on.
type Scheduler struct {
	cron    *cron.Cron
	store   ConversationStore
	routers RouterCloser
	logger  *slog.Logger
	clock   func() time.Time

	sweepSchedule string
}

// New constructs a Scheduler. Call Start to begin running cron entries,
// including the conversation sweep registered by Start itself.
func New(store ConversationStore, routers RouterCloser, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:          cron.New(),
		store:         store,
		routers:       routers,
		logger:        logger,
		clock:         time.Now,
		sweepSchedule: DefaultSweepSchedule,
	}
}

// SetSweepSchedule overrides the default once-a-minute sweep cadence. Must be
// called before Start.
func (s *Scheduler) SetSweepSchedule(spec string) {
	s.sweepSchedule = spec
}

// Cron returns the shared scheduler, for components (internal/supervisor)
// that register their own cron entries directly on it.
func (s *Scheduler) Cron() *cron.Cron {
	return s.cron
}

// Start registers the conversation sweep entry and starts the scheduler.
// Other components must have already called their own registration methods
// against Cron() before Start, or add entries any time after — robfig/cron
// accepts new entries on a running scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.sweepSchedule, s.sweep); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for any in-flight cron jobs to finish or
// ctx to be cancelled, whichever comes first.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sweep evicts quiescent done conversations and closes each one's router
// queue.
func (s *Scheduler) sweep() {
	ids := s.store.SweepIDs(s.clock())
	for _, id := range ids {
		s.routers.Close(id)
	}
	if len(ids) > 0 {
		s.logger.Info("swept quiescent conversations", "count", len(ids))
	}
}

// SweepNow runs the sweep immediately, bypassing the cron schedule. Exposed
// for tests.
func (s *Scheduler) SweepNow() {
	s.sweep()
}

// Package convo implements the in-memory Conversation store (spec.md §4.3):
// an id-addressed map with a per-conversation exclusive lock, append-only
// history, and a tombstone set so late-arriving events on evicted
// conversations are dropped instead of resurrecting them.
//
// Grounded on internal/sessions/memory.go's map-plus-mutex shape and
// internal/sessions/locker.go's SessionLocker for per-key locking — the
// DESIGN NOTE "conversation store aliasing" is addressed here directly: all
// access goes through Store methods, never a raw pointer held across an
// await point by a caller.
package convo

import (
	"context"
	"sync"
	"time"

	"github.com/nostrswarm/conductor/pkg/nostrcore"
)

// DefaultQuiescence is how long a conversation sits in the store after
// reaching phase done before Sweep evicts it (spec.md §4.3).
const DefaultQuiescence = 10 * time.Minute

// DefaultTombstoneTTL bounds how long an evicted id is remembered before the
// tombstone itself is forgotten.
const DefaultTombstoneTTL = time.Hour

// Store is the conversation store described in spec.md §4.3.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*nostrcore.Conversation
	locks         map[string]*sync.Mutex
	tombstones    map[string]time.Time

	quiescence  time.Duration
	tombstoneTT time.Duration

	now func() time.Time
}

// New creates an empty Store with the default quiescence and tombstone TTL.
func New() *Store {
	return &Store{
		conversations: make(map[string]*nostrcore.Conversation),
		locks:         make(map[string]*sync.Mutex),
		tombstones:    make(map[string]time.Time),
		quiescence:    DefaultQuiescence,
		tombstoneTT:   DefaultTombstoneTTL,
		now:           time.Now,
	}
}

// SetQuiescence overrides the default eviction quiescence interval.
func (s *Store) SetQuiescence(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quiescence = d
}

// Tombstoned reports whether id was recently evicted and should be dropped.
func (s *Store) Tombstoned(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tombstones[id]
	return ok
}

// GetOrCreate returns the Conversation for rootEventID, creating it (seeded
// per spec.md §4.3: phase=chat, empty history, empty team) if absent. The
// second return value reports whether a new Conversation was created.
func (s *Store) GetOrCreate(rootEventID, rootAuthor string) (*nostrcore.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv, ok := s.conversations[rootEventID]; ok {
		return conv, false
	}
	conv := nostrcore.NewConversation(rootEventID, rootAuthor, s.now())
	s.conversations[rootEventID] = conv
	s.locks[rootEventID] = &sync.Mutex{}
	return conv, true
}

// Get returns the conversation for id, if present and not tombstoned.
func (s *Store) Get(id string) (*nostrcore.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	return conv, ok
}

// WithLock runs fn with the conversation's exclusive lock held (spec.md
// §4.3). The lock is released even if fn panics or returns an error; callers
// must not retain the *Conversation pointer beyond fn's lifetime for
// mutation purposes (reads of already-copied fields are fine).
func (s *Store) WithLock(ctx context.Context, id string, fn func(*nostrcore.Conversation) error) error {
	lock, conv, ok := s.lockFor(id)
	if !ok {
		return errUnknownConversation(id)
	}

	done := make(chan error, 1)
	go func() {
		lock.Lock()
		defer lock.Unlock()
		done <- fn(conv)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func (s *Store) lockFor(id string) (*sync.Mutex, *nostrcore.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, nil, false
	}
	return s.locks[id], conv, true
}

// SetPhase transitions a conversation's phase. Callers are expected to have
// already validated the transition via internal/phase.Machine; SetPhase
// itself just performs the guarded mutation atomically.
func (s *Store) SetPhase(ctx context.Context, id string, newPhase nostrcore.Phase) error {
	return s.WithLock(ctx, id, func(c *nostrcore.Conversation) error {
		c.Phase = newPhase
		return nil
	})
}

// Sweep evicts every conversation in PhaseDone whose last activity predates
// now-quiescence, tombstoning its id, and forgets tombstones older than the
// tombstone TTL. Intended to be called periodically by the maintenance
// scheduler (internal/maintenance).
func (s *Store) Sweep(now time.Time) (evicted int) {
	return len(s.SweepIDs(now))
}

// SweepIDs does the same eviction as Sweep but returns the evicted ids, so
// internal/maintenance can close each conversation's Router queue
// (spec.md §4.3: "maintenance closes the conversation's serial queue on
// eviction") without needing its own duplicate notion of quiescence.
func (s *Store) SweepIDs(now time.Time) (evictedIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, conv := range s.conversations {
		if conv.Phase != nostrcore.PhaseDone {
			continue
		}
		if now.Sub(conv.LastActivityAt) < s.quiescence {
			continue
		}
		delete(s.conversations, id)
		delete(s.locks, id)
		s.tombstones[id] = now
		evictedIDs = append(evictedIDs, id)
	}

	for id, at := range s.tombstones {
		if now.Sub(at) > s.tombstoneTT {
			delete(s.tombstones, id)
		}
	}
	return evictedIDs
}

// CurrentPhase reports id's current phase, satisfying
// tooldispatch.PhaseSource so Dispatcher can gate write/spawn tools without
// importing this package.
func (s *Store) CurrentPhase(id string) (nostrcore.Phase, bool) {
	conv, ok := s.Get(id)
	if !ok {
		return "", false
	}
	return conv.Phase, true
}

// Len returns the number of live (non-evicted) conversations, for tests and
// status reporting.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations)
}

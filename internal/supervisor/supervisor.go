// Package supervisor implements the Supervisor of spec.md §4.8: it tracks
// supervised tasks as Milestones with a per-task-type checkpoint template,
// records checkpoint outcomes, raises intervention on high-risk failures or
// stalled checkpoints, and renders a pass/fail SupervisionResult once a task
// completes.
//
// Structurally grounded on internal/tools/policy/approval.go's
// ApprovalManager in the teacher: a mutex-guarded request map, a policy
// surface, and callback hooks — the closest teacher analog to "create a
// tracked unit of work, evaluate it against a policy, call back on the
// outcome." The maxDuration checkpoint monitor is grounded on the same
// package's ApprovalTimeout/expiry idea, rescoped from a poll-on-read check
// to a github.com/robfig/cron/v3 entry per open task, the scheduling
// mechanism SPEC_FULL.md's maintenance section calls for.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nostrswarm/conductor/internal/eventbus"
	"github.com/nostrswarm/conductor/pkg/nostrcore"
)

// checkpointTemplates maps a task type to the ordered checkpoint names
// Supervisor seeds a new Milestone with (spec.md §4.8).
var checkpointTemplates = map[nostrcore.TaskType][]string{
	nostrcore.TaskCodeGeneration:     {"Planning", "Implementation", "Testing"},
	nostrcore.TaskSystemModification: {"Backup Check", "Change Validation", "Rollback Plan"},
	nostrcore.TaskDefault:            {"Start", "Progress", "Completion"},
}

func templateFor(t nostrcore.TaskType) []string {
	if names, ok := checkpointTemplates[t]; ok {
		return names
	}
	return checkpointTemplates[nostrcore.TaskDefault]
}

// DefaultMaxDuration bounds how long a task's checkpoints may remain
// incomplete before the monitor raises intervention, when a caller doesn't
// pass an explicit duration to StartTask.
const DefaultMaxDuration = 30 * time.Minute

// destroyAfter is how long a completed task's Milestone is kept addressable
// after its final decision (spec.md §3: "destroyed 60s after final decision").
const destroyAfter = 60 * time.Second

var errUnknownTask = errors.New("supervisor: unknown task")

type task struct {
	milestone    *nostrcore.Milestone
	decision     *nostrcore.SupervisionDecision
	monitorEntry cron.EntryID
	hasMonitor   bool
}

// Supervisor is the Supervisor of spec.md §4.8, safe for concurrent use.
type Supervisor struct {
	mu    sync.Mutex
	tasks map[string]*task

	bus    eventbus.Bus
	cron   *cron.Cron
	clock  func() time.Time
	logger *slog.Logger
	nextID func() string
}

// New constructs a Supervisor. cronScheduler must already be running
// (.Start() called by the owning runtime); Supervisor only adds/removes
// entries on it, it never starts or stops the scheduler itself.
func New(bus eventbus.Bus, cronScheduler *cron.Cron, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	counter := 0
	var counterMu sync.Mutex
	return &Supervisor{
		tasks:  make(map[string]*task),
		bus:    bus,
		cron:   cronScheduler,
		clock:  time.Now,
		logger: logger.With("component", "supervisor"),
		nextID: func() string {
			counterMu.Lock()
			defer counterMu.Unlock()
			counter++
			return fmt.Sprintf("milestone_%d_%d", time.Now().UnixNano(), counter)
		},
	}
}

// StartTask creates a Milestone for a qualifying task type, seeded with its
// checkpoint template, and registers a cron monitor that raises intervention
// if the milestone is neither completed nor failed once maxDuration has
// elapsed (DefaultMaxDuration when maxDuration is not positive).
func (s *Supervisor) StartTask(conversationID, agentID string, taskType nostrcore.TaskType, riskLevel nostrcore.RiskLevel, maxDuration time.Duration) *nostrcore.Milestone {
	names := templateFor(taskType)
	checkpoints := make([]nostrcore.Checkpoint, len(names))
	now := s.clock()
	for i, name := range names {
		checkpoints[i] = nostrcore.Checkpoint{Name: name, Status: nostrcore.CheckpointPending, UpdatedAt: now}
	}

	milestone := &nostrcore.Milestone{
		ID:             s.nextID(),
		ConversationID: conversationID,
		AgentID:        agentID,
		TaskType:       taskType,
		Status:         nostrcore.MilestoneInProgress,
		Checkpoints:    checkpoints,
		RiskLevel:      riskLevel,
		StartedAt:      now,
	}

	t := &task{milestone: milestone}

	if maxDuration <= 0 {
		maxDuration = DefaultMaxDuration
	}
	if s.cron != nil {
		entryID, err := s.cron.AddFunc(everySpec(maxDuration), func() { s.checkDuration(milestone.ID, maxDuration) })
		if err != nil {
			s.logger.Warn("failed to register checkpoint monitor", "error", err, "milestone", milestone.ID)
		} else {
			t.monitorEntry = entryID
			t.hasMonitor = true
		}
	}

	s.mu.Lock()
	s.tasks[milestone.ID] = t
	s.mu.Unlock()

	return milestone
}

// everySpec renders a robfig/cron "@every" spec for d.
func everySpec(d time.Duration) string {
	return "@every " + d.String()
}

func (s *Supervisor) checkDuration(taskID string, maxDuration time.Duration) {
	s.mu.Lock()
	t, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return
	}
	if t.hasMonitor && s.cron != nil {
		s.cron.Remove(t.monitorEntry)
		t.hasMonitor = false
	}
	done := t.milestone.Status == nostrcore.MilestoneCompleted || t.milestone.Status == nostrcore.MilestoneFailed
	elapsed := s.clock().Sub(t.milestone.StartedAt)
	exceeded := !done && elapsed >= maxDuration
	if exceeded {
		t.milestone.InterventionRequired = true
	}
	conv, agent := t.milestone.ConversationID, t.milestone.AgentID
	s.mu.Unlock()

	if exceeded {
		s.raiseIntervention(conv, agent, taskID, fmt.Sprintf("checkpoint monitor exceeded maxDuration %s", maxDuration))
	}
}

// RecordCheckpoint updates a checkpoint's status (spec.md §4.8). A failed
// checkpoint on a high-risk task raises intervention immediately.
func (s *Supervisor) RecordCheckpoint(ctx context.Context, taskID, checkpointName string, status nostrcore.CheckpointStatus, notes string) error {
	s.mu.Lock()
	t, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", errUnknownTask, taskID)
	}

	found := false
	now := s.clock()
	for i := range t.milestone.Checkpoints {
		if t.milestone.Checkpoints[i].Name == checkpointName {
			t.milestone.Checkpoints[i].Status = status
			t.milestone.Checkpoints[i].Notes = notes
			t.milestone.Checkpoints[i].UpdatedAt = now
			found = true
			break
		}
	}
	if !found {
		s.mu.Unlock()
		return fmt.Errorf("supervisor: unknown checkpoint %q for task %s", checkpointName, taskID)
	}

	intervene := status == nostrcore.CheckpointFailed && t.milestone.RiskLevel == nostrcore.RiskHigh
	if intervene {
		t.milestone.InterventionRequired = true
	}
	conv, agent := t.milestone.ConversationID, t.milestone.AgentID
	s.mu.Unlock()

	if intervene {
		s.raiseIntervention(conv, agent, taskID, fmt.Sprintf("checkpoint %q failed on a high-risk task", checkpointName))
	}
	return nil
}

func (s *Supervisor) raiseIntervention(conversationID, agentID, taskID, reason string) {
	if s.bus == nil {
		return
	}
	tags := nostrcore.Tags{{"e", conversationID}, {"milestone", taskID}, {"reason", reason}}
	if _, err := s.bus.Publish(context.Background(), agentID, eventbus.KindStatus, "intervention_required", tags); err != nil {
		s.logger.Warn("failed to publish intervention_required", "error", err, "milestone", taskID)
	}
}

// RecordDecision stores supervisorAgent's verdict for milestoneID, making it
// visible to phase.Decider.LatestDecision for Review-phase exit gating. Used
// by MakeDecision (decision.go) once it has parsed the supervisor LLM's reply.
func (s *Supervisor) RecordDecision(milestoneID string, decision nostrcore.SupervisionDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[milestoneID]
	if !ok {
		return fmt.Errorf("%w: %s", errUnknownTask, milestoneID)
	}
	t.decision = &decision
	if decision.ShouldEscalate() {
		t.milestone.InterventionRequired = true
	}
	return nil
}

// LatestDecision implements phase.Decider.
func (s *Supervisor) LatestDecision(milestoneID string) (nostrcore.SupervisionDecision, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[milestoneID]
	if !ok || t.decision == nil {
		return nostrcore.SupervisionDecision{}, false
	}
	return *t.decision, true
}

// InterventionRequired implements phase.Decider.
func (s *Supervisor) InterventionRequired(milestoneID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[milestoneID]
	if !ok {
		return false
	}
	return t.milestone.InterventionRequired
}

// CompleteSupervision renders the SupervisionResult of spec.md §4.8, marks
// the milestone completed or failed, cancels its checkpoint monitor, and
// schedules the milestone's removal destroyAfter its final decision.
func (s *Supervisor) CompleteSupervision(ctx context.Context, taskID string) (nostrcore.SupervisionResult, error) {
	s.mu.Lock()
	t, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return nostrcore.SupervisionResult{}, fmt.Errorf("%w: %s", errUnknownTask, taskID)
	}

	if t.hasMonitor && s.cron != nil {
		s.cron.Remove(t.monitorEntry)
		t.hasMonitor = false
	}

	result := evaluate(t.milestone)

	now := s.clock()
	t.milestone.CompletedAt = &now
	if result.Passed {
		t.milestone.Status = nostrcore.MilestoneCompleted
	} else {
		t.milestone.Status = nostrcore.MilestoneFailed
	}
	s.mu.Unlock()

	go func() {
		time.Sleep(destroyAfter)
		s.mu.Lock()
		delete(s.tasks, taskID)
		s.mu.Unlock()
	}()

	return result, nil
}

// CompleteMilestone implements builtin.MilestoneCompleter: the
// complete_milestone tool calls this directly; agentPubKey is accepted for
// interface symmetry with the tool's call site but does not affect the
// verdict, which depends only on checkpoint state and risk level.
func (s *Supervisor) CompleteMilestone(ctx context.Context, milestoneID, agentPubKey string) (nostrcore.SupervisionResult, error) {
	return s.CompleteSupervision(ctx, milestoneID)
}

// evaluate implements spec.md §4.8's completeSupervision rule:
//   - high risk: passed iff no checkpoint is failed or pending
//   - medium risk: passed iff no checkpoint is failed
//   - low risk: passed iff at least one checkpoint passed
func evaluate(m *nostrcore.Milestone) nostrcore.SupervisionResult {
	var failed, pending []string
	passedAny := false
	for _, c := range m.Checkpoints {
		switch c.Status {
		case nostrcore.CheckpointFailed:
			failed = append(failed, c.Name)
		case nostrcore.CheckpointPending:
			pending = append(pending, c.Name)
		case nostrcore.CheckpointPassed:
			passedAny = true
		}
	}

	var passed bool
	switch m.RiskLevel {
	case nostrcore.RiskHigh:
		passed = len(failed) == 0 && len(pending) == 0
	case nostrcore.RiskMedium:
		passed = len(failed) == 0
	default: // low, or unset
		passed = passedAny
	}

	var issues []string
	if len(failed) > 0 {
		sort.Strings(failed)
		issues = append(issues, fmt.Sprintf("%d checkpoint(s) failed: %s", len(failed), strings.Join(failed, ", ")))
	}
	if len(pending) > 0 {
		sort.Strings(pending)
		issues = append(issues, fmt.Sprintf("%d checkpoint(s) pending: %s", len(pending), strings.Join(pending, ", ")))
	}

	return nostrcore.SupervisionResult{Passed: passed, Issues: issues}
}

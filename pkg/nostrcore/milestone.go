package nostrcore

import "time"

// CheckpointStatus is the lifecycle state of a single Checkpoint.
type CheckpointStatus string

const (
	CheckpointPending CheckpointStatus = "pending"
	CheckpointPassed  CheckpointStatus = "passed"
	CheckpointFailed  CheckpointStatus = "failed"
	CheckpointSkipped CheckpointStatus = "skipped"
)

// Checkpoint is one tracked step within a Milestone.
type Checkpoint struct {
	Name      string
	Status    CheckpointStatus
	Notes     string
	UpdatedAt time.Time
}

// MilestoneStatus is the lifecycle state of a Milestone.
type MilestoneStatus string

const (
	MilestonePending    MilestoneStatus = "pending"
	MilestoneInProgress MilestoneStatus = "in_progress"
	MilestoneCompleted  MilestoneStatus = "completed"
	MilestoneFailed     MilestoneStatus = "failed"
)

// RiskLevel gates how strictly completeSupervision judges a Milestone.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// TaskType selects which checkpoint template Supervisor applies when a
// Milestone is created (spec.md §4.8).
type TaskType string

const (
	TaskCodeGeneration     TaskType = "code_generation"
	TaskSystemModification TaskType = "system_modification"
	TaskMultiStepOperation TaskType = "multi_step_operation"
	TaskDataProcessing     TaskType = "data_processing"
	TaskDefault            TaskType = "default"
)

// Milestone is a tracked unit of work inside a supervised task; it carries
// checkpoints (spec.md §3).
type Milestone struct {
	ID             string
	ConversationID string
	AgentID        string
	Description    string
	TaskType       TaskType
	Status         MilestoneStatus
	Checkpoints    []Checkpoint
	RiskLevel      RiskLevel

	StartedAt   time.Time
	CompletedAt *time.Time

	// InterventionRequired is set when a high-risk checkpoint fails or a
	// checkpoint monitor's maxDuration is exceeded (spec.md §4.8).
	InterventionRequired bool
}

// Decision is one of the four outcomes Supervisor.makeDecision can reach.
type Decision string

const (
	DecisionApprove  Decision = "approve"
	DecisionReject   Decision = "reject"
	DecisionRevise   Decision = "revise"
	DecisionEscalate Decision = "escalate"
)

// SupervisionDecision records a supervisor's verdict on a milestone
// (spec.md §3).
type SupervisionDecision struct {
	Decision         Decision
	Confidence       float64
	Reasoning        string
	RequiredActions  []string
	EscalationReason string
	SupervisorID     string
	Timestamp        time.Time
}

// ShouldEscalate implements spec.md §4.8: true iff the decision is escalate
// or confidence is below 0.6.
func (d SupervisionDecision) ShouldEscalate() bool {
	return d.Decision == DecisionEscalate || d.Confidence < 0.6
}

// SupervisionResult is completeSupervision's return value (spec.md §4.8).
type SupervisionResult struct {
	Passed bool
	Issues []string
}

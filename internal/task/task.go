// Package task provides the task domain model for apex.
package task

import (
	"time"
)

// Priority represents the urgency/importance of a task.
type Priority string

const (
	// PriorityUrgent indicates tasks that need immediate attention.
	PriorityUrgent Priority = "urgent"
	// PriorityHigh indicates important tasks that should be done soon.
	PriorityHigh Priority = "high"
	// PriorityNormal indicates regular tasks (default).
	PriorityNormal Priority = "normal"
	// PriorityLow indicates tasks that can wait.
	PriorityLow Priority = "low"
)

// ValidPriorities returns all valid priority values.
func ValidPriorities() []Priority {
	return []Priority{PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow}
}

// IsValidPriority returns true if the priority is a valid priority value.
func IsValidPriority(p Priority) bool {
	switch p {
	case PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow:
		return true
	default:
		return false
	}
}

// PriorityOrder returns a numeric value for sorting (lower = higher priority).
// Unknown or empty priorities sort as normal.
func PriorityOrder(p Priority) int {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityHigh:
		return 1
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 3
	default:
		return 2
	}
}

// Status represents the current state of a task.
type Status string

const (
	StatusPending         Status = "pending"
	StatusQueued          Status = "queued"
	StatusPlanning        Status = "planning"
	StatusInProgress      Status = "in-progress"
	StatusWaitingApproval Status = "waiting-approval"
	StatusPaused          Status = "paused"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
	StatusCancelled       Status = "cancelled"
)

// ValidStatuses returns all valid status values.
func ValidStatuses() []Status {
	return []Status{
		StatusPending, StatusQueued, StatusPlanning, StatusInProgress,
		StatusWaitingApproval, StatusPaused, StatusCompleted, StatusFailed,
		StatusCancelled,
	}
}

// IsValidStatus returns true if the status is a valid status value.
func IsValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusQueued, StatusPlanning, StatusInProgress,
		StatusWaitingApproval, StatusPaused, StatusCompleted, StatusFailed,
		StatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal returns true for statuses a task never leaves on its own.
// Cancelled tasks are never re-executed; failed tasks need an explicit re-queue.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// PauseReason explains why a task was paused.
type PauseReason string

const (
	PauseUsageLimit   PauseReason = "usage_limit"
	PauseBudget       PauseReason = "budget"
	PauseCapacity     PauseReason = "capacity"
	PauseSessionLimit PauseReason = "session_limit"
	PauseRateLimit    PauseReason = "rate_limit"
	PauseManual       PauseReason = "manual"
)

// ValidPauseReasons returns all valid pause reason values.
func ValidPauseReasons() []PauseReason {
	return []PauseReason{
		PauseUsageLimit, PauseBudget, PauseCapacity,
		PauseSessionLimit, PauseRateLimit, PauseManual,
	}
}

// AutoResumable returns true for the reasons the scheduler may clear on its
// own once capacity returns. session_limit and manual pauses require an
// explicit resume; the match is exact and case-sensitive.
func (r PauseReason) AutoResumable() bool {
	switch r {
	case PauseUsageLimit, PauseBudget, PauseCapacity:
		return true
	default:
		return false
	}
}

// Autonomy controls how much human oversight a task requires.
type Autonomy string

const (
	// AutonomyFull lets the task run and merge without human review.
	AutonomyFull Autonomy = "full"
	// AutonomyReviewBeforeMerge runs the task but waits for PR approval.
	AutonomyReviewBeforeMerge Autonomy = "review-before-merge"
	// AutonomyManual requires explicit approval at every gate.
	AutonomyManual Autonomy = "manual"
)

// ValidAutonomies returns all valid autonomy values.
func ValidAutonomies() []Autonomy {
	return []Autonomy{AutonomyFull, AutonomyReviewBeforeMerge, AutonomyManual}
}

// IsValidAutonomy returns true if the autonomy is a valid autonomy value.
func IsValidAutonomy(a Autonomy) bool {
	switch a {
	case AutonomyFull, AutonomyReviewBeforeMerge, AutonomyManual:
		return true
	default:
		return false
	}
}

// SubtaskStrategy controls how a decomposed task's children execute.
type SubtaskStrategy string

const (
	// StrategySequential runs subtasks one after another in order.
	StrategySequential SubtaskStrategy = "sequential"
	// StrategyParallel runs all subtasks concurrently.
	StrategyParallel SubtaskStrategy = "parallel"
	// StrategyDependencyBased runs subtasks as their dependencies complete.
	StrategyDependencyBased SubtaskStrategy = "dependency-based"
)

// ValidSubtaskStrategies returns all valid strategy values.
func ValidSubtaskStrategies() []SubtaskStrategy {
	return []SubtaskStrategy{StrategySequential, StrategyParallel, StrategyDependencyBased}
}

// IsValidSubtaskStrategy returns true if the strategy is a valid value.
func IsValidSubtaskStrategy(s SubtaskStrategy) bool {
	switch s {
	case StrategySequential, StrategyParallel, StrategyDependencyBased:
		return true
	default:
		return false
	}
}

// Usage tracks token and cost consumption for a task.
type Usage struct {
	InputTokens   int     `yaml:"input_tokens" json:"input_tokens"`
	OutputTokens  int     `yaml:"output_tokens" json:"output_tokens"`
	TotalTokens   int     `yaml:"total_tokens" json:"total_tokens"`
	EstimatedCost float64 `yaml:"estimated_cost" json:"estimated_cost"`
}

// AddTokens accumulates token counts and keeps the total in sync.
func (u *Usage) AddTokens(input, output int) {
	u.InputTokens += input
	u.OutputTokens += output
	u.TotalTokens = u.InputTokens + u.OutputTokens
}

// Add merges another usage block into this one, cost included.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens = u.InputTokens + u.OutputTokens
	u.EstimatedCost += other.EstimatedCost
}

// Message is one entry of a task's stored conversation. Content is a string
// for plain text and a structured value for tool results; estimation
// JSON-serialises structured content before counting.
type Message struct {
	Role    string `yaml:"role" json:"role"`
	Type    string `yaml:"type,omitempty" json:"type,omitempty"`
	Content any    `yaml:"content" json:"content"`
}

// Task represents a unit of work driven through a workflow by the daemon.
type Task struct {
	// ID is the unique identifier (e.g., task_1724500000000_a1b2c3d4)
	ID string `yaml:"id" json:"id"`

	// Description is the full task description
	Description string `yaml:"description" json:"description"`

	// AcceptanceCriteria states what "done" means for this task
	AcceptanceCriteria string `yaml:"acceptance_criteria,omitempty" json:"acceptance_criteria,omitempty"`

	// Workflow names the workflow definition driving this task
	Workflow string `yaml:"workflow" json:"workflow"`

	// Autonomy controls the human-oversight level
	Autonomy Autonomy `yaml:"autonomy,omitempty" json:"autonomy,omitempty"`

	// ProjectPath is the repository root the task operates on
	ProjectPath string `yaml:"project_path" json:"project_path"`

	// BranchName is the git branch for this task (apex/<slug>), assigned at
	// creation and never rewritten.
	BranchName string `yaml:"branch_name" json:"branch_name"`

	// Priority orders the task in the queue
	Priority Priority `yaml:"priority,omitempty" json:"priority,omitempty"`

	// Status is the current lifecycle state
	Status Status `yaml:"status" json:"status"`

	// CurrentStage is the workflow stage currently (or last) executing
	CurrentStage string `yaml:"current_stage,omitempty" json:"current_stage,omitempty"`

	// DependsOn lists task IDs that must complete before this task runs
	DependsOn []string `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`

	// BlockedBy is the subset of DependsOn not yet completed.
	// Computed from the store, never persisted.
	BlockedBy []string `yaml:"-" json:"blocked_by,omitempty"`

	// ParentTaskID links a subtask to its parent
	ParentTaskID string `yaml:"parent_task_id,omitempty" json:"parent_task_id,omitempty"`

	// SubtaskIDs lists this task's children in creation order
	SubtaskIDs []string `yaml:"subtask_ids,omitempty" json:"subtask_ids,omitempty"`

	// SubtaskStrategy controls how the children execute
	SubtaskStrategy SubtaskStrategy `yaml:"subtask_strategy,omitempty" json:"subtask_strategy,omitempty"`

	// RetryCount tracks transient-failure retries for the current run
	RetryCount int `yaml:"retry_count,omitempty" json:"retry_count,omitempty"`

	// MaxRetries caps RetryCount (default 3)
	MaxRetries int `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`

	// PausedAt is when the task was last paused
	PausedAt *time.Time `yaml:"paused_at,omitempty" json:"paused_at,omitempty"`

	// PauseReason explains the last pause
	PauseReason PauseReason `yaml:"pause_reason,omitempty" json:"pause_reason,omitempty"`

	// ResumeAfter is the earliest wall time the task may be re-admitted
	ResumeAfter *time.Time `yaml:"resume_after,omitempty" json:"resume_after,omitempty"`

	// ResumeAttempts counts session resumes, separate from RetryCount
	ResumeAttempts int `yaml:"resume_attempts,omitempty" json:"resume_attempts,omitempty"`

	// Usage aggregates token and cost consumption
	Usage Usage `yaml:"usage" json:"usage"`

	// Conversation is the stored message history, used for session-pressure
	// estimation and resumption
	Conversation []Message `yaml:"conversation,omitempty" json:"conversation,omitempty"`

	// Error holds the human-readable failure message for failed tasks
	Error string `yaml:"error,omitempty" json:"error,omitempty"`

	// PRURL is the pull request created for this task, when any
	PRURL string `yaml:"pr_url,omitempty" json:"pr_url,omitempty"`

	// PRStatus tracks the hosted pull request's review state, when polled
	PRStatus string `yaml:"pr_status,omitempty" json:"pr_status,omitempty"`

	// CreatedAt is when the task was created
	CreatedAt time.Time `yaml:"created_at" json:"created_at"`

	// UpdatedAt is when the task was last updated
	UpdatedAt time.Time `yaml:"updated_at" json:"updated_at"`

	// CompletedAt is when the task finished; set iff status is completed
	CompletedAt *time.Time `yaml:"completed_at,omitempty" json:"completed_at,omitempty"`
}

// New creates a task with defaults applied: pending status, normal priority,
// full autonomy, a fresh id, and a branch derived from the description.
func New(description string) *Task {
	now := time.Now()
	return &Task{
		ID:          NewID(),
		Description: description,
		Status:      StatusPending,
		Priority:    PriorityNormal,
		Autonomy:    AutonomyFull,
		BranchName:  BranchName(description),
		MaxRetries:  DefaultMaxRetries,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// DefaultMaxRetries is applied when a task doesn't set its own cap.
const DefaultMaxRetries = 3

// GetPriority returns the task's priority, defaulting to normal if not set.
func (t *Task) GetPriority() Priority {
	if t.Priority == "" {
		return PriorityNormal
	}
	return t.Priority
}

// GetMaxRetries returns the retry cap, defaulting when unset.
func (t *Task) GetMaxRetries() int {
	if t.MaxRetries <= 0 {
		return DefaultMaxRetries
	}
	return t.MaxRetries
}

// IsReady returns true when the task is pending with no unmet dependencies.
// BlockedBy must already be populated by the store.
func (t *Task) IsReady() bool {
	return t.Status == StatusPending && len(t.BlockedBy) == 0
}

// IsTerminal returns true when the task reached a final state.
func (t *Task) IsTerminal() bool {
	return t.Status.IsTerminal()
}

// Package events provides typed events and publishing infrastructure for apex.
package events

import (
	"time"
)

// EventType identifies the kind of event on the bus.
type EventType string

const (
	// Task lifecycle events

	// EventTaskCreated indicates a task was created.
	EventTaskCreated EventType = "task:created"
	// EventTaskStarted indicates a task began executing.
	EventTaskStarted EventType = "task:started"
	// EventTaskStageChanged indicates a workflow stage transition.
	EventTaskStageChanged EventType = "task:stage-changed"
	// EventTaskCompleted indicates a task finished successfully.
	EventTaskCompleted EventType = "task:completed"
	// EventTaskFailed indicates a task failed permanently.
	EventTaskFailed EventType = "task:failed"
	// EventTaskPaused indicates a task was paused.
	EventTaskPaused EventType = "task:paused"
	// EventTaskSessionResumed indicates a paused task resumed from a checkpoint.
	EventTaskSessionResumed EventType = "task:session-resumed"
	// EventTaskDecomposed indicates a task was split into subtasks.
	EventTaskDecomposed EventType = "task:decomposed"

	// Subtask events (TaskID carries the parent task)

	// EventSubtaskCreated indicates a subtask was created under a parent.
	EventSubtaskCreated EventType = "subtask:created"
	// EventSubtaskCompleted indicates a subtask finished successfully.
	EventSubtaskCompleted EventType = "subtask:completed"
	// EventSubtaskFailed indicates a subtask failed.
	EventSubtaskFailed EventType = "subtask:failed"

	// Agent streaming events

	// EventAgentMessage indicates assistant text output.
	EventAgentMessage EventType = "agent:message"
	// EventAgentThinking indicates extended thinking output.
	EventAgentThinking EventType = "agent:thinking"
	// EventAgentToolUse indicates the agent invoked a tool.
	EventAgentToolUse EventType = "agent:tool-use"
	// EventAgentToolResult indicates a tool returned a result.
	EventAgentToolResult EventType = "agent:tool-result"

	// Approval gate events

	// EventGateRequired indicates a stage is waiting for approval.
	EventGateRequired EventType = "gate:required"
	// EventGateApproved indicates an approval gate was approved.
	EventGateApproved EventType = "gate:approved"
	// EventGateRejected indicates an approval gate was rejected.
	EventGateRejected EventType = "gate:rejected"

	// Bookkeeping events

	// EventUsageUpdated indicates token usage changed.
	EventUsageUpdated EventType = "usage:updated"
	// EventLogEntry carries a structured log line for a task.
	EventLogEntry EventType = "log:entry"

	// Pull request events

	// EventPRCreated indicates a pull request was opened.
	EventPRCreated EventType = "pr:created"
	// EventPRFailed indicates pull request creation failed.
	EventPRFailed EventType = "pr:failed"
	// EventPRStatusChanged indicates a polled pull request changed state.
	EventPRStatusChanged EventType = "pr:status-changed"

	// Template events

	// EventTemplateCreated indicates a task template was saved.
	EventTemplateCreated EventType = "template:created"
	// EventTemplateUpdated indicates a task template was modified.
	EventTemplateUpdated EventType = "template:updated"

	// Daemon events

	// EventCapacityRestored indicates usage capacity became available again.
	EventCapacityRestored EventType = "capacity:restored"
	// EventDefinitionChanged indicates a workflow or agent definition file changed.
	EventDefinitionChanged EventType = "definition:changed"
	// EventHealthWarning indicates a daemon health check tripped a threshold.
	EventHealthWarning EventType = "health:warning"
)

// Event represents a published event.
type Event struct {
	Type   EventType `json:"type"`
	TaskID string    `json:"task_id"`
	Data   any       `json:"data"`
	Time   time.Time `json:"time"`
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(eventType EventType, taskID string, data any) Event {
	return Event{
		Type:   eventType,
		TaskID: taskID,
		Data:   data,
		Time:   time.Now(),
	}
}

// StageUpdate represents a workflow stage transition.
type StageUpdate struct {
	Stage  string `json:"stage"`
	Status string `json:"status"` // started, completed, failed, skipped
	Error  string `json:"error,omitempty"`
}

// FailureData carries the terminal error for a failed task or subtask.
type FailureData struct {
	Stage   string `json:"stage,omitempty"`
	Message string `json:"message"`
	Fatal   bool   `json:"fatal"`
}

// CompletionData summarizes a finished task.
type CompletionData struct {
	Duration      string  `json:"duration,omitempty"`
	TotalTokens   int     `json:"total_tokens,omitempty"`
	EstimatedCost float64 `json:"estimated_cost,omitempty"`
}

// PauseData describes why a task was paused and when it may resume.
type PauseData struct {
	Reason      string     `json:"reason"`
	Message     string     `json:"message,omitempty"`
	ResumeAfter *time.Time `json:"resume_after,omitempty"`
}

// ResumeData describes a checkpoint-based session resume.
type ResumeData struct {
	CheckpointID string `json:"checkpoint_id"`
	Stage        string `json:"stage,omitempty"`
	Attempt      int    `json:"attempt"`
}

// DecomposeData lists the subtasks created from a parent task.
type DecomposeData struct {
	SubtaskIDs []string `json:"subtask_ids"`
	Strategy   string   `json:"strategy,omitempty"`
}

// SubtaskUpdate identifies a subtask event relative to its parent.
type SubtaskUpdate struct {
	SubtaskID string `json:"subtask_id"`
	Status    string `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
}

// AgentOutput carries streamed assistant text or thinking content.
type AgentOutput struct {
	Stage   string `json:"stage"`
	Content string `json:"content"`
}

// ToolCall represents an agent tool invocation.
type ToolCall struct {
	Stage string `json:"stage"`
	Tool  string `json:"tool"`
	Input any    `json:"input,omitempty"`
}

// ToolOutcome represents a tool result returned to the agent.
type ToolOutcome struct {
	Stage   string `json:"stage"`
	Tool    string `json:"tool,omitempty"`
	Content any    `json:"content,omitempty"`
	IsError bool   `json:"is_error,omitempty"`
}

// GateUpdate describes an approval gate and, once resolved, its decision.
type GateUpdate struct {
	Stage     string `json:"stage"`
	Decision  string `json:"decision,omitempty"` // approved, rejected
	DecidedBy string `json:"decided_by,omitempty"`
	Feedback  string `json:"feedback,omitempty"`
}

// UsageData represents a token usage update.
type UsageData struct {
	Stage         string  `json:"stage,omitempty"`
	InputTokens   int     `json:"input_tokens"`
	OutputTokens  int     `json:"output_tokens"`
	TotalTokens   int     `json:"total_tokens"`
	EstimatedCost float64 `json:"estimated_cost"`
}

// LogEntry carries a structured log line attributed to a task.
type LogEntry struct {
	Stage   string `json:"stage,omitempty"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

// PRInfo describes a pull request creation attempt.
type PRInfo struct {
	Branch string `json:"branch"`
	URL    string `json:"url,omitempty"`
	Number int    `json:"number,omitempty"`
	Error  string `json:"error,omitempty"`
}

// PRStatusUpdate reports the polled state of a task's pull request.
type PRStatusUpdate struct {
	URL          string `json:"url"`
	Status       string `json:"status"` // open, draft, changes-requested, approved, merged, closed
	ChecksStatus string `json:"checks_status,omitempty"`
	Approvals    int    `json:"approvals"`
}

// TemplateInfo identifies a task template.
type TemplateInfo struct {
	TemplateID string `json:"template_id"`
	Name       string `json:"name"`
}

// CapacityUpdate describes a capacity restoration.
type CapacityUpdate struct {
	Reason string `json:"reason"` // budget_reset, mode_switch, usage_decreased
	Mode   string `json:"mode,omitempty"`
}

// DefinitionChange describes a changed workflow or agent definition file.
type DefinitionChange struct {
	Kind string `json:"kind"` // workflow, agent
	Name string `json:"name"`
	Path string `json:"path,omitempty"`
}

// HealthAlert describes a daemon health threshold violation.
type HealthAlert struct {
	Component string `json:"component"`
	Message   string `json:"message"`
}

package events

import (
	"time"
)

// PublishHelper wraps event publishing with nil-safety and convenience
// methods for the common event shapes. All methods are safe to call even
// when the underlying publisher is nil.
//
// Thread-safe: all methods can be called concurrently.
type PublishHelper struct {
	publisher Publisher
}

// NewPublishHelper creates a new PublishHelper wrapping the given publisher.
// If p is nil, all publish operations become no-ops.
func NewPublishHelper(p Publisher) *PublishHelper {
	return &PublishHelper{publisher: p}
}

// Publish sends an event to the underlying publisher.
// Safe to call with nil publisher (no-op).
func (h *PublishHelper) Publish(ev Event) {
	if h == nil || h.publisher == nil {
		return
	}
	h.publisher.Publish(ev)
}

// TaskCreated publishes a task creation event.
func (h *PublishHelper) TaskCreated(taskID string) {
	h.Publish(NewEvent(EventTaskCreated, taskID, nil))
}

// TaskStarted publishes a task start event.
func (h *PublishHelper) TaskStarted(taskID string) {
	h.Publish(NewEvent(EventTaskStarted, taskID, nil))
}

// StageStarted publishes a stage start transition.
func (h *PublishHelper) StageStarted(taskID, stage string) {
	h.Publish(NewEvent(EventTaskStageChanged, taskID, StageUpdate{
		Stage:  stage,
		Status: "started",
	}))
}

// StageCompleted publishes a stage completion transition.
func (h *PublishHelper) StageCompleted(taskID, stage string) {
	h.Publish(NewEvent(EventTaskStageChanged, taskID, StageUpdate{
		Stage:  stage,
		Status: "completed",
	}))
}

// StageFailed publishes a stage failure transition.
func (h *PublishHelper) StageFailed(taskID, stage string, err error) {
	update := StageUpdate{Stage: stage, Status: "failed"}
	if err != nil {
		update.Error = err.Error()
	}
	h.Publish(NewEvent(EventTaskStageChanged, taskID, update))
}

// TaskCompleted publishes a task completion event.
func (h *PublishHelper) TaskCompleted(taskID string, duration time.Duration, totalTokens int, cost float64) {
	h.Publish(NewEvent(EventTaskCompleted, taskID, CompletionData{
		Duration:      duration.Round(time.Second).String(),
		TotalTokens:   totalTokens,
		EstimatedCost: cost,
	}))
}

// TaskFailed publishes a terminal task failure.
func (h *PublishHelper) TaskFailed(taskID, stage, message string) {
	h.Publish(NewEvent(EventTaskFailed, taskID, FailureData{
		Stage:   stage,
		Message: message,
		Fatal:   true,
	}))
}

// TaskPaused publishes a pause event with the reason and optional resume time.
func (h *PublishHelper) TaskPaused(taskID, reason, message string, resumeAfter *time.Time) {
	h.Publish(NewEvent(EventTaskPaused, taskID, PauseData{
		Reason:      reason,
		Message:     message,
		ResumeAfter: resumeAfter,
	}))
}

// SessionResumed publishes a checkpoint resume event.
func (h *PublishHelper) SessionResumed(taskID, checkpointID, stage string, attempt int) {
	h.Publish(NewEvent(EventTaskSessionResumed, taskID, ResumeData{
		CheckpointID: checkpointID,
		Stage:        stage,
		Attempt:      attempt,
	}))
}

// TaskDecomposed publishes a decomposition event listing the new subtasks.
func (h *PublishHelper) TaskDecomposed(taskID string, subtaskIDs []string, strategy string) {
	h.Publish(NewEvent(EventTaskDecomposed, taskID, DecomposeData{
		SubtaskIDs: subtaskIDs,
		Strategy:   strategy,
	}))
}

// SubtaskCreated publishes a subtask creation event against the parent task.
func (h *PublishHelper) SubtaskCreated(parentID, subtaskID string) {
	h.Publish(NewEvent(EventSubtaskCreated, parentID, SubtaskUpdate{SubtaskID: subtaskID}))
}

// SubtaskCompleted publishes a subtask completion event against the parent task.
func (h *PublishHelper) SubtaskCompleted(parentID, subtaskID string) {
	h.Publish(NewEvent(EventSubtaskCompleted, parentID, SubtaskUpdate{
		SubtaskID: subtaskID,
		Status:    "completed",
	}))
}

// SubtaskFailed publishes a subtask failure event against the parent task.
func (h *PublishHelper) SubtaskFailed(parentID, subtaskID, errMsg string) {
	h.Publish(NewEvent(EventSubtaskFailed, parentID, SubtaskUpdate{
		SubtaskID: subtaskID,
		Status:    "failed",
		Error:     errMsg,
	}))
}

// AgentMessage publishes streamed assistant text.
func (h *PublishHelper) AgentMessage(taskID, stage, content string) {
	h.Publish(NewEvent(EventAgentMessage, taskID, AgentOutput{Stage: stage, Content: content}))
}

// AgentThinking publishes streamed thinking content.
func (h *PublishHelper) AgentThinking(taskID, stage, content string) {
	h.Publish(NewEvent(EventAgentThinking, taskID, AgentOutput{Stage: stage, Content: content}))
}

// ToolUse publishes an agent tool invocation.
func (h *PublishHelper) ToolUse(taskID, stage, tool string, input any) {
	h.Publish(NewEvent(EventAgentToolUse, taskID, ToolCall{Stage: stage, Tool: tool, Input: input}))
}

// ToolResult publishes a tool result.
func (h *PublishHelper) ToolResult(taskID, stage, tool string, content any) {
	h.Publish(NewEvent(EventAgentToolResult, taskID, ToolOutcome{Stage: stage, Tool: tool, Content: content}))
}

// GateRequired publishes an approval gate request.
func (h *PublishHelper) GateRequired(taskID, stage string) {
	h.Publish(NewEvent(EventGateRequired, taskID, GateUpdate{Stage: stage}))
}

// GateApproved publishes an approval decision.
func (h *PublishHelper) GateApproved(taskID, stage, decidedBy string) {
	h.Publish(NewEvent(EventGateApproved, taskID, GateUpdate{
		Stage:     stage,
		Decision:  "approved",
		DecidedBy: decidedBy,
	}))
}

// GateRejected publishes a rejection decision with reviewer feedback.
func (h *PublishHelper) GateRejected(taskID, stage, decidedBy, feedback string) {
	h.Publish(NewEvent(EventGateRejected, taskID, GateUpdate{
		Stage:     stage,
		Decision:  "rejected",
		DecidedBy: decidedBy,
		Feedback:  feedback,
	}))
}

// UsageUpdated publishes cumulative token usage for a task.
func (h *PublishHelper) UsageUpdated(taskID, stage string, input, output, total int, cost float64) {
	h.Publish(NewEvent(EventUsageUpdated, taskID, UsageData{
		Stage:         stage,
		InputTokens:   input,
		OutputTokens:  output,
		TotalTokens:   total,
		EstimatedCost: cost,
	}))
}

// Log publishes a structured log line attributed to a task.
func (h *PublishHelper) Log(taskID, stage, level, message string) {
	h.Publish(NewEvent(EventLogEntry, taskID, LogEntry{
		Stage:   stage,
		Level:   level,
		Message: message,
	}))
}

// PRCreated publishes a successful pull request creation.
func (h *PublishHelper) PRCreated(taskID, branch, url string, number int) {
	h.Publish(NewEvent(EventPRCreated, taskID, PRInfo{
		Branch: branch,
		URL:    url,
		Number: number,
	}))
}

// PRFailed publishes a failed pull request creation.
func (h *PublishHelper) PRFailed(taskID, branch string, err error) {
	info := PRInfo{Branch: branch}
	if err != nil {
		info.Error = err.Error()
	}
	h.Publish(NewEvent(EventPRFailed, taskID, info))
}

// PRStatusChanged publishes a polled pull request state change.
func (h *PublishHelper) PRStatusChanged(taskID, url, status, checksStatus string, approvals int) {
	h.Publish(NewEvent(EventPRStatusChanged, taskID, PRStatusUpdate{
		URL:          url,
		Status:       status,
		ChecksStatus: checksStatus,
		Approvals:    approvals,
	}))
}

// TemplateCreated publishes a template creation event.
func (h *PublishHelper) TemplateCreated(templateID, name string) {
	h.Publish(NewEvent(EventTemplateCreated, GlobalTaskID, TemplateInfo{
		TemplateID: templateID,
		Name:       name,
	}))
}

// TemplateUpdated publishes a template update event.
func (h *PublishHelper) TemplateUpdated(templateID, name string) {
	h.Publish(NewEvent(EventTemplateUpdated, GlobalTaskID, TemplateInfo{
		TemplateID: templateID,
		Name:       name,
	}))
}

// CapacityRestored publishes a capacity restoration with its reason.
func (h *PublishHelper) CapacityRestored(reason, mode string) {
	h.Publish(NewEvent(EventCapacityRestored, GlobalTaskID, CapacityUpdate{
		Reason: reason,
		Mode:   mode,
	}))
}

// DefinitionChanged publishes a workflow or agent definition file change.
func (h *PublishHelper) DefinitionChanged(kind, name, path string) {
	h.Publish(NewEvent(EventDefinitionChanged, GlobalTaskID, DefinitionChange{
		Kind: kind,
		Name: name,
		Path: path,
	}))
}

// HealthWarning publishes a daemon health alert.
func (h *PublishHelper) HealthWarning(component, message string) {
	h.Publish(NewEvent(EventHealthWarning, GlobalTaskID, HealthAlert{
		Component: component,
		Message:   message,
	}))
}

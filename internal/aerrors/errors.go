// Package aerrors provides structured error types for apex.
package aerrors

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Code represents a unique error code.
type Code string

// Error codes for apex.
const (
	// Initialization errors
	CodeNotInitialized     Code = "APEX_NOT_INITIALIZED"
	CodeAlreadyInitialized Code = "APEX_ALREADY_INITIALIZED"

	// Entity lookup errors
	CodeTaskNotFound       Code = "TASK_NOT_FOUND"
	CodeWorkflowNotFound   Code = "WORKFLOW_NOT_FOUND"
	CodeAgentNotFound      Code = "AGENT_NOT_FOUND"
	CodeTemplateNotFound   Code = "TEMPLATE_NOT_FOUND"
	CodeCheckpointNotFound Code = "CHECKPOINT_NOT_FOUND"
	CodeIdleTaskNotFound   Code = "IDLE_TASK_NOT_FOUND"
	CodeGateNotFound       Code = "GATE_NOT_FOUND"

	// Execution errors
	CodeInvalidInput      Code = "INVALID_INPUT"
	CodeTaskInvalidState  Code = "TASK_INVALID_STATE"
	CodeBudgetExceeded    Code = "BUDGET_EXCEEDED"
	CodeTaskCancelled     Code = "TASK_CANCELLED"
	CodeSessionLimit      Code = "SESSION_LIMIT_REACHED"
	CodeUsageLimit        Code = "USAGE_LIMIT"
	CodeRateLimit         Code = "RATE_LIMIT"
	CodeCapacityLimit     Code = "CAPACITY_LIMIT"
	CodeMaxRetries        Code = "MAX_RETRIES_EXCEEDED"
	CodeMaxResumeAttempts Code = "MAX_RESUME_ATTEMPTS_EXCEEDED"

	// Config errors
	CodeConfigInvalid Code = "CONFIG_INVALID"
	CodeConfigMissing Code = "CONFIG_MISSING"
)

// Category groups error codes for HTTP status mapping.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryNotFound
	CategoryBadRequest
	CategoryConflict
	CategoryInternal
	CategoryTimeout
	CategoryUnavailable
)

// codeCategories maps error codes to their categories.
var codeCategories = map[Code]Category{
	CodeNotInitialized:     CategoryBadRequest,
	CodeAlreadyInitialized: CategoryConflict,
	CodeTaskNotFound:       CategoryNotFound,
	CodeWorkflowNotFound:   CategoryNotFound,
	CodeAgentNotFound:      CategoryNotFound,
	CodeTemplateNotFound:   CategoryNotFound,
	CodeCheckpointNotFound: CategoryNotFound,
	CodeIdleTaskNotFound:   CategoryNotFound,
	CodeGateNotFound:       CategoryNotFound,
	CodeInvalidInput:       CategoryBadRequest,
	CodeTaskInvalidState:   CategoryBadRequest,
	CodeBudgetExceeded:     CategoryConflict,
	CodeTaskCancelled:      CategoryConflict,
	CodeSessionLimit:       CategoryUnavailable,
	CodeUsageLimit:         CategoryUnavailable,
	CodeRateLimit:          CategoryUnavailable,
	CodeCapacityLimit:      CategoryUnavailable,
	CodeMaxRetries:         CategoryInternal,
	CodeMaxResumeAttempts:  CategoryInternal,
	CodeConfigInvalid:      CategoryBadRequest,
	CodeConfigMissing:      CategoryBadRequest,
}

// HTTPStatus returns the HTTP status code for a category.
func (c Category) HTTPStatus() int {
	switch c {
	case CategoryNotFound:
		return 404
	case CategoryBadRequest:
		return 400
	case CategoryConflict:
		return 409
	case CategoryTimeout:
		return 504
	case CategoryUnavailable:
		return 503
	default:
		return 500
	}
}

// Error is the structured error type for apex.
type Error struct {
	Code  Code   `json:"code"`
	What  string `json:"what"`
	Why   string `json:"why,omitempty"`
	Fix   string `json:"fix,omitempty"`
	Cause error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString(": ")
		b.WriteString(e.Why)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// UserMessage returns a user-friendly message for CLI output.
func (e *Error) UserMessage() string {
	var b strings.Builder
	b.WriteString("Error: ")
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString("\n\nWhy: ")
		b.WriteString(e.Why)
	}
	if e.Fix != "" {
		b.WriteString("\n\nFix: ")
		b.WriteString(e.Fix)
	}
	return b.String()
}

// Category returns the error category for HTTP status mapping.
func (e *Error) Category() Category {
	if cat, ok := codeCategories[e.Code]; ok {
		return cat
	}
	return CategoryUnknown
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e *Error) HTTPStatus() int {
	return e.Category().HTTPStatus()
}

// MarshalJSON implements json.Marshaler.
func (e *Error) MarshalJSON() ([]byte, error) {
	type alias Error
	aux := struct {
		*alias
		CauseMsg string `json:"cause,omitempty"`
	}{
		alias: (*alias)(e),
	}
	if e.Cause != nil {
		aux.CauseMsg = e.Cause.Error()
	}
	return json.Marshal(aux)
}

// Is reports whether target is an apex Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy of the error with the given cause.
func (e *Error) WithCause(err error) *Error {
	return &Error{
		Code:  e.Code,
		What:  e.What,
		Why:   e.Why,
		Fix:   e.Fix,
		Cause: err,
	}
}

// --- Error constructors ---

// ErrNotInitialized returns an error for an uninitialized apex directory.
func ErrNotInitialized() *Error {
	return &Error{
		Code: CodeNotInitialized,
		What: "apex is not initialized in this directory",
		Why:  "No .apex/ directory found in the current path or its parents",
		Fix:  "Run 'apex setup' to initialize apex in this directory",
	}
}

// ErrAlreadyInitialized returns an error when apex is already initialized.
func ErrAlreadyInitialized(path string) *Error {
	return &Error{
		Code: CodeAlreadyInitialized,
		What: "apex is already initialized",
		Why:  fmt.Sprintf("Found existing .apex/ directory at %s", path),
		Fix:  "Remove .apex/ manually to reinitialize",
	}
}

// ErrTaskNotFound returns an error when a task doesn't exist.
// The message substring "not found" marks it non-retryable to the executor.
func ErrTaskNotFound(id string) *Error {
	return &Error{
		Code: CodeTaskNotFound,
		What: fmt.Sprintf("Task not found: %s", id),
		Why:  "No task with this ID exists in the current project",
		Fix:  "Run 'apex list' to see available tasks, or create one with 'apex new'",
	}
}

// ErrWorkflowNotFound returns an error when a workflow definition is missing.
func ErrWorkflowNotFound(name string) *Error {
	return &Error{
		Code: CodeWorkflowNotFound,
		What: fmt.Sprintf("Workflow not found: %s", name),
		Why:  "No workflow definition with this name exists under .apex/workflows/",
		Fix:  fmt.Sprintf("Add .apex/workflows/%s.yaml or pick an existing workflow", name),
	}
}

// ErrAgentNotFound returns an error when an agent definition is missing.
func ErrAgentNotFound(name string) *Error {
	return &Error{
		Code: CodeAgentNotFound,
		What: fmt.Sprintf("Agent not found: %s", name),
		Why:  "No agent definition with this name exists under .apex/agents/",
		Fix:  fmt.Sprintf("Add .apex/agents/%s.md or fix the stage's agent reference", name),
	}
}

// ErrTemplateNotFound returns an error when a template doesn't exist.
func ErrTemplateNotFound(id string) *Error {
	return &Error{
		Code: CodeTemplateNotFound,
		What: fmt.Sprintf("Template not found: %s", id),
		Why:  "No task template with this ID exists",
		Fix:  "Run 'apex template list' to see available templates",
	}
}

// ErrCheckpointNotFound returns an error when a checkpoint doesn't exist.
func ErrCheckpointNotFound(taskID, checkpointID string) *Error {
	return &Error{
		Code: CodeCheckpointNotFound,
		What: fmt.Sprintf("Checkpoint not found: %s", checkpointID),
		Why:  fmt.Sprintf("Task %s has no checkpoint with this ID", taskID),
		Fix:  "List checkpoints with 'apex show --checkpoints' to find a valid one",
	}
}

// ErrIdleTaskNotFound returns an error when an idle task doesn't exist.
func ErrIdleTaskNotFound(id string) *Error {
	return &Error{
		Code: CodeIdleTaskNotFound,
		What: fmt.Sprintf("Idle task not found: %s", id),
		Why:  "No idle task suggestion with this ID exists",
		Fix:  "Run 'apex list --idle' to see pending suggestions",
	}
}

// ErrGateNotFound returns an error when a gate doesn't exist.
func ErrGateNotFound(taskID, name string) *Error {
	return &Error{
		Code: CodeGateNotFound,
		What: fmt.Sprintf("Gate not found: %s", name),
		Why:  fmt.Sprintf("Task %s has no gate with this name", taskID),
	}
}

// ErrInvalidInput returns an error for a malformed request.
func ErrInvalidInput(what, reason string) *Error {
	return &Error{
		Code: CodeInvalidInput,
		What: fmt.Sprintf("invalid input: %s", what),
		Why:  reason,
	}
}

// ErrTaskInvalidState returns an error when a task is in the wrong state.
func ErrTaskInvalidState(id, current, expected string) *Error {
	return &Error{
		Code: CodeTaskInvalidState,
		What: fmt.Sprintf("task %s is in state '%s', expected '%s'", id, current, expected),
		Why:  "The requested operation cannot be performed in the current task state",
		Fix:  fmt.Sprintf("Check 'apex show %s' for the current state", id),
	}
}

// ErrBudgetExceeded returns an error when a task passes its token or cost cap.
// The message substring "exceeded budget" marks it non-retryable.
func ErrBudgetExceeded(id string, detail string) *Error {
	return &Error{
		Code: CodeBudgetExceeded,
		What: fmt.Sprintf("Task %s exceeded budget limit", id),
		Why:  detail,
		Fix:  "Raise limits.maxTokensPerTask / limits.maxCostPerTask or decompose the task",
	}
}

// ErrTaskCancelled returns an error when a task was cancelled mid-flight.
// The message substring "was cancelled" marks it non-retryable.
func ErrTaskCancelled(id string) *Error {
	return &Error{
		Code: CodeTaskCancelled,
		What: fmt.Sprintf("Task %s was cancelled", id),
		Why:  "The task status changed to cancelled during execution",
	}
}

// ErrSessionLimit returns an error when context-window pressure forces a pause.
func ErrSessionLimit(id string, utilization float64) *Error {
	return &Error{
		Code: CodeSessionLimit,
		What: fmt.Sprintf("session limit reached for task %s", id),
		Why:  fmt.Sprintf("Conversation uses %.0f%% of the context window", utilization*100),
		Fix:  "The task was checkpointed and paused; it resumes from the saved stage",
	}
}

// ErrMaxResumeAttempts returns an error when resume attempts exceed the cap.
func ErrMaxResumeAttempts(attempts, max int) *Error {
	return &Error{
		Code: CodeMaxResumeAttempts,
		What: fmt.Sprintf("Maximum resume attempts exceeded (%d/%d)", attempts, max),
		Why:  "The task keeps hitting session limits before finishing a stage",
		Fix:  "Consider breaking the task into smaller subtasks with 'apex decompose'",
	}
}

// ErrMaxRetries returns an error when retry attempts are exhausted.
func ErrMaxRetries(id string, attempts int) *Error {
	return &Error{
		Code: CodeMaxRetries,
		What: fmt.Sprintf("task %s failed after %d attempts", id, attempts),
		Why:  "Maximum retry attempts exceeded without successful completion",
		Fix:  "Inspect 'apex log' output, fix the underlying issue, then re-queue the task",
	}
}

// ErrConfigInvalid returns an error for invalid configuration.
func ErrConfigInvalid(field, reason string) *Error {
	return &Error{
		Code: CodeConfigInvalid,
		What: fmt.Sprintf("invalid configuration: %s", field),
		Why:  reason,
		Fix:  "Check .apex/config.yaml and fix the invalid field",
	}
}

// ErrConfigMissing returns an error for missing configuration.
func ErrConfigMissing(field string) *Error {
	return &Error{
		Code: CodeConfigMissing,
		What: fmt.Sprintf("missing required configuration: %s", field),
		Why:  "This field is required but not set in configuration",
		Fix:  fmt.Sprintf("Add '%s' to .apex/config.yaml", field),
	}
}

// AsError attempts to convert an error to a structured apex Error.
// Returns nil if the error is not one.
func AsError(err error) *Error {
	var apexErr *Error
	if errors.As(err, &apexErr) {
		return apexErr
	}
	return nil
}

// CodeOf returns the structured code of err, or empty when err is unstructured.
func CodeOf(err error) Code {
	if e := AsError(err); e != nil {
		return e.Code
	}
	return ""
}

// Wrap wraps a generic error into a structured Error with unknown code.
func Wrap(err error, what string) *Error {
	return &Error{
		Code:  Code("UNKNOWN"),
		What:  what,
		Cause: err,
	}
}

package executor

import (
	"strings"

	"github.com/apexhq/apex/internal/aerrors"
	"github.com/apexhq/apex/internal/task"
)

// classification sorts a stage failure into one of three buckets: pause the
// task (pauseReason set), retry it (retryable), or fail it.
type classification struct {
	retryable   bool
	pauseReason task.PauseReason
}

// nonRetryable substrings mark errors that retrying cannot fix.
var nonRetryable = []string{
	"not found",
	"exceeded budget",
	"was cancelled",
	"invalid input",
	"workflow not found",
}

// classify maps any error, structured or plain, onto the retry taxonomy.
// Structured errors carry their class in the code; plain transport errors
// are matched by substring. Anything unrecognised is transient.
func classify(err error) classification {
	switch aerrors.CodeOf(err) {
	case aerrors.CodeSessionLimit:
		return classification{pauseReason: task.PauseSessionLimit}
	case aerrors.CodeUsageLimit:
		return classification{pauseReason: task.PauseUsageLimit}
	case aerrors.CodeRateLimit:
		return classification{pauseReason: task.PauseRateLimit}
	case aerrors.CodeCapacityLimit:
		return classification{pauseReason: task.PauseCapacity}
	case aerrors.CodeBudgetExceeded, aerrors.CodeTaskCancelled, aerrors.CodeInvalidInput,
		aerrors.CodeTaskInvalidState, aerrors.CodeTaskNotFound, aerrors.CodeWorkflowNotFound,
		aerrors.CodeAgentNotFound, aerrors.CodeTemplateNotFound, aerrors.CodeCheckpointNotFound,
		aerrors.CodeMaxRetries, aerrors.CodeMaxResumeAttempts:
		return classification{}
	}

	msg := strings.ToLower(err.Error())

	for _, s := range nonRetryable {
		if strings.Contains(msg, s) {
			return classification{}
		}
	}

	if strings.Contains(msg, "usage limit") || strings.Contains(msg, "exhausted your monthly") {
		return classification{pauseReason: task.PauseUsageLimit}
	}
	if strings.Contains(msg, "rate limit") || strings.Contains(msg, "rate limited") {
		return classification{pauseReason: task.PauseRateLimit}
	}

	return classification{retryable: true}
}

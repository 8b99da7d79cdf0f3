package executor

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/apexhq/apex/internal/aerrors"
	"github.com/apexhq/apex/internal/task"
)

func TestClassify_Substrings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		msg       string
		retryable bool
		pause     task.PauseReason
	}{
		{"agent binary not found", false, ""},
		{"task exceeded budget for today", false, ""},
		{"the operation was cancelled", false, ""},
		{"invalid input: empty prompt", false, ""},
		{"workflow not found: build", false, ""},
		{"Usage Limit reached", false, task.PauseUsageLimit},
		{"you have exhausted your monthly quota", false, task.PauseUsageLimit},
		{"rate limit exceeded", false, task.PauseRateLimit},
		{"request was rate limited", false, task.PauseRateLimit},
		{"connection reset by peer", true, ""},
		{"i/o timeout", true, ""},
		{"unexpected EOF", true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			cl := classify(errors.New(tt.msg))
			assert.Equal(t, tt.retryable, cl.retryable, "retryable")
			assert.Equal(t, tt.pause, cl.pauseReason, "pause reason")
		})
	}
}

func TestClassify_StructuredErrors(t *testing.T) {
	t.Parallel()

	assert.Equal(t, task.PauseSessionLimit, classify(aerrors.ErrSessionLimit("t1", 0.97)).pauseReason)
	assert.Equal(t, classification{}, classify(aerrors.ErrBudgetExceeded("t1", "over")))
	assert.Equal(t, classification{}, classify(aerrors.ErrTaskCancelled("t1")))
	assert.Equal(t, classification{}, classify(aerrors.ErrTaskNotFound("t1")))
	assert.Equal(t, classification{}, classify(aerrors.ErrInvalidInput("x", "y")))
}

func TestClassify_WrappedErrors(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("stage plan: %w", aerrors.ErrBudgetExceeded("t1", "over"))
	assert.Equal(t, classification{}, classify(wrapped))

	transient := fmt.Errorf("stage plan: %w", errors.New("socket closed"))
	assert.True(t, classify(transient).retryable)
}

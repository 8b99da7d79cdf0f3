package store

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexhq/apex/internal/aerrors"
	"github.com/apexhq/apex/internal/task"
)

func TestCreateTask_FillsDefaults(t *testing.T) {
	t.Parallel()
	s := NewTestStore(t)

	tk := &task.Task{Description: "Add rate limiting to API"}
	require.NoError(t, s.CreateTask(tk))

	assert.True(t, strings.HasPrefix(tk.ID, "task_"))
	assert.Equal(t, task.StatusPending, tk.Status)
	assert.Equal(t, task.PriorityNormal, tk.Priority)
	assert.Equal(t, "apex/add-rate-limiting-to-api", tk.BranchName)
	assert.Equal(t, task.DefaultMaxRetries, tk.MaxRetries)
	assert.False(t, tk.CreatedAt.IsZero())
}

func TestGetTask_RoundTrip(t *testing.T) {
	t.Parallel()
	s := NewTestStore(t)

	paused := time.Now().Add(-time.Hour)
	tk := &task.Task{
		Description:        "Implement login",
		AcceptanceCriteria: "Users can log in with email",
		Workflow:           "feature",
		Autonomy:           task.AutonomyReviewBeforeMerge,
		ProjectPath:        "/tmp/project",
		Priority:           task.PriorityHigh,
		Status:             task.StatusPaused,
		CurrentStage:       "implement",
		PausedAt:           &paused,
		PauseReason:        task.PauseUsageLimit,
		ResumeAttempts:     2,
		Usage:              task.Usage{InputTokens: 100, OutputTokens: 50, TotalTokens: 150, EstimatedCost: 0.01},
		Conversation: []task.Message{
			{Role: "user", Content: "Implement login"},
			{Role: "assistant", Content: "Working on it"},
		},
		Error: "previous failure",
	}
	require.NoError(t, s.CreateTask(tk))

	got, err := s.GetTask(tk.ID)
	require.NoError(t, err)

	assert.Equal(t, tk.Description, got.Description)
	assert.Equal(t, tk.AcceptanceCriteria, got.AcceptanceCriteria)
	assert.Equal(t, tk.Workflow, got.Workflow)
	assert.Equal(t, tk.Autonomy, got.Autonomy)
	assert.Equal(t, tk.ProjectPath, got.ProjectPath)
	assert.Equal(t, task.PriorityHigh, got.Priority)
	assert.Equal(t, task.StatusPaused, got.Status)
	assert.Equal(t, "implement", got.CurrentStage)
	assert.Equal(t, task.PauseUsageLimit, got.PauseReason)
	assert.Equal(t, 2, got.ResumeAttempts)
	assert.Equal(t, 150, got.Usage.TotalTokens)
	assert.InDelta(t, 0.01, got.Usage.EstimatedCost, 1e-9)
	assert.Len(t, got.Conversation, 2)
	assert.Equal(t, "previous failure", got.Error)
	require.NotNil(t, got.PausedAt)
	assert.WithinDuration(t, paused, *got.PausedAt, time.Second)
}

func TestGetTask_NotFound(t *testing.T) {
	t.Parallel()
	s := NewTestStore(t)

	_, err := s.GetTask("task_missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, aerrors.ErrTaskNotFound("task_missing")))
	assert.Contains(t, err.Error(), "not found")
}

func TestUpdateTask_EmptyPatchIsNoOp(t *testing.T) {
	t.Parallel()
	s := NewTestStore(t)

	tk := &task.Task{Description: "noop target"}
	require.NoError(t, s.CreateTask(tk))
	before, err := s.GetTask(tk.ID)
	require.NoError(t, err)

	after, err := s.UpdateTask(tk.ID, TaskPatch{})
	require.NoError(t, err)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
	assert.Equal(t, before.Status, after.Status)
}

func TestUpdateTask_CompletionSetsCompletedAt(t *testing.T) {
	t.Parallel()
	s := NewTestStore(t)

	tk := &task.Task{Description: "completion invariants", ResumeAttempts: 3}
	require.NoError(t, s.CreateTask(tk))

	attempts := 3
	_, err := s.UpdateTask(tk.ID, TaskPatch{ResumeAttempts: &attempts})
	require.NoError(t, err)

	got, err := s.UpdateTaskStatus(tk.ID, task.StatusCompleted)
	require.NoError(t, err)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, 0, got.ResumeAttempts, "completion resets resume attempts")

	// Leaving the completed state clears CompletedAt.
	got, err = s.UpdateTaskStatus(tk.ID, task.StatusPending)
	require.NoError(t, err)
	assert.Nil(t, got.CompletedAt)
}

func TestUpdateTask_ClearPause(t *testing.T) {
	t.Parallel()
	s := NewTestStore(t)

	now := time.Now()
	reason := task.PauseBudget
	tk := &task.Task{Description: "pause bookkeeping"}
	require.NoError(t, s.CreateTask(tk))

	status := task.StatusPaused
	_, err := s.UpdateTask(tk.ID, TaskPatch{
		Status:      &status,
		PausedAt:    &now,
		PauseReason: &reason,
		ResumeAfter: &now,
	})
	require.NoError(t, err)

	got, err := s.UpdateTask(tk.ID, TaskPatch{ClearPause: true})
	require.NoError(t, err)
	assert.Nil(t, got.PausedAt)
	assert.Empty(t, got.PauseReason)
	assert.Nil(t, got.ResumeAfter)
}

func TestListTasks_Filters(t *testing.T) {
	t.Parallel()
	s := NewTestStore(t)

	parent := &task.Task{Description: "parent"}
	require.NoError(t, s.CreateTask(parent))

	running := &task.Task{Description: "running child", Status: task.StatusInProgress, ParentTaskID: parent.ID}
	require.NoError(t, s.CreateTask(running))
	pending := &task.Task{Description: "pending child", ParentTaskID: parent.ID}
	require.NoError(t, s.CreateTask(pending))

	children, err := s.ListTasks(ListOptions{ParentTaskID: parent.ID})
	require.NoError(t, err)
	assert.Len(t, children, 2)

	onlyRunning, err := s.ListTasks(ListOptions{Status: task.StatusInProgress, ParentTaskID: parent.ID})
	require.NoError(t, err)
	require.Len(t, onlyRunning, 1)
	assert.Equal(t, running.ID, onlyRunning[0].ID)

	limited, err := s.ListTasks(ListOptions{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestDeleteTask_RemovesRelatedRows(t *testing.T) {
	t.Parallel()
	s := NewTestStore(t)

	tk := &task.Task{Description: "doomed"}
	require.NoError(t, s.CreateTask(tk))
	dep := &task.Task{Description: "dependency"}
	require.NoError(t, s.CreateTask(dep))

	require.NoError(t, s.AddDependency(tk.ID, dep.ID))
	require.NoError(t, s.AddLog(tk.ID, TaskLog{Message: "hello"}))
	require.NoError(t, s.SaveCheckpoint(&Checkpoint{TaskID: tk.ID, Stage: "implement"}))
	require.NoError(t, s.SetGate(tk.ID, Gate{Name: "review"}))

	require.NoError(t, s.DeleteTask(tk.ID))

	_, err := s.GetTask(tk.ID)
	assert.True(t, errors.Is(err, aerrors.ErrTaskNotFound(tk.ID)))

	deps, err := s.GetTaskDependencies(tk.ID)
	require.NoError(t, err)
	assert.Empty(t, deps)

	logs, err := s.GetLogs(tk.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, logs)

	cp, err := s.GetLatestCheckpoint(tk.ID)
	require.NoError(t, err)
	assert.Nil(t, cp)
}

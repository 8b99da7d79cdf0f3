package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexhq/apex/internal/task"
)

func mustCreate(t *testing.T, s *Store, tk *task.Task) *task.Task {
	t.Helper()
	require.NoError(t, s.CreateTask(tk))
	return tk
}

func TestGetNextQueuedTask_PriorityOrder(t *testing.T) {
	t.Parallel()
	s := NewTestStore(t)

	low := mustCreate(t, s, &task.Task{Description: "low", Priority: task.PriorityLow})
	normal := mustCreate(t, s, &task.Task{Description: "normal"})
	urgent := mustCreate(t, s, &task.Task{Description: "urgent", Priority: task.PriorityUrgent})
	high := mustCreate(t, s, &task.Task{Description: "high", Priority: task.PriorityHigh})

	var order []string
	for {
		next, err := s.GetNextQueuedTask()
		require.NoError(t, err)
		if next == nil {
			break
		}
		order = append(order, next.ID)
		_, err = s.UpdateTaskStatus(next.ID, task.StatusInProgress)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{urgent.ID, high.ID, normal.ID, low.ID}, order)
}

func TestGetNextQueuedTask_CreatedAtTieBreak(t *testing.T) {
	t.Parallel()
	s := NewTestStore(t)

	base := time.Now().Add(-time.Hour)
	older := mustCreate(t, s, &task.Task{Description: "older", CreatedAt: base, UpdatedAt: base})
	mustCreate(t, s, &task.Task{Description: "newer", CreatedAt: base.Add(time.Minute), UpdatedAt: base.Add(time.Minute)})

	next, err := s.GetNextQueuedTask()
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, older.ID, next.ID)
}

func TestGetNextQueuedTask_SkipsBlocked(t *testing.T) {
	t.Parallel()
	s := NewTestStore(t)

	dep := mustCreate(t, s, &task.Task{Description: "dependency", Priority: task.PriorityLow})
	blocked := mustCreate(t, s, &task.Task{
		Description: "blocked but urgent",
		Priority:    task.PriorityUrgent,
		DependsOn:   []string{dep.ID},
	})

	next, err := s.GetNextQueuedTask()
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, dep.ID, next.ID, "urgent task with incomplete dependency must not be returned")

	_, err = s.UpdateTaskStatus(dep.ID, task.StatusCompleted)
	require.NoError(t, err)

	next, err = s.GetNextQueuedTask()
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, blocked.ID, next.ID)
}

func TestGetNextQueuedTask_MissingDependencyBlocks(t *testing.T) {
	t.Parallel()
	s := NewTestStore(t)

	mustCreate(t, s, &task.Task{Description: "ghost dep", DependsOn: []string{"task_never_existed"}})

	next, err := s.GetNextQueuedTask()
	require.NoError(t, err)
	assert.Nil(t, next, "dependency on an unknown id must block, not unblock")
}

func TestGetNextQueuedTask_EmptyQueue(t *testing.T) {
	t.Parallel()
	s := NewTestStore(t)

	next, err := s.GetNextQueuedTask()
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestQueueTask_ResetsFailureState(t *testing.T) {
	t.Parallel()
	s := NewTestStore(t)

	tk := mustCreate(t, s, &task.Task{Description: "retry me"})
	status := task.StatusFailed
	errMsg := "boom"
	now := time.Now()
	reason := task.PauseManual
	_, err := s.UpdateTask(tk.ID, TaskPatch{
		Status: &status, Error: &errMsg, PausedAt: &now, PauseReason: &reason,
	})
	require.NoError(t, err)

	got, err := s.QueueTask(tk.ID, task.PriorityUrgent)
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, got.Status)
	assert.Equal(t, task.PriorityUrgent, got.Priority)
	assert.Empty(t, got.Error)
	assert.Nil(t, got.PausedAt)
	assert.Empty(t, got.PauseReason)
}

func TestGetReadyTasks(t *testing.T) {
	t.Parallel()
	s := NewTestStore(t)

	a := mustCreate(t, s, &task.Task{Description: "ready a", Priority: task.PriorityHigh})
	b := mustCreate(t, s, &task.Task{Description: "ready b"})
	dep := mustCreate(t, s, &task.Task{Description: "dep"})
	mustCreate(t, s, &task.Task{Description: "blocked", DependsOn: []string{dep.ID}})
	mustCreate(t, s, &task.Task{Description: "running", Status: task.StatusInProgress})

	ready, err := s.GetReadyTasks(ReadyOptions{OrderByPriority: true})
	require.NoError(t, err)
	require.Len(t, ready, 3)
	assert.Equal(t, a.ID, ready[0].ID)

	limited, err := s.GetReadyTasks(ReadyOptions{OrderByPriority: true, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	_ = b
}

func TestGetPausedTasksForResume(t *testing.T) {
	t.Parallel()
	s := NewTestStore(t)

	pauseTask := func(desc string, reason task.PauseReason, resumeAfter *time.Time, priority task.Priority) *task.Task {
		tk := mustCreate(t, s, &task.Task{Description: desc, Priority: priority})
		status := task.StatusPaused
		now := time.Now()
		_, err := s.UpdateTask(tk.ID, TaskPatch{
			Status: &status, PausedAt: &now, PauseReason: &reason, ResumeAfter: resumeAfter,
		})
		require.NoError(t, err)
		return tk
	}

	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)

	eligible := pauseTask("usage limit", task.PauseUsageLimit, nil, task.PriorityNormal)
	eligibleDue := pauseTask("budget due", task.PauseBudget, &past, task.PriorityUrgent)
	pauseTask("capacity not due", task.PauseCapacity, &future, task.PriorityNormal)
	pauseTask("session limit excluded", task.PauseSessionLimit, nil, task.PriorityUrgent)
	pauseTask("manual excluded", task.PauseManual, nil, task.PriorityUrgent)
	pauseTask("rate limit excluded", task.PauseRateLimit, nil, task.PriorityUrgent)

	got, err := s.GetPausedTasksForResume()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, eligibleDue.ID, got[0].ID, "urgent first")
	assert.Equal(t, eligible.ID, got[1].ID)
}

func TestDependencies(t *testing.T) {
	t.Parallel()
	s := NewTestStore(t)

	a := mustCreate(t, s, &task.Task{Description: "a"})
	b := mustCreate(t, s, &task.Task{Description: "b"})

	require.NoError(t, s.AddDependency(a.ID, b.ID))
	require.NoError(t, s.AddDependency(a.ID, b.ID), "duplicate add is ignored")
	require.NoError(t, s.AddDependency(a.ID, a.ID), "self-reference is ignored")

	deps, err := s.GetTaskDependencies(a.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID}, deps)

	dependents, err := s.GetDependentTasks(b.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID}, dependents)

	blocking, err := s.GetBlockingTasks(a.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID}, blocking)

	ready, err := s.IsTaskReady(a.ID)
	require.NoError(t, err)
	assert.False(t, ready)

	_, err = s.UpdateTaskStatus(b.ID, task.StatusCompleted)
	require.NoError(t, err)

	blocking, err = s.GetBlockingTasks(a.ID)
	require.NoError(t, err)
	assert.Empty(t, blocking)

	ready, err = s.IsTaskReady(a.ID)
	require.NoError(t, err)
	assert.True(t, ready)

	require.NoError(t, s.RemoveDependency(a.ID, b.ID))
	deps, err = s.GetTaskDependencies(a.ID)
	require.NoError(t, err)
	assert.Empty(t, deps)
}

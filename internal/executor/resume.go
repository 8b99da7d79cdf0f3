package executor

import (
	"context"
	"fmt"

	"github.com/apexhq/apex/internal/aerrors"
	"github.com/apexhq/apex/internal/store"
	"github.com/apexhq/apex/internal/task"
)

// ResumeOptions controls ResumeTask.
type ResumeOptions struct {
	// CheckpointID names the checkpoint to resume from. Empty means the
	// task's latest.
	CheckpointID string
}

// ResumeTask re-runs a paused task from a checkpoint. It returns false when
// the resume-attempt cap is exhausted, in which case the task is failed
// with a diagnostic suggesting decomposition.
func (e *Executor) ResumeTask(ctx context.Context, id string, opts ResumeOptions) (bool, error) {
	t, err := e.store.GetTask(id)
	if err != nil {
		return false, err
	}

	var cp *store.Checkpoint
	if opts.CheckpointID != "" {
		cp, err = e.store.GetCheckpoint(id, opts.CheckpointID)
	} else {
		cp, err = e.store.GetLatestCheckpoint(id)
	}
	if err != nil {
		return false, err
	}

	maxAttempts := e.maxResumeAttempts()
	attempts := t.ResumeAttempts + 1
	if attempts > maxAttempts {
		cause := aerrors.ErrMaxResumeAttempts(attempts, maxAttempts)
		status := task.StatusFailed
		msg := fmt.Sprintf(
			"Maximum resume attempts exceeded (%d/%d). Consider decomposing the task into smaller subtasks.",
			attempts, maxAttempts)
		if _, err := e.store.UpdateTask(id, store.TaskPatch{Status: &status, Error: &msg}); err != nil {
			return false, err
		}
		e.events.TaskFailed(id, t.CurrentStage, msg)
		e.logger.Warn("resume attempts exhausted", "task", id, "attempts", attempts, "max", maxAttempts)
		return false, cause
	}

	patch := store.TaskPatch{ResumeAttempts: &attempts, ClearPause: true}
	startIndex := 0
	checkpointID := ""
	stage := ""
	if cp != nil {
		startIndex = cp.StageIndex
		checkpointID = cp.CheckpointID
		stage = cp.Stage
		if len(cp.ConversationState) > 0 {
			patch.Conversation = cp.ConversationState
		}
	}
	if _, err := e.store.UpdateTask(id, patch); err != nil {
		return false, err
	}

	e.events.SessionResumed(id, checkpointID, stage, attempts)
	e.logger.Info("task resumed", "task", id, "checkpoint", checkpointID,
		"stage_index", startIndex, "attempt", attempts)

	if err := e.ExecuteTask(ctx, id, ExecuteOptions{startIndex: startIndex}); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Executor) maxResumeAttempts() int {
	if n := e.cfg.Daemon.SessionRecovery.MaxResumeAttempts; n > 0 {
		return n
	}
	return 3
}

// MaxResumeAttempts exposes the effective resume cap to the scheduler.
func (e *Executor) MaxResumeAttempts() int {
	return e.maxResumeAttempts()
}

package executor

import (
	"context"
	"fmt"

	"github.com/apexhq/apex/internal/aerrors"
	"github.com/apexhq/apex/internal/store"
	"github.com/apexhq/apex/internal/task"
)

// SubtaskSpec describes one child task to create during decomposition.
type SubtaskSpec struct {
	Description        string
	AcceptanceCriteria string

	// Workflow and Priority override the parent's when set.
	Workflow string
	Priority task.Priority

	// DependsOn lists sibling descriptions (from the same call) that must
	// complete first.
	DependsOn []string
}

// DecomposeTask splits a task into subtasks. Children inherit the parent's
// workflow, priority, autonomy, and branch so their work lands on the same
// PR. Returns the new subtask ids in spec order.
func (e *Executor) DecomposeTask(ctx context.Context, parentID string, specs []SubtaskSpec, strategy task.SubtaskStrategy) ([]string, error) {
	parent, err := e.store.GetTask(parentID)
	if err != nil {
		return nil, err
	}
	if len(specs) == 0 {
		return nil, aerrors.ErrInvalidInput("subtasks", "at least one subtask is required")
	}
	if strategy == "" {
		strategy = task.StrategySequential
	}
	if !task.IsValidSubtaskStrategy(strategy) {
		return nil, aerrors.ErrInvalidInput("strategy", fmt.Sprintf("unknown strategy %q", strategy))
	}

	byDescription := make(map[string]string, len(specs))
	ids := make([]string, 0, len(specs))

	for _, spec := range specs {
		child := task.New(spec.Description)
		child.AcceptanceCriteria = spec.AcceptanceCriteria
		child.ParentTaskID = parentID
		child.ProjectPath = parent.ProjectPath
		child.BranchName = parent.BranchName
		child.Autonomy = parent.Autonomy
		child.Workflow = parent.Workflow
		if spec.Workflow != "" {
			child.Workflow = spec.Workflow
		}
		child.Priority = parent.GetPriority()
		if spec.Priority != "" {
			child.Priority = spec.Priority
		}

		if err := e.store.CreateTask(child); err != nil {
			return nil, fmt.Errorf("create subtask: %w", err)
		}
		byDescription[spec.Description] = child.ID
		ids = append(ids, child.ID)
		e.events.SubtaskCreated(parentID, child.ID)
	}

	// Dependencies are declared by sibling description and resolved against
	// the children created in this call only.
	for i, spec := range specs {
		for _, dep := range spec.DependsOn {
			depID, ok := byDescription[dep]
			if !ok {
				return nil, aerrors.ErrInvalidInput("dependsOn",
					fmt.Sprintf("subtask %q depends on unknown sibling %q", spec.Description, dep))
			}
			if err := e.store.AddDependency(ids[i], depID); err != nil {
				return nil, err
			}
		}
	}

	strategyPatch := strategy
	if _, err := e.store.UpdateTask(parentID, store.TaskPatch{
		SubtaskIDs:      ids,
		SubtaskStrategy: &strategyPatch,
	}); err != nil {
		return nil, err
	}

	e.events.TaskDecomposed(parentID, ids, string(strategy))
	e.logger.Info("task decomposed", "task", parentID, "subtasks", len(ids), "strategy", strategy)
	return ids, nil
}

// ExecuteSubtasks runs a decomposed task's children per the parent's
// strategy. It returns true only when every child completed; any pause or
// failure leaves the parent incomplete. Child usage aggregates onto the
// parent.
func (e *Executor) ExecuteSubtasks(ctx context.Context, parentID string) (bool, error) {
	parent, err := e.store.GetTask(parentID)
	if err != nil {
		return false, err
	}
	if len(parent.SubtaskIDs) == 0 {
		return false, aerrors.ErrInvalidInput("task "+parentID, "has no subtasks")
	}

	switch parent.SubtaskStrategy {
	case task.StrategyParallel:
		e.ExecuteTasksConcurrently(ctx, parent.SubtaskIDs, ConcurrencyOptions{})
	case task.StrategyDependencyBased:
		e.executeByDependency(ctx, parent.SubtaskIDs)
	default:
		e.executeSequential(ctx, parent.SubtaskIDs)
	}

	return e.settleSubtasks(parentID, parent.SubtaskIDs)
}

func (e *Executor) executeSequential(ctx context.Context, ids []string) {
	for _, id := range ids {
		if err := e.ExecuteTask(ctx, id, ExecuteOptions{}); err != nil {
			// Later siblings likely build on this one; stop here.
			return
		}
		t, err := e.store.GetTask(id)
		if err != nil || t.Status != task.StatusCompleted {
			return
		}
	}
}

// executeByDependency repeatedly runs every child whose dependencies are
// complete until no child makes progress.
func (e *Executor) executeByDependency(ctx context.Context, ids []string) {
	for {
		var ready []string
		for _, id := range ids {
			t, err := e.store.GetTask(id)
			if err != nil || t.Status != task.StatusPending {
				continue
			}
			ok, err := e.store.IsTaskReady(id)
			if err == nil && ok {
				ready = append(ready, id)
			}
		}
		if len(ready) == 0 {
			return
		}
		e.ExecuteTasksConcurrently(ctx, ready, ConcurrencyOptions{})
	}
}

// settleSubtasks emits per-child outcome events and folds child usage into
// the parent.
func (e *Executor) settleSubtasks(parentID string, ids []string) (bool, error) {
	var total task.Usage
	allCompleted := true

	for _, id := range ids {
		child, err := e.store.GetTask(id)
		if err != nil {
			return false, err
		}
		total.Add(child.Usage)

		switch child.Status {
		case task.StatusCompleted:
			e.events.SubtaskCompleted(parentID, id)
		case task.StatusFailed:
			allCompleted = false
			e.events.SubtaskFailed(parentID, id, child.Error)
		default:
			allCompleted = false
		}
	}

	parent, err := e.store.GetTask(parentID)
	if err != nil {
		return false, err
	}
	merged := parent.Usage
	merged.Add(total)
	if _, err := e.store.UpdateTask(parentID, store.TaskPatch{Usage: &merged}); err != nil {
		return false, err
	}

	return allCompleted, nil
}

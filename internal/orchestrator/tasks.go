package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/apexhq/apex/internal/aerrors"
	"github.com/apexhq/apex/internal/executor"
	"github.com/apexhq/apex/internal/store"
	"github.com/apexhq/apex/internal/task"
)

// CreateTaskOptions are the caller-settable fields of a new task.
type CreateTaskOptions struct {
	Description        string
	AcceptanceCriteria string
	Workflow           string
	Autonomy           task.Autonomy
	Priority           task.Priority
	DependsOn          []string
	MaxRetries         int
}

// CreateTask validates the input, fills defaults from the configuration,
// persists the task, and emits task:created.
func (o *Orchestrator) CreateTask(opts CreateTaskOptions) (*task.Task, error) {
	if err := o.requireInitialized(); err != nil {
		return nil, err
	}
	if opts.Description == "" {
		return nil, aerrors.ErrInvalidInput("description", "must not be empty")
	}
	if opts.Priority != "" && !task.IsValidPriority(opts.Priority) {
		return nil, aerrors.ErrInvalidInput("priority", fmt.Sprintf("%q is not a valid priority", opts.Priority))
	}
	if opts.Autonomy != "" && !task.IsValidAutonomy(opts.Autonomy) {
		return nil, aerrors.ErrInvalidInput("autonomy", fmt.Sprintf("%q is not a valid autonomy level", opts.Autonomy))
	}

	t := task.New(opts.Description)
	t.AcceptanceCriteria = opts.AcceptanceCriteria
	t.Workflow = opts.Workflow
	t.ProjectPath = o.projectPath
	if opts.Priority != "" {
		t.Priority = opts.Priority
	}
	if opts.MaxRetries > 0 {
		t.MaxRetries = opts.MaxRetries
	}

	t.Autonomy = opts.Autonomy
	if t.Autonomy == "" && o.cfg.Autonomy.Default != "" {
		t.Autonomy = task.Autonomy(o.cfg.Autonomy.Default)
	}
	if !o.autonomyAllowed(t.Autonomy) {
		return nil, aerrors.ErrInvalidInput("autonomy",
			fmt.Sprintf("%q is not in the allowed set %v", t.Autonomy, o.cfg.Autonomy.Allowed))
	}

	if err := o.store.CreateTask(t); err != nil {
		return nil, err
	}
	for _, dep := range opts.DependsOn {
		if err := o.store.AddDependency(t.ID, dep); err != nil {
			return nil, fmt.Errorf("add dependency %s: %w", dep, err)
		}
	}

	o.events.TaskCreated(t.ID)
	o.logger.Info("task created", "task", t.ID, "workflow", t.Workflow, "priority", t.GetPriority())
	return t, nil
}

func (o *Orchestrator) autonomyAllowed(a task.Autonomy) bool {
	if len(o.cfg.Autonomy.Allowed) == 0 {
		return true
	}
	for _, allowed := range o.cfg.Autonomy.Allowed {
		if string(a) == allowed {
			return true
		}
	}
	return false
}

// GetTask retrieves a task by id.
func (o *Orchestrator) GetTask(id string) (*task.Task, error) {
	if err := o.requireInitialized(); err != nil {
		return nil, err
	}
	return o.store.GetTask(id)
}

// ListTasks lists tasks with the store's filter options.
func (o *Orchestrator) ListTasks(opts store.ListOptions) ([]*task.Task, error) {
	if err := o.requireInitialized(); err != nil {
		return nil, err
	}
	return o.store.ListTasks(opts)
}

// CancelTask marks the task cancelled. Running stages stop at the next
// stage boundary.
func (o *Orchestrator) CancelTask(ctx context.Context, id string) (bool, error) {
	if err := o.requireInitialized(); err != nil {
		return false, err
	}
	return o.exec.CancelTask(ctx, id)
}

// DeleteTask removes a task and its dependent rows.
func (o *Orchestrator) DeleteTask(id string) error {
	if err := o.requireInitialized(); err != nil {
		return err
	}
	return o.store.DeleteTask(id)
}

// PauseTask pauses a task manually. Manual pauses are never auto-resumed.
func (o *Orchestrator) PauseTask(id string) (*task.Task, error) {
	if err := o.requireInitialized(); err != nil {
		return nil, err
	}
	t, err := o.store.GetTask(id)
	if err != nil {
		return nil, err
	}
	if t.IsTerminal() {
		return nil, aerrors.ErrTaskInvalidState(id, string(t.Status), "a non-terminal status")
	}

	now := time.Now()
	status := task.StatusPaused
	reason := task.PauseManual
	updated, err := o.store.UpdateTask(id, store.TaskPatch{
		Status:      &status,
		PauseReason: &reason,
		PausedAt:    &now,
	})
	if err != nil {
		return nil, err
	}
	o.events.TaskPaused(id, string(reason), "Paused manually", nil)
	return updated, nil
}

// ResumeTask resumes a paused task from its checkpoint. An empty
// checkpointID uses the latest.
func (o *Orchestrator) ResumeTask(ctx context.Context, id, checkpointID string) (bool, error) {
	if err := o.requireInitialized(); err != nil {
		return false, err
	}
	return o.exec.ResumeTask(ctx, id, executor.ResumeOptions{CheckpointID: checkpointID})
}

// QueueTask places a pending task in the queue at the given priority.
func (o *Orchestrator) QueueTask(id string, priority task.Priority) (*task.Task, error) {
	if err := o.requireInitialized(); err != nil {
		return nil, err
	}
	t, err := o.store.QueueTask(id, priority)
	if err != nil {
		return nil, err
	}
	if o.sched != nil {
		o.sched.Wake()
	}
	return t, nil
}

// GetLogs returns the most recent task log entries.
func (o *Orchestrator) GetLogs(id string, limit int) ([]store.TaskLog, error) {
	if err := o.requireInitialized(); err != nil {
		return nil, err
	}
	return o.store.GetLogs(id, limit)
}

// DecomposeTask splits a task into subtasks under the given strategy.
func (o *Orchestrator) DecomposeTask(ctx context.Context, parentID string, specs []executor.SubtaskSpec, strategy task.SubtaskStrategy) ([]string, error) {
	if err := o.requireInitialized(); err != nil {
		return nil, err
	}
	return o.exec.DecomposeTask(ctx, parentID, specs, strategy)
}

// ExecuteSubtasks runs a decomposed task's children per their strategy.
func (o *Orchestrator) ExecuteSubtasks(ctx context.Context, parentID string) (bool, error) {
	if err := o.requireInitialized(); err != nil {
		return false, err
	}
	return o.exec.ExecuteSubtasks(ctx, parentID)
}

// SaveTemplate persists a template and emits template:created for new
// templates, template:updated otherwise.
func (o *Orchestrator) SaveTemplate(t *store.Template) error {
	if err := o.requireInitialized(); err != nil {
		return err
	}
	isNew := t.ID == ""
	if err := o.store.SaveTemplate(t); err != nil {
		return err
	}
	if isNew {
		o.events.TemplateCreated(t.ID, t.Name)
	} else {
		o.events.TemplateUpdated(t.ID, t.Name)
	}
	return nil
}

// GetTemplate retrieves a template by id.
func (o *Orchestrator) GetTemplate(id string) (*store.Template, error) {
	if err := o.requireInitialized(); err != nil {
		return nil, err
	}
	return o.store.GetTemplate(id)
}

// ListTemplates lists all templates.
func (o *Orchestrator) ListTemplates() ([]*store.Template, error) {
	if err := o.requireInitialized(); err != nil {
		return nil, err
	}
	return o.store.ListTemplates()
}

// DeleteTemplate removes a template.
func (o *Orchestrator) DeleteTemplate(id string) error {
	if err := o.requireInitialized(); err != nil {
		return err
	}
	return o.store.DeleteTemplate(id)
}

// CreateTaskFromTemplate instantiates a task from a template and emits
// task:created.
func (o *Orchestrator) CreateTaskFromTemplate(templateID string, overrides *task.Task) (*task.Task, error) {
	if err := o.requireInitialized(); err != nil {
		return nil, err
	}
	if overrides == nil {
		overrides = &task.Task{}
	}
	if overrides.ProjectPath == "" {
		overrides.ProjectPath = o.projectPath
	}
	t, err := o.store.CreateTaskFromTemplate(templateID, overrides)
	if err != nil {
		return nil, err
	}
	o.events.TaskCreated(t.ID)
	return t, nil
}

// SaveIdleTask records an idle-time suggestion.
func (o *Orchestrator) SaveIdleTask(it *store.IdleTask) error {
	if err := o.requireInitialized(); err != nil {
		return err
	}
	return o.store.SaveIdleTask(it)
}

// ListIdleTasks lists idle suggestions, optionally including ones already
// implemented.
func (o *Orchestrator) ListIdleTasks(includeImplemented bool) ([]*store.IdleTask, error) {
	if err := o.requireInitialized(); err != nil {
		return nil, err
	}
	return o.store.ListIdleTasks(includeImplemented)
}

// PromoteIdleTask turns an idle suggestion into a real task and emits
// task:created.
func (o *Orchestrator) PromoteIdleTask(id string, overrides *task.Task) (*task.Task, error) {
	if err := o.requireInitialized(); err != nil {
		return nil, err
	}
	if overrides == nil {
		overrides = &task.Task{}
	}
	if overrides.ProjectPath == "" {
		overrides.ProjectPath = o.projectPath
	}
	t, err := o.store.PromoteIdleTask(id, overrides)
	if err != nil {
		return nil, err
	}
	o.events.TaskCreated(t.ID)
	return t, nil
}

// ListCheckpoints lists a task's checkpoints, newest first.
func (o *Orchestrator) ListCheckpoints(taskID string) ([]*store.Checkpoint, error) {
	if err := o.requireInitialized(); err != nil {
		return nil, err
	}
	return o.store.ListCheckpoints(taskID)
}

// GetCheckpoint retrieves one checkpoint by id.
func (o *Orchestrator) GetCheckpoint(taskID, checkpointID string) (*store.Checkpoint, error) {
	if err := o.requireInitialized(); err != nil {
		return nil, err
	}
	return o.store.GetCheckpoint(taskID, checkpointID)
}

// DeleteCheckpoint removes one checkpoint.
func (o *Orchestrator) DeleteCheckpoint(taskID, checkpointID string) error {
	if err := o.requireInitialized(); err != nil {
		return err
	}
	return o.store.DeleteCheckpoint(taskID, checkpointID)
}

// RequireGate records a pending approval gate and emits gate:required.
func (o *Orchestrator) RequireGate(taskID, name string) error {
	if err := o.requireInitialized(); err != nil {
		return err
	}
	if _, err := o.store.GetTask(taskID); err != nil {
		return err
	}
	if err := o.store.SetGate(taskID, store.Gate{Name: name}); err != nil {
		return err
	}
	o.events.GateRequired(taskID, name)
	return nil
}

// ApproveGate approves a pending gate and emits gate:approved.
func (o *Orchestrator) ApproveGate(taskID, name, approver, comment string) (*store.Gate, error) {
	if err := o.requireInitialized(); err != nil {
		return nil, err
	}
	g, err := o.store.ApproveGate(taskID, name, approver, comment)
	if err != nil {
		return nil, err
	}
	o.events.GateApproved(taskID, name, approver)
	return g, nil
}

// RejectGate rejects a pending gate and emits gate:rejected.
func (o *Orchestrator) RejectGate(taskID, name, approver, comment string) (*store.Gate, error) {
	if err := o.requireInitialized(); err != nil {
		return nil, err
	}
	g, err := o.store.RejectGate(taskID, name, approver, comment)
	if err != nil {
		return nil, err
	}
	o.events.GateRejected(taskID, name, approver, comment)
	return g, nil
}

// ListGates lists a task's gates.
func (o *Orchestrator) ListGates(taskID string) ([]store.Gate, error) {
	if err := o.requireInitialized(); err != nil {
		return nil, err
	}
	return o.store.ListGates(taskID)
}

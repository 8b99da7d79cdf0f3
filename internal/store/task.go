package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/apexhq/apex/internal/aerrors"
	"github.com/apexhq/apex/internal/store/driver"
	"github.com/apexhq/apex/internal/task"
)

// taskColumns is the canonical column list shared by every task query.
const taskColumns = `id, description, acceptance_criteria, workflow, autonomy, project_path,
	branch_name, priority, status, current_stage, parent_task_id, subtask_ids,
	subtask_strategy, retry_count, max_retries, paused_at, pause_reason, resume_after,
	resume_attempts, input_tokens, output_tokens, total_tokens, estimated_cost,
	conversation, error, pr_url, pr_status, created_at, updated_at, completed_at`

// priorityOrderSQL ranks priorities urgent > high > normal > low; unknown or
// empty values rank as normal.
const priorityOrderSQL = `CASE priority
	WHEN 'urgent' THEN 0
	WHEN 'high' THEN 1
	WHEN 'low' THEN 3
	ELSE 2 END`

// CreateTask persists a new task. Missing identity fields are filled in:
// id, branch name, status pending, normal priority, timestamps. DependsOn
// entries are written to the dependency table.
func (s *Store) CreateTask(t *task.Task) error {
	if t.ID == "" {
		t.ID = task.NewID()
	}
	if t.Status == "" {
		t.Status = task.StatusPending
	}
	if t.Priority == "" {
		t.Priority = task.PriorityNormal
	}
	if t.BranchName == "" {
		t.BranchName = task.BranchName(t.Description)
	}
	if t.MaxRetries <= 0 {
		t.MaxRetries = task.DefaultMaxRetries
	}
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = now
	}

	if err := s.insertTask(t); err != nil {
		return err
	}
	for _, dep := range t.DependsOn {
		if err := s.AddDependency(t.ID, dep); err != nil {
			return err
		}
	}
	return nil
}

// GetTask retrieves a task by id with DependsOn and BlockedBy populated.
func (s *Store) GetTask(id string) (*task.Task, error) {
	row := s.queryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, aerrors.ErrTaskNotFound(id)
		}
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	if err := s.attachDependencies(t); err != nil {
		return nil, err
	}
	return t, nil
}

// TaskPatch describes a partial task update. Nil fields are left untouched;
// ClearPause resets the pause columns as a group.
type TaskPatch struct {
	Description        *string
	AcceptanceCriteria *string
	Workflow           *string
	Autonomy           *task.Autonomy
	Priority           *task.Priority
	Status             *task.Status
	CurrentStage       *string
	Error              *string
	PRURL              *string
	PRStatus           *string
	RetryCount         *int
	MaxRetries         *int
	ResumeAttempts     *int
	PausedAt           *time.Time
	PauseReason        *task.PauseReason
	ResumeAfter        *time.Time
	ClearPause         bool
	Usage              *task.Usage
	Conversation       []task.Message
	SubtaskIDs         []string
	SubtaskStrategy    *task.SubtaskStrategy
	ParentTaskID       *string
}

// isZero reports whether the patch changes nothing.
func (p TaskPatch) isZero() bool {
	return p.Description == nil && p.AcceptanceCriteria == nil && p.Workflow == nil &&
		p.Autonomy == nil && p.Priority == nil && p.Status == nil && p.CurrentStage == nil &&
		p.Error == nil && p.PRURL == nil && p.PRStatus == nil && p.RetryCount == nil &&
		p.MaxRetries == nil && p.ResumeAttempts == nil && p.PausedAt == nil &&
		p.PauseReason == nil && p.ResumeAfter == nil && !p.ClearPause && p.Usage == nil &&
		p.Conversation == nil && p.SubtaskIDs == nil && p.SubtaskStrategy == nil &&
		p.ParentTaskID == nil
}

// UpdateTask applies a partial update. An empty patch is a no-op, not an
// error. UpdatedAt advances on every real change. Status transitions keep
// the completion invariants: CompletedAt is set iff the task is completed,
// and completion zeroes ResumeAttempts.
func (s *Store) UpdateTask(id string, patch TaskPatch) (*task.Task, error) {
	if patch.isZero() {
		return s.GetTask(id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.GetTask(id)
	if err != nil {
		return nil, err
	}

	if patch.Description != nil {
		t.Description = *patch.Description
	}
	if patch.AcceptanceCriteria != nil {
		t.AcceptanceCriteria = *patch.AcceptanceCriteria
	}
	if patch.Workflow != nil {
		t.Workflow = *patch.Workflow
	}
	if patch.Autonomy != nil {
		t.Autonomy = *patch.Autonomy
	}
	if patch.Priority != nil {
		t.Priority = *patch.Priority
	}
	if patch.CurrentStage != nil {
		t.CurrentStage = *patch.CurrentStage
	}
	if patch.Error != nil {
		t.Error = *patch.Error
	}
	if patch.PRURL != nil {
		t.PRURL = *patch.PRURL
	}
	if patch.PRStatus != nil {
		t.PRStatus = *patch.PRStatus
	}
	if patch.RetryCount != nil {
		t.RetryCount = *patch.RetryCount
	}
	if patch.MaxRetries != nil {
		t.MaxRetries = *patch.MaxRetries
	}
	if patch.ResumeAttempts != nil {
		t.ResumeAttempts = *patch.ResumeAttempts
	}
	if patch.PausedAt != nil {
		t.PausedAt = patch.PausedAt
	}
	if patch.PauseReason != nil {
		t.PauseReason = *patch.PauseReason
	}
	if patch.ResumeAfter != nil {
		t.ResumeAfter = patch.ResumeAfter
	}
	if patch.ClearPause {
		t.PausedAt = nil
		t.PauseReason = ""
		t.ResumeAfter = nil
	}
	if patch.Usage != nil {
		t.Usage = *patch.Usage
	}
	if patch.Conversation != nil {
		t.Conversation = patch.Conversation
	}
	if patch.SubtaskIDs != nil {
		t.SubtaskIDs = patch.SubtaskIDs
	}
	if patch.SubtaskStrategy != nil {
		t.SubtaskStrategy = *patch.SubtaskStrategy
	}
	if patch.ParentTaskID != nil {
		t.ParentTaskID = *patch.ParentTaskID
	}

	if patch.Status != nil {
		t.Status = *patch.Status
		switch t.Status {
		case task.StatusCompleted:
			if t.CompletedAt == nil {
				now := time.Now()
				t.CompletedAt = &now
			}
			t.ResumeAttempts = 0
		default:
			t.CompletedAt = nil
		}
	}

	t.UpdatedAt = time.Now()
	if err := s.insertTask(t); err != nil {
		return nil, err
	}
	return t, nil
}

// UpdateTaskStatus is a convenience wrapper for status-only patches.
func (s *Store) UpdateTaskStatus(id string, status task.Status) (*task.Task, error) {
	return s.UpdateTask(id, TaskPatch{Status: &status})
}

// ListOptions filters and orders task listings.
type ListOptions struct {
	Status          task.Status
	ParentTaskID    string
	OrderByPriority bool
	Limit           int
}

// ListTasks returns tasks matching the options. Default order is creation
// time ascending; OrderByPriority sorts urgent-first with age tie-break.
func (s *Store) ListTasks(opts ListOptions) ([]*task.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var args []any
	switch {
	case opts.Status != "" && opts.ParentTaskID != "":
		query += ` WHERE status = ? AND parent_task_id = ?`
		args = append(args, string(opts.Status), opts.ParentTaskID)
	case opts.Status != "":
		query += ` WHERE status = ?`
		args = append(args, string(opts.Status))
	case opts.ParentTaskID != "":
		query += ` WHERE parent_task_id = ?`
		args = append(args, opts.ParentTaskID)
	}

	if opts.OrderByPriority {
		query += ` ORDER BY ` + priorityOrderSQL + `, created_at ASC`
	} else {
		query += ` ORDER BY created_at ASC`
	}
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	return s.queryTasks(query, args...)
}

// DeleteTask removes a task with its dependencies, logs, checkpoints,
// artifacts, and gates.
func (s *Store) DeleteTask(id string) error {
	return s.runInTx(func(tx driver.Tx) error {
		if _, err := s.txExec(tx, `DELETE FROM task_dependencies WHERE task_id = ? OR depends_on = ?`, id, id); err != nil {
			return fmt.Errorf("delete task %s dependencies: %w", id, err)
		}
		for _, table := range []string{"task_logs", "task_artifacts", "checkpoints", "gates"} {
			if _, err := s.txExec(tx, `DELETE FROM `+table+` WHERE task_id = ?`, id); err != nil {
				return fmt.Errorf("delete task %s %s: %w", id, table, err)
			}
		}
		if _, err := s.txExec(tx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete task %s: %w", id, err)
		}
		return nil
	})
}

// insertTask upserts the full task row.
func (s *Store) insertTask(t *task.Task) error {
	query, args, err := taskUpsert(t)
	if err != nil {
		return err
	}
	if _, err := s.exec(query, args...); err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return nil
}

// insertTaskTx upserts the full task row inside an open transaction.
func (s *Store) insertTaskTx(tx driver.Tx, t *task.Task) error {
	query, args, err := taskUpsert(t)
	if err != nil {
		return err
	}
	if _, err := s.txExec(tx, query, args...); err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return nil
}

// taskUpsert builds the shared insert-or-update statement for a task row.
func taskUpsert(t *task.Task) (string, []any, error) {
	subtasks, err := marshalJSON(t.SubtaskIDs)
	if err != nil {
		return "", nil, fmt.Errorf("marshal subtask ids: %w", err)
	}
	conversation, err := marshalJSON(t.Conversation)
	if err != nil {
		return "", nil, fmt.Errorf("marshal conversation: %w", err)
	}

	query := `
		INSERT INTO tasks (` + taskColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			description = excluded.description,
			acceptance_criteria = excluded.acceptance_criteria,
			workflow = excluded.workflow,
			autonomy = excluded.autonomy,
			project_path = excluded.project_path,
			branch_name = excluded.branch_name,
			priority = excluded.priority,
			status = excluded.status,
			current_stage = excluded.current_stage,
			parent_task_id = excluded.parent_task_id,
			subtask_ids = excluded.subtask_ids,
			subtask_strategy = excluded.subtask_strategy,
			retry_count = excluded.retry_count,
			max_retries = excluded.max_retries,
			paused_at = excluded.paused_at,
			pause_reason = excluded.pause_reason,
			resume_after = excluded.resume_after,
			resume_attempts = excluded.resume_attempts,
			input_tokens = excluded.input_tokens,
			output_tokens = excluded.output_tokens,
			total_tokens = excluded.total_tokens,
			estimated_cost = excluded.estimated_cost,
			conversation = excluded.conversation,
			error = excluded.error,
			pr_url = excluded.pr_url,
			pr_status = excluded.pr_status,
			updated_at = excluded.updated_at,
			completed_at = excluded.completed_at`
	args := []any{
		t.ID, t.Description, nullable(t.AcceptanceCriteria), nullable(t.Workflow),
		nullable(string(t.Autonomy)), nullable(t.ProjectPath), nullable(t.BranchName),
		string(t.GetPriority()), string(t.Status), nullable(t.CurrentStage),
		nullable(t.ParentTaskID), subtasks, nullable(string(t.SubtaskStrategy)),
		t.RetryCount, t.GetMaxRetries(), fmtTimePtr(t.PausedAt),
		nullable(string(t.PauseReason)), fmtTimePtr(t.ResumeAfter), t.ResumeAttempts,
		t.Usage.InputTokens, t.Usage.OutputTokens, t.Usage.TotalTokens,
		t.Usage.EstimatedCost, conversation, nullable(t.Error), nullable(t.PRURL),
		nullable(t.PRStatus), fmtTime(t.CreatedAt), fmtTime(t.UpdatedAt),
		fmtTimePtr(t.CompletedAt),
	}
	return query, args, nil
}

// queryTasks runs a task query and attaches dependency info to each row.
func (s *Store) queryTasks(query string, args ...any) ([]*task.Task, error) {
	rows, err := s.query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}

	for _, t := range tasks {
		if err := s.attachDependencies(t); err != nil {
			return nil, err
		}
	}
	return tasks, nil
}

// attachDependencies fills DependsOn and the computed BlockedBy subset.
func (s *Store) attachDependencies(t *task.Task) error {
	deps, err := s.GetTaskDependencies(t.ID)
	if err != nil {
		return err
	}
	t.DependsOn = deps

	blocked, err := s.GetBlockingTasks(t.ID)
	if err != nil {
		return err
	}
	t.BlockedBy = blocked
	return nil
}

// scanTask reads one task row via the given scan function (row or rows).
func scanTask(scan func(dest ...any) error) (*task.Task, error) {
	var t task.Task
	var acceptance, workflow, autonomy, projectPath, branchName sql.NullString
	var currentStage, parentID, subtaskIDs, strategy, pauseReason sql.NullString
	var pausedAt, resumeAfter, completedAt sql.NullString
	var conversation, errMsg, prURL, prStatus sql.NullString
	var createdAt, updatedAt string
	var priority, status string

	if err := scan(&t.ID, &t.Description, &acceptance, &workflow, &autonomy,
		&projectPath, &branchName, &priority, &status, &currentStage, &parentID,
		&subtaskIDs, &strategy, &t.RetryCount, &t.MaxRetries, &pausedAt,
		&pauseReason, &resumeAfter, &t.ResumeAttempts, &t.Usage.InputTokens,
		&t.Usage.OutputTokens, &t.Usage.TotalTokens, &t.Usage.EstimatedCost,
		&conversation, &errMsg, &prURL, &prStatus, &createdAt, &updatedAt,
		&completedAt); err != nil {
		return nil, err
	}

	t.AcceptanceCriteria = acceptance.String
	t.Workflow = workflow.String
	t.Autonomy = task.Autonomy(autonomy.String)
	t.ProjectPath = projectPath.String
	t.BranchName = branchName.String
	t.Priority = task.Priority(priority)
	t.Status = task.Status(status)
	t.CurrentStage = currentStage.String
	t.ParentTaskID = parentID.String
	t.SubtaskStrategy = task.SubtaskStrategy(strategy.String)
	t.PauseReason = task.PauseReason(pauseReason.String)
	t.Error = errMsg.String
	t.PRURL = prURL.String
	t.PRStatus = prStatus.String
	t.PausedAt = parseTimePtr(pausedAt)
	t.ResumeAfter = parseTimePtr(resumeAfter)
	t.CompletedAt = parseTimePtr(completedAt)
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)

	if subtaskIDs.Valid && subtaskIDs.String != "" {
		if err := json.Unmarshal([]byte(subtaskIDs.String), &t.SubtaskIDs); err != nil {
			return nil, fmt.Errorf("unmarshal subtask ids: %w", err)
		}
	}
	if conversation.Valid && conversation.String != "" {
		if err := json.Unmarshal([]byte(conversation.String), &t.Conversation); err != nil {
			return nil, fmt.Errorf("unmarshal conversation: %w", err)
		}
	}

	return &t, nil
}

// marshalJSON serialises a value for TEXT storage, empty values as NULL.
func marshalJSON(v any) (*string, error) {
	switch val := v.(type) {
	case []string:
		if len(val) == 0 {
			return nil, nil
		}
	case []task.Message:
		if len(val) == 0 {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

// nullable maps empty strings to NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

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

// Template is a reusable task blueprint, independent of any single task.
type Template struct {
	ID                 string
	Name               string
	Description        string
	Workflow           string
	Priority           task.Priority
	Effort             string
	AcceptanceCriteria string
	Tags               []string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// SaveTemplate upserts a template, assigning an id and timestamps when
// missing.
func (s *Store) SaveTemplate(t *Template) error {
	if t.ID == "" {
		t.ID = task.NewTemplateID()
	}
	if t.Priority == "" {
		t.Priority = task.PriorityNormal
	}
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	tags, err := marshalJSON(t.Tags)
	if err != nil {
		return fmt.Errorf("marshal template tags: %w", err)
	}

	_, err = s.exec(`
		INSERT INTO templates (id, name, description, workflow, priority, effort, acceptance_criteria, tags, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			workflow = excluded.workflow,
			priority = excluded.priority,
			effort = excluded.effort,
			acceptance_criteria = excluded.acceptance_criteria,
			tags = excluded.tags,
			updated_at = excluded.updated_at`,
		t.ID, t.Name, nullable(t.Description), nullable(t.Workflow),
		string(t.Priority), nullable(t.Effort), nullable(t.AcceptanceCriteria),
		tags, fmtTime(t.CreatedAt), fmtTime(t.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save template %s: %w", t.ID, err)
	}
	return nil
}

// GetTemplate retrieves a template by id.
func (s *Store) GetTemplate(id string) (*Template, error) {
	row := s.queryRow(`
		SELECT id, name, description, workflow, priority, effort, acceptance_criteria, tags, created_at, updated_at
		FROM templates WHERE id = ?`, id)

	t, err := scanTemplate(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, aerrors.ErrTemplateNotFound(id)
		}
		return nil, fmt.Errorf("get template %s: %w", id, err)
	}
	return t, nil
}

// ListTemplates returns all templates ordered by name.
func (s *Store) ListTemplates() ([]*Template, error) {
	rows, err := s.query(`
		SELECT id, name, description, workflow, priority, effort, acceptance_criteria, tags, created_at, updated_at
		FROM templates ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var templates []*Template
	for rows.Next() {
		t, err := scanTemplate(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate templates: %w", err)
	}
	return templates, nil
}

// DeleteTemplate removes a template.
func (s *Store) DeleteTemplate(id string) error {
	res, err := s.exec(`DELETE FROM templates WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete template %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return aerrors.ErrTemplateNotFound(id)
	}
	return nil
}

// CreateTaskFromTemplate instantiates a task from a template. Overrides on
// the provided task (description, priority, workflow) win over template
// defaults.
func (s *Store) CreateTaskFromTemplate(templateID string, overrides *task.Task) (*task.Task, error) {
	tpl, err := s.GetTemplate(templateID)
	if err != nil {
		return nil, err
	}

	t := overrides
	if t == nil {
		t = &task.Task{}
	}
	if t.Description == "" {
		t.Description = tpl.Description
	}
	if t.Workflow == "" {
		t.Workflow = tpl.Workflow
	}
	if t.Priority == "" {
		t.Priority = tpl.Priority
	}
	if t.AcceptanceCriteria == "" {
		t.AcceptanceCriteria = tpl.AcceptanceCriteria
	}
	if err := s.CreateTask(t); err != nil {
		return nil, err
	}
	return t, nil
}

func scanTemplate(scan func(dest ...any) error) (*Template, error) {
	var t Template
	var description, workflow, effort, acceptance, tags sql.NullString
	var createdAt, updatedAt string

	if err := scan(&t.ID, &t.Name, &description, &workflow, &t.Priority,
		&effort, &acceptance, &tags, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	t.Description = description.String
	t.Workflow = workflow.String
	t.Effort = effort.String
	t.AcceptanceCriteria = acceptance.String
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)

	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &t.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal template tags: %w", err)
		}
	}
	return &t, nil
}

// IdleTask is a low-priority suggestion produced by project analysis. It
// stays a suggestion until promoted into a real task.
type IdleTask struct {
	ID                string
	Type              string
	Title             string
	Description       string
	Priority          task.Priority
	EstimatedEffort   string
	SuggestedWorkflow string
	Rationale         string
	Tags              []string
	Implemented       bool
	ImplementedTaskID string
	CreatedAt         time.Time
}

// SaveIdleTask upserts an idle task suggestion.
func (s *Store) SaveIdleTask(it *IdleTask) error {
	if it.ID == "" {
		it.ID = task.IdleTaskID(it.Title)
	}
	if it.Priority == "" {
		it.Priority = task.PriorityLow
	}
	if it.CreatedAt.IsZero() {
		it.CreatedAt = time.Now()
	}

	tags, err := marshalJSON(it.Tags)
	if err != nil {
		return fmt.Errorf("marshal idle task tags: %w", err)
	}

	implemented := 0
	if it.Implemented {
		implemented = 1
	}

	_, err = s.exec(`
		INSERT INTO idle_tasks (id, type, title, description, priority, estimated_effort, suggested_workflow, rationale, tags, implemented, implemented_task_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			title = excluded.title,
			description = excluded.description,
			priority = excluded.priority,
			estimated_effort = excluded.estimated_effort,
			suggested_workflow = excluded.suggested_workflow,
			rationale = excluded.rationale,
			tags = excluded.tags,
			implemented = excluded.implemented,
			implemented_task_id = excluded.implemented_task_id`,
		it.ID, nullable(it.Type), it.Title, nullable(it.Description),
		string(it.Priority), nullable(it.EstimatedEffort), nullable(it.SuggestedWorkflow),
		nullable(it.Rationale), tags, implemented, nullable(it.ImplementedTaskID),
		fmtTime(it.CreatedAt))
	if err != nil {
		return fmt.Errorf("save idle task %s: %w", it.ID, err)
	}
	return nil
}

// GetIdleTask retrieves an idle task by id.
func (s *Store) GetIdleTask(id string) (*IdleTask, error) {
	row := s.queryRow(`
		SELECT id, type, title, description, priority, estimated_effort, suggested_workflow, rationale, tags, implemented, implemented_task_id, created_at
		FROM idle_tasks WHERE id = ?`, id)

	it, err := scanIdleTask(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, aerrors.ErrIdleTaskNotFound(id)
		}
		return nil, fmt.Errorf("get idle task %s: %w", id, err)
	}
	return it, nil
}

// ListIdleTasks returns idle tasks, optionally only unimplemented ones,
// oldest first.
func (s *Store) ListIdleTasks(includeImplemented bool) ([]*IdleTask, error) {
	query := `
		SELECT id, type, title, description, priority, estimated_effort, suggested_workflow, rationale, tags, implemented, implemented_task_id, created_at
		FROM idle_tasks`
	if !includeImplemented {
		query += ` WHERE implemented = 0`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.query(query)
	if err != nil {
		return nil, fmt.Errorf("list idle tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var idle []*IdleTask
	for rows.Next() {
		it, err := scanIdleTask(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan idle task: %w", err)
		}
		idle = append(idle, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate idle tasks: %w", err)
	}
	return idle, nil
}

// PromoteIdleTask atomically creates a real task from an idle suggestion
// and marks the suggestion implemented with a back-link. The new task's
// acceptance criteria embeds the suggestion's title and rationale.
func (s *Store) PromoteIdleTask(id string, overrides *task.Task) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, err := s.GetIdleTask(id)
	if err != nil {
		return nil, err
	}
	if it.Implemented {
		return nil, aerrors.ErrInvalidInput("idle task "+id, "already implemented")
	}

	t := overrides
	if t == nil {
		t = &task.Task{}
	}
	if t.Description == "" {
		t.Description = it.Description
		if t.Description == "" {
			t.Description = it.Title
		}
	}
	if t.Workflow == "" {
		t.Workflow = it.SuggestedWorkflow
	}
	if t.Priority == "" {
		t.Priority = it.Priority
	}
	if t.AcceptanceCriteria == "" {
		t.AcceptanceCriteria = fmt.Sprintf("Implements suggestion: %s\n\nRationale: %s", it.Title, it.Rationale)
	}

	if t.ID == "" {
		t.ID = task.NewID()
	}
	if t.Status == "" {
		t.Status = task.StatusPending
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
	t.UpdatedAt = now

	err = s.runInTx(func(tx driver.Tx) error {
		if err := s.insertTaskTx(tx, t); err != nil {
			return err
		}
		if _, err := s.txExec(tx, `
			UPDATE idle_tasks SET implemented = 1, implemented_task_id = ? WHERE id = ?`,
			t.ID, id); err != nil {
			return fmt.Errorf("mark idle task implemented: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func scanIdleTask(scan func(dest ...any) error) (*IdleTask, error) {
	var it IdleTask
	var typ, description, effort, workflow, rationale, tags, implementedID sql.NullString
	var implemented int
	var createdAt string

	if err := scan(&it.ID, &typ, &it.Title, &description, &it.Priority,
		&effort, &workflow, &rationale, &tags, &implemented, &implementedID,
		&createdAt); err != nil {
		return nil, err
	}

	it.Type = typ.String
	it.Description = description.String
	it.EstimatedEffort = effort.String
	it.SuggestedWorkflow = workflow.String
	it.Rationale = rationale.String
	it.Implemented = implemented == 1
	it.ImplementedTaskID = implementedID.String
	it.CreatedAt = parseTime(createdAt)

	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &it.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal idle task tags: %w", err)
		}
	}
	return &it, nil
}

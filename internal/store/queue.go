package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/apexhq/apex/internal/task"
)

// notBlockedSQL excludes tasks with any dependency whose target is missing
// or not yet completed. A dependency on an unknown task id blocks forever
// rather than silently unblocking.
const notBlockedSQL = `NOT EXISTS (
	SELECT 1 FROM task_dependencies d
	LEFT JOIN tasks dt ON dt.id = d.depends_on
	WHERE d.task_id = tasks.id
	  AND (dt.status IS NULL OR dt.status != 'completed'))`

// GetNextQueuedTask returns the highest-priority ready task: status pending
// with every dependency completed, priority urgent > high > normal > low,
// older CreatedAt winning ties. Returns nil when the queue is empty.
func (s *Store) GetNextQueuedTask() (*task.Task, error) {
	row := s.queryRow(`
		SELECT `+taskColumns+` FROM tasks
		WHERE status = 'pending' AND `+notBlockedSQL+`
		ORDER BY `+priorityOrderSQL+`, created_at ASC
		LIMIT 1`)

	t, err := scanTask(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get next queued task: %w", err)
	}
	if err := s.attachDependencies(t); err != nil {
		return nil, err
	}
	return t, nil
}

// QueueTask resets a task to pending with the given priority, clearing any
// previous pause or failure state so it competes in the queue again.
func (s *Store) QueueTask(id string, priority task.Priority) (*task.Task, error) {
	status := task.StatusPending
	empty := ""
	return s.UpdateTask(id, TaskPatch{
		Status:     &status,
		Priority:   &priority,
		Error:      &empty,
		ClearPause: true,
	})
}

// ReadyOptions controls GetReadyTasks ordering and size.
type ReadyOptions struct {
	OrderByPriority bool
	Limit           int
}

// GetReadyTasks lists every ready task (pending, no incomplete dependency)
// in queue order.
func (s *Store) GetReadyTasks(opts ReadyOptions) ([]*task.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks
		WHERE status = 'pending' AND ` + notBlockedSQL
	if opts.OrderByPriority {
		query += ` ORDER BY ` + priorityOrderSQL + `, created_at ASC`
	} else {
		query += ` ORDER BY created_at ASC`
	}

	var args []any
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}
	return s.queryTasks(query, args...)
}

// GetPausedTasksForResume returns paused tasks eligible for automatic
// re-admission: pause reason exactly usage_limit, budget, or capacity
// (session_limit, rate_limit, manual, and any case variant stay excluded)
// and ResumeAfter unset or due. Ordered by priority, then age.
func (s *Store) GetPausedTasksForResume() ([]*task.Task, error) {
	return s.queryTasks(`
		SELECT `+taskColumns+` FROM tasks
		WHERE status = 'paused'
		  AND pause_reason IN ('usage_limit', 'budget', 'capacity')
		  AND (resume_after IS NULL OR resume_after <= ?)
		ORDER BY `+priorityOrderSQL+`, created_at ASC`,
		fmtTime(time.Now()))
}

// AddDependency records that taskID depends on dependsOn. Duplicates and
// self-references are silently ignored.
func (s *Store) AddDependency(taskID, dependsOn string) error {
	if taskID == dependsOn {
		return nil
	}
	prefix, suffix := s.drv.InsertIgnore()
	query := prefix + ` INTO task_dependencies (task_id, depends_on) VALUES (?, ?) ` + suffix
	if _, err := s.exec(query, taskID, dependsOn); err != nil {
		return fmt.Errorf("add dependency %s -> %s: %w", taskID, dependsOn, err)
	}
	return nil
}

// RemoveDependency removes a dependency edge.
func (s *Store) RemoveDependency(taskID, dependsOn string) error {
	if _, err := s.exec(`DELETE FROM task_dependencies WHERE task_id = ? AND depends_on = ?`, taskID, dependsOn); err != nil {
		return fmt.Errorf("remove dependency %s -> %s: %w", taskID, dependsOn, err)
	}
	return nil
}

// GetTaskDependencies returns the ids taskID depends on.
func (s *Store) GetTaskDependencies(taskID string) ([]string, error) {
	return s.queryIDs(`SELECT depends_on FROM task_dependencies WHERE task_id = ? ORDER BY depends_on`, taskID)
}

// GetDependentTasks returns the ids that depend on taskID.
func (s *Store) GetDependentTasks(taskID string) ([]string, error) {
	return s.queryIDs(`SELECT task_id FROM task_dependencies WHERE depends_on = ? ORDER BY task_id`, taskID)
}

// GetBlockingTasks returns the subset of taskID's dependencies that are not
// yet completed. Unknown dependency ids count as blocking.
func (s *Store) GetBlockingTasks(taskID string) ([]string, error) {
	return s.queryIDs(`
		SELECT d.depends_on FROM task_dependencies d
		LEFT JOIN tasks dt ON dt.id = d.depends_on
		WHERE d.task_id = ?
		  AND (dt.status IS NULL OR dt.status != 'completed')
		ORDER BY d.depends_on`, taskID)
}

// IsTaskReady reports whether a task is pending with no incomplete
// dependencies.
func (s *Store) IsTaskReady(taskID string) (bool, error) {
	t, err := s.GetTask(taskID)
	if err != nil {
		return false, err
	}
	return t.IsReady(), nil
}

// queryIDs collects a single-column id query into a slice.
func (s *Store) queryIDs(query string, args ...any) ([]string, error) {
	rows, err := s.query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ids: %w", err)
	}
	return ids, nil
}

package store

import (
	"database/sql"
	"fmt"
	"time"
)

// LogLevel grades task log entries.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// TaskLog is one append-only log row attributed to a task.
type TaskLog struct {
	ID        int64
	TaskID    string
	Timestamp time.Time
	Level     LogLevel
	Message   string
	Stage     string
	Agent     string
	Component string
}

// AddLog appends a log entry for a task. Timestamp and level default to
// now / info.
func (s *Store) AddLog(taskID string, entry TaskLog) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if entry.Level == "" {
		entry.Level = LogInfo
	}
	_, err := s.exec(`
		INSERT INTO task_logs (task_id, timestamp, level, message, stage, agent, component)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		taskID, fmtTime(entry.Timestamp), string(entry.Level), entry.Message,
		nullable(entry.Stage), nullable(entry.Agent), nullable(entry.Component))
	if err != nil {
		return fmt.Errorf("add log for %s: %w", taskID, err)
	}
	return nil
}

// GetLogs returns a task's log entries in insertion order.
func (s *Store) GetLogs(taskID string, limit int) ([]TaskLog, error) {
	query := `
		SELECT id, task_id, timestamp, level, message, stage, agent, component
		FROM task_logs WHERE task_id = ? ORDER BY id ASC`
	args := []any{taskID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("get logs for %s: %w", taskID, err)
	}
	defer func() { _ = rows.Close() }()

	var logs []TaskLog
	for rows.Next() {
		var l TaskLog
		var ts string
		var stage, agent, component sql.NullString
		if err := rows.Scan(&l.ID, &l.TaskID, &ts, &l.Level, &l.Message, &stage, &agent, &component); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		l.Timestamp = parseTime(ts)
		l.Stage = stage.String
		l.Agent = agent.String
		l.Component = component.String
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate logs: %w", err)
	}
	return logs, nil
}

// ArtifactType distinguishes file artifacts from inline data.
type ArtifactType string

const (
	ArtifactFile ArtifactType = "file"
	ArtifactData ArtifactType = "data"
)

// Artifact is an append-only output row produced by a task.
type Artifact struct {
	ID        int64
	TaskID    string
	Name      string
	Type      ArtifactType
	Path      string
	Content   string
	CreatedAt time.Time
}

// AddArtifact appends an artifact for a task.
func (s *Store) AddArtifact(taskID string, a Artifact) error {
	if a.Type == "" {
		a.Type = ArtifactFile
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	_, err := s.exec(`
		INSERT INTO task_artifacts (task_id, name, type, path, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		taskID, a.Name, string(a.Type), nullable(a.Path), nullable(a.Content), fmtTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("add artifact for %s: %w", taskID, err)
	}
	return nil
}

// GetArtifacts returns a task's artifacts in insertion order.
func (s *Store) GetArtifacts(taskID string) ([]Artifact, error) {
	rows, err := s.query(`
		SELECT id, task_id, name, type, path, content, created_at
		FROM task_artifacts WHERE task_id = ? ORDER BY id ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("get artifacts for %s: %w", taskID, err)
	}
	defer func() { _ = rows.Close() }()

	var artifacts []Artifact
	for rows.Next() {
		var a Artifact
		var path, content sql.NullString
		var createdAt string
		if err := rows.Scan(&a.ID, &a.TaskID, &a.Name, &a.Type, &path, &content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		a.Path = path.String
		a.Content = content.String
		a.CreatedAt = parseTime(createdAt)
		artifacts = append(artifacts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifacts: %w", err)
	}
	return artifacts, nil
}

// LogCommand records an external command invoked on behalf of a task.
func (s *Store) LogCommand(taskID, command string) error {
	_, err := s.exec(`
		INSERT INTO command_log (task_id, command, created_at)
		VALUES (?, ?, ?)`,
		taskID, command, fmtTime(time.Now()))
	if err != nil {
		return fmt.Errorf("log command for %s: %w", taskID, err)
	}
	return nil
}

// GetCommandLog returns the commands recorded for a task, oldest first.
func (s *Store) GetCommandLog(taskID string) ([]string, error) {
	return s.queryIDs(`SELECT command FROM command_log WHERE task_id = ? ORDER BY id ASC`, taskID)
}

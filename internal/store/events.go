package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/apexhq/apex/internal/store/driver"
)

// EventLog is one persisted event row. Data is serialised to JSON on write
// and returned as raw JSON on read.
type EventLog struct {
	ID         int64
	TaskID     string
	Stage      *string
	EventType  string
	Data       any
	Source     string
	CreatedAt  time.Time
	DurationMs *int64
}

// SaveEvents writes a batch of event rows in a single transaction.
func (s *Store) SaveEvents(rows []*EventLog) error {
	if len(rows) == 0 {
		return nil
	}
	return s.runInTx(func(tx driver.Tx) error {
		for _, row := range rows {
			var data *string
			if row.Data != nil {
				b, err := json.Marshal(row.Data)
				if err != nil {
					return fmt.Errorf("marshal event data: %w", err)
				}
				str := string(b)
				data = &str
			}
			created := row.CreatedAt
			if created.IsZero() {
				created = time.Now()
			}
			if _, err := s.txExec(tx, `
				INSERT INTO event_log (task_id, stage, event_type, data, source, created_at, duration_ms)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				row.TaskID, row.Stage, row.EventType, data,
				nullable(row.Source), fmtTime(created), row.DurationMs); err != nil {
				return fmt.Errorf("insert event: %w", err)
			}
		}
		return nil
	})
}

// EventQuery filters persisted events. Zero values mean "no filter".
type EventQuery struct {
	TaskID    string
	EventType string
	Since     time.Time
	Limit     int
}

// QueryEvents returns persisted events matching the query, oldest first.
// Data comes back as json.RawMessage.
func (s *Store) QueryEvents(q EventQuery) ([]*EventLog, error) {
	query := `SELECT id, task_id, stage, event_type, data, source, created_at, duration_ms FROM event_log`
	var conds []string
	var args []any
	if q.TaskID != "" {
		conds = append(conds, `task_id = ?`)
		args = append(args, q.TaskID)
	}
	if q.EventType != "" {
		conds = append(conds, `event_type = ?`)
		args = append(args, q.EventType)
	}
	if !q.Since.IsZero() {
		conds = append(conds, `created_at >= ?`)
		args = append(args, fmtTime(q.Since))
	}
	for i, c := range conds {
		if i == 0 {
			query += ` WHERE ` + c
		} else {
			query += ` AND ` + c
		}
	}
	query += ` ORDER BY id ASC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*EventLog
	for rows.Next() {
		var e EventLog
		var stage, data, source sql.NullString
		var createdAt string
		var durationMs sql.NullInt64
		if err := rows.Scan(&e.ID, &e.TaskID, &stage, &e.EventType, &data, &source, &createdAt, &durationMs); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if stage.Valid {
			e.Stage = &stage.String
		}
		if data.Valid && data.String != "" {
			e.Data = json.RawMessage(data.String)
		}
		e.Source = source.String
		e.CreatedAt = parseTime(createdAt)
		if durationMs.Valid {
			e.DurationMs = &durationMs.Int64
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// CountEvents returns the number of persisted events for a task.
func (s *Store) CountEvents(taskID string) (int, error) {
	row := s.queryRow(`SELECT COUNT(*) FROM event_log WHERE task_id = ?`, taskID)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count events for %s: %w", taskID, err)
	}
	return n, nil
}

// PruneEvents deletes events older than the cutoff and returns how many
// rows were removed.
func (s *Store) PruneEvents(before time.Time) (int64, error) {
	res, err := s.exec(`DELETE FROM event_log WHERE created_at < ?`, fmtTime(before))
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return n, nil
}

// DaemonRestart records one daemon start, used to detect crash loops.
type DaemonRestart struct {
	ID        int64
	PID       int
	StartedAt time.Time
	Reason    string
}

// RecordRestart appends a daemon start row.
func (s *Store) RecordRestart(pid int, reason string) error {
	_, err := s.exec(`
		INSERT INTO daemon_restarts (pid, started_at, reason)
		VALUES (?, ?, ?)`,
		pid, fmtTime(time.Now()), nullable(reason))
	if err != nil {
		return fmt.Errorf("record restart: %w", err)
	}
	return nil
}

// ListRestarts returns daemon starts since the cutoff, newest first.
func (s *Store) ListRestarts(since time.Time) ([]DaemonRestart, error) {
	rows, err := s.query(`
		SELECT id, pid, started_at, reason FROM daemon_restarts
		WHERE started_at >= ? ORDER BY started_at DESC, id DESC`, fmtTime(since))
	if err != nil {
		return nil, fmt.Errorf("list restarts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var restarts []DaemonRestart
	for rows.Next() {
		var r DaemonRestart
		var startedAt string
		var reason sql.NullString
		if err := rows.Scan(&r.ID, &r.PID, &startedAt, &reason); err != nil {
			return nil, fmt.Errorf("scan restart: %w", err)
		}
		r.StartedAt = parseTime(startedAt)
		r.Reason = reason.String
		restarts = append(restarts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate restarts: %w", err)
	}
	return restarts, nil
}

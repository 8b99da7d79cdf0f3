package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/apexhq/apex/internal/aerrors"
)

// GateStatus is the approval state of a gate.
type GateStatus string

const (
	GatePending  GateStatus = "pending"
	GateApproved GateStatus = "approved"
	GateRejected GateStatus = "rejected"
)

// Gate is a named human-approval row attached to a task.
type Gate struct {
	TaskID      string
	Name        string
	Status      GateStatus
	RequiredAt  time.Time
	RespondedAt *time.Time
	Approver    string
	Comment     string
}

// SetGate upserts a gate keyed by (task, name).
func (s *Store) SetGate(taskID string, g Gate) error {
	if g.Status == "" {
		g.Status = GatePending
	}
	if g.RequiredAt.IsZero() {
		g.RequiredAt = time.Now()
	}
	_, err := s.exec(`
		INSERT INTO gates (task_id, name, status, required_at, responded_at, approver, comment)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id, name) DO UPDATE SET
			status = excluded.status,
			required_at = excluded.required_at,
			responded_at = excluded.responded_at,
			approver = excluded.approver,
			comment = excluded.comment`,
		taskID, g.Name, string(g.Status), fmtTime(g.RequiredAt),
		fmtTimePtr(g.RespondedAt), nullable(g.Approver), nullable(g.Comment))
	if err != nil {
		return fmt.Errorf("set gate %s/%s: %w", taskID, g.Name, err)
	}
	return nil
}

// GetGate retrieves a gate by task and name.
func (s *Store) GetGate(taskID, name string) (*Gate, error) {
	row := s.queryRow(`
		SELECT task_id, name, status, required_at, responded_at, approver, comment
		FROM gates WHERE task_id = ? AND name = ?`, taskID, name)

	var g Gate
	var requiredAt string
	var respondedAt, approver, comment sql.NullString
	if err := row.Scan(&g.TaskID, &g.Name, &g.Status, &requiredAt, &respondedAt, &approver, &comment); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, aerrors.ErrGateNotFound(taskID, name)
		}
		return nil, fmt.Errorf("get gate %s/%s: %w", taskID, name, err)
	}
	g.RequiredAt = parseTime(requiredAt)
	g.RespondedAt = parseTimePtr(respondedAt)
	g.Approver = approver.String
	g.Comment = comment.String
	return &g, nil
}

// ListGates returns all gates for a task ordered by requirement time.
func (s *Store) ListGates(taskID string) ([]Gate, error) {
	rows, err := s.query(`
		SELECT task_id, name, status, required_at, responded_at, approver, comment
		FROM gates WHERE task_id = ? ORDER BY required_at ASC, name ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list gates for %s: %w", taskID, err)
	}
	defer func() { _ = rows.Close() }()

	var gates []Gate
	for rows.Next() {
		var g Gate
		var requiredAt string
		var respondedAt, approver, comment sql.NullString
		if err := rows.Scan(&g.TaskID, &g.Name, &g.Status, &requiredAt, &respondedAt, &approver, &comment); err != nil {
			return nil, fmt.Errorf("scan gate: %w", err)
		}
		g.RequiredAt = parseTime(requiredAt)
		g.RespondedAt = parseTimePtr(respondedAt)
		g.Approver = approver.String
		g.Comment = comment.String
		gates = append(gates, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate gates: %w", err)
	}
	return gates, nil
}

// ApproveGate marks a gate approved and records who decided.
func (s *Store) ApproveGate(taskID, name, approver, comment string) (*Gate, error) {
	return s.respondGate(taskID, name, GateApproved, approver, comment)
}

// RejectGate marks a gate rejected with reviewer feedback.
func (s *Store) RejectGate(taskID, name, approver, comment string) (*Gate, error) {
	return s.respondGate(taskID, name, GateRejected, approver, comment)
}

func (s *Store) respondGate(taskID, name string, status GateStatus, approver, comment string) (*Gate, error) {
	g, err := s.GetGate(taskID, name)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	g.Status = status
	g.RespondedAt = &now
	g.Approver = approver
	g.Comment = comment
	if err := s.SetGate(taskID, *g); err != nil {
		return nil, err
	}
	return g, nil
}

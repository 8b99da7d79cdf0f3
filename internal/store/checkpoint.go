package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/apexhq/apex/internal/aerrors"
	"github.com/apexhq/apex/internal/task"
)

// Resume points recorded in checkpoint metadata.
const (
	// ResumePointStageStart re-runs the checkpointed stage from its start.
	ResumePointStageStart = "stage_start"
	// ResumePointWorkflowContinue continues with the stage after the
	// checkpointed one.
	ResumePointWorkflowContinue = "workflow_continue"
)

// CheckpointMetadata is the structured portion of a checkpoint's metadata
// blob. SessionLimitStatus stays opaque JSON.
type CheckpointMetadata struct {
	PauseReason        string         `json:"pauseReason,omitempty"`
	ResumePoint        string         `json:"resumePoint,omitempty"`
	SessionLimitStatus any            `json:"sessionLimitStatus,omitempty"`
	CompletedStages    []string       `json:"completedStages,omitempty"`
	InProgressStages   []string       `json:"inProgressStages,omitempty"`
	StageResults       map[string]any `json:"stageResults,omitempty"`
}

// Checkpoint is a durable snapshot of task progress keyed by
// (TaskID, CheckpointID).
type Checkpoint struct {
	TaskID            string
	CheckpointID      string
	Stage             string
	StageIndex        int
	ConversationState []task.Message
	Metadata          CheckpointMetadata
	CreatedAt         time.Time
}

// SaveCheckpoint upserts a checkpoint. A missing CheckpointID or CreatedAt
// is filled in.
func (s *Store) SaveCheckpoint(cp *Checkpoint) error {
	if cp.CheckpointID == "" {
		cp.CheckpointID = task.NewCheckpointID()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}

	conversation, err := marshalJSON(cp.ConversationState)
	if err != nil {
		return fmt.Errorf("marshal conversation state: %w", err)
	}
	metadata, err := json.Marshal(cp.Metadata)
	if err != nil {
		return fmt.Errorf("marshal checkpoint metadata: %w", err)
	}

	_, err = s.exec(`
		INSERT INTO checkpoints (task_id, checkpoint_id, stage, stage_index, conversation_state, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id, checkpoint_id) DO UPDATE SET
			stage = excluded.stage,
			stage_index = excluded.stage_index,
			conversation_state = excluded.conversation_state,
			metadata = excluded.metadata,
			created_at = excluded.created_at`,
		cp.TaskID, cp.CheckpointID, nullable(cp.Stage), cp.StageIndex,
		conversation, string(metadata), fmtTime(cp.CreatedAt))
	if err != nil {
		return fmt.Errorf("save checkpoint %s/%s: %w", cp.TaskID, cp.CheckpointID, err)
	}
	return nil
}

// GetCheckpoint retrieves a checkpoint by task and checkpoint id.
func (s *Store) GetCheckpoint(taskID, checkpointID string) (*Checkpoint, error) {
	row := s.queryRow(`
		SELECT task_id, checkpoint_id, stage, stage_index, conversation_state, metadata, created_at
		FROM checkpoints WHERE task_id = ? AND checkpoint_id = ?`, taskID, checkpointID)

	cp, err := scanCheckpoint(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, aerrors.ErrCheckpointNotFound(taskID, checkpointID)
		}
		return nil, fmt.Errorf("get checkpoint %s/%s: %w", taskID, checkpointID, err)
	}
	return cp, nil
}

// GetLatestCheckpoint returns the task's newest checkpoint by CreatedAt, or
// nil when the task has none.
func (s *Store) GetLatestCheckpoint(taskID string) (*Checkpoint, error) {
	row := s.queryRow(`
		SELECT task_id, checkpoint_id, stage, stage_index, conversation_state, metadata, created_at
		FROM checkpoints WHERE task_id = ?
		ORDER BY created_at DESC, checkpoint_id DESC
		LIMIT 1`, taskID)

	cp, err := scanCheckpoint(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get latest checkpoint for %s: %w", taskID, err)
	}
	return cp, nil
}

// ListCheckpoints returns all checkpoints for a task, newest first.
func (s *Store) ListCheckpoints(taskID string) ([]*Checkpoint, error) {
	rows, err := s.query(`
		SELECT task_id, checkpoint_id, stage, stage_index, conversation_state, metadata, created_at
		FROM checkpoints WHERE task_id = ?
		ORDER BY created_at DESC, checkpoint_id DESC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints for %s: %w", taskID, err)
	}
	defer func() { _ = rows.Close() }()

	var cps []*Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		cps = append(cps, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return cps, nil
}

// DeleteCheckpoint removes one checkpoint.
func (s *Store) DeleteCheckpoint(taskID, checkpointID string) error {
	if _, err := s.exec(`DELETE FROM checkpoints WHERE task_id = ? AND checkpoint_id = ?`, taskID, checkpointID); err != nil {
		return fmt.Errorf("delete checkpoint %s/%s: %w", taskID, checkpointID, err)
	}
	return nil
}

// DeleteAllCheckpoints removes every checkpoint for a task.
func (s *Store) DeleteAllCheckpoints(taskID string) error {
	if _, err := s.exec(`DELETE FROM checkpoints WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("delete checkpoints for %s: %w", taskID, err)
	}
	return nil
}

func scanCheckpoint(scan func(dest ...any) error) (*Checkpoint, error) {
	var cp Checkpoint
	var stage, conversation, metadata sql.NullString
	var createdAt string

	if err := scan(&cp.TaskID, &cp.CheckpointID, &stage, &cp.StageIndex,
		&conversation, &metadata, &createdAt); err != nil {
		return nil, err
	}

	cp.Stage = stage.String
	cp.CreatedAt = parseTime(createdAt)

	if conversation.Valid && conversation.String != "" {
		if err := json.Unmarshal([]byte(conversation.String), &cp.ConversationState); err != nil {
			return nil, fmt.Errorf("unmarshal conversation state: %w", err)
		}
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &cp.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal checkpoint metadata: %w", err)
		}
	}
	return &cp, nil
}

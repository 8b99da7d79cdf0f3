package store

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveEvents_Batch(t *testing.T) {
	t.Parallel()
	s := NewTestStore(t)

	stage := "implement"
	ms := int64(1500)
	rows := []*EventLog{
		{TaskID: "task_1", EventType: "task:started", Source: "executor"},
		{TaskID: "task_1", Stage: &stage, EventType: "stage:update",
			Data: map[string]any{"stage": stage, "status": "completed"},
			Source: "executor", DurationMs: &ms},
		{TaskID: "task_2", EventType: "task:started", Source: "scheduler"},
	}
	require.NoError(t, s.SaveEvents(rows))
	require.NoError(t, s.SaveEvents(nil), "empty batch is a no-op")

	events, err := s.QueryEvents(EventQuery{TaskID: "task_1"})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "task:started", events[0].EventType)
	require.NotNil(t, events[1].Stage)
	assert.Equal(t, stage, *events[1].Stage)
	require.NotNil(t, events[1].DurationMs)
	assert.Equal(t, ms, *events[1].DurationMs)

	raw, ok := events[1].Data.(json.RawMessage)
	require.True(t, ok)
	var data map[string]any
	require.NoError(t, json.Unmarshal(raw, &data))
	assert.Equal(t, "completed", data["status"])
}

func TestQueryEvents_Filters(t *testing.T) {
	t.Parallel()
	s := NewTestStore(t)

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, s.SaveEvents([]*EventLog{
		{TaskID: "task_1", EventType: "task:started", CreatedAt: old},
		{TaskID: "task_1", EventType: "task:completed"},
		{TaskID: "task_2", EventType: "task:started"},
	}))

	byType, err := s.QueryEvents(EventQuery{EventType: "task:started"})
	require.NoError(t, err)
	assert.Len(t, byType, 2)

	recent, err := s.QueryEvents(EventQuery{TaskID: "task_1", Since: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "task:completed", recent[0].EventType)

	limited, err := s.QueryEvents(EventQuery{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	n, err := s.CountEvents("task_1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPruneEvents(t *testing.T) {
	t.Parallel()
	s := NewTestStore(t)

	require.NoError(t, s.SaveEvents([]*EventLog{
		{TaskID: "task_1", EventType: "old", CreatedAt: time.Now().Add(-48 * time.Hour)},
		{TaskID: "task_1", EventType: "new"},
	}))

	pruned, err := s.PruneEvents(time.Now().Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	remaining, err := s.QueryEvents(EventQuery{TaskID: "task_1"})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "new", remaining[0].EventType)
}

func TestDaemonRestarts(t *testing.T) {
	t.Parallel()
	s := NewTestStore(t)

	require.NoError(t, s.RecordRestart(os.Getpid(), "boot"))
	require.NoError(t, s.RecordRestart(os.Getpid(), "crash recovery"))

	restarts, err := s.ListRestarts(time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, restarts, 2)
	assert.Equal(t, "crash recovery", restarts[0].Reason, "newest first")
	assert.Equal(t, os.Getpid(), restarts[0].PID)

	none, err := s.ListRestarts(time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, none)
}

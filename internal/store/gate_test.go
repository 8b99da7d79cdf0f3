package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexhq/apex/internal/aerrors"
)

func TestSetGate_DefaultsAndUpsert(t *testing.T) {
	t.Parallel()
	s := NewTestStore(t)

	require.NoError(t, s.SetGate("task_1", Gate{Name: "review"}))

	g, err := s.GetGate("task_1", "review")
	require.NoError(t, err)
	assert.Equal(t, GatePending, g.Status)
	assert.False(t, g.RequiredAt.IsZero())
	assert.Nil(t, g.RespondedAt)

	// Same key overwrites rather than duplicating.
	require.NoError(t, s.SetGate("task_1", Gate{Name: "review", Status: GateApproved}))
	gates, err := s.ListGates("task_1")
	require.NoError(t, err)
	require.Len(t, gates, 1)
	assert.Equal(t, GateApproved, gates[0].Status)
}

func TestGetGate_NotFound(t *testing.T) {
	t.Parallel()
	s := NewTestStore(t)

	_, err := s.GetGate("task_1", "missing")
	assert.True(t, errors.Is(err, aerrors.ErrGateNotFound("task_1", "missing")))
}

func TestApproveAndRejectGate(t *testing.T) {
	t.Parallel()
	s := NewTestStore(t)

	require.NoError(t, s.SetGate("task_1", Gate{Name: "merge"}))

	approved, err := s.ApproveGate("task_1", "merge", "alex", "looks good")
	require.NoError(t, err)
	assert.Equal(t, GateApproved, approved.Status)
	assert.Equal(t, "alex", approved.Approver)
	assert.Equal(t, "looks good", approved.Comment)
	require.NotNil(t, approved.RespondedAt)

	rejected, err := s.RejectGate("task_1", "merge", "sam", "needs tests")
	require.NoError(t, err)
	assert.Equal(t, GateRejected, rejected.Status)
	assert.Equal(t, "needs tests", rejected.Comment)

	_, err = s.ApproveGate("task_1", "missing", "alex", "")
	require.Error(t, err)
}

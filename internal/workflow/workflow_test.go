package workflow_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trackline/internal/domain"
	"trackline/internal/fault"
	"trackline/internal/workflow"
)

func snapshot() workflow.Snapshot {
	return workflow.Snapshot{
		WorkflowID: "wf-1",
		States: []domain.State{
			{ID: "todo", Name: "Todo", Position: 0},
			{ID: "doing", Name: "Doing", Position: 1},
			{ID: "done", Name: "Done", Position: 2},
		},
		Transitions: []domain.WorkflowTransition{
			{WorkflowID: "wf-1", FromState: "todo", ToState: "doing"},
			{WorkflowID: "wf-1", FromState: "doing", ToState: "done"},
		},
	}
}

func TestSourceEncoding(t *testing.T) {
	src := workflow.SourceOf(workflow.AnyStateID)
	assert.True(t, src.Any)
	assert.Equal(t, workflow.AnyStateID, src.Encode())

	src = workflow.SourceOf("todo")
	assert.False(t, src.Any)
	assert.Equal(t, "todo", src.Encode())
}

func TestTransitionLegality(t *testing.T) {
	snap := snapshot()
	todo := "todo"
	doing := "doing"

	assert.True(t, snap.IsTransitionLegal(&todo, "doing"))
	assert.False(t, snap.IsTransitionLegal(&todo, "done"))
	assert.True(t, snap.IsTransitionLegal(&doing, "done"))
	assert.False(t, snap.IsTransitionLegal(&doing, "todo"))
}

func TestAnyStateTransition(t *testing.T) {
	snap := snapshot()
	snap.Transitions = append(snap.Transitions, domain.WorkflowTransition{
		WorkflowID: "wf-1",
		FromState:  workflow.AnyStateID,
		ToState:    "todo",
	})
	done := "done"
	assert.True(t, snap.IsTransitionLegal(&done, "todo"))

	next := snap.NextValidStates(&done)
	require.Len(t, next, 1)
	assert.Equal(t, "todo", next[0].ID)
}

func TestNilCurrentStateAllowsAllWorkflowStates(t *testing.T) {
	snap := snapshot()
	next := snap.NextValidStates(nil)
	assert.Len(t, next, 3)
	assert.True(t, snap.IsTransitionLegal(nil, "done"))
}

func TestUnrestrictedWhenNoWorkflow(t *testing.T) {
	var snap workflow.Snapshot
	assert.True(t, snap.Unrestricted())
	todo := "todo"
	assert.True(t, snap.IsTransitionLegal(&todo, "anywhere"))
	require.NoError(t, snap.EnsureTransition(&todo, "anywhere"))
}

func TestUnrestrictedWhenNoStates(t *testing.T) {
	snap := workflow.Snapshot{WorkflowID: "wf-1"}
	assert.True(t, snap.Unrestricted())
}

func TestEnsureTransitionReturnsValidationError(t *testing.T) {
	snap := snapshot()
	todo := "todo"
	err := snap.EnsureTransition(&todo, "done")
	require.Error(t, err)
	var ve fault.ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestTargetMustBeWorkflowState(t *testing.T) {
	snap := snapshot()
	assert.False(t, snap.IsTransitionLegal(nil, "elsewhere"))
	assert.False(t, snap.HasState("elsewhere"))
	assert.True(t, snap.HasState("doing"))
}

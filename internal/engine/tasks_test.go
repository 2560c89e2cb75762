package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trackline/internal/domain"
	"trackline/internal/engine"
	"trackline/internal/fault"
	"trackline/internal/schema"
	"trackline/internal/workflow"
)

// board is a project with the seeded workflow and a task type bound to it.
type board struct {
	Project  domain.Project
	Workflow domain.Workflow
	TaskType domain.TaskType
	States   map[string]string // name -> id
}

func newBoard(t *testing.T, env testEnv) board {
	t.Helper()
	o := env.org(t, "u1", "acme")
	p := env.project(t, o.ID, "u1", "Website")
	workflows, err := env.Engine.Repo.ListWorkflows(env.Ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, workflows, 1)
	states, err := env.Engine.Repo.WorkflowStates(env.Ctx, workflows[0].ID)
	require.NoError(t, err)
	byName := make(map[string]string, len(states))
	for _, st := range states {
		byName[st.Name] = st.ID
	}
	tt, err := env.Engine.CreateTaskType(env.Ctx, p.ID, "Story", workflows[0].ID, "u1")
	require.NoError(t, err)
	return board{Project: p, Workflow: workflows[0], TaskType: tt, States: byName}
}

func ptr(s string) *string { return &s }

func TestMoveTaskAlongSeededWorkflow(t *testing.T) {
	env := newTestEnv(t)
	b := newBoard(t, env)

	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID:  b.Project.ID,
		TaskTypeID: &b.TaskType.ID,
		StateID:    ptr(b.States["Todo"]),
		OwnerID:    "u1",
		Title:      "Ship it",
		ActorID:    "u1",
	})
	require.NoError(t, err)

	// Todo -> Done skips a step and is refused.
	var ve fault.ValidationError
	_, err = env.Engine.MoveTask(env.Ctx, task.ID, b.States["Done"], "u1")
	require.ErrorAs(t, err, &ve)

	task, err = env.Engine.MoveTask(env.Ctx, task.ID, b.States["Doing"], "u1")
	require.NoError(t, err)
	require.NotNil(t, task.StateID)
	assert.Equal(t, b.States["Doing"], *task.StateID)

	task, err = env.Engine.MoveTask(env.Ctx, task.ID, b.States["Done"], "u1")
	require.NoError(t, err)

	// Done is terminal in the seed.
	next, err := env.Engine.NextStates(env.Ctx, task.ID)
	require.NoError(t, err)
	assert.Empty(t, next)
}

func TestAnyStateTransitionReopens(t *testing.T) {
	env := newTestEnv(t)
	b := newBoard(t, env)

	err := env.Engine.AddTransition(env.Ctx, b.Workflow.ID, workflow.AnySource(), b.States["Todo"], "u1")
	require.NoError(t, err)

	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID:  b.Project.ID,
		TaskTypeID: &b.TaskType.ID,
		StateID:    ptr(b.States["Done"]),
		OwnerID:    "u1",
		Title:      "Reopen me",
		ActorID:    "u1",
	})
	require.NoError(t, err)

	task, err = env.Engine.MoveTask(env.Ctx, task.ID, b.States["Todo"], "u1")
	require.NoError(t, err)
	assert.Equal(t, b.States["Todo"], *task.StateID)
}

func TestSelfLoopTransition(t *testing.T) {
	env := newTestEnv(t)
	b := newBoard(t, env)

	err := env.Engine.AddTransition(env.Ctx, b.Workflow.ID, workflow.SpecificSource(b.States["Doing"]), b.States["Doing"], "u1")
	require.NoError(t, err)

	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID:  b.Project.ID,
		TaskTypeID: &b.TaskType.ID,
		StateID:    ptr(b.States["Doing"]),
		OwnerID:    "u1",
		Title:      "Restart work",
		ActorID:    "u1",
	})
	require.NoError(t, err)

	task, err = env.Engine.MoveTask(env.Ctx, task.ID, b.States["Doing"], "u1")
	require.NoError(t, err)
	assert.Equal(t, b.States["Doing"], *task.StateID)
}

func TestInitialStateMustBelongToWorkflow(t *testing.T) {
	env := newTestEnv(t)
	b := newBoard(t, env)

	stray, err := env.Engine.CreateState(env.Ctx, b.Project.ID, "Archived", "u1")
	require.NoError(t, err)

	var ve fault.ValidationError
	_, err = env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID:  b.Project.ID,
		TaskTypeID: &b.TaskType.ID,
		StateID:    &stray.ID,
		OwnerID:    "u1",
		Title:      "Misplaced",
		ActorID:    "u1",
	})
	require.ErrorAs(t, err, &ve)
}

func TestUntypedTaskMovesFreely(t *testing.T) {
	env := newTestEnv(t)
	b := newBoard(t, env)

	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID: b.Project.ID,
		OwnerID:   "u1",
		Title:     "Loose note",
		ActorID:   "u1",
	})
	require.NoError(t, err)

	// No workflow governs an untyped task; any project state is reachable.
	task, err = env.Engine.MoveTask(env.Ctx, task.ID, b.States["Done"], "u1")
	require.NoError(t, err)
	task, err = env.Engine.MoveTask(env.Ctx, task.ID, b.States["Todo"], "u1")
	require.NoError(t, err)

	next, err := env.Engine.NextStates(env.Ctx, task.ID)
	require.NoError(t, err)
	assert.Len(t, next, 3)
}

func TestAssigneeMustBeProjectMember(t *testing.T) {
	env := newTestEnv(t)
	b := newBoard(t, env)

	var ve fault.ValidationError
	_, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID:  b.Project.ID,
		OwnerID:    "u1",
		AssigneeID: ptr("stranger"),
		Title:      "Unassignable",
		ActorID:    "u1",
	})
	require.ErrorAs(t, err, &ve)

	_, err = env.Engine.AddProjectMember(env.Ctx, b.Project.ID, "u2", domain.RoleMember, "u1")
	require.NoError(t, err)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID:  b.Project.ID,
		OwnerID:    "u1",
		AssigneeID: ptr("u2"),
		Title:      "Assigned",
		ActorID:    "u1",
	})
	require.NoError(t, err)

	// Explicit clear leaves the task unassigned.
	task, err = env.Engine.UpdateTask(env.Ctx, task.ID, engine.TaskUpdateOptions{ClearAssignee: true, ActorID: "u1"})
	require.NoError(t, err)
	assert.Nil(t, task.AssigneeID)
}

// fieldBoard extends the board with a small custom schema on the task type.
func fieldBoard(t *testing.T, env testEnv) (board, map[string]domain.Field) {
	t.Helper()
	b := newBoard(t, env)
	fields := map[string]domain.Field{}
	for _, opts := range []engine.FieldOptions{
		{ProjectID: b.Project.ID, Name: "Priority", InputType: domain.FieldSelect, Required: true, Options: []string{"Low", "Medium", "High"}, DefaultValue: "Medium"},
		{ProjectID: b.Project.ID, Name: "Estimate", InputType: domain.FieldNumber},
		{ProjectID: b.Project.ID, Name: "Due", InputType: domain.FieldDate},
	} {
		f, err := env.Engine.DefineField(env.Ctx, opts, "u1")
		require.NoError(t, err)
		require.NoError(t, env.Engine.AssignFieldToTaskType(env.Ctx, b.TaskType.ID, f.ID, "u1"))
		fields[f.Name] = f
	}
	return b, fields
}

func TestCreateTaskAppliesFieldDefaults(t *testing.T) {
	env := newTestEnv(t)
	b, fields := fieldBoard(t, env)

	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID:  b.Project.ID,
		TaskTypeID: &b.TaskType.ID,
		OwnerID:    "u1",
		Title:      "Defaulted",
		ActorID:    "u1",
	})
	require.NoError(t, err)

	values, err := env.Engine.TaskValues(env.Ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, values[fields["Priority"].ID])
	assert.Equal(t, "Medium", *values[fields["Priority"].ID])
}

func TestCreateTaskRejectsUnknownOption(t *testing.T) {
	env := newTestEnv(t)
	b, fields := fieldBoard(t, env)

	var ve fault.ValidationError
	_, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID:  b.Project.ID,
		TaskTypeID: &b.TaskType.ID,
		OwnerID:    "u1",
		Title:      "Bad priority",
		Values:     []schema.Candidate{{FieldID: fields["Priority"].ID, Value: ptr("Urgent")}},
		ActorID:    "u1",
	})
	require.ErrorAs(t, err, &ve)
	require.Len(t, ve.Violations, 1)
	assert.Equal(t, fields["Priority"].ID, ve.Violations[0].FieldID)
}

func TestSetTaskFieldValuesPartialUpdate(t *testing.T) {
	env := newTestEnv(t)
	b, fields := fieldBoard(t, env)

	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID:  b.Project.ID,
		TaskTypeID: &b.TaskType.ID,
		OwnerID:    "u1",
		Title:      "Estimated",
		ActorID:    "u1",
	})
	require.NoError(t, err)

	// The stored Priority satisfies the required check for a partial update.
	err = env.Engine.SetTaskFieldValues(env.Ctx, task.ID, []schema.Candidate{
		{FieldID: fields["Estimate"].ID, Value: ptr("5.0")},
	}, "u1")
	require.NoError(t, err)

	values, err := env.Engine.TaskValues(env.Ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, values[fields["Estimate"].ID])
	assert.Equal(t, "5", *values[fields["Estimate"].ID])

	// Clearing the required field is refused even though a value is stored.
	var ve fault.ValidationError
	err = env.Engine.SetTaskFieldValues(env.Ctx, task.ID, []schema.Candidate{
		{FieldID: fields["Priority"].ID, Value: nil},
	}, "u1")
	require.ErrorAs(t, err, &ve)

	// Clearing the optional one succeeds.
	err = env.Engine.SetTaskFieldValues(env.Ctx, task.ID, []schema.Candidate{
		{FieldID: fields["Estimate"].ID, Value: nil},
	}, "u1")
	require.NoError(t, err)
	values, err = env.Engine.TaskValues(env.Ctx, task.ID)
	require.NoError(t, err)
	assert.Nil(t, values[fields["Estimate"].ID])
}

func TestDeleteFieldRefusedWhileValuesExist(t *testing.T) {
	env := newTestEnv(t)
	b, fields := fieldBoard(t, env)

	_, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID:  b.Project.ID,
		TaskTypeID: &b.TaskType.ID,
		OwnerID:    "u1",
		Title:      "Holds a value",
		Values:     []schema.Candidate{{FieldID: fields["Due"].ID, Value: ptr("2026-06-01")}},
		ActorID:    "u1",
	})
	require.NoError(t, err)

	var ce fault.ConflictError
	err = env.Engine.DeleteField(env.Ctx, fields["Due"].ID, "u1")
	require.ErrorAs(t, err, &ce)

	// A never-used field deletes cleanly.
	require.NoError(t, env.Engine.DeleteField(env.Ctx, fields["Estimate"].ID, "u1"))
}

func TestFieldAssignmentCrossProject(t *testing.T) {
	env := newTestEnv(t)
	b, _ := fieldBoard(t, env)

	other := env.project(t, b.Project.OrganizationID, "u1", "Other")
	foreign, err := env.Engine.DefineField(env.Ctx, engine.FieldOptions{
		ProjectID: other.ID,
		Name:      "Foreign",
		InputType: domain.FieldText,
	}, "u1")
	require.NoError(t, err)

	var ve fault.ValidationError
	err = env.Engine.AssignFieldToTaskType(env.Ctx, b.TaskType.ID, foreign.ID, "u1")
	require.ErrorAs(t, err, &ve)
}

func TestFormFieldsOrdering(t *testing.T) {
	env := newTestEnv(t)
	b, _ := fieldBoard(t, env)

	form, err := env.Engine.FormFields(env.Ctx, b.TaskType.ID)
	require.NoError(t, err)
	var names []string
	for _, f := range form {
		names = append(names, f.Name)
	}
	// Required first, then alphabetical.
	assert.Equal(t, []string{"Priority", "Due", "Estimate"}, names)
}

func TestUnassignFieldIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	b, fields := fieldBoard(t, env)

	require.NoError(t, env.Engine.UnassignFieldFromTaskType(env.Ctx, b.TaskType.ID, fields["Due"].ID, "u1"))
	require.NoError(t, env.Engine.UnassignFieldFromTaskType(env.Ctx, b.TaskType.ID, fields["Due"].ID, "u1"))
}

package repo

import (
	"context"
	"database/sql"

	"trackline/internal/domain"
)

// --- states ---

func (r Repo) InsertStateTx(ctx context.Context, tx *sql.Tx, s domain.State) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO states(id,project_id,name,position) VALUES (?,?,?,?)`,
		s.ID, s.ProjectID, s.Name, s.Position)
	return err
}

func scanState(row *sql.Row) (domain.State, error) {
	var s domain.State
	err := row.Scan(&s.ID, &s.ProjectID, &s.Name, &s.Position)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func collectStates(rows *sql.Rows, err error) ([]domain.State, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.State
	for rows.Next() {
		var s domain.State
		if err := rows.Scan(&s.ID, &s.ProjectID, &s.Name, &s.Position); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

const getStateQuery = `SELECT id,project_id,name,position FROM states WHERE id=?`

func (r Repo) GetState(ctx context.Context, id string) (domain.State, error) {
	return scanState(r.DB.QueryRowContext(ctx, getStateQuery, id))
}

func (r Repo) GetStateTx(ctx context.Context, tx *sql.Tx, id string) (domain.State, error) {
	return scanState(tx.QueryRowContext(ctx, getStateQuery, id))
}

const listStatesQuery = `SELECT id,project_id,name,position FROM states WHERE project_id=? ORDER BY position ASC, name ASC`

func (r Repo) ListStates(ctx context.Context, projectID string) ([]domain.State, error) {
	return collectStates(r.DB.QueryContext(ctx, listStatesQuery, projectID))
}

func (r Repo) ListStatesTx(ctx context.Context, tx *sql.Tx, projectID string) ([]domain.State, error) {
	return collectStates(tx.QueryContext(ctx, listStatesQuery, projectID))
}

func (r Repo) UpdateStatePositionTx(ctx context.Context, tx *sql.Tx, id string, position int) error {
	res, err := tx.ExecContext(ctx, `UPDATE states SET position=? WHERE id=?`, position, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- workflows ---

func (r Repo) InsertWorkflowTx(ctx context.Context, tx *sql.Tx, w domain.Workflow) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO workflows(id,project_id,name) VALUES (?,?,?)`, w.ID, w.ProjectID, w.Name)
	return err
}

func scanWorkflow(row *sql.Row) (domain.Workflow, error) {
	var w domain.Workflow
	err := row.Scan(&w.ID, &w.ProjectID, &w.Name)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	return w, err
}

const getWorkflowQuery = `SELECT id,project_id,name FROM workflows WHERE id=?`

func (r Repo) GetWorkflow(ctx context.Context, id string) (domain.Workflow, error) {
	return scanWorkflow(r.DB.QueryRowContext(ctx, getWorkflowQuery, id))
}

func (r Repo) GetWorkflowTx(ctx context.Context, tx *sql.Tx, id string) (domain.Workflow, error) {
	return scanWorkflow(tx.QueryRowContext(ctx, getWorkflowQuery, id))
}

func (r Repo) ListWorkflows(ctx context.Context, projectID string) ([]domain.Workflow, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,name FROM workflows WHERE project_id=? ORDER BY name ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Workflow
	for rows.Next() {
		var w domain.Workflow
		if err := rows.Scan(&w.ID, &w.ProjectID, &w.Name); err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

// --- workflow steps ---

func (r Repo) UpsertWorkflowStepTx(ctx context.Context, tx *sql.Tx, s domain.WorkflowStep) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO workflow_steps(workflow_id,state_id,step_order) VALUES (?,?,?)
ON CONFLICT(workflow_id,state_id) DO UPDATE SET step_order=excluded.step_order`,
		s.WorkflowID, s.StateID, s.StepOrder)
	return err
}

func (r Repo) ListWorkflowSteps(ctx context.Context, workflowID string) ([]domain.WorkflowStep, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT workflow_id,state_id,step_order FROM workflow_steps WHERE workflow_id=? ORDER BY step_order ASC`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkflowStep
	for rows.Next() {
		var s domain.WorkflowStep
		if err := rows.Scan(&s.WorkflowID, &s.StateID, &s.StepOrder); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

const workflowStatesQuery = `
SELECT s.id, s.project_id, s.name, s.position
FROM workflow_steps ws
JOIN states s ON s.id=ws.state_id
WHERE ws.workflow_id=?
ORDER BY ws.step_order ASC`

// WorkflowStates returns the states declared as steps of the workflow in
// step order.
func (r Repo) WorkflowStates(ctx context.Context, workflowID string) ([]domain.State, error) {
	return collectStates(r.DB.QueryContext(ctx, workflowStatesQuery, workflowID))
}

func (r Repo) WorkflowStatesTx(ctx context.Context, tx *sql.Tx, workflowID string) ([]domain.State, error) {
	return collectStates(tx.QueryContext(ctx, workflowStatesQuery, workflowID))
}

// --- workflow transitions ---

func (r Repo) UpsertTransitionTx(ctx context.Context, tx *sql.Tx, t domain.WorkflowTransition) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO workflow_transitions(workflow_id,from_state,to_state) VALUES (?,?,?)`,
		t.WorkflowID, t.FromState, t.ToState)
	return err
}

func (r Repo) DeleteTransitionTx(ctx context.Context, tx *sql.Tx, t domain.WorkflowTransition) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM workflow_transitions WHERE workflow_id=? AND from_state=? AND to_state=?`,
		t.WorkflowID, t.FromState, t.ToState)
	return err
}

const listTransitionsQuery = `SELECT workflow_id,from_state,to_state FROM workflow_transitions WHERE workflow_id=?`

func collectTransitions(rows *sql.Rows, err error) ([]domain.WorkflowTransition, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkflowTransition
	for rows.Next() {
		var t domain.WorkflowTransition
		if err := rows.Scan(&t.WorkflowID, &t.FromState, &t.ToState); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) ListTransitions(ctx context.Context, workflowID string) ([]domain.WorkflowTransition, error) {
	return collectTransitions(r.DB.QueryContext(ctx, listTransitionsQuery, workflowID))
}

func (r Repo) ListTransitionsTx(ctx context.Context, tx *sql.Tx, workflowID string) ([]domain.WorkflowTransition, error) {
	return collectTransitions(tx.QueryContext(ctx, listTransitionsQuery, workflowID))
}

// --- task types ---

func (r Repo) InsertTaskTypeTx(ctx context.Context, tx *sql.Tx, tt domain.TaskType) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO task_types(id,project_id,name,workflow_id) VALUES (?,?,?,?)`,
		tt.ID, tt.ProjectID, tt.Name, nullable(tt.WorkflowID))
	return err
}

func scanTaskType(row *sql.Row) (domain.TaskType, error) {
	var tt domain.TaskType
	var workflowID sql.NullString
	err := row.Scan(&tt.ID, &tt.ProjectID, &tt.Name, &workflowID)
	if err == sql.ErrNoRows {
		return tt, ErrNotFound
	}
	if workflowID.Valid {
		tt.WorkflowID = workflowID.String
	}
	return tt, err
}

func (r Repo) GetTaskType(ctx context.Context, id string) (domain.TaskType, error) {
	return scanTaskType(r.DB.QueryRowContext(ctx, `SELECT id,project_id,name,workflow_id FROM task_types WHERE id=?`, id))
}

func (r Repo) GetTaskTypeTx(ctx context.Context, tx *sql.Tx, id string) (domain.TaskType, error) {
	return scanTaskType(tx.QueryRowContext(ctx, `SELECT id,project_id,name,workflow_id FROM task_types WHERE id=?`, id))
}

func (r Repo) ListTaskTypes(ctx context.Context, projectID string) ([]domain.TaskType, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,name,workflow_id FROM task_types WHERE project_id=? ORDER BY name ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskType
	for rows.Next() {
		var tt domain.TaskType
		var workflowID sql.NullString
		if err := rows.Scan(&tt.ID, &tt.ProjectID, &tt.Name, &workflowID); err != nil {
			return nil, err
		}
		if workflowID.Valid {
			tt.WorkflowID = workflowID.String
		}
		res = append(res, tt)
	}
	return res, rows.Err()
}

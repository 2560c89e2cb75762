package repo

import (
	"context"
	"database/sql"
	"strings"

	"trackline/internal/domain"
)

func (r Repo) InsertTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(id,project_id,task_type_id,state_id,owner_id,assignee_id,title,description,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ProjectID, nullableStringPtr(t.TaskTypeID), nullableStringPtr(t.StateID), t.OwnerID,
		nullableStringPtr(t.AssigneeID), t.Title, nullable(t.Description), t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) UpdateTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET task_type_id=?, state_id=?, assignee_id=?, title=?, description=?, updated_at=? WHERE id=?`,
		nullableStringPtr(t.TaskTypeID), nullableStringPtr(t.StateID), nullableStringPtr(t.AssigneeID),
		t.Title, nullable(t.Description), t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var taskTypeID, stateID, assigneeID, description sql.NullString
	if err := scan(&t.ID, &t.ProjectID, &taskTypeID, &stateID, &t.OwnerID, &assigneeID, &t.Title, &description, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return t, err
	}
	if taskTypeID.Valid {
		t.TaskTypeID = &taskTypeID.String
	}
	if stateID.Valid {
		t.StateID = &stateID.String
	}
	if assigneeID.Valid {
		t.AssigneeID = &assigneeID.String
	}
	if description.Valid {
		t.Description = description.String
	}
	return t, nil
}

const taskColumns = `id,project_id,task_type_id,state_id,owner_id,assignee_id,title,description,created_at,updated_at`

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	t, err := scanTask(row.Scan)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	t, err := scanTask(row.Scan)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

type TaskFilters struct {
	ProjectID  string
	TaskTypeID string
	StateID    string
	AssigneeID string
	Limit      int
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.TaskTypeID != "" {
		clauses = append(clauses, "task_type_id=?")
		args = append(args, f.TaskTypeID)
	}
	if f.StateID != "" {
		clauses = append(clauses, "state_id=?")
		args = append(args, f.StateID)
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "assignee_id=?")
		args = append(args, f.AssigneeID)
	}
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) DeleteTask(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) CountTasksByState(ctx context.Context, projectID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT COALESCE(state_id,''), count(*) FROM tasks WHERE project_id=? GROUP BY state_id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, err
		}
		res[state] = count
	}
	return res, rows.Err()
}

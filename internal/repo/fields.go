package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"trackline/internal/domain"
)

func marshalOptions(opts []string) (any, error) {
	if len(opts) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(opts)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (r Repo) InsertFieldTx(ctx context.Context, tx *sql.Tx, f domain.Field) error {
	opts, err := marshalOptions(f.Options)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO fields(id,project_id,name,input_type,is_required,options_json,default_value,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		f.ID, f.ProjectID, f.Name, f.InputType, boolToInt(f.IsRequired), opts, nullable(f.DefaultValue), f.CreatedAt)
	return err
}

func (r Repo) UpdateFieldTx(ctx context.Context, tx *sql.Tx, f domain.Field) error {
	opts, err := marshalOptions(f.Options)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE fields SET name=?, input_type=?, is_required=?, options_json=?, default_value=? WHERE id=?`,
		f.Name, f.InputType, boolToInt(f.IsRequired), opts, nullable(f.DefaultValue), f.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanFieldRow(scan func(dest ...any) error) (domain.Field, error) {
	var f domain.Field
	var required int
	var optionsJSON, defaultValue sql.NullString
	if err := scan(&f.ID, &f.ProjectID, &f.Name, &f.InputType, &required, &optionsJSON, &defaultValue, &f.CreatedAt); err != nil {
		return f, err
	}
	f.IsRequired = required != 0
	if optionsJSON.Valid && optionsJSON.String != "" {
		if err := json.Unmarshal([]byte(optionsJSON.String), &f.Options); err != nil {
			return f, err
		}
	}
	if defaultValue.Valid {
		f.DefaultValue = defaultValue.String
	}
	return f, nil
}

func (r Repo) GetField(ctx context.Context, id string) (domain.Field, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,project_id,name,input_type,is_required,options_json,default_value,created_at FROM fields WHERE id=?`, id)
	f, err := scanFieldRow(row.Scan)
	if err == sql.ErrNoRows {
		return f, ErrNotFound
	}
	return f, err
}

func (r Repo) GetFieldTx(ctx context.Context, tx *sql.Tx, id string) (domain.Field, error) {
	row := tx.QueryRowContext(ctx, `SELECT id,project_id,name,input_type,is_required,options_json,default_value,created_at FROM fields WHERE id=?`, id)
	f, err := scanFieldRow(row.Scan)
	if err == sql.ErrNoRows {
		return f, ErrNotFound
	}
	return f, err
}

func (r Repo) ListFields(ctx context.Context, projectID string) ([]domain.Field, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,name,input_type,is_required,options_json,default_value,created_at FROM fields WHERE project_id=? ORDER BY name ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Field
	for rows.Next() {
		f, err := scanFieldRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	return res, rows.Err()
}

func (r Repo) DeleteFieldTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM fields WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- task type assignments ---

func (r Repo) AssignFieldTx(ctx context.Context, tx *sql.Tx, taskTypeID, fieldID string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO task_type_fields(task_type_id,field_id) VALUES (?,?)`, taskTypeID, fieldID)
	return err
}

// UnassignFieldTx is idempotent: removing an absent assignment is a no-op.
func (r Repo) UnassignFieldTx(ctx context.Context, tx *sql.Tx, taskTypeID, fieldID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM task_type_fields WHERE task_type_id=? AND field_id=?`, taskTypeID, fieldID)
	return err
}

const fieldsForTaskTypeQuery = `
SELECT f.id, f.project_id, f.name, f.input_type, f.is_required, f.options_json, f.default_value, f.created_at
FROM task_type_fields ttf
JOIN fields f ON f.id=ttf.field_id
WHERE ttf.task_type_id=?`

func collectFields(rows *sql.Rows, err error) ([]domain.Field, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Field
	for rows.Next() {
		f, err := scanFieldRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	return res, rows.Err()
}

// FieldsForTaskType returns the fields assigned to a task type. Callers sort
// with schema.SortForForm; the query itself guarantees no order.
func (r Repo) FieldsForTaskType(ctx context.Context, taskTypeID string) ([]domain.Field, error) {
	return collectFields(r.DB.QueryContext(ctx, fieldsForTaskTypeQuery, taskTypeID))
}

func (r Repo) FieldsForTaskTypeTx(ctx context.Context, tx *sql.Tx, taskTypeID string) ([]domain.Field, error) {
	return collectFields(tx.QueryContext(ctx, fieldsForTaskTypeQuery, taskTypeID))
}

// CountFieldValuesTx counts stored values referencing the field, regardless
// of task. Field deletion is refused while any exist.
func (r Repo) CountFieldValuesTx(ctx context.Context, tx *sql.Tx, fieldID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM task_field_values WHERE field_id=?`, fieldID).Scan(&n)
	return n, err
}

// --- task field values ---

func (r Repo) UpsertTaskFieldValueTx(ctx context.Context, tx *sql.Tx, v domain.TaskFieldValue) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO task_field_values(task_id,field_id,value) VALUES (?,?,?)
ON CONFLICT(task_id,field_id) DO UPDATE SET value=excluded.value`,
		v.TaskID, v.FieldID, nullableStringPtr(v.Value))
	return err
}

func (r Repo) TaskFieldValues(ctx context.Context, taskID string) ([]domain.TaskFieldValue, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT task_id,field_id,value FROM task_field_values WHERE task_id=?`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskFieldValue
	for rows.Next() {
		var v domain.TaskFieldValue
		var value sql.NullString
		if err := rows.Scan(&v.TaskID, &v.FieldID, &value); err != nil {
			return nil, err
		}
		if value.Valid {
			v.Value = &value.String
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

func (r Repo) TaskFieldValuesTx(ctx context.Context, tx *sql.Tx, taskID string) ([]domain.TaskFieldValue, error) {
	rows, err := tx.QueryContext(ctx, `SELECT task_id,field_id,value FROM task_field_values WHERE task_id=?`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskFieldValue
	for rows.Next() {
		var v domain.TaskFieldValue
		var value sql.NullString
		if err := rows.Scan(&v.TaskID, &v.FieldID, &value); err != nil {
			return nil, err
		}
		if value.Valid {
			v.Value = &value.String
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

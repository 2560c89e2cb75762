package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"trackline/internal/config"
)

func (r Repo) UpsertProjectSettings(ctx context.Context, projectID string, s *config.Settings) error {
	return upsertProjectSettings(ctx, r.DB, nil, projectID, s)
}

func (r Repo) UpsertProjectSettingsTx(ctx context.Context, tx *sql.Tx, projectID string, s *config.Settings) error {
	return upsertProjectSettings(ctx, nil, tx, projectID, s)
}

func upsertProjectSettings(ctx context.Context, db *sql.DB, tx *sql.Tx, projectID string, s *config.Settings) error {
	if s == nil {
		return fmt.Errorf("settings nil")
	}
	s.Project.ID = projectID
	if err := s.Validate(); err != nil {
		return err
	}
	payload, err := s.ToYAML()
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO project_settings(project_id,settings_yaml,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(project_id) DO UPDATE SET settings_yaml=excluded.settings_yaml, updated_at=excluded.updated_at`, projectID, string(payload), now, now)
	return err
}

const getProjectSettingsQuery = `SELECT settings_yaml FROM project_settings WHERE project_id=?`

func (r Repo) GetProjectSettings(ctx context.Context, projectID string) (*config.Settings, error) {
	return scanProjectSettings(r.DB.QueryRowContext(ctx, getProjectSettingsQuery, projectID), projectID)
}

func (r Repo) GetProjectSettingsTx(ctx context.Context, tx *sql.Tx, projectID string) (*config.Settings, error) {
	return scanProjectSettings(tx.QueryRowContext(ctx, getProjectSettingsQuery, projectID), projectID)
}

func scanProjectSettings(row *sql.Row, projectID string) (*config.Settings, error) {
	var payload string
	err := row.Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s, err := config.FromYAML([]byte(payload))
	if err != nil {
		return nil, err
	}
	if s.Project.ID == "" {
		s.Project.ID = projectID
	}
	return s, nil
}

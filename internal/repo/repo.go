package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"trackline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// WithTx runs fn inside one transaction. Membership cardinality checks and
// their writes must share a transaction; naively checking then writing on
// separate connections lets two concurrent demotions both observe a spare
// owner.
func (r Repo) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// --- organizations ---

func (r Repo) InsertOrganizationTx(ctx context.Context, tx *sql.Tx, o domain.Organization) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO organizations(id,slug,name,status,created_at) VALUES (?,?,?,?,?)`,
		o.ID, o.Slug, o.Name, o.Status, o.CreatedAt)
	return err
}

func scanOrganization(row *sql.Row) (domain.Organization, error) {
	var o domain.Organization
	err := row.Scan(&o.ID, &o.Slug, &o.Name, &o.Status, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	return o, err
}

func (r Repo) GetOrganization(ctx context.Context, id string) (domain.Organization, error) {
	return scanOrganization(r.DB.QueryRowContext(ctx, `SELECT id,slug,name,status,created_at FROM organizations WHERE id=?`, id))
}

func (r Repo) GetOrganizationTx(ctx context.Context, tx *sql.Tx, id string) (domain.Organization, error) {
	return scanOrganization(tx.QueryRowContext(ctx, `SELECT id,slug,name,status,created_at FROM organizations WHERE id=?`, id))
}

// ActiveOrganizationBySlugTx looks up an active organization by slug.
func (r Repo) ActiveOrganizationBySlugTx(ctx context.Context, tx *sql.Tx, slug string) (domain.Organization, error) {
	return scanOrganization(tx.QueryRowContext(ctx, `SELECT id,slug,name,status,created_at FROM organizations WHERE slug=? AND status='active'`, slug))
}

func (r Repo) ListOrganizations(ctx context.Context) ([]domain.Organization, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,slug,name,status,created_at FROM organizations WHERE status='active' ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Organization
	for rows.Next() {
		var o domain.Organization
		if err := rows.Scan(&o.ID, &o.Slug, &o.Name, &o.Status, &o.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

func (r Repo) MarkOrganizationDeletedTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `UPDATE organizations SET status='deleted' WHERE id=? AND status='active'`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- users ---

func (r Repo) EnsureUserTx(ctx context.Context, tx *sql.Tx, userID, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO users(id, created_at) VALUES (?,?)`, userID, now)
	return err
}

// --- organization memberships ---

func (r Repo) InsertUserOrganizationTx(ctx context.Context, tx *sql.Tx, m domain.UserOrganization) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO user_organizations(user_id,organization_id,role,is_primary,invited_by,created_at) VALUES (?,?,?,?,?,?)`,
		m.UserID, m.OrganizationID, m.Role, boolToInt(m.IsPrimary), nullable(m.InvitedBy), m.CreatedAt)
	return err
}

func scanUserOrganization(row *sql.Row) (domain.UserOrganization, error) {
	var m domain.UserOrganization
	var isPrimary int
	var invitedBy sql.NullString
	err := row.Scan(&m.UserID, &m.OrganizationID, &m.Role, &isPrimary, &invitedBy, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	m.IsPrimary = isPrimary != 0
	if invitedBy.Valid {
		m.InvitedBy = invitedBy.String
	}
	return m, nil
}

// UserOrganizationTx returns the user's membership anywhere in the system; a
// user belongs to zero or one organization.
func (r Repo) UserOrganizationTx(ctx context.Context, tx *sql.Tx, userID string) (domain.UserOrganization, error) {
	return scanUserOrganization(tx.QueryRowContext(ctx, `SELECT user_id,organization_id,role,is_primary,invited_by,created_at FROM user_organizations WHERE user_id=?`, userID))
}

func (r Repo) UserOrganization(ctx context.Context, userID string) (domain.UserOrganization, error) {
	return scanUserOrganization(r.DB.QueryRowContext(ctx, `SELECT user_id,organization_id,role,is_primary,invited_by,created_at FROM user_organizations WHERE user_id=?`, userID))
}

func (r Repo) OrgMembershipTx(ctx context.Context, tx *sql.Tx, userID, orgID string) (domain.UserOrganization, error) {
	return scanUserOrganization(tx.QueryRowContext(ctx, `SELECT user_id,organization_id,role,is_primary,invited_by,created_at FROM user_organizations WHERE user_id=? AND organization_id=?`, userID, orgID))
}

func (r Repo) ListOrgMembers(ctx context.Context, orgID string) ([]domain.UserOrganization, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT user_id,organization_id,role,is_primary,invited_by,created_at FROM user_organizations WHERE organization_id=? ORDER BY created_at ASC, user_id ASC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.UserOrganization
	for rows.Next() {
		var m domain.UserOrganization
		var isPrimary int
		var invitedBy sql.NullString
		if err := rows.Scan(&m.UserID, &m.OrganizationID, &m.Role, &isPrimary, &invitedBy, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.IsPrimary = isPrimary != 0
		if invitedBy.Valid {
			m.InvitedBy = invitedBy.String
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// CountOtherOrgOwnersTx counts owners of the organization excluding one user.
func (r Repo) CountOtherOrgOwnersTx(ctx context.Context, tx *sql.Tx, orgID, excludeUserID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM user_organizations WHERE organization_id=? AND role=? AND user_id<>?`,
		orgID, domain.RoleOwner, excludeUserID).Scan(&n)
	return n, err
}

func (r Repo) UpdateOrgRoleTx(ctx context.Context, tx *sql.Tx, userID, orgID, role string) error {
	res, err := tx.ExecContext(ctx, `UPDATE user_organizations SET role=? WHERE user_id=? AND organization_id=?`, role, userID, orgID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteOrgMembershipTx(ctx context.Context, tx *sql.Tx, userID, orgID string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM user_organizations WHERE user_id=? AND organization_id=?`, userID, orgID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- projects ---

func (r Repo) InsertProjectTx(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO projects(id,organization_id,owner_id,name,created_at) VALUES (?,?,?,?,?)`,
		p.ID, p.OrganizationID, p.OwnerID, p.Name, p.CreatedAt)
	return err
}

func scanProject(row *sql.Row) (domain.Project, error) {
	var p domain.Project
	err := row.Scan(&p.ID, &p.OrganizationID, &p.OwnerID, &p.Name, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return scanProject(r.DB.QueryRowContext(ctx, `SELECT id,organization_id,owner_id,name,created_at FROM projects WHERE id=?`, id))
}

func (r Repo) GetProjectTx(ctx context.Context, tx *sql.Tx, id string) (domain.Project, error) {
	return scanProject(tx.QueryRowContext(ctx, `SELECT id,organization_id,owner_id,name,created_at FROM projects WHERE id=?`, id))
}

func (r Repo) ListProjects(ctx context.Context, orgID string) ([]domain.Project, error) {
	clauses := []string{"1=1"}
	var args []any
	if orgID != "" {
		clauses = append(clauses, "organization_id=?")
		args = append(args, orgID)
	}
	query := `SELECT id,organization_id,owner_id,name,created_at FROM projects WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.OrganizationID, &p.OwnerID, &p.Name, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// DeleteProject cascades to states, workflows, task types, fields, tasks,
// values and members through foreign keys.
func (r Repo) DeleteProject(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- project members ---

func (r Repo) InsertProjectMemberTx(ctx context.Context, tx *sql.Tx, m domain.ProjectMember) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO project_members(project_id,user_id,role,created_at) VALUES (?,?,?,?)`,
		m.ProjectID, m.UserID, m.Role, m.CreatedAt)
	return err
}

func scanProjectMember(row *sql.Row) (domain.ProjectMember, error) {
	var m domain.ProjectMember
	err := row.Scan(&m.ProjectID, &m.UserID, &m.Role, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	return m, err
}

func (r Repo) ProjectMember(ctx context.Context, projectID, userID string) (domain.ProjectMember, error) {
	return scanProjectMember(r.DB.QueryRowContext(ctx, `SELECT project_id,user_id,role,created_at FROM project_members WHERE project_id=? AND user_id=?`, projectID, userID))
}

func (r Repo) ProjectMemberTx(ctx context.Context, tx *sql.Tx, projectID, userID string) (domain.ProjectMember, error) {
	return scanProjectMember(tx.QueryRowContext(ctx, `SELECT project_id,user_id,role,created_at FROM project_members WHERE project_id=? AND user_id=?`, projectID, userID))
}

func (r Repo) ListProjectMembers(ctx context.Context, projectID string) ([]domain.ProjectMember, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT project_id,user_id,role,created_at FROM project_members WHERE project_id=? ORDER BY created_at ASC, user_id ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ProjectMember
	for rows.Next() {
		var m domain.ProjectMember
		if err := rows.Scan(&m.ProjectID, &m.UserID, &m.Role, &m.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) CountOtherProjectOwnersTx(ctx context.Context, tx *sql.Tx, projectID, excludeUserID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM project_members WHERE project_id=? AND role=? AND user_id<>?`,
		projectID, domain.RoleOwner, excludeUserID).Scan(&n)
	return n, err
}

func (r Repo) UpdateProjectRoleTx(ctx context.Context, tx *sql.Tx, projectID, userID, role string) error {
	res, err := tx.ExecContext(ctx, `UPDATE project_members SET role=? WHERE project_id=? AND user_id=?`, role, projectID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteProjectMemberTx(ctx context.Context, tx *sql.Tx, projectID, userID string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM project_members WHERE project_id=? AND user_id=?`, projectID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- events ---

func (r Repo) LatestEvents(ctx context.Context, limit int, projectID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	clauses := []string{"1=1"}
	var args []any
	if projectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, projectID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	query := `SELECT id,ts,type,COALESCE(org_id,''),COALESCE(project_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.OrgID, &e.ProjectID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

package engine_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trackline/internal/db"
	"trackline/internal/domain"
	"trackline/internal/engine"
	"trackline/internal/fault"
	"trackline/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	eng := engine.New(conn)
	eng.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func (env testEnv) org(t *testing.T, owner, slug string) domain.Organization {
	t.Helper()
	o, err := env.Engine.CreateOrganization(env.Ctx, engine.OrgCreateOptions{OwnerID: owner, Name: slug, Slug: slug})
	require.NoError(t, err)
	return o
}

func (env testEnv) project(t *testing.T, orgID, owner, name string) domain.Project {
	t.Helper()
	p, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{
		OrganizationID: orgID,
		OwnerID:        owner,
		Name:           name,
		ActorID:        owner,
	})
	require.NoError(t, err)
	return p
}

func TestCreateOrganizationValidation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.Engine.CreateOrganization(env.Ctx, engine.OrgCreateOptions{OwnerID: "u1", Name: "Acme", Slug: "bad slug"})
	var ve fault.ValidationError
	require.ErrorAs(t, err, &ve)

	_, err = env.Engine.CreateOrganization(env.Ctx, engine.OrgCreateOptions{OwnerID: "u1", Name: "  ", Slug: "acme"})
	require.ErrorAs(t, err, &ve)
}

func TestOneOrganizationPerUser(t *testing.T) {
	env := newTestEnv(t)
	env.org(t, "u1", "acme")

	_, err := env.Engine.CreateOrganization(env.Ctx, engine.OrgCreateOptions{OwnerID: "u1", Name: "Second", Slug: "second"})
	var ce fault.ConflictError
	require.ErrorAs(t, err, &ce)

	other := env.org(t, "u2", "other")
	_, err = env.Engine.AddUserToOrganization(env.Ctx, "u1", other.ID, domain.RoleMember, "u2")
	require.ErrorAs(t, err, &ce)
}

func TestSlugUniqueAmongActiveOrgs(t *testing.T) {
	env := newTestEnv(t)
	o := env.org(t, "u1", "acme")

	_, err := env.Engine.CreateOrganization(env.Ctx, engine.OrgCreateOptions{OwnerID: "u2", Name: "Acme Too", Slug: "acme"})
	var ce fault.ConflictError
	require.ErrorAs(t, err, &ce)

	// A deleted organization releases its slug.
	err = env.Engine.Repo.WithTx(env.Ctx, func(tx *sql.Tx) error {
		return env.Engine.Repo.MarkOrganizationDeletedTx(env.Ctx, tx, o.ID)
	})
	require.NoError(t, err)
	_, err = env.Engine.CreateOrganization(env.Ctx, engine.OrgCreateOptions{OwnerID: "u2", Name: "Acme Too", Slug: "acme"})
	require.NoError(t, err)
}

func TestLastOrgOwnerGuard(t *testing.T) {
	env := newTestEnv(t)
	o := env.org(t, "u1", "acme")
	_, err := env.Engine.AddUserToOrganization(env.Ctx, "u2", o.ID, domain.RoleAdmin, "u1")
	require.NoError(t, err)

	var ce fault.ConflictError
	_, err = env.Engine.ChangeOrgRole(env.Ctx, "u1", o.ID, domain.RoleMember, "u1")
	require.ErrorAs(t, err, &ce)
	err = env.Engine.RemoveOrgMember(env.Ctx, "u1", o.ID, "u1")
	require.ErrorAs(t, err, &ce)

	// With a second owner both operations pass.
	_, err = env.Engine.ChangeOrgRole(env.Ctx, "u2", o.ID, domain.RoleOwner, "u1")
	require.NoError(t, err)
	_, err = env.Engine.ChangeOrgRole(env.Ctx, "u1", o.ID, domain.RoleMember, "u1")
	require.NoError(t, err)
}

func TestCreateProjectSeedsDefaults(t *testing.T) {
	env := newTestEnv(t)
	o := env.org(t, "u1", "acme")
	p := env.project(t, o.ID, "u1", "Website")

	m, err := env.Engine.Repo.ProjectMember(env.Ctx, p.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleOwner, m.Role)

	s, err := env.Engine.Repo.GetProjectSettings(env.Ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 255, s.Fields.MaxNameLength)

	workflows, err := env.Engine.Repo.ListWorkflows(env.Ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, workflows, 1)

	states, err := env.Engine.Repo.WorkflowStates(env.Ctx, workflows[0].ID)
	require.NoError(t, err)
	var names []string
	for _, st := range states {
		names = append(names, st.Name)
	}
	assert.Equal(t, []string{"Todo", "Doing", "Done"}, names)

	transitions, err := env.Engine.Repo.ListTransitions(env.Ctx, workflows[0].ID)
	require.NoError(t, err)
	assert.Len(t, transitions, 2)
}

func TestLastProjectOwnerGuard(t *testing.T) {
	env := newTestEnv(t)
	o := env.org(t, "u1", "acme")
	p := env.project(t, o.ID, "u1", "Website")
	_, err := env.Engine.AddProjectMember(env.Ctx, p.ID, "u2", domain.RoleMember, "u1")
	require.NoError(t, err)

	var ce fault.ConflictError
	err = env.Engine.RemoveProjectMember(env.Ctx, p.ID, "u1", "u1")
	require.ErrorAs(t, err, &ce)
	_, err = env.Engine.ChangeProjectRole(env.Ctx, p.ID, "u1", domain.RoleMember, "u1")
	require.ErrorAs(t, err, &ce)

	_, err = env.Engine.ChangeProjectRole(env.Ctx, p.ID, "u2", domain.RoleOwner, "u1")
	require.NoError(t, err)
	err = env.Engine.RemoveProjectMember(env.Ctx, p.ID, "u1", "u1")
	require.NoError(t, err)
}

func TestDuplicateProjectMember(t *testing.T) {
	env := newTestEnv(t)
	o := env.org(t, "u1", "acme")
	p := env.project(t, o.ID, "u1", "Website")

	var ce fault.ConflictError
	_, err := env.Engine.AddProjectMember(env.Ctx, p.ID, "u1", domain.RoleMember, "u1")
	require.ErrorAs(t, err, &ce)
}

func TestStateNameConflictIsCaseInsensitive(t *testing.T) {
	env := newTestEnv(t)
	o := env.org(t, "u1", "acme")
	p := env.project(t, o.ID, "u1", "Website")

	var ce fault.ConflictError
	_, err := env.Engine.CreateState(env.Ctx, p.ID, "todo", "u1")
	require.ErrorAs(t, err, &ce)

	st, err := env.Engine.CreateState(env.Ctx, p.ID, "Blocked", "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, st.Position)
}

func TestEventsRecorded(t *testing.T) {
	env := newTestEnv(t)
	o := env.org(t, "u1", "acme")
	p := env.project(t, o.ID, "u1", "Website")

	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, p.ID, "project.created", "", "")
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, "u1", evts[0].ActorID)
}

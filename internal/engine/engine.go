// Package engine orchestrates the validators against the persistence layer.
// Every check-and-write sequence runs inside one transaction; invariant
// checks read and write through the same tx so concurrent mutations cannot
// both observe a stale count.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"trackline/internal/config"
	"trackline/internal/domain"
	"trackline/internal/events"
	"trackline/internal/fault"
	"trackline/internal/membership"
	"trackline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Now    func() time.Time
}

func New(db *sql.DB) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowString() string {
	return e.now().UTC().Format(time.RFC3339)
}

// notFound rewrites the repo sentinel into a typed NotFoundError; other
// storage failures propagate opaque.
func notFound(err error, kind, id string) error {
	if errors.Is(err, repo.ErrNotFound) {
		return fault.NotFound(kind, id)
	}
	return err
}

// --- organizations ---

type OrgCreateOptions struct {
	OwnerID string
	Name    string
	Slug    string
}

// CreateOrganization creates an organization plus the creator's owner
// membership atomically. A user already holding a membership anywhere in
// the system cannot create another organization.
func (e Engine) CreateOrganization(ctx context.Context, opts OrgCreateOptions) (domain.Organization, error) {
	if opts.OwnerID == "" {
		return domain.Organization{}, fault.Validation("owner is required")
	}
	if strings.TrimSpace(opts.Name) == "" {
		return domain.Organization{}, fault.Validation("organization name is required")
	}
	if !membership.ValidSlug(opts.Slug) {
		return domain.Organization{}, fault.Validation("slug must match [A-Za-z0-9-_]+")
	}
	o := domain.Organization{
		ID:        uuid.New().String(),
		Slug:      opts.Slug,
		Name:      strings.TrimSpace(opts.Name),
		Status:    "active",
		CreatedAt: e.nowString(),
	}
	err := e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.Repo.ActiveOrganizationBySlugTx(ctx, tx, opts.Slug); err == nil {
			return fault.Conflict("slug taken")
		} else if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		if _, err := e.Repo.UserOrganizationTx(ctx, tx, opts.OwnerID); err == nil {
			return fault.Conflict("already in an organization")
		} else if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		if err := e.Repo.EnsureUserTx(ctx, tx, opts.OwnerID, o.CreatedAt); err != nil {
			return err
		}
		if err := e.Repo.InsertOrganizationTx(ctx, tx, o); err != nil {
			return err
		}
		m := domain.UserOrganization{
			UserID:         opts.OwnerID,
			OrganizationID: o.ID,
			Role:           domain.RoleOwner,
			IsPrimary:      true,
			CreatedAt:      o.CreatedAt,
		}
		if err := e.Repo.InsertUserOrganizationTx(ctx, tx, m); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "org.created", o.ID, "", "organization", o.ID, opts.OwnerID, events.EventPayload{"slug": o.Slug})
	})
	if err != nil {
		return domain.Organization{}, err
	}
	return o, nil
}

// AddUserToOrganization adds a membership, enforcing the one-organization
// rule inside the same transaction as the insert.
func (e Engine) AddUserToOrganization(ctx context.Context, userID, orgID, role, invitedBy string) (domain.UserOrganization, error) {
	if !membership.ValidOrgRole(role) {
		return domain.UserOrganization{}, fault.Validation("unknown organization role %q", role)
	}
	m := domain.UserOrganization{
		UserID:         userID,
		OrganizationID: orgID,
		Role:           role,
		InvitedBy:      invitedBy,
		CreatedAt:      e.nowString(),
	}
	err := e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		o, err := e.Repo.GetOrganizationTx(ctx, tx, orgID)
		if err != nil || o.Status != "active" {
			if err != nil && !errors.Is(err, repo.ErrNotFound) {
				return err
			}
			return fault.Validation("organization not found")
		}
		if _, err := e.Repo.UserOrganizationTx(ctx, tx, userID); err == nil {
			return fault.Conflict("already in an organization")
		} else if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		if err := e.Repo.EnsureUserTx(ctx, tx, userID, m.CreatedAt); err != nil {
			return err
		}
		if err := e.Repo.InsertUserOrganizationTx(ctx, tx, m); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "org.member.added", orgID, "", "membership", userID, invitedBy, events.EventPayload{"role": role})
	})
	if err != nil {
		return domain.UserOrganization{}, err
	}
	return m, nil
}

// ChangeOrgRole updates a member's role. Demoting the last owner is refused.
func (e Engine) ChangeOrgRole(ctx context.Context, userID, orgID, newRole, actorID string) (domain.UserOrganization, error) {
	if !membership.ValidOrgRole(newRole) {
		return domain.UserOrganization{}, fault.Validation("unknown organization role %q", newRole)
	}
	var m domain.UserOrganization
	err := e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		cur, err := e.Repo.OrgMembershipTx(ctx, tx, userID, orgID)
		if err != nil {
			return notFound(err, "membership", userID)
		}
		if cur.Role == domain.RoleOwner && newRole != domain.RoleOwner {
			others, err := e.Repo.CountOtherOrgOwnersTx(ctx, tx, orgID, userID)
			if err != nil {
				return err
			}
			if others < 1 {
				return fault.Conflict("cannot demote the last owner")
			}
		}
		if err := e.Repo.UpdateOrgRoleTx(ctx, tx, userID, orgID, newRole); err != nil {
			return err
		}
		m = cur
		m.Role = newRole
		return e.Events.Append(ctx, tx, "org.member.role_changed", orgID, "", "membership", userID, actorID, events.EventPayload{
			"from": cur.Role,
			"to":   newRole,
		})
	})
	if err != nil {
		return domain.UserOrganization{}, err
	}
	return m, nil
}

// RemoveOrgMember deletes a membership under the last-owner guard.
func (e Engine) RemoveOrgMember(ctx context.Context, userID, orgID, actorID string) error {
	return e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		cur, err := e.Repo.OrgMembershipTx(ctx, tx, userID, orgID)
		if err != nil {
			return notFound(err, "membership", userID)
		}
		if cur.Role == domain.RoleOwner {
			others, err := e.Repo.CountOtherOrgOwnersTx(ctx, tx, orgID, userID)
			if err != nil {
				return err
			}
			if others < 1 {
				return fault.Conflict("cannot remove the last owner")
			}
		}
		if err := e.Repo.DeleteOrgMembershipTx(ctx, tx, userID, orgID); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "org.member.removed", orgID, "", "membership", userID, actorID, events.EventPayload{"role": cur.Role})
	})
}

// --- projects ---

type ProjectCreateOptions struct {
	OrganizationID string
	OwnerID        string
	Name           string
	ActorID        string
}

// CreateProject inserts the project, its owner membership, default settings
// and the seed workflow in one transaction.
func (e Engine) CreateProject(ctx context.Context, opts ProjectCreateOptions) (domain.Project, error) {
	if strings.TrimSpace(opts.Name) == "" {
		return domain.Project{}, fault.Validation("project name is required")
	}
	if opts.OwnerID == "" {
		return domain.Project{}, fault.Validation("owner is required")
	}
	now := e.nowString()
	p := domain.Project{
		ID:             uuid.New().String(),
		OrganizationID: opts.OrganizationID,
		OwnerID:        opts.OwnerID,
		Name:           strings.TrimSpace(opts.Name),
		CreatedAt:      now,
	}
	err := e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		o, err := e.Repo.GetOrganizationTx(ctx, tx, opts.OrganizationID)
		if err != nil {
			return notFound(err, "organization", opts.OrganizationID)
		}
		if o.Status != "active" {
			return fault.Validation("organization not found")
		}
		if err := e.Repo.InsertProjectTx(ctx, tx, p); err != nil {
			return err
		}
		if err := e.Repo.InsertProjectMemberTx(ctx, tx, domain.ProjectMember{
			ProjectID: p.ID,
			UserID:    opts.OwnerID,
			Role:      domain.RoleOwner,
			CreatedAt: now,
		}); err != nil {
			return err
		}
		settings := config.Default(p.ID)
		if err := e.Repo.UpsertProjectSettingsTx(ctx, tx, p.ID, settings); err != nil {
			return err
		}
		if err := e.seedWorkflowTx(ctx, tx, p.ID, settings); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "project.created", p.OrganizationID, p.ID, "project", p.ID, opts.ActorID, events.EventPayload{"name": p.Name})
	})
	if err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// seedWorkflowTx creates the default states, workflow, steps and forward
// transitions declared by the settings seed.
func (e Engine) seedWorkflowTx(ctx context.Context, tx *sql.Tx, projectID string, s *config.Settings) error {
	seed := s.Workflow.Seed
	if seed.Name == "" || len(seed.States) == 0 {
		return nil
	}
	w := domain.Workflow{ID: uuid.New().String(), ProjectID: projectID, Name: seed.Name}
	if err := e.Repo.InsertWorkflowTx(ctx, tx, w); err != nil {
		return err
	}
	ids := make([]string, len(seed.States))
	for i, name := range seed.States {
		st := domain.State{ID: uuid.New().String(), ProjectID: projectID, Name: name, Position: i}
		if err := e.Repo.InsertStateTx(ctx, tx, st); err != nil {
			return err
		}
		if err := e.Repo.UpsertWorkflowStepTx(ctx, tx, domain.WorkflowStep{WorkflowID: w.ID, StateID: st.ID, StepOrder: i}); err != nil {
			return err
		}
		ids[i] = st.ID
	}
	for i := 1; i < len(ids); i++ {
		tr := domain.WorkflowTransition{WorkflowID: w.ID, FromState: ids[i-1], ToState: ids[i]}
		if err := e.Repo.UpsertTransitionTx(ctx, tx, tr); err != nil {
			return err
		}
	}
	return nil
}

// AddProjectMember joins a user to a project.
func (e Engine) AddProjectMember(ctx context.Context, projectID, userID, role, actorID string) (domain.ProjectMember, error) {
	if !membership.ValidProjectRole(role) {
		return domain.ProjectMember{}, fault.Validation("unknown project role %q", role)
	}
	m := domain.ProjectMember{
		ProjectID: projectID,
		UserID:    userID,
		Role:      role,
		CreatedAt: e.nowString(),
	}
	err := e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.Repo.GetProjectTx(ctx, tx, projectID); err != nil {
			return notFound(err, "project", projectID)
		}
		if _, err := e.Repo.ProjectMemberTx(ctx, tx, projectID, userID); err == nil {
			return fault.Conflict("already a project member")
		} else if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		if err := e.Repo.EnsureUserTx(ctx, tx, userID, m.CreatedAt); err != nil {
			return err
		}
		if err := e.Repo.InsertProjectMemberTx(ctx, tx, m); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "project.member.added", "", projectID, "membership", userID, actorID, events.EventPayload{"role": role})
	})
	if err != nil {
		return domain.ProjectMember{}, err
	}
	return m, nil
}

// ChangeProjectRole updates a member's project role under the last-owner
// guard.
func (e Engine) ChangeProjectRole(ctx context.Context, projectID, userID, newRole, actorID string) (domain.ProjectMember, error) {
	if !membership.ValidProjectRole(newRole) {
		return domain.ProjectMember{}, fault.Validation("unknown project role %q", newRole)
	}
	var m domain.ProjectMember
	err := e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		cur, err := e.Repo.ProjectMemberTx(ctx, tx, projectID, userID)
		if err != nil {
			return notFound(err, "membership", userID)
		}
		if cur.Role == domain.RoleOwner && newRole != domain.RoleOwner {
			others, err := e.Repo.CountOtherProjectOwnersTx(ctx, tx, projectID, userID)
			if err != nil {
				return err
			}
			if others < 1 {
				return fault.Conflict("cannot demote the last owner")
			}
		}
		if err := e.Repo.UpdateProjectRoleTx(ctx, tx, projectID, userID, newRole); err != nil {
			return err
		}
		m = cur
		m.Role = newRole
		return e.Events.Append(ctx, tx, "project.member.role_changed", "", projectID, "membership", userID, actorID, events.EventPayload{
			"from": cur.Role,
			"to":   newRole,
		})
	})
	if err != nil {
		return domain.ProjectMember{}, err
	}
	return m, nil
}

// RemoveProjectMember deletes a project membership under the last-owner
// guard. Self-removal is subject to the same guard and nothing else.
func (e Engine) RemoveProjectMember(ctx context.Context, projectID, userID, actorID string) error {
	return e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		cur, err := e.Repo.ProjectMemberTx(ctx, tx, projectID, userID)
		if err != nil {
			return notFound(err, "membership", userID)
		}
		if cur.Role == domain.RoleOwner {
			others, err := e.Repo.CountOtherProjectOwnersTx(ctx, tx, projectID, userID)
			if err != nil {
				return err
			}
			if others < 1 {
				return fault.Conflict("cannot remove the last owner")
			}
		}
		if err := e.Repo.DeleteProjectMemberTx(ctx, tx, projectID, userID); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "project.member.removed", "", projectID, "membership", userID, actorID, events.EventPayload{"role": cur.Role})
	})
}

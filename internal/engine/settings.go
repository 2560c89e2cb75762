package engine

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"

	"trackline/internal/config"
	"trackline/internal/domain"
	"trackline/internal/events"
	"trackline/internal/fault"
	"trackline/internal/schema"
	"trackline/internal/workflow"
)

// maxNameLengthTx resolves the field name bound from project settings,
// falling back to the package default when settings are absent.
func (e Engine) maxNameLengthTx(ctx context.Context, tx *sql.Tx, projectID string) int {
	s, err := e.Repo.GetProjectSettingsTx(ctx, tx, projectID)
	if err != nil || s.Fields.MaxNameLength <= 0 {
		return schema.DefaultMaxNameLength
	}
	return s.Fields.MaxNameLength
}

// --- states and workflows ---

func (e Engine) CreateState(ctx context.Context, projectID, name string, actorID string) (domain.State, error) {
	if strings.TrimSpace(name) == "" {
		return domain.State{}, fault.Validation("state name is required")
	}
	st := domain.State{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Name:      strings.TrimSpace(name),
	}
	err := e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		p, err := e.Repo.GetProjectTx(ctx, tx, projectID)
		if err != nil {
			return notFound(err, "project", projectID)
		}
		existing, err := e.Repo.ListStatesTx(ctx, tx, projectID)
		if err != nil {
			return err
		}
		for _, s := range existing {
			if strings.EqualFold(s.Name, st.Name) {
				return fault.Conflict("state %q already exists", st.Name)
			}
		}
		st.Position = len(existing)
		if err := e.Repo.InsertStateTx(ctx, tx, st); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "state.created", p.OrganizationID, projectID, "state", st.ID, actorID, events.EventPayload{"name": st.Name})
	})
	if err != nil {
		return domain.State{}, err
	}
	return st, nil
}

// ReorderState moves a state to a new position and shifts its siblings.
func (e Engine) ReorderState(ctx context.Context, stateID string, position int, actorID string) error {
	return e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		st, err := e.Repo.GetStateTx(ctx, tx, stateID)
		if err != nil {
			return notFound(err, "state", stateID)
		}
		states, err := e.Repo.ListStatesTx(ctx, tx, st.ProjectID)
		if err != nil {
			return err
		}
		if position < 0 || position >= len(states) {
			return fault.Validation("position out of range")
		}
		ordered := make([]domain.State, 0, len(states))
		for _, s := range states {
			if s.ID != stateID {
				ordered = append(ordered, s)
			}
		}
		ordered = append(ordered[:position], append([]domain.State{st}, ordered[position:]...)...)
		for i, s := range ordered {
			if err := e.Repo.UpdateStatePositionTx(ctx, tx, s.ID, i); err != nil {
				return err
			}
		}
		return e.Events.Append(ctx, tx, "state.reordered", "", st.ProjectID, "state", stateID, actorID, events.EventPayload{"position": position})
	})
}

func (e Engine) CreateWorkflow(ctx context.Context, projectID, name string, actorID string) (domain.Workflow, error) {
	if strings.TrimSpace(name) == "" {
		return domain.Workflow{}, fault.Validation("workflow name is required")
	}
	w := domain.Workflow{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Name:      strings.TrimSpace(name),
	}
	err := e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		p, err := e.Repo.GetProjectTx(ctx, tx, projectID)
		if err != nil {
			return notFound(err, "project", projectID)
		}
		if err := e.Repo.InsertWorkflowTx(ctx, tx, w); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "workflow.created", p.OrganizationID, projectID, "workflow", w.ID, actorID, events.EventPayload{"name": w.Name})
	})
	if err != nil {
		return domain.Workflow{}, err
	}
	return w, nil
}

// AddWorkflowStep attaches a state to a workflow. The state must belong to
// the workflow's project.
func (e Engine) AddWorkflowStep(ctx context.Context, workflowID, stateID string, order int, actorID string) error {
	return e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		w, err := e.Repo.GetWorkflowTx(ctx, tx, workflowID)
		if err != nil {
			return notFound(err, "workflow", workflowID)
		}
		st, err := e.Repo.GetStateTx(ctx, tx, stateID)
		if err != nil {
			return notFound(err, "state", stateID)
		}
		if st.ProjectID != w.ProjectID {
			return fault.Validation("state belongs to a different project")
		}
		if err := e.Repo.UpsertWorkflowStepTx(ctx, tx, domain.WorkflowStep{WorkflowID: workflowID, StateID: stateID, StepOrder: order}); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "workflow.step.added", "", w.ProjectID, "workflow", workflowID, actorID, events.EventPayload{"state_id": stateID, "order": order})
	})
}

// AddTransition records an edge. The target must be a step of the workflow;
// the source is either a step of the workflow or the any-state wildcard.
func (e Engine) AddTransition(ctx context.Context, workflowID string, from workflow.Source, toStateID string, actorID string) error {
	return e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		w, err := e.Repo.GetWorkflowTx(ctx, tx, workflowID)
		if err != nil {
			return notFound(err, "workflow", workflowID)
		}
		states, err := e.Repo.WorkflowStatesTx(ctx, tx, workflowID)
		if err != nil {
			return err
		}
		member := func(id string) bool {
			for _, s := range states {
				if s.ID == id {
					return true
				}
			}
			return false
		}
		if !member(toStateID) {
			return fault.Validation("target state is not a step of the workflow")
		}
		if !from.Any && !member(from.StateID) {
			return fault.Validation("source state is not a step of the workflow")
		}
		tr := domain.WorkflowTransition{WorkflowID: workflowID, FromState: from.Encode(), ToState: toStateID}
		if err := e.Repo.UpsertTransitionTx(ctx, tx, tr); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "workflow.transition.added", "", w.ProjectID, "workflow", workflowID, actorID, events.EventPayload{
			"from": tr.FromState,
			"to":   tr.ToState,
		})
	})
}

func (e Engine) RemoveTransition(ctx context.Context, workflowID string, from workflow.Source, toStateID string, actorID string) error {
	return e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		w, err := e.Repo.GetWorkflowTx(ctx, tx, workflowID)
		if err != nil {
			return notFound(err, "workflow", workflowID)
		}
		tr := domain.WorkflowTransition{WorkflowID: workflowID, FromState: from.Encode(), ToState: toStateID}
		if err := e.Repo.DeleteTransitionTx(ctx, tx, tr); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "workflow.transition.removed", "", w.ProjectID, "workflow", workflowID, actorID, events.EventPayload{
			"from": tr.FromState,
			"to":   tr.ToState,
		})
	})
}

// CreateTaskType registers a task type, optionally bound to a workflow of
// the same project.
func (e Engine) CreateTaskType(ctx context.Context, projectID, name, workflowID string, actorID string) (domain.TaskType, error) {
	if strings.TrimSpace(name) == "" {
		return domain.TaskType{}, fault.Validation("task type name is required")
	}
	tt := domain.TaskType{
		ID:         uuid.New().String(),
		ProjectID:  projectID,
		Name:       strings.TrimSpace(name),
		WorkflowID: workflowID,
	}
	err := e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		p, err := e.Repo.GetProjectTx(ctx, tx, projectID)
		if err != nil {
			return notFound(err, "project", projectID)
		}
		if workflowID != "" {
			w, err := e.Repo.GetWorkflowTx(ctx, tx, workflowID)
			if err != nil {
				return notFound(err, "workflow", workflowID)
			}
			if w.ProjectID != projectID {
				return fault.Validation("workflow belongs to a different project")
			}
		}
		if err := e.Repo.InsertTaskTypeTx(ctx, tx, tt); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "task_type.created", p.OrganizationID, projectID, "task_type", tt.ID, actorID, events.EventPayload{"name": tt.Name})
	})
	if err != nil {
		return domain.TaskType{}, err
	}
	return tt, nil
}

// --- fields ---

type FieldOptions struct {
	ProjectID    string
	Name         string
	InputType    string
	Required     bool
	Options      []string
	DefaultValue string
}

// DefineField validates a field definition against the registry rules and
// persists it.
func (e Engine) DefineField(ctx context.Context, opts FieldOptions, actorID string) (domain.Field, error) {
	f := domain.Field{
		ID:           uuid.New().String(),
		ProjectID:    opts.ProjectID,
		Name:         opts.Name,
		InputType:    opts.InputType,
		IsRequired:   opts.Required,
		Options:      opts.Options,
		DefaultValue: opts.DefaultValue,
		CreatedAt:    e.nowString(),
	}
	err := e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		p, err := e.Repo.GetProjectTx(ctx, tx, opts.ProjectID)
		if err != nil {
			return notFound(err, "project", opts.ProjectID)
		}
		if err := schema.ValidateDefinition(f, e.maxNameLengthTx(ctx, tx, opts.ProjectID)); err != nil {
			return err
		}
		if err := e.Repo.InsertFieldTx(ctx, tx, f); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "field.defined", p.OrganizationID, opts.ProjectID, "field", f.ID, actorID, events.EventPayload{
			"name":       f.Name,
			"input_type": f.InputType,
		})
	})
	if err != nil {
		return domain.Field{}, err
	}
	return f, nil
}

// UpdateField rewrites a field definition. Stored values are not migrated;
// a narrowing change makes stale values fail validation on next write.
func (e Engine) UpdateField(ctx context.Context, fieldID string, opts FieldOptions, actorID string) (domain.Field, error) {
	var f domain.Field
	err := e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		cur, err := e.Repo.GetFieldTx(ctx, tx, fieldID)
		if err != nil {
			return notFound(err, "field", fieldID)
		}
		f = cur
		f.Name = opts.Name
		f.InputType = opts.InputType
		f.IsRequired = opts.Required
		f.Options = opts.Options
		f.DefaultValue = opts.DefaultValue
		if err := schema.ValidateDefinition(f, e.maxNameLengthTx(ctx, tx, cur.ProjectID)); err != nil {
			return err
		}
		if err := e.Repo.UpdateFieldTx(ctx, tx, f); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "field.updated", "", cur.ProjectID, "field", fieldID, actorID, events.EventPayload{"name": f.Name})
	})
	if err != nil {
		return domain.Field{}, err
	}
	return f, nil
}

// AssignFieldToTaskType links a field to a task type. Both must belong to
// the same project. Repeated assignment is a no-op.
func (e Engine) AssignFieldToTaskType(ctx context.Context, taskTypeID, fieldID string, actorID string) error {
	return e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		tt, err := e.Repo.GetTaskTypeTx(ctx, tx, taskTypeID)
		if err != nil {
			return notFound(err, "task type", taskTypeID)
		}
		f, err := e.Repo.GetFieldTx(ctx, tx, fieldID)
		if err != nil {
			return notFound(err, "field", fieldID)
		}
		if f.ProjectID != tt.ProjectID {
			return fault.Validation("field belongs to a different project")
		}
		if err := e.Repo.AssignFieldTx(ctx, tx, taskTypeID, fieldID); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "field.assigned", "", tt.ProjectID, "task_type", taskTypeID, actorID, events.EventPayload{"field_id": fieldID})
	})
}

// UnassignFieldFromTaskType removes the link. Unassigning a field that was
// never assigned succeeds without effect.
func (e Engine) UnassignFieldFromTaskType(ctx context.Context, taskTypeID, fieldID string, actorID string) error {
	return e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		tt, err := e.Repo.GetTaskTypeTx(ctx, tx, taskTypeID)
		if err != nil {
			return notFound(err, "task type", taskTypeID)
		}
		if err := e.Repo.UnassignFieldTx(ctx, tx, taskTypeID, fieldID); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "field.unassigned", "", tt.ProjectID, "task_type", taskTypeID, actorID, events.EventPayload{"field_id": fieldID})
	})
}

// DeleteField removes a definition. Deletion is refused while any task
// still stores a value for the field.
func (e Engine) DeleteField(ctx context.Context, fieldID string, actorID string) error {
	return e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		f, err := e.Repo.GetFieldTx(ctx, tx, fieldID)
		if err != nil {
			return notFound(err, "field", fieldID)
		}
		n, err := e.Repo.CountFieldValuesTx(ctx, tx, fieldID)
		if err != nil {
			return err
		}
		if n > 0 {
			return fault.Conflict("field %q has %d stored values", f.Name, n)
		}
		if err := e.Repo.DeleteFieldTx(ctx, tx, fieldID); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "field.deleted", "", f.ProjectID, "field", fieldID, actorID, events.EventPayload{"name": f.Name})
	})
}

// FormFields returns the fields assigned to a task type in form order:
// required fields first, each group alphabetical.
func (e Engine) FormFields(ctx context.Context, taskTypeID string) ([]domain.Field, error) {
	if _, err := e.Repo.GetTaskType(ctx, taskTypeID); err != nil {
		return nil, notFound(err, "task type", taskTypeID)
	}
	fields, err := e.Repo.FieldsForTaskType(ctx, taskTypeID)
	if err != nil {
		return nil, err
	}
	schema.SortForForm(fields)
	return fields, nil
}

// UpdateProjectSettings validates and stores the project settings document.
func (e Engine) UpdateProjectSettings(ctx context.Context, projectID string, s *config.Settings, actorID string) error {
	return e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		p, err := e.Repo.GetProjectTx(ctx, tx, projectID)
		if err != nil {
			return notFound(err, "project", projectID)
		}
		if err := e.Repo.UpsertProjectSettingsTx(ctx, tx, projectID, s); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "project.settings.updated", p.OrganizationID, projectID, "project", projectID, actorID, nil)
	})
}

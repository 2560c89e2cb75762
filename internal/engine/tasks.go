package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"

	"trackline/internal/domain"
	"trackline/internal/events"
	"trackline/internal/fault"
	"trackline/internal/repo"
	"trackline/internal/schema"
	"trackline/internal/workflow"
)

// workflowSnapshot loads the transition graph governing a task type, inside
// the caller's transaction. A task with no type, or a type with no workflow,
// yields an unrestricted snapshot.
func (e Engine) workflowSnapshot(ctx context.Context, tx *sql.Tx, taskTypeID *string) (workflow.Snapshot, error) {
	if taskTypeID == nil || *taskTypeID == "" {
		return workflow.Snapshot{}, nil
	}
	tt, err := e.Repo.GetTaskTypeTx(ctx, tx, *taskTypeID)
	if err != nil {
		return workflow.Snapshot{}, notFound(err, "task type", *taskTypeID)
	}
	if tt.WorkflowID == "" {
		return workflow.Snapshot{}, nil
	}
	states, err := e.Repo.WorkflowStatesTx(ctx, tx, tt.WorkflowID)
	if err != nil {
		return workflow.Snapshot{}, err
	}
	transitions, err := e.Repo.ListTransitionsTx(ctx, tx, tt.WorkflowID)
	if err != nil {
		return workflow.Snapshot{}, err
	}
	return workflow.Snapshot{WorkflowID: tt.WorkflowID, States: states, Transitions: transitions}, nil
}

// assignedFields returns the schema for a task's type, empty when the task
// is untyped.
func (e Engine) assignedFields(ctx context.Context, tx *sql.Tx, taskTypeID *string) ([]domain.Field, error) {
	if taskTypeID == nil || *taskTypeID == "" {
		return nil, nil
	}
	return e.Repo.FieldsForTaskTypeTx(ctx, tx, *taskTypeID)
}

func (e Engine) checkAssignee(ctx context.Context, tx *sql.Tx, projectID string, assigneeID *string) error {
	if assigneeID == nil || *assigneeID == "" {
		return nil
	}
	_, err := e.Repo.ProjectMemberTx(ctx, tx, projectID, *assigneeID)
	if errors.Is(err, repo.ErrNotFound) {
		return fault.Validation("assignee is not a project member")
	}
	return err
}

type TaskCreateOptions struct {
	ProjectID   string
	TaskTypeID  *string
	StateID     *string
	OwnerID     string
	AssigneeID  *string
	Title       string
	Description string
	Values      []schema.Candidate
	ActorID     string
}

// CreateTask inserts a task after checking its type, initial state, assignee
// and field values in one pass. Defaults declared on assigned fields fill in
// for values the caller omitted.
func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Task{}, fault.Validation("task title is required")
	}
	now := e.nowString()
	t := domain.Task{
		ID:          uuid.New().String(),
		ProjectID:   opts.ProjectID,
		TaskTypeID:  opts.TaskTypeID,
		StateID:     opts.StateID,
		OwnerID:     opts.OwnerID,
		AssigneeID:  opts.AssigneeID,
		Title:       strings.TrimSpace(opts.Title),
		Description: opts.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		p, err := e.Repo.GetProjectTx(ctx, tx, opts.ProjectID)
		if err != nil {
			return notFound(err, "project", opts.ProjectID)
		}
		if opts.TaskTypeID != nil && *opts.TaskTypeID != "" {
			tt, err := e.Repo.GetTaskTypeTx(ctx, tx, *opts.TaskTypeID)
			if err != nil {
				return notFound(err, "task type", *opts.TaskTypeID)
			}
			if tt.ProjectID != opts.ProjectID {
				return fault.Validation("task type belongs to a different project")
			}
		}
		if err := e.checkAssignee(ctx, tx, opts.ProjectID, opts.AssigneeID); err != nil {
			return err
		}
		snap, err := e.workflowSnapshot(ctx, tx, opts.TaskTypeID)
		if err != nil {
			return err
		}
		if opts.StateID != nil && *opts.StateID != "" {
			if snap.Unrestricted() {
				st, err := e.Repo.GetStateTx(ctx, tx, *opts.StateID)
				if err != nil {
					return notFound(err, "state", *opts.StateID)
				}
				if st.ProjectID != opts.ProjectID {
					return fault.Validation("state belongs to a different project")
				}
			} else if !snap.HasState(*opts.StateID) {
				return fault.Validation("initial state is not part of the workflow")
			}
		}
		assigned, err := e.assignedFields(ctx, tx, opts.TaskTypeID)
		if err != nil {
			return err
		}
		normalized, err := schema.ValidateValues(assigned, withDefaults(assigned, opts.Values), nil)
		if err != nil {
			return err
		}
		if err := e.Repo.InsertTaskTx(ctx, tx, t); err != nil {
			return err
		}
		for _, n := range normalized {
			if n.Value == nil {
				continue
			}
			v := domain.TaskFieldValue{TaskID: t.ID, FieldID: n.FieldID, Value: n.Value}
			if err := e.Repo.UpsertTaskFieldValueTx(ctx, tx, v); err != nil {
				return err
			}
		}
		return e.Events.Append(ctx, tx, "task.created", p.OrganizationID, t.ProjectID, "task", t.ID, opts.ActorID, events.EventPayload{"title": t.Title})
	})
	if err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// withDefaults adds a candidate for every assigned field that declares a
// default and received no explicit value.
func withDefaults(assigned []domain.Field, candidates []schema.Candidate) []schema.Candidate {
	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		seen[c.FieldID] = true
	}
	out := candidates
	for _, f := range assigned {
		if f.DefaultValue == "" || seen[f.ID] {
			continue
		}
		v := f.DefaultValue
		out = append(out, schema.Candidate{FieldID: f.ID, Value: &v})
	}
	return out
}

// MoveTask transitions a task to a new state if the governing workflow
// permits the edge.
func (e Engine) MoveTask(ctx context.Context, taskID, toStateID, actorID string) (domain.Task, error) {
	var t domain.Task
	err := e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		cur, err := e.Repo.GetTaskTx(ctx, tx, taskID)
		if err != nil {
			return notFound(err, "task", taskID)
		}
		snap, err := e.workflowSnapshot(ctx, tx, cur.TaskTypeID)
		if err != nil {
			return err
		}
		if snap.Unrestricted() {
			st, err := e.Repo.GetStateTx(ctx, tx, toStateID)
			if err != nil {
				return notFound(err, "state", toStateID)
			}
			if st.ProjectID != cur.ProjectID {
				return fault.Validation("state belongs to a different project")
			}
		} else if err := snap.EnsureTransition(cur.StateID, toStateID); err != nil {
			return err
		}
		from := ""
		if cur.StateID != nil {
			from = *cur.StateID
		}
		t = cur
		t.StateID = &toStateID
		t.UpdatedAt = e.nowString()
		if err := e.Repo.UpdateTaskTx(ctx, tx, t); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "task.moved", "", t.ProjectID, "task", t.ID, actorID, events.EventPayload{
			"from_state": from,
			"to_state":   toStateID,
		})
	})
	if err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// NextStates reports the states a task may legally move to from where it
// stands now. The reads share one transaction so the task and its workflow
// come from the same snapshot.
func (e Engine) NextStates(ctx context.Context, taskID string) ([]domain.State, error) {
	var res []domain.State
	err := e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
		if err != nil {
			return notFound(err, "task", taskID)
		}
		snap, err := e.workflowSnapshot(ctx, tx, t.TaskTypeID)
		if err != nil {
			return err
		}
		if snap.Unrestricted() {
			res, err = e.Repo.ListStatesTx(ctx, tx, t.ProjectID)
			return err
		}
		res = snap.NextValidStates(t.StateID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

type TaskUpdateOptions struct {
	Title         *string
	Description   *string
	AssigneeID    *string
	ClearAssignee bool
	ActorID       string
}

// UpdateTask edits title, description or assignee. State changes go through
// MoveTask.
func (e Engine) UpdateTask(ctx context.Context, taskID string, opts TaskUpdateOptions) (domain.Task, error) {
	var t domain.Task
	err := e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		cur, err := e.Repo.GetTaskTx(ctx, tx, taskID)
		if err != nil {
			return notFound(err, "task", taskID)
		}
		t = cur
		if opts.Title != nil {
			if strings.TrimSpace(*opts.Title) == "" {
				return fault.Validation("task title is required")
			}
			t.Title = strings.TrimSpace(*opts.Title)
		}
		if opts.Description != nil {
			t.Description = *opts.Description
		}
		if opts.ClearAssignee {
			t.AssigneeID = nil
		} else if opts.AssigneeID != nil {
			if err := e.checkAssignee(ctx, tx, t.ProjectID, opts.AssigneeID); err != nil {
				return err
			}
			t.AssigneeID = opts.AssigneeID
		}
		t.UpdatedAt = e.nowString()
		if err := e.Repo.UpdateTaskTx(ctx, tx, t); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "task.updated", "", t.ProjectID, "task", t.ID, opts.ActorID, nil)
	})
	if err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// SetTaskFieldValues validates and writes a partial value update. A null or
// blank candidate clears the stored value.
func (e Engine) SetTaskFieldValues(ctx context.Context, taskID string, candidates []schema.Candidate, actorID string) error {
	return e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
		if err != nil {
			return notFound(err, "task", taskID)
		}
		assigned, err := e.assignedFields(ctx, tx, t.TaskTypeID)
		if err != nil {
			return err
		}
		stored, err := e.Repo.TaskFieldValuesTx(ctx, tx, taskID)
		if err != nil {
			return err
		}
		existing := make(map[string]string, len(stored))
		for _, v := range stored {
			if v.Value != nil {
				existing[v.FieldID] = *v.Value
			}
		}
		normalized, err := schema.ValidateValues(assigned, candidates, existing)
		if err != nil {
			return err
		}
		for _, n := range normalized {
			v := domain.TaskFieldValue{TaskID: taskID, FieldID: n.FieldID, Value: n.Value}
			if err := e.Repo.UpsertTaskFieldValueTx(ctx, tx, v); err != nil {
				return err
			}
		}
		t.UpdatedAt = e.nowString()
		if err := e.Repo.UpdateTaskTx(ctx, tx, t); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "task.values.set", "", t.ProjectID, "task", taskID, actorID, events.EventPayload{"count": len(candidates)})
	})
}

// TaskValues returns the stored values for a task keyed by field id.
func (e Engine) TaskValues(ctx context.Context, taskID string) (map[string]*string, error) {
	rows, err := e.Repo.TaskFieldValues(ctx, taskID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*string, len(rows))
	for _, v := range rows {
		out[v.FieldID] = v.Value
	}
	return out, nil
}

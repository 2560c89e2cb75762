package server

import (
	"trackline/internal/domain"
)

type CreateOrgRequest struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type OrgResponse struct {
	ID        string `json:"id"`
	Slug      string `json:"slug"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

func orgResponse(o domain.Organization) OrgResponse {
	return OrgResponse{ID: o.ID, Slug: o.Slug, Name: o.Name, Status: o.Status, CreatedAt: o.CreatedAt}
}

type AddOrgMemberRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

type ChangeRoleRequest struct {
	Role string `json:"role"`
}

type OrgMemberResponse struct {
	UserID    string `json:"user_id"`
	OrgID     string `json:"organization_id"`
	Role      string `json:"role"`
	IsPrimary bool   `json:"is_primary"`
	CreatedAt string `json:"created_at"`
}

func orgMemberResponse(m domain.UserOrganization) OrgMemberResponse {
	return OrgMemberResponse{
		UserID:    m.UserID,
		OrgID:     m.OrganizationID,
		Role:      m.Role,
		IsPrimary: m.IsPrimary,
		CreatedAt: m.CreatedAt,
	}
}

type CreateProjectRequest struct {
	Name string `json:"name"`
}

type ProjectResponse struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	OwnerID        string `json:"owner_id"`
	Name           string `json:"name"`
	CreatedAt      string `json:"created_at"`
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{
		ID:             p.ID,
		OrganizationID: p.OrganizationID,
		OwnerID:        p.OwnerID,
		Name:           p.Name,
		CreatedAt:      p.CreatedAt,
	}
}

func mapProjects(items []domain.Project) []ProjectResponse {
	out := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		out = append(out, projectResponse(p))
	}
	return out
}

type ProjectMemberResponse struct {
	ProjectID string `json:"project_id"`
	UserID    string `json:"user_id"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
}

func projectMemberResponse(m domain.ProjectMember) ProjectMemberResponse {
	return ProjectMemberResponse{ProjectID: m.ProjectID, UserID: m.UserID, Role: m.Role, CreatedAt: m.CreatedAt}
}

type CreateStateRequest struct {
	Name string `json:"name"`
}

type StateResponse struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	Position  int    `json:"position"`
}

func stateResponse(s domain.State) StateResponse {
	return StateResponse{ID: s.ID, ProjectID: s.ProjectID, Name: s.Name, Position: s.Position}
}

func mapStates(items []domain.State) []StateResponse {
	out := make([]StateResponse, 0, len(items))
	for _, s := range items {
		out = append(out, stateResponse(s))
	}
	return out
}

type CreateWorkflowRequest struct {
	Name string `json:"name"`
}

type WorkflowResponse struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
}

type AddStepRequest struct {
	StateID string `json:"state_id"`
	Order   int    `json:"order"`
}

type AddTransitionRequest struct {
	// FromStateID empty or "*" means the transition is legal from any state.
	FromStateID string `json:"from_state_id,omitempty"`
	ToStateID   string `json:"to_state_id"`
}

type TransitionResponse struct {
	WorkflowID  string `json:"workflow_id"`
	FromStateID string `json:"from_state_id,omitempty"`
	AnyState    bool   `json:"any_state,omitempty"`
	ToStateID   string `json:"to_state_id"`
}

type CreateTaskTypeRequest struct {
	Name       string `json:"name"`
	WorkflowID string `json:"workflow_id,omitempty"`
}

type TaskTypeResponse struct {
	ID         string `json:"id"`
	ProjectID  string `json:"project_id"`
	Name       string `json:"name"`
	WorkflowID string `json:"workflow_id,omitempty"`
}

func taskTypeResponse(tt domain.TaskType) TaskTypeResponse {
	return TaskTypeResponse{ID: tt.ID, ProjectID: tt.ProjectID, Name: tt.Name, WorkflowID: tt.WorkflowID}
}

type DefineFieldRequest struct {
	Name         string   `json:"name"`
	InputType    string   `json:"input_type"`
	Required     bool     `json:"required,omitempty"`
	Options      []string `json:"options,omitempty"`
	DefaultValue string   `json:"default_value,omitempty"`
}

type FieldResponse struct {
	ID           string   `json:"id"`
	ProjectID    string   `json:"project_id"`
	Name         string   `json:"name"`
	InputType    string   `json:"input_type"`
	Required     bool     `json:"required"`
	Options      []string `json:"options,omitempty"`
	DefaultValue string   `json:"default_value,omitempty"`
}

func fieldResponse(f domain.Field) FieldResponse {
	return FieldResponse{
		ID:           f.ID,
		ProjectID:    f.ProjectID,
		Name:         f.Name,
		InputType:    f.InputType,
		Required:     f.IsRequired,
		Options:      f.Options,
		DefaultValue: f.DefaultValue,
	}
}

func mapFields(items []domain.Field) []FieldResponse {
	out := make([]FieldResponse, 0, len(items))
	for _, f := range items {
		out = append(out, fieldResponse(f))
	}
	return out
}

type FieldValueRequest struct {
	FieldID string  `json:"field_id"`
	Value   *string `json:"value"`
}

type CreateTaskRequest struct {
	Title       string              `json:"title"`
	Description *string             `json:"description,omitempty"`
	TaskTypeID  *string             `json:"task_type_id,omitempty"`
	StateID     *string             `json:"state_id,omitempty"`
	AssigneeID  *string             `json:"assignee_id,omitempty"`
	Values      []FieldValueRequest `json:"values,omitempty"`
}

type UpdateTaskRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	AssigneeID  *string `json:"assignee_id,omitempty"`
}

type MoveTaskRequest struct {
	ToStateID string `json:"to_state_id"`
}

type TaskResponse struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	TaskTypeID  *string `json:"task_type_id,omitempty"`
	StateID     *string `json:"state_id,omitempty"`
	OwnerID     string  `json:"owner_id"`
	AssigneeID  *string `json:"assignee_id,omitempty"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:          t.ID,
		ProjectID:   t.ProjectID,
		TaskTypeID:  t.TaskTypeID,
		StateID:     t.StateID,
		OwnerID:     t.OwnerID,
		AssigneeID:  t.AssigneeID,
		Title:       t.Title,
		Description: t.Description,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func mapTasks(items []domain.Task) []TaskResponse {
	out := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		out = append(out, taskResponse(t))
	}
	return out
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	OrgID      string `json:"org_id,omitempty"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

func eventResponse(ev domain.Event) EventResponse {
	return EventResponse{
		ID:         ev.ID,
		TS:         ev.TS,
		Type:       ev.Type,
		OrgID:      ev.OrgID,
		ProjectID:  ev.ProjectID,
		EntityKind: ev.EntityKind,
		EntityID:   ev.EntityID,
		ActorID:    ev.ActorID,
		Payload:    ev.Payload,
	}
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

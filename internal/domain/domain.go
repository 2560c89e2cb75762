package domain

// Input types a custom field may declare.
const (
	FieldText     = "text"
	FieldTextarea = "textarea"
	FieldNumber   = "number"
	FieldDate     = "date"
	FieldSelect   = "select"
	FieldCheckbox = "checkbox"
	FieldRadio    = "radio"
)

// Organization roles. Project membership uses the owner/admin/member subset.
const (
	RoleOwner    = "owner"
	RoleAdmin    = "admin"
	RoleMember   = "member"
	RoleBilling  = "billing"
	RoleReadonly = "readonly"
)

type Organization struct {
	ID        string `json:"id"`
	Slug      string `json:"slug"`
	Name      string `json:"name"`
	Status    string `json:"status" enum:"active,deleted"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// UserOrganization ties a user to at most one organization system-wide.
type UserOrganization struct {
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id"`
	Role           string `json:"role" enum:"owner,admin,member,billing,readonly"`
	IsPrimary      bool   `json:"is_primary"`
	InvitedBy      string `json:"invited_by,omitempty"`
	CreatedAt      string `json:"created_at" format:"date-time"`
}

type Project struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	OwnerID        string `json:"owner_id"`
	Name           string `json:"name"`
	CreatedAt      string `json:"created_at" format:"date-time"`
}

type ProjectMember struct {
	ProjectID string `json:"project_id"`
	UserID    string `json:"user_id"`
	Role      string `json:"role" enum:"owner,admin,member"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// State is a project-scoped workflow state. Position drives default display
// order only; transition legality comes from WorkflowTransition rows.
type State struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	Position  int    `json:"position"`
}

type Workflow struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
}

type WorkflowStep struct {
	WorkflowID string `json:"workflow_id"`
	StateID    string `json:"state_id"`
	StepOrder  int    `json:"step_order"`
}

// WorkflowTransition is a directed edge. FromState holds the all-zero UUID
// when the transition is legal from every state in the workflow; the storage
// layer cannot index a nullable column inside its uniqueness constraint.
type WorkflowTransition struct {
	WorkflowID string `json:"workflow_id"`
	FromState  string `json:"from_state"`
	ToState    string `json:"to_state"`
}

type TaskType struct {
	ID         string `json:"id"`
	ProjectID  string `json:"project_id"`
	Name       string `json:"name"`
	WorkflowID string `json:"workflow_id,omitempty"`
}

type Task struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	TaskTypeID  *string `json:"task_type_id,omitempty"`
	StateID     *string `json:"state_id,omitempty"`
	OwnerID     string  `json:"owner_id"`
	AssigneeID  *string `json:"assignee_id,omitempty"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

type Field struct {
	ID           string   `json:"id"`
	ProjectID    string   `json:"project_id"`
	Name         string   `json:"name"`
	InputType    string   `json:"input_type" enum:"text,textarea,number,date,select,checkbox,radio"`
	IsRequired   bool     `json:"is_required"`
	Options      []string `json:"options,omitempty"`
	DefaultValue string   `json:"default_value,omitempty"`
	CreatedAt    string   `json:"created_at" format:"date-time"`
}

type TaskTypeField struct {
	TaskTypeID string `json:"task_type_id"`
	FieldID    string `json:"field_id"`
}

// TaskFieldValue stores every value as text; typed semantics are applied at
// validation time, not by the storage layer.
type TaskFieldValue struct {
	TaskID  string  `json:"task_id"`
	FieldID string  `json:"field_id"`
	Value   *string `json:"value"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	OrgID      string `json:"org_id,omitempty"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

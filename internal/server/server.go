package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"trackline/internal/engine"
	"trackline/internal/fault"
	"trackline/internal/membership"
	"trackline/internal/repo"
	"trackline/internal/schema"
	"trackline/internal/workflow"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"validation_failed"`
	Message string         `json:"message" example:"required field missing"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Trackline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request framing errors are 400; 422 is reserved for
			// domain validation.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Trackline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerOrgs(group, cfg.Engine)
	registerProjects(group, cfg.Engine)
	registerWorkflowConfig(group, cfg.Engine)
	registerFields(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func bodyBytes(ctx context.Context) []byte {
	if b, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return b
	}
	return nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps the domain error taxonomy onto HTTP statuses.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve fault.ValidationError
	if errors.As(err, &ve) {
		var details map[string]any
		if len(ve.Violations) > 0 {
			details = map[string]any{"violations": ve.Violations}
		}
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", ve.Msg, details)
	}
	var ce fault.ConflictError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusConflict, "conflict", ce.Msg, nil)
	}
	var ne fault.NotFoundError
	if errors.As(err, &ne) {
		return newAPIError(http.StatusNotFound, "not_found", ne.Error(), nil)
	}
	var ae fault.AuthorizationError
	if errors.As(err, &ae) {
		return newAPIError(http.StatusForbidden, "forbidden", ae.Msg, nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// requireOrgRole checks the caller's organization membership against the
// role hierarchy.
func requireOrgRole(ctx context.Context, e engine.Engine, orgID, role string) (string, huma.StatusError) {
	userID, authErr := userIDFromContext(ctx)
	if authErr != nil {
		return "", authErr
	}
	m, err := e.Repo.UserOrganization(ctx, userID)
	if err != nil || m.OrganizationID != orgID {
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return "", handleError(err)
		}
		return "", handleError(fault.Forbidden("not a member of the organization"))
	}
	if err := membership.Authorize(m.Role, role); err != nil {
		return "", handleError(err)
	}
	return userID, nil
}

// requireProjectRole checks project membership, falling back to the owning
// organization's admins and owners.
func requireProjectRole(ctx context.Context, e engine.Engine, projectID, role string) (string, huma.StatusError) {
	userID, authErr := userIDFromContext(ctx)
	if authErr != nil {
		return "", authErr
	}
	if m, err := e.Repo.ProjectMember(ctx, projectID, userID); err == nil {
		if err := membership.Authorize(m.Role, role); err != nil {
			return "", handleError(err)
		}
		return userID, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return "", handleError(err)
	}
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return "", handleError(err)
	}
	om, err := e.Repo.UserOrganization(ctx, userID)
	if err != nil || om.OrganizationID != p.OrganizationID {
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return "", handleError(err)
		}
		return "", handleError(fault.Forbidden("not a member of the project"))
	}
	if err := membership.Authorize(om.Role, "admin"); err != nil {
		return "", handleError(fault.Forbidden("not a member of the project"))
	}
	return userID, nil
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Trackline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerOrgs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-org",
		Method:        http.MethodPost,
		Path:          "/orgs",
		Summary:       "Create organization",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateOrgRequest `json:"body"`
	}) (*struct {
		Body OrgResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		o, err := e.CreateOrganization(ctx, engine.OrgCreateOptions{
			OwnerID: userID,
			Name:    input.Body.Name,
			Slug:    input.Body.Slug,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OrgResponse `json:"body"`
		}{Body: orgResponse(o)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-org",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}",
		Summary:     "Get organization",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OrgID string `path:"org_id"`
	}) (*struct {
		Body OrgResponse `json:"body"`
	}, error) {
		if _, authErr := requireOrgRole(ctx, e, input.OrgID, "readonly"); authErr != nil {
			return nil, authErr
		}
		o, err := e.Repo.GetOrganization(ctx, input.OrgID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OrgResponse `json:"body"`
		}{Body: orgResponse(o)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-org-members",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/members",
		Summary:     "List organization members",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OrgID string `path:"org_id"`
	}) (*struct {
		Body []OrgMemberResponse `json:"body"`
	}, error) {
		if _, authErr := requireOrgRole(ctx, e, input.OrgID, "readonly"); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListOrgMembers(ctx, input.OrgID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]OrgMemberResponse, 0, len(items))
		for _, m := range items {
			out = append(out, orgMemberResponse(m))
		}
		return &struct {
			Body []OrgMemberResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-org-member",
		Method:        http.MethodPost,
		Path:          "/orgs/{org_id}/members",
		Summary:       "Add organization member",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		OrgID string              `path:"org_id"`
		Body  AddOrgMemberRequest `json:"body"`
	}) (*struct {
		Body OrgMemberResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.UserID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "user_id is required", nil)
		}
		actorID, authErr := requireOrgRole(ctx, e, input.OrgID, "admin")
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.AddUserToOrganization(ctx, input.Body.UserID, input.OrgID, input.Body.Role, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OrgMemberResponse `json:"body"`
		}{Body: orgMemberResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "change-org-role",
		Method:      http.MethodPatch,
		Path:        "/orgs/{org_id}/members/{user_id}",
		Summary:     "Change organization role",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		OrgID  string            `path:"org_id"`
		UserID string            `path:"user_id"`
		Body   ChangeRoleRequest `json:"body"`
	}) (*struct {
		Body OrgMemberResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := memberChangeActor(ctx, e, input.OrgID, input.UserID, input.Body.Role)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.ChangeOrgRole(ctx, input.UserID, input.OrgID, input.Body.Role, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OrgMemberResponse `json:"body"`
		}{Body: orgMemberResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-org-member",
		Method:      http.MethodDelete,
		Path:        "/orgs/{org_id}/members/{user_id}",
		Summary:     "Remove organization member",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		OrgID  string `path:"org_id"`
		UserID string `path:"user_id"`
	}) (*struct{}, error) {
		actorID, authErr := memberChangeActor(ctx, e, input.OrgID, input.UserID, "")
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RemoveOrgMember(ctx, input.UserID, input.OrgID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

// memberChangeActor authorizes an org membership mutation. An empty newRole
// marks a removal, where members may always act on their own row; role
// changes follow the hierarchy even on the actor's own row, and nobody may
// grant a role above their own level.
func memberChangeActor(ctx context.Context, e engine.Engine, orgID, targetUserID, newRole string) (string, huma.StatusError) {
	userID, authErr := userIDFromContext(ctx)
	if authErr != nil {
		return "", authErr
	}
	removal := newRole == ""
	actor, err := e.Repo.UserOrganization(ctx, userID)
	if err != nil || actor.OrganizationID != orgID {
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return "", handleError(err)
		}
		return "", handleError(fault.Forbidden("not a member of the organization"))
	}
	targetRole := ""
	if target, err := e.Repo.UserOrganization(ctx, targetUserID); err == nil && target.OrganizationID == orgID {
		targetRole = target.Role
	}
	if err := membership.AuthorizeMemberChange(actor.Role, targetRole, removal && userID == targetUserID); err != nil {
		return "", handleError(err)
	}
	if !removal && membership.Level(newRole) > membership.Level(actor.Role) {
		return "", handleError(fault.Forbidden("cannot grant a role above your own"))
	}
	return userID, nil
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/orgs/{org_id}/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		OrgID string               `path:"org_id"`
		Body  CreateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		userID, authErr := requireOrgRole(ctx, e, input.OrgID, "member")
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreateProject(ctx, engine.ProjectCreateOptions{
			OrganizationID: input.OrgID,
			OwnerID:        userID,
			Name:           input.Body.Name,
			ActorID:        userID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/projects",
		Summary:     "List projects",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		OrgID string `path:"org_id"`
	}) (*struct {
		Body []ProjectResponse `json:"body"`
	}, error) {
		if _, authErr := requireOrgRole(ctx, e, input.OrgID, "readonly"); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListProjects(ctx, input.OrgID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ProjectResponse `json:"body"`
		}{Body: mapProjects(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if _, authErr := requireProjectRole(ctx, e, input.ProjectID, "readonly"); authErr != nil {
			return nil, authErr
		}
		p, err := e.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-project-members",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/members",
		Summary:     "List project members",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body []ProjectMemberResponse `json:"body"`
	}, error) {
		if _, authErr := requireProjectRole(ctx, e, input.ProjectID, "readonly"); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListProjectMembers(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]ProjectMemberResponse, 0, len(items))
		for _, m := range items {
			out = append(out, projectMemberResponse(m))
		}
		return &struct {
			Body []ProjectMemberResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-project-member",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/members",
		Summary:       "Add project member",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string              `path:"project_id"`
		Body      AddOrgMemberRequest `json:"body"`
	}) (*struct {
		Body ProjectMemberResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.UserID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "user_id is required", nil)
		}
		actorID, authErr := requireProjectRole(ctx, e, input.ProjectID, "admin")
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.AddProjectMember(ctx, input.ProjectID, input.Body.UserID, input.Body.Role, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectMemberResponse `json:"body"`
		}{Body: projectMemberResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "change-project-role",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}/members/{user_id}",
		Summary:     "Change project role",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		UserID    string            `path:"user_id"`
		Body      ChangeRoleRequest `json:"body"`
	}) (*struct {
		Body ProjectMemberResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := projectMemberChangeActor(ctx, e, input.ProjectID, input.UserID, input.Body.Role)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.ChangeProjectRole(ctx, input.ProjectID, input.UserID, input.Body.Role, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectMemberResponse `json:"body"`
		}{Body: projectMemberResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-project-member",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}/members/{user_id}",
		Summary:     "Remove project member",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		UserID    string `path:"user_id"`
	}) (*struct{}, error) {
		actorID, authErr := projectMemberChangeActor(ctx, e, input.ProjectID, input.UserID, "")
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RemoveProjectMember(ctx, input.ProjectID, input.UserID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

// projectMemberChangeActor mirrors memberChangeActor at project scope: the
// self bypass covers removal only, a role change is subject to the full
// hierarchy check.
func projectMemberChangeActor(ctx context.Context, e engine.Engine, projectID, targetUserID, newRole string) (string, huma.StatusError) {
	userID, authErr := userIDFromContext(ctx)
	if authErr != nil {
		return "", authErr
	}
	removal := newRole == ""
	if removal && userID == targetUserID {
		return userID, nil
	}
	actor, err := e.Repo.ProjectMember(ctx, projectID, userID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", handleError(err)
		}
		return "", handleError(fault.Forbidden("not a member of the project"))
	}
	targetRole := ""
	if target, err := e.Repo.ProjectMember(ctx, projectID, targetUserID); err == nil {
		targetRole = target.Role
	}
	if err := membership.AuthorizeMemberChange(actor.Role, targetRole, false); err != nil {
		return "", handleError(err)
	}
	if !removal && membership.Level(newRole) > membership.Level(actor.Role) {
		return "", handleError(fault.Forbidden("cannot grant a role above your own"))
	}
	return userID, nil
}

func registerWorkflowConfig(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-state",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/states",
		Summary:       "Create state",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string             `path:"project_id"`
		Body      CreateStateRequest `json:"body"`
	}) (*struct {
		Body StateResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := requireProjectRole(ctx, e, input.ProjectID, "admin")
		if authErr != nil {
			return nil, authErr
		}
		st, err := e.CreateState(ctx, input.ProjectID, input.Body.Name, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StateResponse `json:"body"`
		}{Body: stateResponse(st)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-states",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/states",
		Summary:     "List states",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body []StateResponse `json:"body"`
	}, error) {
		if _, authErr := requireProjectRole(ctx, e, input.ProjectID, "readonly"); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListStates(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []StateResponse `json:"body"`
		}{Body: mapStates(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-workflow",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/workflows",
		Summary:       "Create workflow",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string                `path:"project_id"`
		Body      CreateWorkflowRequest `json:"body"`
	}) (*struct {
		Body WorkflowResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := requireProjectRole(ctx, e, input.ProjectID, "admin")
		if authErr != nil {
			return nil, authErr
		}
		w, err := e.CreateWorkflow(ctx, input.ProjectID, input.Body.Name, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkflowResponse `json:"body"`
		}{Body: WorkflowResponse{ID: w.ID, ProjectID: w.ProjectID, Name: w.Name}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-workflow-step",
		Method:        http.MethodPost,
		Path:          "/workflows/{workflow_id}/steps",
		Summary:       "Add workflow step",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		WorkflowID string         `path:"workflow_id"`
		Body       AddStepRequest `json:"body"`
	}) (*struct{}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		w, err := e.Repo.GetWorkflow(ctx, input.WorkflowID)
		if err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := requireProjectRole(ctx, e, w.ProjectID, "admin")
		if authErr != nil {
			return nil, authErr
		}
		if err := e.AddWorkflowStep(ctx, input.WorkflowID, input.Body.StateID, input.Body.Order, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-transition",
		Method:        http.MethodPost,
		Path:          "/workflows/{workflow_id}/transitions",
		Summary:       "Add workflow transition",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		WorkflowID string               `path:"workflow_id"`
		Body       AddTransitionRequest `json:"body"`
	}) (*struct {
		Body TransitionResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ToStateID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "to_state_id is required", nil)
		}
		w, err := e.Repo.GetWorkflow(ctx, input.WorkflowID)
		if err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := requireProjectRole(ctx, e, w.ProjectID, "admin")
		if authErr != nil {
			return nil, authErr
		}
		src := workflow.SpecificSource(input.Body.FromStateID)
		if input.Body.FromStateID == "" || input.Body.FromStateID == "*" {
			src = workflow.AnySource()
		}
		if err := e.AddTransition(ctx, input.WorkflowID, src, input.Body.ToStateID, actorID); err != nil {
			return nil, handleError(err)
		}
		resp := TransitionResponse{WorkflowID: input.WorkflowID, ToStateID: input.Body.ToStateID}
		if src.Any {
			resp.AnyState = true
		} else {
			resp.FromStateID = src.StateID
		}
		return &struct {
			Body TransitionResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-task-type",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/task-types",
		Summary:       "Create task type",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string                `path:"project_id"`
		Body      CreateTaskTypeRequest `json:"body"`
	}) (*struct {
		Body TaskTypeResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := requireProjectRole(ctx, e, input.ProjectID, "admin")
		if authErr != nil {
			return nil, authErr
		}
		tt, err := e.CreateTaskType(ctx, input.ProjectID, input.Body.Name, input.Body.WorkflowID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskTypeResponse `json:"body"`
		}{Body: taskTypeResponse(tt)}, nil
	})
}

func registerFields(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "define-field",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/fields",
		Summary:       "Define field",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string             `path:"project_id"`
		Body      DefineFieldRequest `json:"body"`
	}) (*struct {
		Body FieldResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := requireProjectRole(ctx, e, input.ProjectID, "admin")
		if authErr != nil {
			return nil, authErr
		}
		f, err := e.DefineField(ctx, engine.FieldOptions{
			ProjectID:    input.ProjectID,
			Name:         input.Body.Name,
			InputType:    input.Body.InputType,
			Required:     input.Body.Required,
			Options:      input.Body.Options,
			DefaultValue: input.Body.DefaultValue,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body FieldResponse `json:"body"`
		}{Body: fieldResponse(f)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-fields",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/fields",
		Summary:     "List fields",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body []FieldResponse `json:"body"`
	}, error) {
		if _, authErr := requireProjectRole(ctx, e, input.ProjectID, "readonly"); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListFields(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []FieldResponse `json:"body"`
		}{Body: mapFields(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-field",
		Method:      http.MethodPatch,
		Path:        "/fields/{field_id}",
		Summary:     "Update field",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		FieldID string             `path:"field_id"`
		Body    DefineFieldRequest `json:"body"`
	}) (*struct {
		Body FieldResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		cur, err := e.Repo.GetField(ctx, input.FieldID)
		if err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := requireProjectRole(ctx, e, cur.ProjectID, "admin")
		if authErr != nil {
			return nil, authErr
		}
		f, err := e.UpdateField(ctx, input.FieldID, engine.FieldOptions{
			ProjectID:    cur.ProjectID,
			Name:         input.Body.Name,
			InputType:    input.Body.InputType,
			Required:     input.Body.Required,
			Options:      input.Body.Options,
			DefaultValue: input.Body.DefaultValue,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body FieldResponse `json:"body"`
		}{Body: fieldResponse(f)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-field",
		Method:      http.MethodDelete,
		Path:        "/fields/{field_id}",
		Summary:     "Delete field",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		FieldID string `path:"field_id"`
	}) (*struct{}, error) {
		cur, err := e.Repo.GetField(ctx, input.FieldID)
		if err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := requireProjectRole(ctx, e, cur.ProjectID, "admin")
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteField(ctx, input.FieldID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "assign-field",
		Method:        http.MethodPost,
		Path:          "/task-types/{task_type_id}/fields/{field_id}",
		Summary:       "Assign field to task type",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		TaskTypeID string `path:"task_type_id"`
		FieldID    string `path:"field_id"`
	}) (*struct{}, error) {
		tt, err := e.Repo.GetTaskType(ctx, input.TaskTypeID)
		if err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := requireProjectRole(ctx, e, tt.ProjectID, "admin")
		if authErr != nil {
			return nil, authErr
		}
		if err := e.AssignFieldToTaskType(ctx, input.TaskTypeID, input.FieldID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unassign-field",
		Method:      http.MethodDelete,
		Path:        "/task-types/{task_type_id}/fields/{field_id}",
		Summary:     "Unassign field from task type",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		TaskTypeID string `path:"task_type_id"`
		FieldID    string `path:"field_id"`
	}) (*struct{}, error) {
		tt, err := e.Repo.GetTaskType(ctx, input.TaskTypeID)
		if err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := requireProjectRole(ctx, e, tt.ProjectID, "admin")
		if authErr != nil {
			return nil, authErr
		}
		if err := e.UnassignFieldFromTaskType(ctx, input.TaskTypeID, input.FieldID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-type-form",
		Method:      http.MethodGet,
		Path:        "/task-types/{task_type_id}/form",
		Summary:     "Task type form fields",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		TaskTypeID string `path:"task_type_id"`
	}) (*struct {
		Body []FieldResponse `json:"body"`
	}, error) {
		tt, err := e.Repo.GetTaskType(ctx, input.TaskTypeID)
		if err != nil {
			return nil, handleError(err)
		}
		if _, authErr := requireProjectRole(ctx, e, tt.ProjectID, "readonly"); authErr != nil {
			return nil, authErr
		}
		items, err := e.FormFields(ctx, input.TaskTypeID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []FieldResponse `json:"body"`
		}{Body: mapFields(items)}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      CreateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Title == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required", nil)
		}
		actorID, authErr := requireProjectRole(ctx, e, input.ProjectID, "member")
		if authErr != nil {
			return nil, authErr
		}
		candidates := make([]schema.Candidate, 0, len(input.Body.Values))
		for _, v := range input.Body.Values {
			candidates = append(candidates, schema.Candidate{FieldID: v.FieldID, Value: v.Value})
		}
		t, err := e.CreateTask(ctx, engine.TaskCreateOptions{
			ProjectID:   input.ProjectID,
			TaskTypeID:  input.Body.TaskTypeID,
			StateID:     input.Body.StateID,
			OwnerID:     actorID,
			AssigneeID:  input.Body.AssigneeID,
			Title:       input.Body.Title,
			Description: stringOrEmpty(input.Body.Description),
			Values:      candidates,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ProjectID  string `path:"project_id"`
		TaskTypeID string `query:"task_type_id"`
		StateID    string `query:"state_id"`
		AssigneeID string `query:"assignee_id"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body []TaskResponse `json:"body"`
	}, error) {
		if _, authErr := requireProjectRole(ctx, e, input.ProjectID, "readonly"); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListTasks(ctx, repo.TaskFilters{
			ProjectID:  input.ProjectID,
			TaskTypeID: input.TaskTypeID,
			StateID:    input.StateID,
			AssigneeID: input.AssigneeID,
			Limit:      input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TaskResponse `json:"body"`
		}{Body: mapTasks(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		t, err := e.Repo.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if _, authErr := requireProjectRole(ctx, e, t.ProjectID, "readonly"); authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{id}",
		Summary:     "Update task",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		cur, err := e.Repo.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := requireProjectRole(ctx, e, cur.ProjectID, "member")
		if authErr != nil {
			return nil, authErr
		}
		var bodyMap map[string]json.RawMessage
		_ = json.Unmarshal(bodyBytes(ctx), &bodyMap)
		opts := engine.TaskUpdateOptions{
			Title:       input.Body.Title,
			Description: input.Body.Description,
			ActorID:     actorID,
		}
		if raw, ok := bodyMap["assignee_id"]; ok {
			if string(raw) == "null" {
				opts.ClearAssignee = true
			} else {
				opts.AssigneeID = input.Body.AssigneeID
			}
		}
		t, err := e.UpdateTask(ctx, input.ID, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "move-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/move",
		Summary:     "Move task to a new state",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body MoveTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ToStateID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "to_state_id is required", nil)
		}
		cur, err := e.Repo.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := requireProjectRole(ctx, e, cur.ProjectID, "member")
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.MoveTask(ctx, input.ID, input.Body.ToStateID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-next-states",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}/next-states",
		Summary:     "Legal next states for a task",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []StateResponse `json:"body"`
	}, error) {
		t, err := e.Repo.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if _, authErr := requireProjectRole(ctx, e, t.ProjectID, "readonly"); authErr != nil {
			return nil, authErr
		}
		items, err := e.NextStates(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []StateResponse `json:"body"`
		}{Body: mapStates(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-task-values",
		Method:      http.MethodPut,
		Path:        "/tasks/{id}/values",
		Summary:     "Set task field values",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body []FieldValueRequest `json:"body"`
	}) (*struct {
		Body map[string]*string `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		cur, err := e.Repo.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := requireProjectRole(ctx, e, cur.ProjectID, "member")
		if authErr != nil {
			return nil, authErr
		}
		candidates := make([]schema.Candidate, 0, len(input.Body))
		for _, v := range input.Body {
			candidates = append(candidates, schema.Candidate{FieldID: v.FieldID, Value: v.Value})
		}
		if err := e.SetTaskFieldValues(ctx, input.ID, candidates, actorID); err != nil {
			return nil, handleError(err)
		}
		values, err := e.TaskValues(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]*string `json:"body"`
		}{Body: values}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task-values",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}/values",
		Summary:     "Get task field values",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body map[string]*string `json:"body"`
	}, error) {
		t, err := e.Repo.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if _, authErr := requireProjectRole(ctx, e, t.ProjectID, "readonly"); authErr != nil {
			return nil, authErr
		}
		values, err := e.TaskValues(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]*string `json:"body"`
		}{Body: values}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/events",
		Summary:     "Latest project events",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ProjectID  string `path:"project_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		if _, authErr := requireProjectRole(ctx, e, input.ProjectID, "readonly"); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.LatestEvents(ctx, input.Limit, input.ProjectID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]EventResponse, 0, len(items))
		for _, ev := range items {
			out = append(out, eventResponse(ev))
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: out}, nil
	})
}

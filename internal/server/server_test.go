package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"testing"
	"time"

	"trackline/internal/db"
	"trackline/internal/engine"
	"trackline/internal/migrate"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn)
	e.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	handler, err := New(Config{
		Engine: e,
		Auth: AuthConfig{
			JWTSecret:             "test-secret",
			AllowLegacyUserHeader: true,
			Logger:                log.New(io.Discard, "", 0),
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.close)
	return ts
}

func asUser(userID string) map[string]string {
	return map[string]string{"X-User-Id": userID}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("unmarshal %s: %v", string(data), err)
	}
	return v
}

// errorEnvelope skips the extra top-level keys huma adds to error bodies,
// such as $schema.
type errorEnvelope struct {
	Error apiErrorBody `json:"error"`
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/orgs", map[string]any{
		"name": "Acme", "slug": "acme",
	}, asUser("u1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create org status %d: %s", res.StatusCode, string(data))
	}
	org := decode[OrgResponse](t, data)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/orgs/"+org.ID+"/projects", map[string]any{
		"name": "Website",
	}, asUser("u1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project status %d: %s", res.StatusCode, string(data))
	}
	project := decode[ProjectResponse](t, data)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/"+project.ID+"/states", nil, asUser("u1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list states status %d: %s", res.StatusCode, string(data))
	}
	states := decode[[]StateResponse](t, data)
	if len(states) != 3 {
		t.Fatalf("expected 3 seeded states, got %d", len(states))
	}
	byName := map[string]string{}
	for _, s := range states {
		byName[s.Name] = s.ID
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+project.ID+"/tasks", map[string]any{
		"title":    "Ship feature",
		"state_id": byName["Todo"],
	}, asUser("u1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task status %d: %s", res.StatusCode, string(data))
	}
	task := decode[TaskResponse](t, data)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/move", map[string]any{
		"to_state_id": byName["Doing"],
	}, asUser("u1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("move task status %d: %s", res.StatusCode, string(data))
	}
	moved := decode[TaskResponse](t, data)
	if moved.StateID == nil || *moved.StateID != byName["Doing"] {
		t.Fatalf("task not in Doing: %+v", moved)
	}
}

func TestStatusCodeMapping(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()

	// No credentials at all.
	res, _ := doJSON(t, client, http.MethodPost, srv.URL+"/v0/orgs", map[string]any{"name": "X", "slug": "x"}, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status %d", res.StatusCode)
	}

	// Health stays open.
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/orgs", map[string]any{
		"name": "Acme", "slug": "acme",
	}, asUser("u1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create org status %d: %s", res.StatusCode, string(data))
	}
	org := decode[OrgResponse](t, data)

	// Slug conflict.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/orgs", map[string]any{
		"name": "Other", "slug": "acme",
	}, asUser("u2"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate slug status %d: %s", res.StatusCode, string(data))
	}
	errBody := decode[errorEnvelope](t, data)
	if errBody.Error.Code != "conflict" {
		t.Fatalf("conflict code %q", errBody.Error.Code)
	}

	// Domain validation.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/orgs/"+org.ID+"/members", map[string]any{
		"user_id": "u2", "role": "chancellor",
	}, asUser("u1"))
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("bad role status %d: %s", res.StatusCode, string(data))
	}

	// Unknown entity.
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/nope", nil, asUser("u1"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("missing task status %d", res.StatusCode)
	}
}

func TestAuthorizationByRole(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/orgs", map[string]any{
		"name": "Acme", "slug": "acme",
	}, asUser("owner"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create org status %d: %s", res.StatusCode, string(data))
	}
	org := decode[OrgResponse](t, data)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/orgs/"+org.ID+"/members", map[string]any{
		"user_id": "reader", "role": "readonly",
	}, asUser("owner"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add member status %d: %s", res.StatusCode, string(data))
	}

	// A readonly member cannot invite.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/orgs/"+org.ID+"/members", map[string]any{
		"user_id": "u3", "role": "member",
	}, asUser("reader"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("readonly invite status %d: %s", res.StatusCode, string(data))
	}

	// But may leave on their own.
	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/orgs/"+org.ID+"/members/reader", nil, asUser("reader"))
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("self removal status %d: %s", res.StatusCode, string(data))
	}
}

func TestSelfRoleChangeFollowsHierarchy(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/orgs", map[string]any{
		"name": "Acme", "slug": "acme",
	}, asUser("owner"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create org status %d: %s", res.StatusCode, string(data))
	}
	org := decode[OrgResponse](t, data)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/orgs/"+org.ID+"/members", map[string]any{
		"user_id": "mallory", "role": "member",
	}, asUser("owner"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add member status %d: %s", res.StatusCode, string(data))
	}

	// A member may not promote their own row.
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/orgs/"+org.ID+"/members/mallory", map[string]any{
		"role": "owner",
	}, asUser("mallory"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("self promotion status %d: %s", res.StatusCode, string(data))
	}

	// An admin may not hand out owner either.
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/orgs/"+org.ID+"/members/mallory", map[string]any{
		"role": "admin",
	}, asUser("owner"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("promote to admin status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/orgs/"+org.ID+"/members/mallory", map[string]any{
		"role": "owner",
	}, asUser("mallory"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("admin self promotion status %d: %s", res.StatusCode, string(data))
	}
}

func TestProjectSelfRoleChangeFollowsHierarchy(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/orgs", map[string]any{
		"name": "Acme", "slug": "acme",
	}, asUser("owner"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create org status %d: %s", res.StatusCode, string(data))
	}
	org := decode[OrgResponse](t, data)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/orgs/"+org.ID+"/projects", map[string]any{
		"name": "Website",
	}, asUser("owner"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project status %d: %s", res.StatusCode, string(data))
	}
	project := decode[ProjectResponse](t, data)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+project.ID+"/members", map[string]any{
		"user_id": "mallory", "role": "member",
	}, asUser("owner"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add project member status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/projects/"+project.ID+"/members/mallory", map[string]any{
		"role": "owner",
	}, asUser("mallory"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("self promotion status %d: %s", res.StatusCode, string(data))
	}

	// Leaving the project stays open to everyone.
	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/projects/"+project.ID+"/members/mallory", nil, asUser("mallory"))
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("self removal status %d: %s", res.StatusCode, string(data))
	}
}

func TestFieldValidationOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/orgs", map[string]any{
		"name": "Acme", "slug": "acme",
	}, asUser("u1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create org: %s", string(data))
	}
	org := decode[OrgResponse](t, data)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/orgs/"+org.ID+"/projects", map[string]any{
		"name": "Website",
	}, asUser("u1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project: %s", string(data))
	}
	project := decode[ProjectResponse](t, data)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+project.ID+"/task-types", map[string]any{
		"name": "Story",
	}, asUser("u1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task type: %s", string(data))
	}
	tt := decode[TaskTypeResponse](t, data)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+project.ID+"/fields", map[string]any{
		"name":       "Priority",
		"input_type": "select",
		"required":   true,
		"options":    []string{"Low", "High"},
	}, asUser("u1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("define field: %s", string(data))
	}
	field := decode[FieldResponse](t, data)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/task-types/"+tt.ID+"/fields/"+field.ID, nil, asUser("u1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("assign field status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+project.ID+"/tasks", map[string]any{
		"title":        "Bad value",
		"task_type_id": tt.ID,
		"values":       []map[string]any{{"field_id": field.ID, "value": "Urgent"}},
	}, asUser("u1"))
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("invalid option status %d: %s", res.StatusCode, string(data))
	}
	errBody := decode[errorEnvelope](t, data)
	if errBody.Error.Code != "validation_failed" {
		t.Fatalf("invalid option code %q: %s", errBody.Error.Code, string(data))
	}
}

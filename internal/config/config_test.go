package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trackline/internal/config"
)

func TestDefaultSettings(t *testing.T) {
	s := config.Default("p1")
	require.NoError(t, s.Validate())
	assert.Equal(t, "p1", s.Project.ID)
	assert.Equal(t, 255, s.Fields.MaxNameLength)
	assert.Equal(t, []string{"Todo", "Doing", "Done"}, s.Workflow.Seed.States)
	assert.Equal(t, "member", s.Membership.DefaultProjectRole)
}

func TestFromYAML(t *testing.T) {
	s, err := config.FromYAML([]byte(`
project:
  id: p1
fields:
  max_name_length: 64
workflow:
  seed:
    name: Kanban
    states: [Backlog, Doing, Shipped]
membership:
  default_project_role: admin
`))
	require.NoError(t, err)
	assert.Equal(t, 64, s.Fields.MaxNameLength)
	assert.Equal(t, "Kanban", s.Workflow.Seed.Name)
}

func TestFromYAMLRejectsBadSettings(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"missing project id", "fields:\n  max_name_length: 10\nmembership:\n  default_project_role: member\n"},
		{"zero name length", "project:\n  id: p1\nfields:\n  max_name_length: 0\nmembership:\n  default_project_role: member\n"},
		{"single seed state", "project:\n  id: p1\nfields:\n  max_name_length: 10\nworkflow:\n  seed:\n    name: W\n    states: [Only]\nmembership:\n  default_project_role: member\n"},
		{"duplicate seed state", "project:\n  id: p1\nfields:\n  max_name_length: 10\nworkflow:\n  seed:\n    name: W\n    states: [A, A]\nmembership:\n  default_project_role: member\n"},
		{"bad default role", "project:\n  id: p1\nfields:\n  max_name_length: 10\nmembership:\n  default_project_role: king\n"},
		{"not yaml", "{{"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.FromYAML([]byte(tc.yaml))
			assert.Error(t, err)
		})
	}
}

func TestYAMLRoundTrip(t *testing.T) {
	s := config.Default("p1")
	data, err := s.ToYAML()
	require.NoError(t, err)
	back, err := config.FromYAML(data)
	require.NoError(t, err)
	assert.Equal(t, s, back)
}

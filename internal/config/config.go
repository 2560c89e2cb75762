// Package config models the per-project settings document. Settings are
// authored as YAML, validated, and stored in the project_settings table;
// they bound field definitions and seed the default workflow for new
// projects.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Settings models trackline.yml for one project.
type Settings struct {
	Project struct {
		ID string `yaml:"id"`
	} `yaml:"project"`
	Fields struct {
		MaxNameLength int `yaml:"max_name_length"`
	} `yaml:"fields"`
	Workflow struct {
		// Seed declares the workflow created alongside a new project:
		// ordered state names plus forward transitions between neighbours.
		Seed struct {
			Name   string   `yaml:"name"`
			States []string `yaml:"states"`
		} `yaml:"seed"`
	} `yaml:"workflow"`
	Membership struct {
		DefaultProjectRole string `yaml:"default_project_role"`
	} `yaml:"membership"`
}

// Validate ensures the settings meet required structure.
func (s *Settings) Validate() error {
	if s.Project.ID == "" {
		return fmt.Errorf("settings.project.id is required")
	}
	if s.Fields.MaxNameLength <= 0 {
		return fmt.Errorf("settings.fields.max_name_length must be positive")
	}
	if s.Workflow.Seed.Name != "" && len(s.Workflow.Seed.States) < 2 {
		return fmt.Errorf("settings.workflow.seed needs at least two states")
	}
	seen := map[string]bool{}
	for _, st := range s.Workflow.Seed.States {
		if st == "" {
			return fmt.Errorf("settings.workflow.seed.states contains an empty name")
		}
		if seen[st] {
			return fmt.Errorf("settings.workflow.seed.states repeats %q", st)
		}
		seen[st] = true
	}
	switch s.Membership.DefaultProjectRole {
	case "owner", "admin", "member":
	default:
		return fmt.Errorf("settings.membership.default_project_role must be owner, admin or member")
	}
	return nil
}

// Default returns the default Settings for a project.
func Default(projectID string) *Settings {
	var s Settings
	_ = yaml.Unmarshal([]byte(fmt.Sprintf(defaultTemplate, projectID)), &s)
	s.Project.ID = projectID
	return &s
}

// FromYAML parses and validates settings from raw YAML bytes.
func FromYAML(data []byte) (*Settings, error) {
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("invalid settings yaml: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// FromFile reads YAML settings from the given path.
func FromFile(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// ToYAML serializes settings for storage.
func (s *Settings) ToYAML() ([]byte, error) {
	return yaml.Marshal(s)
}

const defaultTemplate = `project:
  id: %s

fields:
  max_name_length: 255

workflow:
  seed:
    name: Default
    states: [Todo, Doing, Done]

membership:
  default_project_role: member
`

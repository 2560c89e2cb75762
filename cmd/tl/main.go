package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"trackline/internal/config"
	"trackline/internal/db"
	"trackline/internal/domain"
	"trackline/internal/engine"
	"trackline/internal/migrate"
	"trackline/internal/repo"
	"trackline/internal/schema"
	"trackline/internal/server"
	"trackline/internal/workflow"
)

var rootCmd = &cobra.Command{
	Use:   "tl",
	Short: "Trackline CLI",
	Long: `Trackline tracks multi-tenant project work with configurable schemas
and workflows. Organizations own projects; projects own states, workflows,
task types and custom fields; tasks carry typed field values and move
between states only along configured transitions.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TRACKLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user-id", "local-user", "acting user identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user-id", rootCmd.PersistentFlags().Lookup("user-id"))
}

func registerCommands() {
	rootCmd.AddCommand(orgCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(stateCmd())
	rootCmd.AddCommand(workflowCmd())
	rootCmd.AddCommand(taskTypeCmd())
	rootCmd.AddCommand(fieldCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func actingUser() string {
	return viper.GetString("user-id")
}

// --- organizations ---

func orgCmd() *cobra.Command {
	org := &cobra.Command{
		Use:   "org",
		Short: "Manage organizations",
		Long:  "Organizations are the tenancy boundary. A user belongs to exactly one organization, and every organization keeps at least one owner.",
	}
	org.AddCommand(orgCreateCmd())
	org.AddCommand(orgListCmd())
	org.AddCommand(orgShowCmd())
	org.AddCommand(orgMembersCmd())
	org.AddCommand(orgAddMemberCmd())
	org.AddCommand(orgSetRoleCmd())
	org.AddCommand(orgRemoveMemberCmd())
	return org
}

func orgCreateCmd() *cobra.Command {
	var name, slug string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.CreateOrganization(ctx, engine.OrgCreateOptions{
					OwnerID: actingUser(),
					Name:    name,
					Slug:    slug,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "organization name")
	cmd.Flags().StringVar(&slug, "slug", "", "url slug")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("slug")
	return cmd
}

func orgListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List organizations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListOrganizations(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
}

func orgShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <org-id>",
		Short: "Show an organization",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				o, err := r.GetOrganization(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
}

func orgMembersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "members <org-id>",
		Short: "List organization members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListOrgMembers(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"User", "Role", "Primary", "Joined"})
				for _, m := range items {
					tw.AppendRow(table.Row{m.UserID, m.Role, m.IsPrimary, m.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func orgAddMemberCmd() *cobra.Command {
	var userID, role string
	cmd := &cobra.Command{
		Use:   "add-member <org-id>",
		Short: "Add a member to an organization",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.AddUserToOrganization(ctx, userID, args[0], role, actingUser())
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&role, "role", domain.RoleMember, "role (owner, admin, member, billing, readonly)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func orgSetRoleCmd() *cobra.Command {
	var userID, role string
	cmd := &cobra.Command{
		Use:   "set-role <org-id>",
		Short: "Change a member's organization role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.ChangeOrgRole(ctx, userID, args[0], role, actingUser())
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&role, "role", "", "new role")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func orgRemoveMemberCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "remove-member <org-id>",
		Short: "Remove a member from an organization",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RemoveOrgMember(ctx, userID, args[0], actingUser())
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// --- projects ---

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectAddMemberCmd())
	prj.AddCommand(projectSetRoleCmd())
	prj.AddCommand(projectRemoveMemberCmd())
	prj.AddCommand(projectSettingsCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var orgID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project with default settings and a seed workflow",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreateProject(ctx, engine.ProjectCreateOptions{
					OrganizationID: orgID,
					OwnerID:        actingUser(),
					Name:           name,
					ActorID:        actingUser(),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&orgID, "org", "", "organization id")
	cmd.Flags().StringVar(&name, "name", "", "project name")
	_ = cmd.MarkFlagRequired("org")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectListCmd() *cobra.Command {
	var orgID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects in an organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProjects(ctx, orgID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&orgID, "org", "", "organization id")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				p, err := r.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func projectAddMemberCmd() *cobra.Command {
	var userID, role string
	cmd := &cobra.Command{
		Use:   "add-member <project-id>",
		Short: "Add a project member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.AddProjectMember(ctx, args[0], userID, role, actingUser())
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&role, "role", domain.RoleMember, "role (owner, admin, member)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func projectSetRoleCmd() *cobra.Command {
	var userID, role string
	cmd := &cobra.Command{
		Use:   "set-role <project-id>",
		Short: "Change a member's project role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.ChangeProjectRole(ctx, args[0], userID, role, actingUser())
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&role, "role", "", "new role")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func projectRemoveMemberCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "remove-member <project-id>",
		Short: "Remove a project member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RemoveProjectMember(ctx, args[0], userID, actingUser())
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func projectSettingsCmd() *cobra.Command {
	settings := &cobra.Command{Use: "settings", Short: "Manage project settings"}
	settings.AddCommand(&cobra.Command{
		Use:   "show <project-id>",
		Short: "Show project settings stored in DB",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				s, err := r.GetProjectSettings(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				data, err := s.ToYAML()
				if err != nil {
					return err
				}
				fmt.Print(string(data))
				return nil
			})
		},
	})
	var filePath string
	importCmd := &cobra.Command{
		Use:   "import <project-id>",
		Short: "Import project settings from YAML into the DB",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.UpdateProjectSettings(ctx, args[0], s, actingUser()); err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	importCmd.Flags().StringVar(&filePath, "file", "", "path to YAML settings")
	_ = importCmd.MarkFlagRequired("file")
	settings.AddCommand(importCmd)
	return settings
}

// --- states and workflows ---

func stateCmd() *cobra.Command {
	st := &cobra.Command{Use: "state", Short: "Manage workflow states"}
	var projectID, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.CreateState(ctx, projectID, name, actingUser())
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	create.Flags().StringVar(&projectID, "project", "", "project id")
	create.Flags().StringVar(&name, "name", "", "state name")
	_ = create.MarkFlagRequired("project")
	_ = create.MarkFlagRequired("name")
	st.AddCommand(create)

	var listProject string
	list := &cobra.Command{
		Use:   "list",
		Short: "List states",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListStates(ctx, listProject)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Position"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.Name, s.Position})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&listProject, "project", "", "project id")
	_ = list.MarkFlagRequired("project")
	st.AddCommand(list)

	var position int
	reorder := &cobra.Command{
		Use:   "reorder <state-id>",
		Short: "Move a state to a new position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.ReorderState(ctx, args[0], position, actingUser())
			})
		},
	}
	reorder.Flags().IntVar(&position, "position", 0, "new position")
	st.AddCommand(reorder)
	return st
}

func workflowCmd() *cobra.Command {
	wf := &cobra.Command{
		Use:   "workflow",
		Short: "Manage workflows",
		Long:  "Workflows restrict how tasks move between states. A task type without a workflow, or a workflow without states, leaves movement unrestricted.",
	}

	var projectID, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a workflow",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.CreateWorkflow(ctx, projectID, name, actingUser())
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	create.Flags().StringVar(&projectID, "project", "", "project id")
	create.Flags().StringVar(&name, "name", "", "workflow name")
	_ = create.MarkFlagRequired("project")
	_ = create.MarkFlagRequired("name")
	wf.AddCommand(create)

	var stateID string
	var order int
	addStep := &cobra.Command{
		Use:   "add-step <workflow-id>",
		Short: "Attach a state to a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.AddWorkflowStep(ctx, args[0], stateID, order, actingUser())
			})
		},
	}
	addStep.Flags().StringVar(&stateID, "state", "", "state id")
	addStep.Flags().IntVar(&order, "order", 0, "step order")
	_ = addStep.MarkFlagRequired("state")
	wf.AddCommand(addStep)

	var from, to string
	addTransition := &cobra.Command{
		Use:   "add-transition <workflow-id>",
		Short: "Add a transition edge",
		Long:  "Add a legal transition. Use --from '*' (or omit --from) to allow the move from every state in the workflow.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				src := workflow.SpecificSource(from)
				if from == "" || from == "*" {
					src = workflow.AnySource()
				}
				return e.AddTransition(ctx, args[0], src, to, actingUser())
			})
		},
	}
	addTransition.Flags().StringVar(&from, "from", "", "source state id, or '*' for any state")
	addTransition.Flags().StringVar(&to, "to", "", "target state id")
	_ = addTransition.MarkFlagRequired("to")
	wf.AddCommand(addTransition)

	var rmFrom, rmTo string
	removeTransition := &cobra.Command{
		Use:   "remove-transition <workflow-id>",
		Short: "Remove a transition edge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				src := workflow.SpecificSource(rmFrom)
				if rmFrom == "" || rmFrom == "*" {
					src = workflow.AnySource()
				}
				return e.RemoveTransition(ctx, args[0], src, rmTo, actingUser())
			})
		},
	}
	removeTransition.Flags().StringVar(&rmFrom, "from", "", "source state id, or '*' for any state")
	removeTransition.Flags().StringVar(&rmTo, "to", "", "target state id")
	_ = removeTransition.MarkFlagRequired("to")
	wf.AddCommand(removeTransition)
	return wf
}

func taskTypeCmd() *cobra.Command {
	tt := &cobra.Command{Use: "task-type", Short: "Manage task types"}

	var projectID, name, workflowID string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a task type",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTaskType(ctx, projectID, name, workflowID, actingUser())
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	create.Flags().StringVar(&projectID, "project", "", "project id")
	create.Flags().StringVar(&name, "name", "", "task type name")
	create.Flags().StringVar(&workflowID, "workflow", "", "workflow id (optional)")
	_ = create.MarkFlagRequired("project")
	_ = create.MarkFlagRequired("name")
	tt.AddCommand(create)

	var listProject string
	list := &cobra.Command{
		Use:   "list",
		Short: "List task types",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListTaskTypes(ctx, listProject)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	list.Flags().StringVar(&listProject, "project", "", "project id")
	_ = list.MarkFlagRequired("project")
	tt.AddCommand(list)

	form := &cobra.Command{
		Use:   "form <task-type-id>",
		Short: "Show form fields in display order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				fields, err := e.FormFields(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(fields)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Type", "Required", "Options"})
				for _, f := range fields {
					tw.AppendRow(table.Row{f.ID, f.Name, f.InputType, f.IsRequired, strings.Join(f.Options, ", ")})
				}
				tw.Render()
				return nil
			})
		},
	}
	tt.AddCommand(form)
	return tt
}

// --- fields ---

func fieldCmd() *cobra.Command {
	fld := &cobra.Command{
		Use:   "field",
		Short: "Manage custom fields",
		Long:  "Fields are project-scoped definitions (text, textarea, number, date, select, checkbox, radio) assigned to task types. Values are validated against the definition on every write.",
	}
	fld.AddCommand(fieldDefineCmd())
	fld.AddCommand(fieldListCmd())
	fld.AddCommand(fieldUpdateCmd())
	fld.AddCommand(fieldDeleteCmd())
	fld.AddCommand(fieldAssignCmd())
	fld.AddCommand(fieldUnassignCmd())
	return fld
}

func fieldFlags(cmd *cobra.Command, opts *engine.FieldOptions) {
	cmd.Flags().StringVar(&opts.Name, "name", "", "field name")
	cmd.Flags().StringVar(&opts.InputType, "type", domain.FieldText, "input type")
	cmd.Flags().BoolVar(&opts.Required, "required", false, "required field")
	cmd.Flags().StringSliceVar(&opts.Options, "option", nil, "declared option (repeatable, select/radio only)")
	cmd.Flags().StringVar(&opts.DefaultValue, "default", "", "default value")
}

func fieldDefineCmd() *cobra.Command {
	var opts engine.FieldOptions
	cmd := &cobra.Command{
		Use:   "define",
		Short: "Define a field",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f, err := e.DefineField(ctx, opts, actingUser())
				if err != nil {
					return err
				}
				return printJSONOrTable(f)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ProjectID, "project", "", "project id")
	fieldFlags(cmd, &opts)
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func fieldListCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List fields",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListFields(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Type", "Required", "Default"})
				for _, f := range items {
					tw.AppendRow(table.Row{f.ID, f.Name, f.InputType, f.IsRequired, f.DefaultValue})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func fieldUpdateCmd() *cobra.Command {
	var opts engine.FieldOptions
	cmd := &cobra.Command{
		Use:   "update <field-id>",
		Short: "Update a field definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f, err := e.UpdateField(ctx, args[0], opts, actingUser())
				if err != nil {
					return err
				}
				return printJSONOrTable(f)
			})
		},
	}
	fieldFlags(cmd, &opts)
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func fieldDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <field-id>",
		Short: "Delete a field (refused while values exist)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteField(ctx, args[0], actingUser())
			})
		},
	}
}

func fieldAssignCmd() *cobra.Command {
	var taskTypeID string
	cmd := &cobra.Command{
		Use:   "assign <field-id>",
		Short: "Assign a field to a task type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.AssignFieldToTaskType(ctx, taskTypeID, args[0], actingUser())
			})
		},
	}
	cmd.Flags().StringVar(&taskTypeID, "task-type", "", "task type id")
	_ = cmd.MarkFlagRequired("task-type")
	return cmd
}

func fieldUnassignCmd() *cobra.Command {
	var taskTypeID string
	cmd := &cobra.Command{
		Use:   "unassign <field-id>",
		Short: "Unassign a field from a task type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.UnassignFieldFromTaskType(ctx, taskTypeID, args[0], actingUser())
			})
		},
	}
	cmd.Flags().StringVar(&taskTypeID, "task-type", "", "task type id")
	_ = cmd.MarkFlagRequired("task-type")
	return cmd
}

// --- tasks ---

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks carry a type, a state governed by the type's workflow, an assignee who must be a project member, and typed field values.",
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskGetCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskMoveCmd())
	task.AddCommand(taskNextCmd())
	task.AddCommand(taskSetValueCmd())
	task.AddCommand(taskValuesCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var projectID, taskTypeID, stateID, assigneeID, title, description string
	var values []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			candidates, err := parseValueFlags(values)
			if err != nil {
				return err
			}
			opts := engine.TaskCreateOptions{
				ProjectID:   projectID,
				TaskTypeID:  optionalString(taskTypeID),
				StateID:     optionalString(stateID),
				OwnerID:     actingUser(),
				AssigneeID:  optionalString(assigneeID),
				Title:       title,
				Description: description,
				Values:      candidates,
				ActorID:     actingUser(),
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	cmd.Flags().StringVar(&taskTypeID, "type", "", "task type id")
	cmd.Flags().StringVar(&stateID, "state", "", "initial state id")
	cmd.Flags().StringVar(&assigneeID, "assignee", "", "assignee user id")
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringArrayVar(&values, "value", nil, "field value as field_id=value (repeatable)")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				tasks, err := r.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "State", "Assignee"})
				for _, t := range tasks {
					state := ""
					if t.StateID != nil {
						state = *t.StateID
					}
					assignee := ""
					if t.AssigneeID != nil {
						assignee = *t.AssigneeID
					}
					tw.AppendRow(table.Row{t.ID, t.Title, state, assignee})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&f.TaskTypeID, "type", "", "task type filter")
	cmd.Flags().StringVar(&f.StateID, "state", "", "state filter")
	cmd.Flags().StringVar(&f.AssigneeID, "assignee", "", "assignee filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows (0 = no limit)")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func taskGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Get a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				t, err := r.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskUpdateCmd() *cobra.Command {
	var title, description, assignee string
	var clearAssignee bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.TaskUpdateOptions{ActorID: actingUser(), ClearAssignee: clearAssignee}
			if cmd.Flags().Changed("title") {
				opts.Title = &title
			}
			if cmd.Flags().Changed("description") {
				opts.Description = &description
			}
			if cmd.Flags().Changed("assignee") {
				opts.AssigneeID = &assignee
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UpdateTask(ctx, args[0], opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee user id")
	cmd.Flags().BoolVar(&clearAssignee, "clear-assignee", false, "remove the assignee")
	return cmd
}

func taskMoveCmd() *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "move <id>",
		Short: "Move a task to a new state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.MoveTask(ctx, args[0], to, actingUser())
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "target state id")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func taskNextCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "next-states <id>",
		Short: "Show the states a task may legally move to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				states, err := e.NextStates(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(states)
			})
		},
	}
}

func taskSetValueCmd() *cobra.Command {
	var values []string
	cmd := &cobra.Command{
		Use:   "set-value <id>",
		Short: "Set field values on a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			candidates, err := parseValueFlags(values)
			if err != nil {
				return err
			}
			if len(candidates) == 0 {
				return fmt.Errorf("at least one --value is required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.SetTaskFieldValues(ctx, args[0], candidates, actingUser())
			})
		},
	}
	cmd.Flags().StringArrayVar(&values, "value", nil, "field value as field_id=value; use field_id= to clear (repeatable)")
	return cmd
}

func taskValuesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "values <id>",
		Short: "Show stored field values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				values, err := e.TaskValues(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(values)
			})
		},
	}
}

// parseValueFlags splits repeated field_id=value flags into candidates. A
// trailing "=" with nothing after it clears the value.
func parseValueFlags(values []string) ([]schema.Candidate, error) {
	out := make([]schema.Candidate, 0, len(values))
	for _, raw := range values {
		fieldID, val, ok := strings.Cut(raw, "=")
		if !ok || fieldID == "" {
			return nil, fmt.Errorf("invalid --value %q: expected field_id=value", raw)
		}
		c := schema.Candidate{FieldID: fieldID}
		if val != "" {
			v := val
			c.Value = &v
		}
		out = append(out, c)
	}
	return out, nil
}

// --- events, api keys, serve ---

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The audit trail of every mutation: membership changes, schema edits, task moves and value writes.",
	}
	var n int
	var projectID, evtType, entityKind, entityID string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, projectID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&projectID, "project", "", "project filter")
	tail.Flags().StringVar(&evtType, "type", "", "event type filter")
	tail.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	tail.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	log.AddCommand(tail)
	return log
}

func apikeyCmd() *cobra.Command {
	ak := &cobra.Command{Use: "apikey", Short: "Manage API keys"}

	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				secret := uuid.New().String() + uuid.New().String()
				key := domain.APIKey{
					ID:        uuid.New().String(),
					UserID:    actingUser(),
					Name:      name,
					KeyHash:   repo.HashAPIKey(secret),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				fmt.Printf("API key created (shown once): %s\n", secret)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "key label")
	ak.AddCommand(create)

	revoke := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	ak.AddCommand(revoke)
	return ak
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			migrate.Logf = log.Printf
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			e := engine.New(conn)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("TRACKLINE_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("TRACKLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Trackline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, engine.New(conn))
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

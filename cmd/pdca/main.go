package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"pdcaflow/internal/aggregate"
	"pdcaflow/internal/app"
	"pdcaflow/internal/config"
	"pdcaflow/internal/dates"
	"pdcaflow/internal/db"
	"pdcaflow/internal/domain"
	"pdcaflow/internal/engine"
	"pdcaflow/internal/engine/auth"
	"pdcaflow/internal/filter"
	"pdcaflow/internal/repo"
	"pdcaflow/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "pdca",
	Short: "PDCA action tracker",
	Long: `pdca tracks improvement projects and their actions through a configurable status catalog.
- Project: a titled container with assigned users and departments.
- Action: a numbered line item (seq 1, 2, ...) with assignees, dates and a status.
- Status catalog: each status has a type; "start" stamps the start date, "end" stamps the actual end date.
- Views: calendar, dashboard (stats) and the weekly report of finalized actions.
- Event log: every change is recorded, view it with 'pdca log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PDCA")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("as", "admin", "user id to act as")
	rootCmd.PersistentFlags().String("log-level", "", "debug, info, warn or error (defaults to config)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("as", rootCmd.PersistentFlags().Lookup("as"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(actionCmd())
	rootCmd.AddCommand(subactionCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(deptCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(calendarCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(prefCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create pdca.yml and the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				fmt.Printf("%s exists, keeping it (use --force to overwrite)\n", path)
			} else {
				if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				fmt.Printf("Wrote %s\n", path)
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				fmt.Printf("Workspace %q ready, admin user %q\n", ws.Config.Workspace.Name, ws.Config.Admin.ID)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing pdca.yml")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Inspect configuration"}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.LoadOrDefault(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(c)
			}
			return yaml.NewEncoder(os.Stdout).Encode(c)
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate pdca.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(viper.GetString("workspace")); err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	})
	return cfg
}

// --- projects ---

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectUpdateCmd())
	prj.AddCommand(projectLifecycleCmd("archive", "Hide a project from views", engine.Engine.ArchiveProject))
	prj.AddCommand(projectLifecycleCmd("restore", "Bring an archived project back", engine.Engine.RestoreProject))
	prj.AddCommand(projectDeleteCmd())
	prj.AddCommand(projectProgressCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	var archived string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor auth.Principal) error {
				f := repo.ProjectFilters{}
				switch archived {
				case "", "exclude":
				case "include":
					f.IncludeArchived = true
				case "only":
					f.OnlyArchived = true
				default:
					return fmt.Errorf("--archived must be exclude, include or only")
				}
				items, err := ws.Engine.Projects(ctx, actor, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Title", "Users", "Departments", "Created by", "Archived"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Title, strings.Join(p.AssignedUsers, ","), strings.Join(p.AssignedDepartments, ","), p.CreatedBy, p.Archived})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&archived, "archived", "exclude", "exclude, include or only")
	return cmd
}

func projectCreateCmd() *cobra.Command {
	var opts engine.ProjectCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor auth.Principal) error {
				opts.Actor = actor
				p, err := ws.Engine.CreateProject(ctx, opts)
				if err != nil {
					return err
				}
				return printResult(p, "Created project %s", p.ID)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "project title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringSliceVar(&opts.AssignedUsers, "user", nil, "assigned user (repeatable)")
	cmd.Flags().StringSliceVar(&opts.AssignedDepartments, "dept", nil, "assigned department (repeatable)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor auth.Principal) error {
				p, err := ws.Engine.Project(ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
}

func projectUpdateCmd() *cobra.Command {
	var title, desc string
	var users, depts []string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update project fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch engine.ProjectPatch
			if cmd.Flags().Changed("title") {
				patch.Title = &title
			}
			if cmd.Flags().Changed("description") {
				patch.Description = &desc
			}
			if cmd.Flags().Changed("user") {
				patch.AssignedUsers = &users
			}
			if cmd.Flags().Changed("dept") {
				patch.AssignedDepartments = &depts
			}
			return withActor(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor auth.Principal) error {
				p, err := ws.Engine.UpdateProject(ctx, args[0], patch, actor)
				if err != nil {
					return err
				}
				return printResult(p, "Updated project %s", p.ID)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "project title")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringSliceVar(&users, "user", nil, "assigned users (replaces the list)")
	cmd.Flags().StringSliceVar(&depts, "dept", nil, "assigned departments (replaces the list)")
	return cmd
}

func projectLifecycleCmd(use, short string, fn func(engine.Engine, context.Context, string, auth.Principal) (domain.Project, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor auth.Principal) error {
				p, err := fn(ws.Engine, ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printResult(p, "Project %s archived=%t", p.ID, p.Archived)
			})
		},
	}
}

func projectDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete project and all its actions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor auth.Principal) error {
				if err := ws.Engine.DeleteProject(ctx, args[0], actor); err != nil {
					var ce *engine.CascadeError
					if errors.As(err, &ce) {
						fmt.Printf("Deleted %d actions, %d failed; run delete again to retry\n", len(ce.Deleted), len(ce.Failed))
					}
					return err
				}
				fmt.Printf("Deleted project %s\n", args[0])
				return nil
			})
		},
	}
}

func projectProgressCmd() *cobra.Command {
	var fq filterFlags
	cmd := &cobra.Command{
		Use:   "progress <id>",
		Short: "Show a project's progress and actions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor auth.Principal) error {
				view, err := ws.Engine.ProjectProgress(ctx, ws.Registry, actor, args[0], fq.override(cmd))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(view)
				}
				fmt.Printf("%s: %d%% done\n", view.Project.Title, view.Progress)
				printActions(view.Actions)
				return nil
			})
		},
	}
	fq.bind(cmd)
	return cmd
}

// --- actions ---

func actionCmd() *cobra.Command {
	a := &cobra.Command{Use: "action", Short: "Manage a project's actions"}
	a.AddCommand(actionListCmd())
	a.AddCommand(actionAddCmd())
	a.AddCommand(actionShowCmd())
	a.AddCommand(actionUpdateCmd())
	a.AddCommand(actionStatusCmd())
	a.AddCommand(actionDeleteCmd())
	return a
}

func actionListCmd() *cobra.Command {
	var projectID string
	var fq filterFlags
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List actions, optionally of one project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor auth.Principal) error {
				var c filter.Criteria
				if o := fq.override(cmd); o != nil {
					c = *o
				}
				items, err := ws.Engine.Actions(ctx, actor, projectID, c)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				printActions(items)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	fq.bind(cmd)
	return cmd
}

func actionAddCmd() *cobra.Command {
	var opts engine.ActionCreateOptions
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an action to a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor auth.Principal) error {
				opts.Actor = actor
				a, err := ws.Engine.CreateAction(ctx, opts)
				if err != nil {
					return err
				}
				return printResult(a, "Created action #%d (%s)", a.SeqID, a.ID)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&opts.Action, "text", "", "what has to be done")
	cmd.Flags().StringSliceVar(&opts.AssignedUsers, "user", nil, "assigned user (repeatable)")
	cmd.Flags().StringVar(&opts.Status, "status", "", "initial status (defaults to config)")
	cmd.Flags().StringVar(&opts.ProposedStartDate, "proposed-start", "", "YYYY-MM-DD")
	cmd.Flags().StringVar(&opts.ProposedEndDate, "proposed-end", "", "YYYY-MM-DD")
	cmd.Flags().StringVar(&opts.Observations, "observations", "", "free text")
	cmd.Flags().BoolVar(&opts.Priority, "priority", false, "flag as priority")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func actionShowCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "show <action-id>",
		Short: "Show an action with its sub-actions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor auth.Principal) error {
				a, err := ws.Engine.Action(ctx, actor, projectID, args[0])
				if err != nil {
					return err
				}
				return printJSON(a)
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func actionUpdateCmd() *cobra.Command {
	var projectID string
	var text, status, pStart, pEnd, start, end, obs string
	var users []string
	var priority bool
	cmd := &cobra.Command{
		Use:   "update <action-id>",
		Short: "Update action fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch engine.ActionPatch
			for _, f := range []struct {
				name string
				val  *string
				dst  **string
			}{
				{"text", &text, &patch.Action},
				{"status", &status, &patch.Status},
				{"proposed-start", &pStart, &patch.ProposedStartDate},
				{"proposed-end", &pEnd, &patch.ProposedEndDate},
				{"start", &start, &patch.StartDate},
				{"end", &end, &patch.ActualEndDate},
				{"observations", &obs, &patch.Observations},
			} {
				if cmd.Flags().Changed(f.name) {
					*f.dst = f.val
				}
			}
			if cmd.Flags().Changed("user") {
				patch.AssignedUsers = &users
			}
			if cmd.Flags().Changed("priority") {
				patch.Priority = &priority
			}
			return withActor(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor auth.Principal) error {
				a, err := ws.Engine.UpdateAction(ctx, projectID, args[0], patch, actor)
				if err != nil {
					return err
				}
				return printResult(a, "Updated action #%d", a.SeqID)
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	cmd.Flags().StringVar(&text, "text", "", "action text")
	cmd.Flags().StringVar(&status, "status", "", "status id")
	cmd.Flags().StringVar(&pStart, "proposed-start", "", "YYYY-MM-DD, empty clears")
	cmd.Flags().StringVar(&pEnd, "proposed-end", "", "YYYY-MM-DD, empty clears")
	cmd.Flags().StringVar(&start, "start", "", "YYYY-MM-DD, empty clears")
	cmd.Flags().StringVar(&end, "end", "", "YYYY-MM-DD, empty clears")
	cmd.Flags().StringVar(&obs, "observations", "", "free text")
	cmd.Flags().StringSliceVar(&users, "user", nil, "assigned users (replaces the list)")
	cmd.Flags().BoolVar(&priority, "priority", false, "priority flag")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func actionStatusCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "status <action-id> <status>",
		Short: "Change an action's status",
		Long:  "A status of type start sets the start date to today; a status of type end sets the actual end date to today unless it is already set.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor auth.Principal) error {
				a, err := ws.Engine.SetActionStatus(ctx, projectID, args[0], args[1], actor)
				if err != nil {
					return err
				}
				return printResult(a, "Action #%d is %s (start %s, end %s)", a.SeqID, a.Status, dash(a.StartDate), dash(a.ActualEndDate))
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func actionDeleteCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "delete <action-id>",
		Short: "Delete an action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor auth.Principal) error {
				if err := ws.Engine.DeleteAction(ctx, projectID, args[0], actor); err != nil {
					return err
				}
				fmt.Printf("Deleted action %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

// --- sub-actions ---

func subactionCmd() *cobra.Command {
	var projectID, actionID string
	sub := &cobra.Command{Use: "subaction", Short: "Manage an action's checklist"}
	sub.PersistentFlags().StringVar(&projectID, "project", "", "project id")
	sub.PersistentFlags().StringVar(&actionID, "action", "", "parent action id")
	_ = sub.MarkPersistentFlagRequired("project")
	_ = sub.MarkPersistentFlagRequired("action")

	var opts engine.SubactionCreateOptions
	add := &cobra.Command{
		Use:   "add",
		Short: "Append a sub-action",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor auth.Principal) error {
				a, err := ws.Engine.AddSubaction(ctx, projectID, actionID, opts, actor)
				if err != nil {
					return err
				}
				return printResult(a, "Action #%d has %d sub-actions", a.SeqID, len(a.Subactions))
			})
		},
	}
	add.Flags().StringVar(&opts.Title, "title", "", "sub-action title")
	add.Flags().StringVar(&opts.Status, "status", "", "initial status")
	add.Flags().StringSliceVar(&opts.AssignedUsers, "user", nil, "assigned user (repeatable)")
	_ = add.MarkFlagRequired("title")

	var title, status string
	var users []string
	update := &cobra.Command{
		Use:   "update <subaction-id>",
		Short: "Update a sub-action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch engine.SubactionPatch
			if cmd.Flags().Changed("title") {
				patch.Title = &title
			}
			if cmd.Flags().Changed("status") {
				patch.Status = &status
			}
			if cmd.Flags().Changed("user") {
				patch.AssignedUsers = &users
			}
			return withActor(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor auth.Principal) error {
				a, err := ws.Engine.UpdateSubaction(ctx, projectID, actionID, args[0], patch, actor)
				if err != nil {
					return err
				}
				return printResult(a, "Updated sub-action %s", args[0])
			})
		},
	}
	update.Flags().StringVar(&title, "title", "", "title")
	update.Flags().StringVar(&status, "status", "", "status id")
	update.Flags().StringSliceVar(&users, "user", nil, "assigned users (replaces the list)")

	del := &cobra.Command{
		Use:   "delete <subaction-id>",
		Short: "Remove a sub-action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor auth.Principal) error {
				a, err := ws.Engine.DeleteSubaction(ctx, projectID, actionID, args[0], actor)
				if err != nil {
					return err
				}
				return printResult(a, "Action #%d has %d sub-actions", a.SeqID, len(a.Subactions))
			})
		},
	}
	sub.AddCommand(add, update, del)
	return sub
}

// --- catalog ---

func statusCmd() *cobra.Command {
	st := &cobra.Command{Use: "status", Short: "Status catalog"}
	st.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List statuses in display order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				statuses, err := ws.Registry.Statuses(ctx)
				if err != nil {
					return err
				}
				list := statuses.List()
				if viper.GetBool("json") {
					return printJSON(list)
				}
				tw := newTable(table.Row{"ID", "Label", "Color", "Type"})
				for _, s := range list {
					tw.AppendRow(table.Row{s.ID, s.Label, s.Color, s.Type})
				}
				tw.Render()
				return nil
			})
		},
	})
	st.AddCommand(catalogSaveCmd("Replace the status catalog from a YAML list", func(ctx context.Context, ws *app.Workspace, actor auth.Principal, data []byte) (int, error) {
		var list []domain.StatusDef
		if err := yaml.Unmarshal(data, &list); err != nil {
			return 0, err
		}
		saved, err := ws.Engine.SaveStatuses(ctx, list, actor)
		return len(saved), err
	}))
	return st
}

func deptCmd() *cobra.Command {
	d := &cobra.Command{Use: "dept", Short: "Department catalog"}
	d.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List departments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				depts, err := ws.Registry.Departments(ctx)
				if err != nil {
					return err
				}
				list := depts.List()
				if viper.GetBool("json") {
					return printJSON(list)
				}
				tw := newTable(table.Row{"ID", "Name"})
				for _, dep := range list {
					tw.AppendRow(table.Row{dep.ID, dep.Name})
				}
				tw.Render()
				return nil
			})
		},
	})
	d.AddCommand(catalogSaveCmd("Replace the department catalog from a YAML list", func(ctx context.Context, ws *app.Workspace, actor auth.Principal, data []byte) (int, error) {
		var list []domain.Department
		if err := yaml.Unmarshal(data, &list); err != nil {
			return 0, err
		}
		saved, err := ws.Engine.SaveDepartments(ctx, list, actor)
		return len(saved), err
	}))
	return d
}

func catalogSaveCmd(short string, save func(context.Context, *app.Workspace, auth.Principal, []byte) (int, error)) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "save",
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor auth.Principal) error {
				n, err := save(ctx, ws, actor, data)
				if err != nil {
					return err
				}
				fmt.Printf("Saved %d entries\n", n)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to YAML list")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func userCmd() *cobra.Command {
	u := &cobra.Command{Use: "user", Short: "User profiles"}
	u.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				users, err := ws.Registry.Users(ctx)
				if err != nil {
					return err
				}
				list := users.List()
				if viper.GetBool("json") {
					return printJSON(list)
				}
				tw := newTable(table.Row{"ID", "Name", "Email", "Role"})
				for _, p := range list {
					tw.AppendRow(table.Row{p.ID, p.DisplayName, p.Email, p.Role})
				}
				tw.Render()
				return nil
			})
		},
	})

	var email, name, role string
	upsert := &cobra.Command{
		Use:   "upsert <id>",
		Short: "Create or update a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor auth.Principal) error {
				p, err := ws.Engine.UpsertUser(ctx, domain.UserProfile{ID: args[0], Email: email, DisplayName: name, Role: domain.Role(role)}, actor)
				if err != nil {
					return err
				}
				return printResult(p, "Saved user %s (%s)", p.ID, p.Role)
			})
		},
	}
	upsert.Flags().StringVar(&email, "email", "", "email")
	upsert.Flags().StringVar(&name, "name", "", "display name")
	upsert.Flags().StringVar(&role, "role", "", "user or admin (admins only)")
	u.AddCommand(upsert)

	u.AddCommand(&cobra.Command{
		Use:   "role <id> <user|admin>",
		Short: "Change a user's role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor auth.Principal) error {
				if err := ws.Engine.SetUserRole(ctx, args[0], domain.Role(args[1]), actor); err != nil {
					return err
				}
				fmt.Printf("%s is now %s\n", args[0], args[1])
				return nil
			})
		},
	})
	return u
}

// --- views ---

func calendarCmd() *cobra.Command {
	var year, month int
	var fq filterFlags
	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "Show actions by day for a month",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor auth.Principal) error {
				today, _ := dates.Parse(ws.Engine.Today())
				if year == 0 {
					year = today.Year()
				}
				if month == 0 {
					month = int(today.Month())
				}
				view, err := ws.Engine.Calendar(ctx, actor, year, time.Month(month), fq.override(cmd))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(view)
				}
				days := make([]string, 0, len(view.Calendar.Days))
				for d := range view.Calendar.Days {
					days = append(days, d)
				}
				sort.Strings(days)
				tw := newTable(table.Row{"Day", "#", "Action", "Status"})
				for _, d := range days {
					for _, a := range view.Calendar.Day(d) {
						tw.AppendRow(table.Row{d, a.SeqID, a.Action, a.Status})
					}
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&year, "year", 0, "year (defaults to current)")
	cmd.Flags().IntVar(&month, "month", 0, "month 1-12 (defaults to current)")
	fq.bind(cmd)
	return cmd
}

func reportCmd() *cobra.Command {
	var start, end string
	var fq filterFlags
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Actions finalized in a period (default: previous week)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor auth.Principal) error {
				var period *aggregate.Period
				if start != "" || end != "" {
					period = &aggregate.Period{Start: start, End: end}
				}
				view, err := ws.Engine.Report(ctx, ws.Registry, actor, period, fq.override(cmd))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(view)
				}
				r := view.Report
				fmt.Printf("Finalized %s .. %s: %d\n", r.Period.Start, r.Period.End, r.Total)
				tw := newTable(table.Row{"User", "Project", "#", "Action", "Ended"})
				for _, u := range r.Users {
					who := u.DisplayName
					if u.UserID == aggregate.UnassignedUser {
						who = "(unassigned)"
					}
					for _, g := range u.Projects {
						for _, a := range g.Actions {
							tw.AppendRow(table.Row{who, g.Title, a.SeqID, a.Action, a.ActualEndDate})
						}
					}
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "YYYY-MM-DD")
	cmd.Flags().StringVar(&end, "end", "", "YYYY-MM-DD")
	fq.bind(cmd)
	return cmd
}

func statsCmd() *cobra.Command {
	var fq filterFlags
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Dashboard: progress per project and, for admins, workload per user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor auth.Principal) error {
				view, err := ws.Engine.Dashboard(ctx, ws.Registry, actor, fq.override(cmd))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(view)
				}
				fmt.Printf("Overall progress: %d%%\n", view.Progress)
				tw := newTable(table.Row{"Project", "Done", "Total", "Progress"})
				for _, p := range view.Projects {
					tw.AppendRow(table.Row{p.Title, p.Done, p.Total, fmt.Sprintf("%d%%", p.Progress)})
				}
				tw.Render()
				st := newTable(table.Row{"Status", "Actions"})
				for _, s := range view.Statuses {
					st.AppendRow(table.Row{s.Status.Label, s.Count})
				}
				st.Render()
				if len(view.Workload) > 0 {
					wl := newTable(table.Row{"User", "Pending", "Priority"})
					for _, l := range view.Workload {
						wl.AppendRow(table.Row{l.DisplayName, l.Pending, l.Priority})
					}
					wl.Render()
				}
				return nil
			})
		},
	}
	fq.bind(cmd)
	return cmd
}

func prefCmd() *cobra.Command {
	p := &cobra.Command{Use: "pref", Short: "Saved view filters"}
	p.AddCommand(&cobra.Command{
		Use:   "show <view>",
		Short: "Show the filters a view opens with",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := filter.ParseView(args[0])
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor auth.Principal) error {
				c, saved, err := ws.Engine.LoadCriteria(ctx, actor, view)
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"view": view, "saved": saved != nil, "criteria": c})
			})
		},
	})
	var fq filterFlags
	var columns []string
	set := &cobra.Command{
		Use:   "set <view>",
		Short: "Save filters for a view",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := filter.ParseView(args[0])
			if err != nil {
				return err
			}
			pref := filter.Preference{Columns: columns}
			if o := fq.override(cmd); o != nil {
				pref.Filters = o
			} else {
				pref.Filters = &filter.Criteria{}
			}
			return withActor(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor auth.Principal) error {
				saved, err := ws.Engine.SavePreference(ctx, actor, view, pref)
				if err != nil {
					return err
				}
				return printJSON(saved)
			})
		},
	}
	set.Flags().StringSliceVar(&columns, "column", nil, "visible column (repeatable)")
	fq.bind(set)
	p.AddCommand(set)
	return p
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Activity log"}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the newest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				items, err := ws.Repo.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "TS", "Type", "Project", "Entity", "Actor"})
				for _, e := range items {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.ProjectID, e.EntityKind + ":" + e.EntityID, e.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&f.Limit, "n", "n", 20, "number of events")
	cmd.Flags().StringVar(&f.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

// --- server ---

func tokenCmd() *cobra.Command {
	var role string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <uid>",
		Short: "Mint a bearer token for the API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			secret := jwtSecret(cfg)
			if secret == "" {
				return fmt.Errorf("set auth.jwt_secret in pdca.yml or PDCA_JWT_SECRET")
			}
			if ttl == 0 {
				ttl = cfg.TokenTTL()
			}
			tok, err := server.SignToken(secret, args[0], domain.ParseRole(role), ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "user", "role claim; a stored profile role takes precedence")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to config)")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				cfg := ws.Config
				secret := jwtSecret(cfg)
				if secret == "" {
					return fmt.Errorf("auth.jwt_secret or PDCA_JWT_SECRET is required for bearer auth")
				}
				if addr == "" {
					addr = cfg.Server.Addr
				}
				if basePath == "" {
					basePath = cfg.Server.BasePath
				}
				handler, err := server.New(server.Config{
					Engine:   ws.Engine,
					Store:    ws.Store,
					Catalog:  ws.Registry,
					BasePath: basePath,
					Auth: server.AuthConfig{
						JWTSecret: secret,
						DevLogin:  cfg.Auth.DevLogin,
						TokenTTL:  cfg.TokenTTL(),
						Logger:    ws.Logger.WithPrefix("auth"),
					},
					Logger: ws.Logger.WithPrefix("http"),
				})
				if err != nil {
					return err
				}
				server.StartWebhooks(ctx, ws.Repo, cfg, ws.Logger.WithPrefix("webhooks"))
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				ws.Logger.Info("serving", "url", "http://"+addr+basePath, "openapi", basePath+"/openapi.json", "docs", basePath+"/docs")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to server.base_path)")
	return cmd
}

// --- helpers ---

// filterFlags are the shared --users/--statuses/--projects/--from/--to flags.
// When none is given the view uses the saved preference or its default.
type filterFlags struct {
	users, statuses, projects []string
	from, to                  string
}

func (f *filterFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.users, "users", nil, "user ids")
	cmd.Flags().StringSliceVar(&f.statuses, "statuses", nil, "status ids")
	cmd.Flags().StringSliceVar(&f.projects, "projects", nil, "project ids")
	cmd.Flags().StringVar(&f.from, "from", "", "start date lower bound")
	cmd.Flags().StringVar(&f.to, "to", "", "start date upper bound")
}

func (f *filterFlags) override(cmd *cobra.Command) *filter.Criteria {
	changed := false
	for _, name := range []string{"users", "statuses", "projects", "from", "to"} {
		changed = changed || cmd.Flags().Changed(name)
	}
	if !changed {
		return nil
	}
	return &filter.Criteria{Users: f.users, Statuses: f.statuses, Projects: f.projects, From: f.from, To: f.to}
}

func newLogger(cfg *config.Config) (*log.Logger, error) {
	raw := viper.GetString("log-level")
	if raw == "" {
		raw = cfg.Logging.Level
	}
	if raw == "" {
		raw = "info"
	}
	level, err := log.ParseLevel(raw)
	if err != nil {
		return nil, fmt.Errorf("parse logging level %q: %w", raw, err)
	}
	return log.NewWithOptions(os.Stderr, log.Options{
		Level:           level,
		Prefix:          "pdca",
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
	}), nil
}

func withWorkspace(ctx context.Context, fn func(context.Context, *app.Workspace) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.LoadOrDefault(workspace)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	ws, err := app.Open(ctx, app.Options{Dir: workspace, Config: cfg, Logger: logger})
	if err != nil {
		return err
	}
	defer ws.Close()
	return fn(ctx, ws)
}

// withActor resolves --as against the stored profiles; unknown users act with the user role.
func withActor(ctx context.Context, fn func(context.Context, *app.Workspace, auth.Principal) error) error {
	return withWorkspace(ctx, func(ctx context.Context, ws *app.Workspace) error {
		uid := strings.TrimSpace(viper.GetString("as"))
		if uid == "" {
			return fmt.Errorf("--as is required")
		}
		actor := auth.Principal{UID: uid, Role: domain.RoleUser}
		u, err := ws.Repo.GetUser(ctx, uid)
		switch {
		case err == nil:
			actor.Role = u.Role
		case !errors.Is(err, repo.ErrNotFound):
			return err
		}
		ws.Logger.Debug("acting", "uid", actor.UID, "role", actor.Role)
		return fn(ctx, ws, actor)
	})
}

func jwtSecret(cfg *config.Config) string {
	if s := viper.GetString("jwt-secret"); s != "" {
		return s
	}
	return cfg.Auth.JWTSecret
}

func newTable(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	return tw
}

func printActions(items []domain.Action) {
	tw := newTable(table.Row{"#", "Action", "Users", "Status", "Start", "End", "Subs", "!"})
	for _, a := range items {
		prio := ""
		if a.Priority {
			prio = "!"
		}
		tw.AppendRow(table.Row{a.SeqID, a.Action, strings.Join(a.AssignedUsers, ","), a.Status, dash(a.StartDate), dash(a.ActualEndDate), len(a.Subactions), prio})
	}
	tw.Render()
}

func printResult(v any, format string, args ...any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	fmt.Printf(format+"\n", args...)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"storyline/internal/api"
	"storyline/internal/app"
	"storyline/internal/config"
	"storyline/internal/domain"
	"storyline/internal/engine"
	"storyline/internal/logger"
	"storyline/internal/mutation"
	"storyline/internal/querykey"
	"storyline/internal/server"
	"storyline/internal/session"
)

var rootCmd = &cobra.Command{
	Use:   "sl",
	Short: "Storyline CLI",
	Long: `Storyline tracks stories and objectives.
- Stories: work items numbered per team, optionally one level of sub-stories.
- Objectives: goals measured by key results, each with a progress in percent.
- Writes are optimistic: the local cache is patched first, rolled back if the
  server refuses, and refetched once it accepts.
- Deleted and archived stories can be restored until they are purged.
- The server keeps an audit trail, view it with 'sl events'.`,
	SilenceUsage: true,
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
	viper.SetEnvPrefix("STORYLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("dir", "d", ".", "directory holding storyline.yml")
	flags.StringP("workspace", "w", "", "workspace id (overrides config)")
	flags.Bool("json", false, "output JSON")
	flags.String("base-url", "", "API base URL (overrides config)")
	flags.String("token", "", "bearer token (overrides config)")
	flags.String("api-key", "", "API key (overrides config)")
	flags.String("user-id", "", "acting user for local commands (overrides config)")
	flags.String("log-level", "", "log level (overrides config)")
	flags.Bool("prompt", false, "offer undo and retry after mutations")
	for _, name := range []string{"dir", "workspace", "json", "base-url", "token", "api-key", "user-id", "log-level", "prompt"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(purgeCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(storyCmd())
	rootCmd.AddCommand(objectiveCmd())
	rootCmd.AddCommand(keyResultCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(eventsCmd())
}

func initCmd() *cobra.Command {
	var workspaceID string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default storyline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(workspaceID) == "" {
				return fmt.Errorf("--workspace-id required")
			}
			path := config.Path(viper.GetString("dir"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(workspaceID)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&workspaceID, "workspace-id", "", "workspace id")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			ctx := cmd.Context()
			e, closeDB, err := app.OpenEngine(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer closeDB()
			if err := app.Bootstrap(ctx, e, "system"); err != nil {
				return err
			}
			if strings.TrimSpace(cfg.Server.JWTSecret) == "" {
				return fmt.Errorf("server.jwt_secret (or STORYLINE_JWT_SECRET) is required for bearer auth")
			}
			handler, err := server.New(server.Config{
				Engine:   e,
				BasePath: "/v0",
				Auth:     server.AuthConfig{JWTSecret: cfg.Server.JWTSecret, DevAuth: cfg.Server.DevAuth},
				Log:      log.Named("http"),
			})
			if err != nil {
				return err
			}
			go app.RunPurger(ctx, e, cfg.Server.PurgeInterval)
			go server.NewWebhookDispatcher(e, cfg.Webhooks, log.Named("webhooks")).Run(ctx)

			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			log.Infow("serving storyline API", "addr", addr, "openapi", "/v0/openapi.json", "docs", "/docs", "dev_auth", cfg.Server.DevAuth)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}

func purgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Permanently remove stories deleted longer ago than the retention",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ engine.Scope) error {
				n, err := e.PurgeDeleted(ctx, actorID(e.Config))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]int{"purged": n})
				}
				fmt.Printf("Purged %d stories\n", n)
				return nil
			})
		},
	}
}

func tokenCmd() *cobra.Command {
	var userID string
	var ttl time.Duration
	var dev bool
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token",
		Long:  "Signs a token with server.jwt_secret, or with --dev asks a server running with dev_auth for one.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			if userID == "" {
				userID = cfg.Client.UserID
			}
			if userID == "" {
				return fmt.Errorf("--user required")
			}
			var token string
			if dev {
				c, err := app.NewClient(cfg, log, app.ClientOptions{})
				if err != nil {
					return err
				}
				out, err := unwrap(c.API.DevLogin(cmd.Context(), userID, cfg.Workspace.ID))
				if err != nil {
					return err
				}
				token = out.Token
			} else {
				token, err = session.Sign(cfg.Server.JWTSecret, session.Identity{UserID: userID, WorkspaceID: cfg.Workspace.ID}, ttl, time.Now())
				if err != nil {
					return err
				}
			}
			if viper.GetBool("json") {
				return printJSON(map[string]string{"token": token})
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (defaults to client.user_id)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	cmd.Flags().BoolVar(&dev, "dev", false, "use the server's dev login endpoint")
	return cmd
}

func apiKeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "Manage API keys in the local database"}
	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, sc engine.Scope) error {
				key, secret, err := e.CreateAPIKey(ctx, sc, name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"key": key, "secret": secret})
				}
				fmt.Printf("API key %s created for %s\n", key.ID, key.UserID)
				fmt.Printf("Secret (shown once): %s\n", secret)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "key name")
	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys of the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, sc engine.Scope) error {
				keys, err := e.ListAPIKeys(ctx, sc)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := newTable("ID", "Name", "User", "Created")
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.Name, k.UserID, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	revoke := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ engine.Scope) error {
				if err := e.RevokeAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("Revoked %s\n", args[0])
				return nil
			})
		},
	}
	cmd.AddCommand(create, list, revoke)
	return cmd
}

// --- stories ---

func storyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "story", Short: "Manage stories"}
	cmd.AddCommand(storyListCmd())
	cmd.AddCommand(storyGroupedCmd())
	cmd.AddCommand(storyGetCmd())
	cmd.AddCommand(storyCreateCmd())
	cmd.AddCommand(storyUpdateCmd())
	cmd.AddCommand(storyMoveCmd())
	cmd.AddCommand(storyDeleteCmd())
	cmd.AddCommand(storyIDsCmd("archive", "Archive stories", func(c *app.Client) *mutation.Mutation[[]string, domain.IDs] { return c.Stories.Archive }))
	cmd.AddCommand(storyIDsCmd("restore", "Restore deleted or archived stories", func(c *app.Client) *mutation.Mutation[[]string, domain.IDs] { return c.Stories.Restore }))
	cmd.AddCommand(storyIDsCmd("bulk-delete", "Delete several stories", func(c *app.Client) *mutation.Mutation[[]string, domain.IDs] { return c.Stories.BulkDelete }))
	cmd.AddCommand(storyBulkUpdateCmd())
	return cmd
}

func addFilterFlags(cmd *cobra.Command, f *domain.StoryFilter) {
	cmd.Flags().StringVar(&f.TeamID, "team", "", "team filter")
	cmd.Flags().StringVar(&f.SprintID, "sprint", "", "sprint filter")
	cmd.Flags().StringVar(&f.ObjectiveID, "objective", "", "objective filter")
	cmd.Flags().StringVar(&f.ParentID, "parent", "", "parent story filter")
	cmd.Flags().StringVar(&f.AssigneeID, "assignee", "", "assignee filter")
	cmd.Flags().StringVar(&f.StatusID, "status", "", "status filter")
}

func storyListCmd() *cobra.Command {
	var f domain.StoryFilter
	var page, pageSize int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stories",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				if page > 0 {
					out, err := unwrap(c.API.StoriesPage(ctx, f, page, pageSize))
					if err != nil {
						return err
					}
					if viper.GetBool("json") {
						return printJSON(out)
					}
					printStories(out.Stories)
					fmt.Printf("page %d, %d total, more: %t\n", out.Page, out.TotalCount, out.HasMore)
					return nil
				}
				stories, err := unwrap(c.API.ListStories(ctx, f))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(stories)
				}
				printStories(stories)
				return nil
			})
		},
	}
	addFilterFlags(cmd, &f)
	cmd.Flags().IntVar(&page, "page", 0, "fetch one page (1-based) instead of the full list")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "page size")
	return cmd
}

func storyGroupedCmd() *cobra.Command {
	var f domain.StoryFilter
	var by string
	var pageSize, page int
	var group string
	cmd := &cobra.Command{
		Use:   "grouped",
		Short: "Show stories grouped by status, priority or assignee",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				groupBy := domain.GroupBy(by)
				if !groupBy.Valid() {
					return fmt.Errorf("--by must be status, priority, assignee or none")
				}
				if group != "" {
					g, err := unwrap(c.API.StoryGroupPage(ctx, f, groupBy, group, page, pageSize))
					if err != nil {
						return err
					}
					return printGroups([]domain.StoryGroup{g})
				}
				filters := querykey.Filters(f.Map())
				key := querykey.MyStories(c.API.WorkspaceID, groupBy, filters)
				if f.TeamID != "" {
					key = querykey.TeamStories(c.API.WorkspaceID, f.TeamID, groupBy, filters)
				}
				data, err := c.Store.Fetch(ctx, key, func(ctx context.Context) (any, error) {
					return unwrap(c.API.GroupedStories(ctx, f, groupBy, pageSize))
				})
				if err != nil {
					return err
				}
				groups, _ := data.([]domain.StoryGroup)
				return printGroups(groups)
			})
		},
	}
	addFilterFlags(cmd, &f)
	cmd.Flags().StringVar(&by, "by", string(domain.GroupByStatus), "grouping: status, priority, assignee, none")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "stories per group page")
	cmd.Flags().StringVar(&group, "group", "", "load a further page of this group key")
	cmd.Flags().IntVar(&page, "page", 2, "page to load with --group")
	return cmd
}

func storyGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a story",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				data, err := c.Store.Fetch(ctx, querykey.StoryDetail(c.API.WorkspaceID, args[0]), func(ctx context.Context) (any, error) {
					return unwrap(c.API.GetStory(ctx, args[0]))
				})
				if err != nil {
					return err
				}
				return printJSON(data)
			})
		},
	}
}

type storyFields struct {
	title, team, status, priority         string
	parent, assignee, objective, sprint   string
	epic, description, startDate, endDate string
	labels                                []string
}

func (s *storyFields) register(cmd *cobra.Command, withTeam bool) {
	cmd.Flags().StringVar(&s.title, "title", "", "title")
	if withTeam {
		cmd.Flags().StringVar(&s.team, "team", "", "team id")
	}
	cmd.Flags().StringVar(&s.status, "status", "", "status id")
	cmd.Flags().StringVar(&s.priority, "priority", "", "urgent, high, medium, low or no_priority")
	cmd.Flags().StringVar(&s.parent, "parent", "", "parent story id")
	cmd.Flags().StringVar(&s.assignee, "assignee", "", "assignee id")
	cmd.Flags().StringVar(&s.objective, "objective", "", "objective id")
	cmd.Flags().StringVar(&s.sprint, "sprint", "", "sprint id")
	cmd.Flags().StringVar(&s.epic, "epic", "", "epic id")
	cmd.Flags().StringVar(&s.description, "description", "", "description")
	cmd.Flags().StringVar(&s.startDate, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&s.endDate, "end", "", "end date (YYYY-MM-DD)")
	cmd.Flags().StringSliceVar(&s.labels, "label", nil, "labels (repeatable)")
}

// update builds a partial update from the flags that were set. Passing an
// empty value clears a nullable reference.
func (s *storyFields) update(cmd *cobra.Command) domain.StoryUpdate {
	var u domain.StoryUpdate
	set := func(name string, v string) *string {
		if cmd.Flags().Changed(name) {
			return &v
		}
		return nil
	}
	u.Title = set("title", s.title)
	u.StatusID = set("status", s.status)
	if cmd.Flags().Changed("priority") {
		p := domain.Priority(s.priority)
		u.Priority = &p
	}
	u.ParentID = set("parent", s.parent)
	u.AssigneeID = set("assignee", s.assignee)
	u.ObjectiveID = set("objective", s.objective)
	u.SprintID = set("sprint", s.sprint)
	u.EpicID = set("epic", s.epic)
	u.Description = set("description", s.description)
	u.StartDate = set("start", s.startDate)
	u.EndDate = set("end", s.endDate)
	if cmd.Flags().Changed("label") {
		labels := append([]string{}, s.labels...)
		u.Labels = &labels
	}
	return u
}

func storyCreateCmd() *cobra.Command {
	var s storyFields
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a story",
		RunE: func(cmd *cobra.Command, args []string) error {
			if s.title == "" || s.team == "" || s.status == "" {
				return fmt.Errorf("--title, --team and --status required")
			}
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				out, err := c.Stories.Create.Mutate(ctx, domain.CreateStory{
					Title:       s.title,
					TeamID:      s.team,
					StatusID:    s.status,
					Priority:    domain.Priority(s.priority),
					ParentID:    optionalString(s.parent),
					AssigneeID:  optionalString(s.assignee),
					ObjectiveID: optionalString(s.objective),
					SprintID:    optionalString(s.sprint),
					EpicID:      optionalString(s.epic),
					Labels:      s.labels,
					Description: s.description,
					StartDate:   optionalString(s.startDate),
					EndDate:     optionalString(s.endDate),
				})
				if err != nil {
					return err
				}
				return printStory(out)
			})
		},
	}
	s.register(cmd, true)
	return cmd
}

func storyUpdateCmd() *cobra.Command {
	var s storyFields
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a story",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u := s.update(cmd)
			if u.Empty() {
				return fmt.Errorf("nothing to update")
			}
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				out, err := c.Stories.Update.Mutate(ctx, mutation.UpdateStoryInput{ID: args[0], Update: u})
				if err != nil {
					return err
				}
				return printStory(out)
			})
		},
	}
	s.register(cmd, false)
	return cmd
}

func storyMoveCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "move <id>",
		Short: "Move a story to another status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if status == "" {
				return fmt.Errorf("--status required")
			}
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				out, err := c.Stories.Move.Mutate(ctx, mutation.MoveStoryInput{ID: args[0], StatusID: status})
				if err != nil {
					return err
				}
				return printStory(out)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "target status id")
	return cmd
}

func storyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a story",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				out, err := c.Stories.Delete.Mutate(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				return nil
			})
		},
	}
}

func storyIDsCmd(use, short string, pick func(*app.Client) *mutation.Mutation[[]string, domain.IDs]) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				out, err := pick(c).Mutate(ctx, args)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				return nil
			})
		},
	}
}

func storyBulkUpdateCmd() *cobra.Command {
	var s storyFields
	cmd := &cobra.Command{
		Use:   "bulk-update <id>...",
		Short: "Apply one update to several stories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u := s.update(cmd)
			if u.Empty() {
				return fmt.Errorf("nothing to update")
			}
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				out, err := c.Stories.BulkUpdate.Mutate(ctx, domain.BulkUpdate{IDs: args, Update: u})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				printStories(out)
				return nil
			})
		},
	}
	s.register(cmd, false)
	return cmd
}

// --- objectives ---

func objectiveCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "objective", Short: "Manage objectives"}
	var f api.ObjectiveFilter
	list := &cobra.Command{
		Use:   "list",
		Short: "List objectives with their progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				data, err := c.Store.Fetch(ctx, querykey.ObjectiveList(c.API.WorkspaceID, f.Map()), func(ctx context.Context) (any, error) {
					return unwrap(c.API.ListObjectives(ctx, f))
				})
				if err != nil {
					return err
				}
				items, _ := data.([]domain.Objective)
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Name", "Status", "Key results", "Progress")
				for _, o := range items {
					tw.AppendRow(table.Row{o.ID, o.Name, deref(o.StatusID), len(o.KeyResults), fmt.Sprintf("%d%%", o.Progress())})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&f.StatusID, "status", "", "status filter")
	list.Flags().StringVar(&f.TeamID, "team", "", "team filter")

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show an objective",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				data, err := c.Store.Fetch(ctx, querykey.ObjectiveDetail(c.API.WorkspaceID, args[0]), func(ctx context.Context) (any, error) {
					return unwrap(c.API.GetObjective(ctx, args[0]))
				})
				if err != nil {
					return err
				}
				return printJSON(data)
			})
		},
	}

	var name, desc, status, lead, team, start, end string
	fields := func(cmd *cobra.Command) {
		cmd.Flags().StringVar(&name, "name", "", "name")
		cmd.Flags().StringVar(&desc, "description", "", "description")
		cmd.Flags().StringVar(&status, "status", "", "objective status id")
		cmd.Flags().StringVar(&lead, "lead", "", "lead user id")
		cmd.Flags().StringVar(&team, "team", "", "team id")
		cmd.Flags().StringVar(&start, "start", "", "start date")
		cmd.Flags().StringVar(&end, "end", "", "end date")
	}
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an objective",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name required")
			}
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				out, err := c.Objectives.Create.Mutate(ctx, domain.CreateObjective{
					Name:        name,
					Description: desc,
					StatusID:    optionalString(status),
					LeadID:      optionalString(lead),
					TeamID:      optionalString(team),
					StartDate:   optionalString(start),
					EndDate:     optionalString(end),
				})
				if err != nil {
					return err
				}
				return printJSON(out)
			})
		},
	}
	fields(create)
	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Update an objective",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			set := func(flag, v string) *string {
				if cmd.Flags().Changed(flag) {
					return &v
				}
				return nil
			}
			u := domain.ObjectiveUpdate{
				Name:        set("name", name),
				Description: set("description", desc),
				StatusID:    set("status", status),
				LeadID:      set("lead", lead),
				TeamID:      set("team", team),
				StartDate:   set("start", start),
				EndDate:     set("end", end),
			}
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				out, err := c.Objectives.Update.Mutate(ctx, mutation.UpdateObjectiveInput{ID: args[0], Update: u})
				if err != nil {
					return err
				}
				return printJSON(out)
			})
		},
	}
	fields(update)
	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an objective and unlink its stories",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				_, err := c.Objectives.Delete.Mutate(ctx, args[0])
				return err
			})
		},
	}
	cmd.AddCommand(list, get, create, update, del)
	return cmd
}

func keyResultCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "keyresult", Aliases: []string{"kr"}, Short: "Manage key results"}
	var objectiveID, name, measure, unit string
	var startV, currentV, targetV float64
	fields := func(cmd *cobra.Command) {
		cmd.Flags().StringVar(&name, "name", "", "name")
		cmd.Flags().StringVar(&measure, "type", string(domain.MeasureNumber), "number, percentage or boolean")
		cmd.Flags().StringVar(&unit, "unit", "", "unit")
		cmd.Flags().Float64Var(&startV, "start", 0, "start value")
		cmd.Flags().Float64Var(&currentV, "current", 0, "current value")
		cmd.Flags().Float64Var(&targetV, "target", 0, "target value")
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List key results",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				data, err := c.Store.Fetch(ctx, querykey.KeyResults(c.API.WorkspaceID, objectiveID), func(ctx context.Context) (any, error) {
					return unwrap(c.API.ListKeyResults(ctx, objectiveID))
				})
				if err != nil {
					return err
				}
				items, _ := data.([]domain.KeyResult)
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Objective", "Name", "Type", "Current", "Target", "Progress")
				for _, k := range items {
					tw.AppendRow(table.Row{k.ID, k.ObjectiveID, k.Name, k.MeasurementType, k.CurrentValue, k.TargetValue, fmt.Sprintf("%d%%", k.Progress())})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&objectiveID, "objective", "", "objective id")
	create := &cobra.Command{
		Use:   "create",
		Short: "Add a key result to an objective",
		RunE: func(cmd *cobra.Command, args []string) error {
			if objectiveID == "" || name == "" {
				return fmt.Errorf("--objective and --name required")
			}
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				out, err := c.Objectives.CreateKeyResult.Mutate(ctx, domain.CreateKeyResult{
					ObjectiveID:     objectiveID,
					Name:            name,
					MeasurementType: domain.MeasurementType(measure),
					StartValue:      startV,
					CurrentValue:    currentV,
					TargetValue:     targetV,
					Unit:            unit,
				})
				if err != nil {
					return err
				}
				return printJSON(out)
			})
		},
	}
	create.Flags().StringVar(&objectiveID, "objective", "", "objective id")
	fields(create)
	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a key result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var u domain.KeyResultUpdate
			if cmd.Flags().Changed("name") {
				u.Name = &name
			}
			if cmd.Flags().Changed("type") {
				m := domain.MeasurementType(measure)
				u.MeasurementType = &m
			}
			if cmd.Flags().Changed("unit") {
				u.Unit = &unit
			}
			if cmd.Flags().Changed("start") {
				u.StartValue = &startV
			}
			if cmd.Flags().Changed("current") {
				u.CurrentValue = &currentV
			}
			if cmd.Flags().Changed("target") {
				u.TargetValue = &targetV
			}
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				out, err := c.Objectives.UpdateKeyResult.Mutate(ctx, mutation.UpdateKeyResultInput{ID: args[0], Update: u})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("%s: %d%%\n", out.Name, out.Progress())
				return nil
			})
		},
	}
	fields(update)
	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a key result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				_, err := c.Objectives.DeleteKeyResult.Mutate(ctx, args[0])
				return err
			})
		},
	}
	cmd.AddCommand(list, create, update, del)
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "status", Short: "Manage objective statuses"}
	var name, color, category string
	var sortOrder int
	fields := func(cmd *cobra.Command) {
		cmd.Flags().StringVar(&name, "name", "", "name")
		cmd.Flags().StringVar(&color, "color", "", "color")
		cmd.Flags().StringVar(&category, "category", "", "planned, active, completed or cancelled")
		cmd.Flags().IntVar(&sortOrder, "sort", 0, "sort order")
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List objective statuses",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				data, err := c.Store.Fetch(ctx, querykey.ObjectiveStatuses(c.API.WorkspaceID), func(ctx context.Context) (any, error) {
					return unwrap(c.API.ListObjectiveStatuses(ctx))
				})
				if err != nil {
					return err
				}
				items, _ := data.([]domain.ObjectiveStatus)
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Name", "Category", "Color", "Sort")
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.Name, s.Category, s.Color, s.SortOrder})
				}
				tw.Render()
				return nil
			})
		},
	}
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an objective status",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name required")
			}
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				out, err := c.Objectives.CreateStatus.Mutate(ctx, domain.CreateObjectiveStatus{Name: name, Color: color, Category: category, SortOrder: sortOrder})
				if err != nil {
					return err
				}
				return printJSON(out)
			})
		},
	}
	fields(create)
	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Update an objective status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var u domain.ObjectiveStatusUpdate
			if cmd.Flags().Changed("name") {
				u.Name = &name
			}
			if cmd.Flags().Changed("color") {
				u.Color = &color
			}
			if cmd.Flags().Changed("category") {
				u.Category = &category
			}
			if cmd.Flags().Changed("sort") {
				u.SortOrder = &sortOrder
			}
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				out, err := c.Objectives.UpdateStatus.Mutate(ctx, mutation.UpdateStatusInput{ID: args[0], Update: u})
				if err != nil {
					return err
				}
				return printJSON(out)
			})
		},
	}
	fields(update)
	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an objective status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				_, err := c.Objectives.DeleteStatus.Mutate(ctx, args[0])
				return err
			})
		},
	}
	cmd.AddCommand(list, create, update, del)
	return cmd
}

func eventsCmd() *cobra.Command {
	var n int
	var entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the audit trail",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				items, err := unwrap(c.API.ListEvents(ctx, entityKind, entityID, n))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Time", "Type", "Entity", "Actor")
				for _, evt := range items {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + ":" + evt.EntityID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&n, "limit", "n", 20, "number of events")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

// --- helpers ---

func loadConfig() (*config.Config, *zap.SugaredLogger, error) {
	cfg, err := config.Load(viper.GetString("dir"))
	if err != nil {
		return nil, nil, err
	}
	override := func(dst *string, key string) {
		if v := strings.TrimSpace(viper.GetString(key)); v != "" {
			*dst = v
		}
	}
	override(&cfg.Workspace.ID, "workspace")
	override(&cfg.Client.BaseURL, "base-url")
	override(&cfg.Client.Token, "token")
	override(&cfg.Client.APIKey, "api-key")
	override(&cfg.Client.UserID, "user-id")
	override(&cfg.Server.JWTSecret, "jwt-secret")
	override(&cfg.Log.Level, "log-level")
	log, err := logger.New(cfg.Log.Level, logger.Format(cfg.Log.Format))
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func actorID(cfg *config.Config) string {
	if cfg.Client.UserID != "" {
		return cfg.Client.UserID
	}
	return "local-user"
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine, engine.Scope) error) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync()
	e, closeDB, err := app.OpenEngine(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeDB()
	return fn(ctx, e, engine.Scope{WorkspaceID: cfg.Workspace.ID, ActorID: actorID(cfg)})
}

func withClient(ctx context.Context, fn func(context.Context, *app.Client) error) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync()
	c, err := app.NewClient(cfg, log, app.ClientOptions{Out: os.Stdout, In: os.Stdin, Prompt: viper.GetBool("prompt")})
	if err != nil {
		return err
	}
	return fn(ctx, c)
}

func unwrap[T any](env api.Envelope[T], err error) (T, error) {
	if err != nil {
		return env.Data, err
	}
	return env.Data, env.Err()
}

func newTable(headers ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(headers))
	return tw
}

func printStories(stories []domain.Story) {
	tw := newTable("Seq", "ID", "Title", "Status", "Priority", "Assignee", "Subs")
	for _, s := range stories {
		tw.AppendRow(table.Row{fmt.Sprintf("%s-%d", s.TeamID, s.SequenceID), s.ID, s.Title, s.StatusID, s.Priority, deref(s.AssigneeID), len(s.SubStories)})
	}
	tw.Render()
}

func printStory(s domain.DetailedStory) error {
	if viper.GetBool("json") {
		return printJSON(s)
	}
	fmt.Printf("%s-%d %s [%s, %s] %s\n", s.TeamID, s.SequenceID, s.Title, s.StatusID, s.Priority, s.ID)
	return nil
}

func printGroups(groups []domain.StoryGroup) error {
	if viper.GetBool("json") {
		return printJSON(groups)
	}
	for _, g := range groups {
		fmt.Printf("%s (%d/%d)\n", g.Key, g.LoadedCount, g.TotalCount)
		if len(g.Stories) > 0 {
			printStories(g.Stories)
		}
		if g.HasMore {
			fmt.Printf("  more: --group %s --page %d\n", g.Key, g.NextPage)
		}
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func optionalString(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

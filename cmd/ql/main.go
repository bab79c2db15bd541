package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"questline/internal/app"
	"questline/internal/config"
	"questline/internal/db"
	"questline/internal/decay"
	"questline/internal/domain"
	"questline/internal/engine"
	"questline/internal/migrate"
	"questline/internal/repo"
	"questline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "ql",
	Short: "Questline CLI",
	Long: `Questline keeps planned tasks honest with decay, debt, contracts, and streaks.
Core concepts:
- Workspace: your .questline directory with only the database; per-user config lives in the DB.
- Tasks: scheduled work items. A task left incomplete past its due time decays
  through fresh -> stale -> decaying -> rotten, losing XP at each step.
- Debt score: 0-100 rot across all open tasks; completing tasks pays it down.
- Contracts: stake XP on finishing a task or goal by a deadline. Keep it and
  earn a bonus; miss it and the stake is forfeited.
- Streaks: consecutive active days (a completed task or a focus session counts).
- Sweeps: 'ql sweep decay|contracts|streaks' are the cron entrypoints.
- Event log: diary of changes, view with 'ql log tail'.`,
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
	viper.SetEnvPrefix("QUESTLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().StringP("user", "u", "", "user id (defaults to the single profile)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user", rootCmd.PersistentFlags().Lookup("user"))
}

func registerCommands() {
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(goalCmd())
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(contractCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- user ---

func userCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "user", Short: "Manage user profiles"}
	cmd.AddCommand(userInitCmd())
	cmd.AddCommand(userListCmd())
	cmd.AddCommand(userShowCmd())
	cmd.AddCommand(userConfigCmd())
	return cmd
}

func userInitCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a user profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id required")
			}
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			e := engine.New(conn, config.Default(id))
			p, err := e.InitUser(cmd.Context(), id, name)
			if err != nil {
				return err
			}
			return printJSONOrTable(p)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "user id")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	return cmd
}

func userListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List user profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProfiles(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
}

func userShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the active profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetProfile(ctx, e.Config.User.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func userConfigCmd() *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Manage user config"}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	})

	var file string
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Import config from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file required")
			}
			cfg, err := config.FromFile(file)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Repo.UpsertUserConfig(ctx, e.Config.User.ID, cfg); err != nil {
					return err
				}
				fmt.Println("config imported for", e.Config.User.ID)
				return nil
			})
		},
	}
	importCmd.Flags().StringVar(&file, "file", "", "path to YAML config")
	cfgCmd.AddCommand(importCmd)

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Print default config YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID := viper.GetString("user")
			if userID == "" {
				userID = "me"
			}
			fmt.Print(config.GenerateDefault(userID))
			return nil
		},
	})
	return cfgCmd
}

// --- task ---

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Manage tasks"}
	cmd.AddCommand(taskAddCmd())
	cmd.AddCommand(taskListCmd())
	cmd.AddCommand(taskShowCmd())
	cmd.AddCommand(taskDoneCmd())
	cmd.AddCommand(taskRmCmd())
	return cmd
}

func taskAddCmd() *cobra.Command {
	var title, desc, date, start, end string
	var duration, priority int
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if date == "" {
					date = time.Now().UTC().Format("2006-01-02")
				}
				t, err := e.CreateTask(ctx, engine.TaskCreateOptions{
					UserID:          e.Config.User.ID,
					Title:           title,
					Description:     desc,
					ScheduledDate:   date,
					StartTime:       start,
					EndTime:         end,
					DurationMinutes: duration,
					Priority:        priority,
					ActorID:         e.Config.User.ID,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&desc, "desc", "", "description")
	cmd.Flags().StringVar(&date, "date", "", "scheduled date YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&start, "start", "", "start time HH:MM")
	cmd.Flags().StringVar(&end, "end", "", "end time HH:MM")
	cmd.Flags().IntVar(&duration, "duration", 0, "duration in minutes")
	cmd.Flags().IntVar(&priority, "priority", 0, "priority")
	return cmd
}

func taskListCmd() *cobra.Command {
	var all bool
	var level int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				filters := repo.TaskFilters{UserID: e.Config.User.ID}
				if !all {
					open := false
					filters.Completed = &open
				}
				if cmd.Flags().Changed("level") {
					filters.DecayLevel = &level
				}
				items, err := e.Repo.ListTasks(ctx, filters)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Date", "Decay", "Done"})
				for _, t := range items {
					tw.AppendRow(table.Row{shortID(t.ID), t.Title, t.ScheduledDate, decay.LevelName(t.DecayLevel), t.IsCompleted})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include completed tasks")
	cmd.Flags().IntVar(&level, "level", 0, "filter by decay level 0-3")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.Repo.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskDoneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "done <task-id>",
		Short: "Complete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CompleteTask(ctx, args[0], e.Config.User.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <task-id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Repo.DeleteTask(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

// --- goal ---

func goalCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "goal", Short: "Manage goals"}

	var title, desc, target string
	add := &cobra.Command{
		Use:   "add",
		Short: "Create a goal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := e.CreateGoal(ctx, e.Config.User.ID, title, desc, target, e.Config.User.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	}
	add.Flags().StringVar(&title, "title", "", "goal title")
	add.Flags().StringVar(&desc, "desc", "", "description")
	add.Flags().StringVar(&target, "target", "", "target date YYYY-MM-DD")
	cmd.AddCommand(add)

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List goals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListGoals(ctx, e.Config.User.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	})
	return cmd
}

// --- session ---

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "session", Short: "Manage focus sessions"}

	var taskID, startedAt string
	var minutes int
	logCmd := &cobra.Command{
		Use:   "log",
		Short: "Log a focus session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.LogSession(ctx, e.Config.User.ID, taskID, startedAt, minutes, e.Config.User.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	logCmd.Flags().StringVar(&taskID, "task", "", "task id")
	logCmd.Flags().StringVar(&startedAt, "started-at", "", "RFC3339 start time (default now)")
	logCmd.Flags().IntVar(&minutes, "minutes", 25, "duration in minutes")
	cmd.AddCommand(logCmd)

	var n int
	list := &cobra.Command{
		Use:   "list",
		Short: "List focus sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListSessions(ctx, e.Config.User.ID, n)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	list.Flags().IntVar(&n, "n", 20, "number of sessions")
	cmd.AddCommand(list)
	return cmd
}

// --- contract ---

func contractCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "contract", Short: "Manage commitment contracts"}
	cmd.AddCommand(contractStakeCmd())
	cmd.AddCommand(contractListCmd())
	cmd.AddCommand(contractShowCmd())
	cmd.AddCommand(contractResolveCmd("complete", "Resolve a contract as kept", engine.Engine.CompleteContract))
	cmd.AddCommand(contractResolveCmd("fail", "Resolve a contract as broken", engine.Engine.FailContract))
	cmd.AddCommand(contractResolveCmd("cancel", "Cancel a contract", engine.Engine.CancelContract))
	return cmd
}

func contractStakeCmd() *cobra.Command {
	var taskID, goalID, buddyID, deadline string
	var stake int
	cmd := &cobra.Command{
		Use:   "stake",
		Short: "Stake XP on a task or goal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.CreateContract(ctx, engine.ContractCreateOptions{
					UserID:   e.Config.User.ID,
					TaskID:   taskID,
					GoalID:   goalID,
					StakedXP: stake,
					BuddyID:  buddyID,
					Deadline: deadline,
					ActorID:  e.Config.User.ID,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "task id")
	cmd.Flags().StringVar(&goalID, "goal", "", "goal id")
	cmd.Flags().IntVar(&stake, "stake", 0, "XP to stake")
	cmd.Flags().StringVar(&buddyID, "buddy", "", "accountability buddy user id")
	cmd.Flags().StringVar(&deadline, "deadline", "", "RFC3339 deadline")
	return cmd
}

func contractListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List contracts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListContracts(ctx, repo.ContractFilters{UserID: e.Config.User.ID, Status: status})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Target", "Stake", "Deadline", "Status"})
				for _, c := range items {
					target := ""
					if c.TaskID != nil {
						target = "task:" + shortID(*c.TaskID)
					} else if c.GoalID != nil {
						target = "goal:" + shortID(*c.GoalID)
					}
					tw.AppendRow(table.Row{shortID(c.ID), target, c.StakedXP, c.Deadline, c.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	return cmd
}

func contractShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <contract-id>",
		Short: "Show a contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.Repo.GetContract(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
}

func contractResolveCmd(verb, short string, fn func(engine.Engine, context.Context, string, string) (domain.CommitmentContract, error)) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <contract-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := fn(e, ctx, args[0], e.Config.User.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
}

// --- sweep ---

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "sweep", Short: "Run maintenance sweeps (cron entrypoints)"}

	var allUsers bool
	decaySweep := &cobra.Command{
		Use:   "decay",
		Short: "Advance decay levels and apply penalties",
		RunE: func(cmd *cobra.Command, args []string) error {
			if allUsers {
				return withAnyEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
					results, err := e.ReconcileAll(ctx, time.Now())
					if err != nil {
						return err
					}
					return printJSONOrTable(results)
				})
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.Reconcile(ctx, e.Config.User.ID, time.Now())
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	decaySweep.Flags().BoolVar(&allUsers, "all", false, "sweep every user")
	cmd.AddCommand(decaySweep)

	cmd.AddCommand(&cobra.Command{
		Use:   "contracts",
		Short: "Fail active contracts past their deadline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAnyEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.ExpireContracts(ctx, time.Now())
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	})

	var day string
	streakSweep := &cobra.Command{
		Use:   "streaks",
		Short: "Resolve streaks for a day (default yesterday)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if day == "" {
				day = time.Now().UTC().Add(-24 * time.Hour).Format("2006-01-02")
			}
			return withAnyEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				streaks, err := e.ResolveStreaks(ctx, day)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"day": day, "streaks": streaks})
			})
		},
	}
	streakSweep.Flags().StringVar(&day, "day", "", "day YYYY-MM-DD")
	cmd.AddCommand(streakSweep)
	return cmd
}

// --- stats ---

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show XP, debt, streak, and decay statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetProfile(ctx, e.Config.User.ID)
				if err != nil {
					return err
				}
				stats, err := e.Repo.GetDecayStats(ctx, e.Config.User.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"profile": p,
					"decay":   stats,
				})
			})
		},
	}
}

// --- log ---

func logCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log", Short: "Event log"}
	cmd.AddCommand(logTailCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, e.Config.User.ID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

// --- apikey ---

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "Manage API keys"}

	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (prints the secret once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				secret := uuid.New().String()
				key := domain.APIKey{
					ID:      uuid.New().String(),
					UserID:  e.Config.User.ID,
					Name:    name,
					KeyHash: repo.HashAPIKey(secret),
				}
				if err := e.Repo.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				fmt.Printf("id: %s\nkey: %s\n", key.ID, secret)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "key label")
	cmd.AddCommand(create)

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.Repo.ListAPIKeys(ctx, e.Config.User.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Repo.DeleteAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("revoked", args[0])
				return nil
			})
		},
	})
	return cmd
}

// --- serve ---

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacy bool
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
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveUserAndConfig(cmd.Context(), viper.GetString("user"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:             os.Getenv("QUESTLINE_JWT_SECRET"),
				AllowLegacyUserHeader: allowLegacy,
			}
			if authCfg.JWTSecret == "" && !allowLegacy {
				return fmt.Errorf("QUESTLINE_JWT_SECRET is required for bearer auth (or pass --allow-user-header)")
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
			fmt.Printf("Serving Questline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacy, "allow-user-header", false, "accept the X-User-Id header as identity")
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
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveUserAndConfig(ctx, viper.GetString("user"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

// withAnyEngine opens the engine without resolving a single acting user; the
// fleet sweeps fan out over every profile themselves.
func withAnyEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	e := engine.New(conn, nil)
	return fn(ctx, e)
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

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

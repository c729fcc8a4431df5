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
	_ "time/tzdata"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"stayops/internal/app"
	"stayops/internal/config"
	"stayops/internal/db"
	"stayops/internal/domain"
	"stayops/internal/engine"
	"stayops/internal/logging"
	"stayops/internal/repo"
	"stayops/internal/server"
	stayopssdk "stayops/sdk/go"
)

const dateLayout = "2006-01-02"

var rootCmd = &cobra.Command{
	Use:   "stayops",
	Short: "StayOps temporal automation",
	Long: `StayOps runs the time-driven automation of a property-operations platform.
- Recurrence: templates generate one mission per due day (weekly, biweekly, monthly).
- Conflicts: missions for the same assignee closer than two hours apart.
- Escalation: open minor incidents become medium after 48h; open or in-progress medium
  incidents become critical after 72h. One tier per sweep.
- Reminders: admins hear about any incident still open after the reminder interval.
Sweeps run on demand from the CLI or through the cron endpoints of 'stayops serve'.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("STAYOPS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory holding .stayops/stayops.db")
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to stayops.yml")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(conflictsCmd())
	rootCmd.AddCommand(orgCmd())
	rootCmd.AddCommand(memberCmd())
	rootCmd.AddCommand(propertyCmd())
	rootCmd.AddCommand(triggerCmd())
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				rt.Log.Info("database ready", zap.String("path", db.Path(db.Config{Path: rt.Config.DatabasePath, Workspace: viper.GetString("workspace")})))
				return nil
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if err := rt.Config.ValidateServe(); err != nil {
					return err
				}
				if addr == "" {
					addr = rt.Config.Addr
				}
				handler, err := server.New(server.Config{
					Engine:  rt.Engine,
					Auth:    server.AuthConfig{CronSecret: rt.Config.CronSecret, JWTSecret: rt.Config.JWTSecret},
					Log:     rt.Log,
					Metrics: rt.Metrics,
					Timeout: rt.Config.APITimeout,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				rt.Log.Info("serving StayOps API",
					zap.String("addr", addr),
					zap.String("openapi", "/api/openapi.json"),
					zap.String("docs", "/api/docs"))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}

func sweepCmd() *cobra.Command {
	sw := &cobra.Command{Use: "sweep", Short: "Run one sweep against the local database"}
	sw.AddCommand(&cobra.Command{
		Use:   "recurrence",
		Short: "Generate missions for templates due today",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.GenerateDueOccurrences(ctx, e.Today())
				if err != nil {
					return err
				}
				return printResult(res, "generated", res.Generated)
			})
		},
	})
	sw.AddCommand(&cobra.Command{
		Use:   "escalation",
		Short: "Escalate aging unresolved incidents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.RunEscalationSweep(ctx)
				if err != nil {
					return err
				}
				return printResult(res, "escalated", res.Escalated)
			})
		},
	})
	sw.AddCommand(&cobra.Command{
		Use:   "reminders",
		Short: "Remind admins about long-open incidents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.RunReminderSweep(ctx)
				if err != nil {
					return err
				}
				return printResult(res, "reminders sent", res.RemindersSent)
			})
		},
	})
	return sw
}

func conflictsCmd() *cobra.Command {
	var orgID, start, end string
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "List schedule conflicts for an organisation",
		RunE: func(cmd *cobra.Command, args []string) error {
			if orgID == "" {
				return fmt.Errorf("--org required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				loc := e.Location
				if loc == nil {
					loc = time.UTC
				}
				from, to, err := parseWindow(start, end, e.Today(), loc)
				if err != nil {
					return err
				}
				conflicts, err := e.DetectConflicts(ctx, orgID, from, to)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(conflicts)
				}
				printConflicts(conflicts)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&orgID, "org", "", "organisation id")
	cmd.Flags().StringVar(&start, "start", "", "first day YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&end, "end", "", "last day YYYY-MM-DD (default start + 6 days)")
	return cmd
}

func parseWindow(start, end string, today time.Time, loc *time.Location) (time.Time, time.Time, error) {
	t := today.In(loc)
	from := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	if start != "" {
		parsed, err := time.ParseInLocation(dateLayout, start, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("--start: want YYYY-MM-DD: %w", err)
		}
		from = parsed
	}
	to := from.AddDate(0, 0, 6)
	if end != "" {
		parsed, err := time.ParseInLocation(dateLayout, end, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("--end: want YYYY-MM-DD: %w", err)
		}
		to = parsed
	}
	return from, to, nil
}

func printConflicts(conflicts []domain.Conflict) {
	if len(conflicts) == 0 {
		fmt.Println("no conflicts")
		return
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"Assignee", "When", "Mission A", "Mission B", "Gap"})
	for _, c := range conflicts {
		tw.AppendRow(table.Row{
			c.AssigneeName,
			c.DateLabel,
			fmt.Sprintf("%s (%s)", c.MissionAID, c.MissionAType),
			fmt.Sprintf("%s (%s)", c.MissionBID, c.MissionBType),
			fmt.Sprintf("%dm", c.GapMinutes),
		})
	}
	tw.Render()
}

func orgCmd() *cobra.Command {
	org := &cobra.Command{Use: "org", Short: "Manage organisations"}
	var id, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create organisation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				o, err := app.CreateOrganisation(ctx, r, id, name)
				if err != nil {
					return err
				}
				return printJSON(o)
			})
		},
	}
	create.Flags().StringVar(&id, "id", "", "organisation id")
	create.Flags().StringVar(&name, "name", "", "display name")
	org.AddCommand(create)
	return org
}

func memberCmd() *cobra.Command {
	member := &cobra.Command{Use: "member", Short: "Manage organisation members"}
	var m domain.Member
	var role string
	add := &cobra.Command{
		Use:   "add",
		Short: "Add or update a member",
		RunE: func(cmd *cobra.Command, args []string) error {
			m.Role = domain.Role(role)
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := app.AddMember(ctx, r, m); err != nil {
					return err
				}
				return printJSON(m)
			})
		},
	}
	add.Flags().StringVar(&m.OrgID, "org", "", "organisation id")
	add.Flags().StringVar(&m.UserID, "user", "", "user id")
	add.Flags().StringVar(&m.DisplayName, "name", "", "display name")
	add.Flags().StringVar(&m.Email, "email", "", "e-mail address for external notifications")
	add.Flags().StringVar(&role, "role", string(domain.RoleWorker), "admin, manager or worker")
	member.AddCommand(add)
	return member
}

func propertyCmd() *cobra.Command {
	property := &cobra.Command{Use: "property", Short: "Manage properties"}
	var p domain.Property
	add := &cobra.Command{
		Use:   "add",
		Short: "Register a property",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := app.AddProperty(ctx, r, p); err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	add.Flags().StringVar(&p.OrgID, "org", "", "organisation id")
	add.Flags().StringVar(&p.ID, "id", "", "property id")
	add.Flags().StringVar(&p.Name, "name", "", "property name")
	property.AddCommand(add)
	return property
}

// triggerCmd calls the cron endpoints of a running server, the way a periodic
// job runner does.
func triggerCmd() *cobra.Command {
	var baseURL, secret string
	trig := &cobra.Command{Use: "trigger", Short: "Trigger a sweep on a running server"}
	trig.PersistentFlags().StringVar(&baseURL, "url", "http://127.0.0.1:8080", "server base URL")
	trig.PersistentFlags().StringVar(&secret, "secret", "", "cron secret (default STAYOPS_CRON_SECRET)")
	client := func() *stayopssdk.Client {
		if secret == "" {
			secret = viper.GetString("cron_secret")
		}
		return stayopssdk.New(baseURL, secret)
	}
	for _, t := range []struct {
		use, label string
		run        func(*stayopssdk.Client, context.Context) (int, error)
	}{
		{"recurrence", "generated", (*stayopssdk.Client).GenerateRecurring},
		{"escalation", "escalated", (*stayopssdk.Client).EscalateIncidents},
		{"reminders", "reminders sent", (*stayopssdk.Client).IncidentReminders},
	} {
		trig.AddCommand(&cobra.Command{
			Use:   t.use,
			Short: "Trigger the " + t.use + " sweep",
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := t.run(client(), cmd.Context())
				if err != nil {
					return err
				}
				return printResult(map[string]any{"success": true, "count": n}, t.label, n)
			},
		})
	}
	return trig
}

// --- helpers ---

func loadConfig() (*config.Config, error) {
	return config.Load(viper.GetString("config"))
}

func withRuntime(ctx context.Context, fn func(context.Context, *app.Runtime) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := logging.New(logging.Config{Level: cfg.Log.Level, Environment: cfg.Log.Env})
	if err != nil {
		return err
	}
	defer log.Sync()
	rt, err := app.Open(ctx, cfg, viper.GetString("workspace"), log)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withRuntime(ctx, func(ctx context.Context, rt *app.Runtime) error {
		return fn(ctx, rt.Engine)
	})
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	return withRuntime(ctx, func(ctx context.Context, rt *app.Runtime) error {
		return fn(ctx, rt.Engine.Repo)
	})
}

func printResult(v any, label string, n int) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	fmt.Printf("%s: %d\n", label, n)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gigline/internal/config"
	"gigline/internal/db"
	"gigline/internal/domain"
	"gigline/internal/engine"
	"gigline/internal/gateway"
	"gigline/internal/migrate"
	"gigline/internal/repo"
	"gigline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "gig",
	Short: "Gigline CLI",
	Long: `Gigline is a peer-to-peer mission marketplace settlement core.
One party posts a paid mission, another applies and is assigned, performs
the work, submits proof, and is paid out of escrowed funds. Escrow moves
in lock-step with the mission: reserved at creation, held on assignment,
pending release on proof, released on approval or after the auto-release
window, refunded on cancellation.`,
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
	viper.SetEnvPrefix("GIGLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("role", "worker", "actor role (worker|employer|admin)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("role", rootCmd.PersistentFlags().Lookup("role"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(missionCmd())
	rootCmd.AddCommand(reviewCmd())
	rootCmd.AddCommand(profileCmd())
	rootCmd.AddCommand(badgeCmd())
	rootCmd.AddCommand(paymentCmd())
	rootCmd.AddCommand(txCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(serveCmd())
}

func actorID() string { return viper.GetString("actor-id") }

func actorRole() domain.Role { return domain.ParseRole(viper.GetString("role")) }

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
				if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				fmt.Printf("wrote %s\n", cfgPath)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.SeedBadges(ctx); err != nil {
					return err
				}
				fmt.Println("workspace ready")
				return nil
			})
		},
	}
}

func missionCmd() *cobra.Command {
	m := &cobra.Command{Use: "mission", Short: "Manage missions"}
	m.AddCommand(missionCreateCmd())
	m.AddCommand(missionListCmd())
	m.AddCommand(missionShowCmd())
	m.AddCommand(missionApplyCmd())
	m.AddCommand(missionWithdrawCmd())
	m.AddCommand(missionApplicationsCmd())
	m.AddCommand(missionAssignCmd())
	m.AddCommand(missionProofCmd())
	m.AddCommand(missionApproveCmd())
	m.AddCommand(missionCancelCmd())
	m.AddCommand(missionDisputeCmd())
	m.AddCommand(missionResolveCmd())
	return m
}

func missionCreateCmd() *cobra.Command {
	var title, desc, price, currency string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Post a mission",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.CreateMission(ctx, engine.MissionCreateOptions{
					OwnerID:     actorID(),
					Title:       title,
					Description: desc,
					Price:       price,
					Currency:    currency,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "mission title")
	cmd.Flags().StringVar(&desc, "description", "", "mission description")
	cmd.Flags().StringVar(&price, "price", "", "mission price, e.g. 25.00")
	cmd.Flags().StringVar(&currency, "currency", "", "currency (defaults to platform currency)")
	return cmd
}

func missionListCmd() *cobra.Command {
	var status, owner, runner string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List missions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				missions, err := r.ListMissions(ctx, repo.MissionFilters{
					Status:   status,
					OwnerID:  owner,
					RunnerID: runner,
					Limit:    limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(missions)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Price", "Status", "Owner", "Runner"})
				for _, m := range missions {
					runnerID := ""
					if m.RunnerID != nil {
						runnerID = *m.RunnerID
					}
					tw.AppendRow(table.Row{m.ID, m.Title, m.Price + " " + m.Currency, m.Status, m.OwnerID, runnerID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&owner, "owner", "", "filter by owner")
	cmd.Flags().StringVar(&runner, "runner", "", "filter by runner")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func missionShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <mission-id>",
		Short: "Show a mission with its escrow record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.GetMission(ctx, args[0])
				if err != nil {
					return err
				}
				esc, err := e.GetEscrow(ctx, args[0])
				if err != nil && !errors.Is(err, repo.ErrNotFound) {
					return err
				}
				return printJSONOrTable(map[string]any{"mission": m, "escrow": esc})
			})
		},
	}
	return cmd
}

func missionApplyCmd() *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "apply <mission-id>",
		Short: "Apply to an open mission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.Apply(ctx, args[0], actorID(), message)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&message, "message", "", "application note")
	return cmd
}

func missionWithdrawCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "withdraw <mission-id>",
		Short: "Withdraw own application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.WithdrawApplication(ctx, args[0], actorID()); err != nil {
					return err
				}
				fmt.Println("withdrawn")
				return nil
			})
		},
	}
}

func missionApplicationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "applications <mission-id>",
		Short: "List applications for a mission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				apps, err := e.ListApplications(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(apps)
			})
		},
	}
}

func missionAssignCmd() *cobra.Command {
	var runner string
	cmd := &cobra.Command{
		Use:   "assign <mission-id>",
		Short: "Assign an applicant as runner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if runner == "" {
				return fmt.Errorf("--runner required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.Assign(ctx, args[0], runner, actorID(), actorRole())
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&runner, "runner", "", "applicant to assign")
	return cmd
}

func missionProofCmd() *cobra.Command {
	var evidence []string
	var notes string
	cmd := &cobra.Command{
		Use:   "proof <mission-id>",
		Short: "Submit completion proof",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.SubmitProof(ctx, args[0], actorID(), evidence, notes)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringArrayVar(&evidence, "evidence", nil, "evidence reference (repeatable)")
	cmd.Flags().StringVar(&notes, "notes", "", "free-text notes")
	return cmd
}

func missionApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <mission-id>",
		Short: "Approve completion and release escrow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.Approve(ctx, args[0], actorID(), actorRole())
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
}

func missionCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <mission-id>",
		Short: "Cancel an open mission and refund escrow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.Cancel(ctx, args[0], actorID(), actorRole())
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
}

func missionDisputeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dispute <mission-id>",
		Short: "Raise a dispute and freeze auto-release",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.Dispute(ctx, args[0], actorID(), actorRole())
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
}

func missionResolveCmd() *cobra.Command {
	var outcome string
	cmd := &cobra.Command{
		Use:   "resolve <mission-id>",
		Short: "Resolve a disputed mission (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.ResolveDispute(ctx, args[0], outcome, actorID(), actorRole())
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&outcome, "outcome", "", "completed or cancelled")
	return cmd
}

func reviewCmd() *cobra.Command {
	r := &cobra.Command{Use: "review", Short: "Manage reviews"}
	r.AddCommand(reviewAddCmd())
	r.AddCommand(reviewListCmd())
	return r
}

func reviewAddCmd() *cobra.Command {
	var rating int
	var comment string
	var tags []string
	cmd := &cobra.Command{
		Use:   "add <mission-id>",
		Short: "Review the other party of a completed mission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rv, err := e.AddReview(ctx, engine.ReviewCreateOptions{
					MissionID:  args[0],
					ReviewerID: actorID(),
					Rating:     rating,
					Comment:    comment,
					Tags:       tags,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(rv)
			})
		},
	}
	cmd.Flags().IntVar(&rating, "rating", 0, "rating 1-5")
	cmd.Flags().StringVar(&comment, "comment", "", "review comment")
	cmd.Flags().StringArrayVar(&tags, "tag", nil, "review tag (repeatable)")
	return cmd
}

func reviewListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list <user-id>",
		Short: "List reviews about a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				reviews, err := e.ListReviewsFor(ctx, args[0], limit)
				if err != nil {
					return err
				}
				return printJSONOrTable(reviews)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func profileCmd() *cobra.Command {
	p := &cobra.Command{Use: "profile", Short: "Reputation aggregates"}
	p.AddCommand(&cobra.Command{
		Use:   "show <user-id>",
		Short: "Show a user's aggregate and unlocked badges",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				profile, err := e.GetProfile(ctx, args[0])
				if err != nil {
					return err
				}
				achievements, err := e.ListAchievements(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"profile": profile, "achievements": achievements})
			})
		},
	})
	return p
}

func badgeCmd() *cobra.Command {
	b := &cobra.Command{Use: "badge", Short: "Badge catalog"}
	b.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List badges",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.SeedBadges(ctx); err != nil {
					return err
				}
				badges, err := e.ListBadges(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(badges)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Requirement", "Value"})
				for _, bd := range badges {
					tw.AppendRow(table.Row{bd.ID, bd.Name, bd.RequirementType, bd.RequirementValue})
				}
				tw.Render()
				return nil
			})
		},
	})
	return b
}

func paymentCmd() *cobra.Command {
	p := &cobra.Command{Use: "payment", Short: "Payment gateway bridge"}
	p.AddCommand(paymentVerifyCmd())
	p.AddCommand(&cobra.Command{
		Use:   "purchases",
		Short: "List own purchases",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				purchases, err := r.ListPurchases(ctx, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(purchases)
			})
		},
	})
	p.AddCommand(&cobra.Command{
		Use:   "boosts",
		Short: "List own active boosts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				boosts, err := r.ActiveBoosts(ctx, actorID(), time.Now().UTC().Format(time.RFC3339))
				if err != nil {
					return err
				}
				return printJSONOrTable(boosts)
			})
		},
	})
	return p
}

func paymentVerifyCmd() *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a checkout session against the processor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionID == "" {
				return fmt.Errorf("--session required")
			}
			return withBridge(cmd.Context(), func(ctx context.Context, b gateway.Bridge) error {
				result, err := b.VerifyCheckout(ctx, sessionID, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(result)
			})
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "checkout session id")
	return cmd
}

func txCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "tx",
		Short: "List own ledger entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				txs, err := r.ListTransactions(ctx, actorID(), limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(txs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Mission", "Amount", "Type", "Status", "At"})
				for _, t := range txs {
					tw.AppendRow(table.Row{t.ID, t.MissionID, t.Amount, t.Type, t.Status, t.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "max rows")
	return cmd
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Event log"}
	var n int
	var evtType, entityKind, entityID, subjectID string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, subjectID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&evtType, "type", "", "filter by event type")
	tail.Flags().StringVar(&entityKind, "entity-kind", "", "filter by entity kind")
	tail.Flags().StringVar(&entityID, "entity-id", "", "filter by entity id")
	tail.Flags().StringVar(&subjectID, "subject", "", "filter by subject")
	l.AddCommand(tail)
	return l
}

func apikeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "apikey", Short: "Manage API keys"}

	var actor, role, name, key string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" || key == "" {
				return fmt.Errorf("--actor and --key required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				rec := domain.APIKey{
					ID:      fmt.Sprintf("key-%d", time.Now().UnixNano()),
					ActorID: actor,
					Role:    domain.ParseRole(role),
					Name:    name,
					KeyHash: repo.HashAPIKey(key),
				}
				if err := r.InsertAPIKey(ctx, nil, rec); err != nil {
					return err
				}
				fmt.Printf("created %s for %s (role=%s)\n", rec.ID, rec.ActorID, rec.Role)
				return nil
			})
		},
	}
	create.Flags().StringVar(&actor, "actor", "", "actor id")
	create.Flags().StringVar(&role, "key-role", "worker", "role carried by the key")
	create.Flags().StringVar(&name, "name", "", "key label")
	create.Flags().StringVar(&key, "key", "", "key material (only its hash is stored)")
	k.AddCommand(create)

	var listActor string
	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, listActor)
				if err != nil {
					return err
				}
				for i := range keys {
					keys[i].KeyHash = ""
				}
				return printJSONOrTable(keys)
			})
		},
	}
	list.Flags().StringVar(&listActor, "actor", "", "filter by actor")
	k.AddCommand(list)

	k.AddCommand(&cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	})
	return k
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run the auto-release sweep once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				released, err := e.ReleaseOverdue(ctx, 0)
				if err != nil {
					return err
				}
				fmt.Printf("auto-released %d mission(s)\n", released)
				return nil
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var sweepEvery time.Duration
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
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			if err := e.SeedBadges(cmd.Context()); err != nil {
				return err
			}
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("GIGLINE_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("GIGLINE_JWT_SECRET is required for bearer auth")
			}
			bridge := newBridge(conn, cfg)
			handler, err := server.New(server.Config{Engine: e, Bridge: bridge, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			server.StartAutoReleaseSweeper(cmd.Context(), e, sweepEvery)
			server.StartWebhookDispatcher(e)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Gigline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().DurationVar(&sweepEvery, "sweep-every", time.Minute, "auto-release sweep interval")
	return cmd
}

func newBridge(conn *sql.DB, cfg *config.Config) gateway.Bridge {
	baseURL := os.Getenv("GIGLINE_STRIPE_BASE_URL")
	if baseURL == "" {
		baseURL = "https://api.stripe.com"
	}
	provider := gateway.NewHTTPProvider(baseURL, os.Getenv("GIGLINE_STRIPE_SECRET"))
	return gateway.NewBridge(conn, cfg, provider)
}

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
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
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

func withBridge(ctx context.Context, fn func(context.Context, gateway.Bridge) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	return fn(ctx, newBridge(conn, cfg))
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

// Command clubctl runs maintenance tasks against the club database:
// migrations, admin grants, payment reconciliation, hold expiry and the
// Strava sync.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/iliyamo/runclub-portal/internal/app"
	"github.com/iliyamo/runclub-portal/internal/config"
	"github.com/iliyamo/runclub-portal/internal/database"
)

var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "clubctl",
		Short:         "Running club maintenance commands",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(migrateCmd())
	root.AddCommand(adminCmd())
	root.AddCommand(reconcileCmd())
	root.AddCommand(holdsCmd())
	root.AddCommand(tokensCmd())
	root.AddCommand(stravaCmd())
	return root
}

// withApp loads config, opens the database and hands a wired App to fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg := config.Load()
	log := app.NewLogger(cfg.Env)
	db, err := database.Open(database.DSN(cfg))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	rdb := config.NewRedisClient()
	if rdb != nil {
		defer rdb.Close()
	}
	return fn(cmd.Context(), app.New(cfg, db, rdb, log))
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				return database.Migrate(ctx, a.DB, a.Log)
			})
		},
	}
}

func adminCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "admin", Short: "Manage administrators"}
	grant := func(on bool) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				m, err := a.Repos.Members.GetByEmail(ctx, args[0])
				if err != nil {
					return fmt.Errorf("member %s: %w", args[0], err)
				}
				if on {
					err = a.Repos.Admins.Grant(ctx, m.ID)
				} else {
					err = a.Repos.Admins.Revoke(ctx, m.ID)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s admin=%t\n", m.Email, on)
				return nil
			})
		}
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "grant <email>",
		Short: "Make a member an administrator",
		Args:  cobra.ExactArgs(1),
		RunE:  grant(true),
	}, &cobra.Command{
		Use:   "revoke <email>",
		Short: "Remove administrator rights",
		Args:  cobra.ExactArgs(1),
		RunE:  grant(false),
	}, &cobra.Command{
		Use:   "list",
		Short: "List administrators",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				admins, err := a.Repos.Admins.List(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, admins)
			})
		},
	})
	return cmd
}

func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Repair bookings from Stripe checkout sessions",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "event <id>",
		Short: "Reconcile every checkout of one event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				rep, err := a.Services.Reconcile.ReconcileEvent(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(cmd, rep)
			})
		},
	}, &cobra.Command{
		Use:   "member <id>",
		Short: "Reconcile the checkouts of one member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				rep, err := a.Services.Reconcile.ReconcileMember(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(cmd, rep)
			})
		},
	}, emailsCmd(), &cobra.Command{
		Use:   "links",
		Short: "Attach guest attendees to members with the same email",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				rep, err := a.Services.Reconcile.LinkAttendees(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, rep)
			})
		},
	})
	return cmd
}

func emailsCmd() *cobra.Command {
	var eventID uint64
	cmd := &cobra.Command{
		Use:   "emails <email>...",
		Short: "Look up paid Stripe sessions by customer email",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var ev *uint64
			if eventID != 0 {
				ev = &eventID
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				rep, err := a.Services.Reconcile.ReconcileEmails(ctx, args, ev)
				if err != nil {
					return err
				}
				return printJSON(cmd, rep)
			})
		},
	}
	cmd.Flags().Uint64Var(&eventID, "event", 0, "only sessions for this event id")
	return cmd
}

func holdsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "holds", Short: "Checkout holds"}
	cmd.AddCommand(&cobra.Command{
		Use:   "expire",
		Short: "Release pending bookings whose hold ended",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				n, err := a.Services.Sweeper.SweepOnce(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "released %d\n", n)
				return nil
			})
		},
	})
	return cmd
}

func tokensCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "tokens", Short: "Refresh tokens"}
	cmd.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "Delete expired and revoked refresh tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				n, err := a.Repos.Tokens.PurgeExpired(ctx, time.Now().UTC())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "purged %d\n", n)
				return nil
			})
		},
	})
	return cmd
}

func stravaCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{Use: "strava", Short: "Strava leaderboard"}
	sync := &cobra.Command{
		Use:   "sync",
		Short: "Download recent runs of every connected member",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				ctx, cancel := context.WithTimeout(ctx, timeout)
				defer cancel()
				rep, err := a.Services.Leaderboard.SyncAll(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, rep)
			})
		},
	}
	sync.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "overall deadline")
	cmd.AddCommand(sync)
	return cmd
}

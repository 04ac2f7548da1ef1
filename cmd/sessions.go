package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/log"
	"github.com/parleyhq/parley/internal/session"
)

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage stored sessions",
	}
	cmd.AddCommand(newSessionsListCmd(), newSessionsDeleteCmd())
	return cmd
}

func newSessionsListCmd() *cobra.Command {
	var (
		owner string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions for an owner",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSessionStore(cmd.Context(), func(ctx context.Context, store session.Store) error {
				sessions, total, err := store.List(ctx, owner, limit, 0)
				if err != nil {
					return fmt.Errorf("listing sessions: %w", err)
				}

				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tTITLE\tMESSAGES\tSTATUS\tLAST ACTIVITY")
				for _, s := range sessions {
					fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
						s.ID, truncate(s.Title, 40), s.MessageCount, s.Status,
						s.LastActivity.Format(time.RFC3339))
				}
				if err := w.Flush(); err != nil {
					return err
				}
				fmt.Printf("\n%d of %d sessions\n", len(sessions), total)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "anonymous", "owner whose sessions to list")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of sessions to show")
	return cmd
}

func newSessionsDeleteCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSessionStore(cmd.Context(), func(ctx context.Context, store session.Store) error {
				if err := store.Delete(ctx, owner, args[0]); err != nil {
					return fmt.Errorf("deleting session: %w", err)
				}
				fmt.Printf("session %s deleted\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "anonymous", "owner of the session")
	return cmd
}

// withSessionStore connects the PostgreSQL store for the duration of fn.
// Local-mode sessions live only inside a running serve process, so the CLI
// can only inspect the managed store.
func withSessionStore(ctx context.Context, fn func(context.Context, session.Store) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Mode != config.ModeManaged {
		return fmt.Errorf("%w: sessions commands require managed mode", config.ErrInvalidMode)
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return fmt.Errorf("creating connection pool: %w", err)
	}
	defer pool.Close()

	return fn(ctx, session.NewPostgresStore(pool, log.NewNop()))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n-1]) + "…"
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/db"
	"github.com/parleyhq/parley/internal/config"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Applies all pending schema migrations to the configured PostgreSQL
database. Serve runs migrations automatically in managed mode; this command
exists for applying them separately, e.g. in a deploy pipeline.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if cfg.Mode != config.ModeManaged {
				return fmt.Errorf("%w: migrations require managed mode", config.ErrInvalidMode)
			}
			if err := db.Migrate(cfg.PostgresURL()); err != nil {
				return fmt.Errorf("migrating database: %w", err)
			}
			fmt.Println("migrations applied")
			return nil
		},
	}
}

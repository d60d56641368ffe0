package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BradenHooton/keyward/internal/repositories"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations for the configured SQL backend",
		Long:  "Apply pending goose migrations to the postgres or sqlite backend. Memory and redis need no schema.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()

			if err := repositories.Migrate(ctx, cfg, logger); err != nil {
				return fmt.Errorf("migrate %s: %w", cfg.Storage.Backend, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Migrations applied for %s backend.\n", cfg.Storage.Backend)
			return nil
		},
	}
}

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/config"
	"github.com/spec-kit/helpdesk-service/internal/persistence"
)

func newMigrateCommand() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply SQL migrations to the configured database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withLogger(cmd.Context(), func(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
				if cfg.Postgres.DSN == "" {
					return errors.New("POSTGRES_DSN is required to migrate")
				}
				if dir != "" {
					cfg.Postgres.MigrationsDir = dir
				}
				pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
				if err != nil {
					return fmt.Errorf("connect postgres: %w", err)
				}
				defer pg.Close()

				applied, err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration files from %s\n", applied, cfg.Postgres.MigrationsDir)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "migrations directory (defaults to POSTGRES_MIGRATIONS_DIR)")
	return cmd
}

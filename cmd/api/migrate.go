package main

import (
	"context"
	"fmt"

	"github.com/safar/storefront/internal/config"
	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/logging"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply or roll back the Postgres schema",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{string(database.MigrateUp), string(database.MigrateDown)},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.Database.MigrationsPath
			}
			return runMigrate(cmd.Context(), cfg, dir, database.MigrateDirection(args[0]))
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "migrations directory (defaults to DATABASE_MIGRATIONS_PATH)")

	return cmd
}

func runMigrate(ctx context.Context, cfg *config.Config, dir string, direction database.MigrateDirection) error {
	log := logging.New(cfg.Log)

	if cfg.Database.Backend != "postgres" {
		return fmt.Errorf("migrations only apply to the postgres backend, got %q", cfg.Database.Backend)
	}

	db, err := database.NewConnection(ctx, &cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.RunMigrations(db, dir, direction); err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"direction": direction,
		"dir":       dir,
	}).Info("migrations complete")
	return nil
}

package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"identify/internal/contact/store"
	"identify/internal/platform/config"
	"identify/internal/platform/database"
	"identify/internal/platform/logger"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the contacts schema in the configured database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return migrate(cmd.Context(), rootOpts, cmd)
		},
	}
}

func migrate(ctx context.Context, opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	log, err := logger.New(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: os.Stderr})
	if err != nil {
		return err
	}
	if cfg.Database.Driver == config.DriverMemory {
		fmt.Fprintln(cmd.OutOrStdout(), "memory driver has no schema to migrate")
		return nil
	}

	dialect, err := store.ParseDialect(cfg.Database.Driver)
	if err != nil {
		return err
	}
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := store.Migrate(ctx, db, dialect); err != nil {
		return err
	}
	log.InfoContext(ctx, "schema migrated", "driver", cfg.Database.Driver)
	fmt.Fprintf(cmd.OutOrStdout(), "migrated %s schema\n", dialect)
	return nil
}

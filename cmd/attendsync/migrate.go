package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/attendsync/internal/config"
	"github.com/kimhsiao/attendsync/internal/db"
	"github.com/kimhsiao/attendsync/internal/remote"
)

func migrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the local and remote schemas",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "List the applied local migrations",
			Args:  cobra.NoArgs,
			RunE:  migrateStatus,
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the latest local migration",
			Args:  cobra.NoArgs,
			RunE:  migrateDown,
		},
		&cobra.Command{
			Use:   "remote",
			Short: "Create the remote Postgres schema",
			Args:  cobra.NoArgs,
			RunE:  migrateRemote,
		},
	)
	return cmd
}

// migrateStatus opens the local store, which applies pending migrations,
// and lists them.
func migrateStatus(cmd *cobra.Command, args []string) error {
	cfg, err := configFrom(cmd)
	if err != nil {
		return err
	}
	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer database.Close()

	applied, err := db.NewMigrator(database.DB, db.Migrations, "migrations").GetAppliedMigrations()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tDESCRIPTION\tAPPLIED")
	for _, m := range applied {
		fmt.Fprintf(w, "V%d\t%s\t%s\n", m.Version, m.Description, m.AppliedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func migrateDown(cmd *cobra.Command, args []string) error {
	cfg, err := configFrom(cmd)
	if err != nil {
		return err
	}
	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer database.Close()

	m := db.NewMigrator(database.DB, db.Migrations, "migrations")
	if err := m.Down(); err != nil {
		return err
	}
	version, err := m.CurrentVersion()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "local schema at version %d\n", version)
	return nil
}

func migrateRemote(cmd *cobra.Command, args []string) error {
	cfg, err := configFrom(cmd)
	if err != nil {
		return err
	}
	if cfg.RemoteDriver != config.RemotePostgres {
		return fmt.Errorf("remote driver %q has no schema", cfg.RemoteDriver)
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	store, err := remote.OpenPostgres(ctx, cfg.RemoteDSN)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "remote schema is up to date")
	return nil
}

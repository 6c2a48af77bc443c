package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/attendsync/internal/db"
	"github.com/kimhsiao/attendsync/internal/logging"
	"github.com/kimhsiao/attendsync/internal/session"
)

func logoutCommand() *cobra.Command {
	var wipe bool
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "End the operator session once no queued change is at risk",
		Long: "Runs a final sync when changes are queued and refuses to continue if any remain. " +
			"With --wipe the local database is removed afterwards, for handing the device over.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			closed := false
			defer func() {
				if !closed {
					a.Close(ctx)
				}
			}()
			if _, err := a.checkConnectivity(ctx); err != nil {
				return err
			}

			return session.NewGuard(a.engine).SignOut(ctx, func(ctx context.Context) error {
				if wipe {
					closed = true
					if err := a.Close(ctx); err != nil {
						return err
					}
					if err := removeDatabase(cfg.DataDir); err != nil {
						return err
					}
					logging.Info("Local database removed", map[string]interface{}{"data_dir": cfg.DataDir})
				}
				fmt.Fprintln(cmd.OutOrStdout(), "signed out")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&wipe, "wipe", false, "remove the local database after signing out")
	return cmd
}

func removeDatabase(dataDir string) error {
	base := filepath.Join(dataDir, db.FileName)
	var errs []error
	for _, p := range []string{base, base + "-wal", base + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	syncpkg "github.com/kimhsiao/attendsync/internal/sync"
)

func syncCommand() *cobra.Command {
	var (
		force   bool
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push queued changes and pull remote changes once",
		Args:  cobra.NoArgs,
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
			defer a.Close(ctx)

			status, err := a.checkConnectivity(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "connectivity: %s\n", status)

			run := a.engine.Sync
			if force {
				run = a.engine.ForceSync
			}
			res, syncErr := run(ctx)
			if res != nil {
				if jsonOut {
					if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
						return err
					}
				} else {
					printResult(cmd.OutOrStdout(), res)
				}
			}
			return syncErr
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "sync on a degraded connection")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the result as JSON")
	return cmd
}

func printResult(w io.Writer, res *syncpkg.Result) {
	fmt.Fprintf(w, "success:   %t\n", res.Success)
	fmt.Fprintf(w, "processed: %d\n", res.Processed)
	fmt.Fprintf(w, "pulled:    %d\n", res.Pulled)
	fmt.Fprintf(w, "conflicts: %d\n", res.Conflicts)
	if res.Aborted {
		fmt.Fprintln(w, "aborted:   true")
	}
	fmt.Fprintf(w, "duration:  %s\n", res.Duration)
	for _, e := range res.Errors {
		fmt.Fprintf(w, "error:     %s\n", e)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

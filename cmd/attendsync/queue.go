package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/attendsync/internal/models"
)

func queueCommand() *cobra.Command {
	var (
		limit   int
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "List queued changes in push order of arrival",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			l, err := openLocal(ctx, cfg)
			if err != nil {
				return err
			}
			defer l.Close()

			entries, err := l.repo.Queue().List(ctx, limit)
			if err != nil {
				return err
			}
			if jsonOut {
				if entries == nil {
					entries = []*models.QueueEntry{}
				}
				return writeJSON(cmd.OutOrStdout(), entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "queue is empty")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTABLE\tACTION\tLOCAL ID\tENQUEUED\tRETRIES\tLAST ERROR")
			for _, e := range entries {
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%d\t%s\n", e.ID, e.Table, e.Action, e.EntityLocalID,
					models.MillisTime(e.EnqueuedAt).Format(time.RFC3339), e.RetryCount, e.LastError)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum entries to list, 0 for all")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the entries as JSON")
	return cmd
}

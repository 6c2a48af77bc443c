package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/attendsync/internal/models"
)

// deviceStatus is the JSON form of the status command output.
type deviceStatus struct {
	DeviceID    string                                     `json:"device_id"`
	LastSync    *time.Time                                 `json:"last_sync,omitempty"`
	OfflineMode bool                                       `json:"offline_mode"`
	Pending     int                                        `json:"pending_changes"`
	Failed      int                                        `json:"failed_entries"`
	Rows        map[models.Table]map[models.SyncStatus]int `json:"rows"`
	Conflicts   []*models.ConflictLog                      `json:"recent_conflicts,omitempty"`
}

func statusCommand() *cobra.Command {
	var (
		jsonOut   bool
		conflicts int
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the local store and queue state",
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

			st := deviceStatus{Rows: make(map[models.Table]map[models.SyncStatus]int)}
			if st.DeviceID, err = l.repo.DeviceID(ctx); err != nil {
				return err
			}
			last, err := l.repo.LastSync(ctx)
			if err != nil {
				return err
			}
			if last > 0 {
				t := models.MillisTime(last)
				st.LastSync = &t
			}
			if st.OfflineMode, err = l.repo.OfflineMode(ctx); err != nil {
				return err
			}
			if st.Pending, err = l.repo.Queue().Count(ctx); err != nil {
				return err
			}
			if st.Failed, err = l.repo.Queue().CountFailed(ctx); err != nil {
				return err
			}
			for _, table := range models.Tables {
				if st.Rows[table], err = l.repo.CountBySyncStatus(ctx, table); err != nil {
					return err
				}
			}
			if conflicts > 0 {
				if st.Conflicts, err = l.repo.ListConflictLogs(ctx, conflicts); err != nil {
					return err
				}
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), st)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "device:\t%s\n", st.DeviceID)
			if st.LastSync != nil {
				fmt.Fprintf(w, "last sync:\t%s\n", st.LastSync.Format(time.RFC3339))
			} else {
				fmt.Fprintf(w, "last sync:\tnever\n")
			}
			fmt.Fprintf(w, "offline mode:\t%t\n", st.OfflineMode)
			fmt.Fprintf(w, "pending changes:\t%d\n", st.Pending)
			fmt.Fprintf(w, "failed entries:\t%d\n", st.Failed)
			fmt.Fprintln(w)
			fmt.Fprintln(w, "TABLE\tSYNCED\tPENDING\tERROR\tCONFLICT")
			for _, table := range models.Tables {
				c := st.Rows[table]
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n", table,
					c[models.SyncStatusSynced], c[models.SyncStatusPending],
					c[models.SyncStatusError], c[models.SyncStatusConflict])
			}
			for _, c := range st.Conflicts {
				fmt.Fprintf(w, "conflict:\t%s %s local=%d %s\n", c.DetectedAtTime().Format(time.RFC3339),
					c.Table, c.LocalID, c.Resolution)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the status as JSON")
	cmd.Flags().IntVar(&conflicts, "conflicts", 0, "also list this many recent conflicts")
	return cmd
}

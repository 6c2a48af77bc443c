package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/attendsync/internal/checkin"
	apperrors "github.com/kimhsiao/attendsync/internal/errors"
)

func checkinCommand() *cobra.Command {
	var (
		absent bool
		stats  bool
	)
	cmd := &cobra.Command{
		Use:   "checkin QR_CODE",
		Short: "Check a member in to today's event",
		Long:  "Records the check-in locally and queues it for the next sync. Works offline.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			loc, err := cfg.Location()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			l, err := openLocal(ctx, cfg)
			if err != nil {
				return err
			}
			defer l.Close()

			svc := checkin.NewService(l.repo, checkin.Config{RecordedBy: cfg.RecordedBy, Location: loc})
			out := cmd.OutOrStdout()

			member, err := l.repo.MemberByQRCode(ctx, args[0])
			if apperrors.Is(err, apperrors.ErrNotFound) {
				return apperrors.New(apperrors.ErrMemberNotFound, "QR code not recognized")
			}
			if err != nil {
				return err
			}

			if stats {
				s, err := svc.Stats(ctx, member)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s: %s, %d records, %d%% punctual\n", member.FullName, s.Status, s.Total, s.PunctualityRate)
				return nil
			}

			event, err := svc.TodayEvent(ctx)
			if err != nil {
				return err
			}
			var res *checkin.Result
			if absent {
				res, err = svc.MarkAbsent(ctx, event, member)
			} else {
				res, err = svc.CheckInByQR(ctx, event, args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(out, res.Message)
			if res.AlreadyCheckedIn {
				return apperrors.New(apperrors.ErrAlreadyCheckedIn, res.Message)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&absent, "absent", false, "mark the member absent instead")
	cmd.Flags().BoolVar(&stats, "stats", false, "print the member's attendance summary instead")
	return cmd
}

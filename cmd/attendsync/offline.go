package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func offlineCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "offline [on|off]",
		Short:     "Show or set forced offline mode",
		Long:      "Forced offline mode keeps every sync from contacting the remote store. Changes keep queueing locally.",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"on", "off"},
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

			if len(args) == 1 {
				var on bool
				switch args[0] {
				case "on":
					on = true
				case "off":
				default:
					if on, err = strconv.ParseBool(args[0]); err != nil {
						return fmt.Errorf("invalid argument %q (must be on or off)", args[0])
					}
				}
				if err := l.repo.SetOfflineMode(ctx, on); err != nil {
					return err
				}
			}

			on, err := l.repo.OfflineMode(ctx)
			if err != nil {
				return err
			}
			state := "off"
			if on {
				state = "on"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "offline mode: %s\n", state)
			return nil
		},
	}
}

package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/attendsync/internal/config"
	"github.com/kimhsiao/attendsync/internal/heartbeat"
	"github.com/kimhsiao/attendsync/internal/remote"
)

func heartbeatCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "heartbeat",
		Short: "Serve the heartbeat endpoint devices probe",
		Long: "Serves HEAD|GET " + heartbeat.Path + " next to the remote store. With the postgres " +
			"remote driver, " + heartbeat.ReadyPath + " also pings the database.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			hcfg := heartbeat.Config{}
			if cfg.RemoteDriver == config.RemotePostgres && cfg.RemoteDSN != "" {
				store, err := remote.ConnectPostgres(cfg.RemoteDSN)
				if err != nil {
					return err
				}
				defer store.Close()
				hcfg.Ready = store
			}

			if addr == "" {
				addr = cfg.ListenAddr
			}
			srv := &http.Server{
				Addr:              addr,
				Handler:           heartbeat.NewHandler(hcfg).Router(),
				ReadHeaderTimeout: 5 * time.Second,
			}
			return serve(ctx, srv, cfg.ShutdownTimeout)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}

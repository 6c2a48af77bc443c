package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/kimhsiao/attendsync/internal/api"
	"github.com/kimhsiao/attendsync/internal/heartbeat"
	"github.com/kimhsiao/attendsync/internal/logging"
	"github.com/kimhsiao/attendsync/internal/sync/scheduler"
)

func daemonCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Sync in the background and serve the local API",
		Long: "Monitors connectivity, syncs periodically and whenever the link comes back online, " +
			"and serves sync status, manual sync, a WebSocket event feed and Prometheus metrics.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			a.registry.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)

			hub := api.NewHub()
			go hub.Run(ctx)
			a.engine.SetEventHandler(hub.HandleSyncEvent)
			a.monitor.OnChange(hub.HandleConnectivity)

			if offline, err := a.repo.OfflineMode(ctx); err != nil {
				return err
			} else if offline {
				logging.Warn("Forced offline mode is on; syncs are paused")
				a.monitor.SetLinkState(false)
			}

			sched := scheduler.NewScheduler(a.engine, a.monitor, &scheduler.SchedulerConfig{
				SyncInterval: cfg.SyncInterval,
				SyncTimeout:  cfg.SyncTimeout,
				MinInterval:  cfg.MinSyncInterval,
			})
			sched.Start(ctx)
			defer sched.Stop()
			go a.monitor.Start(ctx)

			if addr == "" {
				addr = cfg.ListenAddr
			}
			router := api.NewRouter(api.RouterConfig{
				Heartbeat: heartbeat.NewHandler(heartbeat.Config{Ready: heartbeat.PingerFunc(a.db.PingContext)}),
				Sync:      api.NewSyncHandler(sched),
				Hub:       hub,
				Metrics:   promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
				Timeout:   cfg.SyncTimeout + 10*time.Second,
			})
			srv := &http.Server{
				Addr:              addr,
				Handler:           router,
				ReadHeaderTimeout: 5 * time.Second,
			}
			return serve(ctx, srv, cfg.ShutdownTimeout)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}

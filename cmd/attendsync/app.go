package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/kimhsiao/attendsync/internal/config"
	"github.com/kimhsiao/attendsync/internal/db"
	"github.com/kimhsiao/attendsync/internal/logging"
	"github.com/kimhsiao/attendsync/internal/metrics"
	"github.com/kimhsiao/attendsync/internal/remote"
	syncpkg "github.com/kimhsiao/attendsync/internal/sync"
	"github.com/kimhsiao/attendsync/internal/sync/conflict"
	"github.com/kimhsiao/attendsync/internal/sync/connectivity"
	"github.com/kimhsiao/attendsync/internal/telemetry"
)

func configFrom(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.FromContext(cmd.Context())
	if cfg == nil {
		return nil, errors.New("no config found in context")
	}
	return cfg, nil
}

// local is an open local store.
type local struct {
	db   *db.DB
	repo *db.Repository
}

func openLocal(ctx context.Context, cfg *config.Config) (*local, error) {
	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	repo := db.NewRepository(database)
	if err := repo.EnsureDefaults(ctx); err != nil {
		database.Close()
		return nil, err
	}
	return &local{db: database, repo: repo}, nil
}

func (l *local) Close() error {
	return l.db.Close()
}

// app is a fully wired device: local store, remote store, connectivity
// monitor and sync engine.
type app struct {
	*local
	cfg      *config.Config
	remote   remote.Store
	monitor  *connectivity.Monitor
	registry *prometheus.Registry
	engine   *syncpkg.Engine
	closers  []func(context.Context) error
}

func newApp(ctx context.Context, cfg *config.Config) (a *app, err error) {
	l, err := openLocal(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a = &app{local: l, cfg: cfg, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			a.Close(ctx)
			a = nil
		}
	}()

	deviceID, err := l.repo.DeviceID(ctx)
	if err != nil {
		return nil, err
	}
	shutdown, err := telemetry.Setup(ctx, telemetry.Config{
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
		ServiceName: cfg.ServiceName,
		DeviceID:    deviceID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}
	a.closers = append(a.closers, shutdown)

	a.remote, err = openRemote(cfg)
	if err != nil {
		return nil, err
	}
	if c, ok := a.remote.(interface{ Close() error }); ok {
		a.closers = append(a.closers, func(context.Context) error { return c.Close() })
	}

	m := metrics.New(a.registry)
	a.monitor = connectivity.NewMonitor(newProber(cfg), connectivity.Config{
		ProbeTimeout:  cfg.ProbeTimeout,
		SlowThreshold: cfg.SlowThreshold,
		CheckInterval: cfg.ProbeInterval,
		Metrics:       m,
	})
	a.engine = syncpkg.NewEngine(l.repo, l.repo.Queue(), a.remote, a.monitor, syncpkg.Config{
		AttendanceLookback: cfg.AttendanceLookback,
		ConflictStrategy:   conflict.ResolutionStrategy(cfg.ConflictStrategy),
		Metrics:            m,
	})

	logging.Debug("Device ready", map[string]interface{}{
		"device_id":     deviceID,
		"data_dir":      cfg.DataDir,
		"remote_driver": cfg.RemoteDriver,
	})
	return a, nil
}

// Close releases everything newApp opened, in reverse order.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	errs = append(errs, a.local.Close())
	return errors.Join(errs...)
}

func openRemote(cfg *config.Config) (remote.Store, error) {
	switch cfg.RemoteDriver {
	case config.RemoteMemory:
		logging.Warn("Using the in-memory remote store; remote rows are lost on exit")
		return remote.NewMemoryStore(), nil
	case config.RemotePostgres:
		if cfg.RemoteDSN == "" {
			return nil, errors.New("remoteDSN is required for the postgres remote store")
		}
		return remote.ConnectPostgres(cfg.RemoteDSN)
	}
	return nil, fmt.Errorf("unknown remote driver %q", cfg.RemoteDriver)
}

// checkConnectivity classifies the link now. Forced offline mode reports
// offline without probing.
func (a *app) checkConnectivity(ctx context.Context) (connectivity.Status, error) {
	offline, err := a.repo.OfflineMode(ctx)
	if err != nil {
		return "", err
	}
	if offline {
		a.monitor.SetLinkState(false)
	}
	return a.monitor.Check(ctx), nil
}

// newProber probes the heartbeat URL, or always succeeds when none is set.
func newProber(cfg *config.Config) connectivity.Prober {
	if cfg.HeartbeatURL == "" {
		return connectivity.ProberFunc(func(context.Context) error { return nil })
	}
	return connectivity.NewHTTPProber(cfg.HeartbeatURL)
}

// Package scheduler provides background sync scheduling.
//
// A Scheduler runs an automatic sync every SyncInterval while the link is
// online and whenever connectivity comes back online. Automatic syncs are
// throttled; manual syncs through SyncNow are not.
package scheduler

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/kimhsiao/attendsync/internal/errors"
	"github.com/kimhsiao/attendsync/internal/logging"
	syncpkg "github.com/kimhsiao/attendsync/internal/sync"
	"github.com/kimhsiao/attendsync/internal/sync/connectivity"
)

// Monitor is the connectivity source the scheduler follows.
type Monitor interface {
	IsOnline() bool
	OnChange(handler func(connectivity.Status))
}

// Scheduler manages background sync operations.
type Scheduler struct {
	engine       syncpkg.SyncEngineInterface
	monitor      Monitor
	syncInterval time.Duration
	syncTimeout  time.Duration
	limiter      *rate.Limiter
	trigger      chan struct{}

	stopCh         chan struct{}
	wg             sync.WaitGroup
	mu             sync.RWMutex
	subscribed     bool
	isRunning      bool
	syncInProgress bool
	lastRunTime    time.Time
	lastResult     *syncpkg.Result
	lastErr        error
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	SyncInterval time.Duration // How often to sync when online (default: 5 minutes)
	SyncTimeout  time.Duration // Upper bound of one sync (default: 5 minutes)
	MinInterval  time.Duration // Minimum spacing of automatic syncs (default: 10 seconds)
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		SyncInterval: 5 * time.Minute,
		SyncTimeout:  5 * time.Minute,
		MinInterval:  10 * time.Second,
	}
}

// NewScheduler creates a new Scheduler. A nil monitor is treated as always
// online.
func NewScheduler(engine syncpkg.SyncEngineInterface, monitor Monitor, config *SchedulerConfig) *Scheduler {
	defaults := DefaultSchedulerConfig()
	if config == nil {
		config = defaults
	}
	cfg := *config
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = defaults.SyncInterval
	}
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = defaults.SyncTimeout
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = defaults.MinInterval
	}

	return &Scheduler{
		engine:       engine,
		monitor:      monitor,
		syncInterval: cfg.SyncInterval,
		syncTimeout:  cfg.SyncTimeout,
		limiter:      rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		trigger:      make(chan struct{}, 1),
	}
}

// Start starts the background sync scheduler. It is a no-op while running.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.stopCh = make(chan struct{})
	subscribe := !s.subscribed && s.monitor != nil
	s.subscribed = true
	stopCh := s.stopCh
	s.mu.Unlock()

	if subscribe {
		s.monitor.OnChange(s.onConnectivity)
	}

	s.wg.Add(1)
	go s.loop(ctx, stopCh)

	logging.Info("Background sync scheduler started",
		map[string]interface{}{"interval_seconds": s.syncInterval.Seconds()})
}

// Stop stops the scheduler and waits for running syncs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()

	logging.Info("Background sync scheduler stopped", nil)
}

// onConnectivity runs on the monitor's goroutine and must not block.
func (s *Scheduler) onConnectivity(status connectivity.Status) {
	if status != connectivity.StatusOnline || !s.IsRunning() {
		return
	}
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(ctx context.Context, stopCh chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			s.autoSync(ctx, "periodic")
		case <-s.trigger:
			s.autoSync(ctx, "connectivity")
		}
	}
}

// autoSync runs an automatic sync unless the link is not online, a sync is
// already running, or the throttle refuses it.
func (s *Scheduler) autoSync(ctx context.Context, reason string) {
	if !s.IsOnline() {
		logging.Debug("Skipping sync - offline", map[string]interface{}{"reason": reason})
		return
	}
	if !s.limiter.Allow() {
		logging.Debug("Skipping sync - throttled", map[string]interface{}{"reason": reason})
		return
	}
	if !s.begin() {
		logging.Debug("Sync already in progress, skipping", map[string]interface{}{"reason": reason})
		return
	}
	s.run(ctx, reason, false)
}

func (s *Scheduler) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.syncInProgress || s.engine.IsSyncing() {
		return false
	}
	s.syncInProgress = true
	return true
}

// run performs one sync. The caller must have won begin.
func (s *Scheduler) run(ctx context.Context, reason string, manual bool) (*syncpkg.Result, error) {
	syncCtx, cancel := context.WithTimeout(ctx, s.syncTimeout)
	defer cancel()

	var (
		result *syncpkg.Result
		err    error
	)
	if manual {
		result, err = s.engine.ForceSync(syncCtx)
	} else {
		result, err = s.engine.Sync(syncCtx)
	}

	s.mu.Lock()
	s.syncInProgress = false
	s.lastRunTime = time.Now()
	s.lastErr = err
	if result != nil {
		s.lastResult = result
	}
	s.mu.Unlock()

	if err != nil {
		logging.ErrorWithCode("Sync failed", string(apperrors.CodeOf(err)), err,
			map[string]interface{}{"reason": reason})
		return result, err
	}
	logging.Info("Sync completed",
		map[string]interface{}{
			"reason":    reason,
			"processed": result.Processed,
			"pulled":    result.Pulled,
			"conflicts": result.Conflicts,
			"errors":    len(result.Errors),
		})
	return result, nil
}

// TriggerSync starts an automatic sync in the background without throttling.
// It returns false if a sync is already in progress.
func (s *Scheduler) TriggerSync(ctx context.Context) bool {
	if !s.begin() {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx, "trigger", false)
	}()
	return true
}

// SyncNow performs a manual sync and waits for it. A degraded link is
// accepted.
func (s *Scheduler) SyncNow(ctx context.Context) (*syncpkg.Result, error) {
	if !s.begin() {
		return nil, apperrors.New(apperrors.ErrSyncInProgress, "sync already in progress")
	}
	return s.run(ctx, "manual", true)
}

// SchedulerStatus is a snapshot of the scheduler and the sync state.
type SchedulerStatus struct {
	IsRunning      bool
	IsOnline       bool
	SyncInProgress bool
	// LastSyncTime is the start of the last sync whose pull completed.
	LastSyncTime *time.Time
	// LastRunTime is when the scheduler last finished a sync attempt.
	LastRunTime  *time.Time
	LastResult   *syncpkg.Result
	LastError    string
	PendingItems int
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus(ctx context.Context) (SchedulerStatus, error) {
	pending, err := s.engine.PendingChanges(ctx)
	if err != nil {
		return SchedulerStatus{}, err
	}
	last, err := s.engine.LastSync(ctx)
	if err != nil {
		return SchedulerStatus{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	status := SchedulerStatus{
		IsRunning:      s.isRunning,
		IsOnline:       s.IsOnline(),
		SyncInProgress: s.syncInProgress || s.engine.IsSyncing(),
		LastSyncTime:   last,
		LastResult:     s.lastResult,
		PendingItems:   pending,
	}
	if !s.lastRunTime.IsZero() {
		t := s.lastRunTime
		status.LastRunTime = &t
	}
	if s.lastErr != nil {
		status.LastError = s.lastErr.Error()
	}
	return status, nil
}

// IsOnline returns whether the monitor reports the link online.
func (s *Scheduler) IsOnline() bool {
	if s.monitor == nil {
		return true
	}
	return s.monitor.IsOnline()
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

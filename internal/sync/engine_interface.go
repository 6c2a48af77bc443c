// Package sync provides synchronization interfaces and implementations.
package sync

import (
	"context"
	"time"

	"github.com/kimhsiao/attendsync/internal/models"
	"github.com/kimhsiao/attendsync/internal/sync/connectivity"
)

// SyncEngineInterface defines the interface for sync engine operations.
// This interface allows for mocking in tests and alternative implementations.
type SyncEngineInterface interface {
	// Sync performs an automatic synchronization. It requires an online link.
	Sync(ctx context.Context) (*Result, error)

	// ForceSync performs a manual synchronization. A degraded link is accepted.
	ForceSync(ctx context.Context) (*Result, error)

	// Abort asks a running sync to stop between queue entries.
	Abort() bool

	// SetEventHandler sets the handler for sync notifications.
	SetEventHandler(handler EventHandler)

	// State returns the current engine state.
	State() State

	// IsSyncing reports whether a sync is running.
	IsSyncing() bool

	// LastSync returns the start time of the last sync whose pull completed.
	LastSync(ctx context.Context) (*time.Time, error)

	// PendingChanges returns the number of queued mutations.
	PendingChanges(ctx context.Context) (int, error)
}

// Queue is the durable mutation queue the engine drains.
type Queue interface {
	Drain(ctx context.Context) ([]*models.QueueEntry, error)
	Append(ctx context.Context, entry *models.QueueEntry) error
	Ack(ctx context.Context, id int64) error
	Fail(ctx context.Context, id int64, cause error) (bool, error)
	Count(ctx context.Context) (int, error)
	HasPendingFor(ctx context.Context, ref models.EntityRef, exceptID int64) (bool, error)
	HasPendingDelete(ctx context.Context, table models.Table, remoteID string) (bool, error)
	CancelFor(ctx context.Context, ref models.EntityRef) (int64, error)
}

// StatusSource reports the connectivity status.
type StatusSource interface {
	Status() connectivity.Status
}

// Ensure *Engine implements SyncEngineInterface at compile time.
var _ SyncEngineInterface = (*Engine)(nil)

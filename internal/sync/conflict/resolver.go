// Package conflict decides what happens when a pulled remote row matches a
// local row that still has unpushed changes.
package conflict

import (
	"github.com/kimhsiao/attendsync/internal/logging"
	"github.com/kimhsiao/attendsync/internal/models"
	"github.com/kimhsiao/attendsync/internal/uuid"
)

// ResolutionStrategy defines how conflicts are resolved.
type ResolutionStrategy string

const (
	// StrategyRemoteWins always applies the pulled row.
	StrategyRemoteWins ResolutionStrategy = "remote_wins"
	// StrategyLastWriteWins keeps whichever side has the newer updated_at.
	// Ties go to the remote row.
	StrategyLastWriteWins ResolutionStrategy = "last_write_wins"
)

// Resolution values written to the conflict log.
const (
	ResolutionRemoteWins = "remote_wins"
	ResolutionLocalWins  = "local_wins"
)

// Resolver handles conflict resolution during the pull phase.
type Resolver struct {
	strategy ResolutionStrategy
	now      func() int64
}

// NewResolver creates a new Resolver with the specified strategy. An unknown
// or empty strategy falls back to StrategyRemoteWins.
func NewResolver(strategy ResolutionStrategy) *Resolver {
	switch strategy {
	case StrategyRemoteWins, StrategyLastWriteWins:
	default:
		strategy = StrategyRemoteWins
	}
	return &Resolver{strategy: strategy, now: models.NowMillis}
}

// Strategy returns the configured strategy.
func (r *Resolver) Strategy() ResolutionStrategy {
	return r.strategy
}

// Conflict represents a pulled row colliding with unpushed local changes.
type Conflict struct {
	Local      models.Entity
	Remote     models.Entity
	DetectedAt int64
}

// Decision is the outcome of resolving a Conflict.
type Decision struct {
	// Overwrite is true when the pulled row replaces the local row.
	Overwrite bool
	Log       *models.ConflictLog
}

// Detect reports a conflict when local exists and still carries changes the
// remote store has not accepted.
func (r *Resolver) Detect(local, remote models.Entity) (*Conflict, bool) {
	if local == nil || remote == nil {
		return nil, false
	}
	switch local.SyncState() {
	case models.SyncStatusPending, models.SyncStatusError, models.SyncStatusConflict:
	default:
		return nil, false
	}

	logging.Warn("Concurrent edit conflict detected",
		map[string]interface{}{
			"table":            local.Table(),
			"local_id":         local.Local(),
			"remote_id":        remote.Remote(),
			"local_timestamp":  local.LastModified(),
			"remote_timestamp": remote.LastModified(),
		})

	return &Conflict{Local: local, Remote: remote, DetectedAt: r.now()}, true
}

// Resolve applies the strategy and returns the decision with its log entry.
func (r *Resolver) Resolve(c *Conflict) (*Decision, error) {
	if c == nil || c.Local == nil || c.Remote == nil {
		return nil, ErrInvalidConflict
	}
	if c.Local.Table() != c.Remote.Table() {
		return nil, ErrTableMismatch
	}

	resolution := ResolutionRemoteWins
	if r.strategy == StrategyLastWriteWins && c.Local.LastModified() > c.Remote.LastModified() {
		resolution = ResolutionLocalWins
	}

	remoteID := c.Remote.Remote()
	if remoteID == "" {
		remoteID = c.Local.Remote()
	}
	entry := &models.ConflictLog{
		ID:              uuid.NewClientID(),
		Table:           c.Local.Table(),
		LocalID:         c.Local.Local(),
		RemoteID:        remoteID,
		LocalUpdatedAt:  c.Local.LastModified(),
		RemoteUpdatedAt: c.Remote.LastModified(),
		Resolution:      resolution,
		DetectedAt:      c.DetectedAt,
	}

	logging.Info("Conflict resolved",
		map[string]interface{}{
			"table":            entry.Table,
			"local_id":         entry.LocalID,
			"remote_id":        entry.RemoteID,
			"local_timestamp":  entry.LocalUpdatedAt,
			"remote_timestamp": entry.RemoteUpdatedAt,
			"strategy":         r.strategy,
			"resolution":       resolution,
		})

	return &Decision{Overwrite: resolution == ResolutionRemoteWins, Log: entry}, nil
}

// Errors
var (
	ErrInvalidConflict = &ConflictError{Message: "invalid conflict: both rows must be non-nil"}
	ErrTableMismatch   = &ConflictError{Message: "conflicting rows belong to different tables"}
)

// ConflictError represents a conflict resolution error.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// IsConflictError checks if an error is a ConflictError.
func IsConflictError(err error) bool {
	_, ok := err.(*ConflictError)
	return ok
}

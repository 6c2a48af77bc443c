// Package db provides repository interfaces for the attendance store.
package db

import (
	"context"

	"github.com/kimhsiao/attendsync/internal/models"
)

// EntityRepository defines addressing operations shared by every entity table.
// This interface allows mocking for testing and follows the Interface Segregation Principle.
type EntityRepository interface {
	// Put inserts or replaces an entity without touching the sync queue.
	Put(ctx context.Context, e models.Entity) (int64, error)

	// Get retrieves an entity by local id.
	Get(ctx context.Context, table models.Table, localID int64) (models.Entity, error)

	// GetByRemoteID retrieves an entity by remote id.
	GetByRemoteID(ctx context.Context, table models.Table, remoteID string) (models.Entity, error)

	// GetByClientID retrieves an entity by client id.
	GetByClientID(ctx context.Context, table models.Table, clientID models.UUID) (models.Entity, error)
}

// MutationRepository defines user-facing writes that are queued for sync.
type MutationRepository interface {
	// Save writes an entity and enqueues the action atomically.
	Save(ctx context.Context, e models.Entity, action models.Action) error

	// Remove deletes an entity and enqueues or cancels the remote delete.
	Remove(ctx context.Context, e models.Entity) error
}

// SettingsRepository defines key/value settings persistence.
type SettingsRepository interface {
	LastSync(ctx context.Context) (int64, error)
	SetLastSync(ctx context.Context, ms int64) error
	DeviceID(ctx context.Context) (string, error)
}

// ConflictLogRepository defines operations for conflict log persistence.
type ConflictLogRepository interface {
	// CreateConflictLog creates a new conflict log entry.
	CreateConflictLog(ctx context.Context, log *models.ConflictLog) error
}

// SyncRepository combines the operations the sync engine needs.
type SyncRepository interface {
	EntityRepository
	SettingsRepository
	ConflictLogRepository

	Remove(ctx context.Context, e models.Entity) error
	Exists(ctx context.Context, ref models.EntityRef) (bool, error)
	MarkSynced(ctx context.Context, ref models.EntityRef) error
	MarkError(ctx context.Context, ref models.EntityRef) error
	AssignRemoteID(ctx context.Context, ref models.EntityRef, remoteID string) error
	FindAttendance(ctx context.Context, member, event IDs) (*models.Attendance, error)
	CountAttendance(ctx context.Context) (int, error)
}

// CheckInRepository combines the operations the check-in flow needs.
type CheckInRepository interface {
	MutationRepository

	GetMember(ctx context.Context, localID int64) (*models.Member, error)
	GetEvent(ctx context.Context, localID int64) (*models.Event, error)
	MemberByQRCode(ctx context.Context, code string) (*models.Member, error)
	TodayEvent(ctx context.Context, date string) (*models.Event, error)
	FindAttendance(ctx context.Context, member, event IDs) (*models.Attendance, error)
	MemberAttendance(ctx context.Context, member IDs) ([]*models.Attendance, error)
}

// Ensure *Repository implements the interfaces at compile time.
var (
	_ EntityRepository      = (*Repository)(nil)
	_ MutationRepository    = (*Repository)(nil)
	_ SettingsRepository    = (*Repository)(nil)
	_ ConflictLogRepository = (*Repository)(nil)
	_ SyncRepository        = (*Repository)(nil)
	_ CheckInRepository     = (*Repository)(nil)
)

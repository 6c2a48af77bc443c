// Package db provides CRUD repository operations for the attendance store.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	apperrors "github.com/kimhsiao/attendsync/internal/errors"
	"github.com/kimhsiao/attendsync/internal/models"
	"github.com/kimhsiao/attendsync/internal/sync/queue"
	"github.com/kimhsiao/attendsync/internal/uuid"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX = queue.DBTX

// Repository provides CRUD operations for all models. Every user-facing write
// goes through Save or Remove, which update the row and append the matching
// sync queue entry in one transaction.
type Repository struct {
	db    *DB
	queue *queue.Queue
}

// NewRepository creates a new Repository instance.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db, queue: queue.New(db.DB)}
}

// DB returns the underlying database handle.
func (r *Repository) DB() *DB {
	return r.db
}

// Queue returns the sync queue stored alongside the entities.
func (r *Repository) Queue() *queue.Queue {
	return r.queue
}

// =====================================================
// Generic Entity Operations
// =====================================================

// Put inserts or replaces e without touching the sync queue. A zero LocalID
// is assigned by the store and written back. An existing remote id is never
// overwritten. Put returns the local id.
func (r *Repository) Put(ctx context.Context, e models.Entity) (int64, error) {
	return put(ctx, r.db, e)
}

func put(ctx context.Context, q DBTX, e models.Entity) (int64, error) {
	var (
		id  int64
		err error
	)
	if c := e.Client(); c != "" {
		if err := uuid.Validate("client id", string(c)); err != nil {
			return 0, err
		}
	}
	switch v := e.(type) {
	case *models.Member:
		id, err = putMember(ctx, q, v)
	case *models.Event:
		id, err = putEvent(ctx, q, v)
	case *models.Attendance:
		id, err = putAttendance(ctx, q, v)
	default:
		return 0, apperrors.Newf(apperrors.ErrInvalid, "unsupported entity %T", e)
	}
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return 0, err
		}
		return 0, apperrors.Wrap(apperrors.ErrDatabase, fmt.Sprintf("failed to put %s", e.Table()), err)
	}
	return id, nil
}

// Get retrieves the row of table with the given local id.
func (r *Repository) Get(ctx context.Context, table models.Table, localID int64) (models.Entity, error) {
	return get(ctx, r.db, table, localID)
}

func get(ctx context.Context, q DBTX, table models.Table, localID int64) (models.Entity, error) {
	switch table {
	case models.TableMembers:
		return getMember(ctx, q, "local_id = ?", localID)
	case models.TableEvents:
		return getEvent(ctx, q, "local_id = ?", localID)
	case models.TableAttendance:
		return getAttendance(ctx, q, "local_id = ?", localID)
	}
	return nil, apperrors.Newf(apperrors.ErrInvalid, "unknown table %q", table)
}

// GetByRemoteID retrieves the row of table with the given remote id.
func (r *Repository) GetByRemoteID(ctx context.Context, table models.Table, remoteID string) (models.Entity, error) {
	switch table {
	case models.TableMembers:
		return getMember(ctx, r.db, "remote_id = ?", remoteID)
	case models.TableEvents:
		return getEvent(ctx, r.db, "remote_id = ?", remoteID)
	case models.TableAttendance:
		return getAttendance(ctx, r.db, "remote_id = ?", remoteID)
	}
	return nil, apperrors.Newf(apperrors.ErrInvalid, "unknown table %q", table)
}

// GetByClientID retrieves the row of table with the given client id.
func (r *Repository) GetByClientID(ctx context.Context, table models.Table, clientID models.UUID) (models.Entity, error) {
	switch table {
	case models.TableMembers:
		return getMember(ctx, r.db, "client_id = ?", clientID)
	case models.TableEvents:
		return getEvent(ctx, r.db, "client_id = ?", clientID)
	case models.TableAttendance:
		return getAttendance(ctx, r.db, "client_id = ?", clientID)
	}
	return nil, apperrors.Newf(apperrors.ErrInvalid, "unknown table %q", table)
}

// Save writes e and enqueues action for it in a single transaction. The row is
// marked pending. ActionDelete is forwarded to Remove.
func (r *Repository) Save(ctx context.Context, e models.Entity, action models.Action) error {
	switch action {
	case models.ActionCreate, models.ActionUpdate:
	case models.ActionDelete:
		return r.Remove(ctx, e)
	default:
		return apperrors.Newf(apperrors.ErrInvalid, "unknown action %q", action)
	}
	if action == models.ActionUpdate && e.Local() == 0 {
		return apperrors.New(apperrors.ErrInvalid, "update requires a local id")
	}

	setPending(e)
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if action == models.ActionUpdate {
			if _, err := get(ctx, tx, e.Table(), e.Local()); err != nil {
				return err
			}
		}
		if _, err := put(ctx, tx, e); err != nil {
			return err
		}
		payload, err := json.Marshal(e)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrInternal, "failed to encode queue payload", err)
		}
		entry := &models.QueueEntry{
			Table:         e.Table(),
			Action:        action,
			EntityLocalID: e.Local(),
			Payload:       payload,
		}
		if a, ok := e.(*models.Attendance); ok {
			entry.DependsOn = a.Dependencies()
		}
		return queue.Append(ctx, tx, entry)
	})
}

// Remove deletes the local row of e. A row that was accepted by the remote
// store gets a delete entry queued; a row that never was has its queued
// entries cancelled instead.
func (r *Repository) Remove(ctx context.Context, e models.Entity) error {
	table := e.Table()
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		current, err := get(ctx, tx, table, e.Local())
		if err != nil {
			return err
		}
		query := fmt.Sprintf("DELETE FROM %s WHERE local_id = ?", table)
		if _, err := tx.ExecContext(ctx, query, e.Local()); err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, fmt.Sprintf("failed to delete %s", table), err)
		}

		ref := models.EntityRef{Table: table, LocalID: e.Local()}
		if current.Remote() == "" {
			_, err := queue.CancelFor(ctx, tx, ref)
			return err
		}
		payload, _ := json.Marshal(map[string]string{"id": current.Remote()})
		return queue.Append(ctx, tx, &models.QueueEntry{
			Table:         table,
			Action:        models.ActionDelete,
			EntityLocalID: e.Local(),
			Payload:       payload,
		})
	})
}

// Exists reports whether the row still exists locally.
func (r *Repository) Exists(ctx context.Context, ref models.EntityRef) (bool, error) {
	if !ref.Table.Valid() {
		return false, apperrors.Newf(apperrors.ErrInvalid, "unknown table %q", ref.Table)
	}
	var n int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE local_id = ?", ref.Table)
	if err := r.db.QueryRowContext(ctx, query, ref.LocalID).Scan(&n); err != nil {
		return false, apperrors.Wrap(apperrors.ErrDatabase, "failed to check row", err)
	}
	return n > 0, nil
}

// =====================================================
// Sync Bookkeeping
// =====================================================

// MarkSynced marks the row as matching the remote store.
func (r *Repository) MarkSynced(ctx context.Context, ref models.EntityRef) error {
	return r.setSyncStatus(ctx, ref, models.SyncStatusSynced)
}

// MarkError marks the row as permanently failing to push.
func (r *Repository) MarkError(ctx context.Context, ref models.EntityRef) error {
	return r.setSyncStatus(ctx, ref, models.SyncStatusError)
}

func (r *Repository) setSyncStatus(ctx context.Context, ref models.EntityRef, status models.SyncStatus) error {
	if !ref.Table.Valid() {
		return apperrors.Newf(apperrors.ErrInvalid, "unknown table %q", ref.Table)
	}
	query := fmt.Sprintf("UPDATE %s SET sync_status = ? WHERE local_id = ?", ref.Table)
	if _, err := r.db.ExecContext(ctx, query, status, ref.LocalID); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to update sync status", err)
	}
	return nil
}

// AssignRemoteID records the id the remote store gave the row. For members
// and events the id is also copied onto attendance rows that reference the
// row only by local id.
func (r *Repository) AssignRemoteID(ctx context.Context, ref models.EntityRef, remoteID string) error {
	if !ref.Table.Valid() {
		return apperrors.Newf(apperrors.ErrInvalid, "unknown table %q", ref.Table)
	}
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		query := fmt.Sprintf("UPDATE %s SET remote_id = ? WHERE local_id = ?", ref.Table)
		if _, err := tx.ExecContext(ctx, query, remoteID, ref.LocalID); err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "failed to assign remote id", err)
		}

		var column string
		switch ref.Table {
		case models.TableMembers:
			column = "member"
		case models.TableEvents:
			column = "event"
		default:
			return nil
		}
		query = fmt.Sprintf(`UPDATE attendance SET %[1]s_remote_id = ?
			WHERE %[1]s_local_id = ? AND %[1]s_remote_id IS NULL`, column)
		if _, err := tx.ExecContext(ctx, query, remoteID, ref.LocalID); err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "failed to propagate remote id", err)
		}
		return nil
	})
}

// Count returns the number of rows in table.
func (r *Repository) Count(ctx context.Context, table models.Table) (int, error) {
	if !table.Valid() {
		return 0, apperrors.Newf(apperrors.ErrInvalid, "unknown table %q", table)
	}
	var n int
	if err := r.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&n); err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to count rows", err)
	}
	return n, nil
}

// CountBySyncStatus returns the number of rows of table in each sync status.
func (r *Repository) CountBySyncStatus(ctx context.Context, table models.Table) (map[models.SyncStatus]int, error) {
	if !table.Valid() {
		return nil, apperrors.Newf(apperrors.ErrInvalid, "unknown table %q", table)
	}
	rows, err := r.db.QueryContext(ctx,
		fmt.Sprintf("SELECT sync_status, COUNT(*) FROM %s GROUP BY sync_status", table))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to count rows", err)
	}
	defer rows.Close()

	counts := make(map[models.SyncStatus]int)
	for rows.Next() {
		var status models.SyncStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan count", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// =====================================================
// Settings Operations
// =====================================================

// EnsureDefaults writes the default settings that are not present yet.
func (r *Repository) EnsureDefaults(ctx context.Context) error {
	defaults := []models.Setting{
		{Key: models.SettingLastSync, Value: "0"},
		{Key: models.SettingDeviceID, Value: uuid.New()},
		{Key: models.SettingOfflineMode, Value: "false"},
	}
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, s := range defaults {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO settings (key, value) VALUES (?, ?)`, s.Key, s.Value); err != nil {
				return apperrors.Wrap(apperrors.ErrDatabase, "failed to write default settings", err)
			}
		}
		return nil
	})
}

// GetSetting returns the value stored under key and whether it exists.
func (r *Repository) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperrors.Wrap(apperrors.ErrDatabase, "failed to read setting", err)
	}
	return value, true, nil
}

// SetSetting stores value under key.
func (r *Repository) SetSetting(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO settings (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to write setting", err)
	}
	return nil
}

// LastSync returns the start time of the last completed sync in Unix
// milliseconds, or zero if the device never synced.
func (r *Repository) LastSync(ctx context.Context) (int64, error) {
	value, ok, err := r.GetSetting(ctx, models.SettingLastSync)
	if err != nil || !ok || value == "" {
		return 0, err
	}
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrInternal, "malformed lastSync setting", err)
	}
	return ms, nil
}

// SetLastSync stores the start time of the last completed sync.
func (r *Repository) SetLastSync(ctx context.Context, ms int64) error {
	return r.SetSetting(ctx, models.SettingLastSync, strconv.FormatInt(ms, 10))
}

// DeviceID returns the identifier of this installation, creating it on first
// use.
func (r *Repository) DeviceID(ctx context.Context) (string, error) {
	value, ok, err := r.GetSetting(ctx, models.SettingDeviceID)
	if err != nil {
		return "", err
	}
	if ok && value != "" {
		return value, nil
	}
	value = uuid.New()
	if err := r.SetSetting(ctx, models.SettingDeviceID, value); err != nil {
		return "", err
	}
	return value, nil
}

// OfflineMode reports whether the user forced offline mode.
func (r *Repository) OfflineMode(ctx context.Context) (bool, error) {
	value, _, err := r.GetSetting(ctx, models.SettingOfflineMode)
	if err != nil {
		return false, err
	}
	return value == "true", nil
}

// SetOfflineMode stores the forced offline flag.
func (r *Repository) SetOfflineMode(ctx context.Context, on bool) error {
	return r.SetSetting(ctx, models.SettingOfflineMode, strconv.FormatBool(on))
}

// =====================================================
// ConflictLog Operations
// =====================================================

// CreateConflictLog creates a new conflict log entry.
func (r *Repository) CreateConflictLog(ctx context.Context, log *models.ConflictLog) error {
	if log.ID == "" {
		log.ID = uuid.NewClientID()
	}
	if log.DetectedAt == 0 {
		log.DetectedAt = models.NowMillis()
	}
	if log.Resolution == "" {
		log.Resolution = "remote_wins"
	}

	query := `
	INSERT INTO conflict_log (id, table_name, local_id, remote_id, local_updated_at,
		remote_updated_at, resolution, detected_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query, log.ID, log.Table, log.LocalID, log.RemoteID,
		log.LocalUpdatedAt, log.RemoteUpdatedAt, log.Resolution, log.DetectedAt)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to write conflict log", err)
	}
	return nil
}

// ListConflictLogs returns the most recent conflict log entries.
func (r *Repository) ListConflictLogs(ctx context.Context, limit int) ([]*models.ConflictLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
	SELECT id, table_name, local_id, remote_id, local_updated_at, remote_updated_at,
		resolution, detected_at
	FROM conflict_log ORDER BY detected_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list conflict log", err)
	}
	defer rows.Close()

	var logs []*models.ConflictLog
	for rows.Next() {
		var c models.ConflictLog
		if err := rows.Scan(&c.ID, &c.Table, &c.LocalID, &c.RemoteID, &c.LocalUpdatedAt,
			&c.RemoteUpdatedAt, &c.Resolution, &c.DetectedAt); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan conflict log", err)
		}
		logs = append(logs, &c)
	}
	return logs, rows.Err()
}

// =====================================================
// Helpers
// =====================================================

// setPending applies creation defaults and marks e as locally modified.
func setPending(e models.Entity) {
	now := models.NowMillis()
	switch v := e.(type) {
	case *models.Member:
		v.SyncStatus = models.SyncStatusPending
		v.UpdatedAt = now
	case *models.Event:
		v.SyncStatus = models.SyncStatusPending
		v.UpdatedAt = now
	case *models.Attendance:
		v.SyncStatus = models.SyncStatusPending
		v.UpdatedAt = now
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(i int64) any {
	if i == 0 {
		return nil
	}
	return i
}

func notFound(table models.Table, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.Newf(apperrors.ErrNotFound, "%s not found", table)
	}
	return apperrors.Wrap(apperrors.ErrDatabase, fmt.Sprintf("failed to read %s", table), err)
}

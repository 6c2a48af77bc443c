package db

import (
	"context"

	apperrors "github.com/kimhsiao/attendsync/internal/errors"
	"github.com/kimhsiao/attendsync/internal/models"
	"github.com/kimhsiao/attendsync/internal/uuid"
)

const eventColumns = `local_id, remote_id, client_id, title, event_date, start_time, location,
	status, created_by, created_at, updated_at, sync_status`

func putEvent(ctx context.Context, q DBTX, e *models.Event) (int64, error) {
	now := models.NowMillis()
	if e.ClientID == "" {
		e.ClientID = uuid.NewClientID()
	}
	if e.CreatedAt == 0 {
		e.CreatedAt = now
	}
	if e.UpdatedAt == 0 {
		e.UpdatedAt = e.CreatedAt
	}
	if e.Status == "" {
		e.Status = models.EventStatusUpcoming
	}
	if e.SyncStatus == "" {
		e.SyncStatus = models.SyncStatusPending
	}

	query := `
	INSERT INTO events (` + eventColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(local_id) DO UPDATE SET
		remote_id = COALESCE(events.remote_id, excluded.remote_id),
		title = excluded.title,
		event_date = excluded.event_date,
		start_time = excluded.start_time,
		location = excluded.location,
		status = excluded.status,
		created_by = excluded.created_by,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at,
		sync_status = excluded.sync_status
	RETURNING local_id, remote_id
	`
	var remoteID *string
	err := q.QueryRowContext(ctx, query, nullInt(e.LocalID), nullString(e.RemoteID), e.ClientID,
		e.Title, e.Date, e.StartTime, nullString(e.Location), e.Status, nullString(e.CreatedBy),
		e.CreatedAt, e.UpdatedAt, e.SyncStatus).Scan(&e.LocalID, &remoteID)
	if err != nil {
		return 0, err
	}
	if remoteID != nil {
		e.RemoteID = *remoteID
	}
	return e.LocalID, nil
}

func scanEvent(s scanner) (*models.Event, error) {
	var (
		e                             models.Event
		remoteID, location, createdBy *string
	)
	err := s.Scan(&e.LocalID, &remoteID, &e.ClientID, &e.Title, &e.Date, &e.StartTime, &location,
		&e.Status, &createdBy, &e.CreatedAt, &e.UpdatedAt, &e.SyncStatus)
	if err != nil {
		return nil, err
	}
	e.RemoteID = deref(remoteID)
	e.Location = deref(location)
	e.CreatedBy = deref(createdBy)
	return &e, nil
}

func getEvent(ctx context.Context, q DBTX, where string, args ...any) (*models.Event, error) {
	row := q.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE `+where+` LIMIT 1`, args...)
	e, err := scanEvent(row)
	if err != nil {
		return nil, notFound(models.TableEvents, err)
	}
	return e, nil
}

func listEvents(ctx context.Context, q DBTX, tail string, args ...any) ([]*models.Event, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+eventColumns+` FROM events `+tail, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list events", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan event", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list events", err)
	}
	return events, nil
}

// =====================================================
// Event Operations
// =====================================================

// GetEvent retrieves an event by local id.
func (r *Repository) GetEvent(ctx context.Context, localID int64) (*models.Event, error) {
	return getEvent(ctx, r.db, "local_id = ?", localID)
}

// GetEventByRemoteID retrieves an event by remote id.
func (r *Repository) GetEventByRemoteID(ctx context.Context, remoteID string) (*models.Event, error) {
	return getEvent(ctx, r.db, "remote_id = ?", remoteID)
}

// TodayEvent returns the open event scheduled on date (YYYY-MM-DD). Active
// events take precedence over upcoming ones, then the earliest start time.
func (r *Repository) TodayEvent(ctx context.Context, date string) (*models.Event, error) {
	return getEvent(ctx, r.db, `event_date = ? AND status IN (?, ?)
		ORDER BY CASE status WHEN ? THEN 0 ELSE 1 END, start_time, local_id`,
		date, models.EventStatusActive, models.EventStatusUpcoming, models.EventStatusActive)
}

// ListEvents returns events, most recent date first.
func (r *Repository) ListEvents(ctx context.Context, limit, offset int) ([]*models.Event, error) {
	if limit <= 0 {
		limit = -1
	}
	return listEvents(ctx, r.db, `ORDER BY event_date DESC, start_time DESC, local_id LIMIT ? OFFSET ?`, limit, offset)
}

// PendingEvents returns events that have not been confirmed by the remote store.
func (r *Repository) PendingEvents(ctx context.Context) ([]*models.Event, error) {
	return listEvents(ctx, r.db, `WHERE sync_status <> ? ORDER BY local_id`, models.SyncStatusSynced)
}

package db

import (
	"context"
	"strconv"
	"strings"

	apperrors "github.com/kimhsiao/attendsync/internal/errors"
	"github.com/kimhsiao/attendsync/internal/models"
	"github.com/kimhsiao/attendsync/internal/uuid"
)

// IDs addresses a row by either of its identifiers. Lookups prefer the remote
// id and fall back to the local id.
type IDs struct {
	LocalID  int64
	RemoteID string
}

// IDsOf returns the identifiers of e.
func IDsOf(e models.Entity) IDs {
	return IDs{LocalID: e.Local(), RemoteID: e.Remote()}
}

// legacyLocalPrefix marks event keys that carry a local id as a string.
const legacyLocalPrefix = "local-"

const attendanceColumns = `local_id, remote_id, client_id, member_local_id, member_remote_id,
	event_local_id, event_remote_id, check_in_at, status, method, is_excused, notes,
	recorded_by, created_at, updated_at, sync_status`

func putAttendance(ctx context.Context, q DBTX, a *models.Attendance) (int64, error) {
	now := models.NowMillis()
	if a.ClientID == "" {
		a.ClientID = uuid.NewClientID()
	}
	if a.CreatedAt == 0 {
		a.CreatedAt = now
	}
	if a.UpdatedAt == 0 {
		a.UpdatedAt = a.CreatedAt
	}
	if a.CheckInAt == 0 {
		a.CheckInAt = a.CreatedAt
	}
	if a.Method == "" {
		a.Method = models.MethodManual
	}
	if a.SyncStatus == "" {
		a.SyncStatus = models.SyncStatusPending
	}
	if err := fillAttendanceRefs(ctx, q, a); err != nil {
		return 0, err
	}

	query := `
	INSERT INTO attendance (` + attendanceColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(local_id) DO UPDATE SET
		remote_id = COALESCE(attendance.remote_id, excluded.remote_id),
		member_local_id = excluded.member_local_id,
		member_remote_id = excluded.member_remote_id,
		event_local_id = excluded.event_local_id,
		event_remote_id = excluded.event_remote_id,
		check_in_at = excluded.check_in_at,
		status = excluded.status,
		method = excluded.method,
		is_excused = excluded.is_excused,
		notes = excluded.notes,
		recorded_by = excluded.recorded_by,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at,
		sync_status = excluded.sync_status
	RETURNING local_id, remote_id
	`
	var remoteID *string
	err := q.QueryRowContext(ctx, query, nullInt(a.LocalID), nullString(a.RemoteID), a.ClientID,
		nullInt(a.MemberLocalID), nullString(a.MemberRemoteID),
		nullInt(a.EventLocalID), nullString(a.EventRemoteID),
		a.CheckInAt, a.Status, a.Method, a.IsExcused, nullString(a.Notes),
		nullString(a.RecordedBy), a.CreatedAt, a.UpdatedAt, a.SyncStatus).Scan(&a.LocalID, &remoteID)
	if err != nil {
		return 0, err
	}
	if remoteID != nil {
		a.RemoteID = *remoteID
	}
	return a.LocalID, nil
}

// fillAttendanceRefs completes whichever half of the member and event
// references is known locally.
func fillAttendanceRefs(ctx context.Context, q DBTX, a *models.Attendance) error {
	if a.MemberLocalID == 0 && a.MemberRemoteID == "" {
		return apperrors.New(apperrors.ErrValidation, "attendance requires a member")
	}
	if a.EventLocalID == 0 && a.EventRemoteID == "" {
		return apperrors.New(apperrors.ErrValidation, "attendance requires an event")
	}

	fill := func(table models.Table, local *int64, remote *string) error {
		var (
			e   models.Entity
			err error
		)
		switch {
		case *remote == "":
			e, err = get(ctx, q, table, *local)
		case *local == 0:
			if table == models.TableMembers {
				e, err = getMember(ctx, q, "remote_id = ?", *remote)
			} else {
				e, err = getEvent(ctx, q, "remote_id = ?", *remote)
			}
		default:
			return nil
		}
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		*local, *remote = e.Local(), e.Remote()
		return nil
	}
	if err := fill(models.TableMembers, &a.MemberLocalID, &a.MemberRemoteID); err != nil {
		return err
	}
	return fill(models.TableEvents, &a.EventLocalID, &a.EventRemoteID)
}

func scanAttendance(s scanner) (*models.Attendance, error) {
	var (
		a                                                      models.Attendance
		remoteID, memberRemote, eventRemote, notes, recordedBy *string
		memberLocal, eventLocal                                *int64
	)
	err := s.Scan(&a.LocalID, &remoteID, &a.ClientID, &memberLocal, &memberRemote,
		&eventLocal, &eventRemote, &a.CheckInAt, &a.Status, &a.Method, &a.IsExcused, &notes,
		&recordedBy, &a.CreatedAt, &a.UpdatedAt, &a.SyncStatus)
	if err != nil {
		return nil, err
	}
	a.RemoteID = deref(remoteID)
	a.MemberRemoteID = deref(memberRemote)
	a.EventRemoteID = deref(eventRemote)
	a.Notes = deref(notes)
	a.RecordedBy = deref(recordedBy)
	if memberLocal != nil {
		a.MemberLocalID = *memberLocal
	}
	if eventLocal != nil {
		a.EventLocalID = *eventLocal
	}
	return &a, nil
}

func getAttendance(ctx context.Context, q DBTX, where string, args ...any) (*models.Attendance, error) {
	row := q.QueryRowContext(ctx, `SELECT `+attendanceColumns+` FROM attendance WHERE `+where+` LIMIT 1`, args...)
	a, err := scanAttendance(row)
	if err != nil {
		return nil, notFound(models.TableAttendance, err)
	}
	return a, nil
}

func listAttendance(ctx context.Context, q DBTX, tail string, args ...any) ([]*models.Attendance, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+attendanceColumns+` FROM attendance `+tail, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list attendance", err)
	}
	defer rows.Close()

	var records []*models.Attendance
	for rows.Next() {
		a, err := scanAttendance(rows)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan attendance", err)
		}
		records = append(records, a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list attendance", err)
	}
	return records, nil
}

// =====================================================
// Attendance Operations
// =====================================================

// GetAttendance retrieves an attendance record by local id.
func (r *Repository) GetAttendance(ctx context.Context, localID int64) (*models.Attendance, error) {
	return getAttendance(ctx, r.db, "local_id = ?", localID)
}

// GetAttendanceByRemoteID retrieves an attendance record by remote id.
func (r *Repository) GetAttendanceByRemoteID(ctx context.Context, remoteID string) (*models.Attendance, error) {
	return getAttendance(ctx, r.db, "remote_id = ?", remoteID)
}

// FindAttendance returns the attendance record of member at event. Remote ids
// are matched first, then local ids. It returns ErrNotFound when the member
// has not checked in.
func (r *Repository) FindAttendance(ctx context.Context, member, event IDs) (*models.Attendance, error) {
	if member.RemoteID != "" && event.RemoteID != "" {
		a, err := getAttendance(ctx, r.db, "member_remote_id = ? AND event_remote_id = ? ORDER BY local_id",
			member.RemoteID, event.RemoteID)
		if err == nil || !apperrors.Is(err, apperrors.ErrNotFound) {
			return a, err
		}
	}
	if member.LocalID != 0 && event.LocalID != 0 {
		return getAttendance(ctx, r.db, "member_local_id = ? AND event_local_id = ? ORDER BY local_id",
			member.LocalID, event.LocalID)
	}
	return nil, apperrors.New(apperrors.ErrNotFound, "attendance not found")
}

// HasCheckedIn reports whether member already has an attendance record at event.
func (r *Repository) HasCheckedIn(ctx context.Context, member, event IDs) (bool, error) {
	_, err := r.FindAttendance(ctx, member, event)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// AttendanceForEvent returns the attendance of the event identified by key,
// ordered by check-in time. key is tried as a remote id first, then as a
// local id, then in the "local-<n>" form.
func (r *Repository) AttendanceForEvent(ctx context.Context, key string) ([]*models.Attendance, error) {
	const order = ` ORDER BY check_in_at, local_id`

	var localID int64
	ev, err := getEvent(ctx, r.db, "remote_id = ?", key)
	switch {
	case err == nil:
		localID = ev.LocalID
	case !apperrors.Is(err, apperrors.ErrNotFound):
		return nil, err
	}

	if localID != 0 {
		return listAttendance(ctx, r.db, `WHERE event_remote_id = ? OR event_local_id = ?`+order, key, localID)
	}
	records, err := listAttendance(ctx, r.db, `WHERE event_remote_id = ?`+order, key)
	if err != nil || len(records) > 0 {
		return records, err
	}

	if id, ok := parseLocalKey(key); ok {
		return listAttendance(ctx, r.db, `WHERE event_local_id = ?`+order, id)
	}
	return nil, nil
}

func parseLocalKey(key string) (int64, bool) {
	key = strings.TrimPrefix(key, legacyLocalPrefix)
	id, err := strconv.ParseInt(key, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// MemberAttendance returns the attendance history of member, newest first.
func (r *Repository) MemberAttendance(ctx context.Context, member IDs) ([]*models.Attendance, error) {
	switch {
	case member.RemoteID != "" && member.LocalID != 0:
		return listAttendance(ctx, r.db, `WHERE member_remote_id = ? OR member_local_id = ?
			ORDER BY check_in_at DESC, local_id DESC`, member.RemoteID, member.LocalID)
	case member.RemoteID != "":
		return listAttendance(ctx, r.db, `WHERE member_remote_id = ? ORDER BY check_in_at DESC, local_id DESC`,
			member.RemoteID)
	case member.LocalID != 0:
		return listAttendance(ctx, r.db, `WHERE member_local_id = ? ORDER BY check_in_at DESC, local_id DESC`,
			member.LocalID)
	}
	return nil, apperrors.New(apperrors.ErrInvalid, "member has no identifier")
}

// PendingAttendance returns attendance records not yet confirmed by the remote store.
func (r *Repository) PendingAttendance(ctx context.Context) ([]*models.Attendance, error) {
	return listAttendance(ctx, r.db, `WHERE sync_status <> ? ORDER BY local_id`, models.SyncStatusSynced)
}

// CountAttendance returns the number of local attendance records.
func (r *Repository) CountAttendance(ctx context.Context) (int, error) {
	return r.Count(ctx, models.TableAttendance)
}

package db

import (
	"context"
	"strings"

	apperrors "github.com/kimhsiao/attendsync/internal/errors"
	"github.com/kimhsiao/attendsync/internal/models"
	"github.com/kimhsiao/attendsync/internal/uuid"
)

const memberColumns = `local_id, remote_id, client_id, full_name, phone, email, qr_code, role,
	status, registered_by, created_at, updated_at, sync_status`

func putMember(ctx context.Context, q DBTX, m *models.Member) (int64, error) {
	now := models.NowMillis()
	if m.ClientID == "" {
		m.ClientID = uuid.NewClientID()
	}
	if m.CreatedAt == 0 {
		m.CreatedAt = now
	}
	if m.UpdatedAt == 0 {
		m.UpdatedAt = m.CreatedAt
	}
	if m.Role == "" {
		m.Role = models.RoleMember
	}
	if m.Status == "" {
		m.Status = models.MemberStatusActive
	}
	if m.SyncStatus == "" {
		m.SyncStatus = models.SyncStatusPending
	}

	query := `
	INSERT INTO members (` + memberColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(local_id) DO UPDATE SET
		remote_id = COALESCE(members.remote_id, excluded.remote_id),
		full_name = excluded.full_name,
		phone = excluded.phone,
		email = excluded.email,
		qr_code = excluded.qr_code,
		role = excluded.role,
		status = excluded.status,
		registered_by = excluded.registered_by,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at,
		sync_status = excluded.sync_status
	RETURNING local_id, remote_id
	`
	var remoteID *string
	err := q.QueryRowContext(ctx, query, nullInt(m.LocalID), nullString(m.RemoteID), m.ClientID,
		m.FullName, m.Phone, nullString(m.Email), m.QRCode, m.Role, m.Status,
		nullString(m.RegisteredBy), m.CreatedAt, m.UpdatedAt, m.SyncStatus).Scan(&m.LocalID, &remoteID)
	if err != nil {
		return 0, err
	}
	if remoteID != nil {
		m.RemoteID = *remoteID
	}
	return m.LocalID, nil
}

func scanMember(s scanner) (*models.Member, error) {
	var (
		m                             models.Member
		remoteID, email, registeredBy *string
	)
	err := s.Scan(&m.LocalID, &remoteID, &m.ClientID, &m.FullName, &m.Phone, &email, &m.QRCode,
		&m.Role, &m.Status, &registeredBy, &m.CreatedAt, &m.UpdatedAt, &m.SyncStatus)
	if err != nil {
		return nil, err
	}
	m.RemoteID = deref(remoteID)
	m.Email = deref(email)
	m.RegisteredBy = deref(registeredBy)
	return &m, nil
}

func getMember(ctx context.Context, q DBTX, where string, args ...any) (*models.Member, error) {
	row := q.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM members WHERE `+where+` LIMIT 1`, args...)
	m, err := scanMember(row)
	if err != nil {
		return nil, notFound(models.TableMembers, err)
	}
	return m, nil
}

func listMembers(ctx context.Context, q DBTX, tail string, args ...any) ([]*models.Member, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+memberColumns+` FROM members `+tail, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list members", err)
	}
	defer rows.Close()

	var members []*models.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan member", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list members", err)
	}
	return members, nil
}

// =====================================================
// Member Operations
// =====================================================

// GetMember retrieves a member by local id.
func (r *Repository) GetMember(ctx context.Context, localID int64) (*models.Member, error) {
	return getMember(ctx, r.db, "local_id = ?", localID)
}

// GetMemberByRemoteID retrieves a member by remote id.
func (r *Repository) GetMemberByRemoteID(ctx context.Context, remoteID string) (*models.Member, error) {
	return getMember(ctx, r.db, "remote_id = ?", remoteID)
}

// MemberByQRCode retrieves the member carrying the given QR code.
func (r *Repository) MemberByQRCode(ctx context.Context, code string) (*models.Member, error) {
	return getMember(ctx, r.db, "qr_code = ? ORDER BY local_id", code)
}

// ListMembers returns members ordered by name.
func (r *Repository) ListMembers(ctx context.Context, limit, offset int) ([]*models.Member, error) {
	if limit <= 0 {
		limit = -1
	}
	return listMembers(ctx, r.db, `ORDER BY full_name, local_id LIMIT ? OFFSET ?`, limit, offset)
}

// SearchMembers returns members whose name, phone or QR code contains term.
func (r *Repository) SearchMembers(ctx context.Context, term string, limit int) ([]*models.Member, error) {
	if limit <= 0 {
		limit = 50
	}
	pattern := "%" + escapeLike(strings.TrimSpace(term)) + "%"
	return listMembers(ctx, r.db, `
	WHERE full_name LIKE ? ESCAPE '\' OR phone LIKE ? ESCAPE '\' OR qr_code LIKE ? ESCAPE '\'
	ORDER BY full_name, local_id LIMIT ?`, pattern, pattern, pattern, limit)
}

// PendingMembers returns members that have not been confirmed by the remote store.
func (r *Repository) PendingMembers(ctx context.Context) ([]*models.Member, error) {
	return listMembers(ctx, r.db, `WHERE sync_status <> ? ORDER BY local_id`, models.SyncStatusSynced)
}

// escapeLike escapes LIKE wildcards in s.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}


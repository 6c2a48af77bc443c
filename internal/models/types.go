// Package models provides data model definitions for the attendance store.
package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// UUID is a wrapper around string for UUID v4 type safety.
type UUID string

// Value implements driver.Valuer for UUID.
func (u UUID) Value() (driver.Value, error) {
	return string(u), nil
}

// Scan implements sql.Scanner for UUID.
func (u *UUID) Scan(value interface{}) error {
	var s string
	switch v := value.(type) {
	case nil:
		*u = ""
		return nil
	case []byte:
		s = string(v)
	case string:
		s = v
	default:
		return fmt.Errorf("cannot scan %T into UUID", value)
	}
	if s != "" && len(s) != 36 {
		return fmt.Errorf("invalid UUID length: %d", len(s))
	}
	*u = UUID(s)
	return nil
}

// String returns the string representation of the UUID.
func (u UUID) String() string {
	return string(u)
}

// Table names a synchronized collection. The values match the remote table names.
type Table string

const (
	TableMembers    Table = "members"
	TableEvents     Table = "events"
	TableAttendance Table = "attendance"
)

// Tables lists the synchronized collections in dependency order.
var Tables = []Table{TableMembers, TableEvents, TableAttendance}

// Valid reports whether t is a known table.
func (t Table) Valid() bool {
	switch t {
	case TableMembers, TableEvents, TableAttendance:
		return true
	}
	return false
}

// Action is a queued mutation kind.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// SyncStatus tracks whether a local row matches the remote store.
type SyncStatus string

const (
	SyncStatusSynced   SyncStatus = "synced"
	SyncStatusPending  SyncStatus = "pending"
	SyncStatusConflict SyncStatus = "conflict"
	SyncStatusError    SyncStatus = "error"
)

// Role is a member's role in the organisation.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleSecretary Role = "secretary"
	RoleMember    Role = "member"
)

// MemberStatus classifies a member's attendance regularity.
type MemberStatus string

const (
	MemberStatusActive    MemberStatus = "active"
	MemberStatusIrregular MemberStatus = "irregular"
	MemberStatusAtRisk    MemberStatus = "at-risk"
	MemberStatusInactive  MemberStatus = "inactive"
)

// EventStatus is the lifecycle state of an event.
type EventStatus string

const (
	EventStatusUpcoming EventStatus = "upcoming"
	EventStatusActive   EventStatus = "active"
	EventStatusClosed   EventStatus = "closed"
)

// AttendanceStatus is the punctuality outcome of a check-in.
type AttendanceStatus string

const (
	AttendanceEarly   AttendanceStatus = "early"
	AttendanceOnTime  AttendanceStatus = "on-time"
	AttendanceLate    AttendanceStatus = "late"
	AttendanceExcused AttendanceStatus = "excused"
	AttendanceAbsent  AttendanceStatus = "absent"
)

// Present reports whether the status counts as attended.
func (s AttendanceStatus) Present() bool {
	return s == AttendanceEarly || s == AttendanceOnTime || s == AttendanceLate
}

// CheckInMethod records how a check-in was captured.
type CheckInMethod string

const (
	MethodQRScan      CheckInMethod = "qr-scan"
	MethodManual      CheckInMethod = "manual"
	MethodSelfCheckIn CheckInMethod = "self-checkin"
)

// Entity is implemented by every synchronized row type.
type Entity interface {
	Table() Table
	Local() int64
	Remote() string
	Client() UUID
	SyncState() SyncStatus
	LastModified() int64

	// Bind attaches the row to an existing local row and client id.
	Bind(localID int64, clientID UUID)
}

// NowMillis returns the current time as Unix milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// MillisTime converts Unix milliseconds to time.Time.
func MillisTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}

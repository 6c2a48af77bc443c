package models

// Attendance records one member's check-in to one event.
//
// Member and event are referenced twice: by local id, always available on the
// device that recorded the check-in, and by remote id, available once the
// referenced row has been accepted by the remote store.
type Attendance struct {
	LocalID        int64            `db:"local_id" json:"local_id,omitempty"`
	RemoteID       string           `db:"remote_id" json:"id,omitempty"`
	ClientID       UUID             `db:"client_id" json:"client_id,omitempty"`
	MemberLocalID  int64            `db:"member_local_id" json:"member_local_id,omitempty"`
	MemberRemoteID string           `db:"member_remote_id" json:"member_id,omitempty"`
	EventLocalID   int64            `db:"event_local_id" json:"event_local_id,omitempty"`
	EventRemoteID  string           `db:"event_remote_id" json:"event_id,omitempty"`
	CheckInAt      int64            `db:"check_in_at" json:"check_in_at"`
	Status         AttendanceStatus `db:"status" json:"status"`
	Method         CheckInMethod    `db:"method" json:"method"`
	IsExcused      bool             `db:"is_excused" json:"is_excused"`
	Notes          string           `db:"notes" json:"notes,omitempty"`
	RecordedBy     string           `db:"recorded_by" json:"recorded_by,omitempty"`
	CreatedAt      int64            `db:"created_at" json:"created_at,omitempty"`
	UpdatedAt      int64            `db:"updated_at" json:"updated_at,omitempty"`
	SyncStatus     SyncStatus       `db:"sync_status" json:"sync_status,omitempty"`
}

// TableName returns the table name for Attendance.
func (Attendance) TableName() string {
	return string(TableAttendance)
}

func (a *Attendance) Table() Table          { return TableAttendance }
func (a *Attendance) Local() int64          { return a.LocalID }
func (a *Attendance) Remote() string        { return a.RemoteID }
func (a *Attendance) Client() UUID          { return a.ClientID }
func (a *Attendance) SyncState() SyncStatus { return a.SyncStatus }
func (a *Attendance) LastModified() int64   { return a.UpdatedAt }

// Bind sets the local and client ids.
func (a *Attendance) Bind(localID int64, clientID UUID) {
	a.LocalID = localID
	a.ClientID = clientID
}

// Touch updates the UpdatedAt timestamp.
func (a *Attendance) Touch() {
	a.UpdatedAt = NowMillis()
}

// Dependencies returns the member and event this record references by local id.
func (a *Attendance) Dependencies() []EntityRef {
	var refs []EntityRef
	if a.MemberLocalID != 0 {
		refs = append(refs, EntityRef{Table: TableMembers, LocalID: a.MemberLocalID})
	}
	if a.EventLocalID != 0 {
		refs = append(refs, EntityRef{Table: TableEvents, LocalID: a.EventLocalID})
	}
	return refs
}

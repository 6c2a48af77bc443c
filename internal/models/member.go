package models

// Member is a registered person who can check in to events.
type Member struct {
	LocalID      int64        `db:"local_id" json:"local_id,omitempty"`
	RemoteID     string       `db:"remote_id" json:"id,omitempty"`
	ClientID     UUID         `db:"client_id" json:"client_id,omitempty"`
	FullName     string       `db:"full_name" json:"full_name"`
	Phone        string       `db:"phone" json:"phone"`
	Email        string       `db:"email" json:"email,omitempty"`
	QRCode       string       `db:"qr_code" json:"qr_code"`
	Role         Role         `db:"role" json:"role"`
	Status       MemberStatus `db:"status" json:"status"`
	RegisteredBy string       `db:"registered_by" json:"registered_by,omitempty"`
	CreatedAt    int64        `db:"created_at" json:"created_at,omitempty"`
	UpdatedAt    int64        `db:"updated_at" json:"updated_at,omitempty"`
	SyncStatus   SyncStatus   `db:"sync_status" json:"sync_status,omitempty"`
}

// TableName returns the table name for Member.
func (Member) TableName() string {
	return string(TableMembers)
}

func (m *Member) Table() Table          { return TableMembers }
func (m *Member) Local() int64          { return m.LocalID }
func (m *Member) Remote() string        { return m.RemoteID }
func (m *Member) Client() UUID          { return m.ClientID }
func (m *Member) SyncState() SyncStatus { return m.SyncStatus }
func (m *Member) LastModified() int64   { return m.UpdatedAt }

// Bind sets the local and client ids.
func (m *Member) Bind(localID int64, clientID UUID) {
	m.LocalID = localID
	m.ClientID = clientID
}

// Touch updates the UpdatedAt timestamp.
func (m *Member) Touch() {
	m.UpdatedAt = NowMillis()
}

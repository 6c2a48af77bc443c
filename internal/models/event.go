package models

// DateLayout is the layout of Event.Date.
const DateLayout = "2006-01-02"

// TimeLayout is the layout of Event.StartTime.
const TimeLayout = "15:04"

// Event is a scheduled gathering that members check in to.
type Event struct {
	LocalID    int64       `db:"local_id" json:"local_id,omitempty"`
	RemoteID   string      `db:"remote_id" json:"id,omitempty"`
	ClientID   UUID        `db:"client_id" json:"client_id,omitempty"`
	Title      string      `db:"title" json:"title"`
	Date       string      `db:"event_date" json:"event_date"`
	StartTime  string      `db:"start_time" json:"start_time"`
	Location   string      `db:"location" json:"location,omitempty"`
	Status     EventStatus `db:"status" json:"status"`
	CreatedBy  string      `db:"created_by" json:"created_by,omitempty"`
	CreatedAt  int64       `db:"created_at" json:"created_at,omitempty"`
	UpdatedAt  int64       `db:"updated_at" json:"updated_at,omitempty"`
	SyncStatus SyncStatus  `db:"sync_status" json:"sync_status,omitempty"`
}

// TableName returns the table name for Event.
func (Event) TableName() string {
	return string(TableEvents)
}

func (e *Event) Table() Table          { return TableEvents }
func (e *Event) Local() int64          { return e.LocalID }
func (e *Event) Remote() string        { return e.RemoteID }
func (e *Event) Client() UUID          { return e.ClientID }
func (e *Event) SyncState() SyncStatus { return e.SyncStatus }
func (e *Event) LastModified() int64   { return e.UpdatedAt }

// Bind sets the local and client ids.
func (e *Event) Bind(localID int64, clientID UUID) {
	e.LocalID = localID
	e.ClientID = clientID
}

// Touch updates the UpdatedAt timestamp.
func (e *Event) Touch() {
	e.UpdatedAt = NowMillis()
}

package models

import "encoding/json"

// MaxRetries is the number of failed push attempts after which a queue entry is
// reported as permanently failed. The entry stays queued.
const MaxRetries = 5

// EntityRef addresses a local row.
type EntityRef struct {
	Table   Table `json:"table"`
	LocalID int64 `json:"local_id"`
}

// QueueEntry is a pending mutation waiting to be pushed to the remote store.
type QueueEntry struct {
	ID            int64           `db:"id" json:"id"`
	Table         Table           `db:"table_name" json:"table"`
	Action        Action          `db:"action" json:"action"`
	EntityLocalID int64           `db:"entity_local_id" json:"entity_local_id"`
	Payload       json.RawMessage `db:"payload" json:"payload"`
	DependsOn     []EntityRef     `db:"depends_on" json:"depends_on,omitempty"`
	EnqueuedAt    int64           `db:"enqueued_at" json:"enqueued_at"`
	RetryCount    int             `db:"retry_count" json:"retry_count"`
	LastError     string          `db:"last_error" json:"last_error,omitempty"`
}

// TableName returns the table name for QueueEntry.
func (QueueEntry) TableName() string {
	return "sync_queue"
}

// Ref returns the row this entry mutates.
func (q *QueueEntry) Ref() EntityRef {
	return EntityRef{Table: q.Table, LocalID: q.EntityLocalID}
}

// Exhausted reports whether the entry reached the permanent-failure threshold.
func (q *QueueEntry) Exhausted() bool {
	return q.RetryCount >= MaxRetries
}

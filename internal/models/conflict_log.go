package models

import "time"

// ConflictLog records a pulled remote row overwriting a local row that still had
// unpushed changes.
type ConflictLog struct {
	ID              UUID   `db:"id" json:"id"`
	Table           Table  `db:"table_name" json:"table"`
	LocalID         int64  `db:"local_id" json:"local_id"`
	RemoteID        string `db:"remote_id" json:"remote_id"`
	LocalUpdatedAt  int64  `db:"local_updated_at" json:"local_updated_at"`
	RemoteUpdatedAt int64  `db:"remote_updated_at" json:"remote_updated_at"`
	Resolution      string `db:"resolution" json:"resolution"`
	DetectedAt      int64  `db:"detected_at" json:"detected_at"`
}

// TableName returns the table name for ConflictLog.
func (ConflictLog) TableName() string {
	return "conflict_log"
}

// DetectedAtTime returns the DetectedAt as time.Time.
func (c *ConflictLog) DetectedAtTime() time.Time {
	return MillisTime(c.DetectedAt)
}

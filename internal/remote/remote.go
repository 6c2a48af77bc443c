// Package remote defines the remote store the sync engine reconciles with,
// the record codec between local models and remote rows, and two
// implementations: an in-memory store and a PostgreSQL store.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/lib/pq"

	"github.com/kimhsiao/attendsync/internal/models"
)

var (
	// ErrUniqueViolation reports an insert or update that would duplicate a
	// primary key or the (member_id, event_id) pair of attendance.
	ErrUniqueViolation = errors.New("unique constraint violation")

	// ErrNotFound reports a row that does not exist.
	ErrNotFound = errors.New("row not found")

	// ErrUnknownTable reports a table the store does not serve.
	ErrUnknownTable = errors.New("unknown table")
)

// uniqueViolationCode is the SQLSTATE of unique_violation.
const uniqueViolationCode = "23505"

// Record is one remote row keyed by column name.
type Record map[string]any

// Store is the remote collaborator. All timestamps are Unix milliseconds; the
// store owns updated_at and sets it on every write.
type Store interface {
	// Insert creates a row and returns it as stored. A row whose "id" already
	// exists fails with ErrUniqueViolation.
	Insert(ctx context.Context, table models.Table, rec Record) (Record, error)

	// Update applies fields to the row with id and returns it as stored.
	Update(ctx context.Context, table models.Table, id string, fields Record) (Record, error)

	// Delete removes the row with id.
	Delete(ctx context.Context, table models.Table, id string) error

	// Get returns the row with id.
	Get(ctx context.Context, table models.Table, id string) (Record, error)

	// FindAttendance returns the attendance row of member at event.
	FindAttendance(ctx context.Context, memberID, eventID string) (Record, error)

	// ChangedSince returns rows with updated_at after since, or at or after
	// since when inclusive is set, ordered by updated_at.
	ChangedSince(ctx context.Context, table models.Table, since int64, inclusive bool) ([]Record, error)
}

// IsUniqueViolation reports whether err is a uniqueness violation, either
// ErrUniqueViolation or a PostgreSQL unique_violation.
func IsUniqueViolation(err error) bool {
	if errors.Is(err, ErrUniqueViolation) {
		return true
	}
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolationCode
}

// IsNotFound reports whether err is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// ID returns the "id" column.
func (r Record) ID() string {
	return r.String("id")
}

// UpdatedAt returns the "updated_at" column.
func (r Record) UpdatedAt() int64 {
	return r.Int("updated_at")
}

// String returns column key as a string, or "" when absent.
func (r Record) String(key string) string {
	switch v := r[key].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Int returns column key as an int64, or 0 when absent or not numeric.
func (r Record) Int(key string) int64 {
	switch v := r[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	}
	return 0
}

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// localOnly lists model fields that never leave the device.
var localOnly = []string{"local_id", "client_id", "sync_status", "member_local_id", "event_local_id", "updated_at"}

// Encode converts v to a record through its JSON form and drops the keys in drop.
func Encode(v any, drop ...string) (Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	for _, k := range drop {
		delete(rec, k)
	}
	return rec, nil
}

// Decode fills v from rec through its JSON form.
func Decode(rec Record, v any) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	return nil
}

// ToRecord converts e into the row sent on create. The id column carries the
// remote id when known and the client id otherwise.
func ToRecord(e models.Entity) (Record, error) {
	rec, err := Encode(e, localOnly...)
	if err != nil {
		return nil, err
	}
	if e.Remote() != "" {
		rec["id"] = e.Remote()
	} else {
		rec["id"] = e.Client().String()
	}
	return rec, nil
}

// MutableFields converts e into the columns sent on update.
func MutableFields(e models.Entity) (Record, error) {
	rec, err := Encode(e, append(localOnly, "id", "created_at")...)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// FromRecord decodes a remote row of table into a local model. Local ids are
// left zero and the row is marked synced.
func FromRecord(table models.Table, rec Record) (models.Entity, error) {
	clean := rec.Clone()
	for _, k := range localOnly {
		if k != "updated_at" {
			delete(clean, k)
		}
	}

	var e models.Entity
	switch table {
	case models.TableMembers:
		m := &models.Member{}
		if err := Decode(clean, m); err != nil {
			return nil, err
		}
		m.SyncStatus = models.SyncStatusSynced
		e = m
	case models.TableEvents:
		ev := &models.Event{}
		if err := Decode(clean, ev); err != nil {
			return nil, err
		}
		ev.SyncStatus = models.SyncStatusSynced
		e = ev
	case models.TableAttendance:
		a := &models.Attendance{}
		if err := Decode(clean, a); err != nil {
			return nil, err
		}
		a.SyncStatus = models.SyncStatusSynced
		e = a
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	if e.Remote() == "" {
		return nil, fmt.Errorf("decode %s record: missing id", table)
	}
	return e, nil
}

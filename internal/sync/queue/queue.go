// Package queue provides the durable sync queue for offline mutations.
//
// Entries live in the sync_queue table of the local store, so they survive
// restarts and can be appended in the same transaction as the entity write
// that produced them.
package queue

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	apperrors "github.com/kimhsiao/attendsync/internal/errors"
	"github.com/kimhsiao/attendsync/internal/models"
)

// DBTX is satisfied by *sql.DB, *sql.Tx and *sql.Conn.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queue manages pending mutations waiting to be pushed.
type Queue struct {
	db DBTX
}

// New creates a Queue over db.
func New(db DBTX) *Queue {
	return &Queue{db: db}
}

const selectColumns = `id, table_name, action, entity_local_id, payload, depends_on,
	enqueued_at, retry_count, last_error`

// Append inserts entry using tx and sets its ID. Callers writing an entity
// pass the transaction of that write so both commit together.
func Append(ctx context.Context, tx DBTX, entry *models.QueueEntry) error {
	if !entry.Table.Valid() {
		return apperrors.Newf(apperrors.ErrInvalid, "unknown table %q", entry.Table)
	}
	if !entry.Action.Valid() {
		return apperrors.Newf(apperrors.ErrInvalid, "unknown action %q", entry.Action)
	}
	if entry.EnqueuedAt == 0 {
		entry.EnqueuedAt = models.NowMillis()
	}
	payload := entry.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	deps, err := encodeDeps(entry.DependsOn)
	if err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `
	INSERT INTO sync_queue (table_name, action, entity_local_id, payload, depends_on,
		enqueued_at, retry_count, last_error)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Table, entry.Action, entry.EntityLocalID, string(payload), deps,
		entry.EnqueuedAt, entry.RetryCount, nullString(entry.LastError))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to append queue entry", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to read queue entry id", err)
	}
	entry.ID = id
	return nil
}

// CancelFor removes every entry that mutates ref. It returns the number of
// entries removed.
func CancelFor(ctx context.Context, tx DBTX, ref models.EntityRef) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`DELETE FROM sync_queue WHERE table_name = ? AND entity_local_id = ?`,
		ref.Table, ref.LocalID)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to cancel queue entries", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Append appends entry outside of any caller transaction.
func (q *Queue) Append(ctx context.Context, entry *models.QueueEntry) error {
	return Append(ctx, q.db, entry)
}

// CancelFor removes every entry that mutates ref.
func (q *Queue) CancelFor(ctx context.Context, ref models.EntityRef) (int64, error) {
	return CancelFor(ctx, q.db, ref)
}

// Drain returns all entries oldest first. Entries are not removed; callers
// Ack what they pushed.
func (q *Queue) Drain(ctx context.Context) ([]*models.QueueEntry, error) {
	return q.List(ctx, 0)
}

// List returns up to limit entries oldest first. A limit of zero or less
// returns every entry.
func (q *Queue) List(ctx context.Context, limit int) ([]*models.QueueEntry, error) {
	query := `SELECT ` + selectColumns + ` FROM sync_queue ORDER BY id`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list queue", err)
	}
	defer rows.Close()

	var entries []*models.QueueEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list queue", err)
	}
	return entries, nil
}

// Get returns the entry with the given id.
func (q *Queue) Get(ctx context.Context, id int64) (*models.QueueEntry, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM sync_queue WHERE id = ?`, id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "queue entry %d not found", id)
	}
	return entry, err
}

// Ack removes a successfully pushed entry.
func (q *Queue) Ack(ctx context.Context, id int64) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to ack queue entry", err)
	}
	return nil
}

// Fail records a failed push attempt. It returns true once the entry reached
// models.MaxRetries attempts. The entry is never removed.
func (q *Queue) Fail(ctx context.Context, id int64, cause error) (bool, error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	var retries int
	err := q.db.QueryRowContext(ctx, `
	UPDATE sync_queue SET retry_count = retry_count + 1, last_error = ?
	WHERE id = ?
	RETURNING retry_count`, nullString(msg), id).Scan(&retries)
	if errors.Is(err, sql.ErrNoRows) {
		return false, apperrors.Newf(apperrors.ErrNotFound, "queue entry %d not found", id)
	}
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrDatabase, "failed to record queue failure", err)
	}
	return retries >= models.MaxRetries, nil
}

// Count returns the number of queued entries.
func (q *Queue) Count(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&n); err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to count queue", err)
	}
	return n, nil
}

// CountFailed returns the number of entries that reached the retry threshold.
func (q *Queue) CountFailed(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_queue WHERE retry_count >= ?`, models.MaxRetries).Scan(&n)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to count failed entries", err)
	}
	return n, nil
}

// HasPendingFor reports whether any entry other than exceptID mutates ref.
func (q *Queue) HasPendingFor(ctx context.Context, ref models.EntityRef, exceptID int64) (bool, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `
	SELECT COUNT(*) FROM sync_queue
	WHERE table_name = ? AND entity_local_id = ? AND id <> ?`,
		ref.Table, ref.LocalID, exceptID).Scan(&n)
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrDatabase, "failed to check pending entries", err)
	}
	return n > 0, nil
}

// HasPendingDelete reports whether a delete of the remote row id of table is
// still queued.
func (q *Queue) HasPendingDelete(ctx context.Context, table models.Table, remoteID string) (bool, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `
	SELECT COUNT(*) FROM sync_queue
	WHERE table_name = ? AND action = ? AND json_extract(payload, '$.id') = ?`,
		table, models.ActionDelete, remoteID).Scan(&n)
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrDatabase, "failed to check pending deletes", err)
	}
	return n > 0, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*models.QueueEntry, error) {
	var (
		entry     models.QueueEntry
		payload   string
		deps      sql.NullString
		lastError sql.NullString
	)
	err := s.Scan(&entry.ID, &entry.Table, &entry.Action, &entry.EntityLocalID, &payload,
		&deps, &entry.EnqueuedAt, &entry.RetryCount, &lastError)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan queue entry", err)
	}
	entry.Payload = json.RawMessage(payload)
	entry.LastError = lastError.String
	if deps.Valid && deps.String != "" {
		if err := json.Unmarshal([]byte(deps.String), &entry.DependsOn); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrInternal,
				fmt.Sprintf("queue entry %d has malformed dependencies", entry.ID), err)
		}
	}
	return &entry, nil
}

func encodeDeps(deps []models.EntityRef) (any, error) {
	if len(deps) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(deps)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to encode dependencies", err)
	}
	return string(data), nil
}

func nullString(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

// Order returns entries in push order. The result is the input order except
// that an entry is placed after the create entry of every entity it depends
// on, and after earlier entries mutating the same entity. Among entries that
// are ready at the same time the one earliest in the input goes first.
func Order(entries []*models.QueueEntry) []*models.QueueEntry {
	n := len(entries)
	if n < 2 {
		return append([]*models.QueueEntry(nil), entries...)
	}

	creates := make(map[models.EntityRef]int)
	last := make(map[models.EntityRef]int)
	indegree := make([]int, n)
	next := make([][]int, n)
	edge := func(from, to int) {
		next[from] = append(next[from], to)
		indegree[to]++
	}

	for i, e := range entries {
		ref := e.Ref()
		if prev, ok := last[ref]; ok {
			edge(prev, i)
		}
		last[ref] = i
		if e.Action == models.ActionCreate {
			if _, ok := creates[ref]; !ok {
				creates[ref] = i
			}
		}
	}
	for i, e := range entries {
		for _, dep := range e.DependsOn {
			if c, ok := creates[dep]; ok && c != i {
				edge(c, i)
			}
		}
	}

	ready := &indexHeap{}
	for i := range entries {
		if indegree[i] == 0 {
			heap.Push(ready, i)
		}
	}

	out := make([]*models.QueueEntry, 0, n)
	placed := make([]bool, n)
	for ready.Len() > 0 {
		i := heap.Pop(ready).(int)
		placed[i] = true
		out = append(out, entries[i])
		for _, j := range next[i] {
			indegree[j]--
			if indegree[j] == 0 {
				heap.Push(ready, j)
			}
		}
	}

	// A cycle cannot be ordered; keep the rest in input order.
	for i, ok := range placed {
		if !ok {
			out = append(out, entries[i])
		}
	}
	return out
}

type indexHeap []int

func (h indexHeap) Len() int           { return len(h) }
func (h indexHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h indexHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *indexHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *indexHeap) Pop() any {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}

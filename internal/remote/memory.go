package remote

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/kimhsiao/attendsync/internal/models"
)

type fault struct {
	remaining int
	err       error
}

// MemoryStore is a server-authoritative Store held in memory. It enforces the
// same constraints as the PostgreSQL schema: unique ids per table and a unique
// (member_id, event_id) pair for attendance. updated_at strictly increases
// across all writes.
type MemoryStore struct {
	mu     sync.Mutex
	tables map[models.Table]map[string]Record
	clock  int64
	now    func() int64
	faults map[string]*fault
	calls  map[string]int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		tables: make(map[models.Table]map[string]Record),
		now:    models.NowMillis,
		faults: make(map[string]*fault),
		calls:  make(map[string]int),
	}
	for _, t := range models.Tables {
		s.tables[t] = make(map[string]Record)
	}
	return s
}

// SetClock replaces the time source used for updated_at.
func (s *MemoryStore) SetClock(now func() int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// FailNext makes the next n writes (insert, update, delete) to table fail
// with err. A non-positive n clears the fault.
func (s *MemoryStore) FailNext(table models.Table, n int, err error) {
	s.inject("write:"+string(table), n, err)
}

// FailReads makes the next n ChangedSince calls on table fail with err.
func (s *MemoryStore) FailReads(table models.Table, n int, err error) {
	s.inject("read:"+string(table), n, err)
}

func (s *MemoryStore) inject(key string, n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 {
		delete(s.faults, key)
		return
	}
	s.faults[key] = &fault{remaining: n, err: err}
}

// Calls returns how many times op ("insert", "update", "delete", "select")
// ran against table, including failed attempts.
func (s *MemoryStore) Calls(op string, table models.Table) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op+":"+string(table)]
}

// Rows returns a copy of every row of table ordered by updated_at.
func (s *MemoryStore) Rows(table models.Table) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sorted(table, func(Record) bool { return true })
}

// Len returns the number of rows in table.
func (s *MemoryStore) Len(table models.Table) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tables[table])
}

func (s *MemoryStore) table(table models.Table) (map[string]Record, error) {
	rows, ok := s.tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	return rows, nil
}

// begin records an attempt and returns the injected fault, if any.
func (s *MemoryStore) begin(op string, table models.Table) error {
	s.calls[op+":"+string(table)]++
	key := "write:" + string(table)
	if op == "select" {
		key = "read:" + string(table)
	}
	f, ok := s.faults[key]
	if !ok {
		return nil
	}
	f.remaining--
	if f.remaining <= 0 {
		delete(s.faults, key)
	}
	return f.err
}

func (s *MemoryStore) tick() int64 {
	t := s.now()
	if t <= s.clock {
		t = s.clock + 1
	}
	s.clock = t
	return t
}

func (s *MemoryStore) duplicateAttendance(rows map[string]Record, rec Record, selfID string) bool {
	member, event := rec.String("member_id"), rec.String("event_id")
	if member == "" || event == "" {
		return false
	}
	for id, row := range rows {
		if id != selfID && row.String("member_id") == member && row.String("event_id") == event {
			return true
		}
	}
	return false
}

// Insert implements Store.
func (s *MemoryStore) Insert(ctx context.Context, table models.Table, rec Record) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.table(table)
	if err != nil {
		return nil, err
	}
	if err := s.begin("insert", table); err != nil {
		return nil, err
	}

	row := rec.Clone()
	id := row.ID()
	if id == "" {
		id = uuid.New().String()
		row["id"] = id
	}
	if _, exists := rows[id]; exists {
		return nil, fmt.Errorf("%w: %s id %s", ErrUniqueViolation, table, id)
	}
	if table == models.TableAttendance && s.duplicateAttendance(rows, row, id) {
		return nil, fmt.Errorf("%w: attendance (member_id, event_id)", ErrUniqueViolation)
	}

	now := s.tick()
	if row.Int("created_at") == 0 {
		row["created_at"] = now
	}
	row["updated_at"] = now
	rows[id] = row
	return row.Clone(), nil
}

// Update implements Store.
func (s *MemoryStore) Update(ctx context.Context, table models.Table, id string, fields Record) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.table(table)
	if err != nil {
		return nil, err
	}
	if err := s.begin("update", table); err != nil {
		return nil, err
	}

	current, ok := rows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, table, id)
	}
	row := current.Clone()
	for k, v := range fields {
		if k == "id" || k == "updated_at" {
			continue
		}
		row[k] = v
	}
	if table == models.TableAttendance && s.duplicateAttendance(rows, row, id) {
		return nil, fmt.Errorf("%w: attendance (member_id, event_id)", ErrUniqueViolation)
	}
	row["updated_at"] = s.tick()
	rows[id] = row
	return row.Clone(), nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, table models.Table, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.table(table)
	if err != nil {
		return err
	}
	if err := s.begin("delete", table); err != nil {
		return err
	}
	if _, ok := rows[id]; !ok {
		return fmt.Errorf("%w: %s %s", ErrNotFound, table, id)
	}
	delete(rows, id)
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, table models.Table, id string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.table(table)
	if err != nil {
		return nil, err
	}
	row, ok := rows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, table, id)
	}
	return row.Clone(), nil
}

// FindAttendance implements Store.
func (s *MemoryStore) FindAttendance(ctx context.Context, memberID, eventID string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range s.tables[models.TableAttendance] {
		if row.String("member_id") == memberID && row.String("event_id") == eventID {
			return row.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: attendance of %s at %s", ErrNotFound, memberID, eventID)
}

// ChangedSince implements Store.
func (s *MemoryStore) ChangedSince(ctx context.Context, table models.Table, since int64, inclusive bool) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.table(table); err != nil {
		return nil, err
	}
	if err := s.begin("select", table); err != nil {
		return nil, err
	}
	return s.sorted(table, func(r Record) bool {
		if inclusive {
			return r.UpdatedAt() >= since
		}
		return r.UpdatedAt() > since
	}), nil
}

func (s *MemoryStore) sorted(table models.Table, keep func(Record) bool) []Record {
	var out []Record
	for _, row := range s.tables[table] {
		if keep(row) {
			out = append(out, row.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt() != out[j].UpdatedAt() {
			return out[i].UpdatedAt() < out[j].UpdatedAt()
		}
		return out[i].ID() < out[j].ID()
	})
	return out
}

var _ Store = (*MemoryStore)(nil)

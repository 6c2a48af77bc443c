// Package models tests for data model definitions.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"testing"
	"time"
)

// =====================================================
// UUID Type Tests
// =====================================================

// TestUUID_Value verifies the Value() method returns correct string.
func TestUUID_Value(t *testing.T) {
	uuid := UUID("123e4567-e89b-12d3-a456-426614174000")

	val, err := uuid.Value()
	if err != nil {
		t.Fatalf("Value() error = %v", err)
	}

	if val != "123e4567-e89b-12d3-a456-426614174000" {
		t.Errorf("Value() = %v, want '123e4567-e89b-12d3-a456-426614174000'", val)
	}
}

// TestUUID_Scan_nil verifies nil value handling.
func TestUUID_Scan_nil(t *testing.T) {
	var uuid UUID
	err := uuid.Scan(nil)

	if err != nil {
		t.Fatalf("Scan(nil) error = %v", err)
	}

	if uuid != "" {
		t.Errorf("Scan(nil) = %q, want empty string", uuid)
	}
}

// TestUUID_Scan_bytes verifies []byte handling.
func TestUUID_Scan_bytes(t *testing.T) {
	var uuid UUID
	input := []byte("123e4567-e89b-12d3-a456-426614174000")

	err := uuid.Scan(input)
	if err != nil {
		t.Fatalf("Scan([]byte) error = %v", err)
	}

	if uuid != "123e4567-e89b-12d3-a456-426614174000" {
		t.Errorf("Scan([]byte) = %q, want '123e4567-e89b-12d3-a456-426614174000'", uuid)
	}
}

// TestUUID_Scan_string verifies string handling.
func TestUUID_Scan_string(t *testing.T) {
	var uuid UUID
	input := "123e4567-e89b-12d3-a456-426614174000"

	err := uuid.Scan(input)
	if err != nil {
		t.Fatalf("Scan(string) error = %v", err)
	}

	if uuid != "123e4567-e89b-12d3-a456-426614174000" {
		t.Errorf("Scan(string) = %q, want '123e4567-e89b-12d3-a456-426614174000'", uuid)
	}
}

// TestUUID_Scan_invalidType verifies error for invalid types.
func TestUUID_Scan_invalidType(t *testing.T) {
	var uuid UUID
	err := uuid.Scan(12345) // int is invalid

	if err == nil {
		t.Error("Scan(int) should return error")
	}
}

// TestUUID_Scan_invalidLength verifies error for invalid UUID length.
func TestUUID_Scan_invalidLength(t *testing.T) {
	var uuid UUID
	err := uuid.Scan("too-short")

	if err == nil {
		t.Error("Scan(too-short) should return error for invalid length")
	}
}

// TestUUID_String verifies String() method.
func TestUUID_String(t *testing.T) {
	uuid := UUID("test-uuid-string")
	if uuid.String() != "test-uuid-string" {
		t.Errorf("String() = %q, want 'test-uuid-string'", uuid.String())
	}
}

// TestUUID_Valuer verifies UUID implements driver.Valuer.
func TestUUID_Valuer(t *testing.T) {
	var _ driver.Valuer = UUID("")
}

// =====================================================
// Enum Tests
// =====================================================

func TestTable_Valid(t *testing.T) {
	for _, tbl := range Tables {
		if !tbl.Valid() {
			t.Errorf("%q should be valid", tbl)
		}
	}
	if Table("tags").Valid() {
		t.Error("unknown table should be invalid")
	}
	if len(Tables) != 3 || Tables[0] != TableMembers || Tables[2] != TableAttendance {
		t.Errorf("Tables order = %v", Tables)
	}
}

func TestAction_Valid(t *testing.T) {
	for _, a := range []Action{ActionCreate, ActionUpdate, ActionDelete} {
		if !a.Valid() {
			t.Errorf("%q should be valid", a)
		}
	}
	if Action("upsert").Valid() {
		t.Error("unknown action should be invalid")
	}
}

func TestAttendanceStatus_Present(t *testing.T) {
	tests := []struct {
		status AttendanceStatus
		want   bool
	}{
		{AttendanceEarly, true},
		{AttendanceOnTime, true},
		{AttendanceLate, true},
		{AttendanceExcused, false},
		{AttendanceAbsent, false},
	}
	for _, tt := range tests {
		if got := tt.status.Present(); got != tt.want {
			t.Errorf("%q.Present() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

// =====================================================
// Entity Tests
// =====================================================

// TestEntity_interface verifies every row type addresses itself.
func TestEntity_interface(t *testing.T) {
	entities := []struct {
		e     Entity
		table Table
	}{
		{&Member{LocalID: 1, RemoteID: "r1", ClientID: "c1"}, TableMembers},
		{&Event{LocalID: 1, RemoteID: "r1", ClientID: "c1"}, TableEvents},
		{&Attendance{LocalID: 1, RemoteID: "r1", ClientID: "c1"}, TableAttendance},
	}
	for _, tt := range entities {
		if tt.e.Table() != tt.table {
			t.Errorf("Table() = %q, want %q", tt.e.Table(), tt.table)
		}
		if tt.e.Local() != 1 || tt.e.Remote() != "r1" || tt.e.Client() != "c1" {
			t.Errorf("%s ids = %d/%q/%q", tt.table, tt.e.Local(), tt.e.Remote(), tt.e.Client())
		}
	}
}

// TestMember_Touch verifies Touch() updates timestamp.
func TestMember_Touch(t *testing.T) {
	m := Member{UpdatedAt: 1609459200000}

	before := time.Now().UnixMilli()
	m.Touch()
	after := time.Now().UnixMilli()

	if m.UpdatedAt < before || m.UpdatedAt > after {
		t.Errorf("Touch() UpdatedAt = %d, want between %d and %d", m.UpdatedAt, before, after)
	}
}

// TestMember_JSON verifies the remote column names are used.
func TestMember_JSON(t *testing.T) {
	m := Member{RemoteID: "abc", FullName: "Ada", QRCode: "Q1", Role: RoleMember}
	data, err := json.Marshal(&m)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var got map[string]interface{}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got["id"] != "abc" || got["full_name"] != "Ada" || got["qr_code"] != "Q1" {
		t.Errorf("unexpected JSON: %s", data)
	}
	if _, ok := got["local_id"]; ok {
		t.Errorf("zero local_id should be omitted: %s", data)
	}
}

// TestAttendance_Dependencies verifies referenced rows are reported.
func TestAttendance_Dependencies(t *testing.T) {
	a := Attendance{MemberLocalID: 3, EventLocalID: 7}
	deps := a.Dependencies()
	if len(deps) != 2 {
		t.Fatalf("Dependencies() len = %d, want 2", len(deps))
	}
	if deps[0] != (EntityRef{Table: TableMembers, LocalID: 3}) {
		t.Errorf("deps[0] = %+v", deps[0])
	}
	if deps[1] != (EntityRef{Table: TableEvents, LocalID: 7}) {
		t.Errorf("deps[1] = %+v", deps[1])
	}

	if got := (&Attendance{}).Dependencies(); len(got) != 0 {
		t.Errorf("Dependencies() on empty = %v", got)
	}
}

// =====================================================
// ConflictLog Tests
// =====================================================

// TestConflictLog_TableName verifies table name.
func TestConflictLog_TableName(t *testing.T) {
	log := ConflictLog{}
	if log.TableName() != "conflict_log" {
		t.Errorf("TableName() = %q, want 'conflict_log'", log.TableName())
	}
}

// TestConflictLog_DetectedAtTime verifies timestamp conversion.
func TestConflictLog_DetectedAtTime(t *testing.T) {
	expected := time.UnixMilli(1609459200000)
	log := ConflictLog{DetectedAt: 1609459200000}

	result := log.DetectedAtTime()
	if !result.Equal(expected) {
		t.Errorf("DetectedAtTime() = %v, want %v", result, expected)
	}
}

// =====================================================
// QueueEntry Tests
// =====================================================

// TestQueueEntry_TableName verifies table name.
func TestQueueEntry_TableName(t *testing.T) {
	q := QueueEntry{}
	if q.TableName() != "sync_queue" {
		t.Errorf("TableName() = %q, want 'sync_queue'", q.TableName())
	}
}

// TestQueueEntry_Exhausted verifies the retry threshold boundary.
func TestQueueEntry_Exhausted(t *testing.T) {
	q := QueueEntry{RetryCount: MaxRetries - 1}
	if q.Exhausted() {
		t.Error("Exhausted() should be false below threshold")
	}
	q.RetryCount = MaxRetries
	if !q.Exhausted() {
		t.Error("Exhausted() should be true at threshold")
	}
}

// TestQueueEntry_Ref verifies the mutated row address.
func TestQueueEntry_Ref(t *testing.T) {
	q := QueueEntry{Table: TableEvents, EntityLocalID: 9}
	if q.Ref() != (EntityRef{Table: TableEvents, LocalID: 9}) {
		t.Errorf("Ref() = %+v", q.Ref())
	}
}

// TestEntity_Bind verifies Bind attaches ids and accessors read sync state.
func TestEntity_Bind(t *testing.T) {
	entities := []Entity{
		&Member{SyncStatus: SyncStatusPending, UpdatedAt: 5},
		&Event{SyncStatus: SyncStatusPending, UpdatedAt: 5},
		&Attendance{SyncStatus: SyncStatusPending, UpdatedAt: 5},
	}
	for _, e := range entities {
		e.Bind(42, "client")
		if e.Local() != 42 || e.Client() != "client" {
			t.Errorf("%s Bind() ids = %d/%q", e.Table(), e.Local(), e.Client())
		}
		if e.SyncState() != SyncStatusPending || e.LastModified() != 5 {
			t.Errorf("%s state = %q/%d", e.Table(), e.SyncState(), e.LastModified())
		}
	}
}

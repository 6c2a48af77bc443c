// Package db tests for database migration management.
package db

import (
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
)

func openRaw(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

// TestNewMigrator verifies Migrator initialization.
func TestNewMigrator(t *testing.T) {
	db := openRaw(t)
	fsys := fstest.MapFS{}

	m := NewMigrator(db, fsys, "migrations")
	if m == nil {
		t.Fatal("NewMigrator() returned nil")
	}
	if m.db != db {
		t.Error("Migrator.db not set correctly")
	}
	if m.dir != "migrations" {
		t.Errorf("Migrator.dir = %q, want %q", m.dir, "migrations")
	}
}

// TestCurrentVersion verifies version tracking.
func TestCurrentVersion(t *testing.T) {
	db := openRaw(t)
	m := NewMigrator(db, fstest.MapFS{}, "migrations")

	// Before initialization
	if _, err := m.CurrentVersion(); err == nil {
		t.Error("CurrentVersion() should fail before Initialize()")
	}

	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}

	version, err := m.CurrentVersion()
	if err != nil {
		t.Errorf("CurrentVersion() failed: %v", err)
	}
	if version != 0 {
		t.Errorf("CurrentVersion() = %d, want 0", version)
	}

	_, err = db.Exec("INSERT INTO schema_migrations (version, applied_at, description, checksum) VALUES (?, ?, ?, ?)",
		1, 123456, "initial", strings.Repeat("a", 64))
	if err != nil {
		t.Fatalf("Failed to insert migration: %v", err)
	}

	version, err = m.CurrentVersion()
	if err != nil {
		t.Errorf("CurrentVersion() failed: %v", err)
	}
	if version != 1 {
		t.Errorf("CurrentVersion() = %d, want 1", version)
	}
}

// TestUp_appliesInVersionOrder verifies migration files are applied once, in order.
func TestUp_appliesInVersionOrder(t *testing.T) {
	db := openRaw(t)
	fsys := fstest.MapFS{
		"m/V2__add_column.up.sql":    {Data: []byte(`ALTER TABLE things ADD COLUMN name TEXT;`)},
		"m/V1__create_things.up.sql": {Data: []byte(`CREATE TABLE things (id INTEGER PRIMARY KEY);`)},
		"m/README.md":                {Data: []byte(`ignored`)},
	}
	m := NewMigrator(db, fsys, "m")
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}

	if err := m.Up(); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}
	if _, err := db.Exec("INSERT INTO things (id, name) VALUES (1, 'x')"); err != nil {
		t.Errorf("migrations not applied in order: %v", err)
	}

	applied, err := m.GetAppliedMigrations()
	if err != nil {
		t.Fatalf("GetAppliedMigrations() failed: %v", err)
	}
	if len(applied) != 2 {
		t.Fatalf("applied = %d, want 2", len(applied))
	}
	if applied[0].Description != "create_things" || applied[1].Description != "add_column" {
		t.Errorf("descriptions = %q, %q", applied[0].Description, applied[1].Description)
	}
	if len(applied[0].Checksum) != 64 {
		t.Errorf("checksum length = %d, want 64", len(applied[0].Checksum))
	}

	// Running Up again should skip already applied migrations
	if err := m.Up(); err != nil {
		t.Errorf("Up() second time failed: %v", err)
	}
}

// TestUp_detectsModifiedMigration verifies checksum verification.
func TestUp_detectsModifiedMigration(t *testing.T) {
	db := openRaw(t)
	fsys := fstest.MapFS{
		"m/V1__create.up.sql": {Data: []byte(`CREATE TABLE things (id INTEGER PRIMARY KEY);`)},
	}
	m := NewMigrator(db, fsys, "m")
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if err := m.Up(); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}

	fsys["m/V1__create.up.sql"] = &fstest.MapFile{Data: []byte(`CREATE TABLE other (id INTEGER);`)}
	err := m.Up()
	if err == nil || !strings.Contains(err.Error(), "modified") {
		t.Errorf("Up() error = %v, want modified migration error", err)
	}
}

// TestDown verifies rollback of the latest migration.
func TestDown(t *testing.T) {
	db := openRaw(t)
	m := NewMigrator(db, Migrations, "migrations")
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if err := m.Up(); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}

	if err := m.Down(); err != nil {
		t.Fatalf("Down() failed: %v", err)
	}

	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='members'").Scan(&n); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if n != 0 {
		t.Error("members table should be dropped by Down()")
	}

	version, err := m.CurrentVersion()
	if err != nil {
		t.Fatalf("CurrentVersion() failed: %v", err)
	}
	if version != 0 {
		t.Errorf("CurrentVersion() = %d, want 0", version)
	}
}

// TestDown_noMigrations verifies error when no migrations to rollback.
func TestDown_noMigrations(t *testing.T) {
	db := openRaw(t)
	m := NewMigrator(db, fstest.MapFS{}, "migrations")
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}

	err := m.Down()
	if err == nil {
		t.Fatal("Down() with no migrations should return error")
	}
	if !strings.Contains(err.Error(), "no migrations to rollback") {
		t.Errorf("Error message should mention 'no migrations to rollback', got: %v", err)
	}
}

// Package conflict provides unit tests for conflict resolution.
package conflict

import (
	"errors"
	"testing"

	"github.com/kimhsiao/attendsync/internal/models"
)

func pendingMember(updatedAt int64) *models.Member {
	return &models.Member{
		LocalID:    1,
		ClientID:   "11111111-1111-4111-8111-111111111111",
		FullName:   "Local Name",
		UpdatedAt:  updatedAt,
		SyncStatus: models.SyncStatusPending,
	}
}

func remoteMember(updatedAt int64) *models.Member {
	return &models.Member{
		RemoteID:   "11111111-1111-4111-8111-111111111111",
		FullName:   "Remote Name",
		UpdatedAt:  updatedAt,
		SyncStatus: models.SyncStatusSynced,
	}
}

// TestNewResolver_default verifies unknown strategies fall back to remote wins.
func TestNewResolver_default(t *testing.T) {
	if got := NewResolver("").Strategy(); got != StrategyRemoteWins {
		t.Errorf("Strategy() = %q, want %q", got, StrategyRemoteWins)
	}
	if got := NewResolver("manual").Strategy(); got != StrategyRemoteWins {
		t.Errorf("Strategy() = %q, want %q", got, StrategyRemoteWins)
	}
	if got := NewResolver(StrategyLastWriteWins).Strategy(); got != StrategyLastWriteWins {
		t.Errorf("Strategy() = %q, want %q", got, StrategyLastWriteWins)
	}
}

// TestDetect verifies only rows with unpushed changes conflict.
func TestDetect(t *testing.T) {
	r := NewResolver(StrategyRemoteWins)

	tests := []struct {
		name   string
		status models.SyncStatus
		want   bool
	}{
		{"pending", models.SyncStatusPending, true},
		{"error", models.SyncStatusError, true},
		{"conflict", models.SyncStatusConflict, true},
		{"synced", models.SyncStatusSynced, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local := pendingMember(100)
			local.SyncStatus = tt.status
			c, ok := r.Detect(local, remoteMember(200))
			if ok != tt.want {
				t.Fatalf("Detect() ok = %v, want %v", ok, tt.want)
			}
			if ok && (c.Local != local || c.DetectedAt == 0) {
				t.Errorf("Detect() conflict = %+v", c)
			}
		})
	}

	if _, ok := r.Detect(nil, remoteMember(1)); ok {
		t.Error("Detect(nil, remote) should not conflict")
	}
}

// TestResolve_remoteWins verifies the pulled row always wins by default.
func TestResolve_remoteWins(t *testing.T) {
	r := NewResolver(StrategyRemoteWins)
	local := pendingMember(500)
	c, _ := r.Detect(local, remoteMember(100))

	d, err := r.Resolve(c)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !d.Overwrite {
		t.Error("remote should overwrite even when local is newer")
	}
	if d.Log.Resolution != ResolutionRemoteWins {
		t.Errorf("Resolution = %q", d.Log.Resolution)
	}
	if d.Log.Table != models.TableMembers || d.Log.LocalID != 1 {
		t.Errorf("log addresses %s/%d", d.Log.Table, d.Log.LocalID)
	}
	if d.Log.RemoteID != "11111111-1111-4111-8111-111111111111" {
		t.Errorf("RemoteID = %q", d.Log.RemoteID)
	}
	if d.Log.LocalUpdatedAt != 500 || d.Log.RemoteUpdatedAt != 100 {
		t.Errorf("timestamps = %d/%d", d.Log.LocalUpdatedAt, d.Log.RemoteUpdatedAt)
	}
	if len(d.Log.ID) != 36 {
		t.Errorf("log ID = %q", d.Log.ID)
	}
}

// TestResolve_lastWriteWins verifies the newer side wins, ties to remote.
func TestResolve_lastWriteWins(t *testing.T) {
	r := NewResolver(StrategyLastWriteWins)

	tests := []struct {
		name      string
		local     int64
		remote    int64
		overwrite bool
	}{
		{"local newer", 200, 100, false},
		{"remote newer", 100, 200, true},
		{"tie", 100, 100, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := r.Detect(pendingMember(tt.local), remoteMember(tt.remote))
			d, err := r.Resolve(c)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if d.Overwrite != tt.overwrite {
				t.Errorf("Overwrite = %v, want %v", d.Overwrite, tt.overwrite)
			}
			want := ResolutionRemoteWins
			if !tt.overwrite {
				want = ResolutionLocalWins
			}
			if d.Log.Resolution != want {
				t.Errorf("Resolution = %q, want %q", d.Log.Resolution, want)
			}
		})
	}
}

// TestResolve_invalid verifies malformed conflicts are rejected.
func TestResolve_invalid(t *testing.T) {
	r := NewResolver(StrategyRemoteWins)

	if _, err := r.Resolve(nil); !errors.Is(err, ErrInvalidConflict) {
		t.Errorf("Resolve(nil) error = %v", err)
	}
	if _, err := r.Resolve(&Conflict{Local: pendingMember(1)}); !IsConflictError(err) {
		t.Errorf("Resolve(missing remote) error = %v", err)
	}
	_, err := r.Resolve(&Conflict{Local: pendingMember(1), Remote: &models.Event{RemoteID: "e"}})
	if err != ErrTableMismatch {
		t.Errorf("Resolve(mismatch) error = %v", err)
	}
}

package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/kimhsiao/attendsync/internal/db"
	apperrors "github.com/kimhsiao/attendsync/internal/errors"
	"github.com/kimhsiao/attendsync/internal/models"
	"github.com/kimhsiao/attendsync/internal/remote"
	syncpkg "github.com/kimhsiao/attendsync/internal/sync"
)

type stubSyncer struct {
	pending    int
	left       int // pending after a sync
	pendingErr error
	result     *syncpkg.Result
	syncErr    error
	syncs      int
}

func (s *stubSyncer) PendingChanges(context.Context) (int, error) {
	return s.pending, s.pendingErr
}

func (s *stubSyncer) ForceSync(context.Context) (*syncpkg.Result, error) {
	s.syncs++
	s.pending = s.left
	return s.result, s.syncErr
}

func recorder(calls *int) func(context.Context) error {
	return func(context.Context) error {
		*calls++
		return nil
	}
}

func TestSignOut_emptyQueue(t *testing.T) {
	s := &stubSyncer{}
	var calls int

	if err := NewGuard(s).SignOut(context.Background(), recorder(&calls)); err != nil {
		t.Fatalf("SignOut() error = %v", err)
	}
	if s.syncs != 0 {
		t.Errorf("syncs = %d, want 0", s.syncs)
	}
	if calls != 1 {
		t.Errorf("signOut calls = %d, want 1", calls)
	}
}

func TestSignOut_finalSyncSucceeds(t *testing.T) {
	s := &stubSyncer{pending: 2, result: &syncpkg.Result{Success: true, Processed: 2}}
	var calls int

	if err := NewGuard(s).SignOut(context.Background(), recorder(&calls)); err != nil {
		t.Fatalf("SignOut() error = %v", err)
	}
	if s.syncs != 1 || calls != 1 {
		t.Errorf("syncs = %d, signOut calls = %d", s.syncs, calls)
	}
}

func TestSignOut_refused(t *testing.T) {
	tests := []struct {
		name    string
		result  *syncpkg.Result
		syncErr error
	}{
		{"sync error", nil, apperrors.New(apperrors.ErrOffline, "cannot sync while offline")},
		{"entries failed", &syncpkg.Result{Errors: []string{"attendance create 3: boom"}}, nil},
		{"entries still queued", &syncpkg.Result{Success: true, Processed: 2}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &stubSyncer{pending: 3, left: 1, result: tt.result, syncErr: tt.syncErr}
			var calls int

			err := NewGuard(s).SignOut(context.Background(), recorder(&calls))
			if !apperrors.Is(err, apperrors.ErrPendingSync) {
				t.Fatalf("SignOut() error = %v, want PENDING_SYNC", err)
			}
			if calls != 0 {
				t.Error("signOut must not be called")
			}
		})
	}
}

func TestSignOut_errors(t *testing.T) {
	boom := errors.New("boom")

	s := &stubSyncer{pendingErr: boom}
	if err := NewGuard(s).SignOut(context.Background(), recorder(new(int))); !errors.Is(err, boom) {
		t.Errorf("SignOut() error = %v, want %v", err, boom)
	}

	s = &stubSyncer{}
	failing := func(context.Context) error { return boom }
	if err := NewGuard(s).SignOut(context.Background(), failing); !errors.Is(err, boom) {
		t.Errorf("SignOut() error = %v, want %v", err, boom)
	}
}

func TestSignOut_retryableFailureKeepsSession(t *testing.T) {
	ctx := context.Background()
	database, err := db.OpenPath(filepath.Join(t.TempDir(), "session.db"))
	if err != nil {
		t.Fatalf("OpenPath() error = %v", err)
	}
	defer database.Close()
	repo := db.NewRepository(database)

	if err := repo.Save(ctx, &models.Member{FullName: "Ada", QRCode: "QR-ADA"}, models.ActionCreate); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	store := remote.NewMemoryStore()
	store.FailNext(models.TableMembers, 1, errors.New("network down"))
	engine := syncpkg.NewEngine(repo, repo.Queue(), store, nil, syncpkg.Config{})

	var calls int
	err = NewGuard(engine).SignOut(ctx, recorder(&calls))
	if !apperrors.Is(err, apperrors.ErrPendingSync) {
		t.Fatalf("SignOut() error = %v, want PENDING_SYNC", err)
	}
	if calls != 0 {
		t.Error("signOut must not be called while the queue is non-empty")
	}
	if n, _ := engine.PendingChanges(ctx); n != 1 {
		t.Errorf("pending changes = %d, want 1", n)
	}

	// the next attempt pushes the entry and signs out
	if err := NewGuard(engine).SignOut(ctx, recorder(&calls)); err != nil {
		t.Fatalf("second SignOut() error = %v", err)
	}
	if calls != 1 || store.Len(models.TableMembers) != 1 {
		t.Errorf("signOut calls = %d, remote members = %d", calls, store.Len(models.TableMembers))
	}
}

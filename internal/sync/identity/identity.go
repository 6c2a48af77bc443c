// Package identity maps entities between their local and remote identifiers.
//
// Every lookup reads the local store; nothing is cached, so an id assigned by
// a push earlier in the same sync is visible immediately.
package identity

import (
	"context"

	apperrors "github.com/kimhsiao/attendsync/internal/errors"
	"github.com/kimhsiao/attendsync/internal/models"
)

// Store is the subset of the local store the resolver reads.
type Store interface {
	Get(ctx context.Context, table models.Table, localID int64) (models.Entity, error)
	GetByRemoteID(ctx context.Context, table models.Table, remoteID string) (models.Entity, error)
}

// Resolver translates identifiers through the local store.
type Resolver struct {
	store Store
}

// New creates a Resolver.
func New(store Store) *Resolver {
	return &Resolver{store: store}
}

// RemoteID returns the remote id of the local row ref. ok is false when the
// row is missing or has not been accepted by the remote store yet.
func (r *Resolver) RemoteID(ctx context.Context, ref models.EntityRef) (string, bool, error) {
	if ref.LocalID == 0 {
		return "", false, nil
	}
	e, err := r.store.Get(ctx, ref.Table, ref.LocalID)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return e.Remote(), e.Remote() != "", nil
}

// LocalID returns the local id of the row of table with remoteID.
func (r *Resolver) LocalID(ctx context.Context, table models.Table, remoteID string) (int64, bool, error) {
	if remoteID == "" {
		return 0, false, nil
	}
	e, err := r.store.GetByRemoteID(ctx, table, remoteID)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return e.Local(), true, nil
}

// MemberRemoteID returns the remote id of a local member.
func (r *Resolver) MemberRemoteID(ctx context.Context, localID int64) (string, bool, error) {
	return r.RemoteID(ctx, models.EntityRef{Table: models.TableMembers, LocalID: localID})
}

// EventRemoteID returns the remote id of a local event.
func (r *Resolver) EventRemoteID(ctx context.Context, localID int64) (string, bool, error) {
	return r.RemoteID(ctx, models.EntityRef{Table: models.TableEvents, LocalID: localID})
}

// MemberLocalID returns the local id of a remote member.
func (r *Resolver) MemberLocalID(ctx context.Context, remoteID string) (int64, bool, error) {
	return r.LocalID(ctx, models.TableMembers, remoteID)
}

// EventLocalID returns the local id of a remote event.
func (r *Resolver) EventLocalID(ctx context.Context, remoteID string) (int64, bool, error) {
	return r.LocalID(ctx, models.TableEvents, remoteID)
}

// ResolveAttendance fills the remote member and event references of a from
// their local ids. A reference that already carries a remote id is kept. It
// returns an ErrDependencyNotSynced error naming the first reference that has
// no remote id yet.
func (r *Resolver) ResolveAttendance(ctx context.Context, a *models.Attendance) error {
	if a.MemberRemoteID == "" {
		id, ok, err := r.MemberRemoteID(ctx, a.MemberLocalID)
		if err != nil {
			return err
		}
		if !ok {
			return apperrors.Newf(apperrors.ErrDependencyNotSynced,
				"member %d has not been synced", a.MemberLocalID)
		}
		a.MemberRemoteID = id
	}
	if a.EventRemoteID == "" {
		id, ok, err := r.EventRemoteID(ctx, a.EventLocalID)
		if err != nil {
			return err
		}
		if !ok {
			return apperrors.Newf(apperrors.ErrDependencyNotSynced,
				"event %d has not been synced", a.EventLocalID)
		}
		a.EventRemoteID = id
	}
	return nil
}

// LocalizeAttendance fills the local member and event references of a pulled
// record from its remote ids. References with no local row are left zero.
func (r *Resolver) LocalizeAttendance(ctx context.Context, a *models.Attendance) error {
	if a.MemberLocalID == 0 {
		id, _, err := r.MemberLocalID(ctx, a.MemberRemoteID)
		if err != nil {
			return err
		}
		a.MemberLocalID = id
	}
	if a.EventLocalID == 0 {
		id, _, err := r.EventLocalID(ctx, a.EventRemoteID)
		if err != nil {
			return err
		}
		a.EventLocalID = id
	}
	return nil
}

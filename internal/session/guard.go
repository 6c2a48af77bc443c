// Package session guards the end of an operator session.
//
// Signing out discards the operator's credentials, after which queued
// changes could no longer be pushed. A Guard refuses to sign out while
// changes remain that a final sync could not push.
package session

import (
	"context"
	"fmt"

	apperrors "github.com/kimhsiao/attendsync/internal/errors"
	"github.com/kimhsiao/attendsync/internal/logging"
	syncpkg "github.com/kimhsiao/attendsync/internal/sync"
)

// Syncer is the part of the sync engine the guard needs.
type Syncer interface {
	ForceSync(ctx context.Context) (*syncpkg.Result, error)
	PendingChanges(ctx context.Context) (int, error)
}

// Guard runs a final sync before sign-out.
type Guard struct {
	syncer Syncer
}

// NewGuard creates a Guard.
func NewGuard(syncer Syncer) *Guard {
	return &Guard{syncer: syncer}
}

// SignOut calls signOut once no queued changes are at risk. With a non-empty
// queue it runs a final sync first; if that sync fails, reports errors or
// leaves entries queued, SignOut returns an ErrPendingSync error and signOut
// is not called.
func (g *Guard) SignOut(ctx context.Context, signOut func(context.Context) error) error {
	pending, err := g.syncer.PendingChanges(ctx)
	if err != nil {
		return err
	}

	if pending > 0 {
		res, err := g.syncer.ForceSync(ctx)
		if err == nil && !res.Success {
			err = fmt.Errorf("%d entries failed", len(res.Errors))
		}
		if err == nil {
			pending, err = g.syncer.PendingChanges(ctx)
			if err == nil && pending > 0 {
				err = fmt.Errorf("%d entries still queued", pending)
			}
		}
		if err != nil {
			logging.Warn("Sign-out refused", map[string]interface{}{
				"pending": pending,
				"error":   err.Error(),
			})
			return apperrors.Wrap(apperrors.ErrPendingSync,
				fmt.Sprintf("cannot sign out: %d items pending sync", pending), err)
		}
	}

	if err := signOut(ctx); err != nil {
		return err
	}
	logging.Info("Signed out", map[string]interface{}{"synced": pending})
	return nil
}

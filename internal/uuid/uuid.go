// Package uuid generates and checks the ids rows carry across devices.
//
// A row gets a random version 4 client id when it is first stored locally.
// The create push sends that id as the remote primary key, so a remote id
// that is a valid client id names the same row on every device.
package uuid

import (
	"github.com/google/uuid"

	apperrors "github.com/kimhsiao/attendsync/internal/errors"
	"github.com/kimhsiao/attendsync/internal/models"
)

// New returns a random version 4 id.
func New() string {
	return uuid.NewString()
}

// NewClientID returns a client id for a row created on this device.
func NewClientID() models.UUID {
	return models.UUID(uuid.NewString())
}

// IsValid reports whether s is a hyphenated version 4 id with the RFC 4122
// variant. Case is ignored.
func IsValid(s string) bool {
	if len(s) != 36 {
		return false
	}
	id, err := uuid.Parse(s)
	return err == nil && id.Version() == 4 && id.Variant() == uuid.RFC4122
}

// Validate returns an ErrValidation error naming what when s is not a valid
// client id.
func Validate(what, s string) error {
	if !IsValid(s) {
		return apperrors.Newf(apperrors.ErrValidation, "invalid %s %q", what, s)
	}
	return nil
}

// ClientIDFor returns the client id of a row first seen through a pull. Rows
// created by a client carry their client id as the remote id; any other
// remote id gets a fresh one.
func ClientIDFor(remoteID string) models.UUID {
	if IsValid(remoteID) {
		return models.UUID(remoteID)
	}
	return NewClientID()
}

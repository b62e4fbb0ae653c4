// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"time"

	"github.com/and161185/keyhandoff/internal/model"
	"github.com/gofrs/uuid/v5"
)

// UserRepository provides access to accounts of the reference password provider.
type UserRepository interface {
	// Create inserts a new user.
	Create(ctx context.Context, u *model.User) error
	// GetByID loads a user by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	// GetByUsername loads a user by username.
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	// SetConfirmation replaces the pending confirmation code hash and expiry.
	SetConfirmation(ctx context.Context, id uuid.UUID, codeHash []byte, expiry time.Time) error
	// MarkConfirmed confirms a pending account; already confirmed accounts yield ErrVersionConflict.
	MarkConfirmed(ctx context.Context, id uuid.UUID) error
}

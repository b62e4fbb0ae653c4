package repository

import (
	"context"

	"github.com/and161185/keyhandoff/internal/model"
)

// AssociationKeyRepository stores public association keys registered with the verifier.
type AssociationKeyRepository interface {
	// Upsert registers or replaces the key for rec.Username.
	Upsert(ctx context.Context, rec model.AssociationKeyRecord) error
	// Get returns the key for username or ErrNotFound.
	Get(ctx context.Context, username string) (*model.AssociationKeyRecord, error)
	// Delete removes the key for username.
	Delete(ctx context.Context, username string) error
}

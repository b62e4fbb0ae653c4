package postgres

import (
	"context"
	"errors"

	"github.com/and161185/keyhandoff/internal/errs"
	"github.com/and161185/keyhandoff/internal/model"
	"github.com/jackc/pgx/v5"
)

// KeyRepo implements AssociationKeyRepository using PostgreSQL.
type KeyRepo struct{ db *DB }

// NewKeyRepo constructs an association key repository.
func NewKeyRepo(db *DB) *KeyRepo { return &KeyRepo{db: db} }

// Upsert registers or rotates the key of rec.Username. Unknown usernames yield ErrNotFound.
func (r *KeyRepo) Upsert(ctx context.Context, rec model.AssociationKeyRecord) error {
	const q = `
INSERT INTO association_keys (username, public_key)
VALUES ($1, $2)
ON CONFLICT (username) DO UPDATE
SET public_key = EXCLUDED.public_key, updated_at = now()`
	_, err := r.db.Pool.Exec(ctx, q, rec.Username, rec.PublicKey)
	if pgCode(err) == codeForeignKeyViolation {
		return errs.ErrNotFound
	}
	return err
}

// Get loads the key registered for username.
func (r *KeyRepo) Get(ctx context.Context, username string) (*model.AssociationKeyRecord, error) {
	const q = `
SELECT username, public_key, created_at, updated_at
FROM association_keys WHERE username=$1`
	var rec model.AssociationKeyRecord
	err := r.db.Pool.QueryRow(ctx, q, username).Scan(&rec.Username, &rec.PublicKey, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Delete removes the key of username.
func (r *KeyRepo) Delete(ctx context.Context, username string) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM association_keys WHERE username=$1`, username)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

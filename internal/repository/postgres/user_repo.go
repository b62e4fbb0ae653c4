package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/and161185/keyhandoff/internal/errs"
	"github.com/and161185/keyhandoff/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// UserRepo implements UserRepository using PostgreSQL.
type UserRepo struct{ db *DB }

// NewUserRepo constructs a user repository.
func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

const userColumns = `id, username, given_name, family_name, pwd_hash, salt_auth, confirmed, confirm_hash, confirm_expiry, created_at`

// Create inserts a new user row.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	const q = `
INSERT INTO users (id, username, given_name, family_name, pwd_hash, salt_auth, confirmed, confirm_hash, confirm_expiry)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.db.Pool.Exec(ctx, q,
		u.ID, u.Username, u.GivenName, u.FamilyName, u.PwdHash, u.SaltAuth,
		u.Confirmed, nonNil(u.ConfirmHash), u.ConfirmExpiry)
	if pgCode(err) == codeUniqueViolation {
		return errs.ErrAlreadyExists
	}
	return err
}

// GetByID selects a user by ID.
func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id)
}

// GetByUsername selects a user by username.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE username=$1`, username)
}

func (r *UserRepo) getOne(ctx context.Context, q string, arg any) (*model.User, error) {
	row := r.db.Pool.QueryRow(ctx, q, arg)
	var u model.User
	err := row.Scan(&u.ID, &u.Username, &u.GivenName, &u.FamilyName, &u.PwdHash, &u.SaltAuth,
		&u.Confirmed, &u.ConfirmHash, &u.ConfirmExpiry, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// SetConfirmation stores a fresh confirmation code hash for a still unconfirmed user.
func (r *UserRepo) SetConfirmation(ctx context.Context, id uuid.UUID, codeHash []byte, expiry time.Time) error {
	const q = `
UPDATE users
SET confirm_hash = $2, confirm_expiry = $3
WHERE id = $1 AND NOT confirmed`
	tag, err := r.db.Pool.Exec(ctx, q, id, codeHash, expiry)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrVersionConflict
	}
	return nil
}

// MarkConfirmed flips confirmed and clears the pending code.
func (r *UserRepo) MarkConfirmed(ctx context.Context, id uuid.UUID) error {
	const q = `
UPDATE users
SET confirmed = TRUE, confirm_hash = ''::bytea, confirm_expiry = 'epoch'
WHERE id = $1 AND NOT confirmed`
	tag, err := r.db.Pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrVersionConflict
	}
	return nil
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

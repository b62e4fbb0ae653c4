package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/and161185/keyhandoff/internal/errs"
	"github.com/and161185/keyhandoff/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

const insertUserRe = `INSERT INTO users \(id, username, given_name, family_name, pwd_hash, salt_auth, confirmed, confirm_hash, confirm_expiry\) VALUES \(\$1, \$2, \$3, \$4, \$5, \$6, \$7, \$8, \$9\)`

var userCols = []string{"id", "username", "given_name", "family_name", "pwd_hash", "salt_auth", "confirmed", "confirm_hash", "confirm_expiry", "created_at"}

func TestUserRepo_Create_OK_and_UniqueViolation(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)
	ctx := context.Background()
	exp := time.Now().Add(time.Hour)
	u := &model.User{
		ID:            uuid.Must(uuid.NewV4()),
		Username:      "alice@example.com",
		GivenName:     "Alice",
		FamilyName:    "Liddell",
		PwdHash:       []byte("h"),
		SaltAuth:      []byte("s"),
		ConfirmHash:   []byte("c"),
		ConfirmExpiry: exp,
	}

	mock.ExpectExec(insertUserRe).
		WithArgs(u.ID, u.Username, u.GivenName, u.FamilyName, u.PwdHash, u.SaltAuth, false, u.ConfirmHash, exp).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.Create(ctx, u))

	mock.ExpectExec(insertUserRe).
		WithArgs(u.ID, u.Username, u.GivenName, u.FamilyName, u.PwdHash, u.SaltAuth, false, u.ConfirmHash, exp).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	require.ErrorIs(t, r.Create(ctx, u), errs.ErrAlreadyExists)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_GetByID(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())
	now := time.Now()

	mock.ExpectQuery(`SELECT id, username, given_name, family_name, pwd_hash, salt_auth, confirmed, confirm_hash, confirm_expiry, created_at FROM users WHERE id=\$1`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(userCols).
			AddRow(id, "u", "G", "F", []byte("h"), []byte("s"), true, []byte{}, time.Unix(0, 0), now))
	u, err := r.GetByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, id, u.ID)
	require.True(t, u.Confirmed)
	require.Equal(t, "G", u.GivenName)

	mock.ExpectQuery(`SELECT .* FROM users WHERE id=\$1`).
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)
	_, err = r.GetByID(ctx, id)
	require.ErrorIs(t, err, errs.ErrNotFound)

	boom := errors.New("conn reset")
	mock.ExpectQuery(`SELECT .* FROM users WHERE id=\$1`).
		WithArgs(id).
		WillReturnError(boom)
	_, err = r.GetByID(ctx, id)
	require.ErrorIs(t, err, boom)
}

func TestUserRepo_GetByUsername(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)
	ctx := context.Background()
	name := "bob@example.com"
	id := uuid.Must(uuid.NewV4())
	exp := time.Now().Add(10 * time.Minute)

	mock.ExpectQuery(`SELECT .* FROM users WHERE username=\$1`).
		WithArgs(name).
		WillReturnRows(pgxmock.NewRows(userCols).
			AddRow(id, name, "", "", []byte("h"), []byte("s"), false, []byte("code"), exp, time.Now()))
	u, err := r.GetByUsername(ctx, name)
	require.NoError(t, err)
	require.Equal(t, name, u.Username)
	require.False(t, u.Confirmed)
	require.Equal(t, []byte("code"), u.ConfirmHash)

	mock.ExpectQuery(`SELECT .* FROM users WHERE username=\$1`).
		WithArgs(name).
		WillReturnError(pgx.ErrNoRows)
	_, err = r.GetByUsername(ctx, name)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestUserRepo_SetConfirmation(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())
	exp := time.Now().Add(time.Hour)

	mock.ExpectExec(`UPDATE users SET confirm_hash = \$2, confirm_expiry = \$3 WHERE id = \$1 AND NOT confirmed`).
		WithArgs(id, []byte("h"), exp).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, r.SetConfirmation(ctx, id, []byte("h"), exp))

	mock.ExpectExec(`UPDATE users SET confirm_hash`).
		WithArgs(id, []byte("h"), exp).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, r.SetConfirmation(ctx, id, []byte("h"), exp), errs.ErrVersionConflict)
}

func TestUserRepo_MarkConfirmed(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())

	mock.ExpectExec(`UPDATE users SET confirmed = TRUE, confirm_hash = ''::bytea, confirm_expiry = 'epoch' WHERE id = \$1 AND NOT confirmed`).
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, r.MarkConfirmed(ctx, id))

	mock.ExpectExec(`UPDATE users SET confirmed = TRUE`).
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, r.MarkConfirmed(ctx, id), errs.ErrVersionConflict)

	mock.ExpectExec(`UPDATE users SET confirmed = TRUE`).
		WithArgs(id).
		WillReturnError(errors.New("boom"))
	require.Error(t, r.MarkConfirmed(ctx, id))
}

package limiter

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PG is a PostgreSQL-backed limiter with a sliding failure window and lockout.
type PG struct {
	pool     pgxQuerier
	window   time.Duration
	maxFails int
	blockFor time.Duration
	now      func() time.Time
}

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Policy configures window, threshold and block duration.
type Policy struct {
	Window   time.Duration
	MaxFails int
	BlockFor time.Duration
}

// NewPG constructs a PostgreSQL-backed limiter; *pgxpool.Pool satisfies q.
func NewPG(q pgxQuerier, p Policy) *PG {
	return &PG{pool: q, window: p.Window, maxFails: p.MaxFails, blockFor: p.BlockFor, now: time.Now}
}

// Allow reports whether the attempt may proceed and a retry-after duration.
func (l *PG) Allow(ctx context.Context, a Attempt) (bool, time.Duration, error) {
	const q = `SELECT blocked_until FROM auth_limiter WHERE scope=$1 AND subject=$2 AND client_hash=$3`
	var blockedUntil time.Time
	err := l.pool.QueryRow(ctx, q, a.Scope, a.Subject, a.ClientHash).Scan(&blockedUntil)
	switch {
	case err == nil:
		if now := l.now(); blockedUntil.After(now) {
			return false, blockedUntil.Sub(now), nil
		}
		return true, 0, nil
	case errors.Is(err, pgx.ErrNoRows):
		return true, 0, nil
	default:
		return false, 0, err
	}
}

// Success resets counters for the attempt.
func (l *PG) Success(ctx context.Context, a Attempt) error {
	const q = `
INSERT INTO auth_limiter (scope, subject, client_hash, fail_count, blocked_until, updated_at)
VALUES ($1,$2,$3,0,'epoch',now())
ON CONFLICT (scope, subject, client_hash)
DO UPDATE SET fail_count=0, blocked_until='epoch', updated_at=now()`
	_, err := l.pool.Exec(ctx, q, a.Scope, a.Subject, a.ClientHash)
	return err
}

// Failure records a failed attempt; reaching maxFails inside the window blocks for blockFor.
func (l *PG) Failure(ctx context.Context, a Attempt) (bool, time.Duration, error) {
	const q = `
INSERT INTO auth_limiter (scope, subject, client_hash, fail_count, blocked_until, updated_at)
VALUES ($1,$2,$3,1,'epoch',now())
ON CONFLICT (scope, subject, client_hash) DO UPDATE
SET
  fail_count = CASE WHEN EXCLUDED.updated_at - auth_limiter.updated_at > $4::interval THEN 1 ELSE auth_limiter.fail_count + 1 END,
  updated_at = now()
RETURNING fail_count`
	var fails int
	if err := l.pool.QueryRow(ctx, q, a.Scope, a.Subject, a.ClientHash, l.window).Scan(&fails); err != nil {
		return false, 0, err
	}
	if fails < l.maxFails {
		return false, 0, nil
	}
	const upd = `UPDATE auth_limiter SET blocked_until=$4 WHERE scope=$1 AND subject=$2 AND client_hash=$3`
	if _, err := l.pool.Exec(ctx, upd, a.Scope, a.Subject, a.ClientHash, l.now().Add(l.blockFor)); err != nil {
		return false, 0, err
	}
	return true, l.blockFor, nil
}

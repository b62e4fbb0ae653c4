// Package limiter throttles repeated failures of provider operations (sign-in, confirmation).
package limiter

import (
	"context"
	"crypto/sha256"
	"time"
)

// Scopes keep counters of different operations apart.
const (
	ScopeSignIn  = "sign_in"
	ScopeConfirm = "confirm"
)

// Attempt identifies the counter a call is charged to.
type Attempt struct {
	Scope      string
	Subject    string // usually the username
	ClientHash []byte // HashClient of the remote address
}

// Limiter controls attempts and temporary lockouts.
type Limiter interface {
	// Allow reports whether the attempt may proceed and an optional retry-after.
	Allow(ctx context.Context, a Attempt) (bool, time.Duration, error)
	// Success resets counters after a successful attempt.
	Success(ctx context.Context, a Attempt) error
	// Failure records a failed attempt; may place a temporary block.
	Failure(ctx context.Context, a Attempt) (bool, time.Duration, error)
}

// HashClient returns a stable hash of a client address to avoid storing raw addresses.
func HashClient(addr string) []byte {
	h := sha256.Sum256([]byte(addr))
	return h[:]
}

// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Handoff core sentinels.
var (
	// ErrInvalidSession indicates a provider success result without a usable identity.
	ErrInvalidSession = errors.New("invalid session")

	// ErrKeyUnavailable indicates the identity has no provisioned association key.
	ErrKeyUnavailable = errors.New("association key unavailable")

	// ErrSigning indicates the signing collaborator failed or was unreachable.
	ErrSigning = errors.New("signing failed")

	// ErrChallengeRequired indicates the provider needs another round trip before success.
	ErrChallengeRequired = errors.New("challenge required")
)

// Collaborator sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict indicates a conditional update did not apply.
	ErrVersionConflict = errors.New("version conflict")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates a temporary lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., username taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrNotConfirmed indicates the account exists but sign-up was never confirmed.
	ErrNotConfirmed = errors.New("user not confirmed")

	// ErrInvalidCode indicates a wrong, malformed or expired confirmation code.
	ErrInvalidCode = errors.New("invalid confirmation code")

	// ErrInvalidArgument indicates a request that fails validation.
	ErrInvalidArgument = errors.New("invalid argument")
)

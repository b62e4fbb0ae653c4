// Package model defines domain entities shared by the handoff core and its collaborators.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Identity is the authenticated principal handed from the session adapter to the assertion builder.
type Identity struct {
	Username      string
	EstablishedAt time.Time
}

// ProviderSession is the identity provider's successful terminal result.
type ProviderSession struct {
	Username    string
	AccessToken string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// AuthOutcome is the terminal result of a provider sign-in attempt.
// It is one of Success, ChallengeRequired or Failure.
type AuthOutcome interface {
	isAuthOutcome()
}

// Success carries the established provider session.
type Success struct {
	Session ProviderSession
}

// ChallengeRequired reports that the provider needs another step (e.g. sign-up confirmation).
type ChallengeRequired struct {
	Username  string
	Challenge string
}

// Failure carries a provider-originated error, passed through unchanged.
type Failure struct {
	Err error
}

func (Success) isAuthOutcome()           {}
func (ChallengeRequired) isAuthOutcome() {}
func (Failure) isAuthOutcome()           {}

// Reason returns a human-readable failure message.
func (f Failure) Reason() string {
	if f.Err == nil {
		return "authentication failed"
	}
	return f.Err.Error()
}

// ChallengeConfirmSignUp is the challenge name used for unconfirmed accounts.
const ChallengeConfirmSignUp = "CONFIRM_SIGN_UP"

// AssertionPayload is the signed bundle handed to the secondary verification flow.
// Field order is part of the wire contract.
type AssertionPayload struct {
	Username       string `json:"username"`
	TimestampNonce string `json:"timestamp_nonce"`
	UserSignature  string `json:"userSignature"`
	AssociationKey string `json:"associationKey"`
}

// HandoffResult is the binary outcome of the secondary verification flow.
type HandoffResult int

const (
	NotAuthenticated HandoffResult = iota
	Authenticated
)

func (r HandoffResult) String() string {
	if r == Authenticated {
		return "Authenticated"
	}
	return "Failed to authenticate"
}

// Tokens collects issued access tokens.
type Tokens struct {
	AccessToken string
	ExpiresAt   time.Time
}

// User represents an account of the reference password provider.
type User struct {
	ID            uuid.UUID // PK
	Username      string    // unique, usually an email
	GivenName     string
	FamilyName    string
	PwdHash       []byte // Argon2id(password, SaltAuth)
	SaltAuth      []byte
	Confirmed     bool
	ConfirmHash   []byte    // Argon2id(code, SaltAuth); empty once confirmed
	ConfirmExpiry time.Time // zero once confirmed
	CreatedAt     time.Time
}

// SignUpResult mirrors what a provider reports after registration.
type SignUpResult struct {
	UserID        string
	UserConfirmed bool
}

// AssociationKeyRecord is a public association key registered for an identity on the verifier side.
type AssociationKeyRecord struct {
	Username  string
	PublicKey []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Package assertion mints signed, nonce-bound assertion payloads for the cross-device handoff.
package assertion

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/and161185/keyhandoff/internal/errs"
	"github.com/and161185/keyhandoff/internal/model"
)

// KeySigner is the key-management collaborator scoped per identity.
type KeySigner interface {
	// AssociationKey returns the identity's association key.
	AssociationKey(ctx context.Context, username string) (string, error)
	// Sign signs message with the identity's key.
	Sign(ctx context.Context, username, message string) (string, error)
}

// Builder produces assertion payloads. It keeps no state between calls.
type Builder struct {
	now     func() time.Time
	randInt func() (int32, error)
}

// Option configures a Builder.
type Option func(*Builder)

// WithClock overrides the wall clock used for the nonce timestamp.
func WithClock(now func() time.Time) Option { return func(b *Builder) { b.now = now } }

// WithRandom overrides the random source used for the nonce suffix.
func WithRandom(r func() (int32, error)) Option { return func(b *Builder) { b.randInt = r } }

// NewBuilder returns a builder using the wall clock and crypto/rand unless overridden.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{now: time.Now, randInt: RandInt32}
	for _, o := range opts {
		o(b)
	}
	return b
}

// RandInt32 returns a uniformly distributed int32 from crypto/rand.
func RandInt32() (int32, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(buf[:])), nil
}

// Build requests the association key, mints a timestamp nonce, signs (username, nonce)
// and assembles the payload. No signing is attempted when the key is unavailable.
func (b *Builder) Build(ctx context.Context, id model.Identity, signer KeySigner) (model.AssertionPayload, error) {
	if strings.TrimSpace(id.Username) == "" {
		return model.AssertionPayload{}, fmt.Errorf("%w: empty username", errs.ErrInvalidSession)
	}

	assocKey, err := signer.AssociationKey(ctx, id.Username)
	if err != nil {
		return model.AssertionPayload{}, fmt.Errorf("%w: %w", errs.ErrKeyUnavailable, err)
	}
	if assocKey == "" {
		return model.AssertionPayload{}, fmt.Errorf("%w: empty key for %q", errs.ErrKeyUnavailable, id.Username)
	}

	nonce, err := b.nonce()
	if err != nil {
		return model.AssertionPayload{}, err
	}

	sig, err := signer.Sign(ctx, id.Username, nonce)
	if err != nil {
		return model.AssertionPayload{}, fmt.Errorf("%w: %w", errs.ErrSigning, err)
	}
	if sig == "" {
		return model.AssertionPayload{}, fmt.Errorf("%w: empty signature", errs.ErrSigning)
	}

	return model.AssertionPayload{
		Username:       id.Username,
		TimestampNonce: nonce,
		UserSignature:  sig,
		AssociationKey: assocKey,
	}, nil
}

func (b *Builder) nonce() (string, error) {
	r, err := b.randInt()
	if err != nil {
		return "", fmt.Errorf("nonce entropy: %w", err)
	}
	return FormatNonce(b.now(), r), nil
}

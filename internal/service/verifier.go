package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/keyhandoff/internal/assertion"
	"github.com/and161185/keyhandoff/internal/errs"
	"github.com/and161185/keyhandoff/internal/keystore"
	"github.com/and161185/keyhandoff/internal/model"
	"github.com/and161185/keyhandoff/internal/replay"
	"github.com/and161185/keyhandoff/internal/repository"
)

// VerifierService registers association keys and verifies assertion payloads.
type VerifierService interface {
	// RegisterKey binds associationKey to the confirmed user and returns the username.
	RegisterKey(ctx context.Context, userID uuid.UUID, associationKey string) (string, error)
	// UnregisterKey drops the user's association key and returns the username.
	UnregisterKey(ctx context.Context, userID uuid.UUID) (string, error)
	// Verify consumes a payload. Protocol failures yield NotAuthenticated with a nil error.
	Verify(ctx context.Context, p model.AssertionPayload) (model.HandoffResult, error)
}

// VerifierConfig bounds how old or early a nonce timestamp may be.
type VerifierConfig struct {
	Window time.Duration
	Skew   time.Duration
}

type VerifierServiceImpl struct {
	users repository.UserRepository
	keys  repository.AssociationKeyRepository
	guard replay.Guard
	cfg   VerifierConfig
	log   *zap.Logger
	now   func() time.Time
}

// NewVerifierService constructs the verifier.
func NewVerifierService(users repository.UserRepository, keys repository.AssociationKeyRepository, guard replay.Guard, cfg VerifierConfig, log *zap.Logger) *VerifierServiceImpl {
	return &VerifierServiceImpl{users: users, keys: keys, guard: guard, cfg: cfg, log: log, now: time.Now}
}

// RegisterKey stores (or rotates) the association key of a confirmed user.
func (v *VerifierServiceImpl) RegisterKey(ctx context.Context, userID uuid.UUID, associationKey string) (string, error) {
	if userID == uuid.Nil {
		return "", fmt.Errorf("%w: nil user id", errs.ErrInvalidArgument)
	}
	pub, err := keystore.DecodePublicKey(associationKey)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errs.ErrInvalidArgument, err)
	}
	u, err := v.users.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if !u.Confirmed {
		return "", errs.ErrNotConfirmed
	}
	if err := v.keys.Upsert(ctx, model.AssociationKeyRecord{Username: u.Username, PublicKey: pub}); err != nil {
		return "", err
	}
	return u.Username, nil
}

// UnregisterKey removes the association key of the user. Later payloads for
// that username are rejected until a new key is registered.
func (v *VerifierServiceImpl) UnregisterKey(ctx context.Context, userID uuid.UUID) (string, error) {
	if userID == uuid.Nil {
		return "", fmt.Errorf("%w: nil user id", errs.ErrInvalidArgument)
	}
	u, err := v.users.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if err := v.keys.Delete(ctx, u.Username); err != nil {
		return "", err
	}
	v.log.Info("association key removed", zap.String("username", u.Username))
	return u.Username, nil
}

// Verify checks freshness, key binding, signature and single use, in that order.
func (v *VerifierServiceImpl) Verify(ctx context.Context, p model.AssertionPayload) (model.HandoffResult, error) {
	reject := func(reason string) (model.HandoffResult, error) {
		v.log.Info("assertion rejected", zap.String("username", p.Username), zap.String("reason", reason))
		return model.NotAuthenticated, nil
	}

	if p.Username == "" || p.TimestampNonce == "" || p.UserSignature == "" || p.AssociationKey == "" {
		return reject("incomplete payload")
	}
	ts, _, err := assertion.ParseNonce(p.TimestampNonce)
	if err != nil {
		return reject("malformed nonce")
	}
	now := v.now()
	if now.Sub(ts) > v.cfg.Window || ts.Sub(now) > v.cfg.Skew {
		return reject("stale nonce")
	}

	rec, err := v.keys.Get(ctx, p.Username)
	if errors.Is(err, errs.ErrNotFound) {
		return reject("no registered key")
	}
	if err != nil {
		return model.NotAuthenticated, err
	}
	pub, err := keystore.DecodePublicKey(p.AssociationKey)
	if err != nil || !bytes.Equal(pub, rec.PublicKey) {
		return reject("association key mismatch")
	}
	if !keystore.VerifySignature(pub, p.TimestampNonce, p.UserSignature) {
		return reject("bad signature")
	}

	fresh, err := v.guard.Claim(ctx, p.Username, p.TimestampNonce, v.cfg.Window+v.cfg.Skew)
	if err != nil {
		return model.NotAuthenticated, err
	}
	if !fresh {
		return reject("replayed nonce")
	}
	v.log.Info("assertion accepted", zap.String("username", p.Username))
	return model.Authenticated, nil
}

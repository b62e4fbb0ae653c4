// Package service contains the reference collaborators of the handoff core:
// a password identity provider and an assertion verifier.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	pkgcrypto "github.com/and161185/keyhandoff/internal/crypto"
	"github.com/and161185/keyhandoff/internal/errs"
	"github.com/and161185/keyhandoff/internal/limiter"
	"github.com/and161185/keyhandoff/internal/model"
	"github.com/and161185/keyhandoff/internal/repository"
)

// MinPasswordLen is the shortest password accepted at sign-up.
const MinPasswordLen = 8

// SignUpInput carries registration attributes.
type SignUpInput struct {
	Username   string
	Password   string
	GivenName  string
	FamilyName string
}

// ProviderService is the password identity provider.
type ProviderService interface {
	// SignUp registers an account; unless auto-confirmed a confirmation code is sent.
	SignUp(ctx context.Context, in SignUpInput) (model.SignUpResult, error)
	// ResendCode issues a fresh confirmation code for an unconfirmed account.
	ResendCode(ctx context.Context, username string) error
	// ConfirmSignUp confirms an account with the code it was sent.
	ConfirmSignUp(ctx context.Context, username, code, clientAddr string) error
	// SignIn authenticates and reports a terminal outcome.
	SignIn(ctx context.Context, username, password, clientAddr string) model.AuthOutcome
}

// CodeSender delivers confirmation codes out of band.
type CodeSender interface {
	SendCode(ctx context.Context, username, code string) error
}

// LogCodeSender writes codes to the log. Development only.
type LogCodeSender struct{ Log *zap.Logger }

// SendCode implements CodeSender.
func (s LogCodeSender) SendCode(_ context.Context, username, code string) error {
	s.Log.Info("confirmation code issued", zap.String("username", username), zap.String("code", code))
	return nil
}

// ProviderConfig holds token and confirmation settings.
type ProviderConfig struct {
	SignKey     []byte
	AccessTTL   time.Duration
	CodeTTL     time.Duration
	AutoConfirm bool
}

type ProviderServiceImpl struct {
	users  repository.UserRepository
	lim    limiter.Limiter
	sender CodeSender
	cfg    ProviderConfig
	log    *zap.Logger
	now    func() time.Time
}

// NewProviderService constructs the provider with required dependencies.
func NewProviderService(users repository.UserRepository, lim limiter.Limiter, sender CodeSender, cfg ProviderConfig, log *zap.Logger) *ProviderServiceImpl {
	if log == nil {
		log = zap.NewNop()
	}
	return &ProviderServiceImpl{users: users, lim: lim, sender: sender, cfg: cfg, log: log, now: time.Now}
}

// recordFailure counts a failed attempt and reports whether the key is now blocked.
// Limiter write errors are logged; the attempt is treated as not blocking.
func (s *ProviderServiceImpl) recordFailure(ctx context.Context, a limiter.Attempt) bool {
	blocked, _, err := s.lim.Failure(ctx, a)
	if err != nil {
		s.log.Warn("limiter failure not recorded", zap.String("scope", a.Scope), zap.Error(err))
		return false
	}
	return blocked
}

func (s *ProviderServiceImpl) recordSuccess(ctx context.Context, a limiter.Attempt) {
	if err := s.lim.Success(ctx, a); err != nil {
		s.log.Warn("limiter reset failed", zap.String("scope", a.Scope), zap.Error(err))
	}
}

// SignUp creates a user record with a per-user salt.
func (s *ProviderServiceImpl) SignUp(ctx context.Context, in SignUpInput) (model.SignUpResult, error) {
	in.Username = strings.TrimSpace(in.Username)
	if in.Username == "" || in.Password == "" {
		return model.SignUpResult{}, fmt.Errorf("%w: empty username/password", errs.ErrInvalidArgument)
	}
	if len(in.Password) < MinPasswordLen {
		return model.SignUpResult{}, fmt.Errorf("%w: password shorter than %d", errs.ErrInvalidArgument, MinPasswordLen)
	}
	uid, err := uuid.NewV4()
	if err != nil {
		return model.SignUpResult{}, err
	}
	salt, err := pkgcrypto.RandBytes(16)
	if err != nil {
		return model.SignUpResult{}, err
	}

	u := &model.User{
		ID:         uid,
		Username:   in.Username,
		GivenName:  in.GivenName,
		FamilyName: in.FamilyName,
		PwdHash:    pkgcrypto.HashPassword([]byte(in.Password), salt),
		SaltAuth:   salt,
		Confirmed:  s.cfg.AutoConfirm,
	}
	var code string
	if !u.Confirmed {
		if code, err = pkgcrypto.NewConfirmationCode(); err != nil {
			return model.SignUpResult{}, err
		}
		u.ConfirmHash = pkgcrypto.HashPassword([]byte(code), salt)
		u.ConfirmExpiry = s.now().Add(s.cfg.CodeTTL)
	}
	if err := s.users.Create(ctx, u); err != nil {
		return model.SignUpResult{}, err
	}
	if code != "" {
		if err := s.sender.SendCode(ctx, u.Username, code); err != nil {
			return model.SignUpResult{}, fmt.Errorf("send confirmation code: %w", err)
		}
	}
	return model.SignUpResult{UserID: uid.String(), UserConfirmed: u.Confirmed}, nil
}

// ResendCode replaces the pending code of an unconfirmed account.
func (s *ProviderServiceImpl) ResendCode(ctx context.Context, username string) error {
	u, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return err
	}
	if u.Confirmed {
		return errs.ErrVersionConflict
	}
	code, err := pkgcrypto.NewConfirmationCode()
	if err != nil {
		return err
	}
	hash := pkgcrypto.HashPassword([]byte(code), u.SaltAuth)
	if err := s.users.SetConfirmation(ctx, u.ID, hash, s.now().Add(s.cfg.CodeTTL)); err != nil {
		return err
	}
	return s.sender.SendCode(ctx, u.Username, code)
}

// ConfirmSignUp checks the code under rate limiting and marks the account confirmed.
func (s *ProviderServiceImpl) ConfirmSignUp(ctx context.Context, username, code, clientAddr string) error {
	if !pkgcrypto.ValidCodeFormat(code) {
		return errs.ErrInvalidCode
	}
	a := limiter.Attempt{Scope: limiter.ScopeConfirm, Subject: username, ClientHash: limiter.HashClient(clientAddr)}
	allowed, _, err := s.lim.Allow(ctx, a)
	if err != nil {
		return err
	}
	if !allowed {
		return errs.ErrRateLimited
	}

	u, err := s.users.GetByUsername(ctx, username)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return err
	}
	if err == nil && u.Confirmed {
		return errs.ErrVersionConflict
	}
	if err != nil || s.now().After(u.ConfirmExpiry) || !pkgcrypto.VerifyPassword([]byte(code), u.SaltAuth, u.ConfirmHash) {
		if s.recordFailure(ctx, a) {
			return errs.ErrRateLimited
		}
		return errs.ErrInvalidCode
	}

	if err := s.users.MarkConfirmed(ctx, u.ID); err != nil {
		return err
	}
	s.recordSuccess(ctx, a)
	return nil
}

// SignIn authenticates with rate limiting by (username, client).
func (s *ProviderServiceImpl) SignIn(ctx context.Context, username, password, clientAddr string) model.AuthOutcome {
	a := limiter.Attempt{Scope: limiter.ScopeSignIn, Subject: username, ClientHash: limiter.HashClient(clientAddr)}

	allowed, _, err := s.lim.Allow(ctx, a)
	if err != nil {
		return model.Failure{Err: err}
	}
	if !allowed {
		return model.Failure{Err: errs.ErrRateLimited}
	}

	u, err := s.users.GetByUsername(ctx, username)
	if err != nil || !pkgcrypto.VerifyPassword([]byte(password), u.SaltAuth, u.PwdHash) {
		if s.recordFailure(ctx, a) {
			return model.Failure{Err: errs.ErrRateLimited}
		}
		// unknown user and wrong password look the same
		return model.Failure{Err: errs.ErrUnauthorized}
	}
	s.recordSuccess(ctx, a)

	if !u.Confirmed {
		return model.ChallengeRequired{Username: u.Username, Challenge: model.ChallengeConfirmSignUp}
	}

	tok, issued, err := s.issueAccessToken(u.ID)
	if err != nil {
		return model.Failure{Err: err}
	}
	return model.Success{Session: model.ProviderSession{
		Username:    u.Username,
		AccessToken: tok.AccessToken,
		IssuedAt:    issued,
		ExpiresAt:   tok.ExpiresAt,
	}}
}

// issueAccessToken creates a signed HS256 JWT for the given subject.
func (s *ProviderServiceImpl) issueAccessToken(userID uuid.UUID) (model.Tokens, time.Time, error) {
	now := s.now()
	exp := now.Add(s.cfg.AccessTTL)
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.SignKey)
	if err != nil {
		return model.Tokens{}, time.Time{}, err
	}
	return model.Tokens{AccessToken: signed, ExpiresAt: exp}, now, nil
}

package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	pkgcrypto "github.com/and161185/keyhandoff/internal/crypto"
	"github.com/and161185/keyhandoff/internal/errs"
	"github.com/and161185/keyhandoff/internal/limiter"
	"github.com/and161185/keyhandoff/internal/model"
)

func testProvider(users *fakeUsers, lim *fakeLimiter, sender *fakeSender, autoConfirm bool) *ProviderServiceImpl {
	return NewProviderService(users, lim, sender, ProviderConfig{
		SignKey:     []byte("secret"),
		AccessTTL:   2 * time.Minute,
		CodeTTL:     10 * time.Minute,
		AutoConfirm: autoConfirm,
	}, nil)
}

func TestProvider_SignUp_Validation(t *testing.T) {
	t.Parallel()
	s := testProvider(&fakeUsers{}, &fakeLimiter{allowOK: true}, &fakeSender{}, false)

	for _, in := range []SignUpInput{
		{},
		{Username: "alice@example.com"},
		{Username: "  ", Password: "password1"},
		{Username: "alice@example.com", Password: "short"},
	} {
		if _, err := s.SignUp(context.Background(), in); !errors.Is(err, errs.ErrInvalidArgument) {
			t.Fatalf("SignUp(%+v): want ErrInvalidArgument, got %v", in, err)
		}
	}
}

func TestProvider_SignUp_SendsCodeWhenNotAutoConfirmed(t *testing.T) {
	t.Parallel()
	users := &fakeUsers{}
	sender := &fakeSender{}
	s := testProvider(users, &fakeLimiter{allowOK: true}, sender, false)

	res, err := s.SignUp(context.Background(), SignUpInput{
		Username: "alice@example.com", Password: "password1", GivenName: "Alice", FamilyName: "L",
	})
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if res.UserConfirmed || res.UserID == "" {
		t.Fatalf("unexpected result %+v", res)
	}
	code := sender.codes["alice@example.com"]
	if !pkgcrypto.ValidCodeFormat(code) {
		t.Fatalf("code not delivered: %q", code)
	}
	u := users.byName["alice@example.com"]
	if u.GivenName != "Alice" || u.Confirmed || len(u.ConfirmHash) == 0 {
		t.Fatalf("bad stored user %+v", u)
	}

	if _, err := s.SignUp(context.Background(), SignUpInput{Username: "alice@example.com", Password: "password2"}); !errors.Is(err, errs.ErrAlreadyExists) {
		t.Fatalf("want ErrAlreadyExists, got %v", err)
	}
}

func TestProvider_SignUp_AutoConfirm(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	s := testProvider(&fakeUsers{}, &fakeLimiter{allowOK: true}, sender, true)

	res, err := s.SignUp(context.Background(), SignUpInput{Username: "bob", Password: "password1"})
	if err != nil || !res.UserConfirmed {
		t.Fatalf("want confirmed, got %+v %v", res, err)
	}
	if len(sender.codes) != 0 {
		t.Fatalf("no code expected when auto-confirmed")
	}
}

func TestProvider_SignUp_SenderError(t *testing.T) {
	t.Parallel()
	s := testProvider(&fakeUsers{}, &fakeLimiter{allowOK: true}, &fakeSender{err: errors.New("smtp down")}, false)
	if _, err := s.SignUp(context.Background(), SignUpInput{Username: "bob", Password: "password1"}); err == nil {
		t.Fatalf("want sender error")
	}
}

func TestProvider_ConfirmSignUp(t *testing.T) {
	t.Parallel()
	users := &fakeUsers{}
	sender := &fakeSender{}
	lim := &fakeLimiter{allowOK: true}
	s := testProvider(users, lim, sender, false)
	ctx := context.Background()

	if _, err := s.SignUp(ctx, SignUpInput{Username: "alice", Password: "password1"}); err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	code := sender.codes["alice"]
	wrong := "000000"
	if wrong == code {
		wrong = "111111"
	}

	if err := s.ConfirmSignUp(ctx, "alice", "12ab", ""); !errors.Is(err, errs.ErrInvalidCode) {
		t.Fatalf("want ErrInvalidCode on bad format, got %v", err)
	}
	if lim.allowCalls != 0 {
		t.Fatalf("malformed code must not reach the limiter")
	}

	if err := s.ConfirmSignUp(ctx, "alice", wrong, ""); !errors.Is(err, errs.ErrInvalidCode) {
		t.Fatalf("want ErrInvalidCode, got %v", err)
	}
	if lim.failureCalls != 1 || lim.lastScope != limiter.ScopeConfirm {
		t.Fatalf("failure not recorded under confirm scope: %+v", lim)
	}

	lim.failBlocked = true
	if err := s.ConfirmSignUp(ctx, "alice", wrong, ""); !errors.Is(err, errs.ErrRateLimited) {
		t.Fatalf("want ErrRateLimited, got %v", err)
	}
	lim.failBlocked = false

	if err := s.ConfirmSignUp(ctx, "nobody", code, ""); !errors.Is(err, errs.ErrInvalidCode) {
		t.Fatalf("want ErrInvalidCode for unknown user, got %v", err)
	}

	if err := s.ConfirmSignUp(ctx, "alice", code, ""); err != nil {
		t.Fatalf("ConfirmSignUp: %v", err)
	}
	if !users.byName["alice"].Confirmed {
		t.Fatalf("user not confirmed")
	}
	if err := s.ConfirmSignUp(ctx, "alice", code, ""); !errors.Is(err, errs.ErrVersionConflict) {
		t.Fatalf("want ErrVersionConflict on second confirm, got %v", err)
	}

	lim.allowOK = false
	if err := s.ConfirmSignUp(ctx, "alice", code, ""); !errors.Is(err, errs.ErrRateLimited) {
		t.Fatalf("want ErrRateLimited when blocked, got %v", err)
	}
}

func TestProvider_ConfirmSignUp_Expired(t *testing.T) {
	t.Parallel()
	users := &fakeUsers{}
	sender := &fakeSender{}
	s := testProvider(users, &fakeLimiter{allowOK: true}, sender, false)
	ctx := context.Background()

	if _, err := s.SignUp(ctx, SignUpInput{Username: "alice", Password: "password1"}); err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	s.now = func() time.Time { return time.Now().Add(time.Hour) }
	if err := s.ConfirmSignUp(ctx, "alice", sender.codes["alice"], ""); !errors.Is(err, errs.ErrInvalidCode) {
		t.Fatalf("want ErrInvalidCode for expired code, got %v", err)
	}

	if err := s.ResendCode(ctx, "alice"); err != nil {
		t.Fatalf("ResendCode: %v", err)
	}
	if err := s.ConfirmSignUp(ctx, "alice", sender.codes["alice"], ""); err != nil {
		t.Fatalf("ConfirmSignUp after resend: %v", err)
	}
	if err := s.ResendCode(ctx, "alice"); !errors.Is(err, errs.ErrVersionConflict) {
		t.Fatalf("want ErrVersionConflict resending for confirmed user, got %v", err)
	}
}

func TestProvider_SignIn_Outcomes(t *testing.T) {
	t.Parallel()
	salt, _ := pkgcrypto.RandBytes(16)
	u := &model.User{
		ID:        uuid.Must(uuid.NewV4()),
		Username:  "alice@example.com",
		SaltAuth:  salt,
		PwdHash:   pkgcrypto.HashPassword([]byte("correct-pw"), salt),
		Confirmed: true,
	}
	users := &fakeUsers{byName: map[string]*model.User{u.Username: u}}
	lim := &fakeLimiter{allowOK: true}
	s := testProvider(users, lim, &fakeSender{}, false)
	ctx := context.Background()

	lim.allowErr = errors.New("lim-err")
	if f, ok := s.SignIn(ctx, u.Username, "correct-pw", "1.2.3.4").(model.Failure); !ok || f.Err == nil {
		t.Fatalf("want limiter failure")
	}
	lim.allowErr = nil

	lim.allowOK = false
	if f, ok := s.SignIn(ctx, u.Username, "correct-pw", "").(model.Failure); !ok || !errors.Is(f.Err, errs.ErrRateLimited) {
		t.Fatalf("want ErrRateLimited failure")
	}
	lim.allowOK = true

	if f, ok := s.SignIn(ctx, "nobody", "x", "").(model.Failure); !ok || !errors.Is(f.Err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized for unknown user")
	}

	lim.failBlocked = true
	if f, ok := s.SignIn(ctx, u.Username, "wrong", "").(model.Failure); !ok || !errors.Is(f.Err, errs.ErrRateLimited) {
		t.Fatalf("want ErrRateLimited after blocking failure")
	}
	lim.failBlocked = false

	if f, ok := s.SignIn(ctx, u.Username, "wrong", "").(model.Failure); !ok || !errors.Is(f.Err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized on wrong password")
	}

	out := s.SignIn(ctx, u.Username, "correct-pw", "127.0.0.1:1")
	succ, ok := out.(model.Success)
	if !ok {
		t.Fatalf("want Success, got %#v", out)
	}
	if succ.Session.Username != u.Username || succ.Session.IssuedAt.IsZero() || !succ.Session.ExpiresAt.After(succ.Session.IssuedAt) {
		t.Fatalf("bad session %+v", succ.Session)
	}
	if lim.successCalls == 0 {
		t.Fatalf("expected limiter Success")
	}

	var claims jwt.RegisteredClaims
	if _, err := jwt.ParseWithClaims(succ.Session.AccessToken, &claims, func(*jwt.Token) (any, error) { return []byte("secret"), nil }); err != nil {
		t.Fatalf("token does not verify: %v", err)
	}
	if claims.Subject != u.ID.String() {
		t.Fatalf("subject=%q", claims.Subject)
	}
}

func TestProvider_SignIn_UnconfirmedIsChallenge(t *testing.T) {
	t.Parallel()
	users := &fakeUsers{}
	s := testProvider(users, &fakeLimiter{allowOK: true}, &fakeSender{}, false)
	ctx := context.Background()

	if _, err := s.SignUp(ctx, SignUpInput{Username: "carol", Password: "password1"}); err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	out := s.SignIn(ctx, "carol", "password1", "")
	ch, ok := out.(model.ChallengeRequired)
	if !ok || ch.Challenge != model.ChallengeConfirmSignUp || ch.Username != "carol" {
		t.Fatalf("want CONFIRM_SIGN_UP challenge, got %#v", out)
	}
}

func TestProvider_SignIn_LimiterWriteErrorsAreLogged(t *testing.T) {
	t.Parallel()
	salt, _ := pkgcrypto.RandBytes(16)
	u := &model.User{
		ID:        uuid.Must(uuid.NewV4()),
		Username:  "alice@example.com",
		SaltAuth:  salt,
		PwdHash:   pkgcrypto.HashPassword([]byte("correct-pw"), salt),
		Confirmed: true,
	}
	users := &fakeUsers{byName: map[string]*model.User{u.Username: u}}
	lim := &fakeLimiter{allowOK: true, failBlocked: true, failErr: errors.New("pg down"), successErr: errors.New("pg down")}
	core, logs := observer.New(zapcore.DebugLevel)
	s := NewProviderService(users, lim, &fakeSender{}, ProviderConfig{SignKey: []byte("secret"), AccessTTL: time.Minute}, zap.New(core))
	ctx := context.Background()

	// an unrecorded failure does not block
	if f, ok := s.SignIn(ctx, u.Username, "wrong", "").(model.Failure); !ok || !errors.Is(f.Err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %#v", f)
	}
	if _, ok := s.SignIn(ctx, u.Username, "correct-pw", "").(model.Success); !ok {
		t.Fatalf("want Success despite limiter reset error")
	}

	if n := logs.FilterMessage("limiter failure not recorded").Len(); n != 1 {
		t.Fatalf("failure warnings=%d", n)
	}
	reset := logs.FilterMessage("limiter reset failed").All()
	if len(reset) != 1 || reset[0].Level != zapcore.WarnLevel {
		t.Fatalf("reset warnings=%v", reset)
	}
	if reset[0].ContextMap()["scope"] != limiter.ScopeSignIn {
		t.Fatalf("scope=%v", reset[0].ContextMap()["scope"])
	}
}

package service

import (
	"context"
	"sync"
	"time"

	"github.com/and161185/keyhandoff/internal/errs"
	"github.com/and161185/keyhandoff/internal/limiter"
	"github.com/and161185/keyhandoff/internal/model"
	"github.com/and161185/keyhandoff/internal/repository"
	"github.com/gofrs/uuid/v5"
)

type fakeUsers struct {
	byName map[string]*model.User

	createErr error
	getErr    error
}

var _ repository.UserRepository = (*fakeUsers)(nil)

func (f *fakeUsers) Create(_ context.Context, u *model.User) error {
	if f.createErr != nil {
		return f.createErr
	}
	if f.byName == nil {
		f.byName = map[string]*model.User{}
	}
	if _, exists := f.byName[u.Username]; exists {
		return errs.ErrAlreadyExists
	}
	cpy := *u
	f.byName[u.Username] = &cpy
	return nil
}
func (f *fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	for _, u := range f.byName {
		if u.ID == id {
			c := *u
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}
func (f *fakeUsers) GetByUsername(_ context.Context, username string) (*model.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.byName[username]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *u
	return &c, nil
}
func (f *fakeUsers) SetConfirmation(_ context.Context, id uuid.UUID, h []byte, exp time.Time) error {
	for _, u := range f.byName {
		if u.ID == id && !u.Confirmed {
			u.ConfirmHash, u.ConfirmExpiry = h, exp
			return nil
		}
	}
	return errs.ErrVersionConflict
}
func (f *fakeUsers) MarkConfirmed(_ context.Context, id uuid.UUID) error {
	for _, u := range f.byName {
		if u.ID == id && !u.Confirmed {
			u.Confirmed, u.ConfirmHash, u.ConfirmExpiry = true, nil, time.Time{}
			return nil
		}
	}
	return errs.ErrVersionConflict
}

type fakeLimiter struct {
	allowOK  bool
	allowErr error

	failBlocked bool
	failErr     error
	successErr  error

	allowCalls   int
	failureCalls int
	successCalls int
	lastScope    string
}

var _ limiter.Limiter = (*fakeLimiter)(nil)

func (l *fakeLimiter) Allow(_ context.Context, a limiter.Attempt) (bool, time.Duration, error) {
	l.allowCalls++
	l.lastScope = a.Scope
	return l.allowOK, 0, l.allowErr
}
func (l *fakeLimiter) Success(context.Context, limiter.Attempt) error {
	l.successCalls++
	return l.successErr
}
func (l *fakeLimiter) Failure(context.Context, limiter.Attempt) (bool, time.Duration, error) {
	l.failureCalls++
	return l.failBlocked, 0, l.failErr
}

type fakeSender struct {
	codes map[string]string
	err   error
}

func (s *fakeSender) SendCode(_ context.Context, username, code string) error {
	if s.err != nil {
		return s.err
	}
	if s.codes == nil {
		s.codes = map[string]string{}
	}
	s.codes[username] = code
	return nil
}

type fakeKeys struct {
	mu     sync.Mutex
	recs   map[string]model.AssociationKeyRecord
	getErr error
}

var _ repository.AssociationKeyRepository = (*fakeKeys)(nil)

func (k *fakeKeys) Upsert(_ context.Context, rec model.AssociationKeyRecord) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.recs == nil {
		k.recs = map[string]model.AssociationKeyRecord{}
	}
	k.recs[rec.Username] = rec
	return nil
}
func (k *fakeKeys) Get(_ context.Context, username string) (*model.AssociationKeyRecord, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.getErr != nil {
		return nil, k.getErr
	}
	rec, ok := k.recs[username]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &rec, nil
}
func (k *fakeKeys) Delete(_ context.Context, username string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.recs[username]; !ok {
		return errs.ErrNotFound
	}
	delete(k.recs, username)
	return nil
}

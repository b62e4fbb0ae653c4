// Package session normalizes identity provider results into the canonical Identity.
package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/and161185/keyhandoff/internal/errs"
	"github.com/and161185/keyhandoff/internal/model"
)

// Adapter converts provider results into model.Identity.
type Adapter struct {
	now func() time.Time
}

// NewAdapter returns an adapter using the wall clock when the provider omits the issue time.
func NewAdapter() *Adapter { return &Adapter{now: time.Now} }

// NewAdapterWithClock returns an adapter with an injected clock.
func NewAdapterWithClock(now func() time.Time) *Adapter { return &Adapter{now: now} }

// Adapt maps a successful provider session to an Identity.
func (a *Adapter) Adapt(s model.ProviderSession) (model.Identity, error) {
	if strings.TrimSpace(s.Username) == "" {
		return model.Identity{}, fmt.Errorf("%w: provider returned no username", errs.ErrInvalidSession)
	}
	at := s.IssuedAt
	if at.IsZero() {
		at = a.now()
	}
	return model.Identity{Username: s.Username, EstablishedAt: at}, nil
}

// Resolve matches a terminal outcome. Only Success yields an Identity;
// provider failures are returned unchanged.
func (a *Adapter) Resolve(outcome model.AuthOutcome) (model.Identity, error) {
	switch o := outcome.(type) {
	case model.Success:
		return a.Adapt(o.Session)
	case *model.Success:
		if o == nil {
			break
		}
		return a.Adapt(o.Session)
	case model.ChallengeRequired:
		return model.Identity{}, fmt.Errorf("%w: %s", errs.ErrChallengeRequired, o.Challenge)
	case model.Failure:
		if o.Err == nil {
			return model.Identity{}, fmt.Errorf("provider: %s", o.Reason())
		}
		return model.Identity{}, o.Err
	}
	return model.Identity{}, fmt.Errorf("%w: unexpected outcome %T", errs.ErrInvalidSession, outcome)
}

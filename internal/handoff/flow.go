// Package handoff runs the cross-device handoff: provider outcome, identity,
// assertion payload, secondary verification.
package handoff

import (
	"context"

	"go.uber.org/zap"

	"github.com/and161185/keyhandoff/internal/assertion"
	"github.com/and161185/keyhandoff/internal/model"
	"github.com/and161185/keyhandoff/internal/session"
)

// Verifier is the secondary verification collaborator.
type Verifier interface {
	Verify(ctx context.Context, p model.AssertionPayload) (model.HandoffResult, error)
}

// Flow wires the session adapter and the assertion builder to a key signer.
type Flow struct {
	adapter *session.Adapter
	builder *assertion.Builder
	signer  assertion.KeySigner
	log     *zap.Logger
}

// New constructs a Flow. A nil logger disables logging.
func New(adapter *session.Adapter, builder *assertion.Builder, signer assertion.KeySigner, log *zap.Logger) *Flow {
	if log == nil {
		log = zap.NewNop()
	}
	return &Flow{adapter: adapter, builder: builder, signer: signer, log: log}
}

// Prepare resolves the outcome and builds the payload. Errors are returned once and never retried.
func (f *Flow) Prepare(ctx context.Context, outcome model.AuthOutcome) (model.AssertionPayload, error) {
	id, err := f.adapter.Resolve(outcome)
	if err != nil {
		return model.AssertionPayload{}, err
	}
	p, err := f.builder.Build(ctx, id, f.signer)
	if err != nil {
		f.log.Warn("assertion build failed", zap.String("username", id.Username), zap.Error(err))
		return model.AssertionPayload{}, err
	}
	f.log.Debug("assertion built", zap.String("username", id.Username), zap.Time("session", id.EstablishedAt))
	return p, nil
}

// Complete prepares the payload and hands it to v. The verifier's result is returned as is.
func (f *Flow) Complete(ctx context.Context, outcome model.AuthOutcome, v Verifier) (model.HandoffResult, error) {
	p, err := f.Prepare(ctx, outcome)
	if err != nil {
		return model.NotAuthenticated, err
	}
	res, err := v.Verify(ctx, p)
	if err != nil {
		return model.NotAuthenticated, err
	}
	f.log.Info("handoff finished", zap.String("username", p.Username), zap.Stringer("result", res))
	return res, nil
}

package main

import (
	"context"
	"fmt"

	"github.com/and161185/keyhandoff/internal/convert"
	"github.com/and161185/keyhandoff/internal/model"
)

// signIn asks the provider for a terminal outcome. Status errors become Failure.
func signIn(ctx context.Context, cl rpcClient, username, password string) model.AuthOutcome {
	resp, err := cl.SignIn(ctx, convert.Strings(map[string]string{"username": username, "password": password}))
	if err != nil {
		return model.Failure{Err: convert.FromStatus(err)}
	}
	outcome, err := convert.FromStructOutcome(resp)
	if err != nil {
		return model.Failure{Err: err}
	}
	return outcome
}

// remoteVerifier hands payloads to the server's verification flow.
type remoteVerifier struct{ cl rpcClient }

func (v remoteVerifier) Verify(ctx context.Context, p model.AssertionPayload) (model.HandoffResult, error) {
	resp, err := v.cl.VerifyAssertion(ctx, convert.ToStructPayload(p))
	if err != nil {
		return model.NotAuthenticated, fmt.Errorf("verify assertion: %w", convert.FromStatus(err))
	}
	return convert.FromStructResult(resp), nil
}
